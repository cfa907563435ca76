// Package signing produces the HMAC-SHA256 signature that webhook consumers
// use to verify event payloads came from us.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Prefix identifies the digest algorithm in the signature header value.
const Prefix = "sha256="

// Signer signs raw payload bytes with a shared secret.
type Signer struct {
	secret []byte
}

// NewSigner creates a Signer.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret}
}

// Sign returns the signature header value for payload, "sha256=<hex digest>".
func (s *Signer) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(payload)
	return Prefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches payload. hmac.Equal compares in
// constant time to avoid timing side channels.
func (s *Signer) Verify(payload []byte, signature string) bool {
	expected := s.Sign(payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}
