package signing

import (
	"strings"
	"testing"
)

func TestSignAndVerify(t *testing.T) {
	signer := NewSigner([]byte("secret"))
	payload := []byte(`{"event_type":"ifc_processing_complete","ifc_file_id":"abc"}`)

	sig := signer.Sign(payload)
	if !strings.HasPrefix(sig, Prefix) {
		t.Fatalf("signature %q missing %q prefix", sig, Prefix)
	}
	if !signer.Verify(payload, sig) {
		t.Fatalf("expected signature to verify")
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	signer := NewSigner([]byte("secret"))
	sig := signer.Sign([]byte("original"))
	if signer.Verify([]byte("tampered"), sig) {
		t.Fatalf("tampered payload must not verify")
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	payload := []byte("payload")
	sig := NewSigner([]byte("secret-a")).Sign(payload)
	if NewSigner([]byte("secret-b")).Verify(payload, sig) {
		t.Fatalf("signature from a different secret must not verify")
	}
}
