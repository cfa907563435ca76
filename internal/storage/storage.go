// Package storage defines durable byte storage for uploaded model files,
// addressable by key, with S3-compatible and local-filesystem backends.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// Sentinel errors shared by both backends. Callers branch with errors.Is;
// everything else wraps the transport error unchanged.
var (
	ErrNotFound     = errors.New("object not found")
	ErrAccessDenied = errors.New("storage access denied")
	ErrTooLarge     = errors.New("object too large")
	ErrInvalidKey   = errors.New("invalid storage key")
	ErrUnavailable  = errors.New("storage temporarily unavailable")
)

// UploadResult reports where stored bytes ended up.
type UploadResult struct {
	Locator  string            `json:"locator"`
	Key      string            `json:"key"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Size     int64             `json:"size_bytes"`
}

// Backend is the contract the pipeline stores uploads through. Store may be
// retried with the same key; Delete of an absent key is not an error;
// AccessURL of an absent key is.
type Backend interface {
	Store(ctx context.Context, key string, content []byte, metadata map[string]string) (*UploadResult, error)
	Delete(ctx context.Context, key string) error
	AccessURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Downloader is an optional capability for backends that can hand raw bytes
// back to the processor. Asserted at construction, not reflected over.
type Downloader interface {
	Download(ctx context.Context, key string) (io.ReadCloser, error)
}

// HealthChecker is an optional capability probed by the health endpoint.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
