// Package processing turns stored model files into material quantity records.
// The real implementation parses STEP files; the mock produces deterministic
// outcomes for tests and development.
package processing

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Sentinel errors for the two failure classes callers branch on.
var (
	ErrTimeout       = errors.New("processing timed out")
	ErrInvalidFormat = errors.New("invalid model file format")
)

// Status of a finished processing run.
type Status string

const (
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// ExtractedMaterial is one material entry derived from a structural element,
// prior to conversion into a persistent record.
type ExtractedMaterial struct {
	ElementID    string          `json:"ifc_element_id"`
	ElementType  string          `json:"element_type"`
	MaterialType string          `json:"material_type"`
	Description  string          `json:"description"`
	Quantity     decimal.Decimal `json:"quantity"`
	Unit         string          `json:"unit"`
}

// Result reports the outcome of one processing run. Domain failures (corrupt
// file, unsupported schema, timeout) come back as a FAILED Result with the
// message preserved; only infrastructure faults surface as errors.
type Result struct {
	Status         Status
	MaterialsCount int
	ErrorMessage   string
	Elapsed        time.Duration
	Materials      []ExtractedMaterial
}

// Failed reports whether the run did not complete.
func (r *Result) Failed() bool {
	return r == nil || r.Status != StatusCompleted
}

// Backend is the processing contract the worker drives. Validate is the
// cheap structural check and returns (false, nil) for files that simply are
// not models; Process is the expensive extraction.
type Backend interface {
	Validate(ctx context.Context, locator string) (bool, error)
	Process(ctx context.Context, locator string, metadata map[string]string) (*Result, error)
}
