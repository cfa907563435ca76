// Package repository persists model files and their extracted materials.
// The Postgres implementations carry production traffic; the in-memory
// twins back tests and storage-free development runs.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"takeoff-backend/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("record not found")

// ModelFiles is the persistence contract for uploaded model files. Status
// writes are deliberately narrow: the claim is conditional so concurrent
// workers cannot double-process, and completion commits materials and the
// status flip in one transaction.
type ModelFiles interface {
	Create(ctx context.Context, file *model.ModelFile) error
	Get(ctx context.Context, id uuid.UUID) (*model.ModelFile, error)
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]model.ModelFile, error)

	// ClaimProcessing flips PENDING to PROCESSING and reports whether this
	// caller won the claim. A false return with no error means another
	// worker already advanced the row.
	ClaimProcessing(ctx context.Context, id uuid.UUID) (bool, error)

	// CompleteWithMaterials inserts the run's materials and marks the file
	// COMPLETED atomically; a crash mid-way leaves the row PROCESSING with
	// zero materials, never half a set.
	CompleteWithMaterials(ctx context.Context, id uuid.UUID, materials []model.MaterialRecord) error

	MarkError(ctx context.Context, id uuid.UUID, msg string) error
	Delete(ctx context.Context, id uuid.UUID) error

	// ResetStale requeues PROCESSING rows untouched for longer than
	// staleAfter back to PENDING and returns their ids.
	ResetStale(ctx context.Context, staleAfter time.Duration) ([]uuid.UUID, error)
}

// Materials is the read side for extracted material records.
type Materials interface {
	ListByFile(ctx context.Context, fileID uuid.UUID) ([]model.MaterialRecord, error)
}
