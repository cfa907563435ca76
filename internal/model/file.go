// Package model contains the persistent record types shared across packages.
package model

import (
	"time"

	"github.com/google/uuid"
)

// FileStatus describes the ingestion lifecycle of an uploaded model file.
// The worker is the only writer once a file leaves PENDING.
type FileStatus string

const (
	StatusPending    FileStatus = "PENDING"
	StatusProcessing FileStatus = "PROCESSING"
	StatusCompleted  FileStatus = "COMPLETED"
	StatusError      FileStatus = "ERROR"
)

// Terminal reports whether processing has finished, successfully or not.
func (s FileStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// ModelFile is a row in the ifc_files table. ObjectKey is only nil for
// rows that never reached storage; ErrorMessage is set alongside ERROR.
type ModelFile struct {
	ID               uuid.UUID  `json:"id"`
	OriginalFilename string     `json:"original_filename"`
	ObjectKey        *string    `json:"object_key,omitempty"`
	Status           FileStatus `json:"status"`
	ErrorMessage     *string    `json:"error_message,omitempty"`
	ProjectID        uuid.UUID  `json:"project_id"`
	FileSize         int64      `json:"file_size_bytes"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}
