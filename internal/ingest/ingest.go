// Package ingest orchestrates the upload pipeline: store the object, record
// the PENDING row, schedule processing, announce the event. Each step only
// runs once the previous one committed, and a failed step unwinds the ones
// before it so rejected uploads leave no trace.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"takeoff-backend/internal/model"
	"takeoff-backend/internal/notify"
	"takeoff-backend/internal/repository"
	"takeoff-backend/internal/storage"
)

// ErrInvalidFileType rejects anything that is not an .ifc model export.
var ErrInvalidFileType = errors.New("only .ifc files are accepted")

// keyPrefix namespaces uploaded objects inside the bucket.
const keyPrefix = "ifc-files/"

// Enqueuer schedules processing for an uploaded file.
type Enqueuer interface {
	EnqueueProcess(ctx context.Context, fileID uuid.UUID) error
}

// Orchestrator wires the upload pipeline's collaborators.
type Orchestrator struct {
	store     storage.Backend
	files     repository.ModelFiles
	materials repository.Materials
	enqueuer  Enqueuer
	notifier  notify.Notifier
	logger    *slog.Logger
}

// New constructs the orchestrator. A nil notifier falls back to Discard.
func New(store storage.Backend, files repository.ModelFiles, materials repository.Materials, enqueuer Enqueuer, notifier notify.Notifier, logger *slog.Logger) *Orchestrator {
	if notifier == nil {
		notifier = notify.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:     store,
		files:     files,
		materials: materials,
		enqueuer:  enqueuer,
		notifier:  notifier,
		logger:    logger,
	}
}

// Upload runs the pipeline for one file and returns the PENDING record. The
// extension gate runs before any side effect; after that, storage, the
// database row and the queue message commit in order, with compensation on
// each failure so no step leaves partial state behind.
func (o *Orchestrator) Upload(ctx context.Context, projectID uuid.UUID, filename string, content []byte) (*model.ModelFile, error) {
	if !strings.EqualFold(filepath.Ext(filename), ".ifc") {
		return nil, fmt.Errorf("%q: %w", filename, ErrInvalidFileType)
	}

	fileID := uuid.New()
	key := keyPrefix + fileID.String() + ".ifc"
	metadata := map[string]string{
		"original_filename": filename,
		"project_id":        projectID.String(),
		"uploaded_at":       time.Now().UTC().Format(time.RFC3339),
		"file_size":         strconv.Itoa(len(content)),
	}

	upload, err := o.store.Store(ctx, key, content, metadata)
	if err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	file := &model.ModelFile{
		ID:               fileID,
		OriginalFilename: filename,
		ObjectKey:        &upload.Key,
		ProjectID:        projectID,
		FileSize:         upload.Size,
	}
	if err := o.files.Create(ctx, file); err != nil {
		o.compensateObject(ctx, upload.Key)
		return nil, fmt.Errorf("record upload: %w", err)
	}

	if err := o.enqueuer.EnqueueProcess(ctx, fileID); err != nil {
		o.compensateRow(ctx, fileID)
		o.compensateObject(ctx, upload.Key)
		return nil, fmt.Errorf("schedule processing: %w", err)
	}

	// Best effort: the upload already succeeded, a dead notifier must not
	// turn it into a failure.
	if err := o.notifier.NotifyQueued(ctx, fileID, upload); err != nil {
		o.logger.Warn("queued notification failed", "file_id", fileID, "error", err)
	}

	o.logger.Info("ifc file queued",
		"file_id", fileID,
		"project_id", projectID,
		"filename", filename,
		"size_bytes", upload.Size,
	)
	return file, nil
}

// GetFile returns one file record.
func (o *Orchestrator) GetFile(ctx context.Context, id uuid.UUID) (*model.ModelFile, error) {
	return o.files.Get(ctx, id)
}

// ListFiles returns a project's files, newest first.
func (o *Orchestrator) ListFiles(ctx context.Context, projectID uuid.UUID) ([]model.ModelFile, error) {
	return o.files.ListByProject(ctx, projectID)
}

// ListMaterials returns the materials extracted from a processed file. The
// file must exist; an unknown id surfaces repository.ErrNotFound rather than
// an empty list.
func (o *Orchestrator) ListMaterials(ctx context.Context, fileID uuid.UUID) ([]model.MaterialRecord, error) {
	if _, err := o.files.Get(ctx, fileID); err != nil {
		return nil, err
	}
	return o.materials.ListByFile(ctx, fileID)
}

// DownloadURL returns a time-limited access URL for the stored object.
func (o *Orchestrator) DownloadURL(ctx context.Context, fileID uuid.UUID, ttl time.Duration) (string, error) {
	file, err := o.files.Get(ctx, fileID)
	if err != nil {
		return "", err
	}
	if file.ObjectKey == nil {
		return "", fmt.Errorf("ifc file %s has no stored object: %w", fileID, storage.ErrNotFound)
	}
	return o.store.AccessURL(ctx, *file.ObjectKey, ttl)
}

func (o *Orchestrator) compensateObject(ctx context.Context, key string) {
	if err := o.store.Delete(ctx, key); err != nil {
		o.logger.Warn("compensating object delete failed", "key", key, "error", err)
	}
}

func (o *Orchestrator) compensateRow(ctx context.Context, id uuid.UUID) {
	if err := o.files.Delete(ctx, id); err != nil {
		o.logger.Warn("compensating row delete failed", "file_id", id, "error", err)
	}
}
