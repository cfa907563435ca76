// Package worker consumes processing tasks and drives the extraction
// pipeline, plus the sweeper that requeues work abandoned by crashed workers.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"takeoff-backend/internal/model"
	"takeoff-backend/internal/notify"
	"takeoff-backend/internal/processing"
	"takeoff-backend/internal/queue"
	"takeoff-backend/internal/repository"
)

// Processor handles one queued file per task invocation. A nil return acks
// the message, so the handler only returns nil once the row reached a
// terminal status (or the task turned out to be a duplicate or orphan).
type Processor struct {
	files    repository.ModelFiles
	proc     processing.Backend
	notifier notify.Notifier
	logger   *slog.Logger
}

// NewProcessor constructs the handler. A nil notifier falls back to Discard.
func NewProcessor(files repository.ModelFiles, proc processing.Backend, notifier notify.Notifier, logger *slog.Logger) *Processor {
	if notifier == nil {
		notifier = notify.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{files: files, proc: proc, notifier: notifier, logger: logger}
}

// Handler returns the task mux for the worker binary.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.ProcessIFCTask, p.HandleProcess)
	return mux
}

// HandleProcess runs the per-message protocol: parse, claim, process, commit,
// notify. Redeliveries of already-advanced files ack without side effects.
func (p *Processor) HandleProcess(ctx context.Context, task *asynq.Task) error {
	var payload queue.ProcessPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		// Malformed payloads never become valid; retrying burns the queue.
		return fmt.Errorf("unmarshal process payload: %v: %w", err, asynq.SkipRetry)
	}
	fileID, err := payload.FileID()
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	logger := p.logger.With("file_id", fileID)

	file, err := p.files.Get(ctx, fileID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Row deleted between enqueue and delivery (upload compensation).
			logger.Warn("task references missing file, dropping")
			return nil
		}
		return fmt.Errorf("load ifc file: %w", err)
	}
	if file.Status.Terminal() {
		logger.Info("file already finished, dropping redelivery", "status", file.Status)
		return nil
	}

	won, err := p.files.ClaimProcessing(ctx, fileID)
	if err != nil {
		return fmt.Errorf("claim ifc file: %w", err)
	}
	if !won {
		logger.Info("file claimed elsewhere, dropping")
		return nil
	}

	if progress, ok := p.notifier.(notify.ProgressNotifier); ok {
		if err := progress.NotifyProcessing(ctx, fileID, file.OriginalFilename); err != nil {
			logger.Warn("processing notification failed", "error", err)
		}
	}

	if file.ObjectKey == nil {
		return p.fail(ctx, logger, fileID, "uploaded object missing", file.OriginalFilename)
	}

	result, err := p.proc.Process(ctx, *file.ObjectKey, map[string]string{
		"original_filename": file.OriginalFilename,
	})
	if err != nil {
		// Processor errors commit ERROR before propagating, same as FAILED
		// results: the fault must be observable in the record even while the
		// queue's retry policy chews on the returned error.
		logger.Error("processing fault", "error", err)
		return p.fail(ctx, logger, fileID, err.Error(), file.OriginalFilename)
	}
	if result.Failed() {
		msg := result.ErrorMessage
		if msg == "" {
			msg = "processing failed"
		}
		return p.fail(ctx, logger, fileID, msg, file.OriginalFilename)
	}

	materials := make([]model.MaterialRecord, len(result.Materials))
	for i, m := range result.Materials {
		materials[i] = model.MaterialRecord{
			ModelFileID: fileID,
			Description: m.Description,
			Quantity:    m.Quantity,
			Unit:        m.Unit,
		}
	}
	if err := p.files.CompleteWithMaterials(ctx, fileID, materials); err != nil {
		return fmt.Errorf("commit materials: %w", err)
	}

	if err := p.notifier.NotifyComplete(ctx, fileID, result); err != nil {
		logger.Warn("completion notification failed", "error", err)
	}
	logger.Info("ifc file processed",
		"materials", result.MaterialsCount,
		"elapsed", result.Elapsed,
	)
	return nil
}

// fail commits the terminal ERROR status, notifies, and propagates the
// failure so the queue's retry/dead-letter policy sees it. Redeliveries find
// the row terminal and drop.
func (p *Processor) fail(ctx context.Context, logger *slog.Logger, fileID uuid.UUID, msg, filename string) error {
	if err := p.files.MarkError(ctx, fileID, msg); err != nil {
		return fmt.Errorf("mark error: %w", err)
	}
	if err := p.notifier.NotifyError(ctx, fileID, msg, map[string]string{
		"original_filename": filename,
	}); err != nil {
		logger.Warn("error notification failed", "error", err)
	}
	logger.Info("ifc file failed", "reason", msg)
	return fmt.Errorf("processing %s failed: %s", fileID, msg)
}
