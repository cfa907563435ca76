// Package notify delivers processing lifecycle events to external consumers,
// either through the events queue or over HTTP webhooks. Delivery failures
// are the caller's to log; they must never roll back the state change that
// triggered the event.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"takeoff-backend/internal/processing"
	"takeoff-backend/internal/storage"
)

// ErrDelivery wraps every failed delivery so callers can branch without
// caring which transport was in play.
var ErrDelivery = errors.New("notification delivery failed")

// Wire event type tags. Downstream consumers key on these strings.
const (
	EventQueued     = "ifc_processing_queued"
	EventProcessing = "ifc_processing_started"
	EventComplete   = "ifc_processing_complete"
	EventError      = "ifc_processing_error"
)

// Notifier is the lifecycle notification contract.
type Notifier interface {
	NotifyQueued(ctx context.Context, fileID uuid.UUID, upload *storage.UploadResult) error
	NotifyComplete(ctx context.Context, fileID uuid.UUID, result *processing.Result) error
	NotifyError(ctx context.Context, fileID uuid.UUID, errMsg string, errContext map[string]string) error
}

// ProgressNotifier is an optional capability for transports that also carry
// intermediate status transitions. The worker probes for it with a type
// assertion.
type ProgressNotifier interface {
	NotifyProcessing(ctx context.Context, fileID uuid.UUID, filename string) error
}

// Discard drops every event. Used when no notification backend is configured.
type Discard struct{}

func (Discard) NotifyQueued(context.Context, uuid.UUID, *storage.UploadResult) error { return nil }
func (Discard) NotifyComplete(context.Context, uuid.UUID, *processing.Result) error { return nil }
func (Discard) NotifyError(context.Context, uuid.UUID, string, map[string]string) error {
	return nil
}

// envelope builders. Every event carries the type tag, the file id and an
// ISO-8601 timestamp; the rest is event-specific.

func queuedEnvelope(fileID uuid.UUID, upload *storage.UploadResult) map[string]any {
	env := baseEnvelope(EventQueued, fileID)
	if upload != nil {
		env["storage_url"] = upload.Locator
		env["metadata"] = upload.Metadata
		env["file_size_bytes"] = upload.Size
	}
	return env
}

func processingEnvelope(fileID uuid.UUID, filename string) map[string]any {
	env := baseEnvelope(EventProcessing, fileID)
	env["original_filename"] = filename
	return env
}

// completeEnvelope truncates oversized material lists so the payload stays
// under the transport's message-size ceiling. Truncation is flagged rather
// than silent: the payload says how many entries the full run produced.
func completeEnvelope(fileID uuid.UUID, result *processing.Result, maxMaterials int) map[string]any {
	env := baseEnvelope(EventComplete, fileID)
	env["result"] = map[string]any{
		"status":                  string(result.Status),
		"materials_count":         result.MaterialsCount,
		"error_message":           result.ErrorMessage,
		"processing_time_seconds": result.Elapsed.Seconds(),
	}
	if result.Status == processing.StatusCompleted && len(result.Materials) > 0 {
		extracted := map[string]any{}
		materials := result.Materials
		if maxMaterials > 0 && len(materials) > maxMaterials {
			extracted["materials_truncated"] = true
			extracted["total_materials_count"] = len(materials)
			materials = materials[:maxMaterials]
		}
		extracted["materials"] = materials
		env["extracted_data"] = extracted
	}
	return env
}

func errorEnvelope(fileID uuid.UUID, errMsg string, errContext map[string]string) map[string]any {
	env := baseEnvelope(EventError, fileID)
	env["error_message"] = errMsg
	if errContext == nil {
		errContext = map[string]string{}
	}
	env["error_context"] = errContext
	return env
}

func baseEnvelope(eventType string, fileID uuid.UUID) map[string]any {
	return map[string]any{
		"event_type":  eventType,
		"ifc_file_id": fileID.String(),
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	}
}
