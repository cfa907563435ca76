// Package queue defines the processing task and its wire payload.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// ProcessIFCTask is scheduled each time a model file is uploaded.
	ProcessIFCTask = "ifc:process"

	// maxRetry bounds redelivery before asynq dead-letters the task.
	maxRetry = 5
)

// ProcessPayload is the queue message body. The file id is the only field;
// unknown extra fields in incoming payloads are ignored by json.Unmarshal.
type ProcessPayload struct {
	IFCFileID string `json:"ifc_file_id"`
}

// FileID parses and validates the payload's identifier.
func (p ProcessPayload) FileID() (uuid.UUID, error) {
	id, err := uuid.Parse(p.IFCFileID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid ifc_file_id %q: %w", p.IFCFileID, err)
	}
	return id, nil
}

// Client wraps the asynq producer behind the enqueue shape the orchestrator
// and sweeper depend on.
type Client struct {
	inner *asynq.Client
}

// NewClient wraps an asynq client.
func NewClient(inner *asynq.Client) *Client {
	return &Client{inner: inner}
}

// EnqueueProcess schedules processing for the given file.
func (c *Client) EnqueueProcess(ctx context.Context, fileID uuid.UUID) error {
	data, err := json.Marshal(ProcessPayload{IFCFileID: fileID.String()})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(ProcessIFCTask, data)
	if _, err := c.inner.EnqueueContext(ctx, task, asynq.MaxRetry(maxRetry)); err != nil {
		return fmt.Errorf("enqueue process task: %w", err)
	}
	return nil
}
