package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"takeoff-backend/internal/processing"
	"takeoff-backend/internal/resilience"
	"takeoff-backend/internal/storage"
)

// EventTask is the task type lifecycle events are published under. External
// consumers subscribe to the events queue and dispatch on the envelope's
// event_type field.
const EventTask = "ifc:event"

// QueuePublisher publishes lifecycle events onto a dedicated asynq queue.
type QueuePublisher struct {
	client       *asynq.Client
	queue        string
	maxMaterials int
	breaker      *resilience.Breaker
}

// NewQueuePublisher builds a publisher for the named queue. maxMaterials
// caps the material list carried in complete events.
func NewQueuePublisher(client *asynq.Client, queue string, maxMaterials int, policy resilience.Policy) *QueuePublisher {
	return &QueuePublisher{
		client:       client,
		queue:        queue,
		maxMaterials: maxMaterials,
		breaker:      resilience.NewBreaker("events:"+queue, policy),
	}
}

func (q *QueuePublisher) NotifyQueued(ctx context.Context, fileID uuid.UUID, upload *storage.UploadResult) error {
	return q.publish(ctx, queuedEnvelope(fileID, upload))
}

func (q *QueuePublisher) NotifyProcessing(ctx context.Context, fileID uuid.UUID, filename string) error {
	return q.publish(ctx, processingEnvelope(fileID, filename))
}

func (q *QueuePublisher) NotifyComplete(ctx context.Context, fileID uuid.UUID, result *processing.Result) error {
	return q.publish(ctx, completeEnvelope(fileID, result, q.maxMaterials))
}

func (q *QueuePublisher) NotifyError(ctx context.Context, fileID uuid.UUID, errMsg string, errContext map[string]string) error {
	return q.publish(ctx, errorEnvelope(fileID, errMsg, errContext))
}

func (q *QueuePublisher) publish(ctx context.Context, envelope map[string]any) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("%w: marshal event: %v", ErrDelivery, err)
	}
	task := asynq.NewTask(EventTask, payload)
	err = q.breaker.Execute(ctx, func() error {
		_, enqErr := q.client.EnqueueContext(ctx, task, asynq.Queue(q.queue))
		return enqErr
	})
	if err != nil {
		return fmt.Errorf("%w: publish %s: %v", ErrDelivery, envelope["event_type"], err)
	}
	return nil
}
