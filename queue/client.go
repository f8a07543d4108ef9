package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-reconciler/core"
	"github.com/google/uuid"
)

// JobHandle identifies a submitted job. It is returned once the backend has
// durably recorded the submission.
type JobHandle struct {
	ID         string
	Queue      string
	EnqueuedAt time.Time
}

type EnqueueOption func(*core.JobExecutionMessage)

// WithIdempotencyKey lets the backend drop a repeated submission. The client
// never derives one on its own.
func WithIdempotencyKey(key string) EnqueueOption {
	return func(msg *core.JobExecutionMessage) {
		msg.IdempotencyKey = strings.TrimSpace(key)
	}
}

// Client submits named jobs to a durable queue backend.
type Client struct {
	enqueuer core.JobEnqueuer
	observer *core.Observer
	Now      func() time.Time
}

func NewClient(enqueuer core.JobEnqueuer, observer *core.Observer) *Client {
	if observer == nil {
		observer = core.NewObserver(nil, nil, "")
	}
	return &Client{enqueuer: enqueuer, observer: observer}
}

// Enqueue records payload on queueName and returns its handle. Execution is
// asynchronous and owned by the queue consumer.
func (c *Client) Enqueue(ctx context.Context, queueName string, payload any, opts ...EnqueueOption) (JobHandle, error) {
	if c == nil || c.enqueuer == nil {
		return JobHandle{}, core.Internal("queue client is not configured", nil)
	}
	queueName = strings.TrimSpace(queueName)
	if queueName == "" {
		return JobHandle{}, core.BadInput("queue name is required", nil)
	}
	if validator, ok := payload.(interface{ Validate() error }); ok {
		if err := validator.Validate(); err != nil {
			return JobHandle{}, core.BadInput(err.Error(), map[string]any{"queue": queueName})
		}
	}
	params, err := ToParameters(payload)
	if err != nil {
		return JobHandle{}, core.BadInput(err.Error(), map[string]any{"queue": queueName})
	}

	handle := JobHandle{
		ID:         uuid.NewString(),
		Queue:      queueName,
		EnqueuedAt: c.now(),
	}
	params[core.JobParamHandle] = handle.ID
	params[core.JobParamQueue] = queueName

	msg := &core.JobExecutionMessage{
		JobID:      queueName,
		ScriptPath: TaskPath(queueName),
		Parameters: params,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(msg)
		}
	}

	startedAt := time.Now()
	fields := map[string]any{"job_id": queueName, "job_handle": handle.ID}
	receipt, err := c.enqueuer.Enqueue(ctx, msg)
	if err != nil {
		wrapped := core.StoreUnavailable(err, fmt.Sprintf("enqueue %s failed", queueName), map[string]any{"queue": queueName})
		c.observer.Observe(ctx, startedAt, "job_enqueue", "failure", wrapped, fields)
		return JobHandle{}, wrapped
	}
	// A repeated idempotency key resolves to the job already stored.
	status := "enqueued"
	if id := strings.TrimSpace(receipt.DispatchID); id != "" && id != handle.ID {
		handle.ID = id
		status = "deduplicated"
		fields["job_handle"] = id
	}
	if !receipt.EnqueuedAt.IsZero() {
		handle.EnqueuedAt = receipt.EnqueuedAt.UTC()
	}
	c.observer.Observe(ctx, startedAt, "job_enqueue", status, nil, fields)
	return handle, nil
}

// Submit enqueues a typed payload on the queue named by its kind.
func (c *Client) Submit(ctx context.Context, payload Payload, opts ...EnqueueOption) (JobHandle, error) {
	if payload == nil {
		return JobHandle{}, core.BadInput("job payload is required", nil)
	}
	return c.Enqueue(ctx, payload.Kind(), payload, opts...)
}

func (c *Client) now() time.Time {
	if c != nil && c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}
