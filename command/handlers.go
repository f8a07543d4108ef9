package command

import (
	"context"
	"strings"
	"time"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-reconciler/queue"
	"github.com/goliatone/go-reconciler/scheduler"
	"github.com/goliatone/go-reconciler/webhooks"
)

type Ingestor interface {
	Ingest(ctx context.Context, rawBody []byte, signature string) (webhooks.Ack, error)
}

type ReconcilerTrigger interface {
	Trigger(ctx context.Context, name string) (scheduler.RunReport, error)
}

type JobSubmitter interface {
	Submit(ctx context.Context, payload queue.Payload, opts ...queue.EnqueueOption) (queue.JobHandle, error)
}

type IngestPaymentEventCommand struct {
	ingestor Ingestor
}

func NewIngestPaymentEventCommand(ingestor Ingestor) *IngestPaymentEventCommand {
	return &IngestPaymentEventCommand{ingestor: ingestor}
}

// Execute stores the Ack on the context result collector. Duplicates are
// acknowledged like new events.
func (c *IngestPaymentEventCommand) Execute(ctx context.Context, msg IngestPaymentEventMessage) error {
	if c == nil || c.ingestor == nil {
		return commandDependencyError("command: webhook ingestor is required")
	}
	ack, err := c.ingestor.Ingest(ctx, msg.RawBody, msg.Signature)
	if err != nil {
		return err
	}
	storeResult(ctx, ack)
	return nil
}

type RunReconcilerCommand struct {
	trigger ReconcilerTrigger
}

func NewRunReconcilerCommand(trigger ReconcilerTrigger) *RunReconcilerCommand {
	return &RunReconcilerCommand{trigger: trigger}
}

// Execute runs one reconciler immediately. A failed run is reported through
// the stored RunReport, not as a command error.
func (c *RunReconcilerCommand) Execute(ctx context.Context, msg RunReconcilerMessage) error {
	if c == nil || c.trigger == nil {
		return commandDependencyError("command: scheduler is required")
	}
	report, err := c.trigger.Trigger(ctx, strings.TrimSpace(msg.Name))
	if err != nil {
		return err
	}
	storeResult(ctx, report)
	return nil
}

type NotifyVendorFollowCommand struct {
	submitter JobSubmitter
	now       func() time.Time
}

func NewNotifyVendorFollowCommand(submitter JobSubmitter) *NotifyVendorFollowCommand {
	return &NotifyVendorFollowCommand{submitter: submitter, now: time.Now}
}

func (c *NotifyVendorFollowCommand) Execute(ctx context.Context, msg NotifyVendorFollowMessage) error {
	if c == nil || c.submitter == nil {
		return commandDependencyError("command: job submitter is required")
	}
	followedAt := msg.FollowedAt.UTC()
	if msg.FollowedAt.IsZero() {
		followedAt = c.now().UTC()
	}
	handle, err := c.submitter.Submit(ctx, queue.VendorFollowPayload{
		VendorID:   strings.TrimSpace(msg.VendorID),
		FollowerID: strings.TrimSpace(msg.FollowerID),
		FollowedAt: followedAt,
	})
	if err != nil {
		return err
	}
	storeResult(ctx, handle)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
