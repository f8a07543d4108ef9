package gojob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
	"github.com/goliatone/go-reconciler/core"
)

// Job ids carried on the go-job wire. Both double as queue names.
const (
	JobProductDeactivate        = "productDeactivate"
	JobVendorFollowNotification = "vendorFollowNotification"
)

// RetryPolicy defines queue retry bounds to avoid unbounded retry loops.
type RetryPolicy struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     5,
		BaseDelay:       2 * time.Second,
		MaxDelay:        time.Minute,
		DeadLetterOnMax: true,
	}
}

// DelayFor returns the exponential backoff for a 1-based attempt, capped at MaxDelay.
func (p RetryPolicy) DelayFor(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// NormalizeAttempt enforces bounded retry behavior for a nack operation. Once
// MaxAttempts is reached the job is dead-lettered when DeadLetterOnMax is set
// and marked failed otherwise.
func (p RetryPolicy) NormalizeAttempt(opts core.JobNackOptions, attempt int) core.JobNackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		out.DeadLetter = out.DeadLetter || p.DeadLetterOnMax
		return out
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

// Decide lets go-job's worker apply this policy to a failed execution. Errors
// marked non-retryable by go-job skip straight to the dead letter.
func (p RetryPolicy) Decide(attempt int, err error) queue.NackOptions {
	opts := core.JobNackOptions{Requeue: true, Delay: p.DelayFor(attempt)}
	if err != nil {
		opts.Reason = err.Error()
	}
	var terminal job.NonRetryableError
	if errors.As(err, &terminal) && terminal.NonRetryable() {
		opts.Requeue = false
		opts.DeadLetter = true
		opts.Reason = terminal.NonRetryableReason()
	}
	return ToNackOptions(p.NormalizeAttempt(opts, attempt))
}

// ToNackOptions maps reconciler nack options to a go-job disposition.
func ToNackOptions(opts core.JobNackOptions) queue.NackOptions {
	switch {
	case opts.DeadLetter:
		return queue.NackOptions{Disposition: queue.NackDispositionDeadLetter, Reason: opts.Reason}
	case opts.Requeue:
		return queue.NackOptions{Disposition: queue.NackDispositionRetry, Delay: opts.Delay, Reason: opts.Reason}
	default:
		return queue.NackOptions{Disposition: queue.NackDispositionFailed, Reason: opts.Reason}
	}
}

// ToExecutionMessage maps a reconciler job onto the go-job wire message.
// Parameters are copied so later edits do not leak into a queued job.
func ToExecutionMessage(msg *core.JobExecutionMessage) *job.ExecutionMessage {
	if msg == nil {
		return nil
	}
	out := &job.ExecutionMessage{
		JobID:          strings.TrimSpace(msg.JobID),
		ScriptPath:     strings.TrimSpace(msg.ScriptPath),
		Parameters:     copyAnyMap(msg.Parameters),
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
	}
	if policy := strings.TrimSpace(msg.DedupPolicy); policy != "" {
		out.DedupPolicy = job.DeduplicationPolicy(policy)
	}
	return out
}

func FromExecutionMessage(msg *job.ExecutionMessage) *core.JobExecutionMessage {
	if msg == nil {
		return nil
	}
	return &core.JobExecutionMessage{
		JobID:          strings.TrimSpace(msg.JobID),
		ScriptPath:     strings.TrimSpace(msg.ScriptPath),
		Parameters:     copyAnyMap(msg.Parameters),
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
		DedupPolicy:    strings.TrimSpace(string(msg.DedupPolicy)),
	}
}

type EnqueuerAdapter struct {
	enqueuer queue.Enqueuer
}

func NewEnqueuerAdapter(enqueuer queue.Enqueuer) *EnqueuerAdapter {
	return &EnqueuerAdapter{enqueuer: enqueuer}
}

func (a *EnqueuerAdapter) Enqueue(ctx context.Context, msg *core.JobExecutionMessage) (core.JobReceipt, error) {
	if a == nil || a.enqueuer == nil {
		return core.JobReceipt{}, fmt.Errorf("gojob: enqueuer is not configured")
	}
	if msg == nil {
		return core.JobReceipt{}, fmt.Errorf("gojob: execution message is required")
	}
	receipt, err := a.enqueuer.Enqueue(ctx, ToExecutionMessage(msg))
	if err != nil {
		return core.JobReceipt{}, err
	}
	return core.JobReceipt{DispatchID: receipt.DispatchID, EnqueuedAt: receipt.EnqueuedAt}, nil
}

type WorkerHookAdapter struct {
	hook core.JobWorkerHook
}

func NewWorkerHookAdapter(hook core.JobWorkerHook) *WorkerHookAdapter {
	return &WorkerHookAdapter{hook: hook}
}

func (a *WorkerHookAdapter) OnStart(ctx context.Context, event worker.Event) {
	if a == nil || a.hook == nil {
		return
	}
	a.hook.OnStart(ctx, mapWorkerEvent(event))
}

func (a *WorkerHookAdapter) OnSuccess(ctx context.Context, event worker.Event) {
	if a == nil || a.hook == nil {
		return
	}
	a.hook.OnSuccess(ctx, mapWorkerEvent(event))
}

func (a *WorkerHookAdapter) OnFailure(ctx context.Context, event worker.Event) {
	if a == nil || a.hook == nil {
		return
	}
	a.hook.OnFailure(ctx, mapWorkerEvent(event))
}

func (a *WorkerHookAdapter) OnRetry(ctx context.Context, event worker.Event) {
	if a == nil || a.hook == nil {
		return
	}
	a.hook.OnRetry(ctx, mapWorkerEvent(event))
}

func mapWorkerEvent(event worker.Event) core.JobWorkerEvent {
	message := event.Message
	if message == nil && event.Delivery != nil {
		message = event.Delivery.Message()
	}
	return core.JobWorkerEvent{
		Message:   FromExecutionMessage(message),
		Attempt:   event.Attempt,
		Delay:     event.Delay,
		Err:       event.Err,
		StartedAt: event.StartedAt,
		Duration:  event.Duration,
	}
}

// Logger bridges a reconciler logger into go-job's logger contract.
type Logger struct {
	core.Logger
}

func NewLogger(logger core.Logger) job.Logger {
	if logger == nil {
		return nil
	}
	return Logger{Logger: logger}
}

func (l Logger) WithContext(ctx context.Context) job.Logger {
	return Logger{Logger: l.Logger.WithContext(ctx)}
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

var (
	_ core.JobEnqueuer   = (*EnqueuerAdapter)(nil)
	_ worker.Hook        = (*WorkerHookAdapter)(nil)
	_ worker.RetryPolicy = RetryPolicy{}
	_ job.Logger         = Logger{}
)
