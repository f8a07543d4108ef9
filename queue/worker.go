package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	job "github.com/goliatone/go-job"
	jobqueue "github.com/goliatone/go-job/queue"
	jobworker "github.com/goliatone/go-job/queue/worker"
	"github.com/goliatone/go-reconciler/adapters/gojob"
	"github.com/goliatone/go-reconciler/core"
)

const (
	defaultPollInterval = time.Second
	defaultStopTimeout  = 30 * time.Second
	taskPathPrefix      = "reconciler/jobs/"
)

// Handler executes one job. Handlers own their idempotency; a delivery can be
// seen more than once.
type Handler func(ctx context.Context, msg *core.JobExecutionMessage) error

// TypedHandler decodes job parameters into P before calling fn.
func TypedHandler[P any](fn func(ctx context.Context, payload P) error) Handler {
	return func(ctx context.Context, msg *core.JobExecutionMessage) error {
		var payload P
		if msg != nil {
			if err := DecodeParameters(msg.Parameters, &payload); err != nil {
				return err
			}
		}
		if validator, ok := any(payload).(interface{ Validate() error }); ok {
			if err := validator.Validate(); err != nil {
				return err
			}
		}
		return fn(ctx, payload)
	}
}

// TaskPath is the go-job script path a job id is registered under.
func TaskPath(jobID string) string {
	return taskPathPrefix + strings.TrimSpace(jobID)
}

// Worker runs registered handlers on a go-job worker. Retries, dead letters
// and lease heartbeats are decided by go-job using the gojob retry policy.
type Worker struct {
	dequeuer     jobqueue.Dequeuer
	policy       gojob.RetryPolicy
	observer     *core.Observer
	registry     *jobworker.Registry
	mu           sync.Mutex
	hooks        []core.JobWorkerHook
	Concurrency  int
	PollInterval time.Duration
	StopTimeout  time.Duration
}

func NewWorker(dequeuer jobqueue.Dequeuer, policy gojob.RetryPolicy, observer *core.Observer) *Worker {
	if observer == nil {
		observer = core.NewObserver(nil, nil, "")
	}
	return &Worker{
		dequeuer: dequeuer,
		policy:   policy,
		observer: observer,
		registry: jobworker.NewRegistry(),
	}
}

// AddHook observes job lifecycle events. Hooks added after Run starts are not
// seen by that run.
func (w *Worker) AddHook(hook core.JobWorkerHook) {
	if w == nil || hook == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.hooks = append(w.hooks, hook)
}

func (w *Worker) Handle(jobID string, handler Handler) error {
	if w == nil || w.registry == nil {
		return fmt.Errorf("queue: worker is not configured")
	}
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return fmt.Errorf("queue: job id is required")
	}
	if handler == nil {
		return fmt.Errorf("queue: handler for %s is required", jobID)
	}
	task := &handlerTask{id: jobID, handler: handler}
	if err := w.registry.Add(task, job.NewTaskCommander(task).WithRetryOverride(0)); err != nil {
		return fmt.Errorf("queue: register %s: %w", jobID, err)
	}
	return nil
}

// Run consumes jobs until ctx is cancelled, then waits up to StopTimeout for
// in-flight jobs to settle.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil || w.dequeuer == nil {
		return fmt.Errorf("queue: worker is not configured")
	}
	w.mu.Lock()
	hooks := []jobworker.Hook{gojob.NewWorkerHookAdapter(observerHook{observer: w.observer})}
	for _, hook := range w.hooks {
		hooks = append(hooks, gojob.NewWorkerHookAdapter(hook))
	}
	w.mu.Unlock()

	opts := []jobworker.Option{
		jobworker.WithRegistry(w.registry),
		jobworker.WithRetryPolicy(w.policy),
		jobworker.WithHooks(hooks...),
		jobworker.WithConcurrency(w.concurrency()),
		jobworker.WithIdleDelay(w.pollInterval()),
	}
	if logger := gojob.NewLogger(w.observer.Logger); logger != nil {
		opts = append(opts, jobworker.WithLogger(logger))
	}
	runner := jobworker.NewWorker(w.dequeuer, opts...)
	if err := runner.Start(ctx); err != nil {
		return fmt.Errorf("queue: start worker: %w", err)
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), w.stopTimeout())
	defer cancel()
	if err := runner.Stop(stopCtx); err != nil {
		return fmt.Errorf("queue: stop worker: %w", err)
	}
	return nil
}

func (w *Worker) concurrency() int {
	if w.Concurrency <= 0 {
		return 1
	}
	return w.Concurrency
}

func (w *Worker) pollInterval() time.Duration {
	if w.PollInterval <= 0 {
		return defaultPollInterval
	}
	return w.PollInterval
}

func (w *Worker) stopTimeout() time.Duration {
	if w.StopTimeout <= 0 {
		return defaultStopTimeout
	}
	return w.StopTimeout
}

// handlerTask exposes a Handler as a go-job task.
type handlerTask struct {
	id      string
	handler Handler
}

func (t *handlerTask) GetID() string { return t.id }

func (t *handlerTask) GetHandler() func() error {
	return func() error {
		return t.Execute(context.Background(), &job.ExecutionMessage{JobID: t.id, ScriptPath: t.GetPath()})
	}
}

func (t *handlerTask) GetHandlerConfig() job.HandlerOptions { return job.HandlerOptions{} }

func (t *handlerTask) GetConfig() job.Config { return job.Config{NoTimeout: true} }

func (t *handlerTask) GetPath() string { return TaskPath(t.id) }

func (t *handlerTask) GetEngine() job.Engine { return nil }

func (t *handlerTask) Execute(ctx context.Context, msg *job.ExecutionMessage) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("queue: handler panic: %v", recovered)
		}
	}()
	return t.handler(ctx, gojob.FromExecutionMessage(msg))
}

// observerHook reports each settled job through the observer.
type observerHook struct {
	observer *core.Observer
}

func (h observerHook) OnStart(context.Context, core.JobWorkerEvent) {}

func (h observerHook) OnSuccess(ctx context.Context, event core.JobWorkerEvent) {
	h.observe(ctx, event, "succeeded")
}

func (h observerHook) OnFailure(ctx context.Context, event core.JobWorkerEvent) {
	h.observe(ctx, event, "failed")
}

func (h observerHook) OnRetry(ctx context.Context, event core.JobWorkerEvent) {
	h.observe(ctx, event, "retry")
}

func (h observerHook) observe(ctx context.Context, event core.JobWorkerEvent, status string) {
	fields := map[string]any{"attempt": event.Attempt}
	if event.Message != nil {
		fields["job_id"] = event.Message.JobID
		if handle, ok := event.Message.Parameters[core.JobParamHandle]; ok {
			fields["job_handle"] = handle
		}
	}
	if event.Delay > 0 {
		fields["delay"] = event.Delay.String()
	}
	h.observer.Observe(ctx, event.StartedAt, "job_execute", status, event.Err, fields)
}

var (
	_ job.Task           = (*handlerTask)(nil)
	_ core.JobWorkerHook = observerHook{}
)
