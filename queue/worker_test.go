package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	job "github.com/goliatone/go-job"
	jobqueue "github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-reconciler/adapters/gojob"
	"github.com/goliatone/go-reconciler/core"
)

type stubDelivery struct {
	msg      *job.ExecutionMessage
	attempts int
	once     sync.Once
	settled  chan struct{}
	acked    bool
	nacked   bool
	nackOpts jobqueue.NackOptions
}

func newStubDelivery(msg *job.ExecutionMessage, attempts int) *stubDelivery {
	return &stubDelivery{msg: msg, attempts: attempts, settled: make(chan struct{})}
}

func (d *stubDelivery) Message() *job.ExecutionMessage { return d.msg }

func (d *stubDelivery) Attempts() int { return d.attempts }

func (d *stubDelivery) Ack(context.Context) error {
	d.acked = true
	d.once.Do(func() { close(d.settled) })
	return nil
}

func (d *stubDelivery) Nack(_ context.Context, opts jobqueue.NackOptions) error {
	d.nacked = true
	d.nackOpts = opts
	d.once.Do(func() { close(d.settled) })
	return nil
}

type stubDequeuer struct {
	mu         sync.Mutex
	deliveries []jobqueue.Delivery
	err        error
}

func (d *stubDequeuer) Dequeue(context.Context) (jobqueue.Delivery, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	if len(d.deliveries) == 0 {
		return nil, nil
	}
	next := d.deliveries[0]
	d.deliveries = d.deliveries[1:]
	return next, nil
}

type countingHook struct {
	starts, successes, failures, retries int
	last                                 core.JobWorkerEvent
}

func (h *countingHook) OnStart(context.Context, core.JobWorkerEvent) { h.starts++ }
func (h *countingHook) OnSuccess(_ context.Context, e core.JobWorkerEvent) {
	h.successes++
	h.last = e
}
func (h *countingHook) OnFailure(_ context.Context, e core.JobWorkerEvent) {
	h.failures++
	h.last = e
}
func (h *countingHook) OnRetry(_ context.Context, e core.JobWorkerEvent) {
	h.retries++
	h.last = e
}

// runUntilSettled runs the worker until delivery is acked or nacked and the
// worker has stopped.
func runUntilSettled(t *testing.T, worker *Worker, delivery *stubDelivery) {
	t.Helper()
	worker.PollInterval = 5 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	select {
	case <-delivery.settled:
	case <-time.After(2 * time.Second):
		t.Fatalf("delivery was not settled")
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not stop after cancel")
	}
}

func TestWorkerAcksSuccessfulTypedHandler(t *testing.T) {
	delivery := newStubDelivery(&job.ExecutionMessage{
		JobID:      QueueVendorFollowNotification,
		ScriptPath: TaskPath(QueueVendorFollowNotification),
		Parameters: map[string]any{
			"vendor_id":         "vendor_1",
			"follower_id":       "user_1",
			"followed_at":       "2026-01-02T03:04:05Z",
			core.JobParamHandle: "handle-1",
		},
	}, 1)
	worker := NewWorker(&stubDequeuer{deliveries: []jobqueue.Delivery{delivery}}, gojob.RetryPolicy{}, nil)
	hook := &countingHook{}
	worker.AddHook(hook)

	var got VendorFollowPayload
	if err := worker.Handle(QueueVendorFollowNotification, TypedHandler(func(_ context.Context, payload VendorFollowPayload) error {
		got = payload
		return nil
	})); err != nil {
		t.Fatalf("handle: %v", err)
	}

	runUntilSettled(t, worker, delivery)
	if !delivery.acked || delivery.nacked {
		t.Fatalf("expected ack only")
	}
	if got.FollowerID != "user_1" {
		t.Fatalf("expected decoded payload, got %+v", got)
	}
	if hook.starts != 1 || hook.successes != 1 {
		t.Fatalf("expected start and success hooks, got %+v", hook)
	}
	if hook.last.Message == nil || hook.last.Message.Parameters[core.JobParamHandle] != "handle-1" {
		t.Fatalf("expected hook event to carry the message, got %+v", hook.last)
	}
}

func TestWorkerRetriesFailureWithBackoff(t *testing.T) {
	delivery := newStubDelivery(&job.ExecutionMessage{JobID: QueueProductDeactivate}, 2)
	worker := NewWorker(&stubDequeuer{deliveries: []jobqueue.Delivery{delivery}}, gojob.RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    time.Minute,
	}, nil)
	hook := &countingHook{}
	worker.AddHook(hook)
	if err := worker.Handle(QueueProductDeactivate, func(context.Context, *core.JobExecutionMessage) error {
		return errors.New("downstream unavailable")
	}); err != nil {
		t.Fatalf("handle: %v", err)
	}

	runUntilSettled(t, worker, delivery)
	if !delivery.nacked || delivery.nackOpts.Disposition != jobqueue.NackDispositionRetry {
		t.Fatalf("expected retry nack, got %+v", delivery.nackOpts)
	}
	if delivery.nackOpts.Delay != 2*time.Second {
		t.Fatalf("expected 2s backoff, got %s", delivery.nackOpts.Delay)
	}
	if hook.retries != 1 || hook.last.Attempt != 2 || hook.last.Delay != 2*time.Second {
		t.Fatalf("expected retry hook on attempt 2, got %+v", hook)
	}
}

func TestWorkerDeadLettersPanicAtMaxAttempts(t *testing.T) {
	delivery := newStubDelivery(&job.ExecutionMessage{JobID: QueueProductDeactivate}, 3)
	worker := NewWorker(&stubDequeuer{deliveries: []jobqueue.Delivery{delivery}}, gojob.RetryPolicy{
		MaxAttempts:     3,
		DeadLetterOnMax: true,
	}, nil)
	hook := &countingHook{}
	worker.AddHook(hook)
	if err := worker.Handle(QueueProductDeactivate, func(context.Context, *core.JobExecutionMessage) error {
		panic("boom")
	}); err != nil {
		t.Fatalf("handle: %v", err)
	}

	runUntilSettled(t, worker, delivery)
	if delivery.nackOpts.Disposition != jobqueue.NackDispositionDeadLetter {
		t.Fatalf("expected dead letter, got %+v", delivery.nackOpts)
	}
	if hook.failures != 1 || hook.last.Err == nil {
		t.Fatalf("expected failure hook with panic error, got %+v", hook)
	}
}

func TestWorkerMarksFailedAtMaxAttemptsWithoutDeadLetter(t *testing.T) {
	delivery := newStubDelivery(&job.ExecutionMessage{JobID: QueueProductDeactivate}, 2)
	worker := NewWorker(&stubDequeuer{deliveries: []jobqueue.Delivery{delivery}}, gojob.RetryPolicy{MaxAttempts: 2}, nil)
	_ = worker.Handle(QueueProductDeactivate, func(context.Context, *core.JobExecutionMessage) error {
		return errors.New("still failing")
	})

	runUntilSettled(t, worker, delivery)
	if delivery.nackOpts.Disposition != jobqueue.NackDispositionFailed {
		t.Fatalf("expected failed disposition, got %+v", delivery.nackOpts)
	}
}

func TestWorkerDeadLettersUnknownJob(t *testing.T) {
	delivery := newStubDelivery(&job.ExecutionMessage{JobID: "unknown"}, 1)
	worker := NewWorker(&stubDequeuer{deliveries: []jobqueue.Delivery{delivery}}, gojob.RetryPolicy{}, nil)

	runUntilSettled(t, worker, delivery)
	if delivery.nackOpts.Disposition != jobqueue.NackDispositionDeadLetter {
		t.Fatalf("expected dead letter for unknown job, got %+v", delivery.nackOpts)
	}
}

func TestWorkerRunStopsOnCancel(t *testing.T) {
	worker := NewWorker(&stubDequeuer{err: errors.New("unreachable")}, gojob.RetryPolicy{}, nil)
	worker.PollInterval = 5 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean stop, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not stop after cancel")
	}
}

func TestWorkerHandleRejectsDuplicates(t *testing.T) {
	worker := NewWorker(&stubDequeuer{}, gojob.RetryPolicy{}, nil)
	noop := func(context.Context, *core.JobExecutionMessage) error { return nil }
	if err := worker.Handle("a", noop); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if err := worker.Handle("a", noop); err == nil {
		t.Fatalf("expected duplicate handler error")
	}
	if err := worker.Handle("", noop); err == nil {
		t.Fatalf("expected empty job id error")
	}
	if err := worker.Handle("b", nil); err == nil {
		t.Fatalf("expected nil handler error")
	}
}

func TestWorkerRunRequiresDequeuer(t *testing.T) {
	if err := NewWorker(nil, gojob.RetryPolicy{}, nil).Run(context.Background()); err == nil {
		t.Fatalf("expected missing dequeuer error")
	}
}
