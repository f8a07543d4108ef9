package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type EventStore interface {
	Upsert(ctx context.Context, event PaymentEvent) (UpsertResult, error)
	Get(ctx context.Context, key EventKey) (PaymentEvent, error)
}

// Batch listings return records never checked first, then the least recently
// checked. MarkChecked moves a record that stayed unresolved to the back.
type OrderStore interface {
	ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]Order, error)
	// TransitionStatus moves an order from one status to another and reports
	// false when the order was no longer in the expected status.
	TransitionStatus(ctx context.Context, id string, from OrderStatus, to OrderStatus, at time.Time) (bool, error)
	MarkChecked(ctx context.Context, id string, at time.Time) error
}

type PaymentStore interface {
	ListPending(ctx context.Context, limit int) ([]PendingPayment, error)
	Resolve(ctx context.Context, id string, status PaymentStatus, at time.Time) (bool, error)
	MarkChecked(ctx context.Context, id string, at time.Time) error
}

type ProductStore interface {
	ListDrifted(ctx context.Context, now time.Time, limit int) ([]Product, error)
	SetLive(ctx context.Context, id string, from bool, to bool, at time.Time) (bool, error)
	MarkChecked(ctx context.Context, id string, at time.Time) error
}

// Reconciler scans one entity type for drift and applies bounded corrections.
// Per-record failures belong in the result; an error means the run failed as
// a whole.
type Reconciler interface {
	Name() string
	Run(ctx context.Context) (ReconcileResult, error)
}

type PaymentStatusProvider interface {
	VerifyTransaction(ctx context.Context, reference string) (PaymentStatusResult, error)
}

type InboundRequest struct {
	ProviderID string
	Headers    map[string]string
	Body       []byte
	Metadata   map[string]any
}

type InboundResult struct {
	Accepted   bool
	StatusCode int
	Metadata   map[string]any
}

// Reserved job parameters understood by queue backends.
const (
	// JobParamHandle carries a caller-chosen job id through Enqueue.
	JobParamHandle = "_job_handle"
	// JobParamQueue overrides the queue name, which otherwise equals JobID.
	JobParamQueue = "_queue"
	// JobParamAttempt is set on dequeued messages with the 1-based attempt number.
	JobParamAttempt = "_attempt"
)

// JobReceipt is what a backend reports for an accepted submission. A repeated
// idempotency key yields the receipt of the job already stored.
type JobReceipt struct {
	DispatchID string
	EnqueuedAt time.Time
}

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) (JobReceipt, error)
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger
