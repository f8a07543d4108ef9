package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-reconciler/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

const (
	jobStatusReady    = "ready"
	jobStatusLeased   = "leased"
	jobStatusDone     = "done"
	jobStatusDead     = "dead"
	jobStatusFailed   = "failed"
	jobStatusCanceled = "canceled"

	ParamJobHandle = core.JobParamHandle
	ParamQueue     = core.JobParamQueue
	ParamAttempt   = core.JobParamAttempt

	defaultLeaseTimeout = 5 * time.Minute
)

// JobQueueStore is a durable work queue on the work_queue_jobs table. It
// implements go-job's queue.Storage, so go-job's storage adapter turns it into
// the enqueuer and dequeuer a go-job worker consumes.
//
// Every lease gets a fresh token. Ack, Nack and ExtendLease only apply while
// the caller still holds the token of the current lease.
type JobQueueStore struct {
	db           *bun.DB
	repo         repository.Repository[*workQueueJobRecord]
	queues       []string
	LeaseTimeout time.Duration
	Now          func() time.Time
}

func NewJobQueueStore(db *bun.DB, queues ...string) (*JobQueueStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*workQueueJobRecord](db, workQueueJobHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid work queue repository wiring: %w", err)
		}
	}
	filtered := make([]string, 0, len(queues))
	for _, name := range queues {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			filtered = append(filtered, trimmed)
		}
	}
	return &JobQueueStore{
		db:           db,
		repo:         repo,
		queues:       filtered,
		LeaseTimeout: defaultLeaseTimeout,
	}, nil
}

// Enqueue stores msg as a ready job. A repeated idempotency key on the same
// queue returns the receipt of the job already stored.
func (s *JobQueueStore) Enqueue(ctx context.Context, msg *job.ExecutionMessage) (queue.EnqueueReceipt, error) {
	if s == nil || s.repo == nil {
		return queue.EnqueueReceipt{}, fmt.Errorf("sqlstore: job queue store is not configured")
	}
	if msg == nil {
		return queue.EnqueueReceipt{}, fmt.Errorf("sqlstore: execution message is required")
	}
	if err := queue.ValidateRequiredMessage(msg); err != nil {
		return queue.EnqueueReceipt{}, fmt.Errorf("sqlstore: %w", err)
	}
	jobID := strings.TrimSpace(msg.JobID)
	params := copyAnyMap(msg.Parameters)
	queueName := jobID
	if value, ok := params[ParamQueue].(string); ok && strings.TrimSpace(value) != "" {
		queueName = strings.TrimSpace(value)
	}
	id := uuid.NewString()
	if value, ok := params[ParamJobHandle].(string); ok && parseUUID(value) != uuid.Nil {
		id = parseUUID(value).String()
	}
	delete(params, ParamJobHandle)
	delete(params, ParamQueue)
	delete(params, ParamAttempt)

	now := s.now()
	record := &workQueueJobRecord{
		ID:          id,
		Queue:       queueName,
		JobID:       jobID,
		ScriptPath:  strings.TrimSpace(msg.ScriptPath),
		Parameters:  params,
		Status:      jobStatusReady,
		AvailableAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if key := strings.TrimSpace(msg.IdempotencyKey); key != "" {
		record.IdempotencyKey = &key
	}
	if _, err := s.repo.Create(ctx, record); err != nil {
		if record.IdempotencyKey != nil && isUniqueViolation(err) {
			return s.existingReceipt(ctx, queueName, *record.IdempotencyKey)
		}
		return queue.EnqueueReceipt{}, err
	}
	return queue.EnqueueReceipt{DispatchID: record.ID, EnqueuedAt: now}, nil
}

func (s *JobQueueStore) existingReceipt(ctx context.Context, queueName, key string) (queue.EnqueueReceipt, error) {
	existing, err := s.repo.Get(ctx,
		repository.SelectBy("queue", "=", queueName),
		repository.SelectBy("idempotency_key", "=", key),
	)
	if err != nil {
		return queue.EnqueueReceipt{}, err
	}
	return queue.EnqueueReceipt{DispatchID: existing.ID, EnqueuedAt: existing.CreatedAt.UTC()}, nil
}

// Dequeue leases the oldest available job. It returns a nil message when
// nothing is ready. Leases that outlive LeaseTimeout become claimable again.
func (s *JobQueueStore) Dequeue(ctx context.Context) (*job.ExecutionMessage, queue.Receipt, error) {
	if s == nil || s.db == nil {
		return nil, queue.Receipt{}, fmt.Errorf("sqlstore: job queue store is not configured")
	}
	now := s.now()
	leaseUntil := now.Add(s.leaseTimeout())
	token := uuid.NewString()

	filter := ""
	lock := ""
	args := []any{jobStatusReady, jobStatusLeased, now}
	if len(s.queues) > 0 {
		filter = "\n\t  AND queue IN (?)"
		args = append(args, bun.In(s.queues))
	}
	if s.db.Dialect().Name() == dialect.PG {
		lock = "\n\tFOR UPDATE SKIP LOCKED"
	}
	args = append(args, jobStatusLeased, token, leaseUntil, now, jobStatusReady, jobStatusLeased, now)

	query := `
WITH claimed AS (
	SELECT id
	FROM work_queue_jobs
	WHERE status IN (?, ?)
	  AND available_at <= ?` + filter + `
	ORDER BY available_at ASC, created_at ASC
	LIMIT 1` + lock + `
)
UPDATE work_queue_jobs
SET status = ?, attempts = attempts + 1, lease_token = ?, available_at = ?, updated_at = ?
WHERE id IN (SELECT id FROM claimed)
  AND status IN (?, ?)
  AND available_at <= ?
RETURNING
	id,
	queue,
	job_id,
	script_path,
	parameters,
	idempotency_key,
	status,
	attempts,
	lease_token,
	available_at,
	last_error,
	created_at,
	updated_at
`
	var records []workQueueJobRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return tx.NewRaw(query, args...).Scan(ctx, &records)
	})
	if err != nil {
		return nil, queue.Receipt{}, err
	}
	if len(records) == 0 {
		return nil, queue.Receipt{}, nil
	}
	record := records[0]
	return record.toExecutionMessage(), queue.Receipt{
		ID:          record.ID,
		Token:       record.LeaseToken,
		Attempts:    record.Attempts,
		LeasedAt:    now,
		AvailableAt: record.AvailableAt.UTC(),
		CreatedAt:   record.CreatedAt.UTC(),
		LastError:   record.LastError,
	}, nil
}

// Ack marks a leased job done.
func (s *JobQueueStore) Ack(ctx context.Context, receipt queue.Receipt) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: job queue store is not configured")
	}
	return s.settle(ctx, receipt, jobStatusDone, s.now(), "")
}

// Nack releases a leased job according to the go-job disposition: retry makes
// it claimable again after Delay, the others are terminal.
func (s *JobQueueStore) Nack(ctx context.Context, receipt queue.Receipt, opts queue.NackOptions) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: job queue store is not configured")
	}
	if err := queue.ValidateNackOptions(opts); err != nil {
		return fmt.Errorf("sqlstore: %w", err)
	}
	now := s.now()
	switch opts.Disposition {
	case queue.NackDispositionRetry:
		return s.settle(ctx, receipt, jobStatusReady, now.Add(opts.Delay), opts.Reason)
	case queue.NackDispositionDeadLetter:
		return s.settle(ctx, receipt, jobStatusDead, now, opts.Reason)
	case queue.NackDispositionCanceled:
		return s.settle(ctx, receipt, jobStatusCanceled, now, opts.Reason)
	default:
		return s.settle(ctx, receipt, jobStatusFailed, now, opts.Reason)
	}
}

// ExtendLease pushes the lease deadline of a held job to now+ttl.
func (s *JobQueueStore) ExtendLease(ctx context.Context, receipt queue.Receipt, ttl time.Duration) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: job queue store is not configured")
	}
	if ttl <= 0 {
		ttl = s.leaseTimeout()
	}
	now := s.now()
	result, err := s.leaseUpdate(receipt).
		Set("available_at = ?", now.Add(ttl)).
		Set("updated_at = ?", now).
		Exec(ctx)
	return leaseResult(result, err)
}

func (s *JobQueueStore) settle(ctx context.Context, receipt queue.Receipt, status string, availableAt time.Time, reason string) error {
	result, err := s.leaseUpdate(receipt).
		Set("status = ?", status).
		Set("lease_token = ?", "").
		Set("available_at = ?", availableAt).
		Set("last_error = ?", strings.TrimSpace(reason)).
		Set("updated_at = ?", s.now()).
		Exec(ctx)
	return leaseResult(result, err)
}

func (s *JobQueueStore) leaseUpdate(receipt queue.Receipt) *bun.UpdateQuery {
	return s.db.NewUpdate().
		Model((*workQueueJobRecord)(nil)).
		Where("id = ?", strings.TrimSpace(receipt.ID)).
		Where("lease_token = ?", receipt.Token).
		Where("status = ?", jobStatusLeased)
}

func leaseResult(result sql.Result, err error) error {
	if err != nil {
		return err
	}
	changed, err := rowsChanged(result)
	if err != nil {
		return err
	}
	if !changed {
		return errLeaseLost
	}
	return nil
}

// Job returns the stored job row by id.
func (s *JobQueueStore) Job(ctx context.Context, id string) (QueuedJob, error) {
	if s == nil || s.repo == nil {
		return QueuedJob{}, fmt.Errorf("sqlstore: job queue store is not configured")
	}
	record, err := s.repo.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return QueuedJob{}, err
	}
	return record.toQueuedJob(), nil
}

// Pending lists ready jobs of a queue in claim order.
func (s *JobQueueStore) Pending(ctx context.Context, queueName string, limit int) ([]QueuedJob, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: job queue store is not configured")
	}
	if limit <= 0 {
		limit = core.DefaultBatchSize
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("queue", "=", strings.TrimSpace(queueName)),
		repository.SelectBy("status", "=", jobStatusReady),
		repository.OrderBy("available_at ASC"),
		repository.OrderBy("created_at ASC"),
		repository.SelectPaginate(limit, 0),
	)
	if err != nil {
		return nil, err
	}
	jobs := make([]QueuedJob, 0, len(records))
	for _, record := range records {
		jobs = append(jobs, record.toQueuedJob())
	}
	return jobs, nil
}

func (s *JobQueueStore) leaseTimeout() time.Duration {
	if s == nil || s.LeaseTimeout <= 0 {
		return defaultLeaseTimeout
	}
	return s.LeaseTimeout
}

func (s *JobQueueStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

var errLeaseLost = errors.New("sqlstore: job lease is no longer held")

func (r *workQueueJobRecord) toExecutionMessage() *job.ExecutionMessage {
	params := copyAnyMap(r.Parameters)
	params[ParamJobHandle] = r.ID
	params[ParamQueue] = r.Queue
	params[ParamAttempt] = r.Attempts
	msg := &job.ExecutionMessage{
		JobID:      r.JobID,
		ScriptPath: r.ScriptPath,
		Parameters: params,
	}
	if r.IdempotencyKey != nil {
		msg.IdempotencyKey = *r.IdempotencyKey
	}
	return msg
}

// QueuedJob is a read model of a work_queue_jobs row.
type QueuedJob struct {
	ID          string
	Queue       string
	JobID       string
	Parameters  map[string]any
	Status      string
	Attempts    int
	AvailableAt time.Time
	LastError   string
	CreatedAt   time.Time
}

func (r *workQueueJobRecord) toQueuedJob() QueuedJob {
	if r == nil {
		return QueuedJob{}
	}
	return QueuedJob{
		ID:          r.ID,
		Queue:       r.Queue,
		JobID:       r.JobID,
		Parameters:  copyAnyMap(r.Parameters),
		Status:      r.Status,
		Attempts:    r.Attempts,
		AvailableAt: r.AvailableAt.UTC(),
		LastError:   r.LastError,
		CreatedAt:   r.CreatedAt.UTC(),
	}
}

var (
	_ queue.Storage      = (*JobQueueStore)(nil)
	_ queue.LeaseStorage = (*JobQueueStore)(nil)
)
