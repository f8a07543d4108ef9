package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-reconciler/core"
	"github.com/robfig/cron/v3"
)

const (
	StatusSucceeded RunStatus = "succeeded"
	StatusFailed    RunStatus = "failed"
	StatusSkipped   RunStatus = "skipped"

	TriggerTick   = "tick"
	TriggerManual = "manual"

	DefaultTimeout = 25 * time.Second
)

type RunStatus string

// RunReport is the outcome of one reconciler invocation.
type RunReport struct {
	Reconciler string
	Trigger    string
	Status     RunStatus
	StartedAt  time.Time
	Duration   time.Duration
	Result     core.ReconcileResult
	Err        error
}

type Option func(*Scheduler)

func WithTimeout(timeout time.Duration) Option {
	return func(s *Scheduler) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

func WithObserver(observer *core.Observer) Option {
	return func(s *Scheduler) {
		if observer != nil {
			s.observer = observer
		}
	}
}

// WithOnReport sets a hook called after every run, including skipped ones.
func WithOnReport(fn func(RunReport)) Option {
	return func(s *Scheduler) {
		s.onReport = fn
	}
}

type entry struct {
	reconciler core.Reconciler
	interval   time.Duration
	running    atomic.Bool
	id         cron.EntryID
}

// Scheduler runs each registered reconciler on its own interval. A run that
// is still in flight causes the next tick for the same reconciler to be
// skipped; failures and panics are contained to the run that raised them.
type Scheduler struct {
	cron     *cron.Cron
	observer *core.Observer
	timeout  time.Duration
	onReport func(RunReport)

	mu       sync.Mutex
	entries  map[string]*entry
	inflight sync.WaitGroup
	baseCtx  context.Context
	cancel   context.CancelFunc
	started  bool
	stopped  bool
}

func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		observer: core.NewObserver(nil, nil, ""),
		timeout:  DefaultTimeout,
		entries:  map[string]*entry{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	logger := cronLogger{observer: s.observer}
	s.cron = cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger)),
	)
	s.baseCtx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Register adds reconciler on a fixed interval. Names must be unique.
func (s *Scheduler) Register(reconciler core.Reconciler, interval time.Duration) error {
	if s == nil {
		return fmt.Errorf("scheduler: scheduler is not configured")
	}
	if reconciler == nil {
		return fmt.Errorf("scheduler: reconciler is required")
	}
	name := strings.TrimSpace(reconciler.Name())
	if name == "" {
		return fmt.Errorf("scheduler: reconciler name is required")
	}
	if interval <= 0 {
		return fmt.Errorf("scheduler: interval for %s must be positive", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return fmt.Errorf("scheduler: scheduler is stopped")
	}
	if _, exists := s.entries[name]; exists {
		return fmt.Errorf("scheduler: reconciler %s already registered", name)
	}
	e := &entry{reconciler: reconciler, interval: interval}
	e.id = s.cron.Schedule(Every(interval), cron.FuncJob(func() {
		s.execute(s.baseCtx, e, TriggerTick)
	}))
	s.entries[name] = e
	return nil
}

// Start begins ticking. Runs started by ticks are cancelled when ctx ends.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	if ctx != nil {
		base := s.baseCtx
		go func() {
			select {
			case <-ctx.Done():
				s.cancel()
			case <-base.Done():
			}
		}()
	}
	s.cron.Start()
}

// Stop halts ticking and waits for in-flight runs. When ctx ends first the
// remaining runs are cancelled and ctx.Err() is returned.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	cronDone := s.cron.Stop()
	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.inflight.Wait()
		close(done)
	}()
	defer s.cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Trigger runs a registered reconciler once, now. It honours the same
// non-overlap guard as ticks and returns a skipped report when busy.
func (s *Scheduler) Trigger(ctx context.Context, name string) (RunReport, error) {
	if s == nil {
		return RunReport{}, fmt.Errorf("scheduler: scheduler is not configured")
	}
	name = strings.TrimSpace(name)
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return RunReport{}, core.NotFound(core.ErrReconcilerNotFound, "reconciler "+name+" is not registered", map[string]any{"reconciler": name})
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return s.execute(ctx, e, TriggerManual), nil
}

// Names lists registered reconcilers in name order.
func (s *Scheduler) Names() []string {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Running reports whether a run of name is in flight.
func (s *Scheduler) Running(name string) bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	e, ok := s.entries[strings.TrimSpace(name)]
	s.mu.Unlock()
	return ok && e.running.Load()
}

type outcome struct {
	result core.ReconcileResult
	err    error
}

func (s *Scheduler) execute(ctx context.Context, e *entry, trigger string) RunReport {
	name := e.reconciler.Name()
	startedAt := time.Now()
	report := RunReport{Reconciler: name, Trigger: trigger, StartedAt: startedAt}

	if !e.running.CompareAndSwap(false, true) {
		report.Status = StatusSkipped
		s.emit(ctx, report)
		return report
	}

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan outcome, 1)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer e.running.Store(false)
		result, err := runIsolated(runCtx, e.reconciler)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		report.Result = out.result
		report.Err = out.err
	case <-runCtx.Done():
		report.Err = core.WrapError(runCtx.Err(), goerrors.CategoryOperation, fmt.Sprintf("reconciler %s did not finish within %s", name, s.timeout), core.ErrorInternal, map[string]any{"reconciler": name})
	}
	if report.Result.Reconciler == "" {
		report.Result.Reconciler = name
	}
	report.Duration = time.Since(startedAt)
	report.Status = StatusSucceeded
	if report.Err != nil {
		report.Status = StatusFailed
	}
	s.emit(ctx, report)
	return report
}

func runIsolated(ctx context.Context, reconciler core.Reconciler) (result core.ReconcileResult, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = core.Internal(fmt.Sprintf("reconciler %s panicked: %v", reconciler.Name(), recovered), map[string]any{"reconciler": reconciler.Name()})
		}
	}()
	return reconciler.Run(ctx)
}

func (s *Scheduler) emit(ctx context.Context, report RunReport) {
	if ctx == nil || ctx.Err() != nil {
		ctx = context.Background()
	}
	fields := map[string]any{
		"reconciler": report.Reconciler,
		"trigger":    report.Trigger,
		"scanned":    report.Result.ScannedCount,
		"updated":    report.Result.UpdatedCount,
		"errors":     len(report.Result.Errors),
	}
	s.observer.Observe(ctx, report.StartedAt, "scheduler_run", string(report.Status), report.Err, fields)
	for _, recordErr := range report.Result.Errors {
		s.observer.Warn(ctx, "reconciler record failed", map[string]any{
			"reconciler": report.Reconciler,
			"record_id":  recordErr.RecordID,
			"error":      recordErr.Error(),
		})
	}
	if s.onReport != nil {
		s.onReport(report)
	}
}
