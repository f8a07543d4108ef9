package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-reconciler/core"
)

type fakeReconciler struct {
	name    string
	delay   time.Duration
	fail    bool
	panics  bool
	honour  bool
	calls   atomic.Int64
	active  atomic.Int64
	maxSeen atomic.Int64
}

func (f *fakeReconciler) Name() string { return f.name }

func (f *fakeReconciler) Run(ctx context.Context) (core.ReconcileResult, error) {
	f.calls.Add(1)
	current := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if current <= seen || f.maxSeen.CompareAndSwap(seen, current) {
			break
		}
	}
	if f.panics {
		panic("reconciler exploded")
	}
	if f.delay > 0 {
		if f.honour {
			select {
			case <-time.After(f.delay):
			case <-ctx.Done():
				return core.ReconcileResult{}, ctx.Err()
			}
		} else {
			time.Sleep(f.delay)
		}
	}
	if f.fail {
		return core.ReconcileResult{}, errors.New("store unreachable")
	}
	return core.ReconcileResult{ScannedCount: 1, UpdatedCount: 1}, nil
}

type reportLog struct {
	mu      sync.Mutex
	reports []RunReport
}

func (l *reportLog) add(report RunReport) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reports = append(l.reports, report)
}

func (l *reportLog) count(name string, status RunStatus) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := 0
	for _, report := range l.reports {
		if report.Reconciler == name && report.Status == status {
			total++
		}
	}
	return total
}

func TestSchedulerNeverOverlapsSameReconciler(t *testing.T) {
	log := &reportLog{}
	s := New(WithOnReport(log.add), WithTimeout(time.Second))
	slow := &fakeReconciler{name: "slow", delay: 60 * time.Millisecond}
	if err := s.Register(slow, 10*time.Millisecond); err != nil {
		t.Fatalf("register: %v", err)
	}

	s.Start(context.Background())
	time.Sleep(300 * time.Millisecond)
	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if slow.maxSeen.Load() > 1 {
		t.Fatalf("expected at most one concurrent run, saw %d", slow.maxSeen.Load())
	}
	if slow.calls.Load() < 2 {
		t.Fatalf("expected repeated runs, got %d", slow.calls.Load())
	}
	if log.count("slow", StatusSkipped) == 0 {
		t.Fatalf("expected overlapping ticks to be skipped")
	}
}

func TestSchedulerIsolatesFailuresAndPanics(t *testing.T) {
	log := &reportLog{}
	s := New(WithOnReport(log.add), WithTimeout(time.Second))
	healthy := &fakeReconciler{name: "healthy"}
	failing := &fakeReconciler{name: "failing", fail: true}
	panicking := &fakeReconciler{name: "panicking", panics: true}
	for _, r := range []*fakeReconciler{healthy, failing, panicking} {
		if err := s.Register(r, 15*time.Millisecond); err != nil {
			t.Fatalf("register %s: %v", r.name, err)
		}
	}

	s.Start(context.Background())
	time.Sleep(200 * time.Millisecond)
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if log.count("healthy", StatusSucceeded) < 2 {
		t.Fatalf("expected healthy reconciler to keep running")
	}
	if log.count("failing", StatusFailed) < 2 {
		t.Fatalf("expected failing reconciler to keep being scheduled")
	}
	if log.count("panicking", StatusFailed) < 2 {
		t.Fatalf("expected panicking reconciler to be contained and rescheduled")
	}
}

func TestTriggerTimesOutButKeepsGuardUntilRunReturns(t *testing.T) {
	s := New(WithTimeout(20 * time.Millisecond))
	stubborn := &fakeReconciler{name: "stubborn", delay: 150 * time.Millisecond}
	if err := s.Register(stubborn, time.Hour); err != nil {
		t.Fatalf("register: %v", err)
	}

	started := time.Now()
	report, err := s.Trigger(context.Background(), "stubborn")
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if report.Status != StatusFailed || report.Err == nil {
		t.Fatalf("expected timed out run to fail, got %+v", report)
	}
	if time.Since(started) > 120*time.Millisecond {
		t.Fatalf("expected trigger to return at the timeout")
	}
	if !s.Running("stubborn") {
		t.Fatalf("expected guard to stay held while the run is still executing")
	}

	second, err := s.Trigger(context.Background(), "stubborn")
	if err != nil {
		t.Fatalf("second trigger: %v", err)
	}
	if second.Status != StatusSkipped {
		t.Fatalf("expected skipped while busy, got %s", second.Status)
	}

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if s.Running("stubborn") {
		t.Fatalf("expected stop to wait for the in-flight run")
	}
}

func TestTriggerCancelsCooperativeRunOnTimeout(t *testing.T) {
	s := New(WithTimeout(20 * time.Millisecond))
	cooperative := &fakeReconciler{name: "cooperative", delay: time.Second, honour: true}
	_ = s.Register(cooperative, time.Hour)

	report, err := s.Trigger(context.Background(), "cooperative")
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if report.Status != StatusFailed {
		t.Fatalf("expected failed status, got %s", report.Status)
	}

	deadline := time.Now().Add(time.Second)
	for s.Running("cooperative") && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	next, _ := s.Trigger(context.Background(), "cooperative")
	if next.Status == StatusSkipped {
		t.Fatalf("expected guard released once the cancelled run returned")
	}
}

func TestTriggerReportsResult(t *testing.T) {
	var hooked RunReport
	s := New(WithOnReport(func(r RunReport) { hooked = r }))
	_ = s.Register(&fakeReconciler{name: "quick"}, time.Minute)

	report, err := s.Trigger(context.Background(), " quick ")
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if report.Status != StatusSucceeded || report.Trigger != TriggerManual {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Result.Reconciler != "quick" || report.Result.UpdatedCount != 1 {
		t.Fatalf("unexpected result %+v", report.Result)
	}
	if hooked.Reconciler != "quick" {
		t.Fatalf("expected report hook to be invoked")
	}
}

func TestTriggerUnknownReconciler(t *testing.T) {
	s := New()
	_, err := s.Trigger(context.Background(), "missing")
	if !core.IsNotFound(err) {
		t.Fatalf("expected not found error, got %v", err)
	}
	if !errors.Is(err, core.ErrReconcilerNotFound) {
		t.Fatalf("expected wrapped sentinel, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	s := New()
	if err := s.Register(nil, time.Second); err == nil {
		t.Fatalf("expected nil reconciler error")
	}
	if err := s.Register(&fakeReconciler{name: "a"}, 0); err == nil {
		t.Fatalf("expected non-positive interval error")
	}
	if err := s.Register(&fakeReconciler{name: "a"}, time.Second); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := s.Register(&fakeReconciler{name: "a"}, time.Second); err == nil {
		t.Fatalf("expected duplicate name error")
	}
	if names := s.Names(); len(names) != 1 || names[0] != "a" {
		t.Fatalf("unexpected names %v", names)
	}
	_ = s.Stop(context.Background())
	if err := s.Register(&fakeReconciler{name: "b"}, time.Second); err == nil {
		t.Fatalf("expected register after stop to fail")
	}
}

func TestEverySchedule(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if next := Every(250 * time.Millisecond).Next(base); !next.Equal(base.Add(250 * time.Millisecond)) {
		t.Fatalf("expected sub-second interval, got %s", next)
	}
	if next := Every(0).Next(base); !next.Equal(base.Add(time.Second)) {
		t.Fatalf("expected one second fallback, got %s", next)
	}
}
