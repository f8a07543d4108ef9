package core

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type recordedMetric struct {
	name string
	tags map[string]string
}

type recordingMetrics struct {
	mu         sync.Mutex
	counters   []recordedMetric
	histograms []recordedMetric
}

func (r *recordingMetrics) IncCounter(_ context.Context, name string, _ int64, tags map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters = append(r.counters, recordedMetric{name: name, tags: tags})
}

func (r *recordingMetrics) ObserveHistogram(_ context.Context, name string, _ float64, tags map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.histograms = append(r.histograms, recordedMetric{name: name, tags: tags})
}

func TestObserver_ObserveRecordsCounterAndHistogram(t *testing.T) {
	metrics := &recordingMetrics{}
	observer := NewObserver(glog.Nop(), metrics, "")

	observer.Observe(context.Background(), time.Now(), "Reconcile Run", "", nil, map[string]any{
		"reconciler": "order_cleanup",
		"ignored":    "x",
	})

	if len(metrics.counters) != 1 || len(metrics.histograms) != 1 {
		t.Fatalf("expected one counter and one histogram, got %d/%d", len(metrics.counters), len(metrics.histograms))
	}
	if metrics.counters[0].name != "reconciler.reconcile_run.total" {
		t.Fatalf("unexpected counter name %q", metrics.counters[0].name)
	}
	if metrics.histograms[0].name != "reconciler.reconcile_run.duration_ms" {
		t.Fatalf("unexpected histogram name %q", metrics.histograms[0].name)
	}
	want := map[string]string{"operation": "reconcile_run", "status": "success", "reconciler": "order_cleanup"}
	if !reflect.DeepEqual(metrics.counters[0].tags, want) {
		t.Fatalf("unexpected tags %+v", metrics.counters[0].tags)
	}
}

func TestObserver_ErrorDefaultsStatusToFailure(t *testing.T) {
	metrics := &recordingMetrics{}
	observer := NewObserver(glog.Nop(), metrics, "svc")

	observer.Observe(context.Background(), time.Now(), "webhook-ingest", "", errors.New("boom"), nil)

	if got := metrics.counters[0].tags["status"]; got != "failure" {
		t.Fatalf("expected failure status, got %q", got)
	}
	if metrics.counters[0].name != "svc.webhook_ingest.total" {
		t.Fatalf("unexpected counter name %q", metrics.counters[0].name)
	}
}

func TestObserver_NilIsSafe(t *testing.T) {
	var observer *Observer
	observer.Observe(context.Background(), time.Now(), "noop", "", nil, nil)
	observer.Counter(context.Background(), "noop", 1, nil)
	observer.Info(context.Background(), "noop", nil)
}

func TestFlattenFields_SortsKeys(t *testing.T) {
	got := FlattenFields(map[string]any{"b": 2, "a": 1})
	want := []any{"a", 1, "b", 2}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if FlattenFields(nil) != nil {
		t.Fatalf("expected nil for empty fields")
	}
}
