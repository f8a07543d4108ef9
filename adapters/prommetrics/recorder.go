package prommetrics

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-reconciler/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DurationBuckets are millisecond buckets for run and request durations.
var DurationBuckets = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}

// Recorder backs core.MetricsRecorder with prometheus vectors. Each metric
// name fixes its label set on first use; later tags outside that set are
// dropped and missing labels are reported empty.
type Recorder struct {
	registry   *prometheus.Registry
	mu         sync.Mutex
	counters   map[string]*counterEntry
	histograms map[string]*histogramEntry
}

type counterEntry struct {
	vec    *prometheus.CounterVec
	labels []string
}

type histogramEntry struct {
	vec    *prometheus.HistogramVec
	labels []string
}

func NewRecorder(registry *prometheus.Registry) *Recorder {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	return &Recorder{
		registry:   registry,
		counters:   map[string]*counterEntry{},
		histograms: map[string]*histogramEntry{},
	}
}

func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the recorder registry in the prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	if r == nil || value < 0 {
		return
	}
	metric := MetricName(name)
	if metric == "" {
		return
	}
	r.mu.Lock()
	entry, ok := r.counters[metric]
	if !ok {
		labels := labelNames(tags)
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metric,
			Help: "Reconciler counter " + strings.TrimSpace(name),
		}, labels)
		if err := r.registry.Register(vec); err != nil {
			r.mu.Unlock()
			return
		}
		entry = &counterEntry{vec: vec, labels: labels}
		r.counters[metric] = entry
	}
	r.mu.Unlock()
	entry.vec.With(labelValues(entry.labels, tags)).Add(float64(value))
}

func (r *Recorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	if r == nil {
		return
	}
	metric := MetricName(name)
	if metric == "" {
		return
	}
	r.mu.Lock()
	entry, ok := r.histograms[metric]
	if !ok {
		labels := labelNames(tags)
		vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metric,
			Help:    "Reconciler histogram " + strings.TrimSpace(name),
			Buckets: DurationBuckets,
		}, labels)
		if err := r.registry.Register(vec); err != nil {
			r.mu.Unlock()
			return
		}
		entry = &histogramEntry{vec: vec, labels: labels}
		r.histograms[metric] = entry
	}
	r.mu.Unlock()
	entry.vec.With(labelValues(entry.labels, tags)).Observe(value)
}

// MetricName maps a dotted metric name to a valid prometheus name.
func MetricName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	var b strings.Builder
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_', r == ':':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteRune('_')
			}
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func labelNames(tags map[string]string) []string {
	labels := make([]string, 0, len(tags))
	for key := range tags {
		if label := MetricName(key); label != "" && !strings.HasPrefix(label, "__") {
			labels = append(labels, label)
		}
	}
	sort.Strings(labels)
	return dedupe(labels)
}

func labelValues(labels []string, tags map[string]string) prometheus.Labels {
	normalized := make(map[string]string, len(tags))
	for key, value := range tags {
		normalized[MetricName(key)] = value
	}
	values := make(prometheus.Labels, len(labels))
	for _, label := range labels {
		values[label] = normalized[label]
	}
	return values
}

func dedupe(sorted []string) []string {
	if len(sorted) < 2 {
		return sorted
	}
	out := sorted[:1]
	for _, value := range sorted[1:] {
		if value != out[len(out)-1] {
			out = append(out, value)
		}
	}
	return out
}

var _ core.MetricsRecorder = (*Recorder)(nil)
