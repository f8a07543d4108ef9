package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// Observer logs and counts operations with a shared field vocabulary.
type Observer struct {
	Logger  Logger
	Metrics MetricsRecorder
	Prefix  string
}

func NewObserver(logger Logger, metrics MetricsRecorder, prefix string) *Observer {
	if logger == nil {
		_, logger = glog.Resolve("reconciler", nil, nil)
	}
	if metrics == nil {
		metrics = NopMetricsRecorder{}
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "reconciler"
	}
	return &Observer{Logger: logger, Metrics: metrics, Prefix: prefix}
}

func (o *Observer) Observe(
	ctx context.Context,
	startedAt time.Time,
	operation string,
	status string,
	err error,
	fields map[string]any,
) {
	if o == nil {
		return
	}
	operation = NormalizeOperation(operation)
	if operation == "" {
		operation = "unknown"
	}
	if strings.TrimSpace(status) == "" {
		status = "success"
		if err != nil {
			status = "failure"
		}
	}
	elapsed := time.Since(startedAt)

	contextFields := CloneFields(fields)
	contextFields["operation"] = operation
	contextFields["status"] = status
	contextFields["duration_ms"] = elapsed.Milliseconds()
	if err != nil {
		contextFields["error"] = err.Error()
	}

	tags := map[string]string{
		"operation": operation,
		"status":    status,
	}
	for _, key := range []string{"reconciler", "provider_id", "event_type", "job_id"} {
		if value := strings.TrimSpace(fmt.Sprint(contextFields[key])); value != "" && value != "<nil>" {
			tags[key] = value
		}
	}

	o.Counter(ctx, operation+".total", 1, tags)
	o.Histogram(ctx, operation+".duration_ms", float64(elapsed.Milliseconds()), tags)

	if err != nil {
		o.Error(ctx, operation+" failed", contextFields)
		return
	}
	o.Info(ctx, operation+" "+status, contextFields)
}

func (o *Observer) Counter(ctx context.Context, name string, value int64, tags map[string]string) {
	if o == nil || o.Metrics == nil {
		return
	}
	o.Metrics.IncCounter(ctx, o.metricName(name), value, CloneTags(tags))
}

func (o *Observer) Histogram(ctx context.Context, name string, value float64, tags map[string]string) {
	if o == nil || o.Metrics == nil {
		return
	}
	o.Metrics.ObserveHistogram(ctx, o.metricName(name), value, CloneTags(tags))
}

func (o *Observer) Info(ctx context.Context, message string, fields map[string]any) {
	o.log(ctx, "info", message, fields)
}

func (o *Observer) Warn(ctx context.Context, message string, fields map[string]any) {
	o.log(ctx, "warn", message, fields)
}

func (o *Observer) Error(ctx context.Context, message string, fields map[string]any) {
	o.log(ctx, "error", message, fields)
}

func (o *Observer) log(ctx context.Context, level string, message string, fields map[string]any) {
	if o == nil || o.Logger == nil {
		return
	}
	logger := o.Logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	if fieldsLogger, ok := logger.(FieldsLogger); ok {
		logger = fieldsLogger.WithFields(CloneFields(fields))
	}
	args := FlattenFields(fields)
	switch level {
	case "error":
		logger.Error(message, args...)
	case "warn":
		logger.Warn(message, args...)
	default:
		logger.Info(message, args...)
	}
}

func (o *Observer) metricName(name string) string {
	return o.Prefix + "." + strings.TrimSpace(name)
}

func CloneFields(fields map[string]any) map[string]any {
	if len(fields) == 0 {
		return map[string]any{}
	}
	copied := make(map[string]any, len(fields))
	for key, value := range fields {
		copied[key] = value
	}
	return copied
}

func FlattenFields(fields map[string]any) []any {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	args := make([]any, 0, len(keys)*2)
	for _, key := range keys {
		args = append(args, key, fields[key])
	}
	return args
}

func NormalizeOperation(operation string) string {
	operation = strings.TrimSpace(strings.ToLower(operation))
	operation = strings.ReplaceAll(operation, " ", "_")
	operation = strings.ReplaceAll(operation, "-", "_")
	return operation
}
