package scheduler

import (
	"time"

	"github.com/goliatone/go-reconciler/core"
	"github.com/robfig/cron/v3"
)

// intervalSchedule fires every d after the previous activation. Unlike
// cron.Every it keeps sub-second precision.
type intervalSchedule struct {
	every time.Duration
}

func Every(d time.Duration) cron.Schedule {
	if d <= 0 {
		d = time.Second
	}
	return intervalSchedule{every: d}
}

func (s intervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.every)
}

// cronLogger routes robfig/cron diagnostics through the observer.
type cronLogger struct {
	observer *core.Observer
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	if l.observer == nil || l.observer.Logger == nil {
		return
	}
	l.observer.Logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	if l.observer == nil || l.observer.Logger == nil {
		return
	}
	args := append([]any{"error", err}, keysAndValues...)
	l.observer.Logger.Error("cron: "+msg, args...)
}

var _ cron.Logger = cronLogger{}
