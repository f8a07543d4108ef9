// Package reconcile holds the scheduled correctors for orders, payments and
// product visibility. Each reconciler writes only the fields it owns.
package reconcile

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-reconciler/core"
)

const (
	NameOrderCleanup      = "order_cleanup"
	NamePendingPayment    = "pending_payment"
	NameProductVisibility = "product_visibility"
)

type Option func(*settings)

type settings struct {
	now      func() time.Time
	limit    int
	observer *core.Observer
}

func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

func WithBatchSize(limit int) Option {
	return func(s *settings) {
		if limit > 0 {
			s.limit = limit
		}
	}
}

func WithObserver(observer *core.Observer) Option {
	return func(s *settings) {
		if observer != nil {
			s.observer = observer
		}
	}
}

func newSettings(opts []Option) settings {
	s := settings{
		now:   time.Now,
		limit: core.DefaultBatchSize,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	if s.observer == nil {
		s.observer = core.NewObserver(nil, nil, "")
	}
	return s
}

func (s settings) clock() time.Time {
	return s.now().UTC()
}

type checkMarker interface {
	MarkChecked(ctx context.Context, id string, at time.Time) error
}

// markChecked rotates an unresolved record behind the rest of the backlog. A
// failed mark is only logged; the record is then retried first next run.
func (s settings) markChecked(ctx context.Context, name string, store checkMarker, id string, at time.Time) {
	if err := store.MarkChecked(ctx, id, at); err != nil {
		s.observer.Warn(ctx, "mark record checked failed", map[string]any{
			"reconciler": name,
			"record_id":  id,
			"error":      err.Error(),
		})
	}
}

// interrupted reports a run that stopped early because ctx ended.
func interrupted(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return core.WrapError(err, goerrors.CategoryOperation, name+" run interrupted", core.ErrorInternal, map[string]any{"reconciler": name})
	}
	return nil
}
