package reconcile

import (
	"context"
	"time"

	"github.com/goliatone/go-reconciler/core"
)

// OrderCleanup cancels pending orders older than the staleness threshold.
type OrderCleanup struct {
	orders    core.OrderStore
	threshold time.Duration
	settings
}

func NewOrderCleanup(orders core.OrderStore, threshold time.Duration, opts ...Option) *OrderCleanup {
	return &OrderCleanup{
		orders:    orders,
		threshold: threshold,
		settings:  newSettings(opts),
	}
}

func (r *OrderCleanup) Name() string {
	return NameOrderCleanup
}

func (r *OrderCleanup) Run(ctx context.Context) (core.ReconcileResult, error) {
	result := core.ReconcileResult{Reconciler: NameOrderCleanup}
	if r == nil || r.orders == nil {
		return result, core.Internal("order cleanup reconciler is not configured", nil)
	}
	now := r.clock()
	cutoff := now.Add(-r.threshold)

	orders, err := r.orders.ListStalePending(ctx, cutoff, r.limit)
	if err != nil {
		return result, core.StoreUnavailable(err, "list stale orders failed", map[string]any{"reconciler": NameOrderCleanup})
	}
	result.ScannedCount = len(orders)

	for _, order := range orders {
		if err := interrupted(ctx, NameOrderCleanup); err != nil {
			return result, err
		}
		if !order.IsStale(now, r.threshold) {
			continue
		}
		changed, err := r.orders.TransitionStatus(ctx, order.ID, core.OrderStatusPending, core.OrderStatusCancelled, now)
		if err != nil {
			result.AddError(order.ID, core.RecordFailed(err, "cancel stale order failed", map[string]any{"order_id": order.ID}))
			r.markChecked(ctx, NameOrderCleanup, r.orders, order.ID, now)
			continue
		}
		if changed {
			result.UpdatedCount++
		}
	}
	return result, nil
}
