package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-reconciler/core"
	"github.com/goliatone/go-reconciler/queue"
)

const (
	ReasonScheduleEnded   = "schedule_ended"
	ReasonNotYetScheduled = "not_yet_scheduled"
)

// JobSubmitter hands typed payloads to the work queue.
type JobSubmitter interface {
	Submit(ctx context.Context, payload queue.Payload, opts ...queue.EnqueueOption) (queue.JobHandle, error)
}

// ProductVisibility aligns IsLive with the product schedule window. A
// live to not-live flip submits a productDeactivate job first; the flip only
// happens once the job is recorded, so a failed submission is retried on the
// next run. The idempotency key is tied to the product version, so repeated
// submissions for one transition collapse in the queue.
type ProductVisibility struct {
	products  core.ProductStore
	submitter JobSubmitter
	settings
}

func NewProductVisibility(products core.ProductStore, submitter JobSubmitter, opts ...Option) *ProductVisibility {
	return &ProductVisibility{
		products:  products,
		submitter: submitter,
		settings:  newSettings(opts),
	}
}

func (r *ProductVisibility) Name() string {
	return NameProductVisibility
}

func (r *ProductVisibility) Run(ctx context.Context) (core.ReconcileResult, error) {
	result := core.ReconcileResult{Reconciler: NameProductVisibility}
	if r == nil || r.products == nil {
		return result, core.Internal("product visibility reconciler is not configured", nil)
	}
	now := r.clock()

	products, err := r.products.ListDrifted(ctx, now, r.limit)
	if err != nil {
		return result, core.StoreUnavailable(err, "list drifted products failed", map[string]any{"reconciler": NameProductVisibility})
	}
	result.ScannedCount = len(products)

	for _, product := range products {
		if err := interrupted(ctx, NameProductVisibility); err != nil {
			return result, err
		}
		shouldBeLive := product.ShouldBeLive(now)
		if shouldBeLive == product.IsLive {
			continue
		}

		if product.IsLive && r.submitter != nil {
			if err := r.submitDeactivation(ctx, product, now); err != nil {
				result.AddError(product.ID, err)
				r.markChecked(ctx, NameProductVisibility, r.products, product.ID, now)
				continue
			}
		}

		changed, err := r.products.SetLive(ctx, product.ID, product.IsLive, shouldBeLive, now)
		if err != nil {
			result.AddError(product.ID, core.RecordFailed(err, "update product visibility failed", map[string]any{"product_id": product.ID}))
			r.markChecked(ctx, NameProductVisibility, r.products, product.ID, now)
			continue
		}
		if changed {
			result.UpdatedCount++
		}
	}
	return result, nil
}

func (r *ProductVisibility) submitDeactivation(ctx context.Context, product core.Product, now time.Time) error {
	payload := queue.ProductDeactivatePayload{
		ProductID:     product.ID,
		VendorID:      product.VendorID,
		Reason:        DeactivationReason(product, now),
		DeactivatedAt: now,
	}
	key := fmt.Sprintf("%s:%s:%d", queue.QueueProductDeactivate, product.ID, product.UpdatedAt.UTC().UnixNano())
	if _, err := r.submitter.Submit(ctx, payload, queue.WithIdempotencyKey(key)); err != nil {
		return core.RecordFailed(err, "submit product deactivation failed", map[string]any{"product_id": product.ID})
	}
	return nil
}

// DeactivationReason explains why a product should not be live at now.
func DeactivationReason(product core.Product, now time.Time) string {
	if product.ScheduledEndAt != nil && !now.Before(*product.ScheduledEndAt) {
		return ReasonScheduleEnded
	}
	return ReasonNotYetScheduled
}
