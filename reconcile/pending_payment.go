package reconcile

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/goliatone/go-reconciler/core"
)

const (
	sourceEventStore = "event_store"
	sourceProvider   = "provider"
)

// PendingPayment resolves unresolved payments against the provider of truth.
// A stored charge.success event is definitive and saves the provider call.
// Each reference is looked up at most once per run.
type PendingPayment struct {
	payments        core.PaymentStore
	events          core.EventStore
	provider        core.PaymentStatusProvider
	providerTimeout time.Duration
	settings
}

func NewPendingPayment(
	payments core.PaymentStore,
	events core.EventStore,
	provider core.PaymentStatusProvider,
	providerTimeout time.Duration,
	opts ...Option,
) *PendingPayment {
	return &PendingPayment{
		payments:        payments,
		events:          events,
		provider:        provider,
		providerTimeout: providerTimeout,
		settings:        newSettings(opts),
	}
}

func (r *PendingPayment) Name() string {
	return NamePendingPayment
}

type lookup struct {
	outcome core.ProviderOutcome
	source  string
	err     error
}

func (r *PendingPayment) Run(ctx context.Context) (core.ReconcileResult, error) {
	result := core.ReconcileResult{Reconciler: NamePendingPayment}
	if r == nil || r.payments == nil || r.provider == nil {
		return result, core.Internal("pending payment reconciler is not configured", nil)
	}

	payments, err := r.payments.ListPending(ctx, r.limit)
	if err != nil {
		return result, core.StoreUnavailable(err, "list pending payments failed", map[string]any{"reconciler": NamePendingPayment})
	}
	result.ScannedCount = len(payments)

	checkedAt := r.clock()
	lookups := make(map[string]lookup, len(payments))
	for _, payment := range payments {
		if err := interrupted(ctx, NamePendingPayment); err != nil {
			return result, err
		}
		reference := strings.TrimSpace(payment.Reference)
		if reference == "" {
			result.AddError(payment.ID, core.BadInput("payment has no provider reference", map[string]any{"payment_id": payment.ID}))
			r.markChecked(ctx, NamePendingPayment, r.payments, payment.ID, checkedAt)
			continue
		}

		found, ok := lookups[reference]
		if !ok {
			found = r.lookup(ctx, reference)
			lookups[reference] = found
		}
		if found.err != nil {
			result.AddError(payment.ID, found.err)
			r.markChecked(ctx, NamePendingPayment, r.payments, payment.ID, checkedAt)
			continue
		}
		status, definitive := found.outcome.PaymentStatus()
		if !definitive {
			r.markChecked(ctx, NamePendingPayment, r.payments, payment.ID, checkedAt)
			continue
		}

		changed, err := r.payments.Resolve(ctx, payment.ID, status, r.clock())
		if err != nil {
			result.AddError(payment.ID, core.RecordFailed(err, "resolve payment failed", map[string]any{
				"payment_id": payment.ID,
				"reference":  reference,
			}))
			r.markChecked(ctx, NamePendingPayment, r.payments, payment.ID, checkedAt)
			continue
		}
		if changed {
			result.UpdatedCount++
			r.observer.Info(ctx, "payment resolved", map[string]any{
				"reconciler": NamePendingPayment,
				"payment_id": payment.ID,
				"reference":  reference,
				"status":     string(status),
				"source":     found.source,
			})
		}
	}
	return result, nil
}

func (r *PendingPayment) lookup(ctx context.Context, reference string) lookup {
	if r.events != nil {
		_, err := r.events.Get(ctx, core.EventKey{Reference: reference, EventType: core.EventTypeChargeSuccess})
		switch {
		case err == nil:
			return lookup{outcome: core.ProviderOutcomeVerified, source: sourceEventStore}
		case errors.Is(err, core.ErrPaymentEventNotFound) || core.IsNotFound(err):
		default:
			r.observer.Warn(ctx, "stored event lookup failed", map[string]any{
				"reconciler": NamePendingPayment,
				"reference":  reference,
				"error":      err.Error(),
			})
		}
	}

	callCtx := ctx
	if r.providerTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.providerTimeout)
		defer cancel()
	}
	status, err := r.provider.VerifyTransaction(callCtx, reference)
	if err != nil {
		if !core.IsProviderQueryFailure(err) {
			err = core.ProviderQueryFailure(err, "provider status query failed", map[string]any{"reference": reference})
		}
		return lookup{outcome: core.ProviderOutcomeInconclusive, source: sourceProvider, err: err}
	}
	return lookup{outcome: status.Outcome, source: sourceProvider}
}
