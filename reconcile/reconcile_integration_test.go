package reconcile_test

import (
	"context"
	"testing"
	"time"

	queueadapter "github.com/goliatone/go-job/queue/adapters/postgres"
	"github.com/goliatone/go-reconciler/adapters/gojob"
	"github.com/goliatone/go-reconciler/core"
	"github.com/goliatone/go-reconciler/internal/testsupport"
	"github.com/goliatone/go-reconciler/queue"
	"github.com/goliatone/go-reconciler/reconcile"
	"github.com/google/uuid"
)

type fixedProvider struct {
	outcome core.ProviderOutcome
	calls   int
}

func (p *fixedProvider) VerifyTransaction(_ context.Context, reference string) (core.PaymentStatusResult, error) {
	p.calls++
	return core.PaymentStatusResult{Reference: reference, Outcome: p.outcome}, nil
}

func TestOrderCleanupAgainstSQLStore(t *testing.T) {
	ctx := context.Background()
	factory := testsupport.NewFactory(t)
	orders := factory.OrderStore()
	now := time.Now().UTC().Truncate(time.Second)
	threshold := 10 * time.Minute

	stale, err := orders.Create(ctx, core.Order{ID: uuid.NewString(), Status: core.OrderStatusPending, CreatedAt: now.Add(-threshold - time.Second)})
	if err != nil {
		t.Fatalf("create stale order: %v", err)
	}
	fresh, err := orders.Create(ctx, core.Order{ID: uuid.NewString(), Status: core.OrderStatusPending, CreatedAt: now.Add(-threshold + time.Second)})
	if err != nil {
		t.Fatalf("create fresh order: %v", err)
	}

	r := reconcile.NewOrderCleanup(orders, threshold, reconcile.WithClock(func() time.Time { return now }))
	result, err := r.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.UpdatedCount != 1 {
		t.Fatalf("expected one cancellation, got %+v", result)
	}
	got, _ := orders.Get(ctx, stale.ID)
	if got.Status != core.OrderStatusCancelled || got.CancelledAt == nil {
		t.Fatalf("expected stale order cancelled with timestamp, got %+v", got)
	}
	got, _ = orders.Get(ctx, fresh.ID)
	if got.Status != core.OrderStatusPending {
		t.Fatalf("expected fresh order pending, got %s", got.Status)
	}

	again, err := r.Run(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if again.UpdatedCount != 0 {
		t.Fatalf("expected idempotent second run, got %+v", again)
	}
}

func TestPendingPaymentAgainstSQLStore(t *testing.T) {
	ctx := context.Background()
	factory := testsupport.NewFactory(t)
	payments := factory.PaymentStore()
	events := factory.EventStore()
	order := seedOrder(t, factory.OrderStore())

	withEvent, err := payments.Create(ctx, core.PendingPayment{ID: uuid.NewString(), OrderID: order.ID, Reference: "TX-EVENT", Status: core.PaymentStatusPending})
	if err != nil {
		t.Fatalf("create payment: %v", err)
	}
	viaProvider, err := payments.Create(ctx, core.PendingPayment{ID: uuid.NewString(), OrderID: order.ID, Reference: "TX-PROVIDER", Status: core.PaymentStatusPending})
	if err != nil {
		t.Fatalf("create payment: %v", err)
	}
	if _, err := events.Upsert(ctx, core.PaymentEvent{
		Reference:  "TX-EVENT",
		EventType:  core.EventTypeChargeSuccess,
		Payload:    []byte(`{"event":"charge.success","data":{"reference":"TX-EVENT"}}`),
		ReceivedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("upsert event: %v", err)
	}

	provider := &fixedProvider{outcome: core.ProviderOutcomeFailed}
	r := reconcile.NewPendingPayment(payments, events, provider, time.Second)
	result, err := r.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.UpdatedCount != 2 || provider.calls != 1 {
		t.Fatalf("expected two resolutions and one provider call, got result=%+v calls=%d", result, provider.calls)
	}
	got, _ := payments.Get(ctx, withEvent.ID)
	if got.Status != core.PaymentStatusVerified {
		t.Fatalf("expected stored success to verify, got %s", got.Status)
	}
	got, _ = payments.Get(ctx, viaProvider.ID)
	if got.Status != core.PaymentStatusFailed {
		t.Fatalf("expected provider failure to fail payment, got %s", got.Status)
	}
}

type referenceProvider struct {
	outcomes map[string]core.ProviderOutcome
	calls    map[string]int
}

func (p *referenceProvider) VerifyTransaction(_ context.Context, reference string) (core.PaymentStatusResult, error) {
	p.calls[reference]++
	outcome, ok := p.outcomes[reference]
	if !ok {
		outcome = core.ProviderOutcomeInconclusive
	}
	return core.PaymentStatusResult{Reference: reference, Outcome: outcome}, nil
}

func seedOrder(t *testing.T, orders core.OrderStore) core.Order {
	t.Helper()
	order, err := orders.Create(context.Background(), core.Order{ID: uuid.NewString(), Status: core.OrderStatusPending})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order
}

func TestPendingPaymentRotatesPastInconclusiveReferences(t *testing.T) {
	ctx := context.Background()
	factory := testsupport.NewFactory(t)
	payments := factory.PaymentStore()
	order := seedOrder(t, factory.OrderStore())
	now := time.Now().UTC().Truncate(time.Second)

	seed := []struct {
		reference string
		createdAt time.Time
	}{
		{"TX-OLD-1", now.Add(-3 * time.Hour)},
		{"TX-OLD-2", now.Add(-2 * time.Hour)},
		{"TX-NEW", now.Add(-time.Hour)},
	}
	for _, item := range seed {
		if _, err := payments.Create(ctx, core.PendingPayment{
			ID:        uuid.NewString(),
			OrderID:   order.ID,
			Reference: item.reference,
			Status:    core.PaymentStatusPending,
			CreatedAt: item.createdAt,
		}); err != nil {
			t.Fatalf("create payment %s: %v", item.reference, err)
		}
	}

	provider := &referenceProvider{outcomes: map[string]core.ProviderOutcome{}, calls: map[string]int{}}
	tick := now
	r := reconcile.NewPendingPayment(payments, nil, provider, 0,
		reconcile.WithBatchSize(2),
		reconcile.WithClock(func() time.Time { return tick }),
	)
	for i := 0; i < 2; i++ {
		if _, err := r.Run(ctx); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		tick = tick.Add(time.Minute)
	}
	if provider.calls["TX-NEW"] == 0 {
		t.Fatalf("expected newer payment to be queried within two runs, got %v", provider.calls)
	}
}

func TestProductVisibilityEnqueuesOneDeactivationJob(t *testing.T) {
	ctx := context.Background()
	factory := testsupport.NewFactory(t)
	products := factory.ProductStore()
	jobs := factory.JobQueueStore()
	client := queue.NewClient(gojob.NewEnqueuerAdapter(queueadapter.NewAdapter(jobs)), nil)

	now := time.Now().UTC().Truncate(time.Second)
	liveAt := now.Add(-2 * time.Hour)
	endAt := now.Add(-time.Minute)
	product, err := products.Create(ctx, core.Product{
		ID:              uuid.NewString(),
		VendorID:        "vendor_1",
		Name:            "Lamp",
		ScheduledLiveAt: &liveAt,
		ScheduledEndAt:  &endAt,
		IsLive:          true,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	r := reconcile.NewProductVisibility(products, client, reconcile.WithClock(func() time.Time { return now }))
	for i := 0; i < 3; i++ {
		if _, err := r.Run(ctx); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}

	got, _ := products.Get(ctx, product.ID)
	if got.IsLive {
		t.Fatalf("expected product offline")
	}
	pending, err := jobs.Pending(ctx, queue.QueueProductDeactivate, 10)
	if err != nil {
		t.Fatalf("pending jobs: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected exactly one deactivation job, got %d", len(pending))
	}
	if pending[0].Parameters["product_id"] != product.ID || pending[0].Parameters["reason"] != reconcile.ReasonScheduleEnded {
		t.Fatalf("unexpected job parameters %#v", pending[0].Parameters)
	}
}
