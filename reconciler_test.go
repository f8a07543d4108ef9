package reconciler_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	gocmd "github.com/goliatone/go-command"
	reconciler "github.com/goliatone/go-reconciler"
	"github.com/goliatone/go-reconciler/adapters/gocommand"
	"github.com/goliatone/go-reconciler/command"
	"github.com/goliatone/go-reconciler/core"
	"github.com/goliatone/go-reconciler/internal/testsupport"
	"github.com/goliatone/go-reconciler/queue"
	"github.com/goliatone/go-reconciler/reconcile"
	"github.com/goliatone/go-reconciler/scheduler"
	"github.com/goliatone/go-reconciler/webhooks"
	"github.com/google/uuid"
)

const testSecret = "sk_test_secret"

type countingProvider struct {
	mu    sync.Mutex
	calls int
}

func (p *countingProvider) VerifyTransaction(_ context.Context, reference string) (core.PaymentStatusResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return core.PaymentStatusResult{Reference: reference, Outcome: core.ProviderOutcomeInconclusive}, nil
}

func testConfig() reconciler.Config {
	cfg := reconciler.DefaultConfig()
	cfg.Webhook.Secret = testSecret
	cfg.Provider.SecretKey = "sk_provider"
	return cfg
}

func newApp(t *testing.T, opts ...reconciler.Option) *reconciler.App {
	t.Helper()
	opts = append([]reconciler.Option{
		reconciler.WithPersistenceClient(testsupport.NewSQLiteClient(t)),
	}, opts...)
	app, err := reconciler.Setup(context.Background(), testConfig(), opts...)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	t.Cleanup(func() { _ = app.Close() })
	return app
}

func TestSetup_RequiresWebhookSecret(t *testing.T) {
	cfg := testConfig()
	cfg.Webhook.Secret = ""
	if _, err := reconciler.Setup(context.Background(), cfg, reconciler.WithPersistenceClient(testsupport.NewSQLiteClient(t))); err == nil {
		t.Fatalf("expected missing webhook secret to fail setup")
	}
}

func TestSetup_RegistersAllReconcilers(t *testing.T) {
	app := newApp(t, reconciler.WithProvider(&countingProvider{}))
	names := app.Scheduler.Names()
	expected := []string{reconcile.NameOrderCleanup, reconcile.NamePendingPayment, reconcile.NameProductVisibility}
	if len(names) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, names)
	}
	for i := range expected {
		if names[i] != expected[i] {
			t.Fatalf("expected %v, got %v", expected, names)
		}
	}
	if app.Bus.Len() != 5 {
		t.Fatalf("expected 5 bus subscriptions, got %d", app.Bus.Len())
	}
}

func TestApp_StoredWebhookResolvesPendingPayment(t *testing.T) {
	provider := &countingProvider{}
	app := newApp(t, reconciler.WithProvider(provider))
	ctx := context.Background()

	order, err := app.Stores.OrderStore().Create(ctx, core.Order{ID: uuid.NewString(), Status: core.OrderStatusPending})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	payment, err := app.Stores.PaymentStore().Create(ctx, core.PendingPayment{
		ID:        uuid.NewString(),
		OrderID:   order.ID,
		Reference: "TX1",
		Status:    core.PaymentStatusPending,
	})
	if err != nil {
		t.Fatalf("create payment: %v", err)
	}

	body := []byte(`{"event":"charge.success","data":{"reference":"TX1"}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/paystack", bytes.NewReader(body))
	req.Header.Set(core.DefaultSignatureHeader, webhooks.Sign(body, testSecret, webhooks.AlgorithmSHA512))
	rec := httptest.NewRecorder()
	app.HTTPServer().Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected webhook ack, got %d: %s", rec.Code, rec.Body.String())
	}

	collector := gocmd.NewResult[scheduler.RunReport]()
	dispatchCtx := gocmd.ContextWithResult(ctx, collector)
	if err := gocommand.Dispatch(dispatchCtx, command.RunReconcilerMessage{Name: reconcile.NamePendingPayment}); err != nil {
		t.Fatalf("dispatch run: %v", err)
	}
	report, ok := collector.Load()
	if !ok {
		t.Fatalf("expected run report")
	}
	if report.Status != scheduler.StatusSucceeded || report.Result.UpdatedCount != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if provider.calls != 0 {
		t.Fatalf("expected stored success event to avoid provider calls, got %d", provider.calls)
	}
	got, err := app.Stores.PaymentStore().Get(ctx, payment.ID)
	if err != nil {
		t.Fatalf("get payment: %v", err)
	}
	if got.Status != core.PaymentStatusVerified {
		t.Fatalf("expected verified payment, got %s", got.Status)
	}
}

func TestApp_ProductDeactivationReachesWorker(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	delivered := make(chan queue.ProductDeactivatePayload, 1)
	app := newApp(t,
		reconciler.WithProvider(&countingProvider{}),
		reconciler.WithClock(func() time.Time { return now }),
		reconciler.WithJobHandler(queue.QueueProductDeactivate, queue.TypedHandler(func(_ context.Context, payload queue.ProductDeactivatePayload) error {
			delivered <- payload
			return nil
		})),
	)
	ctx := context.Background()

	liveAt := now.Add(-48 * time.Hour)
	endAt := now.Add(-time.Hour)
	product, err := app.Stores.ProductStore().Create(ctx, core.Product{
		ID:              uuid.NewString(),
		VendorID:        "vendor_1",
		Name:            "Seasonal box",
		ScheduledLiveAt: &liveAt,
		ScheduledEndAt:  &endAt,
		IsLive:          true,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	report, err := app.Scheduler.Trigger(ctx, reconcile.NameProductVisibility)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if report.Result.UpdatedCount != 1 {
		t.Fatalf("expected one flip, got %+v", report)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- app.Worker.Run(runCtx) }()
	select {
	case payload := <-delivered:
		if payload.ProductID != product.ID || payload.Reason != reconcile.ReasonScheduleEnded {
			t.Fatalf("unexpected payload %+v", payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("expected handler to receive the deactivation payload")
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run worker: %v", err)
	}
}

func TestApp_StartStop(t *testing.T) {
	app := newApp(t, reconciler.WithProvider(&countingProvider{}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := app.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := app.Start(ctx); err == nil {
		t.Fatalf("expected second start to fail")
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
