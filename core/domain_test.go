package core

import (
	"errors"
	"testing"
	"time"
)

func TestProduct_ShouldBeLiveWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	cases := []struct {
		name    string
		product Product
		want    bool
	}{
		{name: "no start", product: Product{}, want: false},
		{name: "starts in future", product: Product{ScheduledLiveAt: &future}, want: false},
		{name: "open ended", product: Product{ScheduledLiveAt: &past}, want: true},
		{name: "inside window", product: Product{ScheduledLiveAt: &past, ScheduledEndAt: &future}, want: true},
		{name: "ended", product: Product{ScheduledLiveAt: &past, ScheduledEndAt: &past}, want: false},
		{name: "starts exactly now", product: Product{ScheduledLiveAt: &now}, want: true},
		{name: "ends exactly now", product: Product{ScheduledLiveAt: &past, ScheduledEndAt: &now}, want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.product.ShouldBeLive(now); got != tc.want {
				t.Fatalf("expected should-be-live=%v, got %v", tc.want, got)
			}
		})
	}
}

func TestOrder_IsStaleRespectsThresholdAndStatus(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	threshold := 30 * time.Minute

	old := Order{Status: OrderStatusPending, CreatedAt: now.Add(-threshold - time.Second)}
	if !old.IsStale(now, threshold) {
		t.Fatalf("expected order older than threshold to be stale")
	}
	fresh := Order{Status: OrderStatusPending, CreatedAt: now.Add(-threshold + time.Second)}
	if fresh.IsStale(now, threshold) {
		t.Fatalf("expected order younger than threshold not to be stale")
	}
	paid := Order{Status: OrderStatusPaid, CreatedAt: now.Add(-24 * time.Hour)}
	if paid.IsStale(now, threshold) {
		t.Fatalf("expected paid order never to be stale")
	}
}

func TestProviderOutcome_PaymentStatus(t *testing.T) {
	if status, ok := ProviderOutcomeVerified.PaymentStatus(); !ok || status != PaymentStatusVerified {
		t.Fatalf("expected verified mapping, got %q %v", status, ok)
	}
	if status, ok := ProviderOutcomeFailed.PaymentStatus(); !ok || status != PaymentStatusFailed {
		t.Fatalf("expected failed mapping, got %q %v", status, ok)
	}
	if _, ok := ProviderOutcomeInconclusive.PaymentStatus(); ok {
		t.Fatalf("expected inconclusive outcome to have no terminal status")
	}
}

func TestEventKey_ValidateAndNormalize(t *testing.T) {
	key := EventKey{Reference: "  TX1 ", EventType: " charge.success"}
	if err := key.Validate(); err != nil {
		t.Fatalf("validate key: %v", err)
	}
	if key.Normalize().Reference != "TX1" {
		t.Fatalf("expected reference to be trimmed")
	}
	if err := (EventKey{Reference: "TX1"}).Validate(); err == nil {
		t.Fatalf("expected missing event type to fail validation")
	}
}

func TestReconcileResult_AddErrorWrapsCause(t *testing.T) {
	cause := errors.New("boom")
	result := ReconcileResult{}
	result.AddError("ord_1", cause)
	result.AddError("ord_2", nil)
	if len(result.Errors) != 1 {
		t.Fatalf("expected one captured error, got %d", len(result.Errors))
	}
	if !errors.Is(result.Errors[0], cause) {
		t.Fatalf("expected record error to unwrap to cause")
	}
}
