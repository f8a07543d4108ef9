package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrPaymentEventNotFound = errors.New("core: payment event not found")
	ErrReconcilerNotFound   = errors.New("core: reconciler not registered")
)

const (
	EventTypeChargeSuccess = "charge.success"
	EventTypeChargeFailed  = "charge.failed"
)

// EventKey is the natural idempotency key of a payment event.
type EventKey struct {
	Reference string
	EventType string
}

func (k EventKey) Normalize() EventKey {
	return EventKey{
		Reference: strings.TrimSpace(k.Reference),
		EventType: strings.TrimSpace(k.EventType),
	}
}

func (k EventKey) Validate() error {
	normalized := k.Normalize()
	if normalized.Reference == "" {
		return fmt.Errorf("core: event reference is required")
	}
	if normalized.EventType == "" {
		return fmt.Errorf("core: event type is required")
	}
	return nil
}

func (k EventKey) String() string {
	normalized := k.Normalize()
	return normalized.Reference + "::" + normalized.EventType
}

// PaymentEvent is one provider notification. Payload holds the raw verified
// body exactly as received.
type PaymentEvent struct {
	ID         string
	Reference  string
	EventType  string
	Payload    []byte
	ReceivedAt time.Time
	// DeliveryCount is how many times the provider delivered this key.
	DeliveryCount int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (e PaymentEvent) Key() EventKey {
	return EventKey{Reference: e.Reference, EventType: e.EventType}.Normalize()
}

type UpsertResult struct {
	Event   PaymentEvent
	Created bool
}

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusFulfilled OrderStatus = "fulfilled"
)

type Order struct {
	ID          string
	Status      OrderStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CancelledAt *time.Time
}

// IsStale reports whether a pending order is older than threshold at now.
func (o Order) IsStale(now time.Time, threshold time.Duration) bool {
	if o.Status != OrderStatusPending {
		return false
	}
	return o.CreatedAt.Before(now.Add(-threshold))
}

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusVerified PaymentStatus = "verified"
	PaymentStatusFailed   PaymentStatus = "failed"
)

func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusVerified || s == PaymentStatusFailed
}

type PendingPayment struct {
	ID         string
	Reference  string
	OrderID    string
	Status     PaymentStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ResolvedAt *time.Time
}

type Product struct {
	ID              string
	VendorID        string
	Name            string
	ScheduledLiveAt *time.Time
	ScheduledEndAt  *time.Time
	IsLive          bool
	UpdatedAt       time.Time
}

// ShouldBeLive is true iff now falls within [ScheduledLiveAt, ScheduledEndAt).
// A missing end is open-ended; a missing start is never live.
func (p Product) ShouldBeLive(now time.Time) bool {
	if p.ScheduledLiveAt == nil {
		return false
	}
	if now.Before(*p.ScheduledLiveAt) {
		return false
	}
	if p.ScheduledEndAt != nil && !now.Before(*p.ScheduledEndAt) {
		return false
	}
	return true
}

func (p Product) Drifted(now time.Time) bool {
	return p.ShouldBeLive(now) != p.IsLive
}

// ProviderOutcome classifies a provider status lookup.
type ProviderOutcome string

const (
	ProviderOutcomeVerified     ProviderOutcome = "verified"
	ProviderOutcomeFailed       ProviderOutcome = "failed"
	ProviderOutcomeInconclusive ProviderOutcome = "inconclusive"
)

func (o ProviderOutcome) Definitive() bool {
	return o == ProviderOutcomeVerified || o == ProviderOutcomeFailed
}

func (o ProviderOutcome) PaymentStatus() (PaymentStatus, bool) {
	switch o {
	case ProviderOutcomeVerified:
		return PaymentStatusVerified, true
	case ProviderOutcomeFailed:
		return PaymentStatusFailed, true
	default:
		return "", false
	}
}

type PaymentStatusResult struct {
	Reference      string
	Outcome        ProviderOutcome
	ProviderStatus string
	Metadata       map[string]any
}

// RecordError captures one record that failed during a reconciler run.
type RecordError struct {
	RecordID string
	Err      error
}

func (e RecordError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("record %s failed", e.RecordID)
	}
	return fmt.Sprintf("record %s: %v", e.RecordID, e.Err)
}

func (e RecordError) Unwrap() error {
	return e.Err
}

type ReconcileResult struct {
	Reconciler   string
	ScannedCount int
	UpdatedCount int
	Errors       []RecordError
}

func (r *ReconcileResult) AddError(recordID string, err error) {
	if r == nil || err == nil {
		return
	}
	r.Errors = append(r.Errors, RecordError{RecordID: recordID, Err: err})
}

func (r ReconcileResult) HasErrors() bool {
	return len(r.Errors) > 0
}
