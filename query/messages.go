package query

import (
	"strings"

	"github.com/goliatone/go-reconciler/core"
)

const (
	TypeGetPaymentEvent = "reconciler.query.payment_event.get"
	TypeListReconcilers = "reconciler.query.reconciler.list"
)

type GetPaymentEventMessage struct {
	Reference string
	EventType string
}

func (GetPaymentEventMessage) Type() string { return TypeGetPaymentEvent }

func (m GetPaymentEventMessage) Validate() error {
	if strings.TrimSpace(m.Reference) == "" {
		return queryValidationError("reference", "reference is required")
	}
	if strings.TrimSpace(m.EventType) == "" {
		return queryValidationError("event_type", "event type is required")
	}
	return nil
}

func (m GetPaymentEventMessage) Key() core.EventKey {
	return core.EventKey{Reference: m.Reference, EventType: m.EventType}.Normalize()
}

type ListReconcilersMessage struct{}

func (ListReconcilersMessage) Type() string { return TypeListReconcilers }

// ReconcilerState is the registration and in-flight state of one reconciler.
type ReconcilerState struct {
	Name    string `json:"name"`
	Running bool   `json:"running"`
}
