package query

import (
	"context"
	"errors"

	"github.com/goliatone/go-reconciler/core"
)

type PaymentEventReader interface {
	Get(ctx context.Context, key core.EventKey) (core.PaymentEvent, error)
}

type ReconcilerLister interface {
	Names() []string
	Running(name string) bool
}

type GetPaymentEventQuery struct {
	reader PaymentEventReader
}

func NewGetPaymentEventQuery(reader PaymentEventReader) *GetPaymentEventQuery {
	return &GetPaymentEventQuery{reader: reader}
}

func (q *GetPaymentEventQuery) Query(ctx context.Context, msg GetPaymentEventMessage) (core.PaymentEvent, error) {
	if q == nil || q.reader == nil {
		return core.PaymentEvent{}, queryDependencyError("query: payment event reader is required")
	}
	key := msg.Key()
	event, err := q.reader.Get(ctx, key)
	if err != nil {
		if errors.Is(err, core.ErrPaymentEventNotFound) {
			return core.PaymentEvent{}, core.NotFound(err, "payment event not found", map[string]any{
				"reference":  key.Reference,
				"event_type": key.EventType,
			})
		}
		return core.PaymentEvent{}, err
	}
	return event, nil
}

type ListReconcilersQuery struct {
	lister ReconcilerLister
}

func NewListReconcilersQuery(lister ReconcilerLister) *ListReconcilersQuery {
	return &ListReconcilersQuery{lister: lister}
}

func (q *ListReconcilersQuery) Query(_ context.Context, _ ListReconcilersMessage) ([]ReconcilerState, error) {
	if q == nil || q.lister == nil {
		return nil, queryDependencyError("query: reconciler lister is required")
	}
	names := q.lister.Names()
	out := make([]ReconcilerState, 0, len(names))
	for _, name := range names {
		out = append(out, ReconcilerState{Name: name, Running: q.lister.Running(name)})
	}
	return out, nil
}
