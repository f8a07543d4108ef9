package reconcile

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/goliatone/go-reconciler/core"
	"github.com/goliatone/go-reconciler/queue"
)

type memoryOrders struct {
	mu      sync.Mutex
	orders  map[string]core.Order
	listErr error
	failIDs map[string]bool
	checked map[string]time.Time
}

func newMemoryOrders(orders ...core.Order) *memoryOrders {
	m := &memoryOrders{orders: map[string]core.Order{}, failIDs: map[string]bool{}, checked: map[string]time.Time{}}
	for _, order := range orders {
		m.orders[order.ID] = order
	}
	return m
}

func (m *memoryOrders) ListStalePending(_ context.Context, createdBefore time.Time, limit int) ([]core.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := []core.Order{}
	for _, order := range m.orders {
		if order.Status == core.OrderStatusPending && order.CreatedAt.Before(createdBefore) {
			out = append(out, order)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memoryOrders) TransitionStatus(_ context.Context, id string, from core.OrderStatus, to core.OrderStatus, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failIDs[id] {
		return false, errors.New("row locked")
	}
	order, ok := m.orders[id]
	if !ok || order.Status != from {
		return false, nil
	}
	order.Status = to
	order.UpdatedAt = at
	m.orders[id] = order
	return true, nil
}

func (m *memoryOrders) MarkChecked(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checked[id] = at
	return nil
}

func (m *memoryOrders) status(id string) core.OrderStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders[id].Status
}

type memoryPayments struct {
	mu       sync.Mutex
	payments []core.PendingPayment
	checked  map[string]time.Time
}

// ListPending keeps slice order for payments never checked and puts checked
// ones after them by check time.
func (m *memoryPayments) ListPending(_ context.Context, limit int) ([]core.PendingPayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pending := []core.PendingPayment{}
	for _, payment := range m.payments {
		if payment.Status == core.PaymentStatusPending {
			pending = append(pending, payment)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		ci, iChecked := m.checked[pending[i].ID]
		cj, jChecked := m.checked[pending[j].ID]
		if iChecked != jChecked {
			return !iChecked
		}
		return ci.Before(cj)
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (m *memoryPayments) MarkChecked(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.checked == nil {
		m.checked = map[string]time.Time{}
	}
	m.checked[id] = at
	return nil
}

func (m *memoryPayments) Resolve(_ context.Context, id string, status core.PaymentStatus, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.payments {
		if m.payments[i].ID != id {
			continue
		}
		if m.payments[i].Status != core.PaymentStatusPending {
			return false, nil
		}
		m.payments[i].Status = status
		m.payments[i].ResolvedAt = &at
		return true, nil
	}
	return false, nil
}

func (m *memoryPayments) status(id string) core.PaymentStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, payment := range m.payments {
		if payment.ID == id {
			return payment.Status
		}
	}
	return ""
}

type stubProvider struct {
	mu       sync.Mutex
	outcomes map[string]core.ProviderOutcome
	errs     map[string]error
	calls    map[string]int
}

func newStubProvider() *stubProvider {
	return &stubProvider{
		outcomes: map[string]core.ProviderOutcome{},
		errs:     map[string]error{},
		calls:    map[string]int{},
	}
}

func (p *stubProvider) VerifyTransaction(_ context.Context, reference string) (core.PaymentStatusResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[reference]++
	if err := p.errs[reference]; err != nil {
		return core.PaymentStatusResult{}, err
	}
	outcome, ok := p.outcomes[reference]
	if !ok {
		outcome = core.ProviderOutcomeInconclusive
	}
	return core.PaymentStatusResult{Reference: reference, Outcome: outcome}, nil
}

type memoryEvents struct {
	events map[core.EventKey]core.PaymentEvent
	getErr error
}

func (m *memoryEvents) Upsert(_ context.Context, event core.PaymentEvent) (core.UpsertResult, error) {
	if m.events == nil {
		m.events = map[core.EventKey]core.PaymentEvent{}
	}
	_, exists := m.events[event.Key()]
	m.events[event.Key()] = event
	return core.UpsertResult{Event: event, Created: !exists}, nil
}

func (m *memoryEvents) Get(_ context.Context, key core.EventKey) (core.PaymentEvent, error) {
	if m.getErr != nil {
		return core.PaymentEvent{}, m.getErr
	}
	event, ok := m.events[key.Normalize()]
	if !ok {
		return core.PaymentEvent{}, core.ErrPaymentEventNotFound
	}
	return event, nil
}

type memoryProducts struct {
	mu       sync.Mutex
	products map[string]core.Product
	checked  map[string]time.Time
}

func newMemoryProducts(products ...core.Product) *memoryProducts {
	m := &memoryProducts{products: map[string]core.Product{}, checked: map[string]time.Time{}}
	for _, product := range products {
		m.products[product.ID] = product
	}
	return m
}

func (m *memoryProducts) ListDrifted(_ context.Context, now time.Time, limit int) ([]core.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []core.Product{}
	for _, product := range m.products {
		if product.Drifted(now) {
			out = append(out, product)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memoryProducts) SetLive(_ context.Context, id string, from bool, to bool, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	product, ok := m.products[id]
	if !ok || product.IsLive != from {
		return false, nil
	}
	product.IsLive = to
	product.UpdatedAt = at
	m.products[id] = product
	return true, nil
}

func (m *memoryProducts) MarkChecked(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checked[id] = at
	return nil
}

func (m *memoryProducts) get(id string) core.Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[id]
}

type recordingSubmitter struct {
	payloads []queue.Payload
	err      error
}

func (s *recordingSubmitter) Submit(_ context.Context, payload queue.Payload, _ ...queue.EnqueueOption) (queue.JobHandle, error) {
	if s.err != nil {
		return queue.JobHandle{}, s.err
	}
	s.payloads = append(s.payloads, payload)
	return queue.JobHandle{ID: "handle", Queue: payload.Kind()}, nil
}
