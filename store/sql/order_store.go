package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-reconciler/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

type OrderStore struct {
	db   *bun.DB
	repo repository.Repository[*orderRecord]
}

func NewOrderStore(db *bun.DB) (*OrderStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*orderRecord](db, orderHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid order repository wiring: %w", err)
		}
	}
	return &OrderStore{
		db:   db,
		repo: repo,
	}, nil
}

// Create inserts an order. It exists for seeding and tests; checkout owns
// order creation in production.
func (s *OrderStore) Create(ctx context.Context, order core.Order) (core.Order, error) {
	if s == nil || s.repo == nil {
		return core.Order{}, fmt.Errorf("sqlstore: order store is not configured")
	}
	id, err := recordID(order.ID)
	if err != nil {
		return core.Order{}, err
	}
	now := time.Now().UTC()
	record := &orderRecord{
		ID:          id,
		Status:      string(order.Status),
		CreatedAt:   order.CreatedAt.UTC(),
		UpdatedAt:   now,
		CancelledAt: copyTimePointer(order.CancelledAt),
	}
	if record.Status == "" {
		record.Status = string(core.OrderStatusPending)
	}
	if order.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	created, err := s.repo.Create(ctx, record)
	if err != nil {
		return core.Order{}, err
	}
	return created.toDomain(), nil
}

func (s *OrderStore) Get(ctx context.Context, id string) (core.Order, error) {
	if s == nil || s.repo == nil {
		return core.Order{}, fmt.Errorf("sqlstore: order store is not configured")
	}
	record, err := s.repo.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return core.Order{}, err
	}
	return record.toDomain(), nil
}

// ListStalePending returns pending orders created strictly before
// createdBefore. Orders never checked come first, oldest first.
func (s *OrderStore) ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]core.Order, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: order store is not configured")
	}
	if limit <= 0 {
		limit = core.DefaultBatchSize
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("status", "=", string(core.OrderStatusPending)),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where("?TableAlias.created_at < ?", createdBefore.UTC()).
				OrderExpr(leastRecentlyCheckedOrder, bun.Ident("created_at"))
		}),
		repository.SelectPaginate(limit, 0),
	)
	if err != nil {
		return nil, err
	}
	orders := make([]core.Order, 0, len(records))
	for _, record := range records {
		orders = append(orders, record.toDomain())
	}
	return orders, nil
}

// TransitionStatus moves an order from one status to another only if it is
// still in the expected status. It reports false when another writer got there
// first.
func (s *OrderStore) TransitionStatus(
	ctx context.Context,
	id string,
	from core.OrderStatus,
	to core.OrderStatus,
	at time.Time,
) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: order store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return false, fmt.Errorf("sqlstore: order id is required")
	}
	at = at.UTC()
	query := s.db.NewUpdate().
		Model((*orderRecord)(nil)).
		Set("status = ?", string(to)).
		Set("updated_at = ?", at).
		Where("id = ?", id).
		Where("status = ?", string(from))
	if to == core.OrderStatusCancelled {
		query = query.Set("cancelled_at = ?", at)
	}
	result, err := query.Exec(ctx)
	if err != nil {
		return false, err
	}
	return rowsChanged(result)
}

// MarkChecked stamps last_checked_at on an order that is still pending.
func (s *OrderStore) MarkChecked(ctx context.Context, id string, at time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: order store is not configured")
	}
	_, err := s.db.NewUpdate().
		Model((*orderRecord)(nil)).
		Set("last_checked_at = ?", at.UTC()).
		Where("id = ?", strings.TrimSpace(id)).
		Where("status = ?", string(core.OrderStatusPending)).
		Exec(ctx)
	return err
}

func (r *orderRecord) toDomain() core.Order {
	if r == nil {
		return core.Order{}
	}
	return core.Order{
		ID:          r.ID,
		Status:      core.OrderStatus(r.Status),
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
		CancelledAt: copyTimePointer(r.CancelledAt),
	}
}
