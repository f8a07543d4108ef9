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

type PaymentStore struct {
	db   *bun.DB
	repo repository.Repository[*paymentRecord]
}

func NewPaymentStore(db *bun.DB) (*PaymentStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*paymentRecord](db, paymentHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid payment repository wiring: %w", err)
		}
	}
	return &PaymentStore{
		db:   db,
		repo: repo,
	}, nil
}

func (s *PaymentStore) Create(ctx context.Context, payment core.PendingPayment) (core.PendingPayment, error) {
	if s == nil || s.repo == nil {
		return core.PendingPayment{}, fmt.Errorf("sqlstore: payment store is not configured")
	}
	payment.Reference = strings.TrimSpace(payment.Reference)
	payment.OrderID = strings.TrimSpace(payment.OrderID)
	if payment.Reference == "" || payment.OrderID == "" {
		return core.PendingPayment{}, fmt.Errorf("sqlstore: payment reference and order id are required")
	}
	id, err := recordID(payment.ID)
	if err != nil {
		return core.PendingPayment{}, err
	}
	now := time.Now().UTC()
	record := &paymentRecord{
		ID:         id,
		Reference:  payment.Reference,
		OrderID:    payment.OrderID,
		Status:     string(payment.Status),
		CreatedAt:  payment.CreatedAt.UTC(),
		UpdatedAt:  now,
		ResolvedAt: copyTimePointer(payment.ResolvedAt),
	}
	if record.Status == "" {
		record.Status = string(core.PaymentStatusPending)
	}
	if payment.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	created, err := s.repo.Create(ctx, record)
	if err != nil {
		return core.PendingPayment{}, err
	}
	return created.toDomain(), nil
}

func (s *PaymentStore) Get(ctx context.Context, id string) (core.PendingPayment, error) {
	if s == nil || s.repo == nil {
		return core.PendingPayment{}, fmt.Errorf("sqlstore: payment store is not configured")
	}
	record, err := s.repo.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return core.PendingPayment{}, err
	}
	return record.toDomain(), nil
}

// ListPending returns payments still awaiting a definitive outcome. Payments
// never checked come first, oldest first; the rest follow by last check.
func (s *PaymentStore) ListPending(ctx context.Context, limit int) ([]core.PendingPayment, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: payment store is not configured")
	}
	if limit <= 0 {
		limit = core.DefaultBatchSize
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("status", "=", string(core.PaymentStatusPending)),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.OrderExpr(leastRecentlyCheckedOrder, bun.Ident("created_at"))
		}),
		repository.SelectPaginate(limit, 0),
	)
	if err != nil {
		return nil, err
	}
	payments := make([]core.PendingPayment, 0, len(records))
	for _, record := range records {
		payments = append(payments, record.toDomain())
	}
	return payments, nil
}

// Resolve moves a pending payment to a terminal status. It never touches a
// payment that has already left pending.
func (s *PaymentStore) Resolve(ctx context.Context, id string, status core.PaymentStatus, at time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: payment store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return false, fmt.Errorf("sqlstore: payment id is required")
	}
	if !status.Terminal() {
		return false, fmt.Errorf("sqlstore: payment status %q is not terminal", status)
	}
	at = at.UTC()
	result, err := s.db.NewUpdate().
		Model((*paymentRecord)(nil)).
		Set("status = ?", string(status)).
		Set("resolved_at = ?", at).
		Set("updated_at = ?", at).
		Where("id = ?", id).
		Where("status = ?", string(core.PaymentStatusPending)).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	return rowsChanged(result)
}

// MarkChecked stamps last_checked_at on a payment that is still pending.
func (s *PaymentStore) MarkChecked(ctx context.Context, id string, at time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: payment store is not configured")
	}
	_, err := s.db.NewUpdate().
		Model((*paymentRecord)(nil)).
		Set("last_checked_at = ?", at.UTC()).
		Where("id = ?", strings.TrimSpace(id)).
		Where("status = ?", string(core.PaymentStatusPending)).
		Exec(ctx)
	return err
}

func (r *paymentRecord) toDomain() core.PendingPayment {
	if r == nil {
		return core.PendingPayment{}
	}
	return core.PendingPayment{
		ID:         r.ID,
		Reference:  r.Reference,
		OrderID:    r.OrderID,
		Status:     core.PaymentStatus(r.Status),
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
		ResolvedAt: copyTimePointer(r.ResolvedAt),
	}
}
