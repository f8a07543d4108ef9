package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goliatone/go-reconciler/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type PaymentEventStore struct {
	db   *bun.DB
	repo repository.Repository[*paymentEventRecord]
}

func NewPaymentEventStore(db *bun.DB) (*PaymentEventStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*paymentEventRecord](db, paymentEventHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid payment event repository wiring: %w", err)
		}
	}
	return &PaymentEventStore{
		db:   db,
		repo: repo,
	}, nil
}

// Upsert writes the event with a single INSERT ... ON CONFLICT statement keyed
// on (reference, event_type). A redelivery replaces payload and received_at and
// bumps delivery_count; Created is true only for the first delivery.
func (s *PaymentEventStore) Upsert(ctx context.Context, event core.PaymentEvent) (core.UpsertResult, error) {
	if s == nil || s.db == nil {
		return core.UpsertResult{}, fmt.Errorf("sqlstore: payment event store is not configured")
	}
	key := event.Key()
	if err := key.Validate(); err != nil {
		return core.UpsertResult{}, err
	}
	now := time.Now().UTC()
	receivedAt := event.ReceivedAt.UTC()
	if event.ReceivedAt.IsZero() {
		receivedAt = now
	}
	id := event.ID
	if id == "" {
		id = uuid.NewString()
	}
	payload := event.Payload
	if payload == nil {
		payload = []byte{}
	}

	query := `
INSERT INTO payment_events (
	id,
	reference,
	event_type,
	payload,
	received_at,
	delivery_count,
	created_at,
	updated_at
) VALUES (?, ?, ?, ?, ?, 1, ?, ?)
ON CONFLICT (reference, event_type) DO UPDATE SET
	payload = EXCLUDED.payload,
	received_at = EXCLUDED.received_at,
	delivery_count = payment_events.delivery_count + 1,
	updated_at = EXCLUDED.updated_at
RETURNING
	id,
	reference,
	event_type,
	payload,
	received_at,
	delivery_count,
	created_at,
	updated_at
`
	record := &paymentEventRecord{}
	if err := s.db.NewRaw(
		query,
		id,
		key.Reference,
		key.EventType,
		payload,
		receivedAt,
		now,
		now,
	).Scan(ctx, record); err != nil {
		return core.UpsertResult{}, err
	}
	return core.UpsertResult{
		Event:   record.toDomain(),
		Created: record.DeliveryCount == 1,
	}, nil
}

func (s *PaymentEventStore) Get(ctx context.Context, key core.EventKey) (core.PaymentEvent, error) {
	if s == nil || s.repo == nil {
		return core.PaymentEvent{}, fmt.Errorf("sqlstore: payment event store is not configured")
	}
	key = key.Normalize()
	if err := key.Validate(); err != nil {
		return core.PaymentEvent{}, err
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("reference", "=", key.Reference),
		repository.SelectBy("event_type", "=", key.EventType),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.PaymentEvent{}, core.ErrPaymentEventNotFound
		}
		return core.PaymentEvent{}, err
	}
	if len(records) == 0 || records[0] == nil {
		return core.PaymentEvent{}, core.ErrPaymentEventNotFound
	}
	return records[0].toDomain(), nil
}

// Count returns the number of rows stored for key; it is 0 or 1.
func (s *PaymentEventStore) Count(ctx context.Context, key core.EventKey) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: payment event store is not configured")
	}
	key = key.Normalize()
	return s.db.NewSelect().
		Model((*paymentEventRecord)(nil)).
		Where("?TableAlias.reference = ?", key.Reference).
		Where("?TableAlias.event_type = ?", key.EventType).
		Count(ctx)
}

func (r *paymentEventRecord) toDomain() core.PaymentEvent {
	if r == nil {
		return core.PaymentEvent{}
	}
	return core.PaymentEvent{
		ID:            r.ID,
		Reference:     r.Reference,
		EventType:     r.EventType,
		Payload:       append([]byte(nil), r.Payload...),
		ReceivedAt:    r.ReceivedAt.UTC(),
		DeliveryCount: r.DeliveryCount,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
}
