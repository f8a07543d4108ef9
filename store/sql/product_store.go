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

type ProductStore struct {
	db   *bun.DB
	repo repository.Repository[*productRecord]
}

func NewProductStore(db *bun.DB) (*ProductStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*productRecord](db, productHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid product repository wiring: %w", err)
		}
	}
	return &ProductStore{
		db:   db,
		repo: repo,
	}, nil
}

func (s *ProductStore) Create(ctx context.Context, product core.Product) (core.Product, error) {
	if s == nil || s.repo == nil {
		return core.Product{}, fmt.Errorf("sqlstore: product store is not configured")
	}
	product.VendorID = strings.TrimSpace(product.VendorID)
	if product.VendorID == "" {
		return core.Product{}, fmt.Errorf("sqlstore: product vendor id is required")
	}
	id, err := recordID(product.ID)
	if err != nil {
		return core.Product{}, err
	}
	now := time.Now().UTC()
	record := &productRecord{
		ID:              id,
		VendorID:        product.VendorID,
		Name:            strings.TrimSpace(product.Name),
		ScheduledLiveAt: copyTimePointer(product.ScheduledLiveAt),
		ScheduledEndAt:  copyTimePointer(product.ScheduledEndAt),
		IsLive:          product.IsLive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	created, err := s.repo.Create(ctx, record)
	if err != nil {
		return core.Product{}, err
	}
	return created.toDomain(), nil
}

func (s *ProductStore) Get(ctx context.Context, id string) (core.Product, error) {
	if s == nil || s.repo == nil {
		return core.Product{}, fmt.Errorf("sqlstore: product store is not configured")
	}
	record, err := s.repo.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return core.Product{}, err
	}
	return record.toDomain(), nil
}

// ListDrifted returns products whose is_live flag disagrees with their
// schedule window [scheduled_live_at, scheduled_end_at) at now. Products never
// checked come first, least recently updated first.
func (s *ProductStore) ListDrifted(ctx context.Context, now time.Time, limit int) ([]core.Product, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: product store is not configured")
	}
	if limit <= 0 {
		limit = core.DefaultBatchSize
	}
	now = now.UTC()
	records, _, err := s.repo.List(ctx,
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
				return q.
					WhereGroup(" OR ", func(q *bun.SelectQuery) *bun.SelectQuery {
						return q.
							Where("?TableAlias.is_live = ?", false).
							Where("?TableAlias.scheduled_live_at IS NOT NULL").
							Where("?TableAlias.scheduled_live_at <= ?", now).
							WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
								return q.
									Where("?TableAlias.scheduled_end_at IS NULL").
									WhereOr("?TableAlias.scheduled_end_at > ?", now)
							})
					}).
					WhereGroup(" OR ", func(q *bun.SelectQuery) *bun.SelectQuery {
						return q.
							Where("?TableAlias.is_live = ?", true).
							WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
								return q.
									Where("?TableAlias.scheduled_live_at IS NULL").
									WhereOr("?TableAlias.scheduled_live_at > ?", now).
									WhereOr("?TableAlias.scheduled_end_at <= ?", now)
							})
					})
			}).
				OrderExpr(leastRecentlyCheckedOrder, bun.Ident("updated_at"))
		}),
		repository.SelectPaginate(limit, 0),
	)
	if err != nil {
		return nil, err
	}
	products := make([]core.Product, 0, len(records))
	for _, record := range records {
		product := record.toDomain()
		if !product.Drifted(now) {
			continue
		}
		products = append(products, product)
	}
	return products, nil
}

// SetLive flips is_live only when the stored value still equals from.
func (s *ProductStore) SetLive(ctx context.Context, id string, from bool, to bool, at time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: product store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return false, fmt.Errorf("sqlstore: product id is required")
	}
	result, err := s.db.NewUpdate().
		Model((*productRecord)(nil)).
		Set("is_live = ?", to).
		Set("updated_at = ?", at.UTC()).
		Where("id = ?", id).
		Where("is_live = ?", from).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	return rowsChanged(result)
}

// MarkChecked stamps last_checked_at without touching updated_at, which keys
// deactivation jobs.
func (s *ProductStore) MarkChecked(ctx context.Context, id string, at time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: product store is not configured")
	}
	_, err := s.db.NewUpdate().
		Model((*productRecord)(nil)).
		Set("last_checked_at = ?", at.UTC()).
		Where("id = ?", strings.TrimSpace(id)).
		Exec(ctx)
	return err
}

func (r *productRecord) toDomain() core.Product {
	if r == nil {
		return core.Product{}
	}
	return core.Product{
		ID:              r.ID,
		VendorID:        r.VendorID,
		Name:            r.Name,
		ScheduledLiveAt: copyTimePointer(r.ScheduledLiveAt),
		ScheduledEndAt:  copyTimePointer(r.ScheduledEndAt),
		IsLive:          r.IsLive,
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
}
