package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-reconciler/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const paymentEventCacheKeyPrefix = "go-reconciler::payment_event::v1"

// CachedPaymentEventStore serves Get through a read-through cache and drops
// the cached entry after every Upsert of the same key. A failed drop is logged
// and does not fail the Upsert, since the row is already committed.
type CachedPaymentEventStore struct {
	base     core.EventStore
	cache    repositorycache.CacheService
	Observer *core.Observer
}

func NewCachedPaymentEventStore(
	base core.EventStore,
	cacheService repositorycache.CacheService,
) (*CachedPaymentEventStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base payment event store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: payment event cache service is required")
	}
	return &CachedPaymentEventStore{base: base, cache: cacheService}, nil
}

// PaymentEventCacheKey is go-reconciler::payment_event::v1::<reference>::<event_type>
// with each segment URL-path escaped.
func PaymentEventCacheKey(key core.EventKey) (string, error) {
	normalized := key.Normalize()
	if err := normalized.Validate(); err != nil {
		return "", err
	}
	return strings.Join([]string{
		paymentEventCacheKeyPrefix,
		url.PathEscape(normalized.Reference),
		url.PathEscape(normalized.EventType),
	}, "::"), nil
}

func (s *CachedPaymentEventStore) Get(ctx context.Context, key core.EventKey) (core.PaymentEvent, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.PaymentEvent{}, fmt.Errorf("sqlstore: cached payment event store is not configured")
	}
	normalized := key.Normalize()
	cacheKey, err := PaymentEventCacheKey(normalized)
	if err != nil {
		return core.PaymentEvent{}, err
	}
	event, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (core.PaymentEvent, error) {
		return s.base.Get(ctx, normalized)
	})
	if err != nil {
		return core.PaymentEvent{}, err
	}
	return clonePaymentEvent(event), nil
}

func (s *CachedPaymentEventStore) Upsert(ctx context.Context, event core.PaymentEvent) (core.UpsertResult, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.UpsertResult{}, fmt.Errorf("sqlstore: cached payment event store is not configured")
	}
	cacheKey, err := PaymentEventCacheKey(event.Key())
	if err != nil {
		return core.UpsertResult{}, err
	}
	result, err := s.base.Upsert(ctx, event)
	if err != nil {
		return core.UpsertResult{}, err
	}
	if err := s.cache.Delete(ctx, cacheKey); err != nil {
		s.Observer.Warn(ctx, "payment event cache invalidation failed", map[string]any{
			"cache_key": cacheKey,
			"error":     err.Error(),
		})
	}
	return result, nil
}

func clonePaymentEvent(event core.PaymentEvent) core.PaymentEvent {
	cloned := event
	cloned.Payload = append([]byte(nil), event.Payload...)
	return cloned
}

var _ core.EventStore = (*CachedPaymentEventStore)(nil)
