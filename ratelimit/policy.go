package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-reconciler/core"
)

var ErrStateNotFound = errors.New("ratelimit: state not found")

// Key identifies one provider rate limit bucket.
type Key struct {
	ProviderID string
	BucketKey  string
}

// ResponseMeta is what AfterCall needs from a provider response.
type ResponseMeta struct {
	StatusCode int
	Headers    map[string]string
	RetryAfter *time.Duration
}

type State struct {
	Key            Key
	Limit          int
	Remaining      int
	ResetAt        *time.Time
	RetryAfter     *time.Duration
	ThrottledUntil *time.Time
	LastStatus     int
	Attempts       int
	UpdatedAt      time.Time
}

type StateStore interface {
	Get(ctx context.Context, key Key) (State, error)
	Upsert(ctx context.Context, state State) error
}

type ThrottledError struct {
	ProviderID string
	BucketKey  string
	RetryAfter time.Duration
}

func (e ThrottledError) Error() string {
	return fmt.Sprintf(
		"ratelimit: provider %q bucket %q throttled for %s",
		strings.TrimSpace(e.ProviderID),
		strings.TrimSpace(e.BucketKey),
		e.RetryAfter,
	)
}

// ToError reports a throttled call as a provider query failure in the rate
// limit category.
func (e ThrottledError) ToError() error {
	metadata := map[string]any{
		"provider_id": strings.TrimSpace(e.ProviderID),
		"bucket_key":  strings.TrimSpace(e.BucketKey),
	}
	if e.RetryAfter > 0 {
		metadata["retry_after_ms"] = e.RetryAfter.Milliseconds()
	}
	return core.NewError(e.Error(), goerrors.CategoryRateLimit, core.ErrorProviderQueryFailed, metadata)
}

// AdaptivePolicy tracks provider rate limit headers and 429 responses and
// refuses calls while a bucket is throttled.
type AdaptivePolicy struct {
	Store            StateStore
	Now              func() time.Time
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	DefaultRetryHint time.Duration
}

func NewAdaptivePolicy(store StateStore) *AdaptivePolicy {
	return &AdaptivePolicy{
		Store:            store,
		Now:              func() time.Time { return time.Now().UTC() },
		InitialBackoff:   time.Second,
		MaxBackoff:       time.Minute,
		DefaultRetryHint: 5 * time.Second,
	}
}

func (p *AdaptivePolicy) BeforeCall(ctx context.Context, key Key) error {
	if p == nil || p.Store == nil {
		return nil
	}
	state, err := p.Store.Get(ctx, normalizeKey(key))
	if err != nil {
		if errors.Is(err, ErrStateNotFound) {
			return nil
		}
		return err
	}

	now := p.now()
	if until := state.ThrottledUntil; until != nil && now.Before(*until) {
		return ThrottledError{ProviderID: state.Key.ProviderID, BucketKey: state.Key.BucketKey, RetryAfter: until.Sub(now)}
	}
	if state.Remaining == 0 && state.ResetAt != nil && now.Before(*state.ResetAt) {
		return ThrottledError{ProviderID: state.Key.ProviderID, BucketKey: state.Key.BucketKey, RetryAfter: state.ResetAt.Sub(now)}
	}
	return nil
}

// AfterCall folds the response's rate limit signals into the bucket state. A
// 429, or an exhausted quota with a known reset, opens a throttle window.
func (p *AdaptivePolicy) AfterCall(ctx context.Context, key Key, res ResponseMeta) error {
	if p == nil || p.Store == nil {
		return nil
	}
	key = normalizeKey(key)
	now := p.now()
	state, err := p.Store.Get(ctx, key)
	switch {
	case errors.Is(err, ErrStateNotFound):
		state = State{Key: key}
	case err != nil:
		return err
	}

	sig := readSignals(res, now)
	state.LastStatus = res.StatusCode
	state.UpdatedAt = now
	if sig.limit != nil {
		state.Limit = *sig.limit
	}
	if sig.remaining != nil {
		state.Remaining = *sig.remaining
	}
	if sig.resetAt != nil {
		state.ResetAt = sig.resetAt
	}
	state.RetryAfter = sig.retryAfter

	if !sig.throttled(res.StatusCode) {
		state.Attempts = 0
		state.ThrottledUntil = nil
		return p.Store.Upsert(ctx, state)
	}

	state.Attempts++
	delay := p.backoff(state.Attempts)
	if sig.retryAfter != nil {
		delay = *sig.retryAfter
	}
	until := now.Add(delay)
	state.ThrottledUntil = &until
	return p.Store.Upsert(ctx, state)
}

func (p *AdaptivePolicy) now() time.Time {
	if p != nil && p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

// backoff doubles InitialBackoff per consecutive throttle, capped at MaxBackoff.
func (p *AdaptivePolicy) backoff(attempt int) time.Duration {
	delay, ceiling := p.InitialBackoff, p.MaxBackoff
	if delay <= 0 {
		delay = p.defaultRetryHint()
	}
	if ceiling <= 0 {
		ceiling = time.Minute
	}
	for i := 1; i < attempt && delay < ceiling; i++ {
		delay *= 2
	}
	return min(delay, ceiling)
}

func (p *AdaptivePolicy) defaultRetryHint() time.Duration {
	if p != nil && p.DefaultRetryHint > 0 {
		return p.DefaultRetryHint
	}
	return 5 * time.Second
}

// signals are the rate limit hints found on one response.
type signals struct {
	limit      *int
	remaining  *int
	resetAt    *time.Time
	retryAfter *time.Duration
}

func readSignals(res ResponseMeta, now time.Time) signals {
	var sig signals
	sig.limit = headerInt(res.Headers, "x-ratelimit-limit")
	sig.remaining = headerInt(res.Headers, "x-ratelimit-remaining")
	if reset := headerInt(res.Headers, "x-ratelimit-reset"); reset != nil && *reset > 0 {
		at := time.Unix(int64(*reset), 0).UTC()
		sig.resetAt = &at
	}
	sig.retryAfter = retryAfter(res, now)
	return sig
}

// throttled treats 5xx as an outage, not a quota signal.
func (s signals) throttled(statusCode int) bool {
	if statusCode == http.StatusTooManyRequests {
		return true
	}
	if statusCode >= http.StatusInternalServerError {
		return false
	}
	exhausted := s.remaining != nil && *s.remaining == 0
	return exhausted && (s.resetAt != nil || s.limit != nil || s.retryAfter != nil)
}

func retryAfter(res ResponseMeta, now time.Time) *time.Duration {
	if res.RetryAfter != nil && *res.RetryAfter > 0 {
		d := *res.RetryAfter
		return &d
	}
	raw := headerValue(res.Headers, "retry-after")
	if raw == "" {
		return nil
	}
	var d time.Duration
	if seconds, err := strconv.Atoi(raw); err == nil {
		d = time.Duration(seconds) * time.Second
	} else if at, err := http.ParseTime(raw); err == nil {
		d = at.Sub(now)
	}
	if d <= 0 {
		return nil
	}
	return &d
}

func headerInt(headers map[string]string, key string) *int {
	value := headerValue(headers, key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return nil
	}
	return &parsed
}

func headerValue(headers map[string]string, key string) string {
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), key) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func normalizeKey(key Key) Key {
	return Key{
		ProviderID: strings.TrimSpace(strings.ToLower(key.ProviderID)),
		BucketKey:  strings.TrimSpace(strings.ToLower(key.BucketKey)),
	}
}

// MemoryStateStore keeps bucket state for the life of the process.
type MemoryStateStore struct {
	mu    sync.RWMutex
	items map[Key]State
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{items: map[Key]State{}}
}

func (s *MemoryStateStore) Get(_ context.Context, key Key) (State, error) {
	if s == nil {
		return State{}, fmt.Errorf("ratelimit: state store is nil")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.items[normalizeKey(key)]
	if !ok {
		return State{}, ErrStateNotFound
	}
	return state, nil
}

func (s *MemoryStateStore) Upsert(_ context.Context, state State) error {
	if s == nil {
		return fmt.Errorf("ratelimit: state store is nil")
	}
	state.Key = normalizeKey(state.Key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[state.Key] = state
	return nil
}
