/*
rates.go - Rate configuration provider

PURPOSE:
  Supplies the current points-per-dollar earn rate and points-to-cash
  redeem value. Rates are read on every award/redeem, so reads are
  cached with a short TTL; a cached rate is only ever used for NEW
  entries - committed entries froze the version they were written with.

UPSERT SEMANTICS:
  Update() is a true atomic upsert keyed on a singleton row. The store
  must not branch on an existence check before writing: that pattern
  races and can leave two "current" rows behind. See
  Store.UpsertRates for the contract.

DEFAULTS:
  When nothing was ever configured, Current() returns DefaultRates()
  (1 point per unit spent, 0.01 per point) so downstream operations
  never fail for lack of configuration.

RETRIES:
  Current() is an idempotent read and is retried once with backoff on
  transient storage failure before surfacing ErrConfigurationUnavailable.
*/
package loyalty

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RATE PROVIDER
// =============================================================================

// RateProvider reads and updates the conversion rates.
type RateProvider struct {
	Store Store

	// CacheTTL bounds how stale a served snapshot may be. Zero disables
	// caching entirely.
	CacheTTL time.Duration

	mu        sync.Mutex
	cached    *RateSnapshot
	fetchedAt time.Time

	now func() time.Time
}

// NewRateProvider creates a provider with a 5 second cache.
func NewRateProvider(store Store) *RateProvider {
	return &RateProvider{Store: store, CacheTTL: 5 * time.Second, now: time.Now}
}

// Current returns the snapshot in effect, falling back to
// DefaultRates() when rates were never configured.
func (p *RateProvider) Current(ctx context.Context) (RateSnapshot, error) {
	p.mu.Lock()
	if p.cached != nil && p.CacheTTL > 0 && p.now().Sub(p.fetchedAt) < p.CacheTTL {
		snap := *p.cached
		p.mu.Unlock()
		return snap, nil
	}
	p.mu.Unlock()

	snap, err := retryRead(ctx, func() (*RateSnapshot, error) {
		return p.Store.CurrentRates(ctx)
	})
	if err != nil {
		return RateSnapshot{}, fmt.Errorf("%w: %v", ErrConfigurationUnavailable, err)
	}

	result := DefaultRates()
	if snap != nil {
		result = *snap
	}

	p.mu.Lock()
	p.cached = &result
	p.fetchedAt = p.now()
	p.mu.Unlock()

	return result, nil
}

// Update atomically replaces the current rates, advancing the version.
// Rejects negative rates; zero is allowed (a clinic may suspend earning
// without suspending redemption, or vice versa).
func (p *RateProvider) Update(ctx context.Context, earnRate, redeemValue decimal.Decimal) (RateSnapshot, error) {
	if earnRate.IsNegative() {
		return RateSnapshot{}, fmt.Errorf("%w: earn rate must not be negative, got %s",
			ErrInvalidAmount, earnRate)
	}
	if redeemValue.IsNegative() {
		return RateSnapshot{}, fmt.Errorf("%w: redeem value must not be negative, got %s",
			ErrInvalidAmount, redeemValue)
	}

	snap, err := p.Store.UpsertRates(ctx, earnRate, redeemValue)
	if err != nil {
		return RateSnapshot{}, fmt.Errorf("%w: %v", ErrConfigurationUnavailable, err)
	}

	// Serve the new snapshot immediately; admins expect their own write
	// to be visible on the next read.
	p.mu.Lock()
	p.cached = &snap
	p.fetchedAt = p.now()
	p.mu.Unlock()

	return snap, nil
}

// Invalidate drops the cached snapshot. Used by tests and by callers
// that must observe another process's update before the TTL lapses.
func (p *RateProvider) Invalidate() {
	p.mu.Lock()
	p.cached = nil
	p.mu.Unlock()
}

// =============================================================================
// READ RETRY
// =============================================================================

// retryRead runs an idempotent read, retrying once after a short
// backoff. Mutations must never go through this path.
func retryRead[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	result, err := fn()
	if err == nil {
		return result, nil
	}

	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case <-time.After(100 * time.Millisecond):
	}

	return fn()
}
