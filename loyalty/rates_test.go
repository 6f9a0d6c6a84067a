package loyalty_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumina-health/loyalty-ledger/loyalty"
	"github.com/lumina-health/loyalty-ledger/loyalty/store"
)

// =============================================================================
// DEFAULTS
// =============================================================================

func TestRateProvider_Unconfigured_ServesDefaults(t *testing.T) {
	// GIVEN: A store where rates were never configured
	// WHEN: Reading the current rates
	// THEN: The defaults come back (1 point per unit, 0.01 per point) at version 0

	p := loyalty.NewRateProvider(store.NewMemory())

	snap, err := p.Current(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.EarnRate.Equal(decimal.NewFromInt(1)))
	assert.True(t, snap.RedeemValue.Equal(decimal.New(1, -2)))
	assert.Equal(t, int64(0), snap.Version)
}

// =============================================================================
// UPDATES AND VERSIONING
// =============================================================================

func TestRateProvider_Update_AdvancesVersion(t *testing.T) {
	// GIVEN: A configured provider
	// WHEN: Updating rates twice
	// THEN: Versions are 1 then 2, and each update is immediately readable

	p := loyalty.NewRateProvider(store.NewMemory())
	ctx := context.Background()

	first, err := p.Update(ctx, decimal.NewFromInt(2), decimal.New(2, -2))
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Version)

	second, err := p.Update(ctx, decimal.NewFromInt(3), decimal.New(3, -2))
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.Version)

	current, err := p.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), current.Version)
	assert.True(t, current.EarnRate.Equal(decimal.NewFromInt(3)))
}

func TestRateProvider_Update_RejectsNegativeRates(t *testing.T) {
	// GIVEN: Any provider
	// WHEN: Updating with a negative earn rate or redeem value
	// THEN: ErrInvalidAmount, and nothing is written

	mem := store.NewMemory()
	p := loyalty.NewRateProvider(mem)
	ctx := context.Background()

	_, err := p.Update(ctx, decimal.NewFromInt(-1), decimal.New(1, -2))
	assert.ErrorIs(t, err, loyalty.ErrInvalidAmount)

	_, err = p.Update(ctx, decimal.NewFromInt(1), decimal.New(-1, -2))
	assert.ErrorIs(t, err, loyalty.ErrInvalidAmount)

	stored, err := mem.CurrentRates(ctx)
	require.NoError(t, err)
	assert.Nil(t, stored, "rejected update must not persist anything")
}

func TestRateProvider_Update_ZeroRatesAllowed(t *testing.T) {
	// GIVEN: A program pausing point accrual
	// WHEN: Setting the earn rate to zero
	// THEN: The update succeeds

	p := loyalty.NewRateProvider(store.NewMemory())

	snap, err := p.Update(context.Background(), decimal.Zero, decimal.New(1, -2))
	require.NoError(t, err)
	assert.True(t, snap.EarnRate.IsZero())
}

func TestRateProvider_ConcurrentUpdates_SingleWinnerPerVersion(t *testing.T) {
	// GIVEN: 10 admins updating rates at once
	// WHEN: All updates race
	// THEN: All succeed and the final version is exactly 10 (one increment
	//       each, no version ever reused)

	mem := store.NewMemory()
	p := loyalty.NewRateProvider(mem)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 1; i <= 10; i++ {
		wg.Add(1)
		go func(n int64) {
			defer wg.Done()
			_, err := p.Update(ctx, decimal.NewFromInt(n), decimal.New(1, -2))
			assert.NoError(t, err)
		}(int64(i))
	}
	wg.Wait()

	snap, err := mem.CurrentRates(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, int64(10), snap.Version)
}

// =============================================================================
// CACHING
// =============================================================================

func TestRateProvider_Cache_ServesWithinTTL(t *testing.T) {
	// GIVEN: A provider with a long TTL that has read version 1
	// WHEN: Another process writes version 2 directly to the store
	// THEN: The cached snapshot is served until Invalidate, after which
	//       the new version is visible

	mem := store.NewMemory()
	p := loyalty.NewRateProvider(mem)
	p.CacheTTL = time.Hour
	ctx := context.Background()

	_, err := p.Update(ctx, decimal.NewFromInt(2), decimal.New(1, -2))
	require.NoError(t, err)

	_, err = mem.UpsertRates(ctx, decimal.NewFromInt(9), decimal.New(1, -2))
	require.NoError(t, err)

	cached, err := p.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cached.Version, "TTL cache should still serve the old snapshot")

	p.Invalidate()

	fresh, err := p.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), fresh.Version)
	assert.True(t, fresh.EarnRate.Equal(decimal.NewFromInt(9)))
}

func TestRateProvider_OwnUpdate_VisibleImmediately(t *testing.T) {
	// GIVEN: A provider with a long TTL holding a cached snapshot
	// WHEN: The same provider performs an update
	// THEN: The next read reflects the update without waiting out the TTL

	p := loyalty.NewRateProvider(store.NewMemory())
	p.CacheTTL = time.Hour
	ctx := context.Background()

	_, err := p.Update(ctx, decimal.NewFromInt(2), decimal.New(1, -2))
	require.NoError(t, err)
	_, err = p.Current(ctx)
	require.NoError(t, err)

	_, err = p.Update(ctx, decimal.NewFromInt(4), decimal.New(1, -2))
	require.NoError(t, err)

	snap, err := p.Current(ctx)
	require.NoError(t, err)
	assert.True(t, snap.EarnRate.Equal(decimal.NewFromInt(4)))
}
