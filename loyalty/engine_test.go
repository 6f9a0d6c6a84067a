package loyalty_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumina-health/loyalty-ledger/loyalty"
	"github.com/lumina-health/loyalty-ledger/loyalty/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestEngine(t *testing.T) (*loyalty.Engine, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	engine := loyalty.NewEngine(mem, loyalty.NewRateProvider(mem))
	return engine, mem
}

func seedAccount(t *testing.T, s loyalty.Store, id loyalty.AccountID) {
	t.Helper()
	err := s.CreateAccount(context.Background(), loyalty.Account{
		ID:    id,
		Name:  "Maya Chen",
		Email: string(id) + "@example.com",
	})
	require.NoError(t, err)
}

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

// =============================================================================
// EARN / REDEEM LIFECYCLE
// =============================================================================

func TestEngine_AwardThenRedeem(t *testing.T) {
	// GIVEN: A fresh account and default rates (1 point per unit, 0.01 per point)
	// WHEN: Awarding for a 100.00 bill, then redeeming 60 points
	// THEN: Balance goes 0 -> 100 -> 40 and the redemption carries 0.60 cash value

	engine, mem := newTestEngine(t)
	ctx := context.Background()
	seedAccount(t, mem, "acct-1")

	earned, err := engine.Award(ctx, loyalty.AwardRequest{
		AccountID:  "acct-1",
		ClinicID:   "clinic-north",
		BillAmount: mustDecimal(t, "100.00"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(100), earned.Points)
	assert.Equal(t, int64(100), earned.BalanceAfter)
	assert.Equal(t, loyalty.EntryEarn, earned.Kind)

	redeemed, err := engine.Redeem(ctx, loyalty.RedeemRequest{
		AccountID: "acct-1",
		ClinicID:  "clinic-north",
		Points:    60,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(60), redeemed.Points)
	assert.Equal(t, int64(40), redeemed.BalanceAfter)
	assert.True(t, redeemed.CashValue.Equal(mustDecimal(t, "0.60")),
		"60 points at 0.01 should be worth 0.60, got %s", redeemed.CashValue)

	acct, err := mem.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(40), acct.Balance)
}

func TestEngine_Award_FlooringNeverRoundsUp(t *testing.T) {
	// GIVEN: An earn rate of 1 point per unit
	// WHEN: Awarding for a 99.99 bill
	// THEN: Exactly 99 points are credited, never 100

	engine, mem := newTestEngine(t)
	seedAccount(t, mem, "acct-1")

	entry, err := engine.Award(context.Background(), loyalty.AwardRequest{
		AccountID:  "acct-1",
		BillAmount: mustDecimal(t, "99.99"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(99), entry.Points)
}

func TestEngine_Redeem_InsufficientBalance(t *testing.T) {
	// GIVEN: An account holding 40 points
	// WHEN: Redeeming 41 points
	// THEN: The operation fails with ErrInsufficientBalance and nothing changes

	engine, mem := newTestEngine(t)
	ctx := context.Background()
	seedAccount(t, mem, "acct-1")

	_, err := engine.Award(ctx, loyalty.AwardRequest{
		AccountID:  "acct-1",
		BillAmount: mustDecimal(t, "40"),
	})
	require.NoError(t, err)

	_, err = engine.Redeem(ctx, loyalty.RedeemRequest{AccountID: "acct-1", Points: 41})
	assert.ErrorIs(t, err, loyalty.ErrInsufficientBalance)

	var balErr *loyalty.InsufficientBalanceError
	require.ErrorAs(t, err, &balErr)
	assert.Equal(t, int64(40), balErr.Available)
	assert.Equal(t, int64(41), balErr.Requested)

	acct, err := mem.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(40), acct.Balance, "failed redemption must not touch the balance")

	entries, err := mem.EntriesByAccount(ctx, "acct-1", loyalty.HistoryQuery{})
	require.NoError(t, err)
	assert.Len(t, entries, 1, "failed redemption must not append an entry")
}

func TestEngine_InvalidAmounts(t *testing.T) {
	// GIVEN: Any account
	// WHEN: Awarding a zero or negative bill, or redeeming zero or negative points
	// THEN: Each fails with ErrInvalidAmount before touching storage

	engine, mem := newTestEngine(t)
	ctx := context.Background()
	seedAccount(t, mem, "acct-1")

	_, err := engine.Award(ctx, loyalty.AwardRequest{AccountID: "acct-1", BillAmount: decimal.Zero})
	assert.ErrorIs(t, err, loyalty.ErrInvalidAmount)

	_, err = engine.Award(ctx, loyalty.AwardRequest{AccountID: "acct-1", BillAmount: mustDecimal(t, "-5")})
	assert.ErrorIs(t, err, loyalty.ErrInvalidAmount)

	_, err = engine.Redeem(ctx, loyalty.RedeemRequest{AccountID: "acct-1", Points: 0})
	assert.ErrorIs(t, err, loyalty.ErrInvalidAmount)

	_, err = engine.Redeem(ctx, loyalty.RedeemRequest{AccountID: "acct-1", Points: -10})
	assert.ErrorIs(t, err, loyalty.ErrInvalidAmount)

	entries, err := mem.EntriesByAccount(ctx, "acct-1", loyalty.HistoryQuery{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEngine_AccountNotFound(t *testing.T) {
	// GIVEN: No account with the target id
	// WHEN: Awarding or redeeming against it
	// THEN: Both fail with ErrAccountNotFound

	engine, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Award(ctx, loyalty.AwardRequest{AccountID: "ghost", BillAmount: mustDecimal(t, "10")})
	assert.ErrorIs(t, err, loyalty.ErrAccountNotFound)

	_, err = engine.Redeem(ctx, loyalty.RedeemRequest{AccountID: "ghost", Points: 5})
	assert.ErrorIs(t, err, loyalty.ErrAccountNotFound)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestEngine_ConcurrentAwards_NoLostUpdates(t *testing.T) {
	// GIVEN: 50 staff terminals awarding 10 points each to the same account
	// WHEN: All awards run concurrently
	// THEN: The final balance is exactly 500 and all 50 entries committed

	engine, mem := newTestEngine(t)
	ctx := context.Background()
	seedAccount(t, mem, "acct-1")

	const workers = 50
	var wg sync.WaitGroup
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, errs[n] = engine.Award(ctx, loyalty.AwardRequest{
				AccountID:  "acct-1",
				BillAmount: mustDecimal(t, "10"),
			})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "award %d failed", i)
	}

	acct, err := mem.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), acct.Balance)

	entries, err := mem.EntriesByAccount(ctx, "acct-1", loyalty.HistoryQuery{Limit: workers + 1})
	require.NoError(t, err)
	assert.Len(t, entries, workers)
}

func TestEngine_ConcurrentRedeems_ExactlyOneWins(t *testing.T) {
	// GIVEN: An account holding 100 points
	// WHEN: Two 80-point redemptions race
	// THEN: Exactly one commits; the other fails with ErrInsufficientBalance
	//       and the balance never goes negative

	engine, mem := newTestEngine(t)
	ctx := context.Background()
	seedAccount(t, mem, "acct-1")

	_, err := engine.Award(ctx, loyalty.AwardRequest{AccountID: "acct-1", BillAmount: mustDecimal(t, "100")})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, results[n] = engine.Redeem(ctx, loyalty.RedeemRequest{AccountID: "acct-1", Points: 80})
		}(i)
	}
	wg.Wait()

	var wins, losses int
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		default:
			assert.ErrorIs(t, err, loyalty.ErrInsufficientBalance)
			losses++
		}
	}
	assert.Equal(t, 1, wins, "exactly one redemption must commit")
	assert.Equal(t, 1, losses)

	acct, err := mem.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(20), acct.Balance)
}

// =============================================================================
// IDEMPOTENCY
// =============================================================================

func TestEngine_IdempotentReplay_ReturnsOriginalEntry(t *testing.T) {
	// GIVEN: An award committed under key "terminal3-req9"
	// WHEN: The same request is retried with the same key
	// THEN: The original entry comes back and the balance does not move again

	engine, mem := newTestEngine(t)
	ctx := context.Background()
	seedAccount(t, mem, "acct-1")

	req := loyalty.AwardRequest{
		AccountID:      "acct-1",
		BillAmount:     mustDecimal(t, "50"),
		IdempotencyKey: "terminal3-req9",
	}

	first, err := engine.Award(ctx, req)
	require.NoError(t, err)

	second, err := engine.Award(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "replay must return the original entry")
	assert.Equal(t, first.BalanceAfter, second.BalanceAfter)

	acct, err := mem.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), acct.Balance, "replay must not credit twice")
}

func TestEngine_IdempotencyKeys_ScopedPerAccount(t *testing.T) {
	// GIVEN: Two accounts
	// WHEN: Each is awarded under the same key
	// THEN: Both awards commit; the key is scoped per account

	engine, mem := newTestEngine(t)
	ctx := context.Background()
	seedAccount(t, mem, "acct-1")
	seedAccount(t, mem, "acct-2")

	for _, id := range []loyalty.AccountID{"acct-1", "acct-2"} {
		_, err := engine.Award(ctx, loyalty.AwardRequest{
			AccountID:      id,
			BillAmount:     mustDecimal(t, "25"),
			IdempotencyKey: "shared-key",
		})
		require.NoError(t, err)
	}

	for _, id := range []loyalty.AccountID{"acct-1", "acct-2"} {
		acct, err := mem.GetAccount(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, int64(25), acct.Balance)
	}
}

func TestEngine_NoKey_RetryIsASecondOperation(t *testing.T) {
	// GIVEN: An award without an idempotency key
	// WHEN: The identical request is sent again
	// THEN: A second entry commits (opting out of keys means no dedup)

	engine, mem := newTestEngine(t)
	ctx := context.Background()
	seedAccount(t, mem, "acct-1")

	req := loyalty.AwardRequest{AccountID: "acct-1", BillAmount: mustDecimal(t, "30")}
	_, err := engine.Award(ctx, req)
	require.NoError(t, err)
	_, err = engine.Award(ctx, req)
	require.NoError(t, err)

	acct, err := mem.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(60), acct.Balance)
}

// =============================================================================
// RATE FREEZING
// =============================================================================

func TestEngine_RateChange_NeverRewritesHistory(t *testing.T) {
	// GIVEN: An entry committed at rate version 1 (2 points per unit)
	// WHEN: The rate changes to 5 points per unit
	// THEN: The old entry keeps its points and version; only new entries
	//       use the new rate

	mem := store.NewMemory()
	rates := loyalty.NewRateProvider(mem)
	engine := loyalty.NewEngine(mem, rates)
	ctx := context.Background()
	seedAccount(t, mem, "acct-1")

	_, err := rates.Update(ctx, mustDecimal(t, "2"), mustDecimal(t, "0.01"))
	require.NoError(t, err)

	oldEntry, err := engine.Award(ctx, loyalty.AwardRequest{AccountID: "acct-1", BillAmount: mustDecimal(t, "10")})
	require.NoError(t, err)
	assert.Equal(t, int64(20), oldEntry.Points)
	assert.Equal(t, int64(1), oldEntry.RateVersion)

	_, err = rates.Update(ctx, mustDecimal(t, "5"), mustDecimal(t, "0.01"))
	require.NoError(t, err)

	newEntry, err := engine.Award(ctx, loyalty.AwardRequest{AccountID: "acct-1", BillAmount: mustDecimal(t, "10")})
	require.NoError(t, err)
	assert.Equal(t, int64(50), newEntry.Points)
	assert.Equal(t, int64(2), newEntry.RateVersion)

	entries, err := mem.EntriesByAccount(ctx, "acct-1", loyalty.HistoryQuery{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	// Newest first: entries[1] is the original award, untouched.
	assert.Equal(t, int64(20), entries[1].Points)
	assert.Equal(t, int64(1), entries[1].RateVersion)
}

// =============================================================================
// BALANCE RECONSTRUCTION
// =============================================================================

func TestEngine_BalanceMatchesEntrySum(t *testing.T) {
	// GIVEN: A mix of awards and redemptions
	// WHEN: Summing every entry's signed delta
	// THEN: The sum equals the stored balance exactly

	engine, mem := newTestEngine(t)
	ctx := context.Background()
	seedAccount(t, mem, "acct-1")

	for i := 0; i < 10; i++ {
		_, err := engine.Award(ctx, loyalty.AwardRequest{
			AccountID:  "acct-1",
			BillAmount: mustDecimal(t, fmt.Sprintf("%d.50", 10+i)),
		})
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		_, err := engine.Redeem(ctx, loyalty.RedeemRequest{AccountID: "acct-1", Points: 7})
		require.NoError(t, err)
	}

	entries, err := mem.EntriesByAccount(ctx, "acct-1", loyalty.HistoryQuery{Limit: 100})
	require.NoError(t, err)

	var sum int64
	for _, e := range entries {
		sum += e.Delta()
	}

	acct, err := mem.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, acct.Balance, sum, "ledger must fully explain the balance")

	// Every entry's recorded balance is consistent with replaying up to it.
	var running int64
	for i := len(entries) - 1; i >= 0; i-- {
		running += entries[i].Delta()
		assert.Equal(t, running, entries[i].BalanceAfter,
			"entry %s recorded a balance inconsistent with replay", entries[i].ID)
	}
}
