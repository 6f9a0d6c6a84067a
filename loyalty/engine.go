/*
engine.go - Award and redeem operations with their concurrency contract

PURPOSE:
  The Engine is the only writer of account balances. Staff terminals at
  different clinics call Award and Redeem concurrently for the same
  customer; the engine guarantees that every committed operation is
  reflected in the final balance (no lost updates) and that concurrent
  redemptions can never drive a balance negative.

OPERATION LIFECYCLE:
  REQUESTED -> VALIDATED -> APPLIED -> LOGGED   (success)
  REQUESTED -> REJECTED                         (typed failure)

  There is no partial state: the balance mutation and the ledger entry
  commit together inside Store.ApplyEntry, or not at all.

CONCURRENCY:
  Validation reads (does the account exist? is the balance sufficient?)
  are advisory only. The authoritative check happens atomically at
  commit time inside the store. A redemption that looked sufficient
  against a stale read loses the race with ErrInsufficientBalance.

IDEMPOTENCY:
  Callers should supply a client-generated key per attempted operation.
  Retrying with a seen key - including after an ambiguous timeout, when
  the first attempt may have committed - returns the original entry
  instead of applying the operation twice. Without a key, a retry is a
  second operation.

EXAMPLE:
  engine := loyalty.NewEngine(store, rates)
  entry, err := engine.Award(ctx, loyalty.AwardRequest{
      AccountID:      "a6f1...",
      ClinicID:       "clinic-north",
      BillAmount:     decimal.RequireFromString("100.00"),
      IdempotencyKey: "terminal3-8d2e...",
  })

SEE ALSO:
  - store.go: ApplyEntry atomicity contract
  - rates.go: rate snapshot used at commit time
*/
package loyalty

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// ENGINE
// =============================================================================

// Engine applies point-earning and point-redemption operations.
type Engine struct {
	Store Store
	Rates *RateProvider

	// Injectable clock for tests.
	now func() time.Time
}

// NewEngine creates an engine over the given store and rate provider.
func NewEngine(store Store, rates *RateProvider) *Engine {
	return &Engine{Store: store, Rates: rates, now: time.Now}
}

// AwardRequest credits points for a bill paid at a clinic.
type AwardRequest struct {
	AccountID      AccountID
	ClinicID       ClinicID
	BillAmount     decimal.Decimal
	IdempotencyKey string
}

// RedeemRequest debits points for a cash-value offset at a clinic.
type RedeemRequest struct {
	AccountID      AccountID
	ClinicID       ClinicID
	Points         int64
	IdempotencyKey string
}

// =============================================================================
// EARN
// =============================================================================

// Award computes floor(billAmount * earnRate) points and credits them
// atomically. The rate snapshot in effect at commit time is frozen into
// the entry.
func (e *Engine) Award(ctx context.Context, req AwardRequest) (LedgerEntry, error) {
	if !req.BillAmount.IsPositive() {
		return LedgerEntry{}, fmt.Errorf("%w: bill amount must be positive, got %s",
			ErrInvalidAmount, req.BillAmount)
	}

	if prior, err := e.replay(ctx, req.AccountID, req.IdempotencyKey); prior != nil || err != nil {
		if err != nil {
			return LedgerEntry{}, err
		}
		return *prior, nil
	}

	rates, err := e.Rates.Current(ctx)
	if err != nil {
		return LedgerEntry{}, err
	}

	entry := LedgerEntry{
		ID:             EntryID(uuid.NewString()),
		AccountID:      req.AccountID,
		ClinicID:       req.ClinicID,
		Kind:           EntryEarn,
		BillAmount:     req.BillAmount,
		Points:         PointsForBill(req.BillAmount, rates),
		RateVersion:    rates.Version,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      e.now().UTC(),
	}

	return e.apply(ctx, entry)
}

// =============================================================================
// REDEEM
// =============================================================================

// Redeem debits points and records their cash value. Sufficiency is
// checked against the authoritative balance inside the store's atomic
// step, never against a client-cached value.
func (e *Engine) Redeem(ctx context.Context, req RedeemRequest) (LedgerEntry, error) {
	if req.Points <= 0 {
		return LedgerEntry{}, fmt.Errorf("%w: points must be positive, got %d",
			ErrInvalidAmount, req.Points)
	}

	if prior, err := e.replay(ctx, req.AccountID, req.IdempotencyKey); prior != nil || err != nil {
		if err != nil {
			return LedgerEntry{}, err
		}
		return *prior, nil
	}

	rates, err := e.Rates.Current(ctx)
	if err != nil {
		return LedgerEntry{}, err
	}

	entry := LedgerEntry{
		ID:             EntryID(uuid.NewString()),
		AccountID:      req.AccountID,
		ClinicID:       req.ClinicID,
		Kind:           EntryRedeem,
		Points:         req.Points,
		CashValue:      CashValueOf(req.Points, rates),
		RateVersion:    rates.Version,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      e.now().UTC(),
	}

	return e.apply(ctx, entry)
}

// =============================================================================
// INTERNAL
// =============================================================================

// replay returns the original entry when the key was already committed
// for this account. Safe fast path; the store's unique constraint
// catches the race where two retries arrive together.
func (e *Engine) replay(ctx context.Context, id AccountID, key string) (*LedgerEntry, error) {
	if key == "" {
		return nil, nil
	}
	return e.Store.EntryByIdempotencyKey(ctx, id, key)
}

func (e *Engine) apply(ctx context.Context, entry LedgerEntry) (LedgerEntry, error) {
	applied, err := e.Store.ApplyEntry(ctx, entry)
	if err == nil {
		return applied, nil
	}

	// A concurrent retry with the same key won the commit. Return its
	// entry: to the caller both attempts are the same operation.
	if errors.Is(err, ErrDuplicateIdempotencyKey) && entry.IdempotencyKey != "" {
		prior, lookupErr := e.Store.EntryByIdempotencyKey(ctx, entry.AccountID, entry.IdempotencyKey)
		if lookupErr == nil && prior != nil {
			return *prior, nil
		}
	}

	return LedgerEntry{}, err
}
