/*
Package loyalty implements the points ledger for the clinic chain's
loyalty program.

PURPOSE:
  Customers accrue points per dollar spent at a clinic and redeem them
  for cash-value discounts. Staff terminals at different clinics mutate
  the same account concurrently, so every balance change goes through a
  single engine that guarantees no lost updates and no double-redemption.

KEY CONCEPTS IN THIS FILE (types.go):
  - Account:      A customer's loyalty record with its point balance
  - LedgerEntry:  One immutable, atomic balance mutation (EARN or REDEEM)
  - RateSnapshot: The versioned earn/redeem conversion rates

DESIGN PRINCIPLES:
  1. Immutability: Ledger entries are never modified after commit
  2. Precision: decimal.Decimal for money, int64 for points - no floats
  3. Auditability: Every entry records the rate version and the balance
     it produced, so history is interpretable after rate changes

SEE ALSO:
  - engine.go:   Award/Redeem operations and their concurrency contract
  - store.go:    Persistence interface
  - resolver.go: Search-token to account resolution
*/
package loyalty

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type ClinicID string
type EntryID string

// =============================================================================
// ACCOUNT - A customer's loyalty standing
// =============================================================================

// Account holds one customer's point balance.
//
// INVARIANT: Balance is the sum of all committed EARN points minus all
// committed REDEEM points, and is never negative. Only the Engine's
// atomic mutation path writes it.
type Account struct {
	ID        AccountID
	Name      string
	Email     string
	Phone     string
	Balance   int64
	CreatedAt time.Time
}

// =============================================================================
// LEDGER ENTRY - Atomic change to an account balance
// =============================================================================

type EntryKind string

const (
	EntryEarn   EntryKind = "earn"   // Points credited for spend
	EntryRedeem EntryKind = "redeem" // Points debited for cash-value offset
)

// LedgerEntry is one committed balance mutation. Append-only: no entry
// is ever updated or deleted.
type LedgerEntry struct {
	ID        EntryID
	AccountID AccountID
	ClinicID  ClinicID
	Kind      EntryKind

	// EARN: the bill that produced the points. Zero for REDEEM.
	BillAmount decimal.Decimal

	// Points moved by this entry. Always positive; Delta() applies the sign.
	Points int64

	// REDEEM: cash value offset against the bill. Zero for EARN.
	CashValue decimal.Decimal

	// Rate snapshot version in effect at commit time. Frozen: later rate
	// changes never alter this entry.
	RateVersion int64

	// Account balance immediately after this entry committed.
	// Denormalized for audit.
	BalanceAfter int64

	// Client-supplied key for safe retries. Empty means the caller opted out.
	IdempotencyKey string

	CreatedAt time.Time
}

// Delta returns the signed point change this entry applied.
func (e LedgerEntry) Delta() int64 {
	if e.Kind == EntryRedeem {
		return -e.Points
	}
	return e.Points
}

// =============================================================================
// RATE SNAPSHOT - Versioned earn/redeem conversion rates
// =============================================================================

// RateSnapshot is the conversion configuration in effect at a point in
// time. Exactly one snapshot is current; superseded versions are kept
// for audit.
type RateSnapshot struct {
	// Points earned per currency unit spent.
	EarnRate decimal.Decimal

	// Cash value of one redeemed point.
	RedeemValue decimal.Decimal

	Version   int64
	UpdatedAt time.Time
}

// DefaultRates is returned when no snapshot has ever been configured,
// so EARN/REDEEM never fail for lack of configuration: 1 point per unit
// spent, each point worth 0.01.
func DefaultRates() RateSnapshot {
	return RateSnapshot{
		EarnRate:    decimal.NewFromInt(1),
		RedeemValue: decimal.New(1, -2), // 0.01
		Version:     0,
	}
}

// PointsForBill computes floor(bill * earnRate). Fractional points are
// never awarded.
func PointsForBill(bill decimal.Decimal, rates RateSnapshot) int64 {
	return bill.Mul(rates.EarnRate).Floor().IntPart()
}

// CashValueOf computes the currency value of a point count at the given
// rates.
func CashValueOf(points int64, rates RateSnapshot) decimal.Decimal {
	return decimal.NewFromInt(points).Mul(rates.RedeemValue)
}
