/*
store.go - Persistence interface for accounts, entries, and rates

PURPOSE:
  Defines the interface between the ledger logic and the database. Any
  engine that offers an atomic conditional write is sufficient; the
  SQLite implementation uses a transaction per mutation, the in-memory
  implementation a mutex.

THE CRITICAL METHOD:
  ApplyEntry() is the single shared-resource write path. It must apply
  {balance mutation, entry append} as one atomic step, re-checking
  redemption sufficiency at commit time. A read-then-write implementation
  without that guard is a defect: two concurrent awards would lose an
  update, and two concurrent redemptions could drive the balance negative.

APPEND-ONLY CONTRACT:
  Ledger entries have no Update or Delete. Idempotency keys are enforced
  per account: a second ApplyEntry with a seen key fails with
  ErrDuplicateIdempotencyKey and the engine replays the original entry.

IMPLEMENTATIONS:
  - store/sqlite: production store (also carries clinic directory,
    promotions, and reporting queries)
  - loyalty/store: in-memory store for tests and dev

SEE ALSO:
  - engine.go: the only caller of ApplyEntry
*/
package loyalty

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// HistoryQuery narrows a per-account history read.
type HistoryQuery struct {
	// Only entries strictly after Since, when set.
	Since *time.Time

	// Page size. Implementations apply a default when zero.
	Limit int
}

// Store handles persistence for the ledger core.
type Store interface {
	// CreateAccount registers a new account with a zero balance.
	// Fails with ErrDuplicateAccount on id or email collision.
	CreateAccount(ctx context.Context, a Account) error

	// GetAccount returns the account, or (nil, nil) when absent.
	GetAccount(ctx context.Context, id AccountID) (*Account, error)

	// SearchAccounts substring-matches term against name, email, and
	// phone - never against the id column - ordered newest-created
	// first. The ordering is the resolver's deterministic tie-break.
	SearchAccounts(ctx context.Context, term string, limit int) ([]Account, error)

	// ApplyEntry atomically mutates the account balance and appends the
	// entry, filling BalanceAfter and CreatedAt. For REDEEM the
	// sufficiency check happens inside the same atomic step.
	// Fails with ErrAccountNotFound, ErrInsufficientBalance, or
	// ErrDuplicateIdempotencyKey; on failure nothing is applied.
	ApplyEntry(ctx context.Context, e LedgerEntry) (LedgerEntry, error)

	// EntryByIdempotencyKey returns the committed entry for (account,
	// key), or (nil, nil) when the key has not been seen.
	EntryByIdempotencyKey(ctx context.Context, id AccountID, key string) (*LedgerEntry, error)

	// EntriesByAccount returns the account's entries newest first.
	EntriesByAccount(ctx context.Context, id AccountID, q HistoryQuery) ([]LedgerEntry, error)

	// EntriesByClinicOnDay returns all entries attributed to the clinic
	// on the given UTC day, in chronological order.
	EntriesByClinicOnDay(ctx context.Context, clinic ClinicID, day time.Time) ([]LedgerEntry, error)

	// CurrentRates returns the authoritative snapshot, or (nil, nil)
	// when rates have never been configured.
	CurrentRates(ctx context.Context) (*RateSnapshot, error)

	// UpsertRates atomically replaces the current snapshot (creating it
	// on first use) and advances its version. Must never leave two
	// "current" rows behind, regardless of concurrent calls.
	UpsertRates(ctx context.Context, earnRate, redeemValue decimal.Decimal) (RateSnapshot, error)
}
