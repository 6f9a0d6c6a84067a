// Package store provides an in-memory loyalty.Store for tests and dev.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lumina-health/loyalty-ledger/loyalty"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements loyalty.Store with the same atomicity guarantees as
// the SQLite store: every mutation happens under one lock, so the
// balance check and the entry append are a single step.
type Memory struct {
	mu          sync.RWMutex
	accounts    map[loyalty.AccountID]*loyalty.Account
	entries     map[loyalty.AccountID][]loyalty.LedgerEntry
	idempotency map[idemKey]loyalty.LedgerEntry
	rates       *loyalty.RateSnapshot
	rateHistory []loyalty.RateSnapshot
}

type idemKey struct {
	Account loyalty.AccountID
	Key     string
}

func NewMemory() *Memory {
	return &Memory{
		accounts:    make(map[loyalty.AccountID]*loyalty.Account),
		entries:     make(map[loyalty.AccountID][]loyalty.LedgerEntry),
		idempotency: make(map[idemKey]loyalty.LedgerEntry),
	}
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (m *Memory) CreateAccount(_ context.Context, a loyalty.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[a.ID]; ok {
		return loyalty.ErrDuplicateAccount
	}
	for _, existing := range m.accounts {
		if strings.EqualFold(existing.Email, a.Email) {
			return loyalty.ErrDuplicateAccount
		}
	}

	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	stored := a
	m.accounts[a.ID] = &stored
	return nil
}

func (m *Memory) GetAccount(_ context.Context, id loyalty.AccountID) (*loyalty.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acct, ok := m.accounts[id]
	if !ok {
		return nil, nil
	}
	out := *acct
	return &out, nil
}

func (m *Memory) SearchAccounts(_ context.Context, term string, limit int) ([]loyalty.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	term = strings.ToLower(term)
	var matches []loyalty.Account
	for _, acct := range m.accounts {
		if strings.Contains(strings.ToLower(acct.Name), term) ||
			strings.Contains(strings.ToLower(acct.Email), term) ||
			(acct.Phone != "" && strings.Contains(acct.Phone, term)) {
			matches = append(matches, *acct)
		}
	}

	// Newest created first; id as a stable tie-break for equal timestamps.
	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].CreatedAt.After(matches[j].CreatedAt)
		}
		return matches[i].ID > matches[j].ID
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// =============================================================================
// LEDGER
// =============================================================================

func (m *Memory) ApplyEntry(_ context.Context, e loyalty.LedgerEntry) (loyalty.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.IdempotencyKey != "" {
		if _, seen := m.idempotency[idemKey{e.AccountID, e.IdempotencyKey}]; seen {
			return loyalty.LedgerEntry{}, loyalty.ErrDuplicateIdempotencyKey
		}
	}

	acct, ok := m.accounts[e.AccountID]
	if !ok {
		return loyalty.LedgerEntry{}, loyalty.ErrAccountNotFound
	}

	if e.Kind == loyalty.EntryRedeem && acct.Balance < e.Points {
		return loyalty.LedgerEntry{}, &loyalty.InsufficientBalanceError{
			AccountID: e.AccountID,
			Available: acct.Balance,
			Requested: e.Points,
		}
	}

	acct.Balance += e.Delta()
	e.BalanceAfter = acct.Balance
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	m.entries[e.AccountID] = append(m.entries[e.AccountID], e)
	if e.IdempotencyKey != "" {
		m.idempotency[idemKey{e.AccountID, e.IdempotencyKey}] = e
	}
	return e, nil
}

func (m *Memory) EntryByIdempotencyKey(_ context.Context, id loyalty.AccountID, key string) (*loyalty.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.idempotency[idemKey{id, key}]
	if !ok {
		return nil, nil
	}
	out := entry
	return &out, nil
}

func (m *Memory) EntriesByAccount(_ context.Context, id loyalty.AccountID, q loyalty.HistoryQuery) ([]loyalty.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.entries[id]
	var result []loyalty.LedgerEntry
	// Entries are stored in commit order; walk backwards for newest first.
	for i := len(all) - 1; i >= 0; i-- {
		e := all[i]
		if q.Since != nil && !e.CreatedAt.After(*q.Since) {
			continue
		}
		result = append(result, e)
		if q.Limit > 0 && len(result) == q.Limit {
			break
		}
	}
	return result, nil
}

func (m *Memory) EntriesByClinicOnDay(_ context.Context, clinic loyalty.ClinicID, day time.Time) ([]loyalty.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	var result []loyalty.LedgerEntry
	for _, entries := range m.entries {
		for _, e := range entries {
			if e.ClinicID != clinic {
				continue
			}
			if e.CreatedAt.Before(dayStart) || !e.CreatedAt.Before(dayEnd) {
				continue
			}
			result = append(result, e)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// =============================================================================
// RATES
// =============================================================================

func (m *Memory) CurrentRates(_ context.Context) (*loyalty.RateSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.rates == nil {
		return nil, nil
	}
	out := *m.rates
	return &out, nil
}

func (m *Memory) UpsertRates(_ context.Context, earnRate, redeemValue decimal.Decimal) (loyalty.RateSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var version int64 = 1
	if m.rates != nil {
		version = m.rates.Version + 1
	}

	snap := loyalty.RateSnapshot{
		EarnRate:    earnRate,
		RedeemValue: redeemValue,
		Version:     version,
		UpdatedAt:   time.Now().UTC(),
	}
	m.rates = &snap
	m.rateHistory = append(m.rateHistory, snap)
	return snap, nil
}

// RateHistory returns all versions ever written, oldest first.
// Audit helper; not part of loyalty.Store.
func (m *Memory) RateHistory() []loyalty.RateSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history := make([]loyalty.RateSnapshot, len(m.rateHistory))
	copy(history, m.rateHistory)
	return history
}
