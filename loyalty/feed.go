/*
feed.go - Activity feed over the ledger

PURPOSE:
  Read side of the ledger: per-customer statements (newest first) and
  per-clinic daily reports (chronological). Both are views over the
  same append-only entries the engine writes - there is no separate
  reporting table to drift out of sync.

READ-YOUR-WRITES:
  Reads go to the same authoritative store the engine commits to, so an
  entry returned by Award/Redeem is visible to any History call issued
  afterward. No replica lag is possible by construction.
*/
package loyalty

import (
	"context"
	"time"
)

// defaultHistoryLimit caps an unbounded statement read.
const defaultHistoryLimit = 50

// Feed queries committed ledger entries.
type Feed struct {
	Store Store
}

// NewFeed creates a feed over the given store.
func NewFeed(store Store) *Feed {
	return &Feed{Store: store}
}

// History returns the account's entries, newest first. q.Since is a
// changes-since filter: only entries created strictly after it are
// returned, so pollers pass the newest timestamp they have already
// seen. It is not a backward-paging cursor.
func (f *Feed) History(ctx context.Context, id AccountID, q HistoryQuery) ([]LedgerEntry, error) {
	if q.Limit <= 0 {
		q.Limit = defaultHistoryLimit
	}
	return retryRead(ctx, func() ([]LedgerEntry, error) {
		return f.Store.EntriesByAccount(ctx, id, q)
	})
}

// DailyByClinic returns every entry attributed to the clinic on the
// given day (UTC), in chronological order, for end-of-day reporting.
func (f *Feed) DailyByClinic(ctx context.Context, clinic ClinicID, day time.Time) ([]LedgerEntry, error) {
	day = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	return retryRead(ctx, func() ([]LedgerEntry, error) {
		return f.Store.EntriesByClinicOnDay(ctx, clinic, day)
	})
}
