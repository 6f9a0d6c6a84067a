/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements loyalty.Store plus the supporting tables the API needs
  (clinic directory, promotions, admin reporting). The same patterns
  apply to PostgreSQL - only minor SQL dialect differences.

ATOMICITY:
  ApplyEntry is the correctness-critical path. The balance mutation and
  the entry insert run in one database transaction, and for REDEEM the
  sufficiency check is part of the UPDATE's WHERE clause:

    UPDATE accounts SET points_balance = points_balance - ?
    WHERE id = ? AND points_balance >= ?

  Zero rows affected means the redemption lost - either the account is
  gone or a concurrent redemption drained the balance first. There is
  no read-then-write window anywhere in this file.

KEY TABLES:
  accounts:        Customer loyalty records (balance CHECKed >= 0)
  ledger_entries:  Immutable append-only ledger
  rate_config:     Singleton current rate row (CHECK id = 'current')
  rate_history:    Every rate version ever written, for audit
  clinics:         Clinic directory
  promotions:      Promotional campaigns

IDEMPOTENCY:
  UNIQUE(account_id, idempotency_key) on ledger_entries. A retried
  commit violates the constraint and surfaces
  loyalty.ErrDuplicateIdempotencyKey; the engine then replays the
  original entry.

WAL MODE:
  SQLite is opened with WAL for better concurrency, a busy timeout so
  writers queue instead of failing, and a single connection so the
  in-process mutex and the database agree on serialization.

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - loyalty/store.go: interface definitions
  - loyalty/store/memory.go: in-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/lumina-health/loyalty-ledger/loyalty"
)

// timeLayout is RFC3339 with fixed-width nanoseconds. Timestamps are
// TEXT columns, so the format must sort lexicographically; RFC3339Nano
// trims trailing zeros and would break ORDER BY created_at.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements loyalty.Store plus directory and reporting queries.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a SQLite store at the given path. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: avoids the per-connection ":memory:" database
	// trap and makes the write mutex and SQLite agree on ordering.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Customer loyalty accounts. Balance is only written inside
	-- ApplyEntry's transaction; the CHECK is a last line of defense.
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE COLLATE NOCASE,
		phone TEXT,
		points_balance INTEGER NOT NULL DEFAULT 0 CHECK (points_balance >= 0),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_created_at
		ON accounts(created_at DESC);

	-- Ledger entries (append-only). No UPDATE or DELETE statements
	-- exist for this table.
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		clinic_id TEXT,
		kind TEXT NOT NULL CHECK (kind IN ('earn', 'redeem')),
		bill_amount TEXT NOT NULL,
		points INTEGER NOT NULL CHECK (points >= 0),
		cash_value TEXT NOT NULL,
		rate_version INTEGER NOT NULL,
		balance_after INTEGER NOT NULL CHECK (balance_after >= 0),
		idempotency_key TEXT,
		created_at TEXT NOT NULL,
		UNIQUE(account_id, idempotency_key)
	);

	CREATE INDEX IF NOT EXISTS idx_entries_account_created
		ON ledger_entries(account_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_entries_clinic_created
		ON ledger_entries(clinic_id, created_at);

	-- Singleton current rate row. The CHECK makes a second "current"
	-- row impossible regardless of races: there is exactly one id.
	CREATE TABLE IF NOT EXISTS rate_config (
		id TEXT PRIMARY KEY CHECK (id = 'current'),
		earn_rate TEXT NOT NULL,
		redeem_value TEXT NOT NULL,
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Every version ever written, so old entries stay interpretable.
	CREATE TABLE IF NOT EXISTS rate_history (
		version INTEGER PRIMARY KEY,
		earn_rate TEXT NOT NULL,
		redeem_value TEXT NOT NULL,
		recorded_at TEXT NOT NULL
	);

	-- Clinic directory
	CREATE TABLE IF NOT EXISTS clinics (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL CHECK (type IN ('aesthetic', 'medical', 'dental')),
		address TEXT,
		phone TEXT,
		email TEXT,
		operating_hours TEXT,
		services_json TEXT,
		created_at TEXT NOT NULL
	);

	-- Promotional campaigns
	CREATE TABLE IF NOT EXISTS promotions (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_promotions_active
		ON promotions(is_active, end_date);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ACCOUNTS (loyalty.Store interface)
// =============================================================================

func (s *Store) CreateAccount(ctx context.Context, a loyalty.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (id, name, email, phone, points_balance, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, a.Email, nullString(a.Phone), a.Balance,
		a.CreatedAt.Format(timeLayout), a.CreatedAt.Format(timeLayout),
	)
	if isUniqueConstraintError(err) {
		return loyalty.ErrDuplicateAccount
	}
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id loyalty.AccountID) (*loyalty.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return scanAccountRow(s.db.QueryRowContext(ctx,
		`SELECT id, name, email, phone, points_balance, created_at FROM accounts WHERE id = ?`,
		id,
	))
}

func (s *Store) SearchAccounts(ctx context.Context, term string, limit int) ([]loyalty.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Never match against the id column here: a partial phone number
	// could coincidentally collide with id formatting and hit the wrong
	// customer. Exact-id lookup goes through GetAccount only.
	pattern := "%" + escapeLike(term) + "%"
	return s.queryAccounts(ctx,
		accountSelect+`
		 WHERE name LIKE ? ESCAPE '\'
		    OR email LIKE ? ESCAPE '\'
		    OR phone LIKE ? ESCAPE '\'
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		pattern, pattern, pattern, limit,
	)
}

// ListAccounts returns accounts newest first, for the admin member view.
func (s *Store) ListAccounts(ctx context.Context, limit int) ([]loyalty.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryAccounts(ctx,
		accountSelect+` ORDER BY created_at DESC, id DESC LIMIT ?`, limit,
	)
}

const accountSelect = `
	SELECT id, name, email, phone, points_balance, created_at FROM accounts`

func (s *Store) queryAccounts(ctx context.Context, query string, args ...any) ([]loyalty.Account, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []loyalty.Account
	for rows.Next() {
		var (
			a         loyalty.Account
			phone     sql.NullString
			createdAt string
		)
		if err := rows.Scan(&a.ID, &a.Name, &a.Email, &phone, &a.Balance, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		a.Phone = phone.String
		a.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func scanAccountRow(row *sql.Row) (*loyalty.Account, error) {
	var (
		a         loyalty.Account
		phone     sql.NullString
		createdAt string
	)
	err := row.Scan(&a.ID, &a.Name, &a.Email, &phone, &a.Balance, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.Phone = phone.String
	a.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	return &a, nil
}

// =============================================================================
// LEDGER (loyalty.Store interface)
// =============================================================================

// ApplyEntry commits {balance mutation, entry append} in one database
// transaction. The sufficiency check for REDEEM is part of the UPDATE,
// so two concurrent redemptions can never both succeed against a
// balance that only covers one of them.
func (s *Store) ApplyEntry(ctx context.Context, e loyalty.LedgerEntry) (loyalty.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return loyalty.LedgerEntry{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(timeLayout)

	var res sql.Result
	switch e.Kind {
	case loyalty.EntryEarn:
		res, err = tx.ExecContext(ctx,
			`UPDATE accounts SET points_balance = points_balance + ?, updated_at = ? WHERE id = ?`,
			e.Points, now, e.AccountID,
		)
	case loyalty.EntryRedeem:
		res, err = tx.ExecContext(ctx,
			`UPDATE accounts SET points_balance = points_balance - ?, updated_at = ?
			 WHERE id = ? AND points_balance >= ?`,
			e.Points, now, e.AccountID, e.Points,
		)
	default:
		return loyalty.LedgerEntry{}, fmt.Errorf("unknown entry kind %q", e.Kind)
	}
	if err != nil {
		return loyalty.LedgerEntry{}, fmt.Errorf("failed to update balance: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return loyalty.LedgerEntry{}, err
	}
	if affected == 0 {
		// Distinguish a missing account from a lost redemption race.
		var available int64
		scanErr := tx.QueryRowContext(ctx,
			`SELECT points_balance FROM accounts WHERE id = ?`, e.AccountID,
		).Scan(&available)
		if scanErr == sql.ErrNoRows {
			return loyalty.LedgerEntry{}, loyalty.ErrAccountNotFound
		}
		if scanErr != nil {
			return loyalty.LedgerEntry{}, scanErr
		}
		return loyalty.LedgerEntry{}, &loyalty.InsufficientBalanceError{
			AccountID: e.AccountID,
			Available: available,
			Requested: e.Points,
		}
	}

	if err := tx.QueryRowContext(ctx,
		`SELECT points_balance FROM accounts WHERE id = ?`, e.AccountID,
	).Scan(&e.BalanceAfter); err != nil {
		return loyalty.LedgerEntry{}, err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO ledger_entries
		 (id, account_id, clinic_id, kind, bill_amount, points, cash_value,
		  rate_version, balance_after, idempotency_key, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.AccountID, nullString(string(e.ClinicID)), e.Kind,
		e.BillAmount.String(), e.Points, e.CashValue.String(),
		e.RateVersion, e.BalanceAfter, nullString(e.IdempotencyKey),
		e.CreatedAt.Format(timeLayout),
	)
	if isUniqueConstraintError(err) {
		return loyalty.LedgerEntry{}, loyalty.ErrDuplicateIdempotencyKey
	}
	if err != nil {
		return loyalty.LedgerEntry{}, fmt.Errorf("failed to append entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return loyalty.LedgerEntry{}, fmt.Errorf("failed to commit entry: %w", err)
	}
	return e, nil
}

func (s *Store) EntryByIdempotencyKey(ctx context.Context, id loyalty.AccountID, key string) (*loyalty.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := s.queryEntries(ctx,
		entrySelect+` WHERE account_id = ? AND idempotency_key = ? LIMIT 1`,
		id, key,
	)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

func (s *Store) EntriesByAccount(ctx context.Context, id loyalty.AccountID, q loyalty.HistoryQuery) ([]loyalty.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := entrySelect + ` WHERE account_id = ?`
	args := []any{id}
	if q.Since != nil {
		query += ` AND created_at > ?`
		args = append(args, q.Since.UTC().Format(timeLayout))
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, q.Limit)

	return s.queryEntries(ctx, query, args...)
}

func (s *Store) EntriesByClinicOnDay(ctx context.Context, clinic loyalty.ClinicID, day time.Time) ([]loyalty.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	return s.queryEntries(ctx,
		entrySelect+` WHERE clinic_id = ? AND created_at >= ? AND created_at < ?
		 ORDER BY created_at ASC, id ASC`,
		clinic, dayStart.Format(timeLayout), dayEnd.Format(timeLayout),
	)
}

const entrySelect = `
	SELECT id, account_id, clinic_id, kind, bill_amount, points, cash_value,
	       rate_version, balance_after, idempotency_key, created_at
	FROM ledger_entries`

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]loyalty.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []loyalty.LedgerEntry
	for rows.Next() {
		var (
			e          loyalty.LedgerEntry
			clinicID   sql.NullString
			billAmount string
			cashValue  string
			idemKey    sql.NullString
			createdAt  string
		)
		if err := rows.Scan(
			&e.ID, &e.AccountID, &clinicID, &e.Kind, &billAmount, &e.Points,
			&cashValue, &e.RateVersion, &e.BalanceAfter, &idemKey, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		e.ClinicID = loyalty.ClinicID(clinicID.String)
		if e.BillAmount, err = parseDecimal("bill_amount", billAmount); err != nil {
			return nil, err
		}
		if e.CashValue, err = parseDecimal("cash_value", cashValue); err != nil {
			return nil, err
		}
		e.IdempotencyKey = idemKey.String
		e.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// RATES (loyalty.Store interface)
// =============================================================================

func (s *Store) CurrentRates(ctx context.Context) (*loyalty.RateSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		snap      loyalty.RateSnapshot
		earn      string
		redeem    string
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT earn_rate, redeem_value, version, updated_at FROM rate_config WHERE id = 'current'`,
	).Scan(&earn, &redeem, &snap.Version, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if snap.EarnRate, err = parseDecimal("earn_rate", earn); err != nil {
		return nil, err
	}
	if snap.RedeemValue, err = parseDecimal("redeem_value", redeem); err != nil {
		return nil, err
	}
	snap.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	return &snap, nil
}

// UpsertRates replaces the singleton row atomically. No existence-check
// branch: INSERT .. ON CONFLICT is a single statement, so concurrent
// updates can never create a second config row.
func (s *Store) UpsertRates(ctx context.Context, earnRate, redeemValue decimal.Decimal) (loyalty.RateSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return loyalty.RateSnapshot{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO rate_config (id, earn_rate, redeem_value, version, created_at, updated_at)
		 VALUES ('current', ?, ?, 1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			earn_rate = excluded.earn_rate,
			redeem_value = excluded.redeem_value,
			version = rate_config.version + 1,
			updated_at = excluded.updated_at`,
		earnRate.String(), redeemValue.String(),
		now.Format(timeLayout), now.Format(timeLayout),
	)
	if err != nil {
		return loyalty.RateSnapshot{}, fmt.Errorf("failed to upsert rates: %w", err)
	}

	snap := loyalty.RateSnapshot{EarnRate: earnRate, RedeemValue: redeemValue, UpdatedAt: now}
	if err := tx.QueryRowContext(ctx,
		`SELECT version FROM rate_config WHERE id = 'current'`,
	).Scan(&snap.Version); err != nil {
		return loyalty.RateSnapshot{}, err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO rate_history (version, earn_rate, redeem_value, recorded_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(version) DO NOTHING`,
		snap.Version, earnRate.String(), redeemValue.String(), now.Format(timeLayout),
	); err != nil {
		return loyalty.RateSnapshot{}, err
	}

	if err := tx.Commit(); err != nil {
		return loyalty.RateSnapshot{}, fmt.Errorf("failed to commit rates: %w", err)
	}
	return snap, nil
}

// RateHistory returns all versions ever written, oldest first.
func (s *Store) RateHistory(ctx context.Context) ([]loyalty.RateSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT version, earn_rate, redeem_value, recorded_at FROM rate_history ORDER BY version ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []loyalty.RateSnapshot
	for rows.Next() {
		var (
			snap       loyalty.RateSnapshot
			earn       string
			redeem     string
			recordedAt string
		)
		if err := rows.Scan(&snap.Version, &earn, &redeem, &recordedAt); err != nil {
			return nil, err
		}
		if snap.EarnRate, err = parseDecimal("earn_rate", earn); err != nil {
			return nil, err
		}
		if snap.RedeemValue, err = parseDecimal("redeem_value", redeem); err != nil {
			return nil, err
		}
		snap.UpdatedAt, _ = time.Parse(timeLayout, recordedAt)
		history = append(history, snap)
	}
	return history, rows.Err()
}

// =============================================================================
// CLINIC DIRECTORY
// =============================================================================

// Clinic is a directory record. No ledger logic attaches to it; entries
// only carry clinic ids for attribution.
type Clinic struct {
	ID             loyalty.ClinicID
	Name           string
	Type           string // aesthetic, medical, dental
	Address        string
	Phone          string
	Email          string
	OperatingHours string
	Services       []string
	CreatedAt      time.Time
}

func (s *Store) SaveClinic(ctx context.Context, c Clinic) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	servicesJSON, err := json.Marshal(c.Services)
	if err != nil {
		return fmt.Errorf("failed to marshal services: %w", err)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO clinics (id, name, type, address, phone, email, operating_hours, services_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			address = excluded.address,
			phone = excluded.phone,
			email = excluded.email,
			operating_hours = excluded.operating_hours,
			services_json = excluded.services_json`,
		c.ID, c.Name, c.Type, nullString(c.Address), nullString(c.Phone),
		nullString(c.Email), nullString(c.OperatingHours), string(servicesJSON),
		c.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to save clinic: %w", err)
	}
	return nil
}

func (s *Store) GetClinic(ctx context.Context, id loyalty.ClinicID) (*Clinic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clinics, err := s.queryClinics(ctx, clinicSelect+` WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(clinics) == 0 {
		return nil, nil
	}
	return &clinics[0], nil
}

func (s *Store) ListClinics(ctx context.Context) ([]Clinic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryClinics(ctx, clinicSelect+` ORDER BY name ASC`)
}

const clinicSelect = `
	SELECT id, name, type, address, phone, email, operating_hours, services_json, created_at
	FROM clinics`

func (s *Store) queryClinics(ctx context.Context, query string, args ...any) ([]Clinic, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query clinics: %w", err)
	}
	defer rows.Close()

	var clinics []Clinic
	for rows.Next() {
		var (
			c            Clinic
			address      sql.NullString
			phone        sql.NullString
			email        sql.NullString
			hours        sql.NullString
			servicesJSON sql.NullString
			createdAt    string
		)
		if err := rows.Scan(&c.ID, &c.Name, &c.Type, &address, &phone, &email,
			&hours, &servicesJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan clinic: %w", err)
		}
		c.Address = address.String
		c.Phone = phone.String
		c.Email = email.String
		c.OperatingHours = hours.String
		if servicesJSON.Valid && servicesJSON.String != "" {
			if err := json.Unmarshal([]byte(servicesJSON.String), &c.Services); err != nil {
				return nil, fmt.Errorf("failed to unmarshal services: %w", err)
			}
		}
		c.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		clinics = append(clinics, c)
	}
	return clinics, rows.Err()
}

// =============================================================================
// PROMOTIONS
// =============================================================================

// Promotion is a campaign record shown on customer dashboards.
type Promotion struct {
	ID          string
	Title       string
	Description string
	StartDate   time.Time
	EndDate     time.Time
	IsActive    bool
	CreatedAt   time.Time
}

func (s *Store) SavePromotion(ctx context.Context, p Promotion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO promotions (id, title, description, start_date, end_date, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			is_active = excluded.is_active`,
		p.ID, p.Title, nullString(p.Description),
		p.StartDate.UTC().Format(timeLayout), p.EndDate.UTC().Format(timeLayout),
		p.IsActive, p.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to save promotion: %w", err)
	}
	return nil
}

// ListPromotions returns promotions newest first, optionally filtered to
// active campaigns whose window covers now.
func (s *Store) ListPromotions(ctx context.Context, activeOnly bool) ([]Promotion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, title, description, start_date, end_date, is_active, created_at FROM promotions`
	var args []any
	if activeOnly {
		now := time.Now().UTC().Format(timeLayout)
		query += ` WHERE is_active = TRUE AND start_date <= ? AND end_date >= ?`
		args = append(args, now, now)
	}
	query += ` ORDER BY start_date DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query promotions: %w", err)
	}
	defer rows.Close()

	var promos []Promotion
	for rows.Next() {
		var (
			p          Promotion
			desc       sql.NullString
			start, end string
			createdAt  string
		)
		if err := rows.Scan(&p.ID, &p.Title, &desc, &start, &end, &p.IsActive, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan promotion: %w", err)
		}
		p.Description = desc.String
		p.StartDate, _ = time.Parse(timeLayout, start)
		p.EndDate, _ = time.Parse(timeLayout, end)
		p.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		promos = append(promos, p)
	}
	return promos, rows.Err()
}

// =============================================================================
// ADMIN REPORTING
// =============================================================================

// Stats is the admin dashboard summary. Computed by aggregates over the
// authoritative tables, never from cached UI state.
type Stats struct {
	TotalAccounts       int64
	PointsInCirculation int64
	EarnCount           int64
	RedeemCount         int64
	TotalBilled         decimal.Decimal
	Clinics             []ClinicStat
}

// ClinicStat summarizes one clinic's earn activity.
type ClinicStat struct {
	ClinicID   loyalty.ClinicID
	Name       string
	EntryCount int64
	Billed     decimal.Decimal
}

func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &Stats{TotalBilled: decimal.Zero}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(points_balance), 0) FROM accounts`,
	).Scan(&stats.TotalAccounts, &stats.PointsInCirculation); err != nil {
		return nil, err
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT
			COALESCE(SUM(CASE WHEN kind = 'earn' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN kind = 'redeem' THEN 1 ELSE 0 END), 0)
		 FROM ledger_entries`,
	).Scan(&stats.EarnCount, &stats.RedeemCount); err != nil {
		return nil, err
	}

	// Bill amounts are stored as decimal strings; sum them in Go rather
	// than trusting float arithmetic with money.
	rows, err := s.db.QueryContext(ctx,
		`SELECT e.clinic_id, COALESCE(c.name, ''), e.bill_amount
		 FROM ledger_entries e
		 LEFT JOIN clinics c ON c.id = e.clinic_id
		 WHERE e.kind = 'earn' AND e.clinic_id IS NOT NULL
		 ORDER BY e.clinic_id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	perClinic := make(map[loyalty.ClinicID]*ClinicStat)
	var order []loyalty.ClinicID
	for rows.Next() {
		var (
			clinicID loyalty.ClinicID
			name     string
			bill     string
		)
		if err := rows.Scan(&clinicID, &name, &bill); err != nil {
			return nil, err
		}
		cs, ok := perClinic[clinicID]
		if !ok {
			cs = &ClinicStat{ClinicID: clinicID, Name: name, Billed: decimal.Zero}
			perClinic[clinicID] = cs
			order = append(order, clinicID)
		}
		billed, err := parseDecimal("bill_amount", bill)
		if err != nil {
			return nil, err
		}
		cs.EntryCount++
		cs.Billed = cs.Billed.Add(billed)
		stats.TotalBilled = stats.TotalBilled.Add(billed)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range order {
		stats.Clinics = append(stats.Clinics, *perClinic[id])
	}
	return stats, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// parseDecimal fails loudly on an unparsable stored amount. Amounts are
// only ever written through decimal.String, so a parse failure means the
// row was corrupted and must not be silently read back as zero.
func parseDecimal(column, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("corrupt %s %q: %w", column, s, err)
	}
	return d, nil
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
