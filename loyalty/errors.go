/*
errors.go - Centralized error types for the loyalty ledger

PURPOSE:
  All expected, typed outcomes of normal operation in one place. None of
  these are raised as uncaught faults: the API layer maps each kind to a
  status code and a human-readable message, never exposing raw storage
  error text.

ERROR CATEGORIES:
  1. Validation errors - bad amounts, recovered by re-prompting
  2. Resolution errors - account not found / ambiguous match
  3. Concurrency errors - insufficient balance detected at commit time
  4. Configuration errors - rate storage unreachable (retryable)

USAGE:
  Callers branch with errors.Is():

    if errors.Is(err, loyalty.ErrInsufficientBalance) {
        // show "insufficient points", balance unchanged
    }
*/
package loyalty

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidAmount is returned for a non-positive bill amount or
	// point count. Recovered locally by the caller.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrAccountNotFound is returned when the resolver finds zero
	// matches, or when an award/redeem target vanished between
	// resolution and mutation.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAmbiguousMatch is returned by the resolver in strict mode when
	// a substring query matches more than one account.
	ErrAmbiguousMatch = errors.New("multiple accounts match")

	// ErrInsufficientBalance is returned when a redemption exceeds the
	// authoritative balance, including the case where a concurrent
	// redemption won the race. Never partially applied.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrDuplicateIdempotencyKey is returned by stores when an entry
	// with the same (account, key) already committed. The engine turns
	// this into a replay of the original entry.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrConfigurationUnavailable is returned when rate storage is
	// unreachable after retry. Transient and retryable.
	ErrConfigurationUnavailable = errors.New("rate configuration unavailable")

	// ErrDuplicateAccount is returned when registering an account whose
	// id or email already exists.
	ErrDuplicateAccount = errors.New("account already exists")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError reports how short a redemption fell.
type InsufficientBalanceError struct {
	AccountID AccountID
	Available int64
	Requested int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for account %s: available %d, requested %d",
		e.AccountID, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// AmbiguousMatchError reports how many accounts a token matched.
type AmbiguousMatchError struct {
	Token   string
	Matches int
}

func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("token %q matches %d accounts", e.Token, e.Matches)
}

func (e *AmbiguousMatchError) Unwrap() error {
	return ErrAmbiguousMatch
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller
// input rather than a system fault.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrAmbiguousMatch) ||
		errors.Is(err, ErrDuplicateAccount)
}

// IsNotFound returns true if the error indicates a missing account.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound)
}

// IsRetryable returns true if the operation might succeed on retry.
// Mutating operations must only be retried under an idempotency key.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConfigurationUnavailable)
}
