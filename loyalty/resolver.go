/*
resolver.go - Search-token to account resolution

PURPOSE:
  Staff identify a customer by scanning their QR code or typing a
  fragment of their name, email, or phone number. The resolver maps
  that single freeform token to exactly one account, or reports an
  explicit not-found.

RESOLUTION ORDER:
  1. Structured payload (decoded QR content with an embedded account
     id): exact id match, highest confidence, bypasses substring
     ambiguity entirely.
  2. Token that is syntactically a valid UUID: exact id match, falling
     back to substring search on a miss.
  3. Anything else: substring match across name, email, and phone.

THE ID GUARD:
  Exact-id matching only ever happens for tokens that parse as UUIDs.
  Matching an arbitrary search string against the id column is
  forbidden: a clinic name or partial phone number could coincidentally
  collide with stored id formatting and hit the wrong customer. This is
  a correctness rule, not a style preference.

TIE-BREAK:
  When a substring query matches several accounts the most recently
  created one wins, so staff lookup always produces an actionable
  result. Set Strict to surface AmbiguousMatchError instead.
*/
package loyalty

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// searchLimit bounds a substring query. One extra row beyond the first
// is enough to detect ambiguity in strict mode.
const searchLimit = 10

// PayloadDecoder extracts an embedded account id from structured token
// content (e.g. decoded QR data). Returns ok=false for anything that is
// not a well-formed payload; the resolver then falls back to substring
// search on the raw token. Pure function, pluggable.
type PayloadDecoder func(raw string) (AccountID, bool)

// Resolver maps a staff-supplied search token to one account.
type Resolver struct {
	Store  Store
	Decode PayloadDecoder

	// Strict surfaces AmbiguousMatchError instead of tie-breaking.
	Strict bool
}

// NewResolver creates a resolver with the given payload decoder.
// Decode may be nil when no structured tokens are expected.
func NewResolver(store Store, decode PayloadDecoder) *Resolver {
	return &Resolver{Store: store, Decode: decode}
}

// Resolve returns the single account the token identifies.
// Fails with ErrAccountNotFound or, in strict mode, ErrAmbiguousMatch.
func (r *Resolver) Resolve(ctx context.Context, token string) (*Account, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrAccountNotFound
	}

	// Structured payload with an embedded id: the scan either
	// identifies the customer or it doesn't. No substring fallback for
	// a payload that decoded cleanly - searching the feed of a deleted
	// account's QR JSON against name/email would be nonsense.
	if r.Decode != nil {
		if id, ok := r.Decode(token); ok {
			return r.byID(ctx, id)
		}
	}

	// Raw UUID typed or pasted in: exact match first. On a miss the
	// token still goes through substring search, which deterministically
	// returns not-found for a UUID that matches nothing.
	if _, err := uuid.Parse(token); err == nil {
		acct, err := r.byID(ctx, AccountID(token))
		if err == nil {
			return acct, nil
		}
		if !IsNotFound(err) {
			return nil, err
		}
	}

	return r.bySubstring(ctx, token)
}

func (r *Resolver) byID(ctx context.Context, id AccountID) (*Account, error) {
	acct, err := retryRead(ctx, func() (*Account, error) {
		return r.Store.GetAccount(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, ErrAccountNotFound
	}
	return acct, nil
}

func (r *Resolver) bySubstring(ctx context.Context, term string) (*Account, error) {
	matches, err := retryRead(ctx, func() ([]Account, error) {
		return r.Store.SearchAccounts(ctx, term, searchLimit)
	})
	if err != nil {
		return nil, err
	}

	switch {
	case len(matches) == 0:
		return nil, ErrAccountNotFound
	case len(matches) > 1 && r.Strict:
		return nil, &AmbiguousMatchError{Token: term, Matches: len(matches)}
	default:
		// Store ordering guarantees newest-created first.
		return &matches[0], nil
	}
}
