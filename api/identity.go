/*
identity.go - Caller identity extracted from trusted gateway headers

PURPOSE:
  Authentication lives at the edge (an API gateway terminates the
  session and injects identity headers); this service only consumes the
  result. IdentityProvider abstracts how the identity arrives so tests
  can inject one directly.

ROLES:
  customer: May read their own account, history, clinics, promotions
  staff:    May resolve accounts and post awards/redemptions
  admin:    May additionally manage rates, clinics, promotions, stats

SECURITY NOTE:
  HeaderIdentity trusts X-Subject-ID / X-Role / X-Clinic-ID blindly.
  That is only sound behind a gateway that strips client-supplied
  copies of these headers. Do not expose this service directly.
*/
package api

import (
	"context"
	"net/http"

	"github.com/lumina-health/loyalty-ledger/loyalty"
)

// Role is the caller's access level.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleStaff    Role = "staff"
	RoleAdmin    Role = "admin"
)

// Identity describes the authenticated caller.
type Identity struct {
	SubjectID loyalty.AccountID
	Role      Role
	ClinicID  loyalty.ClinicID
}

// Allows reports whether the identity holds at least the given role.
// Admin satisfies every check.
func (id Identity) Allows(required Role) bool {
	switch required {
	case RoleCustomer:
		return true
	case RoleStaff:
		return id.Role == RoleStaff || id.Role == RoleAdmin
	case RoleAdmin:
		return id.Role == RoleAdmin
	default:
		return false
	}
}

// IdentityProvider extracts the caller's identity from a request.
type IdentityProvider interface {
	Identify(r *http.Request) Identity
}

// HeaderIdentity reads identity from gateway-injected headers. Missing
// or unknown role headers default to customer, the least privileged.
type HeaderIdentity struct{}

func (HeaderIdentity) Identify(r *http.Request) Identity {
	id := Identity{
		SubjectID: loyalty.AccountID(r.Header.Get("X-Subject-ID")),
		ClinicID:  loyalty.ClinicID(r.Header.Get("X-Clinic-ID")),
		Role:      RoleCustomer,
	}
	switch Role(r.Header.Get("X-Role")) {
	case RoleStaff:
		id.Role = RoleStaff
	case RoleAdmin:
		id.Role = RoleAdmin
	}
	return id
}

type identityKey struct{}

// WithIdentity stores the caller identity on the request context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity placed on the context by the
// middleware; zero-value customer identity when absent.
func IdentityFrom(ctx context.Context) Identity {
	if id, ok := ctx.Value(identityKey{}).(Identity); ok {
		return id
	}
	return Identity{Role: RoleCustomer}
}
