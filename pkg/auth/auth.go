// Package auth authenticates callers of the HTTP transport.
//
// Authenticators are chained and vote Yes (identity established), No
// (credentials present but invalid) or Abstain (credentials of a kind
// they do not handle). The first non-abstaining vote wins; when every
// authenticator abstains the chain falls back to its default.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// Decision is an authenticator's vote.
type Decision int

const (
	Yes Decision = iota
	No
	Abstain
)

func (d Decision) String() string {
	switch d {
	case Yes:
		return "yes"
	case No:
		return "no"
	default:
		return "abstain"
	}
}

// Result is the outcome of one authentication attempt. Identity is set
// only for Yes, Err only for No.
type Result struct {
	Decision Decision
	Identity *Identity
	Err      error
}

// Identity is an authenticated caller.
type Identity struct {
	Subject string

	// Tenant scopes the session ledger. Empty means the shared namespace.
	Tenant string

	// Tier selects the rate limit bucket.
	Tier   string
	Scopes []string
}

// Anonymous is the identity granted when the chain allows unauthenticated
// access.
func Anonymous() *Identity {
	return &Identity{Subject: "anonymous", Tier: "default"}
}

// Authenticator inspects request credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) Result
}

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrTooManyRequests = errors.New("rate limit exceeded")
)

// Chain evaluates authenticators in order.
type Chain struct {
	Authenticators []Authenticator

	// AllowAnonymous admits requests no authenticator claimed.
	AllowAnonymous bool
}

// Authenticate returns the first Yes or No vote, or the default when all
// authenticators abstain.
func (c *Chain) Authenticate(ctx context.Context, r *http.Request) Result {
	for _, a := range c.Authenticators {
		if res := a.Authenticate(ctx, r); res.Decision != Abstain {
			return res
		}
	}
	if c.AllowAnonymous {
		return Result{Decision: Yes, Identity: Anonymous()}
	}
	return Result{Decision: No, Err: ErrUnauthenticated}
}

// BearerToken extracts the token of a Bearer Authorization header. ok is
// false when the request carries no bearer credentials at all.
func BearerToken(r *http.Request) (token string, ok bool) {
	header := r.Header.Get("Authorization")
	scheme, rest, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	return strings.TrimSpace(rest), true
}

type identityKey struct{}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity stored in ctx, or nil.
func IdentityFrom(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}
