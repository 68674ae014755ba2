// Package apikey authenticates bearer tokens against a static set of API
// keys. Only SHA-256 digests of the keys are kept in memory.
package apikey

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strconv"

	"github.com/yingchuan/mcp-code-sandbox/pkg/auth"
)

// Key is one configured API key and the identity it grants.
type Key struct {
	Key     string
	Subject string
	Tenant  string
	Tier    string
}

type entry struct {
	digest   [32]byte
	identity auth.Identity
}

// Authenticator validates bearer tokens.
type Authenticator struct {
	entries []entry
}

// New hashes keys. Keys without a subject are identified by their index.
func New(keys []Key) *Authenticator {
	a := &Authenticator{entries: make([]entry, 0, len(keys))}
	for _, k := range keys {
		if k.Key == "" {
			continue
		}
		tier := k.Tier
		if tier == "" {
			tier = "default"
		}
		a.entries = append(a.entries, entry{
			digest:   sha256.Sum256([]byte(k.Key)),
			identity: auth.Identity{Subject: k.Subject, Tenant: k.Tenant, Tier: tier},
		})
	}
	return a
}

// Len returns the number of usable keys.
func (a *Authenticator) Len() int { return len(a.entries) }

// Authenticate abstains without bearer credentials and votes No for an
// unknown key. Every entry is compared to keep timing independent of
// which key matched.
func (a *Authenticator) Authenticate(_ context.Context, r *http.Request) auth.Result {
	token, ok := auth.BearerToken(r)
	if !ok {
		return auth.Result{Decision: auth.Abstain}
	}
	if token == "" {
		return auth.Result{Decision: auth.No, Err: auth.ErrUnauthenticated}
	}

	digest := sha256.Sum256([]byte(token))
	match := -1
	for i, e := range a.entries {
		if subtle.ConstantTimeCompare(digest[:], e.digest[:]) == 1 && match < 0 {
			match = i
		}
	}
	if match < 0 {
		return auth.Result{Decision: auth.No, Err: auth.ErrUnauthenticated}
	}

	id := a.entries[match].identity
	if id.Subject == "" {
		id.Subject = "apikey-" + strconv.Itoa(match)
	}
	return auth.Result{Decision: auth.Yes, Identity: &id}
}
