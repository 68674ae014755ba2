// Package jwt authenticates RS256/384/512 bearer tokens whose signing keys
// are published at a JWKS endpoint.
package jwt

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/yingchuan/mcp-code-sandbox/pkg/auth"
	"github.com/yingchuan/mcp-code-sandbox/pkg/debug"
)

// Config configures token validation. Empty Issuer or Audience disables
// that check.
type Config struct {
	Issuer   string
	Audience string
	JWKSURL  string

	TenantClaim string // default "tenant_id"
	TierClaim   string // default "tier"

	// CacheTTL bounds how long fetched keys are trusted. Default 1h.
	CacheTTL time.Duration

	// MinRefresh limits JWKS fetches triggered by unknown key ids.
	// Default 30s.
	MinRefresh time.Duration

	HTTPClient *http.Client
}

func (c *Config) defaults() {
	if c.TenantClaim == "" {
		c.TenantClaim = "tenant_id"
	}
	if c.TierClaim == "" {
		c.TierClaim = "tier"
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = time.Hour
	}
	if c.MinRefresh <= 0 {
		c.MinRefresh = 30 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
}

// Authenticator validates JWT bearer tokens.
type Authenticator struct {
	cfg    Config
	parser *jwtlib.Parser
	keys   *keySet
}

// New creates an Authenticator. Keys are fetched lazily on first use.
func New(cfg Config) *Authenticator {
	cfg.defaults()

	opts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithLeeway(30 * time.Second),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwtlib.WithAudience(cfg.Audience))
	}

	return &Authenticator{
		cfg:    cfg,
		parser: jwtlib.NewParser(opts...),
		keys: &keySet{
			url:        cfg.JWKSURL,
			ttl:        cfg.CacheTTL,
			minRefresh: cfg.MinRefresh,
			client:     cfg.HTTPClient,
			keys:       map[string]*rsa.PublicKey{},
		},
	}
}

// Authenticate abstains without bearer credentials and votes No for any
// token that fails validation.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) auth.Result {
	raw, ok := auth.BearerToken(r)
	if !ok {
		return auth.Result{Decision: auth.Abstain}
	}
	if raw == "" {
		return auth.Result{Decision: auth.No, Err: errors.New("empty bearer token")}
	}

	claims := jwtlib.MapClaims{}
	_, err := a.parser.ParseWithClaims(raw, claims, func(t *jwtlib.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token has no kid header")
		}
		return a.keys.get(ctx, kid)
	})
	if err != nil {
		debug.Log("auth", "jwt rejected", "error", err)
		return auth.Result{Decision: auth.No, Err: fmt.Errorf("invalid token: %w", err)}
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return auth.Result{Decision: auth.No, Err: errors.New("token has no subject")}
	}

	id := &auth.Identity{
		Subject: sub,
		Tenant:  stringClaim(claims, a.cfg.TenantClaim),
		Tier:    stringClaim(claims, a.cfg.TierClaim),
		Scopes:  scopes(claims["scope"]),
	}
	if id.Tier == "" {
		id.Tier = "default"
	}
	return auth.Result{Decision: auth.Yes, Identity: id}
}

func stringClaim(claims jwtlib.MapClaims, name string) string {
	s, _ := claims[name].(string)
	return s
}

// scopes accepts a space-separated string or an array of strings.
func scopes(v any) []string {
	switch s := v.(type) {
	case string:
		if f := strings.Fields(s); len(f) > 0 {
			return f
		}
	case []any:
		var out []string
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

// keySet caches RSA keys by kid.
type keySet struct {
	url        string
	ttl        time.Duration
	minRefresh time.Duration
	client     *http.Client

	mu          sync.Mutex
	keys        map[string]*rsa.PublicKey
	fetchedAt   time.Time
	lastAttempt time.Time
}

func (k *keySet) get(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	fresh := time.Since(k.fetchedAt) < k.ttl
	if key, ok := k.keys[kid]; ok && fresh {
		return key, nil
	}
	// An unknown kid in a fresh set refetches, but not more often than
	// minRefresh.
	if fresh && time.Since(k.lastAttempt) < k.minRefresh {
		return nil, fmt.Errorf("signing key %q not found", kid)
	}

	if err := k.refresh(ctx); err != nil {
		return nil, err
	}
	key, ok := k.keys[kid]
	if !ok {
		return nil, fmt.Errorf("signing key %q not found", kid)
	}
	return key, nil
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// refresh replaces the cached keys. Callers hold k.mu.
func (k *keySet) refresh(ctx context.Context) error {
	k.lastAttempt = time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.url, nil)
	if err != nil {
		return fmt.Errorf("building JWKS request: %w", err)
	}
	resp, err := k.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching JWKS: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetching JWKS: HTTP %d", resp.StatusCode)
	}

	var doc struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("decoding JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, j := range doc.Keys {
		if j.Kty != "RSA" || (j.Use != "" && j.Use != "sig") {
			continue
		}
		pub, err := rsaKey(j)
		if err != nil {
			slog.Warn("skipping JWKS key", "kid", j.Kid, "error", err)
			continue
		}
		keys[j.Kid] = pub
	}
	k.keys = keys
	k.fetchedAt = time.Now()
	debug.Log("auth", "JWKS refreshed", "keys", len(keys), "url", k.url)
	return nil
}

func rsaKey(j jwk) (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(j.N)
	if err != nil {
		return nil, fmt.Errorf("decoding modulus: %w", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(j.E)
	if err != nil {
		return nil, fmt.Errorf("decoding exponent: %w", err)
	}
	exp := new(big.Int).SetBytes(e)
	if !exp.IsInt64() || exp.Int64() > 1<<31-1 {
		return nil, errors.New("exponent out of range")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(exp.Int64())}, nil
}
