// Package memory provides an in-memory session ledger bounded by an LRU.
// History is lost when the process restarts.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/yingchuan/mcp-code-sandbox/pkg/storage"
)

// DefaultMaxSize is used when New is given a size <= 0.
const DefaultMaxSize = 1000

// Store is an in-memory storage.Ledger. When full, the least recently
// written record is evicted.
type Store struct {
	mu      sync.Mutex
	records *lru.Cache[string, *storage.SessionRecord]

	// latest maps tenant+session id to the newest record id.
	latest map[string]string
}

var _ storage.Ledger = (*Store)(nil)

// New creates a ledger holding at most maxSize records.
func New(maxSize int) *Store {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	s := &Store{latest: make(map[string]string)}
	// NewWithEvict only fails for a non-positive size.
	s.records, _ = lru.NewWithEvict(maxSize, s.onEvict)
	return s
}

// onEvict runs inside records.Add, with s.mu held by the caller.
func (s *Store) onEvict(id string, rec *storage.SessionRecord) {
	k := indexKey(rec.TenantID, rec.SessionID)
	if s.latest[k] == id {
		delete(s.latest, k)
	}
}

func indexKey(tenantID, sessionID string) string {
	return tenantID + "\x00" + sessionID
}

// Save inserts rec. The tenant in ctx overrides rec.TenantID.
func (s *Store) Save(ctx context.Context, rec storage.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.records.Contains(rec.ID) {
		return storage.ErrConflict
	}
	if tenant := storage.GetTenant(ctx); tenant != "" {
		rec.TenantID = tenant
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	s.records.Add(rec.ID, &rec)
	s.latest[indexKey(rec.TenantID, rec.SessionID)] = rec.ID
	return nil
}

// Finish updates the newest record of sessionID if it is still active.
func (s *Store) Finish(ctx context.Context, sessionID string, status storage.Status, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.newest(storage.GetTenant(ctx), sessionID)
	if !ok || rec.Status != storage.StatusActive {
		return storage.ErrNotFound
	}

	now := time.Now().UTC()
	rec.Status = status
	rec.Error = errMsg
	rec.ClosedAt = &now
	return nil
}

// Get returns a copy of the newest record of sessionID.
func (s *Store) Get(ctx context.Context, sessionID string) (*storage.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.newest(storage.GetTenant(ctx), sessionID)
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *Store) newest(tenantID, sessionID string) (*storage.SessionRecord, bool) {
	id, ok := s.latest[indexKey(tenantID, sessionID)]
	if !ok {
		return nil, false
	}
	return s.records.Peek(id)
}

// List returns records newest first, scoped to the tenant in ctx.
func (s *Store) List(ctx context.Context, opts storage.ListOptions) ([]storage.SessionRecord, error) {
	s.mu.Lock()
	tenant := storage.GetTenant(ctx)
	var out []storage.SessionRecord
	for _, rec := range s.records.Values() {
		if tenant != "" && rec.TenantID != tenant {
			continue
		}
		if opts.Status != "" && rec.Status != opts.Status {
			continue
		}
		out = append(out, *rec)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})

	if limit := opts.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		out = []storage.SessionRecord{}
	}
	return out, nil
}

// Len returns the number of records held.
func (s *Store) Len() int {
	return s.records.Len()
}

// HealthCheck always succeeds.
func (s *Store) HealthCheck(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }
