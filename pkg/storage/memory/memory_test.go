package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/yingchuan/mcp-code-sandbox/pkg/storage"
)

func makeRecord(id, sessionID string, created time.Time) storage.SessionRecord {
	return storage.SessionRecord{
		ID:        id,
		SessionID: sessionID,
		Backend:   "docker",
		Status:    storage.StatusActive,
		CreatedAt: created,
	}
}

func TestSaveAndGet(t *testing.T) {
	s := New(0)
	ctx := context.Background()

	if err := s.Save(ctx, makeRecord("rec-1", "s1", time.Time{})); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := s.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ID != "rec-1" || got.Backend != "docker" || got.Status != storage.StatusActive {
		t.Errorf("record = %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt should default to now")
	}

	// Get returns a copy.
	got.Status = storage.StatusFailed
	again, _ := s.Get(ctx, "s1")
	if again.Status != storage.StatusActive {
		t.Error("mutating a returned record changed the store")
	}
}

func TestGetNotFound(t *testing.T) {
	s := New(0)
	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDuplicateSave(t *testing.T) {
	s := New(0)
	ctx := context.Background()

	s.Save(ctx, makeRecord("rec-1", "s1", time.Time{}))
	if err := s.Save(ctx, makeRecord("rec-1", "s1", time.Time{})); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestFinish(t *testing.T) {
	s := New(0)
	ctx := context.Background()
	s.Save(ctx, makeRecord("rec-1", "s1", time.Time{}))

	if err := s.Finish(ctx, "s1", storage.StatusCloseTimeout, "close timed out"); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	got, _ := s.Get(ctx, "s1")
	if got.Status != storage.StatusCloseTimeout || got.Error != "close timed out" || got.ClosedAt == nil {
		t.Errorf("record = %+v", got)
	}

	// A finished record cannot be finished again.
	if err := s.Finish(ctx, "s1", storage.StatusClosed, ""); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("second Finish: expected ErrNotFound, got %v", err)
	}
	if err := s.Finish(ctx, "nope", storage.StatusClosed, ""); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Finish unknown: expected ErrNotFound, got %v", err)
	}
}

func TestSessionIDReuse(t *testing.T) {
	s := New(0)
	ctx := context.Background()
	base := time.Now()

	s.Save(ctx, makeRecord("rec-1", "s1", base))
	s.Finish(ctx, "s1", storage.StatusClosed, "")
	s.Save(ctx, makeRecord("rec-2", "s1", base.Add(time.Second)))

	got, _ := s.Get(ctx, "s1")
	if got.ID != "rec-2" || got.Status != storage.StatusActive {
		t.Errorf("Get should return the newest record, got %+v", got)
	}

	list, _ := s.List(ctx, storage.ListOptions{})
	if len(list) != 2 || list[0].ID != "rec-2" || list[1].ID != "rec-1" {
		t.Errorf("list = %+v", list)
	}
}

func TestListFilterAndLimit(t *testing.T) {
	s := New(0)
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 5; i++ {
		s.Save(ctx, makeRecord(fmt.Sprintf("rec-%d", i), fmt.Sprintf("s%d", i), base.Add(time.Duration(i)*time.Second)))
	}
	s.Finish(ctx, "s1", storage.StatusClosed, "")
	s.Finish(ctx, "s3", storage.StatusClosed, "")

	closed, _ := s.List(ctx, storage.ListOptions{Status: storage.StatusClosed})
	if len(closed) != 2 || closed[0].SessionID != "s3" {
		t.Errorf("closed = %+v", closed)
	}

	limited, _ := s.List(ctx, storage.ListOptions{Limit: 2})
	if len(limited) != 2 || limited[0].SessionID != "s4" || limited[1].SessionID != "s3" {
		t.Errorf("limited = %+v", limited)
	}

	empty, _ := New(0).List(ctx, storage.ListOptions{})
	if empty == nil || len(empty) != 0 {
		t.Errorf("empty list = %#v", empty)
	}
}

func TestLRUEviction(t *testing.T) {
	s := New(2)
	ctx := context.Background()

	s.Save(ctx, makeRecord("rec-1", "s1", time.Time{}))
	s.Save(ctx, makeRecord("rec-2", "s2", time.Time{}))
	s.Save(ctx, makeRecord("rec-3", "s3", time.Time{}))

	if s.Len() != 2 {
		t.Errorf("Len = %d, want 2", s.Len())
	}
	if _, err := s.Get(ctx, "s1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("oldest record should be evicted, got %v", err)
	}
	if _, err := s.Get(ctx, "s3"); err != nil {
		t.Errorf("newest record missing: %v", err)
	}
}

func TestEvictionKeepsNewerIndex(t *testing.T) {
	s := New(2)
	ctx := context.Background()

	s.Save(ctx, makeRecord("rec-1", "s1", time.Time{}))
	s.Finish(ctx, "s1", storage.StatusClosed, "")
	s.Save(ctx, makeRecord("rec-2", "s1", time.Time{}))
	s.Save(ctx, makeRecord("rec-3", "s2", time.Time{})) // evicts rec-1

	got, err := s.Get(ctx, "s1")
	if err != nil || got.ID != "rec-2" {
		t.Errorf("Get(s1) = %+v, %v; want rec-2", got, err)
	}
}

func TestTenantIsolation(t *testing.T) {
	s := New(0)
	ctxA := storage.SetTenant(context.Background(), "tenant-a")
	ctxB := storage.SetTenant(context.Background(), "tenant-b")

	s.Save(ctxA, makeRecord("rec-a", "shared", time.Time{}))
	s.Save(ctxB, makeRecord("rec-b", "shared", time.Time{}))

	got, _ := s.Get(ctxA, "shared")
	if got.ID != "rec-a" || got.TenantID != "tenant-a" {
		t.Errorf("tenant-a record = %+v", got)
	}

	if err := s.Finish(ctxB, "shared", storage.StatusClosed, ""); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	got, _ = s.Get(ctxA, "shared")
	if got.Status != storage.StatusActive {
		t.Error("tenant-b finish changed tenant-a record")
	}

	listA, _ := s.List(ctxA, storage.ListOptions{})
	if len(listA) != 1 {
		t.Errorf("tenant-a list = %+v", listA)
	}
	all, _ := s.List(context.Background(), storage.ListOptions{})
	if len(all) != 2 {
		t.Errorf("unscoped list = %+v", all)
	}
}

func TestHealthCheck(t *testing.T) {
	s := New(0)
	if err := s.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close = %v", err)
	}
}
