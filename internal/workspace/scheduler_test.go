package workspace

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/ylsdamxssjxxdd/wunder-sub001/internal/storage"
)

func TestFlightGuardInterval(t *testing.T) {
	var g flightGuard
	base := time.Now()

	if !g.tryBegin(time.Hour, base) {
		t.Fatal("first begin refused")
	}
	g.end()

	if g.tryBegin(time.Hour, base.Add(30*time.Minute)) {
		t.Error("begin allowed inside the interval")
	}
	if !g.tryBegin(time.Hour, base.Add(61*time.Minute)) {
		t.Error("begin refused after the interval elapsed")
	}
	g.end()
}

func TestFlightGuardSingleFlight(t *testing.T) {
	var g flightGuard
	base := time.Now()

	if !g.tryBegin(0, base) {
		t.Fatal("first begin refused")
	}
	// Still running: even a later instant must be refused.
	if g.tryBegin(0, base.Add(time.Hour)) {
		t.Error("concurrent begin allowed while running")
	}
	g.end()
	if !g.tryBegin(0, base.Add(time.Hour)) {
		t.Error("begin refused after end")
	}
	g.end()
}

func TestRetentionSchedulerDeletesExpiredRows(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory("admin")
	for _, scope := range []string{"u1", "admin"} {
		if err := store.Append(ctx, storage.Record{Kind: storage.KindChat, Scope: scope, Payload: "old"}); err != nil {
			t.Fatal(err)
		}
	}
	store.Backdate(31 * 24 * time.Hour)
	if err := store.Append(ctx, storage.Record{Kind: storage.KindChat, Scope: "u1", Payload: "fresh"}); err != nil {
		t.Fatal(err)
	}

	s := NewRetentionScheduler(store, 30, time.Hour)
	s.runOnce(ctx)

	recs := store.Records(storage.KindChat)
	if len(recs) != 2 {
		t.Fatalf("rows after retention = %d, want 2", len(recs))
	}
	for _, r := range recs {
		if r.Scope == "u1" && r.Payload == "old" {
			t.Error("expired non-admin row survived")
		}
	}
}

func TestRetentionSchedulerMaybeRunThrottles(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	s := NewRetentionScheduler(store, 30, time.Hour)

	clock := time.Now()
	s.now = func() time.Time { return clock }

	s.MaybeRun(ctx)
	waitFor(t, 5*time.Second, func() bool {
		s.guard.mu.Lock()
		defer s.guard.mu.Unlock()
		return !s.guard.running
	})

	// Inside the interval the guard refuses without spawning anything.
	if s.guard.tryBegin(s.interval, clock.Add(time.Minute)) {
		t.Error("guard reopened inside the interval")
	}
}

func TestTempCleanupClearsIdleWorkspaces(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	store := storage.NewMemory()

	mkScopeFile(t, base, "idle", "left/over.txt", "x")
	mkScopeFile(t, base, "busy", "keep.txt", "x")

	clock := time.Now()
	stamp := func(scope string, at time.Time) {
		key := storage.SessionActivityKey(scope)
		if err := store.SetMeta(ctx, key, strconv.FormatInt(at.Unix(), 10)); err != nil {
			t.Fatal(err)
		}
	}
	stamp("idle", clock.Add(-49*time.Hour))
	stamp("busy", clock.Add(-time.Hour))

	s := NewTempCleanupScheduler(base, store, 48*time.Hour, time.Hour)
	s.now = func() time.Time { return clock }

	cleared, err := s.sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if cleared != 1 {
		t.Errorf("cleared = %d, want 1", cleared)
	}

	// The idle directory survives empty; the busy one is untouched.
	dirents, err := os.ReadDir(filepath.Join(base, "idle"))
	if err != nil {
		t.Fatalf("idle scope directory removed: %v", err)
	}
	if len(dirents) != 0 {
		t.Errorf("idle scope not emptied: %v", dirents)
	}
	if _, err := os.Stat(filepath.Join(base, "busy", "keep.txt")); err != nil {
		t.Errorf("busy scope was cleared: %v", err)
	}
}

func TestTempCleanupFallsBackToModTime(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	store := storage.NewMemory()

	mkScopeFile(t, base, "stale", "old.txt", "x")
	old := time.Now().Add(-72 * time.Hour)
	if err := os.Chtimes(filepath.Join(base, "stale"), old, old); err != nil {
		t.Fatal(err)
	}

	s := NewTempCleanupScheduler(base, store, 48*time.Hour, time.Hour)
	cleared, err := s.sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if cleared != 1 {
		t.Errorf("cleared = %d, want 1", cleared)
	}
}

func TestTempCleanupMissingBase(t *testing.T) {
	s := NewTempCleanupScheduler(filepath.Join(t.TempDir(), "nope"), storage.NewMemory(), time.Hour, time.Hour)
	cleared, err := s.sweep(context.Background())
	if err != nil || cleared != 0 {
		t.Errorf("missing base: cleared = %d, err = %v", cleared, err)
	}
}
