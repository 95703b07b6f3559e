package workspace

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ylsdamxssjxxdd/wunder-sub001/internal/logging"
	"github.com/ylsdamxssjxxdd/wunder-sub001/internal/metrics"
	"github.com/ylsdamxssjxxdd/wunder-sub001/internal/storage"
)

// flightGuard ensures a periodic background job runs single-flight and no
// more often than a minimum interval.
type flightGuard struct {
	mu      sync.Mutex
	lastRun time.Time
	running bool
}

// tryBegin claims the guard. It returns false when a run is in progress or
// the interval has not elapsed since the last run began.
func (g *flightGuard) tryBegin(interval time.Duration, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running || now.Sub(g.lastRun) < interval {
		return false
	}
	g.running = true
	g.lastRun = now
	return true
}

// end releases the guard. Callers defer it so the guard is released even
// when the job panics.
func (g *flightGuard) end() {
	g.mu.Lock()
	g.running = false
	g.mu.Unlock()
}

// RetentionScheduler periodically deletes expired activity rows through the
// storage collaborator.
type RetentionScheduler struct {
	store    storage.Store
	days     int
	interval time.Duration
	guard    flightGuard
	now      func() time.Time
}

// NewRetentionScheduler creates a scheduler deleting rows older than days,
// running at most once per interval.
func NewRetentionScheduler(store storage.Store, days int, interval time.Duration) *RetentionScheduler {
	return &RetentionScheduler{
		store:    store,
		days:     days,
		interval: interval,
		now:      time.Now,
	}
}

// MaybeRun dispatches a retention pass in the background unless one is
// already running or ran too recently. Failures are logged; the next
// scheduled call simply retries.
func (s *RetentionScheduler) MaybeRun(ctx context.Context) {
	if !s.guard.tryBegin(s.interval, s.now()) {
		return
	}
	go func() {
		defer s.guard.end()
		s.runOnce(context.WithoutCancel(ctx))
	}()
}

func (s *RetentionScheduler) runOnce(ctx context.Context) {
	result, err := s.store.CleanupRetention(ctx, s.days)
	metrics.RecordSchedulerRun("retention", err == nil)
	if err != nil {
		logging.Error("retention pass failed", zap.Error(err))
		return
	}
	if result.Total() > 0 {
		logging.Info("retention pass deleted rows",
			zap.Int64("chat", result.ChatDeleted),
			zap.Int64("tool", result.ToolDeleted),
			zap.Int64("artifact", result.ArtifactDeleted),
			zap.Int64("memory", result.MemoryDeleted))
	}
}

// TempCleanupScheduler reclaims idle per-scope scratch directories. The
// directory itself survives; only its contents are cleared, so a returning
// scope does not need its root recreated.
type TempCleanupScheduler struct {
	base     string
	store    storage.Store
	idle     time.Duration
	interval time.Duration
	guard    flightGuard
	now      func() time.Time
}

// NewTempCleanupScheduler creates a scheduler clearing scope directories
// under base that have been idle longer than idle.
func NewTempCleanupScheduler(base string, store storage.Store, idle, interval time.Duration) *TempCleanupScheduler {
	return &TempCleanupScheduler{
		base:     base,
		store:    store,
		idle:     idle,
		interval: interval,
		now:      time.Now,
	}
}

// MaybeRun dispatches a cleanup pass in the background unless one is already
// running or ran too recently.
func (s *TempCleanupScheduler) MaybeRun(ctx context.Context) {
	if !s.guard.tryBegin(s.interval, s.now()) {
		return
	}
	go func() {
		defer s.guard.end()
		s.runOnce(context.WithoutCancel(ctx))
	}()
}

func (s *TempCleanupScheduler) runOnce(ctx context.Context) {
	cleared, err := s.sweep(ctx)
	metrics.RecordSchedulerRun("temp_cleanup", err == nil)
	if err != nil {
		logging.Error("temp cleanup pass failed", zap.Error(err))
		return
	}
	if cleared > 0 {
		logging.Info("temp cleanup cleared idle workspaces", zap.Int("count", cleared))
	}
}

// sweep clears every idle scope directory and returns how many it touched.
func (s *TempCleanupScheduler) sweep(ctx context.Context) (int, error) {
	dirents, err := os.ReadDir(s.base)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	cleared := 0
	now := s.now()
	for _, d := range dirents {
		if !d.IsDir() {
			continue
		}
		scope := d.Name()
		last, ok := s.lastActivity(ctx, scope)
		if !ok {
			info, err := d.Info()
			if err != nil {
				continue
			}
			last = info.ModTime()
		}
		if now.Sub(last) <= s.idle {
			continue
		}
		if err := clearDir(filepath.Join(s.base, scope)); err != nil {
			logging.Warn("failed to clear idle workspace",
				zap.String("scope", scope), zap.Error(err))
			continue
		}
		cleared++
	}
	return cleared, nil
}

// lastActivity reads the scope's session-activity timestamp (unix seconds)
// from the meta store.
func (s *TempCleanupScheduler) lastActivity(ctx context.Context, scope string) (time.Time, bool) {
	v, ok, err := s.store.GetMeta(ctx, storage.SessionActivityKey(scope))
	if err != nil || !ok {
		return time.Time{}, false
	}
	sec, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(sec, 0), true
}

// clearDir removes everything inside dir but keeps dir itself.
func clearDir(dir string) error {
	dirents, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, d := range dirents {
		if err := os.RemoveAll(filepath.Join(dir, d.Name())); err != nil {
			return err
		}
	}
	return nil
}
