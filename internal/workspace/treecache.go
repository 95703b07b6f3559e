package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ylsdamxssjxxdd/wunder-sub001/internal/metrics"
)

// Tree cache defaults.
const (
	defaultTreeDepth  = 2
	defaultTreeTTL    = 30 * time.Second
	defaultIdleTTL    = 10 * time.Minute
	defaultMaxCached  = 256
	defaultIndexTTL   = 30 * time.Second
	defaultIndexItems = 2000
)

// treeEntry is the cached render for one scope. The version is bumped only
// when the rendered text actually changes, so a refresh that observes an
// unchanged tree does not invalidate clients holding the old snapshot.
type treeEntry struct {
	tree       string
	builtAt    time.Time
	lastAccess time.Time
	version    uint64
}

// TreeCache holds per-scope rendered directory trees with staleness,
// explicit dirty-marking and two eviction strategies. It is owned by the
// Manager; there is no process-wide instance.
type TreeCache struct {
	base  string // directory holding one subdirectory per scope
	depth int
	ttl   time.Duration

	idleTTL time.Duration
	maxSize int

	mu       sync.Mutex
	entries  map[string]*treeEntry
	dirty    map[string]bool
	counters map[string]uint64 // always-advancing per-scope versions

	// onEvict drops dependent state (the search index entry) whenever a
	// tree entry leaves the cache, so no index can outlive its tree.
	onEvict func(scope string)

	now func() time.Time
}

// NewTreeCache creates a cache over base, walking at most depth levels.
func NewTreeCache(base string, depth int, ttl, idleTTL time.Duration, maxSize int) *TreeCache {
	if depth <= 0 {
		depth = defaultTreeDepth
	}
	if ttl <= 0 {
		ttl = defaultTreeTTL
	}
	if idleTTL <= 0 {
		idleTTL = defaultIdleTTL
	}
	if maxSize <= 0 {
		maxSize = defaultMaxCached
	}
	return &TreeCache{
		base:     base,
		depth:    depth,
		ttl:      ttl,
		idleTTL:  idleTTL,
		maxSize:  maxSize,
		entries:  make(map[string]*treeEntry),
		dirty:    make(map[string]bool),
		counters: make(map[string]uint64),
		onEvict:  func(string) {},
		now:      time.Now,
	}
}

// SetEvictHook registers the cross-invalidation callback. Must be called
// before the cache is shared between goroutines.
func (c *TreeCache) SetEvictHook(fn func(scope string)) {
	if fn != nil {
		c.onEvict = fn
	}
}

// Snapshot returns the rendered tree and its entry version for scope,
// rebuilding when the entry is missing, dirty, or older than the TTL.
func (c *TreeCache) Snapshot(scope string) (string, uint64, error) {
	now := c.now()

	c.mu.Lock()
	c.evictLocked(now)
	if e, ok := c.entries[scope]; ok && !c.dirty[scope] && now.Sub(e.builtAt) < c.ttl {
		e.lastAccess = now
		tree, version := e.tree, e.version
		c.mu.Unlock()
		metrics.RecordTreeCacheLookup("hit")
		return tree, version, nil
	}
	c.mu.Unlock()

	metrics.RecordTreeCacheLookup("rebuild")
	return c.refresh(scope)
}

// refresh walks the scope's directory and installs the rendered tree. The
// walk runs outside the lock; only the map update is serialized.
func (c *TreeCache) refresh(scope string) (string, uint64, error) {
	start := c.now()
	tree, err := renderTree(filepath.Join(c.base, scope), scope, c.depth)
	if err != nil {
		return "", 0, err
	}
	metrics.RecordTreeRebuild(c.now().Sub(start))

	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[scope]
	if !ok {
		e = &treeEntry{}
		c.entries[scope] = e
	}
	if !ok || e.tree != tree {
		e.version++
	}
	e.tree = tree
	e.builtAt = now
	e.lastAccess = now
	delete(c.dirty, scope)
	return e.tree, e.version, nil
}

// MarkDirty flags the scope's cached tree as possibly stale and advances the
// scope's version counter. The counter moves on every call, before any
// physical refresh, so pollers observe the change immediately.
func (c *TreeCache) MarkDirty(scope string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[scope]++
	if _, ok := c.entries[scope]; ok {
		c.dirty[scope] = true
	}
	return c.counters[scope]
}

// Version returns the scope's always-advancing version counter. This is the
// externally visible change number; the cache-entry version stays internal.
func (c *TreeCache) Version(scope string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters[scope]
}

// Drop removes all cached state for scope, including its version counter.
// Used by purge, which must be immediate and complete.
func (c *TreeCache) Drop(scope string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[scope]; ok {
		metrics.RecordTreeCacheEviction("purge")
	}
	delete(c.entries, scope)
	delete(c.dirty, scope)
	delete(c.counters, scope)
	c.onEvict(scope)
}

// Len returns the number of cached scopes.
func (c *TreeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictLocked applies idle and capacity eviction. Caller holds c.mu.
func (c *TreeCache) evictLocked(now time.Time) {
	for scope, e := range c.entries {
		last := e.lastAccess
		if last.IsZero() {
			last = e.builtAt
		}
		if now.Sub(last) > c.idleTTL {
			delete(c.entries, scope)
			delete(c.dirty, scope)
			c.onEvict(scope)
			metrics.RecordTreeCacheEviction("idle")
		}
	}

	if len(c.entries) <= c.maxSize {
		return
	}
	type access struct {
		scope string
		last  time.Time
	}
	ordered := make([]access, 0, len(c.entries))
	for scope, e := range c.entries {
		last := e.lastAccess
		if last.IsZero() {
			last = e.builtAt
		}
		ordered = append(ordered, access{scope, last})
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].last.Before(ordered[j].last) })
	for _, victim := range ordered[:len(ordered)-c.maxSize] {
		delete(c.entries, victim.scope)
		delete(c.dirty, victim.scope)
		c.onEvict(victim.scope)
		metrics.RecordTreeCacheEviction("capacity")
	}
}

// ─── Tree rendering ─────────────────────────────────────────────────────────

// renderTree renders a textual tree of root down to depth levels, with
// directories before files and case-insensitive name order at each level.
// A missing root renders as an empty workspace.
func renderTree(root, scope string, depth int) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "workspace_%s/\n", scope)
	if err := renderLevel(&b, root, "", depth); err != nil {
		return "", err
	}
	return b.String(), nil
}

func renderLevel(b *strings.Builder, dir, indent string, depth int) error {
	if depth <= 0 {
		return nil
	}
	dirents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read dir %s: %w", dir, err)
	}
	sort.SliceStable(dirents, func(i, j int) bool {
		di, dj := dirents[i], dirents[j]
		if di.IsDir() != dj.IsDir() {
			return di.IsDir()
		}
		return lessName(di.Name(), dj.Name())
	})

	for i, d := range dirents {
		connector, childIndent := "├── ", indent+"│   "
		if i == len(dirents)-1 {
			connector, childIndent = "└── ", indent+"    "
		}
		name := d.Name()
		if d.IsDir() {
			name += "/"
		}
		b.WriteString(indent + connector + name + "\n")
		if d.IsDir() {
			if err := renderLevel(b, filepath.Join(dir, d.Name()), childIndent, depth-1); err != nil {
				return err
			}
		}
	}
	return nil
}
