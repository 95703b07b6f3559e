package workspace

import (
	"errors"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ylsdamxssjxxdd/wunder-sub001/internal/metrics"
)

// errIndexTooLarge aborts an index build whose item count would exceed the
// cap. It never reaches callers; the request falls back to a live walk.
var errIndexTooLarge = errors.New("search index item cap exceeded")

// indexedItem is one pre-lowered filesystem entry.
type indexedItem struct {
	entry   Entry
	lowered string
	isDir   bool
}

// indexEntry is the cached flat entry list for one scope, tagged with the
// tree version counter it was built against. It is immutable once built and
// shared across repeated searches.
type indexEntry struct {
	items      []indexedItem
	version    uint64
	builtAt    time.Time
	lastAccess time.Time
}

// SearchIndex caches per-scope flat entry lists for keyword search. An index
// is reused only while its tagged version equals the scope's current tree
// version and its age is under the TTL; a version divergence removes it
// immediately, even inside the TTL.
type SearchIndex struct {
	base     string
	ttl      time.Duration
	idleTTL  time.Duration
	maxSize  int
	maxItems int

	mu      sync.Mutex
	entries map[string]*indexEntry

	now func() time.Time
}

// NewSearchIndex creates an index cache over base.
func NewSearchIndex(base string, ttl, idleTTL time.Duration, maxSize, maxItems int) *SearchIndex {
	if ttl <= 0 {
		ttl = defaultIndexTTL
	}
	if idleTTL <= 0 {
		idleTTL = defaultIdleTTL
	}
	if maxSize <= 0 {
		maxSize = defaultMaxCached
	}
	if maxItems <= 0 {
		maxItems = defaultIndexItems
	}
	return &SearchIndex{
		base:     base,
		ttl:      ttl,
		idleTTL:  idleTTL,
		maxSize:  maxSize,
		maxItems: maxItems,
		entries:  make(map[string]*indexEntry),
		now:      time.Now,
	}
}

// Search finds entries whose base name contains keyword, case-insensitively.
// Results preserve filesystem traversal order; offset and limit are applied
// by counting matches, so pagination is identical whether served from the
// cached index or the live fallback walk. The returned total is the number
// of matches before pagination.
func (s *SearchIndex) Search(scope, keyword string, version uint64, offset, limit int, includeFiles, includeDirs bool) ([]Entry, int, error) {
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	if keyword == "" {
		return []Entry{}, 0, nil
	}

	items, outcome, err := s.itemsFor(scope, version)
	if err != nil {
		return nil, 0, err
	}
	metrics.RecordSearchIndexLookup(outcome)

	var matched []Entry
	total := 0
	for _, it := range items {
		if !strings.Contains(it.lowered, keyword) {
			continue
		}
		if it.isDir && !includeDirs {
			continue
		}
		if !it.isDir && !includeFiles {
			continue
		}
		total++
		if total <= offset {
			continue
		}
		if limit > 0 && len(matched) >= limit {
			continue
		}
		matched = append(matched, it.entry)
	}
	if matched == nil {
		matched = []Entry{}
	}
	return matched, total, nil
}

// Drop removes the scope's cached index. Called by the tree cache's evict
// hook and by purge.
func (s *SearchIndex) Drop(scope string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, scope)
}

// Len returns the number of cached scopes.
func (s *SearchIndex) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// itemsFor returns the entry list to search over, reusing, rebuilding, or
// falling back to an uncached walk when the cap would be exceeded.
func (s *SearchIndex) itemsFor(scope string, version uint64) ([]indexedItem, string, error) {
	now := s.now()

	s.mu.Lock()
	s.evictLocked(now)
	if e, ok := s.entries[scope]; ok {
		if e.version != version {
			// Stale the instant the tree version moves, TTL or not.
			delete(s.entries, scope)
		} else if now.Sub(e.builtAt) < s.ttl {
			e.lastAccess = now
			items := e.items
			s.mu.Unlock()
			return items, "hit", nil
		}
	}
	s.mu.Unlock()

	items, err := collectItems(filepath.Join(s.base, scope), s.maxItems)
	if errors.Is(err, errIndexTooLarge) {
		// Bounded correctness over cached throughput: serve this one
		// request from an uncapped, uncached walk.
		items, err = collectItems(filepath.Join(s.base, scope), 0)
		if err != nil {
			return nil, "", err
		}
		return items, "fallback", nil
	}
	if err != nil {
		return nil, "", err
	}

	now = s.now()
	s.mu.Lock()
	s.entries[scope] = &indexEntry{
		items:      items,
		version:    version,
		builtAt:    now,
		lastAccess: now,
	}
	s.mu.Unlock()
	return items, "rebuild", nil
}

// evictLocked applies idle and capacity eviction. Caller holds s.mu.
func (s *SearchIndex) evictLocked(now time.Time) {
	for scope, e := range s.entries {
		last := e.lastAccess
		if last.IsZero() {
			last = e.builtAt
		}
		if now.Sub(last) > s.idleTTL {
			delete(s.entries, scope)
		}
	}

	if len(s.entries) <= s.maxSize {
		return
	}
	type access struct {
		scope string
		last  time.Time
	}
	ordered := make([]access, 0, len(s.entries))
	for scope, e := range s.entries {
		last := e.lastAccess
		if last.IsZero() {
			last = e.builtAt
		}
		ordered = append(ordered, access{scope, last})
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].last.Before(ordered[j].last) })
	for _, victim := range ordered[:len(ordered)-s.maxSize] {
		delete(s.entries, victim.scope)
	}
}

// collectItems walks root in traversal order, building the flat entry list.
// A positive maxItems aborts the walk with errIndexTooLarge once exceeded;
// zero walks everything. A missing root yields an empty list.
func collectItems(root string, maxItems int) ([]indexedItem, error) {
	var items []indexedItem
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root && errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipAll
			}
			return err
		}
		if path == root {
			return nil
		}
		if maxItems > 0 && len(items) >= maxItems {
			return errIndexTooLarge
		}
		items = append(items, indexedItem{
			entry:   newEntry(RelPath(root, path), d),
			lowered: strings.ToLower(d.Name()),
			isDir:   d.IsDir(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}
