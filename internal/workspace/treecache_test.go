package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// newTestTreeCache builds a cache over a temp base with a controllable clock.
func newTestTreeCache(t *testing.T, maxSize int) (*TreeCache, string, *time.Time) {
	t.Helper()
	base := t.TempDir()
	c := NewTreeCache(base, 2, 30*time.Second, 10*time.Minute, maxSize)
	clock := time.Now()
	c.now = func() time.Time { return clock }
	return c, base, &clock
}

func mkScopeFile(t *testing.T, base, scope, rel, content string) {
	t.Helper()
	full := filepath.Join(base, scope, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestTreeCacheRender(t *testing.T) {
	c, base, _ := newTestTreeCache(t, 8)
	mkScopeFile(t, base, "u1", "docs/readme.md", "hi")
	mkScopeFile(t, base, "u1", "notes.txt", "n")

	tree, _, err := c.Snapshot("u1")
	if err != nil {
		t.Fatal(err)
	}
	want := "workspace_u1/\n" +
		"├── docs/\n" +
		"│   └── readme.md\n" +
		"└── notes.txt\n"
	if tree != want {
		t.Errorf("tree = %q, want %q", tree, want)
	}
}

func TestTreeCacheMissingScopeRendersEmpty(t *testing.T) {
	c, _, _ := newTestTreeCache(t, 8)
	tree, _, err := c.Snapshot("ghost")
	if err != nil {
		t.Fatal(err)
	}
	if tree != "workspace_ghost/\n" {
		t.Errorf("tree = %q", tree)
	}
}

func TestTreeCacheDepthBound(t *testing.T) {
	c, base, _ := newTestTreeCache(t, 8)
	mkScopeFile(t, base, "u1", "a/b/c/deep.txt", "x")

	tree, _, err := c.Snapshot("u1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(tree, "b/") {
		t.Errorf("level two missing from %q", tree)
	}
	if strings.Contains(tree, "c/") || strings.Contains(tree, "deep.txt") {
		t.Errorf("levels past the depth bound leaked into %q", tree)
	}
}

func TestTreeCacheSnapshotServedFromCache(t *testing.T) {
	c, base, _ := newTestTreeCache(t, 8)
	mkScopeFile(t, base, "u1", "a.txt", "x")

	first, _, err := c.Snapshot("u1")
	if err != nil {
		t.Fatal(err)
	}

	// Change disk without marking dirty: within the TTL the cached render
	// must still be served.
	mkScopeFile(t, base, "u1", "b.txt", "y")
	second, _, err := c.Snapshot("u1")
	if err != nil {
		t.Fatal(err)
	}
	if second != first {
		t.Errorf("cached snapshot changed without dirty or TTL expiry")
	}
}

func TestTreeCacheMarkDirtyForcesRebuild(t *testing.T) {
	c, base, _ := newTestTreeCache(t, 8)
	mkScopeFile(t, base, "u1", "a.txt", "x")
	if _, _, err := c.Snapshot("u1"); err != nil {
		t.Fatal(err)
	}

	mkScopeFile(t, base, "u1", "b.txt", "y")
	c.MarkDirty("u1")

	tree, _, err := c.Snapshot("u1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(tree, "b.txt") {
		t.Errorf("rebuild after MarkDirty missed new file; tree = %q", tree)
	}
}

func TestTreeCacheTTLExpiryRebuilds(t *testing.T) {
	c, base, clock := newTestTreeCache(t, 8)
	mkScopeFile(t, base, "u1", "a.txt", "x")
	if _, _, err := c.Snapshot("u1"); err != nil {
		t.Fatal(err)
	}

	mkScopeFile(t, base, "u1", "b.txt", "y")
	*clock = clock.Add(31 * time.Second)

	tree, _, err := c.Snapshot("u1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(tree, "b.txt") {
		t.Errorf("TTL-expired snapshot not rebuilt; tree = %q", tree)
	}
}

func TestTreeCacheEntryVersionBumpsOnlyOnChange(t *testing.T) {
	c, base, _ := newTestTreeCache(t, 8)
	mkScopeFile(t, base, "u1", "a.txt", "x")

	_, v1, err := c.Snapshot("u1")
	if err != nil {
		t.Fatal(err)
	}

	// Dirty with no physical change: rebuild, identical render, same version.
	c.MarkDirty("u1")
	_, v2, err := c.Snapshot("u1")
	if err != nil {
		t.Fatal(err)
	}
	if v2 != v1 {
		t.Errorf("version bumped on identical rebuild: %d -> %d", v1, v2)
	}

	// Real change: version must advance.
	mkScopeFile(t, base, "u1", "b.txt", "y")
	c.MarkDirty("u1")
	_, v3, err := c.Snapshot("u1")
	if err != nil {
		t.Fatal(err)
	}
	if v3 <= v2 {
		t.Errorf("version did not advance on changed render: %d -> %d", v2, v3)
	}
}

func TestTreeCacheCounterAdvancesOnEveryMark(t *testing.T) {
	c, _, _ := newTestTreeCache(t, 8)
	if got := c.Version("u1"); got != 0 {
		t.Fatalf("fresh counter = %d", got)
	}
	// The counter moves whether or not a tree was ever built.
	if got := c.MarkDirty("u1"); got != 1 {
		t.Errorf("first mark = %d, want 1", got)
	}
	if got := c.MarkDirty("u1"); got != 2 {
		t.Errorf("second mark = %d, want 2", got)
	}
	if got := c.Version("u1"); got != 2 {
		t.Errorf("Version = %d, want 2", got)
	}
	if got := c.Version("u2"); got != 0 {
		t.Errorf("other scope counter = %d, want 0", got)
	}
}

func TestTreeCacheIdleEviction(t *testing.T) {
	c, base, clock := newTestTreeCache(t, 8)
	evicted := make(map[string]int)
	c.SetEvictHook(func(scope string) { evicted[scope]++ })

	mkScopeFile(t, base, "idle", "a.txt", "x")
	mkScopeFile(t, base, "busy", "a.txt", "x")
	if _, _, err := c.Snapshot("idle"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := c.Snapshot("busy"); err != nil {
		t.Fatal(err)
	}

	// Keep "busy" warm past the idle horizon, let "idle" lapse.
	*clock = clock.Add(9 * time.Minute)
	if _, _, err := c.Snapshot("busy"); err != nil {
		t.Fatal(err)
	}
	*clock = clock.Add(9 * time.Minute)
	if _, _, err := c.Snapshot("busy"); err != nil {
		t.Fatal(err)
	}

	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
	if evicted["idle"] == 0 {
		t.Error("evict hook not fired for idle scope")
	}
	if evicted["busy"] != 0 {
		t.Error("evict hook fired for busy scope")
	}
	// Eviction clears the entry but the change counter survives.
	c.MarkDirty("idle")
	if got := c.Version("idle"); got != 1 {
		t.Errorf("counter after idle eviction = %d, want 1", got)
	}
}

func TestTreeCacheCapacityEviction(t *testing.T) {
	c, base, clock := newTestTreeCache(t, 2)
	evicted := make(map[string]int)
	c.SetEvictHook(func(scope string) { evicted[scope]++ })

	for _, scope := range []string{"s1", "s2", "s3"} {
		mkScopeFile(t, base, scope, "a.txt", "x")
		if _, _, err := c.Snapshot(scope); err != nil {
			t.Fatal(err)
		}
		*clock = clock.Add(time.Second)
	}

	// The next access runs eviction: s1 is the least recently used.
	if _, _, err := c.Snapshot("s3"); err != nil {
		t.Fatal(err)
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
	if evicted["s1"] == 0 {
		t.Error("LRU scope s1 not evicted")
	}
	if evicted["s3"] != 0 {
		t.Error("most recent scope s3 evicted")
	}
}

func TestTreeCacheDrop(t *testing.T) {
	c, base, _ := newTestTreeCache(t, 8)
	var dropped []string
	c.SetEvictHook(func(scope string) { dropped = append(dropped, scope) })

	mkScopeFile(t, base, "u1", "a.txt", "x")
	if _, _, err := c.Snapshot("u1"); err != nil {
		t.Fatal(err)
	}
	c.MarkDirty("u1")

	c.Drop("u1")
	if c.Len() != 0 {
		t.Errorf("Len after Drop = %d", c.Len())
	}
	// Unlike eviction, Drop resets the change counter too.
	if got := c.Version("u1"); got != 0 {
		t.Errorf("counter after Drop = %d, want 0", got)
	}
	if len(dropped) != 1 || dropped[0] != "u1" {
		t.Errorf("evict hook calls = %v", dropped)
	}
}
