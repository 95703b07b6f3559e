package workspace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ylsdamxssjxxdd/wunder-sub001/internal/logging"
	"github.com/ylsdamxssjxxdd/wunder-sub001/internal/storage"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	ErrTooLarge = errors.New("upload exceeds size limit")
)

// Options tunes a Manager. Zero values fall back to package defaults.
type Options struct {
	TreeDepth       int
	TreeTTL         time.Duration
	CacheIdleTTL    time.Duration
	MaxCachedScopes int
	IndexTTL        time.Duration
	IndexMaxItems   int
	WriteQueueSize  int
	MaxUploadSize   int64
}

// Manager composes path resolution, the tree cache, the search index, the
// background write queue and the storage collaborator into the workspace
// façade. It is the only workspace type the rest of the system touches.
type Manager struct {
	base      string
	store     storage.Store
	queue     *WriteQueue
	trees     *TreeCache
	index     *SearchIndex
	maxUpload int64
}

// NewManager creates a Manager rooted at base, one subdirectory per scope.
func NewManager(base string, store storage.Store, opts Options) (*Manager, error) {
	if base == "" {
		return nil, errors.New("workspace base directory required")
	}
	base = filepath.Clean(base)
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace base: %w", err)
	}
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = 200 << 20
	}

	m := &Manager{
		base:      base,
		store:     store,
		queue:     NewWriteQueue(store, opts.WriteQueueSize),
		trees:     NewTreeCache(base, opts.TreeDepth, opts.TreeTTL, opts.CacheIdleTTL, opts.MaxCachedScopes),
		index:     NewSearchIndex(base, opts.IndexTTL, opts.CacheIdleTTL, opts.MaxCachedScopes, opts.IndexMaxItems),
		maxUpload: opts.MaxUploadSize,
	}
	// A tree eviction must take the scope's index with it, so no index can
	// be served against a vanished tree version.
	m.trees.SetEvictHook(m.index.Drop)
	return m, nil
}

// Close stops the background write worker.
func (m *Manager) Close() {
	m.queue.Close()
}

// Base returns the directory holding all scope roots.
func (m *Manager) Base() string {
	return m.base
}

// ScopeRoot returns the on-disk root for a scope without creating it.
func (m *Manager) ScopeRoot(scope string) string {
	return filepath.Join(m.base, scope)
}

// EnsureRoot creates the scope's root directory if missing and returns it.
func (m *Manager) EnsureRoot(scope string) (string, error) {
	root := m.ScopeRoot(scope)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("create workspace root: %w", err)
	}
	return root, nil
}

// Resolve maps a scope-relative path to a confined absolute path.
func (m *Manager) Resolve(scope, rel string) (string, error) {
	return ResolvePath(m.ScopeRoot(scope), rel)
}

// DisplayPath maps an absolute path inside the scope's root to its public
// alias form.
func (m *Manager) DisplayPath(scope, abs string) string {
	return DisplayPath(m.ScopeRoot(scope), scope, abs)
}

// RewritePublicPaths substitutes the scope's public alias in free text with
// the real root path.
func (m *Manager) RewritePublicPaths(scope, text string) string {
	return ReplacePublicRoot(text, scope, m.ScopeRoot(scope))
}

// ─── Listing and reading ────────────────────────────────────────────────────

// ListEntries lists the entries of one directory, optionally filtered by a
// case-insensitive name keyword, sorted with directories first, and
// paginated by counting. The returned total is the filtered count before
// pagination.
func (m *Manager) ListEntries(scope, rel, keyword string, offset, limit int, sortBy, order string) ([]Entry, int, error) {
	dir, err := m.Resolve(scope, rel)
	if err != nil {
		return nil, 0, err
	}
	dirents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("read dir: %w", err)
	}

	keyword = strings.ToLower(strings.TrimSpace(keyword))
	root := m.ScopeRoot(scope)
	entries := make([]Entry, 0, len(dirents))
	for _, d := range dirents {
		if keyword != "" && !strings.Contains(strings.ToLower(d.Name()), keyword) {
			continue
		}
		entries = append(entries, newEntry(RelPath(root, filepath.Join(dir, d.Name())), d))
	}
	sortEntries(entries, sortBy, order)
	return paginate(entries, offset, limit), len(entries), nil
}

// ReadFile returns the content of one file.
func (m *Manager) ReadFile(scope, rel string) ([]byte, error) {
	path, err := m.Resolve(scope, rel)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("stat: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrConflict, rel)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

// ─── Mutations ──────────────────────────────────────────────────────────────

// WriteFile writes content to a file atomically (temp then rename). When
// create is false the file must already exist. Parent directories are
// created as needed.
func (m *Manager) WriteFile(scope, rel string, content []byte, create bool) error {
	path, err := m.Resolve(scope, rel)
	if err != nil {
		return err
	}
	if path == m.ScopeRoot(scope) {
		return fmt.Errorf("%w: refusing to write workspace root", ErrConflict)
	}
	if !create {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return ErrNotFound
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create parent dirs: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".write-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write content: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}

	m.MarkDirty(scope)
	return nil
}

// Mkdir creates a directory (and parents) under the scope's root.
func (m *Manager) Mkdir(scope, rel string) error {
	path, err := m.Resolve(scope, rel)
	if err != nil {
		return err
	}
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		return fmt.Errorf("%w: %s exists as a file", ErrConflict, rel)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	m.MarkDirty(scope)
	return nil
}

// Move renames src to dst inside the scope. The destination must not exist,
// and a directory cannot move into its own descendant.
func (m *Manager) Move(scope, src, dst string) error {
	srcAbs, dstAbs, err := m.resolvePair(scope, src, dst)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dstAbs), 0o755); err != nil {
		return fmt.Errorf("create parent dirs: %w", err)
	}
	if err := os.Rename(srcAbs, dstAbs); err != nil {
		// Cross-device rename: copy then delete.
		if isCrossDevice(err) {
			if err := copyPath(srcAbs, dstAbs); err != nil {
				os.RemoveAll(dstAbs)
				return err
			}
			if err := os.RemoveAll(srcAbs); err != nil {
				return fmt.Errorf("remove source after copy: %w", err)
			}
		} else {
			return fmt.Errorf("rename: %w", err)
		}
	}
	m.MarkDirty(scope)
	return nil
}

// Copy duplicates src at dst inside the scope, recursively for directories.
func (m *Manager) Copy(scope, src, dst string) error {
	srcAbs, dstAbs, err := m.resolvePair(scope, src, dst)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dstAbs), 0o755); err != nil {
		return fmt.Errorf("create parent dirs: %w", err)
	}
	if err := copyPath(srcAbs, dstAbs); err != nil {
		os.RemoveAll(dstAbs)
		return err
	}
	m.MarkDirty(scope)
	return nil
}

// resolvePair validates a src/dst operation: src exists, dst does not, and
// dst is not a descendant of src.
func (m *Manager) resolvePair(scope, src, dst string) (string, string, error) {
	srcAbs, err := m.Resolve(scope, src)
	if err != nil {
		return "", "", err
	}
	dstAbs, err := m.Resolve(scope, dst)
	if err != nil {
		return "", "", err
	}
	if _, err := os.Stat(srcAbs); os.IsNotExist(err) {
		return "", "", ErrNotFound
	}
	if _, err := os.Stat(dstAbs); err == nil {
		return "", "", fmt.Errorf("%w: destination already exists", ErrConflict)
	}
	if dstAbs == srcAbs || strings.HasPrefix(dstAbs, srcAbs+string(filepath.Separator)) {
		return "", "", fmt.Errorf("%w: destination inside source", ErrConflict)
	}
	return srcAbs, dstAbs, nil
}

// Delete removes a file or directory tree. The scope root itself cannot be
// deleted here; that is PurgeScope's job.
func (m *Manager) Delete(scope, rel string) error {
	path, err := m.Resolve(scope, rel)
	if err != nil {
		return err
	}
	if path == m.ScopeRoot(scope) {
		return fmt.Errorf("%w: refusing to delete workspace root", ErrConflict)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return ErrNotFound
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	m.MarkDirty(scope)
	return nil
}

// SaveUpload stages r to a temporary file, then moves it atomically to rel.
// declaredSize, when positive, is checked against the size cap before any
// bytes are read; the actual byte count is enforced while copying. The
// staged file is removed on every failure path.
func (m *Manager) SaveUpload(scope, rel string, r io.Reader, declaredSize int64) (int64, error) {
	if declaredSize > m.maxUpload {
		return 0, ErrTooLarge
	}
	path, err := m.Resolve(scope, rel)
	if err != nil {
		return 0, err
	}
	if path == m.ScopeRoot(scope) {
		return 0, fmt.Errorf("%w: refusing to write workspace root", ErrConflict)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create parent dirs: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*.tmp")
	if err != nil {
		return 0, fmt.Errorf("create staging file: %w", err)
	}
	tmpName := tmp.Name()

	written, err := io.Copy(tmp, io.LimitReader(r, m.maxUpload+1))
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return 0, fmt.Errorf("stage upload: %w", err)
	}
	if written > m.maxUpload {
		tmp.Close()
		os.Remove(tmpName)
		return 0, ErrTooLarge
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("close staging file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		if isCrossDevice(err) {
			if cpErr := copyPath(tmpName, path); cpErr != nil {
				os.Remove(tmpName)
				return 0, cpErr
			}
			os.Remove(tmpName)
		} else {
			os.Remove(tmpName)
			return 0, fmt.Errorf("place upload: %w", err)
		}
	}

	m.MarkDirty(scope)
	return written, nil
}

// ─── Search, tree, archive ──────────────────────────────────────────────────

// SearchEntries searches the scope's workspace by keyword.
func (m *Manager) SearchEntries(scope, keyword string, offset, limit int, includeFiles, includeDirs bool) ([]Entry, int, error) {
	return m.index.Search(scope, keyword, m.trees.Version(scope), offset, limit, includeFiles, includeDirs)
}

// TreeSnapshot returns the rendered directory tree for the scope, with the
// scope's current change version.
func (m *Manager) TreeSnapshot(scope string) (string, uint64, error) {
	tree, _, err := m.trees.Snapshot(scope)
	if err != nil {
		return "", 0, err
	}
	return tree, m.trees.Version(scope), nil
}

// MarkDirty records that the scope's filesystem changed. This is the only
// channel by which the caches learn about mutations.
func (m *Manager) MarkDirty(scope string) uint64 {
	return m.trees.MarkDirty(scope)
}

// Version returns the scope's current change version.
func (m *Manager) Version(scope string) uint64 {
	return m.trees.Version(scope)
}

// BuildArchive zips the scope's root (or a sub-path) into a self-deleting
// temporary file.
func (m *Manager) BuildArchive(scope, rel string) (*Archive, error) {
	path, err := m.Resolve(scope, rel)
	if err != nil {
		return nil, err
	}
	prefix := "workspace_" + scope
	if path != m.ScopeRoot(scope) {
		prefix = filepath.Base(path)
	}
	return buildArchive(path, prefix)
}

// ─── Activity records and session metadata ──────────────────────────────────

// RecordChat enqueues a chat message append.
func (m *Manager) RecordChat(ctx context.Context, scope, payload string) {
	m.queue.Submit(ctx, storage.Record{Kind: storage.KindChat, Scope: scope, Payload: payload})
}

// RecordToolLog enqueues a tool-call log append.
func (m *Manager) RecordToolLog(ctx context.Context, scope, payload string) {
	m.queue.Submit(ctx, storage.Record{Kind: storage.KindTool, Scope: scope, Payload: payload})
}

// RecordArtifact enqueues an artifact log append.
func (m *Manager) RecordArtifact(ctx context.Context, scope, payload string) {
	m.queue.Submit(ctx, storage.Record{Kind: storage.KindArtifact, Scope: scope, Payload: payload})
}

// TouchActivity stamps the scope's session-activity time, which the temp
// cleanup scheduler consults before reclaiming the workspace.
func (m *Manager) TouchActivity(ctx context.Context, scope string) {
	key := storage.SessionActivityKey(scope)
	now := strconv.FormatInt(time.Now().Unix(), 10)
	if err := m.store.SetMeta(ctx, key, now); err != nil {
		logging.Warn("failed to record session activity",
			zap.String("scope", scope), zap.Error(err))
	}
}

// ─── Purge ──────────────────────────────────────────────────────────────────

// PurgeResult summarizes an account purge.
type PurgeResult struct {
	Counts           storage.PurgeCounts
	WorkspaceRemoved bool
}

// PurgeScope removes every trace of a scope: stored activity rows and meta
// keys, the on-disk workspace, and all cached state including the version
// counter. Eviction would reclaim the caches eventually; purge must be
// immediate so a reused scope id never sees stale data.
func (m *Manager) PurgeScope(ctx context.Context, scope string) (PurgeResult, error) {
	counts, err := m.store.PurgeScope(ctx, scope)
	if err != nil {
		return PurgeResult{}, fmt.Errorf("purge storage: %w", err)
	}

	result := PurgeResult{Counts: counts}
	root := m.ScopeRoot(scope)
	if _, statErr := os.Stat(root); statErr == nil {
		if err := os.RemoveAll(root); err != nil {
			return result, fmt.Errorf("remove workspace dir: %w", err)
		}
		result.WorkspaceRemoved = true
	}

	m.trees.Drop(scope)
	m.index.Drop(scope)
	return result, nil
}

// ─── Internal helpers ───────────────────────────────────────────────────────

// isCrossDevice reports whether a rename failed because source and target
// are on different filesystems.
func isCrossDevice(err error) bool {
	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) {
		return false
	}
	return strings.Contains(linkErr.Err.Error(), "cross-device")
}

// copyPath copies a file or directory tree from src to dst.
func copyPath(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}
	if info.IsDir() {
		if err := os.MkdirAll(dst, info.Mode().Perm()); err != nil {
			return err
		}
		dirents, err := os.ReadDir(src)
		if err != nil {
			return err
		}
		for _, d := range dirents {
			if err := copyPath(filepath.Join(src, d.Name()), filepath.Join(dst, d.Name())); err != nil {
				return err
			}
		}
		return nil
	}
	return copyFile(src, dst, info.Mode().Perm())
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".copy-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("copy content: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("place copy: %w", err)
	}
	return nil
}
