package workspace

import (
	"io/fs"
	"sort"
	"strings"
	"time"
)

// Entry types.
const (
	EntryTypeDir  = "dir"
	EntryTypeFile = "file"
)

// Sort fields accepted by ListEntries.
const (
	SortByName    = "name"
	SortBySize    = "size"
	SortByUpdated = "updated_time"
)

// Sort orders accepted by ListEntries.
const (
	OrderAsc  = "asc"
	OrderDesc = "desc"
)

// Entry is one filesystem item as seen by a client. Entries are built
// transiently on every listing or search call and never persisted.
type Entry struct {
	Name        string  `json:"name"`
	Path        string  `json:"path"`
	EntryType   string  `json:"entry_type"`
	Size        int64   `json:"size"`
	UpdatedTime string  `json:"updated_time"`
	Children    []Entry `json:"children,omitempty"`
}

// newEntry builds an Entry from a directory entry. Size is zero for
// directories; UpdatedTime is empty when stat fails.
func newEntry(relPath string, d fs.DirEntry) Entry {
	e := Entry{
		Name: d.Name(),
		Path: relPath,
	}
	if d.IsDir() {
		e.EntryType = EntryTypeDir
	} else {
		e.EntryType = EntryTypeFile
	}
	if info, err := d.Info(); err == nil {
		if !d.IsDir() {
			e.Size = info.Size()
		}
		e.UpdatedTime = info.ModTime().UTC().Format(time.RFC3339)
	}
	return e
}

// sortEntries orders entries with directories always before files. The sort
// field applies within each group; descending order reverses each group but
// never moves files ahead of directories.
func sortEntries(entries []Entry, sortBy, order string) {
	desc := order == OrderDesc
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.EntryType != b.EntryType {
			return a.EntryType == EntryTypeDir
		}
		var less bool
		switch sortBy {
		case SortBySize:
			if a.Size != b.Size {
				less = a.Size < b.Size
			} else {
				less = lessName(a.Name, b.Name)
			}
		case SortByUpdated:
			if a.UpdatedTime != b.UpdatedTime {
				less = a.UpdatedTime < b.UpdatedTime
			} else {
				less = lessName(a.Name, b.Name)
			}
		default:
			less = lessName(a.Name, b.Name)
		}
		if desc {
			return !less
		}
		return less
	})
}

// lessName compares names case-insensitively, breaking ties byte-wise so
// the order is total.
func lessName(a, b string) bool {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	if la != lb {
		return la < lb
	}
	return a < b
}

// paginate applies offset/limit by counting, so semantics match whether the
// input came from a cache or a live walk. A limit of zero means no limit.
func paginate(entries []Entry, offset, limit int) []Entry {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(entries) {
		return []Entry{}
	}
	entries = entries[offset:]
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}
