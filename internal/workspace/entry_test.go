package workspace

import "testing"

func testEntries() []Entry {
	return []Entry{
		{Name: "zeta.txt", EntryType: EntryTypeFile, Size: 10, UpdatedTime: "2026-01-03T00:00:00Z"},
		{Name: "Alpha", EntryType: EntryTypeDir, UpdatedTime: "2026-01-02T00:00:00Z"},
		{Name: "beta.txt", EntryType: EntryTypeFile, Size: 5, UpdatedTime: "2026-01-01T00:00:00Z"},
		{Name: "gamma", EntryType: EntryTypeDir, UpdatedTime: "2026-01-04T00:00:00Z"},
	}
}

func names(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}

func assertOrder(t *testing.T, entries []Entry, want ...string) {
	t.Helper()
	got := names(entries)
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestSortEntriesDirsAlwaysFirst(t *testing.T) {
	for _, sortBy := range []string{SortByName, SortBySize, SortByUpdated} {
		for _, order := range []string{OrderAsc, OrderDesc} {
			entries := testEntries()
			sortEntries(entries, sortBy, order)
			if entries[0].EntryType != EntryTypeDir || entries[1].EntryType != EntryTypeDir {
				t.Errorf("sort %s/%s: dirs not first: %v", sortBy, order, names(entries))
			}
		}
	}
}

func TestSortEntriesByName(t *testing.T) {
	entries := testEntries()
	sortEntries(entries, SortByName, OrderAsc)
	assertOrder(t, entries, "Alpha", "gamma", "beta.txt", "zeta.txt")

	entries = testEntries()
	sortEntries(entries, SortByName, OrderDesc)
	assertOrder(t, entries, "gamma", "Alpha", "zeta.txt", "beta.txt")
}

func TestSortEntriesBySize(t *testing.T) {
	entries := testEntries()
	sortEntries(entries, SortBySize, OrderAsc)
	assertOrder(t, entries, "Alpha", "gamma", "beta.txt", "zeta.txt")
}

func TestSortEntriesByUpdated(t *testing.T) {
	entries := testEntries()
	sortEntries(entries, SortByUpdated, OrderDesc)
	assertOrder(t, entries, "gamma", "Alpha", "zeta.txt", "beta.txt")
}

func TestPaginate(t *testing.T) {
	entries := testEntries()

	page := paginate(entries, 0, 2)
	if len(page) != 2 {
		t.Errorf("limit 2 returned %d", len(page))
	}
	page = paginate(entries, 3, 10)
	if len(page) != 1 {
		t.Errorf("offset 3 returned %d", len(page))
	}
	page = paginate(entries, 10, 2)
	if len(page) != 0 {
		t.Errorf("offset beyond end returned %d", len(page))
	}
	page = paginate(entries, 0, 0)
	if len(page) != len(entries) {
		t.Errorf("zero limit returned %d", len(page))
	}
}
