package storage

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Memory is an in-memory Store used by tests and for running the server
// without a database.
type Memory struct {
	mu          sync.Mutex
	closed      bool
	rows        map[RecordKind][]memoryRow
	meta        map[string]string
	adminScopes map[string]bool
}

type memoryRow struct {
	scope     string
	payload   string
	createdAt time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory(adminScopes ...string) *Memory {
	admins := make(map[string]bool, len(adminScopes))
	for _, s := range adminScopes {
		admins[s] = true
	}
	return &Memory{
		rows:        make(map[RecordKind][]memoryRow),
		meta:        make(map[string]string),
		adminScopes: admins,
	}
}

// Append persists one activity record.
func (m *Memory) Append(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.rows[rec.Kind] = append(m.rows[rec.Kind], memoryRow{
		scope:     rec.Scope,
		payload:   rec.Payload,
		createdAt: time.Now(),
	})
	return nil
}

// GetMeta returns the value for key, reporting whether it exists.
func (m *Memory) GetMeta(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", false, ErrClosed
	}
	v, ok := m.meta[key]
	return v, ok, nil
}

// SetMeta inserts or replaces the value for key.
func (m *Memory) SetMeta(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.meta[key] = value
	return nil
}

// DeleteMetaPrefix removes all keys with the given prefix.
func (m *Memory) DeleteMetaPrefix(_ context.Context, prefix string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	var n int64
	for k := range m.meta {
		if strings.HasPrefix(k, prefix) {
			delete(m.meta, k)
			n++
		}
	}
	return n, nil
}

// CleanupRetention deletes activity rows older than days, skipping admin scopes.
func (m *Memory) CleanupRetention(_ context.Context, days int) (RetentionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return RetentionResult{}, ErrClosed
	}
	cutoff := time.Now().AddDate(0, 0, -days)
	var result RetentionResult
	counts := map[RecordKind]*int64{
		KindChat:     &result.ChatDeleted,
		KindTool:     &result.ToolDeleted,
		KindArtifact: &result.ArtifactDeleted,
		KindMemory:   &result.MemoryDeleted,
	}
	for kind, out := range counts {
		kept := m.rows[kind][:0]
		for _, row := range m.rows[kind] {
			if row.createdAt.Before(cutoff) && !m.adminScopes[row.scope] {
				*out++
				continue
			}
			kept = append(kept, row)
		}
		m.rows[kind] = kept
	}
	return result, nil
}

// PurgeScope deletes every row and meta key belonging to scope.
func (m *Memory) PurgeScope(_ context.Context, scope string) (PurgeCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return PurgeCounts{}, ErrClosed
	}
	var counts PurgeCounts
	outs := map[RecordKind]*int64{
		KindChat:     &counts.ChatDeleted,
		KindTool:     &counts.ToolDeleted,
		KindArtifact: &counts.ArtifactDeleted,
		KindMemory:   &counts.MemoryDeleted,
	}
	for kind, out := range outs {
		kept := m.rows[kind][:0]
		for _, row := range m.rows[kind] {
			if row.scope == scope {
				*out++
				continue
			}
			kept = append(kept, row)
		}
		m.rows[kind] = kept
	}
	// The activity key must match exactly so that purging "u1" leaves
	// "u10" alone. The token-counter prefix ends with ':' and cannot
	// spill over into a longer scope.
	for k := range m.meta {
		if k == SessionActivityKey(scope) ||
			strings.HasPrefix(k, MetaContextTokensPrefix+scope+":") {
			delete(m.meta, k)
			counts.MetaDeleted++
		}
	}
	return counts, nil
}

// UsageStats returns aggregate row counts.
func (m *Memory) UsageStats(_ context.Context) (UsageStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return UsageStats{}, ErrClosed
	}
	return UsageStats{
		ChatMessages: int64(len(m.rows[KindChat])),
		ToolLogs:     int64(len(m.rows[KindTool])),
		ArtifactLogs: int64(len(m.rows[KindArtifact])),
		MemoryRows:   int64(len(m.rows[KindMemory])),
		MetaKeys:     int64(len(m.meta)),
	}, nil
}

// Close marks the store closed; further operations return ErrClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Records returns a copy of all rows of one kind, oldest first. Test helper.
func (m *Memory) Records(kind RecordKind) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.rows[kind]))
	for _, row := range m.rows[kind] {
		out = append(out, Record{Kind: kind, Scope: row.scope, Payload: row.payload})
	}
	return out
}

// Backdate shifts every stored row's creation time for retention tests.
func (m *Memory) Backdate(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for kind := range m.rows {
		for i := range m.rows[kind] {
			m.rows[kind][i].createdAt = m.rows[kind][i].createdAt.Add(-d)
		}
	}
}
