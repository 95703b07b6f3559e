// Package storage defines the persistence collaborator for the workspace
// service: append-only activity logs, a generic key/value meta store, and
// retention/purge maintenance. Callers never see the schema.
package storage

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("storage: store closed")

// RecordKind identifies an activity log stream.
type RecordKind string

const (
	KindChat     RecordKind = "chat"
	KindTool     RecordKind = "tool"
	KindArtifact RecordKind = "artifact"
	KindMemory   RecordKind = "memory"
)

// Record is one activity log append.
type Record struct {
	Kind    RecordKind
	Scope   string
	Payload string
}

// RetentionResult reports rows deleted by a retention pass, per stream.
type RetentionResult struct {
	ChatDeleted     int64
	ToolDeleted     int64
	ArtifactDeleted int64
	MemoryDeleted   int64
}

// Total returns the number of rows deleted across all streams.
func (r RetentionResult) Total() int64 {
	return r.ChatDeleted + r.ToolDeleted + r.ArtifactDeleted + r.MemoryDeleted
}

// PurgeCounts reports rows deleted by a scope purge, per stream.
type PurgeCounts struct {
	ChatDeleted     int64
	ToolDeleted     int64
	ArtifactDeleted int64
	MemoryDeleted   int64
	MetaDeleted     int64
}

// UsageStats is an aggregate row-count view across all streams.
type UsageStats struct {
	ChatMessages int64
	ToolLogs     int64
	ArtifactLogs int64
	MemoryRows   int64
	MetaKeys     int64
}

// Store is the persistence boundary. Append is fire-and-forget telemetry;
// the meta operations back session-activity timestamps and token counters.
type Store interface {
	// Append persists one activity record.
	Append(ctx context.Context, rec Record) error

	// GetMeta returns the value for key, reporting whether it exists.
	GetMeta(ctx context.Context, key string) (string, bool, error)

	// SetMeta inserts or replaces the value for key.
	SetMeta(ctx context.Context, key, value string) error

	// DeleteMetaPrefix removes all keys with the given prefix and returns
	// how many were removed.
	DeleteMetaPrefix(ctx context.Context, prefix string) (int64, error)

	// CleanupRetention deletes activity rows older than the given number
	// of days. Scopes registered as administrators are skipped.
	CleanupRetention(ctx context.Context, days int) (RetentionResult, error)

	// PurgeScope deletes every activity row and meta key belonging to the
	// scope, regardless of age.
	PurgeScope(ctx context.Context, scope string) (PurgeCounts, error)

	// UsageStats returns aggregate row counts.
	UsageStats(ctx context.Context) (UsageStats, error)

	Close() error
}

// Meta key namespaces. These are the only keys the workspace service writes.
const (
	MetaSessionActivityPrefix = "session_activity:"
	MetaContextTokensPrefix   = "session_context_tokens:"
)

// SessionActivityKey returns the meta key holding the last-activity
// timestamp for a scope.
func SessionActivityKey(scope string) string {
	return MetaSessionActivityPrefix + scope
}

// ContextTokensKey returns the meta key holding the running token count for
// one session of a scope.
func ContextTokensKey(scope, session string) string {
	return MetaContextTokensPrefix + scope + ":" + session
}
