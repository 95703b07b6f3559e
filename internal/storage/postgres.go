package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/ylsdamxssjxxdd/wunder-sub001/internal/metrics"
)

// Postgres is a PostgreSQL-backed Store.
type Postgres struct {
	db          *sql.DB
	adminScopes []string
}

// kindTables maps record kinds to their backing tables. Payloads are opaque
// text; the service owns their encoding.
var kindTables = map[RecordKind]string{
	KindChat:     "activity_chat",
	KindTool:     "activity_tool",
	KindArtifact: "activity_artifact",
	KindMemory:   "agent_memory",
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS activity_chat (
		id BIGSERIAL PRIMARY KEY,
		scope TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS activity_tool (
		id BIGSERIAL PRIMARY KEY,
		scope TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS activity_artifact (
		id BIGSERIAL PRIMARY KEY,
		scope TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS agent_memory (
		id BIGSERIAL PRIMARY KEY,
		scope TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS meta_kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_activity_chat_scope ON activity_chat (scope)`,
	`CREATE INDEX IF NOT EXISTS idx_activity_tool_scope ON activity_tool (scope)`,
	`CREATE INDEX IF NOT EXISTS idx_activity_artifact_scope ON activity_artifact (scope)`,
	`CREATE INDEX IF NOT EXISTS idx_agent_memory_scope ON agent_memory (scope)`,
}

// NewPostgres opens a PostgreSQL store and bootstraps the schema.
// adminScopes are excluded from retention deletion.
func NewPostgres(databaseURL string, adminScopes []string) (*Postgres, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("bootstrap schema: %w", err)
		}
	}

	return &Postgres{db: db, adminScopes: adminScopes}, nil
}

// Close closes the database connection.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// Append persists one activity record.
func (p *Postgres) Append(ctx context.Context, rec Record) error {
	table, ok := kindTables[rec.Kind]
	if !ok {
		return fmt.Errorf("unknown record kind %q", rec.Kind)
	}
	start := time.Now()
	defer func() { metrics.RecordDBQuery("append_"+string(rec.Kind), time.Since(start)) }()

	_, err := p.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (scope, payload) VALUES ($1, $2)`, table),
		rec.Scope, rec.Payload)
	if err != nil {
		return fmt.Errorf("append %s: %w", rec.Kind, err)
	}
	return nil
}

// GetMeta returns the value for key, reporting whether it exists.
func (p *Postgres) GetMeta(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := p.db.QueryRowContext(ctx,
		`SELECT value FROM meta_kv WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get meta %s: %w", key, err)
	}
	return value, true, nil
}

// SetMeta inserts or replaces the value for key.
func (p *Postgres) SetMeta(ctx context.Context, key, value string) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO meta_kv (key, value, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value)
	if err != nil {
		return fmt.Errorf("set meta %s: %w", key, err)
	}
	return nil
}

// DeleteMetaPrefix removes all keys with the given prefix. The prefix is
// matched literally; '_' and '%' in it carry no wildcard meaning.
func (p *Postgres) DeleteMetaPrefix(ctx context.Context, prefix string) (int64, error) {
	res, err := p.db.ExecContext(ctx,
		`DELETE FROM meta_kv WHERE key LIKE $1 || '%' ESCAPE '\'`, escapeLike(prefix))
	if err != nil {
		return 0, fmt.Errorf("delete meta prefix %s: %w", prefix, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike neutralizes LIKE metacharacters so s matches only itself.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// CleanupRetention deletes activity rows older than days, skipping admin scopes.
func (p *Postgres) CleanupRetention(ctx context.Context, days int) (RetentionResult, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("cleanup_retention", time.Since(start)) }()

	var result RetentionResult
	targets := []struct {
		table string
		out   *int64
	}{
		{"activity_chat", &result.ChatDeleted},
		{"activity_tool", &result.ToolDeleted},
		{"activity_artifact", &result.ArtifactDeleted},
		{"agent_memory", &result.MemoryDeleted},
	}

	admins := p.adminScopes
	if admins == nil {
		admins = []string{}
	}
	for _, t := range targets {
		res, err := p.db.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s
				 WHERE created_at < now() - ($1 * interval '1 day')
				   AND scope <> ALL($2)`, t.table),
			days, pq.Array(admins))
		if err != nil {
			return result, fmt.Errorf("retention delete %s: %w", t.table, err)
		}
		*t.out, _ = res.RowsAffected()
	}
	return result, nil
}

// PurgeScope deletes every row and meta key belonging to scope.
func (p *Postgres) PurgeScope(ctx context.Context, scope string) (PurgeCounts, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("purge_scope", time.Since(start)) }()

	var counts PurgeCounts
	targets := []struct {
		table string
		out   *int64
	}{
		{"activity_chat", &counts.ChatDeleted},
		{"activity_tool", &counts.ToolDeleted},
		{"activity_artifact", &counts.ArtifactDeleted},
		{"agent_memory", &counts.MemoryDeleted},
	}
	for _, t := range targets {
		res, err := p.db.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE scope = $1`, t.table), scope)
		if err != nil {
			return counts, fmt.Errorf("purge %s: %w", t.table, err)
		}
		*t.out, _ = res.RowsAffected()
	}

	// Exact key match so that purging "u1" does not take "u10" with it.
	res, err := p.db.ExecContext(ctx,
		`DELETE FROM meta_kv WHERE key = $1`, SessionActivityKey(scope))
	if err != nil {
		return counts, fmt.Errorf("purge session activity: %w", err)
	}
	n, _ := res.RowsAffected()
	counts.MetaDeleted += n
	n, err = p.DeleteMetaPrefix(ctx, MetaContextTokensPrefix+scope+":")
	if err != nil {
		return counts, err
	}
	counts.MetaDeleted += n
	return counts, nil
}

// UsageStats returns aggregate row counts.
func (p *Postgres) UsageStats(ctx context.Context) (UsageStats, error) {
	var stats UsageStats
	targets := []struct {
		table string
		out   *int64
	}{
		{"activity_chat", &stats.ChatMessages},
		{"activity_tool", &stats.ToolLogs},
		{"activity_artifact", &stats.ArtifactLogs},
		{"agent_memory", &stats.MemoryRows},
		{"meta_kv", &stats.MetaKeys},
	}
	for _, t := range targets {
		err := p.db.QueryRowContext(ctx,
			fmt.Sprintf(`SELECT count(*) FROM %s`, t.table)).Scan(t.out)
		if err != nil {
			return stats, fmt.Errorf("count %s: %w", t.table, err)
		}
	}
	return stats, nil
}
