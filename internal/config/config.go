// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all server configuration.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Database ("" = in-memory store, for development only)
	DatabaseURL string

	// Auth
	JWTSecret string

	// Workspace layout
	WorkspaceRoot string

	// Tree cache
	TreeDepth      int
	TreeTTL        time.Duration
	CacheIdleTTL   time.Duration
	MaxCachedUsers int

	// Search index
	IndexTTL      time.Duration
	IndexMaxItems int

	// Background persistence
	WriteQueueSize int

	// Maintenance
	RetentionDays       int
	RetentionInterval   time.Duration
	TempCleanupIdle     time.Duration
	TempCleanupInterval time.Duration
	AdminScopes         []string // excluded from retention deletion

	// Uploads
	MaxUploadSize int64
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:    envOr("LISTEN_ADDR", ":8080"),
		MetricsAddr:   envOr("METRICS_ADDR", ":9090"),
		LogLevel:      envOr("LOG_LEVEL", "info"),
		LogFormat:     envOr("LOG_FORMAT", "json"),
		DatabaseURL:   envOr("DATABASE_URL", ""),
		JWTSecret:     envOr("JWT_SECRET", ""),
		WorkspaceRoot: envOr("WORKSPACE_ROOT", "/data/workspaces"),

		TreeDepth:      envInt("TREE_DEPTH", 2),
		TreeTTL:        envDuration("TREE_TTL", 30*time.Second),
		CacheIdleTTL:   envDuration("CACHE_IDLE_TTL", 10*time.Minute),
		MaxCachedUsers: envInt("MAX_CACHED_USERS", 256),

		IndexTTL:      envDuration("INDEX_TTL", 30*time.Second),
		IndexMaxItems: envInt("INDEX_MAX_ITEMS", 2000),

		WriteQueueSize: envInt("WRITE_QUEUE_SIZE", 2048),

		RetentionDays:       envInt("RETENTION_DAYS", 30),
		RetentionInterval:   envDuration("RETENTION_INTERVAL", time.Hour),
		TempCleanupIdle:     envDuration("TEMP_CLEANUP_IDLE", 48*time.Hour),
		TempCleanupInterval: envDuration("TEMP_CLEANUP_INTERVAL", time.Hour),
		AdminScopes:         envList("ADMIN_SCOPES"),

		MaxUploadSize: envInt64("MAX_UPLOAD_SIZE", 200*1024*1024), // 200MB default
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.WorkspaceRoot == "" {
		return nil, fmt.Errorf("WORKSPACE_ROOT is required")
	}
	if cfg.TreeDepth < 1 {
		return nil, fmt.Errorf("TREE_DEPTH must be at least 1")
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
