// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends selectable with CONTACTLINK_STORE.
const (
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// Log output formats selectable with CONTACTLINK_LOG_FORMAT.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	ListenAddr    string
	DBPath        string
	Store         string
	LockTimeout   time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	LogLevel      slog.Level
	LogFormat     string
}

// UsesRedisLocks reports whether fingerprint locks are shared through Redis
// rather than held in process.
func (c *Config) UsesRedisLocks() bool {
	return c.RedisAddr != ""
}

// NewLogger builds the slog logger described by LogLevel and LogFormat.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Load reads configuration from environment variables and returns a validated Config.
// Every variable is optional: CONTACTLINK_LISTEN_ADDR (127.0.0.1:8080),
// CONTACTLINK_DB_PATH (contactlink.db), CONTACTLINK_STORE (sqlite),
// CONTACTLINK_LOCK_TIMEOUT (5s), CONTACTLINK_REDIS_ADDR (unset: in-process locks),
// CONTACTLINK_REDIS_PASSWORD, CONTACTLINK_REDIS_DB (0),
// CONTACTLINK_LOG_LEVEL (info), CONTACTLINK_LOG_FORMAT (text).
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:  "127.0.0.1:8080",
		DBPath:      "contactlink.db",
		Store:       StoreSQLite,
		LockTimeout: 5 * time.Second,
		LogLevel:    slog.LevelInfo,
		LogFormat:   LogFormatText,
	}

	if v, ok := os.LookupEnv("CONTACTLINK_LISTEN_ADDR"); ok {
		cfg.ListenAddr = v
	}

	if v, ok := os.LookupEnv("CONTACTLINK_DB_PATH"); ok {
		cfg.DBPath = v
	}

	if v, ok := os.LookupEnv("CONTACTLINK_STORE"); ok {
		store := strings.ToLower(strings.TrimSpace(v))
		if store != StoreSQLite && store != StoreMemory {
			return nil, fmt.Errorf("CONTACTLINK_STORE must be %q or %q, got %q", StoreSQLite, StoreMemory, v)
		}
		cfg.Store = store
	}

	if v, ok := os.LookupEnv("CONTACTLINK_LOCK_TIMEOUT"); ok {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("CONTACTLINK_LOCK_TIMEOUT has invalid duration %q: %w", v, err)
		}
		if parsed <= 0 {
			return nil, fmt.Errorf("CONTACTLINK_LOCK_TIMEOUT must be positive, got %q", v)
		}
		cfg.LockTimeout = parsed
	}

	cfg.RedisAddr = os.Getenv("CONTACTLINK_REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("CONTACTLINK_REDIS_PASSWORD")

	if v, ok := os.LookupEnv("CONTACTLINK_REDIS_DB"); ok {
		db, err := strconv.Atoi(v)
		if err != nil || db < 0 {
			return nil, fmt.Errorf("CONTACTLINK_REDIS_DB must be a non-negative integer, got %q", v)
		}
		cfg.RedisDB = db
	}

	if v, ok := os.LookupEnv("CONTACTLINK_LOG_LEVEL"); ok {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return nil, fmt.Errorf("CONTACTLINK_LOG_LEVEL has invalid level %q: %w", v, err)
		}
	}

	if v, ok := os.LookupEnv("CONTACTLINK_LOG_FORMAT"); ok {
		format := strings.ToLower(strings.TrimSpace(v))
		if format != LogFormatText && format != LogFormatJSON {
			return nil, fmt.Errorf("CONTACTLINK_LOG_FORMAT must be %q or %q, got %q", LogFormatText, LogFormatJSON, v)
		}
		cfg.LogFormat = format
	}

	return cfg, nil
}
