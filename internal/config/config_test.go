package config

import (
	"bytes"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// allConfigKeys lists every CONTACTLINK_ env var that Load() reads.
var allConfigKeys = []string{
	"CONTACTLINK_LISTEN_ADDR",
	"CONTACTLINK_DB_PATH",
	"CONTACTLINK_STORE",
	"CONTACTLINK_LOCK_TIMEOUT",
	"CONTACTLINK_REDIS_ADDR",
	"CONTACTLINK_REDIS_PASSWORD",
	"CONTACTLINK_REDIS_DB",
	"CONTACTLINK_LOG_LEVEL",
	"CONTACTLINK_LOG_FORMAT",
}

// isolateConfigEnv saves and unsets all CONTACTLINK_ env vars so tests don't
// inherit values from the host environment (e.g. a running dev server).
// t.Cleanup restores original values after the test.
func isolateConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range allConfigKeys {
		if orig, ok := os.LookupEnv(key); ok {
			t.Cleanup(func() { os.Setenv(key, orig) })
		} else {
			t.Cleanup(func() { os.Unsetenv(key) })
		}
		os.Unsetenv(key)
	}
}

func TestLoad_Success(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("CONTACTLINK_LISTEN_ADDR", "0.0.0.0:9090")
	t.Setenv("CONTACTLINK_DB_PATH", "/tmp/test.db")
	t.Setenv("CONTACTLINK_STORE", "Memory")
	t.Setenv("CONTACTLINK_LOCK_TIMEOUT", "250ms")
	t.Setenv("CONTACTLINK_REDIS_ADDR", "redis:6379")
	t.Setenv("CONTACTLINK_REDIS_PASSWORD", "hunter2")
	t.Setenv("CONTACTLINK_REDIS_DB", "3")
	t.Setenv("CONTACTLINK_LOG_LEVEL", "debug")
	t.Setenv("CONTACTLINK_LOG_FORMAT", "json")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9090", cfg.ListenAddr)
	assert.Equal(t, "/tmp/test.db", cfg.DBPath)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, 250*time.Millisecond, cfg.LockTimeout)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, "hunter2", cfg.RedisPassword)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, LogFormatJSON, cfg.LogFormat)
	assert.True(t, cfg.UsesRedisLocks())
}

func TestLoad_Defaults(t *testing.T) {
	isolateConfigEnv(t)

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.ListenAddr)
	assert.Equal(t, "contactlink.db", cfg.DBPath)
	assert.Equal(t, StoreSQLite, cfg.Store)
	assert.Equal(t, 5*time.Second, cfg.LockTimeout)
	assert.Equal(t, 0, cfg.RedisDB)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, LogFormatText, cfg.LogFormat)
	assert.False(t, cfg.UsesRedisLocks())
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{name: "unknown store", key: "CONTACTLINK_STORE", value: "postgres", wantErr: "CONTACTLINK_STORE"},
		{name: "bad lock timeout", key: "CONTACTLINK_LOCK_TIMEOUT", value: "soon", wantErr: "CONTACTLINK_LOCK_TIMEOUT"},
		{name: "zero lock timeout", key: "CONTACTLINK_LOCK_TIMEOUT", value: "0s", wantErr: "must be positive"},
		{name: "bad redis db", key: "CONTACTLINK_REDIS_DB", value: "two", wantErr: "CONTACTLINK_REDIS_DB"},
		{name: "negative redis db", key: "CONTACTLINK_REDIS_DB", value: "-1", wantErr: "CONTACTLINK_REDIS_DB"},
		{name: "bad log level", key: "CONTACTLINK_LOG_LEVEL", value: "chatty", wantErr: "CONTACTLINK_LOG_LEVEL"},
		{name: "bad log format", key: "CONTACTLINK_LOG_FORMAT", value: "xml", wantErr: "CONTACTLINK_LOG_FORMAT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolateConfigEnv(t)
			t.Setenv(tt.key, tt.value)

			cfg, err := Load()

			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_NewLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := &Config{LogLevel: slog.LevelWarn, LogFormat: LogFormatJSON}

	logger := cfg.NewLogger(&buf)
	logger.Info("dropped")
	logger.Warn("kept", "key", "value")

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, `"msg":"kept"`)
	assert.Contains(t, out, `"key":"value"`)
}
