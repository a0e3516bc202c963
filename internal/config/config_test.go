package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable LoadFromEnv reads.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DUCKGATE_CONFIG", "LISTEN_ADDR", "LOG_LEVEL", "ENV",
		"MAX_SESSIONS", "SESSION_TTL", "TERMINATE_GRACE", "PROTECT_BUSY_SESSIONS", "SWEEP_SCHEDULE", "STRICT_INVARIANTS",
		"MAX_CONCURRENT_STATEMENTS", "STATEMENT_RETENTION", "SUBMIT_WAIT",
		"HISTORY_DB_PATH", "HISTORY_RETENTION",
		"DATA_DIR", "S3_KEY_ID", "S3_SECRET", "S3_ENDPOINT", "S3_REGION",
		"GCS_CREDENTIALS_FILE", "AZURE_STORAGE_CONNECTION_STRING",
		"DUCKDB_MAX_MEMORY", "DUCKDB_THREADS",
		"JWT_SECRET", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "CORS_ALLOWED_ORIGINS",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 100, cfg.Session.MaxSessions)
	assert.Equal(t, time.Hour, cfg.Session.TTL)
	assert.Equal(t, 5*time.Second, cfg.Session.TerminateGrace)
	assert.Equal(t, "@every 5m", cfg.Session.SweepSchedule)
	assert.False(t, cfg.Session.ProtectBusy)
	assert.Equal(t, int64(0), cfg.Statement.MaxConcurrent)
	assert.Equal(t, 15*time.Minute, cfg.Statement.Retention)
	assert.Zero(t, cfg.Statement.SubmitWait)
	assert.False(t, cfg.HistoryEnabled())
	assert.False(t, cfg.AuthEnabled())
	assert.True(t, cfg.StrictInvariants())
	assert.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, float64(100), cfg.RateLimitRPS)
	assert.Equal(t, 200, cfg.RateLimitBurst)
	assert.Contains(t, cfg.Warnings, "JWT_SECRET not set; API authentication is disabled")
}

func TestLoadFromEnv_AllVarsSet(t *testing.T) {
	clearEnv(t)
	t.Setenv("LISTEN_ADDR", ":9090")
	t.Setenv("MAX_SESSIONS", "7")
	t.Setenv("SESSION_TTL", "30m")
	t.Setenv("TERMINATE_GRACE", "2s")
	t.Setenv("PROTECT_BUSY_SESSIONS", "true")
	t.Setenv("MAX_CONCURRENT_STATEMENTS", "16")
	t.Setenv("STATEMENT_RETENTION", "1h")
	t.Setenv("SUBMIT_WAIT", "45s")
	t.Setenv("HISTORY_DB_PATH", "/tmp/history.db")
	t.Setenv("S3_KEY_ID", "key")
	t.Setenv("S3_REGION", "eu-west-1")
	t.Setenv("DUCKDB_THREADS", "4")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example,")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, 7, cfg.Session.MaxSessions)
	assert.Equal(t, 30*time.Minute, cfg.Session.TTL)
	assert.Equal(t, 2*time.Second, cfg.Session.TerminateGrace)
	assert.True(t, cfg.Session.ProtectBusy)
	assert.Equal(t, int64(16), cfg.Statement.MaxConcurrent)
	assert.Equal(t, time.Hour, cfg.Statement.Retention)
	assert.Equal(t, 45*time.Second, cfg.Statement.SubmitWait)
	assert.True(t, cfg.HistoryEnabled())
	assert.Equal(t, "key", cfg.Storage.S3KeyID)
	assert.Equal(t, "eu-west-1", cfg.Storage.S3Region)
	assert.Equal(t, 4, cfg.DuckDB.Threads)
	assert.True(t, cfg.AuthEnabled())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
	assert.Empty(t, cfg.Warnings)
}

func TestLoadFromEnv_InvalidValuesWarn(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAX_SESSIONS", "lots")
	t.Setenv("SESSION_TTL", "forever")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Session.MaxSessions)
	assert.Equal(t, time.Hour, cfg.Session.TTL)
	assert.Len(t, cfg.Warnings, 3)
}

func TestLoadFromEnv_RejectsNegativeMaxSessions(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAX_SESSIONS", "-1")

	_, err := LoadFromEnv()
	require.Error(t, err)
}

func TestLoadFromEnv_ZeroMaxSessionsWarns(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAX_SESSIONS", "0")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Session.MaxSessions)
	assert.Contains(t, cfg.Warnings, "MAX_SESSIONS is 0; every session creation will fail")
}

func TestLoadFromEnv_Production(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "missing jwt secret",
			env:     map[string]string{"CORS_ALLOWED_ORIGINS": "https://app.example"},
			wantErr: "JWT_SECRET",
		},
		{
			name:    "wildcard cors",
			env:     map[string]string{"JWT_SECRET": "x"},
			wantErr: "CORS wildcard",
		},
		{
			name: "valid",
			env:  map[string]string{"JWT_SECRET": "x", "CORS_ALLOWED_ORIGINS": "https://app.example"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("ENV", "production")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := LoadFromEnv()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, cfg.IsProduction())
			assert.False(t, cfg.StrictInvariants())
		})
	}
}

func TestLoadFromEnv_StrictInvariantsOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("STRICT_INVARIANTS", "off")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.False(t, cfg.StrictInvariants())
}

func TestLoadFromEnv_YAMLFileBeneathEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "duckgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr: ":7000"
log_level: debug
session:
  max_sessions: 3
  ttl: 10m
statement:
  retention: 2h
history:
  db_path: /var/lib/duckgate/history.db
cors_allowed_origins:
  - https://ui.example
`), 0o600))
	t.Setenv("DUCKGATE_CONFIG", path)
	t.Setenv("MAX_SESSIONS", "9")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.ListenAddr)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.Equal(t, 9, cfg.Session.MaxSessions, "env overrides file")
	assert.Equal(t, 10*time.Minute, cfg.Session.TTL)
	assert.Equal(t, 5*time.Second, cfg.Session.TerminateGrace, "defaults survive partial file")
	assert.Equal(t, 2*time.Hour, cfg.Statement.Retention)
	assert.Equal(t, "/var/lib/duckgate/history.db", cfg.History.DBPath)
	assert.Equal(t, []string{"https://ui.example"}, cfg.CORSAllowedOrigins)
}

func TestLoadFromEnv_YAMLUnknownKey(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "duckgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_session: 3\n"), 0o600))
	t.Setenv("DUCKGATE_CONFIG", path)

	_, err := LoadFromEnv()
	require.Error(t, err)
}

func TestLoadFromEnv_YAMLMissingFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("DUCKGATE_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := LoadFromEnv()
	require.Error(t, err)
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		cfg := &Config{LogLevel: tt.in}
		assert.Equal(t, tt.want, cfg.SlogLevel(), tt.in)
	}
}

func TestLoadDotEnv_FileNotFound(t *testing.T) {
	require.NoError(t, LoadDotEnv("/nonexistent/.env"))
}

func TestLoadDotEnv_ParsesKeyValue(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("# comment\nDG_TEST_KEY=\"quoted value\"\nexport DG_TEST_EXPORTED=yes\nnot a pair\n"), 0o600))
	t.Cleanup(func() {
		_ = os.Unsetenv("DG_TEST_KEY")
		_ = os.Unsetenv("DG_TEST_EXPORTED")
	})

	require.NoError(t, LoadDotEnv(envFile))
	assert.Equal(t, "quoted value", os.Getenv("DG_TEST_KEY"))
	assert.Equal(t, "yes", os.Getenv("DG_TEST_EXPORTED"))
}

func TestLoadDotEnv_EnvVarPrecedence(t *testing.T) {
	t.Setenv("DG_TEST_PRECEDENCE", "from_env")

	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("DG_TEST_PRECEDENCE=from_file\n"), 0o600))

	require.NoError(t, LoadDotEnv(envFile))
	assert.Equal(t, "from_env", os.Getenv("DG_TEST_PRECEDENCE"))
}
