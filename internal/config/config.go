// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SessionConfig controls the session registry.
type SessionConfig struct {
	MaxSessions      int           `yaml:"max_sessions"`
	TTL              time.Duration `yaml:"ttl"`
	TerminateGrace   time.Duration `yaml:"terminate_grace"`
	ProtectBusy      bool          `yaml:"protect_busy"`
	StrictInvariants *bool         `yaml:"strict_invariants"` // nil: strict outside production
	SweepSchedule    string        `yaml:"sweep_schedule"`
}

// StatementConfig controls the statement executor.
type StatementConfig struct {
	MaxConcurrent int64         `yaml:"max_concurrent"` // 0 = unbounded
	Retention     time.Duration `yaml:"retention"`
	SubmitWait    time.Duration `yaml:"submit_wait"` // how long POST waits before answering 202
}

// HistoryConfig controls persisted statement history.
type HistoryConfig struct {
	DBPath    string        `yaml:"db_path"`   // empty disables history
	Retention time.Duration `yaml:"retention"` // 0 keeps history forever
}

// StorageConfig holds credentials for persistent session backends.
type StorageConfig struct {
	DataDir               string `yaml:"data_dir"`
	S3KeyID               string `yaml:"s3_key_id"`
	S3Secret              string `yaml:"s3_secret"`
	S3Endpoint            string `yaml:"s3_endpoint"`
	S3Region              string `yaml:"s3_region"`
	GCSCredentialsFile    string `yaml:"gcs_credentials_file"`
	AzureConnectionString string `yaml:"azure_connection_string"`
}

// DuckDBConfig holds per-session engine settings.
type DuckDBConfig struct {
	MaxMemory string `yaml:"max_memory"`
	Threads   int    `yaml:"threads"`
}

// Config holds the configuration for the duckgate server.
type Config struct {
	ListenAddr string `yaml:"listen_addr"` // HTTP listen address (default ":8080")
	LogLevel   string `yaml:"log_level"`   // debug, info, warn, error (default "info")
	Env        string `yaml:"env"`         // "development" (default) or "production"

	Session   SessionConfig   `yaml:"session"`
	Statement StatementConfig `yaml:"statement"`
	History   HistoryConfig   `yaml:"history"`
	Storage   StorageConfig   `yaml:"storage"`
	DuckDB    DuckDBConfig    `yaml:"duckdb"`

	// JWTSecret enables HS256 bearer auth when set.
	JWTSecret string `yaml:"jwt_secret"`

	// Rate limiting
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`

	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string `yaml:"-"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		ListenAddr: ":8080",
		LogLevel:   "info",
		Env:        "development",
		Session: SessionConfig{
			MaxSessions:    100,
			TTL:            time.Hour,
			TerminateGrace: 5 * time.Second,
			SweepSchedule:  "@every 5m",
		},
		Statement: StatementConfig{
			Retention: 15 * time.Minute,
		},
		Storage: StorageConfig{
			DataDir: "data",
		},
		RateLimitRPS:       100,
		RateLimitBurst:     200,
		CORSAllowedOrigins: []string{"*"},
	}
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when the server is running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// StrictInvariants reports whether invariant violations should panic.
func (c *Config) StrictInvariants() bool {
	if c.Session.StrictInvariants != nil {
		return *c.Session.StrictInvariants
	}
	return !c.IsProduction()
}

// AuthEnabled returns true when bearer authentication is configured.
func (c *Config) AuthEnabled() bool {
	return c.JWTSecret != ""
}

// HistoryEnabled returns true when statement history is persisted.
func (c *Config) HistoryEnabled() bool {
	return c.History.DBPath != ""
}

// LoadFromEnv loads configuration from defaults, then the YAML file named by
// DUCKGATE_CONFIG (if any), then environment variables.
func LoadFromEnv() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("DUCKGATE_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile overlays the YAML file at path onto cfg. Unknown keys are rejected.
func (c *Config) loadFile(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is operator-controlled
	if err != nil {
		return fmt.Errorf("open config %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	envString("LISTEN_ADDR", &c.ListenAddr)
	envString("LOG_LEVEL", &c.LogLevel)
	envString("ENV", &c.Env)

	envParse(c, "MAX_SESSIONS", &c.Session.MaxSessions, strconv.Atoi)
	envParse(c, "SESSION_TTL", &c.Session.TTL, time.ParseDuration)
	envParse(c, "TERMINATE_GRACE", &c.Session.TerminateGrace, time.ParseDuration)
	envParse(c, "PROTECT_BUSY_SESSIONS", &c.Session.ProtectBusy, parseBool)
	envString("SWEEP_SCHEDULE", &c.Session.SweepSchedule)
	var strict bool
	if envParse(c, "STRICT_INVARIANTS", &strict, parseBool) {
		c.Session.StrictInvariants = &strict
	}

	envParse(c, "MAX_CONCURRENT_STATEMENTS", &c.Statement.MaxConcurrent, parseInt64)
	envParse(c, "STATEMENT_RETENTION", &c.Statement.Retention, time.ParseDuration)
	envParse(c, "SUBMIT_WAIT", &c.Statement.SubmitWait, time.ParseDuration)

	envString("HISTORY_DB_PATH", &c.History.DBPath)
	envParse(c, "HISTORY_RETENTION", &c.History.Retention, time.ParseDuration)

	envString("DATA_DIR", &c.Storage.DataDir)
	envString("S3_KEY_ID", &c.Storage.S3KeyID)
	envString("S3_SECRET", &c.Storage.S3Secret)
	envString("S3_ENDPOINT", &c.Storage.S3Endpoint)
	envString("S3_REGION", &c.Storage.S3Region)
	envString("GCS_CREDENTIALS_FILE", &c.Storage.GCSCredentialsFile)
	envString("AZURE_STORAGE_CONNECTION_STRING", &c.Storage.AzureConnectionString)

	envString("DUCKDB_MAX_MEMORY", &c.DuckDB.MaxMemory)
	envParse(c, "DUCKDB_THREADS", &c.DuckDB.Threads, strconv.Atoi)

	envString("JWT_SECRET", &c.JWTSecret)
	envParse(c, "RATE_LIMIT_RPS", &c.RateLimitRPS, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
	envParse(c, "RATE_LIMIT_BURST", &c.RateLimitBurst, strconv.Atoi)

	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		c.CORSAllowedOrigins = compactNonEmpty(origins)
	}
}

func (c *Config) validate() error {
	if c.Session.MaxSessions < 0 {
		return fmt.Errorf("MAX_SESSIONS must not be negative, got %d", c.Session.MaxSessions)
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive, got %s", c.Session.TTL)
	}
	if c.Statement.MaxConcurrent < 0 {
		return fmt.Errorf("MAX_CONCURRENT_STATEMENTS must not be negative, got %d", c.Statement.MaxConcurrent)
	}
	if c.Session.MaxSessions == 0 {
		c.Warnings = append(c.Warnings, "MAX_SESSIONS is 0; every session creation will fail")
	}
	if !c.AuthEnabled() {
		c.Warnings = append(c.Warnings, "JWT_SECRET not set; API authentication is disabled")
	}
	if len(c.CORSAllowedOrigins) == 0 {
		c.CORSAllowedOrigins = []string{"*"}
	}

	// Production mode: insecure defaults are fatal errors.
	if c.IsProduction() {
		if !c.AuthEnabled() {
			return fmt.Errorf("JWT_SECRET must be set in production (ENV=production)")
		}
		for _, o := range c.CORSAllowedOrigins {
			if o == "*" {
				return fmt.Errorf("CORS wildcard (*) is not allowed in production (ENV=production)")
			}
		}
	}
	return nil
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// envParse sets dst from key when present and valid. Invalid values are
// kept out of the config and reported as warnings.
func envParse[T any](c *Config, key string, dst *T, parse func(string) (T, error)) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return false
	}
	parsed, err := parse(v)
	if err != nil {
		c.Warnings = append(c.Warnings, fmt.Sprintf("ignoring invalid %s=%q: %v", key, v, err))
		return false
	}
	*dst = parsed
	return true
}

func parseInt64(s string) (int64, error) { return strconv.ParseInt(s, 10, 64) }

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean")
}

func compactNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = unquote(strings.TrimSpace(value))
		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("setenv %s: %w", key, err)
		}
	}
	return scanner.Err()
}

// unquote removes matching surrounding quotes.
func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}
