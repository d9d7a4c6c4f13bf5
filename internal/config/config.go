// Package config provides centralized configuration management for the application.
// Process settings are loaded from environment variables with sensible defaults and
// validated on startup to fail fast on misconfiguration. The QA targets themselves
// live in a YAML file (see targets.go).
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	QATrack  QATrackConfig
	Targets  TargetsConfig
	Progress ProgressConfig
	MosaiQ   MosaiQConfig
	Run      RunConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 127.0.0.1)
	Host string `env:"SERVER_HOST" default:"127.0.0.1"`

	// Port is the port to listen on (default: 8090)
	Port int `env:"SERVER_PORT" default:"8090"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 0 for SSE)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// QATrackConfig holds the QATrack+ server session settings.
type QATrackConfig struct {
	// URL is the server root, e.g. http://qatrack.local/ (default: http://127.0.0.1:8080/)
	URL string `env:"QATRACK_URL" default:"http://127.0.0.1:8080/"`

	Username string `env:"QATRACK_USERNAME" default:"admin"`
	Password string `env:"QATRACK_PASSWORD" default:"admin"`

	// Timeout bounds each HTTP request (default: 30s)
	Timeout time.Duration `env:"QATRACK_TIMEOUT" default:"30s"`

	// ConnectRetry is how long login transport failures are retried (default: 1m)
	ConnectRetry time.Duration `env:"QATRACK_CONNECT_RETRY" default:"1m"`

	// SubmitRate caps submissions per second; 0 disables pacing (default: 0)
	SubmitRate float64 `env:"QATRACK_SUBMIT_RATE" default:"0"`

	// ResponseFile receives the last submission response (default: result.html)
	ResponseFile string `env:"QATRACK_RESPONSE_FILE" default:"result.html"`

	// StrictResponse rejects 2xx responses that re-render the form with errors (default: true)
	StrictResponse bool `env:"QATRACK_STRICT_RESPONSE" default:"true"`
}

// TargetsConfig locates the targets file.
type TargetsConfig struct {
	// File is the YAML (or JSON) targets file (default: config.yaml)
	File string `env:"TARGETS_FILE" default:"config.yaml"`
}

// ProgressConfig selects where resume cursors are stored.
type ProgressConfig struct {
	// Backend is file, sqlite, postgres or memory (default: file)
	Backend string `env:"PROGRESS_BACKEND" default:"file"`

	// File is the progress file, or the database path for sqlite (default: progress.json)
	File string `env:"PROGRESS_FILE" default:"progress.json"`

	// DSN is the PostgreSQL connection string for the postgres backend
	DSN string `env:"PROGRESS_DSN"`
}

// MosaiQConfig holds the observation database connection settings.
type MosaiQConfig struct {
	// URL is the PostgreSQL connection string of the MosaiQ mirror.
	// Only required when a mosaiq target is configured.
	URL string `env:"MOSAIQ_DATABASE_URL" envAlt:"DATABASE_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 4)
	MaxConns int `env:"DB_MAX_CONNS" default:"4"`

	// MinConns is the minimum number of connections to keep open (default: 0)
	MinConns int `env:"DB_MIN_CONNS" default:"0"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// RunConfig holds import run settings.
type RunConfig struct {
	// MaxConcurrent is the maximum number of parallel runs (default: 2)
	MaxConcurrent int `env:"RUN_MAX_CONCURRENT" default:"2"`

	// MaxWaitTime is how long to wait for a run slot (default: 30s)
	MaxWaitTime time.Duration `env:"RUN_MAX_WAIT_TIME" default:"30s"`

	// Timeout bounds a single run; 0 means no limit (default: 2h)
	Timeout time.Duration `env:"RUN_TIMEOUT" default:"2h"`

	// SyncInterval runs every target periodically; 0 disables it (default: 0)
	SyncInterval time.Duration `env:"SYNC_INTERVAL" default:"0s"`

	// HistorySize is the number of finished runs kept for the dashboard (default: 50)
	HistorySize int `env:"RUN_HISTORY_SIZE" default:"50"`
}

// SecurityConfig holds settings for the web front-end.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`

	// RequireAPIKey protects the /api routes with X-API-Key (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted keys
	APIKeys []string `env:"API_KEYS"`

	// RequestsPerMinute limits API calls per client IP; 0 disables it (default: 0)
	RequestsPerMinute int `env:"RATE_LIMIT_PER_MINUTE" default:"0"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
