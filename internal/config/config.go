// Package config loads application settings from environment variables,
// applies defaults, and validates the result on startup so a misconfigured
// process fails before it takes traffic.
package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Import   ImportConfig
	Rate     RateLimitConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading a request (default: 30s).
	// It bounds upload streaming, so it is larger than a typical API timeout.
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"30s"`

	// WriteTimeout is the maximum duration for writing a response (default: 30s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"30s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum wait for graceful shutdown, including
	// draining in-flight commits (default: 60s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	// URL is the connection string (required). DB_URL is accepted as an
	// alternate name.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns is the pool's maximum connection count (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the number of connections kept open (default: 2)
	MinConns int `env:"DB_MIN_CONNS" default:"2"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
}

// ImportConfig holds import pipeline settings.
type ImportConfig struct {
	// SpoolDir is where uploaded files are kept for the life of a job
	// (default: ./data/uploads)
	SpoolDir string `env:"IMPORT_SPOOL_DIR" default:"./data/uploads"`

	// MaxFileSize is the maximum upload size in bytes (default: 50MB)
	MaxFileSize int64 `env:"IMPORT_MAX_FILE_SIZE" default:"52428800"`

	// BatchSize is the number of rows committed per transaction
	// (default: 200). It must not change while a job is mid-commit.
	BatchSize int `env:"IMPORT_BATCH_SIZE" default:"200"`

	// MaxConcurrentCommits caps parallel commit executors (default: 4)
	MaxConcurrentCommits int `env:"IMPORT_MAX_CONCURRENT_COMMITS" default:"4"`

	// CommitSlotWait is how long a confirm waits for an executor slot
	// before giving up (default: 10s)
	CommitSlotWait time.Duration `env:"IMPORT_COMMIT_SLOT_WAIT" default:"10s"`

	// MaxAttempts is the per-batch retry budget for transient storage
	// failures (default: 3)
	MaxAttempts int `env:"IMPORT_MAX_ATTEMPTS" default:"3"`

	// RetryBackoff is the initial backoff between batch retries, doubled
	// per attempt (default: 500ms)
	RetryBackoff time.Duration `env:"IMPORT_RETRY_BACKOFF" default:"500ms"`

	// MaxStoredErrors caps the row errors kept on a job record
	// (default: 100); beyond it only counters advance and the record is
	// flagged truncated.
	MaxStoredErrors int `env:"IMPORT_MAX_STORED_ERRORS" default:"100"`
}

// RateLimitConfig holds per-IP rate limiting settings.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default per-IP limit (default: 120)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"120"`

	// UploadLimit is the per-IP limit for the upload endpoint (default: 10)
	UploadLimit int `env:"RATE_LIMIT_UPLOAD" default:"10"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port form.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
