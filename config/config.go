// Package config loads service configuration from the environment, with an
// optional .env file, and validates it on startup.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all service configuration.
type Config struct {
	Server   ServerConfig
	Store    StoreConfig
	Import   ImportConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8000)
	Port int `env:"SERVER_PORT" envAlt:"PORT" default:"8000"`

	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" default:"30s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"60s"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"15s"`

	// RequestTimeout is the middleware timeout for a request (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// StoreConfig selects and tunes the record backend.
type StoreConfig struct {
	// Driver is memory, sqlite or postgres (default: sqlite)
	Driver string `env:"STORE_DRIVER" default:"sqlite"`

	// SQLitePath is the database file for the sqlite driver
	SQLitePath string `env:"SQLITE_PATH" default:"collections.db"`

	// DatabaseURL is the PostgreSQL connection string, required for postgres
	DatabaseURL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	MaxConns int `env:"DB_MAX_CONNS" default:"10"`
	MinConns int `env:"DB_MIN_CONNS" default:"2"`

	// Timeout bounds every store operation; 0 disables it (default: 5s)
	Timeout time.Duration `env:"STORE_TIMEOUT" default:"5s"`

	// ReadRetries is how many times a failed read is retried (default: 2)
	ReadRetries int `env:"STORE_READ_RETRIES" default:"2"`
}

// ImportConfig holds spreadsheet import settings.
type ImportConfig struct {
	// MaxFileSize is the largest accepted upload in bytes (default: 10MB)
	MaxFileSize int64 `env:"IMPORT_MAX_FILE_SIZE" default:"10485760"`

	// MaxConcurrent is the number of imports allowed to run at once (default: 4)
	MaxConcurrent int `env:"IMPORT_MAX_CONCURRENT" default:"4"`

	// MaxWaitTime is how long an import waits for a free slot (default: 10s)
	MaxWaitTime time.Duration `env:"IMPORT_MAX_WAIT_TIME" default:"10s"`

	// Workers is the number of parallel creates per import; 1 is sequential
	Workers int `env:"IMPORT_WORKERS" default:"1"`
}

// SecurityConfig holds identity and access settings.
type SecurityConfig struct {
	// IdentityHeader carries the acting user on mutations (default: X-User)
	IdentityHeader string `env:"IDENTITY_HEADER" default:"X-User"`

	// RequireAPIKey additionally demands a valid X-API-Key on mutations
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted keys
	APIKeys []string `env:"API_KEYS"`

	// AllowedOrigins is a comma-separated CORS allow list (default: *)
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is debug, info, warn or error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the listen address in host:port form.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
