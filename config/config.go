// Package config loads process settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"

	"github.com/Skryldev/socialhub/db"
)

// Config is the complete process configuration.
type Config struct {
	ServiceName string `env:"SERVICE_NAME,default=socialhub"`
	HTTPAddr    string `env:"HTTP_ADDR,default=:8000"`
	RelayAddr   string `env:"RELAY_ADDR,default=:8080"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`

	DB DB

	TokenSecret string        `env:"TOKEN_SECRET"`
	TokenIssuer string        `env:"TOKEN_ISSUER"`
	TokenTTL    time.Duration `env:"TOKEN_TTL,default=1h"`

	UploadDir     string `env:"UPLOAD_DIR,default=./uploads"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL,default=http://localhost:8000"`

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS,default=10"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST,default=20"`
	RedisURL       string  `env:"REDIS_URL"`

	// CORSOrigins is a comma-separated list; "*" allows any origin.
	CORSOrigins string `env:"CORS_ORIGINS,default=*"`

	CatalogPath string `env:"CATALOG_PATH"`
	AutoMigrate bool   `env:"AUTO_MIGRATE,default=true"`

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `env:"OTEL_EXPORTER_OTLP_INSECURE,default=false"`
}

// DB holds the storage settings. DATABASE_URL wins over the discrete fields.
type DB struct {
	Driver       string        `env:"DB_DRIVER,default=sqlite3"`
	URL          string        `env:"DATABASE_URL"`
	Host         string        `env:"DB_HOST,default=localhost"`
	Port         int           `env:"DB_PORT"`
	User         string        `env:"DB_USER"`
	Password     string        `env:"DB_PASSWORD"`
	Name         string        `env:"DB_NAME,default=socialhub"`
	SSLMode      string        `env:"DB_SSLMODE,default=disable"`
	MaxOpenConns int           `env:"DB_MAX_OPEN_CONNS,default=25"`
	QueryTimeout time.Duration `env:"DB_QUERY_TIMEOUT,default=10s"`
	SlowQuery    time.Duration `env:"DB_SLOW_QUERY,default=200ms"`
}

// Load reads .env from the working directory when present, then decodes the
// environment. Variables already set in the environment are not overridden
// by the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("socialhub/config: .env: %w", err)
	}
	return FromEnv()
}

// FromEnv decodes the current environment without touching .env.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("socialhub/config: %w", err)
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.TokenSecret) == "" {
		errs = append(errs, errors.New("TOKEN_SECRET must be set"))
	}
	if _, err := db.LookupDriver(c.DB.Driver); err != nil {
		errs = append(errs, fmt.Errorf("DB_DRIVER %q is not supported (one of %v)", c.DB.Driver, db.Drivers()))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("TOKEN_TTL must be positive"))
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		errs = append(errs, errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("socialhub/config: %w", err)
	}
	return nil
}

// Origins splits CORSOrigins.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// RateLimitEnabled reports whether requests are rate limited at all.
func (c *Config) RateLimitEnabled() bool { return c.RateLimitRPS > 0 }

// Level parses LogLevel; unknown values mean info.
func (c *Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// ─────────────────────────────────────────────────────────────────────────────
// DSN
// ─────────────────────────────────────────────────────────────────────────────

// Options returns the discrete settings in the form the db driver adapters
// take. For SQLite, DB_NAME is the file path without the ".db" suffix.
func (d DB) Options() db.DriverOptions {
	name := d.Name
	if d.Driver == "sqlite3" {
		name += ".db"
	}
	return db.DriverOptions{
		Host:     d.Host,
		Port:     d.Port,
		User:     d.User,
		Password: d.Password,
		Database: name,
		SSLMode:  d.SSLMode,
	}
}

// DSN returns DATABASE_URL when set, otherwise the DSN built by the driver
// adapter.
func (d DB) DSN() (string, error) {
	if d.URL != "" {
		return d.URL, nil
	}
	return db.BuildDSN(d.Driver, d.Options())
}
