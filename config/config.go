/*
config.go - Process configuration

PURPOSE:
  Reads every setting from the environment. An optional .env file in the
  working directory is loaded first; real environment variables win over
  it.

KEYS:
  APP_NAME, PORT, LOG_LEVEL, LOG_DEVELOPMENT
  STORE_DRIVER (sqlite | postgres | memory), STORE_TX_TIMEOUT, SQLITE_PATH
  DB_HOST, DB_PORT, DB_USER, DB_PASSWORD, DB_NAME, DB_SSLMODE
  AUTH_JWT_SECRET, AUTH_ISSUER, AUTH_TOKEN_TTL
  CORS_ALLOWED_ORIGINS (comma separated)
  REDEMPTION_EXPIRY_DAYS
  SERVER_READ_TIMEOUT, SERVER_WRITE_TIMEOUT, SERVER_SHUTDOWN_TIMEOUT

SEE ALSO:
  - cmd/wastewise/main.go: builds the stores and server from a Config
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/warp/wastewise/store/postgres"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	App struct {
		Name string `envconfig:"APP_NAME" default:"WasteWise"`
		Port int    `envconfig:"PORT" default:"8080"`
	}

	Log struct {
		Level       string `envconfig:"LOG_LEVEL" default:"info"`
		Development bool   `envconfig:"LOG_DEVELOPMENT" default:"false"`
	}

	Store struct {
		Driver     string        `envconfig:"STORE_DRIVER" default:"sqlite"`
		TxTimeout  time.Duration `envconfig:"STORE_TX_TIMEOUT" default:"5s"`
		SQLitePath string        `envconfig:"SQLITE_PATH" default:"wastewise.db"`
	}

	DB struct {
		Host     string `envconfig:"DB_HOST" default:"localhost"`
		Port     int    `envconfig:"DB_PORT" default:"5432"`
		User     string `envconfig:"DB_USER" default:"postgres"`
		Password string `envconfig:"DB_PASSWORD" default:""`
		Name     string `envconfig:"DB_NAME" default:"wastewise"`
		SSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	}

	Auth struct {
		JWTSecret string        `envconfig:"AUTH_JWT_SECRET"`
		Issuer    string        `envconfig:"AUTH_ISSUER" default:"wastewise"`
		TokenTTL  time.Duration `envconfig:"AUTH_TOKEN_TTL" default:"24h"`
	}

	CORS struct {
		AllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"http://localhost:5173,http://localhost:8080"`
	}

	Redemption struct {
		ExpiryDays int `envconfig:"REDEMPTION_EXPIRY_DAYS" default:"30"`
	}

	Server struct {
		ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
		WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"15s"`
		ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
	}
}

// ConnectionString is the Postgres DSN built from the DB_* keys.
func (c *Config) ConnectionString() string {
	return postgres.DSN(c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode)
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

// Validate rejects settings the process cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverSQLite, DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER: unknown driver %q", c.Store.Driver)
	}
	if c.Store.TxTimeout <= 0 {
		return errors.New("STORE_TX_TIMEOUT: must be positive")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("AUTH_JWT_SECRET: required")
	}
	if c.Redemption.ExpiryDays <= 0 {
		return errors.New("REDEMPTION_EXPIRY_DAYS: must be positive")
	}
	return nil
}

// Load reads .env (if present) and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
