// Package config defines the top-level configuration for the funding
// arbitrage engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by FUNDARB_* environment variables.
type Config struct {
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	Binance  BinanceConfig  `toml:"binance"`
	OKX      OKXConfig      `toml:"okx"`
	S3       S3Config       `toml:"s3"`
	Notify   NotifyConfig   `toml:"notify"`
	Engine   EngineConfig   `toml:"engine"`
	Server   ServerConfig   `toml:"server"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. An empty Addr disables the
// distributed position lock; the engine then runs with no-op locking.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
}

// BinanceConfig holds Binance USD-M futures API credentials.
type BinanceConfig struct {
	ApiKey    string `toml:"api_key"`
	ApiSecret string `toml:"api_secret"`
	BaseURL   string `toml:"base_url"`
}

// OKXConfig holds OKX API credentials.
type OKXConfig struct {
	ApiKey        string `toml:"api_key"`
	ApiSecret     string `toml:"api_secret"`
	ApiPassphrase string `toml:"api_passphrase"`
	BaseURL       string `toml:"base_url"`
	Simulated     bool   `toml:"simulated"`
}

// S3Config holds S3-compatible object storage parameters for trade and audit
// archival.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	RetentionDays  int    `toml:"retention_days"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ServerConfig holds HTTP API server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// EngineConfig holds execution engine parameters.
type EngineConfig struct {
	LockTTL     duration `toml:"lock_ttl"`
	SweepMaxAge duration `toml:"sweep_max_age"`
	MaxLeverage int      `toml:"max_leverage"`
	DefaultUser string   `toml:"default_user"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "fundarb",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		Binance: BinanceConfig{
			BaseURL: "https://fapi.binance.com",
		},
		OKX: OKXConfig{
			BaseURL: "https://www.okx.com",
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "fundarb-data",
			UseSSL:         false,
			ForcePathStyle: true,
			RetentionDays:  90,
		},
		Notify: NotifyConfig{
			Events: []string{"success", "partial", "failed", "rollback_failed"},
		},
		Engine: EngineConfig{
			LockTTL:     duration{30 * time.Second},
			SweepMaxAge: duration{10 * time.Minute},
			MaxLeverage: 20,
		},
		Server: ServerConfig{
			Port: 8000,
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":   true,
	"sweep":   true,
	"archive": true,
	"locks":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, sweep, archive, locks)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis — optional; when configured the pool size must be sane.
	if c.Redis.Addr != "" && c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Binance — both key fields must be set together, or both empty.
	if (c.Binance.ApiKey != "") != (c.Binance.ApiSecret != "") {
		errs = append(errs, "binance: api_key and api_secret must be set together")
	}

	// OKX — all three credential fields must be set together, or all empty.
	ok := c.OKX.ApiKey != ""
	os := c.OKX.ApiSecret != ""
	op := c.OKX.ApiPassphrase != ""
	if ok || os || op {
		if !(ok && os && op) {
			errs = append(errs, "okx: api_key, api_secret, and api_passphrase must all be set together")
		}
	}
	if c.OKX.BaseURL == "" {
		errs = append(errs, "okx: base_url must not be empty")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.RetentionDays < 1 {
			errs = append(errs, "s3: retention_days must be >= 1 when enabled")
		}
	}

	// Notify — chat id is useless without a token and vice versa.
	if (c.Notify.TelegramToken != "") != (c.Notify.TelegramChatID != "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	// Engine
	if c.Engine.LockTTL.Duration <= 0 {
		errs = append(errs, "engine: lock_ttl must be > 0")
	}
	if c.Engine.SweepMaxAge.Duration <= 0 {
		errs = append(errs, "engine: sweep_max_age must be > 0")
	}
	if c.Engine.MaxLeverage < 1 {
		errs = append(errs, "engine: max_leverage must be >= 1")
	}

	// Server
	if c.Mode == "serve" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
