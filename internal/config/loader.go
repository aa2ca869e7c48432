package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies FUNDARB_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known FUNDARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "FUNDARB_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "FUNDARB_DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "FUNDARB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "FUNDARB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "FUNDARB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "FUNDARB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "FUNDARB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "FUNDARB_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "FUNDARB_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "FUNDARB_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "FUNDARB_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "FUNDARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FUNDARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FUNDARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "FUNDARB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "FUNDARB_REDIS_MAX_RETRIES")

	// ── Binance ──
	setStr(&cfg.Binance.ApiKey, "FUNDARB_BINANCE_API_KEY")
	setStr(&cfg.Binance.ApiSecret, "FUNDARB_BINANCE_API_SECRET")
	setStr(&cfg.Binance.BaseURL, "FUNDARB_BINANCE_BASE_URL")

	// ── OKX ──
	setStr(&cfg.OKX.ApiKey, "FUNDARB_OKX_API_KEY")
	setStr(&cfg.OKX.ApiSecret, "FUNDARB_OKX_API_SECRET")
	setStr(&cfg.OKX.ApiPassphrase, "FUNDARB_OKX_API_PASSPHRASE")
	setStr(&cfg.OKX.BaseURL, "FUNDARB_OKX_BASE_URL")
	setBool(&cfg.OKX.Simulated, "FUNDARB_OKX_SIMULATED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "FUNDARB_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "FUNDARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "FUNDARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "FUNDARB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "FUNDARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "FUNDARB_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "FUNDARB_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "FUNDARB_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.RetentionDays, "FUNDARB_S3_RETENTION_DAYS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "FUNDARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "FUNDARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "FUNDARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "FUNDARB_NOTIFY_EVENTS")

	// ── Server ──
	setInt(&cfg.Server.Port, "FUNDARB_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "FUNDARB_SERVER_CORS_ORIGINS")

	// ── Engine ──
	setDuration(&cfg.Engine.LockTTL, "FUNDARB_ENGINE_LOCK_TTL")
	setDuration(&cfg.Engine.SweepMaxAge, "FUNDARB_ENGINE_SWEEP_MAX_AGE")
	setInt(&cfg.Engine.MaxLeverage, "FUNDARB_ENGINE_MAX_LEVERAGE")
	setStr(&cfg.Engine.DefaultUser, "FUNDARB_ENGINE_DEFAULT_USER")

	// ── Top-level ──
	setStr(&cfg.Mode, "FUNDARB_MODE")
	setStr(&cfg.LogLevel, "FUNDARB_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
