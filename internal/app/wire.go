package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/redis/go-redis/v9"

	s3blob "github.com/alanyoungcy/fundarb/internal/blob/s3"
	"github.com/alanyoungcy/fundarb/internal/config"
	"github.com/alanyoungcy/fundarb/internal/domain"
	"github.com/alanyoungcy/fundarb/internal/engine"
	"github.com/alanyoungcy/fundarb/internal/lock"
	"github.com/alanyoungcy/fundarb/internal/notify"
	"github.com/alanyoungcy/fundarb/internal/store/postgres"
	"github.com/alanyoungcy/fundarb/internal/venue"
	"github.com/alanyoungcy/fundarb/internal/venue/binance"
	"github.com/alanyoungcy/fundarb/internal/venue/okx"
)

// Dependencies bundles everything the application modes need to operate. It
// is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	DB *postgres.Client

	Positions domain.PositionStore
	Trades    domain.TradeStore
	Audit     domain.AuditStore

	Locks  *lock.Service
	Venues *venue.Registry
	Engine *engine.Engine

	Notifier *notify.Notifier
	Archiver *s3blob.Archiver
}

// needsPostgres returns true for modes that require a database connection.
func needsPostgres(mode string) bool {
	return mode != "locks"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	if needsPostgres(cfg.Mode) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.DB = pgClient
		deps.Positions = postgres.NewPositionStore(pool)
		deps.Trades = postgres.NewTradeStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
	}

	// --- Redis lock service (no-op when no addr is configured) ---
	if cfg.Redis.Addr == "" {
		logger.WarnContext(ctx, "redis not configured, position locking is disabled")
		deps.Locks = lock.NewNoOp(logger)
	} else {
		rdb := redis.NewClient(&redis.Options{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = rdb.Close() })
		deps.Locks = lock.New(rdb, cfg.Engine.LockTTL.Duration, logger)
	}

	// --- Venue adapters ---
	var venues []venue.Venue
	if cfg.Binance.ApiKey != "" {
		client := futures.NewClient(cfg.Binance.ApiKey, cfg.Binance.ApiSecret)
		if cfg.Binance.BaseURL != "" {
			client.BaseURL = cfg.Binance.BaseURL
		}
		venues = append(venues, binance.New(client))
	}
	if cfg.OKX.ApiKey != "" {
		client := okx.NewClient(cfg.OKX.BaseURL, cfg.OKX.ApiKey, cfg.OKX.ApiSecret, cfg.OKX.ApiPassphrase)
		if cfg.OKX.Simulated {
			client = client.Simulated()
		}
		venues = append(venues, okx.New(client))
	}
	deps.Venues = venue.NewRegistry(venues...)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Engine ---
	if deps.Positions != nil {
		deps.Engine = engine.New(engine.Config{
			Positions: deps.Positions,
			Trades:    deps.Trades,
			Audit:     deps.Audit,
			Venues:    deps.Venues,
			Locker:    deps.Locks,
			Emitter:   notify.NewEmitter(deps.Notifier, logger),
			Logger:    logger,

			MaxLeverage: cfg.Engine.MaxLeverage,
		})
	}

	// --- S3 archiver ---
	if cfg.S3.Enabled && deps.Trades != nil {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(s3Client, deps.Trades, deps.Audit, logger)
	}

	return deps, cleanup, nil
}
