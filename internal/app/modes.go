package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/fundarb/internal/server"
	"github.com/alanyoungcy/fundarb/internal/server/handler"
)

// ServeMode runs the HTTP API server until the context is cancelled. On
// startup it sweeps positions stuck in OPENING from a previous crash.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	swept, err := deps.Engine.SweepStuckOpening(ctx, a.cfg.Engine.SweepMaxAge.Duration)
	if err != nil {
		a.logger.WarnContext(ctx, "startup sweep failed",
			slog.String("error", err.Error()),
		)
	} else if swept > 0 {
		a.logger.InfoContext(ctx, "startup sweep marked stuck positions failed",
			slog.Int64("count", swept),
		)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		DefaultUser: a.cfg.Engine.DefaultUser,
	}, server.Handlers{
		Health:    handler.NewHealthHandler(deps.DB, a.logger),
		Positions: handler.NewPositionHandler(deps.Engine, deps.Positions, deps.Trades, a.logger),
		Locks:     handler.NewLockHandler(deps.Locks, deps.Audit, a.logger),
	}, a.logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
	return g.Wait()
}

// SweepMode performs one stuck-OPENING sweep and exits. Intended for cron or
// manual operation.
func (a *App) SweepMode(ctx context.Context, deps *Dependencies) error {
	swept, err := deps.Engine.SweepStuckOpening(ctx, a.cfg.Engine.SweepMaxAge.Duration)
	if err != nil {
		return fmt.Errorf("sweep mode: %w", err)
	}
	a.logger.InfoContext(ctx, "sweep complete",
		slog.Int64("swept", swept),
		slog.Duration("max_age", a.cfg.Engine.SweepMaxAge.Duration),
	)
	return nil
}

// ArchiveMode runs one retention pass, moving aged trade and audit rows to
// object storage, and exits.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return fmt.Errorf("archive mode: s3 is not enabled in config")
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.S3.RetentionDays)
	a.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.cfg.S3.RetentionDays),
	)

	trades, err := deps.Archiver.ArchiveTrades(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archive mode: trades: %w", err)
	}
	audit, err := deps.Archiver.ArchiveAudit(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archive mode: audit: %w", err)
	}

	a.logger.InfoContext(ctx, "archive run complete",
		slog.Int64("trades_archived", trades),
		slog.Int64("audit_archived", audit),
	)
	return nil
}

// LocksMode lists all currently held position locks and exits.
func (a *App) LocksMode(ctx context.Context, deps *Dependencies) error {
	if deps.Locks.IsNoOp() {
		return fmt.Errorf("locks mode: redis is not configured")
	}

	held, err := deps.Locks.List(ctx)
	if err != nil {
		return fmt.Errorf("locks mode: %w", err)
	}
	if len(held) == 0 {
		a.logger.InfoContext(ctx, "no locks held")
		return nil
	}
	for _, l := range held {
		a.logger.InfoContext(ctx, "lock held",
			slog.String("user_id", l.UserID),
			slog.String("symbol", l.Symbol),
			slog.Duration("ttl", l.TTL),
		)
	}
	return nil
}
