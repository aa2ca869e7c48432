package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/fundarb/internal/domain"
	"github.com/alanyoungcy/fundarb/internal/pnl"
	"github.com/alanyoungcy/fundarb/internal/venue"
)

// Close unwinds both legs of an open hedge. Lifecycle:
// open -> closing -> {closed | partial}; when neither leg closes the position
// is restored to open and a BothLegsFailedError is returned so the caller can
// retry cleanly. A position already in partial is routed to the explicit
// recovery operation.
//
// A partial outcome (exactly one leg closed) is not a Go error: the returned
// CloseResult carries Success=false, Error=PARTIAL_CLOSE and the per-leg
// detail. The error return is reserved for validation failures, lock
// conflicts and both-legs-failed.
func (e *Engine) Close(ctx context.Context, userID, positionID, reason string) (CloseResult, error) {
	// Validation before any lock or venue call.
	p, err := e.loadOwned(ctx, userID, positionID)
	if err != nil {
		return CloseResult{PositionID: positionID}, err
	}
	switch p.Status {
	case domain.PositionStatusOpen:
		// normal path
	case domain.PositionStatusPartial:
		return e.ResumePartialClose(ctx, userID, positionID)
	default:
		return CloseResult{PositionID: positionID}, &domain.InvalidStatusError{Op: "close", Status: p.Status}
	}

	lockCtx, err := e.locker.Acquire(ctx, userID, p.Symbol)
	if err != nil {
		return CloseResult{PositionID: positionID}, err
	}
	defer e.locker.Release(ctx, lockCtx)

	log := e.logger.With(
		slog.String("op", "close"),
		slog.String("position_id", p.ID),
		slog.String("symbol", p.Symbol),
	)

	longV, err := e.venues.Get(venue.Name(p.LongVenue))
	if err != nil {
		return CloseResult{PositionID: p.ID}, err
	}
	shortV, err := e.venues.Get(venue.Name(p.ShortVenue))
	if err != nil {
		return CloseResult{PositionID: p.ID}, err
	}

	// Atomic transition guards against a concurrent closer that slipped in
	// before the lock (e.g. during no-op lock degradation).
	if err := e.positions.UpdateStatus(ctx, p.ID, domain.PositionStatusOpen, domain.PositionStatusClosing); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return CloseResult{PositionID: p.ID}, &domain.InvalidStatusError{Op: "close", Status: p.Status}
		}
		return CloseResult{PositionID: p.ID}, err
	}
	p.Status = domain.PositionStatusClosing
	e.emit(ctx, domain.EventProgress, "close", p, map[string]any{"stage": "legs_closing"})

	// Close both legs concurrently; each records its own outcome.
	long := legResult{side: domain.SideLong}
	short := legResult{side: domain.SideShort}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		long.order, long.price, long.fee, long.err = e.closeLeg(gctx, longV, p, domain.SideLong)
		return nil
	})
	g.Go(func() error {
		short.order, short.price, short.fee, short.err = e.closeLeg(gctx, shortV, p, domain.SideShort)
		return nil
	})
	_ = g.Wait()

	switch {
	case long.err == nil && short.err == nil:
		return e.finalizeClose(ctx, log, p, longV, shortV, long, short, reason, "close")

	case long.err != nil && short.err != nil:
		// Restore the pre-close state so the caller can retry.
		if rerr := e.positions.UpdateStatus(ctx, p.ID, domain.PositionStatusClosing, domain.PositionStatusOpen); rerr != nil {
			log.Error("restore open status after failed close", slog.String("error", rerr.Error()))
		}
		p.Status = domain.PositionStatusOpen
		bothErr := &domain.BothLegsFailedError{
			LongReason:  long.err.Error(),
			ShortReason: short.err.Error(),
		}
		e.emit(ctx, domain.EventFailed, "close", p, map[string]any{
			"long_reason":  bothErr.LongReason,
			"short_reason": bothErr.ShortReason,
		})
		return CloseResult{PositionID: p.ID}, bothErr

	default:
		closed, failed := long, short
		if long.err != nil {
			closed, failed = short, long
		}
		return e.recordPartial(ctx, log, p, closed, failed, reason, "close")
	}
}

// closeLeg issues a reduce-only market order against one leg and resolves the
// exit price through the fallback chain. A position-mode mismatch from the
// venue triggers exactly one corrective retry with the opposite parameter
// set; the corrective attempt is logged distinctly for later audit.
func (e *Engine) closeLeg(ctx context.Context, v venue.Venue, p domain.Position, side domain.Side) (venue.Order, decimal.Decimal, decimal.Decimal, error) {
	qty := p.SizeFor(side)
	params := venue.OrderParams{PositionSide: side, ReduceOnly: true}

	ord, err := v.CreateMarketOrder(ctx, p.Symbol, side.Opposite(), qty, params)
	if errors.Is(err, venue.ErrPositionModeMismatch) {
		e.logger.Warn("corrective retry: position mode mismatch, flipping parameter set",
			slog.String("position_id", p.ID),
			slog.String("venue", string(v.Name())),
			slog.String("side", string(side)),
		)
		e.auditLog(ctx, "corrective_retry", map[string]any{
			"position_id": p.ID,
			"venue":       string(v.Name()),
			"side":        string(side),
		})
		params.FlipPositionMode = true
		ord, err = v.CreateMarketOrder(ctx, p.Symbol, side.Opposite(), qty, params)
	}
	if err != nil {
		return venue.Order{}, decimal.Zero, decimal.Zero, err
	}

	price, fee, err := e.resolveFill(ctx, v, p.Symbol, ord)
	if err != nil {
		return ord, decimal.Zero, decimal.Zero, err
	}
	return ord, price, fee, nil
}

// finalizeClose runs after every leg of the hedge is flat: aggregate funding
// over the holding interval, compute PnL, persist the trade, mark the
// position closed, and cancel leftover conditionals best-effort.
func (e *Engine) finalizeClose(ctx context.Context, log *slog.Logger, p domain.Position, longV, shortV venue.Venue, long, short legResult, reason, op string) (CloseResult, error) {
	closedAt := e.now().UTC()

	p.LongExitPrice = long.price
	p.ShortExitPrice = short.price
	p.LongCloseFee = long.fee
	p.ShortCloseFee = short.fee
	p.Status = domain.PositionStatusClosed
	p.ClosedAt = &closedAt
	p.CloseReason = reason
	p.PartialClosedSide = domain.SideUnknown
	p.PartialFailedSide = domain.SideUnknown
	p.FailureReason = ""

	// Funding fees over the closed holding interval, both venues. The legs
	// are flat, so a funding fetch failure must not stop the close or lose
	// the trade row: the trade records with zero funding, flagged unsettled,
	// and the failure is audited for a later manual reconciliation.
	funding, ferr := e.fetchFunding(ctx, p, longV, shortV, p.OpenedAt, closedAt)
	fundingSettled := ferr == nil
	if ferr != nil {
		funding = decimal.Zero
		log.Warn("funding query failed, recording trade with funding unsettled",
			slog.String("error", ferr.Error()),
		)
		e.auditLog(ctx, "funding_fetch_failed", map[string]any{
			"position_id": p.ID,
			"error":       ferr.Error(),
		})
	}

	report := pnl.Compute(pnl.Input{
		LongEntry:     p.LongEntryPrice,
		LongExit:      p.LongExitPrice,
		ShortEntry:    p.ShortEntryPrice,
		ShortExit:     p.ShortExitPrice,
		LongSize:      p.LongSize,
		ShortSize:     p.ShortSize,
		LongOpenFee:   p.LongOpenFee,
		LongCloseFee:  p.LongCloseFee,
		ShortOpenFee:  p.ShortOpenFee,
		ShortCloseFee: p.ShortCloseFee,
		LongLeverage:  p.LongLeverage,
		ShortLeverage: p.ShortLeverage,
		FundingPnL:    funding,
		OpenedAt:      p.OpenedAt,
		ClosedAt:      closedAt,
	})

	trade := domain.Trade{
		ID:              uuid.New().String(),
		PositionID:      p.ID,
		UserID:          p.UserID,
		Symbol:          p.Symbol,
		LongVenue:       p.LongVenue,
		ShortVenue:      p.ShortVenue,
		LongEntryPrice:  p.LongEntryPrice,
		LongExitPrice:   p.LongExitPrice,
		ShortEntryPrice: p.ShortEntryPrice,
		ShortExitPrice:  p.ShortExitPrice,
		LongSize:        p.LongSize,
		ShortSize:       p.ShortSize,
		PriceDiffPnL:    report.PriceDiffPnL,
		FundingRatePnL:  report.FundingRatePnL,
		TotalFees:       report.TotalFees,
		TotalPnL:        report.TotalPnL,
		ROI:             report.ROI,
		FundingSettled:  fundingSettled,
		HoldingDuration: report.HoldingDuration,
		OpenedAt:        p.OpenedAt,
		ClosedAt:        closedAt,
		CloseReason:     reason,
	}
	if err := e.trades.Create(ctx, trade); err != nil {
		return CloseResult{PositionID: p.ID}, fmt.Errorf("engine: %s %s: persist trade: %w", op, p.ID, err)
	}
	if err := e.positions.Update(ctx, p); err != nil {
		return CloseResult{PositionID: p.ID}, fmt.Errorf("engine: %s %s: persist closed position: %w", op, p.ID, err)
	}

	e.cancelConditionals(ctx, log, &p)

	log.Info("hedge closed",
		slog.String("total_pnl", report.TotalPnL.String()),
		slog.String("funding_pnl", report.FundingRatePnL.String()),
		slog.String("roi_pct", report.ROI.String()),
	)
	e.emit(ctx, domain.EventSuccess, op, p, map[string]any{
		"total_pnl":   report.TotalPnL.String(),
		"funding_pnl": report.FundingRatePnL.String(),
		"roi_pct":     report.ROI.String(),
		"reason":      reason,
	})
	return CloseResult{Success: true, PositionID: p.ID, Trade: &trade}, nil
}

// fetchFunding aggregates both venues' funding payments over the closed
// [start, end] interval. Errors propagate; a silent zero would misstate the
// realized PnL.
func (e *Engine) fetchFunding(ctx context.Context, p domain.Position, longV, shortV venue.Venue, start, end time.Time) (decimal.Decimal, error) {
	longFees, err := longV.FetchFundingFees(ctx, p.Symbol, start, end)
	if err != nil {
		return decimal.Zero, fmt.Errorf("funding on %s: %w", longV.Name(), err)
	}
	shortFees, err := shortV.FetchFundingFees(ctx, p.Symbol, start, end)
	if err != nil {
		return decimal.Zero, fmt.Errorf("funding on %s: %w", shortV.Name(), err)
	}
	return domain.SumFundingFees(longFees).Add(domain.SumFundingFees(shortFees)), nil
}

// cancelConditionals removes resting stop/take-profit orders for a flat
// hedge. Best-effort: cancellation failure never blocks a close, it is
// logged and the ref kept on the row for manual cleanup.
func (e *Engine) cancelConditionals(ctx context.Context, log *slog.Logger, p *domain.Position) {
	if len(p.Conditionals) == 0 {
		return
	}
	var remaining []domain.ConditionalOrderRef
	for _, ref := range p.Conditionals {
		v, err := e.venues.Get(venue.Name(ref.Venue))
		if err != nil {
			log.Warn("conditional cancel skipped: venue not configured",
				slog.String("venue", ref.Venue))
			remaining = append(remaining, ref)
			continue
		}
		if err := v.CancelConditional(ctx, p.Symbol, ref.OrderID); err != nil {
			log.Warn("conditional cancel failed",
				slog.String("venue", ref.Venue),
				slog.String("order_id", ref.OrderID),
				slog.String("error", err.Error()),
			)
			remaining = append(remaining, ref)
		}
	}
	if len(remaining) != len(p.Conditionals) {
		p.Conditionals = remaining
		if err := e.positions.Update(ctx, *p); err != nil {
			log.Warn("persist conditional refs after cancel", slog.String("error", err.Error()))
		}
	}
}

// recordPartial persists a one-sided close outcome and returns the
// structured partial result. The exit side's realized numbers are kept so
// recovery does not have to rediscover them.
func (e *Engine) recordPartial(ctx context.Context, log *slog.Logger, p domain.Position, closed, failed legResult, reason, op string) (CloseResult, error) {
	if closed.side == domain.SideLong {
		p.LongExitPrice = closed.price
		p.LongCloseFee = closed.fee
	} else {
		p.ShortExitPrice = closed.price
		p.ShortCloseFee = closed.fee
	}
	p.Status = domain.PositionStatusPartial
	p.PartialClosedSide = closed.side
	p.PartialFailedSide = failed.side
	p.FailureReason = failed.err.Error()
	p.CloseReason = reason

	if err := e.positions.Update(ctx, p); err != nil {
		return CloseResult{PositionID: p.ID}, fmt.Errorf("engine: %s %s: persist partial position: %w", op, p.ID, err)
	}

	log.Warn("partial close",
		slog.String("closed_side", string(closed.side)),
		slog.String("failed_side", string(failed.side)),
		slog.String("failure", failed.err.Error()),
	)
	e.emit(ctx, domain.EventPartial, op, p, map[string]any{
		"closed_side": string(closed.side),
		"failed_side": string(failed.side),
		"reason":      failed.err.Error(),
	})
	e.auditLog(ctx, "partial_close", map[string]any{
		"position_id": p.ID,
		"closed_side": string(closed.side),
		"failed_side": string(failed.side),
		"reason":      failed.err.Error(),
	})

	return CloseResult{
		Success:    false,
		Error:      PartialCloseError,
		PositionID: p.ID,
		ClosedSide: closed.side,
		FailedSide: failed.side,
		Reason:     failed.err.Error(),
	}, nil
}
