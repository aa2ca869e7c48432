package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/fundarb/internal/domain"
	"github.com/alanyoungcy/fundarb/internal/venue"
)

// Open places both legs of a new hedge. Lifecycle: opening -> open on full
// success, opening -> failed otherwise. When exactly one leg fills, the
// filled leg is unwound with a market close; if that unwind also fails the
// position is flagged for manual intervention and a rollback_failed event is
// emitted. Both-legs-failed leaves a failed row for the record; nothing
// survives as open unless both venues confirmed a fill.
func (e *Engine) Open(ctx context.Context, req OpenRequest) (domain.Position, error) {
	if err := req.validate(e.maxLeverage); err != nil {
		return domain.Position{}, err
	}
	longV, err := e.venues.Get(req.LongVenue)
	if err != nil {
		return domain.Position{}, err
	}
	shortV, err := e.venues.Get(req.ShortVenue)
	if err != nil {
		return domain.Position{}, err
	}

	// 1. Serialize against any other open/close for this (user, symbol).
	lockCtx, err := e.locker.Acquire(ctx, req.UserID, req.Symbol)
	if err != nil {
		return domain.Position{}, err
	}
	defer e.locker.Release(ctx, lockCtx)

	log := e.logger.With(
		slog.String("op", "open"),
		slog.String("user_id", req.UserID),
		slog.String("symbol", req.Symbol),
	)

	// 2. Persist the opening row before touching any venue, so a crash
	// mid-open leaves evidence for the startup sweep.
	p := domain.Position{
		ID:            uuid.New().String(),
		UserID:        req.UserID,
		Symbol:        req.Symbol,
		LongVenue:     string(req.LongVenue),
		ShortVenue:    string(req.ShortVenue),
		LongSize:      req.Size,
		ShortSize:     req.Size,
		LongLeverage:  req.LongLeverage,
		ShortLeverage: req.ShortLeverage,
		Status:        domain.PositionStatusOpening,
		OpenedAt:      e.now().UTC(),
	}
	if err := e.positions.Create(ctx, p); err != nil {
		return domain.Position{}, fmt.Errorf("engine: open: persist opening position: %w", err)
	}
	e.emit(ctx, domain.EventProgress, "open", p, map[string]any{"stage": "legs_placing"})

	// 3. Place both legs concurrently. Each leg records its own outcome; a
	// failed leg must not cancel the other mid-flight, so the group never
	// returns an error.
	long := legResult{side: domain.SideLong}
	short := legResult{side: domain.SideShort}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		long.order, long.price, long.fee, long.err = e.openLeg(gctx, longV, p, domain.SideLong, req)
		return nil
	})
	g.Go(func() error {
		short.order, short.price, short.fee, short.err = e.openLeg(gctx, shortV, p, domain.SideShort, req)
		return nil
	})
	_ = g.Wait()

	// 4. Resolve the outcome.
	switch {
	case long.err == nil && short.err == nil:
		return e.finishOpen(ctx, log, p, longV, shortV, long, short, req)

	case long.err != nil && short.err != nil:
		p.Status = domain.PositionStatusFailed
		p.FailureReason = fmt.Sprintf("long: %v; short: %v", long.err, short.err)
		if err := e.positions.Update(ctx, p); err != nil {
			log.Error("persist failed position", slog.String("error", err.Error()))
		}
		e.emit(ctx, domain.EventFailed, "open", p, map[string]any{"reason": p.FailureReason})
		return p, fmt.Errorf("engine: open %s: both legs failed (long: %v; short: %v)", req.Symbol, long.err, short.err)

	default:
		// Exactly one leg filled: unwind it.
		filled, failed := long, short
		filledVenue := longV
		if long.err != nil {
			filled, failed = short, long
			filledVenue = shortV
		}
		return e.rollbackOpen(ctx, log, p, filledVenue, filled, failed)
	}
}

// openLeg places one market order and runs the fill-price fallback chain. The
// returned price is guaranteed positive on success. A position-mode mismatch
// from the venue triggers exactly one corrective retry with the opposite
// parameter set, same as the close path.
func (e *Engine) openLeg(ctx context.Context, v venue.Venue, p domain.Position, side domain.Side, req OpenRequest) (venue.Order, decimal.Decimal, decimal.Decimal, error) {
	params := venue.OrderParams{PositionSide: side}

	ord, err := v.CreateMarketOrder(ctx, p.Symbol, side, req.Size, params)
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
		ord, err = v.CreateMarketOrder(ctx, p.Symbol, side, req.Size, params)
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

// finishOpen persists the open hedge and places protective orders.
func (e *Engine) finishOpen(ctx context.Context, log *slog.Logger, p domain.Position, longV, shortV venue.Venue, long, short legResult, req OpenRequest) (domain.Position, error) {
	p.LongEntryPrice = long.price
	p.ShortEntryPrice = short.price
	p.LongOpenFee = long.fee
	p.ShortOpenFee = short.fee
	p.LongSize = long.order.Filled
	p.ShortSize = short.order.Filled
	if p.LongSize.Sign() == 0 {
		p.LongSize = req.Size
	}
	if p.ShortSize.Sign() == 0 {
		p.ShortSize = req.Size
	}
	p.Status = domain.PositionStatusOpen
	p.Conditionals = e.placeConditionals(ctx, log, p, longV, shortV, req)

	if err := e.positions.Update(ctx, p); err != nil {
		return p, fmt.Errorf("engine: open: persist open position: %w", err)
	}
	log.Info("hedge opened",
		slog.String("position_id", p.ID),
		slog.String("long_venue", p.LongVenue),
		slog.String("short_venue", p.ShortVenue),
		slog.String("long_entry", p.LongEntryPrice.String()),
		slog.String("short_entry", p.ShortEntryPrice.String()),
	)
	e.emit(ctx, domain.EventSuccess, "open", p, map[string]any{
		"long_entry":  p.LongEntryPrice.String(),
		"short_entry": p.ShortEntryPrice.String(),
	})
	return p, nil
}

// placeConditionals rests the requested stop-loss / take-profit orders on
// each leg. Placement is best-effort: a venue rejecting a protective order
// does not fail an already filled hedge, it is logged and skipped.
func (e *Engine) placeConditionals(ctx context.Context, log *slog.Logger, p domain.Position, longV, shortV venue.Venue, req OpenRequest) []domain.ConditionalOrderRef {
	type target struct {
		v    venue.Venue
		side domain.Side
	}
	var refs []domain.ConditionalOrderRef
	for _, t := range []target{{longV, domain.SideLong}, {shortV, domain.SideShort}} {
		for _, c := range []struct {
			kind    domain.ConditionalKind
			trigger decimal.Decimal
		}{
			{domain.ConditionalStopLoss, req.StopLossPrice},
			{domain.ConditionalTakeProfit, req.TakeProfitPrice},
		} {
			kind, trigger := c.kind, c.trigger
			if trigger.Sign() <= 0 {
				continue
			}
			ord, err := t.v.PlaceConditional(ctx, p.Symbol, t.side, p.SizeFor(t.side), trigger, kind,
				venue.OrderParams{PositionSide: t.side, ReduceOnly: true})
			if err != nil {
				log.Warn("conditional order placement failed",
					slog.String("venue", string(t.v.Name())),
					slog.String("side", string(t.side)),
					slog.String("kind", string(kind)),
					slog.String("error", err.Error()),
				)
				continue
			}
			refs = append(refs, domain.ConditionalOrderRef{
				Venue:   string(t.v.Name()),
				Side:    t.side,
				Kind:    kind,
				OrderID: ord.ID,
			})
		}
	}
	return refs
}

// rollbackOpen unwinds the single filled leg of a half-opened hedge. The
// position ends failed either way; what differs is whether a live one-sided
// exposure remains on a venue.
func (e *Engine) rollbackOpen(ctx context.Context, log *slog.Logger, p domain.Position, filledVenue venue.Venue, filled, failed legResult) (domain.Position, error) {
	log.Warn("one leg failed, unwinding filled leg",
		slog.String("position_id", p.ID),
		slog.String("filled_side", string(filled.side)),
		slog.String("failed_side", string(failed.side)),
		slog.String("failure", failed.err.Error()),
	)

	qty := filled.order.Filled
	if qty.Sign() == 0 {
		qty = p.SizeFor(filled.side)
	}
	_, unwindErr := filledVenue.CreateMarketOrder(ctx, p.Symbol, filled.side.Opposite(), qty,
		venue.OrderParams{PositionSide: filled.side, ReduceOnly: true})

	p.Status = domain.PositionStatusFailed
	p.FailureReason = fmt.Sprintf("%s leg failed: %v", failed.side, failed.err)

	if unwindErr != nil {
		p.ManualIntervention = true
		p.FailureReason += fmt.Sprintf("; rollback of %s leg failed: %v", filled.side, unwindErr)
		if err := e.positions.Update(ctx, p); err != nil {
			log.Error("persist rollback-failed position", slog.String("error", err.Error()))
		}
		e.emit(ctx, domain.EventRollbackFailed, "open", p, map[string]any{
			"filled_side": string(filled.side),
			"venue":       string(filledVenue.Name()),
			"reason":      unwindErr.Error(),
		})
		e.auditLog(ctx, "rollback_failed", map[string]any{
			"position_id": p.ID,
			"venue":       string(filledVenue.Name()),
			"side":        string(filled.side),
			"reason":      unwindErr.Error(),
		})
		return p, &domain.RollbackFailedError{
			Venue:  string(filledVenue.Name()),
			Side:   filled.side,
			Reason: unwindErr.Error(),
		}
	}

	if err := e.positions.Update(ctx, p); err != nil {
		log.Error("persist failed position", slog.String("error", err.Error()))
	}
	e.emit(ctx, domain.EventFailed, "open", p, map[string]any{"reason": p.FailureReason})
	return p, fmt.Errorf("engine: open %s: %s", p.Symbol, p.FailureReason)
}
