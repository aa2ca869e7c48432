package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/alanyoungcy/fundarb/internal/domain"
	"github.com/alanyoungcy/fundarb/internal/venue"
)

// ResumePartialClose retries the failed leg of a partially closed hedge. It
// is a distinct, explicitly invoked operation: a partial outcome is never
// continued automatically. Lifecycle: partial -> closing -> {closed | partial}.
// The already-closed leg's exit price and fee, recorded by the original close
// attempt, are reused as-is.
func (e *Engine) ResumePartialClose(ctx context.Context, userID, positionID string) (CloseResult, error) {
	p, err := e.loadOwned(ctx, userID, positionID)
	if err != nil {
		return CloseResult{PositionID: positionID}, err
	}
	if p.Status != domain.PositionStatusPartial {
		return CloseResult{PositionID: positionID}, &domain.InvalidStatusError{Op: "resume partial close", Status: p.Status}
	}
	if p.PartialFailedSide == domain.SideUnknown {
		return CloseResult{PositionID: positionID}, &domain.InvalidStatusError{Op: "resume partial close", Status: p.Status}
	}

	lockCtx, err := e.locker.Acquire(ctx, userID, p.Symbol)
	if err != nil {
		return CloseResult{PositionID: positionID}, err
	}
	defer e.locker.Release(ctx, lockCtx)

	log := e.logger.With(
		slog.String("op", "resume_partial_close"),
		slog.String("position_id", p.ID),
		slog.String("symbol", p.Symbol),
	)

	failedSide := p.PartialFailedSide
	closedSide := p.PartialClosedSide

	retryV, err := e.venues.Get(venue.Name(p.VenueFor(failedSide)))
	if err != nil {
		return CloseResult{PositionID: p.ID}, err
	}
	longV, err := e.venues.Get(venue.Name(p.LongVenue))
	if err != nil {
		return CloseResult{PositionID: p.ID}, err
	}
	shortV, err := e.venues.Get(venue.Name(p.ShortVenue))
	if err != nil {
		return CloseResult{PositionID: p.ID}, err
	}

	if err := e.positions.UpdateStatus(ctx, p.ID, domain.PositionStatusPartial, domain.PositionStatusClosing); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return CloseResult{PositionID: p.ID}, &domain.InvalidStatusError{Op: "resume partial close", Status: p.Status}
		}
		return CloseResult{PositionID: p.ID}, err
	}
	p.Status = domain.PositionStatusClosing
	e.emit(ctx, domain.EventProgress, "resume_partial_close", p, map[string]any{
		"stage":       "retrying_failed_leg",
		"failed_side": string(failedSide),
	})
	e.auditLog(ctx, "resume_partial_close", map[string]any{
		"position_id": p.ID,
		"failed_side": string(failedSide),
	})

	retried := legResult{side: failedSide}
	retried.order, retried.price, retried.fee, retried.err = e.closeLeg(ctx, retryV, p, failedSide)

	if retried.err != nil {
		// Still one-sided: return to partial with the fresh failure reason.
		if rerr := e.positions.UpdateStatus(ctx, p.ID, domain.PositionStatusClosing, domain.PositionStatusPartial); rerr != nil {
			log.Error("restore partial status after failed retry", slog.String("error", rerr.Error()))
		}
		p.Status = domain.PositionStatusPartial
		p.FailureReason = retried.err.Error()
		if uerr := e.positions.Update(ctx, p); uerr != nil {
			log.Error("persist partial position after failed retry", slog.String("error", uerr.Error()))
		}
		log.Warn("partial close retry failed",
			slog.String("failed_side", string(failedSide)),
			slog.String("failure", retried.err.Error()),
		)
		e.emit(ctx, domain.EventPartial, "resume_partial_close", p, map[string]any{
			"closed_side": string(closedSide),
			"failed_side": string(failedSide),
			"reason":      retried.err.Error(),
		})
		return CloseResult{
			Success:    false,
			Error:      PartialCloseError,
			PositionID: p.ID,
			ClosedSide: closedSide,
			FailedSide: failedSide,
			Reason:     retried.err.Error(),
		}, nil
	}

	// Reconstruct the leg that the original close already flattened from the
	// numbers persisted on the position row.
	prior := legResult{side: closedSide}
	if closedSide == domain.SideLong {
		prior.price = p.LongExitPrice
		prior.fee = p.LongCloseFee
	} else {
		prior.price = p.ShortExitPrice
		prior.fee = p.ShortCloseFee
	}

	long, short := prior, retried
	if retried.side == domain.SideLong {
		long, short = retried, prior
	}
	return e.finalizeClose(ctx, log, p, longV, shortV, long, short, p.CloseReason, "resume_partial_close")
}
