// Package engine drives hedged positions to financially consistent outcomes
// across two independent venues. It owns the position lifecycle
// (opening -> open -> closing -> closed/partial, opening -> failed), serializes
// per-(user, symbol) mutation behind the distributed lock, and is the only
// writer of position and trade rows.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/fundarb/internal/domain"
	"github.com/alanyoungcy/fundarb/internal/venue"
)

// Engine executes open, close and recovery operations. All collaborators are
// injected; there is no package-level state.
type Engine struct {
	positions domain.PositionStore
	trades    domain.TradeStore
	audit     domain.AuditStore
	venues    *venue.Registry
	locker    domain.Locker
	emitter   domain.Emitter
	logger    *slog.Logger

	maxLeverage int

	// now is swappable for tests.
	now func() time.Time
}

// Config collects the engine's collaborators.
type Config struct {
	Positions domain.PositionStore
	Trades    domain.TradeStore
	Audit     domain.AuditStore
	Venues    *venue.Registry
	Locker    domain.Locker
	Emitter   domain.Emitter
	Logger    *slog.Logger

	// MaxLeverage caps the per-leg leverage accepted by Open; zero means
	// no cap.
	MaxLeverage int
}

// New constructs an Engine. A nil Emitter is replaced with a no-op.
func New(cfg Config) *Engine {
	emitter := cfg.Emitter
	if emitter == nil {
		emitter = domain.NopEmitter{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		positions:   cfg.Positions,
		trades:      cfg.Trades,
		audit:       cfg.Audit,
		venues:      cfg.Venues,
		locker:      cfg.Locker,
		emitter:     emitter,
		logger:      logger.With(slog.String("component", "engine")),
		maxLeverage: cfg.MaxLeverage,
		now:         time.Now,
	}
}

// OpenRequest describes a hedge to open: long Size coins on LongVenue, short
// Size coins on ShortVenue, same symbol.
type OpenRequest struct {
	UserID string
	Symbol string // internal BASEQUOTE form, e.g. "BTCUSDT"

	LongVenue  venue.Name
	ShortVenue venue.Name

	Size decimal.Decimal // coin-denominated, per leg

	LongLeverage  int
	ShortLeverage int

	// Optional protective orders, one per leg when the trigger is non-zero.
	StopLossPrice   decimal.Decimal
	TakeProfitPrice decimal.Decimal
}

func (r OpenRequest) validate(maxLeverage int) error {
	switch {
	case r.UserID == "":
		return fmt.Errorf("engine: open: user id is required")
	case r.Symbol == "":
		return fmt.Errorf("engine: open: symbol is required")
	case r.LongVenue == r.ShortVenue:
		return fmt.Errorf("engine: open: long and short venues must differ")
	case r.Size.Sign() <= 0:
		return fmt.Errorf("engine: open: size must be positive")
	case r.LongLeverage < 0 || r.ShortLeverage < 0:
		return fmt.Errorf("engine: open: leverage must not be negative")
	}
	if maxLeverage > 0 && (r.LongLeverage > maxLeverage || r.ShortLeverage > maxLeverage) {
		return fmt.Errorf("engine: open: leverage exceeds the configured maximum of %dx", maxLeverage)
	}
	return nil
}

// CloseResult is the structured outcome of a close or recovery attempt. A
// partial outcome is reported here with Success=false and Error set to
// PartialCloseError, not as a Go error: one leg is genuinely closed and the
// caller must act on that, not unwind a stack.
type CloseResult struct {
	Success    bool         `json:"success"`
	Error      string       `json:"error,omitempty"`
	PositionID string       `json:"position_id"`
	ClosedSide domain.Side  `json:"closed_side,omitempty"`
	FailedSide domain.Side  `json:"failed_side,omitempty"`
	Reason     string       `json:"reason,omitempty"` // raw venue error text for the failed leg
	Trade      *domain.Trade `json:"trade,omitempty"`
}

// PartialCloseError is the Error value of a partial CloseResult.
const PartialCloseError = "PARTIAL_CLOSE"

// legResult is one leg's realized execution after the fill-price fallback
// chain has run.
type legResult struct {
	side  domain.Side
	order venue.Order
	price decimal.Decimal
	fee   decimal.Decimal
	err   error
}

func (e *Engine) emit(ctx context.Context, typ, op string, p domain.Position, fields map[string]any) {
	e.emitter.Emit(ctx, domain.Event{
		Type:       typ,
		Operation:  op,
		PositionID: p.ID,
		UserID:     p.UserID,
		Symbol:     p.Symbol,
		Fields:     fields,
	})
}

// auditLog appends an audit row; audit failures are logged and dropped, they
// never fail a trading operation.
func (e *Engine) auditLog(ctx context.Context, event string, detail map[string]any) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Log(ctx, event, detail); err != nil {
		e.logger.Warn("audit log write failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// loadOwned fetches a position and verifies ownership. These validation
// errors are raised before any lock or venue call.
func (e *Engine) loadOwned(ctx context.Context, userID, positionID string) (domain.Position, error) {
	p, err := e.positions.GetByID(ctx, positionID)
	if err != nil {
		return domain.Position{}, err
	}
	if p.UserID != userID {
		return domain.Position{}, domain.ErrForbidden
	}
	return p, nil
}

// SweepStuckOpening moves positions stuck in the opening status for longer
// than maxAge to failed, in one atomic batch. Intended for startup recovery
// after a crash mid-open; the swept ids are audit-logged.
func (e *Engine) SweepStuckOpening(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := e.now().Add(-maxAge)
	stale, err := e.positions.ListByStatus(ctx, domain.PositionStatusOpening, domain.ListOpts{Until: &cutoff})
	if err != nil {
		return 0, fmt.Errorf("engine: sweep: list opening positions: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(stale))
	for _, p := range stale {
		ids = append(ids, p.ID)
	}
	n, err := e.positions.UpdateStatusBatch(ctx, ids, domain.PositionStatusOpening, domain.PositionStatusFailed)
	if err != nil {
		return 0, fmt.Errorf("engine: sweep: batch transition: %w", err)
	}
	e.logger.Warn("swept stuck opening positions",
		slog.Int64("count", n),
		slog.Time("cutoff", cutoff),
	)
	e.auditLog(ctx, "sweep_stuck_opening", map[string]any{
		"ids":    ids,
		"moved":  n,
		"cutoff": cutoff,
	})
	return n, nil
}
