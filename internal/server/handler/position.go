package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/fundarb/internal/domain"
	"github.com/alanyoungcy/fundarb/internal/engine"
	"github.com/alanyoungcy/fundarb/internal/venue"
)

// PositionEngine is the subset of the execution engine the HTTP layer drives.
type PositionEngine interface {
	Open(ctx context.Context, req engine.OpenRequest) (domain.Position, error)
	Close(ctx context.Context, userID, positionID, reason string) (engine.CloseResult, error)
	ResumePartialClose(ctx context.Context, userID, positionID string) (engine.CloseResult, error)
}

// PositionHandler serves position lifecycle HTTP endpoints.
type PositionHandler struct {
	engine    PositionEngine
	positions domain.PositionStore
	trades    domain.TradeStore
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(eng PositionEngine, positions domain.PositionStore, trades domain.TradeStore, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		engine:    eng,
		positions: positions,
		trades:    trades,
		logger:    logger,
	}
}

// openPositionRequest is the JSON body for POST /api/positions.
type openPositionRequest struct {
	Symbol          string          `json:"symbol"`
	LongVenue       string          `json:"long_venue"`
	ShortVenue      string          `json:"short_venue"`
	Size            decimal.Decimal `json:"size"`
	LongLeverage    int             `json:"long_leverage"`
	ShortLeverage   int             `json:"short_leverage"`
	StopLossPrice   decimal.Decimal `json:"stop_loss_price"`
	TakeProfitPrice decimal.Decimal `json:"take_profit_price"`
}

// OpenPosition opens a new hedge: long on one venue, short on another.
// POST /api/positions
func (h *PositionHandler) OpenPosition(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		writeError(w, http.StatusBadRequest, "X-User-ID header required")
		return
	}

	var body openPositionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	p, err := h.engine.Open(r.Context(), engine.OpenRequest{
		UserID:          user,
		Symbol:          body.Symbol,
		LongVenue:       venue.Name(body.LongVenue),
		ShortVenue:      venue.Name(body.ShortVenue),
		Size:            body.Size,
		LongLeverage:    body.LongLeverage,
		ShortLeverage:   body.ShortLeverage,
		StopLossPrice:   body.StopLossPrice,
		TakeProfitPrice: body.TakeProfitPrice,
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: open position failed",
			slog.String("user_id", user),
			slog.String("symbol", body.Symbol),
			slog.String("error", err.Error()),
		)
		status := openErrorStatus(err)
		resp := map[string]any{"error": err.Error()}
		if p.ID != "" {
			resp["position"] = p
		}
		writeJSON(w, status, resp)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"position": p})
}

// ClosePosition closes both legs of an open hedge. A PARTIAL position is
// routed to recovery of the remaining leg.
// POST /api/positions/{id}/close
func (h *PositionHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	h.closeOrResume(w, r, "close")
}

// ResumePartialClose retries only the failed leg of a PARTIAL position.
// POST /api/positions/{id}/resume-close
func (h *PositionHandler) ResumePartialClose(w http.ResponseWriter, r *http.Request) {
	h.closeOrResume(w, r, "resume")
}

func (h *PositionHandler) closeOrResume(w http.ResponseWriter, r *http.Request, op string) {
	user := userID(r)
	if user == "" {
		writeError(w, http.StatusBadRequest, "X-User-ID header required")
		return
	}
	id := r.PathValue("id")

	var result engine.CloseResult
	var err error
	if op == "resume" {
		result, err = h.engine.ResumePartialClose(r.Context(), user, id)
	} else {
		var body struct {
			Reason string `json:"reason"`
		}
		// Body is optional; a missing or empty body means no stated reason.
		_ = json.NewDecoder(r.Body).Decode(&body)
		result, err = h.engine.Close(r.Context(), user, id, body.Reason)
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: close position failed",
			slog.String("user_id", user),
			slog.String("position_id", id),
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		writeJSON(w, closeErrorStatus(err), map[string]any{
			"error":  err.Error(),
			"result": result,
		})
		return
	}

	// A partial outcome is a 200 with Success=false: one leg is genuinely
	// closed and the caller must inspect the structured result.
	writeJSON(w, http.StatusOK, result)
}

// listPositionsResponse wraps the list positions response.
type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// ListPositions returns the caller's open positions.
// GET /api/positions
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		writeError(w, http.StatusBadRequest, "X-User-ID header required")
		return
	}

	positions, err := h.positions.ListOpen(r.Context(), user)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list positions failed",
			slog.String("user_id", user),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}

	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// GetPosition returns one position owned by the caller.
// GET /api/positions/{id}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	p, ok := h.loadOwned(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"position": p})
}

// GetTrade returns the concluded trade record for a closed position.
// GET /api/positions/{id}/trade
func (h *PositionHandler) GetTrade(w http.ResponseWriter, r *http.Request) {
	p, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	t, err := h.trades.GetByPositionID(r.Context(), p.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no trade recorded for this position")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get trade failed",
			slog.String("position_id", p.ID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load trade")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"trade": t})
}

// ListTrades returns the caller's concluded trades, newest first.
// GET /api/trades
func (h *PositionHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		writeError(w, http.StatusBadRequest, "X-User-ID header required")
		return
	}

	trades, err := h.trades.ListByUser(r.Context(), user, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list trades failed",
			slog.String("user_id", user),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	if trades == nil {
		trades = []domain.Trade{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
}

// loadOwned fetches the position in the path and enforces ownership, writing
// the error response itself when the lookup fails.
func (h *PositionHandler) loadOwned(w http.ResponseWriter, r *http.Request) (domain.Position, bool) {
	user := userID(r)
	if user == "" {
		writeError(w, http.StatusBadRequest, "X-User-ID header required")
		return domain.Position{}, false
	}

	p, err := h.positions.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "position not found")
		} else {
			h.logger.ErrorContext(r.Context(), "handler: get position failed",
				slog.String("position_id", r.PathValue("id")),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to load position")
		}
		return domain.Position{}, false
	}
	if p.UserID != user {
		writeError(w, http.StatusForbidden, "position does not belong to caller")
		return domain.Position{}, false
	}
	return p, true
}

func openErrorStatus(err error) int {
	var rbErr *domain.RollbackFailedError
	switch {
	case errors.Is(err, domain.ErrLockConflict):
		return http.StatusConflict
	case errors.As(err, &rbErr):
		return http.StatusBadGateway
	default:
		return http.StatusUnprocessableEntity
	}
}

func closeErrorStatus(err error) int {
	var invErr *domain.InvalidStatusError
	var bothErr *domain.BothLegsFailedError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrLockConflict):
		return http.StatusConflict
	case errors.As(err, &invErr):
		return http.StatusConflict
	case errors.As(err, &bothErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
