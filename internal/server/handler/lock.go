package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/fundarb/internal/domain"
	"github.com/alanyoungcy/fundarb/internal/lock"
)

// LockHandler exposes the operational escape hatch for the distributed
// position locks: listing currently held locks and force-clearing one.
type LockHandler struct {
	locks  *lock.Service
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewLockHandler creates a LockHandler.
func NewLockHandler(locks *lock.Service, audit domain.AuditStore, logger *slog.Logger) *LockHandler {
	return &LockHandler{locks: locks, audit: audit, logger: logger}
}

// ListLocks returns all currently held open-position locks.
// GET /api/locks
func (h *LockHandler) ListLocks(w http.ResponseWriter, r *http.Request) {
	held, err := h.locks.List(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list locks failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list locks")
		return
	}
	if held == nil {
		held = []lock.HeldLock{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"locks": held})
}

// ClearLock force-deletes a lock regardless of its token. This bypasses the
// compare-and-delete safety and exists for stuck locks only; every use is
// audit-logged.
// DELETE /api/locks/{user}/{symbol}
func (h *LockHandler) ClearLock(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	symbol := r.PathValue("symbol")

	cleared, err := h.locks.Clear(r.Context(), user, symbol)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: clear lock failed",
			slog.String("user_id", user),
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to clear lock")
		return
	}
	if !cleared {
		writeError(w, http.StatusNotFound, "lock not held")
		return
	}

	if h.audit != nil {
		if err := h.audit.Log(r.Context(), "lock_cleared", map[string]any{
			"user_id":    user,
			"symbol":     symbol,
			"cleared_by": userID(r),
		}); err != nil {
			h.logger.WarnContext(r.Context(), "handler: audit write failed",
				slog.String("error", err.Error()),
			)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"cleared": true})
}
