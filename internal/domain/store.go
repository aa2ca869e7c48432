package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionStore persists hedge positions. The engine is the only writer;
// everything else reads.
type PositionStore interface {
	Create(ctx context.Context, p Position) error
	// Update replaces all mutable fields. Returns ErrNotFound for a missing row.
	Update(ctx context.Context, p Position) error
	// UpdateStatus performs an atomic status transition and fails with
	// ErrNotFound when the row is absent or not in the expected status.
	UpdateStatus(ctx context.Context, id string, from, to PositionStatus) error
	// UpdateStatusBatch transitions many rows at once (batch-close support)
	// and returns how many actually moved.
	UpdateStatusBatch(ctx context.Context, ids []string, from, to PositionStatus) (int64, error)
	GetByID(ctx context.Context, id string) (Position, error)
	ListOpen(ctx context.Context, userID string) ([]Position, error)
	ListByStatus(ctx context.Context, status PositionStatus, opts ListOpts) ([]Position, error)
}

// TradeStore persists concluded trade records. Rows are append-only; the
// ListBefore/DeleteBefore pair exists for cold-storage archival.
type TradeStore interface {
	Create(ctx context.Context, t Trade) error
	GetByPositionID(ctx context.Context, positionID string) (Trade, error)
	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]Trade, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]Trade, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AuditEntry is a single append-only audit row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore records operator-relevant engine actions: lock clears, partial
// closes, rollback failures, archive runs.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]AuditEntry, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
