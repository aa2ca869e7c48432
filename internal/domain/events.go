package domain

import "context"

// Lifecycle event names emitted by the engine. Delivery is best-effort: a
// slow or failing sink must never block or fail a trading operation.
const (
	EventProgress       = "progress"
	EventSuccess        = "success"
	EventFailed         = "failed"
	EventPartial        = "partial"
	EventRollbackFailed = "rollback_failed"
)

// Event is one lifecycle notification. Fields carries the structured payload
// (venue names, prices, error text) alongside the position identity.
type Event struct {
	Type       string
	Operation  string // "open", "close", "resume_partial_close"
	PositionID string
	UserID     string
	Symbol     string
	Fields     map[string]any
}

// Emitter receives lifecycle events. Implementations must not return control
// to the engine slowly; anything network-bound should hand off internally.
// The emitter is injected at construction time so tests can substitute a
// recording or no-op implementation.
type Emitter interface {
	Emit(ctx context.Context, ev Event)
}

// NopEmitter discards all events.
type NopEmitter struct{}

func (NopEmitter) Emit(context.Context, Event) {}
