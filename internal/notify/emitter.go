package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/alanyoungcy/fundarb/internal/domain"
)

// Emitter bridges the engine's lifecycle events into operator notifications.
// Emit hands the event to a goroutine with its own deadline, so a slow
// channel cannot stall a trading operation. Progress events are rendered but
// typically filtered out by the Notifier's event list.
type Emitter struct {
	notifier *Notifier
	logger   *slog.Logger
	timeout  time.Duration
}

// NewEmitter wraps a Notifier as a domain.Emitter.
func NewEmitter(n *Notifier, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{
		notifier: n,
		logger:   logger.With(slog.String("component", "notify_emitter")),
		timeout:  15 * time.Second,
	}
}

// Emit renders and dispatches the event without blocking the caller.
func (e *Emitter) Emit(ctx context.Context, ev domain.Event) {
	title, message := render(ev)
	go func() {
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
		defer cancel()
		if err := e.notifier.Notify(sendCtx, ev.Type, title, message); err != nil {
			e.logger.Warn("event notification failed",
				slog.String("event", ev.Type),
				slog.String("position_id", ev.PositionID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

func render(ev domain.Event) (title, message string) {
	switch ev.Type {
	case domain.EventSuccess:
		title = fmt.Sprintf("✅ %s succeeded", ev.Operation)
	case domain.EventPartial:
		title = fmt.Sprintf("⚠️ %s partially completed", ev.Operation)
	case domain.EventFailed:
		title = fmt.Sprintf("❌ %s failed", ev.Operation)
	case domain.EventRollbackFailed:
		title = fmt.Sprintf("🚨 %s rollback failed, manual intervention required", ev.Operation)
	default:
		title = fmt.Sprintf("%s: %s", ev.Operation, ev.Type)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "symbol: %s\nposition: %s\nuser: %s", ev.Symbol, ev.PositionID, ev.UserID)

	keys := make([]string, 0, len(ev.Fields))
	for k := range ev.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %v", k, ev.Fields[k])
	}
	return title, b.String()
}

var _ domain.Emitter = (*Emitter)(nil)
