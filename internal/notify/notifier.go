// Package notify fans lifecycle notifications out to operator channels
// (Telegram, Discord). Delivery is best-effort by contract: the engine's
// event emitter hands off asynchronously and a failing channel never blocks
// or fails a trading operation.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Sender is one delivery channel.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name identifies the channel, e.g. "telegram".
	Name() string
}

// Notifier dispatches to all configured senders, filtered by event type.
// With an empty filter every event type passes.
type Notifier struct {
	senders []Sender
	allowed map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders. events
// lists the allowed event types; empty means allow everything.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		allowed: allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify delivers to every sender when the event type passes the filter.
// Per-sender failures are collected; one bad channel does not stop the rest.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.allowed) > 0 && !n.allowed[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	if len(n.senders) == 0 {
		return nil
	}

	var failed []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			failed = append(failed, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(failed) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(failed), strings.Join(failed, "; "))
	}
	return nil
}
