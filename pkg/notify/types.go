// Package notify tells operators about dispatch cycles that needed attention.
package notify

import (
	"context"
	"log/slog"
)

// Level indicates how urgent an operational event is.
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"  // Work was skipped, retried next cycle
	LevelCritical Level = "critical" // A cycle could not run
)

// Kind names what happened.
type Kind string

const (
	KindBudgetTruncated   Kind = "budget_truncated"
	KindLimiterTimeout    Kind = "limiter_timeout"
	KindTransportFailures Kind = "transport_failures"
	KindCycleFailed       Kind = "cycle_failed"
)

// Event is one operational notification.
type Event struct {
	Level   Level  `json:"level"`
	Kind    Kind   `json:"kind"`
	CycleID string `json:"cycle_id,omitempty"`
	Message string `json:"message"`
	Count   int    `json:"count"`
	Total   int    `json:"total,omitempty"`
}

// Notifier sends events to external systems.
type Notifier interface {
	// Name returns the notifier identifier.
	Name() string

	// Send delivers an event. Implementations must be safe for concurrent use.
	Send(ctx context.Context, event Event) error
}

// Broadcast sends event to every notifier. Failures are logged, not returned.
func Broadcast(ctx context.Context, logger *slog.Logger, notifiers []Notifier, event Event) {
	for _, n := range notifiers {
		if err := n.Send(ctx, event); err != nil {
			logger.Warn("ops notification failed",
				"notifier", n.Name(),
				"kind", event.Kind,
				"error", err,
			)
		}
	}
}
