// Package notify fans change notifications about approval requests out to
// live dashboards and downstream consumers. Delivery guarantees belong to the
// transports; publishers here are fire-and-report.
package notify

import (
	"context"
	"errors"
	"time"
)

// EventRequestUpdated is emitted after every committed state transition.
const EventRequestUpdated = "approval.updated"

// Event describes a committed change to an approval request.
type Event struct {
	Type       string    `json:"type"`
	RequestID  string    `json:"requestId"`
	Action     string    `json:"action"`
	Status     string    `json:"status"`
	Version    int64     `json:"version"`
	ActorID    string    `json:"actorId"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Notifier publishes change events.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Multi publishes to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, event Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards events.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }
