// Package events delivers realtime notifications to the web layer's event
// sink. Dispatch publishes one bridge.comms.updated event per lifecycle
// transition; delivery of events is best-effort and never blocks dispatch.
package events

import "context"

// Event types and payload kinds emitted by the dispatch core.
const (
	TypeCommsUpdated = "bridge.comms.updated"

	KindEnqueued  = "dispatch.enqueued"
	KindCompleted = "dispatch.completed"
	KindFailed    = "dispatch.failed"
)

type Event struct {
	Type    string         `json:"type"`
	UserID  string         `json:"userId,omitempty"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop discards events (sink "none", tests).
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
