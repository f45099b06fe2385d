package tincan

import "time"

// EventType enumerates lifecycle events for the Observer pattern.
type EventType string

const (
	Published EventType = "published"
	Delivered EventType = "delivered"
	Dropped   EventType = "dropped"
	Requeued  EventType = "requeued"
	Failed    EventType = "failed"
	Error     EventType = "error"
)

// Event carries telemetry for observers.
type Event struct {
	Type      EventType
	Channel   string
	Client    string
	Queue     string
	MessageID string
	Attempt   int
	Fanout    int
	Duration  time.Duration
	Err       error
}
