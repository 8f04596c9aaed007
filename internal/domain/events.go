package domain

import "time"

// EventType names a security-core event broadcast on the bus.
type EventType string

const (
	EventConfirmationRequired EventType = "confirmation-required"
	EventExecutionComplete    EventType = "execution-complete"
	EventExecutionCancelled   EventType = "execution-cancelled"
	EventConfigChanged        EventType = "config-changed"
	EventLevelChanged         EventType = "level-changed"
	EventPatternAlert         EventType = "pattern-alert"
	EventIntegrityFailure     EventType = "integrity-failure"
)

// Event is published to subscribers (the desktop shell bridge, the CLI).
type Event struct {
	Type        EventType      `json:"type"`
	Timestamp   time.Time      `json:"timestamp"`
	ExecutionID string         `json:"executionId,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// EventBus is an explicit observer list over channels; no global listener
// registration.
type EventBus interface {
	Publish(ev Event)
	Subscribe(name string) <-chan Event
	Unsubscribe(name string)
}
