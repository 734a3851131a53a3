package log

import "time"

// Logger is the interface applications implement to receive protocol log events.
// Pass nil or NoopLogger to disable logging.
type Logger interface {
	// Log records a protocol event. Implementations must be thread-safe.
	// The event should be processed quickly or queued; blocking affects performance.
	Log(event Event)
}

// NoopLogger discards all events. Use when logging is disabled.
// NoopLogger is safe for concurrent use and usable as a zero value.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

// Compile-time interface satisfaction check.
var _ Logger = NoopLogger{}

// NewStateEvent builds a commissioning-layer state change event.
func NewStateEvent(role Role, entity StateEntity, nodeID, oldState, newState, reason string) Event {
	return Event{
		Timestamp: time.Now(),
		Layer:     LayerCommissioning,
		Category:  CategoryState,
		LocalRole: role,
		NodeID:    nodeID,
		StateChange: &StateChangeEvent{
			Entity:   entity,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	}
}
