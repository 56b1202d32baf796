// Package sse streams sync session progress to local UI clients as
// Server-Sent Events.
package sse

import (
	"time"

	"github.com/mediashelf/mediashelf/internal/session"
)

// EventType names an event on the stream.
type EventType string

const (
	// EventSyncState carries a session snapshot after every transition.
	EventSyncState EventType = "sync.state"
	// EventSyncCompleted is sent once when a session reaches Done.
	EventSyncCompleted EventType = "sync.completed"
	// EventSyncFailed is sent once when a session reaches Failed.
	EventSyncFailed EventType = "sync.failed"
)

// Event is one entry in the stream. ID is assigned by the Manager on
// publish and is zero until then.
type Event struct {
	ID        uint64           `json:"id"`
	Type      EventType        `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Session   session.Snapshot `json:"session"`
}

// NewSyncEvent builds the event for a snapshot. Terminal states get their own
// event types so clients can react without inspecting the state.
func NewSyncEvent(snap session.Snapshot) Event {
	eventType := EventSyncState
	switch snap.State {
	case session.StateDone:
		eventType = EventSyncCompleted
	case session.StateFailed:
		eventType = EventSyncFailed
	}
	return Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Session:   snap,
	}
}
