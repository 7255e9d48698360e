// Package eventbus implements the priority-ordered dispatcher that
// unifies external channels and the internal goal-pursuit loop (spec
// §3.3, §4.6).
package eventbus

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// Priority ordinals — lower sorts first (spec §3.3).
type Priority int

const (
	PriorityCritical    Priority = 0
	PriorityUserDirect  Priority = 10
	PriorityUserQueued  Priority = 20
	PriorityScheduled   Priority = 30
	PrioritySelfEvent   Priority = 40
	PriorityGoalDriven  Priority = 50
	PriorityBackground  Priority = 60
)

// Type identifies the kind of event carried through the bus.
type Type string

const (
	TypeChat         Type = "chat"
	TypeScheduled    Type = "scheduled"
	TypeSelfSchedule Type = "self_scheduled"
	TypeGoalPursuit  Type = "goal_pursuit"
	TypeShutdown     Type = "shutdown"
)

// Event is the transport unit through the dispatcher (spec §3.3).
type Event struct {
	ID             string
	EventType      Type
	Payload        map[string]any
	Priority       Priority
	SourceChannel  string
	ReplyTo        string
	CreatedAt      time.Time
	Metadata       map[string]any
}

func newEventID() string {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// New builds an Event with a fresh 12-hex id and CreatedAt stamped to now.
func New(eventType Type, payload map[string]any, priority Priority, sourceChannel string) *Event {
	return &Event{
		ID:            newEventID(),
		EventType:     eventType,
		Payload:       payload,
		Priority:      priority,
		SourceChannel: sourceChannel,
		CreatedAt:     time.Now(),
		Metadata:      map[string]any{},
	}
}

// SessionID returns payload["session_id"] as a string, or "".
func (e *Event) SessionID() string {
	return stringField(e.Payload, "session_id")
}

// Content returns payload["content"] as a string, or "".
func (e *Event) Content() string {
	return stringField(e.Payload, "content")
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
