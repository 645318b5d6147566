package realtime

import "time"

// Envelope type discriminators sent on the wire.
const (
	TypeConnectionEstablished = "connection_established"
	TypePong                  = "pong"
	TypeTaskUpdate            = "task_update"
)

// Action describes what happened to the entity carried in a TaskUpdate.
type Action string

const (
	ActionCreated    Action = "created"
	ActionUpdated    Action = "updated"
	ActionDeleted    Action = "deleted"
	ActionUserTyping Action = "user_typing"
)

// Envelope is the unit of outbound traffic. Each implementation is a
// self-contained message; one instance is marshalled once and fanned out to
// every recipient, never mutated per recipient.
type Envelope interface {
	EnvelopeType() string
}

// ConnectionEstablished acknowledges a successful session to the connecting
// client itself.
type ConnectionEstablished struct {
	Type      string    `json:"type"`
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

// EnvelopeType implements Envelope.
func (ConnectionEstablished) EnvelopeType() string { return TypeConnectionEstablished }

// NewConnectionEstablished builds the session acknowledgment envelope.
func NewConnectionEstablished(userID string, now time.Time) ConnectionEstablished {
	return ConnectionEstablished{
		Type:      TypeConnectionEstablished,
		UserID:    userID,
		Timestamp: now.UTC(),
	}
}

// Pong answers a client liveness probe.
type Pong struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// EnvelopeType implements Envelope.
func (Pong) EnvelopeType() string { return TypePong }

// NewPong builds a pong envelope carrying the current time.
func NewPong(now time.Time) Pong {
	return Pong{Type: TypePong, Timestamp: now.UTC()}
}

// TaskUpdate notifies stakeholders about a task mutation or typing activity.
// Task carries the full snapshot for created/updated/deleted actions and a
// lightweight reference for user_typing.
type TaskUpdate struct {
	Type      string    `json:"type"`
	Action    Action    `json:"action"`
	Task      any       `json:"task"`
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

// EnvelopeType implements Envelope.
func (TaskUpdate) EnvelopeType() string { return TypeTaskUpdate }

// NewTaskUpdate builds a task event envelope attributed to the acting user.
func NewTaskUpdate(action Action, task any, actorID string, now time.Time) TaskUpdate {
	return TaskUpdate{
		Type:      TypeTaskUpdate,
		Action:    action,
		Task:      task,
		UserID:    actorID,
		Timestamp: now.UTC(),
	}
}

// TaskRef is the lightweight task payload used by typing notifications.
type TaskRef struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
}

// controlFrame is the inbound client-to-server message. Unrecognised types
// are ignored for forward compatibility.
type controlFrame struct {
	Type   string `json:"type"`
	TaskID string `json:"task_id,omitempty"`
}

const (
	controlPing       = "ping"
	controlUserTyping = "user_typing"
)
