package event

import "time"

type Type string

const (
	TypeDiagnostic       Type = "diagnostic"
	TypeRepairTransition Type = "repair.transition"
	TypeRepairFinished   Type = "repair.finished"
	TypeSessionCleared   Type = "session.cleared"
	TypeTokenRejected    Type = "session.rejected"
)

type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Level     string    `json:"level,omitempty"`
	Message   string    `json:"message,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id,omitempty"`
}

type Bus interface {
	Publish(e Event)
	Subscribe() (<-chan Event, func()) // channel plus unsubscribe
}
