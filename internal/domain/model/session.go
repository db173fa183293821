package model

import "time"

// State is the session lifecycle position. Transitions only move forward.
type State string

const (
	StateCreated State = "created"
	StateActive  State = "active"
	StateEnded   State = "ended"
)

// SessionInfo is the public view of a session returned at creation.
type SessionInfo struct {
	SessionID    string      `json:"session_id"`
	InterviewRef string      `json:"interview_ref,omitempty"`
	Sensitivity  Sensitivity `json:"sensitivity"`
	State        State       `json:"state"`
	CreatedAt    time.Time   `json:"created_at"`
	HasReference bool        `json:"has_reference"`
}
