package model

// NoticeType discriminates live session notices.
type NoticeType string

const (
	NoticeViolation NoticeType = "violation"
	NoticeEnded     NoticeType = "ended"
)

// Notice is one message on a session's live stream.
type Notice struct {
	Type      NoticeType `json:"type"`
	SessionID string     `json:"session_id"`
	Violation *Violation `json:"violation,omitempty"`
	Report    *Report    `json:"report,omitempty"`
}
