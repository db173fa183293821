package loadsim

import (
	"encoding/json"
	"time"
)

// Config holds configuration for a load run.
type Config struct {
	BaseURL          string        // Base URL of the service
	Sessions         int           // Number of sessions to drive
	FramesPerSession int           // Frames submitted per session
	EventsPerSession int           // Client events submitted per session
	DuplicateEvery   int           // Resubmit every Nth frame with the same frame_id; 0 disables
	FrameInterval    time.Duration // Pause between frames of one session; 0 sends back to back
	Workers          int           // Number of concurrent sessions
	Timeout          time.Duration // HTTP request timeout
	Sensitivity      string        // low, medium or high
	Token            string        // Bearer token, when the service requires one
	OutputFile       string        // JSON lines file for final reports
	Verbose          bool          // Log every failure
}

// Stats holds run statistics. Counters are updated atomically while the
// run is in progress.
type Stats struct {
	SessionsStarted   int64
	SessionsEnded     int64
	FramesSubmitted   int64
	FramesAnalyzed    int64
	FramesDuplicate   int64
	FramesBusy        int64
	FramesFailed      int64
	EventsSubmitted   int64
	EventsRecorded    int64
	EventsFailed      int64
	ReportsStable     int64
	ReportsMismatched int64
	StartTime         time.Time
	EndTime           time.Time
	Duration          time.Duration
}

type startRequest struct {
	Sensitivity  string `json:"sensitivity"`
	InterviewRef string `json:"interview_ref"`
}

type startResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

type frameRequest struct {
	SessionID string `json:"session_id"`
	Frame     string `json:"frame"`
	FrameID   string `json:"frame_id,omitempty"`
}

type frameResponse struct {
	FrameNumber int  `json:"frame_number"`
	Duplicate   bool `json:"duplicate"`
}

type eventRequest struct {
	SessionID string `json:"session_id"`
	EventType string `json:"event_type"`
	Detail    string `json:"detail,omitempty"`
	EventID   string `json:"event_id,omitempty"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// reportLine is one entry in the output file.
type reportLine struct {
	SessionID string          `json:"session_id"`
	Report    json.RawMessage `json:"report"`
}
