package model

import "time"

// Recommendation is the band derived from the integrity score.
type Recommendation string

const (
	RecommendationPassed          Recommendation = "PASSED"
	RecommendationPassedWithNotes Recommendation = "PASSED_WITH_NOTES"
	RecommendationFlagged         Recommendation = "FLAGGED"
	RecommendationFailed          Recommendation = "FAILED"
)

// RecentViolationLimit caps the violations echoed in a report.
const RecentViolationLimit = 50

// Metrics are the ratios and score of a report.
type Metrics struct {
	FaceVisibilityRatio float64 `json:"face_visibility_ratio" cbor:"face_visibility_ratio"`
	AttentionRatio      float64 `json:"attention_ratio" cbor:"attention_ratio"`
	IntegrityScore      float64 `json:"integrity_score" cbor:"integrity_score"`
}

// Report summarizes a session. Always recomputable from the session's
// counters and violations.
type Report struct {
	SessionID          string         `json:"session_id" cbor:"session_id"`
	InterviewRef       string         `json:"interview_ref,omitempty" cbor:"interview_ref,omitempty"`
	Sensitivity        Sensitivity    `json:"sensitivity" cbor:"sensitivity"`
	State              State          `json:"state" cbor:"state"`
	StartedAt          *time.Time     `json:"started_at,omitempty" cbor:"started_at,omitempty"`
	EndedAt            *time.Time     `json:"ended_at,omitempty" cbor:"ended_at,omitempty"`
	FramesSeen         int            `json:"frames_seen" cbor:"frames_seen"`
	FramesWithFace     int            `json:"frames_with_face" cbor:"frames_with_face"`
	Metrics            Metrics        `json:"metrics" cbor:"metrics"`
	ViolationSummary   map[Kind]int   `json:"violation_summary" cbor:"violation_summary"`
	TotalViolations    int            `json:"total_violations" cbor:"total_violations"`
	CriticalViolations int            `json:"critical_violations" cbor:"critical_violations"`
	Recommendation     Recommendation `json:"recommendation" cbor:"recommendation"`
	ReviewRequired     bool           `json:"review_required" cbor:"review_required"`
	AuditDigest        string         `json:"audit_digest" cbor:"audit_digest"`
	RecentViolations   []Violation    `json:"recent_violations" cbor:"recent_violations"`
}

// ArchiveRecord is what gets persisted once a session ends.
type ArchiveRecord struct {
	Report     Report      `cbor:"report"`
	Violations []Violation `cbor:"violations"`
}
