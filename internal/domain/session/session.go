package session

import (
	"sync"
	"time"

	"github.com/okian/proctor/internal/domain/audit"
	"github.com/okian/proctor/internal/domain/model"
	"github.com/okian/proctor/internal/domain/scoring"
	"github.com/okian/proctor/internal/domain/tracker"
)

// Session is one proctored interview attempt. All mutable state is guarded
// by mu; the Manager never holds two session locks at once.
type Session struct {
	mu sync.Mutex

	id           string
	interviewRef string
	sensitivity  model.Sensitivity
	profile      model.Profile
	createdAt    time.Time

	state     model.State
	startedAt time.Time
	endedAt   time.Time
	reference []float64
	tracker   *tracker.Tracker
	chain     *audit.Chain

	// final is computed once when the session ends and returned verbatim afterwards.
	final *model.Report
}

func newSession(id, interviewRef string, sensitivity model.Sensitivity, now time.Time) *Session {
	profile := sensitivity.Profile()
	return &Session{
		id:           id,
		interviewRef: interviewRef,
		sensitivity:  sensitivity,
		profile:      profile,
		createdAt:    now,
		state:        model.StateCreated,
		tracker:      tracker.New(profile),
		chain:        audit.NewChain(id),
	}
}

// ID returns the session token.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle position.
func (s *Session) State() model.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// EndedAt returns when the session ended, zero while it is still open.
func (s *Session) EndedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endedAt
}

// Violations returns a copy of the violation log.
func (s *Session) Violations() []model.Violation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.Violations()
}

// Reference returns a copy of the enrolled embedding, nil if none.
func (s *Session) Reference() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reference == nil {
		return nil
	}
	out := make([]float64, len(s.reference))
	copy(out, s.reference)
	return out
}

func (s *Session) infoLocked() model.SessionInfo {
	return model.SessionInfo{
		SessionID:    s.id,
		InterviewRef: s.interviewRef,
		Sensitivity:  s.sensitivity,
		State:        s.state,
		CreatedAt:    s.createdAt,
		HasReference: s.reference != nil,
	}
}

func (s *Session) activateLocked(now time.Time) {
	if s.state == model.StateCreated {
		s.state = model.StateActive
		s.startedAt = now
	}
}

// identityDueLocked decides whether the next frame gets an identity check.
func (s *Session) identityDueLocked(verify bool, interval int) bool {
	if s.reference == nil {
		return false
	}
	if verify {
		return true
	}
	return interval > 0 && s.tracker.NextFrame()%interval == 0
}

// reportLocked reduces the current counters and log into a Report.
func (s *Session) reportLocked() model.Report {
	counters := s.tracker.Counters()
	violations := s.tracker.Violations()
	res := scoring.Score(scoring.Input{
		FramesSeen:     counters.FramesSeen,
		FramesWithFace: counters.FramesWithFace,
		Violations:     violations,
	})

	recent := violations
	if len(recent) > model.RecentViolationLimit {
		recent = recent[len(recent)-model.RecentViolationLimit:]
	}

	r := model.Report{
		SessionID:          s.id,
		InterviewRef:       s.interviewRef,
		Sensitivity:        s.sensitivity,
		State:              s.state,
		FramesSeen:         counters.FramesSeen,
		FramesWithFace:     counters.FramesWithFace,
		Metrics:            res.Metrics,
		ViolationSummary:   res.Counts,
		TotalViolations:    res.Total,
		CriticalViolations: res.Critical,
		Recommendation:     res.Recommendation,
		ReviewRequired:     res.ReviewRequired,
		AuditDigest:        s.chain.Head().String(),
		RecentViolations:   recent,
	}
	if !s.startedAt.IsZero() {
		t := s.startedAt
		r.StartedAt = &t
	}
	if !s.endedAt.IsZero() {
		t := s.endedAt
		r.EndedAt = &t
	}
	return r
}
