// Package session owns the session registry and lifecycle. It resolves a
// session, sends images through the analysis pool, feeds the resulting
// observations into the session's tracker under the session's own lock, and
// reduces the state into reports.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/okian/proctor/internal/domain/analysis"
	"github.com/okian/proctor/internal/domain/dedupe"
	"github.com/okian/proctor/internal/domain/model"
	"github.com/okian/proctor/pkg/clock"
	"github.com/okian/proctor/pkg/logger"
	"github.com/okian/proctor/pkg/metrics"
)

const (
	defaultIdentityInterval = 30
	defaultAnalysisTimeout  = 5 * time.Second
	defaultArchiveTimeout   = 30 * time.Second
)

// Alert texts shown to the candidate alongside a frame result.
const (
	AlertMultipleFaces   = "Multiple faces detected!"
	AlertNotCentered     = "Please center your face in the frame"
	AlertNoFace          = "Face not visible - please stay in frame"
	AlertLookAtScreen    = "Please look at the screen"
	AlertFaceCamera      = "Please face the camera"
	AlertDifferentPerson = "ALERT: Face does not match registered user!"
)

// Store is the session registry.
type Store interface {
	Put(id string, s *Session)
	Get(id string) (*Session, error)
	Delete(id string) bool
	Range(fn func(id string, s *Session) bool)
	Len() int
}

// Dispatcher hands detection jobs to the analysis pool. Enqueue returns
// false when the pool cannot accept more work.
type Dispatcher interface {
	Enqueue(ctx context.Context, req model.DetectRequest) bool
}

// Publisher fans session notices out to live subscribers.
type Publisher interface {
	Publish(ctx context.Context, n model.Notice)
}

// Archiver persists the final state of an ended session.
type Archiver interface {
	Archive(ctx context.Context, rec model.ArchiveRecord) error
}

// CreateRequest describes a new session.
type CreateRequest struct {
	Sensitivity  string
	InterviewRef string
	// Begin starts monitoring immediately instead of waiting for a reference.
	Begin bool
}

// FrameRequest is one submitted camera frame.
type FrameRequest struct {
	SessionID    string
	Image        []byte
	VerifyPerson bool
	// FrameID is an optional client token for idempotent retries.
	FrameID string
}

// EventRequest is one client-reported browser event.
type EventRequest struct {
	SessionID string
	EventType string
	Detail    string
	// EventID is an optional client token for idempotent retries.
	EventID string
}

// Stats counts registered sessions by state.
type Stats struct {
	Total   int `json:"total"`
	Created int `json:"created"`
	Active  int `json:"active"`
	Ended   int `json:"ended"`
}

// Manager coordinates every session operation.
type Manager struct {
	store      Store
	dispatcher Dispatcher
	deduper    dedupe.Deduper
	publisher  Publisher
	archiver   Archiver
	clock      clock.Clock
	logger     logger.Logger
	newID      func() string

	identityInterval int
	analysisTimeout  time.Duration
	archiveTimeout   time.Duration

	archives sync.WaitGroup
}

// NewManager creates a Manager backed by store, sending detection work to dispatcher.
func NewManager(store Store, dispatcher Dispatcher, opts ...Option) *Manager {
	m := &Manager{
		store:            store,
		dispatcher:       dispatcher,
		deduper:          dedupe.NewInMemoryDeduper(),
		clock:            clock.Real(),
		logger:           logger.Get().Named("session"),
		newID:            uuid.NewString,
		identityInterval: defaultIdentityInterval,
		analysisTimeout:  defaultAnalysisTimeout,
		archiveTimeout:   defaultArchiveTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) lookup(id string) (*Session, error) {
	s, err := m.store.Get(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// Create registers a new session in the Created state, or Active when req.Begin is set.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (model.SessionInfo, error) {
	sensitivity, err := model.ParseSensitivity(req.Sensitivity)
	if err != nil {
		return model.SessionInfo{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	now := m.clock.Now()
	s := newSession(m.newID(), req.InterviewRef, sensitivity, now)
	if req.Begin {
		s.activateLocked(now)
	}
	info := s.infoLocked()
	m.store.Put(s.id, s)

	metrics.RecordSessionCreated(string(sensitivity))
	m.logger.Info(ctx, "session created",
		logger.SessionID(s.id),
		logger.String("sensitivity", string(sensitivity)),
		logger.String("state", string(info.State)),
	)
	return info, nil
}

// Info returns the public view of a session.
func (m *Manager) Info(_ context.Context, id string) (model.SessionInfo, error) {
	s, err := m.lookup(id)
	if err != nil {
		return model.SessionInfo{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.infoLocked(), nil
}

// Begin starts monitoring without a reference. Beginning an active session is a no-op.
func (m *Manager) Begin(ctx context.Context, id string) (model.SessionInfo, error) {
	s, err := m.lookup(id)
	if err != nil {
		return model.SessionInfo{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == model.StateEnded {
		return model.SessionInfo{}, fmt.Errorf("%w: %s", ErrSessionNotActive, id)
	}
	if s.state == model.StateCreated {
		s.activateLocked(m.clock.Now())
		m.logger.Info(ctx, "monitoring started", logger.SessionID(id))
	}
	return s.infoLocked(), nil
}

// SetReference enrolls the candidate's face. The image must contain exactly
// one face. The reference is write-once; a successful call activates a
// Created session. An Active session that began without a reference may
// still enroll once; identity checks apply from that frame on.
func (m *Manager) SetReference(ctx context.Context, id string, image []byte) (model.SessionInfo, error) {
	s, err := m.lookup(id)
	if err != nil {
		return model.SessionInfo{}, err
	}

	s.mu.Lock()
	err = referenceAllowedLocked(s)
	profile := s.profile
	s.mu.Unlock()
	if err != nil {
		return model.SessionInfo{}, err
	}

	det, err := m.detect(ctx, id, image, true)
	if err != nil {
		return model.SessionInfo{}, err
	}
	count, _ := analysis.CountFaces(det.Faces, profile.FaceConfidence)
	switch {
	case count == 0:
		return model.SessionInfo{}, ErrNoFaceInReference
	case count > 1:
		return model.SessionInfo{}, fmt.Errorf("%w: %d faces", ErrMultipleFacesInReference, count)
	case len(det.Embedding) == 0:
		return model.SessionInfo{}, fmt.Errorf("%w: no embedding returned", ErrDetectorFailure)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Another enrollment may have won while detection ran.
	if err := referenceAllowedLocked(s); err != nil {
		return model.SessionInfo{}, err
	}
	s.reference = make([]float64, len(det.Embedding))
	copy(s.reference, det.Embedding)
	s.activateLocked(m.clock.Now())

	m.logger.Info(ctx, "reference enrolled",
		logger.SessionID(id),
		logger.Int("embedding_dim", len(s.reference)),
	)
	return s.infoLocked(), nil
}

func referenceAllowedLocked(s *Session) error {
	if s.state == model.StateEnded {
		return fmt.Errorf("%w: %s", ErrSessionNotActive, s.id)
	}
	if s.reference != nil {
		return ErrReferenceAlreadySet
	}
	return nil
}

// SubmitFrame analyzes one frame and applies it to the session. Detector
// failures are absorbed as frames without a usable observation.
func (m *Manager) SubmitFrame(ctx context.Context, req FrameRequest) (model.FrameResult, error) {
	start := time.Now()
	s, err := m.lookup(req.SessionID)
	if err != nil {
		return model.FrameResult{}, err
	}

	s.mu.Lock()
	if s.state != model.StateActive {
		s.mu.Unlock()
		return model.FrameResult{}, fmt.Errorf("%w: %s", ErrSessionNotActive, req.SessionID)
	}
	wantIdentity := s.identityDueLocked(req.VerifyPerson, m.identityInterval)
	reference := s.reference
	profile := s.profile
	s.mu.Unlock()

	var dedupeKey string
	if req.FrameID != "" {
		dedupeKey = dedupe.Key(req.SessionID, dedupe.ScopeFrame, req.FrameID)
		if m.deduper.SeenAndRecord(ctx, dedupeKey) {
			metrics.RecordDuplicate("frame")
			return model.FrameResult{Duplicate: true, Violations: []model.Violation{}, Alerts: []string{}}, nil
		}
	}
	forget := func() {
		if dedupeKey != "" {
			m.deduper.Unrecord(ctx, dedupeKey)
		}
	}

	var obs model.Observation
	det, err := m.detect(ctx, req.SessionID, req.Image, wantIdentity)
	switch {
	case err == nil:
		obs = analysis.Analyze(analysis.Input{
			Detection:    det,
			Profile:      profile,
			Reference:    reference,
			WantIdentity: wantIdentity,
		})
	case errors.Is(err, ErrDetectorFailure):
		metrics.RecordDetectorFailure()
		m.logger.Warn(ctx, "detector failure, frame counted without observation",
			logger.SessionID(req.SessionID),
			logger.Error(err),
		)
		obs = model.Observation{DetectorFailed: true}
	default:
		forget()
		return model.FrameResult{}, err
	}

	s.mu.Lock()
	if s.state != model.StateActive {
		// Ended while the frame was in flight; the final report is already fixed.
		s.mu.Unlock()
		forget()
		return model.FrameResult{}, fmt.Errorf("%w: %s", ErrSessionNotActive, req.SessionID)
	}
	violations := s.tracker.Observe(obs, m.clock.Now())
	m.appendAuditLocked(ctx, s, violations)
	frameNumber := s.tracker.Counters().FrameIndex
	s.mu.Unlock()

	m.announce(ctx, req.SessionID, violations)
	metrics.RecordFrameAnalyzed()
	metrics.RecordAnalysisLatency(float64(time.Since(start).Milliseconds()))
	if obs.Identity != nil {
		metrics.RecordIdentityCheck(identityOutcome(obs.Identity.Match))
	}

	return frameResult(frameNumber, obs, violations), nil
}

// SubmitEvent records one client-reported event as a violation.
func (m *Manager) SubmitEvent(ctx context.Context, req EventRequest) (model.EventResult, error) {
	kind, err := model.ParseClientEvent(req.EventType)
	if err != nil {
		return model.EventResult{}, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	s, err := m.lookup(req.SessionID)
	if err != nil {
		return model.EventResult{}, err
	}

	s.mu.Lock()
	if s.state != model.StateActive {
		s.mu.Unlock()
		return model.EventResult{}, fmt.Errorf("%w: %s", ErrSessionNotActive, req.SessionID)
	}
	if req.EventID != "" && m.deduper.SeenAndRecord(ctx, dedupe.Key(req.SessionID, dedupe.ScopeEvent, req.EventID)) {
		s.mu.Unlock()
		metrics.RecordDuplicate("event")
		return model.EventResult{Duplicate: true}, nil
	}
	v, err := s.tracker.Event(kind, m.clock.Now(), req.Detail)
	if err != nil {
		s.mu.Unlock()
		return model.EventResult{}, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	m.appendAuditLocked(ctx, s, []model.Violation{v})
	s.mu.Unlock()

	m.announce(ctx, req.SessionID, []model.Violation{v})
	return model.EventResult{Violation: &v}, nil
}

// End finalizes the session. The first call fixes the report; later calls
// return the same report.
func (m *Manager) End(ctx context.Context, id string) (model.Report, error) {
	s, err := m.lookup(id)
	if err != nil {
		return model.Report{}, err
	}

	s.mu.Lock()
	if s.state == model.StateEnded {
		r := *s.final
		s.mu.Unlock()
		return r, nil
	}
	s.state = model.StateEnded
	s.endedAt = m.clock.Now()
	report := s.reportLocked()
	s.final = &report
	rec := model.ArchiveRecord{Report: report, Violations: s.tracker.Violations()}
	s.mu.Unlock()

	metrics.RecordSessionEnded(string(report.Recommendation), report.Metrics.IntegrityScore)
	m.logger.Info(ctx, "session ended",
		logger.SessionID(id),
		logger.Float64("integrity_score", report.Metrics.IntegrityScore),
		logger.String("recommendation", string(report.Recommendation)),
		logger.Int("violations", report.TotalViolations),
	)
	if m.publisher != nil {
		m.publisher.Publish(ctx, model.Notice{Type: model.NoticeEnded, SessionID: id, Report: &report})
	}
	m.archive(ctx, rec)
	return report, nil
}

// Report computes a point-in-time report. Ended sessions return their final report.
func (m *Manager) Report(_ context.Context, id string) (model.Report, error) {
	s, err := m.lookup(id)
	if err != nil {
		return model.Report{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case model.StateCreated:
		return model.Report{}, fmt.Errorf("%w: %s", ErrSessionNotStarted, id)
	case model.StateEnded:
		return *s.final, nil
	default:
		return s.reportLocked(), nil
	}
}

// Violations returns the full violation log of a session.
func (m *Manager) Violations(_ context.Context, id string) ([]model.Violation, error) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return s.Violations(), nil
}

// Sweep evicts sessions that ended more than retention ago and returns how
// many were removed.
func (m *Manager) Sweep(ctx context.Context, retention time.Duration) int {
	cutoff := m.clock.Now().Add(-retention)
	var expired []string
	m.store.Range(func(id string, s *Session) bool {
		if ended := s.EndedAt(); !ended.IsZero() && ended.Before(cutoff) {
			expired = append(expired, id)
		}
		return true
	})
	for _, id := range expired {
		m.store.Delete(id)
	}
	if len(expired) > 0 {
		m.logger.Debug(ctx, "evicted ended sessions", logger.Int("count", len(expired)))
	}
	return len(expired)
}

// Stats counts sessions by state and refreshes the state gauges.
func (m *Manager) Stats() Stats {
	var st Stats
	m.store.Range(func(_ string, s *Session) bool {
		st.Total++
		switch s.State() {
		case model.StateCreated:
			st.Created++
		case model.StateActive:
			st.Active++
		case model.StateEnded:
			st.Ended++
		}
		return true
	})
	metrics.UpdateSessionsByState(string(model.StateCreated), st.Created)
	metrics.UpdateSessionsByState(string(model.StateActive), st.Active)
	metrics.UpdateSessionsByState(string(model.StateEnded), st.Ended)
	return st
}

// Wait blocks until in-flight archive uploads finish or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.archives.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for archives: %w", ctx.Err())
	}
}

// detect runs one image through the analysis pool and maps pool errors onto
// the session taxonomy. Only a provider error reported by a worker becomes
// ErrDetectorFailure. A frame that never reached the provider, whether it
// waited too long in the queue or the pool was closing, is ErrBusy. A gone
// caller gets its context error back.
func (m *Manager) detect(ctx context.Context, id string, image []byte, wantEmbedding bool) (model.Detection, error) {
	if len(image) == 0 {
		return model.Detection{}, fmt.Errorf("%w: empty image", ErrDecode)
	}
	if err := ctx.Err(); err != nil {
		return model.Detection{}, err
	}

	reply := make(chan model.DetectResponse, 1)
	req := model.DetectRequest{SessionID: id, Image: image, WantEmbedding: wantEmbedding, Reply: reply}
	if !m.dispatcher.Enqueue(ctx, req) {
		return model.Detection{}, m.rejected(ctx, id, "busy", ErrBusy)
	}

	wait := ctx
	if m.analysisTimeout > 0 {
		var cancel context.CancelFunc
		wait, cancel = context.WithTimeout(ctx, m.analysisTimeout)
		defer cancel()
	}
	select {
	case resp := <-reply:
		switch {
		case resp.Err == nil:
			return resp.Detection, nil
		case errors.Is(resp.Err, model.ErrImageDecode):
			return model.Detection{}, fmt.Errorf("%w: %w", ErrDecode, resp.Err)
		case errors.Is(resp.Err, model.ErrNotAnalyzed):
			return model.Detection{}, m.rejected(ctx, id, "closed", fmt.Errorf("%w: %w", ErrBusy, resp.Err))
		default:
			return model.Detection{}, fmt.Errorf("%w: %w", ErrDetectorFailure, resp.Err)
		}
	case <-wait.Done():
		if err := ctx.Err(); err != nil {
			metrics.RecordFrameRejected("canceled")
			return model.Detection{}, err
		}
		return model.Detection{}, m.rejected(ctx, id, "timeout",
			fmt.Errorf("%w: no analysis within %s", ErrBusy, m.analysisTimeout))
	}
}

func (m *Manager) rejected(ctx context.Context, id, reason string, err error) error {
	metrics.RecordFrameRejected(reason)
	m.logger.Warn(ctx, "frame not analyzed",
		logger.SessionID(id),
		logger.String("reason", reason),
	)
	return err
}

func (m *Manager) appendAuditLocked(ctx context.Context, s *Session, violations []model.Violation) {
	for _, v := range violations {
		if err := s.chain.Append(v); err != nil {
			metrics.RecordErrorByComponent("session", "audit_append")
			m.logger.Error(ctx, "audit chain append failed", logger.SessionID(s.id), logger.Error(err))
		}
	}
}

func (m *Manager) announce(ctx context.Context, id string, violations []model.Violation) {
	for i := range violations {
		v := violations[i]
		metrics.RecordViolation(string(v.Kind), string(v.Severity))
		if m.publisher != nil {
			m.publisher.Publish(ctx, model.Notice{Type: model.NoticeViolation, SessionID: id, Violation: &v})
		}
	}
}

func (m *Manager) archive(ctx context.Context, rec model.ArchiveRecord) {
	if m.archiver == nil {
		return
	}
	m.archives.Add(1)
	go func() {
		defer m.archives.Done()
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.archiveTimeout)
		defer cancel()
		if err := m.archiver.Archive(actx, rec); err != nil {
			metrics.RecordErrorByComponent("session", "archive")
			m.logger.Error(actx, "archive failed", logger.SessionID(rec.Report.SessionID), logger.Error(err))
		}
	}()
}

func identityOutcome(match bool) string {
	if match {
		return "match"
	}
	return "mismatch"
}

func frameResult(frameNumber int, obs model.Observation, violations []model.Violation) model.FrameResult {
	res := model.FrameResult{
		FrameNumber:  frameNumber,
		FaceDetected: obs.FacePresent(),
		FaceCount:    obs.FaceCount,
		FaceCentered: obs.FaceCentered,
		Gaze:         obs.Gaze,
		HeadPose:     obs.HeadPose,
		Violations:   violations,
		Alerts:       alerts(obs),
	}
	if res.Violations == nil {
		res.Violations = []model.Violation{}
	}
	if obs.Identity != nil {
		match := obs.Identity.Match
		res.PersonVerified = &match
	}
	return res
}

func alerts(obs model.Observation) []string {
	out := []string{}
	if obs.DetectorFailed {
		return out
	}
	switch {
	case obs.FaceCount == 0:
		out = append(out, AlertNoFace)
	case obs.FaceCount > 1:
		out = append(out, AlertMultipleFaces)
	case !obs.FaceCentered:
		out = append(out, AlertNotCentered)
	}
	if obs.Gaze == model.GazeLeft || obs.Gaze == model.GazeRight {
		out = append(out, AlertLookAtScreen)
	}
	if obs.HeadAway {
		out = append(out, AlertFaceCamera)
	}
	if obs.Identity != nil && !obs.Identity.Match {
		out = append(out, AlertDifferentPerson)
	}
	return out
}
