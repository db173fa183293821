// Package tracker converts per-frame signals and client events into discrete
// violations. A Tracker is not safe for concurrent use; the owning session
// serializes access.
package tracker

import (
	"errors"
	"fmt"
	"time"

	"github.com/okian/proctor/internal/domain/model"
)

// ErrNotClientEvent is returned when Event is given a frame-derived kind.
var ErrNotClientEvent = errors.New("kind is not a client event")

// Counters is a snapshot of the rolling state.
type Counters struct {
	FramesSeen             int `json:"frames_seen"`
	FramesWithFace         int `json:"frames_with_face"`
	FrameIndex             int `json:"frame_index"`
	ConsecutiveNoFace      int `json:"consecutive_no_face"`
	ConsecutiveLookingAway int `json:"consecutive_looking_away"`
	ConsecutiveHeadAway    int `json:"consecutive_head_away"`
}

// debounce emits once when a run of hits reaches the threshold and stays
// silent until the run is cleared.
type debounce struct {
	count   int
	latched bool
}

func (d *debounce) hit(threshold int) bool {
	d.count++
	if d.count >= threshold && !d.latched {
		d.latched = true
		return true
	}
	return false
}

func (d *debounce) clear() {
	d.count = 0
	d.latched = false
}

// Tracker holds one session's counters and its append-only violation log.
type Tracker struct {
	profile        model.Profile
	framesSeen     int
	framesWithFace int
	frameIndex     int
	noFace         debounce
	lookingAway    debounce
	headAway       debounce
	violations     []model.Violation
}

// New creates a Tracker using profile's thresholds.
func New(profile model.Profile) *Tracker {
	return &Tracker{profile: profile}
}

// Observe applies one frame's observation and returns the violations it
// produced, already appended to the log.
func (t *Tracker) Observe(obs model.Observation, at time.Time) []model.Violation {
	t.framesSeen++
	t.frameIndex++
	frame := t.frameIndex

	var out []model.Violation
	emit := func(k model.Kind, confidence float64, detail string) {
		v := model.NewViolation(k, at, detail)
		v.FrameNumber = frame
		v.Confidence = confidence
		out = append(out, t.append(v))
	}

	if obs.DetectorFailed {
		// A failed frame is a faceless frame; nothing else is known about it.
		if t.noFace.hit(t.profile.NoFaceFrames) {
			emit(model.KindNoFace, 0, fmt.Sprintf("no usable detection for %d consecutive frames", t.noFace.count))
		}
		return out
	}

	if obs.FacePresent() {
		t.framesWithFace++
		t.noFace.clear()
	} else if t.noFace.hit(t.profile.NoFaceFrames) {
		emit(model.KindNoFace, 0, fmt.Sprintf("no face for %d consecutive frames", t.noFace.count))
	}

	if obs.FaceCount >= 2 {
		emit(model.KindMultipleFaces, obs.PrimaryConfidence, fmt.Sprintf("%d faces detected", obs.FaceCount))
	}

	if obs.Gaze != model.GazeUnknown {
		if obs.Gaze != model.GazeCenter {
			if t.lookingAway.hit(model.LookingAwayFrames) {
				emit(model.KindLookingAway, 0, fmt.Sprintf("gaze %s for %d consecutive frames (ratio=%.2f)",
					obs.Gaze, t.lookingAway.count, obs.GazeRatio))
			}
		} else {
			t.lookingAway.clear()
		}
	}

	if obs.HeadPose != nil {
		if obs.HeadAway {
			if t.headAway.hit(t.profile.HeadPoseFrames) {
				emit(model.KindHeadTurnedAway, 0, fmt.Sprintf("yaw=%.1f pitch=%.1f for %d consecutive frames",
					obs.HeadPose.Yaw, obs.HeadPose.Pitch, t.headAway.count))
			}
		} else {
			t.headAway.clear()
		}
	}

	if obs.Identity != nil && !obs.Identity.Match {
		emit(model.KindDifferentPerson, obs.Identity.Similarity,
			fmt.Sprintf("face does not match reference (similarity=%.3f)", obs.Identity.Similarity))
	}
	return out
}

// Event records one client-reported event as a violation.
func (t *Tracker) Event(k model.Kind, at time.Time, detail string) (model.Violation, error) {
	if !k.ClientReported() {
		return model.Violation{}, fmt.Errorf("%w: %s", ErrNotClientEvent, k)
	}
	if detail == "" {
		detail = string(k) + " reported by client"
	}
	return t.append(model.NewViolation(k, at, detail)), nil
}

func (t *Tracker) append(v model.Violation) model.Violation {
	v.Sequence = len(t.violations) + 1
	t.violations = append(t.violations, v)
	return v
}

// NextFrame is the index the next observed frame will receive.
func (t *Tracker) NextFrame() int {
	return t.frameIndex + 1
}

// Counters returns the current rolling state.
func (t *Tracker) Counters() Counters {
	return Counters{
		FramesSeen:             t.framesSeen,
		FramesWithFace:         t.framesWithFace,
		FrameIndex:             t.frameIndex,
		ConsecutiveNoFace:      t.noFace.count,
		ConsecutiveLookingAway: t.lookingAway.count,
		ConsecutiveHeadAway:    t.headAway.count,
	}
}

// Violations returns a copy of the log in detection order.
func (t *Tracker) Violations() []model.Violation {
	out := make([]model.Violation, len(t.violations))
	copy(out, t.violations)
	return out
}

// Len is the number of violations recorded.
func (t *Tracker) Len() int {
	return len(t.violations)
}
