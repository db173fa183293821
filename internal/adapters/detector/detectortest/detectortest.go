// Package detectortest provides a scripted Detection Provider and builders
// for synthetic detections and frames.
package detectortest

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"sync"

	"github.com/okian/proctor/internal/domain/analysis"
	"github.com/okian/proctor/internal/domain/model"
)

// Default synthetic frame geometry.
const (
	Width  = 640
	Height = 480

	// faceDistance places the canonical face model at a webcam-like scale.
	faceDistance = 3000
	eyeY         = 200
)

type step struct {
	det model.Detection
	err error
}

// Scripted replays queued detections in order. When the script runs out it
// returns the fallback. Safe for concurrent use.
type Scripted struct {
	mu       sync.Mutex
	steps    []step
	fallback step
	calls    int
	frames   []model.Frame
}

// NewScripted creates a provider whose fallback is a frontal, centered face.
func NewScripted() *Scripted {
	return &Scripted{fallback: step{det: Frontal()}}
}

// Push queues detections.
func (s *Scripted) Push(dets ...model.Detection) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range dets {
		s.steps = append(s.steps, step{det: d})
	}
	return s
}

// PushN queues the same detection n times.
func (s *Scripted) PushN(n int, det model.Detection) *Scripted {
	for i := 0; i < n; i++ {
		s.Push(det)
	}
	return s
}

// PushError queues a failing call.
func (s *Scripted) PushError(err error) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, step{err: err})
	return s
}

// SetFallback sets what is returned once the script is exhausted.
func (s *Scripted) SetFallback(det model.Detection) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = step{det: det}
	return s
}

// Detect implements model.DetectionProvider. The embedding is dropped unless requested.
func (s *Scripted) Detect(ctx context.Context, frame model.Frame, wantEmbedding bool) (model.Detection, error) {
	if err := ctx.Err(); err != nil {
		return model.Detection{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	s.frames = append(s.frames, frame)
	next := s.fallback
	if len(s.steps) > 0 {
		next = s.steps[0]
		s.steps = s.steps[1:]
	}
	if next.err != nil {
		return model.Detection{}, next.err
	}
	det := next.det
	if !wantEmbedding {
		det.Embedding = nil
	}
	return det, nil
}

// Calls is the number of Detect invocations.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Frames returns the frames passed to Detect.
func (s *Scripted) Frames() []model.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Frame, len(s.frames))
	copy(out, s.frames)
	return out
}

// Option shapes a synthetic detection.
type Option func(*model.Detection)

// WithPose renders the pose landmarks at the given orientation.
func WithPose(yaw, pitch float64) Option {
	return func(d *model.Detection) {
		if d.Landmarks != nil {
			d.Landmarks.Pose = analysis.ProjectPose(model.HeadPose{Yaw: yaw, Pitch: pitch}, d.Width, d.Height, faceDistance)
		}
	}
}

// WithGaze places both irises at ratio across their eyes.
func WithGaze(ratio float64) Option {
	return func(d *model.Detection) {
		if d.Landmarks != nil {
			d.Landmarks.LeftEye = eye(260, 300, ratio)
			d.Landmarks.RightEye = eye(340, 380, ratio)
		}
	}
}

// WithEmbedding attaches the primary face embedding.
func WithEmbedding(v []float64) Option {
	return func(d *model.Detection) {
		d.Embedding = append([]float64(nil), v...)
	}
}

// WithConfidence sets the confidence of every face.
func WithConfidence(c float64) Option {
	return func(d *model.Detection) {
		for i := range d.Faces {
			d.Faces[i].Confidence = c
		}
	}
}

// WithBox moves the primary face box.
func WithBox(b model.Box) Option {
	return func(d *model.Detection) {
		if len(d.Faces) > 0 {
			d.Faces[0].Box = b
		}
	}
}

// Frontal is one centered face looking straight at the camera.
func Frontal(opts ...Option) model.Detection {
	return Faces(1, opts...)
}

// Faces is n confident faces with landmarks for the first.
func Faces(n int, opts ...Option) model.Detection {
	d := model.Detection{Width: Width, Height: Height}
	for i := 0; i < n; i++ {
		box := model.Box{X: 0.35, Y: 0.25, W: 0.3, H: 0.4}
		if i > 0 {
			box = model.Box{X: 0.02 + 0.1*float64(i%5), Y: 0.05, W: 0.15, H: 0.2}
		}
		d.Faces = append(d.Faces, model.Face{Box: box, Confidence: 0.95})
	}
	if n > 0 {
		d.Landmarks = &model.Landmarks{
			Pose:     analysis.ProjectPose(model.HeadPose{}, Width, Height, faceDistance),
			LeftEye:  eye(260, 300, 0.5),
			RightEye: eye(340, 380, 0.5),
		}
	}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

// NoFace is an empty detection.
func NoFace() model.Detection {
	return model.Detection{Width: Width, Height: Height}
}

// Embedding returns a unit vector whose cosine similarity with
// ReferenceEmbedding is similarity.
func Embedding(similarity float64) []float64 {
	v := make([]float64, 8)
	v[0] = similarity
	rest := 1 - similarity*similarity
	if rest > 0 {
		v[1] = math.Sqrt(rest)
	}
	return v
}

// ReferenceEmbedding is the vector Embedding(s) is measured against.
func ReferenceEmbedding() []float64 {
	v := make([]float64, 8)
	v[0] = 1
	return v
}

func eye(leftX, rightX, ratio float64) model.Eye {
	return model.Eye{
		Inner: model.Point{X: rightX, Y: eyeY},
		Outer: model.Point{X: leftX, Y: eyeY},
		Iris:  model.Point{X: leftX + (rightX-leftX)*ratio, Y: eyeY},
	}
}

// JPEG encodes a small flat gray image that Decode accepts.
func JPEG() []byte {
	img := image.NewGray(image.Rect(0, 0, 64, 48))
	for i := range img.Pix {
		img.Pix[i] = 128
	}
	img.SetGray(10, 10, color.Gray{Y: 30})
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 75}); err != nil {
		panic("detectortest: jpeg encode: " + err.Error())
	}
	return buf.Bytes()
}
