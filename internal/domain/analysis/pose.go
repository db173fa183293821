package analysis

import (
	"errors"
	"math"

	"github.com/okian/proctor/internal/domain/model"
)

// ErrDegeneratePose is returned when the landmarks cannot constrain a pose.
var ErrDegeneratePose = errors.New("degenerate head pose landmarks")

const (
	poseIterations = 100
	poseTolerance  = 1e-10
	poseEpsilon    = 1e-12
	radToDeg       = 180 / math.Pi
)

type vec3 [3]float64

func (a vec3) dot(b vec3) float64 { return a[0]*b[0] + a[1]*b[1] + a[2]*b[2] }

func (a vec3) cross(b vec3) vec3 {
	return vec3{a[1]*b[2] - a[2]*b[1], a[2]*b[0] - a[0]*b[2], a[0]*b[1] - a[1]*b[0]}
}

func (a vec3) norm() float64 { return math.Sqrt(a.dot(a)) }

func (a vec3) scale(s float64) vec3 { return vec3{a[0] * s, a[1] * s, a[2] * s} }

// faceModel is the canonical 3D face in model units, y up, z towards the
// camera, indexed like model.Landmarks.Pose.
var faceModel = [model.PosePoints]vec3{
	model.PoseNose:       {0, 0, 0},
	model.PoseChin:       {0, -330, -65},
	model.PoseLeftEye:    {-225, 170, -135},
	model.PoseRightEye:   {225, 170, -135},
	model.PoseLeftMouth:  {-150, -150, -125},
	model.PoseRightMouth: {150, -150, -125},
}

// objectPinv holds the pseudo-inverse of the model vectors relative to the
// nose, computed once.
var objectPinv = func() [3][model.PosePoints - 1]float64 {
	var ata [3][3]float64
	for i := 1; i < model.PosePoints; i++ {
		a := faceModel[i]
		for p := 0; p < 3; p++ {
			for q := 0; q < 3; q++ {
				ata[p][q] += a[p] * a[q]
			}
		}
	}
	inv, ok := invert3(ata)
	if !ok {
		panic("analysis: face model is coplanar")
	}
	var b [3][model.PosePoints - 1]float64
	for i := 1; i < model.PosePoints; i++ {
		for p := 0; p < 3; p++ {
			for q := 0; q < 3; q++ {
				b[p][i-1] += inv[p][q] * faceModel[i][q]
			}
		}
	}
	return b
}()

// EstimateHeadPose solves the 2D-3D correspondence between the six pose
// landmarks and faceModel with POSIT, assuming a pinhole camera whose focal
// length equals the frame width and whose principal point is the frame
// center. Angles are relative to a head squarely facing the camera.
func EstimateHeadPose(pts [model.PosePoints]model.Point, width, height int) (model.HeadPose, error) {
	if width <= 0 || height <= 0 {
		return model.HeadPose{}, ErrDegeneratePose
	}
	focal := float64(width)
	cx, cy := float64(width)/2, float64(height)/2

	var u, v [model.PosePoints]float64
	for i, p := range pts {
		u[i] = p.X - cx
		v[i] = p.Y - cy
	}

	const m = model.PosePoints - 1
	var (
		eps    [m]float64
		iv, jv vec3
		kv     vec3
	)
	for iter := 0; iter < poseIterations; iter++ {
		var xp, yp [m]float64
		for i := 0; i < m; i++ {
			xp[i] = u[i+1]*(1+eps[i]) - u[0]
			yp[i] = v[i+1]*(1+eps[i]) - v[0]
		}
		var bigI, bigJ vec3
		for p := 0; p < 3; p++ {
			for i := 0; i < m; i++ {
				bigI[p] += objectPinv[p][i] * xp[i]
				bigJ[p] += objectPinv[p][i] * yp[i]
			}
		}
		s1, s2 := bigI.norm(), bigJ.norm()
		if s1 < poseEpsilon || s2 < poseEpsilon {
			return model.HeadPose{}, ErrDegeneratePose
		}
		iv = bigI.scale(1 / s1)
		jv = bigJ.scale(1 / s2)
		kv = iv.cross(jv)
		kn := kv.norm()
		if kn < poseEpsilon {
			return model.HeadPose{}, ErrDegeneratePose
		}
		kv = kv.scale(1 / kn)
		z0 := focal / ((s1 + s2) / 2)

		var delta float64
		for i := 0; i < m; i++ {
			next := faceModel[i+1].dot(kv) / z0
			delta = math.Max(delta, math.Abs(next-eps[i]))
			eps[i] = next
		}
		if delta < poseTolerance {
			break
		}
	}
	jv = kv.cross(iv)

	// Rows of the camera rotation are iv, jv, kv. Flipping y and z expresses
	// it relative to the frontal pose so a camera-facing head is identity.
	r := [3]vec3{iv, jv.scale(-1), kv.scale(-1)}
	pitch := math.Atan2(r[2][1], r[2][2])
	yaw := math.Atan2(-r[2][0], math.Hypot(r[0][0], r[1][0]))
	roll := math.Atan2(r[1][0], r[0][0])
	return model.HeadPose{Yaw: yaw * radToDeg, Pitch: pitch * radToDeg, Roll: roll * radToDeg}, nil
}

// IsTurnedAway reports whether yaw or pitch exceeds limit degrees.
func IsTurnedAway(p model.HeadPose, limit float64) bool {
	return math.Abs(p.Yaw) > limit || math.Abs(p.Pitch) > limit
}

func invert3(m [3][3]float64) ([3][3]float64, bool) {
	var inv [3][3]float64
	det := m[0][0]*(m[1][1]*m[2][2]-m[1][2]*m[2][1]) -
		m[0][1]*(m[1][0]*m[2][2]-m[1][2]*m[2][0]) +
		m[0][2]*(m[1][0]*m[2][1]-m[1][1]*m[2][0])
	if math.Abs(det) < poseEpsilon {
		return inv, false
	}
	inv[0][0] = (m[1][1]*m[2][2] - m[1][2]*m[2][1]) / det
	inv[0][1] = (m[0][2]*m[2][1] - m[0][1]*m[2][2]) / det
	inv[0][2] = (m[0][1]*m[1][2] - m[0][2]*m[1][1]) / det
	inv[1][0] = (m[1][2]*m[2][0] - m[1][0]*m[2][2]) / det
	inv[1][1] = (m[0][0]*m[2][2] - m[0][2]*m[2][0]) / det
	inv[1][2] = (m[0][2]*m[1][0] - m[0][0]*m[1][2]) / det
	inv[2][0] = (m[1][0]*m[2][1] - m[1][1]*m[2][0]) / det
	inv[2][1] = (m[0][1]*m[2][0] - m[0][0]*m[2][1]) / det
	inv[2][2] = (m[0][0]*m[1][1] - m[0][1]*m[1][0]) / det
	return inv, true
}

// ProjectPose renders the canonical face at the given orientation, with the
// nose distance model units in front of the camera, onto a width x height
// frame using the same camera model as EstimateHeadPose.
func ProjectPose(p model.HeadPose, width, height int, distance float64) [model.PosePoints]model.Point {
	a, b, g := p.Pitch/radToDeg, p.Yaw/radToDeg, p.Roll/radToDeg
	ca, sa := math.Cos(a), math.Sin(a)
	cb, sb := math.Cos(b), math.Sin(b)
	cg, sg := math.Cos(g), math.Sin(g)
	// Rz(roll) * Ry(yaw) * Rx(pitch)
	rel := [3]vec3{
		{cg * cb, cg*sb*sa - sg*ca, cg*sb*ca + sg*sa},
		{sg * cb, sg*sb*sa + cg*ca, sg*sb*ca - cg*sa},
		{-sb, cb * sa, cb * ca},
	}
	cam := [3]vec3{rel[0], rel[1].scale(-1), rel[2].scale(-1)}

	focal := float64(width)
	cx, cy := float64(width)/2, float64(height)/2
	var out [model.PosePoints]model.Point
	for i, mp := range faceModel {
		x := cam[0].dot(mp)
		y := cam[1].dot(mp)
		z := cam[2].dot(mp) + distance
		out[i] = model.Point{X: focal*x/z + cx, Y: focal*y/z + cy}
	}
	return out
}
