package fatigue

import (
	"math"
)

// Landmark point counts expected from the vision collaborator.
const (
	EyePointCount   = 6
	MouthPointCount = 12
)

// Point is a 2D landmark coordinate in image pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// EulerAngles is a head pose in degrees.
// Roll is positive when the head tilts toward the driver's right shoulder.
type EulerAngles struct {
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
	Roll  float64 `json:"roll"`
}

// Face is the landmark set for one detected face.
//
// Eye points are ordered p0 outer corner, p1 and p2 along the upper lid,
// p3 inner corner, p4 and p5 along the lower lid (p1 faces p5, p2 faces p4).
// Mouth points run p0 left corner, p1..p5 upper lip left to right,
// p6 right corner, p7..p11 lower lip right to left.
type Face struct {
	LeftEye  []Point      `json:"left_eye"`
	RightEye []Point      `json:"right_eye"`
	Mouth    []Point      `json:"mouth"`
	Pose     *EulerAngles `json:"pose,omitempty"`

	LeftEyeOpenProbability  *float64 `json:"left_eye_open_probability,omitempty"`
	RightEyeOpenProbability *float64 `json:"right_eye_open_probability,omitempty"`
}

func distance(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

func checkPoints(name string, points []Point, want int) error {
	if len(points) < want {
		return invalidInput("%s: need %d points, got %d", name, want, len(points))
	}
	for i, p := range points[:want] {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
			return invalidInput("%s: point %d is not finite", name, i)
		}
	}
	return nil
}

// ComputeEAR returns the eye aspect ratio of a 6-point eye contour:
// (|p1-p5| + |p2-p4|) / (2 * |p0-p3|).
func ComputeEAR(points []Point) (float64, error) {
	if err := checkPoints("eye", points, EyePointCount); err != nil {
		return 0, err
	}

	width := distance(points[0], points[3])
	if width == 0 {
		return 0, invalidInput("eye: zero width")
	}

	a := distance(points[1], points[5])
	b := distance(points[2], points[4])

	return (a + b) / (2.0 * width), nil
}

// ComputeMAR returns the mouth aspect ratio of a 12-point outer lip contour:
// the mean of three vertical openings divided by the corner-to-corner width.
func ComputeMAR(points []Point) (float64, error) {
	if err := checkPoints("mouth", points, MouthPointCount); err != nil {
		return 0, err
	}

	width := distance(points[0], points[6])
	if width == 0 {
		return 0, invalidInput("mouth: zero width")
	}

	a := distance(points[2], points[10])
	b := distance(points[3], points[9])
	c := distance(points[4], points[8])

	return (a + b + c) / (3.0 * width), nil
}

// HeadTilt returns the signed head tilt in degrees (positive = right tilt).
// The pose roll is used when available; otherwise the angle of the line
// between the two eye centres.
func HeadTilt(pose *EulerAngles, leftEye, rightEye []Point) float64 {
	if pose != nil && !math.IsNaN(pose.Roll) {
		return pose.Roll
	}
	if len(leftEye) == 0 || len(rightEye) == 0 {
		return 0
	}

	l := centroid(leftEye)
	r := centroid(rightEye)

	// Left eye is on the image right for a front camera; orient the
	// vector from the right eye to the left eye so level eyes give 0.
	dx := l.X - r.X
	dy := l.Y - r.Y
	if dx == 0 && dy == 0 {
		return 0
	}
	if dx < 0 {
		dx, dy = -dx, -dy
	}
	return math.Atan2(dy, dx) * 180 / math.Pi
}

func centroid(points []Point) Point {
	var c Point
	for _, p := range points {
		c.X += p.X
		c.Y += p.Y
	}
	n := float64(len(points))
	return Point{X: c.X / n, Y: c.Y / n}
}

// MetricsFromFace derives the per-frame metrics for one face.
// Each eye is measured from its own point set.
func MetricsFromFace(face *Face) (FrameMetrics, error) {
	if face == nil {
		return FrameMetrics{}, invalidInput("no face")
	}

	left, err := ComputeEAR(face.LeftEye)
	if err != nil {
		return FrameMetrics{}, err
	}
	right, err := ComputeEAR(face.RightEye)
	if err != nil {
		return FrameMetrics{}, err
	}
	mar, err := ComputeMAR(face.Mouth)
	if err != nil {
		return FrameMetrics{}, err
	}

	return FrameMetrics{
		LeftEAR:            left,
		RightEAR:           right,
		AverageEAR:         (left + right) / 2,
		MAR:                mar,
		HeadTiltDegrees:    HeadTilt(face.Pose, face.LeftEye, face.RightEye),
		EyeOpenProbability: combineProbabilities(face.LeftEyeOpenProbability, face.RightEyeOpenProbability),
	}, nil
}

// combineProbabilities averages the available per-eye probabilities.
func combineProbabilities(left, right *float64) *float64 {
	var sum float64
	var n int
	for _, p := range []*float64{left, right} {
		if p != nil && !math.IsNaN(*p) {
			sum += *p
			n++
		}
	}
	if n == 0 {
		return nil
	}
	avg := sum / float64(n)
	return &avg
}
