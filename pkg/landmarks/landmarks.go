// Package landmarks is the vision collaborator contract: given a frame it
// returns zero or one face with eye, mouth and pose landmarks.
//
// Landmark extraction itself runs elsewhere (an on-device ML library or a
// sidecar service); this package only carries its numeric output.
package landmarks

import (
	"context"
	"math"

	"github.com/scentsafe/go-scentsafe/pkg/camera"
	"github.com/scentsafe/go-scentsafe/pkg/fatigue"
)

// Detector extracts facial landmarks from a frame.
// A nil face with a nil error means no face was found.
type Detector interface {
	Detect(ctx context.Context, frame camera.Frame) (*fatigue.Face, error)

	// Close releases resources
	Close() error
}

// SelectDriver picks the driver's face when several are visible: the face
// with the widest eye span, i.e. the one closest to the camera.
func SelectDriver(faces []fatigue.Face) *fatigue.Face {
	if len(faces) == 0 {
		return nil
	}
	if len(faces) == 1 {
		return &faces[0]
	}

	best := -1.0
	var driver *fatigue.Face
	for i := range faces {
		span := eyeSpan(&faces[i])
		if span > best {
			best = span
			driver = &faces[i]
		}
	}
	return driver
}

// eyeSpan is the distance between the outer eye corners, 0 if unknown.
func eyeSpan(f *fatigue.Face) float64 {
	if len(f.LeftEye) == 0 || len(f.RightEye) == 0 {
		return 0
	}
	l, r := f.LeftEye[0], f.RightEye[0]
	return math.Hypot(l.X-r.X, l.Y-r.Y)
}
