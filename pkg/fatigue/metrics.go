package fatigue

import "math"

// FrameMetrics are the geometric measurements derived from one evaluated frame.
type FrameMetrics struct {
	LeftEAR         float64 `json:"left_ear"`
	RightEAR        float64 `json:"right_ear"`
	AverageEAR      float64 `json:"average_ear"`
	MAR             float64 `json:"mar"`
	HeadTiltDegrees float64 `json:"head_tilt_degrees"`

	// EyeOpenProbability is nil when no classifier output was available.
	EyeOpenProbability *float64 `json:"eye_open_probability,omitempty"`
}

// Validate rejects metrics the classifier cannot score.
func (m FrameMetrics) Validate() error {
	fields := []struct {
		name string
		v    float64
	}{
		{"left_ear", m.LeftEAR},
		{"right_ear", m.RightEAR},
		{"average_ear", m.AverageEAR},
		{"mar", m.MAR},
		{"head_tilt_degrees", m.HeadTiltDegrees},
	}
	for _, f := range fields {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return invalidMetrics("%s is not finite", f.name)
		}
	}

	if m.LeftEAR < 0 || m.RightEAR < 0 || m.AverageEAR < 0 {
		return invalidMetrics("negative eye aspect ratio")
	}
	if m.MAR < 0 {
		return invalidMetrics("negative mouth aspect ratio")
	}
	if math.Abs(m.HeadTiltDegrees) > 180 {
		return invalidMetrics("head tilt %.1f out of range", m.HeadTiltDegrees)
	}
	if p := m.EyeOpenProbability; p != nil {
		if math.IsNaN(*p) || *p < 0 || *p > 1 {
			return invalidMetrics("eye open probability %v out of [0,1]", *p)
		}
	}
	return nil
}

// EyesClosed is the hybrid eye-closed decision.
//
// Without a classifier probability the decision is pure geometry
// (AverageEAR < EARThreshold). With one, eyes are closed if the classifier
// says so or the EAR is clearly low (below EARThreshold - EARFallbackThreshold).
func (c Config) EyesClosed(m FrameMetrics) bool {
	if m.EyeOpenProbability == nil {
		return m.AverageEAR < c.EARThreshold
	}
	return *m.EyeOpenProbability < c.EyeOpenProbabilityThreshold ||
		m.AverageEAR < c.EARThreshold-c.EARFallbackThreshold
}

// MouthOpen reports whether the mouth is open past MARThreshold.
func (c Config) MouthOpen(m FrameMetrics) bool {
	return m.MAR > c.MARThreshold
}
