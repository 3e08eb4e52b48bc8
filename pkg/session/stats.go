package session

import "sync/atomic"

// Stats counts controller activity across sessions.
type Stats struct {
	framesSubmitted atomic.Int64
	framesThrottled atomic.Int64
	framesDropped   atomic.Int64
	framesEvaluated atomic.Int64
	results         atomic.Int64
	noFace          atomic.Int64
	errors          atomic.Int64
	failures        atomic.Int64
	missedEvents    atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	FramesSubmitted int64 `json:"frames_submitted"`
	FramesThrottled int64 `json:"frames_throttled"`
	FramesDropped   int64 `json:"frames_dropped"`
	FramesEvaluated int64 `json:"frames_evaluated"`
	Results         int64 `json:"results"`
	NoFace          int64 `json:"no_face"`
	Errors          int64 `json:"errors"`
	Failures        int64 `json:"failures"`
	MissedEvents    int64 `json:"missed_events"`
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		FramesSubmitted: s.framesSubmitted.Load(),
		FramesThrottled: s.framesThrottled.Load(),
		FramesDropped:   s.framesDropped.Load(),
		FramesEvaluated: s.framesEvaluated.Load(),
		Results:         s.results.Load(),
		NoFace:          s.noFace.Load(),
		Errors:          s.errors.Load(),
		Failures:        s.failures.Load(),
		MissedEvents:    s.missedEvents.Load(),
	}
}
