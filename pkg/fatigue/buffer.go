package fatigue

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// RollingState is a snapshot of the session-scoped counters.
type RollingState struct {
	EARHistory []float64 `json:"-"`

	BlinkCount int `json:"blink_count"`
	YawnCount  int `json:"yawn_count"`

	ConsecutiveEARBelowThreshold int `json:"consecutive_ear_below_threshold"`
	ConsecutiveMARAboveThreshold int `json:"consecutive_mar_above_threshold"`

	LastBlinkResetTime time.Time `json:"last_blink_reset_time"`

	// Statistics over EARHistory
	SmoothedEAR float64 `json:"smoothed_ear"`
	EARStdDev   float64 `json:"ear_std_dev"`
}

// Buffer turns a stream of FrameMetrics into blink/yawn counters and
// run-length counters. It is owned by exactly one session and is not
// safe for concurrent use.
type Buffer struct {
	config Config

	// EAR ring buffer
	history []float64
	head    int // Next write position once full

	blinkCount int
	yawnCount  int
	earRun     int
	marRun     int

	lastReset time.Time
}

// NewBuffer creates a buffer whose reset window starts at now.
func NewBuffer(config Config, now time.Time) *Buffer {
	b := &Buffer{config: config}
	b.Reset(now)
	return b
}

// Reset clears all counters and history (explicit session restart).
func (b *Buffer) Reset(now time.Time) {
	b.history = make([]float64, 0, b.config.HistorySize)
	b.head = 0
	b.blinkCount = 0
	b.yawnCount = 0
	b.earRun = 0
	b.marRun = 0
	b.lastReset = now
}

// Ingest folds one frame's metrics into the rolling state.
//
// A blink is counted on the falling edge: when the eyes reopen after at
// least EARConsecutiveFrames closed frames. Yawns are counted the same way
// with MARConsecutiveFrames. Counts reset once BlinkResetWindow has elapsed
// since the last reset; a now earlier than the last reset never resets.
func (b *Buffer) Ingest(m FrameMetrics, now time.Time) {
	if now.Sub(b.lastReset) >= b.config.BlinkResetWindow {
		b.blinkCount = 0
		b.yawnCount = 0
		b.lastReset = now
	}

	b.push(m.AverageEAR)

	if b.config.EyesClosed(m) {
		b.earRun++
	} else {
		if b.earRun >= b.config.EARConsecutiveFrames {
			b.blinkCount++
		}
		b.earRun = 0
	}

	if b.config.MouthOpen(m) {
		b.marRun++
	} else {
		if b.marRun >= b.config.MARConsecutiveFrames {
			b.yawnCount++
		}
		b.marRun = 0
	}
}

func (b *Buffer) push(v float64) {
	if len(b.history) < b.config.HistorySize {
		b.history = append(b.history, v)
		return
	}
	b.history[b.head] = v
	b.head = (b.head + 1) % len(b.history)
}

// ordered returns the history oldest first.
func (b *Buffer) ordered() []float64 {
	out := make([]float64, 0, len(b.history))
	out = append(out, b.history[b.head:]...)
	out = append(out, b.history[:b.head]...)
	return out
}

// Snapshot returns a copy of the current rolling state.
func (b *Buffer) Snapshot() RollingState {
	hist := b.ordered()

	s := RollingState{
		EARHistory:                   hist,
		BlinkCount:                   b.blinkCount,
		YawnCount:                    b.yawnCount,
		ConsecutiveEARBelowThreshold: b.earRun,
		ConsecutiveMARAboveThreshold: b.marRun,
		LastBlinkResetTime:           b.lastReset,
	}

	switch len(hist) {
	case 0:
	case 1:
		s.SmoothedEAR = hist[0]
	default:
		s.SmoothedEAR, s.EARStdDev = stat.MeanStdDev(hist, nil)
	}

	return s
}

// Len returns the number of EAR samples held.
func (b *Buffer) Len() int {
	return len(b.history)
}
