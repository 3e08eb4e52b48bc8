package fatigue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func openEyes() FrameMetrics { return FrameMetrics{AverageEAR: 0.30, LeftEAR: 0.30, RightEAR: 0.30, MAR: 0.3} }
func closedEyes() FrameMetrics { return FrameMetrics{AverageEAR: 0.10, LeftEAR: 0.10, RightEAR: 0.10, MAR: 0.3} }
func yawning() FrameMetrics { return FrameMetrics{AverageEAR: 0.30, LeftEAR: 0.30, RightEAR: 0.30, MAR: 0.9} }

func feed(b *Buffer, start time.Time, frames ...FrameMetrics) time.Time {
	now := start
	for _, m := range frames {
		now = now.Add(100 * time.Millisecond)
		b.Ingest(m, now)
	}
	return now
}

func repeat(m FrameMetrics, n int) []FrameMetrics {
	out := make([]FrameMetrics, n)
	for i := range out {
		out[i] = m
	}
	return out
}

func TestBuffer_BlinkCountedOnFallingEdge(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name       string
		closed     int
		wantBlinks int
	}{
		{"exactly minimum", cfg.EARConsecutiveFrames, 1},
		{"one short of minimum", cfg.EARConsecutiveFrames - 1, 0},
		{"long closure", cfg.EARConsecutiveFrames * 5, 1},
		{"single frame noise", 1, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := NewBuffer(cfg, t0)
			frames := append([]FrameMetrics{openEyes()}, repeat(closedEyes(), tc.closed)...)
			frames = append(frames, openEyes())
			feed(b, t0, frames...)

			s := b.Snapshot()
			assert.Equal(t, tc.wantBlinks, s.BlinkCount)
			assert.Zero(t, s.ConsecutiveEARBelowThreshold)
		})
	}
}

func TestBuffer_ClosureInProgressNotCounted(t *testing.T) {
	b := NewBuffer(DefaultConfig(), t0)
	feed(b, t0, repeat(closedEyes(), 7)...)

	s := b.Snapshot()
	assert.Zero(t, s.BlinkCount)
	assert.Equal(t, 7, s.ConsecutiveEARBelowThreshold)
}

func TestBuffer_YawnCountedOnRelease(t *testing.T) {
	cfg := DefaultConfig()
	b := NewBuffer(cfg, t0)

	frames := repeat(yawning(), cfg.MARConsecutiveFrames)
	frames = append(frames, openEyes())
	frames = append(frames, repeat(yawning(), cfg.MARConsecutiveFrames-1)...)
	frames = append(frames, openEyes())
	feed(b, t0, frames...)

	s := b.Snapshot()
	assert.Equal(t, 1, s.YawnCount)
	assert.Zero(t, s.ConsecutiveMARAboveThreshold)
}

func TestBuffer_HistoryBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistorySize = 5
	b := NewBuffer(cfg, t0)

	now := t0
	for i := 1; i <= 8; i++ {
		now = now.Add(time.Millisecond)
		b.Ingest(FrameMetrics{AverageEAR: float64(i) / 10, MAR: 0.3}, now)
	}

	assert.Equal(t, 5, b.Len())
	s := b.Snapshot()
	assert.InDeltaSlice(t, []float64{0.4, 0.5, 0.6, 0.7, 0.8}, s.EARHistory, 1e-12)
	assert.InDelta(t, 0.6, s.SmoothedEAR, 1e-12)
	assert.Greater(t, s.EARStdDev, 0.0)
}

func TestBuffer_WindowReset(t *testing.T) {
	cfg := DefaultConfig()
	b := NewBuffer(cfg, t0)

	blink := append(repeat(closedEyes(), cfg.EARConsecutiveFrames), openEyes())
	now := feed(b, t0, blink...)
	now = feed(b, now, blink...)
	require.Equal(t, 2, b.Snapshot().BlinkCount)

	// Repeated ingests inside the window leave the reset time alone.
	for i := 0; i < 10; i++ {
		now = now.Add(time.Second)
		b.Ingest(openEyes(), now)
		assert.Equal(t, t0, b.Snapshot().LastBlinkResetTime)
	}
	assert.Equal(t, 2, b.Snapshot().BlinkCount)

	boundary := t0.Add(cfg.BlinkResetWindow)
	b.Ingest(openEyes(), boundary)
	s := b.Snapshot()
	assert.Zero(t, s.BlinkCount)
	assert.Zero(t, s.YawnCount)
	assert.Equal(t, boundary, s.LastBlinkResetTime)

	// Next blink counts into the new window; no second reset.
	feed(b, boundary, blink...)
	s = b.Snapshot()
	assert.Equal(t, 1, s.BlinkCount)
	assert.Equal(t, boundary, s.LastBlinkResetTime)
}

func TestBuffer_NonMonotonicTimeDoesNotReset(t *testing.T) {
	cfg := DefaultConfig()
	b := NewBuffer(cfg, t0)

	feed(b, t0, append(repeat(closedEyes(), cfg.EARConsecutiveFrames), openEyes())...)
	b.Ingest(openEyes(), t0.Add(-time.Hour))

	s := b.Snapshot()
	assert.Equal(t, 1, s.BlinkCount)
	assert.Equal(t, t0, s.LastBlinkResetTime)
}

func TestBuffer_HybridEyeClosedDecision(t *testing.T) {
	cfg := DefaultConfig()
	p := func(v float64) *float64 { return &v }

	tests := []struct {
		name   string
		m      FrameMetrics
		closed bool
	}{
		{"geometry only, open", FrameMetrics{AverageEAR: 0.30}, false},
		{"geometry only, closed", FrameMetrics{AverageEAR: 0.24}, true},
		{"classifier says closed", FrameMetrics{AverageEAR: 0.30, EyeOpenProbability: p(0.1)}, true},
		{"classifier open, EAR in fallback margin", FrameMetrics{AverageEAR: 0.22, EyeOpenProbability: p(0.9)}, false},
		{"classifier open, EAR clearly low", FrameMetrics{AverageEAR: 0.18, EyeOpenProbability: p(0.9)}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.closed, cfg.EyesClosed(tc.m))
		})
	}
}

func TestBuffer_Reset(t *testing.T) {
	cfg := DefaultConfig()
	b := NewBuffer(cfg, t0)
	feed(b, t0, append(repeat(closedEyes(), 4), openEyes())...)

	later := t0.Add(time.Minute * 5)
	b.Reset(later)

	s := b.Snapshot()
	assert.Zero(t, s.BlinkCount)
	assert.Empty(t, s.EARHistory)
	assert.Zero(t, s.SmoothedEAR)
	assert.Equal(t, later, s.LastBlinkResetTime)
}
