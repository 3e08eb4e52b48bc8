package fatigue

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScore_EndToEndExample(t *testing.T) {
	cfg := DefaultConfig()

	s := cfg.Score(10, 2, 10.0)

	assert.InDelta(t, 40.0, s.Blink, 1e-9)
	assert.InDelta(t, 66.666666, s.Yawn, 1e-5)
	assert.InDelta(t, 66.666666, s.HeadTilt, 1e-5)
	// 10/25*100*0.4 + 2/3*100*0.3 + 10/15*100*0.3 = 16 + 20 + 20
	assert.InDelta(t, 56.0, s.Total, 1e-9)
	assert.Equal(t, Drowsiness, cfg.Band(s.Total))

	res, err := NewClassifier(cfg).Classify(
		FrameMetrics{LeftEAR: 0.3, RightEAR: 0.3, AverageEAR: 0.3, MAR: 0.3, HeadTiltDegrees: 10},
		RollingState{BlinkCount: 10, YawnCount: 2},
		t0,
	)
	require.NoError(t, err)
	assert.Equal(t, SevereFatigue, res.Level)
	assert.True(t, res.ShouldTriggerSpray)
	assert.Equal(t, "Drowsiness", res.Band.String())
}

func TestScore_MonotonicInBlinks(t *testing.T) {
	cfg := DefaultConfig()

	prev := -1.0
	for blinks := 0; blinks <= cfg.MaxBlinkCountForScoring*3; blinks++ {
		s := cfg.Score(blinks, 1, 5)
		assert.GreaterOrEqual(t, s.Total, prev, "blinks=%d", blinks)
		assert.LessOrEqual(t, s.Total, 100.0)
		if blinks > cfg.MaxBlinkCountForScoring {
			assert.Equal(t, prev, s.Total, "score should plateau past max (blinks=%d)", blinks)
		}
		prev = s.Total
	}

	assert.InDelta(t, 100.0, cfg.Score(1000, 1000, 90).Total, 1e-9)
	assert.InDelta(t, 100.0, cfg.Score(1000, 1000, -90).Total, 1e-9)
}

func TestBand(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		score float64
		want  Band
	}{
		{0, NoDrowsiness},
		{39.99, NoDrowsiness},
		{40, Warning},
		{45, Warning},
		{50, Warning},
		{50.01, Drowsiness},
		{100, Drowsiness},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, cfg.Band(tc.score), "score=%v", tc.score)
	}
}

func TestClassify_MultiIndicatorGating(t *testing.T) {
	cfg := DefaultConfig()
	c := NewClassifier(cfg)

	tests := []struct {
		name      string
		m         FrameMetrics
		state     RollingState
		wantLevel Level
		wantSpray bool
	}{
		{
			name:      "all normal",
			m:         FrameMetrics{AverageEAR: 0.3, MAR: 0.3, HeadTiltDegrees: 2},
			wantLevel: Alert,
		},
		{
			name:      "only head tilt elevated",
			m:         FrameMetrics{AverageEAR: 0.3, MAR: 0.3, HeadTiltDegrees: 30},
			wantLevel: MildFatigue,
		},
		{
			name:      "only mouth elevated and sustained",
			m:         FrameMetrics{AverageEAR: 0.3, MAR: 0.95},
			state:     RollingState{ConsecutiveMARAboveThreshold: 10},
			wantLevel: MildFatigue,
		},
		{
			name:      "only eyes elevated and sustained",
			m:         FrameMetrics{AverageEAR: 0.05, MAR: 0.3},
			state:     RollingState{ConsecutiveEARBelowThreshold: 20},
			wantLevel: MildFatigue,
		},
		{
			name:      "eyes and head tilt elevated",
			m:         FrameMetrics{AverageEAR: 0.15, MAR: 0.3, HeadTiltDegrees: -25},
			state:     RollingState{ConsecutiveEARBelowThreshold: 3},
			wantLevel: SevereFatigue,
			wantSpray: true,
		},
		{
			name:      "eyes and mouth elevated, head upright",
			m:         FrameMetrics{AverageEAR: 0.15, MAR: 0.9, HeadTiltDegrees: 3},
			state:     RollingState{ConsecutiveEARBelowThreshold: 3, ConsecutiveMARAboveThreshold: 3},
			wantLevel: ModerateFatigue,
			wantSpray: true,
		},
		{
			name:      "single frame eye and mouth spike",
			m:         FrameMetrics{AverageEAR: 0.15, MAR: 0.9, HeadTiltDegrees: 3},
			state:     RollingState{ConsecutiveEARBelowThreshold: 1, ConsecutiveMARAboveThreshold: 1},
			wantLevel: Alert,
		},
		{
			name:      "single frame eye spike with tilted head",
			m:         FrameMetrics{AverageEAR: 0.15, MAR: 0.3, HeadTiltDegrees: -25},
			state:     RollingState{ConsecutiveEARBelowThreshold: 1},
			wantLevel: MildFatigue,
		},
		{
			name:      "blink band warning",
			m:         FrameMetrics{AverageEAR: 0.3, MAR: 0.3},
			state:     RollingState{BlinkCount: 25},
			wantLevel: MildFatigue,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.m.LeftEAR, tc.m.RightEAR = tc.m.AverageEAR, tc.m.AverageEAR
			res, err := c.Classify(tc.m, tc.state, t0)
			require.NoError(t, err)
			assert.Equal(t, tc.wantLevel, res.Level)
			assert.Equal(t, tc.wantSpray, res.ShouldTriggerSpray)
			assert.Equal(t, res.Level.ShouldTriggerSpray(), res.ShouldTriggerSpray)
			assert.GreaterOrEqual(t, res.Confidence, 0.0)
			assert.LessOrEqual(t, res.Confidence, 1.0)
		})
	}
}

func TestClassify_EyeProbabilityCountsAsElevatedEAR(t *testing.T) {
	closed := 0.05
	res, err := NewClassifier(DefaultConfig()).Classify(
		FrameMetrics{LeftEAR: 0.3, RightEAR: 0.3, AverageEAR: 0.3, MAR: 0.3, HeadTiltDegrees: 22, EyeOpenProbability: &closed},
		RollingState{ConsecutiveEARBelowThreshold: 3},
		t0,
	)
	require.NoError(t, err)
	assert.True(t, res.Indicators.ElevatedEAR)
	assert.Equal(t, 2, res.Indicators.ElevatedCount())
	assert.True(t, res.ShouldTriggerSpray)
}

func TestClassify_InvalidMetrics(t *testing.T) {
	c := NewClassifier(DefaultConfig())
	bad := 1.5

	tests := []struct {
		name  string
		m     FrameMetrics
		state RollingState
	}{
		{"NaN EAR", FrameMetrics{AverageEAR: math.NaN()}, RollingState{}},
		{"infinite MAR", FrameMetrics{AverageEAR: 0.3, MAR: math.Inf(1)}, RollingState{}},
		{"negative EAR", FrameMetrics{LeftEAR: -0.1, AverageEAR: 0.3}, RollingState{}},
		{"probability out of range", FrameMetrics{AverageEAR: 0.3, EyeOpenProbability: &bad}, RollingState{}},
		{"tilt out of range", FrameMetrics{AverageEAR: 0.3, HeadTiltDegrees: 400}, RollingState{}},
		{"negative counter", FrameMetrics{AverageEAR: 0.3}, RollingState{BlinkCount: -1}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := c.Classify(tc.m, tc.state, t0)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidMetrics)
			assert.Equal(t, KindInvalidMetrics, KindOf(err))
			assert.Equal(t, DetectionResult{}, res)
		})
	}
}

func TestClassify_ConfidenceGrowsWithMargin(t *testing.T) {
	c := NewClassifier(DefaultConfig())

	prev := -1.0
	for tilt := 25.0; tilt <= 45; tilt += 5 {
		res, err := c.Classify(FrameMetrics{AverageEAR: 0.1, LeftEAR: 0.1, RightEAR: 0.1, MAR: 0.3, HeadTiltDegrees: tilt}, RollingState{ConsecutiveEARBelowThreshold: 5}, t0)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, res.Confidence, prev)
		prev = res.Confidence
	}

	alert, err := c.Classify(FrameMetrics{AverageEAR: 0.3, LeftEAR: 0.3, RightEAR: 0.3, MAR: 0.3}, RollingState{}, t0)
	require.NoError(t, err)
	assert.Equal(t, Alert, alert.Level)
	assert.Equal(t, 1.0, alert.Confidence)
}

func TestDetectionResult_JSON(t *testing.T) {
	res := DetectionResult{
		ID:                 "r1",
		Timestamp:          t0,
		Level:              ModerateFatigue,
		Band:               Warning,
		Confidence:         0.5,
		DrowsinessScore:    44,
		ShouldTriggerSpray: true,
	}

	data, err := json.Marshal(res)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"level":"moderateFatigue"`)
	assert.Contains(t, string(data), `"band":"Warning"`)

	var back DetectionResult
	require.NoError(t, json.Unmarshal(data, &back))
	if diff := cmp.Diff(res, back); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestParseLevel(t *testing.T) {
	for _, l := range []Level{Alert, MildFatigue, ModerateFatigue, SevereFatigue} {
		got, err := ParseLevel(l.String())
		require.NoError(t, err)
		assert.Equal(t, l, got)
	}
	_, err := ParseLevel("sleepy")
	assert.Error(t, err)
}

func TestEngine_SustainedClosureWithTilt(t *testing.T) {
	cfg := DefaultConfig()
	e := NewEngine(cfg, t0)

	now := t0
	var last DetectionResult
	for i := 0; i < cfg.EARConsecutiveFrames+2; i++ {
		now = now.Add(200 * time.Millisecond)
		face := testFace(1, 1, 10)
		face.Pose = &EulerAngles{Roll: 28}
		res, err := e.Process(face, now)
		require.NoError(t, err)
		last = res
	}

	assert.Equal(t, SevereFatigue, last.Level)
	assert.True(t, last.ShouldTriggerSpray)
	assert.True(t, last.Indicators.EyesClosed)
	assert.Equal(t, cfg.EARConsecutiveFrames+2, e.State().ConsecutiveEARBelowThreshold)
}

func TestEngine_SpikeNeedsDebounceToSpray(t *testing.T) {
	cfg := DefaultConfig()
	e := NewEngine(cfg, t0)
	spike := FrameMetrics{LeftEAR: 0.12, RightEAR: 0.12, AverageEAR: 0.12, MAR: 0.9, HeadTiltDegrees: 2}

	now := t0.Add(100 * time.Millisecond)
	res, err := e.ProcessMetrics(spike, now)
	require.NoError(t, err)
	assert.False(t, res.ShouldTriggerSpray)
	assert.Zero(t, res.Indicators.ElevatedCount())

	// A lone spike between normal frames never escalates.
	res, err = e.ProcessMetrics(openEyes(), now.Add(100*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, Alert, res.Level)

	for i := 1; i <= cfg.EARConsecutiveFrames; i++ {
		res, err = e.ProcessMetrics(spike, now.Add(time.Duration(i+1)*100*time.Millisecond))
		require.NoError(t, err)
	}
	assert.Equal(t, 2, res.Indicators.ElevatedCount())
	assert.Equal(t, ModerateFatigue, res.Level)
	assert.True(t, res.ShouldTriggerSpray)
}

func TestEngine_ObserveThenEvaluate(t *testing.T) {
	cfg := DefaultConfig()
	e := NewEngine(cfg, t0)

	now := t0
	var last FrameMetrics
	for _, h := range []float64{6, 1, 1, 1, 6, 1, 1, 1, 6} {
		now = now.Add(66 * time.Millisecond)
		m, err := e.Observe(testFace(h, h, 10), now)
		require.NoError(t, err)
		last = m
	}

	res, err := e.Evaluate(last, now)
	require.NoError(t, err)
	assert.Equal(t, 2, res.BlinkCount)
	assert.Equal(t, Alert, res.Level)

	_, err = e.Observe(&Face{}, now)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, 2, e.State().BlinkCount)
}

func TestEngine_InvalidMetricsDoNotTouchState(t *testing.T) {
	e := NewEngine(DefaultConfig(), t0)

	_, err := e.ProcessMetrics(FrameMetrics{AverageEAR: math.NaN()}, t0.Add(time.Second))
	assert.ErrorIs(t, err, ErrInvalidMetrics)
	assert.Empty(t, e.State().EARHistory)

	_, err = e.Process(&Face{}, t0.Add(2*time.Second))
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Empty(t, e.State().EARHistory)
}
