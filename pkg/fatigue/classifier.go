package fatigue

import (
	"math"
	"time"
)

// Score computes the weighted composite drowsiness score.
// Each sub-score is normalised to 0-100 before weighting, so the total is 0-100.
func (c Config) Score(blinkCount, yawnCount int, headTiltDegrees float64) ScoreBreakdown {
	blink := clamp(float64(blinkCount)/float64(c.MaxBlinkCountForScoring), 0, 1) * 100
	yawn := clamp(float64(yawnCount)/float64(c.MaxYawnCountForScoring), 0, 1) * 100
	tilt := clamp(math.Abs(headTiltDegrees)/c.HeadTiltThresholdDegrees, 0, 1) * 100

	return ScoreBreakdown{
		Blink:    blink,
		Yawn:     yawn,
		HeadTilt: tilt,
		Total:    blink*c.BlinkWeight + yawn*c.YawnWeight + tilt*c.HeadTiltWeight,
	}
}

// Band maps a composite score onto No Drowsiness / Warning / Drowsiness.
func (c Config) Band(score float64) Band {
	switch {
	case score > c.DrowsinessScore:
		return Drowsiness
	case score >= c.WarningScore:
		return Warning
	default:
		return NoDrowsiness
	}
}

// Indicators evaluates the per-indicator thresholds for a frame.
// Eye and mouth indicators only count once their run-length counter has
// reached the debounce length; the elevated ones additionally need the
// current frame past the stricter threshold. Head pose has no counter.
func (c Config) Indicators(m FrameMetrics, s RollingState) Indicators {
	tilt := math.Abs(m.HeadTiltDegrees)
	eyesClosed := s.ConsecutiveEARBelowThreshold >= c.EARConsecutiveFrames
	yawning := s.ConsecutiveMARAboveThreshold >= c.MARConsecutiveFrames

	ind := Indicators{
		EyesClosed: eyesClosed,
		Yawning:    yawning,
		HeadTilted: tilt >= c.HeadTiltThresholdDegrees,

		ElevatedEAR:      eyesClosed && m.AverageEAR < c.MultiIndicatorEAR,
		ElevatedMAR:      yawning && m.MAR > c.MultiIndicatorMAR,
		ElevatedHeadTilt: tilt > c.MultiIndicatorHeadTilt,
	}
	if p := m.EyeOpenProbability; eyesClosed && p != nil && *p < c.EyeOpenProbabilityThreshold {
		ind.ElevatedEAR = true
	}
	return ind
}

// Classifier turns metrics and rolling counters into a DetectionResult.
// It holds no mutable state.
type Classifier struct {
	config Config
}

// NewClassifier creates a classifier with the given configuration.
func NewClassifier(config Config) *Classifier {
	return &Classifier{config: config}
}

// Config returns the classifier configuration.
func (c *Classifier) Config() Config {
	return c.config
}

// Classify scores one tick.
//
// The level is the higher of two readings:
//   - the score band: Warning gives mild, Drowsiness gives severe;
//   - the indicators: any debounced indicator gives mild. Only when at least
//     MinIndicators elevated indicators agree does it rise to moderate, and
//     to severe if the head is also tilted.
//
// With the default weights no single sub-score can exceed DrowsinessScore
// on its own (max 40 of 50), so the band never sprays on one signal either.
func (c *Classifier) Classify(m FrameMetrics, s RollingState, now time.Time) (DetectionResult, error) {
	if err := m.Validate(); err != nil {
		return DetectionResult{}, err
	}
	if s.BlinkCount < 0 || s.YawnCount < 0 ||
		s.ConsecutiveEARBelowThreshold < 0 || s.ConsecutiveMARAboveThreshold < 0 {
		return DetectionResult{}, invalidMetrics("negative rolling counter")
	}

	score := c.config.Score(s.BlinkCount, s.YawnCount, m.HeadTiltDegrees)
	band := c.config.Band(score.Total)
	ind := c.config.Indicators(m, s)

	level := max(bandLevel(band), c.indicatorLevel(ind))

	return DetectionResult{
		Timestamp:          now,
		Level:              level,
		Band:               band,
		Confidence:         c.confidence(level, score, m, ind),
		Metrics:            m,
		BlinkCount:         s.BlinkCount,
		YawnCount:          s.YawnCount,
		DrowsinessScore:    score.Total,
		Score:              score,
		SmoothedEAR:        s.SmoothedEAR,
		Indicators:         ind,
		ShouldTriggerSpray: level.ShouldTriggerSpray(),
	}, nil
}

func bandLevel(b Band) Level {
	switch b {
	case Drowsiness:
		return SevereFatigue
	case Warning:
		return MildFatigue
	default:
		return Alert
	}
}

func (c *Classifier) indicatorLevel(ind Indicators) Level {
	level := Alert
	if ind.EyesClosed || ind.Yawning || ind.HeadTilted {
		level = MildFatigue
	}
	if ind.ElevatedCount() >= c.config.MinIndicators {
		level = ModerateFatigue
		if ind.HeadTilted {
			level = SevereFatigue
		}
	}
	return level
}

// confidence grows with the margin past threshold of the dominant signal.
// For alert it is the remaining distance to the Warning band.
func (c *Classifier) confidence(level Level, score ScoreBreakdown, m FrameMetrics, ind Indicators) float64 {
	cfg := c.config
	if level == Alert {
		return clamp(1-score.Total/cfg.WarningScore, 0, 1)
	}

	best := score.Total / cfg.DrowsinessScore

	if ind.EyesClosed || ind.ElevatedEAR {
		best = math.Max(best, (cfg.EARThreshold-m.AverageEAR)/cfg.EARThreshold)
		if p := m.EyeOpenProbability; p != nil && cfg.EyeOpenProbabilityThreshold > 0 {
			best = math.Max(best, (cfg.EyeOpenProbabilityThreshold-*p)/cfg.EyeOpenProbabilityThreshold)
		}
	}
	if ind.Yawning || ind.ElevatedMAR {
		best = math.Max(best, (m.MAR-cfg.MARThreshold)/cfg.MARThreshold)
	}
	if ind.HeadTilted {
		tilt := math.Abs(m.HeadTiltDegrees)
		best = math.Max(best, (tilt-cfg.HeadTiltThresholdDegrees)/cfg.HeadTiltThresholdDegrees)
	}

	return clamp(best, 0, 1)
}

func clamp(value, lo, hi float64) float64 {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}
