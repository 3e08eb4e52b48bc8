package fatigue

import (
	"errors"
	"fmt"
	"time"
)

// Config holds all tunable parameters for fatigue scoring.
// A Config is passed by value and never mutated after construction.
type Config struct {
	// Eye aspect ratio
	EARThreshold         float64 // Eyes count as closed below this EAR
	EARConsecutiveFrames int     // Frames below threshold before a closure counts as a blink
	EARFallbackThreshold float64 // Margin subtracted from EARThreshold in hybrid mode

	// Mouth aspect ratio
	MARThreshold         float64 // Mouth counts as open above this MAR
	MARConsecutiveFrames int     // Frames above threshold before an opening counts as a yawn

	// Head pose
	HeadTiltThresholdDegrees float64 // |tilt| at or above this is "tilted"

	// External eye classifier
	EyeOpenProbabilityThreshold float64 // Eyes closed if open probability is below this

	// Rolling window
	HistorySize      int           // Max EAR samples kept
	BlinkResetWindow time.Duration // Blink/yawn counts reset after this long

	// Composite score
	MaxBlinkCountForScoring int
	MaxYawnCountForScoring  int
	BlinkWeight             float64
	YawnWeight              float64
	HeadTiltWeight          float64

	// Score bands (0-100)
	WarningScore    float64 // score >= this is "Warning"
	DrowsinessScore float64 // score > this is "Drowsiness"

	// Multi-indicator thresholds (stricter than the base thresholds)
	MultiIndicatorEAR      float64
	MultiIndicatorMAR      float64
	MultiIndicatorHeadTilt float64
	MinIndicators          int // Elevated indicators required to escalate past mild
}

// DefaultConfig returns the production scoring configuration.
func DefaultConfig() Config {
	return Config{
		EARThreshold:         0.25,
		EARConsecutiveFrames: 3,
		EARFallbackThreshold: 0.05,

		MARThreshold:         0.6,
		MARConsecutiveFrames: 3,

		HeadTiltThresholdDegrees: 15.0,

		EyeOpenProbabilityThreshold: 0.3,

		HistorySize:      100,
		BlinkResetWindow: 60 * time.Second,

		MaxBlinkCountForScoring: 25,
		MaxYawnCountForScoring:  3,
		BlinkWeight:             0.4,
		YawnWeight:              0.3,
		HeadTiltWeight:          0.3,

		WarningScore:    40,
		DrowsinessScore: 50,

		MultiIndicatorEAR:      0.2,
		MultiIndicatorMAR:      0.7,
		MultiIndicatorHeadTilt: 20.0,
		MinIndicators:          2,
	}
}

// SensitiveConfig reacts earlier: shorter debounce and lower thresholds.
// Useful for night driving or long trips.
func SensitiveConfig() Config {
	cfg := DefaultConfig()
	cfg.EARThreshold = 0.27
	cfg.EARConsecutiveFrames = 2
	cfg.MARThreshold = 0.55
	cfg.MARConsecutiveFrames = 2
	cfg.HeadTiltThresholdDegrees = 12.0
	cfg.MaxBlinkCountForScoring = 20
	cfg.MultiIndicatorHeadTilt = 16.0
	return cfg
}

// RelaxedConfig trades latency for fewer false positives.
func RelaxedConfig() Config {
	cfg := DefaultConfig()
	cfg.EARThreshold = 0.22
	cfg.EARConsecutiveFrames = 5
	cfg.MARThreshold = 0.7
	cfg.MARConsecutiveFrames = 5
	cfg.HeadTiltThresholdDegrees = 20.0
	cfg.MultiIndicatorEAR = 0.18
	cfg.MultiIndicatorMAR = 0.8
	cfg.MultiIndicatorHeadTilt = 25.0
	return cfg
}

// Preset returns a named configuration ("default", "sensitive", "relaxed").
func Preset(name string) (Config, error) {
	switch name {
	case "", "default":
		return DefaultConfig(), nil
	case "sensitive":
		return SensitiveConfig(), nil
	case "relaxed":
		return RelaxedConfig(), nil
	default:
		return Config{}, fmt.Errorf("unknown fatigue preset %q", name)
	}
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	var errs []error

	if c.EARThreshold <= 0 || c.EARThreshold >= 1 {
		errs = append(errs, fmt.Errorf("EARThreshold must be in (0,1), got %v", c.EARThreshold))
	}
	if c.EARFallbackThreshold < 0 || c.EARFallbackThreshold >= c.EARThreshold {
		errs = append(errs, fmt.Errorf("EARFallbackThreshold must be in [0,EARThreshold), got %v", c.EARFallbackThreshold))
	}
	if c.MARThreshold <= 0 {
		errs = append(errs, fmt.Errorf("MARThreshold must be positive, got %v", c.MARThreshold))
	}
	if c.EARConsecutiveFrames < 1 || c.MARConsecutiveFrames < 1 {
		errs = append(errs, errors.New("consecutive frame minimums must be at least 1"))
	}
	if c.HeadTiltThresholdDegrees <= 0 {
		errs = append(errs, fmt.Errorf("HeadTiltThresholdDegrees must be positive, got %v", c.HeadTiltThresholdDegrees))
	}
	if c.EyeOpenProbabilityThreshold < 0 || c.EyeOpenProbabilityThreshold > 1 {
		errs = append(errs, fmt.Errorf("EyeOpenProbabilityThreshold must be in [0,1], got %v", c.EyeOpenProbabilityThreshold))
	}
	if c.HistorySize < 1 {
		errs = append(errs, fmt.Errorf("HistorySize must be at least 1, got %d", c.HistorySize))
	}
	if c.BlinkResetWindow <= 0 {
		errs = append(errs, fmt.Errorf("BlinkResetWindow must be positive, got %v", c.BlinkResetWindow))
	}
	if c.MaxBlinkCountForScoring < 1 || c.MaxYawnCountForScoring < 1 {
		errs = append(errs, errors.New("max counts for scoring must be at least 1"))
	}
	if sum := c.BlinkWeight + c.YawnWeight + c.HeadTiltWeight; sum < 0.999 || sum > 1.001 {
		errs = append(errs, fmt.Errorf("scoring weights must sum to 1.0, got %v", sum))
	}
	if c.BlinkWeight < 0 || c.YawnWeight < 0 || c.HeadTiltWeight < 0 {
		errs = append(errs, errors.New("scoring weights must not be negative"))
	}
	if c.WarningScore <= 0 || c.DrowsinessScore < c.WarningScore || c.DrowsinessScore >= 100 {
		errs = append(errs, fmt.Errorf("score bands must satisfy 0 < warning <= drowsiness < 100, got %v/%v", c.WarningScore, c.DrowsinessScore))
	}
	if c.MultiIndicatorEAR > c.EARThreshold {
		errs = append(errs, fmt.Errorf("MultiIndicatorEAR (%v) must not exceed EARThreshold (%v)", c.MultiIndicatorEAR, c.EARThreshold))
	}
	if c.MultiIndicatorMAR < c.MARThreshold {
		errs = append(errs, fmt.Errorf("MultiIndicatorMAR (%v) must not be below MARThreshold (%v)", c.MultiIndicatorMAR, c.MARThreshold))
	}
	if c.MultiIndicatorHeadTilt < c.HeadTiltThresholdDegrees {
		errs = append(errs, fmt.Errorf("MultiIndicatorHeadTilt (%v) must not be below HeadTiltThresholdDegrees (%v)", c.MultiIndicatorHeadTilt, c.HeadTiltThresholdDegrees))
	}
	if c.MinIndicators < 2 || c.MinIndicators > 3 {
		errs = append(errs, fmt.Errorf("MinIndicators must be 2 or 3, got %d", c.MinIndicators))
	}

	return errors.Join(errs...)
}
