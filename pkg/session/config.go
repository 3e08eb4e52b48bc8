package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/scentsafe/go-scentsafe/pkg/fatigue"
)

// Config controls the evaluation timing, throttling and error policy of a
// session. It is copied into the controller at construction.
type Config struct {
	// Timing
	EvaluationInterval time.Duration // Time between evaluation ticks
	DetectTimeout      time.Duration // Bound on one landmark extraction
	StopTimeout        time.Duration // Bounded join of the evaluation loop on Stop

	// Frame intake
	FrameThrottle       int // Accept every Nth submitted frame
	MaxConcurrentImages int // Pending frame slots; extra frames are dropped

	// Error policy
	MaxConsecutiveErrors int           // Budget before the session fails
	ErrorBackoff         time.Duration // Extra delay after a failed tick

	// Fan-out
	SubscriberBuffer int // Per-subscriber channel capacity

	// Scoring
	Fatigue fatigue.Config
}

// DefaultConfig returns the production session configuration.
func DefaultConfig() Config {
	return Config{
		EvaluationInterval:   2 * time.Second,
		DetectTimeout:        1500 * time.Millisecond,
		StopTimeout:          3 * time.Second,
		FrameThrottle:        3,
		MaxConcurrentImages:  2,
		MaxConsecutiveErrors: 5,
		ErrorBackoff:         time.Second,
		SubscriberBuffer:     16,
		Fatigue:              fatigue.DefaultConfig(),
	}
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	var errs []error
	if c.EvaluationInterval <= 0 {
		errs = append(errs, fmt.Errorf("evaluation interval must be positive, got %v", c.EvaluationInterval))
	}
	if c.DetectTimeout <= 0 {
		errs = append(errs, fmt.Errorf("detect timeout must be positive, got %v", c.DetectTimeout))
	}
	if c.StopTimeout <= 0 {
		errs = append(errs, fmt.Errorf("stop timeout must be positive, got %v", c.StopTimeout))
	}
	if c.FrameThrottle < 1 {
		errs = append(errs, fmt.Errorf("frame throttle must be >= 1, got %d", c.FrameThrottle))
	}
	if c.MaxConcurrentImages < 1 {
		errs = append(errs, fmt.Errorf("max concurrent images must be >= 1, got %d", c.MaxConcurrentImages))
	}
	if c.MaxConsecutiveErrors < 0 {
		errs = append(errs, fmt.Errorf("max consecutive errors must be >= 0, got %d", c.MaxConsecutiveErrors))
	}
	if c.ErrorBackoff < 0 {
		errs = append(errs, fmt.Errorf("error backoff must be >= 0, got %v", c.ErrorBackoff))
	}
	if c.SubscriberBuffer < 1 {
		errs = append(errs, fmt.Errorf("subscriber buffer must be >= 1, got %d", c.SubscriberBuffer))
	}
	if err := c.Fatigue.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("fatigue: %w", err))
	}
	return errors.Join(errs...)
}
