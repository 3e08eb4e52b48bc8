package fatigue

import (
	"fmt"
	"time"
)

// Level is the four-step drowsiness level reported to consumers.
type Level int

const (
	Alert Level = iota
	MildFatigue
	ModerateFatigue
	SevereFatigue
)

var levelNames = [...]string{"alert", "mildFatigue", "moderateFatigue", "severeFatigue"}

// String returns the level name.
func (l Level) String() string {
	if l < Alert || l > SevereFatigue {
		return fmt.Sprintf("Level(%d)", int(l))
	}
	return levelNames[l]
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	if l < Alert || l > SevereFatigue {
		return nil, fmt.Errorf("invalid level %d", int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(text []byte) error {
	lvl, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = lvl
	return nil
}

// ParseLevel parses a level name.
func ParseLevel(s string) (Level, error) {
	for i, name := range levelNames {
		if name == s {
			return Level(i), nil
		}
	}
	return Alert, fmt.Errorf("unknown level %q", s)
}

// ShouldTriggerSpray is true for moderate and severe fatigue.
func (l Level) ShouldTriggerSpray() bool {
	return l >= ModerateFatigue
}

// Band is the three-way classification of the composite score.
type Band int

const (
	NoDrowsiness Band = iota
	Warning
	Drowsiness
)

var bandNames = [...]string{"No Drowsiness", "Warning", "Drowsiness"}

// String returns the display label of the band.
func (b Band) String() string {
	if b < NoDrowsiness || b > Drowsiness {
		return fmt.Sprintf("Band(%d)", int(b))
	}
	return bandNames[b]
}

// MarshalText implements encoding.TextMarshaler.
func (b Band) MarshalText() ([]byte, error) {
	if b < NoDrowsiness || b > Drowsiness {
		return nil, fmt.Errorf("invalid band %d", int(b))
	}
	return []byte(b.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *Band) UnmarshalText(text []byte) error {
	for i, name := range bandNames {
		if name == string(text) {
			*b = Band(i)
			return nil
		}
	}
	return fmt.Errorf("unknown band %q", string(text))
}

// ScoreBreakdown holds the weighted composite and its sub-scores (each 0-100).
type ScoreBreakdown struct {
	Blink    float64 `json:"blink"`
	Yawn     float64 `json:"yawn"`
	HeadTilt float64 `json:"head_tilt"`
	Total    float64 `json:"total"`
}

// Indicators records which per-indicator thresholds the frame crossed.
type Indicators struct {
	// Debounced base thresholds
	EyesClosed bool `json:"eyes_closed"`
	Yawning    bool `json:"yawning"`
	HeadTilted bool `json:"head_tilted"`

	// Elevated multi-indicator thresholds
	ElevatedEAR      bool `json:"elevated_ear"`
	ElevatedMAR      bool `json:"elevated_mar"`
	ElevatedHeadTilt bool `json:"elevated_head_tilt"`
}

// ElevatedCount returns how many indicators crossed their elevated threshold.
func (i Indicators) ElevatedCount() int {
	n := 0
	for _, v := range []bool{i.ElevatedEAR, i.ElevatedMAR, i.ElevatedHeadTilt} {
		if v {
			n++
		}
	}
	return n
}

// DetectionResult is the immutable output of one evaluation tick.
type DetectionResult struct {
	ID        string    `json:"id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	Level      Level   `json:"level"`
	Band       Band    `json:"band"`
	Confidence float64 `json:"confidence"`

	Metrics         FrameMetrics   `json:"metrics"`
	BlinkCount      int            `json:"blink_count"`
	YawnCount       int            `json:"yawn_count"`
	DrowsinessScore float64        `json:"drowsiness_score"`
	Score           ScoreBreakdown `json:"score"`
	SmoothedEAR     float64        `json:"smoothed_ear"`
	Indicators      Indicators     `json:"indicators"`

	ShouldTriggerSpray bool `json:"should_trigger_spray"`
}
