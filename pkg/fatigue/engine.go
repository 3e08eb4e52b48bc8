// Package fatigue scores driver drowsiness from facial landmark geometry.
//
// The pipeline is: landmarks -> FrameMetrics (geometry.go) -> Buffer
// (blink/yawn counters) -> Classifier (level, confidence, spray signal).
// Engine wires the three together for a single session.
package fatigue

import "time"

// Engine runs the metric, smoothing and classification steps for one session.
// It is not safe for concurrent use.
type Engine struct {
	config     Config
	buffer     *Buffer
	classifier *Classifier
}

// NewEngine creates an engine whose counters start at now.
func NewEngine(config Config, now time.Time) *Engine {
	return &Engine{
		config:     config,
		buffer:     NewBuffer(config, now),
		classifier: NewClassifier(config),
	}
}

// Process scores one detected face.
func (e *Engine) Process(face *Face, now time.Time) (DetectionResult, error) {
	m, err := e.Observe(face, now)
	if err != nil {
		return DetectionResult{}, err
	}
	return e.Evaluate(m, now)
}

// ProcessMetrics scores precomputed metrics. Invalid metrics are rejected
// before they reach the rolling state.
func (e *Engine) ProcessMetrics(m FrameMetrics, now time.Time) (DetectionResult, error) {
	if err := e.ingest(m, now); err != nil {
		return DetectionResult{}, err
	}
	return e.Evaluate(m, now)
}

// Observe folds one detected face into the rolling state without
// classifying it. Call it for every frame; call Evaluate when a result
// is due.
func (e *Engine) Observe(face *Face, now time.Time) (FrameMetrics, error) {
	m, err := MetricsFromFace(face)
	if err != nil {
		return FrameMetrics{}, err
	}
	if err := e.ingest(m, now); err != nil {
		return FrameMetrics{}, err
	}
	return m, nil
}

// Evaluate classifies m against the current rolling state.
func (e *Engine) Evaluate(m FrameMetrics, now time.Time) (DetectionResult, error) {
	return e.classifier.Classify(m, e.buffer.Snapshot(), now)
}

func (e *Engine) ingest(m FrameMetrics, now time.Time) error {
	if err := m.Validate(); err != nil {
		return err
	}
	e.buffer.Ingest(m, now)
	return nil
}

// State returns a snapshot of the rolling counters.
func (e *Engine) State() RollingState {
	return e.buffer.Snapshot()
}

// Reset clears the rolling state.
func (e *Engine) Reset(now time.Time) {
	e.buffer.Reset(now)
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.config
}
