// Package session runs detection sessions: every accepted frame is folded
// into the rolling fatigue state as it arrives, a result is classified on a
// fixed interval, and ordered events go to any number of subscribers.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/scentsafe/go-scentsafe/pkg/camera"
	"github.com/scentsafe/go-scentsafe/pkg/fatigue"
	"github.com/scentsafe/go-scentsafe/pkg/landmarks"
)

// Sentinel errors for lifecycle misuse.
var (
	ErrNotRunning     = errors.New("session: not running")
	ErrAlreadyRunning = errors.New("session: already running")
	ErrSessionFailed  = errors.New("session: failed, reset required")
)

// State is the controller lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopped
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Resource is a device the session needs while running, typically the camera.
// Open may block until the device is ready. Close must be idempotent.
type Resource interface {
	Open(ctx context.Context) error
	Close() error
}

// Option configures a Controller.
type Option func(*Controller)

// WithResource sets the resource opened on Start and closed on Stop.
func WithResource(r Resource) Option {
	return func(c *Controller) { c.resource = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// Status is a snapshot of the controller for display.
type Status struct {
	State             State         `json:"state"`
	SessionID         string        `json:"session_id,omitempty"`
	StartedAt         time.Time     `json:"started_at,omitzero"`
	ConsecutiveErrors int           `json:"consecutive_errors"`
	LastError         string        `json:"last_error,omitempty"`
	Stats             StatsSnapshot `json:"stats"`
}

// run is the per-session state. The ingest worker is the only goroutine
// that feeds engine; the evaluation loop only reads it.
type run struct {
	id      string
	started time.Time
	frames  chan camera.Frame
	cancel  context.CancelFunc
	done    chan struct{}
	release func() error

	mu      sync.Mutex // Guards engine and pending
	engine  *fatigue.Engine
	pending interval
}

// interval is what the ingest worker saw since the last evaluation.
// The latest face or no-face observation wins; errors only matter when
// nothing else was seen.
type interval struct {
	frames  int
	metrics *fatigue.FrameMetrics
	noFace  bool
	err     error
}

// Controller owns at most one running session at a time.
type Controller struct {
	config   Config
	detector landmarks.Detector
	resource Resource
	logger   *slog.Logger
	now      func() time.Time

	lifecycle sync.Mutex // Serializes Start, Stop and Reset

	mu          sync.Mutex // Guards the fields below and all publication
	state       State
	current     *run
	consecutive int
	lastErr     error
	lastTS      time.Time

	frameSeq atomic.Uint64
	broker   *broker
	stats    Stats
}

// New creates a controller. The detector is required.
func New(config Config, detector landmarks.Detector, opts ...Option) (*Controller, error) {
	if detector == nil {
		return nil, errors.New("session: detector required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("session: invalid config: %w", err)
	}

	c := &Controller{
		config:   config,
		detector: detector,
		logger:   slog.Default(),
		now:      time.Now,
		broker:   newBroker(config.SubscriberBuffer),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "session")
	return c, nil
}

// Config returns the controller configuration.
func (c *Controller) Config() Config {
	return c.config
}

// Subscribe registers a consumer for one session. Subscribing while no
// session runs attaches to the next session.
func (c *Controller) Subscribe() *Subscription {
	return c.broker.subscribe(false)
}

// Watch registers a consumer that follows every session until Close.
// Each session's events begin with EventStarted and end with a terminal
// event; the channel stays open in between.
func (c *Controller) Watch() *Subscription {
	return c.broker.subscribe(true)
}

// Subscribers returns the number of attached subscriptions.
func (c *Controller) Subscribers() int {
	return c.broker.count()
}

// State returns the lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stats returns the activity counters.
func (c *Controller) Stats() StatsSnapshot {
	return c.stats.Snapshot()
}

// Status returns a snapshot of the controller.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		State:             c.state,
		ConsecutiveErrors: c.consecutive,
		Stats:             c.stats.Snapshot(),
	}
	if c.current != nil {
		st.SessionID = c.current.id
		st.StartedAt = c.current.started
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	return st
}

// Start opens the resource and begins periodic evaluation. It returns the
// new session ID.
func (c *Controller) Start(ctx context.Context) (string, error) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	switch c.State() {
	case StateRunning:
		return "", ErrAlreadyRunning
	case StateFailed:
		return "", ErrSessionFailed
	}

	release := func() error { return nil }
	if c.resource != nil {
		if err := c.resource.Open(ctx); err != nil {
			return "", fmt.Errorf("open resource: %w", err)
		}
		release = sync.OnceValue(c.resource.Close)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{
		id:      uuid.NewString(),
		engine:  fatigue.NewEngine(c.config.Fatigue, c.now()),
		frames:  make(chan camera.Frame, c.config.MaxConcurrentImages),
		cancel:  cancel,
		done:    make(chan struct{}),
		release: release,
	}

	c.mu.Lock()
	c.state = StateRunning
	c.current = r
	c.consecutive = 0
	c.lastErr = nil
	r.started = c.nextTimestamp()
	c.publish(Event{Kind: EventStarted, SessionID: r.id, Timestamp: r.started})
	c.mu.Unlock()
	c.frameSeq.Store(0)

	go c.loop(runCtx, r)

	c.logger.Info("session started", "session", r.id, "interval", c.config.EvaluationInterval)
	return r.id, nil
}

// Stop ends the running session. No event is published after Stop returns.
// Calling Stop when no session is running is a no-op.
func (c *Controller) Stop() error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return nil
	}
	r := c.current
	c.state = StateStopped
	c.broker.finish(Event{Kind: EventStopped, SessionID: r.id, Timestamp: c.nextTimestamp()})
	c.mu.Unlock()

	r.cancel()
	c.join(r)

	c.logger.Info("session stopped", "session", r.id)
	if err := r.release(); err != nil {
		return fmt.Errorf("close resource: %w", err)
	}
	return nil
}

// Reset returns a stopped or failed controller to idle.
func (c *Controller) Reset() error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	if c.state == StateRunning {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	r := c.current
	c.state = StateIdle
	c.current = nil
	c.consecutive = 0
	c.lastErr = nil
	c.mu.Unlock()

	if r != nil {
		c.join(r)
	}
	return nil
}

// join waits for the evaluation loop, bounded by StopTimeout.
func (c *Controller) join(r *run) {
	select {
	case <-r.done:
	case <-time.After(c.config.StopTimeout):
		c.logger.Warn("evaluation loop did not exit in time", "session", r.id, "timeout", c.config.StopTimeout)
	}
}

// SubmitFrame offers a frame to the session. Only every FrameThrottle-th
// frame is accepted, and accepted frames are dropped when all
// MaxConcurrentImages slots wait for the detector. It reports whether the
// frame was queued.
func (c *Controller) SubmitFrame(frame camera.Frame) (bool, error) {
	if err := frame.Validate(); err != nil {
		return false, fmt.Errorf("submit frame: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateRunning:
	case StateFailed:
		return false, ErrSessionFailed
	default:
		return false, ErrNotRunning
	}

	c.stats.framesSubmitted.Add(1)
	if (c.frameSeq.Add(1)-1)%uint64(c.config.FrameThrottle) != 0 {
		c.stats.framesThrottled.Add(1)
		return false, nil
	}

	select {
	case c.current.frames <- frame:
		return true, nil
	default:
		c.stats.framesDropped.Add(1)
		return false, nil
	}
}

type tickOutcome int

const (
	tickSkipped tickOutcome = iota
	tickOK
	tickError
	tickFatal
)

func (c *Controller) loop(ctx context.Context, r *run) {
	defer close(r.done)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.ingest(ctx, r)
	}()

	fatal := c.evaluate(ctx, r)
	r.cancel()
	wg.Wait()

	if fatal {
		if err := r.release(); err != nil {
			c.logger.Warn("close resource", "session", r.id, "err", err)
		}
	}
}

// evaluate ticks until ctx is done or the session fails. It reports
// whether the session failed.
func (c *Controller) evaluate(ctx context.Context, r *run) bool {
	timer := time.NewTimer(c.config.EvaluationInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
		}

		outcome := c.tick(r)
		if outcome == tickFatal {
			return true
		}
		timer.Reset(c.delayAfter(outcome))
	}
}

// delayAfter is the wait before the next tick. An error tick adds ErrorBackoff.
func (c *Controller) delayAfter(o tickOutcome) time.Duration {
	if o == tickError {
		return c.config.EvaluationInterval + c.config.ErrorBackoff
	}
	return c.config.EvaluationInterval
}

// ingest runs landmark detection on every queued frame and folds the
// result into the rolling state.
func (c *Controller) ingest(ctx context.Context, r *run) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-r.frames:
			c.observe(ctx, r, frame)
		}
	}
}

func (c *Controller) observe(ctx context.Context, r *run, frame camera.Frame) {
	detectCtx, cancel := context.WithTimeout(ctx, c.config.DetectTimeout)
	face, err := c.detector.Detect(detectCtx, frame)
	cancel()
	if ctx.Err() != nil {
		return
	}

	at := frame.Timestamp
	if at.IsZero() {
		at = c.now()
	}

	r.mu.Lock()
	p := &r.pending
	p.frames++
	switch {
	case err != nil:
		p.err = fatigue.NewSessionError("detect landmarks", err)
	case face == nil:
		p.metrics, p.noFace = nil, true
	default:
		m, err := r.engine.Observe(face, at)
		if err != nil {
			p.err = err
		} else {
			p.metrics, p.noFace = &m, false
		}
	}
	r.mu.Unlock()

	c.stats.framesEvaluated.Add(1)
}

// tick publishes one event for the frames ingested since the last tick.
func (c *Controller) tick(r *run) tickOutcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRunning || c.current != r {
		return tickSkipped
	}

	r.mu.Lock()
	p := r.pending
	r.pending = interval{}
	if p.frames == 0 {
		r.mu.Unlock()
		return tickSkipped
	}
	ts := c.nextTimestamp()
	var (
		res fatigue.DetectionResult
		err error
	)
	if p.metrics != nil {
		res, err = r.engine.Evaluate(*p.metrics, ts)
	}
	r.mu.Unlock()

	switch {
	case p.metrics != nil:
		if err != nil {
			return c.tickFailedLocked(r, ts, err)
		}
	case p.noFace:
		c.consecutive = 0
		c.stats.noFace.Add(1)
		c.publish(Event{Kind: EventNoFace, SessionID: r.id, Timestamp: ts})
		return tickOK
	default:
		return c.tickFailedLocked(r, ts, p.err)
	}

	res.ID = uuid.NewString()
	res.SessionID = r.id

	c.consecutive = 0
	c.stats.results.Add(1)
	c.publish(resultEvent(res))

	c.logger.Debug("detection", "session", r.id, "level", res.Level, "score", res.DrowsinessScore, "blinks", res.BlinkCount, "spray", res.ShouldTriggerSpray)
	return tickOK
}

// tickFailedLocked records a per-tick error and fails the session once
// the budget is exceeded. c.mu must be held.
func (c *Controller) tickFailedLocked(r *run, ts time.Time, err error) tickOutcome {
	c.consecutive++
	c.lastErr = err
	c.stats.errors.Add(1)

	if c.consecutive <= c.config.MaxConsecutiveErrors {
		c.logger.Warn("evaluation failed", "session", r.id, "consecutive", c.consecutive, "err", err)
		c.publish(errorEvent(EventError, r.id, ts, err))
		return tickError
	}

	failure := fatigue.NewSessionFailure(c.consecutive, err)
	c.lastErr = failure
	c.state = StateFailed
	c.stats.failures.Add(1)
	c.broker.finish(errorEvent(EventFailed, r.id, ts, failure))
	r.cancel()

	c.logger.Error("session failed", "session", r.id, "err", failure)
	return tickFatal
}

// publish fans out a non-terminal event. c.mu must be held.
func (c *Controller) publish(ev Event) {
	if missed := c.broker.publish(ev); missed > 0 {
		c.stats.missedEvents.Add(int64(missed))
	}
}

// nextTimestamp returns a time strictly after the last published one.
// c.mu must be held.
func (c *Controller) nextTimestamp() time.Time {
	ts := c.now()
	if !ts.After(c.lastTS) {
		ts = c.lastTS.Add(time.Nanosecond)
	}
	c.lastTS = ts
	return ts
}
