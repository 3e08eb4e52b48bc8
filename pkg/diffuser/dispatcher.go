package diffuser

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/scentsafe/go-scentsafe/pkg/session"
)

// Sprayer fires the actuator.
type Sprayer interface {
	Spray(ctx context.Context) error
}

// Source yields a subscription that follows every session.
type Source interface {
	Watch() *session.Subscription
}

// Dispatcher turns spray signals into actuator bursts, at most one per
// Cooldown. Actuator failures are logged and never reported back.
type Dispatcher struct {
	sprayer  Sprayer
	cooldown time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	lastSpray time.Time
	fired     int
	skipped   int
	failed    int
}

// DispatcherStats counts dispatcher decisions.
type DispatcherStats struct {
	Fired     int       `json:"fired"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
	LastSpray time.Time `json:"last_spray,omitzero"`
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(sprayer Sprayer, cooldown time.Duration, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		sprayer:  sprayer,
		cooldown: cooldown,
		timeout:  5 * time.Second,
		logger:   logger.With("component", "diffuser.dispatcher"),
		now:      time.Now,
	}
}

// Run dispatches spray signals from every session until ctx is done.
func (d *Dispatcher) Run(ctx context.Context, src Source) error {
	sub := src.Watch()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.C:
			if !ok {
				return nil
			}
			d.Handle(ctx, ev)
		}
	}
}

// Handle fires the actuator for a result that asks for it, unless the
// cooldown since the last burst has not elapsed. It reports whether it fired.
func (d *Dispatcher) Handle(ctx context.Context, ev session.Event) bool {
	if ev.Kind != session.EventResult || ev.Result == nil || !ev.Result.ShouldTriggerSpray {
		return false
	}

	d.mu.Lock()
	now := d.now()
	if !d.lastSpray.IsZero() && now.Sub(d.lastSpray) < d.cooldown {
		d.skipped++
		d.mu.Unlock()
		return false
	}
	d.lastSpray = now
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.sprayer.Spray(ctx); err != nil {
		d.mu.Lock()
		d.failed++
		d.mu.Unlock()
		d.logger.Warn("spray failed", "session", ev.SessionID, "level", ev.Result.Level, "err", err)
		return false
	}

	d.mu.Lock()
	d.fired++
	d.mu.Unlock()
	d.logger.Info("spray triggered", "session", ev.SessionID, "level", ev.Result.Level, "score", ev.Result.DrowsinessScore)
	return true
}

// Stats returns the dispatcher counters.
func (d *Dispatcher) Stats() DispatcherStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return DispatcherStats{Fired: d.fired, Skipped: d.skipped, Failed: d.failed, LastSpray: d.lastSpray}
}
