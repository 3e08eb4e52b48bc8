package history

import (
	"context"
	"log/slog"
	"time"

	"github.com/scentsafe/go-scentsafe/pkg/session"
)

// Source yields a subscription that follows every session.
type Source interface {
	Watch() *session.Subscription
}

// Recorder writes session events to a Store from its own goroutine, so
// persistence never holds up evaluation. Write failures are logged and dropped.
type Recorder struct {
	store        *Store
	logger       *slog.Logger
	writeTimeout time.Duration
}

// NewRecorder creates a recorder for store.
func NewRecorder(store *Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		store:        store,
		logger:       logger.With("component", "history.recorder"),
		writeTimeout: 5 * time.Second,
	}
}

// Run records every session published by src until ctx is done.
func (r *Recorder) Run(ctx context.Context, src Source) error {
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
			r.Handle(ctx, ev)
		}
	}
}

// Handle stores a single event.
func (r *Recorder) Handle(ctx context.Context, ev session.Event) {
	ctx, cancel := context.WithTimeout(ctx, r.writeTimeout)
	defer cancel()

	var err error
	switch ev.Kind {
	case session.EventStarted:
		err = r.store.EnsureSession(ctx, ev.SessionID, ev.Timestamp)
	case session.EventResult:
		if ev.Result != nil {
			err = r.store.Record(ctx, *ev.Result)
		}
	case session.EventNoFace:
		err = r.store.CountNoFace(ctx, ev.SessionID, ev.Timestamp)
	case session.EventError:
		err = r.store.CountError(ctx, ev.SessionID, ev.Timestamp)
	case session.EventFailed:
		err = r.store.EndSession(ctx, ev.SessionID, ev.Timestamp, EndFailed, ev.Error)
	case session.EventStopped:
		err = r.store.EndSession(ctx, ev.SessionID, ev.Timestamp, EndStopped, "")
	}
	if err != nil {
		r.logger.Warn("record event", "session", ev.SessionID, "kind", ev.Kind, "err", err)
	}
}
