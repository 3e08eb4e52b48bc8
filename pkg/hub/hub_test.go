package hub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scentsafe/go-scentsafe/pkg/camera"
	"github.com/scentsafe/go-scentsafe/pkg/landmarks"
	"github.com/scentsafe/go-scentsafe/pkg/session"
)

func TestEncode(t *testing.T) {
	data, err := Encode(TypeStatus, map[string]string{"state": "idle"})
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, TypeStatus, env.Type)
	assert.JSONEq(t, `{"state":"idle"}`, string(env.Data))
	assert.False(t, env.Time.IsZero())
}

func TestBroadcast_QueueFull(t *testing.T) {
	h := New("test", nil)

	for i := 0; i < cap(h.broadcast); i++ {
		require.True(t, h.Broadcast([]byte("x")))
	}
	assert.False(t, h.Broadcast([]byte("overflow")))
	assert.Equal(t, int64(1), h.dropped.Load())
}

func TestRun_StopsWithContext(t *testing.T) {
	h := New("test", nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	require.Eventually(t, h.IsRunning, time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}
	assert.False(t, h.IsRunning())
	assert.Nil(t, NewClient(h, nil), "registration after stop must not block")
}

func TestForward(t *testing.T) {
	cfg := session.DefaultConfig()
	cfg.EvaluationInterval = 5 * time.Millisecond
	cfg.FrameThrottle = 1
	ctrl, err := session.New(cfg, &landmarks.Mock{})
	require.NoError(t, err)
	defer ctrl.Stop()

	h := New("test", nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- h.Forward(ctx, ctrl) }()
	require.Eventually(t, func() bool { return ctrl.Subscribers() == 1 }, time.Second, time.Millisecond)

	_, err = ctrl.Start(context.Background())
	require.NoError(t, err)
	_, err = ctrl.SubmitFrame(camera.Frame{Data: []byte{1}, Format: camera.FormatJPEG, Width: 2, Height: 2})
	require.NoError(t, err)

	var kinds []session.EventKind
	for len(kinds) < 2 {
		select {
		case data := <-h.broadcast:
			var env Envelope
			require.NoError(t, json.Unmarshal(data, &env))
			assert.Equal(t, TypeEvent, env.Type)

			var ev session.Event
			require.NoError(t, json.Unmarshal(env.Data, &ev))
			kinds = append(kinds, ev.Kind)
		case <-time.After(2 * time.Second):
			t.Fatal("no event forwarded")
		}
	}
	assert.Equal(t, []session.EventKind{session.EventStarted, session.EventNoFace}, kinds)

	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
}
