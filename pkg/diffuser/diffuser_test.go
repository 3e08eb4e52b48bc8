package diffuser

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"github.com/scentsafe/go-scentsafe/pkg/fatigue"
	"github.com/scentsafe/go-scentsafe/pkg/landmarks"
	"github.com/scentsafe/go-scentsafe/pkg/session"
)

func TestPortOptions_Normalize(t *testing.T) {
	opts, err := PortOptions{}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, PortOptions{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "N"}, opts)

	opts, err = PortOptions{BaudRate: 115200, Parity: "even", StopBits: 2}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, "E", opts.Parity)

	for _, bad := range []PortOptions{
		{DataBits: 9},
		{StopBits: 3},
		{Parity: "mark"},
	} {
		_, err := bad.Normalize()
		assert.Error(t, err, "%+v", bad)
	}
}

func TestPortOptions_SerialMode(t *testing.T) {
	mode, err := PortOptions{BaudRate: 19200, StopBits: 2, Parity: "O"}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, 19200, mode.BaudRate)
	assert.Equal(t, 8, mode.DataBits)
	assert.Equal(t, serial.TwoStopBits, mode.StopBits)
	assert.Equal(t, serial.OddParity, mode.Parity)

	mode, err = PortOptions{}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, serial.OneStopBit, mode.StopBits)
	assert.Equal(t, serial.NoParity, mode.Parity)
}

func testDiffuser(t *testing.T, ports ...*MockPort) (*Diffuser, *int) {
	t.Helper()
	opened := 0
	open := func(path string, opts PortOptions) (Port, error) {
		if opened >= len(ports) {
			return nil, errors.New("no such device")
		}
		p := ports[opened]
		opened++
		return p, nil
	}

	cfg := DefaultConfig()
	cfg.Path = "/dev/mock"
	d, err := New(cfg, open)
	require.NoError(t, err)
	return d, &opened
}

func TestDiffuser_Spray(t *testing.T) {
	port := NewMockPort("OK\nOK\n")
	d, opened := testDiffuser(t, port)

	require.NoError(t, d.Spray(context.Background()))
	require.NoError(t, d.Spray(context.Background()))

	assert.Equal(t, "SPRAY 800\nSPRAY 800\n", port.Written())
	assert.Equal(t, 1, *opened, "port is reused")

	require.NoError(t, d.Close())
	assert.True(t, port.Closed())
	assert.ErrorIs(t, d.Spray(context.Background()), ErrPortClosed)
	require.NoError(t, d.Close())
}

func TestDiffuser_Replies(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		wantErr error
		errText string
	}{
		{"ok", "OK\n", nil, ""},
		{"bridge error", "ERR empty\n", nil, "bridge error: empty"},
		{"garbage", "HELLO\n", nil, "unexpected reply"},
		{"silence", "", ErrNoAck, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d, _ := testDiffuser(t, NewMockPort(tc.reply))
			err := d.Spray(context.Background())
			switch {
			case tc.wantErr != nil:
				assert.ErrorIs(t, err, tc.wantErr)
			case tc.errText != "":
				assert.ErrorContains(t, err, tc.errText)
			default:
				assert.NoError(t, err)
			}
		})
	}
}

func TestDiffuser_ReopensAfterWriteFailure(t *testing.T) {
	broken := NewMockPort("")
	broken.WriteErr = errors.New("bridge unplugged")
	healthy := NewMockPort("OK\n")
	d, opened := testDiffuser(t, broken, healthy)

	assert.ErrorContains(t, d.Spray(context.Background()), "bridge unplugged")
	assert.True(t, broken.Closed())

	require.NoError(t, d.Spray(context.Background()))
	assert.Equal(t, 2, *opened)
}

func TestDiffuser_OpenFailure(t *testing.T) {
	d, _ := testDiffuser(t)
	assert.ErrorContains(t, d.Spray(context.Background()), "no such device")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, d.Spray(ctx), context.Canceled)

	_, err := New(Config{}, nil)
	assert.Error(t, err)
}

type fakeSprayer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeSprayer) Spray(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeSprayer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func sprayEvent(spray bool) session.Event {
	level := fatigue.Alert
	if spray {
		level = fatigue.SevereFatigue
	}
	return session.Event{
		Kind:      session.EventResult,
		SessionID: "s1",
		Result:    &fatigue.DetectionResult{Level: level, ShouldTriggerSpray: spray},
	}
}

func TestDispatcher_Cooldown(t *testing.T) {
	s := &fakeSprayer{}
	d := NewDispatcher(s, 30*time.Second, nil)

	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }
	ctx := context.Background()

	assert.False(t, d.Handle(ctx, sprayEvent(false)), "alert never sprays")
	assert.False(t, d.Handle(ctx, session.Event{Kind: session.EventNoFace}))
	assert.False(t, d.Handle(ctx, session.Event{Kind: session.EventFailed}))

	assert.True(t, d.Handle(ctx, sprayEvent(true)))

	now = now.Add(10 * time.Second)
	assert.False(t, d.Handle(ctx, sprayEvent(true)), "inside cooldown")

	now = now.Add(20 * time.Second)
	assert.True(t, d.Handle(ctx, sprayEvent(true)), "cooldown elapsed")

	assert.Equal(t, 2, s.Calls())
	stats := d.Stats()
	assert.Equal(t, 2, stats.Fired)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, now, stats.LastSpray)
}

func TestDispatcher_FailureIsSwallowed(t *testing.T) {
	s := &fakeSprayer{err: errors.New("out of scent")}
	d := NewDispatcher(s, 0, nil)

	assert.False(t, d.Handle(context.Background(), sprayEvent(true)))
	assert.False(t, d.Handle(context.Background(), sprayEvent(true)))
	assert.Equal(t, 2, d.Stats().Failed)
	assert.Zero(t, d.Stats().Fired)
}

func TestDispatcher_RunOutlivesSessions(t *testing.T) {
	c, err := session.New(session.DefaultConfig(), &landmarks.Mock{})
	require.NoError(t, err)
	d := NewDispatcher(&fakeSprayer{}, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, c) }()
	require.Eventually(t, func() bool { return c.Subscribers() == 1 }, time.Second, time.Millisecond)

	for i := 0; i < 2; i++ {
		_, err := c.Start(ctx)
		require.NoError(t, err)
		require.NoError(t, c.Stop())
	}

	select {
	case err := <-done:
		t.Fatalf("run returned after a session ended: %v", err)
	case <-time.After(20 * time.Millisecond):
	}
	assert.Equal(t, 1, c.Subscribers())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
