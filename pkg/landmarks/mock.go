package landmarks

import (
	"context"
	"sync"

	"github.com/scentsafe/go-scentsafe/pkg/camera"
	"github.com/scentsafe/go-scentsafe/pkg/fatigue"
)

// Mock implements Detector for testing.
type Mock struct {
	// DetectFunc is called when Detect is invoked.
	// If nil, Detect reports no face.
	DetectFunc func(ctx context.Context, frame camera.Frame) (*fatigue.Face, error)

	mu     sync.Mutex
	calls  int
	closed bool
}

// NewMock creates a mock that always returns face.
func NewMock(face *fatigue.Face) *Mock {
	return &Mock{
		DetectFunc: func(ctx context.Context, frame camera.Frame) (*fatigue.Face, error) {
			return face, nil
		},
	}
}

// Detect calls DetectFunc and records the call.
func (m *Mock) Detect(ctx context.Context, frame camera.Frame) (*fatigue.Face, error) {
	m.mu.Lock()
	m.calls++
	fn := m.DetectFunc
	m.mu.Unlock()

	if fn == nil {
		return nil, nil
	}
	return fn(ctx, frame)
}

// Close records that the mock was closed.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Calls returns the number of Detect calls.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Closed reports whether Close was called.
func (m *Mock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
