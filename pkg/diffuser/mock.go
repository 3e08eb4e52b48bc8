package diffuser

import (
	"bytes"
	"sync"
)

// MockPort is an in-memory Port for testing. Replies are returned to
// reads in order; writes are captured.
type MockPort struct {
	mu      sync.Mutex
	written bytes.Buffer
	replies bytes.Buffer
	closed  bool

	// WriteErr is returned by Write if set.
	WriteErr error
}

// NewMockPort creates a port that will answer with replies.
func NewMockPort(replies string) *MockPort {
	p := &MockPort{}
	p.replies.WriteString(replies)
	return p
}

// Read returns queued replies.
func (p *MockPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrPortClosed
	}
	return p.replies.Read(b)
}

// Write captures b.
func (p *MockPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrPortClosed
	}
	if p.WriteErr != nil {
		return 0, p.WriteErr
	}
	return p.written.Write(b)
}

// Close marks the port closed.
func (p *MockPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Written returns everything written so far.
func (p *MockPort) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

// Closed reports whether Close was called.
func (p *MockPort) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
