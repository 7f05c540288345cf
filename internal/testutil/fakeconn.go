// Package testutil holds in-memory doubles shared by package tests.
package testutil

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrFakeClosed is returned by writes to a closed FakeConn
var ErrFakeClosed = errors.New("fake connection closed")

// FakeConn is an in-memory interfaces.Connection.
// Frames pushed with Send are returned by ReadFrame; written lines are recorded.
type FakeConn struct {
	id     string
	addr   string
	frames chan []byte
	done   chan struct{}

	mu       sync.Mutex
	lines    []string
	closed   bool
	writeErr error
}

// NewFakeConn creates a connection reporting addr as its peer
func NewFakeConn(addr string) *FakeConn {
	return &FakeConn{
		id:     uuid.NewString(),
		addr:   addr,
		frames: make(chan []byte, 64),
		done:   make(chan struct{}),
	}
}

func (c *FakeConn) ID() string         { return c.id }
func (c *FakeConn) RemoteAddr() string { return c.addr }

// ReadFrame returns the next pushed frame or io.EOF once closed
func (c *FakeConn) ReadFrame() ([]byte, error) {
	select {
	case frame := <-c.frames:
		return frame, nil
	case <-c.done:
		return nil, io.EOF
	}
}

// WriteLine records line unless the connection is closed or failing
func (c *FakeConn) WriteLine(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrFakeClosed
	}
	if c.writeErr != nil {
		return c.writeErr
	}
	c.lines = append(c.lines, line)
	return nil
}

func (c *FakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}

// Send queues a frame for the next ReadFrame
func (c *FakeConn) Send(frame string) {
	c.frames <- []byte(frame)
}

// FailWrites makes every later WriteLine return err
func (c *FakeConn) FailWrites(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

// Lines returns a copy of everything written so far
func (c *FakeConn) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, len(c.lines))
	copy(out, c.lines)
	return out
}

// Reset forgets recorded lines
func (c *FakeConn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = nil
}

// IsClosed reports whether Close was called
func (c *FakeConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// WaitForLines blocks until at least n lines were written or timeout passes
func (c *FakeConn) WaitForLines(n int, timeout time.Duration) []string {
	deadline := time.Now().Add(timeout)
	for {
		lines := c.Lines()
		if len(lines) >= n || time.Now().After(deadline) {
			return lines
		}
		time.Sleep(5 * time.Millisecond)
	}
}
