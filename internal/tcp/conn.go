package tcp

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatline/pkg/types"
)

// Conn is a newline-framed client connection
// TECHNICAL DISCOVERY: Writes are serialized with a mutex because router
// fan-out from many sessions can target the same connection concurrently
type Conn struct {
	id           string
	conn         net.Conn
	reader       *bufio.Reader
	maxFrame     int
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps an accepted socket. maxFrame bounds one request line;
// writeTimeout of zero disables write deadlines.
func NewConn(conn net.Conn, maxFrame int, writeTimeout time.Duration) *Conn {
	return &Conn{
		id:           uuid.NewString(),
		conn:         conn,
		reader:       bufio.NewReader(conn),
		maxFrame:     maxFrame,
		writeTimeout: writeTimeout,
	}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// ReadFrame returns the next non-empty line without its terminator.
// A line longer than maxFrame is consumed up to its newline and reported
// as types.ErrFrameTooLarge so the caller can keep reading.
func (c *Conn) ReadFrame() ([]byte, error) {
	var frame []byte
	oversized := false

	for {
		chunk, err := c.reader.ReadSlice('\n')
		if !oversized {
			if len(frame)+len(chunk) > c.maxFrame+1 {
				oversized = true
				frame = nil
			} else {
				frame = append(frame, chunk...)
			}
		}

		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil {
			// A final line without a newline still counts
			if errors.Is(err, io.EOF) && !oversized && len(bytes.TrimSpace(frame)) > 0 {
				return bytes.TrimRight(frame, "\r\n"), nil
			}
			return nil, err
		}

		if oversized {
			return nil, types.ErrFrameTooLarge
		}

		line := bytes.TrimRight(frame, "\r\n")
		if len(bytes.TrimSpace(line)) == 0 {
			frame = frame[:0]
			continue
		}
		return line, nil
	}
}

// WriteLine sends line followed by a newline
func (c *Conn) WriteLine(line string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}

	_, err := io.WriteString(c.conn, line+"\n")
	return err
}

// Close closes the socket once
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
