package websocket

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Config holds per-connection timing and buffering
type Config struct {
	PingInterval  time.Duration
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	BufferSize    int
	MaxFrameBytes int
}

// Connection implements the interfaces.Connection interface
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized to prevent race conditions
// Interface boundary maintained - no chat logic in connection wrapper
type Connection struct {
	id         string
	remoteAddr string
	conn       *websocket.Conn
	config     Config
	writeCh    chan []byte        // FUNCTIONAL DISCOVERY: Buffer absorbs fan-out bursts without blocking the router
	ctx        context.Context    // For cancellation
	cancel     context.CancelFunc // For cleanup
	closeOnce  sync.Once          // Ensure single close
	closeErr   error
}

// NewConnection creates a new WebSocket connection wrapper and starts its
// writer and heartbeat goroutines
func NewConnection(conn *websocket.Conn, remoteAddr string, config Config) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:         uuid.NewString(),
		remoteAddr: remoteAddr,
		conn:       conn,
		config:     config,
		writeCh:    make(chan []byte, config.BufferSize),
		ctx:        ctx,
		cancel:     cancel,
	}

	if config.MaxFrameBytes > 0 {
		conn.SetReadLimit(int64(config.MaxFrameBytes))
	}

	// TECHNICAL DISCOVERY: Read deadline is pushed forward by every pong so a
	// silent peer is dropped after ReadTimeout
	_ = conn.SetReadDeadline(time.Now().Add(config.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(config.ReadTimeout))
	})

	go c.writeLoop()
	go c.pingLoop()

	return c
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) RemoteAddr() string { return c.remoteAddr }

// ARCHITECTURAL DISCOVERY: Single writer goroutine pattern eliminates races
func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				_ = c.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// pingLoop sends heartbeats until the connection closes
func (c *Connection) pingLoop() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(c.config.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				_ = c.Close()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// ReadFrame returns the payload of the next text message.
// Binary messages are ignored; a closed socket reads as io.EOF.
func (c *Connection) ReadFrame() ([]byte, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return nil, io.EOF
			}
			return nil, err
		}
		if messageType == websocket.TextMessage {
			return data, nil
		}
	}
}

// WriteLine queues one text message
func (c *Connection) WriteLine(line string) error {
	// Check if connection is closed
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	timer := time.NewTimer(c.config.WriteTimeout)
	defer timer.Stop()

	select {
	case c.writeCh <- []byte(line):
		return nil
	case <-timer.C:
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// ARCHITECTURAL DISCOVERY: Clean shutdown requires careful goroutine coordination
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()

		deadline := time.Now().Add(time.Second)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)

		if err := c.conn.Close(); err != nil && !errors.Is(err, io.EOF) {
			c.closeErr = err
		}
	})
	return c.closeErr
}
