package testutil

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chatline/pkg/types"
)

// ErrReceiveTimeout is returned when no line arrives in time
var ErrReceiveTimeout = errors.New("timeout waiting for line")

// ErrClientDisconnected is returned once the server closed the stream
var ErrClientDisconnected = errors.New("client disconnected")

// ChatClient drives a running server over TCP or WebSocket and collects
// the text lines it sends back
type ChatClient struct {
	Username string

	send  func(frame []byte) error
	close func() error

	lines chan string
	done  chan struct{}

	mu     sync.Mutex
	closed bool
}

func newChatClient(username string) *ChatClient {
	return &ChatClient{
		Username: username,
		lines:    make(chan string, 256),
		done:     make(chan struct{}),
	}
}

// DialTCP connects a newline-framed client to addr
func DialTCP(ctx context.Context, addr, username string) (*ChatClient, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	c := newChatClient(username)
	c.send = func(frame []byte) error {
		_, err := conn.Write(append(frame, '\n'))
		return err
	}
	c.close = conn.Close

	go func() {
		defer close(c.done)
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			c.lines <- scanner.Text()
		}
	}()
	return c, nil
}

// DialWebSocket connects to the /ws endpoint of an http(s) base URL
func DialWebSocket(ctx context.Context, serverURL, username string) (*ChatClient, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}

	// Switch to WebSocket scheme
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws"

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	c := newChatClient(username)
	var writeMu sync.Mutex
	c.send = func(frame []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteMessage(websocket.TextMessage, frame)
	}
	c.close = conn.Close

	go func() {
		defer close(c.done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			c.lines <- string(data)
		}
	}()
	return c, nil
}

// SendRaw writes one frame as-is
func (c *ChatClient) SendRaw(frame string) error {
	return c.send([]byte(frame))
}

// Send writes a request from this client's username
func (c *ChatClient) Send(target types.Target, receiver, message string) error {
	frame, err := json.Marshal(types.Request{
		Username: c.Username,
		Target:   target,
		Receiver: receiver,
		Message:  message,
	})
	if err != nil {
		return err
	}
	return c.send(frame)
}

// Hello announces the client
func (c *ChatClient) Hello() error {
	return c.Send(types.TargetHello, "", "")
}

// Receive waits for the next line
func (c *ChatClient) Receive(timeout time.Duration) (string, error) {
	select {
	case line := <-c.lines:
		return line, nil
	case <-time.After(timeout):
		return "", ErrReceiveTimeout
	case <-c.done:
		// Lines read before the stream ended are still delivered
		select {
		case line := <-c.lines:
			return line, nil
		default:
			return "", ErrClientDisconnected
		}
	}
}

// ReceiveN collects exactly n lines or fails on the first timeout
func (c *ChatClient) ReceiveN(n int, timeout time.Duration) ([]string, error) {
	out := make([]string, 0, n)
	for len(out) < n {
		line, err := c.Receive(timeout)
		if err != nil {
			return out, err
		}
		out = append(out, line)
	}
	return out, nil
}

// Close disconnects; safe to call more than once
func (c *ChatClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.close()
}
