package tcp

import (
	"bufio"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatline/pkg/types"
)

func pipeConn(t *testing.T, maxFrame int) (*Conn, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		_ = server.Close()
		_ = client.Close()
	})
	return NewConn(server, maxFrame, time.Second), client
}

func TestConn_ReadFrameSplitsOnNewline(t *testing.T) {
	conn, client := pipeConn(t, 1024)

	go func() {
		_, _ = io.WriteString(client, "{\"a\":1}\n\n  \r\n{\"b\":2}\r\n{\"c\":3}")
		_ = client.Close()
	}()

	frame, err := conn.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(frame))

	frame, err = conn.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, `{"b":2}`, string(frame), "blank lines are skipped")

	frame, err = conn.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, `{"c":3}`, string(frame), "unterminated final line is delivered")

	_, err = conn.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)
}

func TestConn_OversizedFrameIsSkipped(t *testing.T) {
	conn, client := pipeConn(t, 32)

	go func() {
		_, _ = io.WriteString(client, strings.Repeat("x", 10000)+"\n"+`{"ok":true}`+"\n")
		_ = client.Close()
	}()

	_, err := conn.ReadFrame()
	assert.ErrorIs(t, err, types.ErrFrameTooLarge)

	frame, err := conn.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(frame))
}

func TestConn_FrameAtLimitIsAccepted(t *testing.T) {
	conn, client := pipeConn(t, 8)

	go func() {
		_, _ = io.WriteString(client, "12345678\n123456789\n")
		_ = client.Close()
	}()

	frame, err := conn.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "12345678", string(frame))

	_, err = conn.ReadFrame()
	assert.ErrorIs(t, err, types.ErrFrameTooLarge)
}

func TestConn_WriteLine(t *testing.T) {
	conn, client := pipeConn(t, 1024)
	reader := bufio.NewReader(client)

	go func() {
		_ = conn.WriteLine("hello")
		_ = conn.WriteLine("multi\nline")
	}()

	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "hello\n", line)

	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "multi\n", line)
	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "line\n", line)
}

func TestConn_WriteTimeout(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	conn := NewConn(server, 1024, 20*time.Millisecond)

	// nobody reads from client, so the pipe write blocks until the deadline
	err := conn.WriteLine("stuck")
	require.Error(t, err)
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())
}

func TestConn_CloseIdempotent(t *testing.T) {
	conn, _ := pipeConn(t, 1024)

	assert.NotEmpty(t, conn.ID())
	assert.NoError(t, conn.Close())
	assert.NoError(t, conn.Close())

	_, err := conn.ReadFrame()
	assert.Error(t, err)
}
