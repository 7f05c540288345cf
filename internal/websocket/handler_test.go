package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"chatline/internal/database"
	"chatline/internal/presence"
	"chatline/internal/router"
	"chatline/internal/session"
	dbconfig "chatline/pkg/database"
)

func testConfig() Config {
	return Config{
		PingInterval:  50 * time.Millisecond,
		ReadTimeout:   time.Second,
		WriteTimeout:  time.Second,
		BufferSize:    16,
		MaxFrameBytes: 4096,
	}
}

func startChat(t *testing.T) (*httptest.Server, *presence.Tracker) {
	t.Helper()
	logger := zaptest.NewLogger(t)

	config := dbconfig.DefaultConfig()
	config.DatabasePath = filepath.Join(t.TempDir(), "ws.db")
	store, err := database.NewManager(config, logger)
	require.NoError(t, err)
	require.NoError(t, dbconfig.NewMigrationManager(store.GetDB()).ApplyMigrations())

	tracker := presence.NewTracker()
	r, err := router.NewRouter(tracker, store, router.Options{BroadcastLimit: 20, HistoryTail: 20}, logger)
	require.NoError(t, err)
	sessions := session.NewManager(r, logger)

	ctx, cancel := context.WithCancel(context.Background())
	handler := NewHandler(ctx, sessions, testConfig(), logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", handler.HandleWebSocket)
	server := httptest.NewServer(mux)

	t.Cleanup(func() {
		cancel()
		server.Close()
		shutdownCtx, stop := context.WithTimeout(context.Background(), 2*time.Second)
		defer stop()
		_ = sessions.Shutdown(shutdownCtx)
		_ = store.Close()
	})
	return server, tracker
}

func dialWS(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func receive(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		messageType, data, err := conn.ReadMessage()
		require.NoError(t, err)
		if messageType == websocket.TextMessage {
			return string(data)
		}
	}
}

func TestHandler_ChatOverWebSocket(t *testing.T) {
	server, tracker := startChat(t)

	alice := dialWS(t, server)
	send(t, alice, `{"username":"alice","target":"hello"}`)
	require.Eventually(t, func() bool { return tracker.IsOnline("alice") }, 2*time.Second, 5*time.Millisecond)

	bob := dialWS(t, server)
	send(t, bob, `{"username":"bob","target":"hello"}`)
	assert.Equal(t, "New guest in the chat! - bob", receive(t, alice))

	send(t, bob, `{"username":"bob","message":"hello ws"}`)
	assert.True(t, strings.HasSuffix(receive(t, alice), " bob to all: hello ws"))

	send(t, alice, `{"username":"alice","target":"status"}`)
	status := receive(t, alice)
	assert.Contains(t, status, `Your username - "alice"`)
	assert.Contains(t, status, "Users online - 2:\nalice, bob")

	send(t, alice, `{"username":"","target":"all"}`)
	assert.Equal(t, "Invalid request: username is required", receive(t, alice))

	require.NoError(t, bob.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	assert.Equal(t, "bob has left the chat", receive(t, alice))
}

func TestHandler_RejectsPlainHTTP(t *testing.T) {
	server, _ := startChat(t)

	resp, err := http.Get(server.URL + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestConnection_ServerPings(t *testing.T) {
	server, _ := startChat(t)
	conn := dialWS(t, server)

	pinged := make(chan struct{}, 1)
	conn.SetPingHandler(func(string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return nil
	})

	// reading drives control frame handlers
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatal("no ping received")
	}
}

func TestConnection_WriteAfterClose(t *testing.T) {
	upgraded := make(chan *Connection, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		upgraded <- NewConnection(conn, r.RemoteAddr, testConfig())
	}))
	defer server.Close()

	client := dialWS(t, server)
	wsConn := <-upgraded

	require.NoError(t, wsConn.WriteLine("first"))
	assert.Equal(t, "first", receive(t, client))
	assert.NotEmpty(t, wsConn.ID())
	assert.NotEmpty(t, wsConn.RemoteAddr())

	require.NoError(t, wsConn.Close())
	require.NoError(t, wsConn.Close())
	assert.ErrorIs(t, wsConn.WriteLine("late"), ErrConnectionClosed)
}
