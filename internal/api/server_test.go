package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"chatline/internal/presence"
	"chatline/internal/testutil"
)

type stubStore struct {
	err error
}

func (s *stubStore) HealthCheck(context.Context) error { return s.err }

func newTestServer(t *testing.T, storeErr error, ws http.Handler) (*Server, *presence.Tracker) {
	t.Helper()
	tracker := presence.NewTracker()
	return NewServer(&stubStore{err: storeErr}, tracker, ws, zaptest.NewLogger(t)), tracker
}

func TestServer_HealthCheck(t *testing.T) {
	server, tracker := newTestServer(t, nil, nil)
	tracker.Register("alice", testutil.NewFakeConn("a:1"))
	tracker.Register("alice", testutil.NewFakeConn("a:2"))

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "healthy", resp.Database)
	assert.Equal(t, 1, resp.Connections["online_users"])
	assert.Equal(t, 2, resp.Connections["active_connections"])
	assert.Contains(t, resp.System, "goroutines")
	assert.False(t, resp.Timestamp.IsZero())
}

func TestServer_HealthCheckUnhealthy(t *testing.T) {
	server, _ := newTestServer(t, errors.New("database is locked"), nil)

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Equal(t, "error: database is locked", resp.Database)
}

func TestServer_ListOnline(t *testing.T) {
	server, tracker := newTestServer(t, nil, nil)
	tracker.Register("bob", testutil.NewFakeConn("b:1"))
	tracker.Register("alice", testutil.NewFakeConn("a:1"))

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/online", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp OnlineResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, []string{"alice", "bob"}, resp.Users)
}

func TestServer_ListOnlineEmpty(t *testing.T) {
	server, _ := newTestServer(t, nil, nil)

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/online", nil))

	assert.JSONEq(t, `{"count":0,"users":[]}`, rec.Body.String())
}

func TestServer_MethodNotAllowed(t *testing.T) {
	server, _ := newTestServer(t, nil, nil)

	for _, path := range []string{"/health", "/api/online"} {
		rec := httptest.NewRecorder()
		server.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))

		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, path)
		var resp ErrorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, http.StatusMethodNotAllowed, resp.Code)
	}
}

func TestServer_CORSPreflight(t *testing.T) {
	server, _ := newTestServer(t, nil, nil)

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/online", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "GET, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Empty(t, rec.Body.String())
}

func TestServer_WebSocketRoute(t *testing.T) {
	called := false
	ws := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusTeapot)
	})

	server, _ := newTestServer(t, nil, ws)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))

	assert.True(t, called)
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Empty(t, rec.Header().Get("Content-Type"))

	plain, _ := newTestServer(t, nil, nil)
	rec = httptest.NewRecorder()
	plain.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
