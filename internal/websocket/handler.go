package websocket

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chatline/pkg/interfaces"
)

// WebSocket upgrader with production-ready settings
// ARCHITECTURAL DISCOVERY: Separate upgrader configuration enables reuse
// and consistent WebSocket settings across different handler instances
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// FUNCTIONAL DISCOVERY: Any origin may connect; there is no authentication to protect
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// SessionRunner takes ownership of upgraded connections
type SessionRunner interface {
	Go(ctx context.Context, conn interfaces.Connection)
}

// Handler upgrades HTTP requests and hands the sockets to sessions
type Handler struct {
	ctx      context.Context // application lifetime, outlives the upgrade request
	sessions SessionRunner
	config   Config
	logger   *zap.Logger
}

// NewHandler creates a WebSocket handler. Sessions run under ctx.
func NewHandler(ctx context.Context, sessions SessionRunner, config Config, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		ctx:      ctx,
		sessions: sessions,
		config:   config,
		logger:   logger.Named("websocket"),
	}
}

// HandleWebSocket upgrades the request; each text message afterwards is one request frame
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response
		h.logger.Debug("upgrade failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}

	wsConn := NewConnection(conn, r.RemoteAddr, h.config)
	h.logger.Debug("connection upgraded",
		zap.String("conn_id", wsConn.ID()),
		zap.String("remote_addr", r.RemoteAddr),
	)

	h.sessions.Go(h.ctx, wsConn)
}
