package session

import (
	"context"
	"errors"
	"io"
	"net"

	"go.uber.org/zap"

	"chatline/pkg/interfaces"
	"chatline/pkg/types"
)

// Session drives one client connection from first frame to disconnect
// ARCHITECTURAL DISCOVERY: Requests from one connection are dispatched
// synchronously in arrival order; concurrency comes from one Session per connection
type Session struct {
	conn   interfaces.Connection
	router interfaces.MessageRouter
	logger *zap.Logger
}

// New creates a session for conn
func New(conn interfaces.Connection, router interfaces.MessageRouter, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		conn:   conn,
		router: router,
		logger: logger.With(
			zap.String("conn_id", conn.ID()),
			zap.String("remote_addr", conn.RemoteAddr()),
		),
	}
}

// Run reads frames until the transport closes or ctx is cancelled, then
// deregisters the connection. The returned error is nil for orderly closes.
func (s *Session) Run(ctx context.Context) error {
	s.logger.Info("start serving")

	// Closing the transport is what unblocks ReadFrame on cancellation
	stop := context.AfterFunc(ctx, func() { _ = s.conn.Close() })
	defer stop()

	defer func() {
		// Departure is announced even when the server context is already done
		s.router.Leave(context.WithoutCancel(ctx), s.conn)
		_ = s.conn.Close()
		s.logger.Info("stop serving")
	}()

	for {
		frame, err := s.conn.ReadFrame()
		if err != nil {
			if errors.Is(err, types.ErrFrameTooLarge) {
				s.router.Reject(s.conn, err)
				continue
			}
			if isClosed(err) || ctx.Err() != nil {
				return nil
			}
			s.logger.Warn("transport error", zap.Error(err))
			return err
		}

		req, err := types.ParseRequest(frame)
		if err != nil {
			s.router.Reject(s.conn, err)
			continue
		}

		s.router.Dispatch(ctx, s.conn, req)
	}
}

// isClosed reports errors that mean the peer or server closed the stream
func isClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed)
}
