package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"chatline/pkg/interfaces"
)

// SessionRunner takes ownership of accepted connections
type SessionRunner interface {
	Go(ctx context.Context, conn interfaces.Connection)
}

// Config controls the listener and per-connection framing
type Config struct {
	Address       string
	MaxFrameBytes int
	WriteTimeout  time.Duration
}

// Server accepts newline-framed TCP clients
type Server struct {
	config   Config
	sessions SessionRunner
	logger   *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	closed   bool
}

// NewServer creates a server handing connections to sessions
func NewServer(config Config, sessions SessionRunner, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		config:   config,
		sessions: sessions,
		logger:   logger.Named("tcp"),
	}
}

// Listen binds the configured address
func (s *Server) Listen() error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("listening", zap.String("address", listener.Addr().String()))
	return nil
}

// Addr returns the bound address, or nil before Listen
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until ctx is cancelled or Close is called
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener == nil {
		return ErrNotListening
	}

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	var backoff time.Duration
	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil
			}

			// Back off on accept failures such as fd exhaustion
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else if backoff *= 2; backoff > time.Second {
				backoff = time.Second
			}
			s.logger.Warn("accept failed", zap.Error(err), zap.Duration("retry_in", backoff))
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		s.sessions.Go(ctx, NewConn(conn, s.config.MaxFrameBytes, s.config.WriteTimeout))
	}
}

// Close stops accepting; live sessions are left to the session manager
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.listener == nil {
		s.closed = true
		return nil
	}
	s.closed = true
	return s.listener.Close()
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
