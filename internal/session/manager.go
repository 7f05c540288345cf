package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"chatline/pkg/interfaces"
)

// Manager owns every running Session so shutdown can close them together
// ARCHITECTURAL DISCOVERY: Transports hand accepted connections here instead of
// starting goroutines themselves, giving one place to count and drain sessions
type Manager struct {
	router interfaces.MessageRouter
	logger *zap.Logger

	mu     sync.Mutex
	active map[string]interfaces.Connection // connID -> Connection
	closed bool
	wg     sync.WaitGroup
	served int
}

// NewManager creates a session manager dispatching to router
func NewManager(router interfaces.MessageRouter, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		router: router,
		logger: logger.Named("session"),
		active: make(map[string]interfaces.Connection),
	}
}

// Serve runs a Session for conn and blocks until it ends
func (m *Manager) Serve(ctx context.Context, conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = conn.Close()
		return ErrManagerClosed
	}
	m.active[conn.ID()] = conn
	m.served++
	m.wg.Add(1)
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.active, conn.ID())
		m.mu.Unlock()
		m.wg.Done()
	}()

	return New(conn, m.router, m.logger).Run(ctx)
}

// Go runs Serve on its own goroutine
func (m *Manager) Go(ctx context.Context, conn interfaces.Connection) {
	go func() {
		if err := m.Serve(ctx, conn); err != nil {
			m.logger.Debug("session ended with error", zap.String("conn_id", conn.ID()), zap.Error(err))
		}
	}()
}

// Shutdown refuses new sessions, closes live ones and waits for them to
// finish or ctx to expire
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	conns := make([]interfaces.Connection, 0, len(m.active))
	for _, conn := range m.active {
		conns = append(conns, conn)
	}
	m.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetStats returns session counters for monitoring
func (m *Manager) GetStats() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return map[string]int{
		"active_sessions": len(m.active),
		"served_sessions": m.served,
	}
}
