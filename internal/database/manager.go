package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	dbconfig "chatline/pkg/database"
	"chatline/pkg/interfaces"
	"chatline/pkg/types"
)

// Manager implements the HistoryStore interface
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	logger       *zap.Logger
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	readSlots    *semaphore.Weighted // TECHNICAL: Bounds concurrent readers to the pool size
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex // TECHNICAL: Protect closed status
}

// writeOperation represents a database write operation
type writeOperation struct {
	ctx       context.Context
	operation func(context.Context, *sql.DB) error
	result    chan error
}

// NewManager opens the store and starts the writer goroutine
func NewManager(config *dbconfig.Config, logger *zap.Logger) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if dir := filepath.Dir(config.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := applySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		logger:       logger.Named("store"),
		writeChannel: make(chan writeOperation, config.WriteQueueSize),
		readSlots:    semaphore.NewWeighted(int64(config.MaxConnections)),
		shutdown:     make(chan struct{}),
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			op.result <- m.runWrite(op)

		case <-m.shutdown:
			// Drain what was already queued so accepted writes are not lost
			for {
				select {
				case op := <-m.writeChannel:
					op.result <- m.runWrite(op)
				default:
					m.logger.Debug("write loop shutting down")
					return
				}
			}
		}
	}
}

func (m *Manager) runWrite(op writeOperation) error {
	if err := op.ctx.Err(); err != nil {
		return err
	}
	return op.operation(op.ctx, m.db)
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, operation func(context.Context, *sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return interfaces.ErrStoreClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	timeout := time.NewTimer(m.config.WriteTimeout)
	defer timeout.Stop()

	select {
	case m.writeChannel <- writeOperation{ctx: ctx, operation: operation, result: result}:
	case <-timeout.C:
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return interfaces.ErrStoreClosed
	}

	// Once queued the writer always answers, including during shutdown drain
	return <-result
}

// executeRead runs a read on the shared pool, bounded by the read semaphore
func (m *Manager) executeRead(ctx context.Context, operation func(context.Context, *sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return interfaces.ErrStoreClosed
	}
	m.mu.RUnlock()

	if err := m.readSlots.Acquire(ctx, 1); err != nil {
		return err
	}
	defer m.readSlots.Release(1)

	return operation(ctx, m.db)
}

// StoreMessage appends a message to the log
func (m *Manager) StoreMessage(ctx context.Context, message *types.Message) error {
	if message.Receiver == "" {
		message.Receiver = types.ReceiverAll
	}
	if message.SentAt.IsZero() {
		message.SentAt = time.Now()
	}

	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		query := `
			INSERT INTO messages (sender, receiver, body, sent_at)
			VALUES (?, ?, ?, ?)
		`
		res, err := db.ExecContext(ctx, query,
			message.Sender,
			message.Receiver,
			message.Body,
			message.SentAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}

		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read message id: %w", err)
		}
		message.ID = id
		return nil
	})
}

// GetOrCreateUser looks up a registration, creating it on first sight
// FUNCTIONAL DISCOVERY: Lookup and insert run on the writer goroutine so two
// sessions announcing the same new username cannot both register it
func (m *Manager) GetOrCreateUser(ctx context.Context, username string) (*types.User, bool, error) {
	var user *types.User
	var created bool

	err := m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		found, err := scanUser(tx.QueryRowContext(ctx, selectUserQuery, username))
		switch {
		case err == nil:
			user = found
			return nil
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("failed to query user: %w", err)
		}

		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx,
			`INSERT INTO registrations (username, registered_at, message_count) VALUES (?, ?, 0)`,
			username, now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert user: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read user id: %w", err)
		}

		if err = tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit user registration: %w", err)
		}

		user = &types.User{ID: id, Username: username, RegisteredAt: now}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		m.logger.Info("registered new user", zap.String("username", username))
	}
	return user, created, nil
}

// GetUser returns the registration for username or ErrUserNotFound
func (m *Manager) GetUser(ctx context.Context, username string) (*types.User, error) {
	var user *types.User
	err := m.executeRead(ctx, func(ctx context.Context, db *sql.DB) error {
		found, err := scanUser(db.QueryRowContext(ctx, selectUserQuery, username))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUserNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to query user: %w", err)
		}
		user = found
		return nil
	})
	return user, err
}

// IncrementCounter adds one to the user's rate window counter
func (m *Manager) IncrementCounter(ctx context.Context, username string) error {
	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`UPDATE registrations SET message_count = message_count + 1 WHERE username = ?`,
			username,
		)
		if err != nil {
			return fmt.Errorf("failed to increment message counter: %w", err)
		}
		return nil
	})
}

// ResetAllCounters zeroes every user's counter
func (m *Manager) ResetAllCounters(ctx context.Context) (int64, error) {
	var affected int64
	err := m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		res, err := db.ExecContext(ctx, `UPDATE registrations SET message_count = 0 WHERE message_count <> 0`)
		if err != nil {
			return fmt.Errorf("failed to reset message counters: %w", err)
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected, err
}

// DeleteOlderThan removes messages sent strictly before cutoff
func (m *Manager) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var affected int64
	err := m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		res, err := db.ExecContext(ctx, `DELETE FROM messages WHERE sent_at < ?`, cutoff.UTC())
		if err != nil {
			return fmt.Errorf("failed to delete old messages: %w", err)
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected, err
}

// historyWindowQuery unions everything visible since registration (plus the
// user's own messages) with a bounded pre-registration tail
const historyWindowQuery = `
	SELECT id, sender, receiver, body, sent_at
	FROM messages
	WHERE (receiver IN ('all', ?) AND sent_at >= ?)
		OR sender = ?
	UNION
	SELECT id, sender, receiver, body, sent_at
	FROM (
		SELECT id, sender, receiver, body, sent_at
		FROM messages
		WHERE receiver IN ('all', ?)
			AND sent_at <= ?
		ORDER BY sent_at DESC, id DESC
		LIMIT ?
	)
	ORDER BY sent_at, id
`

// HistoryWindow returns the catch-up replay for a joining user
func (m *Manager) HistoryWindow(ctx context.Context, username string, registeredAt time.Time, tail int) ([]*types.Message, error) {
	if tail < 0 {
		tail = 0
	}
	since := registeredAt.UTC()

	var messages []*types.Message
	err := m.executeRead(ctx, func(ctx context.Context, db *sql.DB) error {
		rows, err := db.QueryContext(ctx, historyWindowQuery,
			username, since, username,
			username, since, tail,
		)
		if err != nil {
			return fmt.Errorf("failed to query history window: %w", err)
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			var message types.Message
			var sentAt timestamp
			if err := rows.Scan(&message.ID, &message.Sender, &message.Receiver, &message.Body, &sentAt); err != nil {
				return fmt.Errorf("failed to scan message row: %w", err)
			}
			message.SentAt = sentAt.Time
			messages = append(messages, &message)
		}

		if err := rows.Err(); err != nil {
			return fmt.Errorf("error iterating message rows: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	return m.executeRead(ctx, func(ctx context.Context, db *sql.DB) error {
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("database ping failed: %w", err)
		}

		var count int
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM registrations").Scan(&count); err != nil {
			return fmt.Errorf("database read test failed: %w", err)
		}
		return nil
	})
}

// GetDB returns the underlying database connection for migrations
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close shuts down the database manager
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

const selectUserQuery = `
	SELECT id, username, registered_at, message_count
	FROM registrations
	WHERE username = ?
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*types.User, error) {
	var user types.User
	var registeredAt timestamp
	if err := row.Scan(&user.ID, &user.Username, &registeredAt, &user.MessageCount); err != nil {
		return nil, err
	}
	user.RegisteredAt = registeredAt.Time
	return &user, nil
}

// applySQLiteOptimizations applies performance optimizations
func applySQLiteOptimizations(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}

	return nil
}
