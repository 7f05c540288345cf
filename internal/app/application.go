package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chatline/internal/api"
	"chatline/internal/config"
	"chatline/internal/database"
	"chatline/internal/maintenance"
	"chatline/internal/presence"
	"chatline/internal/router"
	"chatline/internal/session"
	"chatline/internal/tcp"
	"chatline/internal/websocket"
	pkgdatabase "chatline/pkg/database"
)

// ErrAlreadyStarted is returned by a second Start
var ErrAlreadyStarted = errors.New("application already started")

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config    *config.Config
	logger    *zap.Logger
	store     *database.Manager
	presence  *presence.Tracker
	router    *router.Router
	sessions  *session.Manager
	scheduler *maintenance.Scheduler
	tcpServer *tcp.Server

	mu         sync.Mutex
	started    bool
	cancel     context.CancelFunc
	group      *errgroup.Group
	httpServer *http.Server
	httpLn     net.Listener
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Database → Presence → Router → Sessions → Maintenance → TCP
func NewApplication(cfg *config.Config, logger *zap.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// Validate configuration before component initialization
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	location, err := cfg.Chat.Location()
	if err != nil {
		return nil, err
	}

	// STEP 1: Initialize history store (foundation layer)
	store, err := database.NewManager(cfg.StoreConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize history store: %w", err)
	}

	// STEP 1.5: Apply database migrations to ensure schema is up to date
	if err := pkgdatabase.NewMigrationManager(store.GetDB()).ApplyMigrations(); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	logger.Info("database migrations applied", zap.String("path", cfg.Database.Path))

	// STEP 2: Presence tracking for online users and their connections
	tracker := presence.NewTracker()

	// STEP 3: Message router with dependencies
	messageRouter, err := router.NewRouter(tracker, store, router.Options{
		BroadcastLimit: cfg.Chat.BroadcastLimit,
		HistoryTail:    cfg.Chat.HistoryTail,
		Location:       location,
	}, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize router: %w", err)
	}

	// STEP 4: Session manager owns every live connection
	sessions := session.NewManager(messageRouter, logger)

	// STEP 5: Background pruning and rate window resets
	scheduler := maintenance.NewScheduler(store, maintenance.Config{
		PruneInterval:      cfg.Chat.PruneInterval,
		MessageLifetime:    cfg.Chat.MessageLifetime,
		CounterResetPeriod: cfg.Chat.CounterResetPeriod,
	}, logger)

	// STEP 6: Line-oriented TCP listener
	tcpServer := tcp.NewServer(tcp.Config{
		Address:       cfg.Server.Address(),
		MaxFrameBytes: cfg.Server.MaxFrameBytes,
		WriteTimeout:  cfg.Server.WriteTimeout,
	}, sessions, logger)

	return &Application{
		config:    cfg,
		logger:    logger,
		store:     store,
		presence:  tracker,
		router:    messageRouter,
		sessions:  sessions,
		scheduler: scheduler,
		tcpServer: tcpServer,
	}, nil
}

// Start binds the listeners and begins serving in the background.
// Bind failures are returned directly; later failures surface from Wait.
func (app *Application) Start(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()

	if app.started {
		return ErrAlreadyStarted
	}

	// STEP 1: Bind every listener before serving anything
	if err := app.tcpServer.Listen(); err != nil {
		return err
	}

	var httpLn net.Listener
	if app.config.HTTP.Enabled {
		ln, err := net.Listen("tcp", app.config.HTTP.Address())
		if err != nil {
			_ = app.tcpServer.Close()
			return fmt.Errorf("failed to listen on %s: %w", app.config.HTTP.Address(), err)
		}
		httpLn = ln
	}

	runCtx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(runCtx)

	// STEP 2: Serve TCP clients and run maintenance
	group.Go(func() error { return app.tcpServer.Serve(gctx) })
	group.Go(func() error { return app.scheduler.Run(gctx) })

	// STEP 3: HTTP API and WebSocket endpoint
	if httpLn != nil {
		app.httpServer = app.newHTTPServer(gctx)
		app.httpLn = httpLn

		group.Go(func() error {
			if err := app.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTP server error: %w", err)
			}
			return nil
		})
		group.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.WithoutCancel(gctx), app.config.HTTP.WriteTimeout)
			defer done()
			if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
				app.logger.Warn("HTTP server shutdown error", zap.Error(err))
			}
			return nil
		})
	}

	app.cancel = cancel
	app.group = group
	app.started = true

	fields := []zap.Field{zap.Stringer("tcp", app.tcpServer.Addr())}
	if httpLn != nil {
		fields = append(fields, zap.Stringer("http", httpLn.Addr()))
	}
	app.logger.Info("chatline started", fields...)
	return nil
}

func (app *Application) newHTTPServer(ctx context.Context) *http.Server {
	wsHandler := websocket.NewHandler(ctx, app.sessions, websocket.Config{
		PingInterval:  app.config.WebSocket.PingInterval,
		ReadTimeout:   app.config.WebSocket.ReadTimeout,
		WriteTimeout:  app.config.WebSocket.WriteTimeout,
		BufferSize:    app.config.WebSocket.BufferSize,
		MaxFrameBytes: app.config.Server.MaxFrameBytes,
	}, app.logger)

	apiServer := api.NewServer(app.store, app.presence, http.HandlerFunc(wsHandler.HandleWebSocket), app.logger)

	return &http.Server{
		Handler:      apiServer,
		ReadTimeout:  app.config.HTTP.ReadTimeout,
		WriteTimeout: app.config.HTTP.WriteTimeout,
	}
}

// Wait blocks until serving stops and returns the first failure
func (app *Application) Wait() error {
	app.mu.Lock()
	group := app.group
	app.mu.Unlock()

	if group == nil {
		return nil
	}
	return group.Wait()
}

// Stop gracefully shuts down the application
// Shutdown coordination ensures proper resource cleanup
// Reverse dependency order: listeners → sessions → database
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("shutting down chatline")

	app.mu.Lock()
	cancel := app.cancel
	app.mu.Unlock()

	var errs []error

	// STEP 1: Stop accepting new connections and halt maintenance
	if cancel != nil {
		cancel()
		if err := app.Wait(); err != nil {
			errs = append(errs, err)
		}
	}

	// STEP 2: Close live sessions so departures are announced and recorded
	if err := app.sessions.Shutdown(ctx); err != nil {
		app.logger.Warn("sessions did not finish before deadline", zap.Error(err))
		errs = append(errs, fmt.Errorf("session shutdown: %w", err))
	}

	// STEP 3: Drain the write queue and close the database
	if err := app.store.Close(); err != nil {
		app.logger.Error("database shutdown error", zap.Error(err))
		errs = append(errs, fmt.Errorf("database shutdown: %w", err))
	}

	app.logger.Info("chatline shutdown complete")
	return errors.Join(errs...)
}

// TCPAddr returns the bound chat listener address, or nil before Start
func (app *Application) TCPAddr() net.Addr {
	return app.tcpServer.Addr()
}

// HTTPAddr returns the bound HTTP listener address, or nil when disabled
func (app *Application) HTTPAddr() net.Addr {
	app.mu.Lock()
	defer app.mu.Unlock()

	if app.httpLn == nil {
		return nil
	}
	return app.httpLn.Addr()
}

// RunMigrations applies pending migrations and reports applied versions
func RunMigrations(cfg *config.Config, logger *zap.Logger) ([]string, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := database.NewManager(cfg.StoreConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open history store: %w", err)
	}
	defer store.Close()

	migrations := pkgdatabase.NewMigrationManager(store.GetDB())
	if err := migrations.ApplyMigrations(); err != nil {
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	if err := migrations.ValidateSchema(); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}
	return migrations.AppliedVersions()
}
