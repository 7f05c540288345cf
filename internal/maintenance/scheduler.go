package maintenance

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Store is the slice of the history store the scheduler touches
type Store interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	ResetAllCounters(ctx context.Context) (int64, error)
}

// Config controls both maintenance loops
type Config struct {
	PruneInterval      time.Duration
	MessageLifetime    time.Duration
	CounterResetPeriod time.Duration
}

// Scheduler runs message pruning and rate window resets in the background
// ARCHITECTURAL DISCOVERY: Both loops only talk to the store, never to presence
// or the router, so they can run on their own goroutines without coordination
type Scheduler struct {
	store  Store
	config Config
	logger *zap.Logger
	now    func() time.Time

	startOnce sync.Once
	wg        sync.WaitGroup
}

// NewScheduler creates a scheduler; call Run to start it
func NewScheduler(store Store, config Config, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		store:  store,
		config: config,
		logger: logger.Named("maintenance"),
		now:    time.Now,
	}
}

// Run starts both loops and blocks until ctx is cancelled.
// Only the first call starts anything; later calls return immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	started := false
	s.startOnce.Do(func() {
		started = true
		s.wg.Add(2)
		go s.loop(ctx, "prune", s.config.PruneInterval, s.Prune)
		go s.loop(ctx, "counter_reset", s.config.CounterResetPeriod, s.ResetCounters)
	})
	if !started {
		return nil
	}

	<-ctx.Done()
	s.wg.Wait()
	return nil
}

// loop runs task immediately and then on every tick until ctx ends
func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, task func(context.Context)) {
	defer s.wg.Done()

	task(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			task(ctx)
		case <-ctx.Done():
			s.logger.Debug("maintenance loop stopped", zap.String("loop", name))
			return
		}
	}
}

// Prune deletes messages older than the configured lifetime.
// The cutoff is recomputed on every run.
func (s *Scheduler) Prune(ctx context.Context) {
	cutoff := s.now().Add(-s.config.MessageLifetime)

	deleted, err := s.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("failed to prune messages", zap.Error(err))
		}
		return
	}
	if deleted > 0 {
		s.logger.Info("pruned old messages",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff),
		)
	}
}

// ResetCounters starts a new rate window for every user
func (s *Scheduler) ResetCounters(ctx context.Context) {
	reset, err := s.store.ResetAllCounters(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("failed to reset message counters", zap.Error(err))
		}
		return
	}
	s.logger.Debug("message counters reset", zap.Int64("users", reset))
}
