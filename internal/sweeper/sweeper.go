package sweeper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Monadical-SAS/socketrouter/internal/envelope"
	"github.com/Monadical-SAS/socketrouter/internal/group"
	"github.com/Monadical-SAS/socketrouter/internal/registry"
)

// Config holds sweep timing.
type Config struct {
	// GraceWindow is how long a pending connection may stay silent
	// before it is purged.
	GraceWindow time.Duration

	// Interval between periodic background sweeps.
	Interval time.Duration
}

// DefaultConfig returns the reference deployment timings.
func DefaultConfig() Config {
	return Config{
		GraceWindow: 5 * time.Minute,
		Interval:    time.Minute,
	}
}

// Sweeper runs the ping-sweep-purge cycle over the registry.
type Sweeper struct {
	cfg    Config
	store  registry.Store
	groups *group.Addressor
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a sweeper over the given registry.
func New(cfg Config, store registry.Store, groups *group.Addressor, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.GraceWindow == 0 {
		cfg.GraceWindow = DefaultConfig().GraceWindow
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	return &Sweeper{
		cfg:    cfg,
		store:  store,
		groups: groups,
		logger: logger,
	}
}

// CleanupStale flips every active connection in scope to pending in one
// pass, asks them for a PING back, and purges whatever is already past
// the grace window. Returns how many connections were asked.
func (s *Sweeper) CleanupStale(ctx context.Context, scope registry.Query) (int, error) {
	flipped, err := s.store.MarkPending(ctx, scope)
	if err != nil {
		return 0, err
	}

	if len(flipped) > 0 {
		g := s.groups.FromConnections(flipped)
		if _, err := g.BroadcastAction(envelope.Ping, nil); err != nil {
			s.logger.Warn("ping broadcast failed", "group", g.ID(), "error", err)
		}
	}

	if _, err := s.PurgeInactive(ctx, s.cfg.GraceWindow); err != nil {
		return len(flipped), err
	}
	return len(flipped), nil
}

// PurgeInactive deletes every connection still pending whose last ping
// is older than the window. Idempotent: a second pass with no
// intervening activity deletes nothing.
func (s *Sweeper) PurgeInactive(ctx context.Context, window time.Duration) (int, error) {
	deleted, err := s.store.PurgeInactive(ctx, time.Now().Add(-window))
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.logger.Info("purged stale sockets", "count", deleted, "window", window)
	}
	return deleted, nil
}

// Start begins the periodic background sweep. It never blocks message
// dispatch; each cycle is one registry pass plus one broadcast.
func (s *Sweeper) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.run()

	s.logger.Info("stale sweeper started",
		"interval", s.cfg.Interval,
		"grace_window", s.cfg.GraceWindow,
	)
	return nil
}

// Stop gracefully shuts down the background sweep.
func (s *Sweeper) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("stale sweeper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the periodic sweep loop.
func (s *Sweeper) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.CleanupStale(s.ctx, registry.Query{}); err != nil {
				s.logger.Error("background sweep failed", "error", err)
			}
		}
	}
}
