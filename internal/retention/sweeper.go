// Package retention prunes finished audit jobs past their retention window.
package retention

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"seoscope/internal/audit"
)

// Config controls the sweeper.
type Config struct {
	// Window is how long finished jobs are kept after completion.
	Window time.Duration
	// Interval is how often the sweep runs.
	Interval time.Duration
	// IncludeFailed also prunes failed jobs. Off by default so failures stay
	// around for diagnosis.
	IncludeFailed bool
}

const (
	defaultWindow   = 24 * time.Hour
	defaultInterval = 1 * time.Hour
)

// Sweeper periodically deletes completed jobs older than the window.
type Sweeper struct {
	store  audit.JobStore
	clock  audit.Clock
	cfg    Config
	logger *zap.Logger
	wg     sync.WaitGroup
}

// New builds a Sweeper.
func New(store audit.JobStore, clock audit.Clock, cfg Config, logger *zap.Logger) *Sweeper {
	if cfg.Window <= 0 {
		cfg.Window = defaultWindow
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{store: store, clock: clock, cfg: cfg, logger: logger}
}

// Start launches the sweep loop. Cancel ctx to stop it.
func (s *Sweeper) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.SweepOnce(ctx)
			}
		}
	}()
}

// Stop waits for the loop to exit.
func (s *Sweeper) Stop() {
	s.wg.Wait()
}

// SweepOnce runs a single prune pass and returns how many jobs were removed.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	cutoff := s.clock.Now().Add(-s.cfg.Window)
	n, err := s.store.PruneCompletedBefore(ctx, cutoff, s.cfg.IncludeFailed)
	if err != nil {
		s.logger.Warn("retention sweep failed", zap.Error(err))
		return 0
	}
	if n > 0 {
		s.logger.Info("retention sweep pruned jobs",
			zap.Int("count", n),
			zap.Time("cutoff", cutoff),
			zap.Bool("include_failed", s.cfg.IncludeFailed),
		)
	}
	return n
}
