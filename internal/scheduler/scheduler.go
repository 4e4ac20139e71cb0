// Package scheduler runs time-driven maintenance: campaign expiry and
// pruning of the processed-event window.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/devblac/reward-tower/internal/logging"
	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
)

type Expirer interface {
	ExpireEnded(ctx context.Context) (int64, error)
}

type Pruner interface {
	PruneProcessed(ctx context.Context, before time.Time) (int64, error)
}

// WindowPruner drops expired ids from an in-memory dedupe window.
type WindowPruner interface {
	Prune() int
}

type Config struct {
	ExpireSpec string
	PruneSpec  string
	Retention  time.Duration

	Campaigns Expirer
	Store     Pruner
	Window    WindowPruner

	Clock  clockwork.Clock
	Logger *slog.Logger
}

func (cfg *Config) Validate() error {
	if cfg.Campaigns == nil {
		return errors.New("campaign expirer is required")
	}
	if cfg.Store == nil {
		return errors.New("processed-event pruner is required")
	}
	if cfg.ExpireSpec == "" {
		cfg.ExpireSpec = "@every 1m"
	}
	if cfg.PruneSpec == "" {
		cfg.PruneSpec = "@hourly"
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	return nil
}

// Scheduler manages the maintenance cron jobs.
type Scheduler struct {
	cron *cron.Cron
	cfg  Config
	log  *slog.Logger
	ctx  context.Context
}

func New(cfg Config) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("scheduler config: %w", err)
	}
	s := &Scheduler{
		cron: cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		cfg:  cfg,
		log:  cfg.Logger,
		ctx:  context.Background(),
	}
	if _, err := s.cron.AddFunc(cfg.ExpireSpec, s.expireTask); err != nil {
		return nil, fmt.Errorf("register expire task %q: %w", cfg.ExpireSpec, err)
	}
	if _, err := s.cron.AddFunc(cfg.PruneSpec, s.pruneTask); err != nil {
		return nil, fmt.Errorf("register prune task %q: %w", cfg.PruneSpec, err)
	}
	return s, nil
}

// Run starts the jobs and blocks until ctx is done, then waits for running
// jobs to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.ctx = ctx
	s.cron.Start()
	s.log.Info("scheduler started", "expire", s.cfg.ExpireSpec, "prune", s.cfg.PruneSpec)
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
	return nil
}

// ExpireNow ends campaigns past their end date.
func (s *Scheduler) ExpireNow(ctx context.Context) (int64, error) {
	return s.cfg.Campaigns.ExpireEnded(ctx)
}

// PruneNow deletes processed ids older than the retention window.
func (s *Scheduler) PruneNow(ctx context.Context) (int64, error) {
	if s.cfg.Window != nil {
		if n := s.cfg.Window.Prune(); n > 0 {
			s.log.Debug("dedupe window pruned", "count", n)
		}
	}
	cutoff := s.cfg.Clock.Now().Add(-s.cfg.Retention)
	n, err := s.cfg.Store.PruneProcessed(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("processed events pruned", "count", n, "before", cutoff.UTC().Format(time.RFC3339))
	}
	return n, nil
}

func (s *Scheduler) expireTask() {
	if _, err := s.ExpireNow(s.ctx); err != nil {
		s.log.Error("expire campaigns failed", "error", err)
	}
}

func (s *Scheduler) pruneTask() {
	if _, err := s.PruneNow(s.ctx); err != nil {
		s.log.Error("prune processed events failed", "error", err)
	}
}
