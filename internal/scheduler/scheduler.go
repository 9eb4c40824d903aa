// Package scheduler runs periodic stale-account refreshes and activity
// cleanup on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"ghfeed/internal/refresh"
)

// Refresher refreshes the least recently refreshed accounts.
type Refresher interface {
	RefreshStale(ctx context.Context, limit int) (refresh.StaleResult, error)
}

// Cleaner prunes stored activity.
type Cleaner interface {
	Cleanup(ctx context.Context, keep int) (int64, error)
}

// Config holds the job schedules in standard cron syntax; descriptors such
// as "@every 15m" and "@daily" are accepted.
type Config struct {
	RefreshSpec    string
	CleanupSpec    string
	StaleBatch     int
	KeepPerAccount int
}

// Scheduler periodically refreshes stale accounts and prunes old activity.
type Scheduler struct {
	refresher Refresher
	cleaner   Cleaner
	log       *slog.Logger
	cfg       Config

	refreshSched cron.Schedule
	cleanupSched cron.Schedule
}

// New validates the schedules and creates a Scheduler. An empty spec
// disables the corresponding job.
func New(refresher Refresher, cleaner Cleaner, cfg Config, log *slog.Logger) (*Scheduler, error) {
	s := &Scheduler{refresher: refresher, cleaner: cleaner, log: log, cfg: cfg}
	var err error
	if cfg.RefreshSpec != "" {
		if s.refreshSched, err = cron.ParseStandard(cfg.RefreshSpec); err != nil {
			return nil, fmt.Errorf("parse refresh schedule %q: %w", cfg.RefreshSpec, err)
		}
	}
	if cfg.CleanupSpec != "" {
		if s.cleanupSched, err = cron.ParseStandard(cfg.CleanupSpec); err != nil {
			return nil, fmt.Errorf("parse cleanup schedule %q: %w", cfg.CleanupSpec, err)
		}
	}
	return s, nil
}

// Run refreshes once, then runs the jobs on their schedules until ctx is
// cancelled. It returns after running jobs have finished.
func (s *Scheduler) Run(ctx context.Context) {
	if s.refreshSched != nil {
		s.RunRefresh(ctx)
	}

	logger := cronLogger{s.log}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	if s.refreshSched != nil {
		c.Schedule(s.refreshSched, cron.FuncJob(func() { s.RunRefresh(ctx) }))
	}
	if s.cleanupSched != nil {
		c.Schedule(s.cleanupSched, cron.FuncJob(func() { s.RunCleanup(ctx) }))
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
}

// RunRefresh refreshes one batch of stale accounts.
func (s *Scheduler) RunRefresh(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	res, err := s.refresher.RefreshStale(ctx, s.cfg.StaleBatch)
	if err != nil {
		s.log.Error("scheduled refresh", "error", err)
		return
	}
	if res.Succeeded+res.Failed > 0 {
		s.log.Info("scheduled refresh finished", "succeeded", res.Succeeded, "failed", res.Failed)
	}
}

// RunCleanup prunes activity beyond the per-account limit.
func (s *Scheduler) RunCleanup(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	n, err := s.cleaner.Cleanup(ctx, s.cfg.KeepPerAccount)
	if err != nil {
		s.log.Error("scheduled cleanup", "error", err)
		return
	}
	s.log.Info("scheduled cleanup finished", "deleted", n)
}

type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
