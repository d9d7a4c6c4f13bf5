package core

// scheduler.go runs every target on a fixed interval.
//
// The sync job runs once immediately and then on every tick until ctx is
// cancelled. Each cycle resumes every target from its stored cursor, so a
// cycle that finds no new records is a cheap no-op. Failures are logged and
// never stop the scheduler; a target that is still busy from a manual run
// is skipped for that cycle.

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// SyncConfig holds configuration for the sync scheduler.
type SyncConfig struct {
	Interval time.Duration // how often to run; must be positive
	Targets  []string      // target ids; empty means all
	Parallel int           // concurrent targets per cycle (default: limiter size)
}

// StartSyncScheduler blocks running sync cycles until ctx is cancelled.
func (s *Service) StartSyncScheduler(ctx context.Context, cfg SyncConfig) {
	if cfg.Interval <= 0 {
		slog.Warn("sync scheduler disabled", "interval", cfg.Interval)
		return
	}
	slog.Info("sync scheduler started", "interval", cfg.Interval, "targets", len(cfg.Targets))

	s.runSyncJob(ctx, cfg)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("sync scheduler stopped")
			return
		case <-ticker.C:
			s.runSyncJob(ctx, cfg)
		}
	}
}

// runSyncJob performs one cycle over the configured targets.
func (s *Service) runSyncJob(ctx context.Context, cfg SyncConfig) {
	start := time.Now()
	results, err := s.RunAll(ctx, cfg.Targets, RunOptions{}, cfg.Parallel)
	if results == nil {
		slog.Error("sync job failed", "error", err)
		return
	}

	var submitted, failed int
	for _, r := range results {
		switch {
		case errors.Is(r.Err, ErrTargetBusy):
			slog.Info("sync skipped busy target", "target", r.TargetID)
		case r.Err != nil:
			failed++
			slog.Error("sync run failed", "target", r.TargetID, "error", r.Err)
		}
		if r.Result != nil {
			submitted += r.Result.Submitted
		}
	}

	slog.Info("sync job completed",
		"targets", len(results),
		"submitted", submitted,
		"failed", failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
