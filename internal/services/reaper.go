package services

import (
	"context"
	"log/slog"
	"time"

	"rydar/internal/config"
	"rydar/internal/geo"
	"rydar/internal/repository"
)

// ReaperLockKey is the lock a sweep holds so that instances sharing one
// presence store do not sweep it concurrently.
const ReaperLockKey = "presence:reaper"

// Reaper evicts presences whose driver has stopped pushing. It is what makes
// "stop broadcasting" eventually true for a client that crashed or lost
// signal without calling DELETE /me/location.
//
// Go Learning Note: Background Workers
// Run blocks until its context is canceled, so main starts it in its own
// goroutine (through an errgroup) and stops it by canceling the shared
// context on shutdown. Nothing else is needed to end the loop cleanly.
type Reaper struct {
	index    geo.Index
	locks    repository.LockManager // optional
	window   time.Duration
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewReaper creates a Reaper. locks may be nil for a single instance.
func NewReaper(index geo.Index, locks repository.LockManager, cfg config.PresenceConfig, logger *slog.Logger) *Reaper {
	return &Reaper{
		index:    index,
		locks:    locks,
		window:   cfg.FreshnessWindow,
		interval: cfg.ReapInterval,
		logger:   logger,
		now:      time.Now,
	}
}

// Run sweeps every interval until ctx is done.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reaper started", "interval", r.interval, "freshness_window", r.window)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper stopped")
			return nil
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("sweep failed", "error", err)
			}
		}
	}
}

// Sweep evicts every presence last updated before now minus the freshness
// window and returns how many it removed. A failure on one driver is logged
// and the sweep moves on; only failing to list candidates aborts it.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	if r.locks != nil {
		ok, err := r.locks.AcquireLock(ctx, ReaperLockKey, r.interval)
		if err != nil {
			return 0, err
		}
		if !ok {
			r.logger.Debug("another sweep holds the reaper lock")
			return 0, nil
		}
		defer func() {
			if err := r.locks.ReleaseLock(context.WithoutCancel(ctx), ReaperLockKey); err != nil {
				r.logger.Warn("release reaper lock", "error", err)
			}
		}()
	}

	cutoff := r.now().Add(-r.window)
	ids, err := r.index.StaleIDs(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	evicted := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		removed, err := r.index.RemoveIfStale(ctx, id, cutoff)
		if err != nil {
			r.logger.Warn("evict presence", "driver_id", id, "error", err)
			continue
		}
		if removed {
			evicted++
		}
	}
	if evicted > 0 {
		r.logger.Info("evicted stale presences", "count", evicted, "candidates", len(ids))
	}
	return evicted, nil
}
