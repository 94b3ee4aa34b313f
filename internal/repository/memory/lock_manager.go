package memory

import (
	"context"
	"sync"
	"time"

	"rydar/internal/repository"
)

// lockEntry is a held lock and the moment it lapses.
type lockEntry struct {
	expiresAt time.Time
}

// LockManager is the single-process LockManager. The staleness reaper takes a
// lock per sweep so overlapping sweeps never run; with the Redis presence
// backend the Redis-backed manager replaces this one so that only one service
// instance sweeps per tick.
//
// Go Learning Note: Channels for Signaling
// stop is a chan struct{} used purely as a signal. Closing it wakes every
// receiver at once, which is how Stop tells the janitor goroutine to exit.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]lockEntry
	now   func() time.Time
	stop  chan struct{}
	once  sync.Once
}

// NewLockManager creates a LockManager and starts a janitor goroutine that
// drops lapsed locks every cleanupInterval.
func NewLockManager(cleanupInterval time.Duration) *LockManager {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Second
	}
	lm := &LockManager{
		locks: make(map[string]lockEntry),
		now:   time.Now,
		stop:  make(chan struct{}),
	}
	go lm.janitor(cleanupInterval)
	return lm
}

var _ repository.LockManager = (*LockManager)(nil)

// AcquireLock takes key for ttl. It returns false without error when someone
// else holds an unexpired lock on key.
func (lm *LockManager) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := lm.now()
	if entry, held := lm.locks[key]; held && now.Before(entry.expiresAt) {
		return false, nil
	}
	lm.locks[key] = lockEntry{expiresAt: now.Add(ttl)}
	return true, nil
}

func (lm *LockManager) ReleaseLock(ctx context.Context, key string) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	delete(lm.locks, key)
	return nil
}

func (lm *LockManager) IsLocked(ctx context.Context, key string) (bool, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	entry, held := lm.locks[key]
	return held && lm.now().Before(entry.expiresAt), nil
}

// janitor removes lapsed locks until Stop is called.
//
// Go Learning Note: select with a Ticker
// The loop blocks on whichever channel is ready first: the ticker (do a
// sweep) or stop (return). ticker.Stop in a defer releases the timer.
func (lm *LockManager) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			lm.mu.Lock()
			now := lm.now()
			for key, entry := range lm.locks {
				if !now.Before(entry.expiresAt) {
					delete(lm.locks, key)
				}
			}
			lm.mu.Unlock()
		case <-lm.stop:
			return
		}
	}
}

// Stop ends the janitor goroutine. It is safe to call more than once.
func (lm *LockManager) Stop() {
	lm.once.Do(func() { close(lm.stop) })
}
