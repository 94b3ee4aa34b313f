package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLockManager_AcquireRelease(t *testing.T) {
	ctx := context.Background()
	lm := NewLockManager(time.Hour)
	defer lm.Stop()

	ok, err := lm.AcquireLock(ctx, "presence:reaper", time.Minute)
	if err != nil || !ok {
		t.Fatalf("Expected first acquire to succeed, got %v, %v", ok, err)
	}
	if ok, _ := lm.AcquireLock(ctx, "presence:reaper", time.Minute); ok {
		t.Error("Expected second acquire to fail while held")
	}
	if locked, _ := lm.IsLocked(ctx, "presence:reaper"); !locked {
		t.Error("Expected lock to be held")
	}

	if err := lm.ReleaseLock(ctx, "presence:reaper"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if ok, _ := lm.AcquireLock(ctx, "presence:reaper", time.Minute); !ok {
		t.Error("Expected acquire after release to succeed")
	}
}

func TestLockManager_Expiry(t *testing.T) {
	ctx := context.Background()
	lm := NewLockManager(time.Hour)
	defer lm.Stop()

	now := time.Unix(1_700_000_000, 0)
	lm.now = func() time.Time { return now }

	if ok, _ := lm.AcquireLock(ctx, "k", time.Second); !ok {
		t.Fatal("Expected acquire to succeed")
	}
	now = now.Add(time.Second)
	if locked, _ := lm.IsLocked(ctx, "k"); locked {
		t.Error("Expected lock to lapse at its TTL")
	}
	if ok, _ := lm.AcquireLock(ctx, "k", time.Second); !ok {
		t.Error("Expected a lapsed lock to be re-acquirable")
	}
}

func TestLockManager_ConcurrentAcquire(t *testing.T) {
	ctx := context.Background()
	lm := NewLockManager(time.Hour)
	defer lm.Stop()

	var winners int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := lm.AcquireLock(ctx, "k", time.Minute); ok {
				atomic.AddInt32(&winners, 1)
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("Expected exactly one winner, got %d", winners)
	}
}

func TestLockManager_CanceledContext(t *testing.T) {
	lm := NewLockManager(time.Hour)
	defer lm.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := lm.AcquireLock(ctx, "k", time.Minute); err == nil {
		t.Error("Expected error for canceled context")
	}
	lm.Stop()
}
