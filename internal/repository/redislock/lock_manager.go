// Package redislock implements repository.LockManager on Redis so that several
// service instances sharing one Redis presence store agree on who sweeps.
package redislock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"rydar/internal/repository"
)

// releaseScript deletes the lock only if this holder still owns it; a lock
// that lapsed and was re-taken by another instance is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

type LockManager struct {
	client *redis.Client
	prefix string
	token  string
}

// NewLockManager stores locks under prefix:lock:<key>. Each manager carries a
// random token identifying this process as the holder.
func NewLockManager(client *redis.Client, prefix string) *LockManager {
	return &LockManager{
		client: client,
		prefix: prefix,
		token:  uuid.NewString(),
	}
}

var _ repository.LockManager = (*LockManager)(nil)

func (lm *LockManager) key(k string) string {
	return lm.prefix + ":lock:" + k
}

func (lm *LockManager) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return lm.client.SetNX(ctx, lm.key(key), lm.token, ttl).Result()
}

func (lm *LockManager) ReleaseLock(ctx context.Context, key string) error {
	return releaseScript.Run(ctx, lm.client, []string{lm.key(key)}, lm.token).Err()
}

func (lm *LockManager) IsLocked(ctx context.Context, key string) (bool, error) {
	n, err := lm.client.Exists(ctx, lm.key(key)).Result()
	return n > 0, err
}
