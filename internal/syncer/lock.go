package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker serializes passes across service instances.
type Locker interface {
	// Acquire returns a release func, or ok=false when another holder owns key.
	Acquire(ctx context.Context, key string) (release func(), ok bool, err error)
}

// RedisLock is a lease held with SET NX PX. The TTL bounds how long a crashed holder
// blocks other instances.
type RedisLock struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisLock builds a lock; ttl <= 0 selects ten minutes.
func NewRedisLock(client *redis.Client, ttl time.Duration) *RedisLock {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisLock{client: client, prefix: "sync:lock:", ttl: ttl}
}

func (l *RedisLock) Acquire(ctx context.Context, key string) (func(), bool, error) {
	token := uuid.NewString()
	name := l.prefix + key
	ok, err := l.client.SetNX(ctx, name, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire %s: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		// The pass context may already be done; release on a fresh one.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.client, []string{name}, token).Err()
	}
	return release, true, nil
}

// Only the token that took the lease may drop it.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)
