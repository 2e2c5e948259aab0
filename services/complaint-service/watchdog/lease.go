package watchdog

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultLeaseKey is shared by every complaint-service instance.
const DefaultLeaseKey = "complaint-service:watchdog:lease"

// Lease grants cross-process exclusion for one tick.
type Lease interface {
	// Acquire returns ok=false when another holder owns the lease. release
	// is non-nil only when ok is true.
	Acquire(ctx context.Context) (release func(), ok bool, err error)
}

// releaseScript deletes the key only if we still own it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLease is a SET NX PX lease with a random owner token.
type RedisLease struct {
	client redis.Cmdable
	key    string
	ttl    time.Duration
}

func NewRedisLease(client redis.Cmdable, key string, ttl time.Duration) *RedisLease {
	if key == "" {
		key = DefaultLeaseKey
	}
	return &RedisLease{client: client, key: key, ttl: ttl}
}

func (l *RedisLease) Acquire(ctx context.Context) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire watchdog lease: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil {
			log.Printf("[WARN] Failed to release watchdog lease: %v", err)
		}
	}
	return release, true, nil
}
