package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisGuardPrefix = "playsched:guard:"

// releaseScript deletes the key only if it still holds our token, so an
// expired lease re-acquired by another replica is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisGuard shares the per-key guard across replicas through Redis.
type RedisGuard struct {
	client redis.UniversalClient
	ttl    time.Duration
}

var _ Guard = (*RedisGuard)(nil)

// NewRedisGuard creates a guard whose leases expire after ttl. The ttl must
// exceed the longest fire.
func NewRedisGuard(client redis.UniversalClient, ttl time.Duration) *RedisGuard {
	return &RedisGuard{client: client, ttl: ttl}
}

// TryAcquire sets the lease with SET NX PX.
func (g *RedisGuard) TryAcquire(ctx context.Context, key string) (func(), error) {
	k := redisGuardPrefix + key
	token := uuid.NewString()

	ok, err := g.client.SetNX(ctx, k, token, g.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire guard %s: %w", key, err)
	}
	if !ok {
		return nil, ErrInProgress
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		// An error here leaves the lease to expire on its own.
		_ = releaseScript.Run(ctx, g.client, []string{k}, token).Err()
	}, nil
}
