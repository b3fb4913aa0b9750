package lock

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes key only if its value still matches the caller's
// owner token — the fencing check that keeps a connection that lost its
// lock to TTL expiry from deleting whoever holds it now.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// RedisService implements Service on top of a Redis SET NX PX / Lua
// compare-and-delete pair, the idiom go-redis client code in the wider
// corpus builds distributed locks on.
type RedisService struct {
	rdb *redis.Client
}

// NewRedis wraps an existing client. Passing a nil client is a
// programmer error and panics immediately rather than failing locks
// silently later.
func NewRedis(rdb *redis.Client) *RedisService {
	if rdb == nil {
		panic("lock: NewRedis requires a non-nil client")
	}
	return &RedisService{rdb: rdb}
}

func (s *RedisService) TryAcquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (s *RedisService) Release(ctx context.Context, key, owner string) error {
	res, err := releaseScript.Run(ctx, s.rdb, []string{key}, owner).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}
	if res == 0 {
		// Either never held, already released, or held by someone
		// else now (we lost it to TTL expiry) — not an error per the
		// spec: lock loss degrades to optimistic concurrency.
		return nil
	}
	return nil
}
