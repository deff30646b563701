package admission

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/isqad/robosignal/internal/core"
)

const DefaultSlotKey = "robosignal:session:slot"

var (
	// deletes the slot only if it still belongs to the connection
	releaseScript = redis.NewScript(`
local value = redis.call("GET", KEYS[1])
if not value then
	return 0
end
if cjson.decode(value)["connectionId"] == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

	refreshScript = redis.NewScript(`
local value = redis.call("GET", KEYS[1])
if not value then
	return 0
end
if cjson.decode(value)["connectionId"] == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)
)

// RedisSlot shares the slot between several robot endpoints. Expiry is
// left to redis key TTL.
type RedisSlot struct {
	rdb redis.Cmdable
	key string
}

func NewRedisSlot(rdb redis.Cmdable, key string) *RedisSlot {
	if key == "" {
		key = DefaultSlotKey
	}

	return &RedisSlot{rdb: rdb, key: key}
}

func (s *RedisSlot) Acquire(ctx context.Context, lease Lease, ttl time.Duration) (bool, error) {
	lease.ExpiresAt = time.Now().Add(ttl)

	value, err := json.Marshal(lease)
	if err != nil {
		return false, err
	}

	return s.rdb.SetNX(ctx, s.key, value, ttl).Result()
}

func (s *RedisSlot) Current(ctx context.Context) (Lease, bool, error) {
	value, err := s.rdb.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Lease{}, false, nil
	}
	if err != nil {
		return Lease{}, false, err
	}

	lease := Lease{}
	if err := json.Unmarshal(value, &lease); err != nil {
		return Lease{}, false, err
	}

	return lease, true, nil
}

func (s *RedisSlot) Release(ctx context.Context, connID core.ConnectionID) (bool, error) {
	n, err := releaseScript.Run(ctx, s.rdb, []string{s.key}, string(connID)).Int()
	if err != nil {
		return false, err
	}

	return n == 1, nil
}

func (s *RedisSlot) Refresh(ctx context.Context, connID core.ConnectionID, ttl time.Duration) (bool, error) {
	n, err := refreshScript.Run(ctx, s.rdb, []string{s.key}, string(connID), ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}

	return n == 1, nil
}
