package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps counters as Redis integers that expire after their period.
type RedisStore struct {
	rdb   redis.UniversalClient
	grace time.Duration
}

// NewRedisStore creates a store whose keys outlive their period by grace so
// late reads of a just-closed period still see its count.
func NewRedisStore(rdb redis.UniversalClient, grace time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, grace: grace}
}

func redisKey(k CounterKey) string {
	return fmt.Sprintf("usage:%s:%s:%d", k.SubscriptionID, k.FeatureCode, k.Period.Start.Unix())
}

func (s *RedisStore) Current(ctx context.Context, key CounterKey) (int64, error) {
	n, err := s.rdb.Get(ctx, redisKey(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading usage counter: %w", err)
	}
	return n, nil
}

func (s *RedisStore) Increment(ctx context.Context, key CounterKey, amount int64) (int64, error) {
	k := redisKey(key)
	var incr *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.IncrBy(ctx, k, amount)
		pipe.ExpireAt(ctx, k, key.Period.End.Add(s.grace))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("incrementing usage counter: %w", err)
	}
	return incr.Val(), nil
}

// tryIncrementScript returns {applied, count}.
var tryIncrementScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local amount = tonumber(ARGV[1])
if current + amount > tonumber(ARGV[2]) then
	return {0, current}
end
local n = redis.call('INCRBY', KEYS[1], amount)
redis.call('EXPIREAT', KEYS[1], ARGV[3])
return {1, n}
`)

func (s *RedisStore) TryIncrement(ctx context.Context, key CounterKey, amount, limit int64) (int64, bool, error) {
	res, err := tryIncrementScript.Run(ctx, s.rdb,
		[]string{redisKey(key)},
		amount, limit, key.Period.End.Add(s.grace).Unix(),
	).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("conditionally incrementing usage counter: %w", err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("unexpected script reply %v", res)
	}
	return res[1], res[0] == 1, nil
}
