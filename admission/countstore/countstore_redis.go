package countstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// The daemon may share its redis with other tools, so every key this store
// writes is namespaced.
const (
	redisCountPrefix    = "pmgate/count/"
	redisDistinctPrefix = "pmgate/distinct/"
)

// rolling buckets expire on their own; all-time buckets never do
var periodTTL = map[string]time.Duration{
	PeriodHour: 2 * time.Hour,
	PeriodDay:  48 * time.Hour,
}

// RedisCountStore persists counters in redis: plain INCR counters plus
// HyperLogLog sets for distinct counts. Counts survive daemon restarts.
type RedisCountStore struct {
	Client *redis.Client
}

func NewRedisCountStore(redisURL string) (*RedisCountStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	rdb := redis.NewClient(opt)
	if _, err := rdb.Ping(context.TODO()).Result(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return &RedisCountStore{Client: rdb}, nil
}

func (s *RedisCountStore) GetCount(ctx context.Context, name, val, period string) (int, error) {
	c, err := s.Client.Get(ctx, redisCountPrefix+periodBucket(name, val, period)).Int()
	if err == redis.Nil {
		return 0, nil
	} else if err != nil {
		return 0, err
	}
	return c, nil
}

// Increment bumps the hour, day, and all-time buckets in one round-trip.
func (s *RedisCountStore) Increment(ctx context.Context, name, val string) error {
	multi := s.Client.Pipeline()
	for _, period := range []string{PeriodHour, PeriodDay, PeriodTotal} {
		key := redisCountPrefix + periodBucket(name, val, period)
		multi.Incr(ctx, key)
		if ttl, ok := periodTTL[period]; ok {
			multi.Expire(ctx, key, ttl)
		}
	}
	_, err := multi.Exec(ctx)
	return err
}

func (s *RedisCountStore) GetCountDistinct(ctx context.Context, name, bucket, period string) (int, error) {
	c, err := s.Client.PFCount(ctx, redisDistinctPrefix+periodBucket(name, bucket, period)).Result()
	if err == redis.Nil {
		return 0, nil
	} else if err != nil {
		return 0, err
	}
	return int(c), nil
}

func (s *RedisCountStore) IncrementDistinct(ctx context.Context, name, bucket, val string) error {
	multi := s.Client.Pipeline()
	for _, period := range []string{PeriodHour, PeriodDay, PeriodTotal} {
		key := redisDistinctPrefix + periodBucket(name, bucket, period)
		multi.PFAdd(ctx, key, val)
		if ttl, ok := periodTTL[period]; ok {
			multi.Expire(ctx, key, ttl)
		}
	}
	_, err := multi.Exec(ctx)
	return err
}

var _ CountStore = (*RedisCountStore)(nil)
