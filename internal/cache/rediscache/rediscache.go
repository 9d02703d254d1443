package rediscache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// newClient uses short timeouts: both users treat Redis as optional and
// fall back to the database or an unthrottled call when it is slow.
func newClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
}

// RedisCache stores encoded API responses.
type RedisCache struct {
	c *redis.Client
}

func New(addr string) *RedisCache {
	return &RedisCache{c: newClient(addr)}
}

func (r *RedisCache) Ping(ctx context.Context) error {
	return errors.Wrap(r.c.Ping(ctx).Err(), "redis ping")
}

func (r *RedisCache) Close() error {
	return r.c.Close()
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.c.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, false, nil
	case err != nil:
		return nil, false, errors.Wrapf(err, "redis get %s", key)
	}
	return val, true, nil
}

// Set stores value under key. A non-positive ttl is rejected: cached
// responses must always expire.
func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.Errorf("redis set %s: ttl must be positive", key)
	}
	return errors.Wrapf(r.c.Set(ctx, key, value, ttl).Err(), "redis set %s", key)
}

// DeletePrefix removes every key starting with prefix and returns how many
// were removed. SCAN plus UNLINK keeps the server responsive.
func (r *RedisCache) DeletePrefix(ctx context.Context, prefix string) (int64, error) {
	var deleted int64
	iter := r.c.Scan(ctx, 0, prefix+"*", 200).Iterator()
	batch := make([]string, 0, 200)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := r.c.Unlink(ctx, batch...).Result()
		if err != nil {
			return errors.Wrap(err, "redis unlink")
		}
		deleted += n
		batch = batch[:0]
		return nil
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return deleted, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, errors.Wrap(err, "redis scan")
	}
	return deleted, flush()
}
