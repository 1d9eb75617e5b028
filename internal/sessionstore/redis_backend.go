package sessionstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisBackend stores session records in a shared Redis, for hosts
// that run multiple engine instances against the same persisted
// credential set, or that already run this org's Redis-backed job
// queue and would rather not stand up a second storage mechanism.
type redisBackend struct {
	client  *redis.Client
	timeout time.Duration
}

func newRedisBackend(addr, password string, db int, timeout time.Duration) (*redisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis session store at %s: %w", addr, err)
	}

	return &redisBackend{client: client, timeout: timeout}, nil
}

func (r *redisBackend) put(ctx context.Context, key string, value []byte) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.client.Set(ctx, key, value, 0).Err()
}

func (r *redisBackend) get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	value, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return value, nil
}

func (r *redisBackend) delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.client.Del(ctx, key).Err()
}

func (r *redisBackend) forEachPrefix(ctx context.Context, prefix string, fn func(key string, value []byte) error) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	iter := r.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()

		value, err := r.client.Get(ctx, key).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return err
		}

		if err := fn(key, value); err != nil {
			return err
		}
	}

	return iter.Err()
}

func (r *redisBackend) close() error {
	return r.client.Close()
}
