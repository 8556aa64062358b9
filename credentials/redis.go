package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

var _ Backend = (*RedisBackend)(nil)

// RedisBackend stores entries as plain redis strings under a key prefix so
// several installations can share one server.
type RedisBackend struct {
	client redis.UniversalClient
	prefix string
}

// ErrEmptyRedisPrefix is returned for an empty key prefix, which would let
// Clear delete every key in the database.
var ErrEmptyRedisPrefix = errors.New("redis key prefix must not be empty")

func NewRedisBackend(client redis.UniversalClient, prefix string) (*RedisBackend, error) {
	if strings.TrimSpace(prefix) == "" {
		return nil, ErrEmptyRedisPrefix
	}
	return &RedisBackend{client: client, prefix: prefix}, nil
}

func (r *RedisBackend) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, r.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *RedisBackend) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get: %w", err)
	}
	return v, true, nil
}

func (r *RedisBackend) Remove(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Clear deletes every prefixed key. A failed delete is recorded and the
// remaining keys are still removed.
func (r *RedisBackend) Clear(ctx context.Context) error {
	keys, err := r.scan(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, k := range keys {
		if err := r.client.Del(ctx, k).Err(); err != nil {
			errs = append(errs, fmt.Errorf("redis del %s: %w", k, err))
		}
	}
	return errors.Join(errs...)
}

func (r *RedisBackend) Keys(ctx context.Context) ([]string, error) {
	keys, err := r.scan(ctx)
	if err != nil {
		return nil, err
	}
	for i, k := range keys {
		keys[i] = strings.TrimPrefix(k, r.prefix)
	}
	return keys, nil
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}

func (r *RedisBackend) scan(ctx context.Context) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	return keys, nil
}
