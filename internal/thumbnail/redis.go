package thumbnail

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nextlevelbuilder/cardswap/internal/config"
)

// RedisBackend stores each object as a hash {data, type} that expires after ttl.
type RedisBackend struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisBackend(ctx context.Context, cfg config.RedisConfig) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return NewRedisBackendFromClient(client, cfg.KeyPrefix, time.Duration(cfg.TTLSec)*time.Second), nil
}

// NewRedisBackendFromClient wraps an existing client. ttl <= 0 keeps objects forever.
func NewRedisBackendFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisBackend {
	return &RedisBackend{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisBackend) Put(ctx context.Context, key string, obj Object) error {
	k := r.prefix + key
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, k, "data", obj.Data, "type", obj.ContentType)
		if r.ttl > 0 {
			p.Expire(ctx, k, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put %s: %w", key, err)
	}
	return nil
}

func (r *RedisBackend) Get(ctx context.Context, key string) (Object, error) {
	vals, err := r.client.HMGet(ctx, r.prefix+key, "data", "type").Result()
	if errors.Is(err, redis.Nil) {
		return Object{}, ErrNotFound
	}
	if err != nil {
		return Object{}, fmt.Errorf("redis get %s: %w", key, err)
	}
	data, ok := vals[0].(string)
	if !ok {
		return Object{}, ErrNotFound
	}
	ct, _ := vals[1].(string)
	return Object{Data: []byte(data), ContentType: ct}, nil
}

func (r *RedisBackend) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key).Err()
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}
