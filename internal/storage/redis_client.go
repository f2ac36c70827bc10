package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisClient wraps the Redis client with the operations the warm tier needs.
type RedisClient struct {
	client *redis.Client
	ctx    context.Context
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(host string, port string) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", host, port),
		PoolSize:     100,
		MinIdleConns: 10,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		MaxRetries:   3,
	})

	ctx := context.Background()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisClient{
		client: client,
		ctx:    ctx,
	}, nil
}

// GetBytes retrieves binary data. A missing key returns (nil, nil).
func (r *RedisClient) GetBytes(key string) ([]byte, error) {
	val, err := r.client.Get(r.ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return val, err
}

// SetBytes stores binary data with a physical expiration.
func (r *RedisClient) SetBytes(key string, value []byte, expiration time.Duration) error {
	return r.client.Set(r.ctx, key, value, expiration).Err()
}

// StrLen returns the stored length of a key's value, 0 if absent.
func (r *RedisClient) StrLen(key string) (int64, error) {
	return r.client.StrLen(r.ctx, key).Result()
}

// Exists reports how many of the given keys exist.
func (r *RedisClient) Exists(keys ...string) (int64, error) {
	return r.client.Exists(r.ctx, keys...).Result()
}

// Keys returns all keys matching the glob pattern.
func (r *RedisClient) Keys(pattern string) ([]string, error) {
	return r.client.Keys(r.ctx, pattern).Result()
}

// Delete removes keys.
func (r *RedisClient) Delete(keys ...string) error {
	return r.client.Del(r.ctx, keys...).Err()
}

// DBSize returns the number of keys in the current database.
func (r *RedisClient) DBSize() (int64, error) {
	return r.client.DBSize(r.ctx).Result()
}

// FlushDB removes every key in the current database.
func (r *RedisClient) FlushDB() error {
	return r.client.FlushDB(r.ctx).Err()
}

// Close closes the connection pool.
func (r *RedisClient) Close() error {
	return r.client.Close()
}
