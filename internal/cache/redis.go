package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores cache entries in Redis so multiple pipeline instances
// can share one completion cache.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend connects to Redis and verifies the connection.
func NewRedisBackend(addr, password string, db int) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	log.Printf("[Cache] Connected to Redis at %s", addr)
	return &RedisBackend{client: client, prefix: "postmint:completion:"}, nil
}

func (b *RedisBackend) Get(ctx context.Context, key string) (*Entry, bool) {
	data, err := b.client.Get(ctx, b.prefix+key).Bytes()
	if err != nil {
		return nil, false
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false
	}
	return &entry, true
}

func (b *RedisBackend) Set(ctx context.Context, key, text string, ttl time.Duration) error {
	entry := Entry{Key: key, Text: text, CachedAt: time.Now()}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	return b.client.Set(ctx, b.prefix+key, data, ttl).Err()
}

func (b *RedisBackend) Delete(ctx context.Context, key string) {
	b.client.Del(ctx, b.prefix+key)
}

func (b *RedisBackend) Clear(ctx context.Context) {
	iter := b.client.Scan(ctx, 0, b.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		b.client.Del(ctx, iter.Val())
	}
}

// Close releases the Redis connection.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
