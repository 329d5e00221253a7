package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey holds the encoded document.
const DefaultRedisKey = "relayswitch:history"

// RedisBackend stores the document as one Redis string.
type RedisBackend struct {
	client redis.UniversalClient
	key    string
}

// NewRedisBackend returns a backend on client. An empty key selects
// DefaultRedisKey.
func NewRedisBackend(client redis.UniversalClient, key string) *RedisBackend {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisBackend{client: client, key: key}
}

func (b *RedisBackend) Name() string { return "redis" }

// Key returns the Redis key in use.
func (b *RedisBackend) Key() string { return b.key }

func (b *RedisBackend) Load(ctx context.Context) ([]byte, error) {
	data, err := b.client.Get(ctx, b.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	return data, nil
}

func (b *RedisBackend) Save(ctx context.Context, data []byte) error {
	if err := b.client.Set(ctx, b.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save history: %w", err)
	}
	return nil
}

func (b *RedisBackend) Size(ctx context.Context) (int64, error) {
	n, err := b.client.StrLen(ctx, b.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read history size: %w", err)
	}
	return n, nil
}

// Ping checks that the server answers.
func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}
