package idempotency

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend adapts a *redis.Client to Backend, dialing and pinging
// at construction so a bad address fails at startup.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend dials addr and verifies the connection before
// returning, so a misconfigured backend fails at startup rather than
// on the first idempotent request.
func NewRedisBackend(addr, password string, db int) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisBackend{client: client}, nil
}

func (b *RedisBackend) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return b.client.Set(ctx, "idempotency:"+key, value, ttl).Err()
}

func (b *RedisBackend) Get(ctx context.Context, key string) (string, error) {
	v, err := b.client.Get(ctx, "idempotency:"+key).Result()
	if err == redis.Nil {
		return "", nil
	}
	return v, err
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}
