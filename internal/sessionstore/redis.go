//go:build !js || !wasm

package sessionstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix = "gemini-session:"
	defaultTTL       = 24 * time.Hour
)

type redisConfig struct {
	client *redis.Client
}

// WithRedisClient sets the client for the redis driver.
func WithRedisClient(client *redis.Client) StoreOption {
	return func(c *storeConfig) {
		c.redis.client = client
	}
}

// RedisStore keeps records as JSON strings with a sliding TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func newRedisStore(cfg *storeConfig) (Store, error) {
	if cfg.redis.client == nil {
		return nil, ErrInvalidConfig
	}
	return NewRedisStore(cfg.redis.client, cfg.ttl), nil
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Load(ctx context.Context, key string) (*Record, error) {
	val, err := s.client.Get(ctx, s.key(key)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return nil, err
	}

	// sliding expiry
	_ = s.client.Expire(ctx, s.key(key), s.ttl).Err()
	return &rec, nil
}

func (s *RedisStore) Save(ctx context.Context, rec *Record) error {
	rec.UpdatedAt = time.Now()
	val, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(rec.Key), val, s.ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(id string) string {
	return sessionKeyPrefix + id
}
