package cache

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "cache:"

// RedisStore backs the cache with Redis so entries survive restarts and are
// shared across instances. All errors are logged and treated as misses; the
// caller-facing contract stays infallible.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
}

func NewRedisStore(client *redis.Client, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{client: client, logger: logger}
}

func (s *RedisStore) Get(ctx context.Context, fingerprint string) (string, bool) {
	content, err := s.client.Get(ctx, redisKeyPrefix+fingerprint).Result()
	if err != nil {
		if err != redis.Nil {
			s.logger.Warn("cache: redis get failed", "error", err)
		}
		return "", false
	}
	return content, true
}

func (s *RedisStore) Put(ctx context.Context, fingerprint, content string) {
	if err := s.client.Set(ctx, redisKeyPrefix+fingerprint, content, 0).Err(); err != nil {
		s.logger.Warn("cache: redis set failed", "error", err)
	}
}

func (s *RedisStore) Clear(ctx context.Context) {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, redisKeyPrefix+"*", 500).Result()
		if err != nil {
			s.logger.Warn("cache: redis scan failed", "error", err)
			return
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				s.logger.Warn("cache: redis del failed", "error", err)
				return
			}
		}
		cursor = next
		if cursor == 0 {
			return
		}
	}
}
