package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore holds the Redis-backed request counters and IP blocks used by
// the rate limiter. Chat data never goes through Redis.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// CountAndAdd records one hit for key in the current window and returns the
// number of hits seen before it.
func (s *RedisStore) CountAndAdd(ctx context.Context, key string, window time.Duration) (int64, error) {
	now := time.Now()
	windowStart := now.Add(-window)
	windowKey := fmt.Sprintf("%s:%d", key, now.Unix()/int64(window.Seconds()))

	pipe := s.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, windowKey, "-inf", fmt.Sprintf("%d", windowStart.UnixMilli()))
	countCmd := pipe.ZCard(ctx, windowKey)
	pipe.ZAdd(ctx, windowKey, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})
	pipe.Expire(ctx, windowKey, window*2)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return countCmd.Val(), nil
}

// IncrViolations bumps the violation counter for ip and returns the new value.
func (s *RedisStore) IncrViolations(ctx context.Context, ip string) (int64, error) {
	key := "violations:ip:" + ip
	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	s.client.Expire(ctx, key, time.Hour)
	return count, nil
}

func blockedKey(ip string) string {
	return "blocked:ip:" + ip
}

// IsBlocked reports whether ip is currently blocked.
func (s *RedisStore) IsBlocked(ctx context.Context, ip string) bool {
	exists, _ := s.client.Exists(ctx, blockedKey(ip)).Result()
	return exists > 0
}

// Block blocks ip for the given duration.
func (s *RedisStore) Block(ctx context.Context, ip string, duration time.Duration, reason string) error {
	return s.client.Set(ctx, blockedKey(ip), reason, duration).Err()
}
