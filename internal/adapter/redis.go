package adapter

import (
	"context"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

// RedisClient is the Redis connection shared rate limits are kept on
//
//go:generate mockgen -source=redis.go -destination=../mocks/redis.go -package=mocks -mock_names=RedisClient=MockRedisClient,RedisRateLimiter=MockRedisRateLimiter
type RedisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
	// NewRateLimiter returns a GCRA limiter storing its state on this connection
	NewRateLimiter() RedisRateLimiter
	Close() error
}

// RedisRateLimiter takes tokens from a limit shared by every client of a key
type RedisRateLimiter interface {
	// Allow takes one token of key. A result with Allowed 0 carries the wait before a retry.
	Allow(ctx context.Context, key string, limit redis_rate.Limit) (*redis_rate.Result, error)
}

type redisClient struct {
	client *redis.Client
}

// NewRedisClient connects lazily to the Redis server at addr
func NewRedisClient(addr, password string, db int) RedisClient {
	return &redisClient{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

func (r *redisClient) Ping(ctx context.Context) *redis.StatusCmd {
	return r.client.Ping(ctx)
}

func (r *redisClient) NewRateLimiter() RedisRateLimiter {
	return redis_rate.NewLimiter(r.client)
}

func (r *redisClient) Close() error {
	return r.client.Close()
}
