// Package ratelimit throttles calls to an external provider, such as a shared JSON-RPC
// endpoint, with a Redis-backed limit shared by every process using the same key and a
// local limiter as fallback.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/go-redis/redis_rate/v10"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/feral-file/ff-margin-indexer/internal/adapter"
	"github.com/feral-file/ff-margin-indexer/internal/logger"
)

const redisHealthCheckInterval = 10 * time.Second

// ErrProxyClosed is returned for requests submitted after Close
var ErrProxyClosed = errors.New("rate limit proxy is closed")

// Config holds the limits of one provider
type Config struct {
	// Key identifies the provider; processes sharing a key share its limit
	Key               string
	RequestsPerSecond int
	Burst             int
	// MaxQueueTime bounds the wait for a token
	MaxQueueTime time.Duration
	// MaxWorkers bounds the requests in flight
	MaxWorkers   int
	MaxQueueSize int

	RedisKeyPrefix      string
	EnableLocalFallback bool
	// LocalFallbackMultiplier scales the local rate, since other processes may share the provider
	LocalFallbackMultiplier float64
}

// RequestFunc is a function that performs the actual provider call
type RequestFunc func(ctx context.Context) (interface{}, error)

// requestResult wraps the result and error of a request
type requestResult struct {
	value interface{}
	err   error
}

// Proxy defines the interface for rate-limiting proxy
//
//go:generate mockgen -source=proxy.go -destination=../mocks/ratelimit_proxy.go -package=mocks -mock_names=Proxy=MockRateLimitProxy
type Proxy interface {
	// Request runs fn once a token is acquired
	Request(ctx context.Context, fn RequestFunc) (interface{}, error)

	// Close gracefully shuts down the proxy
	Close() error
}

type proxy struct {
	config             Config
	pool               pond.ResultPool[*requestResult]
	redis              adapter.RedisClient
	distributedLimiter adapter.RedisRateLimiter
	localLimiter       *rate.Limiter
	preFilterLimiter   *rate.Limiter
	clock              adapter.Clock
	closed             atomic.Bool
	closeOnce          sync.Once
	done               chan struct{}
	redisAvailable     atomic.Bool
}

// NewProxy creates a new rate-limiting proxy. A nil rc limits locally only.
func NewProxy(cfg Config, rc adapter.RedisClient, clock adapter.Clock) (Proxy, error) {
	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	p := &proxy{
		config: cfg,
		pool: pond.NewResultPool[*requestResult](
			cfg.MaxWorkers,
			pond.WithQueueSize(cfg.MaxQueueSize),
		),
		redis: rc,
		// Minimum rate of 1.0
		localLimiter: rate.NewLimiter(rate.Limit(max(float64(cfg.RequestsPerSecond)*cfg.LocalFallbackMultiplier, 1.0)), cfg.Burst),
		// Same rate as the provider, to spare Redis the requests that would be refused anyway
		preFilterLimiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		clock:            clock,
		done:             make(chan struct{}),
	}

	if rc != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		redisAvailable := true
		if err := rc.Ping(ctx).Err(); err != nil {
			redisAvailable = false
			if !cfg.EnableLocalFallback {
				p.pool.Stop()
				return nil, fmt.Errorf("redis unavailable and fallback disabled: %w", err)
			}
			logger.Warn("Redis unavailable, will use local fallback", zap.Error(err))
		}

		p.distributedLimiter = rc.NewRateLimiter()
		p.redisAvailable.Store(redisAvailable)

		go p.monitorRedisHealth()
	}

	logger.Info("Rate limit proxy initialized",
		zap.String("key", cfg.Key),
		zap.Int("requests_per_second", cfg.RequestsPerSecond),
		zap.Int("max_workers", cfg.MaxWorkers),
		zap.Bool("distributed", rc != nil),
		zap.Bool("local_fallback", cfg.EnableLocalFallback),
	)

	return p, nil
}

// Request runs fn through p and returns its typed result. A nil p runs fn directly.
func Request[T any](ctx context.Context, p Proxy, fn func(ctx context.Context) (T, error)) (T, error) {
	if p == nil {
		return fn(ctx)
	}

	var zero T
	result, err := p.Request(ctx, func(ctx context.Context) (interface{}, error) {
		return fn(ctx)
	})
	if err != nil {
		return zero, err
	}
	if result == nil {
		return zero, nil
	}
	return result.(T), nil
}

// Request runs fn once a token is acquired. It blocks until fn completed, ctx is done or
// the queue time is exceeded.
func (p *proxy) Request(ctx context.Context, fn RequestFunc) (interface{}, error) {
	if p.closed.Load() {
		return nil, ErrProxyClosed
	}

	task := p.pool.SubmitErr(func() (*requestResult, error) {
		queueCtx, cancel := context.WithTimeout(ctx, p.config.MaxQueueTime)
		err := p.acquireToken(queueCtx)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire rate limit token for %s: %w", p.config.Key, err)
		}

		value, err := fn(ctx)
		return &requestResult{value: value, err: err}, nil
	})

	result, err := task.Wait()
	if err != nil {
		return nil, err
	}
	return result.value, result.err
}

// acquireToken blocks until a token is available
func (p *proxy) acquireToken(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if p.redisAvailable.Load() {
			allowed, retryAfter, err := p.tryDistributedLimit(ctx)
			switch {
			case err != nil:
				if ctx.Err() != nil {
					return ctx.Err()
				}

				p.redisAvailable.Store(false)
				if !p.config.EnableLocalFallback {
					return fmt.Errorf("redis rate limiter unavailable: %w", err)
				}
				logger.Warn("Redis rate limiter error, falling back to local",
					zap.String("key", p.config.Key),
					zap.Error(err),
				)
			case allowed:
				return nil
			default:
				// Spread retries over 50-150% of retryAfter
				jitter := time.Duration(float64(retryAfter) * (0.5 + rand.Float64())) //nolint:gosec,G404
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-p.clock.After(jitter):
					continue
				}
			}
		}

		if p.distributedLimiter == nil || p.config.EnableLocalFallback {
			return p.localLimiter.Wait(ctx)
		}

		// Redis is down and there is no fallback; wait for the health check to restore it
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.clock.After(100 * time.Millisecond):
		}
	}
}

// tryDistributedLimit attempts to acquire a token from the distributed limiter
func (p *proxy) tryDistributedLimit(ctx context.Context) (bool, time.Duration, error) {
	if err := p.preFilterLimiter.Wait(ctx); err != nil {
		return false, 0, err
	}

	res, err := p.distributedLimiter.Allow(ctx, p.config.RedisKeyPrefix+p.config.Key, redis_rate.PerSecond(p.config.RequestsPerSecond))
	if err != nil {
		return false, 0, err
	}

	if res.Allowed == 0 {
		logger.Debug("Rate limit token unavailable, waiting",
			zap.String("key", p.config.Key),
			zap.Duration("retry_after", res.RetryAfter),
		)
		retryAfter := res.RetryAfter
		if retryAfter <= 0 {
			retryAfter = 10 * time.Millisecond
		}
		return false, retryAfter, nil
	}

	return true, 0, nil
}

// monitorRedisHealth periodically checks Redis and restores the distributed limiter
func (p *proxy) monitorRedisHealth() {
	for {
		select {
		case <-p.done:
			return
		case <-p.clock.After(redisHealthCheckInterval):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := p.redis.Ping(ctx).Err()
		cancel()

		wasAvailable := p.redisAvailable.Swap(err == nil)
		if !wasAvailable && err == nil {
			logger.Info("Redis connection restored", zap.String("key", p.config.Key))
		}
	}
}

// Close waits for in-flight requests and closes the Redis connection
func (p *proxy) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		close(p.done)

		p.pool.StopAndWait()

		if p.redis != nil {
			if closeErr := p.redis.Close(); closeErr != nil {
				logger.Warn("Error closing Redis connection", zap.Error(closeErr))
				err = closeErr
			}
		}

		logger.Info("Rate limit proxy shutdown complete", zap.String("key", p.config.Key))
	})
	return err
}

// validateConfig validates and sets defaults for the configuration
func validateConfig(cfg *Config) error {
	if cfg.Key == "" {
		return errors.New("key is required")
	}
	if cfg.RequestsPerSecond <= 0 {
		return errors.New("requests_per_second must be positive")
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.RequestsPerSecond
	}
	if cfg.MaxQueueTime <= 0 {
		cfg.MaxQueueTime = 5 * time.Minute
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 1000
	}
	if cfg.RedisKeyPrefix == "" {
		cfg.RedisKeyPrefix = "ff:margin-indexer:limiter:"
	}
	if cfg.LocalFallbackMultiplier <= 0 {
		cfg.LocalFallbackMultiplier = 0.5
	}

	return nil
}
