package ratelimit_test

import (
	"context"
	"errors"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/go-redis/redis_rate/v10"
	"github.com/golang/mock/gomock"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/ff-margin-indexer/internal/logger"
	"github.com/feral-file/ff-margin-indexer/internal/mocks"
	"github.com/feral-file/ff-margin-indexer/internal/ratelimit"
)

func TestMain(m *testing.M) {
	// Initialize logger for tests
	err := logger.Initialize(logger.Config{
		Debug: false,
	})
	if err != nil {
		panic(err)
	}

	code := m.Run()
	os.Exit(code)
}

var testConfig = ratelimit.Config{
	Key:                     "rpc:eip155:42161",
	RequestsPerSecond:       10,
	Burst:                   20,
	MaxQueueTime:            time.Minute,
	MaxWorkers:              2,
	MaxQueueSize:            10,
	RedisKeyPrefix:          "test:limiter:",
	EnableLocalFallback:     true,
	LocalFallbackMultiplier: 0.5,
}

// testProxyMocks contains all the mocks needed for testing the proxy
type testProxyMocks struct {
	ctrl             *gomock.Controller
	redisClient      *mocks.MockRedisClient
	redisRateLimiter *mocks.MockRedisRateLimiter
	clock            *mocks.MockClock
}

func setupTestProxy(t *testing.T) *testProxyMocks {
	ctrl := gomock.NewController(t)

	return &testProxyMocks{
		ctrl:             ctrl,
		redisClient:      mocks.NewMockRedisClient(ctrl),
		redisRateLimiter: mocks.NewMockRedisRateLimiter(ctrl),
		clock:            mocks.NewMockClock(ctrl),
	}
}

// newDistributedProxy creates a proxy backed by the mocked Redis. The health check never fires.
// Callers close the proxy before the controller finishes.
func (tm *testProxyMocks) newDistributedProxy(t *testing.T, cfg ratelimit.Config, redisAvailable bool) ratelimit.Proxy {
	statusCmd := redis.NewStatusCmd(context.Background())
	if redisAvailable {
		statusCmd.SetVal("PONG")
	} else {
		statusCmd.SetErr(errors.New("connection refused"))
	}
	tm.redisClient.EXPECT().Ping(gomock.Any()).Return(statusCmd)
	tm.redisClient.EXPECT().NewRateLimiter().Return(tm.redisRateLimiter)

	var never <-chan time.Time = make(chan time.Time)
	tm.clock.EXPECT().After(10 * time.Second).Return(never).AnyTimes()

	tm.redisClient.EXPECT().Close().Return(nil).AnyTimes()

	p, err := ratelimit.NewProxy(cfg, tm.redisClient, tm.clock)
	require.NoError(t, err)
	return p
}

func fired() <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func TestNewProxy_InvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *ratelimit.Config)
		wantErr string
	}{
		{"no key", func(cfg *ratelimit.Config) { cfg.Key = "" }, "key is required"},
		{"no rate", func(cfg *ratelimit.Config) { cfg.RequestsPerSecond = 0 }, "requests_per_second must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig
			tt.mutate(&cfg)

			p, err := ratelimit.NewProxy(cfg, nil, nil)
			assert.Nil(t, p)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewProxy_RedisUnavailable_FallbackDisabled(t *testing.T) {
	tm := setupTestProxy(t)
	defer tm.ctrl.Finish()

	statusCmd := redis.NewStatusCmd(context.Background())
	statusCmd.SetErr(errors.New("connection refused"))
	tm.redisClient.EXPECT().Ping(gomock.Any()).Return(statusCmd)

	cfg := testConfig
	cfg.EnableLocalFallback = false

	p, err := ratelimit.NewProxy(cfg, tm.redisClient, tm.clock)
	assert.Nil(t, p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis unavailable and fallback disabled")
}

func TestProxy_Request_LocalOnly(t *testing.T) {
	p, err := ratelimit.NewProxy(testConfig, nil, mocks.NewMockClock(gomock.NewController(t)))
	require.NoError(t, err)
	defer func() { _ = p.Close() }()

	value, err := ratelimit.Request(context.Background(), p, func(ctx context.Context) (uint64, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(42), value)
}

func TestProxy_Request_Distributed(t *testing.T) {
	tm := setupTestProxy(t)
	defer tm.ctrl.Finish()

	p := tm.newDistributedProxy(t, testConfig, true)
	defer func() { _ = p.Close() }()

	tm.redisRateLimiter.EXPECT().
		Allow(gomock.Any(), "test:limiter:rpc:eip155:42161", redis_rate.PerSecond(10)).
		Return(&redis_rate.Result{Allowed: 1, Remaining: 9}, nil)

	value, err := p.Request(context.Background(), func(ctx context.Context) (interface{}, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", value)
}

func TestProxy_Request_RateLimitExceeded_WaitsRetryAfter(t *testing.T) {
	tm := setupTestProxy(t)
	defer tm.ctrl.Finish()

	p := tm.newDistributedProxy(t, testConfig, true)
	defer func() { _ = p.Close() }()

	gomock.InOrder(
		tm.redisRateLimiter.EXPECT().
			Allow(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(&redis_rate.Result{Allowed: 0, RetryAfter: 100 * time.Millisecond}, nil),
		tm.clock.EXPECT().
			After(gomock.Any()).
			DoAndReturn(func(d time.Duration) <-chan time.Time {
				// Jitter keeps the wait within 50-150% of the retry-after
				assert.GreaterOrEqual(t, d, 50*time.Millisecond)
				assert.LessOrEqual(t, d, 150*time.Millisecond)
				return fired()
			}),
		tm.redisRateLimiter.EXPECT().
			Allow(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(&redis_rate.Result{Allowed: 1}, nil),
	)

	value, err := p.Request(context.Background(), func(ctx context.Context) (interface{}, error) {
		return 1, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, value)
}

func TestProxy_Request_RedisUnavailable_UsesLocal(t *testing.T) {
	tm := setupTestProxy(t)
	defer tm.ctrl.Finish()

	p := tm.newDistributedProxy(t, testConfig, false)
	defer func() { _ = p.Close() }()

	tm.redisRateLimiter.EXPECT().Allow(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	_, err := p.Request(context.Background(), func(ctx context.Context) (interface{}, error) {
		return nil, nil
	})
	assert.NoError(t, err)
}

func TestProxy_Request_RedisFailure_FallsBackToLocal(t *testing.T) {
	tm := setupTestProxy(t)
	defer tm.ctrl.Finish()

	p := tm.newDistributedProxy(t, testConfig, true)
	defer func() { _ = p.Close() }()

	// Redis is not asked again until the health check restores it
	tm.redisRateLimiter.EXPECT().
		Allow(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, errors.New("i/o timeout")).
		Times(1)

	for i := 0; i < 3; i++ {
		_, err := p.Request(context.Background(), func(ctx context.Context) (interface{}, error) {
			return nil, nil
		})
		assert.NoError(t, err)
	}
}

func TestProxy_Request_RedisFailure_NoFallback(t *testing.T) {
	tm := setupTestProxy(t)
	defer tm.ctrl.Finish()

	cfg := testConfig
	cfg.EnableLocalFallback = false
	p := tm.newDistributedProxy(t, cfg, true)
	defer func() { _ = p.Close() }()

	tm.redisRateLimiter.EXPECT().
		Allow(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, errors.New("i/o timeout"))

	called := false
	_, err := p.Request(context.Background(), func(ctx context.Context) (interface{}, error) {
		called = true
		return nil, nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis rate limiter unavailable")
	assert.False(t, called)
}

func TestProxy_Request_FunctionError(t *testing.T) {
	p, err := ratelimit.NewProxy(testConfig, nil, nil)
	require.NoError(t, err)
	defer func() { _ = p.Close() }()

	_, err = p.Request(context.Background(), func(ctx context.Context) (interface{}, error) {
		return nil, assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
}

func TestProxy_Request_ContextCanceled(t *testing.T) {
	p, err := ratelimit.NewProxy(testConfig, nil, nil)
	require.NoError(t, err)
	defer func() { _ = p.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = p.Request(ctx, func(ctx context.Context) (interface{}, error) {
		t.Fatal("request must not run")
		return nil, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProxy_Close(t *testing.T) {
	tm := setupTestProxy(t)
	defer tm.ctrl.Finish()

	statusCmd := redis.NewStatusCmd(context.Background())
	statusCmd.SetVal("PONG")
	tm.redisClient.EXPECT().Ping(gomock.Any()).Return(statusCmd)
	tm.redisClient.EXPECT().NewRateLimiter().Return(tm.redisRateLimiter)
	var never <-chan time.Time = make(chan time.Time)
	tm.clock.EXPECT().After(gomock.Any()).Return(never).AnyTimes()

	p, err := ratelimit.NewProxy(testConfig, tm.redisClient, tm.clock)
	require.NoError(t, err)

	// Closing twice closes Redis once
	tm.redisClient.EXPECT().Close().Return(nil).Times(1)
	assert.NoError(t, p.Close())
	assert.NoError(t, p.Close())

	_, err = p.Request(context.Background(), func(ctx context.Context) (interface{}, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, ratelimit.ErrProxyClosed)
}

func TestRequest_NilProxy(t *testing.T) {
	value, err := ratelimit.Request(context.Background(), nil, func(ctx context.Context) (string, error) {
		return "direct", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "direct", value)
}

func TestEthClient_RoutesCallsThroughProxy(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	client := mocks.NewMockEthClient(ctrl)
	p := mocks.NewMockRateLimitProxy(ctrl)
	wrapped := ratelimit.NewEthClient(client, p)

	// The proxy runs each call it is handed
	p.EXPECT().
		Request(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, fn ratelimit.RequestFunc) (interface{}, error) {
			return fn(ctx)
		}).
		Times(3)

	query := ethereum.FilterQuery{FromBlock: big.NewInt(1), ToBlock: big.NewInt(10)}
	logs := []types.Log{{BlockNumber: 5, Index: 1}}
	client.EXPECT().FilterLogs(gomock.Any(), query).Return(logs, nil)
	gotLogs, err := wrapped.FilterLogs(context.Background(), query)
	require.NoError(t, err)
	assert.Equal(t, logs, gotLogs)

	header := &types.Header{Number: big.NewInt(10), Time: 1700000000}
	client.EXPECT().HeaderByNumber(gomock.Any(), big.NewInt(10)).Return(header, nil)
	gotHeader, err := wrapped.HeaderByNumber(context.Background(), big.NewInt(10))
	require.NoError(t, err)
	assert.Equal(t, header, gotHeader)

	token := common.HexToAddress("0x82af49447d8a07e3bd95bd0d56f35241523fbab1")
	client.EXPECT().CallContract(gomock.Any(), ethereum.CallMsg{To: &token}, (*big.Int)(nil)).Return(nil, assert.AnError)
	_, err = wrapped.CallContract(context.Background(), ethereum.CallMsg{To: &token}, nil)
	assert.ErrorIs(t, err, assert.AnError)

	client.EXPECT().Close()
	wrapped.Close()
}
