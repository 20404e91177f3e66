package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/feral-file/ff-margin-indexer/internal/adapter"
	"github.com/feral-file/ff-margin-indexer/internal/block"
	"github.com/feral-file/ff-margin-indexer/internal/config"
	"github.com/feral-file/ff-margin-indexer/internal/emitter"
	"github.com/feral-file/ff-margin-indexer/internal/logger"
	"github.com/feral-file/ff-margin-indexer/internal/providers/ethereum"
	"github.com/feral-file/ff-margin-indexer/internal/providers/jetstream"
	"github.com/feral-file/ff-margin-indexer/internal/ratelimit"
	"github.com/feral-file/ff-margin-indexer/internal/registry"
	"github.com/feral-file/ff-margin-indexer/internal/store"
	"github.com/feral-file/ff-margin-indexer/internal/store/schema"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "config/", "Path to environment files")
)

func main() {
	flag.Parse()

	// Load configuration
	config.ChdirRepoRoot()
	cfg, err := config.LoadEthereumEmitterConfig(*configFile, *envPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger with sentry integration
	err = logger.Initialize(logger.Config{
		Debug:           cfg.Debug,
		SentryDSN:       cfg.SentryDSN,
		BreadcrumbLevel: zapcore.InfoLevel,
		Service:         "ethereum-event-emitter",
		Tags: map[string]string{
			"service": "ethereum-event-emitter",
			"chain":   string(cfg.Ethereum.ChainID),
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting Ethereum Event Emitter", zap.String("chain", string(cfg.Ethereum.ChainID)))

	// Connect to database
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{
		Logger: logger.NewGormLogger(cfg.Database.SlowQueryThreshold),
	})
	if err != nil {
		logger.FatalCtx(ctx, "Failed to connect to database", zap.Error(err), zap.String("host", cfg.Database.Host))
	}
	err = store.ConfigureConnectionPool(db,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
		cfg.Database.ConnMaxLifetime,
		cfg.Database.ConnMaxIdleTime)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to configure connection pool", zap.Error(err))
	}
	logger.InfoCtx(ctx, "Connected to database")

	// Initialize store
	dataStore := store.NewPGStore(db)
	if err := dataStore.AutoMigrate(ctx); err != nil {
		logger.FatalCtx(ctx, "Failed to migrate database", zap.Error(err))
	}

	// Initialize adapters
	clockAdapter := adapter.NewClock()
	jsonAdapter := adapter.NewJSON()
	natsJS := adapter.NewNatsJetStream()

	// Initialize ethereum client
	ethDialer := adapter.NewEthClientDialer()
	adapterEthClient, err := ethDialer.Dial(ctx, cfg.Ethereum.RPCURL)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to dial Ethereum RPC", zap.Error(err), zap.String("rpc_url", cfg.Ethereum.RPCURL))
	}

	// Throttle RPC calls when the endpoint has a request budget
	if cfg.RPCRateLimit.RequestsPerSecond > 0 {
		var redisClient adapter.RedisClient
		if cfg.RPCRateLimit.RedisAddr != "" {
			redisClient = adapter.NewRedisClient(cfg.RPCRateLimit.RedisAddr, cfg.RPCRateLimit.RedisPassword, cfg.RPCRateLimit.RedisDB)
		}

		rpcProxy, err := ratelimit.NewProxy(ratelimit.Config{
			Key:                     "rpc:" + string(cfg.Ethereum.ChainID),
			RequestsPerSecond:       cfg.RPCRateLimit.RequestsPerSecond,
			Burst:                   cfg.RPCRateLimit.Burst,
			MaxQueueTime:            cfg.RPCRateLimit.MaxQueueTime,
			MaxWorkers:              cfg.RPCRateLimit.MaxWorkers,
			EnableLocalFallback:     cfg.RPCRateLimit.EnableLocalFallback,
			LocalFallbackMultiplier: cfg.RPCRateLimit.LocalFallbackMultiplier,
		}, redisClient, clockAdapter)
		if err != nil {
			logger.FatalCtx(ctx, "Failed to create RPC rate limiter", zap.Error(err))
		}
		defer func() {
			if err := rpcProxy.Close(); err != nil {
				logger.Error(err, zap.String("component", "rpc rate limiter"))
			}
		}()
		adapterEthClient = ratelimit.NewEthClient(adapterEthClient, rpcProxy)
	}
	blockProvider := block.NewProvider(
		ethereum.NewBlockFetcher(adapterEthClient),
		block.Config{
			HeadTTL:     cfg.Ethereum.BlockHeadTTL,
			StaleWindow: cfg.Ethereum.BlockHeadStaleWindow,
		},
		clockAdapter,
	)
	ethereumClient := ethereum.NewClient(cfg.Ethereum.ChainID, adapterEthClient, blockProvider)

	// Pairs discovered by earlier runs are followed from the start
	pairs, err := registry.NewWatchRegistry(cfg.Ethereum.ChainID).Watched(ctx, dataStore, schema.ContractKindAmmPair)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to load watched pairs", zap.Error(err))
	}

	// Initialize NATS publisher
	natsPublisher, err := jetstream.NewPublisher(
		ctx,
		jetstream.Config{
			URL:             cfg.NATS.URL,
			StreamName:      cfg.NATS.StreamName,
			MaxReconnects:   cfg.NATS.MaxReconnects,
			ReconnectWait:   cfg.NATS.ReconnectWait,
			ConnectionName:  cfg.NATS.ConnectionName,
			DuplicateWindow: cfg.NATS.DuplicateWindow,
		}, natsJS, jsonAdapter)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to create NATS publisher", zap.Error(err), zap.String("url", cfg.NATS.URL))
	}
	logger.InfoCtx(ctx, "Connected to NATS JetStream")

	// Initialize Ethereum subscriber
	ethSubscriber, err := ethereum.NewSubscriber(ethereum.Config{
		ChainID:       cfg.Ethereum.ChainID,
		Contracts:     cfg.Protocol.Contracts(),
		Pairs:         pairs,
		Confirmations: cfg.Ethereum.Confirmations,
		BlockRange:    cfg.Ethereum.BlockRange,
		PollInterval:  cfg.Ethereum.PollInterval,
	}, ethereumClient, blockProvider, clockAdapter)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to create Ethereum subscriber", zap.Error(err))
	}
	logger.InfoCtx(ctx, "Following protocol contracts",
		zap.Strings("contracts", cfg.Protocol.Contracts()),
		zap.Int("pairs", len(pairs)))

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	eventEmitter := emitter.NewEmitter(
		ethSubscriber,
		natsPublisher,
		store.NewCursorStore(dataStore),
		emitter.Config{
			ChainID:         cfg.Ethereum.ChainID,
			StartBlock:      cfg.Ethereum.StartBlock,
			CursorSaveFreq:  cfg.Emitter.CursorSaveFreq,
			CursorSaveDelay: cfg.Emitter.CursorSaveDelay,
		},
		clockAdapter,
	)
	// Closes the subscriber, the ethereum client and the publisher
	defer eventEmitter.Close()

	// Channel for emitter errors
	errCh := make(chan error, 1)

	// Start the emitter
	go func() {
		if err := eventEmitter.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-sigCh:
		logger.InfoCtx(ctx, "Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	case err := <-errCh:
		logger.ErrorCtx(ctx, err, zap.String("component", "emitter"))
		cancel()
	}

	// Give some time for graceful shutdown
	time.Sleep(time.Second)

	// Use non-context logger for final shutdown message since context is already canceled
	logger.Info("Ethereum Event Emitter stopped")
}
