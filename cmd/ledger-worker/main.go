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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/feral-file/ff-margin-indexer/internal/adapter"
	"github.com/feral-file/ff-margin-indexer/internal/amm"
	"github.com/feral-file/ff-margin-indexer/internal/api/server"
	"github.com/feral-file/ff-margin-indexer/internal/config"
	"github.com/feral-file/ff-margin-indexer/internal/ledger"
	"github.com/feral-file/ff-margin-indexer/internal/logger"
	"github.com/feral-file/ff-margin-indexer/internal/metrics"
	"github.com/feral-file/ff-margin-indexer/internal/pricing"
	"github.com/feral-file/ff-margin-indexer/internal/processor"
	"github.com/feral-file/ff-margin-indexer/internal/registry"
	"github.com/feral-file/ff-margin-indexer/internal/store"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "config/", "Path to environment files")
)

func main() {
	flag.Parse()
	os.Exit(run())
}

// run wires and runs the worker. A non-zero exit code means the ledger stopped on an event
// it could not apply.
func run() int {
	// Load configuration
	config.ChdirRepoRoot()
	cfg, err := config.LoadLedgerWorkerConfig(*configFile, *envPath)
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
		Service:         "ledger-worker",
		Tags: map[string]string{
			"service": "ledger-worker",
			"chain":   string(cfg.Ethereum.ChainID),
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting Ledger Worker", zap.String("chain", string(cfg.Ethereum.ChainID)))

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
	if cfg.Database.ReadHost != "" {
		if err := store.UseReadReplica(db, cfg.Database.ReadDSN()); err != nil {
			logger.FatalCtx(ctx, "Failed to configure read replica", zap.Error(err), zap.String("read_host", cfg.Database.ReadHost))
		}
		logger.InfoCtx(ctx, "Using read replica", zap.String("read_host", cfg.Database.ReadHost))
	}
	logger.InfoCtx(ctx, "Connected to database")

	// Initialize store
	dataStore := store.NewPGStore(db)
	if cfg.Processor.AutoMigrate {
		if err := dataStore.AutoMigrate(ctx); err != nil {
			logger.FatalCtx(ctx, "Failed to migrate database", zap.Error(err))
		}
	}

	// Initialize adapters
	clockAdapter := adapter.NewClock()
	jsonAdapter := adapter.NewJSON()
	natsJS := adapter.NewNatsJetStream()

	// Metrics
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	workerMetrics := metrics.New(promRegistry)

	// Ledger components
	oracle := pricing.NewOracle()
	eventProcessor := processor.NewProcessor(
		processor.Config{
			Chain:                cfg.Ethereum.ChainID,
			RetryInitialInterval: cfg.Processor.RetryInitialInterval,
			RetryMaxElapsedTime:  cfg.Processor.RetryMaxElapsedTime,
		},
		dataStore,
		store.NewBlockCache(jsonAdapter),
		ledger.New(ledger.Config{
			ProtocolAddress: cfg.Protocol.MarginAddress,
			ExpiryAddresses: cfg.Protocol.ExpiryAddresses,
		}, oracle),
		amm.New(oracle),
		registry.NewWatchRegistry(cfg.Ethereum.ChainID),
		oracle,
		workerMetrics,
		clockAdapter,
	)

	// Create consumer
	consumer, err := processor.NewConsumer(
		processor.ConsumerConfig{
			URL:            cfg.NATS.URL,
			StreamName:     cfg.NATS.StreamName,
			ConsumerName:   cfg.NATS.ConsumerName,
			MaxReconnects:  cfg.NATS.MaxReconnects,
			ReconnectWait:  cfg.NATS.ReconnectWait,
			ConnectionName: cfg.NATS.ConnectionName,
			AckWaitTimeout: cfg.NATS.AckWait,
			MaxDeliver:     cfg.NATS.MaxDeliver,
		},
		cfg.Ethereum.ChainID,
		natsJS,
		eventProcessor,
		jsonAdapter,
	)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to create ledger consumer", zap.Error(err), zap.String("url", cfg.NATS.URL))
	}
	defer consumer.Close()
	logger.InfoCtx(ctx, "Connected to NATS JetStream", zap.String("stream", cfg.NATS.StreamName), zap.String("consumer", cfg.NATS.ConsumerName))

	// Operations server
	opsServer := server.New(server.Config{
		Debug:         cfg.Debug,
		ListenAddress: cfg.Metrics.ListenAddress,
		Service:       "ledger-worker",
		Chain:         cfg.Ethereum.ChainID,
	}, store.NewCursorStore(dataStore), promRegistry)

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 2)

	go func() {
		if err := opsServer.Start(); err != nil {
			errCh <- err
		}
	}()

	// Start the consumer
	go func() {
		if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()

	exitCode := 0

	// Wait for shutdown signal or error
	select {
	case sig := <-sigCh:
		logger.InfoCtx(ctx, "Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	case err := <-errCh:
		logger.ErrorCtx(ctx, err, zap.String("component", "ledger-worker"))
		exitCode = 1
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(err, zap.String("component", "operations server"))
	}

	// Use non-context logger for final shutdown message since context is already canceled
	logger.Info("Ledger Worker stopped")

	return exitCode
}

