// Package emitter tails the margin protocol contracts of one chain and publishes their
// events, in order, to the message broker.
package emitter

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/feral-file/ff-margin-indexer/internal/adapter"
	"github.com/feral-file/ff-margin-indexer/internal/domain"
	"github.com/feral-file/ff-margin-indexer/internal/logger"
	"github.com/feral-file/ff-margin-indexer/internal/messaging"
	"github.com/feral-file/ff-margin-indexer/internal/store"
)

// Config holds the configuration for the event emitter
type Config struct {
	ChainID         domain.Chain
	StartBlock      uint64        // Used when no block cursor was saved yet
	CursorSaveFreq  uint64        // Save cursor every N blocks
	CursorSaveDelay time.Duration // Or save cursor every N seconds
}

// Emitter defines the interface for the event emitter
//
//go:generate mockgen -source=emitter.go -destination=../mocks/emitter.go -package=mocks -mock_names=Emitter=MockEmitter
type Emitter interface {
	// Run starts the event emitter
	Run(ctx context.Context) error
	// Close closes the emitter and cleans up resources
	Close()
}

// emitter handles protocol event subscription and publishing to NATS
type emitter struct {
	subscriber messaging.Subscriber
	publisher  messaging.Publisher
	cursors    store.CursorStore
	config     Config
	clock      adapter.Clock
}

// NewEmitter creates a new event emitter
func NewEmitter(
	sub messaging.Subscriber,
	pub messaging.Publisher,
	cursors store.CursorStore,
	cfg Config,
	clock adapter.Clock,
) Emitter {
	return &emitter{
		subscriber: sub,
		publisher:  pub,
		cursors:    cursors,
		config:     cfg,
		clock:      clock,
	}
}

// startBlock picks the block to resume from: the saved cursor, then the configured
// start block, then the chain head.
//
// The saved block is read again rather than skipped because only part of its events
// may have been published. Republished events are dropped by the broker's duplicate
// window and by the ledger's event cursor.
func (e *emitter) startBlock(ctx context.Context) (uint64, error) {
	chain := string(e.config.ChainID)

	lastBlock, err := e.cursors.GetBlockCursor(ctx, chain)
	if err != nil {
		return 0, fmt.Errorf("failed to get block cursor: %w", err)
	}
	if lastBlock > 0 {
		logger.InfoCtx(ctx, "Resuming from last published block", zap.String("chain", chain), zap.Uint64("block", lastBlock))
		return lastBlock, nil
	}

	if e.config.StartBlock > 0 {
		logger.InfoCtx(ctx, "Starting from configured block", zap.String("chain", chain), zap.Uint64("block", e.config.StartBlock))
		return e.config.StartBlock, nil
	}

	latestBlock, err := e.subscriber.GetLatestBlock(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest block number: %w", err)
	}
	logger.WarnCtx(ctx, "No cursor or start block, starting from latest block; earlier protocol history is not indexed",
		zap.String("chain", chain), zap.Uint64("block", latestBlock))

	return latestBlock, nil
}

// Run starts the event emitter
func (e *emitter) Run(ctx context.Context) error {
	startBlock, err := e.startBlock(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)

	go func() {
		chain := string(e.config.ChainID)
		logger.InfoCtx(ctx, "Starting event subscription", zap.String("chain", chain))

		lastSavedBlock := uint64(0)
		lastSaveTime := e.clock.Now()

		handler := func(event *domain.Event) error {
			if err := e.publisher.PublishEvent(ctx, event); err != nil {
				return fmt.Errorf("failed to publish event %s: %w", event.ID(), err)
			}

			// Save cursor periodically (every N blocks or N seconds)
			shouldSave := event.BlockNumber-lastSavedBlock >= e.config.CursorSaveFreq ||
				e.clock.Since(lastSaveTime) >= e.config.CursorSaveDelay

			if shouldSave && event.BlockNumber != lastSavedBlock {
				if err := e.cursors.SetBlockCursor(ctx, chain, event.BlockNumber); err != nil {
					// The next save retries; a stale cursor only widens the replay on restart
					logger.ErrorCtx(ctx, err, zap.String("message", "Failed to save block cursor"), zap.Uint64("block", event.BlockNumber))
				} else {
					lastSavedBlock = event.BlockNumber
					lastSaveTime = e.clock.Now()
				}
			}

			return nil
		}

		if err := e.subscriber.SubscribeEvents(ctx, startBlock, handler); err != nil {
			errCh <- err
		}
	}()

	// Wait for error or context cancellation
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the emitter and cleans up resources
func (e *emitter) Close() {
	e.subscriber.Close()
	e.publisher.Close()
}
