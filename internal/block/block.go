// Package block caches the chain head and block timestamps the emitter needs while tailing logs.
package block

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/feral-file/ff-margin-indexer/internal/adapter"
	"github.com/feral-file/ff-margin-indexer/internal/logger"
)

// Head is the last chain head seen by the provider
type Head struct {
	Number    uint64
	FetchedAt time.Time
}

// Provider provides cached access to the chain head and to block timestamps.
// Timestamps of confirmed blocks never change, so they are cached until pruned.
//
//go:generate mockgen -source=block.go -destination=../mocks/block_provider.go -package=mocks -mock_names=Provider=MockBlockProvider,Fetcher=MockBlockFetcher
type Provider interface {
	// GetLatestBlock returns the latest block number, potentially from cache
	GetLatestBlock(ctx context.Context) (uint64, error)

	// GetBlockTimestamp returns the timestamp of a block, potentially from cache
	GetBlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error)

	// Prune drops the cached timestamps of blocks below blockNumber
	Prune(blockNumber uint64)
}

// Fetcher fetches block information from the chain
type Fetcher interface {
	// FetchLatestBlock fetches the latest block number
	FetchLatestBlock(ctx context.Context) (uint64, error)

	// FetchBlockTimestamp fetches the timestamp of a block
	FetchBlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error)
}

// Config holds configuration for the Provider
type Config struct {
	// HeadTTL is how long the chain head is served from cache
	HeadTTL time.Duration

	// StaleWindow is how long a cached head may still be served when fetching fails
	StaleWindow time.Duration
}

type provider struct {
	fetcher Fetcher
	config  Config
	clock   adapter.Clock

	mu         sync.RWMutex
	head       *Head
	timestamps map[uint64]time.Time
}

// NewProvider creates a new block Provider
func NewProvider(fetcher Fetcher, config Config, clock adapter.Clock) Provider {
	return &provider{
		fetcher:    fetcher,
		config:     config,
		clock:      clock,
		timestamps: make(map[uint64]time.Time),
	}
}

// GetLatestBlock returns the latest block number, using cache if valid
func (p *provider) GetLatestBlock(ctx context.Context) (uint64, error) {
	p.mu.RLock()
	cached := p.head
	p.mu.RUnlock()

	now := p.clock.Now()

	if cached != nil && now.Sub(cached.FetchedAt) < p.config.HeadTTL {
		return cached.Number, nil
	}

	number, err := p.fetcher.FetchLatestBlock(ctx)
	if err != nil {
		if cached != nil && now.Sub(cached.FetchedAt) < p.config.StaleWindow {
			logger.WarnCtx(ctx, "Using stale chain head", zap.Uint64("block_number", cached.Number), zap.Error(err))
			return cached.Number, nil
		}
		return 0, fmt.Errorf("failed to fetch latest block and no valid cache available: %w", err)
	}

	p.mu.Lock()
	// A lagging RPC node must not move the head backwards
	if p.head == nil || number >= p.head.Number {
		p.head = &Head{Number: number, FetchedAt: now}
	} else {
		number = p.head.Number
		p.head.FetchedAt = now
	}
	p.mu.Unlock()

	return number, nil
}

// GetBlockTimestamp returns the timestamp of a block, using cache if present
func (p *provider) GetBlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error) {
	p.mu.RLock()
	timestamp, ok := p.timestamps[blockNumber]
	p.mu.RUnlock()
	if ok {
		return timestamp, nil
	}

	logger.DebugCtx(ctx, "Fetching block timestamp", zap.Uint64("block_number", blockNumber))
	timestamp, err := p.fetcher.FetchBlockTimestamp(ctx, blockNumber)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to fetch timestamp of block %d: %w", blockNumber, err)
	}

	p.mu.Lock()
	p.timestamps[blockNumber] = timestamp
	p.mu.Unlock()

	return timestamp, nil
}

// Prune drops the cached timestamps of blocks below blockNumber
func (p *provider) Prune(blockNumber uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for number := range p.timestamps {
		if number < blockNumber {
			delete(p.timestamps, number)
		}
	}
}
