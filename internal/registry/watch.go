package registry

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/feral-file/ff-margin-indexer/internal/domain"
	"github.com/feral-file/ff-margin-indexer/internal/logger"
	"github.com/feral-file/ff-margin-indexer/internal/store"
	"github.com/feral-file/ff-margin-indexer/internal/store/schema"
)

// WatchLister lists the contracts being watched on a chain
type WatchLister interface {
	GetWatchedContracts(ctx context.Context, chain domain.Chain) ([]schema.WatchedContract, error)
}

// WatchRegistry defines the interface for tracking contracts discovered at runtime
//
//go:generate mockgen -source=watch.go -destination=../mocks/watch_registry.go -package=mocks -mock_names=WatchRegistry=MockWatchRegistry
type WatchRegistry interface {
	// Register starts watching address. Registering an address twice is a no-op.
	// It reports whether the address was newly registered.
	Register(ctx context.Context, repo store.Repository, event *domain.Event, address string, kind schema.ContractKind) (bool, error)

	// Watched returns the addresses of the given kinds being watched, ordered by address.
	// No kinds means every kind.
	Watched(ctx context.Context, lister WatchLister, kinds ...schema.ContractKind) ([]string, error)
}

// watchRegistry is the internal implementation of WatchRegistry interface
type watchRegistry struct {
	chain domain.Chain
}

// NewWatchRegistry creates a watch registry for a chain
func NewWatchRegistry(chain domain.Chain) WatchRegistry {
	return &watchRegistry{chain: chain}
}

// Register stores a watch entry for address unless one exists
func (r *watchRegistry) Register(ctx context.Context, repo store.Repository, event *domain.Event, address string, kind schema.ContractKind) (bool, error) {
	address = domain.NormalizeAddress(address)

	existing, err := store.Get[schema.WatchedContract](ctx, repo, address)
	if err != nil {
		return false, err
	}
	if existing != nil {
		if existing.Kind != kind {
			logger.WarnCtx(ctx, "Contract already watched with another kind",
				zap.String("address", address),
				zap.String("kind", string(existing.Kind)),
				zap.String("requestedKind", string(kind)))
		}
		return false, nil
	}

	contract := &schema.WatchedContract{
		ID:             address,
		Chain:          r.chain,
		Kind:           kind,
		Watching:       true,
		CreatedAtBlock: event.BlockNumber,
		CreatedAt:      event.Timestamp,
	}
	if err := repo.Save(ctx, contract); err != nil {
		return false, fmt.Errorf("failed to register %s %s: %w", kind, address, err)
	}

	logger.InfoCtx(ctx, "Watching contract",
		zap.String("address", address),
		zap.String("kind", string(kind)),
		zap.Uint64("block", event.BlockNumber))

	return true, nil
}

// Watched lists watched addresses of the registry's chain
func (r *watchRegistry) Watched(ctx context.Context, lister WatchLister, kinds ...schema.ContractKind) ([]string, error) {
	contracts, err := lister.GetWatchedContracts(ctx, r.chain)
	if err != nil {
		return nil, fmt.Errorf("failed to list watched contracts: %w", err)
	}

	wanted := make(map[schema.ContractKind]bool, len(kinds))
	for _, kind := range kinds {
		wanted[kind] = true
	}

	addresses := make([]string, 0, len(contracts))
	for _, contract := range contracts {
		if len(wanted) > 0 && !wanted[contract.Kind] {
			continue
		}
		addresses = append(addresses, contract.ID)
	}
	sort.Strings(addresses)

	return addresses, nil
}
