package registry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/ff-margin-indexer/internal/adapter"
	"github.com/feral-file/ff-margin-indexer/internal/domain"
	"github.com/feral-file/ff-margin-indexer/internal/registry"
	"github.com/feral-file/ff-margin-indexer/internal/store"
	"github.com/feral-file/ff-margin-indexer/internal/store/schema"
)

const (
	pairAddress  = "0x5555555555555555555555555555555555555555"
	vaultAddress = "0x4444444444444444444444444444444444444444"
)

type failingLister struct{}

func (failingLister) GetWatchedContracts(ctx context.Context, chain domain.Chain) ([]schema.WatchedContract, error) {
	return nil, errors.New("connection refused")
}

func discovery(block uint64) *domain.Event {
	return &domain.Event{
		Chain:       domain.ChainArbitrumOne,
		BlockNumber: block,
		Timestamp:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestWatchRegistry_Register(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(adapter.NewJSON())
	reg := registry.NewWatchRegistry(domain.ChainArbitrumOne)

	registered, err := reg.Register(ctx, st, discovery(10), "0x5555555555555555555555555555555555555555", schema.ContractKindAmmPair)
	require.NoError(t, err)
	assert.True(t, registered)

	contract, err := store.Get[schema.WatchedContract](ctx, st, pairAddress)
	require.NoError(t, err)
	require.NotNil(t, contract)
	assert.Equal(t, domain.ChainArbitrumOne, contract.Chain)
	assert.Equal(t, schema.ContractKindAmmPair, contract.Kind)
	assert.True(t, contract.Watching)
	assert.Equal(t, uint64(10), contract.CreatedAtBlock)

	// Idempotent
	registered, err = reg.Register(ctx, st, discovery(20), pairAddress, schema.ContractKindAmmPair)
	require.NoError(t, err)
	assert.False(t, registered)

	contract, err = store.Get[schema.WatchedContract](ctx, st, pairAddress)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), contract.CreatedAtBlock)
}

func TestWatchRegistry_Watched(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(adapter.NewJSON())
	reg := registry.NewWatchRegistry(domain.ChainArbitrumOne)

	_, err := reg.Register(ctx, st, discovery(1), pairAddress, schema.ContractKindAmmPair)
	require.NoError(t, err)
	_, err = reg.Register(ctx, st, discovery(2), vaultAddress, schema.ContractKindIsolationVault)
	require.NoError(t, err)

	// Another chain's registry sees nothing
	other := registry.NewWatchRegistry(domain.ChainBase)
	addresses, err := other.Watched(ctx, st)
	require.NoError(t, err)
	assert.Empty(t, addresses)

	addresses, err = reg.Watched(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, []string{vaultAddress, pairAddress}, addresses)

	addresses, err = reg.Watched(ctx, st, schema.ContractKindAmmPair)
	require.NoError(t, err)
	assert.Equal(t, []string{pairAddress}, addresses)

	_, err = reg.Watched(ctx, failingLister{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}
