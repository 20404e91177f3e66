package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/feral-file/ff-margin-indexer/internal/domain"
	"github.com/feral-file/ff-margin-indexer/internal/store/schema"
)

// RunStoreTests runs the shared store behaviour tests against an implementation.
// initDB is called before each test and must return a store with an empty ledger.
func RunStoreTests(t *testing.T, initDB func(t *testing.T) Store) {
	t.Run("LoadMissing", func(t *testing.T) {
		testLoadMissing(t, initDB(t))
	})
	t.Run("SaveAndLoad", func(t *testing.T) {
		testSaveAndLoad(t, initDB(t))
	})
	t.Run("SaveReplaces", func(t *testing.T) {
		testSaveReplaces(t, initDB(t))
	})
	t.Run("OptionalFields", func(t *testing.T) {
		testOptionalFields(t, initDB(t))
	})
	t.Run("Remove", func(t *testing.T) {
		testRemove(t, initDB(t))
	})
	t.Run("TransactionRollback", func(t *testing.T) {
		testTransactionRollback(t, initDB(t))
	})
	t.Run("WatchedContracts", func(t *testing.T) {
		testWatchedContracts(t, initDB(t))
	})
	t.Run("Cursors", func(t *testing.T) {
		testCursors(t, initDB(t))
	})
}

func buildTestAccount(id string) *schema.MarginAccount {
	return &schema.MarginAccount{
		ID:                     id,
		User:                   "0x1111111111111111111111111111111111111111",
		AccountNumber:          "1",
		LastUpdatedTimestamp:   time.Unix(1700000000, 0).UTC(),
		LastUpdatedBlockNumber: 100,
		BorrowTokens:           datatypes.JSONSlice[string]{"0xaaaa"},
		SupplyTokens:           datatypes.JSONSlice[string]{"0xbbbb", "0xcccc"},
		ExpirationTokens:       datatypes.JSONSlice[string]{},
		HasBorrowValue:         true,
		HasSupplyValue:         true,
	}
}

func testLoadMissing(t *testing.T, s Store) {
	ctx := context.Background()

	token, err := Get[schema.Token](ctx, s, "0xmissing")
	require.NoError(t, err)
	assert.Nil(t, token)

	missing := errors.New("missing")
	_, err = MustGet[schema.Token](ctx, s, "0xmissing", missing)
	assert.ErrorIs(t, err, missing)
}

func testSaveAndLoad(t *testing.T, s Store) {
	ctx := context.Background()

	account := buildTestAccount("0x1111111111111111111111111111111111111111-1")
	require.NoError(t, s.Save(ctx, account))

	loaded, err := Get[schema.MarginAccount](ctx, s, account.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, account.User, loaded.User)
	assert.Equal(t, []string{"0xaaaa"}, []string(loaded.BorrowTokens))
	assert.Equal(t, []string{"0xbbbb", "0xcccc"}, []string(loaded.SupplyTokens))
	assert.True(t, loaded.HasBorrowValue)
	assert.True(t, account.LastUpdatedTimestamp.Equal(loaded.LastUpdatedTimestamp))

	// Loaded entities are copies
	loaded.BorrowTokens[0] = "0xchanged"
	again, err := Get[schema.MarginAccount](ctx, s, account.ID)
	require.NoError(t, err)
	assert.Equal(t, "0xaaaa", again.BorrowTokens[0])
}

func testSaveReplaces(t *testing.T, s Store) {
	ctx := context.Background()

	total := &schema.TotalPar{
		ID:        "0xtoken",
		SupplyPar: decimal.RequireFromString("123.456789012345678901"),
		BorrowPar: decimal.RequireFromString("5"),
	}
	require.NoError(t, s.Save(ctx, total))

	total.SupplyPar = decimal.Zero
	total.BorrowPar = decimal.RequireFromString("0.000000000000000001")
	require.NoError(t, s.Save(ctx, total))

	loaded, err := Get[schema.TotalPar](ctx, s, "0xtoken")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.True(t, loaded.SupplyPar.IsZero(), "got %s", loaded.SupplyPar)
	assert.True(t, decimal.RequireFromString("0.000000000000000001").Equal(loaded.BorrowPar))
}

func testOptionalFields(t *testing.T, s Store) {
	ctx := context.Background()

	burn := &schema.AmmBurn{
		ID:            "0xtx-0",
		Transaction:   "0xtx",
		Timestamp:     time.Unix(1700000000, 0).UTC(),
		Pair:          "0xpair",
		Liquidity:     decimal.NewFromInt(200),
		NeedsComplete: false,
		FeeTo:         domain.Some("0xfee"),
		FeeLiquidity:  domain.Some(decimal.NewFromInt(100)),
	}
	require.NoError(t, s.Save(ctx, burn))

	loaded, err := Get[schema.AmmBurn](ctx, s, burn.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.False(t, loaded.Sender.IsSet())
	assert.False(t, loaded.LogIndex.IsSet())

	feeTo, ok := loaded.FeeTo.Get()
	assert.True(t, ok)
	assert.Equal(t, "0xfee", feeTo)

	feeLiquidity, ok := loaded.FeeLiquidity.Get()
	assert.True(t, ok)
	assert.True(t, decimal.NewFromInt(100).Equal(feeLiquidity))

	loaded.Sender = domain.Some("0xsender")
	loaded.LogIndex = domain.Some(int64(0))
	require.NoError(t, s.Save(ctx, loaded))

	completed, err := Get[schema.AmmBurn](ctx, s, burn.ID)
	require.NoError(t, err)
	logIndex, ok := completed.LogIndex.Get()
	assert.True(t, ok, "a zero log index is a known value")
	assert.Equal(t, int64(0), logIndex)
	assert.Equal(t, "0xsender", completed.Sender.OrElse(""))
}

func testRemove(t *testing.T, s Store) {
	ctx := context.Background()

	value := &schema.MarginAccountTokenValue{
		ID:            "0xowner-1-0xtoken",
		MarginAccount: "0xowner-1",
		Token:         "0xtoken",
		ValuePar:      decimal.NewFromInt(-3),
	}
	require.NoError(t, s.Save(ctx, value))
	require.NoError(t, s.Remove(ctx, value.TableName(), value.ID))

	loaded, err := Get[schema.MarginAccountTokenValue](ctx, s, value.ID)
	require.NoError(t, err)
	assert.Nil(t, loaded)

	// Removing twice is fine
	require.NoError(t, s.Remove(ctx, value.TableName(), value.ID))

	assert.Error(t, s.Remove(ctx, "not_a_table", "x"))
}

func testTransactionRollback(t *testing.T, s Store) {
	ctx := context.Background()
	failure := errors.New("boom")

	err := s.WithTransaction(ctx, func(tx Store) error {
		require.NoError(t, tx.Save(ctx, &schema.Market{ID: "1", Token: "0xtoken"}))
		require.NoError(t, NewCursorStore(tx).SetEventCursor(ctx, "eip155:1", domain.EventPosition{BlockNumber: 1}))
		return failure
	})
	assert.ErrorIs(t, err, failure)

	market, err := Get[schema.Market](ctx, s, "1")
	require.NoError(t, err)
	assert.Nil(t, market)

	cursor, err := NewCursorStore(s).GetEventCursor(ctx, "eip155:1")
	require.NoError(t, err)
	assert.Nil(t, cursor)

	err = s.WithTransaction(ctx, func(tx Store) error {
		return tx.Save(ctx, &schema.Market{ID: "1", Token: "0xtoken"})
	})
	require.NoError(t, err)

	market, err = Get[schema.Market](ctx, s, "1")
	require.NoError(t, err)
	require.NotNil(t, market)
	assert.Equal(t, "0xtoken", market.Token)
}

func testWatchedContracts(t *testing.T, s Store) {
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()

	require.NoError(t, SaveAll(ctx, s,
		&schema.WatchedContract{ID: "0xb", Chain: domain.ChainArbitrumOne, Kind: schema.ContractKindAmmPair, Watching: true, CreatedAt: now},
		&schema.WatchedContract{ID: "0xa", Chain: domain.ChainArbitrumOne, Kind: schema.ContractKindIsolationVault, Watching: true, CreatedAt: now},
		&schema.WatchedContract{ID: "0xc", Chain: domain.ChainArbitrumOne, Kind: schema.ContractKindAmmPair, Watching: false, CreatedAt: now},
		&schema.WatchedContract{ID: "0xd", Chain: domain.ChainBase, Kind: schema.ContractKindAmmPair, Watching: true, CreatedAt: now},
	))

	contracts, err := s.GetWatchedContracts(ctx, domain.ChainArbitrumOne)
	require.NoError(t, err)
	require.Len(t, contracts, 2)
	assert.Equal(t, "0xa", contracts[0].ID)
	assert.Equal(t, "0xb", contracts[1].ID)
}

func testCursors(t *testing.T, s Store) {
	ctx := context.Background()
	cursors := NewCursorStore(s)

	block, err := cursors.GetBlockCursor(ctx, "eip155:42161")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), block)

	require.NoError(t, cursors.SetBlockCursor(ctx, "eip155:42161", 12345))
	block, err = cursors.GetBlockCursor(ctx, "eip155:42161")
	require.NoError(t, err)
	assert.Equal(t, uint64(12345), block)

	position := domain.EventPosition{BlockNumber: 10, TxIndex: 2, LogIndex: 7}
	require.NoError(t, cursors.SetEventCursor(ctx, "eip155:42161", position))
	loaded, err := cursors.GetEventCursor(ctx, "eip155:42161")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, position, *loaded)

	txHash, err := cursors.GetLastTransaction(ctx, "eip155:42161")
	require.NoError(t, err)
	assert.Empty(t, txHash)

	require.NoError(t, cursors.SetLastTransaction(ctx, "eip155:42161", "0xabc"))
	txHash, err = cursors.GetLastTransaction(ctx, "eip155:42161")
	require.NoError(t, err)
	assert.Equal(t, "0xabc", txHash)
}
