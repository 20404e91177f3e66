package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/ff-margin-indexer/internal/domain"
	"github.com/feral-file/ff-margin-indexer/internal/store"
	"github.com/feral-file/ff-margin-indexer/internal/store/schema"
)

func TestLedger_AddMarket(t *testing.T) {
	h := newMarketsHarness(t)

	protocol := h.protocol()
	assert.Equal(t, int64(2), protocol.NumberOfMarkets)
	assertDecimal(t, "0.85", protocol.EarningsRate)
	assertDecimal(t, "1.05", protocol.LiquidationReward)

	market, err := store.Get[schema.Market](h.ctx, h.repo, schema.MarketKey(usdcMarket))
	require.NoError(t, err)
	require.NotNil(t, market)
	assert.Equal(t, usdcAddress, market.Token)

	token, err := store.Get[schema.Token](h.ctx, h.repo, usdcAddress)
	require.NoError(t, err)
	assert.Equal(t, int64(usdcMarket), token.MarketID)
	assert.Equal(t, "USDC", token.Symbol)
	assert.Equal(t, int32(6), token.Decimals)

	index, err := store.Get[schema.InterestIndex](h.ctx, h.repo, usdcAddress)
	require.NoError(t, err)
	assertDecimal(t, "1", index.BorrowIndex)
	assertDecimal(t, "1", index.SupplyIndex)

	total := h.totalPar(usdcAddress)
	assertDecimal(t, "0", total.SupplyPar)
	assertDecimal(t, "0", total.BorrowPar)

	risk, err := store.Get[schema.MarketRiskInfo](h.ctx, h.repo, usdcAddress)
	require.NoError(t, err)
	require.NotNil(t, risk)
	assertDecimal(t, "0", risk.MarginPremium)
}

func TestLedger_RemoveMarketCountsAsAMarket(t *testing.T) {
	h := newMarketsHarness(t)

	h.apply(domain.EventKindRemoveMarket, domain.RemoveMarketParams{MarketID: wethMarket, Token: wethAddress})

	assert.Equal(t, int64(3), h.protocol().NumberOfMarkets)

	// The removed market's entities stay queryable
	token, err := tokenForMarket(h.ctx, h.repo, wethMarket)
	require.NoError(t, err)
	assert.Equal(t, wethAddress, token.ID)
}

func TestLedger_ProtocolSetters(t *testing.T) {
	h := newMarketsHarness(t)

	h.apply(domain.EventKindSetEarningsRate, domain.ValueParams{Value: "9" + zeros(17)})
	h.apply(domain.EventKindSetLiquidationSpread, domain.ValueParams{Value: "8" + zeros(16)})
	h.apply(domain.EventKindSetMarginRatio, domain.ValueParams{Value: "15" + zeros(16)})
	h.apply(domain.EventKindSetMinBorrowedValue, domain.ValueParams{Value: "5" + zeros(36)})
	h.apply(domain.EventKindExpiryRampTimeSet, domain.ValueParams{Value: "3600"})

	protocol := h.protocol()
	assertDecimal(t, "0.9", protocol.EarningsRate)
	assertDecimal(t, "1.08", protocol.LiquidationReward)
	assertDecimal(t, "0.15", protocol.MarginRatio)
	assertDecimal(t, "5", protocol.MinBorrowedValue)
	assert.Equal(t, int64(3600), protocol.ExpiryRampTime)
}

func TestLedger_SetterBeforeAnyMarketCreatesProtocol(t *testing.T) {
	h := newHarness(t)

	h.apply(domain.EventKindSetMarginRatio, domain.ValueParams{Value: "15" + zeros(16)})

	protocol := h.protocol()
	assertDecimal(t, "0.15", protocol.MarginRatio)
	assertDecimal(t, "0.85", protocol.EarningsRate)
	assert.Equal(t, int64(0), protocol.NumberOfMarkets)
}

func TestLedger_InvalidRampTime(t *testing.T) {
	h := newMarketsHarness(t)

	err := h.tryApply(domain.EventKindExpiryRampTimeSet, domain.ValueParams{Value: "soon"})
	require.ErrorIs(t, err, domain.ErrInvalidEventParams)
}

func TestLedger_MarketRiskSetters(t *testing.T) {
	h := newMarketsHarness(t)

	h.apply(domain.EventKindSetSpreadPremium, domain.MarketValueParams{MarketID: wethMarket, Value: "1" + zeros(17)})
	h.apply(domain.EventKindSetMarginPremium, domain.MarketValueParams{MarketID: wethMarket, Value: "25" + zeros(16)})

	risk, err := store.Get[schema.MarketRiskInfo](h.ctx, h.repo, wethAddress)
	require.NoError(t, err)
	assertDecimal(t, "0.1", risk.LiquidationRewardPremium)
	assertDecimal(t, "0.25", risk.MarginPremium)

	// Unknown markets are missing references
	err = h.tryApply(domain.EventKindSetMarginPremium, domain.MarketValueParams{MarketID: 42, Value: "1"})
	require.Error(t, err)
	assert.True(t, domain.IsMissingReference(err))
}

func TestLedger_OraclePrice(t *testing.T) {
	h := newMarketsHarness(t)

	h.apply(domain.EventKindOraclePrice, domain.OraclePriceParams{MarketID: wethMarket, Price: "2500" + zeros(18)})

	price, err := h.ledger.oracle.Price(h.ctx, h.repo, wethAddress, h.event(domain.EventKindOraclePrice, domain.OraclePriceParams{}))
	require.NoError(t, err)
	assertDecimal(t, "2500", price)
}
