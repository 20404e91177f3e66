package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/ff-margin-indexer/internal/domain"
	"github.com/feral-file/ff-margin-indexer/internal/store"
	"github.com/feral-file/ff-margin-indexer/internal/store/schema"
)

// openAlicePosition opens a 2 WETH long on alice's account 1, financed by 2000 USDC of debt
// on top of a 1000 USDC margin deposit. Bob's account 0 is the counterparty.
func openAlicePosition(h *harness) {
	h.deposit(alice, "0", usdcMarket, "10000"+zeros(6), "10000"+zeros(6))
	h.deposit(bob, "0", wethMarket, "10"+zeros(18), "10"+zeros(18))

	h.newTx()
	h.apply(domain.EventKindTransfer, domain.TransferParams{
		AccountOne: account(alice, "0"),
		AccountTwo: account(alice, "1"),
		MarketID:   usdcMarket,
		UpdateOne:  update("-1000"+zeros(6), "9000"+zeros(6)),
		UpdateTwo:  update("1000"+zeros(6), "1000"+zeros(6)),
	})
	h.apply(domain.EventKindTrade, domain.TradeParams{
		TakerAccount:      account(alice, "1"),
		MakerAccount:      account(bob, "0"),
		InputMarketID:     usdcMarket,
		OutputMarketID:    wethMarket,
		TakerInputUpdate:  update("-3000"+zeros(6), "-2000"+zeros(6)),
		TakerOutputUpdate: update("2"+zeros(18), "2"+zeros(18)),
		MakerInputUpdate:  update("3000"+zeros(6), "3000"+zeros(6)),
		MakerOutputUpdate: update("-2"+zeros(18), "8"+zeros(18)),
	})
	h.apply(domain.EventKindMarginPositionOpen, domain.MarginPositionOpenParams{
		Account:       account(alice, "1"),
		InputToken:    usdcAddress,
		OutputToken:   wethAddress,
		DepositToken:  usdcAddress,
		InputUpdate:   update("-3000"+zeros(6), "-2000"+zeros(6)),
		OutputUpdate:  update("2"+zeros(18), "2"+zeros(18)),
		DepositUpdate: update("1000"+zeros(6), "1000"+zeros(6)),
	})
}

// aliceBuysWeth is a plain buy on alice's position account outside the position proxy
func aliceBuysWeth(h *harness) {
	h.apply(domain.EventKindBuy, domain.ExchangeParams{
		Account:         account(alice, "1"),
		TakerMarketID:   usdcMarket,
		MakerMarketID:   wethMarket,
		TakerUpdate:     update("-1000"+zeros(6), "-3000"+zeros(6)),
		MakerUpdate:     update("5"+zeros(17), "25"+zeros(17)),
		ExchangeWrapper: bob,
	})
}

func TestPositionMachine_Open(t *testing.T) {
	h := newMarketsHarness(t)
	openAlicePosition(h)

	position := h.position(alice, "1")
	assert.True(t, position.IsInitialized)
	assert.Equal(t, schema.PositionStatusOpen, position.Status)
	assert.Equal(t, alice, position.EffectiveUser)
	assert.Equal(t, wethAddress, position.HeldToken)
	assert.Equal(t, usdcAddress, position.OwedToken)
	assert.Equal(t, h.tx, position.OpenTransaction)
	assert.Equal(t, h.now, position.OpenTimestamp)
	assert.False(t, position.CloseTimestamp.IsSet())

	assertDecimal(t, "1000", position.MarginDeposit)
	assertDecimal(t, "1000", position.MarginDepositUSD)

	assertDecimal(t, "2", position.HeldAmountPar)
	assertDecimal(t, "2000", position.OwedAmountPar)
	assertDecimal(t, "2", position.InitialHeldAmountWei)
	assertDecimal(t, "4000", position.InitialHeldAmountUSD)
	assertDecimal(t, "2000", position.InitialOwedAmountWei)
	assertDecimal(t, "2000", position.InitialOwedAmountUSD)
	assertDecimal(t, "1000", position.InitialHeldPrice)
	assertDecimal(t, "0.001", position.InitialOwedPrice)
	assertDecimal(t, "2000", position.InitialHeldPriceUSD)
	assertDecimal(t, "1", position.InitialOwedPriceUSD)

	assert.Equal(t, int64(1), h.user(alice).TotalMarginPositionCount)

	protocol := h.protocol()
	assert.Equal(t, int64(1), protocol.TradeCount)
	assertDecimal(t, "3000", protocol.TotalTradeVolumeUSD)
	assertDecimal(t, "3000", h.user(alice).TotalTradeVolumeUSD)
	assertDecimal(t, "3000", h.user(bob).TotalTradeVolumeUSD)

	// The open transaction is finalized without invalidating anything
	h.newTx()
	assert.Equal(t, schema.PositionStatusOpen, h.position(alice, "1").Status)
}

func TestPositionMachine_CloseSnapshotsThroughCurrentIndex(t *testing.T) {
	h := newMarketsHarness(t)
	openAlicePosition(h)

	h.newTx()
	h.apply(domain.EventKindIndexUpdate, domain.IndexUpdateParams{
		MarketID:    usdcMarket,
		BorrowIndex: "11" + zeros(17),
		SupplyIndex: "1" + zeros(18),
	})

	h.newTx()
	h.apply(domain.EventKindTrade, domain.TradeParams{
		TakerAccount:      account(alice, "1"),
		MakerAccount:      account(bob, "0"),
		InputMarketID:     wethMarket,
		OutputMarketID:    usdcMarket,
		TakerInputUpdate:  update("-12"+zeros(17), "8"+zeros(17)),
		TakerOutputUpdate: update("2400"+zeros(6), "200"+zeros(6)),
		MakerInputUpdate:  update("12"+zeros(17), "92"+zeros(17)),
		MakerOutputUpdate: update("-2400"+zeros(6), "600"+zeros(6)),
	})
	closeTx := h.tx
	h.apply(domain.EventKindMarginPositionClose, domain.MarginPositionCloseParams{
		Account:          account(alice, "1"),
		InputToken:       wethAddress,
		OutputToken:      usdcAddress,
		WithdrawalToken:  usdcAddress,
		InputUpdate:      update("-12"+zeros(17), "8"+zeros(17)),
		OutputUpdate:     update("2400"+zeros(6), "200"+zeros(6)),
		WithdrawalUpdate: update("-200"+zeros(6), "0"),
	})

	position := h.position(alice, "1")
	assert.Equal(t, schema.PositionStatusClosed, position.Status)
	assert.Equal(t, domain.Some(closeTx), position.CloseTransaction)
	assertDecimal(t, "0", position.OwedAmountPar)
	assertDecimal(t, "0.8", position.HeldAmountPar)

	// The closed position is snapshotted at its size before the close, through the current index
	assertDecimal(t, "2", position.CloseHeldAmountPar)
	assertDecimal(t, "4000", position.CloseHeldAmountUSD)
	assertDecimal(t, "2000", position.CloseOwedAmountPar)
	assertDecimal(t, "2200", position.CloseOwedAmountWei)
	assertDecimal(t, "2200", position.CloseOwedAmountUSD)
	assertDecimal(t, "1100", position.CloseHeldPrice)

	// The claimed plain trade does not invalidate the closed position
	h.newTx()
	assert.Equal(t, schema.PositionStatusClosed, h.position(alice, "1").Status)

	// A closed position is terminal
	aliceBuysWeth(h)
	h.newTx()
	position = h.position(alice, "1")
	assert.Equal(t, schema.PositionStatusClosed, position.Status)
	assert.Equal(t, domain.Some(closeTx), position.CloseTransaction)
}

func TestPositionMachine_PlainTradeInvalidatesAtTransactionEnd(t *testing.T) {
	h := newMarketsHarness(t)
	openAlicePosition(h)

	h.newTx()
	aliceBuysWeth(h)

	// Still open until the transaction ends
	assert.Equal(t, schema.PositionStatusOpen, h.position(alice, "1").Status)
	tx, err := store.Get[schema.Transaction](h.ctx, h.repo, h.tx)
	require.NoError(t, err)
	require.NotNil(t, tx)
	assert.Equal(t, []string{domain.MarginAccountID(alice, "1")}, []string(tx.PendingInvalidations))

	h.newTx()
	assert.Equal(t, schema.PositionStatusUnknown, h.position(alice, "1").Status)
}

func TestPositionMachine_ProxyEventClaimsPlainTrade(t *testing.T) {
	h := newMarketsHarness(t)
	openAlicePosition(h)

	h.newTx()
	aliceBuysWeth(h)
	h.apply(domain.EventKindMarginPositionOpen, domain.MarginPositionOpenParams{
		Account:       account(alice, "1"),
		InputToken:    usdcAddress,
		OutputToken:   wethAddress,
		DepositToken:  usdcAddress,
		InputUpdate:   update("-1000"+zeros(6), "-3000"+zeros(6)),
		OutputUpdate:  update("5"+zeros(17), "25"+zeros(17)),
		DepositUpdate: update("0", "0"),
	})

	h.newTx()
	position := h.position(alice, "1")
	assert.Equal(t, schema.PositionStatusOpen, position.Status)
	assertDecimal(t, "2.5", position.HeldAmountPar)
	assertDecimal(t, "3000", position.OwedAmountPar)
	assertDecimal(t, "2", position.InitialHeldAmountPar)
	assert.Equal(t, int64(1), h.user(alice).TotalMarginPositionCount)
}

func TestPositionMachine_ForeignTokenInvalidates(t *testing.T) {
	h := newMarketsHarness(t)
	const daiAddress = "0xda10009cbd5d07dd0cecc66161fc93d7c9000da1"
	h.apply(domain.EventKindAddMarket, domain.AddMarketParams{MarketID: 1, Token: daiAddress, Symbol: "DAI", Decimals: 18})
	openAlicePosition(h)

	h.newTx()
	h.apply(domain.EventKindMarginPositionOpen, domain.MarginPositionOpenParams{
		Account:       account(alice, "1"),
		InputToken:    daiAddress,
		OutputToken:   wethAddress,
		DepositToken:  usdcAddress,
		InputUpdate:   update("0", "0"),
		OutputUpdate:  update("0", "2"+zeros(18)),
		DepositUpdate: update("0", "0"),
	})

	assert.Equal(t, schema.PositionStatusUnknown, h.position(alice, "1").Status)
}

func TestPositionMachine_LiquidationOfClosedPositionIsIgnored(t *testing.T) {
	h := newMarketsHarness(t)
	openAlicePosition(h)
	h.deposit(carol, "0", usdcMarket, "5000"+zeros(6), "5000"+zeros(6))

	h.newTx()
	h.apply(domain.EventKindTrade, domain.TradeParams{
		TakerAccount:      account(alice, "1"),
		MakerAccount:      account(bob, "0"),
		InputMarketID:     wethMarket,
		OutputMarketID:    usdcMarket,
		TakerInputUpdate:  update("-12"+zeros(17), "8"+zeros(17)),
		TakerOutputUpdate: update("2400"+zeros(6), "400"+zeros(6)),
		MakerInputUpdate:  update("12"+zeros(17), "92"+zeros(17)),
		MakerOutputUpdate: update("-2400"+zeros(6), "600"+zeros(6)),
	})
	closeTx := h.tx
	h.apply(domain.EventKindMarginPositionClose, domain.MarginPositionCloseParams{
		Account:          account(alice, "1"),
		InputToken:       wethAddress,
		OutputToken:      usdcAddress,
		WithdrawalToken:  usdcAddress,
		InputUpdate:      update("-12"+zeros(17), "8"+zeros(17)),
		OutputUpdate:     update("2400"+zeros(6), "400"+zeros(6)),
		WithdrawalUpdate: update("-200"+zeros(6), "200"+zeros(6)),
	})
	require.Equal(t, schema.PositionStatusClosed, h.position(alice, "1").Status)

	h.newTx()
	h.apply(domain.EventKindLiquidate, domain.LiquidateParams{
		SolidAccount:     account(carol, "0"),
		LiquidAccount:    account(alice, "1"),
		HeldMarketID:     wethMarket,
		OwedMarketID:     usdcMarket,
		SolidHeldUpdate:  update("2"+zeros(17), "2"+zeros(17)),
		SolidOwedUpdate:  update("-100"+zeros(6), "4900"+zeros(6)),
		LiquidHeldUpdate: update("-2"+zeros(17), "6"+zeros(17)),
		LiquidOwedUpdate: update("100"+zeros(6), "300"+zeros(6)),
	})

	// A closed position stays closed and keeps its close snapshot
	position := h.position(alice, "1")
	assert.Equal(t, schema.PositionStatusClosed, position.Status)
	assert.Equal(t, domain.Some(closeTx), position.CloseTransaction)
	assertDecimal(t, "0", position.CloseHeldAmountSeized)
	assertDecimal(t, "0", position.CloseHeldAmountSeizedUSD)
}

func TestPositionMachine_NonOpenPositionIsInvalidatedByProxyTrade(t *testing.T) {
	h := newMarketsHarness(t)
	openAlicePosition(h)
	h.deposit(carol, "0", usdcMarket, "5000"+zeros(6), "5000"+zeros(6))

	h.newTx()
	h.apply(domain.EventKindLiquidate, domain.LiquidateParams{
		SolidAccount:     account(carol, "0"),
		LiquidAccount:    account(alice, "1"),
		HeldMarketID:     wethMarket,
		OwedMarketID:     usdcMarket,
		SolidHeldUpdate:  update("525"+zeros(15), "525"+zeros(15)),
		SolidOwedUpdate:  update("-1000"+zeros(6), "4000"+zeros(6)),
		LiquidHeldUpdate: update("-525"+zeros(15), "1475"+zeros(15)),
		LiquidOwedUpdate: update("1000"+zeros(6), "-1000"+zeros(6)),
	})
	require.Equal(t, schema.PositionStatusLiquidated, h.position(alice, "1").Status)

	h.newTx()
	h.apply(domain.EventKindMarginPositionClose, domain.MarginPositionCloseParams{
		Account:          account(alice, "1"),
		InputToken:       wethAddress,
		OutputToken:      usdcAddress,
		WithdrawalToken:  usdcAddress,
		InputUpdate:      update("0", "1475"+zeros(15)),
		OutputUpdate:     update("0", "-1000"+zeros(6)),
		WithdrawalUpdate: update("0", "0"),
	})

	position := h.position(alice, "1")
	assert.Equal(t, schema.PositionStatusUnknown, position.Status)

	// Unknown positions are ignored by later liquidations
	h.newTx()
	h.apply(domain.EventKindLiquidate, domain.LiquidateParams{
		SolidAccount:     account(carol, "0"),
		LiquidAccount:    account(alice, "1"),
		HeldMarketID:     wethMarket,
		OwedMarketID:     usdcMarket,
		SolidHeldUpdate:  update("525"+zeros(15), "105"+zeros(16)),
		SolidOwedUpdate:  update("-1000"+zeros(6), "3000"+zeros(6)),
		LiquidHeldUpdate: update("-525"+zeros(15), "95"+zeros(16)),
		LiquidOwedUpdate: update("1000"+zeros(6), "0"),
	})
	position = h.position(alice, "1")
	assert.Equal(t, schema.PositionStatusUnknown, position.Status)
	assertDecimal(t, "0.525", position.CloseHeldAmountSeized)
}

func TestPositionMachine_CloseOfUnopenedPositionIsIgnored(t *testing.T) {
	h := newMarketsHarness(t)

	h.deposit(alice, "9", usdcMarket, "100"+zeros(6), "100"+zeros(6))
	h.apply(domain.EventKindMarginPositionClose, domain.MarginPositionCloseParams{
		Account:          account(alice, "9"),
		InputToken:       wethAddress,
		OutputToken:      usdcAddress,
		WithdrawalToken:  usdcAddress,
		WithdrawalUpdate: update("0", "0"),
	})

	position, err := store.Get[schema.MarginPosition](h.ctx, h.repo, domain.MarginAccountID(alice, "9"))
	require.NoError(t, err)
	assert.Nil(t, position)
}
