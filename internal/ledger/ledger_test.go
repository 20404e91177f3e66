package ledger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/ff-margin-indexer/internal/adapter"
	"github.com/feral-file/ff-margin-indexer/internal/domain"
	"github.com/feral-file/ff-margin-indexer/internal/pricing"
	"github.com/feral-file/ff-margin-indexer/internal/store"
	"github.com/feral-file/ff-margin-indexer/internal/store/schema"
)

const (
	protocolAddress = "0x6bd780e7fdf01d77e4d475c821f1e7ae05409072"
	expiryAddress   = "0x3a2a1c3b6a8c3a5e1f5b6c0d2e4f6a8b0c2d4e6f"
	wethAddress     = "0x82af49447d8a07e3bd95bd0d56f35241523fbab1"
	usdcAddress     = "0xaf88d065e77c8cc2239327c5edb3a432268e5831"

	alice = "0x1111111111111111111111111111111111111111"
	bob   = "0x2222222222222222222222222222222222222222"
	carol = "0x3333333333333333333333333333333333333333"
	vault = "0x4444444444444444444444444444444444444444"

	wethMarket uint64 = 0
	usdcMarket uint64 = 2
)

var genesis = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// harness feeds events to a ledger over the memory store, one transaction per block,
// finalizing each transaction when the next one starts
type harness struct {
	t      *testing.T
	ctx    context.Context
	repo   store.Store
	cache  *store.BlockCache
	ledger *Ledger

	block    uint64
	now      time.Time
	tx       string
	logIndex uint64
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		t:     t,
		ctx:   context.Background(),
		repo:  store.NewMemoryStore(adapter.NewJSON()),
		cache: store.NewBlockCache(adapter.NewJSON()),
		ledger: New(Config{
			ProtocolAddress: protocolAddress,
			ExpiryAddresses: []string{expiryAddress},
		}, pricing.NewOracle()),
		now: genesis,
	}
	h.newTx()
	return h
}

// newMarketsHarness returns a harness with the WETH ($2000) and USDC ($1) markets listed
func newMarketsHarness(t *testing.T) *harness {
	h := newHarness(t)
	h.apply(domain.EventKindAddMarket, domain.AddMarketParams{MarketID: wethMarket, Token: wethAddress, Symbol: "WETH", Name: "Wrapped Ether", Decimals: 18})
	h.apply(domain.EventKindAddMarket, domain.AddMarketParams{MarketID: usdcMarket, Token: usdcAddress, Symbol: "USDC", Name: "USD Coin", Decimals: 6})
	h.apply(domain.EventKindOraclePrice, domain.OraclePriceParams{MarketID: wethMarket, Price: "2000" + zeros(18)})
	h.apply(domain.EventKindOraclePrice, domain.OraclePriceParams{MarketID: usdcMarket, Price: "1" + zeros(30)})
	h.newTx()
	return h
}

// newTx moves the feed to a new transaction in the next block, finalizing the current one
func (h *harness) newTx() {
	if h.tx != "" {
		h.finalize()
	}
	h.block++
	h.now = h.now.Add(12 * time.Second)
	h.tx = fmt.Sprintf("0x%064x", h.block)
	h.logIndex = 0
}

// advance moves the clock forward without starting a new transaction
func (h *harness) advance(d time.Duration) {
	h.now = h.now.Add(d)
}

func (h *harness) finalize() {
	_, err := h.ledger.FinalizeTransaction(h.ctx, store.NewUnitOfWork(h.repo, h.cache), h.tx)
	require.NoError(h.t, err)
}

func (h *harness) event(kind domain.EventKind, params interface{}) *domain.Event {
	event, err := domain.NewEvent(kind, params)
	require.NoError(h.t, err)

	event.Chain = domain.ChainArbitrumOne
	event.ContractAddress = protocolAddress
	if kind == domain.EventKindExpirySet {
		event.ContractAddress = expiryAddress
	}
	event.BlockNumber = h.block
	event.BlockHash = fmt.Sprintf("0xb%063x", h.block)
	event.Timestamp = h.now
	event.TxHash = h.tx
	event.LogIndex = h.logIndex
	h.logIndex++

	return event
}

func (h *harness) tryApply(kind domain.EventKind, params interface{}) error {
	event := h.event(kind, params)
	h.cache.BeginBlock(event.BlockNumber)
	return h.ledger.Apply(h.ctx, store.NewUnitOfWork(h.repo, h.cache), event)
}

func (h *harness) apply(kind domain.EventKind, params interface{}) {
	require.NoError(h.t, h.tryApply(kind, params), "apply %s", kind)
}

func (h *harness) deposit(owner, number string, market uint64, deltaWei, newPar string) {
	h.apply(domain.EventKindDeposit, domain.DepositParams{
		Account:  account(owner, number),
		MarketID: market,
		Update:   update(deltaWei, newPar),
		From:     owner,
	})
}

func (h *harness) withdraw(owner, number string, market uint64, deltaWei, newPar string) {
	h.apply(domain.EventKindWithdraw, domain.WithdrawParams{
		Account:  account(owner, number),
		MarketID: market,
		Update:   update(deltaWei, newPar),
		To:       owner,
	})
}

func (h *harness) protocol() *schema.Protocol {
	protocol, err := store.Get[schema.Protocol](h.ctx, h.repo, protocolAddress)
	require.NoError(h.t, err)
	require.NotNil(h.t, protocol)
	return protocol
}

func (h *harness) user(address string) *schema.User {
	user, err := store.Get[schema.User](h.ctx, h.repo, address)
	require.NoError(h.t, err)
	require.NotNil(h.t, user, "user %s", address)
	return user
}

func (h *harness) marginAccount(owner, number string) *schema.MarginAccount {
	account, err := store.Get[schema.MarginAccount](h.ctx, h.repo, domain.MarginAccountID(owner, number))
	require.NoError(h.t, err)
	require.NotNil(h.t, account)
	return account
}

func (h *harness) tokenValue(owner, number, token string) *schema.MarginAccountTokenValue {
	value, err := store.Get[schema.MarginAccountTokenValue](h.ctx, h.repo, schema.TokenValueID(domain.MarginAccountID(owner, number), token))
	require.NoError(h.t, err)
	return value
}

func (h *harness) totalPar(token string) *schema.TotalPar {
	total, err := store.Get[schema.TotalPar](h.ctx, h.repo, token)
	require.NoError(h.t, err)
	require.NotNil(h.t, total)
	return total
}

func (h *harness) position(owner, number string) *schema.MarginPosition {
	position, err := store.Get[schema.MarginPosition](h.ctx, h.repo, domain.MarginAccountID(owner, number))
	require.NoError(h.t, err)
	require.NotNil(h.t, position)
	return position
}

func account(owner, number string) domain.AccountInfo {
	return domain.AccountInfo{Owner: owner, Number: number}
}

func update(deltaWei, newPar string) domain.BalanceUpdate {
	return domain.BalanceUpdate{DeltaWei: deltaWei, NewPar: newPar}
}

// zeros returns n zero digits, for writing raw amounts
func zeros(n int) string {
	s := make([]byte, n)
	for i := range s {
		s[i] = '0'
	}
	return string(s)
}

func assertDecimal(t *testing.T, expected string, actual decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	if !decimal.RequireFromString(expected).Equal(actual) {
		assert.Fail(t, fmt.Sprintf("expected %s, got %s", expected, actual.String()), msgAndArgs...)
	}
}

func TestLedger_UnknownEventKind(t *testing.T) {
	h := newHarness(t)

	err := h.tryApply(domain.EventKindAmmSwap, domain.AmmSwapParams{})
	require.ErrorIs(t, err, domain.ErrUnknownEventKind)
	assert.False(t, h.ledger.Handles(domain.EventKindAmmSwap))
	assert.True(t, h.ledger.Handles(domain.EventKindLiquidate))
}

func TestLedger_BalanceEventBeforeAnyMarketIsMissingReference(t *testing.T) {
	h := newHarness(t)

	err := h.tryApply(domain.EventKindDeposit, domain.DepositParams{
		Account:  account(alice, "0"),
		MarketID: usdcMarket,
		Update:   update("1"+zeros(6), "1"+zeros(6)),
	})
	require.Error(t, err)
	assert.True(t, domain.IsMissingReference(err))
	assert.ErrorIs(t, err, domain.ErrProtocolNotInitialized)
}

func TestLedger_InvalidParams(t *testing.T) {
	h := newMarketsHarness(t)

	err := h.tryApply(domain.EventKindDeposit, domain.DepositParams{
		Account:  account(alice, "0"),
		MarketID: usdcMarket,
		Update:   update("abc", "1"),
	})
	require.ErrorIs(t, err, domain.ErrInvalidEventParams)
}
