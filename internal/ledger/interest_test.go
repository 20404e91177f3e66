package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/ff-margin-indexer/internal/domain"
	"github.com/feral-file/ff-margin-indexer/internal/store"
	"github.com/feral-file/ff-margin-indexer/internal/store/schema"
)

func TestInterestRateModel_BorrowRate(t *testing.T) {
	model := NewInterestRateModel()

	tests := []struct {
		name     string
		borrow   string
		supply   string
		expected string
	}{
		{"no borrows", "0", "1000", "0"},
		{"no borrows and no supply", "0", "0", "0"},
		{"full utilization", "1000", "1000", "1"},
		{"over utilization", "1500", "1000", "1"},
		{"borrow without supply", "10", "0", "1"},
		// 0.20*0.5 + 0.20*0.5^6 + 0.60*0.5^7
		{"half utilization", "500", "1000", "0.1078125"},
		// 0.20*0.1 + 0.20*0.1^6 + 0.60*0.1^7
		{"low utilization", "100", "1000", "0.02000026"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := model.BorrowRate(decimal.RequireFromString(tt.borrow), decimal.RequireFromString(tt.supply))
			assertDecimal(t, tt.expected, got)
		})
	}
}

func TestInterestRateModel_SupplyRate(t *testing.T) {
	model := NewInterestRateModel()
	earnings := decimal.RequireFromString("0.85")

	// Pro-rated by utilization below full utilization
	got := model.SupplyRate(decimal.RequireFromString("0.1078125"), earnings, decimal.NewFromInt(500), decimal.NewFromInt(1000))
	assertDecimal(t, "0.0458203125", got)

	// Not pro-rated at full utilization
	got = model.SupplyRate(decimal.NewFromInt(1), earnings, decimal.NewFromInt(1000), decimal.NewFromInt(1000))
	assertDecimal(t, "0.85", got)

	// Zero supply skips the pro-ration term
	got = model.SupplyRate(decimal.NewFromInt(1), earnings, decimal.NewFromInt(10), decimal.Zero)
	assertDecimal(t, "0.85", got)

	// The supply rate never exceeds what borrowers pay
	assert.True(t, got.LessThanOrEqual(decimal.NewFromInt(1)))
}

func TestInterestRateModel_IndexNeverDecreases(t *testing.T) {
	h := newMarketsHarness(t)

	h.apply(domain.EventKindIndexUpdate, domain.IndexUpdateParams{
		MarketID:    usdcMarket,
		BorrowIndex: "11" + zeros(17),
		SupplyIndex: "105" + zeros(16),
		LastUpdate:  uint64(h.now.Unix()),
	})

	index, err := store.Get[schema.InterestIndex](h.ctx, h.repo, usdcAddress)
	require.NoError(t, err)
	assertDecimal(t, "1.1", index.BorrowIndex)
	assertDecimal(t, "1.05", index.SupplyIndex)
	assert.Equal(t, h.now, index.LastUpdate)

	h.newTx()
	h.apply(domain.EventKindIndexUpdate, domain.IndexUpdateParams{
		MarketID:    usdcMarket,
		BorrowIndex: "1" + zeros(18),
		SupplyIndex: "106" + zeros(16),
		LastUpdate:  uint64(h.now.Unix()),
	})

	index, err = store.Get[schema.InterestIndex](h.ctx, h.repo, usdcAddress)
	require.NoError(t, err)
	assertDecimal(t, "1.1", index.BorrowIndex)
	assertDecimal(t, "1.06", index.SupplyIndex)
}

func TestInterestRateModel_WeiUsesCurrentIndex(t *testing.T) {
	h := newMarketsHarness(t)

	h.apply(domain.EventKindIndexUpdate, domain.IndexUpdateParams{
		MarketID:    usdcMarket,
		BorrowIndex: "2" + zeros(18),
		SupplyIndex: "1" + zeros(18),
	})
	h.deposit(alice, "0", usdcMarket, "1000"+zeros(6), "1000"+zeros(6))
	h.withdraw(bob, "0", usdcMarket, "-500"+zeros(6), "-250"+zeros(6))

	token, err := store.Get[schema.Token](h.ctx, h.repo, usdcAddress)
	require.NoError(t, err)
	assertDecimal(t, "1000", token.SupplyLiquidity)
	assertDecimal(t, "500", token.BorrowLiquidity)

	rate, err := store.Get[schema.InterestRate](h.ctx, h.repo, usdcAddress)
	require.NoError(t, err)
	assertDecimal(t, "0.1078125", rate.BorrowInterestRate)
	assertDecimal(t, rate.BorrowInterestRate.DivRound(decimal.NewFromInt(domain.SECONDS_PER_YEAR), 36).String(), rate.BorrowRatePerSecond)
}
