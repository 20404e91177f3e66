package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/feral-file/ff-margin-indexer/internal/domain"
	"github.com/feral-file/ff-margin-indexer/internal/fixedpoint"
	"github.com/feral-file/ff-margin-indexer/internal/logger"
	"github.com/feral-file/ff-margin-indexer/internal/store"
	"github.com/feral-file/ff-margin-indexer/internal/store/schema"
)

// rateCoefficients are the percentages of the double-exponent curve,
// applied as sum(coefficient[i] * utilization^i) / 100
var rateCoefficients = []int64{0, 20, 0, 0, 0, 0, 20, 60}

var (
	hundred       = decimal.NewFromInt(100)
	one           = decimal.NewFromInt(1)
	secondsInYear = decimal.NewFromInt(domain.SECONDS_PER_YEAR)
)

// InterestRateModel computes market interest rates from utilization
type InterestRateModel struct{}

// NewInterestRateModel creates the rate model
func NewInterestRateModel() *InterestRateModel {
	return &InterestRateModel{}
}

// BorrowRate returns the annualized borrow rate for the given borrowed and supplied amounts.
// It is 0 without borrows and saturates at 1 (100%) at or above full utilization.
func (m *InterestRateModel) BorrowRate(borrowWei, supplyWei decimal.Decimal) decimal.Decimal {
	if borrowWei.IsZero() {
		return decimal.Zero
	}
	if borrowWei.GreaterThanOrEqual(supplyWei) {
		return one
	}

	utilization := fixedpoint.SafeDiv(borrowWei, supplyWei)

	sum := decimal.Zero
	power := one
	for _, coefficient := range rateCoefficients {
		if coefficient != 0 {
			sum = sum.Add(power.Mul(decimal.NewFromInt(coefficient)))
		}
		power = power.Mul(utilization).Truncate(fixedpoint.DivisionPrecision)
	}

	return fixedpoint.RoundHalfUp(sum.Div(hundred), domain.PROTOCOL_VALUE_DECIMALS)
}

// SupplyRate returns the annualized supply rate: the borrow rate times the earnings rate,
// pro-rated by utilization when less than everything supplied is borrowed
func (m *InterestRateModel) SupplyRate(borrowRate, earningsRate, borrowWei, supplyWei decimal.Decimal) decimal.Decimal {
	rate := borrowRate.Mul(earningsRate)
	if !supplyWei.IsZero() && borrowWei.LessThan(supplyWei) {
		rate = rate.Mul(borrowWei).DivRound(supplyWei, fixedpoint.DivisionPrecision)
	}
	return fixedpoint.RoundHalfUp(rate, domain.PROTOCOL_VALUE_DECIMALS)
}

// Update recomputes the interest rate and liquidity of a market from its total par and index
func (m *InterestRateModel) Update(ctx context.Context, repo store.Repository, protocol *schema.Protocol, token *schema.Token) error {
	total, err := store.MustGet[schema.TotalPar](ctx, repo, token.ID, domain.ErrTotalParNotFound)
	if err != nil {
		return err
	}
	index, err := loadIndex(ctx, repo, token.ID)
	if err != nil {
		return err
	}

	borrowWei := fixedpoint.ParToWei(total.BorrowPar.Neg(), index, token.Decimals).Abs()
	supplyWei := fixedpoint.ParToWei(total.SupplyPar, index, token.Decimals)

	borrowRate := m.BorrowRate(borrowWei, supplyWei)
	rate := &schema.InterestRate{
		ID:                  token.ID,
		BorrowInterestRate:  borrowRate,
		SupplyInterestRate:  m.SupplyRate(borrowRate, protocol.EarningsRate, borrowWei, supplyWei),
		BorrowRatePerSecond: borrowRate.DivRound(secondsInYear, fixedpoint.DivisionPrecision),
	}

	token.BorrowLiquidity = borrowWei
	token.SupplyLiquidity = supplyWei

	if err := store.SaveAll(ctx, repo, rate, token); err != nil {
		return fmt.Errorf("failed to update interest rate of %s: %w", token.ID, err)
	}

	logger.DebugCtx(ctx, "Updated interest rate",
		zap.String("token", token.ID),
		zap.String("borrowRate", rate.BorrowInterestRate.String()),
		zap.String("supplyRate", rate.SupplyInterestRate.String()))

	return nil
}

// ApplyIndexUpdate stores a new interest index. Indices never decrease; a lower value is
// reported and the stored value kept.
func (m *InterestRateModel) ApplyIndexUpdate(ctx context.Context, repo store.Repository, token *schema.Token, params domain.IndexUpdateParams, event *domain.Event) error {
	index, err := store.MustGet[schema.InterestIndex](ctx, repo, token.ID, domain.ErrInterestIndexNotFound)
	if err != nil {
		return err
	}

	borrowIndex, err := parseAmount(params.BorrowIndex, domain.PROTOCOL_VALUE_DECIMALS)
	if err != nil {
		return err
	}
	supplyIndex, err := parseAmount(params.SupplyIndex, domain.PROTOCOL_VALUE_DECIMALS)
	if err != nil {
		return err
	}

	if borrowIndex.LessThan(index.BorrowIndex) || supplyIndex.LessThan(index.SupplyIndex) {
		logger.WarnCtx(ctx, "Interest index decreased, keeping the larger value",
			zap.String("token", token.ID),
			zap.String("borrowIndex", borrowIndex.String()),
			zap.String("supplyIndex", supplyIndex.String()),
			zap.String("tx", event.TxHash))
	}

	index.BorrowIndex = decimal.Max(index.BorrowIndex, borrowIndex)
	index.SupplyIndex = decimal.Max(index.SupplyIndex, supplyIndex)
	if params.LastUpdate > 0 {
		index.LastUpdate = unixTime(params.LastUpdate)
	} else {
		index.LastUpdate = event.Timestamp
	}

	return repo.Save(ctx, index)
}
