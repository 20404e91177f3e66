// Package fixedpoint converts the protocol's raw integer amounts to decimals and back.
//
// Every par/wei conversion in the ledger goes through RoundHalfUp so that rounding is applied
// the same way everywhere: at the half boundary the magnitude is rounded away from zero,
// symmetrically for negative values.
package fixedpoint

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// DivisionPrecision is the number of decimal places kept by intermediate divisions
// before the final rounding to a token's precision.
const DivisionPrecision int32 = 36

var (
	half = decimal.New(5, -1)
	one  = decimal.NewFromInt(1)
)

// ToDecimal divides a raw integer amount by 10^decimals. decimals == 0 is a pass-through.
func ToDecimal(raw *big.Int, decimals int32) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	if decimals == 0 {
		return decimal.NewFromBigInt(raw, 0)
	}
	return decimal.NewFromBigInt(raw, -decimals)
}

// ParseDecimal parses a signed raw integer string and scales it by 10^-decimals
func ParseDecimal(raw string, decimals int32) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	n, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return decimal.Zero, fmt.Errorf("invalid integer amount %q", raw)
	}
	return ToDecimal(n, decimals), nil
}

// ToRaw converts a decimal back to a raw integer amount with the given precision, truncating
// anything below it
func ToRaw(value decimal.Decimal, decimals int32) *big.Int {
	return value.Shift(decimals).Truncate(0).BigInt()
}

// RoundHalfUp rounds value to the given number of decimal places.
// 0.5 * 10^-decimals is added in the direction of the value's sign before truncating.
func RoundHalfUp(value decimal.Decimal, decimals int32) decimal.Decimal {
	step := half.Shift(-decimals)
	if value.IsNegative() {
		return value.Sub(step).Truncate(decimals)
	}
	return value.Add(step).Truncate(decimals)
}

// Index is the pair of per-market interest indices used to convert between par and wei
type Index struct {
	BorrowIndex decimal.Decimal
	SupplyIndex decimal.Decimal
}

// NewIndex returns the initial index (1.0 / 1.0) of a new market
func NewIndex() Index {
	return Index{BorrowIndex: one, SupplyIndex: one}
}

// rateFor returns the index applied to a signed amount: supply for >= 0, borrow for < 0
func (ix Index) rateFor(amount decimal.Decimal) decimal.Decimal {
	if amount.IsNegative() {
		return ix.BorrowIndex
	}
	return ix.SupplyIndex
}

// ParToWei converts a signed par amount to wei using the market index: wei = par * index
func ParToWei(par decimal.Decimal, ix Index, decimals int32) decimal.Decimal {
	return RoundHalfUp(par.Mul(ix.rateFor(par)), decimals)
}

// WeiToPar converts a signed wei amount to par using the market index: par = wei / index
func WeiToPar(wei decimal.Decimal, ix Index, decimals int32) decimal.Decimal {
	rate := ix.rateFor(wei)
	if rate.IsZero() {
		return decimal.Zero
	}
	return RoundHalfUp(wei.DivRound(rate, DivisionPrecision), decimals)
}

// SafeDiv divides a by b, returning zero when b is zero
func SafeDiv(a, b decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		return decimal.Zero
	}
	return a.DivRound(b, DivisionPrecision)
}

// ScalePrice converts a raw oracle price to a USD price per whole token.
// Oracle prices carry 36 - tokenDecimals decimals.
func ScalePrice(raw *big.Int, priceDecimals, tokenDecimals int32) decimal.Decimal {
	return ToDecimal(raw, priceDecimals-tokenDecimals)
}
