package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/feral-file/ff-margin-indexer/internal/store/schema"
)

// applyTotalPar moves one balance's contribution in the market totals from oldPar to newPar.
// Non-negative balances count toward SupplyPar, negative ones toward BorrowPar by magnitude.
//
// It must run exactly once per balance change, so it is only reachable through
// BalanceTracker.Apply.
func applyTotalPar(total *schema.TotalPar, oldPar, newPar decimal.Decimal) {
	if oldPar.IsNegative() {
		total.BorrowPar = total.BorrowPar.Sub(oldPar.Abs())
	} else {
		total.SupplyPar = total.SupplyPar.Sub(oldPar)
	}

	if newPar.IsNegative() {
		total.BorrowPar = total.BorrowPar.Add(newPar.Abs())
	} else {
		total.SupplyPar = total.SupplyPar.Add(newPar)
	}
}
