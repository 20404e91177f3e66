package ledger

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/feral-file/ff-margin-indexer/internal/domain"
	"github.com/feral-file/ff-margin-indexer/internal/logger"
	"github.com/feral-file/ff-margin-indexer/internal/store"
	"github.com/feral-file/ff-margin-indexer/internal/store/schema"
)

// BorrowPositionTracker keeps the token lists of borrow positions in step with their
// account's balances and closes a position once it holds no balance at all
type BorrowPositionTracker struct{}

// NewBorrowPositionTracker creates the tracker
func NewBorrowPositionTracker() *BorrowPositionTracker {
	return &BorrowPositionTracker{}
}

// Open opens the borrow position of account, seeding its token lists from the account.
// Opening an already open position is a no-op.
func (b *BorrowPositionTracker) Open(ctx context.Context, repo store.Repository, event *domain.Event, account *schema.MarginAccount, effectiveUser string) (*schema.BorrowPosition, bool, error) {
	position, err := store.Get[schema.BorrowPosition](ctx, repo, account.ID)
	if err != nil {
		return nil, false, err
	}
	if position != nil && position.Status == schema.PositionStatusOpen {
		return position, false, nil
	}

	all := datatypes.JSONSlice[string]{}
	for _, token := range account.SupplyTokens {
		all = addString(all, token)
	}
	for _, token := range account.BorrowTokens {
		all = addString(all, token)
	}

	position = &schema.BorrowPosition{
		ID:              account.ID,
		MarginAccount:   account.ID,
		EffectiveUser:   effectiveUser,
		Status:          schema.PositionStatusOpen,
		OpenTimestamp:   event.Timestamp,
		OpenTransaction: event.TxHash,
		AllTokens:       all,
		SupplyTokens:    append(datatypes.JSONSlice[string]{}, account.SupplyTokens...),
		BorrowTokens:    append(datatypes.JSONSlice[string]{}, account.BorrowTokens...),
	}

	if err := repo.Save(ctx, position); err != nil {
		return nil, false, err
	}

	return position, true, nil
}

// Update moves token between the position's lists according to its new par balance
func (b *BorrowPositionTracker) Update(ctx context.Context, repo store.Repository, event *domain.Event, marginAccountID, token string, newPar decimal.Decimal) error {
	position, err := store.Get[schema.BorrowPosition](ctx, repo, marginAccountID)
	if err != nil {
		return err
	}
	if position == nil || position.Status != schema.PositionStatusOpen {
		return nil
	}

	position.AllTokens = removeString(position.AllTokens, token)
	position.SupplyTokens = removeString(position.SupplyTokens, token)
	position.BorrowTokens = removeString(position.BorrowTokens, token)

	switch {
	case newPar.IsPositive():
		position.AllTokens = append(position.AllTokens, token)
		position.SupplyTokens = append(position.SupplyTokens, token)
	case newPar.IsNegative():
		position.AllTokens = append(position.AllTokens, token)
		position.BorrowTokens = append(position.BorrowTokens, token)
	}

	if len(position.AllTokens) == 0 {
		position.Status = schema.PositionStatusClosed
		if !position.CloseTimestamp.IsSet() {
			position.CloseTimestamp = domain.Some(event.Timestamp)
			position.CloseTransaction = domain.Some(event.TxHash)
		}
		logger.DebugCtx(ctx, "Borrow position closed", zap.String("position", position.ID))
	}

	return repo.Save(ctx, position)
}
