package store

import (
	"context"

	"gorm.io/datatypes"

	"github.com/feral-file/ff-margin-indexer/internal/domain"
	"github.com/feral-file/ff-margin-indexer/internal/store/schema"
)

// LoadTransaction returns the bookkeeping row of the event's transaction, creating it on the
// first event of the transaction. Rows written earlier in the block are served from the cache.
func LoadTransaction(ctx context.Context, uow *UnitOfWork, event *domain.Event) (*schema.Transaction, error) {
	tx, err := GetInBlock[schema.Transaction](ctx, uow, event.TxHash)
	if err != nil {
		return nil, err
	}
	if tx != nil {
		return tx, nil
	}

	tx, err = Get[schema.Transaction](ctx, uow, event.TxHash)
	if err != nil {
		return nil, err
	}
	if tx != nil {
		return tx, nil
	}

	return &schema.Transaction{
		ID:                   event.TxHash,
		BlockNumber:          event.BlockNumber,
		Timestamp:            event.Timestamp,
		Mints:                datatypes.JSONSlice[string]{},
		Burns:                datatypes.JSONSlice[string]{},
		Trades:               datatypes.JSONSlice[string]{},
		PendingInvalidations: datatypes.JSONSlice[string]{},
	}, nil
}
