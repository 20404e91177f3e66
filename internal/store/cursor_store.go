package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/feral-file/ff-margin-indexer/internal/domain"
)

// CursorStore defines the interface for storing and retrieving processing cursors
//
//go:generate mockgen -source=cursor_store.go -destination=../mocks/cursor_store.go -package=mocks -mock_names=CursorStore=MockCursorStore
type CursorStore interface {
	// GetBlockCursor retrieves the last published block number for a chain
	GetBlockCursor(ctx context.Context, chain string) (uint64, error)
	// SetBlockCursor stores the last published block number for a chain
	SetBlockCursor(ctx context.Context, chain string, blockNumber uint64) error
	// GetEventCursor retrieves the position of the last applied event for a chain, nil when none
	GetEventCursor(ctx context.Context, chain string) (*domain.EventPosition, error)
	// SetEventCursor stores the position of the last applied event for a chain
	SetEventCursor(ctx context.Context, chain string, position domain.EventPosition) error
	// GetLastTransaction retrieves the hash of the transaction of the last applied event, "" when none
	GetLastTransaction(ctx context.Context, chain string) (string, error)
	// SetLastTransaction stores the hash of the transaction of the last applied event
	SetLastTransaction(ctx context.Context, chain string, txHash string) error
}

type cursorStore struct {
	kv KeyValueStore
}

// NewCursorStore creates a new cursor store. Passing a transaction-bound store makes
// cursor writes part of that transaction.
func NewCursorStore(kv KeyValueStore) CursorStore {
	return &cursorStore{kv: kv}
}

func blockCursorKey(chain string) string {
	return fmt.Sprintf("block_cursor:%s", chain)
}

func eventCursorKey(chain string) string {
	return fmt.Sprintf("event_cursor:%s", chain)
}

func lastTransactionKey(chain string) string {
	return fmt.Sprintf("last_tx:%s", chain)
}

// GetBlockCursor retrieves the last published block number for a chain
func (s *cursorStore) GetBlockCursor(ctx context.Context, chain string) (uint64, error) {
	value, err := s.kv.GetKeyValue(ctx, blockCursorKey(chain))
	if err != nil {
		return 0, fmt.Errorf("failed to get block cursor: %w", err)
	}
	if value == "" {
		return 0, nil // Return 0 if no cursor exists
	}

	blockNumber, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse block cursor: %w", err)
	}

	return blockNumber, nil
}

// SetBlockCursor stores the last published block number for a chain
func (s *cursorStore) SetBlockCursor(ctx context.Context, chain string, blockNumber uint64) error {
	err := s.kv.SetKeyValue(ctx, blockCursorKey(chain), strconv.FormatUint(blockNumber, 10))
	if err != nil {
		return fmt.Errorf("failed to set block cursor: %w", err)
	}

	return nil
}

// GetEventCursor retrieves the position of the last applied event for a chain
func (s *cursorStore) GetEventCursor(ctx context.Context, chain string) (*domain.EventPosition, error) {
	value, err := s.kv.GetKeyValue(ctx, eventCursorKey(chain))
	if err != nil {
		return nil, fmt.Errorf("failed to get event cursor: %w", err)
	}
	if value == "" {
		return nil, nil
	}

	position, err := domain.ParseEventPosition(value)
	if err != nil {
		return nil, fmt.Errorf("failed to parse event cursor: %w", err)
	}

	return &position, nil
}

// SetEventCursor stores the position of the last applied event for a chain
func (s *cursorStore) SetEventCursor(ctx context.Context, chain string, position domain.EventPosition) error {
	err := s.kv.SetKeyValue(ctx, eventCursorKey(chain), position.String())
	if err != nil {
		return fmt.Errorf("failed to set event cursor: %w", err)
	}

	return nil
}

// GetLastTransaction retrieves the hash of the transaction of the last applied event
func (s *cursorStore) GetLastTransaction(ctx context.Context, chain string) (string, error) {
	value, err := s.kv.GetKeyValue(ctx, lastTransactionKey(chain))
	if err != nil {
		return "", fmt.Errorf("failed to get last transaction: %w", err)
	}

	return value, nil
}

// SetLastTransaction stores the hash of the transaction of the last applied event
func (s *cursorStore) SetLastTransaction(ctx context.Context, chain string, txHash string) error {
	if err := s.kv.SetKeyValue(ctx, lastTransactionKey(chain), txHash); err != nil {
		return fmt.Errorf("failed to set last transaction: %w", err)
	}

	return nil
}
