package messaging

import (
	"context"

	"github.com/feral-file/ff-margin-indexer/internal/domain"
)

// EventHandler is called for every ledger event, in feed order
type EventHandler func(event *domain.Event) error

// Subscriber defines the interface for subscribing to the ledger events of a chain
//
//go:generate mockgen -source=subscriber.go -destination=../mocks/subscriber.go -package=mocks -mock_names=Subscriber=MockSubscriber
type Subscriber interface {
	// SubscribeEvents delivers the events of every watched contract starting at fromBlock.
	// Events are delivered ordered by block number, transaction index and log index.
	SubscribeEvents(ctx context.Context, fromBlock uint64, handler EventHandler) error

	// GetLatestBlock returns the latest block number
	GetLatestBlock(ctx context.Context) (uint64, error)

	// Close closes the connection and cleans up resources
	Close()
}
