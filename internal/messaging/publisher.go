package messaging

import (
	"context"
	"fmt"
	"strings"

	"github.com/feral-file/ff-margin-indexer/internal/domain"
)

// Publisher defines the interface for publishing events to message queue
//
//go:generate mockgen -source=publisher.go -destination=../mocks/publisher.go -package=mocks -mock_names=Publisher=MockPublisher
type Publisher interface {
	// PublishEvent publishes a ledger event to the message broker
	PublishEvent(ctx context.Context, event *domain.Event) error
	// Close closes the connection
	Close()
}

// chainToken turns a CAIP-2 chain id into a subject token, e.g. eip155:42161 -> eip155_42161
func chainToken(chain domain.Chain) string {
	return strings.ReplaceAll(string(chain), ":", "_")
}

// Subject returns the subject events of kind on chain are published to.
// Format: ledger.{chain}.{kind}, e.g. ledger.eip155_42161.deposit
func Subject(chain domain.Chain, kind domain.EventKind) string {
	return fmt.Sprintf("ledger.%s.%s", chainToken(chain), kind)
}

// ChainSubjects returns the wildcard matching every event subject of chain
func ChainSubjects(chain domain.Chain) string {
	return fmt.Sprintf("ledger.%s.>", chainToken(chain))
}
