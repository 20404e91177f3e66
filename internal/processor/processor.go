// Package processor applies ledger events strictly in feed order.
//
// Each event is applied in its own store transaction together with the event cursor, so an
// event is either fully applied and checkpointed or not applied at all. Redelivered events at
// or below the cursor are skipped.
package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/feral-file/ff-margin-indexer/internal/adapter"
	"github.com/feral-file/ff-margin-indexer/internal/domain"
	"github.com/feral-file/ff-margin-indexer/internal/logger"
	"github.com/feral-file/ff-margin-indexer/internal/metrics"
	"github.com/feral-file/ff-margin-indexer/internal/registry"
	"github.com/feral-file/ff-margin-indexer/internal/store"
	"github.com/feral-file/ff-margin-indexer/internal/store/schema"
)

// Config holds the configuration for the event processor
type Config struct {
	Chain domain.Chain
	// RetryInitialInterval is the first delay before retrying a failed event
	RetryInitialInterval time.Duration
	// RetryMaxElapsedTime bounds the time spent retrying one event
	RetryMaxElapsedTime time.Duration
}

// Applier applies the event kinds it handles through a unit of work
type Applier interface {
	Handles(kind domain.EventKind) bool
	Apply(ctx context.Context, uow *store.UnitOfWork, event *domain.Event) error
}

// Ledger is the margin ledger as seen by the processor
type Ledger interface {
	Applier
	// FinalizeTransaction closes the bookkeeping of a transaction once the feed moved past it
	FinalizeTransaction(ctx context.Context, uow *store.UnitOfWork, txHash string) (int, error)
}

// PriceCache is a cache that must be dropped when an event's writes are rolled back
type PriceCache interface {
	Reset()
}

// Processor defines the interface for applying one event
//
//go:generate mockgen -source=processor.go -destination=../mocks/processor.go -package=mocks -mock_names=Processor=MockProcessor
type Processor interface {
	// Process applies event and commits it with the event cursor.
	// Events at or below the cursor are skipped without error.
	Process(ctx context.Context, event *domain.Event) error
}

type processor struct {
	config   Config
	store    store.Store
	cache    *store.BlockCache
	ledger   Ledger
	amm      Applier
	registry registry.WatchRegistry
	prices   PriceCache
	metrics  *metrics.Metrics
	clock    adapter.Clock
}

// outcome collects what committing an event changed, reported once the commit succeeded
type outcome struct {
	invalidated int
	registered  []schema.ContractKind
}

// NewProcessor creates a new event processor
func NewProcessor(
	cfg Config,
	st store.Store,
	cache *store.BlockCache,
	ledger Ledger,
	amm Applier,
	reg registry.WatchRegistry,
	prices PriceCache,
	m *metrics.Metrics,
	clock adapter.Clock,
) Processor {
	return &processor{
		config:   cfg,
		store:    st,
		cache:    cache,
		ledger:   ledger,
		amm:      amm,
		registry: reg,
		prices:   prices,
		metrics:  m,
		clock:    clock,
	}
}

// IsPermanent reports whether retrying err cannot succeed
func IsPermanent(err error) bool {
	return domain.IsMissingReference(err) ||
		errors.Is(err, domain.ErrInvalidEventParams) ||
		errors.Is(err, domain.ErrUnknownEventKind)
}

// failureReason labels err for the failure counter
func failureReason(err error) string {
	switch {
	case domain.IsMissingReference(err):
		return "missing_reference"
	case errors.Is(err, domain.ErrInvalidEventParams):
		return "invalid_params"
	case errors.Is(err, domain.ErrUnknownEventKind):
		return "unknown_kind"
	default:
		return "transient"
	}
}

// Process applies event and commits it with the event cursor
func (p *processor) Process(ctx context.Context, event *domain.Event) error {
	if event.Chain != p.config.Chain {
		return fmt.Errorf("%w: event of chain %s on a %s worker", domain.ErrInvalidEventParams, event.Chain, p.config.Chain)
	}

	cursor, err := store.NewCursorStore(p.store).GetEventCursor(ctx, string(p.config.Chain))
	if err != nil {
		return err
	}
	if cursor != nil && event.Position().Compare(*cursor) <= 0 {
		logger.DebugCtx(ctx, "Skipping event at or below cursor",
			zap.String("event", event.ID()),
			zap.String("position", event.Position().String()),
			zap.String("cursor", cursor.String()))
		p.metrics.EventsSkipped.Inc()
		return nil
	}

	start := p.clock.Now()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.config.RetryInitialInterval
	b.MaxElapsedTime = p.config.RetryMaxElapsedTime
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.5

	var result *outcome
	operation := func() error {
		out, err := p.apply(ctx, event)
		if err != nil {
			// The rolled back writes may still be cached
			p.cache.Reset()
			p.prices.Reset()
			p.metrics.EventFailures.WithLabelValues(string(event.Kind), failureReason(err)).Inc()

			if IsPermanent(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = out
		return nil
	}

	var attemptCount int
	notifyOnError := func(err error, duration time.Duration) {
		attemptCount++
		logger.WarnCtx(ctx, "Event processing failed, retrying",
			zap.Error(err),
			zap.String("event", event.ID()),
			zap.String("kind", string(event.Kind)),
			zap.Int("attempt", attemptCount),
			zap.Duration("next_retry_in", duration),
		)
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notifyOnError); err != nil {
		return fmt.Errorf("failed to process event %s after %d retries: %w", event.ID(), attemptCount, err)
	}

	p.metrics.EventsProcessed.WithLabelValues(string(event.Kind)).Inc()
	p.metrics.LastBlock.Set(float64(event.BlockNumber))
	p.metrics.ProcessDuration.Observe(p.clock.Since(start).Seconds())
	p.metrics.PositionsInvalidated.Add(float64(result.invalidated))
	for _, kind := range result.registered {
		p.metrics.ContractsRegistered.WithLabelValues(string(kind)).Inc()
	}

	logger.DebugCtx(ctx, "Event committed",
		zap.String("event", event.ID()),
		zap.String("kind", string(event.Kind)),
		zap.String("position", event.Position().String()))

	return nil
}

// apply runs one attempt of event in a single store transaction
func (p *processor) apply(ctx context.Context, event *domain.Event) (*outcome, error) {
	p.cache.BeginBlock(event.BlockNumber)

	out := &outcome{}
	err := p.store.WithTransaction(ctx, func(tx store.Store) error {
		chain := string(p.config.Chain)
		uow := store.NewUnitOfWork(tx, p.cache)
		cursors := store.NewCursorStore(tx)

		lastTx, err := cursors.GetLastTransaction(ctx, chain)
		if err != nil {
			return err
		}
		if lastTx != "" && lastTx != event.TxHash {
			invalidated, err := p.ledger.FinalizeTransaction(ctx, uow, lastTx)
			if err != nil {
				return fmt.Errorf("failed to finalize transaction %s: %w", lastTx, err)
			}
			out.invalidated = invalidated
		}

		if err := p.dispatch(ctx, uow, event); err != nil {
			return err
		}

		kind, registered, err := p.registerDiscovered(ctx, uow, event)
		if err != nil {
			return err
		}
		if registered {
			out.registered = append(out.registered, kind)
		}

		if err := cursors.SetEventCursor(ctx, chain, event.Position()); err != nil {
			return err
		}
		return cursors.SetLastTransaction(ctx, chain, event.TxHash)
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// dispatch routes event to the component handling its kind
func (p *processor) dispatch(ctx context.Context, uow *store.UnitOfWork, event *domain.Event) error {
	switch {
	case p.ledger.Handles(event.Kind):
		return p.ledger.Apply(ctx, uow, event)
	case p.amm.Handles(event.Kind):
		return p.amm.Apply(ctx, uow, event)
	default:
		return fmt.Errorf("%w: %s", domain.ErrUnknownEventKind, event.Kind)
	}
}

// registerDiscovered starts watching contracts created by factory events
func (p *processor) registerDiscovered(ctx context.Context, uow *store.UnitOfWork, event *domain.Event) (schema.ContractKind, bool, error) {
	var (
		address string
		kind    schema.ContractKind
	)

	switch event.Kind {
	case domain.EventKindPairCreated:
		var params domain.PairCreatedParams
		if err := event.DecodeParams(&params); err != nil {
			return "", false, err
		}
		address, kind = params.Pair, schema.ContractKindAmmPair
	case domain.EventKindVaultCreated:
		var params domain.VaultCreatedParams
		if err := event.DecodeParams(&params); err != nil {
			return "", false, err
		}
		address, kind = params.Vault, schema.ContractKindIsolationVault
	default:
		return "", false, nil
	}

	registered, err := p.registry.Register(ctx, uow, event, address, kind)
	if err != nil {
		return "", false, err
	}

	return kind, registered, nil
}
