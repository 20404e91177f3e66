// Package amm indexes the protocol's AMM pairs. Raw liquidity token transfers are
// reconstructed into logical mints and burns per transaction, and the pairs' own
// Mint, Burn, Swap and Sync events complete them and keep reserves current.
package amm

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/feral-file/ff-margin-indexer/internal/domain"
	"github.com/feral-file/ff-margin-indexer/internal/fixedpoint"
	"github.com/feral-file/ff-margin-indexer/internal/logger"
	"github.com/feral-file/ff-margin-indexer/internal/pricing"
	"github.com/feral-file/ff-margin-indexer/internal/store"
	"github.com/feral-file/ff-margin-indexer/internal/store/schema"
)

// Oracle is the price capability pair amounts are valued with
//
//go:generate mockgen -source=amm.go -destination=../mocks/amm_oracle.go -package=mocks -mock_names=Oracle=MockAmmOracle
type Oracle interface {
	// Price returns the USD price of a whole token as of event
	Price(ctx context.Context, repo store.Repository, token string, event *domain.Event) (decimal.Decimal, error)
}

// Reconstructor applies pair factory and pair events
type Reconstructor struct {
	oracle Oracle
}

// New creates a reconstructor
func New(oracle Oracle) *Reconstructor {
	return &Reconstructor{oracle: oracle}
}

func (r *Reconstructor) handler(kind domain.EventKind) (func(context.Context, *store.UnitOfWork, *domain.Event) error, bool) {
	switch kind {
	case domain.EventKindPairCreated:
		return r.handlePairCreated, true
	case domain.EventKindAmmTransfer:
		return r.handleTransfer, true
	case domain.EventKindAmmMint:
		return r.handleMint, true
	case domain.EventKindAmmBurn:
		return r.handleBurn, true
	case domain.EventKindAmmSwap:
		return r.handleSwap, true
	case domain.EventKindAmmSync:
		return r.handleSync, true
	}
	return nil, false
}

// Handles reports whether the reconstructor applies events of kind
func (r *Reconstructor) Handles(kind domain.EventKind) bool {
	_, ok := r.handler(kind)
	return ok
}

// Apply applies one event through uow
func (r *Reconstructor) Apply(ctx context.Context, uow *store.UnitOfWork, event *domain.Event) error {
	handle, ok := r.handler(event.Kind)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownEventKind, event.Kind)
	}

	if err := handle(ctx, uow, event); err != nil {
		return fmt.Errorf("failed to apply %s %s: %w", event.Kind, event.ID(), err)
	}

	return nil
}

// loadPair returns the pair that emitted event
func loadPair(ctx context.Context, repo store.Repository, event *domain.Event) (*schema.AmmPair, error) {
	return store.MustGet[schema.AmmPair](ctx, repo, domain.NormalizeAddress(event.ContractAddress), domain.ErrPairNotFound)
}

// pairTokens returns the two market tokens of a pair
func pairTokens(ctx context.Context, repo store.Repository, pair *schema.AmmPair) (*schema.Token, *schema.Token, error) {
	token0, err := store.MustGet[schema.Token](ctx, repo, pair.Token0, domain.ErrTokenNotFound)
	if err != nil {
		return nil, nil, err
	}
	token1, err := store.MustGet[schema.Token](ctx, repo, pair.Token1, domain.ErrTokenNotFound)
	if err != nil {
		return nil, nil, err
	}
	return token0, token1, nil
}

// amounts parses a raw amount of each pair token
func amounts(raw0, raw1 string, token0, token1 *schema.Token) (decimal.Decimal, decimal.Decimal, error) {
	amount0, err := fixedpoint.ParseDecimal(raw0, token0.Decimals)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: %v", domain.ErrInvalidEventParams, err)
	}
	amount1, err := fixedpoint.ParseDecimal(raw1, token1.Decimals)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: %v", domain.ErrInvalidEventParams, err)
	}
	return amount0, amount1, nil
}

// valueUSD values amounts of both pair tokens and returns each side's USD value
func (r *Reconstructor) valueUSD(ctx context.Context, repo store.Repository, event *domain.Event, pair *schema.AmmPair, amount0, amount1 decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	price0, err := r.oracle.Price(ctx, repo, pair.Token0, event)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	price1, err := r.oracle.Price(ctx, repo, pair.Token1, event)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return pricing.ValueUSD(amount0, price0), pricing.ValueUSD(amount1, price1), nil
}

func (r *Reconstructor) handlePairCreated(ctx context.Context, uow *store.UnitOfWork, event *domain.Event) error {
	var params domain.PairCreatedParams
	if err := event.DecodeParams(&params); err != nil {
		return err
	}

	address := domain.NormalizeAddress(params.Pair)
	existing, err := store.Get[schema.AmmPair](ctx, uow, address)
	if err != nil {
		return err
	}
	if existing != nil {
		logger.WarnCtx(ctx, "Pair already indexed", zap.String("pair", address))
		return nil
	}

	pair := &schema.AmmPair{
		ID:                   address,
		Token0:               domain.NormalizeAddress(params.Token0),
		Token1:               domain.NormalizeAddress(params.Token1),
		Reserve0:             decimal.Zero,
		Reserve1:             decimal.Zero,
		TotalSupply:          decimal.Zero,
		ReserveUSD:           decimal.Zero,
		VolumeUSD:            decimal.Zero,
		CreatedAtTimestamp:   event.Timestamp,
		CreatedAtBlockNumber: event.BlockNumber,
	}

	logger.InfoCtx(ctx, "Pair created",
		zap.String("pair", pair.ID),
		zap.String("token0", pair.Token0),
		zap.String("token1", pair.Token1))

	return uow.Save(ctx, pair)
}

func (r *Reconstructor) handleSwap(ctx context.Context, uow *store.UnitOfWork, event *domain.Event) error {
	var params domain.AmmSwapParams
	if err := event.DecodeParams(&params); err != nil {
		return err
	}

	pair, err := loadPair(ctx, uow, event)
	if err != nil {
		return err
	}
	token0, token1, err := pairTokens(ctx, uow, pair)
	if err != nil {
		return err
	}
	amount0In, amount1In, err := amounts(params.Amount0In, params.Amount1In, token0, token1)
	if err != nil {
		return err
	}
	amount0Out, amount1Out, err := amounts(params.Amount0Out, params.Amount1Out, token0, token1)
	if err != nil {
		return err
	}

	usd0, usd1, err := r.valueUSD(ctx, uow, event, pair, amount0In.Add(amount0Out), amount1In.Add(amount1Out))
	if err != nil {
		return err
	}
	// Both legs carry the same value; average them when both are priced
	amountUSD := usd0.Add(usd1)
	if !usd0.IsZero() && !usd1.IsZero() {
		amountUSD = fixedpoint.RoundHalfUp(amountUSD.Div(decimal.NewFromInt(2)), domain.USD_DECIMALS)
	}

	tx, err := store.LoadTransaction(ctx, uow, event)
	if err != nil {
		return err
	}

	trade := &schema.AmmTrade{
		ID:          event.ID(),
		Transaction: tx.ID,
		Timestamp:   event.Timestamp,
		Pair:        pair.ID,
		Sender:      domain.NormalizeAddress(params.Sender),
		To:          domain.NormalizeAddress(params.To),
		Amount0In:   amount0In,
		Amount1In:   amount1In,
		Amount0Out:  amount0Out,
		Amount1Out:  amount1Out,
		AmountUSD:   amountUSD,
		LogIndex:    event.LogIndex,
	}
	tx.Trades = append(tx.Trades, trade.ID)

	pair.VolumeUSD = pair.VolumeUSD.Add(amountUSD)
	pair.TransactionCount++

	return store.SaveAll(ctx, uow, trade, tx, pair)
}

func (r *Reconstructor) handleSync(ctx context.Context, uow *store.UnitOfWork, event *domain.Event) error {
	var params domain.AmmSyncParams
	if err := event.DecodeParams(&params); err != nil {
		return err
	}

	pair, err := loadPair(ctx, uow, event)
	if err != nil {
		return err
	}
	token0, token1, err := pairTokens(ctx, uow, pair)
	if err != nil {
		return err
	}
	reserve0, reserve1, err := amounts(params.Reserve0, params.Reserve1, token0, token1)
	if err != nil {
		return err
	}
	usd0, usd1, err := r.valueUSD(ctx, uow, event, pair, reserve0, reserve1)
	if err != nil {
		return err
	}

	pair.Reserve0 = reserve0
	pair.Reserve1 = reserve1
	pair.ReserveUSD = usd0.Add(usd1)

	return uow.Save(ctx, pair)
}
