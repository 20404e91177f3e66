package amm

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

var minimumLiquidity = decimal.NewFromInt(domain.AMM_MINIMUM_LIQUIDITY)

// LiquidityPositionID returns the id of a user's liquidity position in a pair
func LiquidityPositionID(pair, user string) string {
	return fmt.Sprintf("%s-%s", pair, user)
}

// isBootstrapLock reports whether a transfer is the minimum liquidity a pair locks on its
// first mint. Such transfers carry no ownership and are ignored.
func isBootstrapLock(pair, from, to string, raw decimal.Decimal) bool {
	if !raw.Equal(minimumLiquidity) {
		return false
	}
	return to == domain.ETHEREUM_ZERO_ADDRESS ||
		(from == domain.ETHEREUM_ZERO_ADDRESS && to == pair)
}

// lastMint returns the most recent logical mint of the transaction, or nil
func lastMint(ctx context.Context, repo store.Repository, tx *schema.Transaction) (*schema.AmmMint, error) {
	if len(tx.Mints) == 0 {
		return nil, nil
	}
	return store.Get[schema.AmmMint](ctx, repo, tx.Mints[len(tx.Mints)-1])
}

// lastBurn returns the most recent logical burn of the transaction, or nil
func lastBurn(ctx context.Context, repo store.Repository, tx *schema.Transaction) (*schema.AmmBurn, error) {
	if len(tx.Burns) == 0 {
		return nil, nil
	}
	return store.Get[schema.AmmBurn](ctx, repo, tx.Burns[len(tx.Burns)-1])
}

// handleTransfer reconstructs logical mints and burns from the pair's liquidity token transfers.
//
// Within one transaction:
//   - a transfer from the zero address opens a mint, unless the last mint is still incomplete
//   - a transfer to the pair opens a burn that waits for its transfer to the zero address
//   - a transfer from the pair to the zero address completes that burn or opens a new one;
//     an incomplete mint before a completed custody burn is the protocol fee and is folded into it
func (r *Reconstructor) handleTransfer(ctx context.Context, uow *store.UnitOfWork, event *domain.Event) error {
	var params domain.AmmTransferParams
	if err := event.DecodeParams(&params); err != nil {
		return err
	}

	pair, err := loadPair(ctx, uow, event)
	if err != nil {
		return err
	}

	from := domain.NormalizeAddress(params.From)
	to := domain.NormalizeAddress(params.To)
	raw, err := decimal.NewFromString(params.Value)
	if err != nil {
		return fmt.Errorf("%w: transfer value %q: %v", domain.ErrInvalidEventParams, params.Value, err)
	}

	if isBootstrapLock(pair.ID, from, to, raw) {
		logger.DebugCtx(ctx, "Ignoring minimum liquidity lock", zap.String("pair", pair.ID), zap.String("tx", event.TxHash))
		return nil
	}

	value := fixedpoint.ToDecimal(raw.BigInt(), domain.AMM_LIQUIDITY_DECIMALS)

	tx, err := store.LoadTransaction(ctx, uow, event)
	if err != nil {
		return err
	}

	switch {
	case from == domain.ETHEREUM_ZERO_ADDRESS:
		pair.TotalSupply = pair.TotalSupply.Add(value)
		if err := r.openMint(ctx, uow, event, tx, pair, to, value); err != nil {
			return err
		}
	case to == pair.ID:
		if err := r.openCustodyBurn(ctx, uow, event, tx, pair, from, value); err != nil {
			return err
		}
	case to == domain.ETHEREUM_ZERO_ADDRESS && from == pair.ID:
		pair.TotalSupply = pair.TotalSupply.Sub(value)
		if err := r.burn(ctx, uow, event, tx, pair, value); err != nil {
			return err
		}
	}

	if err := r.moveLiquidity(ctx, uow, pair, from, to, value); err != nil {
		return err
	}

	return store.SaveAll(ctx, uow, tx, pair)
}

func (r *Reconstructor) openMint(ctx context.Context, uow *store.UnitOfWork, event *domain.Event, tx *schema.Transaction, pair *schema.AmmPair, to string, value decimal.Decimal) error {
	mint, err := lastMint(ctx, uow, tx)
	if err != nil {
		return err
	}

	if mint != nil && !mint.IsComplete() {
		mint.Liquidity = mint.Liquidity.Add(value)
		return uow.Save(ctx, mint)
	}

	mint = &schema.AmmMint{
		ID:          fmt.Sprintf("%s-%d", tx.ID, len(tx.Mints)),
		Transaction: tx.ID,
		Timestamp:   event.Timestamp,
		Pair:        pair.ID,
		To:          to,
		Liquidity:   value,
		Amount0:     decimal.Zero,
		Amount1:     decimal.Zero,
		AmountUSD:   decimal.Zero,
	}
	tx.Mints = append(tx.Mints, mint.ID)

	return uow.Save(ctx, mint)
}

func (r *Reconstructor) openCustodyBurn(ctx context.Context, uow *store.UnitOfWork, event *domain.Event, tx *schema.Transaction, pair *schema.AmmPair, from string, value decimal.Decimal) error {
	burn := &schema.AmmBurn{
		ID:            fmt.Sprintf("%s-%d", tx.ID, len(tx.Burns)),
		Transaction:   tx.ID,
		Timestamp:     event.Timestamp,
		Pair:          pair.ID,
		Liquidity:     value,
		NeedsComplete: true,
		Sender:        domain.Some(from),
		To:            domain.Some(pair.ID),
		Amount0:       decimal.Zero,
		Amount1:       decimal.Zero,
		AmountUSD:     decimal.Zero,
	}
	tx.Burns = append(tx.Burns, burn.ID)

	return uow.Save(ctx, burn)
}

func (r *Reconstructor) burn(ctx context.Context, uow *store.UnitOfWork, event *domain.Event, tx *schema.Transaction, pair *schema.AmmPair, value decimal.Decimal) error {
	burn, err := lastBurn(ctx, uow, tx)
	if err != nil {
		return err
	}

	if burn == nil || !burn.NeedsComplete {
		burn = &schema.AmmBurn{
			ID:          fmt.Sprintf("%s-%d", tx.ID, len(tx.Burns)),
			Transaction: tx.ID,
			Timestamp:   event.Timestamp,
			Pair:        pair.ID,
			Liquidity:   value,
			Amount0:     decimal.Zero,
			Amount1:     decimal.Zero,
			AmountUSD:   decimal.Zero,
		}
		tx.Burns = append(tx.Burns, burn.ID)
		return uow.Save(ctx, burn)
	}

	mint, err := lastMint(ctx, uow, tx)
	if err != nil {
		return err
	}
	if mint != nil && !mint.IsComplete() {
		burn.FeeTo = domain.Some(mint.To)
		burn.FeeLiquidity = domain.Some(mint.Liquidity)

		if err := uow.Remove(ctx, mint.TableName(), mint.ID); err != nil {
			return err
		}
		tx.Mints = tx.Mints[:len(tx.Mints)-1]

		logger.DebugCtx(ctx, "Folded protocol fee mint into burn",
			zap.String("burn", burn.ID),
			zap.String("mint", mint.ID),
			zap.String("feeLiquidity", mint.Liquidity.String()))
	}

	return uow.Save(ctx, burn)
}

// moveLiquidity updates the liquidity positions of the transfer endpoints that are users
func (r *Reconstructor) moveLiquidity(ctx context.Context, uow *store.UnitOfWork, pair *schema.AmmPair, from, to string, value decimal.Decimal) error {
	if from == to {
		return nil
	}

	for _, leg := range []struct {
		user  string
		delta decimal.Decimal
	}{
		{from, value.Neg()},
		{to, value},
	} {
		if leg.user == domain.ETHEREUM_ZERO_ADDRESS || leg.user == pair.ID {
			continue
		}

		id := LiquidityPositionID(pair.ID, leg.user)
		position, err := store.Get[schema.AmmLiquidityPosition](ctx, uow, id)
		if err != nil {
			return err
		}
		if position == nil {
			position = &schema.AmmLiquidityPosition{
				ID:                    id,
				Pair:                  pair.ID,
				User:                  leg.user,
				LiquidityTokenBalance: decimal.Zero,
			}
		}

		position.LiquidityTokenBalance = position.LiquidityTokenBalance.Add(leg.delta)
		if err := uow.Save(ctx, position); err != nil {
			return err
		}
	}

	return nil
}

// handleMint completes the transaction's last logical mint with the pair's Mint event.
// The transaction is recorded even when there is no mint to complete.
func (r *Reconstructor) handleMint(ctx context.Context, uow *store.UnitOfWork, event *domain.Event) error {
	var params domain.AmmMintParams
	if err := event.DecodeParams(&params); err != nil {
		return err
	}

	pair, err := loadPair(ctx, uow, event)
	if err != nil {
		return err
	}
	tx, err := store.LoadTransaction(ctx, uow, event)
	if err != nil {
		return err
	}
	mint, err := lastMint(ctx, uow, tx)
	if err != nil {
		return err
	}
	if mint == nil {
		logger.WarnCtx(ctx, "Mint event without a pending mint", zap.String("pair", pair.ID), zap.String("tx", event.TxHash))
		return uow.Save(ctx, tx)
	}

	token0, token1, err := pairTokens(ctx, uow, pair)
	if err != nil {
		return err
	}
	amount0, amount1, err := amounts(params.Amount0, params.Amount1, token0, token1)
	if err != nil {
		return err
	}
	usd0, usd1, err := r.valueUSD(ctx, uow, event, pair, amount0, amount1)
	if err != nil {
		return err
	}

	mint.Sender = domain.Some(domain.NormalizeAddress(params.Sender))
	mint.Amount0 = amount0
	mint.Amount1 = amount1
	mint.AmountUSD = usd0.Add(usd1)
	mint.LogIndex = domain.Some(int64(event.LogIndex))
	pair.TransactionCount++

	return store.SaveAll(ctx, uow, mint, pair)
}

// handleBurn completes the transaction's last logical burn with the pair's Burn event
func (r *Reconstructor) handleBurn(ctx context.Context, uow *store.UnitOfWork, event *domain.Event) error {
	var params domain.AmmBurnParams
	if err := event.DecodeParams(&params); err != nil {
		return err
	}

	pair, err := loadPair(ctx, uow, event)
	if err != nil {
		return err
	}
	tx, err := store.LoadTransaction(ctx, uow, event)
	if err != nil {
		return err
	}
	burn, err := lastBurn(ctx, uow, tx)
	if err != nil {
		return err
	}
	if burn == nil {
		logger.WarnCtx(ctx, "Burn event without a pending burn", zap.String("pair", pair.ID), zap.String("tx", event.TxHash))
		return uow.Save(ctx, tx)
	}

	token0, token1, err := pairTokens(ctx, uow, pair)
	if err != nil {
		return err
	}
	amount0, amount1, err := amounts(params.Amount0, params.Amount1, token0, token1)
	if err != nil {
		return err
	}
	usd0, usd1, err := r.valueUSD(ctx, uow, event, pair, amount0, amount1)
	if err != nil {
		return err
	}

	burn.Sender = domain.Some(domain.NormalizeAddress(params.Sender))
	burn.To = domain.Some(domain.NormalizeAddress(params.To))
	burn.Amount0 = amount0
	burn.Amount1 = amount1
	burn.AmountUSD = usd0.Add(usd1)
	burn.LogIndex = domain.Some(int64(event.LogIndex))
	burn.NeedsComplete = false
	pair.TransactionCount++

	return store.SaveAll(ctx, uow, burn, pair)
}
