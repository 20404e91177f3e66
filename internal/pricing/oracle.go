// Package pricing provides USD prices of market tokens as of an event.
//
// Prices are materialized from oracle_price events into OraclePrice rows. Reads are cached
// per block hash; a cache miss reads the row synchronously.
package pricing

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/feral-file/ff-margin-indexer/internal/domain"
	"github.com/feral-file/ff-margin-indexer/internal/fixedpoint"
	"github.com/feral-file/ff-margin-indexer/internal/logger"
	"github.com/feral-file/ff-margin-indexer/internal/store"
	"github.com/feral-file/ff-margin-indexer/internal/store/schema"
)

// Oracle returns USD prices per whole token
type Oracle struct {
	mu        sync.Mutex
	blockHash string
	prices    map[string]decimal.Decimal
}

// NewOracle creates an oracle with an empty cache
func NewOracle() *Oracle {
	return &Oracle{prices: make(map[string]decimal.Decimal)}
}

// scope resets the cache when the event belongs to another block
func (o *Oracle) scope(blockHash string) {
	if blockHash != o.blockHash {
		o.blockHash = blockHash
		o.prices = make(map[string]decimal.Decimal)
	}
}

// Price returns the USD price of token as of event. A token without a recorded price is worth zero.
func (o *Oracle) Price(ctx context.Context, repo store.Repository, token string, event *domain.Event) (decimal.Decimal, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.scope(event.BlockHash)
	if price, ok := o.prices[token]; ok {
		return price, nil
	}

	row, err := store.Get[schema.OraclePrice](ctx, repo, token)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load price of %s: %w", token, err)
	}

	price := decimal.Zero
	if row != nil {
		price = row.PriceUSD
	} else {
		logger.DebugCtx(ctx, "No oracle price recorded", zap.String("token", token), zap.Uint64("block", event.BlockNumber))
	}

	o.prices[token] = price
	return price, nil
}

// Record stores the raw oracle price of a market token and refreshes the cache.
// Oracle prices carry 36 - token decimals decimals.
func (o *Oracle) Record(ctx context.Context, repo store.Repository, token *schema.Token, rawPrice string, event *domain.Event) (decimal.Decimal, error) {
	price, err := fixedpoint.ParseDecimal(rawPrice, domain.ORACLE_PRICE_DECIMALS-token.Decimals)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: oracle price %q for %s: %v", domain.ErrInvalidEventParams, rawPrice, token.ID, err)
	}

	row := &schema.OraclePrice{
		ID:          token.ID,
		PriceUSD:    price,
		BlockNumber: event.BlockNumber,
		BlockHash:   event.BlockHash,
	}
	if err := repo.Save(ctx, row); err != nil {
		return decimal.Zero, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.scope(event.BlockHash)
	o.prices[token.ID] = price

	return price, nil
}

// Reset drops the cache. Used when an event's writes are rolled back.
func (o *Oracle) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.blockHash = ""
	o.prices = make(map[string]decimal.Decimal)
}

// ValueUSD converts a token amount to USD at the given price
func ValueUSD(amount, priceUSD decimal.Decimal) decimal.Decimal {
	return fixedpoint.RoundHalfUp(amount.Mul(priceUSD), domain.USD_DECIMALS)
}
