package ledger

import (
	"context"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/feral-file/ff-margin-indexer/internal/domain"
	"github.com/feral-file/ff-margin-indexer/internal/fixedpoint"
	"github.com/feral-file/ff-margin-indexer/internal/logger"
	"github.com/feral-file/ff-margin-indexer/internal/store"
	"github.com/feral-file/ff-margin-indexer/internal/store/schema"
)

// handleAddMarket creates a market with its token, interest state and risk info
func (l *Ledger) handleAddMarket(ctx context.Context, uow *store.UnitOfWork, event *domain.Event) error {
	var params domain.AddMarketParams
	if err := event.DecodeParams(&params); err != nil {
		return err
	}

	protocol, err := l.loadOrCreateProtocol(ctx, uow)
	if err != nil {
		return err
	}

	address := domain.NormalizeAddress(params.Token)
	marketID := schema.MarketKey(params.MarketID)

	token := &schema.Token{
		ID:              address,
		MarketID:        int64(params.MarketID),
		Symbol:          params.Symbol,
		Name:            params.Name,
		Decimals:        params.Decimals,
		SupplyLiquidity: decimal.Zero,
		BorrowLiquidity: decimal.Zero,
	}
	index := fixedpoint.NewIndex()

	protocol.NumberOfMarkets++

	err = store.SaveAll(ctx, uow,
		protocol,
		token,
		&schema.Market{ID: marketID, Token: address},
		&schema.InterestIndex{
			ID:          address,
			BorrowIndex: index.BorrowIndex,
			SupplyIndex: index.SupplyIndex,
			LastUpdate:  event.Timestamp,
		},
		&schema.InterestRate{
			ID:                  address,
			BorrowInterestRate:  decimal.Zero,
			SupplyInterestRate:  decimal.Zero,
			BorrowRatePerSecond: decimal.Zero,
		},
		&schema.TotalPar{ID: address, SupplyPar: decimal.Zero, BorrowPar: decimal.Zero},
		&schema.MarketRiskInfo{ID: address, MarginPremium: decimal.Zero, LiquidationRewardPremium: decimal.Zero},
	)
	if err != nil {
		return err
	}

	logger.InfoCtx(ctx, "Market added",
		zap.String("market", marketID),
		zap.String("token", address),
		zap.String("symbol", params.Symbol))

	return nil
}

// handleRemoveMarket records a market removal. The market's entities stay in place.
func (l *Ledger) handleRemoveMarket(ctx context.Context, uow *store.UnitOfWork, event *domain.Event) error {
	var params domain.RemoveMarketParams
	if err := event.DecodeParams(&params); err != nil {
		return err
	}

	protocol, err := l.loadOrCreateProtocol(ctx, uow)
	if err != nil {
		return err
	}

	// The market counter is incremented on removal as well. This mirrors the behavior existing
	// consumers were built against and is most likely a defect; it is kept until confirmed.
	protocol.NumberOfMarkets++

	logger.InfoCtx(ctx, "Market removed", zap.Uint64("market", params.MarketID), zap.String("token", params.Token))

	return uow.Save(ctx, protocol)
}

// handleProtocolValue applies one of the protocol-wide setters
func (l *Ledger) handleProtocolValue(ctx context.Context, uow *store.UnitOfWork, event *domain.Event) error {
	var params domain.ValueParams
	if err := event.DecodeParams(&params); err != nil {
		return err
	}

	protocol, err := l.loadOrCreateProtocol(ctx, uow)
	if err != nil {
		return err
	}

	switch event.Kind {
	case domain.EventKindSetEarningsRate:
		value, err := parseAmount(params.Value, domain.PROTOCOL_VALUE_DECIMALS)
		if err != nil {
			return err
		}
		protocol.EarningsRate = value
	case domain.EventKindSetLiquidationSpread:
		value, err := parseAmount(params.Value, domain.PROTOCOL_VALUE_DECIMALS)
		if err != nil {
			return err
		}
		protocol.LiquidationReward = one.Add(value)
	case domain.EventKindSetMinBorrowedValue:
		value, err := parseAmount(params.Value, domain.ORACLE_PRICE_DECIMALS)
		if err != nil {
			return err
		}
		protocol.MinBorrowedValue = value
	case domain.EventKindSetMarginRatio:
		value, err := parseAmount(params.Value, domain.PROTOCOL_VALUE_DECIMALS)
		if err != nil {
			return err
		}
		protocol.MarginRatio = value
	case domain.EventKindExpiryRampTimeSet:
		seconds, err := strconv.ParseInt(params.Value, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: ramp time %q: %v", domain.ErrInvalidEventParams, params.Value, err)
		}
		protocol.ExpiryRampTime = seconds
	default:
		return fmt.Errorf("%w: %s", domain.ErrUnknownEventKind, event.Kind)
	}

	logger.InfoCtx(ctx, "Protocol parameter updated", zap.String("kind", string(event.Kind)), zap.String("value", params.Value))

	return uow.Save(ctx, protocol)
}

// handleMarketRiskValue applies a per-market premium setter
func (l *Ledger) handleMarketRiskValue(ctx context.Context, uow *store.UnitOfWork, event *domain.Event) error {
	var params domain.MarketValueParams
	if err := event.DecodeParams(&params); err != nil {
		return err
	}

	token, err := tokenForMarket(ctx, uow, params.MarketID)
	if err != nil {
		return err
	}
	value, err := parseAmount(params.Value, domain.PROTOCOL_VALUE_DECIMALS)
	if err != nil {
		return err
	}

	risk, err := store.Get[schema.MarketRiskInfo](ctx, uow, token.ID)
	if err != nil {
		return err
	}
	if risk == nil {
		risk = &schema.MarketRiskInfo{ID: token.ID, MarginPremium: decimal.Zero, LiquidationRewardPremium: decimal.Zero}
	}

	if event.Kind == domain.EventKindSetSpreadPremium {
		risk.LiquidationRewardPremium = value
	} else {
		risk.MarginPremium = value
	}

	return uow.Save(ctx, risk)
}

// handleIndexUpdate stores a market's new interest index and refreshes its rate
func (l *Ledger) handleIndexUpdate(ctx context.Context, uow *store.UnitOfWork, event *domain.Event) error {
	var params domain.IndexUpdateParams
	if err := event.DecodeParams(&params); err != nil {
		return err
	}

	protocol, err := l.mustProtocol(ctx, uow)
	if err != nil {
		return err
	}
	token, err := tokenForMarket(ctx, uow, params.MarketID)
	if err != nil {
		return err
	}

	if err := l.rates.ApplyIndexUpdate(ctx, uow, token, params, event); err != nil {
		return err
	}

	return l.rates.Update(ctx, uow, protocol, token)
}

// handleOraclePrice materializes a market's oracle price
func (l *Ledger) handleOraclePrice(ctx context.Context, uow *store.UnitOfWork, event *domain.Event) error {
	var params domain.OraclePriceParams
	if err := event.DecodeParams(&params); err != nil {
		return err
	}

	token, err := tokenForMarket(ctx, uow, params.MarketID)
	if err != nil {
		return err
	}

	_, err = l.oracle.Record(ctx, uow, token, params.Price, event)
	return err
}
