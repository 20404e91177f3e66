package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/feral-file/ff-margin-indexer/internal/domain"
	"github.com/feral-file/ff-margin-indexer/internal/fixedpoint"
	"github.com/feral-file/ff-margin-indexer/internal/logger"
	"github.com/feral-file/ff-margin-indexer/internal/pricing"
	"github.com/feral-file/ff-margin-indexer/internal/store"
	"github.com/feral-file/ff-margin-indexer/internal/store/schema"
)

// LiquidationSpread returns the premium a liquidator earns seizing held to repay owed:
// (liquidationReward - 1) * (1 + heldPremium) * (1 + owedPremium)
func LiquidationSpread(liquidationReward, heldPremium, owedPremium decimal.Decimal) decimal.Decimal {
	return liquidationReward.Sub(one).
		Mul(one.Add(heldPremium)).
		Mul(one.Add(owedPremium))
}

// LiquidationReward returns the held amount awarded for repaying borrowed owed tokens,
// rounded to the held token's precision. A zero held price yields no reward.
func LiquidationReward(borrowed, owedPrice, heldPrice, spread decimal.Decimal, heldDecimals int32) decimal.Decimal {
	value := fixedpoint.SafeDiv(borrowed.Mul(owedPrice).Mul(spread), heldPrice)
	return fixedpoint.RoundHalfUp(value, heldDecimals)
}

// RampSpread scales an expiry spread linearly from zero at expiration to the full spread
// rampTime seconds later
func RampSpread(spread decimal.Decimal, expiration, now time.Time, rampTime int64) decimal.Decimal {
	if rampTime <= 0 {
		return spread
	}

	elapsed := int64(now.Sub(expiration) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed >= rampTime {
		return spread
	}

	ratio := decimal.NewFromInt(elapsed).
		DivRound(decimal.NewFromInt(rampTime), fixedpoint.DivisionPrecision).
		Truncate(domain.PROTOCOL_VALUE_DECIMALS)
	return spread.Mul(ratio)
}

// marketSpread computes the liquidation spread of a held/owed pair from the protocol reward
// and both markets' premiums
func (l *Ledger) marketSpread(ctx context.Context, repo store.Repository, protocol *schema.Protocol, held, owed *schema.Token) (decimal.Decimal, error) {
	heldRisk, err := store.Get[schema.MarketRiskInfo](ctx, repo, held.ID)
	if err != nil {
		return decimal.Zero, err
	}
	owedRisk, err := store.Get[schema.MarketRiskInfo](ctx, repo, owed.ID)
	if err != nil {
		return decimal.Zero, err
	}

	heldPremium, owedPremium := decimal.Zero, decimal.Zero
	if heldRisk != nil {
		heldPremium = heldRisk.LiquidationRewardPremium
	}
	if owedRisk != nil {
		owedPremium = owedRisk.LiquidationRewardPremium
	}

	return LiquidationSpread(protocol.LiquidationReward, heldPremium, owedPremium), nil
}

// seizure describes one liquidation or expiration after its balance updates were applied
type seizure struct {
	held *schema.Token
	owed *schema.Token

	solidHeld  *AccountUpdate
	solidOwed  *AccountUpdate
	liquidHeld *AccountUpdate
	liquidOwed *AccountUpdate

	// borrowed is the owed amount repaid on behalf of the liquid account
	borrowed decimal.Decimal
	// expiration is set for expirations, together with the pending expiry time
	expiration domain.Optional[time.Time]
}

// recordSeizure stores the Liquidation row of a liquidation or expiration, updates the
// protocol and user counters and drives the liquid account's position
func (l *Ledger) recordSeizure(ctx context.Context, uow *store.UnitOfWork, event *domain.Event, protocol *schema.Protocol, s seizure) error {
	heldPrice, err := l.oracle.Price(ctx, uow, s.held.ID, event)
	if err != nil {
		return err
	}
	owedPrice, err := l.oracle.Price(ctx, uow, s.owed.ID, event)
	if err != nil {
		return err
	}

	spread, err := l.marketSpread(ctx, uow, protocol, s.held, s.owed)
	if err != nil {
		return err
	}
	isExpiration := false
	if expiration, ok := s.expiration.Get(); ok {
		isExpiration = true
		spread = RampSpread(spread, expiration, event.Timestamp, protocol.ExpiryRampTime)
	}

	liquidUser := s.liquidHeld.Account.User
	effectiveUser, err := l.aliases.EffectiveUser(ctx, uow, liquidUser)
	if err != nil {
		return err
	}

	amountUSD := pricing.ValueUSD(s.borrowed, owedPrice)
	liquidation := &schema.Liquidation{
		ID:                            event.ID(),
		Transaction:                   event.TxHash,
		LogIndex:                      event.LogIndex,
		Timestamp:                     event.Timestamp,
		SolidMarginAccount:            s.solidHeld.Account.ID,
		LiquidMarginAccount:           s.liquidHeld.Account.ID,
		LiquidEffectiveUser:           effectiveUser,
		HeldToken:                     s.held.ID,
		OwedToken:                     s.owed.ID,
		IsExpiration:                  isExpiration,
		SolidHeldTokenAmountDeltaWei:  s.solidHeld.DeltaWei,
		SolidOwedTokenAmountDeltaWei:  s.solidOwed.DeltaWei,
		LiquidHeldTokenAmountDeltaWei: s.liquidHeld.DeltaWei,
		LiquidOwedTokenAmountDeltaWei: s.liquidOwed.DeltaWei,
		HeldTokenPriceUSD:             heldPrice,
		OwedTokenPriceUSD:             owedPrice,
		BorrowedTokenAmountDeltaWei:   s.borrowed,
		LiquidationSpread:             spread,
		HeldTokenLiquidationRewardWei: LiquidationReward(s.borrowed, owedPrice, heldPrice, spread, s.held.Decimals),
		AmountUSDLiquidated:           amountUSD,
	}
	if err := uow.Save(ctx, liquidation); err != nil {
		return err
	}

	protocol.LiquidationCount++
	protocol.TotalLiquidationVolumeUSD = protocol.TotalLiquidationVolumeUSD.Add(amountUSD)

	err = l.aliases.UpdateUser(ctx, uow, liquidUser, func(user *schema.User) {
		user.LiquidationCount++
		user.TotalLiquidationVolumeUSD = user.TotalLiquidationVolumeUSD.Add(amountUSD)
	})
	if err != nil {
		return err
	}

	status := schema.PositionStatusLiquidated
	if isExpiration {
		status = schema.PositionStatusExpired
	}

	logger.InfoCtx(ctx, "Margin account seized",
		zap.String("account", s.liquidHeld.Account.ID),
		zap.String("status", string(status)),
		zap.String("spread", spread.String()),
		zap.String("amountUSD", amountUSD.String()))

	return l.positions.Seize(ctx, uow, event, s.liquidHeld.Account.ID, status, s.liquidHeld.DeltaWei)
}

// handleLiquidate applies a liquidation of an undercollateralized account
func (l *Ledger) handleLiquidate(ctx context.Context, uow *store.UnitOfWork, event *domain.Event) error {
	var params domain.LiquidateParams
	if err := event.DecodeParams(&params); err != nil {
		return err
	}

	protocol, err := l.mustProtocol(ctx, uow)
	if err != nil {
		return err
	}
	held, err := tokenForMarket(ctx, uow, params.HeldMarketID)
	if err != nil {
		return err
	}
	owed, err := tokenForMarket(ctx, uow, params.OwedMarketID)
	if err != nil {
		return err
	}

	s := seizure{held: held, owed: owed}
	updates := []struct {
		info   domain.AccountInfo
		token  *schema.Token
		update domain.BalanceUpdate
		dst    **AccountUpdate
	}{
		{params.SolidAccount, held, params.SolidHeldUpdate, &s.solidHeld},
		{params.SolidAccount, owed, params.SolidOwedUpdate, &s.solidOwed},
		{params.LiquidAccount, held, params.LiquidHeldUpdate, &s.liquidHeld},
		{params.LiquidAccount, owed, params.LiquidOwedUpdate, &s.liquidOwed},
	}
	for _, u := range updates {
		result, err := l.balances.Apply(ctx, uow, event, protocol, u.info, u.token, u.update)
		if err != nil {
			return err
		}
		*u.dst = result
	}
	s.borrowed = s.liquidOwed.DeltaWei.Abs()

	if err := l.recordSeizure(ctx, uow, event, protocol, s); err != nil {
		return err
	}

	protocol.TransactionCount++
	if err := l.refreshRates(ctx, uow, protocol, touchedTokens{held, owed}); err != nil {
		return err
	}

	return uow.Save(ctx, protocol)
}

// handleVaporize applies a vaporization: the solid account pays off the remaining debt of an
// account without collateral
func (l *Ledger) handleVaporize(ctx context.Context, uow *store.UnitOfWork, event *domain.Event) error {
	var params domain.VaporizeParams
	if err := event.DecodeParams(&params); err != nil {
		return err
	}

	protocol, err := l.mustProtocol(ctx, uow)
	if err != nil {
		return err
	}
	held, err := tokenForMarket(ctx, uow, params.HeldMarketID)
	if err != nil {
		return err
	}
	owed, err := tokenForMarket(ctx, uow, params.OwedMarketID)
	if err != nil {
		return err
	}

	solidHeld, err := l.balances.Apply(ctx, uow, event, protocol, params.SolidAccount, held, params.SolidHeldUpdate)
	if err != nil {
		return err
	}
	solidOwed, err := l.balances.Apply(ctx, uow, event, protocol, params.SolidAccount, owed, params.SolidOwedUpdate)
	if err != nil {
		return err
	}
	vaporOwed, err := l.balances.Apply(ctx, uow, event, protocol, params.VaporAccount, owed, params.VaporOwedUpdate)
	if err != nil {
		return err
	}

	owedPrice, err := l.oracle.Price(ctx, uow, owed.ID, event)
	if err != nil {
		return err
	}

	vaporUser := vaporOwed.Account.User
	effectiveUser, err := l.aliases.EffectiveUser(ctx, uow, vaporUser)
	if err != nil {
		return err
	}

	amountUSD := pricing.ValueUSD(vaporOwed.DeltaWei.Abs(), owedPrice)
	vaporization := &schema.Vaporization{
		ID:                           event.ID(),
		Transaction:                  event.TxHash,
		LogIndex:                     event.LogIndex,
		Timestamp:                    event.Timestamp,
		SolidMarginAccount:           solidHeld.Account.ID,
		VaporMarginAccount:           vaporOwed.Account.ID,
		VaporEffectiveUser:           effectiveUser,
		HeldToken:                    held.ID,
		OwedToken:                    owed.ID,
		SolidHeldTokenAmountDeltaWei: solidHeld.DeltaWei,
		SolidOwedTokenAmountDeltaWei: solidOwed.DeltaWei,
		VaporOwedTokenAmountDeltaWei: vaporOwed.DeltaWei,
		AmountUSDVaporized:           amountUSD,
	}
	if err := uow.Save(ctx, vaporization); err != nil {
		return err
	}

	protocol.VaporizationCount++
	protocol.TotalVaporizationVolumeUSD = protocol.TotalVaporizationVolumeUSD.Add(amountUSD)
	protocol.TransactionCount++

	err = l.aliases.UpdateUser(ctx, uow, vaporUser, func(user *schema.User) {
		user.VaporizationCount++
		user.TotalVaporizationVolumeUSD = user.TotalVaporizationVolumeUSD.Add(amountUSD)
	})
	if err != nil {
		return err
	}

	logger.InfoCtx(ctx, "Margin account vaporized",
		zap.String("account", vaporOwed.Account.ID),
		zap.String("amountUSD", amountUSD.String()))

	if err := l.positions.Seize(ctx, uow, event, vaporOwed.Account.ID, schema.PositionStatusLiquidated, decimal.Zero); err != nil {
		return err
	}

	if err := l.refreshRates(ctx, uow, protocol, touchedTokens{held, owed}); err != nil {
		return err
	}

	return uow.Save(ctx, protocol)
}
