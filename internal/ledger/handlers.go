package ledger

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/feral-file/ff-margin-indexer/internal/domain"
	"github.com/feral-file/ff-margin-indexer/internal/logger"
	"github.com/feral-file/ff-margin-indexer/internal/pricing"
	"github.com/feral-file/ff-margin-indexer/internal/store"
	"github.com/feral-file/ff-margin-indexer/internal/store/schema"
)

// Handles reports whether the ledger applies events of kind
func (l *Ledger) Handles(kind domain.EventKind) bool {
	_, ok := l.handler(kind)
	return ok
}

func (l *Ledger) handler(kind domain.EventKind) (func(context.Context, *store.UnitOfWork, *domain.Event) error, bool) {
	switch kind {
	case domain.EventKindAddMarket:
		return l.handleAddMarket, true
	case domain.EventKindRemoveMarket:
		return l.handleRemoveMarket, true
	case domain.EventKindSetEarningsRate,
		domain.EventKindSetLiquidationSpread,
		domain.EventKindSetMinBorrowedValue,
		domain.EventKindSetMarginRatio,
		domain.EventKindExpiryRampTimeSet:
		return l.handleProtocolValue, true
	case domain.EventKindSetSpreadPremium, domain.EventKindSetMarginPremium:
		return l.handleMarketRiskValue, true
	case domain.EventKindIndexUpdate:
		return l.handleIndexUpdate, true
	case domain.EventKindOraclePrice:
		return l.handleOraclePrice, true
	case domain.EventKindDeposit:
		return l.handleDeposit, true
	case domain.EventKindWithdraw:
		return l.handleWithdraw, true
	case domain.EventKindTransfer:
		return l.handleTransfer, true
	case domain.EventKindBuy, domain.EventKindSell:
		return l.handleExchange, true
	case domain.EventKindTrade:
		return l.handleTrade, true
	case domain.EventKindLiquidate:
		return l.handleLiquidate, true
	case domain.EventKindVaporize:
		return l.handleVaporize, true
	case domain.EventKindExpirySet:
		return l.handleExpirySet, true
	case domain.EventKindMarginPositionOpen, domain.EventKindMarginPositionClose:
		return l.handleMarginPosition, true
	case domain.EventKindBorrowPositionOpen:
		return l.handleBorrowPositionOpen, true
	case domain.EventKindVaultCreated:
		return l.handleVaultCreated, true
	}
	return nil, false
}

// Apply applies one event to the ledger through uow
func (l *Ledger) Apply(ctx context.Context, uow *store.UnitOfWork, event *domain.Event) error {
	handle, ok := l.handler(event.Kind)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownEventKind, event.Kind)
	}

	if err := handle(ctx, uow, event); err != nil {
		return fmt.Errorf("failed to apply %s %s: %w", event.Kind, event.ID(), err)
	}

	return nil
}

// FinalizeTransaction closes the bookkeeping of a transaction once the feed moved past it.
// It returns the number of margin positions invalidated by plain trades in that transaction.
func (l *Ledger) FinalizeTransaction(ctx context.Context, uow *store.UnitOfWork, txHash string) (int, error) {
	return l.positions.FinalizeTransaction(ctx, uow, txHash)
}

// applySingle applies one balance update of a single-account event
func (l *Ledger) applySingle(ctx context.Context, uow *store.UnitOfWork, event *domain.Event, info domain.AccountInfo, marketID uint64, update domain.BalanceUpdate) error {
	protocol, err := l.mustProtocol(ctx, uow)
	if err != nil {
		return err
	}
	token, err := tokenForMarket(ctx, uow, marketID)
	if err != nil {
		return err
	}

	if _, err := l.balances.Apply(ctx, uow, event, protocol, info, token, update); err != nil {
		return err
	}

	protocol.TransactionCount++
	if err := l.refreshRates(ctx, uow, protocol, touchedTokens{token}); err != nil {
		return err
	}

	return uow.Save(ctx, protocol)
}

func (l *Ledger) handleDeposit(ctx context.Context, uow *store.UnitOfWork, event *domain.Event) error {
	var params domain.DepositParams
	if err := event.DecodeParams(&params); err != nil {
		return err
	}
	return l.applySingle(ctx, uow, event, params.Account, params.MarketID, params.Update)
}

func (l *Ledger) handleWithdraw(ctx context.Context, uow *store.UnitOfWork, event *domain.Event) error {
	var params domain.WithdrawParams
	if err := event.DecodeParams(&params); err != nil {
		return err
	}
	return l.applySingle(ctx, uow, event, params.Account, params.MarketID, params.Update)
}

func (l *Ledger) handleTransfer(ctx context.Context, uow *store.UnitOfWork, event *domain.Event) error {
	var params domain.TransferParams
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

	if _, err := l.balances.Apply(ctx, uow, event, protocol, params.AccountOne, token, params.UpdateOne); err != nil {
		return err
	}
	if _, err := l.balances.Apply(ctx, uow, event, protocol, params.AccountTwo, token, params.UpdateTwo); err != nil {
		return err
	}

	protocol.TransactionCount++
	if err := l.refreshRates(ctx, uow, protocol, touchedTokens{token}); err != nil {
		return err
	}

	return uow.Save(ctx, protocol)
}

// recordTradeVolume credits the USD value of a trade's input to the protocol and each trader
func (l *Ledger) recordTradeVolume(ctx context.Context, uow *store.UnitOfWork, event *domain.Event, protocol *schema.Protocol, input *AccountUpdate, traders ...string) error {
	price, err := l.oracle.Price(ctx, uow, input.Token.ID, event)
	if err != nil {
		return err
	}
	volume := pricing.ValueUSD(input.DeltaWei.Abs(), price)

	protocol.TradeCount++
	protocol.TotalTradeVolumeUSD = protocol.TotalTradeVolumeUSD.Add(volume)

	seen := make(map[string]struct{}, len(traders))
	for _, trader := range traders {
		if _, ok := seen[trader]; ok {
			continue
		}
		seen[trader] = struct{}{}

		err := l.aliases.UpdateUser(ctx, uow, trader, func(user *schema.User) {
			user.TotalTradeVolumeUSD = user.TotalTradeVolumeUSD.Add(volume)
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// handleExchange applies a buy or sell against an external exchange wrapper
func (l *Ledger) handleExchange(ctx context.Context, uow *store.UnitOfWork, event *domain.Event) error {
	var params domain.ExchangeParams
	if err := event.DecodeParams(&params); err != nil {
		return err
	}

	protocol, err := l.mustProtocol(ctx, uow)
	if err != nil {
		return err
	}
	takerToken, err := tokenForMarket(ctx, uow, params.TakerMarketID)
	if err != nil {
		return err
	}
	makerToken, err := tokenForMarket(ctx, uow, params.MakerMarketID)
	if err != nil {
		return err
	}

	taker, err := l.balances.Apply(ctx, uow, event, protocol, params.Account, takerToken, params.TakerUpdate)
	if err != nil {
		return err
	}
	if _, err := l.balances.Apply(ctx, uow, event, protocol, params.Account, makerToken, params.MakerUpdate); err != nil {
		return err
	}

	if err := l.recordTradeVolume(ctx, uow, event, protocol, taker, taker.Account.User); err != nil {
		return err
	}
	if err := l.positions.MarkTouched(ctx, uow, event, params.Account); err != nil {
		return err
	}

	protocol.TransactionCount++
	if err := l.refreshRates(ctx, uow, protocol, touchedTokens{takerToken, makerToken}); err != nil {
		return err
	}

	return uow.Save(ctx, protocol)
}

// handleTrade applies a trade between two margin accounts. Trades run by an expiry contract
// are expirations of the maker account.
func (l *Ledger) handleTrade(ctx context.Context, uow *store.UnitOfWork, event *domain.Event) error {
	var params domain.TradeParams
	if err := event.DecodeParams(&params); err != nil {
		return err
	}

	protocol, err := l.mustProtocol(ctx, uow)
	if err != nil {
		return err
	}
	inputToken, err := tokenForMarket(ctx, uow, params.InputMarketID)
	if err != nil {
		return err
	}
	outputToken, err := tokenForMarket(ctx, uow, params.OutputMarketID)
	if err != nil {
		return err
	}

	isExpiration := l.isExpiry(params.AutoTrader)
	var expiration domain.Optional[time.Time]
	if isExpiration {
		// The expiry is consumed by the trade, read it before the balances change
		value, err := store.Get[schema.MarginAccountTokenValue](ctx, uow, schema.TokenValueID(params.MakerAccount.ID(), inputToken.ID))
		if err != nil {
			return err
		}
		if value != nil {
			expiration = value.ExpirationTimestamp
		}
		if !expiration.IsSet() {
			logger.WarnCtx(ctx, "Expiration trade without a pending expiry, applying the full spread",
				zap.String("account", params.MakerAccount.ID()),
				zap.String("token", inputToken.ID),
				zap.String("tx", event.TxHash))
			expiration = domain.Some(event.Timestamp.Add(-time.Duration(protocol.ExpiryRampTime) * time.Second))
		}
	}

	takerInput, err := l.balances.Apply(ctx, uow, event, protocol, params.TakerAccount, inputToken, params.TakerInputUpdate)
	if err != nil {
		return err
	}
	takerOutput, err := l.balances.Apply(ctx, uow, event, protocol, params.TakerAccount, outputToken, params.TakerOutputUpdate)
	if err != nil {
		return err
	}
	makerInput, err := l.balances.Apply(ctx, uow, event, protocol, params.MakerAccount, inputToken, params.MakerInputUpdate)
	if err != nil {
		return err
	}
	makerOutput, err := l.balances.Apply(ctx, uow, event, protocol, params.MakerAccount, outputToken, params.MakerOutputUpdate)
	if err != nil {
		return err
	}

	if err := l.recordTradeVolume(ctx, uow, event, protocol, takerInput, takerInput.Account.User, makerInput.Account.User); err != nil {
		return err
	}

	if isExpiration {
		err := l.recordSeizure(ctx, uow, event, protocol, seizure{
			held:       outputToken,
			owed:       inputToken,
			solidHeld:  takerOutput,
			solidOwed:  takerInput,
			liquidHeld: makerOutput,
			liquidOwed: makerInput,
			borrowed:   makerInput.DeltaWei.Abs(),
			expiration: expiration,
		})
		if err != nil {
			return err
		}
	} else {
		if err := l.positions.MarkTouched(ctx, uow, event, params.TakerAccount); err != nil {
			return err
		}
		if err := l.positions.MarkTouched(ctx, uow, event, params.MakerAccount); err != nil {
			return err
		}
	}

	protocol.TransactionCount++
	if err := l.refreshRates(ctx, uow, protocol, touchedTokens{inputToken, outputToken}); err != nil {
		return err
	}

	return uow.Save(ctx, protocol)
}

// handleExpirySet stamps or clears the pending expiry of an account's balance in one market
func (l *Ledger) handleExpirySet(ctx context.Context, uow *store.UnitOfWork, event *domain.Event) error {
	var params domain.ExpirySetParams
	if err := event.DecodeParams(&params); err != nil {
		return err
	}

	token, err := tokenForMarket(ctx, uow, params.MarketID)
	if err != nil {
		return err
	}

	account, err := l.balances.LoadOrCreateAccount(ctx, uow, params.Account, event)
	if err != nil {
		return err
	}
	value, err := l.balances.LoadOrCreateTokenValue(ctx, uow, account.ID, token.ID)
	if err != nil {
		return err
	}

	expiration := domain.None[time.Time]()
	if params.Time > 0 {
		expiration = domain.Some(unixTime(params.Time))
		value.ExpiryAddress = domain.Some(domain.NormalizeAddress(event.ContractAddress))
		account.ExpirationTokens = addString(account.ExpirationTokens, token.ID)
	} else {
		value.ExpiryAddress = domain.None[string]()
		account.ExpirationTokens = removeString(account.ExpirationTokens, token.ID)
	}
	value.ExpirationTimestamp = expiration
	account.HasExpiration = len(account.ExpirationTokens) > 0

	if err := uow.Save(ctx, account); err != nil {
		return err
	}
	if err := l.balances.SaveTokenValue(ctx, uow, value); err != nil {
		return err
	}

	return l.positions.SetExpiration(ctx, uow, account.ID, token.ID, expiration)
}

// handleMarginPosition applies a margin-position proxy open or close. The balances were
// already changed by the core events of the same transaction.
func (l *Ledger) handleMarginPosition(ctx context.Context, uow *store.UnitOfWork, event *domain.Event) error {
	var (
		info                      domain.AccountInfo
		input, output, depositTok string
		depositUpdate             domain.BalanceUpdate
	)
	if event.Kind == domain.EventKindMarginPositionOpen {
		var params domain.MarginPositionOpenParams
		if err := event.DecodeParams(&params); err != nil {
			return err
		}
		info, input, output = params.Account, params.InputToken, params.OutputToken
		depositTok, depositUpdate = params.DepositToken, params.DepositUpdate
	} else {
		var params domain.MarginPositionCloseParams
		if err := event.DecodeParams(&params); err != nil {
			return err
		}
		info, input, output = params.Account, params.InputToken, params.OutputToken
		depositTok, depositUpdate = params.WithdrawalToken, params.WithdrawalUpdate
	}

	inputToken, err := loadToken(ctx, uow, input)
	if err != nil {
		return err
	}
	outputToken, err := loadToken(ctx, uow, output)
	if err != nil {
		return err
	}
	depositToken, err := loadToken(ctx, uow, depositTok)
	if err != nil {
		return err
	}
	depositWei, err := parseAmount(depositUpdate.DeltaWei, depositToken.Decimals)
	if err != nil {
		return err
	}

	account, err := l.balances.LoadOrCreateAccount(ctx, uow, info, event)
	if err != nil {
		return err
	}
	if err := uow.Save(ctx, account); err != nil {
		return err
	}
	effectiveUser, err := l.aliases.EffectiveUser(ctx, uow, account.User)
	if err != nil {
		return err
	}

	if err := l.positions.Claim(ctx, uow, event, account.ID); err != nil {
		return err
	}

	opened, err := l.positions.ApplyTrade(ctx, uow, event, PositionTrade{
		Open:          event.Kind == domain.EventKindMarginPositionOpen,
		Account:       account,
		EffectiveUser: effectiveUser,
		InputToken:    inputToken,
		OutputToken:   outputToken,
		DepositToken:  depositToken,
		DepositWei:    depositWei,
	})
	if err != nil || !opened {
		return err
	}

	return l.aliases.UpdateUser(ctx, uow, account.User, func(user *schema.User) {
		user.TotalMarginPositionCount++
	})
}

// handleBorrowPositionOpen opens the borrow position of an isolated account
func (l *Ledger) handleBorrowPositionOpen(ctx context.Context, uow *store.UnitOfWork, event *domain.Event) error {
	var params domain.BorrowPositionOpenParams
	if err := event.DecodeParams(&params); err != nil {
		return err
	}

	account, err := l.balances.LoadOrCreateAccount(ctx, uow, params.Account, event)
	if err != nil {
		return err
	}
	if err := uow.Save(ctx, account); err != nil {
		return err
	}
	effectiveUser, err := l.aliases.EffectiveUser(ctx, uow, account.User)
	if err != nil {
		return err
	}

	_, opened, err := l.balances.borrowPositions.Open(ctx, uow, event, account, effectiveUser)
	if err != nil || !opened {
		return err
	}

	logger.InfoCtx(ctx, "Borrow position opened", zap.String("account", account.ID))

	return l.aliases.UpdateUser(ctx, uow, account.User, func(user *schema.User) {
		user.TotalBorrowPositionCount++
	})
}

// handleVaultCreated makes the account the effective user of its new isolation vault
func (l *Ledger) handleVaultCreated(ctx context.Context, uow *store.UnitOfWork, event *domain.Event) error {
	var params domain.VaultCreatedParams
	if err := event.DecodeParams(&params); err != nil {
		return err
	}

	return l.aliases.SetAlias(ctx, uow, params.Vault, params.Account)
}
