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

// PositionTrade is a margin-position proxy trade, after its balance updates were applied
type PositionTrade struct {
	// Open is true for margin_position_open, false for margin_position_close
	Open bool
	// Account is the isolated margin account of the position
	Account *schema.MarginAccount
	// EffectiveUser is the effective user of the account owner
	EffectiveUser string

	InputToken  *schema.Token
	OutputToken *schema.Token
	// DepositToken is the deposited token on open and the withdrawn token on close
	DepositToken *schema.Token
	// DepositWei is the signed deposit (or withdrawal) amount
	DepositWei decimal.Decimal
}

// PositionMachine drives the margin position lifecycle:
// OPEN -> CLOSED | LIQUIDATED | EXPIRED, and any live state -> UNKNOWN.
// Uninitialized positions are never mutated.
type PositionMachine struct {
	oracle Oracle
}

// NewPositionMachine creates the position state machine
func NewPositionMachine(oracle Oracle) *PositionMachine {
	return &PositionMachine{oracle: oracle}
}

// isLive reports whether a position can still be invalidated by unrelated trading
func isLive(status schema.PositionStatus) bool {
	return status == schema.PositionStatusOpen ||
		status == schema.PositionStatusLiquidated ||
		status == schema.PositionStatusExpired
}

// load returns the initialized position of a margin account, or nil
func (m *PositionMachine) load(ctx context.Context, repo store.Repository, accountID string) (*schema.MarginPosition, error) {
	position, err := store.Get[schema.MarginPosition](ctx, repo, accountID)
	if err != nil {
		return nil, err
	}
	if position == nil || !position.IsInitialized {
		return nil, nil
	}
	return position, nil
}

// invalidate moves a position to UNKNOWN
func (m *PositionMachine) invalidate(ctx context.Context, position *schema.MarginPosition, reason string, fields ...zap.Field) {
	logger.WarnCtx(ctx, "Margin position invalidated",
		append([]zap.Field{
			zap.String("position", position.ID),
			zap.String("status", string(position.Status)),
			zap.String("reason", reason),
		}, fields...)...)
	position.Status = schema.PositionStatusUnknown
}

// accountPar returns the signed par balance of an account in one market
func accountPar(ctx context.Context, repo store.Repository, accountID, token string) (decimal.Decimal, error) {
	value, err := store.Get[schema.MarginAccountTokenValue](ctx, repo, schema.TokenValueID(accountID, token))
	if err != nil {
		return decimal.Zero, err
	}
	if value == nil {
		return decimal.Zero, nil
	}
	return value.ValuePar, nil
}

// owedPar turns a signed owed balance into the non-negative amount owed
func owedPar(par decimal.Decimal) decimal.Decimal {
	if par.IsNegative() {
		return par.Neg()
	}
	return decimal.Zero
}

// legSnapshot is one token of a position valued at a point in time
type legSnapshot struct {
	par      decimal.Decimal
	wei      decimal.Decimal
	usd      decimal.Decimal
	priceUSD decimal.Decimal
}

// snapshot values a non-negative par amount of token. Owed amounts convert through the borrow index.
func (m *PositionMachine) snapshot(ctx context.Context, repo store.Repository, event *domain.Event, token string, par decimal.Decimal, owed bool) (legSnapshot, error) {
	tokenRow, err := loadToken(ctx, repo, token)
	if err != nil {
		return legSnapshot{}, err
	}
	index, err := loadIndex(ctx, repo, token)
	if err != nil {
		return legSnapshot{}, err
	}
	price, err := m.oracle.Price(ctx, repo, token, event)
	if err != nil {
		return legSnapshot{}, err
	}

	signed := par
	if owed {
		signed = par.Neg()
	}
	wei := fixedpoint.ParToWei(signed, index, tokenRow.Decimals).Abs()

	return legSnapshot{
		par:      par,
		wei:      wei,
		usd:      pricing.ValueUSD(wei, price),
		priceUSD: price,
	}, nil
}

// ApplyTrade applies a margin-position proxy trade to the position of trade.Account.
// It reports whether a new position was opened.
func (m *PositionMachine) ApplyTrade(ctx context.Context, repo store.Repository, event *domain.Event, trade PositionTrade) (bool, error) {
	account := trade.Account

	position, err := m.load(ctx, repo, account.ID)
	if err != nil {
		return false, err
	}

	if position == nil {
		if !trade.Open {
			logger.DebugCtx(ctx, "Ignoring close of a position that was never opened", zap.String("account", account.ID))
			return false, nil
		}
		position, err = m.open(ctx, repo, event, trade)
		if err != nil {
			return false, err
		}
		return true, repo.Save(ctx, position)
	}

	if position.Status != schema.PositionStatusOpen {
		if position.Status != schema.PositionStatusUnknown {
			m.invalidate(ctx, position, "trade on a position that is no longer open", zap.String("tx", event.TxHash))
			return false, repo.Save(ctx, position)
		}
		return false, nil
	}

	for _, token := range []*schema.Token{trade.InputToken, trade.OutputToken, trade.DepositToken} {
		if token.ID != position.HeldToken && token.ID != position.OwedToken {
			m.invalidate(ctx, position, "trade token outside the position pair",
				zap.String("token", token.ID),
				zap.String("heldToken", position.HeldToken),
				zap.String("owedToken", position.OwedToken))
			return false, repo.Save(ctx, position)
		}
	}

	heldPar, err := accountPar(ctx, repo, account.ID, position.HeldToken)
	if err != nil {
		return false, err
	}
	owedSigned, err := accountPar(ctx, repo, account.ID, position.OwedToken)
	if err != nil {
		return false, err
	}

	previousHeld := position.HeldAmountPar
	previousOwed := position.OwedAmountPar
	position.HeldAmountPar = heldPar
	position.OwedAmountPar = owedPar(owedSigned)

	if position.OwedAmountPar.IsZero() {
		if err := m.close(ctx, repo, event, position, previousHeld, previousOwed); err != nil {
			return false, err
		}
	}

	return false, repo.Save(ctx, position)
}

// open builds a new position from the account's current held and owed balances
func (m *PositionMachine) open(ctx context.Context, repo store.Repository, event *domain.Event, trade PositionTrade) (*schema.MarginPosition, error) {
	held := trade.OutputToken.ID
	owed := trade.InputToken.ID

	heldPar, err := accountPar(ctx, repo, trade.Account.ID, held)
	if err != nil {
		return nil, err
	}
	owedSigned, err := accountPar(ctx, repo, trade.Account.ID, owed)
	if err != nil {
		return nil, err
	}

	heldLeg, err := m.snapshot(ctx, repo, event, held, heldPar, false)
	if err != nil {
		return nil, err
	}
	owedLeg, err := m.snapshot(ctx, repo, event, owed, owedPar(owedSigned), true)
	if err != nil {
		return nil, err
	}

	depositPrice, err := m.oracle.Price(ctx, repo, trade.DepositToken.ID, event)
	if err != nil {
		return nil, err
	}
	deposit := trade.DepositWei.Abs()

	position := &schema.MarginPosition{
		ID:               trade.Account.ID,
		MarginAccount:    trade.Account.ID,
		EffectiveUser:    trade.EffectiveUser,
		Status:           schema.PositionStatusOpen,
		IsInitialized:    true,
		OpenTimestamp:    event.Timestamp,
		OpenTransaction:  event.TxHash,
		MarginDeposit:    deposit,
		MarginDepositUSD: pricing.ValueUSD(deposit, depositPrice),
		HeldToken:        held,
		OwedToken:        owed,
		HeldAmountPar:    heldLeg.par,
		OwedAmountPar:    owedLeg.par,

		InitialHeldAmountPar: heldLeg.par,
		InitialHeldAmountWei: heldLeg.wei,
		InitialHeldAmountUSD: heldLeg.usd,
		InitialHeldPrice:     fixedpoint.SafeDiv(owedLeg.wei, heldLeg.wei),
		InitialHeldPriceUSD:  heldLeg.priceUSD,

		InitialOwedAmountPar: owedLeg.par,
		InitialOwedAmountWei: owedLeg.wei,
		InitialOwedAmountUSD: owedLeg.usd,
		InitialOwedPrice:     fixedpoint.SafeDiv(heldLeg.wei, owedLeg.wei),
		InitialOwedPriceUSD:  owedLeg.priceUSD,
	}

	// A pending expiry set before the position opened still applies to its debt
	owedValue, err := store.Get[schema.MarginAccountTokenValue](ctx, repo, schema.TokenValueID(trade.Account.ID, owed))
	if err != nil {
		return nil, err
	}
	if owedValue != nil {
		position.ExpirationTimestamp = owedValue.ExpirationTimestamp
	}

	logger.InfoCtx(ctx, "Margin position opened",
		zap.String("position", position.ID),
		zap.String("heldToken", held),
		zap.String("owedToken", owed))

	return position, nil
}

// close moves a fully repaid position to CLOSED, snapshotting the amounts it closed with
// through the current index and prices
func (m *PositionMachine) close(ctx context.Context, repo store.Repository, event *domain.Event, position *schema.MarginPosition, heldPar, owedPar decimal.Decimal) error {
	heldLeg, err := m.snapshot(ctx, repo, event, position.HeldToken, heldPar, false)
	if err != nil {
		return err
	}
	owedLeg, err := m.snapshot(ctx, repo, event, position.OwedToken, owedPar, true)
	if err != nil {
		return err
	}

	position.Status = schema.PositionStatusClosed
	m.stampClose(position, event)
	m.recordCloseSnapshot(position, heldLeg, owedLeg)

	logger.InfoCtx(ctx, "Margin position closed", zap.String("position", position.ID))

	return nil
}

// stampClose sets the close coordinates of a position the first time it leaves OPEN
func (m *PositionMachine) stampClose(position *schema.MarginPosition, event *domain.Event) {
	if position.CloseTimestamp.IsSet() {
		return
	}
	position.CloseTimestamp = domain.Some(event.Timestamp)
	position.CloseTransaction = domain.Some(event.TxHash)
}

func (m *PositionMachine) recordCloseSnapshot(position *schema.MarginPosition, heldLeg, owedLeg legSnapshot) {
	position.CloseHeldAmountPar = heldLeg.par
	position.CloseHeldAmountWei = heldLeg.wei
	position.CloseHeldAmountUSD = heldLeg.usd
	position.CloseHeldPrice = fixedpoint.SafeDiv(owedLeg.wei, heldLeg.wei)
	position.CloseHeldPriceUSD = heldLeg.priceUSD

	position.CloseOwedAmountPar = owedLeg.par
	position.CloseOwedAmountWei = owedLeg.wei
	position.CloseOwedAmountUSD = owedLeg.usd
	position.CloseOwedPrice = fixedpoint.SafeDiv(heldLeg.wei, owedLeg.wei)
	position.CloseOwedPriceUSD = owedLeg.priceUSD
}

// Seize applies a liquidation (status LIQUIDATED) or an expiration (status EXPIRED) to the
// position of a margin account. seizedWei is the held amount taken from the account.
// CLOSED and UNKNOWN positions are left untouched.
func (m *PositionMachine) Seize(ctx context.Context, repo store.Repository, event *domain.Event, accountID string, status schema.PositionStatus, seizedWei decimal.Decimal) error {
	position, err := m.load(ctx, repo, accountID)
	if err != nil || position == nil {
		return err
	}

	if position.Status == schema.PositionStatusClosed || position.Status == schema.PositionStatusUnknown {
		logger.InfoCtx(ctx, "Ignoring seizure of a position that is not live",
			zap.String("position", position.ID),
			zap.String("status", string(position.Status)),
			zap.String("tx", event.TxHash))
		return nil
	}

	heldPar, err := accountPar(ctx, repo, accountID, position.HeldToken)
	if err != nil {
		return err
	}
	owedSigned, err := accountPar(ctx, repo, accountID, position.OwedToken)
	if err != nil {
		return err
	}

	first := !position.CloseTimestamp.IsSet()
	position.HeldAmountPar = heldPar
	position.OwedAmountPar = owedPar(owedSigned)
	position.Status = status
	m.stampClose(position, event)

	heldLeg, err := m.snapshot(ctx, repo, event, position.HeldToken, position.HeldAmountPar, false)
	if err != nil {
		return err
	}
	if first {
		owedLeg, err := m.snapshot(ctx, repo, event, position.OwedToken, position.OwedAmountPar, true)
		if err != nil {
			return err
		}
		m.recordCloseSnapshot(position, heldLeg, owedLeg)
	}

	seized := seizedWei.Abs()
	position.CloseHeldAmountSeized = position.CloseHeldAmountSeized.Add(seized)
	position.CloseHeldAmountSeizedUSD = position.CloseHeldAmountSeizedUSD.Add(pricing.ValueUSD(seized, heldLeg.priceUSD))

	return repo.Save(ctx, position)
}

// MarkTouched records that a plain trade touched the position of an isolated account in the
// event's transaction. Unless a margin-position proxy event claims it before the transaction
// ends, FinalizeTransaction invalidates the position.
func (m *PositionMachine) MarkTouched(ctx context.Context, uow *store.UnitOfWork, event *domain.Event, info domain.AccountInfo) error {
	if !info.IsIsolated() {
		return nil
	}

	position, err := m.load(ctx, uow, info.ID())
	if err != nil || position == nil || !isLive(position.Status) {
		return err
	}

	tx, err := store.LoadTransaction(ctx, uow, event)
	if err != nil {
		return err
	}
	tx.PendingInvalidations = addString(tx.PendingInvalidations, position.ID)

	return uow.Save(ctx, tx)
}

// Claim removes a position from its transaction's pending invalidations
func (m *PositionMachine) Claim(ctx context.Context, uow *store.UnitOfWork, event *domain.Event, accountID string) error {
	tx, err := store.LoadTransaction(ctx, uow, event)
	if err != nil {
		return err
	}
	if !containsString(tx.PendingInvalidations, accountID) {
		return nil
	}

	tx.PendingInvalidations = removeString(tx.PendingInvalidations, accountID)
	return uow.Save(ctx, tx)
}

// FinalizeTransaction invalidates every position still pending in the transaction txHash and
// returns how many were invalidated
func (m *PositionMachine) FinalizeTransaction(ctx context.Context, uow *store.UnitOfWork, txHash string) (int, error) {
	tx, err := store.Get[schema.Transaction](ctx, uow, txHash)
	if err != nil || tx == nil || len(tx.PendingInvalidations) == 0 {
		return 0, err
	}

	invalidated := 0
	for _, id := range tx.PendingInvalidations {
		position, err := m.load(ctx, uow, id)
		if err != nil {
			return invalidated, err
		}
		if position == nil || !isLive(position.Status) {
			continue
		}

		m.invalidate(ctx, position, "plain trade outside the margin position proxy", zap.String("tx", txHash))
		if err := uow.Save(ctx, position); err != nil {
			return invalidated, err
		}
		invalidated++
	}

	tx.PendingInvalidations = tx.PendingInvalidations[:0]
	return invalidated, uow.Save(ctx, tx)
}

// SetExpiration mirrors a pending expiry of an account's debt onto its position
func (m *PositionMachine) SetExpiration(ctx context.Context, repo store.Repository, accountID, token string, expiration domain.Optional[time.Time]) error {
	position, err := m.load(ctx, repo, accountID)
	if err != nil || position == nil {
		return err
	}
	if position.OwedToken != token {
		return nil
	}

	position.ExpirationTimestamp = expiration
	return repo.Save(ctx, position)
}
