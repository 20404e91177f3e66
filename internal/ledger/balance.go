package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/feral-file/ff-margin-indexer/internal/domain"
	"github.com/feral-file/ff-margin-indexer/internal/fixedpoint"
	"github.com/feral-file/ff-margin-indexer/internal/pricing"
	"github.com/feral-file/ff-margin-indexer/internal/store"
	"github.com/feral-file/ff-margin-indexer/internal/store/schema"
)

// AccountUpdate is the outcome of one balance change
type AccountUpdate struct {
	Account  *schema.MarginAccount
	Token    *schema.Token
	OldPar   decimal.Decimal
	NewPar   decimal.Decimal
	DeltaPar decimal.Decimal
	DeltaWei decimal.Decimal
	// BorrowOriginatedUSD is the USD value of debt newly taken on by this change
	BorrowOriginatedUSD decimal.Decimal
}

// BalanceTracker applies protocol balance updates to margin accounts. It is the only
// writer of MarginAccountTokenValue and TotalPar.
type BalanceTracker struct {
	oracle          Oracle
	aliases         *AliasTable
	borrowPositions *BorrowPositionTracker
}

// NewBalanceTracker creates a balance tracker
func NewBalanceTracker(oracle Oracle, aliases *AliasTable, borrowPositions *BorrowPositionTracker) *BalanceTracker {
	return &BalanceTracker{
		oracle:          oracle,
		aliases:         aliases,
		borrowPositions: borrowPositions,
	}
}

// LoadOrCreateAccount returns the margin account of info, creating it and its owner if needed
func (t *BalanceTracker) LoadOrCreateAccount(ctx context.Context, repo store.Repository, info domain.AccountInfo, event *domain.Event) (*schema.MarginAccount, error) {
	id := info.ID()

	account, err := store.Get[schema.MarginAccount](ctx, repo, id)
	if err != nil {
		return nil, err
	}
	if account != nil {
		return account, nil
	}

	owner, err := t.aliases.LoadOrCreateUser(ctx, repo, info.Owner)
	if err != nil {
		return nil, err
	}

	return &schema.MarginAccount{
		ID:                     id,
		User:                   owner.ID,
		AccountNumber:          info.Number,
		LastUpdatedTimestamp:   event.Timestamp,
		LastUpdatedBlockNumber: event.BlockNumber,
		BorrowTokens:           datatypes.JSONSlice[string]{},
		SupplyTokens:           datatypes.JSONSlice[string]{},
		ExpirationTokens:       datatypes.JSONSlice[string]{},
	}, nil
}

// LoadOrCreateTokenValue returns the balance of an account in one market, zero when absent
func (t *BalanceTracker) LoadOrCreateTokenValue(ctx context.Context, repo store.Repository, accountID, token string) (*schema.MarginAccountTokenValue, error) {
	id := schema.TokenValueID(accountID, token)

	value, err := store.Get[schema.MarginAccountTokenValue](ctx, repo, id)
	if err != nil {
		return nil, err
	}
	if value != nil {
		return value, nil
	}

	return &schema.MarginAccountTokenValue{
		ID:            id,
		MarginAccount: accountID,
		Token:         token,
		ValuePar:      decimal.Zero,
	}, nil
}

// SaveTokenValue persists a balance, deleting it instead when it is zero with no pending expiry
func (t *BalanceTracker) SaveTokenValue(ctx context.Context, repo store.Repository, value *schema.MarginAccountTokenValue) error {
	if value.ValuePar.IsZero() && !value.ExpirationTimestamp.IsSet() {
		return repo.Remove(ctx, value.TableName(), value.ID)
	}
	return repo.Save(ctx, value)
}

// Apply sets the par balance of an account in one market to update.NewPar.
// It rolls the market totals forward, maintains the account's borrow and supply token sets,
// records newly originated debt against the owner, and notifies the borrow-position tracker.
func (t *BalanceTracker) Apply(ctx context.Context, repo store.Repository, event *domain.Event, protocol *schema.Protocol, info domain.AccountInfo, token *schema.Token, update domain.BalanceUpdate) (*AccountUpdate, error) {
	newPar, err := parseAmount(update.NewPar, token.Decimals)
	if err != nil {
		return nil, err
	}
	deltaWei, err := parseAmount(update.DeltaWei, token.Decimals)
	if err != nil {
		return nil, err
	}

	account, err := t.LoadOrCreateAccount(ctx, repo, info, event)
	if err != nil {
		return nil, err
	}
	value, err := t.LoadOrCreateTokenValue(ctx, repo, account.ID, token.ID)
	if err != nil {
		return nil, err
	}
	oldPar := value.ValuePar

	total, err := store.MustGet[schema.TotalPar](ctx, repo, token.ID, domain.ErrTotalParNotFound)
	if err != nil {
		return nil, err
	}
	applyTotalPar(total, oldPar, newPar)
	if err := repo.Save(ctx, total); err != nil {
		return nil, err
	}

	// Borrow and supply membership are independent: a single update can leave one set and join the other
	if !oldPar.IsNegative() && newPar.IsNegative() {
		account.BorrowTokens = addString(account.BorrowTokens, token.ID)
	} else if oldPar.IsNegative() && !newPar.IsNegative() {
		account.BorrowTokens = removeString(account.BorrowTokens, token.ID)
	}
	if !oldPar.IsPositive() && newPar.IsPositive() {
		account.SupplyTokens = addString(account.SupplyTokens, token.ID)
	} else if oldPar.IsPositive() && !newPar.IsPositive() {
		account.SupplyTokens = removeString(account.SupplyTokens, token.ID)
	}
	account.HasBorrowValue = len(account.BorrowTokens) > 0
	account.HasSupplyValue = len(account.SupplyTokens) > 0
	account.LastUpdatedTimestamp = event.Timestamp
	account.LastUpdatedBlockNumber = event.BlockNumber

	result := &AccountUpdate{
		Account:             account,
		Token:               token,
		OldPar:              oldPar,
		NewPar:              newPar,
		DeltaPar:            newPar.Sub(oldPar),
		DeltaWei:            deltaWei,
		BorrowOriginatedUSD: decimal.Zero,
	}

	if newPar.IsNegative() && newPar.LessThan(oldPar) {
		usd, err := t.borrowVolumeUSD(ctx, repo, event, token, newPar, deltaWei)
		if err != nil {
			return nil, err
		}
		if usd.IsPositive() {
			result.BorrowOriginatedUSD = usd

			err = t.aliases.UpdateUser(ctx, repo, account.User, func(user *schema.User) {
				user.TotalBorrowVolumeOriginatedUSD = user.TotalBorrowVolumeOriginatedUSD.Add(usd)
			})
			if err != nil {
				return nil, err
			}
			protocol.TotalBorrowVolumeOriginatedUSD = protocol.TotalBorrowVolumeOriginatedUSD.Add(usd)
		}
	}

	if err := repo.Save(ctx, account); err != nil {
		return nil, err
	}

	value.ValuePar = newPar
	if err := t.SaveTokenValue(ctx, repo, value); err != nil {
		return nil, fmt.Errorf("failed to save balance %s: %w", value.ID, err)
	}

	if err := t.borrowPositions.Update(ctx, repo, event, account.ID, token.ID, newPar); err != nil {
		return nil, err
	}

	return result, nil
}

// originatedBorrowWei is the part of a balance change that is new debt: the amount withdrawn,
// capped at the size of the resulting debt. Both amounts are signed wei.
func originatedBorrowWei(deltaWei, newWei decimal.Decimal) decimal.Decimal {
	if !deltaWei.IsNegative() || !newWei.IsNegative() {
		return decimal.Zero
	}
	return decimal.Min(deltaWei.Neg(), newWei.Neg())
}

// borrowVolumeUSD values the debt originated by a balance change ending at newPar
func (t *BalanceTracker) borrowVolumeUSD(ctx context.Context, repo store.Repository, event *domain.Event, token *schema.Token, newPar, deltaWei decimal.Decimal) (decimal.Decimal, error) {
	index, err := loadIndex(ctx, repo, token.ID)
	if err != nil {
		return decimal.Zero, err
	}

	originated := originatedBorrowWei(deltaWei, fixedpoint.ParToWei(newPar, index, token.Decimals))
	if !originated.IsPositive() {
		return decimal.Zero, nil
	}

	price, err := t.oracle.Price(ctx, repo, token.ID, event)
	if err != nil {
		return decimal.Zero, err
	}
	return pricing.ValueUSD(originated, price), nil
}
