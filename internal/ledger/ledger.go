// Package ledger maintains the margin accounting state of the protocol: interest indices and
// rates, per-market total par, per-account balances, margin and borrow positions, and
// liquidation economics.
//
// Every handler applies exactly one event through a UnitOfWork. Handlers never commit;
// the caller commits all writes of an event together with the event cursor.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/feral-file/ff-margin-indexer/internal/domain"
	"github.com/feral-file/ff-margin-indexer/internal/fixedpoint"
	"github.com/feral-file/ff-margin-indexer/internal/store"
	"github.com/feral-file/ff-margin-indexer/internal/store/schema"
)

var (
	defaultEarningsRate      = decimal.RequireFromString("0.85")
	defaultLiquidationReward = decimal.RequireFromString("1.05")
)

// Oracle is the price capability the ledger values amounts with
//
//go:generate mockgen -source=ledger.go -destination=../mocks/ledger_oracle.go -package=mocks -mock_names=Oracle=MockOracle
type Oracle interface {
	// Price returns the USD price of a whole token as of event
	Price(ctx context.Context, repo store.Repository, token string, event *domain.Event) (decimal.Decimal, error)
	// Record stores a raw oracle price for token and returns the USD price
	Record(ctx context.Context, repo store.Repository, token *schema.Token, rawPrice string, event *domain.Event) (decimal.Decimal, error)
}

// Config holds the contract addresses the ledger interprets events with
type Config struct {
	// ProtocolAddress is the core margin contract, used as the protocol singleton id
	ProtocolAddress string
	// ExpiryAddresses are the auto traders whose trades are expirations
	ExpiryAddresses []string
}

// Ledger applies margin protocol events
type Ledger struct {
	protocolID string
	expiry     map[string]struct{}
	oracle     Oracle

	rates     *InterestRateModel
	balances  *BalanceTracker
	positions *PositionMachine
	aliases   *AliasTable
}

// New creates a ledger
func New(cfg Config, oracle Oracle) *Ledger {
	expiry := make(map[string]struct{}, len(cfg.ExpiryAddresses))
	for _, address := range cfg.ExpiryAddresses {
		expiry[domain.NormalizeAddress(address)] = struct{}{}
	}

	aliases := NewAliasTable()
	return &Ledger{
		protocolID: domain.NormalizeAddress(cfg.ProtocolAddress),
		expiry:     expiry,
		oracle:     oracle,
		rates:      NewInterestRateModel(),
		balances:   NewBalanceTracker(oracle, aliases, NewBorrowPositionTracker()),
		positions:  NewPositionMachine(oracle),
		aliases:    aliases,
	}
}

// isExpiry reports whether the auto trader of a trade is an expiry contract
func (l *Ledger) isExpiry(autoTrader string) bool {
	_, ok := l.expiry[domain.NormalizeAddress(autoTrader)]
	return ok
}

// loadOrCreateProtocol returns the protocol singleton, creating it with default parameters
func (l *Ledger) loadOrCreateProtocol(ctx context.Context, uow *store.UnitOfWork) (*schema.Protocol, error) {
	protocol, err := store.Get[schema.Protocol](ctx, uow, l.protocolID)
	if err != nil {
		return nil, err
	}
	if protocol != nil {
		return protocol, nil
	}

	return &schema.Protocol{
		ID:                l.protocolID,
		EarningsRate:      defaultEarningsRate,
		LiquidationReward: defaultLiquidationReward,
	}, nil
}

// mustProtocol returns the protocol singleton, which the first add_market creates
func (l *Ledger) mustProtocol(ctx context.Context, uow *store.UnitOfWork) (*schema.Protocol, error) {
	return store.MustGet[schema.Protocol](ctx, uow, l.protocolID, domain.ErrProtocolNotInitialized)
}

// tokenForMarket resolves a market number to its token
func tokenForMarket(ctx context.Context, repo store.Repository, marketID uint64) (*schema.Token, error) {
	market, err := store.MustGet[schema.Market](ctx, repo, schema.MarketKey(marketID), domain.ErrMarketNotFound)
	if err != nil {
		return nil, err
	}
	return store.MustGet[schema.Token](ctx, repo, market.Token, domain.ErrTokenNotFound)
}

// loadToken returns the market token at address
func loadToken(ctx context.Context, repo store.Repository, address string) (*schema.Token, error) {
	return store.MustGet[schema.Token](ctx, repo, domain.NormalizeAddress(address), domain.ErrTokenNotFound)
}

// loadIndex returns the current interest index of a market token
func loadIndex(ctx context.Context, repo store.Repository, token string) (fixedpoint.Index, error) {
	index, err := store.MustGet[schema.InterestIndex](ctx, repo, token, domain.ErrInterestIndexNotFound)
	if err != nil {
		return fixedpoint.Index{}, err
	}
	return fixedpoint.Index{BorrowIndex: index.BorrowIndex, SupplyIndex: index.SupplyIndex}, nil
}

// parseAmount parses a raw signed protocol amount into token units
func parseAmount(raw string, decimals int32) (decimal.Decimal, error) {
	amount, err := fixedpoint.ParseDecimal(raw, decimals)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", domain.ErrInvalidEventParams, err)
	}
	return amount, nil
}

// touchedTokens collects the distinct tokens of an event for the interest rate refresh
type touchedTokens []*schema.Token

func (t *touchedTokens) add(token *schema.Token) {
	for _, existing := range *t {
		if existing.ID == token.ID {
			return
		}
	}
	*t = append(*t, token)
}

// refreshRates recomputes the interest rate of every touched market
func (l *Ledger) refreshRates(ctx context.Context, uow *store.UnitOfWork, protocol *schema.Protocol, tokens touchedTokens) error {
	for _, token := range tokens {
		if err := l.rates.Update(ctx, uow, protocol, token); err != nil {
			return err
		}
	}
	return nil
}

// containsString reports whether list holds value
func containsString(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}

// addString appends value to list unless it is already present
func addString(list []string, value string) []string {
	if containsString(list, value) {
		return list
	}
	return append(list, value)
}

// removeString returns list without value, never modifying list in place
func removeString(list []string, value string) []string {
	result := make([]string, 0, len(list))
	for _, item := range list {
		if item != value {
			result = append(result, item)
		}
	}
	return result
}

// sameAddress compares two addresses ignoring case
func sameAddress(a, b string) bool {
	return strings.EqualFold(a, b)
}

// unixTime converts a protocol timestamp to UTC time
func unixTime(seconds uint64) time.Time {
	return time.Unix(int64(seconds), 0).UTC()
}
