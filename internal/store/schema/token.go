package schema

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Token represents the tokens table - one row per listed market token, keyed by token address
type Token struct {
	// ID is the token contract address
	ID string `gorm:"column:id;primaryKey;type:text"`
	// MarketID is the protocol's market number for this token
	MarketID int64 `gorm:"column:market_id;not null;uniqueIndex"`
	// Symbol is the ERC20 symbol
	Symbol string `gorm:"column:symbol;not null;type:text"`
	// Name is the ERC20 name
	Name string `gorm:"column:name;not null;type:text"`
	// Decimals is the ERC20 decimal precision
	Decimals int32 `gorm:"column:decimals;not null"`
	// SupplyLiquidity is the total supplied amount in token units, refreshed with the interest rate
	SupplyLiquidity decimal.Decimal `gorm:"column:supply_liquidity;type:numeric;not null;default:0"`
	// BorrowLiquidity is the total borrowed amount in token units, refreshed with the interest rate
	BorrowLiquidity decimal.Decimal `gorm:"column:borrow_liquidity;type:numeric;not null;default:0"`
}

// TableName specifies the table name for the Token model
func (Token) TableName() string {
	return "tokens"
}

// PrimaryKey returns the entity id
func (t *Token) PrimaryKey() string {
	return t.ID
}

// Market maps a protocol market number to its token
type Market struct {
	ID    string `gorm:"column:id;primaryKey;type:text"`
	Token string `gorm:"column:token;not null;type:text"`
}

// TableName specifies the table name for the Market model
func (Market) TableName() string {
	return "markets"
}

// PrimaryKey returns the entity id
func (m *Market) PrimaryKey() string {
	return m.ID
}

// MarketKey formats a market number as a Market id
func MarketKey(marketID uint64) string {
	return strconv.FormatUint(marketID, 10)
}

// InterestIndex represents the interest_indices table, keyed by token address
type InterestIndex struct {
	ID          string          `gorm:"column:id;primaryKey;type:text"`
	BorrowIndex decimal.Decimal `gorm:"column:borrow_index;type:numeric;not null"`
	SupplyIndex decimal.Decimal `gorm:"column:supply_index;type:numeric;not null"`
	LastUpdate  time.Time       `gorm:"column:last_update;not null;type:timestamptz"`
}

// TableName specifies the table name for the InterestIndex model
func (InterestIndex) TableName() string {
	return "interest_indices"
}

// PrimaryKey returns the entity id
func (i *InterestIndex) PrimaryKey() string {
	return i.ID
}

// InterestRate represents the interest_rates table, keyed by token address.
// Rates are annualized.
type InterestRate struct {
	ID                 string          `gorm:"column:id;primaryKey;type:text"`
	BorrowInterestRate decimal.Decimal `gorm:"column:borrow_interest_rate;type:numeric;not null;default:0"`
	SupplyInterestRate decimal.Decimal `gorm:"column:supply_interest_rate;type:numeric;not null;default:0"`
	// BorrowRatePerSecond is BorrowInterestRate divided by the seconds in a year
	BorrowRatePerSecond decimal.Decimal `gorm:"column:borrow_rate_per_second;type:numeric;not null;default:0"`
}

// TableName specifies the table name for the InterestRate model
func (InterestRate) TableName() string {
	return "interest_rates"
}

// PrimaryKey returns the entity id
func (i *InterestRate) PrimaryKey() string {
	return i.ID
}

// TotalPar represents the total_pars table, keyed by token address.
// Both values are non-negative; BorrowPar is the absolute sum of negative balances.
type TotalPar struct {
	ID        string          `gorm:"column:id;primaryKey;type:text"`
	SupplyPar decimal.Decimal `gorm:"column:supply_par;type:numeric;not null;default:0"`
	BorrowPar decimal.Decimal `gorm:"column:borrow_par;type:numeric;not null;default:0"`
}

// TableName specifies the table name for the TotalPar model
func (TotalPar) TableName() string {
	return "total_pars"
}

// PrimaryKey returns the entity id
func (t *TotalPar) PrimaryKey() string {
	return t.ID
}

// OraclePrice represents the oracle_prices table - the latest USD price of a token, keyed by token address
type OraclePrice struct {
	ID          string          `gorm:"column:id;primaryKey;type:text"`
	PriceUSD    decimal.Decimal `gorm:"column:price_usd;type:numeric;not null"`
	BlockNumber uint64          `gorm:"column:block_number;not null"`
	BlockHash   string          `gorm:"column:block_hash;not null;type:text"`
}

// TableName specifies the table name for the OraclePrice model
func (OraclePrice) TableName() string {
	return "oracle_prices"
}

// PrimaryKey returns the entity id
func (o *OraclePrice) PrimaryKey() string {
	return o.ID
}
