package schema

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/feral-file/ff-margin-indexer/internal/domain"
)

// User represents the users table - lifetime aggregates per address
type User struct {
	// ID is the user address
	ID string `gorm:"column:id;primaryKey;type:text"`
	// EffectiveUser is the address this user's activity rolls up to (itself unless aliased)
	EffectiveUser string `gorm:"column:effective_user;not null;type:text;index"`
	// TotalBorrowVolumeOriginatedUSD is the USD value of all debt this user has taken on
	TotalBorrowVolumeOriginatedUSD decimal.Decimal `gorm:"column:total_borrow_volume_originated_usd;type:numeric;not null;default:0"`
	// TotalTradeVolumeUSD is the USD value of all trades this user has taken
	TotalTradeVolumeUSD decimal.Decimal `gorm:"column:total_trade_volume_usd;type:numeric;not null;default:0"`
	// LiquidationCount counts the liquidations suffered by this user
	LiquidationCount int64 `gorm:"column:liquidation_count;not null;default:0"`
	// TotalLiquidationVolumeUSD is the USD value of debt repaid by liquidating this user
	TotalLiquidationVolumeUSD decimal.Decimal `gorm:"column:total_liquidation_volume_usd;type:numeric;not null;default:0"`
	// VaporizationCount counts the vaporizations suffered by this user
	VaporizationCount int64 `gorm:"column:vaporization_count;not null;default:0"`
	// TotalVaporizationVolumeUSD is the USD value of this user's debt written off
	TotalVaporizationVolumeUSD decimal.Decimal `gorm:"column:total_vaporization_volume_usd;type:numeric;not null;default:0"`
	// TotalMarginPositionCount counts margin positions opened by this user
	TotalMarginPositionCount int64 `gorm:"column:total_margin_position_count;not null;default:0"`
	// TotalBorrowPositionCount counts borrow positions opened by this user
	TotalBorrowPositionCount int64 `gorm:"column:total_borrow_position_count;not null;default:0"`
}

// TableName specifies the table name for the User model
func (User) TableName() string {
	return "users"
}

// PrimaryKey returns the entity id
func (u *User) PrimaryKey() string {
	return u.ID
}

// UserAlias represents the user_aliases table - maps a proxy or vault address to its effective user
type UserAlias struct {
	ID            string `gorm:"column:id;primaryKey;type:text"`
	EffectiveUser string `gorm:"column:effective_user;not null;type:text"`
}

// TableName specifies the table name for the UserAlias model
func (UserAlias) TableName() string {
	return "user_aliases"
}

// PrimaryKey returns the entity id
func (u *UserAlias) PrimaryKey() string {
	return u.ID
}

// MarginAccount represents the margin_accounts table, keyed by owner-number
type MarginAccount struct {
	// ID is the owner address and account number joined with a dash
	ID string `gorm:"column:id;primaryKey;type:text"`
	// User is the owner address
	User string `gorm:"column:user_id;not null;type:text;index"`
	// AccountNumber is the uint256 account number in decimal
	AccountNumber string `gorm:"column:account_number;not null;type:text"`
	// LastUpdatedTimestamp is the block time of the last balance change
	LastUpdatedTimestamp time.Time `gorm:"column:last_updated_timestamp;not null;type:timestamptz"`
	// LastUpdatedBlockNumber is the block of the last balance change
	LastUpdatedBlockNumber uint64 `gorm:"column:last_updated_block_number;not null"`
	// BorrowTokens lists token addresses with a negative balance
	BorrowTokens datatypes.JSONSlice[string] `gorm:"column:borrow_tokens;type:jsonb;not null"`
	// SupplyTokens lists token addresses with a positive balance
	SupplyTokens datatypes.JSONSlice[string] `gorm:"column:supply_tokens;type:jsonb;not null"`
	// ExpirationTokens lists token addresses with a pending expiry
	ExpirationTokens datatypes.JSONSlice[string] `gorm:"column:expiration_tokens;type:jsonb;not null"`
	// HasBorrowValue is true when BorrowTokens is non-empty
	HasBorrowValue bool `gorm:"column:has_borrow_value;not null;default:false"`
	// HasSupplyValue is true when SupplyTokens is non-empty
	HasSupplyValue bool `gorm:"column:has_supply_value;not null;default:false"`
	// HasExpiration is true when ExpirationTokens is non-empty
	HasExpiration bool `gorm:"column:has_expiration;not null;default:false"`
}

// TableName specifies the table name for the MarginAccount model
func (MarginAccount) TableName() string {
	return "margin_accounts"
}

// PrimaryKey returns the entity id
func (m *MarginAccount) PrimaryKey() string {
	return m.ID
}

// MarginAccountTokenValue represents the margin_account_token_values table, keyed by account-token
type MarginAccountTokenValue struct {
	// ID is the margin account id and token address joined with a dash
	ID string `gorm:"column:id;primaryKey;type:text"`
	// MarginAccount is the owning margin account id
	MarginAccount string `gorm:"column:margin_account_id;not null;type:text;index"`
	// Token is the token address of the market
	Token string `gorm:"column:token;not null;type:text;index"`
	// ValuePar is the signed par balance
	ValuePar decimal.Decimal `gorm:"column:value_par;type:numeric;not null;default:0"`
	// ExpirationTimestamp is set while the balance has a pending expiry
	ExpirationTimestamp domain.Optional[time.Time] `gorm:"column:expiration_timestamp;type:timestamptz"`
	// ExpiryAddress is the expiry contract that set the expiration
	ExpiryAddress domain.Optional[string] `gorm:"column:expiry_address;type:text"`
}

// TableName specifies the table name for the MarginAccountTokenValue model
func (MarginAccountTokenValue) TableName() string {
	return "margin_account_token_values"
}

// PrimaryKey returns the entity id
func (m *MarginAccountTokenValue) PrimaryKey() string {
	return m.ID
}

// TokenValueID builds the id of an account's balance in one market
func TokenValueID(marginAccountID, token string) string {
	return marginAccountID + "-" + token
}
