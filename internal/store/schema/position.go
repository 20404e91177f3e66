package schema

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/feral-file/ff-margin-indexer/internal/domain"
)

// PositionStatus represents the lifecycle state of a position
type PositionStatus string

const (
	// PositionStatusOpen is a live position
	PositionStatusOpen PositionStatus = "OPEN"
	// PositionStatusClosed is a position whose debt was fully repaid
	PositionStatusClosed PositionStatus = "CLOSED"
	// PositionStatusLiquidated is a position that was (partially) liquidated
	PositionStatusLiquidated PositionStatus = "LIQUIDATED"
	// PositionStatusExpired is a position closed by the expiry mechanism
	PositionStatusExpired PositionStatus = "EXPIRED"
	// PositionStatusUnknown is a position whose activity can no longer be interpreted
	PositionStatusUnknown PositionStatus = "UNKNOWN"
)

// MarginPosition represents the margin_positions table - the two-token leveraged view of an
// isolated margin account, keyed by the margin account id
type MarginPosition struct {
	// ID is the margin account id
	ID string `gorm:"column:id;primaryKey;type:text"`
	// MarginAccount is the owning margin account id
	MarginAccount string `gorm:"column:margin_account_id;not null;type:text"`
	// EffectiveUser is the account owner's effective user
	EffectiveUser string `gorm:"column:effective_user;not null;type:text;index"`
	// Status is the lifecycle state
	Status PositionStatus `gorm:"column:status;not null;type:text;index"`
	// IsInitialized is false until the position is opened; uninitialized positions are never mutated
	IsInitialized bool `gorm:"column:is_initialized;not null;default:false"`

	// OpenTimestamp is the block time of the opening trade
	OpenTimestamp time.Time `gorm:"column:open_timestamp;type:timestamptz"`
	// OpenTransaction is the hash of the opening transaction
	OpenTransaction string `gorm:"column:open_transaction;type:text"`

	// MarginDeposit is the deposited collateral in deposit-token units
	MarginDeposit decimal.Decimal `gorm:"column:margin_deposit;type:numeric;not null;default:0"`
	// MarginDepositUSD is MarginDeposit valued at opening
	MarginDepositUSD decimal.Decimal `gorm:"column:margin_deposit_usd;type:numeric;not null;default:0"`

	// HeldToken is the collateral token address, immutable once set
	HeldToken string `gorm:"column:held_token;type:text"`
	// OwedToken is the debt token address, immutable once set
	OwedToken string `gorm:"column:owed_token;type:text"`

	// HeldAmountPar is the current held par balance
	HeldAmountPar decimal.Decimal `gorm:"column:held_amount_par;type:numeric;not null;default:0"`
	// OwedAmountPar is the current owed par balance as a non-negative amount
	OwedAmountPar decimal.Decimal `gorm:"column:owed_amount_par;type:numeric;not null;default:0"`

	InitialHeldAmountPar decimal.Decimal `gorm:"column:initial_held_amount_par;type:numeric;not null;default:0"`
	InitialHeldAmountWei decimal.Decimal `gorm:"column:initial_held_amount_wei;type:numeric;not null;default:0"`
	InitialHeldAmountUSD decimal.Decimal `gorm:"column:initial_held_amount_usd;type:numeric;not null;default:0"`
	// InitialHeldPrice is the held token priced in owed token units at opening
	InitialHeldPrice    decimal.Decimal `gorm:"column:initial_held_price;type:numeric;not null;default:0"`
	InitialHeldPriceUSD decimal.Decimal `gorm:"column:initial_held_price_usd;type:numeric;not null;default:0"`

	InitialOwedAmountPar decimal.Decimal `gorm:"column:initial_owed_amount_par;type:numeric;not null;default:0"`
	InitialOwedAmountWei decimal.Decimal `gorm:"column:initial_owed_amount_wei;type:numeric;not null;default:0"`
	InitialOwedAmountUSD decimal.Decimal `gorm:"column:initial_owed_amount_usd;type:numeric;not null;default:0"`
	// InitialOwedPrice is the owed token priced in held token units at opening
	InitialOwedPrice    decimal.Decimal `gorm:"column:initial_owed_price;type:numeric;not null;default:0"`
	InitialOwedPriceUSD decimal.Decimal `gorm:"column:initial_owed_price_usd;type:numeric;not null;default:0"`

	CloseHeldAmountPar decimal.Decimal `gorm:"column:close_held_amount_par;type:numeric;not null;default:0"`
	CloseHeldAmountWei decimal.Decimal `gorm:"column:close_held_amount_wei;type:numeric;not null;default:0"`
	CloseHeldAmountUSD decimal.Decimal `gorm:"column:close_held_amount_usd;type:numeric;not null;default:0"`
	CloseHeldPrice     decimal.Decimal `gorm:"column:close_held_price;type:numeric;not null;default:0"`
	CloseHeldPriceUSD  decimal.Decimal `gorm:"column:close_held_price_usd;type:numeric;not null;default:0"`
	// CloseHeldAmountSeized accumulates the held amount seized across liquidations
	CloseHeldAmountSeized    decimal.Decimal `gorm:"column:close_held_amount_seized;type:numeric;not null;default:0"`
	CloseHeldAmountSeizedUSD decimal.Decimal `gorm:"column:close_held_amount_seized_usd;type:numeric;not null;default:0"`

	CloseOwedAmountPar decimal.Decimal `gorm:"column:close_owed_amount_par;type:numeric;not null;default:0"`
	CloseOwedAmountWei decimal.Decimal `gorm:"column:close_owed_amount_wei;type:numeric;not null;default:0"`
	CloseOwedAmountUSD decimal.Decimal `gorm:"column:close_owed_amount_usd;type:numeric;not null;default:0"`
	CloseOwedPrice     decimal.Decimal `gorm:"column:close_owed_price;type:numeric;not null;default:0"`
	CloseOwedPriceUSD  decimal.Decimal `gorm:"column:close_owed_price_usd;type:numeric;not null;default:0"`

	// CloseTimestamp is set once, when the position first leaves the open state
	CloseTimestamp domain.Optional[time.Time] `gorm:"column:close_timestamp;type:timestamptz"`
	// CloseTransaction is set once, together with CloseTimestamp
	CloseTransaction domain.Optional[string] `gorm:"column:close_transaction;type:text"`
	// ExpirationTimestamp mirrors a pending expiry on the owed balance
	ExpirationTimestamp domain.Optional[time.Time] `gorm:"column:expiration_timestamp;type:timestamptz"`
}

// TableName specifies the table name for the MarginPosition model
func (MarginPosition) TableName() string {
	return "margin_positions"
}

// PrimaryKey returns the entity id
func (m *MarginPosition) PrimaryKey() string {
	return m.ID
}

// BorrowPosition represents the borrow_positions table - the multi-token position of the
// borrow-position product, keyed by the margin account id
type BorrowPosition struct {
	// ID is the margin account id
	ID string `gorm:"column:id;primaryKey;type:text"`
	// MarginAccount is the owning margin account id
	MarginAccount string `gorm:"column:margin_account_id;not null;type:text"`
	// EffectiveUser is the account owner's effective user
	EffectiveUser string `gorm:"column:effective_user;not null;type:text;index"`
	// Status is OPEN or CLOSED
	Status PositionStatus `gorm:"column:status;not null;type:text;index"`
	// OpenTimestamp is the block time of the opening event
	OpenTimestamp time.Time `gorm:"column:open_timestamp;not null;type:timestamptz"`
	// OpenTransaction is the hash of the opening transaction
	OpenTransaction string `gorm:"column:open_transaction;not null;type:text"`
	// CloseTimestamp is set once the token set becomes empty
	CloseTimestamp domain.Optional[time.Time] `gorm:"column:close_timestamp;type:timestamptz"`
	// CloseTransaction is set together with CloseTimestamp
	CloseTransaction domain.Optional[string] `gorm:"column:close_transaction;type:text"`
	// AllTokens lists every token address with a non-zero balance
	AllTokens datatypes.JSONSlice[string] `gorm:"column:all_tokens;type:jsonb;not null"`
	// SupplyTokens lists token addresses with a positive balance
	SupplyTokens datatypes.JSONSlice[string] `gorm:"column:supply_tokens;type:jsonb;not null"`
	// BorrowTokens lists token addresses with a negative balance
	BorrowTokens datatypes.JSONSlice[string] `gorm:"column:borrow_tokens;type:jsonb;not null"`
}

// TableName specifies the table name for the BorrowPosition model
func (BorrowPosition) TableName() string {
	return "borrow_positions"
}

// PrimaryKey returns the entity id
func (b *BorrowPosition) PrimaryKey() string {
	return b.ID
}
