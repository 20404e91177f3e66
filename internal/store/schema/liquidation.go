package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// Liquidation represents the liquidations table - one row per liquidate event or expiration trade,
// keyed by event id
type Liquidation struct {
	ID                  string    `gorm:"column:id;primaryKey;type:text"`
	Transaction         string    `gorm:"column:transaction_hash;not null;type:text;index"`
	LogIndex            uint64    `gorm:"column:log_index;not null"`
	Timestamp           time.Time `gorm:"column:timestamp;not null;type:timestamptz"`
	SolidMarginAccount  string    `gorm:"column:solid_margin_account_id;not null;type:text"`
	LiquidMarginAccount string    `gorm:"column:liquid_margin_account_id;not null;type:text;index"`
	// LiquidEffectiveUser is the effective user of the liquidated account
	LiquidEffectiveUser string `gorm:"column:liquid_effective_user;not null;type:text;index"`
	HeldToken           string `gorm:"column:held_token;not null;type:text"`
	OwedToken           string `gorm:"column:owed_token;not null;type:text"`
	// IsExpiration is true when the row comes from an expiration trade
	IsExpiration bool `gorm:"column:is_expiration;not null;default:false"`

	SolidHeldTokenAmountDeltaWei  decimal.Decimal `gorm:"column:solid_held_token_amount_delta_wei;type:numeric;not null;default:0"`
	SolidOwedTokenAmountDeltaWei  decimal.Decimal `gorm:"column:solid_owed_token_amount_delta_wei;type:numeric;not null;default:0"`
	LiquidHeldTokenAmountDeltaWei decimal.Decimal `gorm:"column:liquid_held_token_amount_delta_wei;type:numeric;not null;default:0"`
	LiquidOwedTokenAmountDeltaWei decimal.Decimal `gorm:"column:liquid_owed_token_amount_delta_wei;type:numeric;not null;default:0"`

	HeldTokenPriceUSD decimal.Decimal `gorm:"column:held_token_price_usd;type:numeric;not null;default:0"`
	OwedTokenPriceUSD decimal.Decimal `gorm:"column:owed_token_price_usd;type:numeric;not null;default:0"`

	// BorrowedTokenAmountDeltaWei is the owed amount repaid on behalf of the liquid account
	BorrowedTokenAmountDeltaWei decimal.Decimal `gorm:"column:borrowed_token_amount_delta_wei;type:numeric;not null;default:0"`
	// LiquidationSpread is the spread applied, ramped for expirations
	LiquidationSpread decimal.Decimal `gorm:"column:liquidation_spread;type:numeric;not null;default:0"`
	// HeldTokenLiquidationRewardWei is the held amount seized in excess of the repaid debt
	HeldTokenLiquidationRewardWei decimal.Decimal `gorm:"column:held_token_liquidation_reward_wei;type:numeric;not null;default:0"`
	// AmountUSDLiquidated is the repaid debt valued in USD
	AmountUSDLiquidated decimal.Decimal `gorm:"column:amount_usd_liquidated;type:numeric;not null;default:0"`
}

// TableName specifies the table name for the Liquidation model
func (Liquidation) TableName() string {
	return "liquidations"
}

// PrimaryKey returns the entity id
func (l *Liquidation) PrimaryKey() string {
	return l.ID
}

// Vaporization represents the vaporizations table, keyed by event id
type Vaporization struct {
	ID                 string    `gorm:"column:id;primaryKey;type:text"`
	Transaction        string    `gorm:"column:transaction_hash;not null;type:text;index"`
	LogIndex           uint64    `gorm:"column:log_index;not null"`
	Timestamp          time.Time `gorm:"column:timestamp;not null;type:timestamptz"`
	SolidMarginAccount string    `gorm:"column:solid_margin_account_id;not null;type:text"`
	VaporMarginAccount string    `gorm:"column:vapor_margin_account_id;not null;type:text;index"`
	VaporEffectiveUser string    `gorm:"column:vapor_effective_user;not null;type:text;index"`
	HeldToken          string    `gorm:"column:held_token;not null;type:text"`
	OwedToken          string    `gorm:"column:owed_token;not null;type:text"`

	SolidHeldTokenAmountDeltaWei decimal.Decimal `gorm:"column:solid_held_token_amount_delta_wei;type:numeric;not null;default:0"`
	SolidOwedTokenAmountDeltaWei decimal.Decimal `gorm:"column:solid_owed_token_amount_delta_wei;type:numeric;not null;default:0"`
	VaporOwedTokenAmountDeltaWei decimal.Decimal `gorm:"column:vapor_owed_token_amount_delta_wei;type:numeric;not null;default:0"`
	// AmountUSDVaporized is the written-off debt valued in USD
	AmountUSDVaporized decimal.Decimal `gorm:"column:amount_usd_vaporized;type:numeric;not null;default:0"`
}

// TableName specifies the table name for the Vaporization model
func (Vaporization) TableName() string {
	return "vaporizations"
}

// PrimaryKey returns the entity id
func (v *Vaporization) PrimaryKey() string {
	return v.ID
}
