package schema

import (
	"github.com/shopspring/decimal"
)

// Protocol represents the protocol table - the singleton row of global margin protocol
// parameters and lifetime counters, keyed by the core margin contract address
type Protocol struct {
	// ID is the core margin contract address
	ID string `gorm:"column:id;primaryKey;type:text"`
	// NumberOfMarkets counts add_market events. remove_market increments it as well.
	NumberOfMarkets int64 `gorm:"column:number_of_markets;not null;default:0"`
	// EarningsRate is the share of borrow interest paid out to suppliers
	EarningsRate decimal.Decimal `gorm:"column:earnings_rate;type:numeric;not null"`
	// LiquidationReward is 1 + the global liquidation spread
	LiquidationReward decimal.Decimal `gorm:"column:liquidation_reward;type:numeric;not null"`
	// MinBorrowedValue is the minimum USD value of a borrow
	MinBorrowedValue decimal.Decimal `gorm:"column:min_borrowed_value;type:numeric;not null;default:0"`
	// MarginRatio is the required collateralization above 100%
	MarginRatio decimal.Decimal `gorm:"column:margin_ratio;type:numeric;not null;default:0"`
	// ExpiryRampTime is the number of seconds over which the expiration spread ramps up
	ExpiryRampTime int64 `gorm:"column:expiry_ramp_time;not null;default:0"`
	// TransactionCount counts balance-changing protocol actions
	TransactionCount int64 `gorm:"column:transaction_count;not null;default:0"`
	// TradeCount counts buy, sell and trade actions
	TradeCount int64 `gorm:"column:trade_count;not null;default:0"`
	// LiquidationCount counts liquidations, expirations included
	LiquidationCount int64 `gorm:"column:liquidation_count;not null;default:0"`
	// VaporizationCount counts vaporizations
	VaporizationCount int64 `gorm:"column:vaporization_count;not null;default:0"`
	// TotalTradeVolumeUSD is the lifetime USD volume of trades
	TotalTradeVolumeUSD decimal.Decimal `gorm:"column:total_trade_volume_usd;type:numeric;not null;default:0"`
	// TotalBorrowVolumeOriginatedUSD is the lifetime USD value of newly originated debt
	TotalBorrowVolumeOriginatedUSD decimal.Decimal `gorm:"column:total_borrow_volume_originated_usd;type:numeric;not null;default:0"`
	// TotalLiquidationVolumeUSD is the lifetime USD value of debt repaid through liquidation
	TotalLiquidationVolumeUSD decimal.Decimal `gorm:"column:total_liquidation_volume_usd;type:numeric;not null;default:0"`
	// TotalVaporizationVolumeUSD is the lifetime USD value of debt written off through vaporization
	TotalVaporizationVolumeUSD decimal.Decimal `gorm:"column:total_vaporization_volume_usd;type:numeric;not null;default:0"`
}

// TableName specifies the table name for the Protocol model
func (Protocol) TableName() string {
	return "protocol"
}

// PrimaryKey returns the entity id
func (p *Protocol) PrimaryKey() string {
	return p.ID
}

// MarketRiskInfo represents the market_risk_info table - per-market premiums, keyed by token address
type MarketRiskInfo struct {
	// ID is the token address
	ID string `gorm:"column:id;primaryKey;type:text"`
	// MarginPremium raises the margin ratio for this market
	MarginPremium decimal.Decimal `gorm:"column:margin_premium;type:numeric;not null;default:0"`
	// LiquidationRewardPremium raises the liquidation spread for this market
	LiquidationRewardPremium decimal.Decimal `gorm:"column:liquidation_reward_premium;type:numeric;not null;default:0"`
}

// TableName specifies the table name for the MarketRiskInfo model
func (MarketRiskInfo) TableName() string {
	return "market_risk_info"
}

// PrimaryKey returns the entity id
func (m *MarketRiskInfo) PrimaryKey() string {
	return m.ID
}
