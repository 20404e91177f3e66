package schema

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/feral-file/ff-margin-indexer/internal/domain"
)

// Transaction represents the transactions table - per blockchain transaction bookkeeping,
// keyed by transaction hash
type Transaction struct {
	// ID is the transaction hash
	ID string `gorm:"column:id;primaryKey;type:text"`
	// BlockNumber is the block containing the transaction
	BlockNumber uint64 `gorm:"column:block_number;not null;index"`
	// Timestamp is the block time
	Timestamp time.Time `gorm:"column:timestamp;not null;type:timestamptz"`
	// Mints lists the logical AMM mint ids created in this transaction, in log order
	Mints datatypes.JSONSlice[string] `gorm:"column:mints;type:jsonb;not null"`
	// Burns lists the logical AMM burn ids created in this transaction, in log order
	Burns datatypes.JSONSlice[string] `gorm:"column:burns;type:jsonb;not null"`
	// Trades lists the AMM trade ids created in this transaction, in log order
	Trades datatypes.JSONSlice[string] `gorm:"column:trades;type:jsonb;not null"`
	// PendingInvalidations lists margin position ids touched by plain trades in this transaction
	// that no margin-position proxy event has claimed yet
	PendingInvalidations datatypes.JSONSlice[string] `gorm:"column:pending_invalidations;type:jsonb;not null"`
}

// TableName specifies the table name for the Transaction model
func (Transaction) TableName() string {
	return "transactions"
}

// PrimaryKey returns the entity id
func (t *Transaction) PrimaryKey() string {
	return t.ID
}

// AmmPair represents the amm_pairs table, keyed by pair address
type AmmPair struct {
	// ID is the pair contract address
	ID string `gorm:"column:id;primaryKey;type:text"`
	// Token0 is the first token address of the pair
	Token0 string `gorm:"column:token0;not null;type:text"`
	// Token1 is the second token address of the pair
	Token1 string `gorm:"column:token1;not null;type:text"`
	// Reserve0 is the token0 reserve in token units
	Reserve0 decimal.Decimal `gorm:"column:reserve0;type:numeric;not null;default:0"`
	// Reserve1 is the token1 reserve in token units
	Reserve1 decimal.Decimal `gorm:"column:reserve1;type:numeric;not null;default:0"`
	// TotalSupply is the liquidity token supply
	TotalSupply decimal.Decimal `gorm:"column:total_supply;type:numeric;not null;default:0"`
	// ReserveUSD is the reserves valued through the oracle
	ReserveUSD decimal.Decimal `gorm:"column:reserve_usd;type:numeric;not null;default:0"`
	// VolumeUSD is the lifetime swap volume valued through the oracle
	VolumeUSD decimal.Decimal `gorm:"column:volume_usd;type:numeric;not null;default:0"`
	// TransactionCount counts swaps, mints and burns
	TransactionCount int64 `gorm:"column:transaction_count;not null;default:0"`
	// CreatedAtTimestamp is the block time of pair creation
	CreatedAtTimestamp time.Time `gorm:"column:created_at_timestamp;not null;type:timestamptz"`
	// CreatedAtBlockNumber is the block of pair creation
	CreatedAtBlockNumber uint64 `gorm:"column:created_at_block_number;not null"`
}

// TableName specifies the table name for the AmmPair model
func (AmmPair) TableName() string {
	return "amm_pairs"
}

// PrimaryKey returns the entity id
func (p *AmmPair) PrimaryKey() string {
	return p.ID
}

// AmmMint represents the amm_mints table - a logical liquidity addition, keyed by txHash-n
type AmmMint struct {
	ID          string    `gorm:"column:id;primaryKey;type:text"`
	Transaction string    `gorm:"column:transaction_hash;not null;type:text;index"`
	Timestamp   time.Time `gorm:"column:timestamp;not null;type:timestamptz"`
	Pair        string    `gorm:"column:pair;not null;type:text;index"`
	// To receives the minted liquidity
	To string `gorm:"column:to_address;not null;type:text"`
	// Liquidity is the minted amount of liquidity tokens
	Liquidity decimal.Decimal `gorm:"column:liquidity;type:numeric;not null;default:0"`
	// Sender is unset until the pair's Mint event completes the record
	Sender    domain.Optional[string] `gorm:"column:sender;type:text"`
	Amount0   decimal.Decimal         `gorm:"column:amount0;type:numeric;not null;default:0"`
	Amount1   decimal.Decimal         `gorm:"column:amount1;type:numeric;not null;default:0"`
	AmountUSD decimal.Decimal         `gorm:"column:amount_usd;type:numeric;not null;default:0"`
	LogIndex  domain.Optional[int64]  `gorm:"column:log_index;type:bigint"`
}

// TableName specifies the table name for the AmmMint model
func (AmmMint) TableName() string {
	return "amm_mints"
}

// PrimaryKey returns the entity id
func (m *AmmMint) PrimaryKey() string {
	return m.ID
}

// IsComplete reports whether the pair's Mint event has been applied
func (m *AmmMint) IsComplete() bool {
	return m.Sender.IsSet()
}

// AmmBurn represents the amm_burns table - a logical liquidity removal, keyed by txHash-n
type AmmBurn struct {
	ID          string    `gorm:"column:id;primaryKey;type:text"`
	Transaction string    `gorm:"column:transaction_hash;not null;type:text;index"`
	Timestamp   time.Time `gorm:"column:timestamp;not null;type:timestamptz"`
	Pair        string    `gorm:"column:pair;not null;type:text;index"`
	// Liquidity is the burned amount of liquidity tokens
	Liquidity decimal.Decimal `gorm:"column:liquidity;type:numeric;not null;default:0"`
	// NeedsComplete is true while the burn was opened by the custody transfer to the pair
	// and the matching transfer to the zero address has not arrived yet
	NeedsComplete bool                    `gorm:"column:needs_complete;not null;default:false"`
	Sender        domain.Optional[string] `gorm:"column:sender;type:text"`
	To            domain.Optional[string] `gorm:"column:to_address;type:text"`
	Amount0       decimal.Decimal         `gorm:"column:amount0;type:numeric;not null;default:0"`
	Amount1       decimal.Decimal         `gorm:"column:amount1;type:numeric;not null;default:0"`
	AmountUSD     decimal.Decimal         `gorm:"column:amount_usd;type:numeric;not null;default:0"`
	LogIndex      domain.Optional[int64]  `gorm:"column:log_index;type:bigint"`
	// FeeTo receives the protocol fee folded into this burn
	FeeTo domain.Optional[string] `gorm:"column:fee_to;type:text"`
	// FeeLiquidity is the liquidity of the protocol fee folded into this burn
	FeeLiquidity domain.Optional[decimal.Decimal] `gorm:"column:fee_liquidity;type:numeric"`
}

// TableName specifies the table name for the AmmBurn model
func (AmmBurn) TableName() string {
	return "amm_burns"
}

// PrimaryKey returns the entity id
func (b *AmmBurn) PrimaryKey() string {
	return b.ID
}

// AmmTrade represents the amm_trades table - one row per swap, keyed by event id
type AmmTrade struct {
	ID          string          `gorm:"column:id;primaryKey;type:text"`
	Transaction string          `gorm:"column:transaction_hash;not null;type:text;index"`
	Timestamp   time.Time       `gorm:"column:timestamp;not null;type:timestamptz"`
	Pair        string          `gorm:"column:pair;not null;type:text;index"`
	Sender      string          `gorm:"column:sender;not null;type:text"`
	To          string          `gorm:"column:to_address;not null;type:text"`
	Amount0In   decimal.Decimal `gorm:"column:amount0_in;type:numeric;not null;default:0"`
	Amount1In   decimal.Decimal `gorm:"column:amount1_in;type:numeric;not null;default:0"`
	Amount0Out  decimal.Decimal `gorm:"column:amount0_out;type:numeric;not null;default:0"`
	Amount1Out  decimal.Decimal `gorm:"column:amount1_out;type:numeric;not null;default:0"`
	AmountUSD   decimal.Decimal `gorm:"column:amount_usd;type:numeric;not null;default:0"`
	LogIndex    uint64          `gorm:"column:log_index;not null"`
}

// TableName specifies the table name for the AmmTrade model
func (AmmTrade) TableName() string {
	return "amm_trades"
}

// PrimaryKey returns the entity id
func (t *AmmTrade) PrimaryKey() string {
	return t.ID
}

// AmmLiquidityPosition represents the amm_liquidity_positions table, keyed by pair-user
type AmmLiquidityPosition struct {
	ID                    string          `gorm:"column:id;primaryKey;type:text"`
	Pair                  string          `gorm:"column:pair;not null;type:text;index"`
	User                  string          `gorm:"column:user_id;not null;type:text;index"`
	LiquidityTokenBalance decimal.Decimal `gorm:"column:liquidity_token_balance;type:numeric;not null;default:0"`
}

// TableName specifies the table name for the AmmLiquidityPosition model
func (AmmLiquidityPosition) TableName() string {
	return "amm_liquidity_positions"
}

// PrimaryKey returns the entity id
func (p *AmmLiquidityPosition) PrimaryKey() string {
	return p.ID
}
