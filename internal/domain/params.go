package domain

import "fmt"

// AccountInfo identifies a margin account. Number is a uint256 decimal string.
type AccountInfo struct {
	Owner  string `json:"owner"`
	Number string `json:"number"`
}

// ID returns the margin account identifier: owner-number
func (a AccountInfo) ID() string {
	return MarginAccountID(a.Owner, a.Number)
}

// IsIsolated reports whether the account number can back a position (any non-zero number)
func (a AccountInfo) IsIsolated() bool {
	return a.Number != "" && a.Number != "0"
}

// MarginAccountID builds the margin account identifier from its owner and number
func MarginAccountID(owner, number string) string {
	return fmt.Sprintf("%s-%s", NormalizeAddress(owner), number)
}

// BalanceUpdate is the protocol's per-market balance change. Both values are signed raw integers.
type BalanceUpdate struct {
	DeltaWei string `json:"delta_wei"`
	NewPar   string `json:"new_par"`
}

// AddMarketParams holds params of the add_market event.
// Token metadata is resolved by the emitter when the market is added.
type AddMarketParams struct {
	MarketID uint64 `json:"market_id"`
	Token    string `json:"token"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals int32  `json:"decimals"`
}

// RemoveMarketParams holds params of the remove_market event
type RemoveMarketParams struct {
	MarketID uint64 `json:"market_id"`
	Token    string `json:"token"`
}

// ValueParams holds params of single-value protocol setters. Value is a raw integer.
type ValueParams struct {
	Value string `json:"value"`
}

// MarketValueParams holds params of per-market protocol setters. Value is a raw integer.
type MarketValueParams struct {
	MarketID uint64 `json:"market_id"`
	Value    string `json:"value"`
}

// IndexUpdateParams holds params of the index_update event
type IndexUpdateParams struct {
	MarketID    uint64 `json:"market_id"`
	BorrowIndex string `json:"borrow_index"`
	SupplyIndex string `json:"supply_index"`
	LastUpdate  uint64 `json:"last_update"`
}

// OraclePriceParams holds params of the oracle_price event
type OraclePriceParams struct {
	MarketID uint64 `json:"market_id"`
	Price    string `json:"price"`
}

// DepositParams holds params of the deposit event
type DepositParams struct {
	Account  AccountInfo   `json:"account"`
	MarketID uint64        `json:"market_id"`
	Update   BalanceUpdate `json:"update"`
	From     string        `json:"from"`
}

// WithdrawParams holds params of the withdraw event
type WithdrawParams struct {
	Account  AccountInfo   `json:"account"`
	MarketID uint64        `json:"market_id"`
	Update   BalanceUpdate `json:"update"`
	To       string        `json:"to"`
}

// TransferParams holds params of the transfer event
type TransferParams struct {
	AccountOne AccountInfo   `json:"account_one"`
	AccountTwo AccountInfo   `json:"account_two"`
	MarketID   uint64        `json:"market_id"`
	UpdateOne  BalanceUpdate `json:"update_one"`
	UpdateTwo  BalanceUpdate `json:"update_two"`
}

// ExchangeParams holds params of the buy and sell events
type ExchangeParams struct {
	Account         AccountInfo   `json:"account"`
	TakerMarketID   uint64        `json:"taker_market_id"`
	MakerMarketID   uint64        `json:"maker_market_id"`
	TakerUpdate     BalanceUpdate `json:"taker_update"`
	MakerUpdate     BalanceUpdate `json:"maker_update"`
	ExchangeWrapper string        `json:"exchange_wrapper"`
}

// TradeParams holds params of the trade event
type TradeParams struct {
	TakerAccount      AccountInfo   `json:"taker_account"`
	MakerAccount      AccountInfo   `json:"maker_account"`
	InputMarketID     uint64        `json:"input_market_id"`
	OutputMarketID    uint64        `json:"output_market_id"`
	TakerInputUpdate  BalanceUpdate `json:"taker_input_update"`
	TakerOutputUpdate BalanceUpdate `json:"taker_output_update"`
	MakerInputUpdate  BalanceUpdate `json:"maker_input_update"`
	MakerOutputUpdate BalanceUpdate `json:"maker_output_update"`
	AutoTrader        string        `json:"auto_trader"`
}

// LiquidateParams holds params of the liquidate event
type LiquidateParams struct {
	SolidAccount     AccountInfo   `json:"solid_account"`
	LiquidAccount    AccountInfo   `json:"liquid_account"`
	HeldMarketID     uint64        `json:"held_market_id"`
	OwedMarketID     uint64        `json:"owed_market_id"`
	SolidHeldUpdate  BalanceUpdate `json:"solid_held_update"`
	SolidOwedUpdate  BalanceUpdate `json:"solid_owed_update"`
	LiquidHeldUpdate BalanceUpdate `json:"liquid_held_update"`
	LiquidOwedUpdate BalanceUpdate `json:"liquid_owed_update"`
}

// VaporizeParams holds params of the vaporize event
type VaporizeParams struct {
	SolidAccount    AccountInfo   `json:"solid_account"`
	VaporAccount    AccountInfo   `json:"vapor_account"`
	HeldMarketID    uint64        `json:"held_market_id"`
	OwedMarketID    uint64        `json:"owed_market_id"`
	SolidHeldUpdate BalanceUpdate `json:"solid_held_update"`
	SolidOwedUpdate BalanceUpdate `json:"solid_owed_update"`
	VaporOwedUpdate BalanceUpdate `json:"vapor_owed_update"`
}

// ExpirySetParams holds params of the expiry_set event. Time is a unix timestamp, 0 clears the expiry.
type ExpirySetParams struct {
	Account  AccountInfo `json:"account"`
	MarketID uint64      `json:"market_id"`
	Time     uint64      `json:"time"`
}

// MarginPositionOpenParams holds params of the margin_position_open event
type MarginPositionOpenParams struct {
	Account       AccountInfo   `json:"account"`
	InputToken    string        `json:"input_token"`
	OutputToken   string        `json:"output_token"`
	DepositToken  string        `json:"deposit_token"`
	InputUpdate   BalanceUpdate `json:"input_update"`
	OutputUpdate  BalanceUpdate `json:"output_update"`
	DepositUpdate BalanceUpdate `json:"deposit_update"`
}

// MarginPositionCloseParams holds params of the margin_position_close event
type MarginPositionCloseParams struct {
	Account          AccountInfo   `json:"account"`
	InputToken       string        `json:"input_token"`
	OutputToken      string        `json:"output_token"`
	WithdrawalToken  string        `json:"withdrawal_token"`
	InputUpdate      BalanceUpdate `json:"input_update"`
	OutputUpdate     BalanceUpdate `json:"output_update"`
	WithdrawalUpdate BalanceUpdate `json:"withdrawal_update"`
}

// BorrowPositionOpenParams holds params of the borrow_position_open event
type BorrowPositionOpenParams struct {
	Account AccountInfo `json:"account"`
}

// VaultCreatedParams holds params of the vault_created event
type VaultCreatedParams struct {
	Account string `json:"account"`
	Vault   string `json:"vault"`
}

// PairCreatedParams holds params of the pair_created event
type PairCreatedParams struct {
	Token0 string `json:"token0"`
	Token1 string `json:"token1"`
	Pair   string `json:"pair"`
}

// AmmTransferParams holds params of a pair's liquidity token transfer
type AmmTransferParams struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Value string `json:"value"`
}

// AmmMintParams holds params of a pair's Mint event
type AmmMintParams struct {
	Sender  string `json:"sender"`
	Amount0 string `json:"amount0"`
	Amount1 string `json:"amount1"`
}

// AmmBurnParams holds params of a pair's Burn event
type AmmBurnParams struct {
	Sender  string `json:"sender"`
	Amount0 string `json:"amount0"`
	Amount1 string `json:"amount1"`
	To      string `json:"to"`
}

// AmmSwapParams holds params of a pair's Swap event
type AmmSwapParams struct {
	Sender     string `json:"sender"`
	Amount0In  string `json:"amount0_in"`
	Amount1In  string `json:"amount1_in"`
	Amount0Out string `json:"amount0_out"`
	Amount1Out string `json:"amount1_out"`
	To         string `json:"to"`
}

// AmmSyncParams holds params of a pair's Sync event
type AmmSyncParams struct {
	Reserve0 string `json:"reserve0"`
	Reserve1 string `json:"reserve1"`
}
