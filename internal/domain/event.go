package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Chain represents the blockchain network identifier using CAIP-2 format
type Chain string

const (
	ChainEthereumMainnet Chain = "eip155:1"
	ChainArbitrumOne     Chain = "eip155:42161"
	ChainPolygonZkEVM    Chain = "eip155:1101"
	ChainBase            Chain = "eip155:8453"
)

// IsValidChain checks if a chain is valid
func IsValidChain(chain Chain) bool {
	return chain == ChainEthereumMainnet ||
		chain == ChainArbitrumOne ||
		chain == ChainPolygonZkEVM ||
		chain == ChainBase
}

// EventKind represents the kind of a normalized ledger event
type EventKind string

const (
	// Margin protocol administration
	EventKindAddMarket            EventKind = "add_market"
	EventKindRemoveMarket         EventKind = "remove_market"
	EventKindSetEarningsRate      EventKind = "set_earnings_rate"
	EventKindSetLiquidationSpread EventKind = "set_liquidation_spread"
	EventKindSetSpreadPremium     EventKind = "set_spread_premium"
	EventKindSetMarginPremium     EventKind = "set_margin_premium"
	EventKindSetMinBorrowedValue  EventKind = "set_min_borrowed_value"
	EventKindSetMarginRatio       EventKind = "set_margin_ratio"

	// Margin protocol operations
	EventKindIndexUpdate EventKind = "index_update"
	EventKindOraclePrice EventKind = "oracle_price"
	EventKindDeposit     EventKind = "deposit"
	EventKindWithdraw    EventKind = "withdraw"
	EventKindTransfer    EventKind = "transfer"
	EventKindBuy         EventKind = "buy"
	EventKindSell        EventKind = "sell"
	EventKindTrade       EventKind = "trade"
	EventKindLiquidate   EventKind = "liquidate"
	EventKindVaporize    EventKind = "vaporize"

	// Expiry
	EventKindExpirySet         EventKind = "expiry_set"
	EventKindExpiryRampTimeSet EventKind = "expiry_ramp_time_set"

	// Proxies and factories
	EventKindMarginPositionOpen  EventKind = "margin_position_open"
	EventKindMarginPositionClose EventKind = "margin_position_close"
	EventKindBorrowPositionOpen  EventKind = "borrow_position_open"
	EventKindVaultCreated        EventKind = "vault_created"

	// AMM
	EventKindPairCreated EventKind = "pair_created"
	EventKindAmmTransfer EventKind = "amm_transfer"
	EventKindAmmMint     EventKind = "amm_mint"
	EventKindAmmBurn     EventKind = "amm_burn"
	EventKindAmmSwap     EventKind = "amm_swap"
	EventKindAmmSync     EventKind = "amm_sync"
)

// EventPosition is the canonical ordering key of an event in the feed
type EventPosition struct {
	BlockNumber uint64 `json:"block_number"`
	TxIndex     uint64 `json:"tx_index"`
	LogIndex    uint64 `json:"log_index"`
}

// Compare returns -1, 0 or +1 depending on whether p sorts before, equal to or after o
func (p EventPosition) Compare(o EventPosition) int {
	switch {
	case p.BlockNumber != o.BlockNumber:
		if p.BlockNumber < o.BlockNumber {
			return -1
		}
		return 1
	case p.TxIndex != o.TxIndex:
		if p.TxIndex < o.TxIndex {
			return -1
		}
		return 1
	case p.LogIndex != o.LogIndex:
		if p.LogIndex < o.LogIndex {
			return -1
		}
		return 1
	}
	return 0
}

// String formats the position as block:tx:log
func (p EventPosition) String() string {
	return fmt.Sprintf("%d:%d:%d", p.BlockNumber, p.TxIndex, p.LogIndex)
}

// ParseEventPosition parses a position produced by EventPosition.String
func ParseEventPosition(s string) (EventPosition, error) {
	var p EventPosition
	if _, err := fmt.Sscanf(s, "%d:%d:%d", &p.BlockNumber, &p.TxIndex, &p.LogIndex); err != nil {
		return EventPosition{}, fmt.Errorf("invalid event position %q: %w", s, err)
	}
	return p, nil
}

// Event represents a normalized ledger event
// This is the standard format published to NATS
type Event struct {
	Chain           Chain           `json:"chain"`            // e.g., "eip155:42161"
	Kind            EventKind       `json:"kind"`             // e.g., "deposit", "amm_transfer"
	ContractAddress string          `json:"contract_address"` // emitting contract
	BlockNumber     uint64          `json:"block_number"`     // block number
	BlockHash       string          `json:"block_hash"`       // block hash
	Timestamp       time.Time       `json:"timestamp"`        // block timestamp
	TxHash          string          `json:"tx_hash"`          // transaction hash
	TxIndex         uint64          `json:"tx_index"`         // transaction index in the block
	LogIndex        uint64          `json:"log_index"`        // log index in the block
	Params          json.RawMessage `json:"params"`           // kind-specific parameters
}

// NewEvent builds an event envelope with the given params encoded as JSON
func NewEvent(kind EventKind, params interface{}) (*Event, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s params: %w", kind, err)
	}
	return &Event{Kind: kind, Params: raw}, nil
}

// ID returns the unique identifier of the event: txHash-logIndex
func (e *Event) ID() string {
	return fmt.Sprintf("%s-%d", e.TxHash, e.LogIndex)
}

// Position returns the ordering key of the event
func (e *Event) Position() EventPosition {
	return EventPosition{BlockNumber: e.BlockNumber, TxIndex: e.TxIndex, LogIndex: e.LogIndex}
}

// DecodeParams unmarshals the event params into v
func (e *Event) DecodeParams(v interface{}) error {
	if len(e.Params) == 0 {
		return fmt.Errorf("%w: %s event has no params", ErrInvalidEventParams, e.Kind)
	}
	if err := json.Unmarshal(e.Params, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidEventParams, e.Kind, err)
	}
	return nil
}

// NormalizeAddress returns the lowercase 0x-prefixed hex form of an address
func NormalizeAddress(address string) string {
	if address == "" {
		return ETHEREUM_ZERO_ADDRESS
	}
	return strings.ToLower(common.HexToAddress(address).Hex())
}

// IsZeroAddress reports whether the address is the zero address
func IsZeroAddress(address string) bool {
	return NormalizeAddress(address) == ETHEREUM_ZERO_ADDRESS
}
