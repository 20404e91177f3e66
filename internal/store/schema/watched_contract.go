package schema

import (
	"time"

	"github.com/feral-file/ff-margin-indexer/internal/domain"
)

// ContractKind identifies what a dynamically discovered contract emits
type ContractKind string

const (
	// ContractKindAmmPair is an AMM pair discovered through pair_created
	ContractKindAmmPair ContractKind = "amm_pair"
	// ContractKindIsolationVault is an isolation-mode vault discovered through vault_created
	ContractKindIsolationVault ContractKind = "isolation_vault"
)

// WatchedContract represents the watched_contracts table - contracts discovered at runtime
// whose logs the emitter subscribes to, keyed by address
type WatchedContract struct {
	// ID is the contract address
	ID string `gorm:"column:id;primaryKey;type:text"`
	// Chain identifies the blockchain network
	Chain domain.Chain `gorm:"column:chain;not null;type:text;index"`
	// Kind identifies the contract type
	Kind ContractKind `gorm:"column:kind;not null;type:text;index"`
	// Watching indicates whether this contract is currently being monitored
	Watching bool `gorm:"column:watching;not null;default:true"`
	// CreatedAtBlock is the block of the discovery event
	CreatedAtBlock uint64 `gorm:"column:created_at_block;not null"`
	// CreatedAt is when this watch entry was created
	CreatedAt time.Time `gorm:"column:created_at;not null;type:timestamptz"`
}

// TableName specifies the table name for the WatchedContract model
func (WatchedContract) TableName() string {
	return "watched_contracts"
}

// PrimaryKey returns the entity id
func (w *WatchedContract) PrimaryKey() string {
	return w.ID
}
