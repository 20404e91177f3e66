package store

import (
	"context"
	"fmt"

	"github.com/feral-file/ff-margin-indexer/internal/domain"
	"github.com/feral-file/ff-margin-indexer/internal/store/schema"
)

// Repository loads and persists ledger entities by kind and id
type Repository interface {
	// Load fills dst with the entity of dst's kind and the given id.
	// It reports false, leaving dst untouched, when no such entity exists.
	Load(ctx context.Context, id string, dst schema.Entity) (bool, error)
	// Save inserts or fully replaces the entity
	Save(ctx context.Context, entity schema.Entity) error
	// Remove deletes the entity of the given kind and id. Removing a missing entity is not an error.
	Remove(ctx context.Context, kind string, id string) error
}

// KeyValueStore persists processing state
type KeyValueStore interface {
	// SetKeyValue stores value under key
	SetKeyValue(ctx context.Context, key string, value string) error
	// GetKeyValue returns the value stored under key, or "" when absent
	GetKeyValue(ctx context.Context, key string) (string, error)
}

// Store defines the interface for database operations
type Store interface {
	Repository
	KeyValueStore
	// WithTransaction runs fn against a store bound to a single transaction.
	// All writes made through tx are discarded when fn returns an error.
	WithTransaction(ctx context.Context, fn func(tx Store) error) error
	// GetWatchedContracts returns the contracts being watched on a chain, ordered by address
	GetWatchedContracts(ctx context.Context, chain domain.Chain) ([]schema.WatchedContract, error)
	// AutoMigrate creates or updates the ledger tables
	AutoMigrate(ctx context.Context) error
}

// Get loads the entity of type T with the given id. It returns nil when the entity does not exist.
func Get[T any, PT interface {
	*T
	schema.Entity
}](ctx context.Context, repo Repository, id string) (PT, error) {
	entity := PT(new(T))
	found, err := repo.Load(ctx, id, entity)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s %s: %w", entity.TableName(), id, err)
	}
	if !found {
		return nil, nil
	}
	return entity, nil
}

// MustGet loads the entity of type T with the given id and fails with missing when it does not exist
func MustGet[T any, PT interface {
	*T
	schema.Entity
}](ctx context.Context, repo Repository, id string, missing error) (PT, error) {
	entity, err := Get[T, PT](ctx, repo, id)
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, fmt.Errorf("%w: %s", missing, id)
	}
	return entity, nil
}

// SaveAll saves the entities in order, stopping at the first failure
func SaveAll(ctx context.Context, repo Repository, entities ...schema.Entity) error {
	for _, entity := range entities {
		if err := repo.Save(ctx, entity); err != nil {
			return fmt.Errorf("failed to save %s %s: %w", entity.TableName(), entity.PrimaryKey(), err)
		}
	}
	return nil
}
