package store

import (
	"context"
	"fmt"

	"github.com/feral-file/ff-margin-indexer/internal/adapter"
	"github.com/feral-file/ff-margin-indexer/internal/store/schema"
)

// BlockCache remembers the entities written since the current block began.
// It outlives individual events and is reset whenever the block number changes.
type BlockCache struct {
	json  adapter.JSON
	block uint64
	rows  map[string][]byte
}

// NewBlockCache creates an empty block cache
func NewBlockCache(json adapter.JSON) *BlockCache {
	return &BlockCache{
		json: json,
		rows: make(map[string][]byte),
	}
}

// BeginBlock starts a new block scope, dropping cached entities when the block changes
func (c *BlockCache) BeginBlock(blockNumber uint64) {
	if blockNumber != c.block {
		c.Reset()
		c.block = blockNumber
	}
}

// Reset drops every cached entity. Used when an event's writes are rolled back.
func (c *BlockCache) Reset() {
	c.rows = make(map[string][]byte)
}

func cacheKey(kind, id string) string {
	return kind + "/" + id
}

// UnitOfWork is the repository handed to ledger components while one event is applied.
// Writes go straight to the underlying repository and are also recorded in the block cache.
type UnitOfWork struct {
	Repository
	cache *BlockCache
}

// NewUnitOfWork wraps repo with the block cache
func NewUnitOfWork(repo Repository, cache *BlockCache) *UnitOfWork {
	return &UnitOfWork{Repository: repo, cache: cache}
}

// Save writes the entity through and records it for LoadInBlock
func (u *UnitOfWork) Save(ctx context.Context, entity schema.Entity) error {
	if err := u.Repository.Save(ctx, entity); err != nil {
		return err
	}

	data, err := u.cache.json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("failed to cache %s: %w", entity.TableName(), err)
	}
	u.cache.rows[cacheKey(entity.TableName(), entity.PrimaryKey())] = data

	return nil
}

// Remove deletes the entity and forgets any cached copy
func (u *UnitOfWork) Remove(ctx context.Context, kind string, id string) error {
	if err := u.Repository.Remove(ctx, kind, id); err != nil {
		return err
	}
	delete(u.cache.rows, cacheKey(kind, id))

	return nil
}

// LoadInBlock fills dst only when the entity was written earlier in the current block.
// Entities from earlier blocks are reported as absent without reading the repository.
func (u *UnitOfWork) LoadInBlock(ctx context.Context, id string, dst schema.Entity) (bool, error) {
	data, ok := u.cache.rows[cacheKey(dst.TableName(), id)]
	if !ok {
		return false, nil
	}

	if err := u.cache.json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("failed to decode cached %s %s: %w", dst.TableName(), id, err)
	}

	return true, nil
}

// GetInBlock is the typed form of UnitOfWork.LoadInBlock
func GetInBlock[T any, PT interface {
	*T
	schema.Entity
}](ctx context.Context, uow *UnitOfWork, id string) (PT, error) {
	entity := PT(new(T))
	found, err := uow.LoadInBlock(ctx, id, entity)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return entity, nil
}
