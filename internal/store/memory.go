package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/feral-file/ff-margin-indexer/internal/adapter"
	"github.com/feral-file/ff-margin-indexer/internal/domain"
	"github.com/feral-file/ff-margin-indexer/internal/store/schema"
)

// memoryStore keeps every entity as its JSON encoding so that loaded entities never
// alias stored ones
type memoryStore struct {
	mu   sync.RWMutex
	json adapter.JSON
	rows map[string]map[string][]byte
	kv   map[string]string
}

// NewMemoryStore creates an in-memory store. It is intended for tests and replays.
func NewMemoryStore(json adapter.JSON) Store {
	return &memoryStore{
		json: json,
		rows: make(map[string]map[string][]byte),
		kv:   make(map[string]string),
	}
}

// AutoMigrate is a no-op for the in-memory store
func (s *memoryStore) AutoMigrate(ctx context.Context) error {
	return nil
}

// Load retrieves an entity by id into dst
func (s *memoryStore) Load(ctx context.Context, id string, dst schema.Entity) (bool, error) {
	s.mu.RLock()
	data, ok := s.rows[dst.TableName()][id]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}

	if err := s.json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("failed to decode %s %s: %w", dst.TableName(), id, err)
	}

	return true, nil
}

// Save inserts or replaces an entity
func (s *memoryStore) Save(ctx context.Context, entity schema.Entity) error {
	if entity.PrimaryKey() == "" {
		return fmt.Errorf("cannot save %s without id", entity.TableName())
	}

	data, err := s.json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", entity.TableName(), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	table, ok := s.rows[entity.TableName()]
	if !ok {
		table = make(map[string][]byte)
		s.rows[entity.TableName()] = table
	}
	table[entity.PrimaryKey()] = data

	return nil
}

// Remove deletes an entity by kind and id
func (s *memoryStore) Remove(ctx context.Context, kind string, id string) error {
	if _, ok := schema.New(kind); !ok {
		return fmt.Errorf("unknown entity kind: %s", kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.rows[kind], id)
	return nil
}

// WithTransaction runs fn against the store and restores the previous state when fn fails
func (s *memoryStore) WithTransaction(ctx context.Context, fn func(tx Store) error) error {
	rows, kv := s.snapshot()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.rows = rows
		s.kv = kv
		s.mu.Unlock()
		return err
	}

	return nil
}

func (s *memoryStore) snapshot() (map[string]map[string][]byte, map[string]string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make(map[string]map[string][]byte, len(s.rows))
	for kind, table := range s.rows {
		copied := make(map[string][]byte, len(table))
		for id, data := range table {
			copied[id] = data
		}
		rows[kind] = copied
	}

	kv := make(map[string]string, len(s.kv))
	for k, v := range s.kv {
		kv[k] = v
	}

	return rows, kv
}

// GetWatchedContracts retrieves the watched contracts of a chain
func (s *memoryStore) GetWatchedContracts(ctx context.Context, chain domain.Chain) ([]schema.WatchedContract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var contracts []schema.WatchedContract
	for id, data := range s.rows[schema.WatchedContract{}.TableName()] {
		var contract schema.WatchedContract
		if err := s.json.Unmarshal(data, &contract); err != nil {
			return nil, fmt.Errorf("failed to decode watched contract %s: %w", id, err)
		}
		if contract.Chain == chain && contract.Watching {
			contracts = append(contracts, contract)
		}
	}

	sort.Slice(contracts, func(i, j int) bool {
		return contracts[i].ID < contracts[j].ID
	})

	return contracts, nil
}

// SetKeyValue sets a key-value pair
func (s *memoryStore) SetKeyValue(ctx context.Context, key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.kv[key] = value
	return nil
}

// GetKeyValue retrieves a value by key, returning "" when absent
func (s *memoryStore) GetKeyValue(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.kv[key], nil
}
