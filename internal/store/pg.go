package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/plugin/dbresolver"

	"github.com/feral-file/ff-margin-indexer/internal/domain"
	"github.com/feral-file/ff-margin-indexer/internal/store/schema"
)

type pgStore struct {
	db *gorm.DB
}

func hasDBResolver(db *gorm.DB) bool {
	return db != nil && db.Callback().Query().Get("gorm:db_resolver") != nil
}

// NewPGStore creates a new PostgreSQL store instance
func NewPGStore(db *gorm.DB) Store {
	return &pgStore{db: db}
}

// UseReadReplica routes plain reads to the replica at readDSN. Reads inside a transaction
// keep using the primary.
func UseReadReplica(db *gorm.DB, readDSN string) error {
	err := db.Use(dbresolver.Register(dbresolver.Config{
		Replicas: []gorm.Dialector{postgres.Open(readDSN)},
		Policy:   dbresolver.RandomPolicy{},
	}))
	if err != nil {
		return fmt.Errorf("failed to register read replica: %w", err)
	}

	return nil
}

// ConfigureConnectionPool configures the connection pool settings for a GORM database connection.
// It accesses the underlying *sql.DB and sets the pool configuration.
// If any of the pool settings are 0 or empty, reasonable defaults are used:
//   - MaxOpenConns: 20 (if 0)
//   - MaxIdleConns: 5 (if 0)
//   - ConnMaxLifetime: 5 minutes (if 0)
//   - ConnMaxIdleTime: 10 minutes (if 0)
func ConfigureConnectionPool(db *gorm.DB, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	maxOpenConns, maxIdleConns, connMaxLifetime, connMaxIdleTime =
		NormalizeConnectionPoolSettings(maxOpenConns, maxIdleConns, connMaxLifetime, connMaxIdleTime)

	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	return nil
}

// NormalizeConnectionPoolSettings applies defaults and clamps pool settings into safe values.
//
// Defaults (when zero):
//   - MaxOpenConns: 20
//   - MaxIdleConns: 5
//   - ConnMaxLifetime: 5 minutes
//   - ConnMaxIdleTime: 10 minutes
//
// Notes:
//   - database/sql treats MaxOpenConns=0 as "unlimited"
//   - database/sql treats MaxIdleConns=0 as "no idle connections"
func NormalizeConnectionPoolSettings(maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) (int, int, time.Duration, time.Duration) {
	if maxOpenConns == 0 {
		maxOpenConns = 20
	}
	if maxIdleConns == 0 {
		maxIdleConns = 5
	}
	if connMaxLifetime == 0 {
		connMaxLifetime = 5 * time.Minute
	}
	if connMaxIdleTime == 0 {
		connMaxIdleTime = 10 * time.Minute
	}

	// Ensure MaxIdleConns doesn't exceed MaxOpenConns
	if maxIdleConns > maxOpenConns {
		maxIdleConns = maxOpenConns
	}

	return maxOpenConns, maxIdleConns, connMaxLifetime, connMaxIdleTime
}

// AutoMigrate creates or updates the ledger tables
func (s *pgStore) AutoMigrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(schema.Models()...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// Load retrieves an entity by id into dst
func (s *pgStore) Load(ctx context.Context, id string, dst schema.Entity) (bool, error) {
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(dst).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to load %s: %w", dst.TableName(), err)
	}

	return true, nil
}

// Save inserts or replaces an entity
func (s *pgStore) Save(ctx context.Context, entity schema.Entity) error {
	if entity.PrimaryKey() == "" {
		return fmt.Errorf("cannot save %s without id", entity.TableName())
	}

	err := s.db.WithContext(ctx).Save(entity).Error
	if err != nil {
		return fmt.Errorf("failed to save %s: %w", entity.TableName(), err)
	}

	return nil
}

// Remove deletes an entity by kind and id
func (s *pgStore) Remove(ctx context.Context, kind string, id string) error {
	entity, ok := schema.New(kind)
	if !ok {
		return fmt.Errorf("unknown entity kind: %s", kind)
	}

	err := s.db.WithContext(ctx).Where("id = ?", id).Delete(entity).Error
	if err != nil {
		return fmt.Errorf("failed to remove %s: %w", kind, err)
	}

	return nil
}

// WithTransaction runs fn inside a database transaction
func (s *pgStore) WithTransaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&pgStore{db: tx})
	})
}

// GetWatchedContracts retrieves the watched contracts of a chain
func (s *pgStore) GetWatchedContracts(ctx context.Context, chain domain.Chain) ([]schema.WatchedContract, error) {
	var contracts []schema.WatchedContract

	query := func(db *gorm.DB) error {
		return db.WithContext(ctx).
			Where("chain = ? AND watching = ?", chain, true).
			Order("id ASC").
			Find(&contracts).Error
	}

	if err := query(s.db); err != nil {
		return nil, fmt.Errorf("failed to get watched contracts: %w", err)
	}
	if len(contracts) > 0 || !hasDBResolver(s.db) {
		return contracts, nil
	}

	// Replica can lag behind primary; retry on primary before returning an empty list.
	if err := query(s.db.Clauses(dbresolver.Write)); err != nil {
		return nil, fmt.Errorf("failed to get watched contracts: %w", err)
	}

	return contracts, nil
}

// SetKeyValue sets a key-value pair in the key-value store
func (s *pgStore) SetKeyValue(ctx context.Context, key string, value string) error {
	kv := schema.KeyValueStore{
		Key:   key,
		Value: value,
	}

	err := s.db.WithContext(ctx).Save(&kv).Error
	if err != nil {
		return fmt.Errorf("failed to set key-value: %w", err)
	}

	return nil
}

// GetKeyValue retrieves a value by key from the key-value store
func (s *pgStore) GetKeyValue(ctx context.Context, key string) (string, error) {
	var kv schema.KeyValueStore
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&kv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get key-value: %w", err)
	}

	return kv.Value, nil
}
