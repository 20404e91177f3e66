package schema

import "time"

// KeyValueStore stores arbitrary key-value pairs for processing state.
// Used for the emitter's block cursor and the worker's event cursor.
type KeyValueStore struct {
	Key       string    `gorm:"primaryKey;type:text"`
	Value     string    `gorm:"type:text;not null"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// TableName specifies the table name for the KeyValueStore model
func (KeyValueStore) TableName() string {
	return "key_value_store"
}
