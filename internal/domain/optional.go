package domain

import (
	"bytes"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Optional distinguishes "not yet known" from a known value, including a known zero value.
// It maps to a nullable column and to JSON null when unset.
type Optional[T any] struct {
	value T
	set   bool
}

// Some returns an Optional holding v
func Some[T any](v T) Optional[T] {
	return Optional[T]{value: v, set: true}
}

// None returns an unset Optional
func None[T any]() Optional[T] {
	return Optional[T]{}
}

// Get returns the value and whether it is set
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.set
}

// IsSet reports whether a value is present
func (o Optional[T]) IsSet() bool {
	return o.set
}

// OrElse returns the value when set, def otherwise
func (o Optional[T]) OrElse(def T) T {
	if o.set {
		return o.value
	}
	return def
}

// MarshalJSON implements json.Marshaler
func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.set {
		return []byte("null"), nil
	}
	return json.Marshal(o.value)
}

// UnmarshalJSON implements json.Unmarshaler
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*o = None[T]()
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = Some(v)
	return nil
}

// Value implements driver.Valuer
func (o Optional[T]) Value() (driver.Value, error) {
	if !o.set {
		return nil, nil
	}
	if valuer, ok := any(o.value).(driver.Valuer); ok {
		return valuer.Value()
	}
	return driver.DefaultParameterConverter.ConvertValue(o.value)
}

// Scan implements sql.Scanner
func (o *Optional[T]) Scan(src interface{}) error {
	if src == nil {
		*o = None[T]()
		return nil
	}

	var v T
	if scanner, ok := any(&v).(sql.Scanner); ok {
		if err := scanner.Scan(src); err != nil {
			return err
		}
		*o = Some(v)
		return nil
	}

	switch dst := any(&v).(type) {
	case *string:
		switch s := src.(type) {
		case string:
			*dst = s
		case []byte:
			*dst = string(s)
		default:
			return fmt.Errorf("cannot scan %T into Optional[string]", src)
		}
	case *int64:
		n, ok := src.(int64)
		if !ok {
			return fmt.Errorf("cannot scan %T into Optional[int64]", src)
		}
		*dst = n
	case *bool:
		b, ok := src.(bool)
		if !ok {
			return fmt.Errorf("cannot scan %T into Optional[bool]", src)
		}
		*dst = b
	case *time.Time:
		t, ok := src.(time.Time)
		if !ok {
			return fmt.Errorf("cannot scan %T into Optional[time.Time]", src)
		}
		*dst = t
	default:
		return fmt.Errorf("unsupported Optional type %T", v)
	}

	*o = Some(v)
	return nil
}
