package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONMap is a custom type for JSON columns (map[string]interface{})
type JSONMap map[string]interface{}

// Scan implements sql.Scanner interface
func (j *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, err := scanBytes(value)
	if err != nil {
		return fmt.Errorf("failed to unmarshal JSONMap value: %w", err)
	}
	result := make(map[string]interface{})
	err = json.Unmarshal(bytes, &result)
	*j = JSONMap(result)
	return err
}

// Value implements driver.Valuer interface
func (j JSONMap) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// FloatMap is a JSON column holding a parameter vector
type FloatMap map[string]float64

// Scan implements sql.Scanner interface
func (f *FloatMap) Scan(value interface{}) error {
	if value == nil {
		*f = nil
		return nil
	}
	bytes, err := scanBytes(value)
	if err != nil {
		return fmt.Errorf("failed to unmarshal FloatMap value: %w", err)
	}
	result := make(map[string]float64)
	err = json.Unmarshal(bytes, &result)
	*f = FloatMap(result)
	return err
}

// Value implements driver.Valuer interface
func (f FloatMap) Value() (driver.Value, error) {
	if f == nil {
		return nil, nil
	}
	return json.Marshal(f)
}

func scanBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported type %T", value)
	}
}
