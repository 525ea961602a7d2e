package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Fields is the residual, provider-specific part of a payload
type Fields map[string]any

// String returns a field as a string, or "" if missing or not a string
func (f Fields) String(key string) string {
	if s, ok := f[key].(string); ok {
		return s
	}
	return ""
}

// Int returns a numeric field as an int
func (f Fields) Int(key string) (int, bool) {
	switch v := f[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	}
	return 0, false
}

// Value stores Fields as a JSON document
func (f Fields) Value() (driver.Value, error) {
	if f == nil {
		return "{}", nil
	}
	b, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan reads Fields from a JSON document
func (f *Fields) Scan(src any) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		*f = Fields{}
		return nil
	case string:
		b = []byte(v)
	case []byte:
		b = v
	default:
		return fmt.Errorf("cannot scan %T into Fields", src)
	}

	out := Fields{}
	if len(b) > 0 {
		if err := json.Unmarshal(b, &out); err != nil {
			return err
		}
	}
	*f = out
	return nil
}
