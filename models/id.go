package models

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ID is an opaque entity identifier. The CRUD services currently emit integers,
// other deployments use strings; both decode into the same value.
type ID string

// String returns the identifier as a string
func (id ID) String() string { return string(id) }

// IsZero reports whether the identifier is empty
func (id ID) IsZero() bool { return id == "" }

// MarshalJSON emits numeric identifiers as JSON numbers so that services with
// integer primary keys accept them back unchanged.
func (id ID) MarshalJSON() ([]byte, error) {
	if id == "" {
		return []byte("null"), nil
	}
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// UnmarshalJSON accepts a JSON string, number or null
func (id *ID) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("failed to decode id: %w", err)
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("failed to decode id %s: %w", string(b), err)
	}
	*id = ID(n.String())
	return nil
}
