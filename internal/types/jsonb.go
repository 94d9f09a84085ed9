package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// StringList represents a JSONB array of strings
type StringList []string

// Scan implements the sql.Scanner interface for StringList
func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = StringList{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("failed to unmarshal JSONB value: %v", value)
	}

	result := StringList{}
	err := json.Unmarshal(bytes, &result)
	*l = result
	return err
}

// Value implements the driver.Valuer interface for StringList. The JSON is
// returned as text so the driver does not send it as bytea.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		l = StringList{}
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
