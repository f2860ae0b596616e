package changelog

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

var jsonNull = []byte("null")

// State is a nullable JSON document. A nil State maps to SQL NULL and to the
// JSON literal null, so a deleted entity is distinct from an empty object.
type State json.RawMessage

func (s State) IsNull() bool { return len(s) == 0 }

func (s State) Value() (driver.Value, error) {
	if s.IsNull() {
		return nil, nil
	}
	return string(s), nil
}

func (s *State) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*s = nil
	case []byte:
		*s = append(State(nil), v...)
	case string:
		*s = State(v)
	default:
		return fmt.Errorf("changelog: cannot scan %T into State", value)
	}
	return nil
}

func (s State) MarshalJSON() ([]byte, error) {
	if s.IsNull() {
		return jsonNull, nil
	}
	return []byte(s), nil
}

func (s *State) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), jsonNull) {
		*s = nil
		return nil
	}
	*s = append(State(nil), data...)
	return nil
}

func (State) GormDataType() string { return "json" }

func (State) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	switch db.Dialector.Name() {
	case "postgres":
		return "JSONB"
	default:
		return "JSON"
	}
}
