package repos

import (
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"
)

// Record JSON columns are never NULL: lists default to [] and objects to {}.

func listJSON[T any](items []T) (datatypes.JSON, error) {
	if items == nil {
		items = []T{}
	}
	return valueJSON(items)
}

func objectJSON(m map[string]any) (datatypes.JSON, error) {
	if m == nil {
		m = map[string]any{}
	}
	return valueJSON(m)
}

func valueJSON(v any) (datatypes.JSON, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode json column: %w", err)
	}
	return datatypes.JSON(raw), nil
}

func decodeJSON[T any](raw datatypes.JSON, dst *T) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode json column: %w", err)
	}
	return nil
}
