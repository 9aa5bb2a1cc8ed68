package parsers

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ParseJSON parses a JSON payload holding an array of objects. A top-level
// object wrapping exactly one array (a common export shape) is unwrapped.
// Nested objects and arrays inside a record are kept as JSON-encoded text.
func ParseJSON(payload []byte) (*Table, error) {
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, fmt.Errorf("failed to parse json: %w", err)
	}

	records, err := jsonRecords(decoded)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errors.New("no rows found in file")
	}

	var columns []string
	seen := make(map[string]bool)
	rows := make([]Row, 0, len(records))

	for i, record := range records {
		obj, ok := record.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("row %d is not an object", i+1)
		}

		values := make(map[string]any, len(obj))
		for key, value := range obj {
			if !seen[key] {
				seen[key] = true
				columns = append(columns, key)
			}
			values[key] = flattenValue(value)
		}
		rows = append(rows, Row{Number: i + 1, Values: values})
	}

	return &Table{Columns: columns, Rows: rows}, nil
}

func jsonRecords(decoded any) ([]any, error) {
	switch v := decoded.(type) {
	case []any:
		return v, nil
	case map[string]any:
		var arrays [][]any
		for _, value := range v {
			if arr, ok := value.([]any); ok {
				arrays = append(arrays, arr)
			}
		}
		if len(arrays) == 1 {
			return arrays[0], nil
		}
		return nil, errors.New("json object must wrap exactly one array of records")
	default:
		return nil, errors.New("json file must contain an array of objects")
	}
}

// flattenValue keeps scalars as-is and re-encodes structures as JSON text
// so every cell fits a single column.
func flattenValue(value any) any {
	switch value.(type) {
	case map[string]any, []any:
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Sprintf("%v", value)
		}
		return string(encoded)
	default:
		return value
	}
}
