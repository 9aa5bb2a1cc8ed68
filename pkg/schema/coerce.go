package schema

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/Ramsey-B/fern/pkg/models"
)

var errUnrecognizedTimestamp = errors.New("unrecognized timestamp format")

// Coerce converts a raw string value to the column's logical type
func Coerce(colType models.ColumnType, raw string) (any, error) {
	switch colType {
	case models.ColumnTypeText:
		return raw, nil
	case models.ColumnTypeInteger:
		if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return i, nil
		}
		if f, err := strconv.ParseFloat(raw, 64); err == nil && math.Mod(f, 1) == 0 {
			return int64(f), nil
		}
		return nil, fmt.Errorf("unable to coerce %q to integer", raw)
	case models.ColumnTypeFloat:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f, nil
		}
		return nil, fmt.Errorf("unable to coerce %q to float", raw)
	case models.ColumnTypeBoolean:
		value := strings.ToLower(strings.TrimSpace(raw))
		switch value {
		case "1", "yes", "y":
			return true, nil
		case "0", "no", "n":
			return false, nil
		}
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("unable to coerce %q to boolean", raw)
		}
		return boolVal, nil
	case models.ColumnTypeTimestamp:
		ts, err := ParseTimestamp(raw)
		if err != nil {
			return nil, fmt.Errorf("unable to coerce %q to timestamp: %w", raw, err)
		}
		return ts, nil
	default:
		// Best effort for unknown types
		return raw, nil
	}
}

// CoerceAny converts an already-parsed value to the column's logical type.
// String inputs go through Coerce; typed inputs (JSON documents) are checked
// against the column type directly.
func CoerceAny(colType models.ColumnType, value any) (any, error) {
	if value == nil {
		return nil, nil
	}

	switch v := value.(type) {
	case string:
		return Coerce(colType, v)
	case bool:
		if colType == models.ColumnTypeBoolean {
			return v, nil
		}
		if colType == models.ColumnTypeText {
			return strconv.FormatBool(v), nil
		}
		return nil, fmt.Errorf("unable to coerce boolean to %s", colType)
	case float64:
		switch colType {
		case models.ColumnTypeFloat:
			return v, nil
		case models.ColumnTypeInteger:
			if math.Mod(v, 1) == 0 {
				return int64(v), nil
			}
			return nil, fmt.Errorf("unable to coerce %v to integer", v)
		case models.ColumnTypeText:
			return strconv.FormatFloat(v, 'f', -1, 64), nil
		}
		return nil, fmt.Errorf("unable to coerce number to %s", colType)
	case int:
		return CoerceAny(colType, float64(v))
	case int64:
		return CoerceAny(colType, float64(v))
	case time.Time:
		if colType == models.ColumnTypeTimestamp {
			return v, nil
		}
		return nil, fmt.Errorf("unable to coerce timestamp to %s", colType)
	default:
		return nil, fmt.Errorf("unable to coerce %T to %s", value, colType)
	}
}
