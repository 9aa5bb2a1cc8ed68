package schema

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/Ramsey-B/fern/pkg/models"
)

var timeLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05.000000",
	"2006-01-02 15:04:05.000000000",
	"2006/01/02",
	"01/02/2006",
	"02/01/2006",
}

// InferColumns profiles sample rows and returns a column definition per header.
// A column is Required only when every sampled row carries a non-empty value.
func InferColumns(headers []string, rows []map[string]any) []models.ColumnDef {
	defs := make([]models.ColumnDef, 0, len(headers))
	for _, header := range headers {
		colType, required := profileColumn(header, rows)
		defs = append(defs, models.ColumnDef{
			Name:     header,
			Type:     colType,
			Required: required,
		})
	}
	return defs
}

func profileColumn(name string, rows []map[string]any) (models.ColumnType, bool) {
	isBool := true
	isInt := true
	isFloat := true
	isTimestamp := true
	allPresent := true
	hasValue := false

	for _, row := range rows {
		raw, ok := row[name]
		if !ok || raw == nil {
			allPresent = false
			continue
		}

		// Non-string values already carry their type
		switch v := raw.(type) {
		case bool:
			hasValue = true
			isInt = false
			isFloat = false
			isTimestamp = false
			continue
		case float64:
			hasValue = true
			isBool = false
			isTimestamp = false
			if math.Mod(v, 1) != 0 {
				isInt = false
			}
			continue
		case int, int64:
			hasValue = true
			isBool = false
			isTimestamp = false
			continue
		case string:
			value := strings.TrimSpace(v)
			if value == "" {
				allPresent = false
				continue
			}

			hasValue = true

			if !looksLikeBool(value) {
				isBool = false
			}
			if !looksLikeInt(value) {
				isInt = false
			}
			if !looksLikeFloat(value) {
				isFloat = false
			}
			if !looksLikeTimestamp(value) {
				isTimestamp = false
			}
		default:
			hasValue = true
			isBool = false
			isInt = false
			isFloat = false
			isTimestamp = false
		}
	}

	switch {
	case isBool && hasValue:
		return models.ColumnTypeBoolean, allPresent && hasValue
	case isInt && hasValue:
		return models.ColumnTypeInteger, allPresent && hasValue
	case isFloat && hasValue:
		return models.ColumnTypeFloat, allPresent && hasValue
	case isTimestamp && hasValue:
		return models.ColumnTypeTimestamp, allPresent && hasValue
	default:
		return models.ColumnTypeText, allPresent && hasValue
	}
}

func looksLikeBool(value string) bool {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "true" || value == "false" {
		return true
	}
	if value == "1" || value == "0" {
		return true
	}
	if value == "yes" || value == "no" {
		return true
	}
	_, err := strconv.ParseBool(value)
	return err == nil
}

func looksLikeInt(value string) bool {
	if _, err := strconv.ParseInt(value, 10, 64); err == nil {
		return true
	}
	// Allow float representations that convert losslessly to int
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return math.Mod(f, 1) == 0
	}
	return false
}

func looksLikeFloat(value string) bool {
	_, err := strconv.ParseFloat(value, 64)
	return err == nil
}

func looksLikeTimestamp(value string) bool {
	_, err := ParseTimestamp(value)
	return err == nil
}

// ParseTimestamp parses a timestamp in any of the accepted layouts
func ParseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, errUnrecognizedTimestamp
}
