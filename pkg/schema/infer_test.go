package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

func TestInferColumns_TypesFromSamples(t *testing.T) {
	headers := []string{"id", "price", "active", "signed_up", "notes"}
	rows := []map[string]any{
		{"id": "1", "price": "19.99", "active": "true", "signed_up": "2024-01-15", "notes": "first"},
		{"id": "2", "price": "5", "active": "false", "signed_up": "2024-02-01", "notes": "second"},
		{"id": "3", "price": "0.5", "active": "true", "signed_up": "2024-03-20", "notes": "третий"},
	}

	defs := InferColumns(headers, rows)
	require.Len(t, defs, 5)

	byName := map[string]models.ColumnDef{}
	for _, def := range defs {
		byName[def.Name] = def
	}

	assert.Equal(t, models.ColumnTypeInteger, byName["id"].Type)
	assert.Equal(t, models.ColumnTypeFloat, byName["price"].Type)
	assert.Equal(t, models.ColumnTypeBoolean, byName["active"].Type)
	assert.Equal(t, models.ColumnTypeTimestamp, byName["signed_up"].Type)
	assert.Equal(t, models.ColumnTypeText, byName["notes"].Type)
}

func TestInferColumns_RequiredOnlyWhenAlwaysPresent(t *testing.T) {
	headers := []string{"id", "nickname"}
	rows := []map[string]any{
		{"id": "1", "nickname": "ace"},
		{"id": "2", "nickname": ""},
		{"id": "3"},
	}

	defs := InferColumns(headers, rows)
	require.Len(t, defs, 2)

	assert.True(t, defs[0].Required, "id is present in every row")
	assert.False(t, defs[1].Required, "nickname has gaps")
}

func TestInferColumns_TypedValuesFromJSON(t *testing.T) {
	headers := []string{"count", "ratio", "flag"}
	rows := []map[string]any{
		{"count": float64(10), "ratio": 0.25, "flag": true},
		{"count": float64(3), "ratio": 1.5, "flag": false},
	}

	defs := InferColumns(headers, rows)
	require.Len(t, defs, 3)

	assert.Equal(t, models.ColumnTypeInteger, defs[0].Type)
	assert.Equal(t, models.ColumnTypeFloat, defs[1].Type)
	assert.Equal(t, models.ColumnTypeBoolean, defs[2].Type)
}

func TestInferColumns_EmptySampleFallsBackToText(t *testing.T) {
	defs := InferColumns([]string{"anything"}, nil)
	require.Len(t, defs, 1)

	assert.Equal(t, models.ColumnTypeText, defs[0].Type)
	assert.False(t, defs[0].Required)
}

func TestParseTimestamp_AcceptedLayouts(t *testing.T) {
	for _, raw := range []string{
		"2024-06-30T12:00:00Z",
		"2024-06-30",
		"2024-06-30 12:00:00",
		"2024/06/30",
		"06/30/2024",
	} {
		t.Run(raw, func(t *testing.T) {
			ts, err := ParseTimestamp(raw)
			require.NoError(t, err)
			assert.Equal(t, 2024, ts.Year())
		})
	}

	_, err := ParseTimestamp("not a date")
	assert.Error(t, err)
}
