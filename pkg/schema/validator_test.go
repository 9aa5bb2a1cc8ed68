package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

func testColumns() []models.ColumnDef {
	return []models.ColumnDef{
		{Name: "email", Type: models.ColumnTypeText, Required: true},
		{Name: "age", Type: models.ColumnTypeInteger, Required: false},
		{Name: "active", Type: models.ColumnTypeBoolean, Required: false},
	}
}

func TestValidateRecord_ValidRecordCoercesValues(t *testing.T) {
	validator := NewValidator(testColumns())

	result := validator.ValidateRecord(map[string]any{
		"email":  "a@b.com",
		"age":    "31",
		"active": "yes",
	})

	require.True(t, result.Valid)
	assert.Empty(t, result.Errors)
	assert.Equal(t, "a@b.com", result.Values["email"])
	assert.Equal(t, int64(31), result.Values["age"])
	assert.Equal(t, true, result.Values["active"])
}

func TestValidateRecord_MissingRequiredColumn(t *testing.T) {
	validator := NewValidator(testColumns())

	result := validator.ValidateRecord(map[string]any{"age": "40"})

	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "email", result.Errors[0].Column)
	assert.Equal(t, int64(40), result.Values["age"], "other values still coerce")
}

func TestValidateRecord_WhitespaceCountsAsMissing(t *testing.T) {
	validator := NewValidator(testColumns())

	result := validator.ValidateRecord(map[string]any{"email": "   "})

	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "email", result.Errors[0].Column)
}

func TestValidateRecord_MissingOptionalColumnIsFine(t *testing.T) {
	validator := NewValidator(testColumns())

	result := validator.ValidateRecord(map[string]any{"email": "a@b.com"})

	assert.True(t, result.Valid)
	_, hasAge := result.Values["age"]
	assert.False(t, hasAge, "absent optional columns stay absent")
}

func TestValidateRecord_UnknownKeysDropped(t *testing.T) {
	validator := NewValidator(testColumns())

	result := validator.ValidateRecord(map[string]any{
		"email":    "a@b.com",
		"intruder": "ignored",
	})

	assert.True(t, result.Valid)
	_, exists := result.Values["intruder"]
	assert.False(t, exists)
}

func TestValidateRecord_UncoercibleValueReported(t *testing.T) {
	validator := NewValidator(testColumns())

	result := validator.ValidateRecord(map[string]any{
		"email": "a@b.com",
		"age":   "not a number",
	})

	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "age", result.Errors[0].Column)
	assert.Contains(t, result.Errors[0].Message, "integer")
	assert.Equal(t, "a@b.com", result.Values["email"], "valid columns survive")
}

func TestValidateRecord_MultipleErrorsAccumulate(t *testing.T) {
	validator := NewValidator(testColumns())

	result := validator.ValidateRecord(map[string]any{
		"age":    "nope",
		"active": "perhaps",
	})

	assert.False(t, result.Valid)
	assert.Len(t, result.Errors, 3)
}
