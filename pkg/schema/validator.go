package schema

import (
	"strings"

	"github.com/Ramsey-B/fern/pkg/models"
)

// ValidationResult is the outcome of validating one record
type ValidationResult struct {
	Valid  bool
	Values map[string]any // coerced values, keyed by column name
	Errors []models.ColumnError
}

// Validator validates and coerces records against a target table's columns
type Validator struct {
	columns []models.ColumnDef
	byName  map[string]models.ColumnDef
}

// NewValidator creates a validator for the given column definitions
func NewValidator(columns []models.ColumnDef) *Validator {
	byName := make(map[string]models.ColumnDef, len(columns))
	for _, col := range columns {
		byName[col.Name] = col
	}
	return &Validator{columns: columns, byName: byName}
}

// Columns returns the column definitions the validator enforces
func (v *Validator) Columns() []models.ColumnDef {
	return v.columns
}

// ValidateRecord checks a record against the column definitions and coerces
// every known value to its logical type. Unknown keys are dropped; missing
// required columns and uncoercible values are reported, never silently lost.
func (v *Validator) ValidateRecord(record map[string]any) ValidationResult {
	result := ValidationResult{
		Valid:  true,
		Values: make(map[string]any, len(v.columns)),
	}

	for _, col := range v.columns {
		raw, exists := record[col.Name]
		if !exists || raw == nil || isEmptyString(raw) {
			if col.Required {
				result.Valid = false
				result.Errors = append(result.Errors, models.ColumnError{
					Column:  col.Name,
					Message: "required column is missing",
				})
			}
			continue
		}

		value, err := CoerceAny(col.Type, raw)
		if err != nil {
			result.Valid = false
			result.Errors = append(result.Errors, models.ColumnError{
				Column:  col.Name,
				Message: err.Error(),
			})
			continue
		}
		result.Values[col.Name] = value
	}

	return result
}

func isEmptyString(value any) bool {
	s, ok := value.(string)
	return ok && strings.TrimSpace(s) == ""
}
