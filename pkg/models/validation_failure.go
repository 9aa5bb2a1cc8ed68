package models

import (
	"encoding/json"
	"time"
)

// ValidationAction defines how a validation failure is reconciled
type ValidationAction string

const (
	// ValidationActionInsertedCorrected inserts the record with caller-supplied corrections
	ValidationActionInsertedCorrected ValidationAction = "inserted_corrected"
	// ValidationActionInsertedAsIs inserts the original payload, bypassing validation
	ValidationActionInsertedAsIs ValidationAction = "inserted_as_is"
	// ValidationActionDiscarded keeps the record as an audit trail only
	ValidationActionDiscarded ValidationAction = "discarded"
)

// ColumnError is a single (column, error) pair from validation
type ColumnError struct {
	Column  string `json:"column"`
	Message string `json:"message"`
}

// ValidationFailure captures a row that failed type validation during loading.
// The row is never silently dropped; it stays here until resolved.
type ValidationFailure struct {
	ID             string            `json:"id" db:"id"`
	TenantID       string            `json:"tenant_id" db:"tenant_id"`
	ImportRecordID string            `json:"import_record_id" db:"import_record_id"`
	TargetTable    string            `json:"target_table" db:"target_table"`
	Payload        json.RawMessage   `json:"payload" db:"payload"` // the offending record
	Errors         json.RawMessage   `json:"errors" db:"errors"`   // []ColumnError
	RowNumber      int               `json:"row_number" db:"row_number"`
	ResolvedAt     *time.Time        `json:"resolved_at,omitempty" db:"resolved_at"`
	Resolution     *ValidationAction `json:"resolution,omitempty" db:"resolution"`
	CreatedAt      time.Time         `json:"created_at" db:"created_at"`
}

// ColumnErrors decodes the Errors payload
func (v *ValidationFailure) ColumnErrors() ([]ColumnError, error) {
	var errs []ColumnError
	if len(v.Errors) == 0 {
		return errs, nil
	}
	if err := json.Unmarshal(v.Errors, &errs); err != nil {
		return nil, err
	}
	return errs, nil
}

// IsResolved reports whether the failure has reached its terminal state
func (v *ValidationFailure) IsResolved() bool {
	return v.ResolvedAt != nil
}

// ResolveValidationFailureRequest is the request body for resolving a validation failure
type ResolveValidationFailureRequest struct {
	Action ValidationAction `json:"action" validate:"required,oneof=inserted_corrected inserted_as_is discarded"`
	// CorrectedValues supplies replacement field values for inserted_corrected
	CorrectedValues map[string]any `json:"corrected_values,omitempty"`
}

// ValidationFailureListResponse is the response for listing validation failures
type ValidationFailureListResponse struct {
	Items      []ValidationFailure `json:"items"`
	TotalCount int                 `json:"total_count"`
	Page       int                 `json:"page"`
	PageSize   int                 `json:"page_size"`
}
