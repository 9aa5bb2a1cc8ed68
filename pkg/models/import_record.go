package models

import (
	"encoding/json"
	"time"
)

// ColumnMapping maps one source column onto a target table column.
// Transform is an optional JMESPath expression applied to the source value
// before coercion.
type ColumnMapping struct {
	SourceColumn string `json:"source_column" validate:"required"`
	TargetColumn string `json:"target_column" validate:"required"`
	Transform    string `json:"transform,omitempty"`
}

// ImportRecord is the durable ledger entry for one import attempt (file → table).
// Immutable once finalized except for RowsUpdated, which resolvers increment.
type ImportRecord struct {
	ID                     string          `json:"id" db:"id"`
	TenantID               string          `json:"tenant_id" db:"tenant_id"`
	FileID                 string          `json:"file_id" db:"file_id"`
	TargetTable            string          `json:"target_table" db:"target_table"`
	EntryName              *string         `json:"entry_name,omitempty" db:"entry_name"` // archive entry, if any
	ColumnMappings         json.RawMessage `json:"column_mappings" db:"column_mappings"` // []ColumnMapping
	RowsProcessed          int             `json:"rows_processed" db:"rows_processed"`
	RowsInserted           int             `json:"rows_inserted" db:"rows_inserted"`
	DuplicateCount         int             `json:"duplicate_count" db:"duplicate_count"`
	ValidationFailureCount int             `json:"validation_failure_count" db:"validation_failure_count"`
	RowsUpdated            int             `json:"rows_updated" db:"rows_updated"`
	FinalizedAt            *time.Time      `json:"finalized_at,omitempty" db:"finalized_at"`
	CreatedAt              time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at" db:"updated_at"`
}

// Counts returns the record's tallies in request form
func (r *ImportRecord) Counts() ImportCounts {
	return ImportCounts{
		RowsProcessed:          r.RowsProcessed,
		RowsInserted:           r.RowsInserted,
		DuplicateCount:         r.DuplicateCount,
		ValidationFailureCount: r.ValidationFailureCount,
	}
}

// Mappings decodes the ColumnMappings payload
func (r *ImportRecord) Mappings() ([]ColumnMapping, error) {
	var mappings []ColumnMapping
	if len(r.ColumnMappings) == 0 {
		return mappings, nil
	}
	if err := json.Unmarshal(r.ColumnMappings, &mappings); err != nil {
		return nil, err
	}
	return mappings, nil
}

// ImportCounts carries the final tallies for an import attempt
type ImportCounts struct {
	RowsProcessed          int `json:"rows_processed"`
	RowsInserted           int `json:"rows_inserted"`
	DuplicateCount         int `json:"duplicate_count"`
	ValidationFailureCount int `json:"validation_failure_count"`
}

// StartImportRequest is the request body for starting an import
type StartImportRequest struct {
	FileID             string          `json:"file_id" validate:"required"`
	TargetTable        string          `json:"target_table" validate:"required"`
	Mappings           []ColumnMapping `json:"mappings,omitempty" validate:"omitempty,dive"`
	UniquenessSets     [][]string      `json:"uniqueness_sets,omitempty"`
	AllowDuplicateFile bool            `json:"allow_duplicate_file"`
	CreateTable        bool            `json:"create_table"` // create the target from the detected schema if missing
	Async              *bool           `json:"async,omitempty"`
}

// ImportRecordListResponse is the response for listing import records
type ImportRecordListResponse struct {
	Items      []ImportRecord `json:"items"`
	TotalCount int            `json:"total_count"`
	Page       int            `json:"page"`
	PageSize   int            `json:"page_size"`
}
