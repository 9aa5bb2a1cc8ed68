package models

import (
	"encoding/json"
	"time"

	"github.com/lib/pq"
)

// DuplicateStrategy defines how a duplicate row is reconciled against the target table
type DuplicateStrategy string

const (
	// DuplicateStrategyKeepExisting discards the incoming record
	DuplicateStrategyKeepExisting DuplicateStrategy = "keep_existing"
	// DuplicateStrategyMerge writes the supplied columns onto the existing row
	DuplicateStrategyMerge DuplicateStrategy = "merge"
	// DuplicateStrategyCreateNew inserts the incoming record as a new row, bypassing uniqueness
	DuplicateStrategyCreateNew DuplicateStrategy = "create_new"
)

// DuplicateRecord captures a row that failed a uniqueness check during loading.
// Resolution is a one-way transition: once ResolvedAt is set the record is terminal.
type DuplicateRecord struct {
	ID                string             `json:"id" db:"id"`
	TenantID          string             `json:"tenant_id" db:"tenant_id"`
	ImportRecordID    string             `json:"import_record_id" db:"import_record_id"`
	TargetTable       string             `json:"target_table" db:"target_table"`
	Payload           json.RawMessage    `json:"payload" db:"payload"` // the incoming record
	ExistingRowID     string             `json:"existing_row_id" db:"existing_row_id"`
	UniquenessColumns pq.StringArray     `json:"uniqueness_columns" db:"uniqueness_columns"`
	DetectedAt        time.Time          `json:"detected_at" db:"detected_at"`
	ResolvedAt        *time.Time         `json:"resolved_at,omitempty" db:"resolved_at"`
	Resolution        *DuplicateStrategy `json:"resolution,omitempty" db:"resolution"`
	RowUpdateID       *string            `json:"row_update_id,omitempty" db:"row_update_id"` // set when a merge produced one
	CreatedAt         time.Time          `json:"created_at" db:"created_at"`
}

// IsResolved reports whether the record has reached its terminal state
func (d *DuplicateRecord) IsResolved() bool {
	return d.ResolvedAt != nil
}

// ResolveDuplicateRequest is the request body for resolving a single duplicate
type ResolveDuplicateRequest struct {
	Strategy DuplicateStrategy `json:"strategy" validate:"required,oneof=keep_existing merge create_new"`
	// MergeValues supplies the column→value map for the merge strategy.
	// Only the supplied columns are written to the existing row.
	MergeValues map[string]any `json:"merge_values,omitempty"`
}

// BulkResolveDuplicatesRequest applies one strategy to many duplicates
type BulkResolveDuplicatesRequest struct {
	IDs      []string          `json:"ids" validate:"required,min=1"`
	Strategy DuplicateStrategy `json:"strategy" validate:"required,oneof=keep_existing merge create_new"`
	// MergeValues applies to every record when the strategy is merge
	MergeValues map[string]any `json:"merge_values,omitempty"`
}

// BulkResolveResponse reports how far a bulk resolution got.
// Resolution stops at the first hard failure; Resolved counts the records
// completed before the stop.
type BulkResolveResponse struct {
	Requested int     `json:"requested"`
	Resolved  int     `json:"resolved"`
	FailedID  *string `json:"failed_id,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// DuplicateRecordListResponse is the response for listing duplicate records
type DuplicateRecordListResponse struct {
	Items      []DuplicateRecord `json:"items"`
	TotalCount int               `json:"total_count"`
	Page       int               `json:"page"`
	PageSize   int               `json:"page_size"`
}
