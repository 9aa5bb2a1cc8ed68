package models

import (
	"encoding/json"
	"time"
)

// ColumnType is the logical type of a target table column
type ColumnType string

const (
	ColumnTypeText      ColumnType = "text"
	ColumnTypeInteger   ColumnType = "integer"
	ColumnTypeFloat     ColumnType = "float"
	ColumnTypeBoolean   ColumnType = "boolean"
	ColumnTypeTimestamp ColumnType = "timestamp"
)

// ColumnDef defines a single column of a target table
type ColumnDef struct {
	Name     string     `json:"name" validate:"required"`
	Type     ColumnType `json:"type" validate:"required,oneof=text integer float boolean timestamp"`
	Required bool       `json:"required,omitempty"`
}

// TargetTable defines the schema and dedupe configuration of an import target.
// Each definition is backed by a physical table the loader writes rows into.
// UniquenessSets lists the column groups whose combined values must be unique;
// an empty list disables row-level dedupe for the table.
type TargetTable struct {
	ID             string          `json:"id" db:"id"`
	TenantID       string          `json:"tenant_id" db:"tenant_id"`
	Key            string          `json:"key" db:"key" validate:"required"`
	Name           string          `json:"name" db:"name" validate:"required"`
	Description    string          `json:"description,omitempty" db:"description"`
	Columns        json.RawMessage `json:"columns" db:"columns"`                   // []ColumnDef
	UniquenessSets json.RawMessage `json:"uniqueness_sets" db:"uniqueness_sets"`   // [][]string
	Version        int             `json:"version" db:"version"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
	DeletedAt      *time.Time      `json:"deleted_at,omitempty" db:"deleted_at"`
}

// ColumnDefs decodes the Columns payload
func (t *TargetTable) ColumnDefs() ([]ColumnDef, error) {
	var defs []ColumnDef
	if len(t.Columns) == 0 {
		return defs, nil
	}
	if err := json.Unmarshal(t.Columns, &defs); err != nil {
		return nil, err
	}
	return defs, nil
}

// UniquenessColumnSets decodes the UniquenessSets payload
func (t *TargetTable) UniquenessColumnSets() ([][]string, error) {
	var sets [][]string
	if len(t.UniquenessSets) == 0 {
		return sets, nil
	}
	if err := json.Unmarshal(t.UniquenessSets, &sets); err != nil {
		return nil, err
	}
	return sets, nil
}

// CreateTargetTableRequest is the request body for creating a target table
type CreateTargetTableRequest struct {
	Key            string      `json:"key" validate:"required"`
	Name           string      `json:"name" validate:"required"`
	Description    string      `json:"description,omitempty"`
	Columns        []ColumnDef `json:"columns" validate:"required,min=1,dive"`
	UniquenessSets [][]string  `json:"uniqueness_sets,omitempty"`
}

// UpdateTargetTableRequest is the request body for updating a target table.
// Columns may only be extended; updating increments the version.
type UpdateTargetTableRequest struct {
	Name           *string      `json:"name,omitempty"`
	Description    *string      `json:"description,omitempty"`
	Columns        *[]ColumnDef `json:"columns,omitempty"`
	UniquenessSets *[][]string  `json:"uniqueness_sets,omitempty"`
}

// UpdateUniquenessRequest replaces a table's uniqueness column sets. An
// empty list clears them, making row dedupe a no-op for later imports.
type UpdateUniquenessRequest struct {
	UniquenessSets [][]string `json:"uniqueness_sets"`
}

// TargetTableListResponse is the response for listing target tables
type TargetTableListResponse struct {
	Items      []TargetTable `json:"items"`
	TotalCount int           `json:"total_count"`
	Page       int           `json:"page"`
	PageSize   int           `json:"page_size"`
}
