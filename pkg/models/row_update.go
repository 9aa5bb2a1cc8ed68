package models

import (
	"encoding/json"
	"time"

	"github.com/lib/pq"
)

// RowUpdate records a resolver's merge into an existing target table row.
// PreviousValues is the sole source of truth for rollback; a RowUpdate may
// be rolled back at most once.
type RowUpdate struct {
	ID             string          `json:"id" db:"id"`
	TenantID       string          `json:"tenant_id" db:"tenant_id"`
	ImportRecordID string          `json:"import_record_id" db:"import_record_id"`
	TargetTable    string          `json:"target_table" db:"target_table"`
	RowID          string          `json:"row_id" db:"row_id"`
	UpdatedColumns pq.StringArray  `json:"updated_columns" db:"updated_columns"`
	PreviousValues json.RawMessage `json:"previous_values" db:"previous_values"`
	NewValues      json.RawMessage `json:"new_values" db:"new_values"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
	RolledBackAt   *time.Time      `json:"rolled_back_at,omitempty" db:"rolled_back_at"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// IsRolledBack reports whether the update has already been undone
func (u *RowUpdate) IsRolledBack() bool {
	return u.RolledBackAt != nil
}

// PreviousValueMap decodes the PreviousValues snapshot
func (u *RowUpdate) PreviousValueMap() (map[string]any, error) {
	return decodeValueMap(u.PreviousValues)
}

// NewValueMap decodes the NewValues snapshot
func (u *RowUpdate) NewValueMap() (map[string]any, error) {
	return decodeValueMap(u.NewValues)
}

func decodeValueMap(raw json.RawMessage) (map[string]any, error) {
	values := make(map[string]any)
	if len(raw) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, err
	}
	return values, nil
}

// RollbackRowUpdateRequest is the request body for rolling back a row update.
// Force overrides the conflict check when the row changed since the update.
type RollbackRowUpdateRequest struct {
	Force bool `json:"force"`
}

// RowUpdateListResponse is the response for listing row updates
type RowUpdateListResponse struct {
	Items      []RowUpdate `json:"items"`
	TotalCount int         `json:"total_count"`
	Page       int         `json:"page"`
	PageSize   int         `json:"page_size"`
}
