package models

import "time"

// FileStatus represents the lifecycle state of an uploaded file
type FileStatus string

const (
	FileStatusUploaded FileStatus = "uploaded"
	FileStatusMapping  FileStatus = "mapping"
	FileStatusMapped   FileStatus = "mapped"
	FileStatusFailed   FileStatus = "failed"
)

// UploadedFile represents a file registered with the pipeline.
// The active job for a file is a lookup (most recent job by file id),
// not a stored back-pointer.
type UploadedFile struct {
	ID          string     `json:"id" db:"id"`
	TenantID    string     `json:"tenant_id" db:"tenant_id"`
	Name        string     `json:"name" db:"name"`
	Format      string     `json:"format" db:"format"` // csv, xlsx, json, xml, zip
	SizeBytes   int64      `json:"size_bytes" db:"size_bytes"`
	ContentHash string     `json:"content_hash" db:"content_hash"`
	StorageKey  string     `json:"storage_key" db:"storage_key"`
	Status      FileStatus `json:"status" db:"status"`
	TargetTable *string    `json:"target_table,omitempty" db:"target_table"` // set once mapped
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

// FileFingerprint maps a content hash to the file that first carried it.
// One row per registered (tenant, hash) pair unless duplicates were explicitly allowed.
type FileFingerprint struct {
	ID          string    `json:"id" db:"id"`
	TenantID    string    `json:"tenant_id" db:"tenant_id"`
	ContentHash string    `json:"content_hash" db:"content_hash"`
	FileID      string    `json:"file_id" db:"file_id"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// RegisterFileRequest is the request body for registering an uploaded file
type RegisterFileRequest struct {
	Name           string `json:"name" validate:"required"`
	StorageKey     string `json:"storage_key" validate:"required"`
	AllowDuplicate bool   `json:"allow_duplicate"`
}

// FileListResponse is the response for listing uploaded files
type FileListResponse struct {
	Items      []UploadedFile `json:"items"`
	TotalCount int            `json:"total_count"`
	Page       int            `json:"page"`
	PageSize   int            `json:"page_size"`
}
