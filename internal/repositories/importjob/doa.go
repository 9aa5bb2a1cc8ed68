package importjob

import (
	"database/sql"
	"time"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
)

func FromImportJob(job models.ImportJob) *ImportJobRow {
	return &ImportJobRow{
		ID:              sql.NullString{String: job.ID, Valid: job.ID != ""},
		TenantID:        sql.NullString{String: job.TenantID, Valid: job.TenantID != ""},
		FileID:          sql.NullString{String: job.FileID, Valid: job.FileID != ""},
		TargetTable:     sql.NullString{String: job.TargetTable, Valid: job.TargetTable != ""},
		ImportRecordID:  nullString(job.ImportRecordID),
		Request:         database.JSONB[*models.StartImportRequest]{Data: job.Request},
		Status:          sql.NullString{String: string(job.Status), Valid: job.Status != ""},
		Stage:           sql.NullString{String: job.Stage, Valid: job.Stage != ""},
		Progress:        sql.NullFloat64{Float64: job.Progress, Valid: true},
		TotalChunks:     sql.NullInt64{Int64: int64(job.TotalChunks), Valid: true},
		ChunksCompleted: sql.NullInt64{Int64: int64(job.ChunksCompleted), Valid: true},
		Attempt:         sql.NullInt64{Int64: int64(job.Attempt), Valid: job.Attempt != 0},
		RetryOfJobID:    nullString(job.RetryOfJobID),
		TriggerSource:   sql.NullString{String: string(job.TriggerSource), Valid: job.TriggerSource != ""},
		ErrorMessage:    nullString(job.ErrorMessage),
		ArchiveState:    database.JSONB[*models.ArchiveState]{Data: job.ArchiveState},
		Version:         sql.NullInt64{Int64: int64(job.Version), Valid: job.Version != 0},
		StartedAt:       nullTime(job.StartedAt),
		CompletedAt:     nullTime(job.CompletedAt),
		CreatedTS:       sql.NullTime{Time: job.CreatedAt, Valid: job.CreatedAt != time.Time{}},
		UpdatedTS:       sql.NullTime{Time: job.UpdatedAt, Valid: job.UpdatedAt != time.Time{}},
	}
}

type ImportJobRow struct {
	ID              sql.NullString                             `db:"id"`
	TenantID        sql.NullString                             `db:"tenant_id"`
	FileID          sql.NullString                             `db:"file_id"`
	TargetTable     sql.NullString                             `db:"target_table"`
	ImportRecordID  sql.NullString                             `db:"import_record_id"`
	Request         database.JSONB[*models.StartImportRequest] `db:"request"`
	Status          sql.NullString                             `db:"status"`
	Stage           sql.NullString                             `db:"stage"`
	Progress        sql.NullFloat64                            `db:"progress"`
	TotalChunks     sql.NullInt64                              `db:"total_chunks"`
	ChunksCompleted sql.NullInt64                              `db:"chunks_completed"`
	Attempt         sql.NullInt64                              `db:"attempt"`
	RetryOfJobID    sql.NullString                             `db:"retry_of_job_id"`
	TriggerSource   sql.NullString                             `db:"trigger_source"`
	ErrorMessage    sql.NullString                             `db:"error_message"`
	ArchiveState    database.JSONB[*models.ArchiveState]       `db:"archive_state"`
	Version         sql.NullInt64                              `db:"version"`
	StartedAt       sql.NullTime                               `db:"started_at"`
	CompletedAt     sql.NullTime                               `db:"completed_at"`
	CreatedTS       sql.NullTime                               `db:"created_at"`
	UpdatedTS       sql.NullTime                               `db:"updated_at"`
}

const (
	importJobTable = "import_jobs"
)

var importJobStruct = database.NewStruct(new(ImportJobRow))

func ToImportJob(row *ImportJobRow) models.ImportJob {
	return models.ImportJob{
		ID:              row.ID.String,
		TenantID:        row.TenantID.String,
		FileID:          row.FileID.String,
		TargetTable:     row.TargetTable.String,
		ImportRecordID:  ptrString(row.ImportRecordID),
		Request:         row.Request.Data,
		Status:          models.JobStatus(row.Status.String),
		Stage:           row.Stage.String,
		Progress:        row.Progress.Float64,
		TotalChunks:     int(row.TotalChunks.Int64),
		ChunksCompleted: int(row.ChunksCompleted.Int64),
		Attempt:         int(row.Attempt.Int64),
		RetryOfJobID:    ptrString(row.RetryOfJobID),
		TriggerSource:   models.TriggerSource(row.TriggerSource.String),
		ErrorMessage:    ptrString(row.ErrorMessage),
		ArchiveState:    row.ArchiveState.Data,
		Version:         int(row.Version.Int64),
		StartedAt:       ptrTime(row.StartedAt),
		CompletedAt:     ptrTime(row.CompletedAt),
		CreatedAt:       row.CreatedTS.Time,
		UpdatedAt:       row.UpdatedTS.Time,
	}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func ptrString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func ptrTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}
