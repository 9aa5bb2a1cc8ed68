package importrecord

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
)

const importColumns = `id, tenant_id, file_id, target_table, entry_name, column_mappings, rows_processed, rows_inserted, duplicate_count, validation_failure_count, rows_updated, finalized_at, created_at, updated_at`

// Repository handles database operations for the import ledger
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new import record repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create opens a ledger entry for an import run. Called before the first
// chunk is written so a crash mid-run still leaves an inspectable record.
func (r *Repository) Create(ctx context.Context, tenantID, fileID, targetTable string, entryName *string, mappings []models.ColumnMapping) (*models.ImportRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "importrecord.Repository.Create")
	defer span.End()

	now := time.Now().UTC()
	record := &models.ImportRecord{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		FileID:      fileID,
		TargetTable: targetTable,
		EntryName:   entryName,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	mappingsJSON, err := json.Marshal(mappings)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "invalid column mappings")
	}
	record.ColumnMappings = mappingsJSON

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("import_records")
	sb.Cols("id", "tenant_id", "file_id", "target_table", "entry_name", "column_mappings", "created_at", "updated_at")
	sb.Values(record.ID, record.TenantID, record.FileID, record.TargetTable, record.EntryName, record.ColumnMappings, record.CreatedAt, record.UpdatedAt)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"tenant_id": tenantID,
			"file_id":   fileID,
		}).Error("Failed to create import record")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create import record")
	}

	return record, nil
}

// Get fetches an import record by id
func (r *Repository) Get(ctx context.Context, tenantID, id string) (*models.ImportRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "importrecord.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(importColumns)
	sb.From("import_records")
	sb.Where(sb.Equal("id", id), sb.Equal("tenant_id", tenantID))

	query, args := sb.Build()
	var record models.ImportRecord
	if err := r.db.GetContext(ctx, &record, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, "import record not found")
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"tenant_id": tenantID,
			"id":        id,
		}).Error("Failed to get import record")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get import record")
	}

	return &record, nil
}

// List returns import records for a tenant, optionally filtered by file or
// target table, newest first
func (r *Repository) List(ctx context.Context, tenantID string, fileID, targetTable *string, page, pageSize int) (*models.ImportRecordListResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "importrecord.Repository.List")
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	countSb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	countSb.Select("COUNT(*)")
	countSb.From("import_records")
	countSb.Where(countSb.Equal("tenant_id", tenantID))
	if fileID != nil {
		countSb.Where(countSb.Equal("file_id", *fileID))
	}
	if targetTable != nil {
		countSb.Where(countSb.Equal("target_table", *targetTable))
	}

	countQuery, countArgs := countSb.Build()
	var totalCount int
	if err := r.db.GetContext(ctx, &totalCount, countQuery, countArgs...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID}).Error("Failed to count import records")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list import records")
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(importColumns)
	sb.From("import_records")
	sb.Where(sb.Equal("tenant_id", tenantID))
	if fileID != nil {
		sb.Where(sb.Equal("file_id", *fileID))
	}
	if targetTable != nil {
		sb.Where(sb.Equal("target_table", *targetTable))
	}
	sb.OrderBy("created_at").Desc()
	sb.Limit(pageSize).Offset((page - 1) * pageSize)

	query, args := sb.Build()
	records := []models.ImportRecord{}
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID}).Error("Failed to list import records")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list import records")
	}

	return &models.ImportRecordListResponse{
		Items:      records,
		TotalCount: totalCount,
		Page:       page,
		PageSize:   pageSize,
	}, nil
}

// UpdateProgress stores the running counters after each committed chunk
func (r *Repository) UpdateProgress(ctx context.Context, tenantID, id string, counts models.ImportCounts) error {
	ctx, span := tracing.StartSpan(ctx, "importrecord.Repository.UpdateProgress")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("import_records")
	sb.Set(
		sb.Assign("rows_processed", counts.RowsProcessed),
		sb.Assign("rows_inserted", counts.RowsInserted),
		sb.Assign("duplicate_count", counts.DuplicateCount),
		sb.Assign("validation_failure_count", counts.ValidationFailureCount),
		sb.Assign("updated_at", time.Now().UTC()),
	)
	sb.Where(sb.Equal("id", id), sb.Equal("tenant_id", tenantID))

	query, args := sb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"tenant_id": tenantID,
			"id":        id,
		}).Error("Failed to update import progress")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update import record")
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update import record")
	}
	if rowsAffected == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, "import record not found")
	}

	return nil
}

// Finalize seals the ledger entry with the final counters. Re-finalizing
// with the same counts is a no-op so interrupted runs can be replayed;
// different counts on a sealed record are a conflict.
func (r *Repository) Finalize(ctx context.Context, tenantID, id string, counts models.ImportCounts) (*models.ImportRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "importrecord.Repository.Finalize")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("import_records")
	sb.Set(
		sb.Assign("rows_processed", counts.RowsProcessed),
		sb.Assign("rows_inserted", counts.RowsInserted),
		sb.Assign("duplicate_count", counts.DuplicateCount),
		sb.Assign("validation_failure_count", counts.ValidationFailureCount),
		sb.Assign("finalized_at", time.Now().UTC()),
		sb.Assign("updated_at", time.Now().UTC()),
	)
	sb.Where(sb.Equal("id", id), sb.Equal("tenant_id", tenantID), sb.IsNull("finalized_at"))

	query, args := sb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"tenant_id": tenantID,
			"id":        id,
		}).Error("Failed to finalize import record")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to finalize import record")
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to finalize import record")
	}

	record, err := r.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if rowsAffected == 0 && record.Counts() != counts {
		return nil, httperror.NewHTTPError(http.StatusConflict, "import record was already finalized with different counts")
	}
	return record, nil
}

// IncrementRowsUpdated bumps the updated-rows counter when a merge
// resolution rewrites an existing row
func (r *Repository) IncrementRowsUpdated(ctx context.Context, tenantID, id string) error {
	ctx, span := tracing.StartSpan(ctx, "importrecord.Repository.IncrementRowsUpdated")
	defer span.End()

	query := `UPDATE import_records SET rows_updated = rows_updated + 1, updated_at = $1 WHERE id = $2 AND tenant_id = $3`
	result, err := r.db.ExecContext(ctx, query, time.Now().UTC(), id, tenantID)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"tenant_id": tenantID,
			"id":        id,
		}).Error("Failed to increment rows updated")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update import record")
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update import record")
	}
	if rowsAffected == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, "import record not found")
	}

	return nil
}
