package uploadedfile

import (
	"context"
	"fmt"
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

const fileColumns = "id, tenant_id, name, format, size_bytes, content_hash, storage_key, status, target_table, created_at, updated_at, deleted_at"

// Repository handles uploaded file persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new uploaded file repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create registers a new uploaded file
func (r *Repository) Create(ctx context.Context, file *models.UploadedFile) (*models.UploadedFile, error) {
	ctx, span := tracing.StartSpan(ctx, "uploadedfile.Repository.Create")
	defer span.End()

	if file.ID == "" {
		file.ID = uuid.New().String()
	}
	file.CreatedAt = time.Now().UTC()
	file.UpdatedAt = file.CreatedAt
	if file.Status == "" {
		file.Status = models.FileStatusUploaded
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("files")
	sb.Cols("id", "tenant_id", "name", "format", "size_bytes", "content_hash", "storage_key", "status", "target_table", "created_at", "updated_at")
	sb.Values(file.ID, file.TenantID, file.Name, file.Format, file.SizeBytes, file.ContentHash, file.StorageKey, file.Status, file.TargetTable, file.CreatedAt, file.UpdatedAt)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": file.TenantID, "name": file.Name}).Error("Failed to create uploaded file")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create file")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": file.ID, "name": file.Name}).Info("Created uploaded file")
	return file, nil
}

// Get retrieves an uploaded file by ID
func (r *Repository) Get(ctx context.Context, tenantID, id string) (*models.UploadedFile, error) {
	ctx, span := tracing.StartSpan(ctx, "uploadedfile.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(fileColumns)
	sb.From("files")
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	var file models.UploadedFile
	if err := r.db.GetContext(ctx, &file, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "file %s not found", id)
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id, "tenant_id": tenantID}).Error("Failed to get uploaded file")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get file")
	}

	return &file, nil
}

// List retrieves uploaded files with filtering and pagination
func (r *Repository) List(ctx context.Context, tenantID string, status *models.FileStatus, page, pageSize int) (*models.FileListResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "uploadedfile.Repository.List")
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	countSb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	countSb.Select("COUNT(*)")
	countSb.From("files")
	countWhere := []string{
		countSb.Equal("tenant_id", tenantID),
		countSb.IsNull("deleted_at"),
	}
	if status != nil {
		countWhere = append(countWhere, countSb.Equal("status", *status))
	}
	countSb.Where(countWhere...)

	countQuery, countArgs := countSb.Build()
	var totalCount int
	if err := r.db.GetContext(ctx, &totalCount, countQuery, countArgs...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID}).Error("Failed to count uploaded files")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count files")
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(fileColumns)
	sb.From("files")
	where := []string{
		sb.Equal("tenant_id", tenantID),
		sb.IsNull("deleted_at"),
	}
	if status != nil {
		where = append(where, sb.Equal("status", *status))
	}
	sb.Where(where...)
	sb.OrderBy("created_at DESC")
	sb.Limit(pageSize).Offset(offset)

	query, args := sb.Build()
	var files []models.UploadedFile
	if err := r.db.SelectContext(ctx, &files, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID, "page": page, "page_size": pageSize}).Error("Failed to list uploaded files")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list files")
	}

	return &models.FileListResponse{
		Items:      files,
		TotalCount: totalCount,
		Page:       page,
		PageSize:   pageSize,
	}, nil
}

// UpdateStatus moves a file to a new lifecycle status
func (r *Repository) UpdateStatus(ctx context.Context, tenantID, id string, status models.FileStatus) error {
	ctx, span := tracing.StartSpan(ctx, "uploadedfile.Repository.UpdateStatus")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("files")
	sb.Set(
		sb.Assign("status", status),
		sb.Assign("updated_at", time.Now().UTC()),
	)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id, "tenant_id": tenantID, "status": status}).Error("Failed to update file status")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update file status")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("file %s not found", id))
	}
	return nil
}

// SetMapped marks a file as mapped into a target table
func (r *Repository) SetMapped(ctx context.Context, tenantID, id, targetTable string) error {
	ctx, span := tracing.StartSpan(ctx, "uploadedfile.Repository.SetMapped")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("files")
	sb.Set(
		sb.Assign("status", models.FileStatusMapped),
		sb.Assign("target_table", targetTable),
		sb.Assign("updated_at", time.Now().UTC()),
	)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id, "tenant_id": tenantID, "target_table": targetTable}).Error("Failed to mark file mapped")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update file")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("file %s not found", id))
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": id, "target_table": targetTable}).Info("Marked file mapped")
	return nil
}

// SoftDelete marks a file as deleted. Files referenced by an import record
// are protected by the caller, not here.
func (r *Repository) SoftDelete(ctx context.Context, tenantID, id string) error {
	ctx, span := tracing.StartSpan(ctx, "uploadedfile.Repository.SoftDelete")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("files")
	sb.Set(sb.Assign("deleted_at", time.Now().UTC()))
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id, "tenant_id": tenantID}).Error("Failed to soft delete file")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete file")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("file %s not found", id))
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": id}).Info("Soft deleted file")
	return nil
}
