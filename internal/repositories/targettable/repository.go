package targettable

import (
	"context"
	"encoding/json"
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
	"github.com/lib/pq"
)

const tableColumns = "id, tenant_id, key, name, description, columns, uniqueness_sets, version, created_at, updated_at, deleted_at"

// Repository handles target table definition persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new target table repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new target table definition
func (r *Repository) Create(ctx context.Context, tenantID string, req models.CreateTargetTableRequest) (*models.TargetTable, error) {
	ctx, span := tracing.StartSpan(ctx, "targettable.Repository.Create")
	defer span.End()

	columnsJSON, err := json.Marshal(req.Columns)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "invalid column definitions")
	}
	uniquenessJSON, err := json.Marshal(req.UniquenessSets)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "invalid uniqueness sets")
	}

	now := time.Now().UTC()
	table := &models.TargetTable{
		ID:             uuid.New().String(),
		TenantID:       tenantID,
		Key:            req.Key,
		Name:           req.Name,
		Description:    req.Description,
		Columns:        columnsJSON,
		UniquenessSets: uniquenessJSON,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("target_tables")
	sb.Cols("id", "tenant_id", "\"key\"", "name", "description", "columns", "uniqueness_sets", "version", "created_at", "updated_at")
	sb.Values(table.ID, table.TenantID, table.Key, table.Name, table.Description, table.Columns, table.UniquenessSets, table.Version, table.CreatedAt, table.UpdatedAt)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return nil, httperror.NewHTTPErrorf(http.StatusConflict, "target table %s already exists", req.Key)
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID, "key": req.Key}).Error("Failed to create target table")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create target table")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": table.ID, "key": table.Key}).Info("Created target table")
	return table, nil
}

// Get retrieves a target table by ID
func (r *Repository) Get(ctx context.Context, tenantID, id string) (*models.TargetTable, error) {
	ctx, span := tracing.StartSpan(ctx, "targettable.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(tableColumns)
	sb.From("target_tables")
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	var table models.TargetTable
	if err := r.db.GetContext(ctx, &table, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "target table %s not found", id)
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id, "tenant_id": tenantID}).Error("Failed to get target table")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get target table")
	}
	return &table, nil
}

// GetByKey retrieves a target table by key; nil when none exists
func (r *Repository) GetByKey(ctx context.Context, tenantID, key string) (*models.TargetTable, error) {
	ctx, span := tracing.StartSpan(ctx, "targettable.Repository.GetByKey")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(tableColumns)
	sb.From("target_tables")
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("\"key\"", key),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	var table models.TargetTable
	if err := r.db.GetContext(ctx, &table, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID, "key": key}).Error("Failed to get target table by key")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get target table")
	}
	return &table, nil
}

// List retrieves target tables with pagination
func (r *Repository) List(ctx context.Context, tenantID string, page, pageSize int) (*models.TargetTableListResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "targettable.Repository.List")
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
	countSb.From("target_tables")
	countSb.Where(
		countSb.Equal("tenant_id", tenantID),
		countSb.IsNull("deleted_at"),
	)

	countQuery, countArgs := countSb.Build()
	var totalCount int
	if err := r.db.GetContext(ctx, &totalCount, countQuery, countArgs...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID}).Error("Failed to count target tables")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count target tables")
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(tableColumns)
	sb.From("target_tables")
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.IsNull("deleted_at"),
	)
	sb.OrderBy("created_at DESC")
	sb.Limit(pageSize).Offset(offset)

	query, args := sb.Build()
	var tables []models.TargetTable
	if err := r.db.SelectContext(ctx, &tables, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID, "page": page, "page_size": pageSize}).Error("Failed to list target tables")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list target tables")
	}

	return &models.TargetTableListResponse{
		Items:      tables,
		TotalCount: totalCount,
		Page:       page,
		PageSize:   pageSize,
	}, nil
}

// Update applies definition changes and bumps the version
func (r *Repository) Update(ctx context.Context, tenantID, id string, req models.UpdateTargetTableRequest) (*models.TargetTable, error) {
	ctx, span := tracing.StartSpan(ctx, "targettable.Repository.Update")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("target_tables")

	assignments := []string{
		sb.Assign("updated_at", time.Now().UTC()),
		"version = version + 1",
	}
	if req.Name != nil {
		assignments = append(assignments, sb.Assign("name", *req.Name))
	}
	if req.Description != nil {
		assignments = append(assignments, sb.Assign("description", *req.Description))
	}
	if req.Columns != nil {
		columnsJSON, err := json.Marshal(*req.Columns)
		if err != nil {
			return nil, httperror.NewHTTPError(http.StatusBadRequest, "invalid column definitions")
		}
		assignments = append(assignments, sb.Assign("columns", columnsJSON))
	}
	if req.UniquenessSets != nil {
		uniquenessJSON, err := json.Marshal(*req.UniquenessSets)
		if err != nil {
			return nil, httperror.NewHTTPError(http.StatusBadRequest, "invalid uniqueness sets")
		}
		assignments = append(assignments, sb.Assign("uniqueness_sets", uniquenessJSON))
	}

	sb.Set(assignments...)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id, "tenant_id": tenantID}).Error("Failed to update target table")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update target table")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("target table %s not found", id))
	}

	return r.Get(ctx, tenantID, id)
}

// SoftDelete marks a target table definition as deleted. The physical table
// is left in place so already-imported rows stay queryable.
func (r *Repository) SoftDelete(ctx context.Context, tenantID, id string) error {
	ctx, span := tracing.StartSpan(ctx, "targettable.Repository.SoftDelete")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("target_tables")
	sb.Set(sb.Assign("deleted_at", time.Now().UTC()))
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id, "tenant_id": tenantID}).Error("Failed to soft delete target table")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete target table")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("target table %s not found", id))
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": id}).Info("Soft deleted target table")
	return nil
}
