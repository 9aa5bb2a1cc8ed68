package validationfailure

import (
	"context"
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

const failureColumns = `id, tenant_id, import_record_id, target_table, payload, errors, row_number, created_at, resolved_at, resolution`

const createBatchSize = 500

// Repository handles database operations for validation failures
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new validation failure repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// CreateBatch records the rows a chunk rejected during validation
func (r *Repository) CreateBatch(ctx context.Context, tenantID string, failures []*models.ValidationFailure) error {
	ctx, span := tracing.StartSpan(ctx, "validationfailure.Repository.CreateBatch")
	defer span.End()

	if len(failures) == 0 {
		return nil
	}

	now := time.Now().UTC()
	for _, failure := range failures {
		failure.ID = uuid.New().String()
		failure.TenantID = tenantID
		failure.CreatedAt = now
	}

	for start := 0; start < len(failures); start += createBatchSize {
		end := start + createBatchSize
		if end > len(failures) {
			end = len(failures)
		}

		sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
		sb.InsertInto("validation_failures")
		sb.Cols("id", "tenant_id", "import_record_id", "target_table", "payload", "errors", "row_number", "created_at")
		for _, failure := range failures[start:end] {
			sb.Values(failure.ID, failure.TenantID, failure.ImportRecordID, failure.TargetTable, failure.Payload, failure.Errors, failure.RowNumber, failure.CreatedAt)
		}

		query, args := sb.Build()
		if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"tenant_id": tenantID,
				"failures":  end - start,
			}).Error("Failed to create validation failures")
			return httperror.NewHTTPError(http.StatusInternalServerError, "failed to record validation failures")
		}
	}

	return nil
}

// Get fetches a validation failure by id
func (r *Repository) Get(ctx context.Context, tenantID, id string) (*models.ValidationFailure, error) {
	ctx, span := tracing.StartSpan(ctx, "validationfailure.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(failureColumns)
	sb.From("validation_failures")
	sb.Where(sb.Equal("id", id), sb.Equal("tenant_id", tenantID))

	query, args := sb.Build()
	var failure models.ValidationFailure
	if err := r.db.GetContext(ctx, &failure, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, "validation failure not found")
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"tenant_id": tenantID,
			"id":        id,
		}).Error("Failed to get validation failure")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get validation failure")
	}

	return &failure, nil
}

// List returns validation failures for a tenant, optionally scoped to an
// import run or filtered by resolution state
func (r *Repository) List(ctx context.Context, tenantID string, importRecordID *string, resolved *bool, page, pageSize int) (*models.ValidationFailureListResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "validationfailure.Repository.List")
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	countSb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	countSb.Select("COUNT(*)")
	countSb.From("validation_failures")
	countSb.Where(countSb.Equal("tenant_id", tenantID))
	if importRecordID != nil {
		countSb.Where(countSb.Equal("import_record_id", *importRecordID))
	}
	if resolved != nil {
		if *resolved {
			countSb.Where(countSb.IsNotNull("resolved_at"))
		} else {
			countSb.Where(countSb.IsNull("resolved_at"))
		}
	}

	countQuery, countArgs := countSb.Build()
	var totalCount int
	if err := r.db.GetContext(ctx, &totalCount, countQuery, countArgs...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID}).Error("Failed to count validation failures")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list validation failures")
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(failureColumns)
	sb.From("validation_failures")
	sb.Where(sb.Equal("tenant_id", tenantID))
	if importRecordID != nil {
		sb.Where(sb.Equal("import_record_id", *importRecordID))
	}
	if resolved != nil {
		if *resolved {
			sb.Where(sb.IsNotNull("resolved_at"))
		} else {
			sb.Where(sb.IsNull("resolved_at"))
		}
	}
	sb.OrderBy("created_at").Desc()
	sb.Limit(pageSize).Offset((page - 1) * pageSize)

	query, args := sb.Build()
	failures := []models.ValidationFailure{}
	if err := r.db.SelectContext(ctx, &failures, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID}).Error("Failed to list validation failures")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list validation failures")
	}

	return &models.ValidationFailureListResponse{
		Items:      failures,
		TotalCount: totalCount,
		Page:       page,
		PageSize:   pageSize,
	}, nil
}

// Claim marks an unresolved failure as resolved with the given action.
// Returns a conflict when it was already resolved.
func (r *Repository) Claim(ctx context.Context, tenantID, id string, action models.ValidationAction) (*models.ValidationFailure, error) {
	ctx, span := tracing.StartSpan(ctx, "validationfailure.Repository.Claim")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("validation_failures")
	sb.Set(
		sb.Assign("resolved_at", time.Now().UTC()),
		sb.Assign("resolution", string(action)),
	)
	sb.Where(sb.Equal("id", id), sb.Equal("tenant_id", tenantID), sb.IsNull("resolved_at"))

	query, args := sb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"tenant_id": tenantID,
			"id":        id,
		}).Error("Failed to resolve validation failure")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to resolve validation failure")
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to resolve validation failure")
	}
	if rowsAffected == 0 {
		existing, getErr := r.Get(ctx, tenantID, id)
		if getErr != nil {
			return nil, getErr
		}
		appliedAction := ""
		if existing.Resolution != nil {
			appliedAction = string(*existing.Resolution)
		}
		return nil, httperror.NewHTTPError(http.StatusConflict, "validation failure already resolved").
			AddMetaValue("resolution", appliedAction)
	}

	return r.Get(ctx, tenantID, id)
}
