package duplicaterecord

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

const duplicateColumns = `id, tenant_id, import_record_id, target_table, payload, existing_row_id, uniqueness_columns, detected_at, resolved_at, resolution, row_update_id`

// createBatchSize caps the records per INSERT when writing a chunk's
// duplicates in bulk
const createBatchSize = 500

// Repository handles database operations for duplicate records
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new duplicate record repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// CreateBatch records the duplicates detected in one chunk. IDs and
// detection timestamps are filled in on the way through.
func (r *Repository) CreateBatch(ctx context.Context, tenantID string, records []*models.DuplicateRecord) error {
	ctx, span := tracing.StartSpan(ctx, "duplicaterecord.Repository.CreateBatch")
	defer span.End()

	if len(records) == 0 {
		return nil
	}

	now := time.Now().UTC()
	for _, record := range records {
		record.ID = uuid.New().String()
		record.TenantID = tenantID
		record.DetectedAt = now
	}

	for start := 0; start < len(records); start += createBatchSize {
		end := start + createBatchSize
		if end > len(records) {
			end = len(records)
		}

		sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
		sb.InsertInto("duplicate_records")
		sb.Cols("id", "tenant_id", "import_record_id", "target_table", "payload", "existing_row_id", "uniqueness_columns", "detected_at")
		for _, record := range records[start:end] {
			sb.Values(record.ID, record.TenantID, record.ImportRecordID, record.TargetTable, record.Payload, record.ExistingRowID, record.UniquenessColumns, record.DetectedAt)
		}

		query, args := sb.Build()
		if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"tenant_id": tenantID,
				"records":   end - start,
			}).Error("Failed to create duplicate records")
			return httperror.NewHTTPError(http.StatusInternalServerError, "failed to record duplicates")
		}
	}

	return nil
}

// Get fetches a duplicate record by id
func (r *Repository) Get(ctx context.Context, tenantID, id string) (*models.DuplicateRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "duplicaterecord.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(duplicateColumns)
	sb.From("duplicate_records")
	sb.Where(sb.Equal("id", id), sb.Equal("tenant_id", tenantID))

	query, args := sb.Build()
	var record models.DuplicateRecord
	if err := r.db.GetContext(ctx, &record, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, "duplicate record not found")
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"tenant_id": tenantID,
			"id":        id,
		}).Error("Failed to get duplicate record")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get duplicate record")
	}

	return &record, nil
}

// List returns duplicate records for a tenant. Pass resolved to filter by
// resolution state, importRecordID to scope to a single import run.
func (r *Repository) List(ctx context.Context, tenantID string, importRecordID *string, resolved *bool, page, pageSize int) (*models.DuplicateRecordListResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "duplicaterecord.Repository.List")
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	countSb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	countSb.Select("COUNT(*)")
	countSb.From("duplicate_records")
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
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID}).Error("Failed to count duplicate records")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list duplicate records")
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(duplicateColumns)
	sb.From("duplicate_records")
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
	sb.OrderBy("detected_at").Desc()
	sb.Limit(pageSize).Offset((page - 1) * pageSize)

	query, args := sb.Build()
	records := []models.DuplicateRecord{}
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID}).Error("Failed to list duplicate records")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list duplicate records")
	}

	return &models.DuplicateRecordListResponse{
		Items:      records,
		TotalCount: totalCount,
		Page:       page,
		PageSize:   pageSize,
	}, nil
}

// Claim marks an unresolved duplicate as resolved with the given strategy.
// Exactly one caller wins when two resolutions race; the loser gets a 409.
func (r *Repository) Claim(ctx context.Context, tenantID, id string, resolution models.DuplicateStrategy, rowUpdateID *string) (*models.DuplicateRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "duplicaterecord.Repository.Claim")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("duplicate_records")
	sb.Set(
		sb.Assign("resolved_at", time.Now().UTC()),
		sb.Assign("resolution", string(resolution)),
		sb.Assign("row_update_id", rowUpdateID),
	)
	sb.Where(sb.Equal("id", id), sb.Equal("tenant_id", tenantID), sb.IsNull("resolved_at"))

	query, args := sb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"tenant_id": tenantID,
			"id":        id,
		}).Error("Failed to resolve duplicate record")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to resolve duplicate record")
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to resolve duplicate record")
	}
	if rowsAffected == 0 {
		existing, getErr := r.Get(ctx, tenantID, id)
		if getErr != nil {
			return nil, getErr
		}
		appliedResolution := ""
		if existing.Resolution != nil {
			appliedResolution = string(*existing.Resolution)
		}
		return nil, httperror.NewHTTPError(http.StatusConflict, "duplicate record already resolved").
			AddMetaValue("resolution", appliedResolution)
	}

	return r.Get(ctx, tenantID, id)
}
