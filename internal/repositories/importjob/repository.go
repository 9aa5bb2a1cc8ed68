package importjob

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

// Repository handles database operations for import jobs
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new import job repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create persists a new job in queued state. The job's id, version and
// timestamps are assigned here.
func (r *Repository) Create(ctx context.Context, job *models.ImportJob) error {
	ctx, span := tracing.StartSpan(ctx, "importjob.Repository.Create")
	defer span.End()

	now := time.Now().UTC()
	job.ID = uuid.New().String()
	job.Status = models.JobStatusQueued
	job.Version = 1
	if job.Attempt < 1 {
		job.Attempt = 1
	}
	job.CreatedAt = now
	job.UpdatedAt = now

	row := FromImportJob(*job)
	ib := importJobStruct.InsertInto(importJobTable, row)
	query, args := ib.Build()

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to start transaction")
	}
	defer tx.Rollback(ctx)

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"id":             job.ID,
		"tenant_id":      job.TenantID,
		"file_id":        job.FileID,
		"trigger_source": job.TriggerSource,
	}).Info("Creating import job")

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"id":        job.ID,
			"tenant_id": job.TenantID,
		}).Error("error creating import job")
		return httperror.NewHTTPError(http.StatusInternalServerError, "error creating import job")
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	return nil
}

// Get fetches an import job by id
func (r *Repository) Get(ctx context.Context, tenantID, id string) (*models.ImportJob, error) {
	ctx, span := tracing.StartSpan(ctx, "importjob.Repository.Get")
	defer span.End()

	sb := importJobStruct.SelectFrom(importJobTable)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
	)

	query, args := sb.Build()
	var row ImportJobRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			r.logger.WithContext(ctx).WithFields(map[string]any{
				"id":        id,
				"tenant_id": tenantID,
			}).Warn("Import job not found")
			return nil, httperror.NewHTTPError(http.StatusNotFound, "import job not found")
		}

		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"id":        id,
			"tenant_id": tenantID,
		}).Error("error getting import job")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "error getting import job")
	}

	job := ToImportJob(&row)
	return &job, nil
}

// List returns import jobs for a tenant, optionally filtered by status or
// file, newest first
func (r *Repository) List(ctx context.Context, tenantID string, status *models.JobStatus, fileID *string, page, pageSize int) (*models.ImportJobListResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "importjob.Repository.List")
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	countSb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	countSb.Select("COUNT(*)")
	countSb.From(importJobTable)
	countSb.Where(countSb.Equal("tenant_id", tenantID))
	if status != nil {
		countSb.Where(countSb.Equal("status", string(*status)))
	}
	if fileID != nil {
		countSb.Where(countSb.Equal("file_id", *fileID))
	}

	countQuery, countArgs := countSb.Build()
	var totalCount int
	if err := r.db.GetContext(ctx, &totalCount, countQuery, countArgs...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID}).Error("error counting import jobs")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "error listing import jobs")
	}

	sb := importJobStruct.SelectFrom(importJobTable)
	sb.Where(sb.Equal("tenant_id", tenantID))
	if status != nil {
		sb.Where(sb.Equal("status", string(*status)))
	}
	if fileID != nil {
		sb.Where(sb.Equal("file_id", *fileID))
	}
	sb.OrderBy("created_at").Desc()
	sb.Limit(pageSize).Offset((page - 1) * pageSize)

	query, args := sb.Build()
	rows := []ImportJobRow{}
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID}).Error("error listing import jobs")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "error listing import jobs")
	}

	jobs := make([]models.ImportJob, len(rows))
	for i := range rows {
		jobs[i] = ToImportJob(&rows[i])
	}

	return &models.ImportJobListResponse{
		Items:      jobs,
		TotalCount: totalCount,
		Page:       page,
		PageSize:   pageSize,
	}, nil
}

// GetLatestForFile returns the most recent job for a file, nil when the
// file has never been imported
func (r *Repository) GetLatestForFile(ctx context.Context, tenantID, fileID string) (*models.ImportJob, error) {
	ctx, span := tracing.StartSpan(ctx, "importjob.Repository.GetLatestForFile")
	defer span.End()

	sb := importJobStruct.SelectFrom(importJobTable)
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("file_id", fileID),
	)
	sb.OrderBy("created_at").Desc()
	sb.Limit(1)

	query, args := sb.Build()
	var row ImportJobRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"tenant_id": tenantID,
			"file_id":   fileID,
		}).Error("error getting latest import job")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "error getting import job")
	}

	job := ToImportJob(&row)
	return &job, nil
}

// Update replaces the full job row, guarded by the version the caller read.
// The whole document goes out in one statement so pollers see either the
// old or the new state, never a mix. A version mismatch means someone else
// wrote first and returns a conflict.
func (r *Repository) Update(ctx context.Context, job *models.ImportJob) error {
	ctx, span := tracing.StartSpan(ctx, "importjob.Repository.Update")
	defer span.End()

	expectedVersion := job.Version
	next := *job
	next.Version = expectedVersion + 1
	next.UpdatedAt = time.Now().UTC()

	row := FromImportJob(next)
	ub := importJobStruct.Update(importJobTable, row)
	ub.Where(
		ub.Equal("id", job.ID),
		ub.Equal("tenant_id", job.TenantID),
		ub.Equal("version", expectedVersion),
	)

	query, args := ub.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"id":        job.ID,
			"tenant_id": job.TenantID,
			"version":   expectedVersion,
		}).Error("error updating import job")
		return httperror.NewHTTPError(http.StatusInternalServerError, "error updating import job")
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "error updating import job")
	}
	if rowsAffected == 0 {
		return httperror.NewHTTPError(http.StatusConflict, "import job was modified concurrently").
			AddMetaValue("version", expectedVersion)
	}

	job.Version = next.Version
	job.UpdatedAt = next.UpdatedAt
	return nil
}

// TransitionStatus atomically moves a job from one status to another.
// Workers use queued → running as their claim; a second worker loses the
// race and gets a conflict.
func (r *Repository) TransitionStatus(ctx context.Context, tenantID, id string, from, to models.JobStatus) (*models.ImportJob, error) {
	ctx, span := tracing.StartSpan(ctx, "importjob.Repository.TransitionStatus")
	defer span.End()

	if !models.CanTransition(from, to) {
		return nil, httperror.NewHTTPError(http.StatusConflict, "invalid job status transition").
			AddMetaValue("from", string(from)).
			AddMetaValue("to", string(to))
	}

	now := time.Now().UTC()
	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(importJobTable)
	assignments := []string{
		ub.Assign("status", string(to)),
		"version = version + 1",
		ub.Assign("updated_at", now),
	}
	if to == models.JobStatusRunning {
		assignments = append(assignments, ub.Assign("started_at", now))
	}
	if to.IsTerminal() {
		assignments = append(assignments, ub.Assign("completed_at", now))
	}
	ub.Set(assignments...)
	ub.Where(
		ub.Equal("id", id),
		ub.Equal("tenant_id", tenantID),
		ub.Equal("status", string(from)),
	)

	query, args := ub.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"id":        id,
			"tenant_id": tenantID,
			"from":      from,
			"to":        to,
		}).Error("error transitioning import job")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "error updating import job")
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "error updating import job")
	}
	if rowsAffected == 0 {
		current, getErr := r.Get(ctx, tenantID, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, httperror.NewHTTPError(http.StatusConflict, "import job is not in the expected status").
			AddMetaValue("status", string(current.Status))
	}

	return r.Get(ctx, tenantID, id)
}

// Cancel moves a queued or running job to cancelled. A running job keeps
// writing until its worker notices at the next chunk boundary, but no
// further chunks commit after that.
func (r *Repository) Cancel(ctx context.Context, tenantID, id string) (*models.ImportJob, error) {
	ctx, span := tracing.StartSpan(ctx, "importjob.Repository.Cancel")
	defer span.End()

	now := time.Now().UTC()
	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(importJobTable)
	ub.Set(
		ub.Assign("status", string(models.JobStatusCancelled)),
		"version = version + 1",
		ub.Assign("completed_at", now),
		ub.Assign("updated_at", now),
	)
	ub.Where(
		ub.Equal("id", id),
		ub.Equal("tenant_id", tenantID),
		ub.In("status", string(models.JobStatusQueued), string(models.JobStatusRunning)),
	)

	query, args := ub.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"id":        id,
			"tenant_id": tenantID,
		}).Error("error cancelling import job")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "error cancelling import job")
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "error cancelling import job")
	}
	if rowsAffected == 0 {
		current, getErr := r.Get(ctx, tenantID, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, httperror.NewHTTPError(http.StatusConflict, "import job is already in a terminal state").
			AddMetaValue("status", string(current.Status))
	}

	return r.Get(ctx, tenantID, id)
}
