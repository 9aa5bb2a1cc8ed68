package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"

	"github.com/Ramsey-B/fern/pkg/loader"
	"github.com/Ramsey-B/fern/pkg/mapping"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/parsers"
	"github.com/Ramsey-B/fern/pkg/schema"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// errJobCancelled stops a run when the job row was cancelled underneath the
// worker. Committed chunks stay committed; nothing further is written.
var errJobCancelled = errors.New("job cancelled")

const (
	// How long a submission waits for the table lock before giving up
	lockAcquireTimeout = 30 * time.Second

	// How many rows feed schema inference when creating a table
	inferSampleRows = 1000
)

func tableLockKey(tenantID, table string) string {
	return "table:" + tenantID + ":" + table
}

// loadHooks let the job runner observe a load without the load knowing
// about jobs. Both hooks may be nil; returning an error aborts the load
// after the chunks already committed.
type loadHooks struct {
	onBegin func(ctx context.Context, record *models.ImportRecord) error
	onChunk loader.ProgressFunc
}

// ExecuteImportJob runs one queued job to a terminal state. Once the worker
// claims the job, every failure is recorded on the job row and the message
// is acknowledged; retries mint new jobs rather than redelivering this one.
func (s *Service) ExecuteImportJob(ctx context.Context, tenantID string, jobID string) error {
	ctx, span := tracing.StartSpan(ctx, "importer.Service.ExecuteImportJob")
	defer span.End()

	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id": tenantID,
		"job_id":    jobID,
	})

	job, err := s.jobs.Get(ctx, tenantID, jobID)
	if err != nil {
		if httperror.GetStatusCode(err) == http.StatusNotFound {
			log.Warn("Job not found; dropping message")
			return nil
		}
		return err
	}
	if job.Status != models.JobStatusQueued {
		// Cancelled before pickup, or a redelivery of a job another
		// worker already claimed
		log.WithFields(map[string]any{"status": string(job.Status)}).Info("Job is not queued; skipping")
		return nil
	}

	job, err = s.jobs.TransitionStatus(ctx, tenantID, jobID, models.JobStatusQueued, models.JobStatusRunning)
	if err != nil {
		if httperror.GetStatusCode(err) == http.StatusConflict {
			return nil
		}
		return err
	}
	if job.Request == nil {
		s.failJob(ctx, job, errors.New("job has no stored request"))
		return nil
	}

	start := time.Now()
	file, err := s.files.Get(ctx, tenantID, job.FileID)
	if err != nil {
		s.failJob(ctx, job, err)
		return nil
	}
	if err := s.files.UpdateStatus(ctx, tenantID, file.ID, models.FileStatusMapping); err != nil {
		log.WithError(err).Error("Failed to mark file mapping")
	}

	payload, err := s.fetchPayload(ctx, file)
	if err != nil {
		s.failJob(ctx, job, err)
		metrics.RecordImport(tenantID, file.Format, "failed", time.Since(start).Seconds())
		return nil
	}

	var runErr error
	if file.Format == "zip" {
		runErr = s.runArchiveJob(ctx, job, file, payload)
	} else {
		runErr = s.runFileJob(ctx, job, file, payload)
	}

	if runErr != nil {
		if errors.Is(runErr, errJobCancelled) {
			log.Info("Job cancelled; committed chunks are kept")
			metrics.RecordImport(tenantID, file.Format, "cancelled", time.Since(start).Seconds())
			if err := s.files.UpdateStatus(ctx, tenantID, file.ID, models.FileStatusUploaded); err != nil {
				log.WithError(err).Error("Failed to reset file status")
			}
			return nil
		}
		s.failJob(ctx, job, runErr)
		metrics.RecordImport(tenantID, file.Format, "failed", time.Since(start).Seconds())
		return nil
	}

	job.Stage = "completed"
	job.Progress = 100
	if err := s.updateJob(ctx, job); err != nil {
		if errors.Is(err, errJobCancelled) {
			return nil
		}
		log.WithError(err).Error("Failed to write final job state")
	}
	if _, err := s.jobs.TransitionStatus(ctx, tenantID, jobID, models.JobStatusRunning, models.JobStatusSucceeded); err != nil {
		log.WithError(err).Error("Failed to mark job succeeded")
		return nil
	}
	if err := s.files.SetMapped(ctx, tenantID, file.ID, job.TargetTable); err != nil {
		log.WithError(err).Error("Failed to mark file mapped")
	}
	metrics.RecordImport(tenantID, file.Format, "succeeded", time.Since(start).Seconds())

	log.WithFields(map[string]any{
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Import job completed")
	return nil
}

// FailJob terminally fails a job from outside the run loop, honoring the
// state machine: queued jobs pass through running first. The queue
// processor's dead-letter path and failed enqueues land here.
func (s *Service) FailJob(ctx context.Context, tenantID string, jobID string, reason string) error {
	ctx, span := tracing.StartSpan(ctx, "importer.Service.FailJob")
	defer span.End()

	job, err := s.jobs.Get(ctx, tenantID, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return nil
	}
	if job.Status == models.JobStatusQueued {
		job, err = s.jobs.TransitionStatus(ctx, tenantID, jobID, models.JobStatusQueued, models.JobStatusRunning)
		if err != nil {
			if httperror.GetStatusCode(err) == http.StatusConflict {
				return nil
			}
			return err
		}
	}

	msg := reason
	job.ErrorMessage = &msg
	job.Stage = "failed"
	if err := s.updateJob(ctx, job); err != nil {
		if errors.Is(err, errJobCancelled) {
			return nil
		}
		return err
	}
	if _, err := s.jobs.TransitionStatus(ctx, tenantID, jobID, models.JobStatusRunning, models.JobStatusFailed); err != nil {
		if httperror.GetStatusCode(err) == http.StatusConflict {
			return nil
		}
		return err
	}
	if err := s.files.UpdateStatus(ctx, tenantID, job.FileID, models.FileStatusFailed); err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to mark file failed")
	}
	if s.emitter != nil {
		s.emitter.EmitImportFailed(ctx, tenantID, job.FileID, "", jobID, job.TargetTable, reason)
	}
	return nil
}

// runFileJob drives a single-file job, mirroring loader progress onto the
// job row so pollers can watch the chunks move.
func (s *Service) runFileJob(ctx context.Context, job *models.ImportJob, file *models.UploadedFile, payload []byte) error {
	req := *job.Request
	hooks := loadHooks{
		onBegin: func(ctx context.Context, record *models.ImportRecord) error {
			job.ImportRecordID = &record.ID
			job.Stage = "loading"
			return s.updateJob(ctx, job)
		},
		onChunk: func(ctx context.Context, done, total int, counts models.ImportCounts) error {
			job.TotalChunks = total
			job.ChunksCompleted = done
			job.Stage = fmt.Sprintf("loading chunk %d/%d", done, total)
			if total > 0 {
				job.Progress = float64(done) / float64(total) * 100
			}
			return s.updateJob(ctx, job)
		},
	}

	_, _, err := s.runLoad(ctx, job.TenantID, file, nil, file.Name, payload, req, job.ID, hooks)
	return err
}

// runLoad parses one payload and drives it through the loader under the
// table lock. The returned record is non-nil once the ledger entry exists,
// even when the load then fails partway.
func (s *Service) runLoad(ctx context.Context, tenantID string, file *models.UploadedFile, entryName *string, sourceName string, payload []byte, req models.StartImportRequest, jobID string, hooks loadHooks) (*models.ImportRecord, *loader.Result, error) {
	ctx, span := tracing.StartSpan(ctx, "importer.Service.runLoad")
	defer span.End()

	parsed, err := parsers.Parse(sourceName, payload)
	if err != nil {
		return nil, nil, err
	}

	lock, err := s.locker.TryAcquire(ctx, tableLockKey(tenantID, req.TargetTable), s.cfg.TableLockTTL, lockAcquireTimeout)
	if err != nil {
		return nil, nil, httperror.NewHTTPErrorf(http.StatusConflict, "another import is writing to table %s", req.TargetTable)
	}
	defer lock.Release(ctx)

	table, columns, err := s.ensureTable(ctx, tenantID, req, parsed)
	if err != nil {
		return nil, nil, err
	}

	if err := s.mapper.Validate(req.Mappings, parsed.Columns); err != nil {
		return nil, nil, err
	}

	sets, err := table.UniquenessColumnSets()
	if err != nil {
		return nil, nil, err
	}

	record, err := s.ledger.Create(ctx, tenantID, file.ID, table.Key, entryName, req.Mappings)
	if err != nil {
		return nil, nil, err
	}
	if s.emitter != nil {
		s.emitter.EmitImportStarted(ctx, record, jobID)
	}
	if hooks.onBegin != nil {
		if err := hooks.onBegin(ctx, record); err != nil {
			return record, nil, err
		}
	}

	result, err := s.loader.Load(ctx, loader.Request{
		TenantID:       tenantID,
		TableKey:       table.Key,
		ImportRecordID: record.ID,
		Columns:        columns,
		UniquenessSets: sets,
		Mappings:       req.Mappings,
		Table:          parsed,
		OnProgress: func(ctx context.Context, done, total int, counts models.ImportCounts) error {
			if err := s.ledger.UpdateProgress(ctx, tenantID, record.ID, counts); err != nil {
				s.logger.WithContext(ctx).WithError(err).Error("Failed to write import progress")
			}
			if err := lock.Extend(ctx, s.cfg.TableLockTTL); err != nil {
				s.logger.WithContext(ctx).WithError(err).Error("Failed to extend table lock")
			}
			if hooks.onChunk != nil {
				return hooks.onChunk(ctx, done, total, counts)
			}
			return nil
		},
	})
	if err != nil {
		return record, result, err
	}

	finalized, err := s.ledger.Finalize(ctx, tenantID, record.ID, result.Counts())
	if err != nil {
		return record, result, err
	}
	if s.emitter != nil {
		s.emitter.EmitImportCompleted(ctx, finalized, jobID)
	}
	return finalized, result, nil
}

// ensureTable resolves the target table for an import, creating it from the
// mapped data or extending it with newly mapped columns when the request
// allows. Returns the table and its effective column definitions.
func (s *Service) ensureTable(ctx context.Context, tenantID string, req models.StartImportRequest, parsed *parsers.Table) (*models.TargetTable, []models.ColumnDef, error) {
	table, err := s.tables.GetByKey(ctx, tenantID, req.TargetTable)
	if err != nil {
		return nil, nil, err
	}

	if table == nil {
		if !req.CreateTable {
			return nil, nil, httperror.NewHTTPErrorf(http.StatusNotFound, "target table %s not found", req.TargetTable)
		}
		columns := s.deriveColumns(req.Mappings, parsed, nil)
		if len(columns) == 0 {
			return nil, nil, httperror.NewHTTPError(http.StatusBadRequest, "cannot infer a schema from an empty file")
		}
		table, err = s.tables.Create(ctx, tenantID, models.CreateTargetTableRequest{
			Key:            req.TargetTable,
			Name:           req.TargetTable,
			Columns:        columns,
			UniquenessSets: req.UniquenessSets,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := s.rows.EnsurePhysical(ctx, tenantID, table.Key, columns); err != nil {
			return nil, nil, err
		}
		return table, columns, nil
	}

	if len(req.UniquenessSets) > 0 {
		// The latest declared sets win, for this import and later ones
		sets := req.UniquenessSets
		table, err = s.tables.Update(ctx, tenantID, table.ID, models.UpdateTargetTableRequest{UniquenessSets: &sets})
		if err != nil {
			return nil, nil, err
		}
	}

	columns, err := table.ColumnDefs()
	if err != nil {
		return nil, nil, err
	}
	if err := s.rows.EnsurePhysical(ctx, tenantID, table.Key, columns); err != nil {
		return nil, nil, err
	}

	// Explicitly mapped targets must exist; pass-through imports simply
	// drop source columns the table does not have
	if len(req.Mappings) == 0 {
		return table, columns, nil
	}
	known := make(map[string]bool, len(columns))
	for _, col := range columns {
		known[col.Name] = true
	}
	var missing []string
	for _, target := range mapping.TargetColumns(req.Mappings) {
		if !known[target] {
			missing = append(missing, target)
		}
	}
	if len(missing) == 0 {
		return table, columns, nil
	}
	if !req.CreateTable {
		return nil, nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "mapped columns do not exist in table %s: %s", table.Key, strings.Join(missing, ", "))
	}

	added := s.deriveColumns(req.Mappings, parsed, missing)
	if err := s.rows.AddColumns(ctx, tenantID, table.Key, added); err != nil {
		return nil, nil, err
	}
	merged := append(columns, added...)
	table, err = s.tables.Update(ctx, tenantID, table.ID, models.UpdateTargetTableRequest{Columns: &merged})
	if err != nil {
		return nil, nil, err
	}
	return table, merged, nil
}

// deriveColumns infers column definitions from a sample of mapped rows.
// A non-nil only list restricts the result to those target columns.
func (s *Service) deriveColumns(mappings []models.ColumnMapping, parsed *parsers.Table, only []string) []models.ColumnDef {
	sample := parsed.Rows
	if len(sample) > inferSampleRows {
		sample = sample[:inferSampleRows]
	}
	records := make([]map[string]any, 0, len(sample))
	for i := range sample {
		records = append(records, s.mapper.ApplyRowLenient(mappings, sample[i].Values))
	}

	headers := mapping.TargetColumns(mappings)
	if len(mappings) == 0 {
		headers = parsed.Columns
	}
	if only != nil {
		keep := make(map[string]bool, len(only))
		for _, name := range only {
			keep[name] = true
		}
		var filtered []string
		for _, header := range headers {
			if keep[header] {
				filtered = append(filtered, header)
			}
		}
		headers = filtered
	}

	return schema.InferColumns(headers, records)
}

// updateJob writes the worker's copy of the job row. The only legitimate
// concurrent writer is a cancellation, so on a version conflict the
// refreshed status decides between stopping and adopting the newer version.
func (s *Service) updateJob(ctx context.Context, job *models.ImportJob) error {
	err := s.jobs.Update(ctx, job)
	if err == nil {
		return nil
	}
	if httperror.GetStatusCode(err) != http.StatusConflict {
		return err
	}

	current, getErr := s.jobs.Get(ctx, job.TenantID, job.ID)
	if getErr != nil {
		return getErr
	}
	if current.Status == models.JobStatusCancelled {
		return errJobCancelled
	}
	job.Version = current.Version
	return s.jobs.Update(ctx, job)
}

// failJob records a terminal failure on a job the worker owns. Failures
// land on the job row rather than bubbling to the queue; retries mint new
// jobs instead of redelivering this one.
func (s *Service) failJob(ctx context.Context, job *models.ImportJob, cause error) {
	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id": job.TenantID,
		"job_id":    job.ID,
	})
	log.WithError(cause).Error("Import job failed")

	msg := cause.Error()
	job.ErrorMessage = &msg
	job.Stage = "failed"
	if err := s.updateJob(ctx, job); err != nil && !errors.Is(err, errJobCancelled) {
		log.WithError(err).Error("Failed to write job error")
	}
	if _, err := s.jobs.TransitionStatus(ctx, job.TenantID, job.ID, models.JobStatusRunning, models.JobStatusFailed); err != nil {
		log.WithError(err).Error("Failed to mark job failed")
	}
	if err := s.files.UpdateStatus(ctx, job.TenantID, job.FileID, models.FileStatusFailed); err != nil {
		log.WithError(err).Error("Failed to mark file failed")
	}
	if s.emitter != nil {
		recordID := ""
		if job.ImportRecordID != nil {
			recordID = *job.ImportRecordID
		}
		s.emitter.EmitImportFailed(ctx, job.TenantID, job.FileID, recordID, job.ID, job.TargetTable, msg)
	}
}

func (s *Service) fetchPayload(ctx context.Context, file *models.UploadedFile) ([]byte, error) {
	rc, err := s.store.Fetch(ctx, file.StorageKey)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	payload, err := io.ReadAll(rc)
	if err != nil {
		return nil, httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to read %s from storage", file.StorageKey)
	}
	return payload, nil
}
