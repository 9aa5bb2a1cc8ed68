package importer

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"

	"github.com/Ramsey-B/fern/pkg/archive"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/queue"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// enqueueJob persists a job and publishes it to the worker stream. A failed
// publish terminally fails the job so pollers are not left waiting on a
// message that never went out.
func (s *Service) enqueueJob(ctx context.Context, job *models.ImportJob) error {
	if err := s.jobs.Create(ctx, job); err != nil {
		return err
	}

	_, err := queue.PublishImportJob(ctx, s.streams, s.cfg.RedisStreamsJobQueue, queue.ImportJobMessage{
		JobID:    job.ID,
		TenantID: job.TenantID,
		FileID:   job.FileID,
	})
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"job_id": job.ID,
		}).Error("Failed to publish import job")
		if failErr := s.FailJob(ctx, job.TenantID, job.ID, "failed to enqueue job"); failErr != nil {
			s.logger.WithContext(ctx).WithError(failErr).Error("Failed to mark unpublished job failed")
		}
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to enqueue import job")
	}

	metrics.RecordQueueJobPublished(string(job.TriggerSource))
	return nil
}

// RetryJob creates a fresh job re-running a finished job's request from the
// beginning. The original job is untouched; Attempt and RetryOfJobID keep
// the lineage.
func (s *Service) RetryJob(ctx context.Context, tenantID, jobID string) (*models.ImportJob, error) {
	ctx, span := tracing.StartSpan(ctx, "importer.Service.RetryJob")
	defer span.End()

	prior, err := s.jobs.Get(ctx, tenantID, jobID)
	if err != nil {
		return nil, err
	}
	if !prior.Status.IsTerminal() {
		return nil, httperror.NewHTTPErrorf(http.StatusConflict, "job is still %s; only finished jobs can be retried", prior.Status)
	}
	if prior.Request == nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "job has no stored request")
	}

	job := &models.ImportJob{
		TenantID:      tenantID,
		FileID:        prior.FileID,
		TargetTable:   prior.TargetTable,
		Request:       prior.Request,
		Attempt:       prior.Attempt + 1,
		RetryOfJobID:  &prior.ID,
		TriggerSource: models.TriggerSourceRetry,
		Stage:         "queued",
	}
	if err := s.enqueueJob(ctx, job); err != nil {
		return nil, err
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id": tenantID,
		"retry_of":  jobID,
		"job_id":    job.ID,
		"attempt":   job.Attempt,
	}).Info("Import job retried")
	return job, nil
}

// ResumeJob creates a fresh job continuing a finished archive job from its
// recorded entry state. With FailedEntriesOnly, entries that already
// processed stay done and only failed ones run again.
func (s *Service) ResumeJob(ctx context.Context, tenantID, jobID string, req models.ResumeJobRequest) (*models.ImportJob, error) {
	ctx, span := tracing.StartSpan(ctx, "importer.Service.ResumeJob")
	defer span.End()

	prior, err := s.jobs.Get(ctx, tenantID, jobID)
	if err != nil {
		return nil, err
	}
	if !prior.Status.IsTerminal() {
		return nil, httperror.NewHTTPErrorf(http.StatusConflict, "job is still %s; only finished jobs can be resumed", prior.Status)
	}
	if !prior.IsArchive() {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "only archive jobs can be resumed; retry the job instead")
	}
	if prior.Request == nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "job has no stored request")
	}

	state := archive.ResumeState(prior.ArchiveState, req.FailedEntriesOnly)
	if len(state.Remaining) == 0 {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "no entries left to reprocess")
	}

	job := &models.ImportJob{
		TenantID:      tenantID,
		FileID:        prior.FileID,
		TargetTable:   prior.TargetTable,
		Request:       prior.Request,
		Attempt:       prior.Attempt + 1,
		RetryOfJobID:  &prior.ID,
		TriggerSource: models.TriggerSourceResume,
		Stage:         "queued",
		ArchiveState:  state,
	}
	if err := s.enqueueJob(ctx, job); err != nil {
		return nil, err
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id": tenantID,
		"resume_of": jobID,
		"job_id":    job.ID,
		"remaining": len(state.Remaining),
	}).Info("Archive job resumed")
	return job, nil
}

// CancelJob cancels a queued or running job. A running worker notices at
// its next chunk boundary; chunks committed before that stay committed.
func (s *Service) CancelJob(ctx context.Context, tenantID, jobID string) (*models.ImportJob, error) {
	ctx, span := tracing.StartSpan(ctx, "importer.Service.CancelJob")
	defer span.End()

	job, err := s.jobs.Cancel(ctx, tenantID, jobID)
	if err != nil {
		return nil, err
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id": tenantID,
		"job_id":    jobID,
	}).Info("Import job cancelled")
	return job, nil
}

// LatestJobForFile returns a file's most recent job, for pollers that only
// know the file they submitted.
func (s *Service) LatestJobForFile(ctx context.Context, tenantID, fileID string) (*models.ImportJob, error) {
	ctx, span := tracing.StartSpan(ctx, "importer.Service.LatestJobForFile")
	defer span.End()

	if _, err := s.files.Get(ctx, tenantID, fileID); err != nil {
		return nil, err
	}

	job, err := s.jobs.GetLatestForFile(ctx, tenantID, fileID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, httperror.NewHTTPError(http.StatusNotFound, "file has no import jobs")
	}
	return job, nil
}
