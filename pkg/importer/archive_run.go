package importer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"

	"github.com/Ramsey-B/fern/pkg/archive"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// runArchiveJob processes each archive entry as its own import, in archive
// order. An entry failure is recorded on that entry and the job moves on;
// the job only fails at the end, summarizing how many entries failed. A
// resumed job arrives here with its state pre-seeded and picks up from
// whatever is left in Remaining.
func (s *Service) runArchiveJob(ctx context.Context, job *models.ImportJob, file *models.UploadedFile, payload []byte) error {
	ctx, span := tracing.StartSpan(ctx, "importer.Service.runArchiveJob")
	defer span.End()

	bundle, err := archive.Open(payload)
	if err != nil {
		return err
	}
	entries := bundle.Entries()
	if len(entries) > s.cfg.ArchiveMaxEntries {
		return httperror.NewHTTPErrorf(http.StatusBadRequest, "archive has %d entries; the limit is %d", len(entries), s.cfg.ArchiveMaxEntries)
	}

	if job.ArchiveState == nil {
		job.ArchiveState = archive.InitialState(entries)
		job.Stage = "scanning archive"
		if err := s.updateJob(ctx, job); err != nil {
			return err
		}
		for _, done := range job.ArchiveState.Completed {
			metrics.RecordArchiveEntry(job.TenantID, string(done.Outcome))
		}
	}

	state := job.ArchiveState
	total := len(state.Completed) + len(state.Remaining)
	req := *job.Request

	for len(state.Remaining) > 0 {
		name := state.Remaining[0]
		position := len(state.Completed) + 1

		state.Remaining = state.Remaining[1:]
		state.CurrentEntry = &name
		job.Stage = fmt.Sprintf("entry %d/%d: %s", position, total, name)
		job.Progress = float64(position-1) / float64(total) * 100
		job.TotalChunks = 0
		job.ChunksCompleted = 0
		if err := s.updateJob(ctx, job); err != nil {
			return err
		}

		outcome, err := s.runArchiveEntry(ctx, job, file, bundle, name, req, position, total)
		if err != nil {
			return err
		}

		state.Completed = append(state.Completed, outcome)
		state.CurrentEntry = nil
		job.Progress = float64(len(state.Completed)) / float64(total) * 100
		if err := s.updateJob(ctx, job); err != nil {
			return err
		}
		metrics.RecordArchiveEntry(job.TenantID, string(outcome.Outcome))
	}

	failed := 0
	for _, done := range state.Completed {
		if done.Outcome == models.EntryOutcomeFailed {
			failed++
		}
	}
	if failed > 0 {
		return httperror.NewHTTPErrorf(http.StatusInternalServerError, "%d of %d archive entries failed", failed, total)
	}
	return nil
}

// runArchiveEntry imports one entry. Failures come back in the result, not
// the error; the error channel is reserved for cancellation.
func (s *Service) runArchiveEntry(ctx context.Context, job *models.ImportJob, file *models.UploadedFile, bundle *archive.Bundle, name string, req models.StartImportRequest, position, total int) (models.ArchiveEntryResult, error) {
	payload, err := bundle.Read(name)
	if err != nil {
		return entryFailed(name, err), nil
	}

	hooks := loadHooks{
		onChunk: func(ctx context.Context, done, chunks int, counts models.ImportCounts) error {
			job.TotalChunks = chunks
			job.ChunksCompleted = done
			job.Stage = fmt.Sprintf("entry %d/%d: %s (chunk %d/%d)", position, total, name, done, chunks)
			return s.updateJob(ctx, job)
		},
	}

	record, result, err := s.runLoad(ctx, job.TenantID, file, &name, name, payload, req, job.ID, hooks)
	if err != nil {
		if errors.Is(err, errJobCancelled) {
			return models.ArchiveEntryResult{}, err
		}
		failed := entryFailed(name, err)
		if record != nil {
			failed.ImportRecordID = &record.ID
		}
		return failed, nil
	}

	outcome := models.EntryOutcomeProcessed
	if result.RowsProcessed == 0 {
		outcome = models.EntryOutcomeSkipped
	}
	return models.ArchiveEntryResult{
		Name:           name,
		Outcome:        outcome,
		ImportRecordID: &record.ID,
		CompletedAt:    time.Now().UTC(),
	}, nil
}

func entryFailed(name string, cause error) models.ArchiveEntryResult {
	return models.ArchiveEntryResult{
		Name:        name,
		Outcome:     models.EntryOutcomeFailed,
		Error:       cause.Error(),
		CompletedAt: time.Now().UTC(),
	}
}
