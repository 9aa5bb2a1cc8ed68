// Package importer orchestrates the import pipeline: file registration with
// content-hash dedupe, import submission (inline or queued), job execution,
// and archive fan-out. It owns the lifecycle of uploaded files and import
// jobs; the chunked row work itself lives in pkg/loader.
package importer

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/internal/repositories/filefingerprint"
	"github.com/Ramsey-B/fern/internal/repositories/importjob"
	"github.com/Ramsey-B/fern/internal/repositories/importrecord"
	"github.com/Ramsey-B/fern/internal/repositories/tablerow"
	"github.com/Ramsey-B/fern/internal/repositories/targettable"
	"github.com/Ramsey-B/fern/internal/repositories/uploadedfile"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/loader"
	"github.com/Ramsey-B/fern/pkg/mapping"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/parsers"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/storage"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Service coordinates file registration, import submission, and job
// execution. It implements queue.ImportExecutor for the worker side.
type Service struct {
	cfg          config.Config
	logger       ectologger.Logger
	files        *uploadedfile.Repository
	fingerprints *filefingerprint.Repository
	tables       *targettable.Repository
	rows         *tablerow.Repository
	ledger       *importrecord.Repository
	jobs         *importjob.Repository
	loader       *loader.Loader
	mapper       *mapping.Mapper
	advisor      mapping.Advisor
	store        storage.ObjectStore
	locker       *redis.Locker
	streams      *redis.Streams
	emitter      *events.Emitter
}

// NewService creates the import orchestrator. The emitter may be nil when
// event publishing is disabled, and the advisor may be nil when mapping
// proposals are disabled.
func NewService(
	cfg config.Config,
	logger ectologger.Logger,
	files *uploadedfile.Repository,
	fingerprints *filefingerprint.Repository,
	tables *targettable.Repository,
	rows *tablerow.Repository,
	ledger *importrecord.Repository,
	jobs *importjob.Repository,
	chunkLoader *loader.Loader,
	mapper *mapping.Mapper,
	advisor mapping.Advisor,
	store storage.ObjectStore,
	locker *redis.Locker,
	streams *redis.Streams,
	emitter *events.Emitter,
) *Service {
	return &Service{
		cfg:          cfg,
		logger:       logger,
		files:        files,
		fingerprints: fingerprints,
		tables:       tables,
		rows:         rows,
		ledger:       ledger,
		jobs:         jobs,
		loader:       chunkLoader,
		mapper:       mapper,
		advisor:      advisor,
		store:        store,
		locker:       locker,
		streams:      streams,
		emitter:      emitter,
	}
}

// RegisterFile records an uploaded object as an importable file. Unless the
// caller overrides with AllowDuplicate, the file's content hash is claimed
// first; losing the claim rejects the registration with the existing file's
// ID and creates nothing.
func (s *Service) RegisterFile(ctx context.Context, tenantID string, req models.RegisterFileRequest) (*models.UploadedFile, error) {
	ctx, span := tracing.StartSpan(ctx, "importer.Service.RegisterFile")
	defer span.End()

	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id":   tenantID,
		"name":        req.Name,
		"storage_key": req.StorageKey,
	})

	format := parsers.FormatForName(req.Name)
	if format == "" {
		return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "unsupported file format: %s", req.Name)
	}

	hash, err := s.store.ContentHash(ctx, req.StorageKey)
	if err != nil {
		return nil, err
	}
	size, err := s.store.Size(ctx, req.StorageKey)
	if err != nil {
		return nil, err
	}

	// The ID is minted before the fingerprint claim so the claim can point
	// at the file row we are about to create
	fileID := uuid.New().String()

	claimed := false
	if req.AllowDuplicate {
		metrics.RecordFileRegistered(tenantID, "override")
		log.Info("Registering file with duplicate override")
	} else {
		fp, fresh, err := s.fingerprints.Claim(ctx, tenantID, hash, fileID)
		if err != nil {
			return nil, err
		}
		if !fresh {
			metrics.RecordFileRegistered(tenantID, "duplicate")
			log.WithFields(map[string]any{"existing_file_id": fp.FileID}).Info("Rejected duplicate file content")
			if s.emitter != nil {
				s.emitter.EmitDuplicateFile(ctx, tenantID, "", fp.FileID)
			}
			return nil, httperror.NewHTTPError(http.StatusConflict, "file content already registered").
				AddMetaValue("existing_file_id", fp.FileID)
		}
		claimed = true
		metrics.RecordFileRegistered(tenantID, "registered")
	}

	file := &models.UploadedFile{
		ID:          fileID,
		TenantID:    tenantID,
		Name:        req.Name,
		Format:      format,
		SizeBytes:   size,
		ContentHash: hash,
		StorageKey:  req.StorageKey,
		Status:      models.FileStatusUploaded,
	}

	created, err := s.files.Create(ctx, file)
	if err != nil {
		if claimed {
			// Free the hash so the upload can be retried
			if delErr := s.fingerprints.DeleteForFile(ctx, tenantID, fileID); delErr != nil {
				log.WithError(delErr).Error("Failed to release fingerprint after create failure")
			}
		}
		return nil, err
	}

	log.WithFields(map[string]any{
		"file_id": created.ID,
		"format":  format,
		"size":    size,
	}).Info("File registered")

	return created, nil
}

// StartImportResult is the outcome of an import submission. Job is set when
// the import was queued; Record is set when it ran synchronously.
type StartImportResult struct {
	Job    *models.ImportJob    `json:"job,omitempty"`
	Record *models.ImportRecord `json:"record,omitempty"`
}

// StartImport submits a confirmed mapping for execution. Small single files
// run inline and return the finalized record; archives and large files are
// queued as a job. The Async flag forces queuing, or forces inline when the
// file is eligible.
func (s *Service) StartImport(ctx context.Context, tenantID string, req models.StartImportRequest, trigger models.TriggerSource) (*StartImportResult, error) {
	ctx, span := tracing.StartSpan(ctx, "importer.Service.StartImport")
	defer span.End()

	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id":    tenantID,
		"file_id":      req.FileID,
		"target_table": req.TargetTable,
		"trigger":      string(trigger),
	})

	file, err := s.files.Get(ctx, tenantID, req.FileID)
	if err != nil {
		return nil, err
	}

	// A file registered with the duplicate override still shares content
	// with the fingerprinted file; importing it needs the override restated
	fp, err := s.fingerprints.GetByHash(ctx, tenantID, file.ContentHash)
	if err != nil {
		return nil, err
	}
	if fp != nil && fp.FileID != file.ID && !req.AllowDuplicateFile {
		if s.emitter != nil {
			s.emitter.EmitDuplicateFile(ctx, tenantID, file.ID, fp.FileID)
		}
		return nil, httperror.NewHTTPError(http.StatusConflict, "file content was already imported as another file").
			AddMetaValue("existing_file_id", fp.FileID)
	}

	// Broken transforms fail the submission, not the job they would queue
	if err := s.mapper.ValidateTransforms(req.Mappings); err != nil {
		return nil, err
	}

	table, err := s.tables.GetByKey(ctx, tenantID, req.TargetTable)
	if err != nil {
		return nil, err
	}
	if table == nil && !req.CreateTable {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "target table %s not found", req.TargetTable)
	}

	async := file.Format == "zip" || file.SizeBytes > s.cfg.ImportSyncMaxBytes
	if req.Async != nil {
		if *req.Async {
			async = true
		} else if file.Format == "zip" {
			return nil, httperror.NewHTTPError(http.StatusBadRequest, "archives always import asynchronously")
		} else if file.SizeBytes > s.cfg.ImportSyncMaxBytes {
			return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "file exceeds the synchronous import limit of %d bytes", s.cfg.ImportSyncMaxBytes)
		}
	}

	if async {
		job := &models.ImportJob{
			TenantID:      tenantID,
			FileID:        file.ID,
			TargetTable:   req.TargetTable,
			Request:       &req,
			TriggerSource: trigger,
			Stage:         "queued",
		}
		if err := s.enqueueJob(ctx, job); err != nil {
			return nil, err
		}
		log.WithFields(map[string]any{"job_id": job.ID}).Info("Import job queued")
		return &StartImportResult{Job: job}, nil
	}

	start := time.Now()
	if err := s.files.UpdateStatus(ctx, tenantID, file.ID, models.FileStatusMapping); err != nil {
		return nil, err
	}

	payload, err := s.fetchPayload(ctx, file)
	if err != nil {
		return nil, err
	}

	record, _, err := s.runLoad(ctx, tenantID, file, nil, file.Name, payload, req, "", loadHooks{})
	if err != nil {
		if stErr := s.files.UpdateStatus(ctx, tenantID, file.ID, models.FileStatusFailed); stErr != nil {
			log.WithError(stErr).Error("Failed to mark file failed")
		}
		if s.emitter != nil {
			recordID := ""
			if record != nil {
				recordID = record.ID
			}
			s.emitter.EmitImportFailed(ctx, tenantID, file.ID, recordID, "", req.TargetTable, err.Error())
		}
		metrics.RecordImport(tenantID, file.Format, "failed", time.Since(start).Seconds())
		return nil, err
	}

	if err := s.files.SetMapped(ctx, tenantID, file.ID, req.TargetTable); err != nil {
		log.WithError(err).Error("Failed to mark file mapped")
	}
	metrics.RecordImport(tenantID, file.Format, "succeeded", time.Since(start).Seconds())

	log.WithFields(map[string]any{
		"import_record_id": record.ID,
		"rows_processed":   record.RowsProcessed,
		"rows_inserted":    record.RowsInserted,
	}).Info("Synchronous import completed")

	return &StartImportResult{Record: record}, nil
}

// ProposeMapping parses a registered file and asks the advisor to map its
// columns onto a target table. With no TargetTable every table is a
// candidate; the proposal may come back as a follow-up question instead.
func (s *Service) ProposeMapping(ctx context.Context, tenantID string, req models.ProposeMappingRequest) (*models.MappingProposal, error) {
	ctx, span := tracing.StartSpan(ctx, "importer.Service.ProposeMapping")
	defer span.End()

	if s.advisor == nil {
		return nil, httperror.NewHTTPError(http.StatusServiceUnavailable, "mapping advisor is disabled")
	}

	file, err := s.files.Get(ctx, tenantID, req.FileID)
	if err != nil {
		return nil, err
	}
	if file.Format == "zip" {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "mapping proposals apply to single files, not archives")
	}

	payload, err := s.fetchPayload(ctx, file)
	if err != nil {
		return nil, err
	}
	parsed, err := parsers.Parse(file.Name, payload)
	if err != nil {
		return nil, err
	}

	var candidates []mapping.TableCandidate
	if req.TargetTable != "" {
		table, err := s.tables.GetByKey(ctx, tenantID, req.TargetTable)
		if err != nil {
			return nil, err
		}
		if table == nil {
			return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "target table %s not found", req.TargetTable)
		}
		columns, err := table.ColumnDefs()
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, mapping.TableCandidate{Key: table.Key, Columns: columns})
	} else {
		list, err := s.tables.List(ctx, tenantID, 1, 100)
		if err != nil {
			return nil, err
		}
		for i := range list.Items {
			columns, err := list.Items[i].ColumnDefs()
			if err != nil {
				return nil, err
			}
			candidates = append(candidates, mapping.TableCandidate{Key: list.Items[i].Key, Columns: columns})
		}
	}

	proposal, err := s.advisor.ProposeMapping(ctx, mapping.ProposalRequest{
		SourceColumns:     parsed.Columns,
		Candidates:        candidates,
		Instruction:       req.Instruction,
		ConversationToken: req.ConversationToken,
	})
	if err != nil {
		return nil, err
	}

	if file.Status == models.FileStatusUploaded {
		if err := s.files.UpdateStatus(ctx, tenantID, file.ID, models.FileStatusMapping); err != nil {
			s.logger.WithContext(ctx).WithError(err).Error("Failed to mark file mapping")
		}
	}

	return proposal, nil
}

// DeleteFile soft-deletes a file and releases its fingerprint so the same
// content can be uploaded again. Files referenced by import records or an
// unfinished job cannot be deleted.
func (s *Service) DeleteFile(ctx context.Context, tenantID, id string) error {
	ctx, span := tracing.StartSpan(ctx, "importer.Service.DeleteFile")
	defer span.End()

	if _, err := s.files.Get(ctx, tenantID, id); err != nil {
		return err
	}

	refs, err := s.ledger.List(ctx, tenantID, &id, nil, 1, 1)
	if err != nil {
		return err
	}
	if refs.TotalCount > 0 {
		return httperror.NewHTTPErrorf(http.StatusConflict, "file is referenced by %d import records", refs.TotalCount)
	}

	latest, err := s.jobs.GetLatestForFile(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if latest != nil && !latest.Status.IsTerminal() {
		return httperror.NewHTTPErrorf(http.StatusConflict, "file has a %s job", latest.Status)
	}

	if err := s.files.SoftDelete(ctx, tenantID, id); err != nil {
		return err
	}
	return s.fingerprints.DeleteForFile(ctx, tenantID, id)
}
