// Package events handles event emission for import lifecycle changes
package events

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"

// Emitter handles event emission for Fern
type Emitter struct {
	producer *kafka.Producer
	logger   ectologger.Logger
}

// NewEmitter creates a new event emitter
func NewEmitter(producer *kafka.Producer, logger ectologger.Logger) *Emitter {
	return &Emitter{
		producer: producer,
		logger:   logger,
	}
}

// EmitImportStarted emits an import started event
func (e *Emitter) EmitImportStarted(ctx context.Context, record *models.ImportRecord, jobID string) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitImportStarted")
	defer span.End()

	event := &kafka.ImportEvent{
		EventType:      "import.started",
		TenantID:       record.TenantID,
		FileID:         record.FileID,
		ImportRecordID: record.ID,
		JobID:          jobID,
		TargetTable:    record.TargetTable,
	}

	if err := e.producer.PublishImportEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit import.started event")
		return err
	}

	return nil
}

// EmitImportCompleted emits an import completed event with the final counts
func (e *Emitter) EmitImportCompleted(ctx context.Context, record *models.ImportRecord, jobID string) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitImportCompleted")
	defer span.End()

	event := &kafka.ImportEvent{
		EventType:      "import.completed",
		TenantID:       record.TenantID,
		FileID:         record.FileID,
		ImportRecordID: record.ID,
		JobID:          jobID,
		TargetTable:    record.TargetTable,
		Counts: &models.ImportCounts{
			RowsProcessed:          record.RowsProcessed,
			RowsInserted:           record.RowsInserted,
			DuplicateCount:         record.DuplicateCount,
			ValidationFailureCount: record.ValidationFailureCount,
		},
	}

	if err := e.producer.PublishImportEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit import.completed event")
		return err
	}

	return nil
}

// EmitImportFailed emits an import failed event
func (e *Emitter) EmitImportFailed(ctx context.Context, tenantID string, fileID string, importRecordID string, jobID string, targetTable string, reason string) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitImportFailed")
	defer span.End()

	event := &kafka.ImportEvent{
		EventType:      "import.failed",
		TenantID:       tenantID,
		FileID:         fileID,
		ImportRecordID: importRecordID,
		JobID:          jobID,
		TargetTable:    targetTable,
		Error:          reason,
	}

	if err := e.producer.PublishImportEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit import.failed event")
		return err
	}

	return nil
}

// EmitDuplicateFile emits an event when a file is rejected as a duplicate
func (e *Emitter) EmitDuplicateFile(ctx context.Context, tenantID string, fileID string, existingFileID string) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitDuplicateFile")
	defer span.End()

	event := &kafka.ImportEvent{
		EventType: "file.duplicate",
		TenantID:  tenantID,
		FileID:    fileID,
		Error:     "duplicate of file " + existingFileID,
	}

	if err := e.producer.PublishImportEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit file.duplicate event")
		return err
	}

	return nil
}

// EmitRowUpdateRolledBack emits an event when a row update is rolled back
func (e *Emitter) EmitRowUpdateRolledBack(ctx context.Context, update *models.RowUpdate) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitRowUpdateRolledBack")
	defer span.End()

	event := &kafka.ImportEvent{
		EventType:      "row_update.rolled_back",
		TenantID:       update.TenantID,
		ImportRecordID: update.ImportRecordID,
		TargetTable:    update.TargetTable,
	}

	if err := e.producer.PublishImportEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit row_update.rolled_back event")
		return err
	}

	return nil
}
