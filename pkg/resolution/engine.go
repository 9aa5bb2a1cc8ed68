// Package resolution implements the out-of-band workflows that reconcile
// flagged records against their target table: duplicate strategies,
// validation actions and row update rollback.
package resolution

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/mapping"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/schema"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// DuplicateStore is the slice of the duplicate record repository the engine needs
type DuplicateStore interface {
	Get(ctx context.Context, tenantID, id string) (*models.DuplicateRecord, error)
	Claim(ctx context.Context, tenantID, id string, resolution models.DuplicateStrategy, rowUpdateID *string) (*models.DuplicateRecord, error)
}

// ValidationStore is the slice of the validation failure repository the engine needs
type ValidationStore interface {
	Get(ctx context.Context, tenantID, id string) (*models.ValidationFailure, error)
	Claim(ctx context.Context, tenantID, id string, action models.ValidationAction) (*models.ValidationFailure, error)
}

// RowWriter performs the resolution inserts against physical tables
type RowWriter interface {
	CreateFromDuplicate(ctx context.Context, tenantID string, dup *models.DuplicateRecord, columns []models.ColumnDef, values map[string]any) (string, error)
	CreateFromValidation(ctx context.Context, tenantID string, failure *models.ValidationFailure, action models.ValidationAction, columns []models.ColumnDef, values map[string]any) (string, error)
}

// UpdateStore records merges and performs rollbacks
type UpdateStore interface {
	RecordMerge(ctx context.Context, tenantID string, dup *models.DuplicateRecord, newValues map[string]any) (*models.RowUpdate, error)
	Rollback(ctx context.Context, tenantID, id string, force bool) (*models.RowUpdate, error)
}

// LedgerStore reads import records and bumps their resolution counters
type LedgerStore interface {
	Get(ctx context.Context, tenantID, id string) (*models.ImportRecord, error)
	IncrementRowsUpdated(ctx context.Context, tenantID, id string) error
}

// TableStore resolves target table definitions
type TableStore interface {
	GetByKey(ctx context.Context, tenantID, key string) (*models.TargetTable, error)
}

// Engine executes resolution workflows. Resolutions are terminal: every
// path claims its record exactly once, and racing claims lose with a
// conflict rather than double-applying.
type Engine struct {
	duplicates DuplicateStore
	failures   ValidationStore
	rows       RowWriter
	updates    UpdateStore
	ledger     LedgerStore
	tables     TableStore
	mapper     *mapping.Mapper
	emitter    *events.Emitter
	logger     ectologger.Logger
}

// NewEngine creates a resolution engine. The emitter may be nil when event
// publishing is disabled.
func NewEngine(
	duplicates DuplicateStore,
	failures ValidationStore,
	rows RowWriter,
	updates UpdateStore,
	ledger LedgerStore,
	tables TableStore,
	emitter *events.Emitter,
	logger ectologger.Logger,
) *Engine {
	return &Engine{
		duplicates: duplicates,
		failures:   failures,
		rows:       rows,
		updates:    updates,
		ledger:     ledger,
		tables:     tables,
		mapper:     mapping.NewMapper(),
		emitter:    emitter,
		logger:     logger,
	}
}

// ResolveDuplicate applies one strategy to one duplicate record
func (e *Engine) ResolveDuplicate(ctx context.Context, tenantID, id string, req models.ResolveDuplicateRequest) (*models.DuplicateRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "resolution.Engine.ResolveDuplicate")
	defer span.End()

	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id":    tenantID,
		"duplicate_id": id,
		"strategy":     string(req.Strategy),
	})

	var resolved *models.DuplicateRecord
	var err error
	switch req.Strategy {
	case models.DuplicateStrategyKeepExisting:
		resolved, err = e.duplicates.Claim(ctx, tenantID, id, models.DuplicateStrategyKeepExisting, nil)
	case models.DuplicateStrategyMerge:
		resolved, err = e.resolveMerge(ctx, tenantID, id, req.MergeValues)
	case models.DuplicateStrategyCreateNew:
		resolved, err = e.resolveCreateNew(ctx, tenantID, id)
	default:
		return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "unknown duplicate strategy %q", req.Strategy)
	}
	if err != nil {
		return nil, err
	}

	metrics.RecordResolution(tenantID, "duplicate", string(req.Strategy))
	log.Info("Resolved duplicate record")
	return resolved, nil
}

// resolveMerge writes the supplied columns onto the existing row and claims
// the duplicate, then bumps the parent ledger's updated counter
func (e *Engine) resolveMerge(ctx context.Context, tenantID, id string, mergeValues map[string]any) (*models.DuplicateRecord, error) {
	if len(mergeValues) == 0 {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "merge requires at least one column value")
	}

	dup, err := e.duplicates.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if dup.IsResolved() {
		return nil, httperror.NewHTTPError(http.StatusConflict, "duplicate record already resolved")
	}

	table, err := e.tables.GetByKey(ctx, tenantID, dup.TargetTable)
	if err != nil {
		return nil, err
	}
	columns, err := table.ColumnDefs()
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to decode table columns")
	}

	coerced, err := coerceStrict(columns, mergeValues)
	if err != nil {
		return nil, err
	}

	update, err := e.updates.RecordMerge(ctx, tenantID, dup, coerced)
	if err != nil {
		return nil, err
	}

	if err := e.ledger.IncrementRowsUpdated(ctx, tenantID, dup.ImportRecordID); err != nil {
		// the merge itself is already committed
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"import_record_id": dup.ImportRecordID,
		}).Error("Failed to increment rows updated counter")
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"duplicate_id":  id,
		"row_update_id": update.ID,
		"row_id":        update.RowID,
		"columns":       []string(update.UpdatedColumns),
	}).Info("Merged duplicate into existing row")

	return e.duplicates.Get(ctx, tenantID, id)
}

// resolveCreateNew inserts the incoming payload as a new row, bypassing
// uniqueness for this one record
func (e *Engine) resolveCreateNew(ctx context.Context, tenantID, id string) (*models.DuplicateRecord, error) {
	dup, err := e.duplicates.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if dup.IsResolved() {
		return nil, httperror.NewHTTPError(http.StatusConflict, "duplicate record already resolved")
	}

	table, err := e.tables.GetByKey(ctx, tenantID, dup.TargetTable)
	if err != nil {
		return nil, err
	}
	columns, err := table.ColumnDefs()
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to decode table columns")
	}

	var payload map[string]any
	if err := json.Unmarshal(dup.Payload, &payload); err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to decode duplicate payload")
	}

	// the payload passed validation at load time, but the table schema may
	// have grown required columns since
	checked := schema.NewValidator(columns).ValidateRecord(payload)
	if !checked.Valid {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "stored payload no longer matches the table schema").
			AddMetaValue("errors", checked.Errors)
	}

	rowID, err := e.rows.CreateFromDuplicate(ctx, tenantID, dup, columns, checked.Values)
	if err != nil {
		return nil, err
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"duplicate_id": id,
		"row_id":       rowID,
		"table":        dup.TargetTable,
	}).Info("Inserted duplicate as new row")

	return e.duplicates.Get(ctx, tenantID, id)
}

// BulkResolveDuplicates applies one strategy to many duplicates, in order.
// The first failure stops the run; the response reports how many records
// resolved before the stop and which record failed.
func (e *Engine) BulkResolveDuplicates(ctx context.Context, tenantID string, req models.BulkResolveDuplicatesRequest) (*models.BulkResolveResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "resolution.Engine.BulkResolveDuplicates")
	defer span.End()

	resp := &models.BulkResolveResponse{Requested: len(req.IDs)}
	single := models.ResolveDuplicateRequest{Strategy: req.Strategy, MergeValues: req.MergeValues}

	for _, id := range req.IDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if _, err := e.ResolveDuplicate(ctx, tenantID, id, single); err != nil {
			failedID := id
			resp.FailedID = &failedID
			resp.Error = err.Error()

			e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"tenant_id":    tenantID,
				"duplicate_id": id,
				"resolved":     resp.Resolved,
				"requested":    resp.Requested,
			}).Warn("Bulk resolution stopped at failure")
			return resp, nil
		}
		resp.Resolved++
	}

	return resp, nil
}

// ResolveValidation applies one action to one validation failure
func (e *Engine) ResolveValidation(ctx context.Context, tenantID, id string, req models.ResolveValidationFailureRequest) (*models.ValidationFailure, error) {
	ctx, span := tracing.StartSpan(ctx, "resolution.Engine.ResolveValidation")
	defer span.End()

	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id":  tenantID,
		"failure_id": id,
		"action":     string(req.Action),
	})

	var resolved *models.ValidationFailure
	var err error
	switch req.Action {
	case models.ValidationActionDiscarded:
		resolved, err = e.failures.Claim(ctx, tenantID, id, models.ValidationActionDiscarded)
	case models.ValidationActionInsertedCorrected, models.ValidationActionInsertedAsIs:
		resolved, err = e.resolveValidationInsert(ctx, tenantID, id, req)
	default:
		return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "unknown validation action %q", req.Action)
	}
	if err != nil {
		return nil, err
	}

	metrics.RecordResolution(tenantID, "validation", string(req.Action))
	log.Info("Resolved validation failure")
	return resolved, nil
}

// resolveValidationInsert re-maps the stored payload and inserts it. For
// inserted_corrected the caller's values overlay the payload and the result
// must pass validation; for inserted_as_is validation is bypassed and only
// values the column type can physically hold are written.
func (e *Engine) resolveValidationInsert(ctx context.Context, tenantID, id string, req models.ResolveValidationFailureRequest) (*models.ValidationFailure, error) {
	failure, err := e.failures.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if failure.IsResolved() {
		return nil, httperror.NewHTTPError(http.StatusConflict, "validation failure already resolved")
	}

	record, err := e.ledger.Get(ctx, tenantID, failure.ImportRecordID)
	if err != nil {
		return nil, err
	}
	mappings, err := record.Mappings()
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to decode import mappings")
	}

	table, err := e.tables.GetByKey(ctx, tenantID, failure.TargetTable)
	if err != nil {
		return nil, err
	}
	columns, err := table.ColumnDefs()
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to decode table columns")
	}

	var payload map[string]any
	if err := json.Unmarshal(failure.Payload, &payload); err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to decode failure payload")
	}

	base := e.mapper.ApplyRowLenient(mappings, payload)

	var values map[string]any
	if req.Action == models.ValidationActionInsertedCorrected {
		corrected, err := coerceStrict(columns, req.CorrectedValues)
		if err != nil {
			return nil, err
		}
		for col, value := range corrected {
			base[col] = value
		}

		checked := schema.NewValidator(columns).ValidateRecord(base)
		if !checked.Valid {
			return nil, httperror.NewHTTPError(http.StatusBadRequest, "corrected record still fails validation").
				AddMetaValue("errors", checked.Errors)
		}
		values = checked.Values
	} else {
		values = coerceBestEffort(columns, base)
	}

	rowID, err := e.rows.CreateFromValidation(ctx, tenantID, failure, req.Action, columns, values)
	if err != nil {
		return nil, err
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"failure_id": id,
		"row_id":     rowID,
		"table":      failure.TargetTable,
	}).Info("Inserted previously failed row")

	return e.failures.Get(ctx, tenantID, id)
}

// RollbackRowUpdate restores a merged row to its pre-update values
func (e *Engine) RollbackRowUpdate(ctx context.Context, tenantID, id string, req models.RollbackRowUpdateRequest) (*models.RowUpdate, error) {
	ctx, span := tracing.StartSpan(ctx, "resolution.Engine.RollbackRowUpdate")
	defer span.End()

	update, err := e.updates.Rollback(ctx, tenantID, id, req.Force)
	if err != nil {
		return nil, err
	}

	metrics.RecordResolution(tenantID, "row_update", "rolled_back")
	e.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id":     tenantID,
		"row_update_id": id,
		"row_id":        update.RowID,
		"force":         req.Force,
	}).Info("Rolled back row update")

	if e.emitter != nil {
		e.emitter.EmitRowUpdateRolledBack(ctx, update)
	}

	return update, nil
}

// coerceStrict coerces caller-supplied values to their column types.
// Unknown columns and uncoercible values are rejected; these values are
// explicit operator input, not file data to be forgiving about.
func coerceStrict(columns []models.ColumnDef, values map[string]any) (map[string]any, error) {
	byName := make(map[string]models.ColumnDef, len(columns))
	for _, col := range columns {
		byName[col.Name] = col
	}

	coerced := make(map[string]any, len(values))
	for name, value := range values {
		col, ok := byName[name]
		if !ok {
			return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "column %s is not a table column", name)
		}
		if value == nil {
			coerced[name] = nil
			continue
		}
		typed, err := schema.CoerceAny(col.Type, value)
		if err != nil {
			return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "column %s: %v", name, err)
		}
		coerced[name] = typed
	}
	return coerced, nil
}

// coerceBestEffort coerces what it can and drops the rest. The audit
// payload on the validation failure keeps the original values.
func coerceBestEffort(columns []models.ColumnDef, values map[string]any) map[string]any {
	coerced := make(map[string]any, len(values))
	for _, col := range columns {
		value, ok := values[col.Name]
		if !ok || value == nil {
			continue
		}
		typed, err := schema.CoerceAny(col.Type, value)
		if err != nil {
			continue
		}
		coerced[col.Name] = typed
	}
	return coerced
}
