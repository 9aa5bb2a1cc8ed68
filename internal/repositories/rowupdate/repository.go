package rowupdate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/schema"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
	"github.com/lib/pq"
)

const updateColumns = `id, tenant_id, import_record_id, target_table, row_id, updated_columns, previous_values, new_values, updated_at, rolled_back_at`

// Repository handles row update history and the merge/rollback workflows
// that touch the physical tables and the update log in one transaction
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new row update repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Get fetches a row update by id
func (r *Repository) Get(ctx context.Context, tenantID, id string) (*models.RowUpdate, error) {
	ctx, span := tracing.StartSpan(ctx, "rowupdate.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(updateColumns)
	sb.From("row_updates")
	sb.Where(sb.Equal("id", id), sb.Equal("tenant_id", tenantID))

	query, args := sb.Build()
	var update models.RowUpdate
	if err := r.db.GetContext(ctx, &update, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, "row update not found")
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"tenant_id": tenantID,
			"id":        id,
		}).Error("Failed to get row update")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get row update")
	}

	return &update, nil
}

// List returns row updates for a tenant, optionally scoped to one table or
// one row, newest first
func (r *Repository) List(ctx context.Context, tenantID string, importRecordID, targetTable, rowID *string, page, pageSize int) (*models.RowUpdateListResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "rowupdate.Repository.List")
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	countSb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	countSb.Select("COUNT(*)")
	countSb.From("row_updates")
	countSb.Where(countSb.Equal("tenant_id", tenantID))
	if importRecordID != nil {
		countSb.Where(countSb.Equal("import_record_id", *importRecordID))
	}
	if targetTable != nil {
		countSb.Where(countSb.Equal("target_table", *targetTable))
	}
	if rowID != nil {
		countSb.Where(countSb.Equal("row_id", *rowID))
	}

	countQuery, countArgs := countSb.Build()
	var totalCount int
	if err := r.db.GetContext(ctx, &totalCount, countQuery, countArgs...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID}).Error("Failed to count row updates")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list row updates")
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(updateColumns)
	sb.From("row_updates")
	sb.Where(sb.Equal("tenant_id", tenantID))
	if importRecordID != nil {
		sb.Where(sb.Equal("import_record_id", *importRecordID))
	}
	if targetTable != nil {
		sb.Where(sb.Equal("target_table", *targetTable))
	}
	if rowID != nil {
		sb.Where(sb.Equal("row_id", *rowID))
	}
	sb.OrderBy("updated_at").Desc()
	sb.Limit(pageSize).Offset((page - 1) * pageSize)

	query, args := sb.Build()
	updates := []models.RowUpdate{}
	if err := r.db.SelectContext(ctx, &updates, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID}).Error("Failed to list row updates")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list row updates")
	}

	return &models.RowUpdateListResponse{
		Items:      updates,
		TotalCount: totalCount,
		Page:       page,
		PageSize:   pageSize,
	}, nil
}

// RecordMerge applies a merge resolution: it rewrites the existing physical
// row with the merged values, logs the update with before and after
// snapshots, and claims the duplicate record, all in one transaction. When
// another resolution claimed the duplicate first nothing is committed and a
// conflict is returned.
func (r *Repository) RecordMerge(ctx context.Context, tenantID string, dup *models.DuplicateRecord, newValues map[string]any) (*models.RowUpdate, error) {
	ctx, span := tracing.StartSpan(ctx, "rowupdate.Repository.RecordMerge")
	defer span.End()

	if len(newValues) == 0 {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "merge produced no values to apply")
	}

	updatedColumns := make([]string, 0, len(newValues))
	for col := range newValues {
		updatedColumns = append(updatedColumns, col)
	}
	sort.Strings(updatedColumns)

	physName := schema.PhysicalTableName(tenantID, dup.TargetTable)

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to start transaction")
	}
	defer tx.Rollback(ctx)

	previous, err := r.lockRow(ctx, tx, physName, tenantID, dup.ExistingRowID, updatedColumns)
	if err != nil {
		return nil, err
	}
	if previous == nil {
		return nil, httperror.NewHTTPError(http.StatusNotFound, "existing row not found")
	}

	if err := r.writeRow(ctx, tx, physName, tenantID, dup.ExistingRowID, updatedColumns, newValues); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"tenant_id": tenantID,
			"table":     physName,
			"row_id":    dup.ExistingRowID,
		}).Error("Failed to apply merge values")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to apply merge")
	}

	previousJSON, err := json.Marshal(previous)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to snapshot previous values")
	}
	newJSON, err := json.Marshal(newValues)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to snapshot merged values")
	}

	update := &models.RowUpdate{
		ID:             uuid.New().String(),
		TenantID:       tenantID,
		ImportRecordID: dup.ImportRecordID,
		TargetTable:    dup.TargetTable,
		RowID:          dup.ExistingRowID,
		UpdatedColumns: pq.StringArray(updatedColumns),
		PreviousValues: previousJSON,
		NewValues:      newJSON,
		UpdatedAt:      time.Now().UTC(),
	}

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("row_updates")
	ib.Cols("id", "tenant_id", "import_record_id", "target_table", "row_id", "updated_columns", "previous_values", "new_values", "updated_at")
	ib.Values(update.ID, update.TenantID, update.ImportRecordID, update.TargetTable, update.RowID, update.UpdatedColumns, update.PreviousValues, update.NewValues, update.UpdatedAt)

	query, args := ib.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"tenant_id": tenantID,
			"row_id":    dup.ExistingRowID,
		}).Error("Failed to record row update")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to record row update")
	}

	claim := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	claim.Update("duplicate_records")
	claim.Set(
		claim.Assign("resolved_at", update.UpdatedAt),
		claim.Assign("resolution", string(models.DuplicateStrategyMerge)),
		claim.Assign("row_update_id", update.ID),
	)
	claim.Where(claim.Equal("id", dup.ID), claim.Equal("tenant_id", tenantID), claim.IsNull("resolved_at"))

	query, args = claim.Build()
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"tenant_id":    tenantID,
			"duplicate_id": dup.ID,
		}).Error("Failed to claim duplicate record")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to resolve duplicate record")
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to resolve duplicate record")
	}
	if rowsAffected == 0 {
		return nil, httperror.NewHTTPError(http.StatusConflict, "duplicate record already resolved")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit merge")
	}

	return update, nil
}

// Rollback restores the pre-update values of the target row and marks the
// update rolled back, in one transaction. Unless force is set, the rollback
// is refused when the row's current values no longer match the values the
// update wrote.
func (r *Repository) Rollback(ctx context.Context, tenantID, id string, force bool) (*models.RowUpdate, error) {
	ctx, span := tracing.StartSpan(ctx, "rowupdate.Repository.Rollback")
	defer span.End()

	update, err := r.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if update.IsRolledBack() {
		return nil, httperror.NewHTTPError(http.StatusConflict, "row update already rolled back")
	}

	previousValues, err := update.PreviousValueMap()
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to decode previous values")
	}
	newValues, err := update.NewValueMap()
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to decode updated values")
	}

	physName := schema.PhysicalTableName(tenantID, update.TargetTable)
	columns := []string(update.UpdatedColumns)

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to start transaction")
	}
	defer tx.Rollback(ctx)

	current, err := r.lockRow(ctx, tx, physName, tenantID, update.RowID, columns)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, httperror.NewHTTPError(http.StatusNotFound, "updated row no longer exists")
	}

	if !force {
		for _, col := range columns {
			if !valuesEqual(current[col], newValues[col]) {
				return nil, httperror.NewHTTPError(http.StatusConflict, "row has changed since the update").
					AddMetaValue("column", col)
			}
		}
	}

	if err := r.writeRow(ctx, tx, physName, tenantID, update.RowID, columns, previousValues); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"tenant_id": tenantID,
			"table":     physName,
			"row_id":    update.RowID,
		}).Error("Failed to restore previous values")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to roll back row update")
	}

	now := time.Now().UTC()
	markQuery := `UPDATE row_updates SET rolled_back_at = $1 WHERE id = $2 AND tenant_id = $3 AND rolled_back_at IS NULL`
	result, err := tx.ExecContext(ctx, markQuery, now, id, tenantID)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"tenant_id": tenantID,
			"id":        id,
		}).Error("Failed to mark row update rolled back")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to roll back row update")
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to roll back row update")
	}
	if rowsAffected == 0 {
		return nil, httperror.NewHTTPError(http.StatusConflict, "row update already rolled back")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit rollback")
	}

	update.RolledBackAt = &now
	return update, nil
}

// lockRow reads the named columns of one physical row under FOR UPDATE.
// Returns nil when the row does not exist.
func (r *Repository) lockRow(ctx context.Context, tx database.Tx, physName, tenantID, rowID string, columns []string) (map[string]any, error) {
	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = database.QuoteIdent(col)
	}

	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE tenant_id = $1 AND %s = $2 FOR UPDATE",
		strings.Join(quoted, ", "), database.QuoteIdent(physName), database.QuoteIdent(schema.RowIDColumn),
	)

	row := tx.QueryRowxContext(ctx, query, tenantID, rowID)
	values := make(map[string]any)
	if err := row.MapScan(values); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"tenant_id": tenantID,
			"table":     physName,
			"row_id":    rowID,
		}).Error("Failed to lock row")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to read row")
	}

	for k, v := range values {
		if b, ok := v.([]byte); ok {
			values[k] = string(b)
		}
	}
	return values, nil
}

// writeRow updates the named columns of one physical row inside the
// caller's transaction
func (r *Repository) writeRow(ctx context.Context, tx database.Tx, physName, tenantID, rowID string, columns []string, values map[string]any) error {
	assignments := make([]string, len(columns))
	args := make([]any, 0, len(columns)+2)
	for i, col := range columns {
		args = append(args, values[col])
		assignments[i] = fmt.Sprintf("%s = $%d", database.QuoteIdent(col), len(args))
	}
	args = append(args, tenantID, rowID)

	query := fmt.Sprintf(
		"UPDATE %s SET %s WHERE tenant_id = $%d AND %s = $%d",
		database.QuoteIdent(physName), strings.Join(assignments, ", "), len(args)-1, database.QuoteIdent(schema.RowIDColumn), len(args),
	)
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// valuesEqual compares a scanned database value against a JSON-decoded
// snapshot value by canonical JSON form, which tolerates the driver and
// encoding type differences between the two sides
func valuesEqual(a, b any) bool {
	aJSON, errA := json.Marshal(a)
	bJSON, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(aJSON, bJSON)
}
