package tablerow

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/schema"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/google/uuid"
)

// insertBatchSize caps the rows per INSERT statement inside a chunk
// transaction to stay well under the driver's parameter limit.
const insertBatchSize = 500

// probeBatchSize caps the tuples per uniqueness probe query
const probeBatchSize = 5000

// Repository handles the physical tables rows are imported into
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new table row repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// EnsurePhysical creates the physical table for a target table definition
// if it does not exist yet
func (r *Repository) EnsurePhysical(ctx context.Context, tenantID, key string, columns []models.ColumnDef) error {
	ctx, span := tracing.StartSpan(ctx, "tablerow.Repository.EnsurePhysical")
	defer span.End()

	physName := schema.PhysicalTableName(tenantID, key)

	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(database.QuoteIdent(physName))
	b.WriteString(" (\n")
	b.WriteString(fmt.Sprintf("\t%s UUID PRIMARY KEY,\n", schema.RowIDColumn))
	b.WriteString("\ttenant_id TEXT NOT NULL,\n")
	b.WriteString(fmt.Sprintf("\t%s UUID NOT NULL,\n", schema.ImportIDColumn))
	b.WriteString(fmt.Sprintf("\t%s TIMESTAMPTZ NOT NULL DEFAULT NOW()", schema.CreatedColumn))
	for _, col := range columns {
		b.WriteString(",\n\t")
		b.WriteString(database.QuoteIdent(col.Name))
		b.WriteString(" ")
		b.WriteString(schema.SQLType(col.Type))
	}
	b.WriteString("\n)")

	if _, err := r.db.ExecContext(ctx, b.String()); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID, "table": physName}).Error("Failed to create physical table")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create import table")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"table": physName, "columns": len(columns)}).Info("Ensured physical table")
	return nil
}

// AddColumns extends the physical table with new columns
func (r *Repository) AddColumns(ctx context.Context, tenantID, key string, columns []models.ColumnDef) error {
	ctx, span := tracing.StartSpan(ctx, "tablerow.Repository.AddColumns")
	defer span.End()

	physName := schema.PhysicalTableName(tenantID, key)
	for _, col := range columns {
		query := fmt.Sprintf(
			"ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s",
			database.QuoteIdent(physName), database.QuoteIdent(col.Name), schema.SQLType(col.Type),
		)
		if _, err := r.db.ExecContext(ctx, query); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"table": physName, "column": col.Name}).Error("Failed to add column")
			return httperror.NewHTTPError(http.StatusInternalServerError, "failed to extend import table")
		}
	}
	return nil
}

// InsertChunk bulk inserts one chunk of accepted rows in a single
// transaction, returning the assigned row ids in input order. Either every
// row in the chunk commits or none do; earlier chunks are unaffected by a
// failure here.
func (r *Repository) InsertChunk(ctx context.Context, tenantID, key, importID string, columns []models.ColumnDef, rows []map[string]any) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "tablerow.Repository.InsertChunk")
	defer span.End()

	if len(rows) == 0 {
		return nil, nil
	}

	physName := schema.PhysicalTableName(tenantID, key)
	now := time.Now().UTC()

	colNames := make([]string, 0, len(columns)+4)
	colNames = append(colNames, database.QuoteIdent(schema.RowIDColumn), "tenant_id", database.QuoteIdent(schema.ImportIDColumn), database.QuoteIdent(schema.CreatedColumn))
	for _, col := range columns {
		colNames = append(colNames, database.QuoteIdent(col.Name))
	}

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to start transaction")
	}
	defer tx.Rollback(ctx)

	rowIDs := make([]string, 0, len(rows))
	for start := 0; start < len(rows); start += insertBatchSize {
		end := start + insertBatchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]

		var b strings.Builder
		args := make([]any, 0, len(batch)*len(colNames))
		b.WriteString("INSERT INTO ")
		b.WriteString(database.QuoteIdent(physName))
		b.WriteString(" (")
		b.WriteString(strings.Join(colNames, ", "))
		b.WriteString(") VALUES ")

		for i, row := range batch {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString("(")
			for j := 0; j < len(colNames); j++ {
				if j > 0 {
					b.WriteString(", ")
				}
				b.WriteString(fmt.Sprintf("$%d", len(args)+1))
				switch j {
				case 0:
					rowID := uuid.New().String()
					rowIDs = append(rowIDs, rowID)
					args = append(args, rowID)
				case 1:
					args = append(args, tenantID)
				case 2:
					args = append(args, importID)
				case 3:
					args = append(args, now)
				default:
					args = append(args, row[columns[j-4].Name])
				}
			}
			b.WriteString(")")
		}

		if _, err := tx.ExecContext(ctx, b.String(), args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"table":     physName,
				"import_id": importID,
				"rows":      len(batch),
			}).Error("Failed to insert chunk batch")
			return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to insert chunk")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit chunk")
	}

	return rowIDs, nil
}

// FindExisting probes the table for rows matching the given uniqueness-set
// tuples. Returns tuple ordinal → existing row id for every match. Tuples
// containing nil never match, mirroring SQL NULL semantics.
func (r *Repository) FindExisting(ctx context.Context, tenantID, key string, set []models.ColumnDef, tuples [][]any) (map[int]string, error) {
	ctx, span := tracing.StartSpan(ctx, "tablerow.Repository.FindExisting")
	defer span.End()

	matches := make(map[int]string)
	if len(tuples) == 0 || len(set) == 0 {
		return matches, nil
	}

	physName := schema.PhysicalTableName(tenantID, key)

	for start := 0; start < len(tuples); start += probeBatchSize {
		end := start + probeBatchSize
		if end > len(tuples) {
			end = len(tuples)
		}

		var b strings.Builder
		args := make([]any, 0, (end-start)*len(set)+1)

		b.WriteString("SELECT t.")
		b.WriteString(database.QuoteIdent(schema.RowIDColumn))
		b.WriteString(" AS row_id, v.ord AS ord FROM ")
		b.WriteString(database.QuoteIdent(physName))
		b.WriteString(" t JOIN (VALUES ")

		for i := start; i < end; i++ {
			if i > start {
				b.WriteString(", ")
			}
			b.WriteString("(")
			for j, col := range set {
				if j > 0 {
					b.WriteString(", ")
				}
				args = append(args, tuples[i][j])
				b.WriteString(fmt.Sprintf("$%d::%s", len(args), schema.SQLType(col.Type)))
			}
			b.WriteString(fmt.Sprintf(", %d)", i))
		}

		b.WriteString(") AS v(")
		for j := range set {
			b.WriteString(fmt.Sprintf("c%d, ", j))
		}
		b.WriteString("ord) ON ")
		for j, col := range set {
			if j > 0 {
				b.WriteString(" AND ")
			}
			b.WriteString(fmt.Sprintf("t.%s = v.c%d", database.QuoteIdent(col.Name), j))
		}
		args = append(args, tenantID)
		b.WriteString(fmt.Sprintf(" WHERE t.tenant_id = $%d", len(args)))

		var found []struct {
			RowID string `db:"row_id"`
			Ord   int    `db:"ord"`
		}
		if err := r.db.SelectContext(ctx, &found, b.String(), args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"table": physName, "tuples": end - start}).Error("Failed to probe uniqueness")
			return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to check uniqueness")
		}
		for _, f := range found {
			matches[f.Ord] = f.RowID
		}
	}

	return matches, nil
}

// insertOne writes a single row inside the given transaction, returning the
// assigned row id. Only values for known columns are written.
func (r *Repository) insertOne(ctx context.Context, tx database.Tx, physName, tenantID, importID string, columns []models.ColumnDef, values map[string]any, now time.Time) (string, error) {
	rowID := uuid.New().String()

	colNames := []string{database.QuoteIdent(schema.RowIDColumn), "tenant_id", database.QuoteIdent(schema.ImportIDColumn), database.QuoteIdent(schema.CreatedColumn)}
	args := []any{rowID, tenantID, importID, now}
	for _, col := range columns {
		if value, ok := values[col.Name]; ok {
			colNames = append(colNames, database.QuoteIdent(col.Name))
			args = append(args, value)
		}
	}

	placeholders := make([]string, len(args))
	for i := range args {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		database.QuoteIdent(physName), strings.Join(colNames, ", "), strings.Join(placeholders, ", "),
	)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"table": physName, "import_id": importID}).Error("Failed to insert row")
		return "", httperror.NewHTTPError(http.StatusInternalServerError, "failed to insert row")
	}

	return rowID, nil
}

// CreateFromDuplicate inserts a duplicate's payload as a new row, bypassing
// uniqueness, and claims the duplicate record in the same transaction. When
// another resolution claimed the record first nothing is committed and a
// conflict is returned.
func (r *Repository) CreateFromDuplicate(ctx context.Context, tenantID string, dup *models.DuplicateRecord, columns []models.ColumnDef, values map[string]any) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "tablerow.Repository.CreateFromDuplicate")
	defer span.End()

	physName := schema.PhysicalTableName(tenantID, dup.TargetTable)
	now := time.Now().UTC()

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return "", httperror.NewHTTPError(http.StatusInternalServerError, "failed to start transaction")
	}
	defer tx.Rollback(ctx)

	rowID, err := r.insertOne(ctx, tx, physName, tenantID, dup.ImportRecordID, columns, values, now)
	if err != nil {
		return "", err
	}

	claimQuery := `UPDATE duplicate_records SET resolved_at = $1, resolution = $2 WHERE id = $3 AND tenant_id = $4 AND resolved_at IS NULL`
	result, err := tx.ExecContext(ctx, claimQuery, now, string(models.DuplicateStrategyCreateNew), dup.ID, tenantID)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"duplicate_id": dup.ID}).Error("Failed to claim duplicate record")
		return "", httperror.NewHTTPError(http.StatusInternalServerError, "failed to resolve duplicate record")
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return "", httperror.NewHTTPError(http.StatusInternalServerError, "failed to resolve duplicate record")
	}
	if rowsAffected == 0 {
		return "", httperror.NewHTTPError(http.StatusConflict, "duplicate record already resolved")
	}

	if err := tx.Commit(ctx); err != nil {
		return "", httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit resolution")
	}

	return rowID, nil
}

// CreateFromValidation inserts a corrected or as-is payload as a new row and
// claims the validation failure in the same transaction. When another
// resolution claimed the failure first nothing is committed and a conflict
// is returned.
func (r *Repository) CreateFromValidation(ctx context.Context, tenantID string, failure *models.ValidationFailure, action models.ValidationAction, columns []models.ColumnDef, values map[string]any) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "tablerow.Repository.CreateFromValidation")
	defer span.End()

	physName := schema.PhysicalTableName(tenantID, failure.TargetTable)
	now := time.Now().UTC()

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return "", httperror.NewHTTPError(http.StatusInternalServerError, "failed to start transaction")
	}
	defer tx.Rollback(ctx)

	rowID, err := r.insertOne(ctx, tx, physName, tenantID, failure.ImportRecordID, columns, values, now)
	if err != nil {
		return "", err
	}

	claimQuery := `UPDATE validation_failures SET resolved_at = $1, resolution = $2 WHERE id = $3 AND tenant_id = $4 AND resolved_at IS NULL`
	result, err := tx.ExecContext(ctx, claimQuery, now, string(action), failure.ID, tenantID)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"failure_id": failure.ID}).Error("Failed to claim validation failure")
		return "", httperror.NewHTTPError(http.StatusInternalServerError, "failed to resolve validation failure")
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return "", httperror.NewHTTPError(http.StatusInternalServerError, "failed to resolve validation failure")
	}
	if rowsAffected == 0 {
		return "", httperror.NewHTTPError(http.StatusConflict, "validation failure already resolved")
	}

	if err := tx.Commit(ctx); err != nil {
		return "", httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit resolution")
	}

	return rowID, nil
}

// GetRow fetches the named columns of one row; nil when the row is gone
func (r *Repository) GetRow(ctx context.Context, tenantID, key, rowID string, columns []string) (map[string]any, error) {
	ctx, span := tracing.StartSpan(ctx, "tablerow.Repository.GetRow")
	defer span.End()

	physName := schema.PhysicalTableName(tenantID, key)

	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = database.QuoteIdent(col)
	}

	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE tenant_id = $1 AND %s = $2",
		strings.Join(quoted, ", "), database.QuoteIdent(physName), database.QuoteIdent(schema.RowIDColumn),
	)

	row := r.db.QueryRowxContext(ctx, query, tenantID, rowID)
	values := make(map[string]any)
	if err := row.MapScan(values); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"table": physName, "row_id": rowID}).Error("Failed to get row")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get row")
	}

	return NormalizeScan(values), nil
}

// CountRows returns the number of rows a given import wrote to the table
func (r *Repository) CountRows(ctx context.Context, tenantID, key, importID string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "tablerow.Repository.CountRows")
	defer span.End()

	physName := schema.PhysicalTableName(tenantID, key)
	query := fmt.Sprintf(
		"SELECT COUNT(*) FROM %s WHERE tenant_id = $1 AND %s = $2",
		database.QuoteIdent(physName), database.QuoteIdent(schema.ImportIDColumn),
	)

	var count int
	if err := r.db.GetContext(ctx, &count, query, tenantID, importID); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"table": physName, "import_id": importID}).Error("Failed to count rows")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count rows")
	}
	return count, nil
}

// NormalizeScan converts driver byte slices from a MapScan into strings so
// scanned values compare cleanly against decoded JSON snapshots
func NormalizeScan(values map[string]any) map[string]any {
	for k, v := range values {
		if b, ok := v.([]byte); ok {
			values[k] = string(b)
		}
	}
	return values
}
