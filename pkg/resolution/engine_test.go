package resolution

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

type stubDuplicateStore struct {
	records map[string]*models.DuplicateRecord
	claims  []string
}

func (s *stubDuplicateStore) Get(_ context.Context, _, id string) (*models.DuplicateRecord, error) {
	rec, ok := s.records[id]
	if !ok {
		return nil, httperror.NewHTTPError(http.StatusNotFound, "duplicate record not found")
	}
	return rec, nil
}

func (s *stubDuplicateStore) Claim(_ context.Context, _, id string, resolution models.DuplicateStrategy, rowUpdateID *string) (*models.DuplicateRecord, error) {
	rec, ok := s.records[id]
	if !ok {
		return nil, httperror.NewHTTPError(http.StatusNotFound, "duplicate record not found")
	}
	if rec.IsResolved() {
		return nil, httperror.NewHTTPError(http.StatusConflict, "duplicate record already resolved")
	}

	now := time.Now().UTC()
	rec.ResolvedAt = &now
	rec.Resolution = &resolution
	rec.RowUpdateID = rowUpdateID
	s.claims = append(s.claims, id)
	return rec, nil
}

type stubValidationStore struct {
	records map[string]*models.ValidationFailure
}

func (s *stubValidationStore) Get(_ context.Context, _, id string) (*models.ValidationFailure, error) {
	rec, ok := s.records[id]
	if !ok {
		return nil, httperror.NewHTTPError(http.StatusNotFound, "validation failure not found")
	}
	return rec, nil
}

func (s *stubValidationStore) Claim(_ context.Context, _, id string, action models.ValidationAction) (*models.ValidationFailure, error) {
	rec, ok := s.records[id]
	if !ok {
		return nil, httperror.NewHTTPError(http.StatusNotFound, "validation failure not found")
	}
	if rec.IsResolved() {
		return nil, httperror.NewHTTPError(http.StatusConflict, "validation failure already resolved")
	}

	now := time.Now().UTC()
	rec.ResolvedAt = &now
	rec.Resolution = &action
	return rec, nil
}

// stubRowWriter mirrors the repository contract: the insert and the claim
// land together, so a successful create resolves the source record.
type stubRowWriter struct {
	duplicates *stubDuplicateStore
	failures   *stubValidationStore
	inserted   []map[string]any
	nextID     int
}

func (s *stubRowWriter) CreateFromDuplicate(ctx context.Context, tenantID string, dup *models.DuplicateRecord, _ []models.ColumnDef, values map[string]any) (string, error) {
	if _, err := s.duplicates.Claim(ctx, tenantID, dup.ID, models.DuplicateStrategyCreateNew, nil); err != nil {
		return "", err
	}
	s.nextID++
	s.inserted = append(s.inserted, values)
	return "new-row", nil
}

func (s *stubRowWriter) CreateFromValidation(ctx context.Context, tenantID string, failure *models.ValidationFailure, action models.ValidationAction, _ []models.ColumnDef, values map[string]any) (string, error) {
	if _, err := s.failures.Claim(ctx, tenantID, failure.ID, action); err != nil {
		return "", err
	}
	s.nextID++
	s.inserted = append(s.inserted, values)
	return "new-row", nil
}

type stubUpdateStore struct {
	duplicates *stubDuplicateStore
	merges     []map[string]any
	updates    map[string]*models.RowUpdate
	conflicted bool // the row changed again after the update
}

func (s *stubUpdateStore) RecordMerge(ctx context.Context, tenantID string, dup *models.DuplicateRecord, newValues map[string]any) (*models.RowUpdate, error) {
	update := &models.RowUpdate{
		ID:             "update-1",
		RowID:          dup.ExistingRowID,
		ImportRecordID: dup.ImportRecordID,
		TargetTable:    dup.TargetTable,
	}
	updateID := update.ID
	if _, err := s.duplicates.Claim(ctx, tenantID, dup.ID, models.DuplicateStrategyMerge, &updateID); err != nil {
		return nil, err
	}
	s.merges = append(s.merges, newValues)
	return update, nil
}

func (s *stubUpdateStore) Rollback(_ context.Context, _, id string, force bool) (*models.RowUpdate, error) {
	update, ok := s.updates[id]
	if !ok {
		return nil, httperror.NewHTTPError(http.StatusNotFound, "row update not found")
	}
	if update.IsRolledBack() {
		return nil, httperror.NewHTTPError(http.StatusConflict, "row update already rolled back")
	}
	if s.conflicted && !force {
		return nil, httperror.NewHTTPError(http.StatusConflict, "row changed after this update; pass force to roll back anyway")
	}

	now := time.Now().UTC()
	update.RolledBackAt = &now
	return update, nil
}

type stubLedgerStore struct {
	records    map[string]*models.ImportRecord
	increments int
}

func (s *stubLedgerStore) Get(_ context.Context, _, id string) (*models.ImportRecord, error) {
	rec, ok := s.records[id]
	if !ok {
		return nil, httperror.NewHTTPError(http.StatusNotFound, "import record not found")
	}
	return rec, nil
}

func (s *stubLedgerStore) IncrementRowsUpdated(_ context.Context, _, _ string) error {
	s.increments++
	return nil
}

type stubTableStore struct {
	tables map[string]*models.TargetTable
}

func (s *stubTableStore) GetByKey(_ context.Context, _, key string) (*models.TargetTable, error) {
	table, ok := s.tables[key]
	if !ok {
		return nil, httperror.NewHTTPError(http.StatusNotFound, "target table not found")
	}
	return table, nil
}

type engineFixture struct {
	engine     *Engine
	duplicates *stubDuplicateStore
	failures   *stubValidationStore
	rows       *stubRowWriter
	updates    *stubUpdateStore
	ledger     *stubLedgerStore
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	columns := []models.ColumnDef{
		{Name: "email", Type: models.ColumnTypeText, Required: true},
		{Name: "age", Type: models.ColumnTypeInteger},
	}

	duplicates := &stubDuplicateStore{records: map[string]*models.DuplicateRecord{
		"dup-1": {
			ID:             "dup-1",
			ImportRecordID: "import-1",
			TargetTable:    "contacts",
			ExistingRowID:  "row-7",
			Payload:        []byte(`{"email":"a@x","age":31}`),
		},
	}}
	failures := &stubValidationStore{records: map[string]*models.ValidationFailure{
		"fail-1": {
			ID:             "fail-1",
			ImportRecordID: "import-1",
			TargetTable:    "contacts",
			Payload:        []byte(`{"email":"","age":"not a number"}`),
		},
	}}
	rows := &stubRowWriter{duplicates: duplicates, failures: failures}
	updates := &stubUpdateStore{
		duplicates: duplicates,
		updates: map[string]*models.RowUpdate{
			"update-1": {ID: "update-1", RowID: "row-7"},
		},
	}
	ledger := &stubLedgerStore{records: map[string]*models.ImportRecord{
		"import-1": {ID: "import-1", TargetTable: "contacts"},
	}}
	tables := &stubTableStore{tables: map[string]*models.TargetTable{
		"contacts": {Key: "contacts", Columns: mustJSON(t, columns)},
	}}

	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	return &engineFixture{
		engine:     NewEngine(duplicates, failures, rows, updates, ledger, tables, nil, logger),
		duplicates: duplicates,
		failures:   failures,
		rows:       rows,
		updates:    updates,
		ledger:     ledger,
	}
}

func TestResolveDuplicate_KeepExisting(t *testing.T) {
	f := newEngineFixture(t)

	resolved, err := f.engine.ResolveDuplicate(context.Background(), "tenant-1", "dup-1", models.ResolveDuplicateRequest{
		Strategy: models.DuplicateStrategyKeepExisting,
	})
	require.NoError(t, err)

	assert.True(t, resolved.IsResolved())
	assert.Equal(t, models.DuplicateStrategyKeepExisting, *resolved.Resolution)
	assert.Empty(t, f.rows.inserted, "keep_existing writes nothing")
}

func TestResolveDuplicate_UnknownStrategy(t *testing.T) {
	f := newEngineFixture(t)

	_, err := f.engine.ResolveDuplicate(context.Background(), "tenant-1", "dup-1", models.ResolveDuplicateRequest{
		Strategy: "overwrite",
	})

	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))
}

func TestResolveDuplicate_AlreadyResolved(t *testing.T) {
	f := newEngineFixture(t)
	now := time.Now().UTC()
	f.duplicates.records["dup-1"].ResolvedAt = &now

	_, err := f.engine.ResolveDuplicate(context.Background(), "tenant-1", "dup-1", models.ResolveDuplicateRequest{
		Strategy: models.DuplicateStrategyKeepExisting,
	})

	require.Error(t, err)
	assert.Equal(t, http.StatusConflict, httperror.GetStatusCode(err))
}

func TestResolveDuplicate_Merge(t *testing.T) {
	f := newEngineFixture(t)

	resolved, err := f.engine.ResolveDuplicate(context.Background(), "tenant-1", "dup-1", models.ResolveDuplicateRequest{
		Strategy:    models.DuplicateStrategyMerge,
		MergeValues: map[string]any{"age": "42"},
	})
	require.NoError(t, err)

	assert.True(t, resolved.IsResolved())
	assert.Equal(t, models.DuplicateStrategyMerge, *resolved.Resolution)
	require.NotNil(t, resolved.RowUpdateID)
	assert.Equal(t, "update-1", *resolved.RowUpdateID)

	require.Len(t, f.updates.merges, 1)
	assert.Equal(t, int64(42), f.updates.merges[0]["age"], "merge values are coerced to the column type")
	assert.Equal(t, 1, f.ledger.increments)
}

func TestResolveDuplicate_MergeNeedsValues(t *testing.T) {
	f := newEngineFixture(t)

	_, err := f.engine.ResolveDuplicate(context.Background(), "tenant-1", "dup-1", models.ResolveDuplicateRequest{
		Strategy: models.DuplicateStrategyMerge,
	})

	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))
}

func TestResolveDuplicate_MergeRejectsUnknownColumn(t *testing.T) {
	f := newEngineFixture(t)

	_, err := f.engine.ResolveDuplicate(context.Background(), "tenant-1", "dup-1", models.ResolveDuplicateRequest{
		Strategy:    models.DuplicateStrategyMerge,
		MergeValues: map[string]any{"nickname": "ace"},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "nickname")
	assert.Empty(t, f.updates.merges)
}

func TestResolveDuplicate_CreateNew(t *testing.T) {
	f := newEngineFixture(t)

	resolved, err := f.engine.ResolveDuplicate(context.Background(), "tenant-1", "dup-1", models.ResolveDuplicateRequest{
		Strategy: models.DuplicateStrategyCreateNew,
	})
	require.NoError(t, err)

	assert.True(t, resolved.IsResolved())
	require.Len(t, f.rows.inserted, 1)
	assert.Equal(t, "a@x", f.rows.inserted[0]["email"])
	assert.Equal(t, int64(31), f.rows.inserted[0]["age"])
}

func TestResolveDuplicate_CreateNewAgainstGrownSchema(t *testing.T) {
	f := newEngineFixture(t)
	// the stored payload has no phone, which the table now requires
	grown := []models.ColumnDef{
		{Name: "email", Type: models.ColumnTypeText, Required: true},
		{Name: "phone", Type: models.ColumnTypeText, Required: true},
	}
	tables := &stubTableStore{tables: map[string]*models.TargetTable{
		"contacts": {Key: "contacts", Columns: mustJSON(t, grown)},
	}}
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	engine := NewEngine(f.duplicates, f.failures, f.rows, f.updates, f.ledger, tables, nil, logger)

	_, err := engine.ResolveDuplicate(context.Background(), "tenant-1", "dup-1", models.ResolveDuplicateRequest{
		Strategy: models.DuplicateStrategyCreateNew,
	})

	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))
	assert.Empty(t, f.rows.inserted)
}

func TestBulkResolveDuplicates_StopsAtFirstFailure(t *testing.T) {
	f := newEngineFixture(t)
	f.duplicates.records["dup-2"] = &models.DuplicateRecord{ID: "dup-2", TargetTable: "contacts", Payload: []byte(`{}`)}
	f.duplicates.records["dup-3"] = &models.DuplicateRecord{ID: "dup-3", TargetTable: "contacts", Payload: []byte(`{}`)}

	resp, err := f.engine.BulkResolveDuplicates(context.Background(), "tenant-1", models.BulkResolveDuplicatesRequest{
		IDs:      []string{"dup-1", "missing", "dup-3"},
		Strategy: models.DuplicateStrategyKeepExisting,
	})
	require.NoError(t, err)

	assert.Equal(t, 3, resp.Requested)
	assert.Equal(t, 1, resp.Resolved)
	require.NotNil(t, resp.FailedID)
	assert.Equal(t, "missing", *resp.FailedID)
	assert.NotEmpty(t, resp.Error)
	assert.False(t, f.duplicates.records["dup-3"].IsResolved(), "records after the failure are untouched")
}

func TestBulkResolveDuplicates_AllSucceed(t *testing.T) {
	f := newEngineFixture(t)
	f.duplicates.records["dup-2"] = &models.DuplicateRecord{ID: "dup-2", TargetTable: "contacts", Payload: []byte(`{}`)}

	resp, err := f.engine.BulkResolveDuplicates(context.Background(), "tenant-1", models.BulkResolveDuplicatesRequest{
		IDs:      []string{"dup-1", "dup-2"},
		Strategy: models.DuplicateStrategyKeepExisting,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, resp.Resolved)
	assert.Nil(t, resp.FailedID)
}

func TestResolveValidation_Discarded(t *testing.T) {
	f := newEngineFixture(t)

	resolved, err := f.engine.ResolveValidation(context.Background(), "tenant-1", "fail-1", models.ResolveValidationFailureRequest{
		Action: models.ValidationActionDiscarded,
	})
	require.NoError(t, err)

	assert.True(t, resolved.IsResolved())
	assert.Equal(t, models.ValidationActionDiscarded, *resolved.Resolution)
	assert.Empty(t, f.rows.inserted)
}

func TestResolveValidation_InsertedCorrected(t *testing.T) {
	f := newEngineFixture(t)

	resolved, err := f.engine.ResolveValidation(context.Background(), "tenant-1", "fail-1", models.ResolveValidationFailureRequest{
		Action:          models.ValidationActionInsertedCorrected,
		CorrectedValues: map[string]any{"email": "fixed@x", "age": "25"},
	})
	require.NoError(t, err)

	assert.True(t, resolved.IsResolved())
	require.Len(t, f.rows.inserted, 1)
	assert.Equal(t, "fixed@x", f.rows.inserted[0]["email"])
	assert.Equal(t, int64(25), f.rows.inserted[0]["age"])
}

func TestResolveValidation_CorrectionStillInvalid(t *testing.T) {
	f := newEngineFixture(t)

	_, err := f.engine.ResolveValidation(context.Background(), "tenant-1", "fail-1", models.ResolveValidationFailureRequest{
		Action:          models.ValidationActionInsertedCorrected,
		CorrectedValues: map[string]any{"age": "25"}, // email stays empty
	})

	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))
	assert.Empty(t, f.rows.inserted)
	assert.False(t, f.failures.records["fail-1"].IsResolved())
}

func TestResolveValidation_InsertedAsIs(t *testing.T) {
	f := newEngineFixture(t)

	resolved, err := f.engine.ResolveValidation(context.Background(), "tenant-1", "fail-1", models.ResolveValidationFailureRequest{
		Action: models.ValidationActionInsertedAsIs,
	})
	require.NoError(t, err)

	assert.True(t, resolved.IsResolved())
	require.Len(t, f.rows.inserted, 1)
	_, hasAge := f.rows.inserted[0]["age"]
	assert.False(t, hasAge, "values the column cannot hold are dropped, not fatal")
	assert.Equal(t, "", f.rows.inserted[0]["email"], "as-is keeps what fits, validation is bypassed")
}

func TestResolveValidation_UnknownAction(t *testing.T) {
	f := newEngineFixture(t)

	_, err := f.engine.ResolveValidation(context.Background(), "tenant-1", "fail-1", models.ResolveValidationFailureRequest{
		Action: "requeue",
	})

	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))
}

func TestRollbackRowUpdate(t *testing.T) {
	f := newEngineFixture(t)

	update, err := f.engine.RollbackRowUpdate(context.Background(), "tenant-1", "update-1", models.RollbackRowUpdateRequest{})
	require.NoError(t, err)

	assert.True(t, update.IsRolledBack())
}

func TestRollbackRowUpdate_ConflictNeedsForce(t *testing.T) {
	f := newEngineFixture(t)
	f.updates.conflicted = true

	_, err := f.engine.RollbackRowUpdate(context.Background(), "tenant-1", "update-1", models.RollbackRowUpdateRequest{})
	require.Error(t, err)
	assert.Equal(t, http.StatusConflict, httperror.GetStatusCode(err))

	update, err := f.engine.RollbackRowUpdate(context.Background(), "tenant-1", "update-1", models.RollbackRowUpdateRequest{Force: true})
	require.NoError(t, err)
	assert.True(t, update.IsRolledBack())
}

func TestRollbackRowUpdate_OnlyOnce(t *testing.T) {
	f := newEngineFixture(t)

	_, err := f.engine.RollbackRowUpdate(context.Background(), "tenant-1", "update-1", models.RollbackRowUpdateRequest{})
	require.NoError(t, err)

	_, err = f.engine.RollbackRowUpdate(context.Background(), "tenant-1", "update-1", models.RollbackRowUpdateRequest{})
	require.Error(t, err)
	assert.Equal(t, http.StatusConflict, httperror.GetStatusCode(err))
}
