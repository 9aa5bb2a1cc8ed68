package importrecord_test

import (
	"context"
	"net/http"
	"os"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ramsey-B/fern/internal/repositories/importrecord"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

func getTestDB(t *testing.T) database.DB {
	dbHost := os.Getenv("DB_HOST")
	if dbHost == "" {
		dbHost = "localhost"
	}
	dbUser := os.Getenv("DB_USER_NAME")
	if dbUser == "" {
		dbUser = "user"
	}
	dbPass := os.Getenv("DB_PASSWORD")
	if dbPass == "" {
		dbPass = "password"
	}
	dbName := os.Getenv("DB_NAME")
	if dbName == "" {
		dbName = "fern"
	}

	dsn := "host=" + dbHost + " user=" + dbUser + " password=" + dbPass + " dbname=" + dbName + " sslmode=disable"
	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err, "Failed to connect to test database")

	return database.NewDatabaseInstance(db, getTestLogger())
}

func TestImportRecordFinalize(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	repo := importrecord.NewRepository(db, getTestLogger())

	tenantID := uuid.New().String()
	ctx := context.Background()

	record, err := repo.Create(ctx, tenantID, uuid.New().String(), "contacts", nil, []models.ColumnMapping{
		{SourceColumn: "Email", TargetColumn: "email"},
	})
	require.NoError(t, err)
	assert.Nil(t, record.FinalizedAt)

	counts := models.ImportCounts{
		RowsProcessed:          100,
		RowsInserted:           90,
		DuplicateCount:         7,
		ValidationFailureCount: 3,
	}
	finalized, err := repo.Finalize(ctx, tenantID, record.ID, counts)
	require.NoError(t, err)
	require.NotNil(t, finalized.FinalizedAt)
	assert.Equal(t, counts, finalized.Counts())

	// Finalizing again with the same counts is a no-op
	again, err := repo.Finalize(ctx, tenantID, record.ID, counts)
	require.NoError(t, err)
	assert.Equal(t, finalized.FinalizedAt, again.FinalizedAt)
	assert.Equal(t, counts, again.Counts())

	// Different counts after finalization are a conflict, not a silent overwrite
	counts.RowsInserted = 85
	_, err = repo.Finalize(ctx, tenantID, record.ID, counts)
	require.Error(t, err)
	assert.Equal(t, http.StatusConflict, httperror.GetStatusCode(err))
}

func TestImportRecordProgressAndResolutionCounters(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	repo := importrecord.NewRepository(db, getTestLogger())

	tenantID := uuid.New().String()
	ctx := context.Background()

	record, err := repo.Create(ctx, tenantID, uuid.New().String(), "contacts", nil, nil)
	require.NoError(t, err)

	require.NoError(t, repo.UpdateProgress(ctx, tenantID, record.ID, models.ImportCounts{
		RowsProcessed: 50,
		RowsInserted:  48,
	}))

	fetched, err := repo.Get(ctx, tenantID, record.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, fetched.RowsProcessed)
	assert.Equal(t, 48, fetched.RowsInserted)
	assert.Nil(t, fetched.FinalizedAt, "progress writes do not finalize")

	require.NoError(t, repo.IncrementRowsUpdated(ctx, tenantID, record.ID))
	require.NoError(t, repo.IncrementRowsUpdated(ctx, tenantID, record.ID))

	fetched, err = repo.Get(ctx, tenantID, record.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, fetched.RowsUpdated)
}

func TestImportRecordListFilters(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	repo := importrecord.NewRepository(db, getTestLogger())

	tenantID := uuid.New().String()
	ctx := context.Background()
	fileID := uuid.New().String()

	entry := "orders.csv"
	_, err := repo.Create(ctx, tenantID, fileID, "contacts", nil, nil)
	require.NoError(t, err)
	_, err = repo.Create(ctx, tenantID, fileID, "orders", &entry, nil)
	require.NoError(t, err)
	_, err = repo.Create(ctx, tenantID, uuid.New().String(), "contacts", nil, nil)
	require.NoError(t, err)

	byFile, err := repo.List(ctx, tenantID, &fileID, nil, 1, 20)
	require.NoError(t, err)
	assert.Len(t, byFile.Items, 2)
	assert.Equal(t, 2, byFile.TotalCount)

	table := "contacts"
	byTable, err := repo.List(ctx, tenantID, nil, &table, 1, 20)
	require.NoError(t, err)
	assert.Len(t, byTable.Items, 2)

	both, err := repo.List(ctx, tenantID, &fileID, &table, 1, 20)
	require.NoError(t, err)
	require.Len(t, both.Items, 1)
	assert.Nil(t, both.Items[0].EntryName)

	// Records are invisible to other tenants
	other, err := repo.List(ctx, uuid.New().String(), &fileID, nil, 1, 20)
	require.NoError(t, err)
	assert.Empty(t, other.Items)

	_, err = repo.Get(ctx, uuid.New().String(), byFile.Items[0].ID)
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err))
}
