package filefingerprint_test

import (
	"context"
	"os"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ramsey-B/fern/internal/repositories/filefingerprint"
	"github.com/Ramsey-B/fern/pkg/database"
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

func TestFingerprintClaim_FirstClaimWins(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	repo := filefingerprint.NewRepository(db, getTestLogger())

	tenantID := uuid.New().String()
	hash := uuid.New().String() // unique per run, shape does not matter
	ctx := context.Background()

	first, inserted, err := repo.Claim(ctx, tenantID, hash, "file-1")
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, "file-1", first.FileID)

	// A second claim of the same hash loses and sees the original mapping
	second, inserted, err := repo.Claim(ctx, tenantID, hash, "file-2")
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, "file-1", second.FileID)
	assert.Equal(t, first.ID, second.ID)
}

func TestFingerprintClaim_TenantsDoNotCollide(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	repo := filefingerprint.NewRepository(db, getTestLogger())

	hash := uuid.New().String()
	ctx := context.Background()

	_, inserted, err := repo.Claim(ctx, uuid.New().String(), hash, "file-a")
	require.NoError(t, err)
	assert.True(t, inserted)

	_, inserted, err = repo.Claim(ctx, uuid.New().String(), hash, "file-b")
	require.NoError(t, err)
	assert.True(t, inserted, "the same hash is a fresh claim for another tenant")
}

func TestFingerprintDeleteForFile(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	repo := filefingerprint.NewRepository(db, getTestLogger())

	tenantID := uuid.New().String()
	hash := uuid.New().String()
	ctx := context.Background()

	_, _, err := repo.Claim(ctx, tenantID, hash, "file-1")
	require.NoError(t, err)

	require.NoError(t, repo.DeleteForFile(ctx, tenantID, "file-1"))

	fp, err := repo.GetByHash(ctx, tenantID, hash)
	require.NoError(t, err)
	assert.Nil(t, fp, "the hash is free to claim again")

	_, inserted, err := repo.Claim(ctx, tenantID, hash, "file-3")
	require.NoError(t, err)
	assert.True(t, inserted)
}
