package filefingerprint

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/google/uuid"
)

// Repository handles file fingerprint persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new file fingerprint repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Claim registers a content hash for a file in a single atomic statement.
// Two concurrent claims of the same hash cannot both win: the loser gets
// the existing row back with inserted=false. The conflict update is a no-op
// write so the existing mapping is returned unchanged.
func (r *Repository) Claim(ctx context.Context, tenantID, contentHash, fileID string) (*models.FileFingerprint, bool, error) {
	ctx, span := tracing.StartSpan(ctx, "filefingerprint.Repository.Claim")
	defer span.End()

	now := time.Now().UTC()
	id := uuid.New().String()

	query := `
		INSERT INTO file_fingerprints (id, tenant_id, content_hash, file_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, content_hash)
		DO UPDATE SET content_hash = EXCLUDED.content_hash
		RETURNING id, tenant_id, content_hash, file_id, created_at, (xmax = 0) AS inserted
	`

	var result struct {
		models.FileFingerprint
		Inserted bool `db:"inserted"`
	}

	if err := r.db.GetContext(ctx, &result, query, id, tenantID, contentHash, fileID, now); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID, "content_hash": contentHash, "file_id": fileID}).Error("Failed to claim file fingerprint")
		return nil, false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to register file fingerprint")
	}

	if result.Inserted {
		r.logger.WithContext(ctx).WithFields(map[string]any{"id": result.ID, "file_id": fileID}).Info("Registered file fingerprint")
	}
	return &result.FileFingerprint, result.Inserted, nil
}

// GetByHash retrieves the fingerprint for a content hash; nil when none exists
func (r *Repository) GetByHash(ctx context.Context, tenantID, contentHash string) (*models.FileFingerprint, error) {
	ctx, span := tracing.StartSpan(ctx, "filefingerprint.Repository.GetByHash")
	defer span.End()

	query := `
		SELECT id, tenant_id, content_hash, file_id, created_at
		FROM file_fingerprints
		WHERE tenant_id = $1 AND content_hash = $2
	`

	var fp models.FileFingerprint
	if err := r.db.GetContext(ctx, &fp, query, tenantID, contentHash); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID, "content_hash": contentHash}).Error("Failed to get file fingerprint")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get file fingerprint")
	}
	return &fp, nil
}

// DeleteForFile removes the fingerprint claimed by a file, freeing the hash
// for re-registration. Used when a registration is rolled back.
func (r *Repository) DeleteForFile(ctx context.Context, tenantID, fileID string) error {
	ctx, span := tracing.StartSpan(ctx, "filefingerprint.Repository.DeleteForFile")
	defer span.End()

	query := `DELETE FROM file_fingerprints WHERE tenant_id = $1 AND file_id = $2`
	if _, err := r.db.ExecContext(ctx, query, tenantID, fileID); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID, "file_id": fileID}).Error("Failed to delete file fingerprint")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete file fingerprint")
	}
	return nil
}
