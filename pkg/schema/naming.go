package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Metadata columns every physical import table carries alongside the
// mapped columns. The import id makes each row traceable to exactly one
// import record.
const (
	RowIDColumn    = "_fern_row_id"
	ImportIDColumn = "_fern_import_id"
	CreatedColumn  = "_fern_created_at"
)

const tablePrefix = "imported_"

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify normalizes a name into a safe lowercase identifier
func Slugify(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	value = slugPattern.ReplaceAllString(value, "_")
	value = strings.Trim(value, "_")
	return value
}

// PhysicalTableName returns the physical table backing a target table key.
// The tenant suffix keeps equal keys from different tenants apart.
func PhysicalTableName(tenantID, key string) string {
	sum := sha256.Sum256([]byte(tenantID))
	return tablePrefix + Slugify(key) + "_" + hex.EncodeToString(sum[:4])
}

// SQLType maps a logical column type to its PostgreSQL type
func SQLType(colType models.ColumnType) string {
	switch colType {
	case models.ColumnTypeInteger:
		return "BIGINT"
	case models.ColumnTypeFloat:
		return "DOUBLE PRECISION"
	case models.ColumnTypeBoolean:
		return "BOOLEAN"
	case models.ColumnTypeTimestamp:
		return "TIMESTAMPTZ"
	default:
		return "TEXT"
	}
}
