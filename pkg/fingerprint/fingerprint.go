package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"
)

// Hash computes the content hash of a byte stream.
// The hash is a SHA256 digest, hex encoded.
func Hash(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("failed to hash content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashBytes computes the content hash of an in-memory payload
func HashBytes(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// RowKey creates a deterministic key for a record's uniqueness-set values.
// Columns are sorted so the key is insensitive to declaration order; values
// are canonicalized through JSON so equal values always produce equal keys.
func RowKey(columns []string, values map[string]any) string {
	sorted := make([]string, len(columns))
	copy(sorted, columns)
	sort.Strings(sorted)

	canonical := "{"
	for i, col := range sorted {
		if i > 0 {
			canonical += ","
		}
		keyJSON, _ := json.Marshal(col)
		valJSON, _ := json.Marshal(values[col])
		canonical += string(keyJSON) + ":" + string(valJSON)
	}
	canonical += "}"

	hash := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(hash[:])
}
