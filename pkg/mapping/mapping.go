// Package mapping applies confirmed column mappings to parsed records and
// hosts the advisor that proposes them.
package mapping

import (
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Ramsey-B/fern/pkg/models"
)

// Mapper applies column mappings to parsed records
type Mapper struct {
	transformer *Transformer
}

// NewMapper creates a mapper with a fresh transform cache
func NewMapper() *Mapper {
	return &Mapper{transformer: NewTransformer()}
}

// ApplyRow maps one parsed record onto target columns. An empty mapping
// list passes the record through unchanged. Source columns absent from the
// record produce no target value; validation decides later whether that
// matters.
func (m *Mapper) ApplyRow(mappings []models.ColumnMapping, record map[string]any) (map[string]any, error) {
	if len(mappings) == 0 {
		return record, nil
	}

	mapped := make(map[string]any, len(mappings))
	for _, mp := range mappings {
		if mp.Transform != "" {
			value, err := m.transformer.Apply(mp.Transform, record)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", mp.TargetColumn, err)
			}
			mapped[mp.TargetColumn] = value
			continue
		}

		if value, ok := record[mp.SourceColumn]; ok {
			mapped[mp.TargetColumn] = value
		}
	}

	return mapped, nil
}

// ApplyRowLenient maps one parsed record, keeping going past transform
// failures. Failed columns are simply absent from the result. Used by
// resolvers that re-map a stored payload where a failing transform must
// not block the resolution.
func (m *Mapper) ApplyRowLenient(mappings []models.ColumnMapping, record map[string]any) map[string]any {
	if len(mappings) == 0 {
		return record
	}

	mapped := make(map[string]any, len(mappings))
	for _, mp := range mappings {
		if mp.Transform != "" {
			value, err := m.transformer.Apply(mp.Transform, record)
			if err == nil {
				mapped[mp.TargetColumn] = value
			}
			continue
		}

		if value, ok := record[mp.SourceColumn]; ok {
			mapped[mp.TargetColumn] = value
		}
	}

	return mapped
}

// Validate checks a mapping list before an import starts: source columns
// must exist in the parsed file (unless a transform supplies the value),
// target columns may not repeat, and transforms must compile.
func (m *Mapper) Validate(mappings []models.ColumnMapping, sourceColumns []string) error {
	known := make(map[string]bool, len(sourceColumns))
	for _, col := range sourceColumns {
		known[col] = true
	}

	targets := make(map[string]bool, len(mappings))
	for _, mp := range mappings {
		if targets[mp.TargetColumn] {
			return httperror.NewHTTPErrorf(http.StatusBadRequest, "target column %s is mapped twice", mp.TargetColumn)
		}
		targets[mp.TargetColumn] = true

		if mp.Transform != "" {
			if err := m.transformer.Validate(mp.Transform); err != nil {
				return httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid transform for column %s: %v", mp.TargetColumn, err)
			}
			continue
		}

		if !known[mp.SourceColumn] {
			return httperror.NewHTTPErrorf(http.StatusBadRequest, "source column %s not found in file", mp.SourceColumn)
		}
	}

	return nil
}

// ValidateTransforms compiles every transform in a mapping list without
// needing the parsed file, so a broken expression can fail a submission
// instead of the job it would have queued
func (m *Mapper) ValidateTransforms(mappings []models.ColumnMapping) error {
	for _, mp := range mappings {
		if mp.Transform == "" {
			continue
		}
		if err := m.transformer.Validate(mp.Transform); err != nil {
			return httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid transform for column %s: %v", mp.TargetColumn, err)
		}
	}
	return nil
}

// TargetColumns lists the distinct target columns a mapping produces,
// in mapping order
func TargetColumns(mappings []models.ColumnMapping) []string {
	var columns []string
	seen := make(map[string]bool, len(mappings))
	for _, mp := range mappings {
		if !seen[mp.TargetColumn] {
			seen[mp.TargetColumn] = true
			columns = append(columns, mp.TargetColumn)
		}
	}
	return columns
}
