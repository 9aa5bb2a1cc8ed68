// Package parsers turns uploaded file payloads into tabular record sets.
// Every format produces the same Table shape so the rest of the pipeline
// never cares where a row came from.
package parsers

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrUnsupportedFormat is returned when a file extension has no parser
var ErrUnsupportedFormat = errors.New("unsupported file format")

// Row is a single parsed record. Number is the 1-based position among the
// data rows of the source (header excluded), used to point humans back at
// the offending line.
type Row struct {
	Number int
	Values map[string]any
}

// Table is the parsed form of one file or archive entry
type Table struct {
	Columns []string
	Rows    []Row
}

// IsEmpty reports whether the table holds no data rows
func (t *Table) IsEmpty() bool {
	return t == nil || len(t.Rows) == 0
}

// FormatForName returns the pipeline format label for a file name,
// or "" when the extension is not recognized.
func FormatForName(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return "csv"
	case ".xlsx":
		return "xlsx"
	case ".json":
		return "json"
	case ".xml":
		return "xml"
	case ".zip":
		return "zip"
	default:
		return ""
	}
}

// IsTabular reports whether the format parses directly to a Table.
// Archives are unpacked first; their entries come back through here.
func IsTabular(format string) bool {
	switch format {
	case "csv", "xlsx", "json", "xml":
		return true
	default:
		return false
	}
}

// Parse parses a payload into a Table, dispatching on the file extension
func Parse(name string, payload []byte) (*Table, error) {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".csv":
		return ParseCSV(payload)
	case ".xlsx":
		return ParseXLSX(payload)
	case ".json":
		return ParseJSON(payload)
	case ".xml":
		return ParseXML(payload)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}
