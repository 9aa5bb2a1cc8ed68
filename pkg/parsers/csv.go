package parsers

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"
)

var byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

// ParseCSV parses a CSV payload. The first non-empty row is the header;
// ragged rows are padded or truncated to the header width.
func ParseCSV(payload []byte) (*Table, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}

	return tableFromRecords(records)
}

// tableFromRecords builds a Table from raw string records. Shared by the
// CSV and XLSX parsers.
func tableFromRecords(records [][]string) (*Table, error) {
	if len(records) == 0 {
		return nil, errors.New("no rows found in file")
	}

	var headerRow []string
	var dataRows [][]string
	for _, row := range records {
		if len(cleanRow(row)) == 0 {
			continue
		}
		if headerRow == nil {
			headerRow = row
			continue
		}
		dataRows = append(dataRows, row)
	}

	if headerRow == nil {
		return nil, errors.New("header row could not be detected")
	}

	headers := sanitizeHeaders(headerRow)

	rows := make([]Row, 0, len(dataRows))
	for i, raw := range dataRows {
		raw = padRow(raw, len(headers))
		values := make(map[string]any, len(headers))
		for col, header := range headers {
			values[header] = raw[col]
		}
		rows = append(rows, Row{Number: i + 1, Values: values})
	}

	return &Table{Columns: headers, Rows: rows}, nil
}

func cleanRow(row []string) []string {
	var cleaned []string
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			cleaned = append(cleaned, cell)
		}
	}
	return cleaned
}

func sanitizeHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	seen := make(map[string]int)

	for idx, value := range raw {
		name := strings.TrimSpace(value)
		name = strings.ReplaceAll(name, " ", "_")
		name = strings.ReplaceAll(name, ".", "_")
		name = strings.ReplaceAll(name, "-", "_")
		name = strings.Trim(name, "_")
		if name == "" {
			name = fmt.Sprintf("column_%d", idx+1)
		}

		base := name
		count := seen[base]
		if count > 0 {
			name = fmt.Sprintf("%s_%d", base, count+1)
		}
		seen[base] = count + 1

		headers[idx] = name
	}

	return headers
}

func padRow(row []string, length int) []string {
	if len(row) >= length {
		return row[:length]
	}
	padded := make([]string, length)
	copy(padded, row)
	for i := len(row); i < length; i++ {
		padded[i] = ""
	}
	return padded
}
