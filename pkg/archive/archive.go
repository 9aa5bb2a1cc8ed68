// Package archive reads zip bundles and plans the sequential per-entry
// import runs. Bundles are read fully in memory; nothing is ever extracted
// to disk.
package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/parsers"
)

// Entry describes one file inside a bundle. Format is "" when the entry
// has no parser; such entries are recorded as skipped, never dropped.
type Entry struct {
	Name      string `json:"name"`
	Format    string `json:"format,omitempty"`
	SizeBytes int64  `json:"size_bytes"`
}

// Supported reports whether the entry can run through the import pipeline
func (e Entry) Supported() bool {
	return e.Format != ""
}

// Bundle is an opened zip archive
type Bundle struct {
	reader  *zip.Reader
	entries []Entry
}

// Open reads a zip payload. Directories are ignored; entries whose names
// escape the bundle root are treated as unsupported rather than failing
// the whole archive.
func Open(payload []byte) (*Bundle, error) {
	// ErrInsecurePath still hands back a usable reader; the offending
	// entries are filtered by safeEntryName instead of failing the bundle.
	reader, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "failed to open archive: %v", err)
	}

	bundle := &Bundle{reader: reader}
	for _, f := range reader.File {
		if f.FileInfo().IsDir() {
			continue
		}

		entry := Entry{
			Name:      f.Name,
			SizeBytes: int64(f.UncompressedSize64),
		}
		if safeEntryName(f.Name) {
			entry.Format = parsers.FormatForName(f.Name)
			if entry.Format == "zip" {
				// Nested archives do not recurse
				entry.Format = ""
			}
		}
		bundle.entries = append(bundle.entries, entry)
	}

	if len(bundle.entries) == 0 {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "archive contains no files")
	}

	return bundle, nil
}

// Entries returns every file entry in archive order
func (b *Bundle) Entries() []Entry {
	return b.entries
}

// SupportedCount returns how many entries have a parser
func (b *Bundle) SupportedCount() int {
	count := 0
	for _, entry := range b.entries {
		if entry.Supported() {
			count++
		}
	}
	return count
}

// Read returns the full payload of one entry by name
func (b *Bundle) Read(name string) ([]byte, error) {
	for _, f := range b.reader.File {
		if f.Name != name {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open archive entry %s: %w", name, err)
		}
		defer func() { _ = rc.Close() }()

		payload, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("failed to read archive entry %s: %w", name, err)
		}
		return payload, nil
	}
	return nil, fmt.Errorf("archive entry %s not found", name)
}

// safeEntryName rejects names that would escape the bundle root. Bundles
// are never extracted, but entry names flow into records and file names.
func safeEntryName(name string) bool {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, "\\") {
		return false
	}
	cleaned := path.Clean(name)
	return cleaned != ".." && !strings.HasPrefix(cleaned, "../")
}

// InitialState builds a job's archive state from a bundle: supported
// entries in archive order land in Remaining, unsupported ones are recorded
// as skipped up front.
func InitialState(entries []Entry) *models.ArchiveState {
	state := &models.ArchiveState{
		Completed: []models.ArchiveEntryResult{},
		Remaining: []string{},
	}

	now := time.Now().UTC()
	for _, entry := range entries {
		if entry.Supported() {
			state.Remaining = append(state.Remaining, entry.Name)
			continue
		}
		state.Completed = append(state.Completed, models.ArchiveEntryResult{
			Name:        entry.Name,
			Outcome:     models.EntryOutcomeSkipped,
			Error:       "unsupported entry",
			CompletedAt: now,
		})
	}

	return state
}

// ResumeState seeds a new job's archive state from a finished run. With
// failedEntriesOnly only entries whose prior outcome was failed are queued
// again; otherwise every previously supported entry runs again.
func ResumeState(prior *models.ArchiveState, failedEntriesOnly bool) *models.ArchiveState {
	state := &models.ArchiveState{
		Completed: []models.ArchiveEntryResult{},
		Remaining: []string{},
	}

	for _, result := range prior.Completed {
		switch result.Outcome {
		case models.EntryOutcomeSkipped:
			// Skipped entries stay skipped
			state.Completed = append(state.Completed, result)
		case models.EntryOutcomeFailed:
			state.Remaining = append(state.Remaining, result.Name)
		case models.EntryOutcomeProcessed:
			if failedEntriesOnly {
				state.Completed = append(state.Completed, result)
			} else {
				state.Remaining = append(state.Remaining, result.Name)
			}
		}
	}

	// An entry that was mid-flight when the prior run died is due again
	if prior.CurrentEntry != nil {
		if _, done := prior.OutcomeFor(*prior.CurrentEntry); !done {
			state.Remaining = append(state.Remaining, *prior.CurrentEntry)
		}
	}

	// Entries the prior run never reached are always due
	state.Remaining = append(state.Remaining, prior.Remaining...)

	return state
}
