package archive

import (
	"archive/zip"
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

type zipEntry struct {
	name    string
	content string
}

func buildZip(t *testing.T, entries []zipEntry) []byte {
	t.Helper()

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, entry := range entries {
		f, err := w.Create(entry.name)
		require.NoError(t, err)
		_, err = f.Write([]byte(entry.content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestOpen(t *testing.T) {
	payload := buildZip(t, []zipEntry{
		{"customers.csv", "id\n1\n"},
		{"notes/readme.txt", "not tabular"},
		{"orders.json", `[{"id":1}]`},
	})

	bundle, err := Open(payload)
	require.NoError(t, err)

	entries := bundle.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "customers.csv", entries[0].Name)
	assert.Equal(t, "csv", entries[0].Format)
	assert.Equal(t, "", entries[1].Format, "txt has no parser")
	assert.Equal(t, "json", entries[2].Format)
	assert.Equal(t, 2, bundle.SupportedCount())
}

func TestOpen_DirectoriesIgnored(t *testing.T) {
	payload := buildZip(t, []zipEntry{
		{"data/", ""},
		{"data/rows.csv", "a\n1\n"},
	})

	bundle, err := Open(payload)
	require.NoError(t, err)

	require.Len(t, bundle.Entries(), 1)
	assert.Equal(t, "data/rows.csv", bundle.Entries()[0].Name)
}

func TestOpen_NestedArchivesDoNotRecurse(t *testing.T) {
	payload := buildZip(t, []zipEntry{
		{"inner.zip", "pretend zip bytes"},
		{"rows.csv", "a\n1\n"},
	})

	bundle, err := Open(payload)
	require.NoError(t, err)

	entries := bundle.Entries()
	require.Len(t, entries, 2)
	assert.False(t, entries[0].Supported())
	assert.True(t, entries[1].Supported())
}

func TestOpen_UnsafeNamesAreUnsupported(t *testing.T) {
	payload := buildZip(t, []zipEntry{
		{"../escape.csv", "a\n1\n"},
		{`windows\style.csv`, "a\n1\n"},
		{"fine.csv", "a\n1\n"},
	})

	bundle, err := Open(payload)
	require.NoError(t, err)

	entries := bundle.Entries()
	require.Len(t, entries, 3)
	assert.False(t, entries[0].Supported(), "path escape")
	assert.False(t, entries[1].Supported(), "backslash name")
	assert.True(t, entries[2].Supported())
}

func TestOpen_NotAnArchive(t *testing.T) {
	_, err := Open([]byte("definitely not a zip"))
	assert.Error(t, err)
}

func TestOpen_EmptyArchive(t *testing.T) {
	_, err := Open(buildZip(t, nil))
	assert.Error(t, err)
}

func TestRead(t *testing.T) {
	payload := buildZip(t, []zipEntry{{"rows.csv", "id\n42\n"}})

	bundle, err := Open(payload)
	require.NoError(t, err)

	content, err := bundle.Read("rows.csv")
	require.NoError(t, err)
	assert.Equal(t, "id\n42\n", string(content))

	_, err = bundle.Read("missing.csv")
	assert.Error(t, err)
}

func TestInitialState(t *testing.T) {
	state := InitialState([]Entry{
		{Name: "a.csv", Format: "csv"},
		{Name: "skip.txt"},
		{Name: "b.json", Format: "json"},
	})

	assert.Equal(t, []string{"a.csv", "b.json"}, state.Remaining)
	require.Len(t, state.Completed, 1)
	assert.Equal(t, "skip.txt", state.Completed[0].Name)
	assert.Equal(t, models.EntryOutcomeSkipped, state.Completed[0].Outcome)
	assert.Nil(t, state.CurrentEntry)
}

func TestResumeState_FullResume(t *testing.T) {
	prior := &models.ArchiveState{
		Completed: []models.ArchiveEntryResult{
			{Name: "done.csv", Outcome: models.EntryOutcomeProcessed, CompletedAt: time.Now()},
			{Name: "broken.csv", Outcome: models.EntryOutcomeFailed, CompletedAt: time.Now()},
			{Name: "skip.txt", Outcome: models.EntryOutcomeSkipped, CompletedAt: time.Now()},
		},
	}

	state := ResumeState(prior, false)

	assert.Equal(t, []string{"done.csv", "broken.csv"}, state.Remaining)
	require.Len(t, state.Completed, 1)
	assert.Equal(t, "skip.txt", state.Completed[0].Name)
}

func TestResumeState_FailedEntriesOnly(t *testing.T) {
	prior := &models.ArchiveState{
		Completed: []models.ArchiveEntryResult{
			{Name: "done.csv", Outcome: models.EntryOutcomeProcessed, CompletedAt: time.Now()},
			{Name: "broken.csv", Outcome: models.EntryOutcomeFailed, CompletedAt: time.Now()},
		},
	}

	state := ResumeState(prior, true)

	assert.Equal(t, []string{"broken.csv"}, state.Remaining)
	require.Len(t, state.Completed, 1)
	assert.Equal(t, "done.csv", state.Completed[0].Name, "processed entries keep their result")
}

func TestResumeState_MidFlightEntryRunsAgain(t *testing.T) {
	current := "stuck.csv"
	prior := &models.ArchiveState{
		CurrentEntry: &current,
		Completed:    []models.ArchiveEntryResult{},
		Remaining:    []string{"never-reached.csv"},
	}

	state := ResumeState(prior, true)

	assert.Equal(t, []string{"stuck.csv", "never-reached.csv"}, state.Remaining)
	assert.Nil(t, state.CurrentEntry)
}

func TestResumeState_CurrentEntryWithOutcomeNotDuplicated(t *testing.T) {
	current := "finished.csv"
	prior := &models.ArchiveState{
		CurrentEntry: &current,
		Completed: []models.ArchiveEntryResult{
			{Name: "finished.csv", Outcome: models.EntryOutcomeFailed, CompletedAt: time.Now()},
		},
	}

	state := ResumeState(prior, false)

	assert.Equal(t, []string{"finished.csv"}, state.Remaining, "queued once, via its recorded outcome")
}
