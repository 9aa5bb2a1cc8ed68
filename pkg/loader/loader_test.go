package loader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/parsers"
)

type stubRowStore struct {
	mu       sync.Mutex
	chunks   [][]map[string]any
	existing map[string]string // tuple key -> persisted row id
	nextID   int
	failCall int // 1-based InsertChunk call to fail, 0 never
	probes   int
}

func tupleKey(tuple []any) string {
	parts := make([]string, len(tuple))
	for i, v := range tuple {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, "|")
}

func (s *stubRowStore) InsertChunk(_ context.Context, _, _, _ string, _ []models.ColumnDef, rows []map[string]any) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failCall != 0 && len(s.chunks)+1 == s.failCall {
		return nil, errors.New("insert failed")
	}

	ids := make([]string, len(rows))
	for i := range rows {
		s.nextID++
		ids[i] = fmt.Sprintf("row-%d", s.nextID)
	}
	s.chunks = append(s.chunks, rows)
	return ids, nil
}

func (s *stubRowStore) FindExisting(_ context.Context, _, _ string, _ []models.ColumnDef, tuples [][]any) (map[int]string, error) {
	s.mu.Lock()
	s.probes++
	s.mu.Unlock()

	found := make(map[int]string)
	for i, tuple := range tuples {
		if id, ok := s.existing[tupleKey(tuple)]; ok {
			found[i] = id
		}
	}
	return found, nil
}

func (s *stubRowStore) insertedRows() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, chunk := range s.chunks {
		total += len(chunk)
	}
	return total
}

type stubDuplicateSink struct {
	mu      sync.Mutex
	records []*models.DuplicateRecord
}

func (s *stubDuplicateSink) CreateBatch(_ context.Context, _ string, records []*models.DuplicateRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
	return nil
}

type stubValidationSink struct {
	mu      sync.Mutex
	records []*models.ValidationFailure
}

func (s *stubValidationSink) CreateBatch(_ context.Context, _ string, records []*models.ValidationFailure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
	return nil
}

func noopLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

var contactColumns = []models.ColumnDef{
	{Name: "email", Type: models.ColumnTypeText, Required: true},
	{Name: "phone", Type: models.ColumnTypeText, Required: false},
}

func contactRows(emails ...string) []parsers.Row {
	rows := make([]parsers.Row, len(emails))
	for i, email := range emails {
		rows[i] = parsers.Row{Number: i + 1, Values: map[string]any{"email": email}}
	}
	return rows
}

func loadRequest(rows []parsers.Row, uniquenessSets [][]string) Request {
	return Request{
		TenantID:       "tenant-1",
		TableKey:       "contacts",
		ImportRecordID: "import-1",
		Columns:        contactColumns,
		UniquenessSets: uniquenessSets,
		Table:          &parsers.Table{Columns: []string{"email", "phone"}, Rows: rows},
	}
}

func TestLoad_SplitsIntoChunks(t *testing.T) {
	store := &stubRowStore{}
	dups := &stubDuplicateSink{}
	fails := &stubValidationSink{}
	l := New(store, dups, fails, Config{ChunkSize: 2}, noopLogger())

	var progress [][2]int
	req := loadRequest(contactRows("a@x", "b@x", "c@x", "d@x", "e@x"), nil)
	req.OnProgress = func(_ context.Context, completed, total int, _ models.ImportCounts) error {
		progress = append(progress, [2]int{completed, total})
		return nil
	}

	result, err := l.Load(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 3, result.TotalChunks)
	assert.Equal(t, 3, result.ChunksCompleted)
	assert.Equal(t, 5, result.RowsProcessed)
	assert.Equal(t, 5, result.RowsInserted)
	assert.Equal(t, [][2]int{{1, 3}, {2, 3}, {3, 3}}, progress)
	require.Len(t, store.chunks, 3)
	assert.Len(t, store.chunks[0], 2)
	assert.Len(t, store.chunks[2], 1)
}

func TestLoad_DefaultChunkSize(t *testing.T) {
	store := &stubRowStore{}
	dups := &stubDuplicateSink{}
	l := New(store, dups, &stubValidationSink{}, Config{}, noopLogger())

	emails := make([]string, 25000)
	for i := range emails {
		emails[i] = fmt.Sprintf("row-%d@x", i)
	}

	result, err := l.Load(context.Background(), loadRequest(contactRows(emails...), [][]string{{"email"}}))
	require.NoError(t, err)

	assert.Equal(t, 3, result.TotalChunks)
	assert.Equal(t, 3, result.ChunksCompleted)
	assert.Equal(t, 25000, result.RowsProcessed)
	assert.Equal(t, 25000, result.RowsInserted)
	assert.Equal(t, 0, result.DuplicateCount)
	require.Len(t, store.chunks, 3)
	assert.Len(t, store.chunks[0], 10000)
	assert.Len(t, store.chunks[1], 10000)
	assert.Len(t, store.chunks[2], 5000)
	assert.Equal(t, 3, store.probes, "one probe per chunk for a single set")
	assert.Empty(t, dups.records)
}

func TestLoad_EmptyTable(t *testing.T) {
	store := &stubRowStore{}
	l := New(store, &stubDuplicateSink{}, &stubValidationSink{}, Config{}, noopLogger())

	result, err := l.Load(context.Background(), loadRequest(nil, nil))
	require.NoError(t, err)

	assert.Equal(t, 0, result.TotalChunks)
	assert.Equal(t, 0, result.RowsProcessed)
	assert.Empty(t, store.chunks)
}

func TestLoad_ValidationFailuresAreQuarantined(t *testing.T) {
	store := &stubRowStore{}
	fails := &stubValidationSink{}
	l := New(store, &stubDuplicateSink{}, fails, Config{}, noopLogger())

	rows := []parsers.Row{
		{Number: 1, Values: map[string]any{"email": "ok@x"}},
		{Number: 2, Values: map[string]any{"phone": "555"}}, // email missing
		{Number: 3, Values: map[string]any{"email": "   "}}, // whitespace only
	}

	result, err := l.Load(context.Background(), loadRequest(rows, nil))
	require.NoError(t, err)

	assert.Equal(t, 3, result.RowsProcessed)
	assert.Equal(t, 1, result.RowsInserted)
	assert.Equal(t, 2, result.ValidationFailureCount)

	require.Len(t, fails.records, 2)
	assert.Equal(t, 2, fails.records[0].RowNumber)
	assert.Equal(t, 3, fails.records[1].RowNumber)
	assert.Equal(t, "import-1", fails.records[0].ImportRecordID)
	assert.Contains(t, string(fails.records[0].Errors), "email")
}

func TestLoad_NoUniquenessSetsSkipsProbes(t *testing.T) {
	store := &stubRowStore{existing: map[string]string{"a@x": "persisted-1"}}
	dups := &stubDuplicateSink{}
	l := New(store, dups, &stubValidationSink{}, Config{}, noopLogger())

	result, err := l.Load(context.Background(), loadRequest(contactRows("a@x", "a@x"), nil))
	require.NoError(t, err)

	assert.Equal(t, 0, store.probes, "no sets, no probes")
	assert.Equal(t, 2, result.RowsInserted, "repeats insert freely without uniqueness sets")
	assert.Empty(t, dups.records)
}

func TestLoad_PersistedDuplicates(t *testing.T) {
	store := &stubRowStore{existing: map[string]string{"known@x": "persisted-9"}}
	dups := &stubDuplicateSink{}
	l := New(store, dups, &stubValidationSink{}, Config{}, noopLogger())

	result, err := l.Load(context.Background(), loadRequest(contactRows("known@x", "new@x"), [][]string{{"email"}}))
	require.NoError(t, err)

	assert.Equal(t, 1, result.RowsInserted)
	assert.Equal(t, 1, result.DuplicateCount)

	require.Len(t, dups.records, 1)
	assert.Equal(t, "persisted-9", dups.records[0].ExistingRowID)
	assert.Equal(t, pq.StringArray{"email"}, dups.records[0].UniquenessColumns)
	assert.Contains(t, string(dups.records[0].Payload), "known@x")
}

func TestLoad_IntraChunkDuplicates(t *testing.T) {
	store := &stubRowStore{}
	dups := &stubDuplicateSink{}
	l := New(store, dups, &stubValidationSink{}, Config{}, noopLogger())

	result, err := l.Load(context.Background(), loadRequest(contactRows("a@x", "a@x", "b@x"), [][]string{{"email"}}))
	require.NoError(t, err)

	assert.Equal(t, 2, result.RowsInserted)
	assert.Equal(t, 1, result.DuplicateCount)

	require.Len(t, dups.records, 1)
	assert.Equal(t, "row-1", dups.records[0].ExistingRowID, "the first occurrence in the chunk wins")
}

func TestLoad_MissingSetValueNeverConflicts(t *testing.T) {
	store := &stubRowStore{}
	dups := &stubDuplicateSink{}
	l := New(store, dups, &stubValidationSink{}, Config{}, noopLogger())

	rows := []parsers.Row{
		{Number: 1, Values: map[string]any{"email": "a@x"}},
		{Number: 2, Values: map[string]any{"email": "b@x"}},
	}

	result, err := l.Load(context.Background(), loadRequest(rows, [][]string{{"phone"}}))
	require.NoError(t, err)

	assert.Equal(t, 2, result.RowsInserted, "rows without the set value are never duplicates")
	assert.Empty(t, dups.records)
	assert.Equal(t, 0, store.probes, "nothing to probe when every tuple is incomplete")
}

func TestLoad_UnknownUniquenessColumn(t *testing.T) {
	store := &stubRowStore{}
	l := New(store, &stubDuplicateSink{}, &stubValidationSink{}, Config{}, noopLogger())

	_, err := l.Load(context.Background(), loadRequest(contactRows("a@x"), [][]string{{"nope"}}))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
	assert.Empty(t, store.chunks, "the load fails before any chunk commits")
}

func TestLoad_ProgressErrorStopsBetweenChunks(t *testing.T) {
	store := &stubRowStore{}
	l := New(store, &stubDuplicateSink{}, &stubValidationSink{}, Config{ChunkSize: 2}, noopLogger())

	stop := errors.New("cancelled")
	req := loadRequest(contactRows("a@x", "b@x", "c@x", "d@x"), nil)
	req.OnProgress = func(_ context.Context, completed, _ int, _ models.ImportCounts) error {
		if completed == 1 {
			return stop
		}
		return nil
	}

	result, err := l.Load(context.Background(), req)

	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, result.ChunksCompleted, "the committed chunk stays committed")
	assert.Equal(t, 2, store.insertedRows())
}

func TestLoad_InsertFailureReportsChunk(t *testing.T) {
	store := &stubRowStore{failCall: 2}
	l := New(store, &stubDuplicateSink{}, &stubValidationSink{}, Config{ChunkSize: 2}, noopLogger())

	result, err := l.Load(context.Background(), loadRequest(contactRows("a@x", "b@x", "c@x", "d@x", "e@x"), nil))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk 2/3")
	assert.Equal(t, 1, result.ChunksCompleted)
	assert.Equal(t, 2, result.RowsProcessed, "counts cover committed chunks only")
}

func TestLoad_CancelledContext(t *testing.T) {
	store := &stubRowStore{}
	l := New(store, &stubDuplicateSink{}, &stubValidationSink{}, Config{ChunkSize: 1}, noopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	req := loadRequest(contactRows("a@x", "b@x", "c@x"), nil)
	req.OnProgress = func(_ context.Context, completed, _ int, _ models.ImportCounts) error {
		if completed == 1 {
			cancel()
		}
		return nil
	}

	result, err := l.Load(ctx, req)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, result.ChunksCompleted)
}

func TestLoad_DuplicateOnlyAgainstLowestSet(t *testing.T) {
	store := &stubRowStore{}
	dups := &stubDuplicateSink{}
	l := New(store, dups, &stubValidationSink{}, Config{}, noopLogger())

	rows := []parsers.Row{
		{Number: 1, Values: map[string]any{"email": "a@x", "phone": "555"}},
		{Number: 2, Values: map[string]any{"email": "a@x", "phone": "555"}},
	}

	result, err := l.Load(context.Background(), loadRequest(rows, [][]string{{"email"}, {"phone"}}))
	require.NoError(t, err)

	assert.Equal(t, 1, result.DuplicateCount, "one duplicate record even when several sets collide")
	require.Len(t, dups.records, 1)
	assert.Equal(t, pq.StringArray{"email"}, dups.records[0].UniquenessColumns)
}
