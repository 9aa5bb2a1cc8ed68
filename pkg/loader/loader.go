// Package loader is the chunked loading engine. A load validates, dedupes
// and inserts parsed rows in fixed-size chunks; each chunk commits in its
// own transaction, so a failure loses at most the chunk it happened in.
package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"golang.org/x/sync/errgroup"

	"github.com/Ramsey-B/fern/pkg/fingerprint"
	"github.com/Ramsey-B/fern/pkg/mapping"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/parsers"
	"github.com/Ramsey-B/fern/pkg/schema"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	// DefaultChunkSize is the number of rows committed per transaction
	DefaultChunkSize = 10000

	// DefaultCheckWorkerCount bounds the parallel uniqueness probes
	DefaultCheckWorkerCount = 4

	// probeBatchSize caps the tuples sent to one uniqueness probe
	probeBatchSize = 5000
)

// RowStore is the slice of the table row repository the loader needs
type RowStore interface {
	InsertChunk(ctx context.Context, tenantID, key, importID string, columns []models.ColumnDef, rows []map[string]any) ([]string, error)
	FindExisting(ctx context.Context, tenantID, key string, set []models.ColumnDef, tuples [][]any) (map[int]string, error)
}

// DuplicateSink records rows rejected by uniqueness checks
type DuplicateSink interface {
	CreateBatch(ctx context.Context, tenantID string, records []*models.DuplicateRecord) error
}

// ValidationSink records rows rejected by validation
type ValidationSink interface {
	CreateBatch(ctx context.Context, tenantID string, records []*models.ValidationFailure) error
}

// ProgressFunc is called after every committed chunk. Returning an error
// stops the load between chunks; committed chunks stay committed.
type ProgressFunc func(ctx context.Context, chunksCompleted, totalChunks int, counts models.ImportCounts) error

// Config tunes the loader
type Config struct {
	ChunkSize        int
	CheckWorkerCount int
}

// Loader runs chunked loads against physical import tables
type Loader struct {
	rows         RowStore
	duplicates   DuplicateSink
	failures     ValidationSink
	mapper       *mapping.Mapper
	logger       ectologger.Logger
	chunkSize    int
	checkWorkers int
}

// New creates a loader
func New(rows RowStore, duplicates DuplicateSink, failures ValidationSink, cfg Config, logger ectologger.Logger) *Loader {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.CheckWorkerCount <= 0 {
		cfg.CheckWorkerCount = DefaultCheckWorkerCount
	}

	return &Loader{
		rows:         rows,
		duplicates:   duplicates,
		failures:     failures,
		mapper:       mapping.NewMapper(),
		logger:       logger,
		chunkSize:    cfg.ChunkSize,
		checkWorkers: cfg.CheckWorkerCount,
	}
}

// Request describes one load
type Request struct {
	TenantID       string
	TableKey       string
	ImportRecordID string
	Columns        []models.ColumnDef
	UniquenessSets [][]string
	Mappings       []models.ColumnMapping
	Table          *parsers.Table
	OnProgress     ProgressFunc
}

// Result is the outcome of a load. Counts cover committed chunks only.
type Result struct {
	RowsProcessed          int `json:"rows_processed"`
	RowsInserted           int `json:"rows_inserted"`
	DuplicateCount         int `json:"duplicate_count"`
	ValidationFailureCount int `json:"validation_failure_count"`
	TotalChunks            int `json:"total_chunks"`
	ChunksCompleted        int `json:"chunks_completed"`
}

// Counts converts the result into import ledger counts
func (r *Result) Counts() models.ImportCounts {
	return models.ImportCounts{
		RowsProcessed:          r.RowsProcessed,
		RowsInserted:           r.RowsInserted,
		DuplicateCount:         r.DuplicateCount,
		ValidationFailureCount: r.ValidationFailureCount,
	}
}

type preparedRow struct {
	number int
	values map[string]any
}

type persistedMatch struct {
	rowID  string
	setIdx int
}

// Load runs a full load. On error the returned Result still reports the
// chunks committed before the failure.
func (l *Loader) Load(ctx context.Context, req Request) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "loader.Loader.Load")
	defer span.End()

	sets, err := resolveSets(req.UniquenessSets, req.Columns)
	if err != nil {
		return &Result{}, err
	}

	validator := schema.NewValidator(req.Columns)

	rows := req.Table.Rows
	totalChunks := 0
	if len(rows) > 0 {
		totalChunks = (len(rows) + l.chunkSize - 1) / l.chunkSize
	}
	result := &Result{TotalChunks: totalChunks}

	l.logger.WithContext(ctx).WithFields(map[string]any{
		"table":     req.TableKey,
		"rows":      len(rows),
		"chunks":    totalChunks,
		"import_id": req.ImportRecordID,
	}).Info("Starting load")

	for start := 0; start < len(rows); start += l.chunkSize {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		end := start + l.chunkSize
		if end > len(rows) {
			end = len(rows)
		}

		if err := l.processChunk(ctx, req, validator, sets, rows[start:end], result); err != nil {
			return result, fmt.Errorf("chunk %d/%d: %w", result.ChunksCompleted+1, totalChunks, err)
		}

		result.ChunksCompleted++
		metrics.RecordChunkCommitted(req.TenantID, req.TableKey)

		if req.OnProgress != nil {
			if err := req.OnProgress(ctx, result.ChunksCompleted, totalChunks, result.Counts()); err != nil {
				return result, err
			}
		}
	}

	return result, nil
}

// processChunk validates, dedupes and inserts one chunk. Validation
// failures and duplicates are recorded, never dropped; survivors commit in
// a single transaction.
func (l *Loader) processChunk(ctx context.Context, req Request, validator *schema.Validator, sets [][]models.ColumnDef, chunk []parsers.Row, result *Result) error {
	ctx, span := tracing.StartSpan(ctx, "loader.Loader.processChunk")
	defer span.End()

	// Phase 1: map + validate
	prepared := make([]preparedRow, 0, len(chunk))
	var failures []*models.ValidationFailure
	for _, row := range chunk {
		mapped, err := l.mapper.ApplyRow(req.Mappings, row.Values)
		if err != nil {
			failures = append(failures, l.validationFailure(req, row, []models.ColumnError{{Message: err.Error()}}))
			continue
		}

		checked := validator.ValidateRecord(mapped)
		if !checked.Valid {
			failures = append(failures, l.validationFailure(req, row, checked.Errors))
			continue
		}
		prepared = append(prepared, preparedRow{number: row.Number, values: checked.Values})
	}

	if len(failures) > 0 {
		if err := l.failures.CreateBatch(ctx, req.TenantID, failures); err != nil {
			return err
		}
	}

	// Phase 2: probe persisted rows for uniqueness conflicts, in parallel
	var matches map[int]persistedMatch
	if len(sets) > 0 && len(prepared) > 0 {
		var err error
		matches, err = l.findPersisted(ctx, req, sets, prepared)
		if err != nil {
			return err
		}
	}

	// Phase 3: walk rows in file order, catching conflicts inside the chunk
	type pendingDuplicate struct {
		row       preparedRow
		setIdx    int
		existing  string // persisted winner row id; "" when the winner is in this chunk
		winnerIdx int    // index into inserts when the winner is in this chunk
	}

	var inserts []map[string]any
	var pendings []pendingDuplicate
	chunkSeen := make([]map[string]int, len(sets))
	for i := range chunkSeen {
		chunkSeen[i] = make(map[string]int)
	}

	for i, row := range prepared {
		if match, dup := matches[i]; dup {
			pendings = append(pendings, pendingDuplicate{row: row, setIdx: match.setIdx, existing: match.rowID, winnerIdx: -1})
			continue
		}

		winnerIdx := -1
		winnerSet := -1
		keys := make([]string, len(sets))
		for s, set := range sets {
			key, ok := rowKeyFor(row.values, set)
			if !ok {
				continue
			}
			keys[s] = key
			if idx, seen := chunkSeen[s][key]; seen && winnerIdx < 0 {
				winnerIdx = idx
				winnerSet = s
			}
		}

		if winnerIdx >= 0 {
			pendings = append(pendings, pendingDuplicate{row: row, setIdx: winnerSet, winnerIdx: winnerIdx})
			continue
		}

		insertIdx := len(inserts)
		for s := range sets {
			if keys[s] != "" {
				chunkSeen[s][keys[s]] = insertIdx
			}
		}
		inserts = append(inserts, row.values)
	}

	// Phase 4: commit survivors, then record duplicates against the
	// now-known winner row ids
	rowIDs, err := l.rows.InsertChunk(ctx, req.TenantID, req.TableKey, req.ImportRecordID, req.Columns, inserts)
	if err != nil {
		return err
	}

	if len(pendings) > 0 {
		records := make([]*models.DuplicateRecord, 0, len(pendings))
		for _, p := range pendings {
			existing := p.existing
			if p.winnerIdx >= 0 {
				existing = rowIDs[p.winnerIdx]
			}
			records = append(records, l.duplicateRecord(req, p.row, req.UniquenessSets[p.setIdx], existing))
		}
		if err := l.duplicates.CreateBatch(ctx, req.TenantID, records); err != nil {
			return err
		}
	}

	result.RowsProcessed += len(chunk)
	result.RowsInserted += len(inserts)
	result.DuplicateCount += len(pendings)
	result.ValidationFailureCount += len(failures)

	metrics.RecordRows(req.TenantID, req.TableKey, "inserted", len(inserts))
	metrics.RecordRows(req.TenantID, req.TableKey, "duplicate", len(pendings))
	metrics.RecordRows(req.TenantID, req.TableKey, "validation_failed", len(failures))

	return nil
}

// findPersisted probes every uniqueness set against the physical table.
// Probes run on a bounded worker pool; when a row collides on several sets
// the lowest set index wins so reruns report the same conflict.
func (l *Loader) findPersisted(ctx context.Context, req Request, sets [][]models.ColumnDef, prepared []preparedRow) (map[int]persistedMatch, error) {
	type probeTask struct {
		setIdx  int
		tuples  [][]any
		indexes []int
	}

	var tasks []probeTask
	for s, set := range sets {
		var tuples [][]any
		var indexes []int
		for i, row := range prepared {
			tuple, ok := tupleFor(row.values, set)
			if !ok {
				continue
			}
			tuples = append(tuples, tuple)
			indexes = append(indexes, i)

			if len(tuples) == probeBatchSize {
				tasks = append(tasks, probeTask{setIdx: s, tuples: tuples, indexes: indexes})
				tuples = nil
				indexes = nil
			}
		}
		if len(tuples) > 0 {
			tasks = append(tasks, probeTask{setIdx: s, tuples: tuples, indexes: indexes})
		}
	}

	matches := make(map[int]persistedMatch)
	if len(tasks) == 0 {
		return matches, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.checkWorkers)

	for _, task := range tasks {
		g.Go(func() error {
			found, err := l.rows.FindExisting(gctx, req.TenantID, req.TableKey, sets[task.setIdx], task.tuples)
			if err != nil {
				return err
			}

			mu.Lock()
			for ord, rowID := range found {
				idx := task.indexes[ord]
				if prior, ok := matches[idx]; !ok || task.setIdx < prior.setIdx {
					matches[idx] = persistedMatch{rowID: rowID, setIdx: task.setIdx}
				}
			}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return matches, nil
}

func (l *Loader) validationFailure(req Request, row parsers.Row, errs []models.ColumnError) *models.ValidationFailure {
	payload, _ := json.Marshal(row.Values)
	errsJSON, _ := json.Marshal(errs)
	return &models.ValidationFailure{
		ImportRecordID: req.ImportRecordID,
		TargetTable:    req.TableKey,
		Payload:        payload,
		Errors:         errsJSON,
		RowNumber:      row.Number,
	}
}

// duplicateRecord snapshots the coerced values so a later create_new or
// merge resolution can write them without re-running mapping
func (l *Loader) duplicateRecord(req Request, row preparedRow, setColumns []string, existingRowID string) *models.DuplicateRecord {
	payload, _ := json.Marshal(row.values)
	return &models.DuplicateRecord{
		ImportRecordID:    req.ImportRecordID,
		TargetTable:       req.TableKey,
		Payload:           payload,
		ExistingRowID:     existingRowID,
		UniquenessColumns: setColumns,
		DetectedAt:        time.Now().UTC(),
	}
}

// resolveSets maps uniqueness column names onto the table's column
// definitions. Unknown columns fail the load before any chunk runs.
func resolveSets(uniquenessSets [][]string, columns []models.ColumnDef) ([][]models.ColumnDef, error) {
	byName := make(map[string]models.ColumnDef, len(columns))
	for _, col := range columns {
		byName[col.Name] = col
	}

	sets := make([][]models.ColumnDef, 0, len(uniquenessSets))
	for _, names := range uniquenessSets {
		if len(names) == 0 {
			continue
		}
		set := make([]models.ColumnDef, 0, len(names))
		for _, name := range names {
			col, ok := byName[name]
			if !ok {
				return nil, fmt.Errorf("uniqueness column %s is not a table column", name)
			}
			set = append(set, col)
		}
		sets = append(sets, set)
	}
	return sets, nil
}

// tupleFor extracts a probe tuple. Rows missing any set value never
// conflict (NULL semantics), so they are skipped entirely.
func tupleFor(values map[string]any, set []models.ColumnDef) ([]any, bool) {
	tuple := make([]any, len(set))
	for i, col := range set {
		value, ok := values[col.Name]
		if !ok || value == nil {
			return nil, false
		}
		tuple[i] = value
	}
	return tuple, true
}

// rowKeyFor builds the in-chunk dedupe key for one uniqueness set
func rowKeyFor(values map[string]any, set []models.ColumnDef) (string, bool) {
	names := make([]string, len(set))
	for i, col := range set {
		value, ok := values[col.Name]
		if !ok || value == nil {
			return "", false
		}
		names[i] = col.Name
	}
	return fingerprint.RowKey(names, values), true
}
