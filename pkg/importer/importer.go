// Package importer streams prospect files into the ledger in checkpointed chunks, so
// an interrupted import resumes after the last chunk it stored.
package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/outflow/outflow/pkg/config"
	"github.com/outflow/outflow/pkg/metrics"
	"github.com/outflow/outflow/pkg/models"
	"github.com/outflow/outflow/pkg/otelhelper"
	"github.com/outflow/outflow/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type Pipeline struct {
	imports   persistence.ImportRepository
	prospects persistence.ProspectRepository
	cfg       config.ImportConfig
	sanitizer *Sanitizer
	metrics   *metrics.Collector
	tracer    trace.Tracer
	logger    *slog.Logger
}

func NewPipeline(
	ledger persistence.Persistence,
	cfg config.ImportConfig,
	collector *metrics.Collector,
	tracer trace.Tracer,
	logger *slog.Logger,
) *Pipeline {
	if tracer == nil {
		tracer = otelhelper.NoopTracer()
	}

	return &Pipeline{
		imports:   ledger.ImportRepository(),
		prospects: ledger.ProspectRepository(),
		cfg:       cfg,
		sanitizer: NewSanitizer(cfg.RequireContact),
		metrics:   collector,
		tracer:    tracer,
		logger:    logger.With("module", "importer"),
	}
}

// ImportFile registers a new import of path and runs it to the end.
func (p *Pipeline) ImportFile(ctx context.Context, path string) (*models.ImportRecord, error) {
	record := &models.ImportRecord{
		ID:        uuid.NewString(),
		FilePath:  path,
		Status:    models.ImportStatusPending,
		CreatedAt: time.Now().UTC(),
	}

	if err := p.imports.CreateImport(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to register import: %w", err)
	}

	return p.run(ctx, record, &models.ImportProgress{})
}

// Resume continues an unfinished import after its checkpoint. A finished import is
// returned unchanged.
func (p *Pipeline) Resume(ctx context.Context, id string) (*models.ImportRecord, error) {
	record, err := p.imports.ImportByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if record.Status == models.ImportStatusCompleted || record.Status == models.ImportStatusFailed {
		return record, nil
	}

	progress, err := Checkpoint(record)
	if errors.Is(err, persistence.ErrCheckpointNotFound) {
		p.logger.InfoContext(ctx, "no checkpoint, importing from the first row", "import_id", id)

		progress = &models.ImportProgress{}
	}

	return p.run(ctx, record, progress)
}

// Checkpoint returns the progress stored on record.
func Checkpoint(record *models.ImportRecord) (*models.ImportProgress, error) {
	if record.Checkpoint == nil {
		return nil, persistence.NewImportError("Checkpoint", record.ID, persistence.ErrCheckpointNotFound)
	}

	return record.Checkpoint, nil
}

// attempt is the state of one run over the file.
type attempt struct {
	record    *models.ImportRecord
	progress  *models.ImportProgress
	chunk     []*models.Prospect
	processed int
	peak      uint64
	stats     runtime.MemStats
}

func (a *attempt) sampleMemory() {
	runtime.ReadMemStats(&a.stats)
	a.peak = max(a.peak, a.stats.HeapAlloc)
}

func (p *Pipeline) run(ctx context.Context, record *models.ImportRecord, progress *models.ImportProgress) (*models.ImportRecord, error) {
	started := time.Now()
	logger := p.logger.With("import_id", record.ID, "file", record.FilePath)

	file, err := os.Open(record.FilePath)
	if err != nil {
		return p.reject(ctx, record, fmt.Errorf("failed to open import file: %w", err))
	}
	defer file.Close()

	reader, err := NewReader(file)
	if err != nil {
		return p.reject(ctx, record, err)
	}

	run := &attempt{record: record, progress: progress}
	run.sampleMemory()

	if progress.LastProcessedRow > 0 {
		logger.InfoContext(ctx, "resuming import", "after_row", progress.LastProcessedRow,
			"succeeded", progress.Succeeded, "failed", progress.Failed)
	}

	chunkSize := max(1, p.cfg.ChunkSize)
	lastRow := progress.LastProcessedRow

	for {
		row, fields, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		if row <= progress.LastProcessedRow {
			continue
		}

		lastRow = row
		run.processed++

		var parseErr *csv.ParseError

		switch {
		case errors.As(err, &parseErr):
			p.rejectRow(run, row, parseErr)
		case err != nil:
			return nil, fmt.Errorf("failed to read row %d: %w", row, err)
		default:
			p.accept(run, row, fields, reader.Columns())
		}

		if row%chunkSize == 0 {
			if err := p.flush(ctx, run, row); err != nil {
				return nil, err
			}
		}
	}

	if lastRow > progress.LastProcessedRow || len(run.chunk) > 0 {
		if err := p.flush(ctx, run, lastRow); err != nil {
			return nil, err
		}
	}

	return p.finish(ctx, run, time.Since(started))
}

func (p *Pipeline) accept(run *attempt, row int, fields []string, columns Columns) {
	sanitized, err := p.sanitizer.Sanitize(fields, columns)

	if sanitized != nil {
		if sanitized.MissingEmail {
			run.progress.MissingEmail++
		}

		if sanitized.MissingPhone {
			run.progress.MissingPhone++
		}
	}

	if err != nil {
		p.rejectRow(run, row, err)

		return
	}

	sanitized.Prospect.ImportID = run.record.ID
	run.chunk = append(run.chunk, sanitized.Prospect)
	run.progress.Succeeded++
}

func (p *Pipeline) rejectRow(run *attempt, row int, cause error) {
	run.progress.Failed++

	if len(run.progress.Errors) < p.cfg.MaxRowErrors {
		run.progress.Errors = append(run.progress.Errors, models.RowError{Row: row, Message: cause.Error()})
	}
}

// flush stores the pending prospects and then the checkpoint. A crash in between
// replays the chunk, which the upsert absorbs.
func (p *Pipeline) flush(ctx context.Context, run *attempt, row int) error {
	started := time.Now()

	ctx, span := otelhelper.StartSpan(ctx, p.tracer, "importer.chunk",
		attribute.String(otelhelper.ImportIDKey, run.record.ID),
		attribute.Int("outflow.import.row", row),
		attribute.Int("outflow.import.chunk_size", len(run.chunk)),
	)
	defer span.End()

	succeeded := len(run.chunk)
	failed := row - run.progress.LastProcessedRow - succeeded

	if len(run.chunk) > 0 {
		if err := p.prospects.UpsertProspects(ctx, run.chunk); err != nil {
			otelhelper.SetError(span, err)

			return fmt.Errorf("failed to store prospects up to row %d: %w", row, err)
		}
	}

	run.progress.LastProcessedRow = row

	if err := p.imports.SaveCheckpoint(ctx, run.record.ID, run.progress); err != nil {
		otelhelper.SetError(span, err)

		return fmt.Errorf("failed to save checkpoint at row %d: %w", row, err)
	}

	p.metrics.RecordImportChunk(time.Since(started), succeeded, failed)
	run.chunk = run.chunk[:0]
	run.sampleMemory()

	p.logger.DebugContext(ctx, "import checkpoint saved",
		"import_id", run.record.ID, "row", row, "succeeded", run.progress.Succeeded, "failed", run.progress.Failed)

	return nil
}

func (p *Pipeline) finish(ctx context.Context, run *attempt, duration time.Duration) (*models.ImportRecord, error) {
	progress := run.progress
	total := progress.Succeeded + progress.Failed

	result := &models.ImportResult{
		TotalRows:       total,
		Succeeded:       progress.Succeeded,
		Failed:          progress.Failed,
		MissingEmail:    progress.MissingEmail,
		MissingPhone:    progress.MissingPhone,
		PeakMemoryBytes: run.peak,
		Duration:        duration,
		Status:          models.ImportStatusFor(progress.Succeeded, progress.Failed),
		Errors:          progress.Errors,
	}

	if total > 0 {
		result.SuccessRate = float64(progress.Succeeded) / float64(total) * 100
	}

	if seconds := duration.Seconds(); seconds > 0 {
		result.Throughput = float64(run.processed) / seconds
	}

	if err := p.imports.FinishImport(ctx, run.record.ID, result, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("failed to finish import: %w", err)
	}

	p.logger.InfoContext(ctx, "import finished",
		"import_id", run.record.ID,
		"status", result.Status,
		"total_rows", result.TotalRows,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"duration", duration)

	return p.imports.ImportByID(ctx, run.record.ID)
}

// reject finishes an import whose file cannot be opened or read at all.
func (p *Pipeline) reject(ctx context.Context, record *models.ImportRecord, cause error) (*models.ImportRecord, error) {
	result := &models.ImportResult{
		Status: models.ImportStatusFailed,
		Errors: []models.RowError{{Row: 0, Message: cause.Error()}},
	}

	if err := p.imports.FinishImport(ctx, record.ID, result, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("failed to finish import: %w", err)
	}

	p.logger.WarnContext(ctx, "import file rejected", "import_id", record.ID, "error", cause)

	return p.imports.ImportByID(ctx, record.ID)
}
