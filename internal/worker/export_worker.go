package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"rollup/internal/amqp"
	"rollup/internal/core"
	"rollup/internal/sheets"
)

// RunStore is the part of the SQLite repository the worker needs.
type RunStore interface {
	Run(ctx context.Context, id string) (core.Run, error)
	MarkExported(ctx context.Context, id string) error
	PendingRunIDs(ctx context.Context, limit int) ([]string, error)
}

// ExportWorker writes completed runs to their export targets: a Google
// result sheet, a directory of workbooks, or both.
type ExportWorker struct {
	runs      RunStore
	sheets    sheets.RunWriter
	sheetName string
	encoder   sheets.LedgerEncoder
	exportDir string
	batchSize int
}

// Config selects the export targets. A nil Sheets writer or an empty
// ExportDir disables that target.
type Config struct {
	Sheets    sheets.RunWriter
	SheetName string
	Encoder   sheets.LedgerEncoder
	ExportDir string
	BatchSize int
}

func NewExportWorker(runs RunStore, cfg Config) *ExportWorker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	return &ExportWorker{
		runs:      runs,
		sheets:    cfg.Sheets,
		sheetName: cfg.SheetName,
		encoder:   cfg.Encoder,
		exportDir: cfg.ExportDir,
		batchSize: cfg.BatchSize,
	}
}

// HandleRollupCompleted exports the run named by msg. Runs that no longer
// exist are skipped, runs already exported are not written twice.
func (w *ExportWorker) HandleRollupCompleted(ctx context.Context, msg *amqp.RollupCompletedMessage) error {
	run, err := w.runs.Run(ctx, msg.RunID)
	if errors.Is(err, core.ErrNotFound) {
		slog.WarnContext(ctx, "Run not found, dropping message", "run_id", msg.RunID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get run from storage: %w", err)
	}
	if run.ExportedAt != nil {
		slog.InfoContext(ctx, "Run already exported", "run_id", run.ID, "exported_at", run.ExportedAt)
		return nil
	}
	return w.export(ctx, run)
}

// ProcessPending exports runs that were stored but never exported, which
// covers messages lost while the worker was down.
func (w *ExportWorker) ProcessPending(ctx context.Context) (int, error) {
	ids, err := w.runs.PendingRunIDs(ctx, w.batchSize)
	if err != nil {
		return 0, fmt.Errorf("get pending runs: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	slog.InfoContext(ctx, "Processing pending runs", "count", len(ids))

	exported := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return exported, ctx.Err()
		}
		run, err := w.runs.Run(ctx, id)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to get pending run", "run_id", id, "error", err)
			continue
		}
		if err := w.export(ctx, run); err != nil {
			slog.ErrorContext(ctx, "Failed to export pending run", "run_id", id, "error", err)
			continue
		}
		exported++
	}
	return exported, nil
}

func (w *ExportWorker) export(ctx context.Context, run core.Run) error {
	if w.sheets != nil {
		ref, err := w.sheets.WriteRun(ctx, w.sheetName, run.Rows)
		if err != nil {
			return fmt.Errorf("write run to sheets: %w", err)
		}
		slog.InfoContext(ctx, "Run written to Google Sheets", "run_id", run.ID, "sheets_ref", ref)
	}
	if w.exportDir != "" {
		path, err := w.writeFile(run)
		if err != nil {
			return err
		}
		slog.InfoContext(ctx, "Run written to file", "run_id", run.ID, "path", path)
	}
	if err := w.runs.MarkExported(ctx, run.ID); err != nil {
		return fmt.Errorf("mark run exported: %w", err)
	}
	return nil
}

// writeFile encodes into a temporary file and renames it into place so
// readers never see a partial workbook.
func (w *ExportWorker) writeFile(run core.Run) (string, error) {
	if w.encoder == nil {
		return "", errors.New("no encoder configured for file export")
	}
	if err := os.MkdirAll(w.exportDir, 0755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}
	tmp, err := os.CreateTemp(w.exportDir, "."+run.ID+"-*.xlsx")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := w.encoder.Encode(tmp, run.Rows); err != nil {
		tmp.Close()
		return "", fmt.Errorf("encode run: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}
	path := filepath.Join(w.exportDir, run.ID+".xlsx")
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("move export into place: %w", err)
	}
	return path, nil
}
