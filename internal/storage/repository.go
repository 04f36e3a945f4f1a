// Package storage is the SQLite workspace store. Ledgers and runs are kept as
// JSON documents so records keep their column order and value types.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"rollup/internal/core"
	"rollup/internal/workspace"

	_ "modernc.org/sqlite"
)

// timeLayout sorts lexically in UTC.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Ensure interface conformance
var _ workspace.Store = (*SQLiteRepository)(nil)

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
	now     func() time.Time
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db, queries: New(db), now: time.Now}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) SaveLedger(ctx context.Context, sessionID string, l core.Ledger) error {
	rows, err := json.Marshal(l.Rows)
	if err != nil {
		return fmt.Errorf("encode ledger rows: %w", err)
	}
	err = r.queries.UpsertLedger(ctx, LedgerRow{
		SessionID: sessionID,
		Kind:      l.Kind.String(),
		Filename:  l.Filename,
		RowsJSON:  string(rows),
		RowCount:  int64(len(l.Rows)),
		LoadedAt:  formatTime(l.LoadedAt),
	})
	if err != nil {
		return fmt.Errorf("save %s ledger: %w", l.Kind, err)
	}
	slog.DebugContext(ctx, "Ledger saved to SQLite",
		"session_id", sessionID,
		"kind", l.Kind.String(),
		"rows", len(l.Rows))
	return nil
}

func (r *SQLiteRepository) Ledgers(ctx context.Context, sessionID string) (core.LedgerSet, error) {
	var set core.LedgerSet
	summary, err := r.ledger(ctx, sessionID, core.SummaryLedger)
	if err != nil {
		return set, err
	}
	detail, err := r.ledger(ctx, sessionID, core.DetailLedger)
	if err != nil {
		return set, err
	}
	set.Summary, set.Detail = summary, detail
	return set, nil
}

func (r *SQLiteRepository) ledger(ctx context.Context, sessionID string, kind core.LedgerKind) (*core.Ledger, error) {
	row, err := r.queries.GetLedger(ctx, sessionID, kind.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s ledger: %w", kind, err)
	}
	l := &core.Ledger{Kind: kind, Filename: row.Filename}
	if err := json.Unmarshal([]byte(row.RowsJSON), &l.Rows); err != nil {
		return nil, fmt.Errorf("decode %s ledger rows: %w", kind, err)
	}
	if l.LoadedAt, err = parseTime(row.LoadedAt); err != nil {
		return nil, err
	}
	return l, nil
}

func (r *SQLiteRepository) SaveRun(ctx context.Context, run core.Run) error {
	rows, err := json.Marshal(run.Rows)
	if err != nil {
		return fmt.Errorf("encode run rows: %w", err)
	}
	totals, err := json.Marshal(run.Totals)
	if err != nil {
		return fmt.Errorf("encode run totals: %w", err)
	}
	objects, err := json.Marshal(run.Objects)
	if err != nil {
		return fmt.Errorf("encode run objects: %w", err)
	}
	err = r.queries.InsertRun(ctx, RunRow{
		ID:          run.ID,
		SessionID:   run.SessionID,
		RowsJSON:    string(rows),
		TotalsJSON:  string(totals),
		ObjectsJSON: string(objects),
		HasDetail:   run.HasDetail,
		CreatedAt:   formatTime(run.CreatedAt),
	})
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	slog.InfoContext(ctx, "Run saved to SQLite",
		"run_id", run.ID,
		"session_id", run.SessionID,
		"rows", len(run.Rows))
	return nil
}

func (r *SQLiteRepository) Run(ctx context.Context, id string) (core.Run, error) {
	row, err := r.queries.GetRun(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Run{}, core.ErrNotFound
	}
	if err != nil {
		return core.Run{}, fmt.Errorf("get run: %w", err)
	}
	return toRun(row)
}

func (r *SQLiteRepository) LatestRun(ctx context.Context, sessionID string) (core.Run, error) {
	row, err := r.queries.GetLatestRun(ctx, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Run{}, core.ErrNotFound
	}
	if err != nil {
		return core.Run{}, fmt.Errorf("get latest run: %w", err)
	}
	return toRun(row)
}

func (r *SQLiteRepository) MarkExported(ctx context.Context, id string) error {
	n, err := r.queries.MarkRunExported(ctx, formatTime(r.now()), id)
	if err != nil {
		return fmt.Errorf("mark run exported: %w", err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	slog.InfoContext(ctx, "Run marked as exported", "run_id", id)
	return nil
}

// PendingRunIDs lists up to limit runs that were never exported, oldest first.
func (r *SQLiteRepository) PendingRunIDs(ctx context.Context, limit int) ([]string, error) {
	ids, err := r.queries.ListPendingRunIDs(ctx, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("list pending runs: %w", err)
	}
	return ids, nil
}

func toRun(row RunRow) (core.Run, error) {
	run := core.Run{ID: row.ID, SessionID: row.SessionID, HasDetail: row.HasDetail}
	if err := json.Unmarshal([]byte(row.RowsJSON), &run.Rows); err != nil {
		return core.Run{}, fmt.Errorf("decode run rows: %w", err)
	}
	if err := json.Unmarshal([]byte(row.TotalsJSON), &run.Totals); err != nil {
		return core.Run{}, fmt.Errorf("decode run totals: %w", err)
	}
	if err := json.Unmarshal([]byte(row.ObjectsJSON), &run.Objects); err != nil {
		return core.Run{}, fmt.Errorf("decode run objects: %w", err)
	}
	var err error
	if run.CreatedAt, err = parseTime(row.CreatedAt); err != nil {
		return core.Run{}, err
	}
	if row.ExportedAt.Valid {
		at, err := parseTime(row.ExportedAt.String)
		if err != nil {
			return core.Run{}, err
		}
		run.ExportedAt = &at
	}
	return run, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t, nil
}
