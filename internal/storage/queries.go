package storage

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

// Queries holds the statements behind the repository.
type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type LedgerRow struct {
	SessionID string
	Kind      string
	Filename  string
	RowsJSON  string
	RowCount  int64
	LoadedAt  string
}

type RunRow struct {
	ID          string
	SessionID   string
	RowsJSON    string
	TotalsJSON  string
	ObjectsJSON string
	HasDetail   bool
	CreatedAt   string
	ExportedAt  sql.NullString
}

const upsertLedger = `
INSERT INTO ledgers (session_id, kind, filename, rows_json, row_count, loaded_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (session_id, kind) DO UPDATE SET
    filename = excluded.filename,
    rows_json = excluded.rows_json,
    row_count = excluded.row_count,
    loaded_at = excluded.loaded_at`

func (q *Queries) UpsertLedger(ctx context.Context, arg LedgerRow) error {
	_, err := q.db.ExecContext(ctx, upsertLedger,
		arg.SessionID, arg.Kind, arg.Filename, arg.RowsJSON, arg.RowCount, arg.LoadedAt)
	return err
}

const getLedger = `
SELECT session_id, kind, filename, rows_json, row_count, loaded_at
FROM ledgers
WHERE session_id = ? AND kind = ?`

func (q *Queries) GetLedger(ctx context.Context, sessionID, kind string) (LedgerRow, error) {
	var i LedgerRow
	err := q.db.QueryRowContext(ctx, getLedger, sessionID, kind).Scan(
		&i.SessionID, &i.Kind, &i.Filename, &i.RowsJSON, &i.RowCount, &i.LoadedAt,
	)
	return i, err
}

const insertRun = `
INSERT INTO runs (id, session_id, rows_json, totals_json, objects_json, has_detail, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) InsertRun(ctx context.Context, arg RunRow) error {
	_, err := q.db.ExecContext(ctx, insertRun,
		arg.ID, arg.SessionID, arg.RowsJSON, arg.TotalsJSON, arg.ObjectsJSON, arg.HasDetail, arg.CreatedAt)
	return err
}

const runColumns = `id, session_id, rows_json, totals_json, objects_json, has_detail, created_at, exported_at`

const getRun = `SELECT ` + runColumns + ` FROM runs WHERE id = ?`

func (q *Queries) GetRun(ctx context.Context, id string) (RunRow, error) {
	return scanRun(q.db.QueryRowContext(ctx, getRun, id))
}

const getLatestRun = `SELECT ` + runColumns + `
FROM runs
WHERE session_id = ?
ORDER BY created_at DESC, rowid DESC
LIMIT 1`

func (q *Queries) GetLatestRun(ctx context.Context, sessionID string) (RunRow, error) {
	return scanRun(q.db.QueryRowContext(ctx, getLatestRun, sessionID))
}

const markRunExported = `UPDATE runs SET exported_at = ? WHERE id = ?`

func (q *Queries) MarkRunExported(ctx context.Context, exportedAt, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, markRunExported, exportedAt, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const listPendingRunIDs = `
SELECT id FROM runs
WHERE exported_at IS NULL
ORDER BY created_at
LIMIT ?`

func (q *Queries) ListPendingRunIDs(ctx context.Context, limit int64) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, listPendingRunIDs, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		items = append(items, id)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func scanRun(row *sql.Row) (RunRow, error) {
	var i RunRow
	err := row.Scan(
		&i.ID, &i.SessionID, &i.RowsJSON, &i.TotalsJSON, &i.ObjectsJSON,
		&i.HasDetail, &i.CreatedAt, &i.ExportedAt,
	)
	return i, err
}
