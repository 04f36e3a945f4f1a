package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollup/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "data", "rollup.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestLedgerRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	set, err := repo.Ledgers(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, set.Summary)
	assert.Nil(t, set.Detail)

	loaded := time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)
	ledger := core.Ledger{
		Kind:     core.SummaryLedger,
		Filename: "汇总表.xlsx",
		LoadedAt: loaded,
		Rows: []core.Record{
			core.NewRecord(core.F(core.FieldObjectID, "A001"), core.F(core.FieldAmount, "-50")),
		},
	}
	require.NoError(t, repo.SaveLedger(ctx, "s1", ledger))

	ledger.Filename = "v2.xlsx"
	require.NoError(t, repo.SaveLedger(ctx, "s1", ledger))

	set, err = repo.Ledgers(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, set.Summary)
	assert.Nil(t, set.Detail)
	assert.Equal(t, "v2.xlsx", set.Summary.Filename)
	assert.True(t, set.Summary.LoadedAt.Equal(loaded))
	require.Len(t, set.Summary.Rows, 1)
	assert.Equal(t, []string{core.FieldObjectID, core.FieldAmount}, set.Summary.Rows[0].Keys())
	assert.Equal(t, "-50", set.Summary.Rows[0].Text(core.FieldAmount))
}

func TestRunRoundTripAndLatest(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	balance := decimal.RequireFromString("300")
	first := core.Run{
		ID:        "r1",
		SessionID: "s1",
		HasDetail: true,
		CreatedAt: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC),
		Rows: []core.Record{
			core.NewRecord(core.F(core.FieldObjectID, "A001"), core.F(core.FieldAmount, decimal.RequireFromString("150"))),
		},
		Totals:  core.Totals{Deposit: decimal.RequireFromString("200"), Consumption: decimal.RequireFromString("-50"), Settlement: decimal.RequireFromString("150")},
		Objects: []core.ObjectSummary{{ObjectID: "A001", Rows: 2, Balance: &balance}},
	}
	second := first
	second.ID = "r2"
	second.CreatedAt = first.CreatedAt.Add(time.Second)

	require.NoError(t, repo.SaveRun(ctx, first))
	require.NoError(t, repo.SaveRun(ctx, second))

	got, err := repo.Run(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, got.HasDetail)
	assert.True(t, got.Totals.Settlement.Equal(decimal.RequireFromString("150")))
	require.NotNil(t, got.Objects[0].Balance)
	assert.True(t, got.Objects[0].Balance.Equal(balance))
	v, _ := got.Rows[0].Get(core.FieldAmount)
	amount, ok := v.(decimal.Decimal)
	require.True(t, ok, "amount should come back as a decimal, got %T", v)
	assert.True(t, amount.Equal(decimal.RequireFromString("150")))
	assert.Nil(t, got.ExportedAt)

	latest, err := repo.LatestRun(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "r2", latest.ID)

	_, err = repo.LatestRun(ctx, "other")
	assert.True(t, errors.Is(err, core.ErrNotFound))
	_, err = repo.Run(ctx, "missing")
	assert.True(t, errors.Is(err, core.ErrNotFound))
}

func TestMarkExported(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return fixed }

	assert.True(t, errors.Is(repo.MarkExported(ctx, "missing"), core.ErrNotFound))

	require.NoError(t, repo.SaveRun(ctx, core.Run{ID: "r1", SessionID: "s1", CreatedAt: fixed}))
	require.NoError(t, repo.MarkExported(ctx, "r1"))

	run, err := repo.Run(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, run.ExportedAt)
	assert.True(t, run.ExportedAt.Equal(fixed))
}

func TestPendingRunIDs(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"r3", "r1", "r2"} {
		require.NoError(t, repo.SaveRun(ctx, core.Run{ID: id, SessionID: "s", CreatedAt: base.Add(time.Duration(i) * time.Minute)}))
	}
	require.NoError(t, repo.MarkExported(ctx, "r1"))

	ids, err := repo.PendingRunIDs(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"r3", "r2"}, ids)

	ids, err = repo.PendingRunIDs(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"r3"}, ids)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rollup.db")
	require.NoError(t, RunMigrations(path))
	require.NoError(t, RunMigrations(path))
}
