// Package workspace holds the per-session state of the reconciliation flow:
// the uploaded ledgers and the runs produced from them.
package workspace

import (
	"context"

	"rollup/internal/core"
)

// Store persists ledgers per session and the runs built from them.
// Lookups of unknown ids return core.ErrNotFound.
type Store interface {
	// SaveLedger replaces the session's ledger of the same kind.
	SaveLedger(ctx context.Context, sessionID string, l core.Ledger) error
	// Ledgers returns whatever the session has loaded so far.
	Ledgers(ctx context.Context, sessionID string) (core.LedgerSet, error)

	SaveRun(ctx context.Context, run core.Run) error
	Run(ctx context.Context, id string) (core.Run, error)
	// LatestRun returns the most recent run of the session.
	LatestRun(ctx context.Context, sessionID string) (core.Run, error)
	// MarkExported stamps the run as written to its export targets.
	MarkExported(ctx context.Context, id string) error
}
