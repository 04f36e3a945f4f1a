// Package memory is an in-process workspace store. Entries expire after a
// period of inactivity, so abandoned sessions free their ledgers.
package memory

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"rollup/internal/core"
	"rollup/internal/workspace"
)

// DefaultTTL is used when New is given a non-positive ttl.
const DefaultTTL = 2 * time.Hour

// Ensure interface conformance
var _ workspace.Store = (*Store)(nil)

type Store struct {
	mu    sync.Mutex
	items *gocache.Cache
	now   func() time.Time
}

// New returns a store whose entries live for ttl after their last write.
func New(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{items: gocache.New(ttl, 2*ttl), now: time.Now}
}

func ledgerKey(sessionID string, kind core.LedgerKind) string {
	return "ledger:" + sessionID + ":" + kind.String()
}

func runKey(id string) string { return "run:" + id }

func latestKey(sessionID string) string { return "latest:" + sessionID }

func (s *Store) SaveLedger(_ context.Context, sessionID string, l core.Ledger) error {
	s.items.Set(ledgerKey(sessionID, l.Kind), l, gocache.DefaultExpiration)
	return nil
}

func (s *Store) Ledgers(_ context.Context, sessionID string) (core.LedgerSet, error) {
	var set core.LedgerSet
	if v, ok := s.items.Get(ledgerKey(sessionID, core.SummaryLedger)); ok {
		l := v.(core.Ledger)
		set.Summary = &l
	}
	if v, ok := s.items.Get(ledgerKey(sessionID, core.DetailLedger)); ok {
		l := v.(core.Ledger)
		set.Detail = &l
	}
	return set, nil
}

func (s *Store) SaveRun(_ context.Context, run core.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items.Set(runKey(run.ID), run, gocache.DefaultExpiration)
	s.items.Set(latestKey(run.SessionID), run.ID, gocache.DefaultExpiration)
	return nil
}

func (s *Store) Run(_ context.Context, id string) (core.Run, error) {
	v, ok := s.items.Get(runKey(id))
	if !ok {
		return core.Run{}, core.ErrNotFound
	}
	return v.(core.Run), nil
}

func (s *Store) LatestRun(ctx context.Context, sessionID string) (core.Run, error) {
	v, ok := s.items.Get(latestKey(sessionID))
	if !ok {
		return core.Run{}, core.ErrNotFound
	}
	return s.Run(ctx, v.(string))
}

func (s *Store) MarkExported(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items.Get(runKey(id))
	if !ok {
		return core.ErrNotFound
	}
	run := v.(core.Run)
	at := s.now().UTC()
	run.ExportedAt = &at
	s.items.Set(runKey(id), run, gocache.DefaultExpiration)
	return nil
}
