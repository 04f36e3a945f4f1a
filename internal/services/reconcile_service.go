package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"rollup/internal/aggregate"
	"rollup/internal/core"
	"rollup/internal/log"
	"rollup/internal/sheets"
	"rollup/internal/sheets/csvfile"
	"rollup/internal/sheets/xlsx"
	"rollup/internal/workspace"
)

var (
	// ErrNoSummary is returned by Process before a summary ledger is loaded.
	ErrNoSummary = errors.New("请至少上传汇总表文件")
	// ErrUnsupportedFormat is returned for uploads that are neither workbooks nor CSV.
	ErrUnsupportedFormat = errors.New("unsupported file format")
)

// Publisher announces completed runs. Publishing is best effort.
type Publisher interface {
	PublishRollupCompleted(ctx context.Context, run core.Run) error
}

// ReconcileService loads ledgers into a session workspace, builds runs from
// them and exports runs as workbooks.
type ReconcileService struct {
	store     workspace.Store
	publisher Publisher
	decoders  map[string]sheets.LedgerDecoder
	encoder   sheets.LedgerEncoder
	logger    *log.Logger
	events    *log.StructuredLogger
	now       func() time.Time
	newID     func() string
}

// Option configures a ReconcileService.
type Option func(*ReconcileService)

// WithPublisher announces every stored run through p.
func WithPublisher(p Publisher) Option {
	return func(s *ReconcileService) { s.publisher = p }
}

// WithDateLayout sets the layout used for date cells in uploaded workbooks.
func WithDateLayout(layout string) Option {
	return func(s *ReconcileService) {
		codec := xlsx.New(layout)
		s.decoders[".xlsx"] = codec
		s.decoders[".xlsm"] = codec
	}
}

// WithLogger replaces the default logger.
func WithLogger(l *log.Logger) Option {
	return func(s *ReconcileService) { s.logger = l }
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *ReconcileService) { s.now = now }
}

func NewReconcileService(store workspace.Store, opts ...Option) *ReconcileService {
	codec := xlsx.New("")
	s := &ReconcileService{
		store: store,
		decoders: map[string]sheets.LedgerDecoder{
			".xlsx": codec,
			".xlsm": codec,
			".csv":  csvfile.Codec{},
		},
		encoder: codec,
		logger:  log.New(log.DefaultConfig()),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent(log.ComponentReconcile)
	s.events = log.NewStructuredLogger(s.logger)
	return s
}

// LoadLedger decodes an uploaded file and stores it as the session's ledger
// of the given kind. The file is decoded completely before anything is
// stored, so a bad upload leaves the previous ledger in place.
func (s *ReconcileService) LoadLedger(ctx context.Context, sessionID string, kind core.LedgerKind, filename string, r io.Reader) (core.Ledger, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	dec, ok := s.decoders[ext]
	if !ok {
		return core.Ledger{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	rows, err := dec.Decode(r)
	if err != nil {
		s.events.LogError(ctx, "Ledger upload rejected", err, log.OpLoad,
			log.NewFields().WithSession(sessionID).WithLedger(kind.String(), filename, 0))
		return core.Ledger{}, fmt.Errorf("load %s: %w", kind.Label(), err)
	}

	ledger := core.Ledger{
		Kind:     kind,
		Filename: filepath.Base(filename),
		Rows:     rows,
		LoadedAt: s.now().UTC(),
	}
	if err := s.store.SaveLedger(ctx, sessionID, ledger); err != nil {
		return core.Ledger{}, fmt.Errorf("save %s: %w", kind.Label(), err)
	}
	s.events.LogLedgerLoaded(ctx, sessionID, kind.String(), ledger.Filename, len(rows))
	return ledger, nil
}

// Ledgers returns the ledgers loaded by the session.
func (s *ReconcileService) Ledgers(ctx context.Context, sessionID string) (core.LedgerSet, error) {
	return s.store.Ledgers(ctx, sessionID)
}

// Process aggregates the session's ledgers into a new run and stores it.
// progress, when not nil, is called at every aggregation stage.
func (s *ReconcileService) Process(ctx context.Context, sessionID string, progress func(aggregate.Stage)) (core.Run, error) {
	set, err := s.store.Ledgers(ctx, sessionID)
	if err != nil {
		return core.Run{}, fmt.Errorf("load ledgers: %w", err)
	}
	if set.Summary == nil {
		return core.Run{}, ErrNoSummary
	}
	var detail []core.Record
	if set.Detail != nil {
		detail = set.Detail.Rows
	}

	start := s.now()
	res := aggregate.Aggregate(set.Summary.Rows, detail, aggregate.WithProgress(func(st aggregate.Stage) {
		s.logger.DebugContext(ctx, "Aggregation progress",
			log.NewFields().WithSession(sessionID).WithStage(st.String(), st.Percent()).ToSlice()...)
		if progress != nil {
			progress(st)
		}
	}))

	run := core.Run{
		ID:        s.newID(),
		SessionID: sessionID,
		Rows:      res.Rows,
		Totals:    res.Totals,
		Objects:   res.Objects,
		HasDetail: res.HasDetail,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.SaveRun(ctx, run); err != nil {
		return core.Run{}, fmt.Errorf("save run: %w", err)
	}
	s.events.LogRunCompleted(ctx, sessionID, run.ID, len(run.Rows), s.now().Sub(start))

	if s.publisher != nil {
		if err := s.publisher.PublishRollupCompleted(ctx, run); err != nil {
			s.events.LogError(ctx, "Failed to publish rollup completed message", err, log.OpPublish,
				log.NewFields().WithRun(run.ID, len(run.Rows)))
		}
	}
	return run, nil
}

// Run returns a run of the session. Runs of other sessions are not found.
func (s *ReconcileService) Run(ctx context.Context, sessionID, runID string) (core.Run, error) {
	run, err := s.store.Run(ctx, runID)
	if err != nil {
		return core.Run{}, err
	}
	if run.SessionID != sessionID {
		return core.Run{}, core.ErrNotFound
	}
	return run, nil
}

// LatestRun returns the session's most recent run.
func (s *ReconcileService) LatestRun(ctx context.Context, sessionID string) (core.Run, error) {
	return s.store.LatestRun(ctx, sessionID)
}

// Export writes the run's rows as a styled workbook.
func (s *ReconcileService) Export(ctx context.Context, sessionID, runID string, w io.Writer) error {
	run, err := s.Run(ctx, sessionID, runID)
	if err != nil {
		return err
	}
	if err := s.encoder.Encode(w, run.Rows); err != nil {
		return fmt.Errorf("encode run %s: %w", runID, err)
	}
	return nil
}

// Close releases the publisher when it holds a connection.
func (s *ReconcileService) Close() error {
	if c, ok := s.publisher.(io.Closer); ok && c != nil {
		if err := c.Close(); err != nil {
			return fmt.Errorf("close publisher: %w", err)
		}
	}
	return nil
}
