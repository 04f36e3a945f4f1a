package http

import (
	"errors"
	"net/http"

	"rollup/internal/aggregate"
	"rollup/internal/core"
	"rollup/internal/log"
)

type ledgerView struct {
	Kind     core.LedgerKind
	Label    string
	Filename string
	LoadedAt string
	Preview  core.Preview
}

type totalsView struct {
	Consumption string
	Deposit     string
	Settlement  string
}

type runView struct {
	totalsView
	ID        string
	Rows      int
	HasDetail bool
	CreatedAt string
	Preview   core.Preview
}

type indexData struct {
	Error       string
	MaxUploadMB int64
	Ledgers     []ledgerView
	HasSummary  bool
	Totals      *totalsView
	Run         *runView
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.renderIndex(w, r, http.StatusOK, "")
}

// renderIndex draws the workspace page: one upload card per ledger kind,
// the latest run and an optional error banner.
func (s *Server) renderIndex(w http.ResponseWriter, r *http.Request, status int, errMsg string) {
	ctx := r.Context()
	logger := log.FromContext(ctx)
	if s.templates == nil {
		logger.ErrorContext(ctx, "Templates not loaded", log.FieldPath, r.URL.Path)
		http.Error(w, errTemplatesGone.Error(), http.StatusInternalServerError)
		return
	}
	sessionID := s.session(w, r)

	data := indexData{
		Error:       errMsg,
		MaxUploadMB: s.opts.MaxUploadBytes >> 20,
	}

	set, err := s.svc.Ledgers(ctx, sessionID)
	if err != nil {
		logger.ErrorContext(ctx, "Load ledgers failed", log.NewFields().WithSession(sessionID).WithError(err).ToSlice()...)
	}
	for _, kind := range []core.LedgerKind{core.SummaryLedger, core.DetailLedger} {
		v := ledgerView{Kind: kind, Label: kind.Label()}
		l := set.Summary
		if kind == core.DetailLedger {
			l = set.Detail
		}
		if l != nil {
			v.Filename = l.Filename
			v.LoadedAt = l.LoadedAt.Local().Format("2006-01-02 15:04:05")
			v.Preview = core.NewPreview(l.Rows, s.opts.PreviewRows)
		}
		data.Ledgers = append(data.Ledgers, v)
	}
	if set.Summary != nil {
		data.HasSummary = true
		totals := s.totals(aggregate.Aggregate(set.Summary.Rows, nil).Totals)
		data.Totals = &totals
	}

	run, err := s.svc.LatestRun(ctx, sessionID)
	switch {
	case err == nil:
		data.Run = &runView{
			totalsView: s.totals(run.Totals),
			ID:         run.ID,
			Rows:       len(run.Rows),
			HasDetail:  run.HasDetail,
			CreatedAt:  run.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			Preview:    core.NewPreview(run.Rows, s.opts.PreviewRows),
		}
	case !errors.Is(err, core.ErrNotFound):
		logger.ErrorContext(ctx, "Load latest run failed", log.NewFields().WithSession(sessionID).WithError(err).ToSlice()...)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := s.templates.ExecuteTemplate(w, "index.html", data); err != nil {
		logger.ErrorContext(ctx, "Index template execution failed", log.FieldError, err, "template", "index.html")
	}
}

func (s *Server) totals(t core.Totals) totalsView {
	return totalsView{
		Consumption: core.FormatCurrency(s.opts.CurrencySymbol, t.Consumption),
		Deposit:     core.FormatCurrency(s.opts.CurrencySymbol, t.Deposit),
		Settlement:  core.FormatCurrency(s.opts.CurrencySymbol, t.Settlement),
	}
}
