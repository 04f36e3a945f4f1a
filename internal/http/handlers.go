package http

import (
	"bytes"
	"errors"
	"mime"
	"net/http"
	"strconv"

	"rollup/internal/aggregate"
	"rollup/internal/core"
	"rollup/internal/log"
	"rollup/internal/sheets/xlsx"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// handleUpload decodes a multipart "file" field into the session's ledger
// of the kind named in the path.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	sessionID := s.session(w, r)
	kind, err := core.ParseLedgerKind(r.PathValue("kind"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.opts.MaxUploadBytes); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			s.fail(w, r, err)
			return
		}
		s.fail(w, r, errors.Join(errMissingFile, err))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.fail(w, r, errMissingFile)
		return
	}
	defer file.Close()

	ledger, err := s.svc.LoadLedger(r.Context(), sessionID, kind, header.Filename, file)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, map[string]any{
			"kind":     ledger.Kind,
			"filename": ledger.Filename,
			"rows":     len(ledger.Rows),
			"preview":  core.NewPreview(ledger.Rows, s.opts.PreviewRows),
		})
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

type stageReport struct {
	Stage   string `json:"stage"`
	Percent int    `json:"percent"`
}

// handleProcess builds a new run from the session's ledgers.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	sessionID := s.session(w, r)

	var stages []stageReport
	run, err := s.svc.Process(r.Context(), sessionID, func(st aggregate.Stage) {
		stages = append(stages, stageReport{Stage: st.String(), Percent: st.Percent()})
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, map[string]any{
			"run":      s.runSummary(run),
			"progress": stages,
		})
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

type runSummary struct {
	ID        string               `json:"id"`
	Rows      int                  `json:"rows"`
	HasDetail bool                 `json:"has_detail"`
	Totals    map[string]string    `json:"totals"`
	Objects   []core.ObjectSummary `json:"objects"`
	ExportURL string               `json:"export_url"`
}

func (s *Server) runSummary(run core.Run) runSummary {
	return runSummary{
		ID:        run.ID,
		Rows:      len(run.Rows),
		HasDetail: run.HasDetail,
		Totals: map[string]string{
			"consumption": core.FormatCurrency(s.opts.CurrencySymbol, run.Totals.Consumption),
			"deposit":     core.FormatCurrency(s.opts.CurrencySymbol, run.Totals.Deposit),
			"settlement":  core.FormatCurrency(s.opts.CurrencySymbol, run.Totals.Settlement),
		},
		Objects:   run.Objects,
		ExportURL: "/runs/" + run.ID + "/export",
	}
}

// handleRun returns a stored run with its rows.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	sessionID := s.session(w, r)
	run, err := s.svc.Run(r.Context(), sessionID, r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		runSummary
		Data []core.Record `json:"data"`
	}{s.runSummary(run), run.Rows})
}

// handleExport streams a run as a workbook download.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	sessionID := s.session(w, r)
	runID := r.PathValue("id")

	// Encode fully before writing so failures can still change the status.
	var buf bytes.Buffer
	if err := s.svc.Export(r.Context(), sessionID, runID, &buf); err != nil {
		s.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": xlsx.ExportFilename}))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("Cache-Control", "no-store")
	if _, err := buf.WriteTo(w); err != nil {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Export download interrupted",
			log.NewFields().WithSession(sessionID).WithRun(runID, 0).WithError(err).ToSlice()...)
	}
}
