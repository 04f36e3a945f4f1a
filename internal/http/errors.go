package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"rollup/internal/core"
	"rollup/internal/log"
	"rollup/internal/services"
	"rollup/internal/sheets"
)

var (
	errRateLimited   = errors.New("rate limit exceeded, please try again later")
	errMissingFile   = errors.New("missing file field")
	errUploadTooBig  = errors.New("uploaded file is too large")
	errTemplatesGone = errors.New("templates not loaded")
)

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var tooBig *http.MaxBytesError
	switch {
	case errors.As(err, &tooBig), errors.Is(err, errUploadTooBig):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrNoSummary):
		return http.StatusConflict
	case errors.Is(err, sheets.ErrDecode):
		return http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrUnsupportedFormat),
		errors.Is(err, core.ErrInvalidLedgerKind),
		errors.Is(err, errMissingFile):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// userMessage is the text shown for err. Internal failures are not echoed.
func userMessage(err error, status int) string {
	switch {
	case status >= 500:
		return "处理失败，请稍后重试"
	case errors.Is(err, services.ErrNoSummary):
		return services.ErrNoSummary.Error()
	case status == http.StatusRequestEntityTooLarge:
		return errUploadTooBig.Error()
	default:
		return err.Error()
	}
}

// wantsJSON reports whether the client asked for a JSON response rather
// than the rendered page.
func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// fail writes err as JSON or as the index page with an error banner.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := userMessage(err, status)
	if status >= 500 {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Request failed",
			log.NewFields().WithError(err).ToSlice()...)
	}
	if wantsJSON(r) || r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/runs/") {
		writeJSON(w, status, map[string]string{"error": msg})
		return
	}
	s.renderIndex(w, r, status, msg)
}
