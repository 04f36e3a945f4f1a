package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"rollup/internal/log"
	"rollup/internal/services"
	"rollup/internal/sheets/xlsx"
	"rollup/internal/workspace/memory"
)

const summaryCSV = "对象编号,户名,交易类型,金额（元）,缴费日期\n" +
	"A001,张三,消费,-50,2024-03-01\n" +
	"A001,张三,预存,200,2024-03-02\n"

const detailCSV = "对象编号,创建时间,交易后金额（元）\n" +
	"A001,2024-01-01 08:00:00,500\n" +
	"A001,2024-02-01 08:00:00,300\n"

func quietLogger() *log.Logger {
	return log.New(log.Config{Component: log.ComponentApp, Handler: slog.NewTextHandler(io.Discard, nil)})
}

func newTestServer(t *testing.T, opts Options) *Server {
	t.Helper()
	opts.Logger = quietLogger()
	svc := services.NewReconcileService(memory.New(memory.DefaultTTL), services.WithLogger(opts.Logger))
	srv := NewServer(":0", svc, opts)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

// client carries the session cookie between requests.
type client struct {
	t      *testing.T
	srv    *Server
	cookie *http.Cookie
}

func (c *client) do(req *http.Request) *httptest.ResponseRecorder {
	c.t.Helper()
	if c.cookie != nil {
		req.AddCookie(c.cookie)
	}
	rr := httptest.NewRecorder()
	c.srv.Handler.ServeHTTP(rr, req)
	for _, ck := range rr.Result().Cookies() {
		if ck.Name == sessionCookie {
			c.cookie = ck
		}
	}
	return rr
}

func (c *client) upload(kind, filename string, content []byte) *httptest.ResponseRecorder {
	c.t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(c.t, err)
	_, _ = fw.Write(content)
	require.NoError(c.t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/ledgers/"+kind, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	return c.do(req)
}

func (c *client) jsonRequest(method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("Accept", "application/json")
	return c.do(req)
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &m), rr.Body.String())
	return m
}

func TestIndexAndHealth(t *testing.T) {
	srv := newTestServer(t, Options{})
	c := &client{t: t, srv: srv}

	rr := c.do(httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "汇总表")
	assert.Contains(t, rr.Body.String(), "请至少上传汇总表文件")
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
	require.NotNil(t, c.cookie, "session cookie should be issued")

	for _, path := range []string{"/healthz", "/readyz", "/static/app.css"} {
		rr := c.do(httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rr.Code, path)
	}
}

func TestReadyzReportsFailures(t *testing.T) {
	srv := newTestServer(t, Options{Ready: func(context.Context) error { return errors.New("db down") }})
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestIndexShowsTotalsOnceSummaryLoads(t *testing.T) {
	c := &client{t: t, srv: newTestServer(t, Options{})}

	rr := c.do(httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), "消费总额")

	rr = c.upload("summary", "汇总.csv", []byte(summaryCSV))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = c.do(httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.NotContains(t, body, "汇总结果", "no run has been processed yet")
	assert.Contains(t, body, "消费总额")
	assert.Contains(t, body, "¥-50.00")
	assert.Contains(t, body, "¥200.00")
	assert.Contains(t, body, "¥150.00")
}

func TestProcessRequiresSummary(t *testing.T) {
	c := &client{t: t, srv: newTestServer(t, Options{})}

	rr := c.jsonRequest(http.MethodPost, "/process")

	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "请至少上传汇总表文件", decodeBody(t, rr)["error"])
}

func TestUploadProcessAndExport(t *testing.T) {
	c := &client{t: t, srv: newTestServer(t, Options{})}

	rr := c.upload("summary", "汇总.csv", []byte(summaryCSV))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := decodeBody(t, rr)
	assert.EqualValues(t, 2, body["rows"])
	assert.Equal(t, "汇总.csv", body["filename"])

	rr = c.upload("detail", "明细.csv", []byte(detailCSV))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = c.jsonRequest(http.MethodPost, "/process")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body = decodeBody(t, rr)
	run := body["run"].(map[string]any)
	assert.EqualValues(t, 4, run["rows"])
	assert.Equal(t, true, run["has_detail"])
	totals := run["totals"].(map[string]any)
	assert.Equal(t, "¥-50.00", totals["consumption"])
	assert.Equal(t, "¥200.00", totals["deposit"])
	assert.Equal(t, "¥150.00", totals["settlement"])
	assert.Len(t, body["progress"], 4)

	runID := run["id"].(string)
	rr = c.jsonRequest(http.MethodGet, "/runs/"+runID)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeBody(t, rr)["data"], 4)

	rr = c.do(httptest.NewRequest(http.MethodGet, "/runs/"+runID+"/export", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, xlsxContentType, rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "attachment")
	f, err := excelize.OpenReader(bytes.NewReader(rr.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(xlsx.SheetName)
	require.NoError(t, err)
	assert.Len(t, rows, 5)

	// The index shows the latest run's totals.
	rr = c.do(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Contains(t, rr.Body.String(), "¥150.00")
	assert.Contains(t, rr.Body.String(), "/runs/"+runID+"/export")

	// Another session cannot see the run.
	other := &client{t: t, srv: c.srv}
	rr = other.do(httptest.NewRequest(http.MethodGet, "/runs/"+runID+"/export", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestUploadErrors(t *testing.T) {
	c := &client{t: t, srv: newTestServer(t, Options{MaxUploadBytes: 1024})}

	cases := []struct {
		name     string
		kind     string
		filename string
		content  []byte
		want     int
	}{
		{"unknown kind", "other", "a.csv", []byte(summaryCSV), http.StatusBadRequest},
		{"unsupported extension", "summary", "a.txt", []byte(summaryCSV), http.StatusBadRequest},
		{"unreadable workbook", "summary", "a.xlsx", []byte("not a workbook"), http.StatusUnprocessableEntity},
		{"too large", "summary", "a.csv", bytes.Repeat([]byte("x"), 4096), http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := c.upload(tc.kind, tc.filename, tc.content)
			assert.Equal(t, tc.want, rr.Code, rr.Body.String())
		})
	}

	// Nothing was stored by the failed uploads.
	rr := c.jsonRequest(http.MethodPost, "/process")
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestFormPostsRedirectOrRenderErrors(t *testing.T) {
	c := &client{t: t, srv: newTestServer(t, Options{})}

	rr := c.do(httptest.NewRequest(http.MethodPost, "/process", nil))
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rr.Body.String(), `class="error"`)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, _ := mw.CreateFormFile("file", "s.csv")
	_, _ = fw.Write([]byte(summaryCSV))
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/ledgers/summary", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr = c.do(req)
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/", rr.Header().Get("Location"))
}

func TestMissingFileField(t *testing.T) {
	c := &client{t: t, srv: newTestServer(t, Options{})}
	req := httptest.NewRequest(http.MethodPost, "/ledgers/summary", strings.NewReader("a=b"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	rr := c.do(req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRateLimit(t *testing.T) {
	c := &client{t: t, srv: newTestServer(t, Options{RateLimitPerMinute: 2})}

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, c.do(httptest.NewRequest(http.MethodGet, "/healthz", nil)).Code)
	}
	rr := c.jsonRequest(http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, statusFor(&http.MaxBytesError{Limit: 1}))
	assert.Equal(t, "处理失败，请稍后重试", userMessage(errors.New("secret path"), http.StatusInternalServerError))
}
