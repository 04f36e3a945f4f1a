package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"rollup/internal/core"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

type fakeSheets struct {
	mu       sync.Mutex
	calls    []string
	titles   []string
	values   [][]interface{}
	written  [][]interface{}
	failRead bool
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := r.URL.Path
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodGet && strings.Contains(path, "/values/"):
		f.calls = append(f.calls, "get-values")
		if f.failRead {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":{"code":403,"message":"denied"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"values": f.values})
	case r.Method == http.MethodGet:
		f.calls = append(f.calls, "get-spreadsheet")
		sheets := make([]map[string]any, 0, len(f.titles))
		for _, t := range f.titles {
			sheets = append(sheets, map[string]any{"properties": map[string]any{"title": t}})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"sheets": sheets})
	case r.Method == http.MethodPost && strings.HasSuffix(path, ":batchUpdate"):
		f.calls = append(f.calls, "add-sheet")
		var req gsheet.BatchUpdateSpreadsheetRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.titles = append(f.titles, req.Requests[0].AddSheet.Properties.Title)
		_, _ = w.Write([]byte(`{}`))
	case r.Method == http.MethodPost && strings.HasSuffix(path, ":clear"):
		f.calls = append(f.calls, "clear")
		_, _ = w.Write([]byte(`{}`))
	case r.Method == http.MethodPut:
		f.calls = append(f.calls, "update")
		var vr gsheet.ValueRange
		_ = json.NewDecoder(r.Body).Decode(&vr)
		f.written = vr.Values
		_, _ = w.Write([]byte(`{"updatedRange":"'完整汇总表'!A1:C3"}`))
	default:
		http.NotFound(w, r)
	}
}

func newTestClient(t *testing.T, fake *fakeSheets) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	svc, err := gsheet.NewService(context.Background(),
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return New(svc, "sheet-id")
}

func TestReadLedger(t *testing.T) {
	fake := &fakeSheets{values: [][]interface{}{
		{"对象编号", "交易类型", "金额（元）"},
		{"A001", "消费", "-50"},
		{},
		{"A001", "预存"},
	}}
	c := newTestClient(t, fake)

	rows, err := c.ReadLedger(context.Background(), "汇总表!A:J")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Text(core.FieldAmount) != "-50" || rows[1].Text(core.FieldType) != core.TypeDeposit {
		t.Fatalf("unexpected rows %v / %v", rows[0].Keys(), rows[1].Keys())
	}
}

func TestReadLedgerError(t *testing.T) {
	c := newTestClient(t, &fakeSheets{failRead: true})
	if _, err := c.ReadLedger(context.Background(), "汇总表!A:J"); err == nil {
		t.Fatal("expected error from a rejected read")
	}
}

func TestWriteRunCreatesSheetThenReplacesValues(t *testing.T) {
	fake := &fakeSheets{titles: []string{"Sheet1"}}
	c := newTestClient(t, fake)

	rows := []core.Record{
		core.NewRecord(core.F(core.FieldObjectID, "A001"), core.F(core.FieldAmount, decimal.RequireFromString("-50"))),
		core.NewRecord(core.F(core.FieldObjectID, "A001"), core.F(core.FieldType, core.TypePeriodSettlement)),
	}
	ref, err := c.WriteRun(context.Background(), "完整汇总表", rows)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if ref != "'完整汇总表'!A1:C3" {
		t.Fatalf("unexpected ref %q", ref)
	}

	want := []string{"get-spreadsheet", "add-sheet", "clear", "update"}
	if strings.Join(fake.calls, ",") != strings.Join(want, ",") {
		t.Fatalf("calls = %v, want %v", fake.calls, want)
	}
	if len(fake.written) != 3 || len(fake.written[0]) != 3 {
		t.Fatalf("unexpected written table %v", fake.written)
	}
	if fake.written[0][2] != core.FieldType {
		t.Fatalf("header %v", fake.written[0])
	}
	if amount, ok := fake.written[1][1].(float64); !ok || amount != -50 {
		t.Fatalf("amount should be written as a number, got %#v", fake.written[1][1])
	}
}

func TestWriteRunReusesExistingSheet(t *testing.T) {
	fake := &fakeSheets{titles: []string{"完整汇总表"}}
	c := newTestClient(t, fake)

	if _, err := c.WriteRun(context.Background(), "完整汇总表", nil); err != nil {
		t.Fatalf("write: %v", err)
	}
	for _, call := range fake.calls {
		if call == "add-sheet" {
			t.Fatal("existing sheet should not be added again")
		}
	}
}

func TestNewFromEnv_MissingSpreadsheetID(t *testing.T) {
	_, err := NewFromEnv(context.Background(), "  ")
	if err == nil || err.Error() != "missing GOOGLE_SPREADSHEET_ID" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewFromEnv_MissingCredentials(t *testing.T) {
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_JSON", "")
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_FILE", "")
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")

	_, err := NewFromEnv(context.Background(), "sheet-id")
	if err == nil || !strings.Contains(err.Error(), "missing service account credentials") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestQuoteSheet(t *testing.T) {
	if got := quoteSheet("it's"); got != "'it''s'" {
		t.Fatalf("got %q", got)
	}
}
