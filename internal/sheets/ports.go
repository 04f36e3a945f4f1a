package sheets

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"

	"rollup/internal/core"
)

// Ports for ledger codecs and remote sheets.
type (
	// LedgerDecoder turns an uploaded table into records keyed by its header row.
	LedgerDecoder interface {
		Decode(r io.Reader) ([]core.Record, error)
	}

	// LedgerEncoder writes records back out as a table.
	LedgerEncoder interface {
		Encode(w io.Writer, rows []core.Record) error
	}

	// LedgerReader loads a ledger from a remote spreadsheet range.
	LedgerReader interface {
		ReadLedger(ctx context.Context, rng string) ([]core.Record, error)
	}

	// RunWriter publishes an augmented table to a remote sheet.
	RunWriter interface {
		WriteRun(ctx context.Context, sheet string, rows []core.Record) (ref string, err error)
	}
)

// ErrDecode wraps every failure to read an uploaded table.
var ErrDecode = errors.New("decode ledger")

// BuildRecords converts a header-first table of cells into records.
//
// Leading blank rows are skipped and the first non-blank row is the header.
// Blank data rows are dropped, missing cells become "", and repeated header
// names get "_1", "_2" suffixes so no column is lost.
func BuildRecords(table [][]string) []core.Record {
	start := 0
	for start < len(table) && blankRow(table[start]) {
		start++
	}
	if start == len(table) {
		return nil
	}
	header := uniqueHeaders(table[start])

	var out []core.Record
	for _, row := range table[start+1:] {
		if blankRow(row) {
			continue
		}
		fields := make([]core.Field, len(header))
		for i, h := range header {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			fields[i] = core.F(h, cell)
		}
		out = append(out, core.NewRecord(fields...))
	}
	return out
}

// Headers returns the union of keys over rows, in first-seen order.
func Headers(rows []core.Record) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, r := range rows {
		for _, k := range r.Keys() {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	return out
}

func uniqueHeaders(raw []string) []string {
	out := make([]string, len(raw))
	taken := make(map[string]bool, len(raw))
	for i, h := range raw {
		h = strings.TrimSpace(h)
		if h == "" {
			h = "__EMPTY"
		}
		name := h
		for n := 1; taken[name]; n++ {
			name = h + "_" + strconv.Itoa(n)
		}
		taken[name] = true
		out[i] = name
	}
	return out
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
