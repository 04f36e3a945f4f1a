// Package csvfile reads and writes ledgers as comma-separated text.
package csvfile

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"

	"rollup/internal/core"
	ports "rollup/internal/sheets"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Ensure interface conformance
var (
	_ ports.LedgerDecoder = Codec{}
	_ ports.LedgerEncoder = Codec{}
)

// Codec reads a header-first CSV table. Rows may have any number of fields.
type Codec struct{}

// Decode parses r into records. A leading UTF-8 byte order mark is skipped.
func (Codec) Decode(r io.Reader) ([]core.Record, error) {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}

	reader := csv.NewReader(br)
	reader.FieldsPerRecord = -1

	table, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: read csv: %v", ports.ErrDecode, err)
	}
	return ports.BuildRecords(table), nil
}

// Encode writes rows with a header made of the union of their keys.
// The byte order mark is written so spreadsheet tools pick UTF-8.
func (Codec) Encode(w io.Writer, rows []core.Record) error {
	if _, err := w.Write(utf8BOM); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	headers := ports.Headers(rows)
	if err := cw.Write(headers); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	line := make([]string, len(headers))
	for i, r := range rows {
		for j, h := range headers {
			line[j] = r.Text(h)
		}
		if err := cw.Write(line); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
