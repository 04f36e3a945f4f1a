// Package xlsx reads and writes ledgers as Excel workbooks.
package xlsx

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"rollup/internal/core"
	ports "rollup/internal/sheets"
)

const (
	// SheetName is the name of the sheet holding an exported run.
	SheetName = "完整汇总表"
	// ExportFilename is the suggested download name of an exported run.
	ExportFilename = "完整消费预存余额汇总表.xlsx"
	// DefaultDateLayout renders date-formatted cells.
	DefaultDateLayout = time.DateOnly
	// DateTimeLayout renders cells whose format carries a time of day.
	DateTimeLayout = time.DateTime

	styledColumns = 10
	columnWidth   = 15
)

// Ensure interface conformance
var (
	_ ports.LedgerDecoder = (*Codec)(nil)
	_ ports.LedgerEncoder = (*Codec)(nil)
)

// Codec decodes the first sheet of a workbook and encodes runs into a new one.
type Codec struct {
	dateLayout string
}

// New returns a codec rendering date cells with layout (a Go time layout).
// An empty layout uses DefaultDateLayout.
func New(dateLayout string) *Codec {
	if strings.TrimSpace(dateLayout) == "" {
		dateLayout = DefaultDateLayout
	}
	return &Codec{dateLayout: dateLayout}
}

// Decode reads the first sheet into records keyed by its header row.
// Every failure is wrapped in sheets.ErrDecode.
func (c *Codec) Decode(r io.Reader) ([]core.Record, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: open workbook: %v", ports.ErrDecode, err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, fmt.Errorf("%w: workbook has no sheets", ports.ErrDecode)
	}
	table, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("%w: read sheet %q: %v", ports.ErrDecode, sheet, err)
	}
	if err := c.renderDates(f, sheet, table); err != nil {
		return nil, fmt.Errorf("%w: %v", ports.ErrDecode, err)
	}
	return ports.BuildRecords(table), nil
}

// renderDates replaces the formatted text of date cells with the codec's
// layout, so dates read the same whatever number format the author used.
// Cells whose format shows a time of day render as DateTimeLayout instead.
func (c *Codec) renderDates(f *excelize.File, sheet string, table [][]string) error {
	use1904 := false
	if props, err := f.GetWorkbookProps(); err == nil && props.Date1904 != nil {
		use1904 = *props.Date1904
	}
	kinds := make(map[int]dateKind)
	for ri, row := range table {
		for ci, cell := range row {
			if strings.TrimSpace(cell) == "" {
				continue
			}
			axis, err := excelize.CoordinatesToCellName(ci+1, ri+1)
			if err != nil {
				return err
			}
			styleID, err := f.GetCellStyle(sheet, axis)
			if err != nil || styleID == 0 {
				continue
			}
			kind, seen := kinds[styleID]
			if !seen {
				kind = styleDateKind(f, styleID)
				kinds[styleID] = kind
			}
			if kind == notDate {
				continue
			}
			raw, err := f.GetCellValue(sheet, axis, excelize.Options{RawCellValue: true})
			if err != nil {
				continue
			}
			serial, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				continue
			}
			t, err := excelize.ExcelDateToTime(serial, use1904)
			if err != nil {
				continue
			}
			layout := c.dateLayout
			if kind == dateTime {
				layout = DateTimeLayout
			}
			table[ri][ci] = t.Round(time.Second).Format(layout)
		}
	}
	return nil
}

type dateKind int

const (
	notDate dateKind = iota
	dateOnly
	dateTime
)

func styleDateKind(f *excelize.File, styleID int) dateKind {
	style, err := f.GetStyle(styleID)
	if err != nil || style == nil {
		return notDate
	}
	if style.CustomNumFmt != nil {
		return formatDateKind(*style.CustomNumFmt)
	}
	switch id := style.NumFmt; {
	case id >= 18 && id <= 22, id >= 32 && id <= 35, id >= 45 && id <= 47, id == 55, id == 56:
		return dateTime
	case id >= 14 && id <= 17, id >= 27 && id <= 36, id >= 50 && id <= 58:
		return dateOnly
	}
	return notDate
}

// formatDateKind classifies a custom number format. Quoted literals and
// bracketed sections (colours, locales) are ignored.
func formatDateKind(code string) dateKind {
	var b strings.Builder
	inQuote, inBracket := false, false
	for _, r := range code {
		switch {
		case r == '"':
			inQuote = !inQuote
		case inQuote:
		case r == '[':
			inBracket = true
		case r == ']':
			inBracket = false
		case inBracket:
		default:
			b.WriteRune(r)
		}
	}
	s := strings.ToLower(b.String())
	switch {
	case strings.ContainsAny(s, "hs"):
		return dateTime
	case strings.ContainsAny(s, "yd"):
		return dateOnly
	}
	return notDate
}

// Encode writes rows into a single styled sheet. The header is the union of
// all row keys in first-seen order.
func (c *Codec) Encode(w io.Writer, rows []core.Record) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return fmt.Errorf("name sheet: %w", err)
	}

	headers := ports.Headers(rows)
	if len(headers) > 0 {
		if err := f.SetSheetRow(SheetName, "A1", &headers); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	for i, r := range rows {
		cells := make([]any, len(headers))
		for j, h := range headers {
			v, _ := r.Get(h)
			cells[j] = cellValue(v)
		}
		axis, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SheetName, axis, &cells); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	if err := styleHeader(f); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func cellValue(v any) any {
	switch t := v.(type) {
	case nil:
		return ""
	case decimal.Decimal:
		return t.InexactFloat64()
	case string, time.Time:
		return t
	default:
		return core.FormatValue(t)
	}
}

// styleHeader applies the header look to A1:J1 and fixes the width of A:J.
func styleHeader(f *excelize.File) error {
	border := func(side string) excelize.Border {
		return excelize.Border{Type: side, Color: "000000", Style: 1}
	}
	styleID, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Family: "宋体",
			Size:   12,
			Bold:   true,
			Color:  "000000",
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
		Border: []excelize.Border{border("left"), border("top"), border("right"), border("bottom")},
		Fill: excelize.Fill{
			Type:    "pattern",
			Pattern: 1,
			Color:   []string{"DDEBF7"},
		},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	lastCol, err := excelize.ColumnNumberToName(styledColumns)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(SheetName, "A1", lastCol+"1", styleID); err != nil {
		return fmt.Errorf("style header: %w", err)
	}
	if err := f.SetColWidth(SheetName, "A", lastCol, columnWidth); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}
	return nil
}
