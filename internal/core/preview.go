package core

// DefaultPreviewRows is how many rows a preview shows before "+N more".
const DefaultPreviewRows = 5

// Preview is a bounded, display-ready slice of a row collection.
type Preview struct {
	Headers   []string
	Rows      [][]string
	Total     int
	Remaining int
}

// NewPreview renders the first limit rows. Headers come from the first row,
// matching what the user sees at the top of the uploaded sheet. A limit of
// zero or less uses DefaultPreviewRows.
func NewPreview(rows []Record, limit int) Preview {
	if limit <= 0 {
		limit = DefaultPreviewRows
	}
	p := Preview{Total: len(rows)}
	if len(rows) == 0 {
		return p
	}
	p.Headers = rows[0].Keys()
	n := min(limit, len(rows))
	p.Rows = make([][]string, 0, n)
	for _, r := range rows[:n] {
		line := make([]string, len(p.Headers))
		for i, h := range p.Headers {
			line[i] = r.Text(h)
		}
		p.Rows = append(p.Rows, line)
	}
	p.Remaining = len(rows) - n
	return p
}

// Empty reports whether there is nothing to show.
func (p Preview) Empty() bool {
	return p.Total == 0
}
