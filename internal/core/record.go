package core

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type (
	// Record is one ledger row: an ordered set of named cells. Values are
	// string, decimal.Decimal or time.Time.
	Record struct {
		keys   []string
		values map[string]any
	}

	// Field is a single key/value pair used to build records in order.
	Field struct {
		Key   string
		Value any
	}
)

// NewRecord builds a record from fields, keeping their order. A repeated key
// overwrites the earlier value in place.
func NewRecord(fields ...Field) Record {
	r := Record{values: make(map[string]any, len(fields))}
	for _, f := range fields {
		r.set(f.Key, f.Value)
	}
	return r
}

// F is shorthand for Field{Key: key, Value: value}.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Keys returns the field names in insertion order.
func (r Record) Keys() []string {
	return append([]string(nil), r.keys...)
}

// Len returns the number of fields.
func (r Record) Len() int {
	return len(r.keys)
}

// Get returns the raw value stored under key.
func (r Record) Get(key string) (any, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Has reports whether key is present.
func (r Record) Has(key string) bool {
	_, ok := r.values[key]
	return ok
}

// Text returns the display form of the value stored under key, or "" when
// the key is missing.
func (r Record) Text(key string) string {
	v, ok := r.values[key]
	if !ok {
		return ""
	}
	return FormatValue(v)
}

// With returns a copy of r with key set to value. The key is appended when
// it was not present. r itself is left unchanged.
func (r Record) With(key string, value any) Record {
	out := r.Clone()
	out.set(key, value)
	return out
}

// Clone returns an independent copy of r.
func (r Record) Clone() Record {
	out := Record{
		keys:   append([]string(nil), r.keys...),
		values: make(map[string]any, len(r.values)),
	}
	for k, v := range r.values {
		out.values[k] = v
	}
	return out
}

func (r *Record) set(key string, value any) {
	if r.values == nil {
		r.values = make(map[string]any)
	}
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

// FormatValue renders a cell value the way it is shown in previews.
func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case decimal.Decimal:
		return t.String()
	case time.Time:
		if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 {
			return t.Format(time.DateOnly)
		}
		return t.Format(time.DateTime)
	default:
		return fmt.Sprint(t)
	}
}

// Wire form of a cell: k=key, t=type tag, v=value text.
type jsonCell struct {
	K string `json:"k"`
	T string `json:"t,omitempty"`
	V string `json:"v"`
}

const (
	cellString  = ""
	cellDecimal = "n"
	cellTime    = "d"
)

// MarshalJSON encodes the record as an ordered list of cells.
func (r Record) MarshalJSON() ([]byte, error) {
	cells := make([]jsonCell, 0, len(r.keys))
	for _, k := range r.keys {
		c := jsonCell{K: k}
		switch v := r.values[k].(type) {
		case decimal.Decimal:
			c.T, c.V = cellDecimal, v.String()
		case time.Time:
			c.T, c.V = cellTime, v.Format(time.RFC3339Nano)
		default:
			c.V = FormatValue(v)
		}
		cells = append(cells, c)
	}
	return json.Marshal(cells)
}

// UnmarshalJSON decodes the ordered cell list produced by MarshalJSON.
func (r *Record) UnmarshalJSON(data []byte) error {
	var cells []jsonCell
	if err := json.Unmarshal(data, &cells); err != nil {
		return err
	}
	out := Record{values: make(map[string]any, len(cells))}
	for _, c := range cells {
		switch c.T {
		case cellDecimal:
			d, err := decimal.NewFromString(c.V)
			if err != nil {
				return fmt.Errorf("field %q: %w", c.K, err)
			}
			out.set(c.K, d)
		case cellTime:
			t, err := time.Parse(time.RFC3339Nano, c.V)
			if err != nil {
				return fmt.Errorf("field %q: %w", c.K, err)
			}
			out.set(c.K, t)
		case cellString:
			out.set(c.K, c.V)
		default:
			return fmt.Errorf("field %q: unknown cell type %q", c.K, c.T)
		}
	}
	*r = out
	return nil
}
