// Package core holds the ledger record model and the value coercions the
// aggregation relies on.
//
// Amounts are carried as decimal.Decimal so sums of cents do not drift;
// timestamps are only ever compared, never displayed back.
package core

import (
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultCurrencySymbol prefixes formatted totals.
const DefaultCurrencySymbol = "¥"

// ParseAmount coerces a cell value into a decimal amount.
//
// Decimals are returned unchanged, so coercing twice is a no-op. Strings may
// carry surrounding spaces, grouping commas and a leading yuan glyph.
// Anything that cannot be read as a number is zero.
//
// Examples:
//
//	ParseAmount("-50")       -> -50
//	ParseAmount("¥1,234.50") -> 1234.5
//	ParseAmount("n/a")       -> 0
//	ParseAmount(nil)         -> 0
func ParseAmount(v any) decimal.Decimal {
	switch t := v.(type) {
	case decimal.Decimal:
		return t
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return decimal.Zero
		}
		return decimal.NewFromFloat(t)
	case float32:
		return ParseAmount(float64(t))
	case int:
		return decimal.NewFromInt(int64(t))
	case int64:
		return decimal.NewFromInt(t)
	case string:
		return parseAmountString(t)
	default:
		return decimal.Zero
	}
}

func parseAmountString(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "¥")
	s = strings.TrimPrefix(s, "￥")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// FormatCurrency renders an amount with a leading glyph and two decimals,
// e.g. "¥150.00" or "¥-50.00". An empty symbol falls back to the default.
func FormatCurrency(symbol string, d decimal.Decimal) string {
	if symbol == "" {
		symbol = DefaultCurrencySymbol
	}
	return symbol + d.StringFixed(2)
}

// timestampLayouts are tried in order when a creation time is text.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.DateTime,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	time.DateOnly,
	"2006/01/02 15:04:05",
	"2006/01/02 15:04",
	"2006/01/02",
	"2006/1/2 15:04:05",
	"2006/1/2",
	"2006-1-2 15:04:05",
	"2006-1-2 15:04",
	"2006-1-2",
}

// epoch is what missing or unreadable timestamps sort as.
var epoch = time.Unix(0, 0).UTC()

// ParseTimestamp reads a creation time cell. Missing or unparseable values
// map to the Unix epoch so they sort as the oldest entries.
func ParseTimestamp(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return epoch
		}
		return t
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return epoch
		}
		for _, layout := range timestampLayouts {
			if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				return ts
			}
		}
	}
	return epoch
}
