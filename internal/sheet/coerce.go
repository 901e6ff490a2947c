package sheet

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/griddash/griddash/internal/model"
)

// serialEpoch is day zero of spreadsheet serial date numbers.
// Serial 1 is 1899-12-31; the off-by-one relative to 1900-01-01 is the
// spreadsheet lineage's Lotus leap-year bug, preserved by every
// spreadsheet product since.
var serialEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

// storedDateLayout is how date values are represented in row values.
// Dates round-trip at day granularity.
const storedDateLayout = "2006-01-02"

// pushDateLayout is the cell format written to the remote: MM/DD/YYYY.
const pushDateLayout = "01/02/2006"

// dateLayouts are tried in order when coercing a cell to a date.
var dateLayouts = []string{
	time.RFC3339,
	storedDateLayout,
	pushDateLayout,
	"1/2/2006",
}

// CoerceCell converts a raw spreadsheet cell string to the typed value
// for the given column type.
//
// Rules:
//   - date: ISO/date string first, then spreadsheet serial day number
//     (days since 1899-12-30); otherwise nil.
//   - number: parsed float, or nil if empty/unparseable.
//   - boolean: true iff case-insensitive "true"; else false, never nil.
//   - text and anything else: the raw string ("" if absent).
func CoerceCell(raw string, typ model.ColumnType) any {
	switch typ {
	case model.TypeDate:
		return coerceDate(raw)
	case model.TypeNumber:
		return coerceNumber(raw)
	case model.TypeBoolean:
		return strings.EqualFold(strings.TrimSpace(raw), "true")
	default:
		return raw
	}
}

func coerceDate(raw string) any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format(storedDateLayout)
		}
	}
	if serial, err := strconv.ParseFloat(raw, 64); err == nil {
		return serialEpoch.AddDate(0, 0, int(serial)).Format(storedDateLayout)
	}
	return nil
}

func coerceNumber(raw string) any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return f
}

// FormatCell converts a typed value to the string written into a
// remote cell.
//
// Rules: date -> MM/DD/YYYY; boolean -> "TRUE"/"FALSE"; number ->
// decimal string or "" for nil; text -> string coercion, "" for nil.
func FormatCell(v any, typ model.ColumnType) string {
	switch typ {
	case model.TypeDate:
		return formatDate(v)
	case model.TypeBoolean:
		if b, ok := v.(bool); ok && b {
			return "TRUE"
		}
		return "FALSE"
	case model.TypeNumber:
		return formatNumber(v)
	default:
		if v == nil {
			return ""
		}
		return fmt.Sprintf("%v", v)
	}
}

func formatDate(v any) string {
	switch d := v.(type) {
	case nil:
		return ""
	case time.Time:
		return d.Format(pushDateLayout)
	case string:
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, d); err == nil {
				return t.Format(pushDateLayout)
			}
		}
		return d
	default:
		return fmt.Sprintf("%v", v)
	}
}

func formatNumber(v any) string {
	switch n := v.(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(n), 'f', -1, 32)
	case int:
		return strconv.Itoa(n)
	case int64:
		return strconv.FormatInt(n, 10)
	case string:
		return n
	default:
		return fmt.Sprintf("%v", v)
	}
}
