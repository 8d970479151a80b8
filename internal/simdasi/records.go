package simdasi

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"simdasi/internal/table"
	"simdasi/internal/textutil"
)

// scopeRegencyCity is the lingkup_id whose labels get the "Kabupaten " prefix
// when they name a regency without saying so.
const scopeRegencyCity = "kabupaten/kota"

// defaultLabelColumn names the label column when no scope id is known.
const defaultLabelColumn = "label"

// Measure is one named cell of a Record.
type Measure struct {
	Name  string // display label from the payload's column metadata
	Value table.Value
}

// Record is one flattened output row before assembly.
type Record struct {
	Label    string
	Year     int
	Measures []Measure
}

// runContext carries the values resolved once per extraction from the first
// successfully fetched partition and threaded through every later year.
type runContext struct {
	resolved    bool
	labelColumn string
	categoryID  table.Value
}

// resolve fixes the label column name and category id from the first
// partition. Later calls are no-ops.
func (rc *runContext) resolve(d *Detail) {
	if rc.resolved {
		return
	}
	rc.resolved = true
	rc.labelColumn = defaultLabelColumn
	if d.ScopeID != "" {
		if n := textutil.NormalizeColumnName(d.ScopeID); n != "" {
			rc.labelColumn = n
		}
	}
	rc.categoryID = categoryValue(d.CategoryID)
}

// categoryValue keeps mms_id as delivered: numbers stay numeric, text stays
// text, anything else is missing. Coercion to an integer happens at assembly.
func categoryValue(raw json.RawMessage) table.Value {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return table.Missing()
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return table.Missing()
	}
	switch t := v.(type) {
	case float64:
		return table.Number(t)
	case string:
		return table.String(t)
	default:
		return table.Missing()
	}
}

// AugmentLabel prefixes regency names with "Kabupaten " when the partition's
// scope is kabupaten/kota and the label is neither a city, an already
// prefixed regency, nor the province itself.
func AugmentLabel(label, scopeID string) string {
	if !strings.EqualFold(scopeID, scopeRegencyCity) {
		return label
	}
	lower := strings.ToLower(label)
	if strings.HasPrefix(lower, "kota ") || strings.HasPrefix(lower, "kabupaten ") || lower == "jawa timur" {
		return label
	}
	return "Kabupaten " + label
}

// ParseMeasure converts a raw value_raw cell into a Value:
//   - JSON numbers (and booleans) become numbers
//   - strings are read with Indonesian separators, "." for thousands and ","
//     for decimals, so "1.234,5" is 1234.5; unparsable text is kept as is
//   - null, absent and any other shape become 0
func ParseMeasure(raw json.RawMessage) table.Value {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return table.Number(0)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return table.Number(0)
	}
	switch t := v.(type) {
	case float64:
		return table.Number(t)
	case bool:
		if t {
			return table.Number(1)
		}
		return table.Number(0)
	case string:
		s := strings.ReplaceAll(t, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return table.Number(f)
		}
		return table.String(t)
	default:
		return table.Number(0)
	}
}

// buildRecords flattens one partition into records. Measures follow the
// column metadata order; a display label repeated under several keys keeps
// its first position and the last value.
func buildRecords(d *Detail, year int) []Record {
	out := make([]Record, 0, len(d.Rows))
	for _, row := range d.Rows {
		rec := Record{
			Label:    AugmentLabel(textutil.CleanLabel(row.Label), d.ScopeID),
			Year:     year,
			Measures: make([]Measure, 0, len(d.Columns)),
		}
		pos := make(map[string]int, len(d.Columns))
		for _, col := range d.Columns {
			val := ParseMeasure(row.rawValue(col.Key))
			if i, ok := pos[col.Label]; ok {
				rec.Measures[i].Value = val
				continue
			}
			pos[col.Label] = len(rec.Measures)
			rec.Measures = append(rec.Measures, Measure{Name: col.Label, Value: val})
		}
		out = append(out, rec)
	}
	return out
}
