package simdasi

import (
	"math"
	"strconv"
	"strings"

	"simdasi/internal/table"
	"simdasi/internal/textutil"
)

// Structural column names of the wide table.
const (
	ColumnID         = "id"
	ColumnCategoryID = "id_kategori"
	ColumnYear       = "tahun"
)

// Assemble builds the wide table from records in their processing order:
//
//   - columns are [id, id_kategori, tahun, <labelColumn>, measures...] with
//     measures in order of first appearance across all records
//   - id is a dense 1-based surrogate over the concatenation order
//   - id_kategori is categoryID coerced to an integer (0 when not numeric)
//   - cells a record does not carry are filled with 0
//   - every column name is normalized as the last step
func Assemble(records []Record, labelColumn string, categoryID table.Value) *table.Table {
	if labelColumn == "" {
		labelColumn = defaultLabelColumn
	}

	measureIdx := map[string]int{}
	var measureNames []string
	for _, r := range records {
		for _, m := range r.Measures {
			if _, ok := measureIdx[m.Name]; !ok {
				measureIdx[m.Name] = len(measureNames)
				measureNames = append(measureNames, m.Name)
			}
		}
	}

	const fixed = 4
	cols := make([]string, 0, fixed+len(measureNames))
	cols = append(cols, ColumnID, ColumnCategoryID, ColumnYear, labelColumn)
	cols = append(cols, measureNames...)

	cat := table.Int(coerceInt(categoryID))
	t := &table.Table{Columns: cols, Rows: make([][]table.Value, 0, len(records))}
	for i, r := range records {
		row := make([]table.Value, len(cols))
		row[0] = table.Int(int64(i + 1))
		row[1] = cat
		row[2] = table.Int(int64(r.Year))
		row[3] = table.String(r.Label)
		for _, m := range r.Measures {
			row[fixed+measureIdx[m.Name]] = m.Value
		}
		t.Rows = append(t.Rows, row)
	}

	t.FillMissing(table.Number(0))
	t.Columns = NormalizeColumns(t.Columns)
	return t
}

// coerceInt mirrors a lenient numeric conversion: numbers truncate, numeric
// text parses, everything else is 0.
func coerceInt(v table.Value) int64 {
	switch v.Kind() {
	case table.KindInt, table.KindNumber:
		f, _ := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0
		}
		return int64(f)
	case table.KindString:
		s, _ := v.Str()
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0
		}
		return int64(f)
	default:
		return 0
	}
}

// NormalizeColumns normalizes every name and keeps the result usable as a
// set of SQL columns: a name that normalizes to "" becomes kolom_<n> (1-based
// position) and repeated names get _2, _3, ... suffixes.
func NormalizeColumns(cols []string) []string {
	out := make([]string, len(cols))
	used := make(map[string]bool, len(cols))
	for i, c := range cols {
		n := textutil.NormalizeColumnName(c)
		if n == "" {
			n = "kolom_" + strconv.Itoa(i+1)
		}
		if used[n] {
			for k := 2; ; k++ {
				if cand := n + "_" + strconv.Itoa(k); !used[cand] {
					n = cand
					break
				}
			}
		}
		used[n] = true
		out[i] = n
	}
	return out
}
