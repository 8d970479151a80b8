package storage

import "simdasi/internal/table"

// Logical column types inferred from cell values.
type ColumnKind uint8

const (
	ColumnInt ColumnKind = iota
	ColumnFloat
	ColumnText
)

// TypeMap gives a backend's SQL type for each ColumnKind.
type TypeMap struct {
	Int   string
	Float string
	Text  string
}

func (m TypeMap) sqlType(k ColumnKind) string {
	switch k {
	case ColumnInt:
		return m.Int
	case ColumnFloat:
		return m.Float
	default:
		return m.Text
	}
}

// Column is one destination column.
type Column struct {
	Name    string
	Kind    ColumnKind
	SQLType string
}

// InferColumns types every column of t from its cells, ignoring missing ones:
// integers only give ColumnInt, any fractional number gives ColumnFloat, any
// text gives ColumnText. A column with no present cell is ColumnFloat.
func InferColumns(t *table.Table, types TypeMap) []Column {
	cols := make([]Column, len(t.Columns))
	for j, name := range t.Columns {
		seenInt, seenNum, seenText := false, false, false
		for _, r := range t.Rows {
			switch r[j].Kind() {
			case table.KindInt:
				seenInt = true
			case table.KindNumber:
				seenNum = true
			case table.KindString:
				seenText = true
			}
		}
		k := ColumnFloat
		switch {
		case seenText:
			k = ColumnText
		case seenInt && !seenNum:
			k = ColumnInt
		}
		cols[j] = Column{Name: name, Kind: k, SQLType: types.sqlType(k)}
	}
	return cols
}

// RowValues converts t's cells into driver values matching cols: int64,
// float64 or string, and nil for missing cells.
func RowValues(t *table.Table, cols []Column) [][]any {
	out := make([][]any, len(t.Rows))
	for i, r := range t.Rows {
		row := make([]any, len(cols))
		for j, v := range r {
			if v.IsMissing() {
				continue
			}
			switch cols[j].Kind {
			case ColumnInt:
				row[j], _ = v.Int64()
			case ColumnFloat:
				row[j], _ = v.Float()
			default:
				row[j] = v.String()
			}
		}
		out[i] = row
	}
	return out
}
