package table

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/zeebo/xxh3"
)

// Table is an ordered set of named columns and rows of cells. Every row has
// exactly len(Columns) cells.
type Table struct {
	Columns []string
	Rows    [][]Value
}

// New returns an empty table with the given columns.
func New(columns ...string) *Table {
	return &Table{Columns: append([]string(nil), columns...)}
}

// NumCols returns the number of columns.
func (t *Table) NumCols() int {
	if t == nil {
		return 0
	}
	return len(t.Columns)
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Empty reports whether t is nil or has no rows.
func (t *Table) Empty() bool { return t.Len() == 0 }

// Append adds a row. It fails when the row width does not match the columns.
func (t *Table) Append(row []Value) error {
	if len(row) != len(t.Columns) {
		return fmt.Errorf("table: row has %d cells, want %d", len(row), len(t.Columns))
	}
	t.Rows = append(t.Rows, row)
	return nil
}

// ColumnIndex returns the position of name, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy of t.
func (t *Table) Clone() *Table {
	if t == nil {
		return nil
	}
	out := &Table{
		Columns: append([]string(nil), t.Columns...),
		Rows:    make([][]Value, len(t.Rows)),
	}
	for i, r := range t.Rows {
		out.Rows[i] = append([]Value(nil), r...)
	}
	return out
}

// FillMissing replaces every missing cell with v.
func (t *Table) FillMissing(v Value) {
	for _, r := range t.Rows {
		for j := range r {
			if r[j].IsMissing() {
				r[j] = v
			}
		}
	}
}

// IsStringColumn reports whether any cell in column idx holds text. This is
// the "object column" test: one text cell makes the whole column textual.
func (t *Table) IsStringColumn(idx int) bool {
	for _, r := range t.Rows {
		if r[idx].Kind() == KindString {
			return true
		}
	}
	return false
}

// MapFrom replaces every cell in the columns at position >= start with
// fn(cell). Out-of-range starts are a no-op.
func (t *Table) MapFrom(start int, fn func(Value) Value) {
	if start < 0 {
		start = 0
	}
	for _, r := range t.Rows {
		for j := start; j < len(r); j++ {
			r[j] = fn(r[j])
		}
	}
}

// Melt unpivots valueCols into (idCols..., varName, valueName) rows. Output
// rows are grouped by value column: all rows for the first value column, then
// all rows for the second, and so on, each group in original row order.
func (t *Table) Melt(idCols, valueCols []string, varName, valueName string) (*Table, error) {
	idIdx := make([]int, len(idCols))
	for i, c := range idCols {
		if idIdx[i] = t.ColumnIndex(c); idIdx[i] < 0 {
			return nil, fmt.Errorf("table: melt: unknown id column %q", c)
		}
	}
	valIdx := make([]int, len(valueCols))
	for i, c := range valueCols {
		if valIdx[i] = t.ColumnIndex(c); valIdx[i] < 0 {
			return nil, fmt.Errorf("table: melt: unknown value column %q", c)
		}
	}

	cols := append(append([]string(nil), idCols...), varName, valueName)
	out := &Table{Columns: cols, Rows: make([][]Value, 0, len(t.Rows)*len(valueCols))}
	for vi, vc := range valueCols {
		for _, r := range t.Rows {
			row := make([]Value, 0, len(cols))
			for _, ix := range idIdx {
				row = append(row, r[ix])
			}
			row = append(row, String(vc), r[valIdx[vi]])
			out.Rows = append(out.Rows, row)
		}
	}
	return out, nil
}

// Fingerprint returns an xxh3 digest over column names and every cell. Two
// tables with the same shape and content have the same fingerprint.
func (t *Table) Fingerprint() uint64 {
	if t == nil {
		return 0
	}
	h := xxh3.New()
	var buf [9]byte
	for _, c := range t.Columns {
		_, _ = h.WriteString(c)
		_, _ = h.Write([]byte{0})
	}
	for _, r := range t.Rows {
		for _, v := range r {
			buf[0] = byte(v.kind)
			switch v.kind {
			case KindNumber:
				binary.LittleEndian.PutUint64(buf[1:], math.Float64bits(v.num))
				_, _ = h.Write(buf[:])
			case KindInt:
				binary.LittleEndian.PutUint64(buf[1:], uint64(v.i))
				_, _ = h.Write(buf[:])
			case KindString:
				_, _ = h.Write(buf[:1])
				_, _ = h.WriteString(v.str)
				_, _ = h.Write([]byte{0})
			default:
				_, _ = h.Write(buf[:1])
			}
		}
	}
	return h.Sum64()
}
