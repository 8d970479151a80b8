package transformer

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"simdasi/internal/table"
)

// Long-form column names.
const (
	VarColumn   = "kategori"
	ValueColumn = "jumlah"
)

// MinPivotColumns is the width a wide table must exceed to be pivoted.
const MinPivotColumns = 5

// LongSuffix marks long-form tables.
const LongSuffix = "_cl"

// MaxIdentLen is the identifier length limit of the target warehouse.
const MaxIdentLen = 63

// ErrNoPivot is wrapped by every reason Pivot declines to produce a long
// table. Callers treat it as "no long table", not as a failure.
var ErrNoPivot = errors.New("transformer: no long table")

// structuralColumns always lead the id columns of a long table.
var structuralColumns = []string{"id", "id_kategori", "tahun"}

// Pivot unpivots a wide table into long form:
// (id, id_kategori, tahun, <label>, kategori, jumlah), one row per wide row
// and measure column, grouped by measure column.
//
// The label column is the first non-structural column holding text. A table
// of MinPivotColumns columns or fewer, one without a label column, or one
// without measure columns yields an error wrapping ErrNoPivot.
func Pivot(wide *table.Table) (*table.Table, error) {
	if wide == nil {
		return nil, fmt.Errorf("%w: no wide table", ErrNoPivot)
	}
	if n := wide.NumCols(); n <= MinPivotColumns {
		return nil, fmt.Errorf("%w: %d columns, need more than %d", ErrNoPivot, n, MinPivotColumns)
	}

	structural := make(map[string]bool, len(structuralColumns))
	for _, c := range structuralColumns {
		structural[c] = true
	}

	label := ""
	for i, c := range wide.Columns {
		if structural[c] {
			continue
		}
		if wide.IsStringColumn(i) {
			label = c
			break
		}
	}
	if label == "" {
		return nil, fmt.Errorf("%w: no text column to use as label", ErrNoPivot)
	}

	idCols := append(append([]string(nil), structuralColumns...), label)
	var valueCols []string
	for _, c := range wide.Columns {
		if structural[c] || c == label {
			continue
		}
		valueCols = append(valueCols, c)
	}
	if len(valueCols) == 0 {
		return nil, fmt.Errorf("%w: no measure columns", ErrNoPivot)
	}

	long, err := wide.Melt(idCols, valueCols, VarColumn, ValueColumn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoPivot, err)
	}
	return long, nil
}

// LongTableName derives the long table's name from the wide table's short
// name: truncated so that the suffix fits MaxIdentLen with a byte to spare,
// trailing underscores trimmed, then LongSuffix appended.
func LongTableName(name string) string {
	limit := MaxIdentLen - len(LongSuffix) - 1
	if len(name) > limit {
		cut := limit
		for cut > 0 && !utf8.RuneStart(name[cut]) {
			cut--
		}
		name = name[:cut]
	}
	return strings.TrimRight(name, "_") + LongSuffix
}
