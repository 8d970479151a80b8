package transformer

import "simdasi/internal/table"

// Column offsets at which measure values start.
const (
	// WideMeasureOffset skips id, id_kategori, tahun and the label column.
	WideMeasureOffset = 4
	// LongMeasureOffset skips the four id columns and kategori.
	LongMeasureOffset = 5
)

// DefaultFactor converts thousands into units.
const DefaultFactor = 1000

// Scale multiplies every column at position >= Offset by Factor. Cells are
// coerced to numbers first; text that does not parse becomes missing and
// stays missing. Absent or empty tables pass through untouched.
type Scale struct {
	Offset int
	Factor float64
}

// WideScale and LongScale are the scaling steps for the two table shapes.
var (
	WideScale = Scale{Offset: WideMeasureOffset, Factor: DefaultFactor}
	LongScale = Scale{Offset: LongMeasureOffset, Factor: DefaultFactor}
)

func (s Scale) Apply(t *table.Table) *table.Table {
	if t.Empty() {
		return t
	}
	factor := s.Factor
	t.MapFrom(s.Offset, func(v table.Value) table.Value {
		n := table.ToNumeric(v)
		switch n.Kind() {
		case table.KindInt:
			i, _ := n.Int64()
			if factor == float64(int64(factor)) {
				return table.Int(i * int64(factor))
			}
			return table.Number(float64(i) * factor)
		case table.KindNumber:
			f, _ := n.Float()
			return table.Number(f * factor)
		default:
			return n
		}
	})
	return t
}
