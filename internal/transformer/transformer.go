// Package transformer holds the reshaping steps applied to an assembled wide
// table before it is written: the long-form pivot and unit scaling.
package transformer

import "simdasi/internal/table"

// Transformer rewrites a table. Implementations may modify t in place and
// return it, or return a new table.
type Transformer interface{ Apply(t *table.Table) *table.Table }

// Chain is an ordered list of transformers.
type Chain []Transformer

func (c Chain) Apply(in *table.Table) *table.Table {
	out := in
	for _, t := range c {
		out = t.Apply(out)
	}
	return out
}
