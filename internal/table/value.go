// Package table holds the in-memory rectangular data model the extraction
// core produces and the sinks consume: an ordered list of column names and
// rows of tagged cell values.
//
// A cell is a Value: a small tagged union over the shapes SIMDASI payloads
// actually deliver (numbers, integers, free text) plus an explicit missing
// marker. Keeping the tag explicit avoids guessing types from interface{}
// values downstream, e.g. when a sink infers column types for DDL.
package table

import (
	"strconv"
	"strings"
)

// Kind identifies which member of the Value union is set.
type Kind uint8

const (
	// KindMissing marks an absent cell (the equivalent of NaN/NULL).
	KindMissing Kind = iota
	// KindNumber is a float64 measure.
	KindNumber
	// KindInt is an integer structural value (id, id_kategori, tahun).
	KindInt
	// KindString is text that did not parse as a number.
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindInt:
		return "int"
	case KindString:
		return "string"
	default:
		return "missing"
	}
}

// Value is one table cell. The zero Value is Missing.
type Value struct {
	kind Kind
	num  float64
	i    int64
	str  string
}

// Number returns a numeric Value.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// Int returns an integer Value.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// String returns a text Value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Missing returns the missing marker.
func Missing() Value { return Value{} }

// Kind reports which member is set.
func (v Value) Kind() Kind { return v.kind }

// IsMissing reports whether v is the missing marker.
func (v Value) IsMissing() bool { return v.kind == KindMissing }

// Float returns v as a float64. Integers convert losslessly enough for the
// magnitudes seen in statistics tables; text and missing report ok=false.
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.num, true
	case KindInt:
		return float64(v.i), true
	default:
		return 0, false
	}
}

// Int64 returns the integer member. Numbers are truncated toward zero.
func (v Value) Int64() (int64, bool) {
	switch v.kind {
	case KindInt:
		return v.i, true
	case KindNumber:
		return int64(v.num), true
	default:
		return 0, false
	}
}

// Str returns the text member; ok is false for non-text values.
func (v Value) Str() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

// Any returns the cell as a plain Go value for database drivers: float64,
// int64, string, or nil for missing.
func (v Value) Any() any {
	switch v.kind {
	case KindNumber:
		return v.num
	case KindInt:
		return v.i
	case KindString:
		return v.str
	default:
		return nil
	}
}

// String renders the cell for logs and for TEXT columns.
func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindString:
		return v.str
	default:
		return ""
	}
}

// ToNumeric coerces v to a number: numbers and integers pass through, text is
// parsed as a plain decimal (surrounding whitespace allowed) and anything that
// does not parse becomes Missing.
func ToNumeric(v Value) Value {
	switch v.kind {
	case KindNumber, KindInt:
		return v
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.str), 64)
		if err != nil {
			return Missing()
		}
		return Number(f)
	default:
		return Missing()
	}
}
