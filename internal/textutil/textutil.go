// internal/textutil/textutil.go

// Package textutil provides the small string helpers used wherever SIMDASI
// labels turn into row labels, column names, or table names. It intentionally
// does not attempt full HTML parsing; the API embeds simple markup such as
// <sup>1)</sup> in labels and these helpers only need to get rid of it:
//
//   - StripHTML: replace <...> tag sequences with a single space.
//   - CollapseWhitespace: reduce runs of whitespace to a single space.
//   - CleanLabel: StripHTML followed by CollapseWhitespace.
//   - NormalizeColumnName: turn arbitrary label text into a SQL-friendly
//     identifier.
package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// StripHTML replaces every tag of the form <...> in s with a single space.
//
// A tag needs at least one character between the delimiters, so "<>" and an
// unterminated "<abc" are left untouched. Replacing with a space rather than
// dropping keeps "a<br>b" from fusing into "ab".
func StripHTML(s string) string {
	if !strings.Contains(s, "<") {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))

	i := 0
	for i < len(s) {
		lt := strings.IndexByte(s[i:], '<')
		if lt < 0 {
			break
		}
		lt += i
		gt := strings.IndexByte(s[lt+1:], '>')
		if gt < 0 {
			// No closing delimiter anywhere after this point.
			break
		}
		if gt == 0 {
			// "<>" is not a tag; keep '<' and continue scanning after it.
			b.WriteString(s[i : lt+1])
			i = lt + 1
			continue
		}
		b.WriteString(s[i:lt])
		b.WriteByte(' ')
		i = lt + 1 + gt + 1
	}
	b.WriteString(s[i:])
	return b.String()
}

// CollapseWhitespace replaces consecutive whitespace characters with a single
// ASCII space and trims leading and trailing whitespace. Whitespace follows
// unicode.IsSpace, so non-breaking spaces copied from spreadsheets count too.
func CollapseWhitespace(s string) string {
	if s == "" {
		return s
	}
	return strings.Join(strings.Fields(s), " ")
}

// CleanLabel strips markup from a row label and collapses whitespace.
func CleanLabel(s string) string {
	return CollapseWhitespace(StripHTML(s))
}

// foldAccents decomposes s, removes nonspacing marks and recomposes it, so
// "é" becomes "e" instead of being dropped later.
func foldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// NormalizeColumnName converts arbitrary label text into an identifier made of
// [a-z0-9_] only:
//  1. lowercase and trim
//  2. replace <...> tags with a space
//  3. fold accents, then drop anything outside [a-z0-9_] and whitespace
//  4. collapse each whitespace run into a single underscore
//
// The function is total and idempotent. An input with no allowed characters
// yields "".
func NormalizeColumnName(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	s = foldAccents(StripHTML(s))

	var b strings.Builder
	b.Grow(len(s))

	pendingSpace := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = true
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			if pendingSpace {
				b.WriteByte('_')
				pendingSpace = false
			}
			b.WriteRune(r)
		default:
			// dropped; a surrounding whitespace run still collapses to one '_'
		}
	}
	if pendingSpace {
		b.WriteByte('_')
	}
	return b.String()
}
