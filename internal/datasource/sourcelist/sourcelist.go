// Package sourcelist reads the list of detail tables to extract. The list is a
// headerless CSV, usually a spreadsheet export, with the columns
//
//	url, schema, table[, flag]
//
// where flag "X" (case-insensitive, surrounding blanks ignored) enables unit
// scaling. Rows without a url are dropped.
package sourcelist

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"simdasi/internal/config"
	"simdasi/internal/datasource"
)

// multiplyFlag marks a row whose measures are scaled.
const multiplyFlag = "X"

// Load opens src and parses it. hasHeader skips the first record.
func Load(ctx context.Context, src datasource.Source, hasHeader bool) ([]config.Source, error) {
	rc, err := src.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("sourcelist: open: %w", err)
	}
	defer rc.Close()
	return Parse(rc, hasHeader)
}

// Parse reads source rows from r. Input may be UTF-8 with or without a BOM, or
// UTF-16 with a BOM. Short rows are padded; schema and table cells are
// trimmed. Extra columns are ignored.
func Parse(r io.Reader, hasHeader bool) ([]config.Source, error) {
	dec := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	cr := csv.NewReader(dec)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	var out []config.Source
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("sourcelist: line %d: %w", line, err)
		}
		if hasHeader && line == 1 {
			continue
		}
		src, ok := parseRecord(rec)
		if !ok {
			continue
		}
		out = append(out, src)
	}
	return out, nil
}

func parseRecord(rec []string) (config.Source, bool) {
	cell := func(i int) string {
		if i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}
	url := cell(0)
	if url == "" {
		return config.Source{}, false
	}
	return config.Source{
		URL:      url,
		Schema:   cell(1),
		Table:    cell(2),
		Multiply: strings.EqualFold(cell(3), multiplyFlag),
	}, true
}

// Merge returns inline sources followed by listed ones.
func Merge(inline, listed []config.Source) []config.Source {
	out := make([]config.Source, 0, len(inline)+len(listed))
	out = append(out, inline...)
	return append(out, listed...)
}
