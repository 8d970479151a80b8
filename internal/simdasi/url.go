package simdasi

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DefaultCatalogBaseURL is the SIMDASI datasource root; the catalog endpoint
// is <base>/id/23/wilayah/<area>/key/<key>/.
const DefaultCatalogBaseURL = "https://webapi.bps.go.id/v1/api/interoperabilitas/datasource/simdasi"

var (
	tableIDPattern     = regexp.MustCompile(`id_tabel/([^/]+)`)
	areaPattern        = regexp.MustCompile(`wilayah/([^/]+)`)
	keyPattern         = regexp.MustCompile(`key/([^/]+)`)
	yearSegmentPattern = regexp.MustCompile(`tahun/\d{4}`)
	yearPlaceholder    = regexp.MustCompile(`(?i)\{(tahun|year)\}`)
)

// URLParams are the identifiers Year Discovery needs from a detail URL.
type URLParams struct {
	TableID string
	Area    string
	Key     string
}

// ParseURLParams extracts id_tabel, wilayah and key path segments. ok is false
// when any of the three is absent.
func ParseURLParams(rawURL string) (URLParams, bool) {
	id := tableIDPattern.FindStringSubmatch(rawURL)
	area := areaPattern.FindStringSubmatch(rawURL)
	key := keyPattern.FindStringSubmatch(rawURL)
	if id == nil || area == nil || key == nil {
		return URLParams{}, false
	}
	return URLParams{TableID: id[1], Area: area[1], Key: key[1]}, true
}

// CatalogURL builds the catalog endpoint URL for the area and key in p.
func CatalogURL(base string, p URLParams) string {
	if base == "" {
		base = DefaultCatalogBaseURL
	}
	return fmt.Sprintf("%s/id/23/wilayah/%s/key/%s/", strings.TrimRight(base, "/"), p.Area, p.Key)
}

// URLForYear substitutes year into every tahun/<4 digits> segment and into
// {tahun} / {year} placeholders.
func URLForYear(template string, year int) string {
	y := strconv.Itoa(year)
	out := yearSegmentPattern.ReplaceAllLiteralString(template, "tahun/"+y)
	return yearPlaceholder.ReplaceAllLiteralString(out, y)
}

// Redact hides the API key in a URL so it can be logged.
func Redact(rawURL string) string {
	return keyPattern.ReplaceAllLiteralString(rawURL, "key/***")
}
