package simdasi

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"
)

// DefaultFallbackYears is the size of the fallback range used when discovery
// fails: the current year and the ten before it.
const DefaultFallbackYears = 11

// DiscoverYears asks the catalog endpoint which years exist for the table
// referenced by urlTemplate and returns them sorted descending.
//
// Every failure (missing URL parameters, transport error, non-2xx status,
// unavailable or malformed catalog, table not listed, empty year list) is
// reported as an error wrapping ErrNoYears; callers are expected to fall back
// to FallbackYears rather than abort.
func (e *Extractor) DiscoverYears(ctx context.Context, urlTemplate string) ([]int, error) {
	params, ok := ParseURLParams(urlTemplate)
	if !ok {
		return nil, fmt.Errorf("%w: url lacks id_tabel, wilayah or key", ErrNoYears)
	}

	var env envelope
	if err := e.client.GetJSON(ctx, CatalogURL(e.cfg.CatalogBaseURL, params), &env); err != nil {
		return nil, fmt.Errorf("%w: catalog request: %s", ErrNoYears, Redact(err.Error()))
	}
	cat, err := decodeCatalog(env)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoYears, err)
	}

	for _, entry := range cat.Tables {
		if entry.TableID != params.TableID {
			continue
		}
		if len(entry.Years) == 0 {
			break
		}
		years := append([]int(nil), entry.Years...)
		sort.Sort(sort.Reverse(sort.IntSlice(years)))
		return years, nil
	}
	return nil, fmt.Errorf("%w: table %s not listed with years for area %s", ErrNoYears, params.TableID, params.Area)
}

// FallbackYears returns n contiguous years ending at now's calendar year, in
// descending order. n <= 0 uses DefaultFallbackYears.
func FallbackYears(now time.Time, n int) []int {
	if n <= 0 {
		n = DefaultFallbackYears
	}
	current := now.Year()
	out := make([]int, n)
	for i := range out {
		out[i] = current - i
	}
	return out
}

// Years runs discovery and applies the fallback range on failure. The
// returned slice is never empty.
func (e *Extractor) Years(ctx context.Context, urlTemplate string) []int {
	start := time.Now()
	years, err := e.DiscoverYears(ctx, urlTemplate)
	e.observe(StepDiscover, start, err)
	if err == nil {
		log.Printf("simdasi: available years discovered: %v", years)
		return years
	}
	years = FallbackYears(e.now(), e.cfg.FallbackYears)
	log.Printf("simdasi: year discovery failed (%v); using default range %v", err, years)
	return years
}
