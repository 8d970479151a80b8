// Package simdasi extracts SIMDASI detail tables (datasource id/25) from the
// BPS web API and reshapes them into a wide table.
//
// Extraction runs sequentially per source: discover the available years (or
// fall back to a default range), fetch one partition per year in descending
// order, flatten rows into records, and assemble the wide table. Per-year
// failures are logged and skipped; only a run where no year yields data is
// reported to the caller, as ErrNoData.
package simdasi

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"simdasi/internal/table"
)

var (
	// ErrNoYears means Year Discovery could not determine a year list.
	ErrNoYears = errors.New("simdasi: no years discovered")
	// ErrUnavailable means a response did not declare its data available.
	ErrUnavailable = errors.New("simdasi: data not available")
	// ErrNoData means no partition of a source yielded any record.
	ErrNoData = errors.New("simdasi: no data collected")
)

// Getter fetches a URL and decodes its JSON body into v. *httpds.Client
// satisfies it.
type Getter interface {
	GetJSON(ctx context.Context, url string, v any) error
}

// Config tunes an Extractor.
type Config struct {
	// CatalogBaseURL overrides DefaultCatalogBaseURL (tests, mirrors).
	CatalogBaseURL string
	// FallbackYears is the size of the fallback range (default 11).
	FallbackYears int
	// Verbose logs one line per fetched partition.
	Verbose bool
	// OnStep, when set, is told how long each discover, fetch and assemble
	// step took and how it ended.
	OnStep func(step string, err error, d time.Duration)
}

// Step names passed to Config.OnStep.
const (
	StepDiscover = "discover"
	StepFetch    = "fetch"
	StepAssemble = "assemble"
)

func (e *Extractor) observe(step string, start time.Time, err error) {
	if e.cfg.OnStep != nil {
		e.cfg.OnStep(step, err, time.Since(start))
	}
}

// Extractor runs the detail-table extraction for one source at a time. It
// holds no per-source state and may be shared by concurrent runs.
type Extractor struct {
	client Getter
	cfg    Config
	now    func() time.Time
}

// NewExtractor returns an Extractor using client for every request.
func NewExtractor(client Getter, cfg Config) *Extractor {
	if cfg.FallbackYears <= 0 {
		cfg.FallbackYears = DefaultFallbackYears
	}
	return &Extractor{client: client, cfg: cfg, now: time.Now}
}

// Extraction is the outcome of a successful Extract.
type Extraction struct {
	// Wide is the assembled wide table; never empty.
	Wide *table.Table
	// LabelColumn is the normalized name of the label column.
	LabelColumn string
	// FetchedYears lists the years that produced records, in fetch order.
	FetchedYears []int
	// SkippedYears lists the years that were unavailable or failed.
	SkippedYears []int
}

// Extract fetches every year of the detail table behind urlTemplate and
// assembles the wide table. It returns ErrNoData when no year yields records
// and the context error when ctx is canceled between years.
func (e *Extractor) Extract(ctx context.Context, urlTemplate string) (*Extraction, error) {
	years := e.Years(ctx, urlTemplate)

	var (
		rc      runContext
		records []Record
		res     Extraction
	)

	for _, year := range years {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		url := URLForYear(urlTemplate, year)
		if e.cfg.Verbose {
			log.Printf("simdasi: fetching year %d: %s", year, Redact(url))
		}

		fetchStart := time.Now()
		d, err := e.FetchPartition(ctx, url)
		e.observe(StepFetch, fetchStart, err)
		if err != nil {
			res.SkippedYears = append(res.SkippedYears, year)
			if errors.Is(err, ErrUnavailable) {
				log.Printf("simdasi: year %d: data not available", year)
			} else {
				log.Printf("simdasi: year %d: skipped: %s", year, Redact(err.Error()))
			}
			continue
		}

		rc.resolve(d)
		recs := buildRecords(d, year)
		records = append(records, recs...)
		if len(recs) > 0 {
			res.FetchedYears = append(res.FetchedYears, year)
		}
		log.Printf("simdasi: year %d: %d rows processed", year, len(recs))
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("%w for %s (years tried: %v)", ErrNoData, Redact(urlTemplate), years)
	}

	assembleStart := time.Now()
	res.Wide = Assemble(records, rc.labelColumn, rc.categoryID)
	e.observe(StepAssemble, assembleStart, nil)
	res.LabelColumn = res.Wide.Columns[3]
	return &res, nil
}

// FetchPartition fetches and validates one year's detail payload. A response
// that declares its data unavailable yields an error wrapping ErrUnavailable;
// transport, status and shape problems are returned as-is.
func (e *Extractor) FetchPartition(ctx context.Context, url string) (*Detail, error) {
	var env envelope
	if err := e.client.GetJSON(ctx, url, &env); err != nil {
		return nil, err
	}
	return decodeDetail(env)
}
