package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"simdasi/internal/config"
	"simdasi/internal/datasource"
	"simdasi/internal/datasource/file"
	"simdasi/internal/datasource/httpds"
	"simdasi/internal/datasource/sourcelist"
	"simdasi/internal/history"
	"simdasi/internal/metrics"
	"simdasi/internal/metrics/datadog"
	"simdasi/internal/metrics/prompush"
	"simdasi/internal/pipeline"
	"simdasi/internal/simdasi"
	"simdasi/internal/storage"
)

const defaultPushgatewayURL = "http://localhost:9091"

// Function variables used as test seams.
var (
	newSinkFn = func(ctx context.Context, cfg storage.Config) (pipeline.Writer, func(), error) {
		s, err := storage.New(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}

	openLedgerFn = func(ctx context.Context, dsn string, debug bool) (pipeline.Ledger, func(), error) {
		l, err := history.Open(ctx, dsn, debug)
		if err != nil {
			return nil, nil, err
		}
		return l, func() { _ = l.Close() }, nil
	}
)

// newMetricsBackend returns nil for the "none" backend.
func newMetricsBackend(p config.Pipeline) (metrics.Backend, error) {
	switch p.Metrics.Backend {
	case "", "none":
		return nil, nil
	case "prometheus":
		url := p.Metrics.PushgatewayURL
		if url == "" {
			url = defaultPushgatewayURL
		}
		return prompush.NewBackend(p.Job, url)
	case "datadog":
		return datadog.NewBackend(datadog.Config{
			Addr:       p.Metrics.DatadogAddr,
			GlobalTags: []string{"job:" + p.Job},
		})
	default:
		return nil, fmt.Errorf("unknown backend %q", p.Metrics.Backend)
	}
}

func newHTTPClient(s config.Simdasi) *httpds.Client {
	return httpds.NewClient(httpds.Config{
		Timeout:        s.Timeout.Duration,
		MaxRetries:     s.MaxRetries,
		RequestsPerSec: s.RequestsPerSec,
		Burst:          s.Burst,
		UserAgent:      s.UserAgent,
	})
}

// loadSources merges inline sources with the source list. A list that
// cannot be read is logged and treated as empty.
func loadSources(ctx context.Context, p config.Pipeline, client *httpds.Client) []config.Source {
	var src datasource.Source
	switch {
	case p.SourceList.URL != "":
		src = httpds.NewSource(client, p.SourceList.URL)
	case p.SourceList.Path != "":
		src = file.NewLocal(p.SourceList.Path)
	default:
		return sourcelist.Merge(p.Sources, nil)
	}

	listed, err := sourcelist.Load(ctx, src, p.SourceList.HasHeader)
	if err != nil {
		log.Printf("source list: %s; continuing with %d inline sources", simdasi.Redact(err.Error()), len(p.Sources))
		listed = nil
	} else {
		log.Printf("source list: %d sources", len(listed))
	}
	return sourcelist.Merge(p.Sources, listed)
}

// run executes one pipeline run and prints its summary to out. It returns
// the number of failed sources.
func run(ctx context.Context, p config.Pipeline, verbose bool, out io.Writer) (int, error) {
	client := newHTTPClient(p.Simdasi)

	sources := loadSources(ctx, p, client)
	if len(sources) == 0 {
		log.Printf("no sources to process")
		return 0, nil
	}

	sink, closeSink, err := newSinkFn(ctx, storage.Config{Kind: p.Storage.Kind, DSN: p.Storage.DSN, Verbose: verbose})
	if err != nil {
		return 0, fmt.Errorf("open storage: %w", err)
	}
	defer closeSink()

	r := &pipeline.Runner{
		Job:     p.Job,
		Sink:    sink,
		Workers: p.Runtime.Workers,
		Extractor: simdasi.NewExtractor(client, simdasi.Config{
			CatalogBaseURL: p.Simdasi.CatalogBaseURL,
			FallbackYears:  p.Simdasi.FallbackYears,
			Verbose:        verbose,
			OnStep: func(step string, err error, d time.Duration) {
				metrics.RecordStep(p.Job, step, err, d)
			},
		}),
	}
	if p.History.Enabled {
		ledger, closeLedger, err := openLedgerFn(ctx, p.History.DSN, verbose)
		if err != nil {
			log.Printf("history: %v; continuing without ledger", err)
		} else {
			defer closeLedger()
			r.Ledger = ledger
		}
	}

	sum, err := r.Run(ctx, sources)
	if perr := sum.Print(out); perr != nil {
		log.Printf("print summary: %v", perr)
	}
	_, _, failed := sum.Counts()
	return failed, err
}
