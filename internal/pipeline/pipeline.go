// Package pipeline runs the extraction for a list of sources and writes the
// resulting tables.
//
// Each source is processed in isolation: extract the wide table, derive the
// long table, optionally scale both, and write them. A source never aborts
// its siblings; failures are logged, counted and recorded in the summary.
//
// Concurrency model:
//
//	sources ──► errgroup (SetLimit(workers)) ──► processSource ──► Sink.Write
//
// With workers == 1 sources run strictly in list order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"simdasi/internal/config"
	"simdasi/internal/history"
	"simdasi/internal/metrics"
	"simdasi/internal/simdasi"
	"simdasi/internal/storage"
	"simdasi/internal/table"
	"simdasi/internal/transformer"
)

// Source outcomes.
const (
	StatusOK      = history.StatusOK
	StatusSkipped = history.StatusSkipped
	StatusFailed  = history.StatusFailed
)

// Extractor produces the wide table of one source. *simdasi.Extractor
// satisfies it.
type Extractor interface {
	Extract(ctx context.Context, urlTemplate string) (*simdasi.Extraction, error)
}

// Writer stores a table. *storage.Sink satisfies it.
type Writer interface {
	Write(ctx context.Context, t *table.Table, ref storage.TableRef) storage.Result
}

// Ledger records outcomes. *history.Ledger satisfies it.
type Ledger interface {
	Record(ctx context.Context, entries ...*history.Entry) error
	LastSuccess(ctx context.Context, target string) (*history.Entry, error)
}

// Runner processes sources. Ledger is optional.
type Runner struct {
	Job       string
	Extractor Extractor
	Sink      Writer
	Ledger    Ledger
	Workers   int

	// now is replaced in tests.
	now func() time.Time
}

// TableOutcome describes one write.
type TableOutcome struct {
	Target      string
	Rows        int64
	OK          bool
	Message     string
	Fingerprint string
	// Unchanged is set when the content matches the last successful write
	// recorded for Target.
	Unchanged bool
}

// Outcome describes one processed source.
type Outcome struct {
	Source   config.Source
	Status   string
	Message  string
	Years    []int
	Wide     *TableOutcome
	Long     *TableOutcome
	Duration time.Duration
}

// Summary is the result of Run.
type Summary struct {
	RunID    string
	Job      string
	Started  time.Time
	Duration time.Duration
	Outcomes []Outcome
}

// Counts tallies outcomes by status.
func (s Summary) Counts() (ok, skipped, failed int) {
	for _, o := range s.Outcomes {
		switch o.Status {
		case StatusOK:
			ok++
		case StatusSkipped:
			skipped++
		default:
			failed++
		}
	}
	return ok, skipped, failed
}

func (r *Runner) clock() time.Time {
	if r.now != nil {
		return r.now()
	}
	return time.Now()
}

// Run processes every source and returns once all have finished. Outcomes
// keep the order of sources regardless of the worker count. The only error
// is ctx's, after which unstarted sources are reported as failed.
func (r *Runner) Run(ctx context.Context, sources []config.Source) (Summary, error) {
	sum := Summary{
		RunID:    uuid.NewString(),
		Job:      r.Job,
		Started:  r.clock(),
		Outcomes: make([]Outcome, len(sources)),
	}
	log.Printf("pipeline: run %s: %d sources, workers=%d", sum.RunID, len(sources), r.workers())

	var g errgroup.Group
	g.SetLimit(r.workers())
	for i, src := range sources {
		if ctx.Err() != nil {
			sum.Outcomes[i] = Outcome{Source: src, Status: StatusFailed, Message: ctx.Err().Error()}
			continue
		}
		g.Go(func() error {
			sum.Outcomes[i] = r.safeProcess(ctx, sum.RunID, i+1, len(sources), src)
			return nil
		})
	}
	_ = g.Wait()

	sum.Duration = r.clock().Sub(sum.Started)
	for _, o := range sum.Outcomes {
		metrics.RecordSource(r.Job, o.Status)
	}
	return sum, ctx.Err()
}

func (r *Runner) workers() int {
	if r.Workers < 1 {
		return 1
	}
	return r.Workers
}

// safeProcess turns a panicking source into a failed outcome.
func (r *Runner) safeProcess(ctx context.Context, runID string, n, total int, src config.Source) (out Outcome) {
	defer func() {
		if p := recover(); p != nil {
			log.Printf("pipeline: [%d/%d] %s: panic: %v\n%s", n, total, src.Table, p, debug.Stack())
			out = Outcome{Source: src, Status: StatusFailed, Message: fmt.Sprintf("panic: %v", p)}
		}
	}()
	log.Printf("pipeline: [%d/%d] %s.%s: %s", n, total, src.Schema, src.Table, simdasi.Redact(src.URL))
	return r.ProcessSource(ctx, runID, src)
}

// ProcessSource runs one source end to end.
func (r *Runner) ProcessSource(ctx context.Context, runID string, src config.Source) Outcome {
	start := r.clock()
	out := Outcome{Source: src}
	defer func() { out.Duration = r.clock().Sub(start) }()

	ex, err := r.Extractor.Extract(ctx, src.URL)
	if err != nil {
		out.Message = simdasi.Redact(err.Error())
		if errors.Is(err, simdasi.ErrNoData) {
			out.Status = StatusSkipped
			log.Printf("pipeline: %s: no data collected, nothing saved", src.Table)
		} else {
			out.Status = StatusFailed
			log.Printf("pipeline: %s: extract failed: %s", src.Table, out.Message)
		}
		r.record(ctx, runID, start, &out, nil)
		return out
	}
	out.Years = ex.FetchedYears
	metrics.RecordRow(r.Job, metrics.KindFetchedYears, int64(len(ex.FetchedYears)))
	metrics.RecordRow(r.Job, metrics.KindSkippedYears, int64(len(ex.SkippedYears)))

	wide := ex.Wide
	stepStart := time.Now()
	long, err := transformer.Pivot(wide)
	if err != nil {
		log.Printf("pipeline: %s: no long table: %v", src.Table, err)
		long = nil
	}
	metrics.RecordStep(r.Job, metrics.StepTranspose, nil, time.Since(stepStart))

	if src.Multiply {
		stepStart = time.Now()
		wide = transformer.WideScale.Apply(wide)
		long = transformer.LongScale.Apply(long)
		metrics.RecordStep(r.Job, metrics.StepScale, nil, time.Since(stepStart))
	}
	metrics.RecordRow(r.Job, metrics.KindWideRows, int64(wide.Len()))
	metrics.RecordRow(r.Job, metrics.KindLongRows, int64(long.Len()))

	wideRef := storage.TableRef{Schema: src.Schema, Name: src.Table}
	out.Wide = r.write(ctx, wide, wideRef)
	if long != nil {
		longRef := storage.TableRef{Schema: src.Schema, Name: transformer.LongTableName(src.Table)}
		out.Long = r.write(ctx, long, longRef)
	}

	out.Status = StatusOK
	out.Message = out.Wide.Message
	if !out.Wide.OK || (out.Long != nil && !out.Long.OK) {
		out.Status = StatusFailed
		if out.Long != nil && !out.Long.OK && out.Wide.OK {
			out.Message = out.Long.Message
		}
	}
	r.record(ctx, runID, start, &out, []*TableOutcome{out.Wide, out.Long})
	return out
}

func (r *Runner) write(ctx context.Context, t *table.Table, ref storage.TableRef) *TableOutcome {
	to := &TableOutcome{Target: ref.FQN(), Fingerprint: fmt.Sprintf("%016x", t.Fingerprint())}
	if r.Ledger != nil {
		prev, err := r.Ledger.LastSuccess(ctx, to.Target)
		if err != nil {
			log.Printf("pipeline: %s: history lookup: %v", to.Target, err)
		} else if prev != nil && prev.Fingerprint == to.Fingerprint {
			to.Unchanged = true
			log.Printf("pipeline: %s: content unchanged since run %s", to.Target, prev.RunID)
		}
	}

	stepStart := time.Now()
	res := r.Sink.Write(ctx, t, ref)
	metrics.RecordStep(r.Job, metrics.StepSave, res.Err, time.Since(stepStart))
	if res.OK {
		metrics.RecordRow(r.Job, metrics.KindSaved, res.Rows)
	}
	to.OK, to.Rows, to.Message = res.OK, res.Rows, res.Message
	return to
}

// record writes one ledger entry per table, or one for the source when no
// table was produced. Ledger failures are logged only.
func (r *Runner) record(ctx context.Context, runID string, start time.Time, out *Outcome, tables []*TableOutcome) {
	if r.Ledger == nil {
		return
	}
	years := make([]string, len(out.Years))
	for i, y := range out.Years {
		years[i] = strconv.Itoa(y)
	}
	base := history.Entry{
		RunID:      runID,
		Job:        r.Job,
		Source:     simdasi.Redact(out.Source.URL),
		Status:     out.Status,
		Years:      strings.Join(years, ","),
		Message:    out.Message,
		StartedAt:  start.UTC(),
		DurationMS: r.clock().Sub(start).Milliseconds(),
	}

	var entries []*history.Entry
	for _, to := range tables {
		if to == nil {
			continue
		}
		e := base
		e.Target = to.Target
		e.Rows = to.Rows
		e.Fingerprint = to.Fingerprint
		e.Message = to.Message
		e.Status = StatusOK
		if !to.OK {
			e.Status = StatusFailed
		}
		entries = append(entries, &e)
	}
	if len(entries) == 0 {
		e := base
		e.Target = storage.TableRef{Schema: out.Source.Schema, Name: out.Source.Table}.FQN()
		entries = append(entries, &e)
	}
	// The ledger outlives a canceled run.
	if err := r.Ledger.Record(context.WithoutCancel(ctx), entries...); err != nil {
		log.Printf("pipeline: history: %v", err)
	}
}
