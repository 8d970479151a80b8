// Package metrics provides a small, backend-agnostic abstraction for recording
// operational metrics from a pipeline run.
//
// A global backend defaults to a no-op, so instrumentation is always safe to
// call. Concrete backends (Prometheus Pushgateway, DogStatsD) live in
// subpackages and are installed once at startup via SetBackend.
package metrics

import (
	"sync"
	"time"
)

// Metric names.
const (
	StepTotal           = "simdasi_step_total"
	StepDurationSeconds = "simdasi_step_duration_seconds"
	RecordsTotal        = "simdasi_records_total"
	SourcesTotal        = "simdasi_sources_total"
)

// Pipeline steps.
const (
	StepDiscover  = "discover"
	StepFetch     = "fetch"
	StepAssemble  = "assemble"
	StepTranspose = "transpose"
	StepScale     = "scale"
	StepSave      = "save"
)

// Record kinds.
const (
	KindFetchedYears = "fetched_years"
	KindSkippedYears = "skipped_years"
	KindWideRows     = "wide_rows"
	KindLongRows     = "long_rows"
	KindSaved        = "saved"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends. Implementations must
// be safe for concurrent use; sources may be processed in parallel.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it.
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs a concrete backend. Passing nil keeps the existing one.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush delegates to the current backend.
func Flush() error { return current().Flush() }

// RecordStep counts one execution of step and observes its duration.
func RecordStep(job, step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	lbls := Labels{"job": job, "step": step, "status": status}
	b := current()
	b.IncCounter(StepTotal, 1, lbls)
	b.ObserveHistogram(StepDurationSeconds, d.Seconds(), lbls)
}

// RecordRow adds delta to the record counter of kind. Non-positive deltas are
// ignored.
func RecordRow(job, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(RecordsTotal, float64(delta), Labels{"job": job, "kind": kind})
}

// RecordSource counts one processed source by outcome (ok, skipped, failed).
func RecordSource(job, status string) {
	current().IncCounter(SourcesTotal, 1, Labels{"job": job, "status": status})
}
