package prompush

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"simdasi/internal/metrics"
)

func TestNewBackend_RequiresURL(t *testing.T) {
	t.Parallel()

	if _, err := NewBackend("job", ""); err == nil {
		t.Fatalf("expected error")
	}
	b, err := NewBackend("", "http://gw")
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	if b.jobName != "simdasi" {
		t.Fatalf("default job = %q", b.jobName)
	}
}

func TestBackend_CollectsAndPushes(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		method string
		path   string
		body   []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		method, path, body = r.Method, r.URL.Path, b
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	b, err := NewBackend("simdasi_jatim", srv.URL)
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	b.IncCounter(metrics.StepTotal, 1, metrics.Labels{"step": metrics.StepFetch, "status": "success"})
	b.ObserveHistogram(metrics.StepDurationSeconds, 0.25, metrics.Labels{"step": metrics.StepFetch, "status": "success"})
	b.IncCounter(metrics.RecordsTotal, 7, metrics.Labels{"kind": metrics.KindWideRows})
	b.IncCounter(metrics.SourcesTotal, 1, metrics.Labels{"status": "ok"})
	b.IncCounter("unknown_metric", 1, nil)
	b.ObserveHistogram("unknown_metric", 1, nil)

	mfs, err := b.Gatherer().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	names := map[string]bool{}
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	for _, want := range []string{metrics.StepTotal, metrics.StepDurationSeconds, metrics.RecordsTotal, metrics.SourcesTotal} {
		if !names[want] {
			t.Errorf("missing metric family %s", want)
		}
	}

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if method != http.MethodPut {
		t.Fatalf("method = %s, want PUT", method)
	}
	if !strings.Contains(path, "/metrics/job/simdasi_jatim") {
		t.Fatalf("path = %s", path)
	}
	if !bytes.Contains(body, []byte(metrics.RecordsTotal)) {
		t.Fatalf("pushed body lacks %s", metrics.RecordsTotal)
	}
}

func TestBackend_FlushError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	b, _ := NewBackend("j", srv.URL)
	if err := b.Flush(); err == nil {
		t.Fatalf("expected push error")
	}
}
