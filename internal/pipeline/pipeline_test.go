package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"simdasi/internal/config"
	"simdasi/internal/datasource/httpds"
	"simdasi/internal/history"
	"simdasi/internal/simdasi"
	"simdasi/internal/storage"
	"simdasi/internal/storage/sqlite"
	"simdasi/internal/table"
)

// fakeExtractor returns canned results keyed by URL.
type fakeExtractor struct {
	results map[string]*simdasi.Extraction
	errs    map[string]error
	panics  map[string]bool
}

func (f *fakeExtractor) Extract(_ context.Context, url string) (*simdasi.Extraction, error) {
	if f.panics[url] {
		panic("boom")
	}
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	ex, ok := f.results[url]
	if !ok {
		return nil, fmt.Errorf("%w for %s", simdasi.ErrNoData, url)
	}
	// Hand out a copy; the runner scales in place.
	cp := *ex
	cp.Wide = ex.Wide.Clone()
	return &cp, nil
}

// fakeSink captures writes and fails targets listed in fail.
type fakeSink struct {
	mu     sync.Mutex
	tables map[string]*table.Table
	order  []string
	fail   map[string]bool
}

func (f *fakeSink) Write(_ context.Context, t *table.Table, ref storage.TableRef) storage.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[ref.FQN()] {
		err := errors.New("disk full")
		return storage.Result{Message: "write failed: disk full", Err: err}
	}
	if f.tables == nil {
		f.tables = map[string]*table.Table{}
	}
	f.tables[ref.FQN()] = t
	f.order = append(f.order, ref.FQN())
	return storage.Result{OK: true, Rows: int64(t.Len()), Message: "saved"}
}

func wideTable() *table.Table {
	t := table.New("id", "id_kategori", "tahun", "kecamatan", "jumlah_penduduk", "luas")
	_ = t.Append([]table.Value{table.Int(1), table.Int(7), table.Int(2024), table.String("Batu"), table.Number(1.5), table.Int(2)})
	_ = t.Append([]table.Value{table.Int(2), table.Int(7), table.Int(2024), table.String("Bumiaji"), table.String("n/a"), table.Number(0)})
	return t
}

func narrowTable() *table.Table {
	t := table.New("id", "id_kategori", "tahun", "kecamatan", "jumlah")
	_ = t.Append([]table.Value{table.Int(1), table.Int(7), table.Int(2024), table.String("Batu"), table.Number(3)})
	return t
}

func newLedger(t *testing.T) *history.Ledger {
	t.Helper()
	l, err := history.Open(context.Background(), "file:"+filepath.Join(t.TempDir(), "history.db"), false)
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestProcessSource_WritesWideAndLong(t *testing.T) {
	t.Parallel()

	ext := &fakeExtractor{results: map[string]*simdasi.Extraction{
		"u1": {Wide: wideTable(), FetchedYears: []int{2024}},
	}}
	sink := &fakeSink{}
	r := &Runner{Job: "test", Extractor: ext, Sink: sink}

	out := r.ProcessSource(context.Background(), "run", config.Source{URL: "u1", Schema: "bps", Table: "penduduk"})
	if out.Status != StatusOK {
		t.Fatalf("status = %s (%s)", out.Status, out.Message)
	}
	if got := strings.Join(sink.order, ","); got != "bps.penduduk,bps.penduduk_cl" {
		t.Fatalf("writes = %s", got)
	}
	long := sink.tables["bps.penduduk_cl"]
	if long.Len() != 4 || long.NumCols() != 6 {
		t.Fatalf("long table %d rows x %d cols", long.Len(), long.NumCols())
	}
	if out.Wide.Rows != 2 || out.Long.Rows != 4 {
		t.Fatalf("outcome rows wide=%d long=%d", out.Wide.Rows, out.Long.Rows)
	}
	if sink.tables["bps.penduduk"].Rows[0][4] != table.Number(1.5) {
		t.Fatalf("unscaled source must not change values")
	}
}

func TestProcessSource_Multiply(t *testing.T) {
	t.Parallel()

	ext := &fakeExtractor{results: map[string]*simdasi.Extraction{"u": {Wide: wideTable()}}}
	sink := &fakeSink{}
	r := &Runner{Job: "test", Extractor: ext, Sink: sink}

	out := r.ProcessSource(context.Background(), "run", config.Source{URL: "u", Schema: "bps", Table: "luas", Multiply: true})
	if out.Status != StatusOK {
		t.Fatalf("status = %s", out.Status)
	}

	wide := sink.tables["bps.luas"]
	if got := wide.Rows[0][4]; got != table.Number(1500) {
		t.Errorf("wide measure = %v, want 1500", got)
	}
	if got := wide.Rows[0][5]; got != table.Int(2000) {
		t.Errorf("wide int measure = %v, want 2000", got)
	}
	if !wide.Rows[1][4].IsMissing() {
		t.Errorf("unparseable measure should become missing, got %#v", wide.Rows[1][4])
	}
	if got := wide.Rows[0][2]; got != table.Int(2024) {
		t.Errorf("tahun must not be scaled, got %v", got)
	}

	long := sink.tables["bps.luas_cl"]
	if got := long.Rows[0][5]; got != table.Number(1500) {
		t.Errorf("long value = %v, want 1500", got)
	}
	if got := long.Rows[0][4]; got != table.String("jumlah_penduduk") {
		t.Errorf("long kategori = %v", got)
	}
}

func TestProcessSource_NoLongTableForNarrowWide(t *testing.T) {
	t.Parallel()

	ext := &fakeExtractor{results: map[string]*simdasi.Extraction{"u": {Wide: narrowTable()}}}
	sink := &fakeSink{}
	r := &Runner{Job: "test", Extractor: ext, Sink: sink}

	out := r.ProcessSource(context.Background(), "run", config.Source{URL: "u", Schema: "s", Table: "t"})
	if out.Status != StatusOK || out.Long != nil {
		t.Fatalf("outcome = %+v", out)
	}
	if len(sink.order) != 1 {
		t.Fatalf("writes = %v", sink.order)
	}
}

func TestProcessSource_NoDataSkipsSave(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	r := &Runner{Job: "test", Extractor: &fakeExtractor{}, Sink: sink}

	out := r.ProcessSource(context.Background(), "run", config.Source{URL: "missing", Schema: "s", Table: "t"})
	if out.Status != StatusSkipped {
		t.Fatalf("status = %s", out.Status)
	}
	if len(sink.order) != 0 {
		t.Fatalf("sink must not be called, got %v", sink.order)
	}
}

func TestProcessSource_SinkFailure(t *testing.T) {
	t.Parallel()

	ext := &fakeExtractor{results: map[string]*simdasi.Extraction{"u": {Wide: wideTable()}}}
	sink := &fakeSink{fail: map[string]bool{"s.t_cl": true}}
	r := &Runner{Job: "test", Extractor: ext, Sink: sink}

	out := r.ProcessSource(context.Background(), "run", config.Source{URL: "u", Schema: "s", Table: "t"})
	if out.Status != StatusFailed {
		t.Fatalf("status = %s", out.Status)
	}
	if !out.Wide.OK || out.Long.OK {
		t.Fatalf("wide=%+v long=%+v", out.Wide, out.Long)
	}
	if !strings.Contains(out.Message, "disk full") {
		t.Fatalf("message = %q", out.Message)
	}
}

func TestRun_IsolatesSources(t *testing.T) {
	t.Parallel()

	for _, workers := range []int{1, 4} {
		ext := &fakeExtractor{
			results: map[string]*simdasi.Extraction{"ok": {Wide: wideTable()}},
			errs:    map[string]error{"bad": errors.New("connection refused")},
			panics:  map[string]bool{"panic": true},
		}
		r := &Runner{Job: "test", Extractor: ext, Sink: &fakeSink{}, Workers: workers}
		sources := []config.Source{
			{URL: "panic", Schema: "s", Table: "a"},
			{URL: "bad", Schema: "s", Table: "b"},
			{URL: "none", Schema: "s", Table: "c"},
			{URL: "ok", Schema: "s", Table: "d"},
		}

		sum, err := r.Run(context.Background(), sources)
		if err != nil {
			t.Fatalf("workers=%d: Run: %v", workers, err)
		}
		want := []string{StatusFailed, StatusFailed, StatusSkipped, StatusOK}
		for i, o := range sum.Outcomes {
			if o.Status != want[i] || o.Source.Table != sources[i].Table {
				t.Errorf("workers=%d: outcome %d = %s/%s, want %s/%s", workers, i, o.Source.Table, o.Status, sources[i].Table, want[i])
			}
		}
		if ok, skipped, failed := sum.Counts(); ok != 1 || skipped != 1 || failed != 2 {
			t.Errorf("workers=%d: counts = %d/%d/%d", workers, ok, skipped, failed)
		}
		if sum.RunID == "" {
			t.Errorf("missing run id")
		}
	}
}

func TestRun_CanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := &Runner{Job: "test", Extractor: &fakeExtractor{}, Sink: &fakeSink{}}

	sum, err := r.Run(ctx, []config.Source{{URL: "x", Table: "t"}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if sum.Outcomes[0].Status != StatusFailed {
		t.Fatalf("outcome = %+v", sum.Outcomes[0])
	}
}

func TestRun_RecordsHistoryAndDetectsUnchanged(t *testing.T) {
	t.Parallel()

	ledger := newLedger(t)
	ext := &fakeExtractor{results: map[string]*simdasi.Extraction{"u": {Wide: wideTable(), FetchedYears: []int{2024, 2023}}}}
	r := &Runner{Job: "test", Extractor: ext, Sink: &fakeSink{}, Ledger: ledger}
	sources := []config.Source{
		{URL: "u", Schema: "bps", Table: "penduduk"},
		{URL: "gone", Schema: "bps", Table: "kosong"},
	}

	first, err := r.Run(context.Background(), sources)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if first.Outcomes[0].Wide.Unchanged {
		t.Fatalf("first write cannot be unchanged")
	}

	entries, err := ledger.Run(context.Background(), first.RunID)
	if err != nil {
		t.Fatalf("ledger.Run: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3 (wide, long, skipped)", len(entries))
	}
	byTarget := map[string]history.Entry{}
	for _, e := range entries {
		byTarget[e.Target] = e
	}
	if e := byTarget["bps.penduduk"]; e.Status != history.StatusOK || e.Rows != 2 || e.Years != "2024,2023" || e.Fingerprint == "" {
		t.Fatalf("wide entry = %+v", e)
	}
	if e := byTarget["bps.kosong"]; e.Status != history.StatusSkipped {
		t.Fatalf("skipped entry = %+v", e)
	}

	second, err := r.Run(context.Background(), sources)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if o := second.Outcomes[0]; !o.Wide.Unchanged || !o.Long.Unchanged {
		t.Fatalf("second run should detect unchanged content: wide=%+v long=%+v", o.Wide, o.Long)
	}
}

func TestSummary_Print(t *testing.T) {
	t.Parallel()

	sum := Summary{
		RunID: "r1",
		Job:   "test",
		Outcomes: []Outcome{
			{Source: config.Source{Schema: "s", Table: "a"}, Status: StatusOK, Years: []int{2024},
				Wide: &TableOutcome{OK: true, Rows: 5}, Long: &TableOutcome{OK: true, Rows: 10, Unchanged: true}},
			{Source: config.Source{Schema: "s", Table: "b"}, Status: StatusSkipped, Message: "no data"},
		},
		Duration: 1500 * time.Millisecond,
	}
	var buf bytes.Buffer
	if err := sum.Print(&buf); err != nil {
		t.Fatalf("Print: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"s.a", "10 (unchanged)", "s.b", "skipped", "1 ok, 1 skipped, 0 failed in 1.5s"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary lacks %q:\n%s", want, out)
		}
	}
}

// TestRun_EndToEndSQLite drives a real extractor against a fake API and a
// SQLite sink.
func TestRun_EndToEndSQLite(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/id/23/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data-availability":"available","data":[{},{"data":[{"id_tabel":"55","ketersediaan_tahun":[2023,2024]}]}]}`))
	})
	mux.HandleFunc("/id/25/", func(w http.ResponseWriter, r *http.Request) {
		year := "2023"
		if strings.Contains(r.URL.Path, "tahun/2024") {
			year = "2024"
		}
		_, _ = fmt.Fprintf(w, `{"data-availability":"available","data":[{},{"lingkup_id":"kabupaten/kota","mms_id":"9",`+
			`"kolom":{"a":{"nama_variabel":"Jumlah Penduduk"},"b":{"nama_variabel":"Luas (km²)"}},`+
			`"data":[{"label":"Malang","variables":{"a":{"value_raw":"1.234,5"},"b":{"value_raw":%s}}},`+
			`{"label":"Kota Batu","variables":{"a":{"value_raw":10},"b":{"value_raw":"-"}}}]}]}`, year)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := httpds.NewClient(httpds.Config{Timeout: 5 * time.Second})
	ext := simdasi.NewExtractor(client, simdasi.Config{CatalogBaseURL: srv.URL})

	repo, closeFn, err := sqlite.NewRepository(context.Background(), sqlite.Config{
		DSN: "file:" + filepath.Join(t.TempDir(), "sink.db"),
	})
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	t.Cleanup(closeFn)

	r := &Runner{Job: "e2e", Extractor: ext, Sink: storage.NewSink(repo, false), Ledger: newLedger(t)}
	src := config.Source{
		URL:      srv.URL + "/id/25/tahun/2020/id_tabel/55/wilayah/3500000/key/k/",
		Schema:   "jatim",
		Table:    "penduduk",
		Multiply: true,
	}
	sum, err := r.Run(context.Background(), []config.Source{src})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	o := sum.Outcomes[0]
	if o.Status != StatusOK || o.Wide.Rows != 4 || o.Long.Rows != 8 {
		t.Fatalf("outcome = %+v wide=%+v long=%+v", o, o.Wide, o.Long)
	}

	var (
		label  string
		jumlah float64
		year   int
	)
	row := repo.DB().QueryRow(`SELECT kabupatenkota, jumlah_penduduk, tahun FROM jatim__penduduk ORDER BY id LIMIT 1`)
	if err := row.Scan(&label, &jumlah, &year); err != nil {
		t.Fatalf("query wide: %v", err)
	}
	if label != "Kabupaten Malang" || jumlah != 1234500 || year != 2024 {
		t.Fatalf("first row = %q %v %d", label, jumlah, year)
	}

	var n int
	if err := repo.DB().QueryRow(`SELECT COUNT(*) FROM jatim__penduduk_cl WHERE jumlah IS NULL`).Scan(&n); err != nil {
		t.Fatalf("query long: %v", err)
	}
	if n != 2 {
		t.Fatalf("null long values = %d, want 2 (the \"-\" cells)", n)
	}
}
