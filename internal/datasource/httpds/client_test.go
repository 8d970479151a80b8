package httpds

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// recordWaits makes c's backoff instant and returns the requested delays.
func recordWaits(c *Client) func() []time.Duration {
	var (
		mu    sync.Mutex
		waits []time.Duration
	)
	c.after = func(d time.Duration) <-chan time.Time {
		mu.Lock()
		waits = append(waits, d)
		mu.Unlock()
		ch := make(chan time.Time, 1)
		ch <- time.Time{}
		return ch
	}
	return func() []time.Duration {
		mu.Lock()
		defer mu.Unlock()
		return append([]time.Duration(nil), waits...)
	}
}

// statusSequence answers with codes in order, then 200 forever.
func statusSequence(t *testing.T, hits *int32, codes ...int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := int(atomic.AddInt32(hits, 1))
		if n <= len(codes) {
			if codes[n-1] == http.StatusTooManyRequests {
				w.Header().Set("Retry-After", "2")
			}
			w.WriteHeader(codes[n-1])
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewClient_Defaults(t *testing.T) {
	t.Parallel()

	c := NewClient(Config{InsecureSkipVerify: true, MaxRetries: -3})
	if c.hc.Timeout != 30*time.Second {
		t.Fatalf("timeout = %v, want 30s", c.hc.Timeout)
	}
	if c.maxRetries != 0 {
		t.Fatalf("maxRetries = %d, want 0", c.maxRetries)
	}
	if c.limiter != nil {
		t.Fatalf("limiter must be nil without RequestsPerSec")
	}
	tr, ok := c.hc.Transport.(*http.Transport)
	if !ok || tr.TLSClientConfig == nil || !tr.TLSClientConfig.InsecureSkipVerify {
		t.Fatalf("transport = %#v", c.hc.Transport)
	}
}

func TestGet_Retries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		retries    int
		codes      []int
		wantStatus int
		wantHits   int32
		wantWaits  []time.Duration
	}{
		{"single attempt by default", 0, []int{500}, 500, 1, nil},
		{"5xx then success", 3, []int{500, 502}, 200, 3, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}},
		{"retry-after honored and capped", 2, []int{429}, 200, 2, []time.Duration{time.Second}},
		{"non-retryable", 5, []int{400}, 400, 1, nil},
		{"retries exhausted", 1, []int{503, 503, 503}, 503, 2, []time.Duration{10 * time.Millisecond}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var hits int32
			srv := statusSequence(t, &hits, tt.codes...)
			c := NewClient(Config{
				MaxRetries:     tt.retries,
				InitialBackoff: 10 * time.Millisecond,
				MaxBackoff:     time.Second,
			})
			waits := recordWaits(c)

			resp, err := c.Get(context.Background(), srv.URL, nil)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if got := atomic.LoadInt32(&hits); got != tt.wantHits {
				t.Errorf("hits = %d, want %d", got, tt.wantHits)
			}
			got := waits()
			if len(got) != len(tt.wantWaits) {
				t.Fatalf("waits = %v, want %v", got, tt.wantWaits)
			}
			for i := range got {
				if got[i] != tt.wantWaits[i] {
					t.Errorf("wait %d = %v, want %v", i, got[i], tt.wantWaits[i])
				}
			}
		})
	}
}

func TestGet_EmptyURL(t *testing.T) {
	t.Parallel()

	if _, err := NewClient(Config{}).Get(context.Background(), "", nil); err == nil {
		t.Fatalf("expected error for empty url")
	}
}

func TestGet_CanceledDuringBackoff(t *testing.T) {
	t.Parallel()

	var hits int32
	srv := statusSequence(t, &hits, 500, 500)
	c := NewClient(Config{MaxRetries: 3})
	ctx, cancel := context.WithCancel(context.Background())
	c.after = func(time.Duration) <-chan time.Time {
		cancel()
		return make(chan time.Time)
	}

	if _, err := c.Get(ctx, srv.URL, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("hits = %d, want 1", got)
	}
}

func TestGetJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			if got := r.Header.Get("User-Agent"); got != "simdasi-test" {
				t.Errorf("User-Agent = %q", got)
			}
			if got := r.Header.Get("Accept"); got != "application/json" {
				t.Errorf("Accept = %q", got)
			}
			_, _ = w.Write([]byte(`{"status":"OK","n":3}`))
		case "/bad":
			_, _ = w.Write([]byte(`{"status":`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(Config{UserAgent: "simdasi-test"})
	ctx := context.Background()

	var out struct {
		Status string `json:"status"`
		N      int    `json:"n"`
	}
	if err := c.GetJSON(ctx, srv.URL+"/ok", &out); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if out.Status != "OK" || out.N != 3 {
		t.Fatalf("decoded %+v", out)
	}
	if err := c.GetJSON(ctx, srv.URL+"/bad", &out); err == nil {
		t.Fatalf("expected decode error")
	}

	err := c.GetJSON(ctx, srv.URL+"/missing", &out)
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusNotFound {
		t.Fatalf("err = %v, want *StatusError 404", err)
	}
	if se.Error() != "httpds: 404 Not Found" {
		t.Fatalf("Error() = %q", se.Error())
	}
}

func TestBackoffDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{4, time.Second},
		{62, time.Second},
	}
	for _, tt := range tests {
		if got := backoffDuration(100*time.Millisecond, tt.attempt, time.Second); got != tt.want {
			t.Errorf("attempt %d: %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRetryAfter(t *testing.T) {
	t.Parallel()

	if d, ok := retryAfter("3", time.Minute); !ok || d != 3*time.Second {
		t.Fatalf("retryAfter(3) = %v, %v", d, ok)
	}
	if d, ok := retryAfter("120", time.Minute); !ok || d != time.Minute {
		t.Fatalf("retryAfter should cap, got %v", d)
	}
	for _, v := range []string{"", "-1", "Wed, 21 Oct 2015 07:28:00 GMT"} {
		if _, ok := retryAfter(v, time.Minute); ok {
			t.Errorf("retryAfter(%q) should be ignored", v)
		}
	}
}

func TestTokenBucket(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	tb := newTokenBucket(2, 2)
	tb.now = func() time.Time { return now }
	tb.lastUpdate = now

	if !tb.allow() || !tb.allow() {
		t.Fatalf("burst of 2 should be available immediately")
	}
	if tb.allow() {
		t.Fatalf("bucket should be empty after burst")
	}

	now = now.Add(500 * time.Millisecond)
	if !tb.allow() {
		t.Fatalf("expected a refilled token after 500ms")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := tb.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait on empty bucket with canceled ctx = %v", err)
	}
}
