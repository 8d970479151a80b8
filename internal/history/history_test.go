package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(context.Background(), "file:"+filepath.Join(t.TempDir(), "history.db"), false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestLedger_RecordAndRun(t *testing.T) {
	t.Parallel()

	l := openLedger(t)
	ctx := context.Background()
	now := time.Date(2026, 10, 25, 1, 0, 0, 0, time.UTC)

	err := l.Record(ctx,
		&Entry{RunID: "r1", Job: "j", Source: "https://a/key/***/", Target: "bps.t", Status: StatusOK, Rows: 5, Fingerprint: "abc", StartedAt: now},
		&Entry{RunID: "r1", Job: "j", Source: "https://a/key/***/", Target: "bps.t_cl", Status: StatusOK, Rows: 10, StartedAt: now},
		&Entry{RunID: "r2", Job: "j", Source: "https://b/", Status: StatusSkipped, Message: "no data", StartedAt: now},
	)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := l.Record(ctx); err != nil {
		t.Fatalf("empty Record: %v", err)
	}

	got, err := l.Run(ctx, "r1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(got) != 2 || got[0].Target != "bps.t" || got[1].Rows != 10 {
		t.Fatalf("entries = %+v", got)
	}
	if got[0].ID == 0 || got[0].CreatedAt.IsZero() {
		t.Fatalf("defaults not populated: %+v", got[0])
	}
}

func TestLedger_LastSuccess(t *testing.T) {
	t.Parallel()

	l := openLedger(t)
	ctx := context.Background()

	if e, err := l.LastSuccess(ctx, "bps.t"); err != nil || e != nil {
		t.Fatalf("empty ledger = %+v, %v", e, err)
	}

	now := time.Now()
	_ = l.Record(ctx, &Entry{RunID: "r1", Job: "j", Source: "s", Target: "bps.t", Status: StatusOK, Fingerprint: "one", StartedAt: now})
	_ = l.Record(ctx, &Entry{RunID: "r2", Job: "j", Source: "s", Target: "bps.t", Status: StatusOK, Fingerprint: "two", StartedAt: now})
	_ = l.Record(ctx, &Entry{RunID: "r3", Job: "j", Source: "s", Target: "bps.t", Status: StatusFailed, Fingerprint: "", StartedAt: now})

	e, err := l.LastSuccess(ctx, "bps.t")
	if err != nil {
		t.Fatalf("LastSuccess: %v", err)
	}
	if e == nil || e.RunID != "r2" || e.Fingerprint != "two" {
		t.Fatalf("last success = %+v", e)
	}
}
