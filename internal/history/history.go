// Package history keeps a SQLite ledger of pipeline outcomes: one row per
// run, source and destination table. The pipeline consults it to tell
// whether a table's content changed since the last successful write.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"
)

// Entry statuses.
const (
	StatusOK      = "ok"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

// Entry is one ledger row.
type Entry struct {
	bun.BaseModel `bun:"table:simdasi_runs,alias:r"`

	ID          int64     `bun:"id,pk,autoincrement"`
	RunID       string    `bun:"run_id,notnull"`
	Job         string    `bun:"job,notnull"`
	Source      string    `bun:"source,notnull"`
	Target      string    `bun:"target"`
	Status      string    `bun:"status,notnull"`
	Rows        int64     `bun:"rows,notnull,default:0"`
	Fingerprint string    `bun:"fingerprint"`
	Years       string    `bun:"years"`
	Message     string    `bun:"message"`
	StartedAt   time.Time `bun:"started_at,notnull"`
	DurationMS  int64     `bun:"duration_ms,notnull,default:0"`
	CreatedAt   time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// Ledger is the run history store. It is safe for concurrent use.
type Ledger struct {
	db *bun.DB
}

// Open opens (creating if needed) the ledger database at dsn. debug logs every
// query.
func Open(ctx context.Context, dsn string, debug bool) (*Ledger, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("history: %s: %w", pragma, err)
		}
	}

	if _, err := db.NewCreateTable().Model((*Entry)(nil)).IfNotExists().Exec(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: create table: %w", err)
	}
	if _, err := db.NewCreateIndex().Model((*Entry)(nil)).Index("simdasi_runs_target_idx").
		Column("target", "status", "id").IfNotExists().Exec(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: create index: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Record inserts entries in one transaction.
func (l *Ledger) Record(ctx context.Context, entries ...*Entry) error {
	if len(entries) == 0 {
		return nil
	}
	return l.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(&entries).Exec(ctx); err != nil {
			return fmt.Errorf("history: insert: %w", err)
		}
		return nil
	})
}

// Run returns the entries of runID in insertion order.
func (l *Ledger) Run(ctx context.Context, runID string) ([]Entry, error) {
	var out []Entry
	err := l.db.NewSelect().
		Model(&out).
		Where("run_id = ?", runID).
		OrderExpr("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("history: select run: %w", err)
	}
	return out, nil
}

// LastSuccess returns the most recent ok entry for target, or nil when there
// is none.
func (l *Ledger) LastSuccess(ctx context.Context, target string) (*Entry, error) {
	e := new(Entry)
	err := l.db.NewSelect().
		Model(e).
		Where("target = ?", target).
		Where("status = ?", StatusOK).
		OrderExpr("id DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("history: last success: %w", err)
	}
	return e, nil
}

// Close closes the database.
func (l *Ledger) Close() error { return l.db.Close() }
