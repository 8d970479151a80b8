// Package sqlite implements a SQLite sink using database/sql and the pure-Go
// modernc.org/sqlite driver, for local runs and tests. SQLite has no schemas
// in the warehouse sense, so the schema is folded into the table name as
// <schema>__<table>.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"simdasi/internal/storage"
)

// Types maps inferred column kinds onto SQLite storage classes.
var Types = storage.TypeMap{Int: "INTEGER", Float: "REAL", Text: "TEXT"}

// Config holds SQLite repository configuration.
type Config struct {
	// DSN is a file path or URI, e.g. "file:simdasi.db?cache=shared".
	DSN     string
	Verbose bool
}

// Repository replaces tables in a SQLite database.
type Repository struct {
	db  *sql.DB
	cfg Config
}

// NewRepository opens the database and returns a Close function for cleanup.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, nil, fmt.Errorf("sqlite: DSN must not be empty")
	}
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite: open: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	// One writer at a time; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)

	closeFn := func() { db.Close() }
	return &Repository{db: db, cfg: cfg}, closeFn, nil
}

// TableName folds ref into a single SQLite table name.
func TableName(ref storage.TableRef) string {
	if ref.Schema == "" {
		return ref.Name
	}
	return ref.Schema + "__" + ref.Name
}

// Replace drops and recreates the table, then inserts rows, in one
// transaction.
func (r *Repository) Replace(ctx context.Context, ref storage.TableRef, cols []storage.Column, rows [][]any) (int64, error) {
	if len(cols) == 0 {
		return 0, fmt.Errorf("sqlite: no columns")
	}
	name := TableName(ref)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, s := range []string{"DROP TABLE IF EXISTS " + quoteIdent(name), buildCreateTableSQL(name, cols)} {
		if r.cfg.Verbose {
			log.Printf("sqlite: %s", s)
		}
		if _, err := tx.ExecContext(ctx, s); err != nil {
			return 0, fmt.Errorf("sqlite: exec: %w", err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, buildInsertSQL(name, cols))
	if err != nil {
		return 0, fmt.Errorf("sqlite: prepare insert: %w", err)
	}
	defer stmt.Close()

	var inserted int64
	for _, row := range rows {
		if len(row) != len(cols) {
			return 0, fmt.Errorf("sqlite: row length %d != columns length %d", len(row), len(cols))
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return 0, fmt.Errorf("sqlite: insert: %w", err)
		}
		inserted++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: commit: %w", err)
	}
	return inserted, nil
}

// Types implements storage.Replacer.
func (r *Repository) Types() storage.TypeMap { return Types }

// DB exposes the handle for tests and ad-hoc inspection.
func (r *Repository) DB() *sql.DB { return r.db }

func buildCreateTableSQL(name string, cols []storage.Column) string {
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = quoteIdent(c.Name) + " " + c.SQLType
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(name), strings.Join(defs, ", "))
}

func buildInsertSQL(name string, cols []storage.Column) string {
	names := make([]string, len(cols))
	marks := make([]string, len(cols))
	for i, c := range cols {
		names[i] = quoteIdent(c.Name)
		marks[i] = "?"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quoteIdent(name), strings.Join(names, ", "), strings.Join(marks, ", "))
}

func quoteIdent(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }
