// Package postgres implements the warehouse sink with pgx v5. A table is
// replaced by COPYing into a staging table in the same schema, then dropping
// the old table and renaming the staging table, all in one transaction.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zeebo/xxh3"

	"simdasi/internal/storage"
)

// Types maps inferred column kinds onto Postgres types.
var Types = storage.TypeMap{Int: "BIGINT", Float: "DOUBLE PRECISION", Text: "TEXT"}

// maxIdent is NAMEDATALEN-1.
const maxIdent = 63

// Config holds Postgres repository configuration.
type Config struct {
	DSN     string
	Verbose bool
}

// Repository replaces tables in a Postgres database.
type Repository struct {
	pool *pgxpool.Pool
	cfg  Config
}

// NewRepository opens a pool and returns a Close function for cleanup.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("pgxpool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping: %w", err)
	}
	closeFn := func() { pool.Close() }
	return &Repository{pool: pool, cfg: cfg}, closeFn, nil
}

// Replace creates ref's schema if needed and swaps in a freshly loaded table.
func (r *Repository) Replace(ctx context.Context, ref storage.TableRef, cols []storage.Column, rows [][]any) (int64, error) {
	if len(cols) == 0 {
		return 0, fmt.Errorf("no columns")
	}
	schema := ref.Schema
	if schema == "" {
		schema = "public"
	}
	staging := stagingName(schema, ref.Name)

	if _, err := r.pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgIdent(schema)); err != nil {
		return 0, fmt.Errorf("create schema %s: %w", schema, pgErr(err))
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	stmts := []string{
		"DROP TABLE IF EXISTS " + pgFQN(schema, staging),
		buildCreateTableSQL(schema, staging, cols),
	}
	for _, s := range stmts {
		if r.cfg.Verbose {
			log.Printf("postgres: %s", s)
		}
		if _, err := tx.Exec(ctx, s); err != nil {
			return 0, fmt.Errorf("exec %q: %w", firstLine(s), pgErr(err))
		}
	}

	n, err := tx.CopyFrom(ctx, pgx.Identifier{schema, staging}, columnNames(cols), pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("copy into %s: %w", staging, pgErr(err))
	}

	swap := []string{
		"DROP TABLE IF EXISTS " + pgFQN(schema, ref.Name),
		fmt.Sprintf("ALTER TABLE %s RENAME TO %s", pgFQN(schema, staging), pgIdent(ref.Name)),
	}
	for _, s := range swap {
		if _, err := tx.Exec(ctx, s); err != nil {
			return 0, fmt.Errorf("exec %q: %w", s, pgErr(err))
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

// Types implements storage.Replacer.
func (r *Repository) Types() storage.TypeMap { return Types }

// stagingName derives a staging table name that fits maxIdent and is stable
// for a given target, so a crashed run's leftover is dropped by the next one.
func stagingName(schema, name string) string {
	suffix := fmt.Sprintf("_stg_%08x", uint32(xxh3.HashString(schema+"."+name)))
	prefix := name
	if limit := maxIdent - len(suffix); len(prefix) > limit {
		prefix = prefix[:limit]
	}
	return prefix + suffix
}

// buildCreateTableSQL renders CREATE TABLE for cols in order.
func buildCreateTableSQL(schema, name string, cols []storage.Column) string {
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = pgIdent(c.Name) + " " + c.SQLType
	}
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", pgFQN(schema, name), strings.Join(defs, ",\n  "))
}

// pgErr surfaces the server's detail and SQLSTATE when present.
func pgErr(err error) error {
	var pe *pgconn.PgError
	if errors.As(err, &pe) && pe.Detail != "" {
		return fmt.Errorf("%s: %s (%s): %w", pe.Message, pe.Detail, pe.SQLState(), err)
	}
	return err
}

// pgIdent safely quotes a single identifier segment for Postgres.
func pgIdent(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }

func pgFQN(schema, name string) string { return pgIdent(schema) + "." + pgIdent(name) }

func columnNames(cols []storage.Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
