// Package mysql implements a MySQL sink with go-sql-driver/mysql. A MySQL
// schema is a database, so Replace creates the database when absent. DDL
// commits implicitly in MySQL, so the table is loaded into a staging table
// first and swapped in with one atomic RENAME TABLE.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/zeebo/xxh3"

	"simdasi/internal/storage"
)

// Types maps inferred column kinds onto MySQL types.
var Types = storage.TypeMap{Int: "BIGINT", Float: "DOUBLE", Text: "LONGTEXT"}

// maxIdent is MySQL's identifier length limit.
const maxIdent = 64

// insertBatch bounds rows per INSERT so statements stay under
// max_allowed_packet and the 65535 placeholder limit.
const insertBatch = 500

// Config holds MySQL repository configuration.
type Config struct {
	// DSN in go-sql-driver form, e.g. "user:pass@tcp(host:3306)/warehouse".
	DSN     string
	Verbose bool
}

// Repository replaces tables in a MySQL server.
type Repository struct {
	db  *sql.DB
	cfg Config
	// defaultDB is the database named in the DSN, used for refs without a
	// schema.
	defaultDB string
}

// NewRepository parses the DSN, connects and returns a Close function.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	mc, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("mysql dsn: %w", err)
	}
	mc.ParseTime = true
	connector, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, nil, fmt.Errorf("mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping: %w", err)
	}
	closeFn := func() { _ = db.Close() }
	return &Repository{db: db, cfg: cfg, defaultDB: mc.DBName}, closeFn, nil
}

// Replace creates the database if needed, loads a staging table and swaps it
// in place of ref.
func (r *Repository) Replace(ctx context.Context, ref storage.TableRef, cols []storage.Column, rows [][]any) (int64, error) {
	if len(cols) == 0 {
		return 0, fmt.Errorf("no columns")
	}
	schema := ref.Schema
	if schema == "" {
		schema = r.defaultDB
	}
	if schema == "" {
		return 0, fmt.Errorf("no schema for %s and no database in DSN", ref.Name)
	}
	staging := stagingName(schema, ref.Name)
	target, stg := myFQN(schema, ref.Name), myFQN(schema, staging)

	pre := []string{
		"CREATE DATABASE IF NOT EXISTS " + myIdent(schema) + " CHARACTER SET utf8mb4",
		"DROP TABLE IF EXISTS " + stg,
		buildCreateTableSQL(schema, staging, cols),
	}
	if err := r.exec(ctx, pre...); err != nil {
		return 0, err
	}

	n, err := r.load(ctx, stg, cols, rows)
	if err != nil {
		_ = r.exec(ctx, "DROP TABLE IF EXISTS "+stg)
		return 0, err
	}

	// RENAME TABLE swaps both names atomically; the old table goes last.
	old := myFQN(schema, stagingName(schema, ref.Name+"_old"))
	swap := []string{"DROP TABLE IF EXISTS " + old}
	exists, err := r.tableExists(ctx, schema, ref.Name)
	if err != nil {
		return 0, err
	}
	if exists {
		swap = append(swap, fmt.Sprintf("RENAME TABLE %s TO %s, %s TO %s", target, old, stg, target), "DROP TABLE "+old)
	} else {
		swap = append(swap, fmt.Sprintf("RENAME TABLE %s TO %s", stg, target))
	}
	if err := r.exec(ctx, swap...); err != nil {
		return 0, err
	}
	return n, nil
}

// Types implements storage.Replacer.
func (r *Repository) Types() storage.TypeMap { return Types }

func (r *Repository) exec(ctx context.Context, stmts ...string) error {
	for _, s := range stmts {
		if r.cfg.Verbose {
			log.Printf("mysql: %s", firstLine(s))
		}
		if _, err := r.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("exec %q: %w", firstLine(s), err)
		}
	}
	return nil
}

// load inserts rows in multi-row batches inside one transaction.
func (r *Repository) load(ctx context.Context, fqn string, cols []storage.Column, rows [][]any) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var total int64
	for start := 0; start < len(rows); start += insertBatch {
		batch := rows[start:min(start+insertBatch, len(rows))]
		args := make([]any, 0, len(batch)*len(cols))
		for i, row := range batch {
			if len(row) != len(cols) {
				return 0, fmt.Errorf("row %d has %d values, want %d", start+i, len(row), len(cols))
			}
			args = append(args, row...)
		}
		res, err := tx.ExecContext(ctx, buildInsertSQL(fqn, cols, len(batch)), args...)
		if err != nil {
			return 0, fmt.Errorf("insert rows %d..%d: %w", start, start+len(batch)-1, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return total, nil
}

func (r *Repository) tableExists(ctx context.Context, schema, name string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = ? AND table_name = ?",
		schema, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("lookup %s.%s: %w", schema, name, err)
	}
	return n > 0, nil
}

// stagingName derives a per-target staging name within maxIdent.
func stagingName(schema, name string) string {
	suffix := fmt.Sprintf("_stg_%08x", uint32(xxh3.HashString(schema+"."+name)))
	if len(name)+len(suffix) > maxIdent {
		name = name[:maxIdent-len(suffix)]
	}
	return name + suffix
}

func buildCreateTableSQL(schema, name string, cols []storage.Column) string {
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = "  " + myIdent(c.Name) + " " + c.SQLType + " NULL"
	}
	return fmt.Sprintf("CREATE TABLE %s (\n%s\n) DEFAULT CHARSET=utf8mb4", myFQN(schema, name), strings.Join(defs, ",\n"))
}

func buildInsertSQL(fqn string, cols []storage.Column, nrows int) string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = myIdent(c.Name)
	}
	tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ")"
	values := strings.TrimSuffix(strings.Repeat(tuple+", ", nrows), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", fqn, strings.Join(names, ", "), values)
}

// myIdent backtick-quotes an identifier, doubling embedded backticks.
func myIdent(id string) string { return "`" + strings.ReplaceAll(id, "`", "``") + "`" }

func myFQN(schema, name string) string { return myIdent(schema) + "." + myIdent(name) }

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
