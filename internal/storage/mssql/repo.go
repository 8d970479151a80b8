// Package mssql implements a Microsoft SQL Server sink using the go-mssqldb
// bulk copy API. The schema is created when absent; the target table is
// dropped, recreated and bulk loaded inside one transaction.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"

	"simdasi/internal/storage"
)

// Types maps inferred column kinds onto SQL Server types.
var Types = storage.TypeMap{Int: "BIGINT", Float: "FLOAT", Text: "NVARCHAR(MAX)"}

// Config holds MSSQL repository configuration.
type Config struct {
	DSN     string
	Verbose bool
}

// Repository replaces tables in a SQL Server database.
type Repository struct {
	db  *sql.DB
	cfg Config
}

// NewRepository validates the DSN, connects, and returns a Close function.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	if _, err := msdsn.Parse(cfg.DSN); err != nil {
		return nil, nil, fmt.Errorf("mssql dsn: %w", err)
	}
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("sql.Open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping: %w", err)
	}
	closeFn := func() { _ = db.Close() }
	return &Repository{db: db, cfg: cfg}, closeFn, nil
}

// Replace creates the schema if needed and reloads the table.
func (r *Repository) Replace(ctx context.Context, ref storage.TableRef, cols []storage.Column, rows [][]any) (int64, error) {
	if len(cols) == 0 {
		return 0, fmt.Errorf("no columns")
	}
	schema := ref.Schema
	if schema == "" {
		schema = "dbo"
	}

	if _, err := r.db.ExecContext(ctx, createSchemaSQL(schema)); err != nil {
		return 0, fmt.Errorf("create schema %s: %w", schema, err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	rollback := func() { _ = tx.Rollback() }

	for _, s := range []string{"DROP TABLE IF EXISTS " + msFQN(schema, ref.Name), buildCreateTableSQL(schema, ref.Name, cols)} {
		if r.cfg.Verbose {
			log.Printf("mssql: %s", s)
		}
		if _, err := tx.ExecContext(ctx, s); err != nil {
			rollback()
			return 0, fmt.Errorf("exec: %w", err)
		}
	}

	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	stmt, err := tx.PrepareContext(ctx, mssql.CopyIn(msFQN(schema, ref.Name), mssql.BulkOptions{}, names...))
	if err != nil {
		rollback()
		return 0, fmt.Errorf("prepare bulk: %w", err)
	}
	for i := range rows {
		if _, err := stmt.ExecContext(ctx, rows[i]...); err != nil {
			_ = stmt.Close()
			rollback()
			return 0, fmt.Errorf("bulk row %d: %w", i, err)
		}
	}
	res, err := stmt.ExecContext(ctx)
	if cerr := stmt.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		rollback()
		return 0, fmt.Errorf("bulk finalize: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		rollback()
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

// Types implements storage.Replacer.
func (r *Repository) Types() storage.TypeMap { return Types }

// createSchemaSQL creates schema when absent. CREATE SCHEMA must be the only
// statement in its batch, hence EXEC.
func createSchemaSQL(schema string) string {
	lit := strings.ReplaceAll(schema, `'`, `''`)
	inner := strings.ReplaceAll("CREATE SCHEMA "+msIdent(schema), `'`, `''`)
	return fmt.Sprintf("IF SCHEMA_ID(N'%s') IS NULL EXEC(N'%s')", lit, inner)
}

func buildCreateTableSQL(schema, name string, cols []storage.Column) string {
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = msIdent(c.Name) + " " + c.SQLType + " NULL"
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", msFQN(schema, name), strings.Join(defs, ", "))
}

// msIdent safely quotes a SQL Server identifier using [brackets], escaping ].
func msIdent(id string) string { return `[` + strings.ReplaceAll(id, `]`, `]]`) + `]` }

func msFQN(schema, name string) string { return msIdent(schema) + "." + msIdent(name) }
