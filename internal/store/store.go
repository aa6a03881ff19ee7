// Package store defines the narrow, SQLite-dialect storage contract the
// rest of the pipeline is written against (§6 "Store interface"), plus a
// concrete implementation backed by modernc.org/sqlite.
package store

import "context"

// Statement is a single bound SQL statement, produced by Prepare.
type Statement struct {
	SQL  string
	Args []any
}

// Result reports how many rows a batch or exec affected (§6 meta.changes).
type Result struct {
	Changes int64
}

// TransientError wraps a batch-write failure the batcher should retry
// (§7 TransientStoreError).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "store: transient failure: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Store is the narrow interface every component above it is written
// against. The expected dialect is SQLite-compatible: PRAGMA table_info,
// sqlite_master, ANALYZE (§6).
type Store interface {
	// Prepare returns an unbound statement template; Bind attaches args.
	Prepare(sql string) Statement

	// Batch executes every statement as one unit (one flush's worth of
	// INSERTs, or one migration's ALTER/CREATE INDEX set).
	Batch(ctx context.Context, stmts []Statement) (Result, error)

	// Exec runs one DDL statement (CREATE TABLE, ALTER TABLE, ANALYZE).
	Exec(ctx context.Context, sql string, args ...any) (Result, error)

	// First returns the first row of a query, or ok=false if empty.
	First(ctx context.Context, sql string, args ...any) (row map[string]any, ok bool, err error)

	// All returns every row of a query.
	All(ctx context.Context, sql string, args ...any) ([]map[string]any, error)

	Close() error
}

// Bind attaches args to a prepared statement template.
func Bind(s Statement, args ...any) Statement {
	s.Args = args
	return s
}
