package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the concrete Store backing this deployment: a pure-Go
// SQLite database, single-writer (SetMaxOpenConns(1)) because the
// Batcher already serializes writes per table itself — grounded on
// Resinat-Resin's internal/state/schema.go OpenDB, which pins the same
// single-connection, WAL-mode pattern for an embedded writer.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if absent) a SQLite database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: pragma %q: %w", p, err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Prepare(sqlText string) Statement {
	return Statement{SQL: sqlText}
}

func (s *SQLiteStore) Batch(ctx context.Context, stmts []Statement) (Result, error) {
	if len(stmts) == 0 {
		return Result{}, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, &TransientError{Err: err}
	}
	var changes int64
	for _, st := range stmts {
		res, err := tx.ExecContext(ctx, st.SQL, st.Args...)
		if err != nil {
			tx.Rollback()
			return Result{}, &TransientError{Err: err}
		}
		n, _ := res.RowsAffected()
		changes += n
	}
	if err := tx.Commit(); err != nil {
		return Result{}, &TransientError{Err: err}
	}
	return Result{Changes: changes}, nil
}

func (s *SQLiteStore) Exec(ctx context.Context, sqlText string, args ...any) (Result, error) {
	res, err := s.db.ExecContext(ctx, sqlText, args...)
	if err != nil {
		return Result{}, err
	}
	n, _ := res.RowsAffected()
	return Result{Changes: n}, nil
}

func (s *SQLiteStore) First(ctx context.Context, sqlText string, args ...any) (map[string]any, bool, error) {
	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, false, rows.Err()
	}
	row, err := scanRow(rows)
	return row, err == nil, err
}

func (s *SQLiteStore) All(ctx context.Context, sqlText string, args ...any) ([]map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []map[string]any
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanRow(rows *sql.Rows) (map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	row := make(map[string]any, len(cols))
	for i, c := range cols {
		row[c] = vals[i]
	}
	return row, nil
}
