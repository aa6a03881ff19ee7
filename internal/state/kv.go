// Package state implements the durable per-instance key-value storage a
// batcher instance uses for its schema fingerprints and last-pruned
// timestamps (§3 BatcherInstanceState, §4.7, §4.8). It is a distinct
// concern from the diagnostics/dead-letter namespaces in §6, though all
// three share the same underlying sqlite-backed KV shape.
package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// KV is a string→bytes namespace with optional TTL on put, mirroring the
// shape every external KV collaborator in §6 exposes.
type KV struct {
	db    *sql.DB
	table string
}

// OpenKV opens (creating if absent) a KV namespace backed by table in the
// sqlite database at path. Distinct namespaces (durable state,
// diagnostics, dead-letter) use distinct table names so one store file
// can host all three without key collisions.
func OpenKV(path, table string) (*KV, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("state: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		expires_at INTEGER
	)`, table)
	if _, err := db.Exec(ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("state: create table %s: %w", table, err)
	}
	return &KV{db: db, table: table}, nil
}

// Put stores value under key. ttl<=0 means no expiry.
func (k *KV) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt any
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl).UnixMilli()
	}
	q := fmt.Sprintf(`INSERT INTO %s (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value, expires_at=excluded.expires_at`, k.table)
	_, err := k.db.ExecContext(ctx, q, key, value, expiresAt)
	return err
}

// Get returns the value for key, or ok=false if absent or expired.
func (k *KV) Get(ctx context.Context, key string) (value []byte, ok bool, err error) {
	q := fmt.Sprintf(`SELECT value, expires_at FROM %s WHERE key = ?`, k.table)
	row := k.db.QueryRowContext(ctx, q, key)
	var v []byte
	var expiresAt sql.NullInt64
	if err := row.Scan(&v, &expiresAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	if expiresAt.Valid && expiresAt.Int64 < time.Now().UnixMilli() {
		return nil, false, nil
	}
	return v, true, nil
}

// Keys returns every non-expired key with the given prefix, in no
// particular order.
func (k *KV) Keys(ctx context.Context, prefix string) ([]string, error) {
	q := fmt.Sprintf(`SELECT key FROM %s WHERE key LIKE ? AND (expires_at IS NULL OR expires_at >= ?)`, k.table)
	rows, err := k.db.QueryContext(ctx, q, prefix+"%", time.Now().UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		out = append(out, key)
	}
	return out, rows.Err()
}

// Delete removes key.
func (k *KV) Delete(ctx context.Context, key string) error {
	q := fmt.Sprintf(`DELETE FROM %s WHERE key = ?`, k.table)
	_, err := k.db.ExecContext(ctx, q, key)
	return err
}

// SweepExpired deletes every row past its TTL. Cheap, and not required for
// correctness since Get already filters expired rows.
func (k *KV) SweepExpired(ctx context.Context) (int64, error) {
	q := fmt.Sprintf(`DELETE FROM %s WHERE expires_at IS NOT NULL AND expires_at < ?`, k.table)
	res, err := k.db.ExecContext(ctx, q, time.Now().UnixMilli())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (k *KV) Close() error {
	return k.db.Close()
}
