// Package deadletter implements the dead-letter queue (§6 "Dead-letter
// store"): a namespace distinct from diagnostics that receives batches
// which exhausted the batcher's retry budget. Payloads are
// zstd-compressed — the teacher's own compressor
// (github.com/klauspost/compress/zstd), redirected here from columnar
// .nano snapshot files to at-rest dead-letter blobs — then AES-GCM
// encrypted via internal/security, since a dead-lettered batch can
// carry cookies, IPs and user-agents that deserve encryption at rest.
package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/coffersTech/logpipe/internal/logrecord"
	"github.com/coffersTech/logpipe/internal/security"
	"github.com/coffersTech/logpipe/internal/state"
)

// Entry is one dead-lettered batch, keyed by deadletter_<table>_<ISO8601>.
type Entry struct {
	Key       string             `json:"key"`
	TableName string             `json:"tableName"`
	Error     string             `json:"error"`
	Timestamp string             `json:"timestamp"`
	Batch     []logrecord.Record `json:"batch"`
}

// GetTableName, GetError and GetTimestamp satisfy internal/query's
// Matchable interface, letting the admin API filter dead-letter entries
// with the small query DSL.
func (e Entry) GetTableName() string { return e.TableName }
func (e Entry) GetError() string     { return e.Error }
func (e Entry) GetTimestamp() string { return e.Timestamp }

// Store is the narrow dead-letter contract the batcher writes to and
// the admin API reads from.
type Store interface {
	Put(ctx context.Context, key, tableName, errMsg string, batch []logrecord.Record) error
	List(ctx context.Context) ([]Entry, error)
}

// KVStore is the concrete Store, backed by a sqlite KV namespace
// distinct from diagnostics' (§6: "namespace distinct from
// diagnostics").
type KVStore struct {
	kv      *state.KV
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewKVStore wraps kv (its own table, separate from the diagnostics and
// durable-state namespaces) with compression and encryption.
func NewKVStore(kv *state.KV) (*KVStore, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("deadletter: new zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("deadletter: new zstd decoder: %w", err)
	}
	return &KVStore{kv: kv, encoder: enc, decoder: dec}, nil
}

func (s *KVStore) Put(ctx context.Context, key, tableName, errMsg string, batch []logrecord.Record) error {
	entry := Entry{Key: key, TableName: tableName, Error: errMsg, Timestamp: time.Now().UTC().Format(time.RFC3339Nano), Batch: batch}
	plain, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("deadletter: marshal entry: %w", err)
	}
	compressed := s.encoder.EncodeAll(plain, nil)
	sealed, err := security.Encrypt(compressed)
	if err != nil {
		return fmt.Errorf("deadletter: encrypt entry: %w", err)
	}
	return s.kv.Put(ctx, key, sealed, 0)
}

func (s *KVStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	sealed, ok, err := s.kv.Get(ctx, key)
	if err != nil || !ok {
		return Entry{}, ok, err
	}
	return s.decode(sealed)
}

// List returns every dead-lettered entry in key order: grouped by table
// name, then ordered by the key's timestamp text. The
// diagnostics/dead-letter KV is not large-scale: entries are only
// created on a genuine retry exhaustion, so a full namespace scan per
// admin request is acceptable.
func (s *KVStore) List(ctx context.Context) ([]Entry, error) {
	keys, err := s.kv.Keys(ctx, "deadletter_")
	if err != nil {
		return nil, fmt.Errorf("deadletter: list keys: %w", err)
	}
	sort.Strings(keys)
	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		sealed, ok, err := s.kv.Get(ctx, k)
		if err != nil || !ok {
			continue
		}
		entry, ok, err := s.decode(sealed)
		if err != nil || !ok {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s *KVStore) decode(sealed []byte) (Entry, bool, error) {
	plainCompressed, err := security.Decrypt(sealed)
	if err != nil {
		return Entry{}, false, fmt.Errorf("deadletter: decrypt entry: %w", err)
	}
	plain, err := s.decoder.DecodeAll(plainCompressed, nil)
	if err != nil {
		return Entry{}, false, fmt.Errorf("deadletter: decompress entry: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(plain, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("deadletter: unmarshal entry: %w", err)
	}
	return entry, true, nil
}
