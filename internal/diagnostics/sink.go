// Package diagnostics implements the fire-and-forget observability
// namespace §6 names: batcher state snapshots, instance liveness,
// last-firehose-batch/event, last failed batch, and pruning summaries.
package diagnostics

import (
	"context"
	"encoding/json"
	"time"

	"github.com/coffersTech/logpipe/internal/state"
)

// Sink is the narrow diagnostics contract the rest of the pipeline
// writes to; every method is fire-and-forget from the caller's point of
// view (§4.6, §6).
type Sink interface {
	PutState(ctx context.Context, instanceID string, snapshot any) error
	PutActive(ctx context.Context, instanceID, colo string) error
	PutLastFirehoseBatch(ctx context.Context, batch any) error
	PutLastFirehoseEvent(ctx context.Context, event any) error
	PutFailedBatch(ctx context.Context, payload FailedBatch) error
	PutPruningSummary(ctx context.Context, tableName string, entry PruningEntry) error
}

// FailedBatch is the §6 last_failed_batch shape.
type FailedBatch struct {
	Timestamp string `json:"timestamp"`
	TableName string `json:"tableName"`
	Error     string `json:"error"`
	Batch     any    `json:"batch"`
}

// PruningEntry is one table's entry inside the pruning_summary map.
type PruningEntry struct {
	LastPrunedTimestamp string `json:"lastPrunedTimestamp"`
	LastRowsDeleted     int64  `json:"lastRowsDeleted"`
	LastPruneDurationMs int64  `json:"lastPruneDurationMs"`
}

// Reader is the admin API's read-side view of the same namespace Sink
// writes to.
type Reader interface {
	GetState(ctx context.Context, instanceID string, out any) (bool, error)
	GetLastFirehoseBatch(ctx context.Context, out any) (bool, error)
	GetLastFirehoseEvent(ctx context.Context, out any) (bool, error)
	GetPruningSummary(ctx context.Context) (map[string]PruningEntry, error)
	GetFailedBatch(ctx context.Context) (FailedBatch, bool, error)
}

// activeTTL is the 65-second TTL §6 specifies for active_do_<doId>.
const activeTTL = 65 * time.Second

// KVSink is the concrete Sink, backed by a state.KV namespace.
type KVSink struct {
	kv *state.KV
}

func NewKVSink(kv *state.KV) *KVSink {
	return &KVSink{kv: kv}
}

func (s *KVSink) PutState(ctx context.Context, instanceID string, snapshot any) error {
	return s.putJSON(ctx, "state_"+instanceID, snapshot, 0)
}

func (s *KVSink) PutActive(ctx context.Context, instanceID, colo string) error {
	payload := map[string]any{"colo": colo, "lastSeen": time.Now().UTC().Format(time.RFC3339)}
	return s.putJSON(ctx, "active_do_"+instanceID, payload, activeTTL)
}

func (s *KVSink) PutLastFirehoseBatch(ctx context.Context, batch any) error {
	return s.putJSON(ctx, "last_firehose_batch", batch, 0)
}

func (s *KVSink) PutLastFirehoseEvent(ctx context.Context, event any) error {
	return s.putJSON(ctx, "last_firehose_event", event, 0)
}

func (s *KVSink) PutFailedBatch(ctx context.Context, payload FailedBatch) error {
	return s.putJSON(ctx, "last_failed_batch", payload, 0)
}

// PutPruningSummary merges entry into the existing pruning_summary map
// rather than overwriting it, since the key holds every table's entry.
func (s *KVSink) PutPruningSummary(ctx context.Context, tableName string, entry PruningEntry) error {
	summary := map[string]PruningEntry{}
	if existing, ok, err := s.kv.Get(ctx, "pruning_summary"); err == nil && ok {
		_ = json.Unmarshal(existing, &summary)
	}
	summary[tableName] = entry
	return s.putJSON(ctx, "pruning_summary", summary, 0)
}

func (s *KVSink) putJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.kv.Put(ctx, key, b, ttl)
}

func (s *KVSink) GetState(ctx context.Context, instanceID string, out any) (bool, error) {
	return s.getJSON(ctx, "state_"+instanceID, out)
}

func (s *KVSink) GetLastFirehoseBatch(ctx context.Context, out any) (bool, error) {
	return s.getJSON(ctx, "last_firehose_batch", out)
}

func (s *KVSink) GetLastFirehoseEvent(ctx context.Context, out any) (bool, error) {
	return s.getJSON(ctx, "last_firehose_event", out)
}

func (s *KVSink) GetFailedBatch(ctx context.Context) (FailedBatch, bool, error) {
	var fb FailedBatch
	ok, err := s.getJSON(ctx, "last_failed_batch", &fb)
	return fb, ok, err
}

func (s *KVSink) GetPruningSummary(ctx context.Context) (map[string]PruningEntry, error) {
	summary := map[string]PruningEntry{}
	if _, err := s.getJSON(ctx, "pruning_summary", &summary); err != nil {
		return nil, err
	}
	return summary, nil
}

func (s *KVSink) getJSON(ctx context.Context, key string, out any) (bool, error) {
	b, ok, err := s.kv.Get(ctx, key)
	if err != nil || !ok {
		return ok, err
	}
	return true, json.Unmarshal(b, out)
}
