package batcher

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/coffersTech/logpipe/internal/deadletter"
	"github.com/coffersTech/logpipe/internal/diagnostics"
	"github.com/coffersTech/logpipe/internal/logrecord"
	"github.com/coffersTech/logpipe/internal/planner"
	"github.com/coffersTech/logpipe/internal/schema"
	"github.com/coffersTech/logpipe/internal/security"
	"github.com/coffersTech/logpipe/internal/state"
	"github.com/coffersTech/logpipe/internal/store"
)

// fakeMetrics records every call it receives, avoiding a prometheus
// registry per test.
type fakeMetrics struct {
	batchWrites []string // outcome per call
	migrations  int
	prunes      []string
}

func (f *fakeMetrics) BatchWrite(tableName, outcome, colo string, batchSize int, duration float64) {
	f.batchWrites = append(f.batchWrites, outcome)
}
func (f *fakeMetrics) SchemaMigration(tableName, migrationType, schemaHash, colo string, duration float64) {
	f.migrations++
}
func (f *fakeMetrics) DataPruning(tableName, outcome, colo string, rowsDeleted int, duration float64) {
	f.prunes = append(f.prunes, outcome)
}

// failingStore fails the first failUntil Batch calls and then delegates
// to the wrapped store, to exercise the retry/dead-letter path.
type failingStore struct {
	store.Store
	failUntil int
	attempts  int
}

func (f *failingStore) Batch(ctx context.Context, stmts []store.Statement) (store.Result, error) {
	f.attempts++
	if f.attempts <= f.failUntil {
		return store.Result{}, &store.TransientError{Err: context.DeadlineExceeded}
	}
	return f.Store.Batch(ctx, stmts)
}

type harness struct {
	st  store.Store
	dur *state.InstanceStore
	dg  *diagnostics.KVSink
	dlq *deadletter.KVStore
	met *fakeMetrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()

	if _, err := security.InitMasterKey(filepath.Join(dir, "master.key")); err != nil {
		t.Fatal(err)
	}

	st, err := store.OpenSQLiteStore(filepath.Join(dir, "log.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	kv, err := state.OpenKV(filepath.Join(dir, "durable.db"), "durable_kv")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { kv.Close() })

	diagKV, err := state.OpenKV(filepath.Join(dir, "diagnostics.db"), "diagnostics_kv")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { diagKV.Close() })

	dlqKV, err := state.OpenKV(filepath.Join(dir, "deadletter.db"), "deadletter_kv")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { dlqKV.Close() })

	dlq, err := deadletter.NewKVStore(dlqKV)
	if err != nil {
		t.Fatal(err)
	}

	return &harness{
		st:  st,
		dur: state.NewInstanceStore(kv, "test-instance"),
		dg:  diagnostics.NewKVSink(diagKV),
		dlq: dlq,
		met: &fakeMetrics{},
	}
}

func TestBatcher_AddLogAndAlarmFlush(t *testing.T) {
	h := newHarness(t)
	b := New("shard-1", h.st, h.dur, h.dg, h.dlq, h.met, Config{BatchIntervalMs: 50, MaxBatchSize: 200})

	route := &planner.CompiledRoute{
		TableName: "orders",
		Schema:    schema.Schema{{Name: "logId", Type: schema.TypeText, Constraints: "PRIMARY KEY"}, {Name: "data", Type: schema.TypeText}},
	}
	b.SetLogPlan([]*planner.CompiledRoute{route})

	ctx := context.Background()
	b.AddLog(ctx, logrecord.Record{"logId": "a", "data": "x"}, []string{"orders"})
	b.AddLog(ctx, logrecord.Record{"logId": "b", "data": "y"}, []string{"orders"})

	b.Alarm(ctx)

	rows, err := h.st.All(ctx, `SELECT logId FROM orders ORDER BY logId`)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows flushed, got %d", len(rows))
	}
	if len(h.met.batchWrites) == 0 || h.met.batchWrites[len(h.met.batchWrites)-1] != "success" {
		t.Errorf("expected a success metric, got %v", h.met.batchWrites)
	}
}

func TestBatcher_SizeTriggeredFlush(t *testing.T) {
	h := newHarness(t)
	b := New("shard-1", h.st, h.dur, h.dg, h.dlq, h.met, Config{BatchIntervalMs: 60_000, MaxBatchSize: 2})

	route := &planner.CompiledRoute{
		TableName: "orders",
		Schema:    schema.Schema{{Name: "logId", Type: schema.TypeText, Constraints: "PRIMARY KEY"}, {Name: "data", Type: schema.TypeText}},
	}
	b.SetLogPlan([]*planner.CompiledRoute{route})

	ctx := context.Background()
	b.AddLog(ctx, logrecord.Record{"logId": "a", "data": "x"}, []string{"orders"})
	b.AddLog(ctx, logrecord.Record{"logId": "b", "data": "y"}, []string{"orders"})

	deadline := time.Now().Add(2 * time.Second)
	for {
		rows, _ := h.st.All(ctx, `SELECT logId FROM orders`)
		if len(rows) == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("size-triggered flush never wrote both rows, got %d", len(rows))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBatcher_Shutdown_DrainsBuffers(t *testing.T) {
	h := newHarness(t)
	b := New("shard-1", h.st, h.dur, h.dg, h.dlq, h.met, Config{BatchIntervalMs: 60_000, MaxBatchSize: 200})

	route := &planner.CompiledRoute{
		TableName: "orders",
		Schema:    schema.Schema{{Name: "logId", Type: schema.TypeText, Constraints: "PRIMARY KEY"}, {Name: "data", Type: schema.TypeText}},
	}
	b.SetLogPlan([]*planner.CompiledRoute{route})

	ctx := context.Background()
	b.AddLog(ctx, logrecord.Record{"logId": "a", "data": "x"}, []string{"orders"})

	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b.Shutdown(shutdownCtx)

	rows, err := h.st.All(ctx, `SELECT logId FROM orders`)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected shutdown to flush the remaining buffer, got %d rows", len(rows))
	}
}

func TestBatcher_RetryThenDeadLetterAfterMaxRetries(t *testing.T) {
	h := newHarness(t)
	wrapped := &failingStore{Store: h.st, failUntil: MaxRetries}
	b := New("shard-1", wrapped, h.dur, h.dg, h.dlq, h.met, Config{BatchIntervalMs: 60_000, MaxBatchSize: 200})

	route := &planner.CompiledRoute{
		TableName: "orders",
		Schema:    schema.Schema{{Name: "logId", Type: schema.TypeText, Constraints: "PRIMARY KEY"}, {Name: "data", Type: schema.TypeText}},
	}
	b.SetLogPlan([]*planner.CompiledRoute{route})

	ctx := context.Background()
	b.AddLog(ctx, logrecord.Record{"logId": "a", "data": "x"}, []string{"orders"})

	for i := 0; i < MaxRetries; i++ {
		if err := b.flush(ctx, "orders", route); err == nil {
			t.Fatalf("attempt %d: expected failure while store is still failing", i)
		}
	}

	entries, err := h.dlq.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected batch to be dead-lettered after %d retries, got %d entries", MaxRetries, len(entries))
	}
	if entries[0].TableName != "orders" {
		t.Errorf("expected dead-letter entry for orders, got %q", entries[0].TableName)
	}

	b.mu.Lock()
	remaining := len(b.batches["orders"])
	failures := b.failureCount["orders"]
	b.mu.Unlock()
	if remaining != 0 {
		t.Errorf("expected buffer cleared after dead-letter, got %d records", remaining)
	}
	if failures != 0 {
		t.Errorf("expected failure counter reset after dead-letter, got %d", failures)
	}
}

func TestPruningIntervalElapsed(t *testing.T) {
	now := int64(10 * 86_400_000)
	if !pruningIntervalElapsed(now, 0, 7) {
		t.Error("expected interval elapsed when lastPruned is zero and now is 10 days in")
	}
	if pruningIntervalElapsed(now, now-1000, 7) {
		t.Error("expected interval not elapsed for a prune 1 second ago")
	}
}

func TestConfig_Normalize(t *testing.T) {
	c := Config{}.Normalize()
	if c.BatchIntervalMs != DefaultBatchIntervalMs || c.MaxBatchSize != DefaultMaxBatchSize {
		t.Errorf("expected defaults, got %+v", c)
	}
}

func TestParseConfig_InvalidValuesFallBackToDefaults(t *testing.T) {
	env := map[string]string{"BATCH_INTERVAL_MS": "not-a-number", "MAX_BATCH_SIZE": "-5"}
	cfg := ParseConfig(func(k string) string { return env[k] })
	if cfg.BatchIntervalMs != DefaultBatchIntervalMs {
		t.Errorf("expected default batch interval, got %d", cfg.BatchIntervalMs)
	}
	if cfg.MaxBatchSize != DefaultMaxBatchSize {
		t.Errorf("expected default max batch size, got %d", cfg.MaxBatchSize)
	}
}
