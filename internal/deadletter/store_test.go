package deadletter

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/coffersTech/logpipe/internal/logrecord"
	"github.com/coffersTech/logpipe/internal/security"
	"github.com/coffersTech/logpipe/internal/state"
)

func newTestKVStore(t *testing.T) *KVStore {
	t.Helper()
	if _, err := security.InitMasterKey(filepath.Join(t.TempDir(), "master.key")); err != nil {
		t.Fatal(err)
	}

	kv, err := state.OpenKV(filepath.Join(t.TempDir(), "deadletter.db"), "deadletter_kv")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { kv.Close() })

	store, err := NewKVStore(kv)
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func TestKVStore_PutGet_RoundTrip(t *testing.T) {
	store := newTestKVStore(t)
	ctx := context.Background()

	batch := []logrecord.Record{{"logId": "a"}, {"logId": "b"}}
	if err := store.Put(ctx, "deadletter_orders_2026-08-03T00:00:00Z", "orders", "store unreachable: timeout", batch); err != nil {
		t.Fatal(err)
	}

	entry, ok, err := store.Get(ctx, "deadletter_orders_2026-08-03T00:00:00Z")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected entry to be found")
	}
	if entry.TableName != "orders" {
		t.Errorf("expected table orders, got %q", entry.TableName)
	}
	if entry.Error != "store unreachable: timeout" {
		t.Errorf("unexpected error field: %q", entry.Error)
	}
	if len(entry.Batch) != 2 {
		t.Errorf("expected 2 records, got %d", len(entry.Batch))
	}
}

func TestKVStore_List(t *testing.T) {
	store := newTestKVStore(t)
	ctx := context.Background()

	store.Put(ctx, "deadletter_orders_1", "orders", "timeout", nil)
	store.Put(ctx, "deadletter_payments_1", "payments", "connection refused", nil)

	entries, err := store.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
}

func TestKVStore_Get_Missing(t *testing.T) {
	store := newTestKVStore(t)
	_, ok, err := store.Get(context.Background(), "absent")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected ok=false for missing key")
	}
}
