package state

import (
	"context"
	"testing"
	"time"
)

func newTestKV(t *testing.T) *KV {
	t.Helper()
	dir := t.TempDir()
	kv, err := OpenKV(dir+"/state.db", "test_kv")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { kv.Close() })
	return kv
}

func TestKV_PutGet(t *testing.T) {
	kv := newTestKV(t)
	ctx := context.Background()

	if err := kv.Put(ctx, "k1", []byte("v1"), 0); err != nil {
		t.Fatal(err)
	}

	v, ok, err := kv.Get(ctx, "k1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || string(v) != "v1" {
		t.Fatalf("expected v1, got %q (ok=%v)", v, ok)
	}
}

func TestKV_GetMissing(t *testing.T) {
	kv := newTestKV(t)
	_, ok, err := kv.Get(context.Background(), "absent")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected ok=false for missing key")
	}
}

func TestKV_Expiry(t *testing.T) {
	kv := newTestKV(t)
	ctx := context.Background()

	if err := kv.Put(ctx, "ephemeral", []byte("v"), 10*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	time.Sleep(30 * time.Millisecond)

	_, ok, err := kv.Get(ctx, "ephemeral")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected expired key to read back as absent")
	}
}

func TestKV_Keys(t *testing.T) {
	kv := newTestKV(t)
	ctx := context.Background()

	kv.Put(ctx, "deadletter_orders_1", []byte("a"), 0)
	kv.Put(ctx, "deadletter_orders_2", []byte("b"), 0)
	kv.Put(ctx, "other_key", []byte("c"), 0)

	keys, err := kv.Keys(ctx, "deadletter_")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %d: %v", len(keys), keys)
	}
}

func TestKV_Delete(t *testing.T) {
	kv := newTestKV(t)
	ctx := context.Background()
	kv.Put(ctx, "k", []byte("v"), 0)

	if err := kv.Delete(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	_, ok, _ := kv.Get(ctx, "k")
	if ok {
		t.Error("expected key to be gone after delete")
	}
}

func TestKV_SweepExpired(t *testing.T) {
	kv := newTestKV(t)
	ctx := context.Background()
	kv.Put(ctx, "stale", []byte("v"), time.Millisecond)
	time.Sleep(10 * time.Millisecond)

	n, err := kv.SweepExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 row swept, got %d", n)
	}
}

func TestInstanceStore_SchemaHashAndLastPruned(t *testing.T) {
	kv := newTestKV(t)
	ctx := context.Background()

	a := NewInstanceStore(kv, "instance-a")
	b := NewInstanceStore(kv, "instance-b")

	if err := a.PutSchemaHash(ctx, "orders", "abc123"); err != nil {
		t.Fatal(err)
	}

	hash, ok, err := a.SchemaHash(ctx, "orders")
	if err != nil || !ok || hash != "abc123" {
		t.Fatalf("expected abc123, got %q (ok=%v, err=%v)", hash, ok, err)
	}

	// Instances never see each other's keys.
	if _, ok, _ := b.SchemaHash(ctx, "orders"); ok {
		t.Error("instance-b should not see instance-a's schema hash")
	}

	if err := a.PutLastPruned(ctx, "orders", 123456); err != nil {
		t.Fatal(err)
	}
	lastPruned, err := a.LastPruned(ctx, "orders")
	if err != nil || lastPruned != 123456 {
		t.Fatalf("expected 123456, got %d (err=%v)", lastPruned, err)
	}

	// Default is zero when unset.
	zeroVal, err := b.LastPruned(ctx, "orders")
	if err != nil || zeroVal != 0 {
		t.Fatalf("expected 0 for unset instance, got %d", zeroVal)
	}
}
