package schemamgr

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/coffersTech/logpipe/internal/planner"
	"github.com/coffersTech/logpipe/internal/schema"
	"github.com/coffersTech/logpipe/internal/state"
	"github.com/coffersTech/logpipe/internal/store"
)

func newTestManager(t *testing.T) (*Manager, store.Store) {
	t.Helper()
	dir := t.TempDir()

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

	durable := state.NewInstanceStore(kv, "instance-1")
	return New(st, durable), st
}

func routeWith(tableName string, sch schema.Schema) *planner.CompiledRoute {
	return &planner.CompiledRoute{
		TableName:  tableName,
		Schema:     sch,
		SchemaHash: schema.Fingerprint(sch),
	}
}

func TestManager_Initialize_CreatesTableOnFirstRun(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	sch := schema.Schema{
		{Name: "logId", Type: schema.TypeText, Constraints: "PRIMARY KEY"},
		{Name: "method", Type: schema.TypeText},
	}
	route := routeWith("orders", sch)

	outcome, err := m.Initialize(ctx, route)
	if err != nil {
		t.Fatal(err)
	}
	if !outcome.Ran || outcome.MigrationType != "create_table" {
		t.Errorf("expected a create_table migration, got %+v", outcome)
	}

	exists, err := tableExists(ctx, st, "orders")
	if err != nil {
		t.Fatal(err)
	}
	if !exists {
		t.Fatal("expected the orders table to exist after Initialize")
	}
}

func TestManager_Initialize_MemoizedWithinProcessLifetime(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	route := routeWith("orders", schema.Schema{{Name: "logId", Type: schema.TypeText}})

	if _, err := m.Initialize(ctx, route); err != nil {
		t.Fatal(err)
	}
	outcome, err := m.Initialize(ctx, route)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Ran {
		t.Error("expected the second Initialize call for the same table to be a no-op")
	}
}

func TestManager_Initialize_AltersTableWhenSchemaGrows(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	narrow := schema.Schema{{Name: "logId", Type: schema.TypeText, Constraints: "PRIMARY KEY"}}
	if _, err := m.Initialize(ctx, routeWith("orders", narrow)); err != nil {
		t.Fatal(err)
	}

	// A fresh Manager so "memoized this lifetime" doesn't short-circuit
	// the comparison — simulates a later process restart picking up a
	// wider schema for the same table.
	m2, _ := newTestManager(t)
	m2.st = st
	m2.durable = m.durable

	wide := schema.Schema{
		{Name: "logId", Type: schema.TypeText, Constraints: "PRIMARY KEY"},
		{Name: "method", Type: schema.TypeText},
	}
	outcome, err := m2.Initialize(ctx, routeWith("orders", wide))
	if err != nil {
		t.Fatal(err)
	}
	if !outcome.Ran || outcome.MigrationType != "alter_table" {
		t.Errorf("expected an alter_table migration, got %+v", outcome)
	}

	cols, err := tableColumns(ctx, st, "orders")
	if err != nil {
		t.Fatal(err)
	}
	if !cols["method"] {
		t.Error("expected the orders table to gain the method column")
	}
}

func TestManager_Initialize_CreatesIndexesForIndexedColumns(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	sch := schema.Schema{
		{Name: "logId", Type: schema.TypeText, Constraints: "PRIMARY KEY"},
		{Name: "rayId", Type: schema.TypeText, Indexed: true},
	}
	if _, err := m.Initialize(ctx, routeWith("orders", sch)); err != nil {
		t.Fatal(err)
	}

	idx, err := tableIndexes(ctx, st, "orders")
	if err != nil {
		t.Fatal(err)
	}
	if !idx["idx_rayId"] {
		t.Errorf("expected an index on rayId, got %+v", idx)
	}
}
