package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestPrometheus_BatchWriteIncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus(reg)

	p.BatchWrite("orders", "success", "SJC", 10, 5.0)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	if !hasCounterSample(mfs, "logpipe_batch_writes_total", 1) {
		t.Error("expected exactly one batch write sample recorded")
	}
}

func TestPrometheus_SchemaMigrationAndDataPruning(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus(reg)

	p.SchemaMigration("orders", "create_table", "abc123", "SJC", 1.5)
	p.DataPruning("orders", "success", "SJC", 42, 12.0)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	if !hasCounterSample(mfs, "logpipe_schema_migrations_total", 1) {
		t.Error("expected a schema migration sample")
	}
	if !hasCounterSample(mfs, "logpipe_data_pruning_total", 1) {
		t.Error("expected a data pruning sample")
	}
}

func hasCounterSample(mfs []*dto.MetricFamily, name string, wantCount int) bool {
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		return len(mf.GetMetric()) == wantCount
	}
	return false
}
