// Package metrics emits the three operational datasets §6 names
// (batchWrites, schemaMigrations, dataPruning) via Prometheus client
// metrics — grounded on other_examples/grafana-loki's direct use of
// prometheus.CounterVec for append/record counters, the one pack
// reference wiring client_golang rather than a transitive dependency.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Sink is the narrow metrics contract the rest of the pipeline writes to.
type Sink interface {
	BatchWrite(tableName, outcome, colo string, batchSize int, duration float64)
	SchemaMigration(tableName, migrationType, schemaHash, colo string, duration float64)
	DataPruning(tableName, outcome, colo string, rowsDeleted int, duration float64)
}

// Prometheus is the concrete Sink used in production.
type Prometheus struct {
	batchWrites       *prometheus.CounterVec
	batchWriteSize    *prometheus.HistogramVec
	batchWriteLatency *prometheus.HistogramVec

	schemaMigrations       *prometheus.CounterVec
	schemaMigrationLatency *prometheus.HistogramVec

	dataPruning       *prometheus.CounterVec
	dataPruningRows   *prometheus.HistogramVec
	dataPruningLatency *prometheus.HistogramVec
}

// NewPrometheus registers every collector against reg and returns a Sink.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	p := &Prometheus{
		batchWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "logpipe_batch_writes_total",
			Help: "Batch write attempts, by table, outcome and colo.",
		}, []string{"table", "outcome", "colo"}),
		batchWriteSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "logpipe_batch_write_size",
			Help:    "Row count of each flushed batch.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}, []string{"table"}),
		batchWriteLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "logpipe_batch_write_duration_ms",
			Help: "Duration of each flush attempt, in milliseconds.",
		}, []string{"table", "outcome"}),

		schemaMigrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "logpipe_schema_migrations_total",
			Help: "Schema migrations applied, by table and migration type.",
		}, []string{"table", "migration_type"}),
		schemaMigrationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "logpipe_schema_migration_duration_ms",
			Help: "Duration of each schema migration, in milliseconds.",
		}, []string{"table", "migration_type"}),

		dataPruning: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "logpipe_data_pruning_total",
			Help: "Retention prune runs, by table and outcome.",
		}, []string{"table", "outcome"}),
		dataPruningRows: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "logpipe_data_pruning_rows_deleted",
			Help:    "Rows deleted per prune run.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		}, []string{"table"}),
		dataPruningLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "logpipe_data_pruning_duration_ms",
			Help: "Duration of each prune run, in milliseconds.",
		}, []string{"table"}),
	}

	reg.MustRegister(
		p.batchWrites, p.batchWriteSize, p.batchWriteLatency,
		p.schemaMigrations, p.schemaMigrationLatency,
		p.dataPruning, p.dataPruningRows, p.dataPruningLatency,
	)
	return p
}

func (p *Prometheus) BatchWrite(tableName, outcome, colo string, batchSize int, duration float64) {
	p.batchWrites.WithLabelValues(tableName, outcome, colo).Inc()
	p.batchWriteSize.WithLabelValues(tableName).Observe(float64(batchSize))
	p.batchWriteLatency.WithLabelValues(tableName, outcome).Observe(duration)
}

func (p *Prometheus) SchemaMigration(tableName, migrationType, schemaHash, colo string, duration float64) {
	p.schemaMigrations.WithLabelValues(tableName, migrationType).Inc()
	p.schemaMigrationLatency.WithLabelValues(tableName, migrationType).Observe(duration)
}

func (p *Prometheus) DataPruning(tableName, outcome, colo string, rowsDeleted int, duration float64) {
	p.dataPruning.WithLabelValues(tableName, outcome).Inc()
	p.dataPruningRows.WithLabelValues(tableName).Observe(float64(rowsDeleted))
	p.dataPruningLatency.WithLabelValues(tableName).Observe(duration)
}
