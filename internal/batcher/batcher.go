// Package batcher implements the Batcher (§4.6): per-table in-memory
// buffers, flush-on-size / flush-on-alarm, concurrent multi-table flush,
// retry with dead-letter quarantine, and graceful shutdown drain.
//
// A Batcher is a durable, named, single-consumer accumulator: per spec
// §5, "addLog, alarm, runRetentionCheck and destructor never execute in
// true parallel on the same instance." This implementation does not run
// on a cooperative actor runtime, so per design note 9 it holds a
// per-table mutex across the claim+flush critical section instead.
package batcher

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/coffersTech/logpipe/internal/deadletter"
	"github.com/coffersTech/logpipe/internal/diagnostics"
	"github.com/coffersTech/logpipe/internal/logrecord"
	"github.com/coffersTech/logpipe/internal/metrics"
	"github.com/coffersTech/logpipe/internal/planner"
	"github.com/coffersTech/logpipe/internal/pruner"
	"github.com/coffersTech/logpipe/internal/schemamgr"
	"github.com/coffersTech/logpipe/internal/state"
	"github.com/coffersTech/logpipe/internal/store"
	"github.com/coffersTech/logpipe/internal/task"
)

// MaxRetries is the number of failed flush attempts a table's buffer
// tolerates before it is quarantined to the dead-letter store (§4.6
// step 5, property 4).
const MaxRetries = 3

// DefaultBatchIntervalMs and DefaultMaxBatchSize are the spec's documented
// defaults (§4.6 Configuration); Config.Normalize reverts to these when
// the configured value is non-positive or failed to parse.
const (
	DefaultBatchIntervalMs = 10_000
	DefaultMaxBatchSize    = 200
)

// Config holds the batcher's two tunables, parsed defensively by the
// caller (ParseConfig) from BATCH_INTERVAL_MS / MAX_BATCH_SIZE.
type Config struct {
	BatchIntervalMs int
	MaxBatchSize    int
}

// Normalize reverts non-positive fields to the documented defaults.
func (c Config) Normalize() Config {
	if c.BatchIntervalMs <= 0 {
		c.BatchIntervalMs = DefaultBatchIntervalMs
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = DefaultMaxBatchSize
	}
	return c
}

// ParseConfig reads BATCH_INTERVAL_MS / MAX_BATCH_SIZE out of getenv,
// defaulting defensively on a missing or non-numeric value (§4.6).
func ParseConfig(getenv func(string) string) Config {
	return Config{
		BatchIntervalMs: parseIntEnv(getenv("BATCH_INTERVAL_MS"), DefaultBatchIntervalMs),
		MaxBatchSize:    parseIntEnv(getenv("MAX_BATCH_SIZE"), DefaultMaxBatchSize),
	}.Normalize()
}

func parseIntEnv(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// Snapshot mirrors §3's BatcherInstanceState, the shape persisted to the
// diagnostics sink on every alarm.
type Snapshot struct {
	ID                  string            `json:"id"`
	Colo                string            `json:"colo"`
	BufferSizes         map[string]int    `json:"bufferSizes"`
	SchemaHashByTable   map[string]string `json:"schemaHashByTable"`
	LastPrunedByTable   map[string]int64  `json:"lastPrunedByTable"`
	FailureCountByTable map[string]int    `json:"failureCountByTable"`
	AlarmTime           int64             `json:"alarmTime"`
}

// Batcher is one named, durable accumulator (one per shard / one per
// pruner_<tableName> instance, per §4.5/§4.9).
type Batcher struct {
	id   string
	colo atomic.Pointer[string]

	cfg Config

	st      store.Store
	durable *state.InstanceStore
	schemas *schemamgr.Manager
	diag    diagnostics.Sink
	dlq     deadletter.Store
	met     metrics.Sink
	tasks   *task.Set

	mu           sync.Mutex
	batches      map[string][]logrecord.Record
	failureCount map[string]int
	plan         []*planner.CompiledRoute

	flushLocks sync.Map // tableName -> *sync.Mutex, held across claim+flush

	alarmMu sync.Mutex
	alarm   *time.Timer
}

// New constructs a Batcher named id. colo is filled in lazily from the
// first logged record's "colo" field, matching the spec's framing of
// colo as an edge-supplied tag rather than a constructor argument.
func New(id string, st store.Store, durable *state.InstanceStore, diag diagnostics.Sink, dlq deadletter.Store, met metrics.Sink, cfg Config) *Batcher {
	return &Batcher{
		id:           id,
		cfg:          cfg.Normalize(),
		st:           st,
		durable:      durable,
		schemas:      schemamgr.New(st, durable),
		diag:         diag,
		dlq:          dlq,
		met:          met,
		tasks:        &task.Set{},
		batches:      make(map[string][]logrecord.Record),
		failureCount: make(map[string]int),
	}
}

// ID returns the instance's name, used by the diagnostics key layout.
func (b *Batcher) ID() string { return b.id }

// SetLogPlan stores the compiled plan on the instance, required before
// any alarm-driven or pruner-driven flush can resolve a table's schema
// (§4.6 setLogPlan).
func (b *Batcher) SetLogPlan(plan []*planner.CompiledRoute) {
	b.mu.Lock()
	b.plan = plan
	b.mu.Unlock()
}

func (b *Batcher) routeFor(tableName string) (*planner.CompiledRoute, bool) {
	for _, r := range b.plan {
		if r.TableName == tableName {
			return r, true
		}
	}
	return nil, false
}

func (b *Batcher) firehoseTable() string {
	if len(b.plan) == 0 {
		return ""
	}
	return b.plan[0].TableName
}

func (b *Batcher) colorOf() string {
	if p := b.colo.Load(); p != nil {
		return *p
	}
	return ""
}

func (b *Batcher) noteColo(rec logrecord.Record) {
	if b.colo.Load() != nil {
		return
	}
	if c, ok := rec.GetString("colo"); ok && c != "" {
		b.colo.CompareAndSwap(nil, &c)
	}
}

// AddLog appends rec into every matched table's buffer, triggers an
// immediate fire-and-forget flush for any buffer that just reached
// MaxBatchSize, and (re)arms the alarm to now+BatchIntervalMs (§4.6
// addLog).
func (b *Batcher) AddLog(ctx context.Context, rec logrecord.Record, matchedTables []string) {
	b.noteColo(rec)

	b.mu.Lock()
	var toFlush []string
	for _, table := range matchedTables {
		b.batches[table] = append(b.batches[table], rec)
		if len(b.batches[table]) >= b.cfg.MaxBatchSize {
			toFlush = append(toFlush, table)
		}
	}
	b.mu.Unlock()

	for _, table := range toFlush {
		b.scheduleFlush(table)
	}
	b.armAlarm()
}

// scheduleFlush fires a flush in the background; an unhandled error must
// never fail the add that triggered it (§4.6 addLog, §7).
func (b *Batcher) scheduleFlush(tableName string) {
	b.tasks.Go(func() {
		ctx := context.Background()
		route, ok := b.routeForLocked(tableName)
		if !ok {
			log.Printf("[Batcher %s] size-triggered flush: no route for table %s in plan", b.id, tableName)
			return
		}
		if err := b.flush(ctx, tableName, route); err != nil {
			log.Printf("[Batcher %s] size-triggered flush of %s failed: %v", b.id, tableName, err)
		}
	})
}

func (b *Batcher) routeForLocked(tableName string) (*planner.CompiledRoute, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.routeFor(tableName)
}

// armAlarm (re)times the alarm to fire BatchIntervalMs from now. Setting
// an alarm while one is pending simply re-times it (§4.6).
func (b *Batcher) armAlarm() {
	b.alarmMu.Lock()
	defer b.alarmMu.Unlock()
	d := time.Duration(b.cfg.BatchIntervalMs) * time.Millisecond
	if b.alarm == nil {
		b.alarm = time.AfterFunc(d, func() { b.Alarm(context.Background()) })
		return
	}
	b.alarm.Reset(d)
}

// nonEmptyTables returns a snapshot of currently-buffered table names.
func (b *Batcher) nonEmptyTables() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for t, recs := range b.batches {
		if len(recs) > 0 {
			out = append(out, t)
		}
	}
	return out
}

// Alarm implements §4.6's alarm(): a fire-and-forget diagnostics
// snapshot, then a concurrent flush of every non-empty buffer whose
// route is known.
func (b *Batcher) Alarm(ctx context.Context) {
	b.emitSnapshot(ctx)

	b.mu.Lock()
	plan := b.plan
	b.mu.Unlock()
	if plan == nil {
		log.Printf("[Batcher %s] alarm fired with no log plan set; buffers retained", b.id)
		return
	}

	tables := b.nonEmptyTables()
	if len(tables) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, table := range tables {
		table := table
		route, ok := b.routeForLocked(table)
		if !ok {
			log.Printf("[Batcher %s] alarm: no route for table %s; buffer retained for retry", b.id, table)
			continue
		}
		g.Go(func() error {
			if err := b.flush(gctx, table, route); err != nil {
				log.Printf("[Batcher %s] alarm flush of %s failed: %v", b.id, table, err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Shutdown is the destructor's best-effort drain (§4.6): resolve routes
// for every non-empty buffer and flush concurrently, then wait for any
// outstanding fire-and-forget task up to ctx's deadline. No error
// propagates past this hook.
func (b *Batcher) Shutdown(ctx context.Context) {
	tables := b.nonEmptyTables()
	if len(tables) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		for _, table := range tables {
			table := table
			route, ok := b.routeForLocked(table)
			if !ok {
				continue
			}
			g.Go(func() error {
				if err := b.flush(gctx, table, route); err != nil {
					log.Printf("[Batcher %s] shutdown flush of %s failed: %v", b.id, table, err)
				}
				return nil
			})
		}
		_ = g.Wait()
	}
	if err := b.tasks.WaitContext(ctx); err != nil {
		log.Printf("[Batcher %s] shutdown: background tasks did not drain before deadline: %v", b.id, err)
	}
}

// flush is the heart of the component (§4.6 steps 1-6).
func (b *Batcher) flush(ctx context.Context, tableName string, route *planner.CompiledRoute) error {
	// The table's flush lock is held from before the claim until the
	// flush finishes, so two flushes of one table never overlap.
	l, _ := b.flushLocks.LoadOrStore(tableName, &sync.Mutex{})
	tableMu := l.(*sync.Mutex)
	tableMu.Lock()
	defer tableMu.Unlock()

	// Step 1: claim. The atomic swap is the first statement once the
	// table's flush lock is held, so no interleaved addLog observes a
	// half-cleared buffer.
	b.mu.Lock()
	batch := b.batches[tableName]
	b.batches[tableName] = nil
	b.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	start := time.Now()

	// Step 2: schema.
	outcome, err := b.schemas.Initialize(ctx, route)
	if err != nil {
		b.onFlushFailure(ctx, tableName, batch, err, time.Since(start))
		return fmt.Errorf("batcher: schema init for %s: %w", tableName, err)
	}
	if outcome.Ran {
		b.met.SchemaMigration(tableName, outcome.MigrationType, outcome.SchemaHash, b.colorOf(), float64(outcome.Duration.Milliseconds()))
	}

	// Step 3: build & submit.
	cols := route.Schema.Names()
	stmts := make([]store.Statement, 0, len(batch))
	sql := buildInsertSQL(tableName, cols)
	for _, rec := range batch {
		args := make([]any, len(cols))
		for i, c := range cols {
			args[i] = rec[c]
		}
		stmts = append(stmts, store.Bind(b.st.Prepare(sql), args...))
	}

	_, err = b.st.Batch(ctx, stmts)
	durationMs := float64(time.Since(start).Milliseconds())

	if err != nil {
		b.onFlushFailure(ctx, tableName, batch, err, time.Since(start))
		b.met.BatchWrite(tableName, "failure", b.colorOf(), len(batch), durationMs)
		return fmt.Errorf("batcher: store batch write for %s: %w", tableName, err)
	}

	// Step 4: outcome success.
	b.mu.Lock()
	b.failureCount[tableName] = 0
	b.mu.Unlock()

	if tableName == b.firehoseTable() {
		lastRecord := batch[len(batch)-1]
		b.tasks.Go(func() {
			if err := b.diag.PutLastFirehoseBatch(context.Background(), batch); err != nil {
				log.Printf("[Batcher %s] diagnostics PutLastFirehoseBatch failed: %v", b.id, err)
			}
		})
		b.tasks.Go(func() {
			if err := b.diag.PutLastFirehoseEvent(context.Background(), lastRecord); err != nil {
				log.Printf("[Batcher %s] diagnostics PutLastFirehoseEvent failed: %v", b.id, err)
			}
		})
	}
	b.met.BatchWrite(tableName, "success", b.colorOf(), len(batch), durationMs)
	return nil
}

// onFlushFailure implements §4.6 step 5: push a failed-batch diagnostics
// payload, bump the failure counter, and either dead-letter or
// FIFO-prepend the batch for another attempt.
func (b *Batcher) onFlushFailure(ctx context.Context, tableName string, batch []logrecord.Record, flushErr error, _ time.Duration) {
	errMsg := flushErr.Error()
	b.tasks.Go(func() {
		payload := diagnostics.FailedBatch{
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			TableName: tableName,
			Error:     errMsg,
			Batch:     batch,
		}
		if err := b.diag.PutFailedBatch(context.Background(), payload); err != nil {
			log.Printf("[Batcher %s] diagnostics PutFailedBatch failed: %v", b.id, err)
		}
	})

	b.mu.Lock()
	b.failureCount[tableName]++
	reachedMax := b.failureCount[tableName] >= MaxRetries
	if reachedMax {
		b.failureCount[tableName] = 0
	} else {
		// Prepend the failed batch so older records stay ahead of
		// whatever addLog appended to batches[T] while we were flushing
		// (property 3: FIFO within a table across retries).
		b.batches[tableName] = append(append([]logrecord.Record{}, batch...), b.batches[tableName]...)
	}
	b.mu.Unlock()

	if !reachedMax {
		return
	}

	key := fmt.Sprintf("deadletter_%s_%s", tableName, time.Now().UTC().Format(time.RFC3339Nano))
	if err := b.dlq.Put(ctx, key, tableName, errMsg, batch); err != nil {
		log.Printf("[Batcher %s] dead-letter write for %s failed, batch is lost: %v", b.id, tableName, err)
	}
}

// emitSnapshot is the alarm's fire-and-forget state snapshot and
// liveness registration (§4.6 alarm step a).
func (b *Batcher) emitSnapshot(ctx context.Context) {
	snap := b.buildSnapshot(ctx)
	colo := b.colorOf()
	b.tasks.Go(func() {
		bg := context.Background()
		if err := b.diag.PutState(bg, b.id, snap); err != nil {
			log.Printf("[Batcher %s] diagnostics PutState failed: %v", b.id, err)
		}
		if err := b.diag.PutActive(bg, b.id, colo); err != nil {
			log.Printf("[Batcher %s] diagnostics PutActive failed: %v", b.id, err)
		}
	})
}

func (b *Batcher) buildSnapshot(ctx context.Context) Snapshot {
	b.mu.Lock()
	bufferSizes := make(map[string]int, len(b.batches))
	for t, recs := range b.batches {
		bufferSizes[t] = len(recs)
	}
	failureCounts := make(map[string]int, len(b.failureCount))
	for t, n := range b.failureCount {
		failureCounts[t] = n
	}
	plan := b.plan
	b.mu.Unlock()

	schemaHashes := make(map[string]string)
	lastPruned := make(map[string]int64)
	for _, r := range plan {
		if hash, ok, err := b.durable.SchemaHash(ctx, r.TableName); err == nil && ok {
			schemaHashes[r.TableName] = hash
		}
		if lp, err := b.durable.LastPruned(ctx, r.TableName); err == nil && lp > 0 {
			lastPruned[r.TableName] = lp
		}
	}

	return Snapshot{
		ID:                  b.id,
		Colo:                b.colorOf(),
		BufferSizes:         bufferSizes,
		SchemaHashByTable:   schemaHashes,
		LastPrunedByTable:   lastPruned,
		FailureCountByTable: failureCounts,
		AlarmTime:           time.Now().Add(time.Duration(b.cfg.BatchIntervalMs) * time.Millisecond).UnixMilli(),
	}
}

// pruningIntervalElapsed reports whether now-lastPruned exceeds the
// route's pruning interval (§4.6 runRetentionCheck).
func pruningIntervalElapsed(now, lastPruned int64, pruningIntervalDays int) bool {
	return now-lastPruned > int64(pruningIntervalDays)*86_400_000
}

// RunRetentionCheck implements §4.6 runRetentionCheck / §4.8: if the
// route's pruning interval has elapsed since lastPruned, ensure the
// table's schema is initialized, run the pruner, and on success persist
// the new lastPruned timestamp.
func (b *Batcher) RunRetentionCheck(ctx context.Context, route *planner.CompiledRoute) error {
	lastPruned, err := b.durable.LastPruned(ctx, route.TableName)
	if err != nil {
		return fmt.Errorf("batcher: read lastPruned for %s: %w", route.TableName, err)
	}
	now := time.Now().UnixMilli()
	if !pruningIntervalElapsed(now, lastPruned, route.PruningIntervalDays) {
		return nil
	}

	if _, err := b.schemas.Initialize(ctx, route); err != nil {
		return fmt.Errorf("batcher: schema init before pruning %s: %w", route.TableName, err)
	}

	start := time.Now()
	rowsDeleted, pruneErr := pruner.PruneTable(ctx, b.st, route.TableName, route.RetentionDays)
	durationMs := float64(time.Since(start).Milliseconds())
	colo := b.colorOf()

	if pruneErr != nil {
		b.met.DataPruning(route.TableName, "failure", colo, 0, durationMs)
		return fmt.Errorf("batcher: prune %s: %w", route.TableName, pruneErr)
	}

	if err := b.durable.PutLastPruned(ctx, route.TableName, now); err != nil {
		return fmt.Errorf("batcher: persist lastPruned for %s: %w", route.TableName, err)
	}

	b.met.DataPruning(route.TableName, "success", colo, int(rowsDeleted), durationMs)
	b.tasks.Go(func() {
		entry := diagnostics.PruningEntry{
			LastPrunedTimestamp: time.Now().UTC().Format(time.RFC3339Nano),
			LastRowsDeleted:     rowsDeleted,
			LastPruneDurationMs: int64(durationMs),
		}
		if err := b.diag.PutPruningSummary(context.Background(), route.TableName, entry); err != nil {
			log.Printf("[Batcher %s] diagnostics PutPruningSummary failed: %v", b.id, err)
		}
	})
	return nil
}

func buildInsertSQL(tableName string, cols []string) string {
	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = "?"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", tableName, joinCols(cols), joinCols(placeholders))
}

func joinCols(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}
