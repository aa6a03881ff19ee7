// Package entrypoint is the caller-facing surface (§4.9): logging a
// request is fire-and-forget from the caller's point of view, and
// scheduled pruning walks the compiled plan once per cron tick.
// Background-task draining on shutdown is grounded on the teacher's
// cmd/nanolog/main.go, which paired IngestServer.Shutdown(ctx) with
// QueryEngine.Flush() so in-flight work finished before process exit;
// here internal/task.Set plays the same role for every fire-and-forget
// call this package and the batcher register with it.
package entrypoint

import (
	"context"
	"log"
	"time"

	"github.com/coffersTech/logpipe/internal/assembler"
	"github.com/coffersTech/logpipe/internal/filter"
	"github.com/coffersTech/logpipe/internal/logrecord"
	"github.com/coffersTech/logpipe/internal/planner"
	"github.com/coffersTech/logpipe/internal/shard"
	"github.com/coffersTech/logpipe/internal/task"
)

// Entrypoint holds the compiled plan and every collaborator a caller's
// Log call or cron's scheduled pruning needs.
type Entrypoint struct {
	plan       []*planner.CompiledRoute
	dispatcher *shard.Dispatcher
	asmCfg     assembler.Config
	env        assembler.Env
	tasks      *task.Set
}

// New builds an Entrypoint over a compiled plan and dispatcher. env is
// the sanitized environment snapshot every assembled record carries
// (§4.4.9).
func New(plan []*planner.CompiledRoute, dispatcher *shard.Dispatcher, asmCfg assembler.Config, env assembler.Env) *Entrypoint {
	return &Entrypoint{plan: plan, dispatcher: dispatcher, asmCfg: asmCfg, env: env, tasks: &task.Set{}}
}

// matchedTables evaluates every compiled route's predicate against req
// and returns the table names whose predicate matched.
func (e *Entrypoint) matchedTables(req *filter.Request) []string {
	var tables []string
	for _, route := range e.plan {
		if route.Predicate(req) {
			tables = append(tables, route.TableName)
		}
	}
	return tables
}

// Log assembles req (plus optional caller data) into a record and
// dispatches it to the matching batcher instances, entirely
// fire-and-forget: callers never block on storage.
func (e *Entrypoint) Log(ctx context.Context, req *filter.Request, data any) {
	workerStart := time.Now()
	e.tasks.Go(func() {
		tables := e.matchedTables(req)
		if len(tables) == 0 {
			return
		}
		rec := assembler.Assemble(req, data, e.env, e.asmCfg, workerStart)
		e.dispatcher.Dispatch(ctx, rec, tables, e.plan)
	})
}

// GetLogData synchronously assembles req into a record without
// dispatching it anywhere — useful for callers who want to inspect or
// transform the record themselves before it is logged.
func (e *Entrypoint) GetLogData(req *filter.Request, data any) logrecord.Record {
	return assembler.Assemble(req, data, e.env, e.asmCfg, time.Now())
}

// RunScheduledPruning walks every route in the plan that participates
// in retention, running its retention check against a dedicated
// pruner_<tableName> batcher instance (§4.9 cron wiring: "Entrypoint.scheduled
// → Batcher.runRetentionCheck → Pruner").
func (e *Entrypoint) RunScheduledPruning(ctx context.Context) {
	for _, route := range e.plan {
		if !route.HasRetention() {
			continue
		}
		route := route
		inst := e.dispatcher.Named("pruner_" + route.TableName)
		inst.SetLogPlan(e.plan)
		if err := inst.RunRetentionCheck(ctx, route); err != nil {
			log.Printf("[entrypoint] retention check failed for %s: %v", route.TableName, err)
		}
	}
}

// Shutdown drains every outstanding fire-and-forget task, then drains
// every batcher instance the dispatcher has created, within ctx's
// deadline.
func (e *Entrypoint) Shutdown(ctx context.Context) error {
	if err := e.tasks.WaitContext(ctx); err != nil {
		return err
	}
	for _, inst := range e.dispatcher.All() {
		inst.Shutdown(ctx)
	}
	return nil
}
