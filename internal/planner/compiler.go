package planner

import (
	"encoding/json"
	"fmt"

	"github.com/coffersTech/logpipe/internal/filter"
	"github.com/coffersTech/logpipe/internal/schema"
)

// FirehoseConfig is the environment-sourced configuration for the
// mandatory firehose route (§4.3 step 1, §6 LOG_HOSE_* surface).
type FirehoseConfig struct {
	TableName           string
	Filter              json.RawMessage
	RetentionDays       int
	PruningIntervalDays int
}

// Compile builds the ordered plan: the firehose route at index 0,
// followed by the user routes in declaration order (§4.3). Compilation
// happens once per process start; the returned plan is immutable.
func Compile(firehose FirehoseConfig, userRoutes []RouteConfig) ([]*CompiledRoute, error) {
	plan := make([]*CompiledRoute, 0, 1+len(userRoutes))

	firehoseRoute, err := compileOne(RouteConfig{
		TableName:           firehose.TableName,
		Filter:              firehose.Filter,
		RetentionDays:       firehose.RetentionDays,
		PruningIntervalDays: firehose.PruningIntervalDays,
	}, schema.Master)
	if err != nil {
		return nil, fmt.Errorf("planner: firehose route: %w", err)
	}
	plan = append(plan, firehoseRoute)

	for i, rc := range userRoutes {
		full := schema.Master
		if rc.Columns != nil {
			var ok bool
			full, ok = schema.Subset(rc.Columns)
			if !ok {
				return nil, &filter.ConfigError{Route: rc.TableName, Message: "route declares an unknown column"}
			}
		}
		route, err := compileOne(rc, full)
		if err != nil {
			return nil, fmt.Errorf("planner: user route %d: %w", i, err)
		}
		plan = append(plan, route)
	}
	return plan, nil
}

// compileOne builds one CompiledRoute. Filter compile failures degrade to
// deny-all (§4.2) rather than failing the whole plan; every other defect
// (missing tableName, unknown column) is a hard ConfigError that fails
// plan compilation (§7).
func compileOne(rc RouteConfig, sub schema.Schema) (*CompiledRoute, error) {
	if rc.TableName == "" {
		return nil, &filter.ConfigError{Message: "missing tableName"}
	}

	groups, err := filter.ParseGroups(rc.Filter)
	if err != nil {
		return nil, fmt.Errorf("route %s: %w", rc.TableName, err)
	}

	return &CompiledRoute{
		TableName:           rc.TableName,
		Predicate:           filter.CompileOrDenyAll(rc.TableName, groups),
		Schema:              sub,
		SchemaHash:          schema.Fingerprint(sub),
		RetentionDays:       rc.RetentionDays,
		PruningIntervalDays: rc.PruningIntervalDays,
	}, nil
}
