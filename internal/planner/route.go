// Package planner turns a declarative routing configuration into the
// immutable, per-process compiled plan the rest of the pipeline runs
// against (§4.3).
package planner

import (
	"encoding/json"

	"github.com/coffersTech/logpipe/internal/filter"
	"github.com/coffersTech/logpipe/internal/schema"
)

// RouteConfig is the wire shape of one user-declared route.
type RouteConfig struct {
	TableName           string          `json:"tableName"`
	Filter              json.RawMessage `json:"filter,omitempty"`
	Columns             []string        `json:"columns,omitempty"`
	RetentionDays       int             `json:"retentionDays,omitempty"`
	PruningIntervalDays int             `json:"pruningIntervalDays,omitempty"`
}

// CompiledRoute is the immutable, compiled form of a route the rest of
// the pipeline consumes. Created once per process start and shared
// read-only thereafter.
type CompiledRoute struct {
	TableName           string
	Predicate           filter.Predicate
	Schema              schema.Schema
	SchemaHash          string
	RetentionDays       int
	PruningIntervalDays int
}

// HasRetention reports whether this route participates in cron-driven
// pruning (§4.9: both retentionDays and pruningIntervalDays must be set).
func (c *CompiledRoute) HasRetention() bool {
	return c.RetentionDays > 0 && c.PruningIntervalDays > 0
}
