package filter

import (
	"fmt"
	"log"
)

// ConfigError reports an invalid route or filter definition detected at
// plan-compile time (§7).
type ConfigError struct {
	Route   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("filter: route %q: %s", e.Route, e.Message)
}

// Predicate evaluates a request against a compiled filter.
type Predicate func(r *Request) bool

// AlwaysTrue is the predicate for an empty/nil filter (§4.2).
func AlwaysTrue(*Request) bool { return true }

// alwaysFalse is the deny-all predicate substituted for a route whose
// filter failed to compile, so one bad route never takes the rest of the
// plan down with it (§4.2, §7 FilterCompileError).
func alwaysFalse(*Request) bool { return false }

// Rule is one `{fieldKey: {operator: literal}}` entry.
type Rule struct {
	FieldKey string
	Operator string
	Literal  any
}

// Group is a set of rules, conjoined (AND).
type Group []Rule

// Compile compiles a nullable list of rule groups into a predicate.
// Groups are disjoined (OR). A structural error returns a non-nil error;
// CompileOrDenyAll wraps Compile for callers, such as the Log Plan
// Compiler, that want the §4.2 "degrade to deny-all and keep serving"
// behavior instead.
func Compile(routeName string, groups []Group) (Predicate, error) {
	if len(groups) == 0 {
		return AlwaysTrue, nil
	}
	compiledGroups := make([]Predicate, 0, len(groups))
	for _, g := range groups {
		p, err := compileGroup(routeName, g)
		if err != nil {
			return nil, err
		}
		compiledGroups = append(compiledGroups, p)
	}
	return func(r *Request) bool {
		parsedOnce := r.ParsedURL() // force single parse before any accessor runs
		_ = parsedOnce
		for _, g := range compiledGroups {
			if g(r) {
				return true
			}
		}
		return false
	}, nil
}

// CompileOrDenyAll behaves like Compile but never returns an error: on
// failure it logs and returns the deny-all predicate, satisfying §4.2's
// "a compile failure MUST produce a deny-all predicate... and MUST log
// the error" requirement.
func CompileOrDenyAll(routeName string, groups []Group) Predicate {
	p, err := Compile(routeName, groups)
	if err != nil {
		log.Printf("[FilterCompiler] FATAL route=%s: %v", routeName, err)
		return alwaysFalse
	}
	return p
}

func compileGroup(routeName string, g Group) (Predicate, error) {
	type ruleFn func(r *Request) bool
	fns := make([]ruleFn, 0, len(g))
	for _, rule := range g {
		fn, err := compileRule(routeName, rule)
		if err != nil {
			return nil, err
		}
		fns = append(fns, fn)
	}
	return func(r *Request) bool {
		for _, fn := range fns {
			if !fn(r) {
				return false
			}
		}
		return true
	}, nil
}

func compileRule(routeName string, rule Rule) (func(r *Request) bool, error) {
	acc, ok := resolveAccessor(rule.FieldKey)
	if !ok {
		return nil, &ConfigError{Route: routeName, Message: fmt.Sprintf("unknown filter field %q", rule.FieldKey)}
	}
	if !OperatorValidForType(rule.Operator, acc.Type) {
		return nil, &ConfigError{Route: routeName, Message: fmt.Sprintf("operator %q not valid for field %q", rule.Operator, rule.FieldKey)}
	}

	// exists/doesNotExist are universal (§4.1) and consume no literal —
	// bind the accessor's presence check directly, before the
	// type-specific literal switch below ever looks at rule.Literal.
	if rule.Operator == OpExists || rule.Operator == OpDoesNotExist {
		wantPresent := rule.Operator == OpExists
		switch acc.Type {
		case TypeString:
			getter := acc.String
			return func(r *Request) bool { return (getter(r) != nil) == wantPresent }, nil
		case TypeNumber:
			getter := acc.Number
			return func(r *Request) bool { return (getter(r) != nil) == wantPresent }, nil
		case TypeBoolean:
			getter := acc.Bool
			return func(r *Request) bool { return (getter(r) != nil) == wantPresent }, nil
		}
	}

	switch acc.Type {
	case TypeString:
		lit, ok := rule.Literal.(string)
		if !ok {
			return nil, &ConfigError{Route: routeName, Message: fmt.Sprintf("field %q expects a string literal", rule.FieldKey)}
		}
		getter, op := acc.String, rule.Operator
		return func(r *Request) bool { return evalString(op, getter(r), lit) }, nil
	case TypeNumber:
		lit, ok := toFloat(rule.Literal)
		if !ok {
			return nil, &ConfigError{Route: routeName, Message: fmt.Sprintf("field %q expects a numeric literal", rule.FieldKey)}
		}
		getter, op := acc.Number, rule.Operator
		return func(r *Request) bool { return evalNumber(op, getter(r), lit) }, nil
	case TypeBoolean:
		lit, ok := rule.Literal.(bool)
		if !ok {
			return nil, &ConfigError{Route: routeName, Message: fmt.Sprintf("field %q expects a boolean literal", rule.FieldKey)}
		}
		getter, op := acc.Bool, rule.Operator
		return func(r *Request) bool { return evalBoolean(op, getter(r), lit) }, nil
	default:
		return nil, &ConfigError{Route: routeName, Message: fmt.Sprintf("field %q has unknown type", rule.FieldKey)}
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
