package query

import "strings"

// Matchable is anything the query DSL can filter: a dead-letter entry
// exposes its table, the error that dead-lettered it, and the
// timestamp it was written.
type Matchable interface {
	GetTableName() string
	GetError() string
	GetTimestamp() string
}

// Match evaluates node against m. A nil node matches everything, so
// Parse("") plus Match(nil, m) is a no-op filter.
func Match(node Node, m Matchable) bool {
	if node == nil {
		return true
	}
	switch n := node.(type) {
	case BinaryExpr:
		return evalBinary(n, m)
	case MatchExpr:
		return evalMatch(n, m)
	case NotExpr:
		return !Match(n.Expr, m)
	default:
		return false
	}
}

func evalBinary(expr BinaryExpr, m Matchable) bool {
	left := Match(expr.Left, m)
	right := Match(expr.Right, m)
	switch expr.Op {
	case "AND":
		return left && right
	case "OR":
		return left || right
	default:
		return false
	}
}

func evalMatch(expr MatchExpr, m Matchable) bool {
	if expr.Key == "" {
		return matchFullText(expr.Value, m)
	}

	fieldValue := getFieldValue(expr.Key, m)
	// On the error field key:value is a case-insensitive substring match
	// (error:timeout matches "connection timeout"); on every other field
	// it is a case-insensitive equality.
	matches := matchEqual
	if k := strings.ToLower(expr.Key); k == "error" || k == "err" {
		matches = containsIgnoreCase
	}
	switch expr.Op {
	case "=":
		return matches(fieldValue, expr.Value)
	case "!=":
		return !matches(fieldValue, expr.Value)
	case "CONTAINS":
		return containsIgnoreCase(fieldValue, expr.Value)
	default:
		return matches(fieldValue, expr.Value)
	}
}

func getFieldValue(key string, m Matchable) string {
	switch strings.ToLower(key) {
	case "table", "tablename":
		return m.GetTableName()
	case "error", "err":
		return m.GetError()
	case "timestamp", "ts":
		return m.GetTimestamp()
	default:
		return ""
	}
}

func matchEqual(fieldValue, queryValue string) bool {
	return strings.EqualFold(fieldValue, queryValue)
}

func containsIgnoreCase(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func matchFullText(query string, m Matchable) bool {
	q := strings.ToLower(query)
	fields := []string{m.GetTableName(), m.GetError(), m.GetTimestamp()}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), q) {
			return true
		}
	}
	return false
}
