package filter

import "strings"

// ValueType is the declared type of a filterable field.
type ValueType int

const (
	TypeString ValueType = iota
	TypeNumber
	TypeBoolean
)

// Operator names accepted by the filter compiler (§4.1).
const (
	OpExists       = "exists"
	OpDoesNotExist = "doesNotExist"
	OpEquals       = "equals"
	OpContains     = "contains"
	OpStartsWith   = "startsWith"
	OpEndsWith     = "endsWith"
	OpGreaterThan  = "greaterThan"
	OpLessThan     = "lessThan"
)

// validOperatorsByType lists which operators may be compiled against a
// field of the given declared type. exists/doesNotExist are universal.
var validOperatorsByType = map[ValueType]map[string]bool{
	TypeString: {
		OpExists: true, OpDoesNotExist: true, OpEquals: true,
		OpContains: true, OpStartsWith: true, OpEndsWith: true,
	},
	TypeNumber: {
		OpExists: true, OpDoesNotExist: true, OpEquals: true,
		OpGreaterThan: true, OpLessThan: true,
	},
	TypeBoolean: {
		OpExists: true, OpDoesNotExist: true, OpEquals: true,
	},
}

// OperatorValidForType reports whether op may be applied to a field
// declared with the given type.
func OperatorValidForType(op string, t ValueType) bool {
	return validOperatorsByType[t][op]
}

// evalString evaluates a string operator. subject is nil when the field
// was absent; exists→false, doesNotExist→true, everything else→false.
func evalString(op string, subject *string, literal string) bool {
	if subject == nil {
		return op == OpDoesNotExist
	}
	switch op {
	case OpExists:
		return true
	case OpDoesNotExist:
		return false
	case OpEquals:
		return *subject == literal
	case OpContains:
		return strings.Contains(*subject, literal)
	case OpStartsWith:
		return strings.HasPrefix(*subject, literal)
	case OpEndsWith:
		return strings.HasSuffix(*subject, literal)
	default:
		return false
	}
}

func evalNumber(op string, subject *float64, literal float64) bool {
	if subject == nil {
		return op == OpDoesNotExist
	}
	switch op {
	case OpExists:
		return true
	case OpDoesNotExist:
		return false
	case OpEquals:
		return *subject == literal
	case OpGreaterThan:
		return *subject > literal
	case OpLessThan:
		return *subject < literal
	default:
		return false
	}
}

func evalBoolean(op string, subject *bool, literal bool) bool {
	if subject == nil {
		return op == OpDoesNotExist
	}
	switch op {
	case OpExists:
		return true
	case OpDoesNotExist:
		return false
	case OpEquals:
		return *subject == literal
	default:
		return false
	}
}
