package filter

import "encoding/json"

// ParseGroups decodes the wire form of a route filter — a nullable JSON
// array of rule groups, each group a `{fieldKey: {operator: literal}}`
// map — into compiler-ready Groups. A malformed filter is itself a
// ConfigError (§7).
func ParseGroups(raw json.RawMessage) ([]Group, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var wire []map[string]map[string]any
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, &ConfigError{Message: "malformed filter JSON: " + err.Error()}
	}
	groups := make([]Group, 0, len(wire))
	for _, groupMap := range wire {
		group := make(Group, 0, len(groupMap))
		for fieldKey, opLiteral := range groupMap {
			for op, literal := range opLiteral {
				group = append(group, Rule{FieldKey: fieldKey, Operator: op, Literal: literal})
			}
		}
		groups = append(groups, group)
	}
	return groups, nil
}
