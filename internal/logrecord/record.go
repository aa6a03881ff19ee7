// Package logrecord defines the flat field-map produced by the Log
// Assembler and consumed by the Batcher and Schema Manager.
package logrecord

import "time"

// TimestampLayout is the fixed-width layout every receivedAt value (and
// anything compared against it, like the pruner's cutoff) is formatted
// with. time.RFC3339Nano trims trailing fractional-second zeros, which
// breaks plain lexicographic comparison at sub-second boundaries
// (e.g. "...00.5Z" would sort before "...00Z"); the fixed nine-digit
// fractional part here keeps two stamps comparable as strings.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// FormatTimestamp renders t in UTC using TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Record is a flat mapping from master-schema field name to value. Values
// are string, int64, bool, or nil. Structured fields (headers, cookies,
// bot-management data, caller data) are stored pre-serialized as JSON
// strings, matching the wire shape of the store's TEXT columns.
type Record map[string]any

// New returns an empty record.
func New() Record {
	return make(Record, 64)
}

// Clone returns a shallow copy. Records are copied by value between the
// assembler and each matched batch so that later field changes in one
// buffer (there should be none) can never leak into another.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func (r Record) GetString(key string) (string, bool) {
	v, ok := r[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (r Record) GetInt64(key string) (int64, bool) {
	v, ok := r[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	}
	return 0, false
}

func (r Record) GetBool(key string) (bool, bool) {
	v, ok := r[key]
	if !ok || v == nil {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}
