// Package schema defines the master field catalog shared by every
// compiled route: column names, SQL types, constraints and which
// columns carry an index.
package schema

// Type is the SQL-ish type of a column as declared in the master schema.
type Type string

const (
	TypeText     Type = "TEXT"
	TypeInteger  Type = "INTEGER"
	TypeBoolean  Type = "BOOLEAN"
	TypeDateTime Type = "DATETIME"
)

// Column is one entry of an ordered schema. Order is authoritative: it
// drives both INSERT column order and the schema fingerprint.
type Column struct {
	Name        string
	Type        Type
	Constraints string // e.g. "PRIMARY KEY", empty for none
	Indexed     bool
}

// Schema is an ordered list of columns. Insertion order matters.
type Schema []Column

// ByName returns the column with the given name and whether it exists.
func (s Schema) ByName(name string) (Column, bool) {
	for _, c := range s {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Names returns the ordered column names.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, c := range s {
		names[i] = c.Name
	}
	return names
}

// Master is the fixed ~55-field catalog every LogRecord draws from.
// logId is the primary key; rayId, fpID, connectionHash, receivedAt and
// geoId are indexed per the row layout contract.
var Master = Schema{
	{Name: "logId", Type: TypeText, Constraints: "PRIMARY KEY"},
	{Name: "rayId", Type: TypeText, Indexed: true},
	{Name: "fpID", Type: TypeText, Indexed: true},
	{Name: "deviceHash", Type: TypeText},
	{Name: "connectionHash", Type: TypeText, Indexed: true},
	{Name: "tlsHash", Type: TypeText},

	{Name: "requestTime", Type: TypeInteger},
	{Name: "receivedAt", Type: TypeDateTime, Indexed: true},
	{Name: "processedAt", Type: TypeDateTime},
	{Name: "processingDurationMs", Type: TypeInteger},
	{Name: "clientTcpRtt", Type: TypeInteger},

	{Name: "sample10", Type: TypeInteger},
	{Name: "sample100", Type: TypeInteger},

	{Name: "url", Type: TypeText},
	{Name: "urlProtocol", Type: TypeText},
	{Name: "urlHostname", Type: TypeText},
	{Name: "urlPathname", Type: TypeText},
	{Name: "urlSearch", Type: TypeText},
	{Name: "method", Type: TypeText},
	{Name: "headers", Type: TypeText},
	{Name: "body", Type: TypeText},
	{Name: "bodyTruncated", Type: TypeBoolean},
	{Name: "mime", Type: TypeText},
	{Name: "contentLength", Type: TypeInteger},
	{Name: "bodySize", Type: TypeInteger},

	{Name: "cookies", Type: TypeText},
	{Name: "cId", Type: TypeText},
	{Name: "sId", Type: TypeText},
	{Name: "eId", Type: TypeText},
	{Name: "uID", Type: TypeText},
	{Name: "emID", Type: TypeText},
	{Name: "emA", Type: TypeText},

	{Name: "asn", Type: TypeInteger},
	{Name: "colo", Type: TypeText},
	{Name: "country", Type: TypeText},
	{Name: "region", Type: TypeText},
	{Name: "regionCode", Type: TypeText},
	{Name: "city", Type: TypeText},
	{Name: "postalCode", Type: TypeText},
	{Name: "continent", Type: TypeText},
	{Name: "latitude", Type: TypeText},
	{Name: "longitude", Type: TypeText},
	{Name: "timezone", Type: TypeText},
	{Name: "httpProtocol", Type: TypeText},
	{Name: "tlsCipher", Type: TypeText},
	{Name: "tlsVersion", Type: TypeText},
	{Name: "tlsClientRandom", Type: TypeText},
	{Name: "ja3", Type: TypeText},
	{Name: "threatScore", Type: TypeInteger},
	{Name: "botScore", Type: TypeInteger},
	{Name: "verifiedBot", Type: TypeBoolean},
	{Name: "corporateProxy", Type: TypeBoolean},
	{Name: "tlsClientAuth", Type: TypeText},

	{Name: "geoId", Type: TypeText, Indexed: true},
	{Name: "deviceType", Type: TypeText},

	{Name: "env", Type: TypeText},
	{Name: "data", Type: TypeText},
}

// Subset builds an ordered schema containing only the named columns, in
// Master's order. An unknown name is reported via ok=false so the caller
// can raise a ConfigError.
func Subset(names []string) (Schema, bool) {
	if names == nil {
		return Master, true
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	out := make(Schema, 0, len(names))
	found := 0
	for _, c := range Master {
		if want[c.Name] {
			out = append(out, c)
			found++
		}
	}
	if found != len(want) {
		return nil, false
	}
	return out, true
}
