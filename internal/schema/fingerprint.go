package schema

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/zeebo/xxh3"
)

// Fingerprint computes the deterministic 16-character schema hash over the
// ordered {name,type,constraints,indexed} tuples. Order matters: two
// schemas with the same columns in different order hash differently, by
// design — schema subset order is itself part of the route's identity.
func Fingerprint(s Schema) string {
	var b strings.Builder
	for _, c := range s {
		b.WriteString(c.Name)
		b.WriteByte('\x1f')
		b.WriteString(string(c.Type))
		b.WriteByte('\x1f')
		b.WriteString(c.Constraints)
		b.WriteByte('\x1f')
		b.WriteString(strconv.FormatBool(c.Indexed))
		b.WriteByte('\x1e')
	}
	sum := xxh3.HashString(b.String())
	return fmt.Sprintf("%016x", sum)
}
