package assembler

import (
	"strings"

	"github.com/coffersTech/logpipe/internal/filter"
)

// geoID joins the non-empty geographic components with '-' (§4.4.6); an
// all-empty set of components yields nil, not an empty string.
func geoID(cf filter.CF) *string {
	parts := []string{cf.Continent, cf.Country, cf.RegionCode, cf.City, cf.PostalCode}
	nonEmpty := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	if len(nonEmpty) == 0 {
		return nil
	}
	s := strings.Join(nonEmpty, "-")
	return &s
}
