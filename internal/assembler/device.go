package assembler

import "regexp"

// Device classification regexes (§4.4.5): mobile checked first, then
// tablet, otherwise desktop. Missing UA maps to null. An android UA that
// also says "mobile" is already caught by the mobile regex, so the tablet
// regex matches any remaining android UA.
var (
	mobileUARe = regexp.MustCompile(`(?i)mobile|iphone|ipod|android.*mobile|windows phone`)
	tabletUARe = regexp.MustCompile(`(?i)tablet|ipad|android`)
)

func classifyDevice(userAgent string) *string {
	if userAgent == "" {
		return nil
	}
	var kind string
	switch {
	case mobileUARe.MatchString(userAgent):
		kind = "mobile"
	case tabletUARe.MatchString(userAgent):
		kind = "tablet"
	default:
		kind = "desktop"
	}
	return &kind
}
