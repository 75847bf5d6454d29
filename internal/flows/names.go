package flows

import (
	"regexp"
	"strings"
)

const affixSeparator = `\s*[-–—|]\s*`

// CleanScreenName strips one flow-name affix from a screen name so sidebar
// labels are not redundant with their flow grouping. A trailing affix is tried
// before a leading one. The raw name is returned when nothing matches or when
// stripping would leave it empty.
//
// Only one affix is stripped per call, so a name carrying the flow twice
// ("Checkout - Checkout - Payment") keeps one copy and a second call strips
// it. Any separator character counts, including a bare hyphen inside a
// compound word: "Pre-Checkout" in flow "Checkout" becomes "Pre".
func CleanScreenName(name, flow string) string {
	flow = strings.TrimSpace(flow)
	if flow == "" || name == "" {
		return name
	}
	quoted := regexp.QuoteMeta(flow)

	trailing := regexp.MustCompile(`(?i)` + affixSeparator + quoted + `\s*$`)
	if loc := trailing.FindStringIndex(name); loc != nil {
		if cleaned := strings.TrimSpace(name[:loc[0]]); cleaned != "" {
			return cleaned
		}
		return name
	}

	leading := regexp.MustCompile(`(?i)^\s*` + quoted + affixSeparator)
	if loc := leading.FindStringIndex(name); loc != nil {
		if cleaned := strings.TrimSpace(name[loc[1]:]); cleaned != "" {
			return cleaned
		}
	}
	return name
}
