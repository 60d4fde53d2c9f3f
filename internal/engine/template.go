package engine

import (
	"regexp"
	"strings"
)

var tokenPattern = regexp.MustCompile(`\{\{\s*([\w.]+)\s*\}\}`)

// renderTokens substitutes {{var}} and {{nested.path}} tokens against the
// given variables. Tokens that resolve to nothing are replaced with the empty
// string rather than left in place.
func renderTokens(text string, vars map[string]any) string {
	return tokenPattern.ReplaceAllStringFunc(text, func(match string) string {
		path := strings.TrimSpace(tokenPattern.FindStringSubmatch(match)[1])
		return asString(resolvePath(vars, path))
	})
}

// mergeVars layers config.variables over the event payload so explicit
// per-action variables win on key collisions.
func mergeVars(payload, overrides map[string]any) map[string]any {
	merged := make(map[string]any, len(payload)+len(overrides))
	for k, v := range payload {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}
