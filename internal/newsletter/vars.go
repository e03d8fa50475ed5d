package newsletter

import (
	"strings"
	"time"
)

// ExpandVars performs simple placeholder substitutions for template strings
// used in config-provided text fields (e.g., title, preface, postscript).
//
// Supported variables:
// - {.CurrentDate} => formatted as YYYY-MM-DD (UTC)
// - {.Categories}  => upper-cased categories joined by " · "
func ExpandVars(s string, now time.Time, cats []string) string {
	if strings.TrimSpace(s) == "" {
		return s
	}
	out := strings.ReplaceAll(s, "{.CurrentDate}", now.UTC().Format("2006-01-02"))
	if strings.Contains(out, "{.Categories}") {
		up := make([]string, len(cats))
		for i, c := range cats {
			up[i] = strings.ToUpper(c)
		}
		out = strings.ReplaceAll(out, "{.Categories}", strings.Join(up, " · "))
	}
	return out
}
