package extractor

import (
	"regexp"
	"strconv"
	"strings"
)

// numberRe grabs the first numeric run, tolerating thousands separators.
var numberRe = regexp.MustCompile(`-?\d[\d,]*(?:\.\d+)?`)

// CastNumber pulls a float out of messy display text: "$1,299.00" yields
// 1299, "4.5 out of 5" yields 4.5. Returns false when no numeric run
// exists.
func CastNumber(raw string) (float64, bool) {
	m := numberRe.FindString(raw)
	if m == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

var truthy = []string{
	"true", "yes", "on", "enabled", "active", "available", "in stock", "checked",
}

var falsy = []string{
	"false", "no", "off", "disabled", "inactive", "unavailable", "out of stock", "sold out", "unchecked",
}

// CastBool interprets display text as a boolean. Unknown text counts as
// false: absence of an affirmative marker is the safe reading.
func CastBool(raw string) bool {
	text := strings.ToLower(strings.TrimSpace(raw))
	for _, f := range falsy {
		if strings.Contains(text, f) {
			return false
		}
	}
	for _, t := range truthy {
		if strings.Contains(text, t) {
			return true
		}
	}
	return false
}
