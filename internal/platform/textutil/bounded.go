package textutil

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Bounded turns control characters into spaces, trims the value and cuts it to at most limit
// runes. A non-positive limit leaves the length alone.
func Bounded(value string, limit int) string {
	value = strings.TrimSpace(strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, value))
	if limit > 0 && utf8.RuneCountInString(value) > limit {
		value = strings.TrimSpace(string([]rune(value)[:limit]))
	}
	return value
}
