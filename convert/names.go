package convert

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Pascal rewrites kebab, snake, spaced or camel spelling to Pascal case:
// "dark-blue", "dark_blue" and "darkBlue" all become "DarkBlue".
func Pascal(s string) string {
	words := strings.FieldsFunc(s, func(r rune) bool {
		return r == '-' || r == '_' || unicode.IsSpace(r)
	})
	// Casers carry state and are not safe for concurrent use.
	title := cases.Title(language.Und, cases.NoLower)
	var b strings.Builder
	b.Grow(len(s))
	for _, w := range words {
		b.WriteString(title.String(w))
	}
	return b.String()
}
