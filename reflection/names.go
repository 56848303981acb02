package reflection

import (
	"unicode"
	"unicode/utf8"
)

func upperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || unicode.IsUpper(r) {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// LowerCamel converts an exported Go name to its wire spelling.
// Handles acronyms: HTTPServer -> httpServer, ID -> id.
func LowerCamel(s string) string {
	if s == "" {
		return ""
	}
	runes := []rune(s)
	if !unicode.IsUpper(runes[0]) {
		return s
	}

	end := 1
	for end < len(runes) && unicode.IsUpper(runes[end]) {
		end++
	}
	// Last uppercase before lowercase starts next word, not part of acronym
	if end > 1 && end < len(runes) && unicode.IsLower(runes[end]) {
		end--
	}
	for i := 0; i < end; i++ {
		runes[i] = unicode.ToLower(runes[i])
	}
	return string(runes)
}
