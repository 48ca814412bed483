package schema

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Casing is the naming convention applied to JSON keys of members that carry no
// explicit json tag.
type Casing int

const (
	// CasingDefault keeps the Go field name.
	CasingDefault Casing = iota
	// CasingCamel lower-cases the first word: UserId becomes userId.
	CasingCamel
	// CasingSnake lower-cases every word and joins them with underscores.
	CasingSnake
)

func (c Casing) String() string {
	switch c {
	case CasingCamel:
		return "camel"
	case CasingSnake:
		return "snake"
	default:
		return "default"
	}
}

var lower = cases.Lower(language.Und)

// ApplyCasing converts a Go identifier to the given convention.
func ApplyCasing(name string, c Casing) string {
	if name == "" || c == CasingDefault {
		return name
	}
	words := SplitWords(name)
	switch c {
	case CasingCamel:
		words[0] = lower.String(words[0])
		return strings.Join(words, "")
	case CasingSnake:
		for i, w := range words {
			words[i] = lower.String(w)
		}
		return strings.Join(words, "_")
	}
	return name
}

// SplitWords breaks a Go identifier at case transitions, keeping acronyms together:
// HTTPServerID splits into HTTP, Server and ID.
func SplitWords(name string) []string {
	runes := []rune(name)
	var words []string
	start := 0
	for i := 1; i < len(runes); i++ {
		prev, cur := runes[i-1], runes[i]
		boundary := false
		switch {
		case cur == '_':
			words = appendWord(words, runes[start:i])
			start = i + 1
			continue
		case unicode.IsLower(prev) && unicode.IsUpper(cur):
			boundary = true
		case unicode.IsUpper(prev) && unicode.IsUpper(cur) && i+1 < len(runes) && unicode.IsLower(runes[i+1]):
			boundary = true
		case unicode.IsDigit(prev) != unicode.IsDigit(cur) && unicode.IsUpper(cur):
			boundary = true
		}
		if boundary {
			words = appendWord(words, runes[start:i])
			start = i
		}
	}
	words = appendWord(words, runes[start:])
	if len(words) == 0 {
		return []string{name}
	}
	return words
}

func appendWord(words []string, w []rune) []string {
	if len(w) == 0 {
		return words
	}
	return append(words, string(w))
}
