// Package textnorm turns phrases and transcripts into comparable word lists.
package textnorm

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Punctuation is the ASCII punctuation set removed from text.
const Punctuation = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

// Clean lowercases text, drops ASCII punctuation and trims surrounding space.
func Clean(text string) string {
	text = norm.NFC.String(text)
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		if r < 0x80 && strings.ContainsRune(Punctuation, r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// Normalize returns the cleaned words of text. It never returns nil.
func Normalize(text string) []string {
	words := strings.Fields(Clean(text))
	if words == nil {
		return []string{}
	}
	return words
}

// Join rebuilds a normalized phrase from its words.
func Join(words []string) string {
	return strings.Join(words, " ")
}

// WordSet returns the distinct normalized words of text.
func WordSet(text string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, w := range Normalize(text) {
		set[w] = struct{}{}
	}
	return set
}
