// Package textutil provides text normalization helpers shared by the corpus
// readers and the lexicon.
package textutil

import (
	"regexp"
	"strings"
)

var tokenizeRe = regexp.MustCompile(`\S+`)

// Tokenize splits text on runs of whitespace.
func Tokenize(text string) []string {
	return tokenizeRe.FindAllString(text, -1)
}

var (
	newlineRe    = regexp.MustCompile(`[\n\r]`)
	multiSpaceRe = regexp.MustCompile(`\s{2,}`)
)

// NormalizeWhitespaces replaces newlines and multiple whitespace with a single space.
func NormalizeWhitespaces(text string) string {
	text = newlineRe.ReplaceAllString(text, " ")
	return multiSpaceRe.ReplaceAllString(text, " ")
}

// Clean trims text and collapses inner whitespace.
func Clean(text string) string {
	return strings.TrimSpace(NormalizeWhitespaces(text))
}

var keyReplacer = strings.NewReplacer(".", "$period$", "/", "$backslash$")

// SentenceKey is the lexicon key of a sentence: its words joined by tabs,
// with "." and "/" escaped so the key is a valid flat name.
func SentenceKey(words []string) string {
	return keyReplacer.Replace(strings.Join(words, "\t"))
}
