// Package normalize provides utilities for normalizing titles and names.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	// Anything that is not a word character or whitespace.
	punctuation = regexp.MustCompile(`[^\w\s]+`)
	// Runs of whitespace.
	whitespace = regexp.MustCompile(`\s+`)
	// Matches any non-alphanumeric character.
	nonAlphanumeric = regexp.MustCompile(`[^a-z0-9]+`)
)

// Title folds a media title for work matching.
// "Dune: Part Two" -> "dune part two".
// "  Amélie " -> "amelie".
// "Spider-Man" -> "spiderman".
func Title(s string) string {
	s = foldASCII(s)
	s = strings.ToLower(strings.TrimSpace(s))
	s = punctuation.ReplaceAllString(s, "")
	s = whitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Slug converts a string to a DNS and URL safe label.
// "Living Room TV" -> "living-room-tv".
func Slug(s string) string {
	s = strings.ToLower(foldASCII(s))
	s = nonAlphanumeric.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// foldASCII decomposes accented characters and drops everything outside ASCII.
func foldASCII(s string) string {
	s = norm.NFKD.String(s)
	return strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII {
			return -1
		}
		return r
	}, s)
}
