// Package fuzzy folds track, artist, album and playlist names into a
// comparable form for relevance matching.
package fuzzy

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	punctRegex      = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	whitespaceRegex = regexp.MustCompile(`\s+`)
)

type Normalizer struct{}

func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// NormalizeName decomposes accents, strips combining marks and punctuation,
// collapses whitespace and lowercases. "Beyoncé – Halo!" and "beyonce halo"
// normalize to the same string.
func (n *Normalizer) NormalizeName(name string) string {
	name = norm.NFKD.String(name)

	var result strings.Builder
	for _, r := range name {
		if !unicode.IsMark(r) {
			result.WriteRune(r)
		}
	}
	name = result.String()

	name = punctRegex.ReplaceAllString(name, " ")
	name = whitespaceRegex.ReplaceAllString(name, " ")

	name = strings.ToLower(name)
	name = strings.TrimSpace(name)

	return name
}

// Relevance grades how well a candidate name matches the query after
// normalization: exact 1.0, name is a prefix of the query 0.8, name
// contains the query 0.5, anything else 0.2. A name that merely extends
// the query ("Thriller (Deluxe)" for "Thriller") grades as a substring
// match, not a prefix match.
func (n *Normalizer) Relevance(name, query string) float64 {
	normName := n.NormalizeName(name)
	normQuery := n.NormalizeName(query)

	switch {
	case normName == normQuery:
		return 1.0
	// An empty name is a prefix of every query; it must not outrank real
	// matches.
	case normName == "":
		return 0.2
	case strings.HasPrefix(normQuery, normName):
		return 0.8
	case strings.Contains(normName, normQuery):
		return 0.5
	default:
		return 0.2
	}
}
