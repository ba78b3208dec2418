package search

import (
	"strings"
	"unicode/utf8"
)

const (
	snippetBefore   = 50
	snippetAfter    = 90
	snippetFallback = 140
)

// BuildSnippet extracts a short context window around the first occurrence
// of any query term in body. Without a match it returns the head of the
// body. Window edges are pushed to rune boundaries so multi-byte text never
// gets split mid-character.
func BuildSnippet(body, query string) string {
	body = strings.TrimSpace(body)
	if body == "" {
		return ""
	}

	pos := -1
	lower := strings.ToLower(body)
	for _, term := range strings.Fields(strings.ToLower(query)) {
		if i := strings.Index(lower, term); i >= 0 && (pos < 0 || i < pos) {
			pos = i
		}
	}
	if pos >= 0 && len(lower) != len(body) {
		// Case folding can change byte widths ('İ' grows, 'K' shrinks), so a
		// byte offset into lower may not line up with body. Rune counts do.
		pos = runeOffset(body, utf8.RuneCountInString(lower[:pos]))
	}

	if pos < 0 {
		if len(body) <= snippetFallback {
			return collapseWhitespace(body)
		}
		end := floorBoundary(body, snippetFallback)
		return collapseWhitespace(body[:end]) + "…"
	}

	start := pos - snippetBefore
	if start < 0 {
		start = 0
	}
	start = floorBoundary(body, start)

	end := pos + snippetAfter
	if end > len(body) {
		end = len(body)
	}
	end = ceilBoundary(body, end)

	snippet := collapseWhitespace(body[start:end])
	if start > 0 {
		snippet = "…" + snippet
	}
	if end < len(body) {
		snippet += "…"
	}
	return snippet
}

// runeOffset returns the byte offset of the nth rune of s.
func runeOffset(s string, n int) int {
	i := 0
	for ; n > 0 && i < len(s); n-- {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return i
}

// floorBoundary moves i down to the nearest rune start.
func floorBoundary(s string, i int) int {
	if i >= len(s) {
		return len(s)
	}
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}

// ceilBoundary moves i up to the nearest rune start (or end of string).
func ceilBoundary(s string, i int) int {
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return i
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
