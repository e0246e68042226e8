package extract

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// cleanText folds compatibility characters (non-breaking spaces, ligatures,
// full-width forms) with NFKC and collapses whitespace runs to one space.
func cleanText(s string) string {
	return collapseSpaces(norm.NFKC.String(s))
}

func collapseSpaces(s string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	return strings.TrimRight(b.String(), " ")
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return strings.TrimRight(string(runes[:max]), " ") + "..."
}
