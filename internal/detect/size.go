package detect

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
)

// Two-letter units may be spaced and in any case ("1.2 mb"); one-letter
// units must be uppercase and attached to the number ("175K").
var sizePattern = regexp.MustCompile(`\b(\d+(?:\.\d+)?)(?:\s*((?i:KB|MB|GB))|([KMG]))\b`)

var sizeContainer = cascadia.MustCompile("li, td, p, div, section, article")

// SizeLabel finds the first size token in text ("175K", "9.5M", "1.2 MB")
// and normalizes it to "<number> KB|MB|GB". It returns "" when none is found.
func SizeLabel(text string) string {
	m := sizePattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	unit := strings.ToUpper(m[2])
	if unit == "" {
		unit = m[3]
	}
	switch unit {
	case "K", "KB":
		unit = "KB"
	case "M", "MB":
		unit = "MB"
	case "G", "GB":
		unit = "GB"
	}
	return m[1] + " " + unit
}

// sizeNear looks for a size token in the closest block container of anchor,
// staying inside the fragment.
func sizeNear(fragment, anchor *goquery.Selection) string {
	scope := fragment
	if anchor != nil {
		if c := anchor.ClosestMatcher(sizeContainer); c.Length() > 0 && within(fragment, c) {
			scope = c
		}
	}
	if scope == nil {
		return ""
	}
	return SizeLabel(scope.Text())
}

func within(fragment, s *goquery.Selection) bool {
	if fragment == nil {
		return true
	}
	return fragment.IsSelection(s) || fragment.Contains(s.Get(0))
}
