package parser

import (
	"regexp"

	"github.com/ternarybob/portalx/internal/models"
)

var dateInText = regexp.MustCompile(`\b(\d{1,2}[/-]\d{1,2}[/-]\d{2,4}|\d{4}-\d{2}-\d{2})\b`)

// NormalizeDate renders a portal date as 2006-01-02 when it can be parsed
func NormalizeDate(raw string) string {
	return models.NormalizeDate(raw)
}

// FindDate returns the first date-looking token in text, normalized
func FindDate(text string) string {
	if m := dateInText.FindString(text); m != "" {
		return NormalizeDate(m)
	}
	return ""
}
