package parser

import (
	"regexp"
	"strings"
)

var (
	cdtExact  = regexp.MustCompile(`^D\d{4}[A-Z]?$`)
	cdtInText = regexp.MustCompile(`\bD\d{4}[A-Z]?\b`)
)

// IsCDTCode reports whether s is exactly one procedure code, e.g. D0120 or D2391A
func IsCDTCode(s string) bool {
	return cdtExact.MatchString(strings.TrimSpace(s))
}

// FindCDTCodes returns the distinct procedure codes in text, in order of appearance
func FindCDTCodes(text string) []string {
	var codes []string
	seen := map[string]bool{}
	for _, code := range cdtInText.FindAllString(text, -1) {
		if !seen[code] {
			seen[code] = true
			codes = append(codes, code)
		}
	}
	return codes
}
