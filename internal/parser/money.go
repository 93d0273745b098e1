package parser

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	amountNumber  = regexp.MustCompile(`^-?(\d+(?:\.\d+)?|\.\d+)-?$`)
	percentNumber = regexp.MustCompile(`(\d{1,3}(?:\.\d+)?)\s*%`)
	amountNoise   = strings.NewReplacer("$", "", ",", "", " ", "", " ", "", "(", "", ")", "", "USD", "", "usd", "")
)

// ParseOptionalAmount parses currency text. The whole value must be one amount once
// currency noise is removed, so dates, ids and prose are nil. Amounts are always
// non-negative.
func ParseOptionalAmount(text string) *float64 {
	cleaned := amountNoise.Replace(strings.TrimSpace(text))
	if cleaned == "" {
		return nil
	}
	m := amountNumber.FindStringSubmatch(cleaned)
	if m == nil {
		return nil
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return nil
	}
	return &value
}

// ParseAmount parses free-form currency text, defaulting to 0
func ParseAmount(text string) float64 {
	if v := ParseOptionalAmount(text); v != nil {
		return *v
	}
	return 0
}

// ParsePercent reads "80%" or "80 %" style values
func ParsePercent(text string) (float64, bool) {
	m := percentNumber.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return value, true
}
