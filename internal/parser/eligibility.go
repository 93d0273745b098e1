package parser

import (
	"regexp"
	"strings"

	"github.com/ternarybob/portalx/internal/models"
)

const labelAmount = `(\(?-?\$?\s*[\d,]*\.?\d+\)?)`

// EligibilityLabels are the label patterns read from a benefits page. Each pattern's
// first capture group is the value; patterns are tried in order.
type EligibilityLabels struct {
	AnnualMaximum     []*regexp.Regexp
	AnnualMaximumUsed []*regexp.Regexp
	Deductible        []*regexp.Regexp
	DeductibleMet     []*regexp.Regexp
	Network           []*regexp.Regexp
	PlanName          []*regexp.Regexp
	// Coinsurance captures (category, percent)
	Coinsurance []*regexp.Regexp
}

func res(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

// DefaultEligibilityLabels match the benefit summary wording most dental portals use
var DefaultEligibilityLabels = EligibilityLabels{
	AnnualMaximum: res(
		`(?i)(?:plan|annual|calendar\s+year|benefit\s+year|yearly|program)\s+maximum(?:\s+amount)?\s*:?\s*`+labelAmount,
		`(?i)^\s*maximum\s*:?\s*`+labelAmount,
	),
	AnnualMaximumUsed: res(
		`(?i)maximum\s+(?:used|met|applied)(?:\s+to\s+date)?\s*:?\s*`+labelAmount,
		`(?i)(?:benefits?|amount)\s+used(?:\s+to\s+date)?\s*:?\s*`+labelAmount,
		`(?i)used\s+to\s+date\s*:?\s*`+labelAmount,
	),
	Deductible: res(
		`(?i)(?:individual\s+|annual\s+|calendar\s+year\s+|lifetime\s+)?deductible(?:\s+amount)?\s*:?\s*` + labelAmount,
	),
	DeductibleMet: res(
		`(?i)deductible\s+(?:met|satisfied|used|applied)(?:\s+to\s+date)?\s*:?\s*` + labelAmount,
	),
	Network: res(
		`(?i)network(?:\s+status|\s+type|\s+name)?\s*:\s*(.+?)\s*$`,
		`(?i)\b(in-network|out-of-network|ppo|dhmo|delta\s+dental\s+(?:ppo|premier))\b`,
	),
	PlanName: res(
		`(?i)(?:plan\s+name|group\s+name|plan\s+description|product)\s*:\s*(.+?)\s*$`,
		`(?i)^\s*plan\s*:\s*(.+?)\s*$`,
	),
	Coinsurance: res(
		`(?i)\b(preventive|diagnostic|basic(?:\s+services)?|major(?:\s+services)?|orthodontics?|endodontics?|periodontics?|oral\s+surgery|prosthodontics?|restorative|implants?)\b[^\n%\d]*?(\d{1,3}(?:\.\d+)?)\s*%`,
	),
}

// ParseEligibilityText reads an eligibility snapshot from visible page text. Values
// the page does not show stay nil.
func ParseEligibilityText(text string, labels EligibilityLabels) *models.EligibilitySnapshot {
	lines := strings.Split(text, "\n")
	snap := &models.EligibilitySnapshot{}

	snap.AnnualMaximum = firstAmount(lines, labels.AnnualMaximum)
	snap.AnnualMaximumUsed = firstAmount(lines, labels.AnnualMaximumUsed)
	snap.DeductibleMet = firstAmount(lines, labels.DeductibleMet)
	snap.Deductible = firstAmount(lines, labels.Deductible)
	snap.Network = firstString(lines, labels.Network)
	snap.PlanName = firstString(lines, labels.PlanName)

	for _, line := range lines {
		for _, re := range labels.Coinsurance {
			for _, m := range re.FindAllStringSubmatch(line, -1) {
				category := normalizeCategory(m[1])
				if _, seen := snap.CoinsuranceByCategory[category]; seen {
					continue
				}
				if pct, ok := ParsePercent(m[2] + "%"); ok {
					if snap.CoinsuranceByCategory == nil {
						snap.CoinsuranceByCategory = map[string]float64{}
					}
					snap.CoinsuranceByCategory[category] = pct
				}
			}
		}
	}

	return snap
}

// firstAmount tries each pattern against every line before moving to the next pattern
func firstAmount(lines []string, patterns []*regexp.Regexp) *float64 {
	for _, re := range patterns {
		for _, line := range lines {
			if m := re.FindStringSubmatch(line); m != nil {
				if v := ParseOptionalAmount(m[1]); v != nil {
					return v
				}
			}
		}
	}
	return nil
}

func firstString(lines []string, patterns []*regexp.Regexp) string {
	for _, re := range patterns {
		for _, line := range lines {
			if m := re.FindStringSubmatch(line); m != nil {
				if v := strings.TrimSpace(m[1]); v != "" {
					return v
				}
			}
		}
	}
	return ""
}

var categorySuffix = regexp.MustCompile(`(?i)\s+services$`)

func normalizeCategory(raw string) string {
	c := strings.ToLower(strings.TrimSpace(collapseSpace(raw)))
	c = categorySuffix.ReplaceAllString(c, "")
	return strings.TrimSuffix(c, "s")
}
