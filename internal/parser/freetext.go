package parser

import (
	"regexp"
	"strings"

	"github.com/ternarybob/portalx/internal/models"
)

const amountExpr = `\(?-?\$?\s*[\d,]*\.?\d+\)?`

var (
	claimStartLabel   = regexp.MustCompile(`(?i)^\s*claim\s*(?:#|no\.?|number|id)?\s*:?\s*([A-Z0-9][A-Z0-9-]{4,})\b`)
	serviceDateLabel  = regexp.MustCompile(`(?i)(?:date\s*of\s*service|service\s*date|\bdos\b)\s*:?\s*(\d{1,2}[/-]\d{1,2}[/-]\d{2,4}|\d{4}-\d{2}-\d{2})`)
	statusLabel       = regexp.MustCompile(`(?i)\bstatus\s*:\s*([A-Za-z][A-Za-z /-]*[A-Za-z])`)
	patientPayLabel   = regexp.MustCompile(`(?i)(?:patient\s*(?:pay|paid|responsibility|portion|owes)|you\s*(?:may\s*)?owe|member\s*responsibility)\s*:?\s*(` + amountExpr + `)`)
	paidLabel         = regexp.MustCompile(`(?i)(?:plan\s*paid|insurance\s*paid|amount\s*paid|benefit\s*paid|\bpaid)\s*(?:amount)?\s*:\s*(` + amountExpr + `)`)
	billedLabel       = regexp.MustCompile(`(?i)(?:billed|submitted|total\s*charges?|charges?)\s*(?:amount)?\s*:\s*(` + amountExpr + `)`)
	providerLabel     = regexp.MustCompile(`(?i)\b(?:provider|dentist|rendering\s*provider)\s*(?:name)?\s*:\s*(.+?)\s*$`)
	serviceLineAmount = regexp.MustCompile(`\$\s*[\d,]*\.?\d+`)
)

// ParseClaimsText rebuilds minimal claims from label/value lines. Values seen before
// the first claim label are ignored.
func ParseClaimsText(text string) []*models.Claim {
	var claims []*models.Claim
	var current *models.Claim

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if m := claimStartLabel.FindStringSubmatch(line); m != nil && strings.ContainsAny(m[1], "0123456789") {
			current = &models.Claim{Number: strings.ToUpper(m[1]), Services: []models.ServiceLine{}}
			claims = append(claims, current)
		}
		if current == nil {
			continue
		}

		applyClaimLabels(current, line)

		for _, code := range FindCDTCodes(line) {
			current.Services = append(current.Services, serviceLineFromText(line, code, current.ServiceDate))
		}
	}

	return models.MergeClaims(claims)
}

func applyClaimLabels(claim *models.Claim, line string) {
	if m := serviceDateLabel.FindStringSubmatch(line); m != nil && claim.ServiceDate == "" {
		claim.ServiceDate = NormalizeDate(m[1])
	}
	if m := statusLabel.FindStringSubmatch(line); m != nil && claim.Status == "" {
		claim.Status = strings.TrimSpace(m[1])
	}

	// Patient pay first and cut out, so "Patient Paid:" is not read as plan paid
	rest := line
	if loc := patientPayLabel.FindStringSubmatchIndex(rest); loc != nil {
		claim.PatientPay = ParseAmount(rest[loc[2]:loc[3]])
		rest = rest[:loc[0]] + " " + rest[loc[1]:]
	}
	if m := paidLabel.FindStringSubmatch(rest); m != nil {
		claim.Paid = ParseAmount(m[1])
	}
	if m := billedLabel.FindStringSubmatch(rest); m != nil {
		claim.Billed = ParseAmount(m[1])
	}
	if m := providerLabel.FindStringSubmatch(line); m != nil && claim.Provider == "" {
		claim.Provider = m[1]
	}
}

// serviceLineFromText reads "D0120 Periodic oral evaluation $65.00 $52.00" style lines:
// first amount billed, second paid
func serviceLineFromText(line, code, date string) models.ServiceLine {
	sl := models.ServiceLine{ProcedureCode: code, Date: date}
	if d := FindDate(line); d != "" {
		sl.Date = d
	}
	amounts := serviceLineAmount.FindAllString(line, -1)
	if len(amounts) > 0 {
		sl.Billed = ParseAmount(amounts[0])
	}
	if len(amounts) > 1 {
		sl.Paid = ParseAmount(amounts[1])
	}
	if len(amounts) > 2 {
		sl.PatientPay = ParseAmount(amounts[2])
	}
	return sl
}

func serviceLinesFromText(text string) []models.ServiceLine {
	lines := []models.ServiceLine{}
	for _, line := range strings.Split(text, "\n") {
		for _, code := range FindCDTCodes(line) {
			lines = append(lines, serviceLineFromText(line, code, ""))
		}
	}
	return lines
}
