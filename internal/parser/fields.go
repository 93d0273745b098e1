package parser

import (
	"regexp"
	"strings"
)

// Field is a semantic column of a claims or service-line table
type Field string

const (
	FieldClaimNumber   Field = "claim_number"
	FieldServiceDate   Field = "service_date"
	FieldStatus        Field = "status"
	FieldBilled        Field = "billed"
	FieldPaid          Field = "paid"
	FieldPatientPay    Field = "patient_pay"
	FieldProvider      Field = "provider"
	FieldProcedureCode Field = "procedure_code"
	FieldDescription   Field = "description"
	FieldTooth         Field = "tooth"
	FieldPatient       Field = "patient"
)

// HeaderPattern maps header text to a field. Weight is the header's contribution
// to a table's claim-likeness score; zero-weight fields are mapped but not scored.
// A header matching Exclude skips this pattern and is tried against the next one.
type HeaderPattern struct {
	Field   Field
	Pattern *regexp.Regexp
	Exclude *regexp.Regexp
	Weight  float64
}

// HeaderPatterns is an ordered pattern table; the first pattern matching a header wins
type HeaderPatterns []HeaderPattern

func hp(field Field, weight float64, pattern string) HeaderPattern {
	return HeaderPattern{Field: field, Weight: weight, Pattern: regexp.MustCompile(pattern)}
}

// except keeps headers matching pattern away from the field
func (p HeaderPattern) except(pattern string) HeaderPattern {
	p.Exclude = regexp.MustCompile(pattern)
	return p
}

// dateHeader marks "Paid Date" style columns that must never feed an amount
const dateHeader = `(?i)\bdate\b|\bdos\b`

// matches reports whether text binds to this pattern's field
func (p HeaderPattern) matches(text string) bool {
	if !p.Pattern.MatchString(text) {
		return false
	}
	return p.Exclude == nil || !p.Exclude.MatchString(text)
}

// DefaultClaimHeaders recognises claim list tables across common portal wordings
var DefaultClaimHeaders = HeaderPatterns{
	hp(FieldClaimNumber, 3, `(?i)claim\s*(#|no\.?|num|number|id)|^\s*claim\s*$|reference|^\s*ref(\s*#)?\s*$|\bicn\b|document\s*(#|number)`),
	hp(FieldServiceDate, 2, `(?i)date\s*of\s*service|service\s*date|\bdos\b|from\s*date|treatment\s*date|^\s*date\s*$|date\s*received|incurred`),
	hp(FieldPatientPay, 1, `(?i)patient\s*(pay|resp|portion|owes|share|cost)|member\s*(resp|pay|portion)|you\s*(owe|may\s*owe)|your\s*(cost|share)`).except(dateHeader),
	hp(FieldPaid, 2, `(?i)paid|plan\s*pay|benefit\s*(amount|paid)|insurance\s*pay|payment\s*amount|amount\s*paid`).except(dateHeader),
	hp(FieldBilled, 2, `(?i)billed|submitted|charges?\b|total\s*fee|^\s*fee\s*$|amount\s*charged`).except(dateHeader),
	hp(FieldStatus, 1, `(?i)status|disposition`),
	hp(FieldProvider, 0.5, `(?i)provider|dentist|doctor|office|rendering`),
	hp(FieldPatient, 0, `(?i)patient(\s*name)?$|member(\s*name)?$`),
}

// DefaultServiceLineHeaders recognises procedure tables on claim detail pages
var DefaultServiceLineHeaders = HeaderPatterns{
	hp(FieldProcedureCode, 3, `(?i)procedure|cdt|ada\s*code|proc\.?\s*code|^\s*code\s*$|service\s*code`),
	hp(FieldServiceDate, 1, `(?i)date\s*of\s*service|service\s*date|\bdos\b|^\s*date\s*$`),
	hp(FieldTooth, 1, `(?i)tooth|\bth\b|area|quad`),
	hp(FieldPatientPay, 1, `(?i)patient\s*(pay|resp|portion|owes|share|cost)|member\s*(resp|pay|portion)|you\s*owe|your\s*cost`).except(dateHeader),
	hp(FieldPaid, 2, `(?i)paid|plan\s*pay|benefit|insurance\s*pay|amount\s*paid`).except(dateHeader),
	hp(FieldBilled, 2, `(?i)billed|submitted|charges?\b|\bfee\b|amount\s*charged`).except(dateHeader),
	hp(FieldStatus, 0.5, `(?i)status|disposition`),
	hp(FieldDescription, 0.5, `(?i)description|service(\s*name)?$`),
}

// FieldMapper assigns semantic fields to header cells by pattern, never by position
type FieldMapper struct {
	Patterns HeaderPatterns
}

// Map returns column index -> field. Each field is bound to its first matching column.
func (m FieldMapper) Map(headers []string) map[int]Field {
	columns := map[int]Field{}
	bound := map[Field]bool{}
	for i, header := range headers {
		text := strings.TrimSpace(collapseSpace(header))
		if text == "" {
			continue
		}
		for _, p := range m.Patterns {
			if !p.matches(text) {
				continue
			}
			if !bound[p.Field] {
				columns[i] = p.Field
				bound[p.Field] = true
			}
			break
		}
	}
	return columns
}

func (m FieldMapper) weight(field Field) float64 {
	for _, p := range m.Patterns {
		if p.Field == field {
			return p.Weight
		}
	}
	return 0
}

var spaceRun = regexp.MustCompile(`\s+`)

func collapseSpace(s string) string {
	return spaceRun.ReplaceAllString(s, " ")
}
