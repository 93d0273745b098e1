package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/portalx/internal/models"
)

// Mode records which strategy produced a parse
type Mode string

const (
	ModeTable    Mode = "table"
	ModeFreeText Mode = "free_text"
	ModeNone     Mode = "none"
)

var summaryRow = regexp.MustCompile(`(?i)^\s*(grand\s+)?totals?\s*:?\s*$`)

// ParseClaimsHTML finds the claims table on a page and reads one claim per row. A
// page without any qualifying table is scanned as free text instead.
func ParseClaimsHTML(markup string, patterns HeaderPatterns) ([]*models.Claim, Mode, error) {
	if patterns == nil {
		patterns = DefaultClaimHeaders
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, ModeNone, fmt.Errorf("failed to parse claims page: %w", err)
	}

	scorer := NewTableScorer(patterns)
	table, _, ok := scorer.Best(ExtractTables(doc))
	if !ok {
		text := ""
		if len(doc.Nodes) > 0 {
			text = VisibleText(doc.Nodes[0])
		}
		claims := ParseClaimsText(text)
		if len(claims) == 0 {
			return nil, ModeNone, nil
		}
		return claims, ModeFreeText, nil
	}

	columns := scorer.Mapper.Map(table.Headers)
	var claims []*models.Claim
	for _, row := range table.Rows {
		claim := claimFromRow(row, columns)
		if claim != nil {
			claims = append(claims, claim)
		}
	}
	return models.MergeClaims(claims), ModeTable, nil
}

func claimFromRow(row Row, columns map[int]Field) *models.Claim {
	number := strings.TrimSpace(row.Cell(columns, FieldClaimNumber))
	if summaryRow.MatchString(number) || summaryRow.MatchString(firstCell(row)) {
		return nil
	}

	claim := &models.Claim{
		Number:      number,
		ServiceDate: NormalizeDate(row.Cell(columns, FieldServiceDate)),
		Status:      row.Cell(columns, FieldStatus),
		Billed:      ParseAmount(row.Cell(columns, FieldBilled)),
		Paid:        ParseAmount(row.Cell(columns, FieldPaid)),
		PatientPay:  ParseAmount(row.Cell(columns, FieldPatientPay)),
		Provider:    row.Cell(columns, FieldProvider),
		Services:    []models.ServiceLine{},
	}

	if claim.Number == "" && claim.ServiceDate == "" && claim.Billed == 0 && claim.Paid == 0 {
		return nil
	}

	for _, link := range row.Links {
		if link != "#" {
			claim.DetailRef = link
			break
		}
	}

	// Some list views carry procedure codes inline
	for _, cell := range row.Cells {
		for _, code := range FindCDTCodes(cell) {
			claim.Services = append(claim.Services, models.ServiceLine{Date: claim.ServiceDate, ProcedureCode: code})
		}
	}

	return claim
}

func firstCell(row Row) string {
	if len(row.Cells) == 0 {
		return ""
	}
	return row.Cells[0]
}

// ParseServiceLinesHTML reads the procedure table on a claim detail page
func ParseServiceLinesHTML(markup string, patterns HeaderPatterns) ([]models.ServiceLine, error) {
	if patterns == nil {
		patterns = DefaultServiceLineHeaders
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("failed to parse claim detail: %w", err)
	}

	scorer := NewTableScorer(patterns)
	table, _, ok := scorer.Best(ExtractTables(doc))
	if !ok {
		text := ""
		if len(doc.Nodes) > 0 {
			text = VisibleText(doc.Nodes[0])
		}
		return serviceLinesFromText(text), nil
	}

	columns := scorer.Mapper.Map(table.Headers)
	lines := []models.ServiceLine{}
	for _, row := range table.Rows {
		code := strings.ToUpper(strings.TrimSpace(row.Cell(columns, FieldProcedureCode)))
		if !IsCDTCode(code) {
			// Codes are often rendered with the description, e.g. "D0120 - Periodic exam"
			codes := FindCDTCodes(strings.Join(row.Cells, " "))
			if len(codes) == 0 {
				continue
			}
			code = codes[0]
		}
		lines = append(lines, models.ServiceLine{
			Date:          NormalizeDate(row.Cell(columns, FieldServiceDate)),
			ProcedureCode: code,
			Description:   row.Cell(columns, FieldDescription),
			Tooth:         row.Cell(columns, FieldTooth),
			Billed:        ParseAmount(row.Cell(columns, FieldBilled)),
			PatientPay:    ParseAmount(row.Cell(columns, FieldPatientPay)),
			Paid:          ParseAmount(row.Cell(columns, FieldPaid)),
			Status:        row.Cell(columns, FieldStatus),
		})
	}
	return lines, nil
}

// ParseClaimDetailHTML reads a detail page into a claim: header labels plus service lines
func ParseClaimDetailHTML(markup string, claimPatterns, linePatterns HeaderPatterns) (*models.Claim, error) {
	lines, err := ParseServiceLinesHTML(markup, linePatterns)
	if err != nil {
		return nil, err
	}

	text, err := HTMLText(markup)
	if err != nil {
		return nil, fmt.Errorf("failed to read claim detail text: %w", err)
	}

	detail := &models.Claim{Services: lines}
	if parsed := ParseClaimsText(text); len(parsed) > 0 {
		head := parsed[0]
		detail.Number = head.Number
		detail.ServiceDate = head.ServiceDate
		detail.Status = head.Status
		detail.Billed = head.Billed
		detail.Paid = head.Paid
		detail.PatientPay = head.PatientPay
		detail.Provider = head.Provider
	}

	if detail.Billed == 0 && detail.Paid == 0 && detail.PatientPay == 0 {
		for _, l := range lines {
			detail.Billed += l.Billed
			detail.Paid += l.Paid
			detail.PatientPay += l.PatientPay
		}
	}
	return detail, nil
}
