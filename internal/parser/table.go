package parser

import (
	"math"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Table is one HTML table reduced to header and cell text
type Table struct {
	Index   int
	Headers []string
	Rows    []Row
}

// Row is one data row; Links holds the href (or onclick target) of anchors in the row
type Row struct {
	Cells []string
	Links []string
}

// TableScorer ranks tables by how claim-like their headers are
type TableScorer struct {
	Mapper FieldMapper
	// RowBonus is added per data row, capped at MaxRowBonus, only when headers scored
	RowBonus    float64
	MaxRowBonus float64
}

// NewTableScorer creates a scorer for a header pattern table
func NewTableScorer(patterns HeaderPatterns) TableScorer {
	return TableScorer{
		Mapper:      FieldMapper{Patterns: patterns},
		RowBonus:    0.1,
		MaxRowBonus: 2,
	}
}

// Score is the weighted header signal plus the row bonus; zero means not a candidate
func (s TableScorer) Score(t Table) float64 {
	headerScore := 0.0
	for _, field := range s.Mapper.Map(t.Headers) {
		headerScore += s.Mapper.weight(field)
	}
	if headerScore <= 0 {
		return 0
	}
	return headerScore + math.Min(float64(len(t.Rows))*s.RowBonus, s.MaxRowBonus)
}

// Best returns the highest-scoring table; ties go to the first encountered.
// ok is false when no table scored above zero.
func (s TableScorer) Best(tables []Table) (Table, float64, bool) {
	bestIdx := -1
	bestScore := 0.0
	for i, t := range tables {
		score := s.Score(t)
		if score > bestScore {
			bestIdx = i
			bestScore = score
		}
	}
	if bestIdx < 0 {
		return Table{}, 0, false
	}
	return tables[bestIdx], bestScore, true
}

// ExtractTables reads every table in the document, including nested ones
func ExtractTables(doc *goquery.Document) []Table {
	var tables []Table
	doc.Find("table").Each(func(i int, tbl *goquery.Selection) {
		tables = append(tables, readTable(i, tbl))
	})
	return tables
}

func readTable(index int, tbl *goquery.Selection) Table {
	t := Table{Index: index}

	// Only rows that belong to this table, not to nested tables
	rows := tbl.Find("tr").FilterFunction(func(_ int, tr *goquery.Selection) bool {
		return tr.Closest("table").IsSelection(tbl)
	})

	headerRow := -1
	rows.EachWithBreak(func(i int, tr *goquery.Selection) bool {
		if tr.ChildrenFiltered("th").Length() > 0 {
			headerRow = i
			return false
		}
		return true
	})
	// Portals that build header rows out of td cells
	if headerRow < 0 && rows.Length() > 1 {
		headerRow = 0
	}

	rows.Each(func(i int, tr *goquery.Selection) {
		cells := tr.ChildrenFiltered("th, td")
		if i == headerRow {
			cells.Each(func(_ int, c *goquery.Selection) {
				t.Headers = append(t.Headers, cellText(c))
			})
			return
		}
		if i < headerRow || tr.ChildrenFiltered("td").Length() == 0 {
			return
		}

		row := Row{}
		cells.Each(func(_ int, c *goquery.Selection) {
			row.Cells = append(row.Cells, cellText(c))
		})
		tr.Find("a").Each(func(_ int, a *goquery.Selection) {
			if href, ok := a.Attr("href"); ok && href != "" {
				row.Links = append(row.Links, href)
			} else if onclick, ok := a.Attr("onclick"); ok && onclick != "" {
				row.Links = append(row.Links, "javascript:"+onclick)
			}
		})
		if !isBlankRow(row.Cells) {
			t.Rows = append(t.Rows, row)
		}
	})

	return t
}

func cellText(c *goquery.Selection) string {
	return strings.TrimSpace(collapseSpace(c.Text()))
}

func isBlankRow(cells []string) bool {
	for _, c := range cells {
		if c != "" {
			return false
		}
	}
	return true
}

// Cell returns the text of the column bound to field, or ""
func (r Row) Cell(columns map[int]Field, field Field) string {
	for idx, f := range columns {
		if f == field && idx < len(r.Cells) {
			return r.Cells[idx]
		}
	}
	return ""
}
