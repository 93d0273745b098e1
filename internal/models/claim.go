package models

import (
	"strings"
)

// ServiceLine is one procedure on a claim
type ServiceLine struct {
	Date          string  `json:"date,omitempty"`
	ProcedureCode string  `json:"procedureCode,omitempty"`
	Description   string  `json:"description,omitempty"`
	Tooth         string  `json:"tooth,omitempty"`
	Billed        float64 `json:"billed"`
	PatientPay    float64 `json:"patientPay"`
	Paid          float64 `json:"paid"`
	Status        string  `json:"status,omitempty"`
}

// Claim is a claim row from a portal, optionally enriched with its detail page.
// Claim amounts default to 0 when the portal shows nothing parsable.
type Claim struct {
	Number      string        `json:"number"`
	ServiceDate string        `json:"serviceDate,omitempty"`
	Status      string        `json:"status,omitempty"`
	Billed      float64       `json:"billed"`
	Paid        float64       `json:"paid"`
	PatientPay  float64       `json:"patientPay"`
	Provider    string        `json:"provider,omitempty"`
	Services    []ServiceLine `json:"services"`

	// DetailRef is the adapter's handle for opening the detail view (href, row selector, API id)
	DetailRef string `json:"-"`

	// DetailError annotates a claim whose detail fetch failed; the list-row data is kept
	DetailError string `json:"detailError,omitempty"`
}

// Key is the claim identity used for merging
func (c *Claim) Key() string {
	return strings.ToUpper(strings.TrimSpace(c.Number))
}

// Merge enriches c with the detail record for the same claim number. Non-empty
// detail values win; list-row values are kept where the detail page is silent.
func (c *Claim) Merge(detail *Claim) {
	if detail == nil {
		return
	}
	if detail.Key() != "" && c.Key() != "" && detail.Key() != c.Key() {
		return
	}
	if c.Number == "" {
		c.Number = detail.Number
	}
	if detail.ServiceDate != "" {
		c.ServiceDate = detail.ServiceDate
	}
	if detail.Status != "" {
		c.Status = detail.Status
	}
	if detail.Billed != 0 {
		c.Billed = detail.Billed
	}
	if detail.Paid != 0 {
		c.Paid = detail.Paid
	}
	if detail.PatientPay != 0 {
		c.PatientPay = detail.PatientPay
	}
	if detail.Provider != "" {
		c.Provider = detail.Provider
	}
	if len(detail.Services) > 0 {
		c.Services = detail.Services
	}
	if c.ServiceDate == "" {
		for _, s := range c.Services {
			if s.Date != "" {
				c.ServiceDate = s.Date
				break
			}
		}
	}
	if c.DetailError == "" {
		c.DetailError = detail.DetailError
	}
}

// ApplyDetail merges a successfully fetched detail record and clears any earlier
// detail failure
func (c *Claim) ApplyDetail(detail *Claim) {
	if detail == nil || (detail.Key() != "" && c.Key() != "" && detail.Key() != c.Key()) {
		return
	}
	c.Merge(detail)
	c.DetailError = ""
}

// MergeClaims folds claims with the same number into one record, preserving first-seen order
func MergeClaims(claims []*Claim) []*Claim {
	out := make([]*Claim, 0, len(claims))
	seen := make(map[string]*Claim, len(claims))
	for _, c := range claims {
		if c == nil {
			continue
		}
		key := c.Key()
		if key == "" {
			out = append(out, c)
			continue
		}
		if existing, ok := seen[key]; ok {
			existing.Merge(c)
			continue
		}
		seen[key] = c
		out = append(out, c)
	}
	return out
}
