package models

import (
	"encoding/json"
	"math"
	"sort"
	"time"
)

// ExtractionResult is the single normalised output of one patient extraction
type ExtractionResult struct {
	Portal         string               `json:"portal"`
	ExtractionDate time.Time            `json:"extractionDate"`
	Patient        PatientQuery         `json:"patient"`
	Eligibility    *EligibilitySnapshot `json:"eligibility"`
	Claims         []*Claim             `json:"claims"`

	// Found is false when the search returned no matching patient
	Found bool `json:"found"`
}

// Summary is an aggregate derived from the claims of a result
type Summary struct {
	TotalClaims              int      `json:"totalClaims"`
	TotalServices            int      `json:"totalServices"`
	TotalBilled              float64  `json:"totalBilled"`
	TotalPaid                float64  `json:"totalPaid"`
	PatientResponsibility    float64  `json:"patientResponsibility"`
	ProcedureCodes           []string `json:"procedureCodes"`
	ClaimsWithDetailFailures int      `json:"claimsWithDetailFailures"`
}

// Summary recomputes the aggregate from the claims on every call
func (r *ExtractionResult) Summary() Summary {
	s := Summary{ProcedureCodes: []string{}}
	codes := map[string]struct{}{}

	for _, c := range r.Claims {
		if c == nil {
			continue
		}
		s.TotalClaims++
		s.TotalServices += len(c.Services)
		s.TotalBilled += c.Billed
		s.TotalPaid += c.Paid
		s.PatientResponsibility += c.PatientPay
		if c.DetailError != "" {
			s.ClaimsWithDetailFailures++
		}
		for _, line := range c.Services {
			if line.ProcedureCode != "" {
				codes[line.ProcedureCode] = struct{}{}
			}
		}
	}

	for code := range codes {
		s.ProcedureCodes = append(s.ProcedureCodes, code)
	}
	sort.Strings(s.ProcedureCodes)

	s.TotalBilled = roundCents(s.TotalBilled)
	s.TotalPaid = roundCents(s.TotalPaid)
	s.PatientResponsibility = roundCents(s.PatientResponsibility)

	return s
}

// MarshalJSON adds the derived summary to the output
func (r ExtractionResult) MarshalJSON() ([]byte, error) {
	type plain ExtractionResult
	claims := r.Claims
	if claims == nil {
		claims = []*Claim{}
	}
	p := plain(r)
	p.Claims = claims
	return json.Marshal(struct {
		plain
		Summary Summary `json:"summary"`
	}{
		plain:   p,
		Summary: r.Summary(),
	})
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
