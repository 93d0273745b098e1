package models

import (
	"encoding/json"
)

// EligibilitySnapshot is the benefit summary for one patient. Nil amounts mean the
// portal did not report the value.
type EligibilitySnapshot struct {
	Network               string             `json:"network,omitempty"`
	PlanName              string             `json:"planName,omitempty"`
	AnnualMaximum         *float64           `json:"annualMaximum"`
	AnnualMaximumUsed     *float64           `json:"annualMaximumUsed"`
	Deductible            *float64           `json:"deductible"`
	DeductibleMet         *float64           `json:"deductibleMet"`
	CoinsuranceByCategory map[string]float64 `json:"coinsuranceByCategory,omitempty"`
}

// AnnualMaximumRemaining is derived on every call and never negative
func (e *EligibilitySnapshot) AnnualMaximumRemaining() *float64 {
	if e == nil || e.AnnualMaximum == nil || e.AnnualMaximumUsed == nil {
		return nil
	}
	remaining := *e.AnnualMaximum - *e.AnnualMaximumUsed
	if remaining < 0 {
		remaining = 0
	}
	return &remaining
}

// IsEmpty reports whether no eligibility field was found
func (e *EligibilitySnapshot) IsEmpty() bool {
	return e == nil || (e.Network == "" && e.PlanName == "" &&
		e.AnnualMaximum == nil && e.AnnualMaximumUsed == nil &&
		e.Deductible == nil && e.DeductibleMet == nil &&
		len(e.CoinsuranceByCategory) == 0)
}

// MarshalJSON adds the derived remaining maximum to the output
func (e EligibilitySnapshot) MarshalJSON() ([]byte, error) {
	type plain EligibilitySnapshot
	return json.Marshal(struct {
		plain
		AnnualMaximumRemaining *float64 `json:"annualMaximumRemaining"`
	}{
		plain:                  plain(e),
		AnnualMaximumRemaining: e.AnnualMaximumRemaining(),
	})
}

// Amount returns a pointer to v, for building snapshots
func Amount(v float64) *float64 {
	return &v
}
