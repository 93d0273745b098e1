package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var queryValidator = validator.New()

// PatientQuery identifies the patient to look up on a portal
type PatientQuery struct {
	SubscriberID string `json:"subscriberId" validate:"required"`
	FirstName    string `json:"firstName" validate:"required"`
	LastName     string `json:"lastName" validate:"required"`
	DateOfBirth  string `json:"dateOfBirth" validate:"required"`
}

// Normalize returns a validated copy with upper-cased names and a canonical DOB.
// The receiver is a value, so the caller's query is never mutated.
func (q PatientQuery) Normalize() (PatientQuery, error) {
	q.SubscriberID = strings.TrimSpace(q.SubscriberID)
	q.FirstName = strings.ToUpper(strings.Join(strings.Fields(q.FirstName), " "))
	q.LastName = strings.ToUpper(strings.Join(strings.Fields(q.LastName), " "))
	q.DateOfBirth = strings.TrimSpace(q.DateOfBirth)

	if err := queryValidator.Struct(q); err != nil {
		return PatientQuery{}, fmt.Errorf("invalid patient query: %w", err)
	}

	// A birth year needs its century; 3/4/55 could be 1955 or 2055
	dob, ok := ParseFullYearDate(q.DateOfBirth)
	if !ok {
		return PatientQuery{}, fmt.Errorf("invalid patient query: unrecognised date of birth %q, use a four-digit year", q.DateOfBirth)
	}
	q.DateOfBirth = dob.Format(CanonicalDateLayout)

	return q, nil
}

// DOBAs renders the date of birth in a portal-specific layout
func (q PatientQuery) DOBAs(layout string) string {
	t, err := time.Parse(CanonicalDateLayout, q.DateOfBirth)
	if err != nil {
		return q.DateOfBirth
	}
	return t.Format(layout)
}

// FullName returns "FIRST LAST"
func (q PatientQuery) FullName() string {
	return strings.TrimSpace(q.FirstName + " " + q.LastName)
}
