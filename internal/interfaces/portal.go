package interfaces

import (
	"context"

	"github.com/ternarybob/portalx/internal/models"
)

// Candidate is one patient row in a search result list
type Candidate struct {
	Index     int
	Name      string
	FirstName string
	LastName  string
	DOB       string
	MemberID  string
	Ref       string // adapter-specific selector, href or API id
}

// SearchOutcome is what a portal showed after a patient search was submitted
type SearchOutcome struct {
	Candidates []Candidate
	// NeedsDisambiguation is set when the portal asked for a secondary identity field
	NeedsDisambiguation bool
	// Direct is set when the portal skipped the result list and opened the patient
	Direct bool
}

// PortalAdapter hides a portal's selectors and access mode behind a fixed contract.
// An adapter instance belongs to exactly one session.
type PortalAdapter interface {
	Name() string
	Login() models.LoginProfile
	Obstacles() []models.ObstacleRule

	Search(ctx context.Context, page Page, query models.PatientQuery) (*SearchOutcome, error)
	Disambiguate(ctx context.Context, page Page, query models.PatientQuery) (*SearchOutcome, error)
	OpenResult(ctx context.Context, page Page, candidate Candidate) error

	ExtractEligibility(ctx context.Context, page Page) (*models.EligibilitySnapshot, error)

	OpenClaims(ctx context.Context, page Page) error
	ReadClaimsPage(ctx context.Context, page Page) ([]*models.Claim, error)
	// NextClaimsPage advances the claims list; false when the next control is disabled or absent
	NextClaimsPage(ctx context.Context, page Page) (bool, error)
	FetchClaimDetail(ctx context.Context, page Page, claim *models.Claim) (*models.Claim, error)
}

// OTPProvider supplies a one-time passcode. It is awaited without an internal
// timeout; the caller's context bounds it.
type OTPProvider func(ctx context.Context) (string, error)
