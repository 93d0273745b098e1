package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/ternarybob/portalx/internal/interfaces"
	"github.com/ternarybob/portalx/internal/models"
)

func TestSelectCandidate(t *testing.T) {
	query := models.PatientQuery{FirstName: "SOPHIE", LastName: "ROBINSON", DateOfBirth: "2016-09-27"}

	tests := []struct {
		name       string
		candidates []interfaces.Candidate
		wantRef    string
		wantReason SelectionReason
	}{
		{
			name: "exact name and date of birth",
			candidates: []interfaces.Candidate{
				{Name: "ROBINSON, SOPHIE", DOB: "2001-01-01", Ref: "older"},
				{Name: "ROBINSON, SOPHIE", DOB: "2016-09-27", Ref: "match"},
			},
			wantRef:    "match",
			wantReason: SelectedExact,
		},
		{
			name: "exact name without a date of birth",
			candidates: []interfaces.Candidate{
				{FirstName: "SAMUEL", LastName: "ROBINSON", Ref: "sibling"},
				{FirstName: "Sophie", LastName: "Robinson", Ref: "match"},
			},
			wantRef:    "match",
			wantReason: SelectedExact,
		},
		{
			name: "first-last name order",
			candidates: []interfaces.Candidate{
				{Name: "Samuel  Robinson", Ref: "sibling"},
				{Name: "Sophie Robinson", Ref: "match"},
			},
			wantRef:    "match",
			wantReason: SelectedExact,
		},
		{
			name: "fuzzy above threshold",
			candidates: []interfaces.Candidate{
				{Name: "JONES, MARK", Ref: "other"},
				{Name: "ROBINSON, SOPHIA", Ref: "close"},
			},
			wantRef:    "close",
			wantReason: SelectedFuzzy,
		},
		{
			name: "nothing close falls back to first",
			candidates: []interfaces.Candidate{
				{Name: "JONES, MARK", Ref: "first"},
				{Name: "SMITH, ANNA", Ref: "second"},
			},
			wantRef:    "first",
			wantReason: SelectedFirst,
		},
		{
			name: "same name with a different date of birth is not exact",
			candidates: []interfaces.Candidate{
				{Name: "JONES, MARK", Ref: "first"},
				{Name: "ROBINSON, SOPHIE", DOB: "1980-02-02", Ref: "namesake"},
			},
			wantRef:    "namesake",
			wantReason: SelectedFuzzy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := SelectCandidate(tt.candidates, query, 0.9)
			assert.Equal(t, tt.wantRef, got.Ref)
			assert.Equal(t, tt.wantReason, reason)
		})
	}
}
