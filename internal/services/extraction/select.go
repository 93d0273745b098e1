package extraction

import (
	"strings"

	"github.com/antzucaro/matchr"
	"github.com/ternarybob/portalx/internal/interfaces"
	"github.com/ternarybob/portalx/internal/models"
)

// SelectionReason records how a search result was chosen
type SelectionReason string

const (
	SelectedExact SelectionReason = "exact"
	SelectedFuzzy SelectionReason = "fuzzy"
	SelectedFirst SelectionReason = "first"
)

// SelectCandidate picks the result for query: an exact name match (preferring
// one whose date of birth also agrees), else the closest Jaro-Winkler match at or
// above minScore, else the first result. candidates must not be empty.
func SelectCandidate(candidates []interfaces.Candidate, query models.PatientQuery, minScore float64) (interfaces.Candidate, SelectionReason) {
	want := query.FullName()

	exact := -1
	for i, c := range candidates {
		if candidateName(c) != want {
			continue
		}
		if c.DOB != "" && c.DOB == query.DateOfBirth {
			return c, SelectedExact
		}
		if exact < 0 && (c.DOB == "" || query.DateOfBirth == "") {
			exact = i
		}
	}
	if exact >= 0 {
		return candidates[exact], SelectedExact
	}

	best, bestScore := -1, 0.0
	for i, c := range candidates {
		score := matchr.JaroWinkler(candidateName(c), want, false)
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	if best >= 0 && bestScore >= minScore {
		return candidates[best], SelectedFuzzy
	}

	return candidates[0], SelectedFirst
}

// candidateName renders a result as "FIRST LAST"
func candidateName(c interfaces.Candidate) string {
	if c.FirstName != "" || c.LastName != "" {
		return strings.TrimSpace(strings.ToUpper(c.FirstName + " " + c.LastName))
	}
	name := strings.ToUpper(strings.Join(strings.Fields(c.Name), " "))
	if last, first, ok := strings.Cut(name, ","); ok {
		return strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
	}
	return name
}
