package htmlportal

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/portalx/internal/common"
	"github.com/ternarybob/portalx/internal/interfaces"
	"github.com/ternarybob/portalx/internal/models"
	"github.com/ternarybob/portalx/internal/parser"
	"github.com/ternarybob/portalx/internal/services/navigation"
)

const (
	probeTimeout = 300 * time.Millisecond
	pollInterval = 250 * time.Millisecond
)

// Adapter implements interfaces.PortalAdapter for a browser-rendered portal
type Adapter struct {
	profile Profile
	baseURL *url.URL
	guard   *navigation.Guard
	config  common.ExtractionConfig
	logger  arbor.ILogger
}

var _ interfaces.PortalAdapter = (*Adapter)(nil)

// New creates an adapter for profile served from baseURL
func New(profile Profile, baseURL string, guard *navigation.Guard, config common.ExtractionConfig, logger arbor.ILogger) (*Adapter, error) {
	base, err := url.Parse(baseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, &models.ConfigError{Field: "base_url", Msg: fmt.Sprintf("portal %s needs an absolute base URL, got %q", profile.Name, baseURL)}
	}
	if profile.SearchURL == "" || profile.Login.LoginURL == "" {
		return nil, &models.ConfigError{Field: "selectors", Msg: fmt.Sprintf("portal %s needs search_url and login_url", profile.Name)}
	}

	a := &Adapter{
		profile: profile,
		baseURL: base,
		guard:   guard,
		config:  config,
		logger:  logger,
	}
	a.profile.Login.LoginURL = a.resolve(profile.Login.LoginURL)
	a.profile.Login.ProbeURL = a.resolve(profile.Login.ProbeURL)
	return a, nil
}

func (a *Adapter) Name() string { return a.profile.Name }

func (a *Adapter) Login() models.LoginProfile { return a.profile.Login }

func (a *Adapter) Obstacles() []models.ObstacleRule { return a.profile.Obstacles }

// resolve turns a profile-relative URL into an absolute one
func (a *Adapter) resolve(ref string) string {
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return a.baseURL.ResolveReference(u).String()
}

// Search fills the patient search form and reports what the portal showed
func (a *Adapter) Search(ctx context.Context, page interfaces.Page, query models.PatientQuery) (*interfaces.SearchOutcome, error) {
	p := a.profile
	if err := a.guard.Goto(ctx, page, a.resolve(p.SearchURL)); err != nil {
		return nil, fmt.Errorf("failed to open patient search: %w", err)
	}

	inputs := []struct {
		selector string
		value    string
	}{
		{p.SubscriberIDSelector, query.SubscriberID},
		{p.FirstNameSelector, query.FirstName},
		{p.LastNameSelector, query.LastName},
		{p.DOBSelector, query.DOBAs(a.dobLayout())},
	}

	first := true
	for _, in := range inputs {
		if in.selector == "" {
			continue
		}
		if first {
			if err := page.WaitVisible(ctx, in.selector, a.config.ResultsTimeout.Duration); err != nil {
				return nil, fmt.Errorf("search form never rendered: %w", err)
			}
			first = false
		}
		if err := page.Fill(ctx, in.selector, in.value); err != nil {
			return nil, fmt.Errorf("failed to fill search form: %w", err)
		}
	}

	if err := page.Click(ctx, p.SearchSubmitSelector); err != nil {
		return nil, fmt.Errorf("failed to submit search: %w", err)
	}

	return a.readOutcome(ctx, page)
}

// Disambiguate answers a duplicate-identification prompt with the secondary field
func (a *Adapter) Disambiguate(ctx context.Context, page interfaces.Page, query models.PatientQuery) (*interfaces.SearchOutcome, error) {
	p := a.profile
	if p.DisambiguationInputSelector == "" {
		return nil, fmt.Errorf("portal %s reported duplicate identities but has no secondary field configured", p.Name)
	}

	value := secondaryValue(p.DisambiguationField, query, a.dobLayout())
	if err := page.WaitVisible(ctx, p.DisambiguationInputSelector, a.config.ResultsTimeout.Duration); err != nil {
		return nil, fmt.Errorf("secondary identity field never rendered: %w", err)
	}
	if err := page.Fill(ctx, p.DisambiguationInputSelector, value); err != nil {
		return nil, err
	}
	if err := page.Click(ctx, p.DisambiguationSubmitSelector); err != nil {
		return nil, fmt.Errorf("failed to resubmit search: %w", err)
	}

	outcome, err := a.readOutcome(ctx, page)
	if err != nil {
		return nil, err
	}
	if outcome.NeedsDisambiguation {
		return nil, fmt.Errorf("portal still reports duplicate identities after %s was supplied", p.DisambiguationField)
	}
	return outcome, nil
}

func (a *Adapter) dobLayout() string {
	if a.profile.DOBLayout == "" {
		return models.CanonicalDateLayout
	}
	return a.profile.DOBLayout
}

func secondaryValue(field Field, query models.PatientQuery, dobLayout string) string {
	switch field {
	case FieldSubscriberID:
		return query.SubscriberID
	case FieldFirstName:
		return query.FirstName
	case FieldDOB:
		return query.DOBAs(dobLayout)
	default:
		return query.LastName
	}
}

// readOutcome polls until the portal shows a result list, a patient page, a
// duplicate-identification prompt or a no-results notice
func (a *Adapter) readOutcome(ctx context.Context, page interfaces.Page) (*interfaces.SearchOutcome, error) {
	p := a.profile
	deadline := time.Now().Add(a.config.ResultsTimeout.Duration)

	for {
		if p.PatientPageSelector != "" && page.Exists(ctx, p.PatientPageSelector, probeTimeout) {
			return &interfaces.SearchOutcome{Direct: true}, nil
		}
		if p.ResultsSelector != "" && page.Exists(ctx, p.ResultsSelector, probeTimeout) {
			candidates, err := a.readCandidates(ctx, page)
			if err != nil {
				return nil, err
			}
			return &interfaces.SearchOutcome{Candidates: candidates}, nil
		}

		text, _ := page.Text(ctx, "body")
		if containsAny(text, p.DisambiguationPhrases) {
			return &interfaces.SearchOutcome{NeedsDisambiguation: true}, nil
		}
		if (p.NoResultsSelector != "" && page.Exists(ctx, p.NoResultsSelector, probeTimeout)) || containsAny(text, p.NoResultsPhrases) {
			return &interfaces.SearchOutcome{}, nil
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("no search results signal within %s", a.config.ResultsTimeout.Duration)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func containsAny(text string, phrases []string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range phrases {
		if phrase != "" && strings.Contains(lower, strings.ToLower(phrase)) {
			return true
		}
	}
	return false
}

// readCandidates reads the result rows out of the page HTML
func (a *Adapter) readCandidates(ctx context.Context, page interfaces.Page) ([]interfaces.Candidate, error) {
	p := a.profile
	markup, err := page.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read search results: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("failed to parse search results: %w", err)
	}

	var candidates []interfaces.Candidate
	doc.Find(p.ResultRowSelector).Each(func(i int, row *goquery.Selection) {
		if row.Find("td").Length() == 0 {
			return
		}
		rowText := strings.Join(strings.Fields(row.Text()), " ")

		name := rowText
		if p.ResultNameSelector != "" {
			if cell := row.Find(p.ResultNameSelector); cell.Length() > 0 {
				name = strings.Join(strings.Fields(cell.First().Text()), " ")
			}
		}
		memberID := ""
		if p.ResultIDSelector != "" {
			memberID = strings.TrimSpace(row.Find(p.ResultIDSelector).First().Text())
		}

		first, last := SplitName(name)
		ref := fmt.Sprintf("%s:nth-child(%d)", p.ResultRowSelector, i+1)
		if p.ResultLinkSelector != "" {
			ref += " " + p.ResultLinkSelector
		}
		candidates = append(candidates, interfaces.Candidate{
			Index:     len(candidates),
			Name:      name,
			FirstName: first,
			LastName:  last,
			DOB:       parser.NormalizeDate(parser.FindDate(rowText)),
			MemberID:  memberID,
			Ref:       ref,
		})
	})

	a.logger.Debug().Int("candidates", len(candidates)).Str("portal", p.Name).Msg("Search results read")
	return candidates, nil
}

// SplitName splits "LAST, FIRST" or "FIRST LAST" into upper-case parts
func SplitName(name string) (string, string) {
	name = strings.ToUpper(strings.Join(strings.Fields(name), " "))
	if last, first, ok := strings.Cut(name, ","); ok {
		return strings.TrimSpace(first), strings.TrimSpace(last)
	}
	parts := strings.Fields(name)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return "", parts[0]
	default:
		return strings.Join(parts[:len(parts)-1], " "), parts[len(parts)-1]
	}
}

// OpenResult opens the chosen patient and waits for the patient page
func (a *Adapter) OpenResult(ctx context.Context, page interfaces.Page, candidate interfaces.Candidate) error {
	if candidate.Ref == "" {
		return fmt.Errorf("result %q has no link", candidate.Name)
	}
	if err := page.Click(ctx, candidate.Ref); err != nil {
		return fmt.Errorf("failed to open result %q: %w", candidate.Name, err)
	}
	if a.profile.PatientPageSelector == "" {
		return nil
	}
	if err := page.WaitVisible(ctx, a.profile.PatientPageSelector, a.config.ResultsTimeout.Duration); err != nil {
		return fmt.Errorf("patient page never loaded: %w", err)
	}
	return nil
}

// ExtractEligibility reads the benefit summary text. A page without benefit
// figures yields an empty snapshot, not an error.
func (a *Adapter) ExtractEligibility(ctx context.Context, page interfaces.Page) (*models.EligibilitySnapshot, error) {
	p := a.profile
	if p.EligibilityTabSelector != "" && page.Exists(ctx, p.EligibilityTabSelector, a.config.ObstacleTimeout.Duration) {
		if err := page.Click(ctx, p.EligibilityTabSelector); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to open benefits tab, reading current page")
		}
	}

	selector := "body"
	if p.EligibilitySelector != "" && page.Exists(ctx, p.EligibilitySelector, a.config.ResultsTimeout.Duration) {
		selector = p.EligibilitySelector
	}

	text, err := page.Text(ctx, selector)
	if err != nil {
		return nil, fmt.Errorf("failed to read eligibility: %w", err)
	}
	return parser.ParseEligibilityText(text, p.EligibilityLabels), nil
}

// OpenClaims navigates to the claims history
func (a *Adapter) OpenClaims(ctx context.Context, page interfaces.Page) error {
	p := a.profile
	switch {
	case p.ClaimsURL != "":
		if err := a.guard.Goto(ctx, page, a.resolve(p.ClaimsURL)); err != nil {
			return fmt.Errorf("failed to open claims: %w", err)
		}
	case p.ClaimsLinkSelector != "":
		if err := page.Click(ctx, p.ClaimsLinkSelector); err != nil {
			return fmt.Errorf("failed to open claims: %w", err)
		}
		_ = page.WaitNetworkIdle(ctx, a.guard.Defaults().IdleTimeout)
	}

	if p.ClaimsReadySelector != "" {
		if err := page.WaitVisible(ctx, p.ClaimsReadySelector, a.config.ResultsTimeout.Duration); err != nil {
			return fmt.Errorf("claims history never rendered: %w", err)
		}
	}
	return nil
}

// ReadClaimsPage parses the claims currently rendered
func (a *Adapter) ReadClaimsPage(ctx context.Context, page interfaces.Page) ([]*models.Claim, error) {
	markup, err := page.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read claims page: %w", err)
	}
	claims, mode, err := parser.ParseClaimsHTML(markup, a.profile.ClaimHeaders)
	if err != nil {
		return nil, err
	}
	a.logger.Debug().Str("mode", string(mode)).Int("claims", len(claims)).Msg("Claims page parsed")
	return claims, nil
}

// NextClaimsPage clicks the next control unless it is disabled or absent
func (a *Adapter) NextClaimsPage(ctx context.Context, page interfaces.Page) (bool, error) {
	p := a.profile
	if p.NextSelector == "" || !page.Exists(ctx, p.NextSelector, a.config.ObstacleTimeout.Duration) {
		return false, nil
	}
	if p.NextDisabledSelector != "" && page.Exists(ctx, p.NextDisabledSelector, probeTimeout) {
		return false, nil
	}
	if err := page.Click(ctx, p.NextSelector); err != nil {
		return false, fmt.Errorf("failed to open next claims page: %w", err)
	}
	_ = page.WaitNetworkIdle(ctx, a.guard.Defaults().IdleTimeout)
	return true, nil
}

// FetchClaimDetail opens the claim's detail view in its own tab or popup and
// parses it. The list page is left where it was.
func (a *Adapter) FetchClaimDetail(ctx context.Context, page interfaces.Page, claim *models.Claim) (*models.Claim, error) {
	var (
		detailPage interfaces.Page
		err        error
	)

	if isNavigable(claim.DetailRef) {
		detailPage, err = page.OpenTab(ctx)
		if err != nil {
			return nil, err
		}
		defer detailPage.Close()
		if err := a.guard.Goto(ctx, detailPage, a.resolve(claim.DetailRef)); err != nil {
			return nil, err
		}
	} else {
		if a.profile.ClaimPopupTemplate == "" {
			return nil, fmt.Errorf("claim %s has no detail link", claim.Number)
		}
		selector := fmt.Sprintf(a.profile.ClaimPopupTemplate, claim.Number)
		detailPage, err = page.ClickForPopup(ctx, selector, a.config.PopupTimeout.Duration)
		if err != nil {
			return nil, fmt.Errorf("detail popup for claim %s did not open: %w", claim.Number, err)
		}
		defer detailPage.Close()
		_ = detailPage.WaitNetworkIdle(ctx, a.guard.Defaults().IdleTimeout)
	}

	markup, err := detailPage.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read claim detail: %w", err)
	}
	detail, err := parser.ParseClaimDetailHTML(markup, a.profile.ClaimHeaders, a.profile.ServiceLineHeaders)
	if err != nil {
		return nil, err
	}
	if detail.Number == "" {
		detail.Number = claim.Number
	}
	return detail, nil
}

// isNavigable reports whether a detail ref is a URL rather than a script handler
func isNavigable(ref string) bool {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "#") {
		return false
	}
	return !strings.HasPrefix(strings.ToLower(ref), "javascript:")
}
