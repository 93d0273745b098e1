package apiportal

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/portalx/internal/common"
	"github.com/ternarybob/portalx/internal/interfaces"
	"github.com/ternarybob/portalx/internal/models"
	"github.com/ternarybob/portalx/internal/parser"
	"github.com/tidwall/gjson"
)

const memberSearchQuery = `query MemberSearch($subscriberId: String!, $firstName: String!, $lastName: String!, $dateOfBirth: String!, $matchMode: String) {
  memberSearch(subscriberId: $subscriberId, firstName: $firstName, lastName: $lastName, dateOfBirth: $dateOfBirth, matchMode: $matchMode) {
    duplicate
    members { id memberId firstName lastName dateOfBirth }
  }
}`

const eligibilityQuery = `query Eligibility($memberId: ID!) {
  eligibility(memberId: $memberId) {
    network planName annualMaximum annualMaximumUsed deductible deductibleMet
    coinsurance { category percent }
  }
}`

// Adapter implements interfaces.PortalAdapter over the portal's JSON backend.
// It is bound to one session: the selected member and claims cursor live here.
type Adapter struct {
	profile   Profile
	apiURL    string
	userAgent string
	config    common.ExtractionConfig
	logger    arbor.ILogger

	client     *Client
	memberID   string
	claimsPage int
	hasNext    bool
}

var _ interfaces.PortalAdapter = (*Adapter)(nil)

// New creates an adapter; the browser logs in against baseURL, data comes from apiURL
func New(profile Profile, baseURL, apiURL, userAgent string, config common.ExtractionConfig, logger arbor.ILogger) (*Adapter, error) {
	base, err := url.Parse(baseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, &models.ConfigError{Field: "base_url", Msg: fmt.Sprintf("portal %s needs an absolute base URL, got %q", profile.Name, baseURL)}
	}
	if apiURL == "" {
		return nil, &models.ConfigError{Field: "api_url", Msg: fmt.Sprintf("portal %s needs an API URL", profile.Name)}
	}
	if profile.PageSize < 1 {
		profile.PageSize = 25
	}

	for _, u := range []*string{&profile.Login.LoginURL, &profile.Login.ProbeURL} {
		if ref, err := url.Parse(*u); err == nil && *u != "" {
			*u = base.ResolveReference(ref).String()
		}
	}

	return &Adapter{
		profile:   profile,
		apiURL:    apiURL,
		userAgent: userAgent,
		config:    config,
		logger:    logger,
	}, nil
}

func (a *Adapter) Name() string { return a.profile.Name }

func (a *Adapter) Login() models.LoginProfile { return a.profile.Login }

func (a *Adapter) Obstacles() []models.ObstacleRule { return a.profile.Obstacles }

// api returns a client carrying the browser's current session
func (a *Adapter) api(ctx context.Context, page interfaces.Page) (*Client, error) {
	if a.client != nil {
		return a.client, nil
	}

	state, err := page.ExportState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read browser session: %w", err)
	}
	token := LiftToken(state, a.profile)
	if token == "" && len(state.Cookies) == 0 {
		return nil, fmt.Errorf("no API session found in the browser for %s", a.profile.Name)
	}

	client := NewClient(a.apiURL,
		WithUserAgent(a.userAgent),
		WithRateLimit(a.profile.RequestsPerSecond, a.profile.Burst),
		WithLogger(a.logger),
	)
	client.Authorize(token, state.Cookies)
	a.logger.Debug().Str("portal", a.profile.Name).Bool("bearer", token != "").Int("cookies", len(state.Cookies)).Msg("API session lifted from browser")

	a.client = client
	return client, nil
}

// dropRejected forgets the cached client when the backend refused its session, so the
// next call lifts the token again from the (possibly re-authenticated) browser
func (a *Adapter) dropRejected(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Unauthorized() {
		a.logger.Debug().Str("portal", a.profile.Name).Int("status", apiErr.StatusCode).Msg("API session rejected, token will be lifted again")
		a.client = nil
	}
	return err
}

// Search runs the member search query
func (a *Adapter) Search(ctx context.Context, page interfaces.Page, query models.PatientQuery) (*interfaces.SearchOutcome, error) {
	return a.search(ctx, page, query, "")
}

// Disambiguate re-runs the search requiring every identity field to match exactly
func (a *Adapter) Disambiguate(ctx context.Context, page interfaces.Page, query models.PatientQuery) (*interfaces.SearchOutcome, error) {
	outcome, err := a.search(ctx, page, query, "EXACT")
	if err != nil {
		return nil, err
	}
	if outcome.NeedsDisambiguation {
		return nil, fmt.Errorf("portal still reports duplicate members after an exact search")
	}
	return outcome, nil
}

func (a *Adapter) search(ctx context.Context, page interfaces.Page, query models.PatientQuery, matchMode string) (*interfaces.SearchOutcome, error) {
	client, err := a.api(ctx, page)
	if err != nil {
		return nil, err
	}

	vars := map[string]any{
		"subscriberId": query.SubscriberID,
		"firstName":    query.FirstName,
		"lastName":     query.LastName,
		"dateOfBirth":  query.DateOfBirth,
	}
	if matchMode != "" {
		vars["matchMode"] = matchMode
	}

	data, err := client.GraphQL(ctx, a.profile.GraphQLPath, "MemberSearch", memberSearchQuery, vars)
	if err != nil {
		return nil, a.dropRejected(err)
	}

	result := data.Get("memberSearch")
	outcome := &interfaces.SearchOutcome{NeedsDisambiguation: result.Get("duplicate").Bool()}
	result.Get("members").ForEach(func(_, m gjson.Result) bool {
		first := strings.ToUpper(strings.TrimSpace(m.Get("firstName").String()))
		last := strings.ToUpper(strings.TrimSpace(m.Get("lastName").String()))
		outcome.Candidates = append(outcome.Candidates, interfaces.Candidate{
			Index:     len(outcome.Candidates),
			Name:      strings.TrimSpace(first + " " + last),
			FirstName: first,
			LastName:  last,
			DOB:       parser.NormalizeDate(m.Get("dateOfBirth").String()),
			MemberID:  m.Get("memberId").String(),
			Ref:       m.Get("id").String(),
		})
		return true
	})
	return outcome, nil
}

// OpenResult selects the member all later queries are about
func (a *Adapter) OpenResult(ctx context.Context, page interfaces.Page, candidate interfaces.Candidate) error {
	if candidate.Ref == "" {
		return fmt.Errorf("member %q has no id", candidate.Name)
	}
	a.memberID = candidate.Ref
	a.claimsPage = 0
	a.hasNext = false
	return nil
}

// ExtractEligibility reads the member's benefit summary
func (a *Adapter) ExtractEligibility(ctx context.Context, page interfaces.Page) (*models.EligibilitySnapshot, error) {
	client, err := a.selected(ctx, page)
	if err != nil {
		return nil, err
	}

	data, err := client.GraphQL(ctx, a.profile.GraphQLPath, "Eligibility", eligibilityQuery, map[string]any{"memberId": a.memberID})
	if err != nil {
		return nil, a.dropRejected(err)
	}

	e := data.Get("eligibility")
	snap := &models.EligibilitySnapshot{
		Network:           e.Get("network").String(),
		PlanName:          e.Get("planName").String(),
		AnnualMaximum:     optionalAmount(e.Get("annualMaximum")),
		AnnualMaximumUsed: optionalAmount(e.Get("annualMaximumUsed")),
		Deductible:        optionalAmount(e.Get("deductible")),
		DeductibleMet:     optionalAmount(e.Get("deductibleMet")),
	}
	e.Get("coinsurance").ForEach(func(_, c gjson.Result) bool {
		category := strings.ToLower(strings.TrimSpace(c.Get("category").String()))
		pct, ok := percent(c.Get("percent"))
		if category != "" && ok {
			if snap.CoinsuranceByCategory == nil {
				snap.CoinsuranceByCategory = map[string]float64{}
			}
			snap.CoinsuranceByCategory[category] = pct
		}
		return true
	})
	return snap, nil
}

func percent(v gjson.Result) (float64, bool) {
	if v.Type == gjson.Number {
		return v.Float(), true
	}
	return parser.ParsePercent(v.String())
}

func optionalAmount(v gjson.Result) *float64 {
	if !v.Exists() || v.Type == gjson.Null {
		return nil
	}
	return parser.ParseOptionalAmount(v.String())
}

func (a *Adapter) selected(ctx context.Context, page interfaces.Page) (*Client, error) {
	if a.memberID == "" {
		return nil, fmt.Errorf("no member selected")
	}
	return a.api(ctx, page)
}

// OpenClaims rewinds the claims cursor to the first page
func (a *Adapter) OpenClaims(ctx context.Context, page interfaces.Page) error {
	if _, err := a.selected(ctx, page); err != nil {
		return err
	}
	a.claimsPage = 1
	a.hasNext = false
	return nil
}

// ReadClaimsPage fetches the page the cursor points at
func (a *Adapter) ReadClaimsPage(ctx context.Context, page interfaces.Page) ([]*models.Claim, error) {
	client, err := a.selected(ctx, page)
	if err != nil {
		return nil, err
	}
	if a.claimsPage < 1 {
		a.claimsPage = 1
	}

	doc, err := client.Get(ctx, a.profile.claimsPath(url.PathEscape(a.memberID)), map[string]string{
		"page":     strconv.Itoa(a.claimsPage),
		"pageSize": strconv.Itoa(a.profile.PageSize),
	})
	if err != nil {
		return nil, a.dropRejected(err)
	}

	var claims []*models.Claim
	doc.Get("claims").ForEach(func(_, c gjson.Result) bool {
		if claim := claimFromJSON(c); claim.Number != "" {
			claims = append(claims, claim)
		}
		return true
	})

	a.hasNext = doc.Get("hasNext").Bool()
	if !doc.Get("hasNext").Exists() {
		a.hasNext = doc.Get("pagination.page").Int() < doc.Get("pagination.totalPages").Int()
	}
	return models.MergeClaims(claims), nil
}

// NextClaimsPage advances the cursor when the last page said there is more
func (a *Adapter) NextClaimsPage(ctx context.Context, page interfaces.Page) (bool, error) {
	if !a.hasNext {
		return false, nil
	}
	a.claimsPage++
	a.hasNext = false
	return true, nil
}

// FetchClaimDetail loads a claim with its service lines
func (a *Adapter) FetchClaimDetail(ctx context.Context, page interfaces.Page, claim *models.Claim) (*models.Claim, error) {
	client, err := a.api(ctx, page)
	if err != nil {
		return nil, err
	}

	path := claim.DetailRef
	if path == "" {
		path = a.profile.claimDetailPath(url.PathEscape(claim.Number))
	}
	doc, err := client.Get(ctx, path, nil)
	if err != nil {
		return nil, a.dropRejected(err)
	}

	body := doc
	if c := doc.Get("claim"); c.IsObject() {
		body = c
	}
	detail := claimFromJSON(body)
	if detail.Number == "" {
		detail.Number = claim.Number
	}
	return detail, nil
}

func claimFromJSON(c gjson.Result) *models.Claim {
	claim := &models.Claim{
		Number:      strings.TrimSpace(c.Get("claimNumber").String()),
		ServiceDate: parser.NormalizeDate(c.Get("serviceDate").String()),
		Status:      c.Get("status").String(),
		Billed:      amount(c.Get("billedAmount")),
		Paid:        amount(c.Get("paidAmount")),
		PatientPay:  amount(c.Get("patientResponsibility")),
		Provider:    c.Get("providerName").String(),
		DetailRef:   c.Get("links.detail").String(),
	}

	c.Get("serviceLines").ForEach(func(_, l gjson.Result) bool {
		code := strings.ToUpper(strings.TrimSpace(l.Get("procedureCode").String()))
		if !parser.IsCDTCode(code) {
			return true
		}
		claim.Services = append(claim.Services, models.ServiceLine{
			Date:          parser.NormalizeDate(l.Get("serviceDate").String()),
			ProcedureCode: code,
			Description:   l.Get("description").String(),
			Tooth:         l.Get("tooth").String(),
			Billed:        amount(l.Get("billedAmount")),
			PatientPay:    amount(l.Get("patientResponsibility")),
			Paid:          amount(l.Get("paidAmount")),
			Status:        l.Get("status").String(),
		})
		return true
	})
	if claim.ServiceDate == "" && len(claim.Services) > 0 {
		claim.ServiceDate = claim.Services[0].Date
	}
	return claim
}

func amount(v gjson.Result) float64 {
	if !v.Exists() {
		return 0
	}
	return parser.ParseAmount(v.String())
}
