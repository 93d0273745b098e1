// Package htmlportal drives server-rendered portals through the browser, reading
// everything from the DOM. A Profile is the whole per-portal surface: selectors,
// URLs, phrases and header patterns.
package htmlportal

import (
	"regexp"
	"sort"
	"strings"

	"github.com/ternarybob/portalx/internal/models"
	"github.com/ternarybob/portalx/internal/parser"
)

// Field names a search form input
type Field string

const (
	FieldSubscriberID Field = "subscriber_id"
	FieldFirstName    Field = "first_name"
	FieldLastName     Field = "last_name"
	FieldDOB          Field = "dob"
)

// Profile describes one HTML portal. URLs may be relative to the portal base URL.
type Profile struct {
	Name  string
	Login models.LoginProfile

	// Search form
	SearchURL            string
	SubscriberIDSelector string
	FirstNameSelector    string
	LastNameSelector     string
	DOBSelector          string
	DOBLayout            string
	SearchSubmitSelector string

	// Search outcome signals
	ResultsSelector     string
	NoResultsSelector   string
	NoResultsPhrases    []string
	ResultRowSelector   string
	ResultLinkSelector  string
	ResultNameSelector  string
	ResultIDSelector    string
	PatientPageSelector string

	// Duplicate identification prompt
	DisambiguationPhrases        []string
	DisambiguationField          Field
	DisambiguationInputSelector  string
	DisambiguationSubmitSelector string

	// Eligibility
	EligibilityTabSelector string
	EligibilitySelector    string
	EligibilityLabels      parser.EligibilityLabels

	// Claims
	ClaimsURL            string
	ClaimsLinkSelector   string
	ClaimsReadySelector  string
	ClaimHeaders         parser.HeaderPatterns
	ServiceLineHeaders   parser.HeaderPatterns
	NextSelector         string
	NextDisabledSelector string
	// ClaimPopupTemplate is formatted with the claim number to find the detail control
	ClaimPopupTemplate string

	Obstacles []models.ObstacleRule
}

// overrideTargets maps [portals.<name>.selectors] keys onto profile fields
func (p *Profile) overrideTargets() map[string]*string {
	return map[string]*string{
		"login_url":             &p.Login.LoginURL,
		"probe_url":             &p.Login.ProbeURL,
		"username":              &p.Login.UsernameSelector,
		"password":              &p.Login.PasswordSelector,
		"submit":                &p.Login.SubmitSelector,
		"post_auth":             &p.Login.PostAuthSelector,
		"otp_input":             &p.Login.OTPInputSelector,
		"otp_submit":            &p.Login.OTPSubmitSelector,
		"trust_device":          &p.Login.TrustDeviceSelector,
		"search_url":            &p.SearchURL,
		"subscriber_id":         &p.SubscriberIDSelector,
		"first_name":            &p.FirstNameSelector,
		"last_name":             &p.LastNameSelector,
		"dob":                   &p.DOBSelector,
		"dob_layout":            &p.DOBLayout,
		"search_submit":         &p.SearchSubmitSelector,
		"results":               &p.ResultsSelector,
		"no_results":            &p.NoResultsSelector,
		"result_row":            &p.ResultRowSelector,
		"result_link":           &p.ResultLinkSelector,
		"result_name":           &p.ResultNameSelector,
		"result_id":             &p.ResultIDSelector,
		"patient_page":          &p.PatientPageSelector,
		"disambiguation_input":  &p.DisambiguationInputSelector,
		"disambiguation_submit": &p.DisambiguationSubmitSelector,
		"eligibility_tab":       &p.EligibilityTabSelector,
		"eligibility":           &p.EligibilitySelector,
		"claims_url":            &p.ClaimsURL,
		"claims_link":           &p.ClaimsLinkSelector,
		"claims_ready":          &p.ClaimsReadySelector,
		"next":                  &p.NextSelector,
		"next_disabled":         &p.NextDisabledSelector,
		"claim_popup":           &p.ClaimPopupTemplate,
		"disambiguation_field":  (*string)(&p.DisambiguationField),
	}
}

// ApplyOverrides returns a copy of the profile with config overrides applied.
// Phrase lists are "|" separated. Unknown keys are returned so the caller can warn.
func (p Profile) ApplyOverrides(overrides map[string]string) (Profile, []string, error) {
	out := p
	out.NoResultsPhrases = append([]string(nil), p.NoResultsPhrases...)
	out.DisambiguationPhrases = append([]string(nil), p.DisambiguationPhrases...)
	out.Obstacles = append([]models.ObstacleRule(nil), p.Obstacles...)

	targets := out.overrideTargets()
	var unknown []string
	for key, value := range overrides {
		key = strings.ToLower(strings.TrimSpace(key))
		switch key {
		case "login_url_pattern":
			re, err := regexp.Compile(value)
			if err != nil {
				return p, nil, &models.ConfigError{Field: "selectors.login_url_pattern", Msg: err.Error()}
			}
			out.Login.LoginURLPattern = re
			continue
		case "disambiguation_phrases":
			out.DisambiguationPhrases = splitPhrases(value)
			continue
		case "no_results_phrases":
			out.NoResultsPhrases = splitPhrases(value)
			continue
		}
		target, ok := targets[key]
		if !ok {
			unknown = append(unknown, key)
			continue
		}
		*target = value
	}
	sort.Strings(unknown)
	return out, unknown, nil
}

func splitPhrases(value string) []string {
	var phrases []string
	for _, part := range strings.Split(value, "|") {
		if part = strings.TrimSpace(part); part != "" {
			phrases = append(phrases, part)
		}
	}
	return phrases
}

// DeltaDental is the built-in profile for the Delta Dental provider portal
func DeltaDental() Profile {
	return Profile{
		Name: "deltadental",
		Login: models.LoginProfile{
			LoginURL:            "/provider/login",
			ProbeURL:            "/provider/dashboard",
			LoginURLPattern:     regexp.MustCompile(`(?i)/(login|signin|sso)\b`),
			UsernameSelector:    `input[name="username"]`,
			PasswordSelector:    `input[type="password"]`,
			SubmitSelector:      `button[type="submit"]`,
			PostAuthSelector:    `[data-testid="provider-dashboard"], nav[aria-label="Provider tools"]`,
			OTPInputSelector:    `input[autocomplete="one-time-code"], input[name="verificationCode"]`,
			OTPSubmitSelector:   `button[data-testid="verify-code"]`,
			TrustDeviceSelector: `input[type="checkbox"][name="rememberDevice"]`,
		},

		SearchURL:            "/provider/patients/search",
		SubscriberIDSelector: `input[name="memberId"]`,
		FirstNameSelector:    `input[name="firstName"]`,
		LastNameSelector:     `input[name="lastName"]`,
		DOBSelector:          `input[name="dateOfBirth"]`,
		DOBLayout:            "01/02/2006",
		SearchSubmitSelector: `button[data-testid="patient-search-submit"]`,

		ResultsSelector:     `table[data-testid="patient-results"]`,
		NoResultsSelector:   `[data-testid="no-patients-found"]`,
		NoResultsPhrases:    []string{"no patients found", "no matching members", "no records match"},
		ResultRowSelector:   `table[data-testid="patient-results"] tbody tr`,
		ResultLinkSelector:  `a`,
		ResultNameSelector:  `td[data-label="Name"]`,
		ResultIDSelector:    `td[data-label="Member ID"]`,
		PatientPageSelector: `[data-testid="patient-summary"]`,

		DisambiguationPhrases:        []string{"duplicate identification", "more than one member matches", "multiple members found"},
		DisambiguationField:          FieldLastName,
		DisambiguationInputSelector:  `input[name="secondaryIdentifier"]`,
		DisambiguationSubmitSelector: `button[data-testid="secondary-id-submit"]`,

		EligibilityTabSelector: `a[data-testid="benefits-tab"]`,
		EligibilitySelector:    `[data-testid="benefit-summary"]`,
		EligibilityLabels:      parser.DefaultEligibilityLabels,

		ClaimsLinkSelector:   `a[data-testid="claims-tab"]`,
		ClaimsReadySelector:  `[data-testid="claims-history"]`,
		ClaimHeaders:         parser.DefaultClaimHeaders,
		ServiceLineHeaders:   parser.DefaultServiceLineHeaders,
		NextSelector:         `button[aria-label="Next page"]`,
		NextDisabledSelector: `button[aria-label="Next page"][disabled], button[aria-label="Next page"][aria-disabled="true"]`,
		ClaimPopupTemplate:   `a[data-claim-number="%s"]`,

		Obstacles: []models.ObstacleRule{
			{
				Kind:   models.ObstacleSurvey,
				Detect: []string{`#acsMainInvite`},
				Close:  []string{`#acsMainInvite a.acsInviteButton.acsDeclineButton`},
			},
		},
	}
}
