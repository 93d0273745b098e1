// Package apiportal reads portals whose pages are thin clients over a JSON
// backend. Login still happens in the browser; once authenticated, the session
// token is lifted out of the browser state and queries go straight to the API.
package apiportal

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ternarybob/portalx/internal/models"
	"github.com/tidwall/gjson"
)

// Profile describes one API-backed portal
type Profile struct {
	Name  string
	Login models.LoginProfile

	GraphQLPath string
	// ClaimsPath and ClaimDetailPath are formatted with the member id and claim number
	ClaimsPath      string
	ClaimDetailPath string
	PageSize        int

	// Where the browser keeps the API token: localStorage keys, paths inside a
	// JSON-valued key, then cookie names
	TokenStorageKeys []string
	TokenJSONPaths   []string
	TokenCookieNames []string

	RequestsPerSecond float64
	Burst             int

	Obstacles []models.ObstacleRule
}

// MetLife is the built-in profile for the MetLife dental provider portal
func MetLife() Profile {
	return Profile{
		Name: "metlife",
		Login: models.LoginProfile{
			LoginURL:            "/providers/login",
			ProbeURL:            "/providers/home",
			LoginURLPattern:     regexp.MustCompile(`(?i)/(login|signin|oauth2?/)`),
			UsernameSelector:    `input[name="username"]`,
			PasswordSelector:    `input[name="password"]`,
			SubmitSelector:      `button[type="submit"]`,
			PostAuthSelector:    `[data-testid="provider-home"], header [aria-label="Account menu"]`,
			OTPInputSelector:    `input[name="passcode"], input[autocomplete="one-time-code"]`,
			OTPSubmitSelector:   `button[data-type="verify"]`,
			TrustDeviceSelector: `input[type="checkbox"][name="rememberDevice"]`,
		},
		GraphQLPath:       "/graphql",
		ClaimsPath:        "/members/%s/claims",
		ClaimDetailPath:   "/claims/%s",
		PageSize:          25,
		TokenStorageKeys:  []string{"okta-token-storage", "access_token"},
		TokenJSONPaths:    []string{"accessToken.accessToken", "access_token", "token"},
		TokenCookieNames:  []string{"ACCESS_TOKEN"},
		RequestsPerSecond: DefaultRateLimit,
		Burst:             DefaultRateLimit,
		Obstacles: []models.ObstacleRule{
			{
				Kind:   models.ObstacleDialog,
				Detect: []string{`[role="dialog"][data-testid="announcement"]`},
				Close:  []string{`[data-testid="announcement"] button[aria-label="Close"]`},
			},
		},
	}
}

// ApplyOverrides returns a copy of the profile with config overrides applied;
// unknown keys are returned so the caller can warn
func (p Profile) ApplyOverrides(overrides map[string]string) (Profile, []string, error) {
	out := p
	out.TokenStorageKeys = append([]string(nil), p.TokenStorageKeys...)
	out.TokenJSONPaths = append([]string(nil), p.TokenJSONPaths...)
	out.TokenCookieNames = append([]string(nil), p.TokenCookieNames...)

	strs := map[string]*string{
		"login_url":         &out.Login.LoginURL,
		"probe_url":         &out.Login.ProbeURL,
		"username":          &out.Login.UsernameSelector,
		"password":          &out.Login.PasswordSelector,
		"submit":            &out.Login.SubmitSelector,
		"post_auth":         &out.Login.PostAuthSelector,
		"otp_input":         &out.Login.OTPInputSelector,
		"otp_submit":        &out.Login.OTPSubmitSelector,
		"trust_device":      &out.Login.TrustDeviceSelector,
		"graphql_path":      &out.GraphQLPath,
		"claims_path":       &out.ClaimsPath,
		"claim_detail_path": &out.ClaimDetailPath,
	}
	lists := map[string]*[]string{
		"token_storage_keys": &out.TokenStorageKeys,
		"token_json_paths":   &out.TokenJSONPaths,
		"token_cookie_names": &out.TokenCookieNames,
	}

	var unknown []string
	for key, value := range overrides {
		key = strings.ToLower(strings.TrimSpace(key))
		if target, ok := strs[key]; ok {
			*target = value
			continue
		}
		if target, ok := lists[key]; ok {
			*target = strings.FieldsFunc(value, func(r rune) bool { return r == '|' || r == ',' })
			continue
		}
		if key == "login_url_pattern" {
			re, err := regexp.Compile(value)
			if err != nil {
				return p, nil, &models.ConfigError{Field: "selectors.login_url_pattern", Msg: err.Error()}
			}
			out.Login.LoginURLPattern = re
			continue
		}
		unknown = append(unknown, key)
	}
	return out, unknown, nil
}

// LiftToken finds the API token in an exported browser state. Storage keys win
// over cookies; an empty string means the API relies on cookies alone.
func LiftToken(state *models.StoredState, p Profile) string {
	if state == nil {
		return ""
	}
	for _, key := range p.TokenStorageKeys {
		raw := strings.TrimSpace(state.LocalStorage[key])
		if raw == "" {
			continue
		}
		if gjson.Valid(raw) {
			doc := gjson.Parse(raw)
			if doc.Type == gjson.String {
				return doc.String()
			}
			for _, path := range p.TokenJSONPaths {
				if v := doc.Get(path); v.Exists() && v.String() != "" {
					return v.String()
				}
			}
			continue
		}
		return raw
	}
	for _, name := range p.TokenCookieNames {
		for _, ck := range state.Cookies {
			if ck.Name == name && ck.Value != "" {
				return ck.Value
			}
		}
	}
	return ""
}

func (p Profile) claimsPath(memberID string) string {
	return fmt.Sprintf(p.ClaimsPath, memberID)
}

func (p Profile) claimDetailPath(number string) string {
	return fmt.Sprintf(p.ClaimDetailPath, number)
}
