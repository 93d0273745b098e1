package apiportal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/portalx/internal/browser/pagetest"
	"github.com/ternarybob/portalx/internal/common"
	"github.com/ternarybob/portalx/internal/interfaces"
	"github.com/ternarybob/portalx/internal/models"
)

// mockBackend is a small stand-in for a portal's JSON API
type mockBackend struct {
	mu         sync.Mutex
	auth       []string
	operations []string
	claimPages []string
	duplicate  bool
	failDetail map[string]int
	// rejectAuth is an Authorization header the backend answers with 401
	rejectAuth string
}

func newMockBackend(t *testing.T) (*mockBackend, *httptest.Server) {
	t.Helper()
	mb := &mockBackend{failDetail: map[string]int{}}

	mux := http.NewServeMux()
	mux.HandleFunc("/graphql", mb.handleGraphQL)
	mux.HandleFunc("/members/M-1/claims", mb.handleClaims)
	mux.HandleFunc("/claims/", mb.handleClaimDetail)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return mb, srv
}

func (mb *mockBackend) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (mb *mockBackend) handleGraphQL(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OperationName string         `json:"operationName"`
		Variables     map[string]any `json:"variables"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		mb.writeJSON(w, http.StatusBadRequest, map[string]any{"message": "bad request"})
		return
	}

	mb.mu.Lock()
	mb.auth = append(mb.auth, r.Header.Get("Authorization"))
	mb.operations = append(mb.operations, req.OperationName)
	duplicate := mb.duplicate && req.Variables["matchMode"] != "EXACT"
	rejected := mb.rejectAuth != "" && r.Header.Get("Authorization") == mb.rejectAuth
	mb.mu.Unlock()

	if rejected {
		mb.writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "token expired"})
		return
	}

	switch req.OperationName {
	case "MemberSearch":
		members := []map[string]any{
			{"id": "M-1", "memberId": "825978894", "firstName": "Sophie", "lastName": "Robinson", "dateOfBirth": "09/27/2016"},
		}
		if duplicate {
			members = nil
		}
		mb.writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{
			"memberSearch": map[string]any{"duplicate": duplicate, "members": members},
		}})
	case "Eligibility":
		mb.writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{
			"eligibility": map[string]any{
				"network":           "PDP Plus",
				"planName":          "Dental Basic",
				"annualMaximum":     "$1,500.00",
				"annualMaximumUsed": 300,
				"deductible":        50,
				"deductibleMet":     nil,
				"coinsurance": []map[string]any{
					{"category": "Preventive", "percent": 100},
					{"category": "Basic", "percent": "80%"},
				},
			},
		}})
	default:
		mb.writeJSON(w, http.StatusOK, map[string]any{"errors": []map[string]any{{"message": "unknown operation"}}})
	}
}

func (mb *mockBackend) handleClaims(w http.ResponseWriter, r *http.Request) {
	page := r.URL.Query().Get("page")
	mb.mu.Lock()
	mb.claimPages = append(mb.claimPages, page)
	mb.mu.Unlock()

	switch page {
	case "1":
		mb.writeJSON(w, http.StatusOK, map[string]any{
			"hasNext": true,
			"claims": []map[string]any{
				{"claimNumber": "C0001", "serviceDate": "2024-01-01", "status": "Paid", "billedAmount": 100, "paidAmount": 80, "patientResponsibility": 20},
				{"claimNumber": "C0002", "serviceDate": "01/02/2024", "status": "Paid", "billedAmount": "$200.00", "paidAmount": "$160.00", "links": map[string]any{"detail": "/claims/C0002"}},
			},
		})
	default:
		mb.writeJSON(w, http.StatusOK, map[string]any{
			"hasNext": false,
			"claims": []map[string]any{
				{"claimNumber": "C0003", "serviceDate": "2024-01-03", "billedAmount": 50},
			},
		})
	}
}

func (mb *mockBackend) handleClaimDetail(w http.ResponseWriter, r *http.Request) {
	number := r.URL.Path[len("/claims/"):]
	if number == "C0009" {
		mb.writeJSON(w, http.StatusNotFound, map[string]any{"message": "claim not found"})
		return
	}
	mb.writeJSON(w, http.StatusOK, map[string]any{"claim": map[string]any{
		"claimNumber": number,
		"status":      "Paid",
		"serviceLines": []map[string]any{
			{"serviceDate": "2024-01-02", "procedureCode": "D1120", "billedAmount": 120, "paidAmount": 96},
			{"serviceDate": "2024-01-02", "procedureCode": "d1206", "billedAmount": 80, "paidAmount": 64},
			{"serviceDate": "2024-01-02", "procedureCode": "ADJ", "billedAmount": 0},
		},
	}})
}

func newTestAdapter(t *testing.T, apiURL string) *Adapter {
	t.Helper()
	profile := MetLife()
	profile.RequestsPerSecond = 1000
	profile.Burst = 100
	a, err := New(profile, "https://portal.test", apiURL, "test-agent", common.NewDefaultConfig().Extraction, arbor.NewNoOpLogger())
	require.NoError(t, err)
	return a
}

func loggedInPage() *pagetest.FakePage {
	return pagetest.New().SetState(&models.StoredState{
		LocalStorage: map[string]string{
			"okta-token-storage": `{"accessToken":{"accessToken":"tok-123","tokenType":"Bearer"}}`,
		},
		Cookies: []models.StoredCookie{{Name: "JSESSIONID", Value: "abc", Domain: "127.0.0.1", Path: "/"}},
	})
}

func sophie() models.PatientQuery {
	return models.PatientQuery{SubscriberID: "825978894", FirstName: "SOPHIE", LastName: "ROBINSON", DateOfBirth: "2016-09-27"}
}

func TestAdapter_SearchAndEligibility(t *testing.T) {
	mb, srv := newMockBackend(t)
	a := newTestAdapter(t, srv.URL)
	page := loggedInPage()
	ctx := context.Background()

	outcome, err := a.Search(ctx, page, sophie())
	require.NoError(t, err)
	require.Len(t, outcome.Candidates, 1)
	c := outcome.Candidates[0]
	assert.Equal(t, "SOPHIE", c.FirstName)
	assert.Equal(t, "ROBINSON", c.LastName)
	assert.Equal(t, "2016-09-27", c.DOB)
	assert.Equal(t, "M-1", c.Ref)

	require.NoError(t, a.OpenResult(ctx, page, c))
	snap, err := a.ExtractEligibility(ctx, page)
	require.NoError(t, err)

	assert.Equal(t, "PDP Plus", snap.Network)
	assert.Equal(t, 1500.0, *snap.AnnualMaximum)
	assert.Equal(t, 300.0, *snap.AnnualMaximumUsed)
	assert.Equal(t, 1200.0, *snap.AnnualMaximumRemaining())
	assert.Nil(t, snap.DeductibleMet, "null stays unknown")
	assert.Equal(t, map[string]float64{"preventive": 100, "basic": 80}, snap.CoinsuranceByCategory)

	mb.mu.Lock()
	defer mb.mu.Unlock()
	assert.Equal(t, []string{"Bearer tok-123", "Bearer tok-123"}, mb.auth)
	assert.Equal(t, []string{"MemberSearch", "Eligibility"}, mb.operations)
}

func TestAdapter_DisambiguateUsesExactMatch(t *testing.T) {
	mb, srv := newMockBackend(t)
	mb.duplicate = true
	a := newTestAdapter(t, srv.URL)
	page := loggedInPage()
	ctx := context.Background()

	outcome, err := a.Search(ctx, page, sophie())
	require.NoError(t, err)
	assert.True(t, outcome.NeedsDisambiguation)
	assert.Empty(t, outcome.Candidates)

	outcome, err = a.Disambiguate(ctx, page, sophie())
	require.NoError(t, err)
	assert.Len(t, outcome.Candidates, 1)
}

func TestAdapter_ClaimsPagination(t *testing.T) {
	mb, srv := newMockBackend(t)
	a := newTestAdapter(t, srv.URL)
	page := loggedInPage()
	ctx := context.Background()

	require.NoError(t, a.OpenResult(ctx, page, interfaces.Candidate{Name: "SOPHIE ROBINSON", Ref: "M-1"}))
	require.NoError(t, a.OpenClaims(ctx, page))

	var all []*models.Claim
	for {
		claims, err := a.ReadClaimsPage(ctx, page)
		require.NoError(t, err)
		all = append(all, claims...)
		more, err := a.NextClaimsPage(ctx, page)
		require.NoError(t, err)
		if !more {
			break
		}
	}

	require.Len(t, all, 3)
	assert.Equal(t, "2024-01-02", all[1].ServiceDate)
	assert.Equal(t, 200.0, all[1].Billed)
	assert.Equal(t, "/claims/C0002", all[1].DetailRef)
	assert.Equal(t, 20.0, all[0].PatientPay)

	mb.mu.Lock()
	defer mb.mu.Unlock()
	assert.Equal(t, []string{"1", "2"}, mb.claimPages)
}

func TestAdapter_FetchClaimDetail(t *testing.T) {
	_, srv := newMockBackend(t)
	a := newTestAdapter(t, srv.URL)
	page := loggedInPage()

	detail, err := a.FetchClaimDetail(context.Background(), page, &models.Claim{Number: "C0001"})
	require.NoError(t, err)
	assert.Equal(t, "C0001", detail.Number)
	require.Len(t, detail.Services, 2, "non-CDT lines are skipped")
	assert.Equal(t, "D1206", detail.Services[1].ProcedureCode)
	assert.Equal(t, "2024-01-02", detail.ServiceDate)
}

func TestAdapter_FetchClaimDetail_APIError(t *testing.T) {
	_, srv := newMockBackend(t)
	a := newTestAdapter(t, srv.URL)

	_, err := a.FetchClaimDetail(context.Background(), loggedInPage(), &models.Claim{Number: "C0009"})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "claim not found", apiErr.Message)
	assert.False(t, apiErr.Unauthorized())
}

func TestAdapter_RejectedTokenIsLiftedAgain(t *testing.T) {
	mb, srv := newMockBackend(t)
	mb.rejectAuth = "Bearer tok-old"
	a := newTestAdapter(t, srv.URL)
	ctx := context.Background()

	page := pagetest.New().SetState(&models.StoredState{
		LocalStorage: map[string]string{"okta-token-storage": `{"accessToken":{"accessToken":"tok-old"}}`},
	})
	_, err := a.Search(ctx, page, sophie())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.Unauthorized())

	// the browser logs in again and holds a fresh token
	page.SetState(&models.StoredState{
		LocalStorage: map[string]string{"okta-token-storage": `{"accessToken":{"accessToken":"tok-123"}}`},
	})
	outcome, err := a.Search(ctx, page, sophie())
	require.NoError(t, err)
	assert.Len(t, outcome.Candidates, 1)

	mb.mu.Lock()
	defer mb.mu.Unlock()
	assert.Equal(t, []string{"Bearer tok-old", "Bearer tok-123"}, mb.auth)
}

func TestAdapter_ClientErrorKeepsSession(t *testing.T) {
	_, srv := newMockBackend(t)
	a := newTestAdapter(t, srv.URL)
	page := loggedInPage()

	_, err := a.FetchClaimDetail(context.Background(), page, &models.Claim{Number: "C0009"})
	require.Error(t, err)
	assert.NotNil(t, a.client, "a 404 does not invalidate the API session")
}

func TestAdapter_NoSessionInBrowser(t *testing.T) {
	_, srv := newMockBackend(t)
	a := newTestAdapter(t, srv.URL)

	_, err := a.Search(context.Background(), pagetest.New(), sophie())
	assert.ErrorContains(t, err, "no API session")
}

func TestAdapter_ClaimsRequireSelectedMember(t *testing.T) {
	_, srv := newMockBackend(t)
	a := newTestAdapter(t, srv.URL)

	err := a.OpenClaims(context.Background(), loggedInPage())
	assert.ErrorContains(t, err, "no member selected")
}

func TestLiftToken(t *testing.T) {
	profile := MetLife()
	tests := []struct {
		name  string
		state *models.StoredState
		want  string
	}{
		{"nil state", nil, ""},
		{
			name:  "json storage value",
			state: &models.StoredState{LocalStorage: map[string]string{"okta-token-storage": `{"accessToken":{"accessToken":"a1"}}`}},
			want:  "a1",
		},
		{
			name:  "plain storage value",
			state: &models.StoredState{LocalStorage: map[string]string{"access_token": "eyJhbGciOi.x.y"}},
			want:  "eyJhbGciOi.x.y",
		},
		{
			name:  "quoted storage value",
			state: &models.StoredState{LocalStorage: map[string]string{"access_token": `"q1"`}},
			want:  "q1",
		},
		{
			name:  "cookie fallback",
			state: &models.StoredState{Cookies: []models.StoredCookie{{Name: "ACCESS_TOKEN", Value: "c1"}}},
			want:  "c1",
		},
		{
			name:  "cookies only",
			state: &models.StoredState{Cookies: []models.StoredCookie{{Name: "JSESSIONID", Value: "s"}}},
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LiftToken(tt.state, profile))
		})
	}
}

func TestNew_Validates(t *testing.T) {
	extraction := common.NewDefaultConfig().Extraction
	logger := arbor.NewNoOpLogger()

	_, err := New(MetLife(), "portal.test", "https://api.test", "", extraction, logger)
	var cfgErr *models.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "base_url", cfgErr.Field)

	_, err = New(MetLife(), "https://portal.test", "", "", extraction, logger)
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "api_url", cfgErr.Field)

	a, err := New(MetLife(), "https://portal.test", "https://api.test", "", extraction, logger)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%s/providers/login", "https://portal.test"), a.Login().LoginURL)
}
