package extraction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/portalx/internal/browser/pagetest"
	"github.com/ternarybob/portalx/internal/common"
	"github.com/ternarybob/portalx/internal/interfaces"
	"github.com/ternarybob/portalx/internal/models"
	"github.com/ternarybob/portalx/internal/services/auth"
	"github.com/ternarybob/portalx/internal/services/navigation"
	"github.com/ternarybob/portalx/internal/session"
)

type memStore struct {
	mu     sync.Mutex
	states map[string]*models.StoredState
}

func (m *memStore) Load(ctx context.Context, key string) (*models.StoredState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[key], nil
}

func (m *memStore) Save(ctx context.Context, state *models.StoredState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state.AccountKey] = state
	return nil
}

func (m *memStore) Delete(ctx context.Context, key string) error { return nil }

func (m *memStore) List(ctx context.Context) ([]*models.StoredState, error) { return nil, nil }

// fakeAdapter scripts a portal at the adapter level
type fakeAdapter struct {
	outcome      *interfaces.SearchOutcome
	searchErr    error
	disambiguate *interfaces.SearchOutcome
	opened       []interfaces.Candidate
	eligibility  *models.EligibilitySnapshot
	eligErr      error
	openClaimErr error

	pages       [][]*models.Claim
	emptyReads  map[int]int
	current     int
	reads       int
	details     map[string]*models.Claim
	detailErrs  map[string]error
	detailCalls map[string]int
}

var _ interfaces.PortalAdapter = (*fakeAdapter)(nil)

func (f *fakeAdapter) Name() string { return "fake" }
func (f *fakeAdapter) Login() models.LoginProfile {
	return models.LoginProfile{PostAuthSelector: "#home"}
}
func (f *fakeAdapter) Obstacles() []models.ObstacleRule { return nil }

func (f *fakeAdapter) Search(ctx context.Context, page interfaces.Page, q models.PatientQuery) (*interfaces.SearchOutcome, error) {
	return f.outcome, f.searchErr
}

func (f *fakeAdapter) Disambiguate(ctx context.Context, page interfaces.Page, q models.PatientQuery) (*interfaces.SearchOutcome, error) {
	if f.disambiguate == nil {
		return nil, errors.New("no secondary field")
	}
	return f.disambiguate, nil
}

func (f *fakeAdapter) OpenResult(ctx context.Context, page interfaces.Page, c interfaces.Candidate) error {
	f.opened = append(f.opened, c)
	return nil
}

func (f *fakeAdapter) ExtractEligibility(ctx context.Context, page interfaces.Page) (*models.EligibilitySnapshot, error) {
	return f.eligibility, f.eligErr
}

func (f *fakeAdapter) OpenClaims(ctx context.Context, page interfaces.Page) error {
	return f.openClaimErr
}

func (f *fakeAdapter) ReadClaimsPage(ctx context.Context, page interfaces.Page) ([]*models.Claim, error) {
	f.reads++
	if f.emptyReads[f.current] > 0 {
		f.emptyReads[f.current]--
		return nil, nil
	}
	if f.current >= len(f.pages) {
		return nil, nil
	}
	var out []*models.Claim
	for _, c := range f.pages[f.current] {
		copied := *c
		out = append(out, &copied)
	}
	return out, nil
}

func (f *fakeAdapter) NextClaimsPage(ctx context.Context, page interfaces.Page) (bool, error) {
	if f.current+1 >= len(f.pages) {
		return false, nil
	}
	f.current++
	return true, nil
}

func (f *fakeAdapter) FetchClaimDetail(ctx context.Context, page interfaces.Page, claim *models.Claim) (*models.Claim, error) {
	if f.detailCalls == nil {
		f.detailCalls = map[string]int{}
	}
	f.detailCalls[claim.Number]++
	if err := f.detailErrs[claim.Number]; err != nil {
		return nil, err
	}
	if d, ok := f.details[claim.Number]; ok {
		return d, nil
	}
	return &models.Claim{Number: claim.Number}, nil
}

func testConfig() *common.Config {
	config := common.NewDefaultConfig()
	config.Navigation.MaxAttempts = 1
	config.Navigation.IdleTimeout = common.Dur(0)
	config.Extraction.DetailDelay = common.Dur(0)
	config.Extraction.PatientDelay = common.Dur(0)
	config.Extraction.EmptyPageRetry = common.Dur(0)
	config.Extraction.ObstacleTimeout = common.Dur(time.Millisecond)
	config.Extraction.ResultsTimeout = common.Dur(50 * time.Millisecond)
	config.Extraction.DetailAttempts = 2
	config.Auth.SessionCheckDelay = common.Dur(0)
	return config
}

func newTestService(config *common.Config) *Service {
	logger := arbor.NewNoOpLogger()
	guard := navigation.NewGuard(config.Navigation, logger)
	authService := auth.NewService(&memStore{states: map[string]*models.StoredState{}}, guard, config.Auth, logger)
	svc := NewService(authService, config.Extraction, logger)
	svc.now = func() time.Time { return time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC) }
	return svc
}

func loggedInHandle(adapter interfaces.PortalAdapter, page interfaces.Page) *session.Handle {
	h := session.NewHandle("fake", "fake:user", "", page, adapter)
	h.MarkAuthenticated(time.Now())
	return h
}

func sophie() models.PatientQuery {
	return models.PatientQuery{SubscriberID: "825978894", FirstName: " sophie ", LastName: "Robinson", DateOfBirth: "09/27/2016"}
}

func amount(v float64) *float64 { return &v }

func threeClaims() [][]*models.Claim {
	return [][]*models.Claim{{
		{Number: "C1", ServiceDate: "2024-01-01", Billed: 100, Paid: 80, PatientPay: 20},
		{Number: "C2", ServiceDate: "2024-01-02", Billed: 200, Paid: 160, PatientPay: 40},
		{Number: "C3", ServiceDate: "2024-01-03", Billed: 50, Paid: 50},
	}}
}

func TestExtract_PartialDetailFailureAnnotatesClaim(t *testing.T) {
	adapter := &fakeAdapter{
		outcome: &interfaces.SearchOutcome{Candidates: []interfaces.Candidate{
			{Name: "ROBINSON, SAMUEL", FirstName: "SAMUEL", LastName: "ROBINSON", Ref: "r1"},
			{Name: "ROBINSON, SOPHIE", FirstName: "SOPHIE", LastName: "ROBINSON", Ref: "r2"},
		}},
		eligibility: &models.EligibilitySnapshot{AnnualMaximum: amount(1500), AnnualMaximumUsed: amount(300)},
		pages:       threeClaims(),
		details: map[string]*models.Claim{
			"C1": {Number: "C1", Services: []models.ServiceLine{{ProcedureCode: "D0120", Billed: 100}}},
			"C3": {Number: "C3", Status: "Paid", Services: []models.ServiceLine{{ProcedureCode: "D1110", Billed: 50}}},
		},
		detailErrs: map[string]error{"C2": errors.New("popup did not open within 15s")},
	}

	var lines []string
	progress := common.NewProgress(arbor.NewNoOpLogger(), func(msg string) { lines = append(lines, msg) })

	svc := newTestService(testConfig())
	result, err := svc.Extract(context.Background(), Request{
		Handle:   loggedInHandle(adapter, pagetest.New()),
		Query:    sophie(),
		Progress: progress,
	})
	require.NoError(t, err)

	assert.True(t, result.Found)
	assert.Equal(t, "SOPHIE", result.Patient.FirstName)
	assert.Equal(t, "2016-09-27", result.Patient.DateOfBirth)
	assert.Equal(t, time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC), result.ExtractionDate)
	require.Len(t, adapter.opened, 1)
	assert.Equal(t, "r2", adapter.opened[0].Ref, "exact name match wins over position")

	require.Len(t, result.Claims, 3, "the failed claim is kept")
	assert.Empty(t, result.Claims[0].DetailError)
	assert.Contains(t, result.Claims[1].DetailError, "popup did not open")
	assert.Equal(t, 200.0, result.Claims[1].Billed, "list-row data survives a failed detail")
	assert.Equal(t, "Paid", result.Claims[2].Status)

	summary := result.Summary()
	assert.Equal(t, 3, summary.TotalClaims)
	assert.Equal(t, 2, summary.TotalServices)
	assert.Equal(t, 1, summary.ClaimsWithDetailFailures)
	assert.Equal(t, []string{"D0120", "D1110"}, summary.ProcedureCodes)
	assert.Equal(t, 1200.0, *result.Eligibility.AnnualMaximumRemaining())

	assert.Contains(t, lines, "[fake] Searching for SOPHIE ROBINSON")
	assert.Contains(t, lines, "WARN [fake] Claim C2 detail unavailable: popup did not open within 15s")
}

func TestExtract_TransientDetailFailureIsRetried(t *testing.T) {
	adapter := &fakeAdapter{
		outcome:    &interfaces.SearchOutcome{Direct: true},
		pages:      threeClaims(),
		detailErrs: map[string]error{"C1": errors.New("net::ERR_CONNECTION_RESET")},
	}

	svc := newTestService(testConfig())
	result, err := svc.Extract(context.Background(), Request{Handle: loggedInHandle(adapter, pagetest.New()), Query: sophie()})
	require.NoError(t, err)

	assert.Equal(t, 2, adapter.detailCalls["C1"], "transient failures use every detail attempt")
	assert.Equal(t, 1, adapter.detailCalls["C2"])
	assert.NotEmpty(t, result.Claims[0].DetailError)
}

func TestExtract_PaginationAccumulatesAndRetriesEmptyPage(t *testing.T) {
	adapter := &fakeAdapter{
		outcome: &interfaces.SearchOutcome{Direct: true},
		pages: [][]*models.Claim{
			{{Number: "C1"}, {Number: "C2"}},
			{{Number: "C3"}},
			{{Number: "C4"}, {Number: "C5"}},
		},
		emptyReads: map[int]int{1: 1},
	}

	svc := newTestService(testConfig())
	result, err := svc.Extract(context.Background(), Request{Handle: loggedInHandle(adapter, pagetest.New()), Query: sophie()})
	require.NoError(t, err)

	var numbers []string
	for _, c := range result.Claims {
		numbers = append(numbers, c.Number)
	}
	assert.Equal(t, []string{"C1", "C2", "C3", "C4", "C5"}, numbers)
	assert.Equal(t, 4, adapter.reads, "the lazily rendered page is read twice")
}

func TestExtract_EmptyPageAfterRetryEndsPaging(t *testing.T) {
	adapter := &fakeAdapter{
		outcome: &interfaces.SearchOutcome{Direct: true},
		pages: [][]*models.Claim{
			{{Number: "C1"}},
			{{Number: "C1"}},
			{{Number: "C9"}},
		},
	}

	svc := newTestService(testConfig())
	result, err := svc.Extract(context.Background(), Request{Handle: loggedInHandle(adapter, pagetest.New()), Query: sophie()})
	require.NoError(t, err)

	assert.Len(t, result.Claims, 1, "a page with nothing new stops paging")
	assert.Equal(t, 3, adapter.reads)
}

func TestExtract_MaxPagesCapsPaging(t *testing.T) {
	var pages [][]*models.Claim
	for i := 0; i < 10; i++ {
		pages = append(pages, []*models.Claim{{Number: fmt.Sprintf("C%d", i)}})
	}
	adapter := &fakeAdapter{outcome: &interfaces.SearchOutcome{Direct: true}, pages: pages}

	config := testConfig()
	config.Extraction.MaxPages = 3
	result, err := newTestService(config).Extract(context.Background(), Request{Handle: loggedInHandle(adapter, pagetest.New()), Query: sophie()})
	require.NoError(t, err)
	assert.Len(t, result.Claims, 3)
}

func TestExtract_ZeroResultsIsEmptyResult(t *testing.T) {
	adapter := &fakeAdapter{outcome: &interfaces.SearchOutcome{}}

	result, err := newTestService(testConfig()).Extract(context.Background(), Request{Handle: loggedInHandle(adapter, pagetest.New()), Query: sophie()})
	require.NoError(t, err)
	assert.False(t, result.Found)
	assert.Nil(t, result.Eligibility)
	assert.Empty(t, result.Claims)
	assert.NotNil(t, result.Claims)
	assert.Zero(t, adapter.reads)
}

func TestExtract_Disambiguation(t *testing.T) {
	adapter := &fakeAdapter{
		outcome:      &interfaces.SearchOutcome{NeedsDisambiguation: true},
		disambiguate: &interfaces.SearchOutcome{Candidates: []interfaces.Candidate{{Name: "Sophie Robinson", Ref: "only"}}},
	}

	result, err := newTestService(testConfig()).Extract(context.Background(), Request{Handle: loggedInHandle(adapter, pagetest.New()), Query: sophie()})
	require.NoError(t, err)
	assert.True(t, result.Found)
	require.Len(t, adapter.opened, 1)
	assert.Equal(t, "only", adapter.opened[0].Ref)
}

func TestExtract_FatalStages(t *testing.T) {
	navErr := &models.NavigationExhaustedError{URL: "https://portal.test/claims", Attempts: 3, Err: errors.New("net::ERR_ABORTED")}

	tests := []struct {
		name    string
		adapter *fakeAdapter
		stage   models.Stage
	}{
		{
			name:    "search fails",
			adapter: &fakeAdapter{searchErr: errors.New("search form never rendered")},
			stage:   models.StageSearch,
		},
		{
			name:    "disambiguation fails",
			adapter: &fakeAdapter{outcome: &interfaces.SearchOutcome{NeedsDisambiguation: true}},
			stage:   models.StageDisambiguate,
		},
		{
			name:    "eligibility navigation exhausted",
			adapter: &fakeAdapter{outcome: &interfaces.SearchOutcome{Direct: true}, eligErr: navErr},
			stage:   models.StageEligibility,
		},
		{
			name:    "claims navigation exhausted",
			adapter: &fakeAdapter{outcome: &interfaces.SearchOutcome{Direct: true}, openClaimErr: navErr},
			stage:   models.StageClaims,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := newTestService(testConfig()).Extract(context.Background(), Request{Handle: loggedInHandle(tt.adapter, pagetest.New()), Query: sophie()})
			require.Error(t, err)
			assert.Nil(t, result)

			stage, ok := models.FailedStage(err)
			require.True(t, ok)
			assert.Equal(t, tt.stage, stage)
		})
	}
}

func TestExtract_NonFatalGapsAreWarnings(t *testing.T) {
	adapter := &fakeAdapter{
		outcome:      &interfaces.SearchOutcome{Direct: true},
		eligErr:      errors.New(`element "[data-testid=benefit-summary]" not visible`),
		openClaimErr: errors.New("claims history never rendered"),
	}

	result, err := newTestService(testConfig()).Extract(context.Background(), Request{Handle: loggedInHandle(adapter, pagetest.New()), Query: sophie()})
	require.NoError(t, err)
	assert.True(t, result.Found)
	assert.Nil(t, result.Eligibility)
	assert.Empty(t, result.Claims)
}

func TestExtract_MissingCredentialsFailsAtAuthentication(t *testing.T) {
	adapter := &fakeAdapter{outcome: &interfaces.SearchOutcome{Direct: true}}
	h := session.NewHandle("fake", "fake:user", "", pagetest.New(), adapter)

	_, err := newTestService(testConfig()).Extract(context.Background(), Request{Handle: h, Query: sophie()})

	stage, ok := models.FailedStage(err)
	require.True(t, ok)
	assert.Equal(t, models.StageAuthenticate, stage)
	var cfgErr *models.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestExtract_InvalidQuery(t *testing.T) {
	adapter := &fakeAdapter{}
	_, err := newTestService(testConfig()).Extract(context.Background(), Request{
		Handle: loggedInHandle(adapter, pagetest.New()),
		Query:  models.PatientQuery{FirstName: "SOPHIE"},
	})
	require.Error(t, err)
	assert.Nil(t, adapter.opened)
}

func TestExtract_ClosedHandle(t *testing.T) {
	h := loggedInHandle(&fakeAdapter{}, pagetest.New())
	require.NoError(t, h.Close())

	_, err := newTestService(testConfig()).Extract(context.Background(), Request{Handle: h, Query: sophie()})
	assert.ErrorContains(t, err, "session is closed")
}

func TestExtractBatch_OneFailureDoesNotAbortOthers(t *testing.T) {
	adapter := &fakeAdapter{outcome: &interfaces.SearchOutcome{Direct: true}, pages: threeClaims()}
	svc := newTestService(testConfig())

	entries := svc.ExtractBatch(context.Background(), BatchRequest{
		Request: Request{Handle: loggedInHandle(adapter, pagetest.New())},
		Queries: []models.PatientQuery{sophie(), {FirstName: "NO", LastName: "DOB"}, sophie()},
	})

	require.Len(t, entries, 3)
	assert.NoError(t, entries[0].Err)
	assert.Error(t, entries[1].Err)
	assert.Nil(t, entries[1].Result)
	assert.NoError(t, entries[2].Err)
	assert.True(t, entries[2].Result.Found)
}

func TestExtractBatch_CancelledContextMarksRemaining(t *testing.T) {
	adapter := &fakeAdapter{outcome: &interfaces.SearchOutcome{}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	entries := newTestService(testConfig()).ExtractBatch(ctx, BatchRequest{
		Request: Request{Handle: loggedInHandle(adapter, pagetest.New())},
		Queries: []models.PatientQuery{sophie(), sophie()},
	})

	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.ErrorIs(t, e.Err, context.Canceled)
	}
}

func TestBatchEntry_MarshalJSON(t *testing.T) {
	entry := BatchEntry{
		Query: sophie(),
		Err:   &models.StageError{Stage: models.StageSearch, Err: errors.New("boom")},
	}
	data, err := entry.MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"failedStage":"search"`)
	assert.Contains(t, string(data), `"error":"extraction failed at search: boom"`)
	assert.NotContains(t, string(data), `"result"`)
}
