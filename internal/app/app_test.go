package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/portalx/internal/browser/pagetest"
	"github.com/ternarybob/portalx/internal/common"
	"github.com/ternarybob/portalx/internal/interfaces"
	"github.com/ternarybob/portalx/internal/models"
	"github.com/ternarybob/portalx/internal/portals/htmlportal"
	"github.com/ternarybob/portalx/internal/storage"
)

const portalBase = "https://portal.test"

func testConfig(t *testing.T) *common.Config {
	config := common.NewDefaultConfig()
	config.Storage.Badger.Path = t.TempDir()
	config.Navigation.IdleTimeout = common.Dur(0)
	config.Navigation.InitialBackoff = common.Dur(time.Millisecond)
	config.Auth.PostLoginTimeout = common.Dur(200 * time.Millisecond)
	config.Auth.OTPDetectTimeout = common.Dur(20 * time.Millisecond)
	config.Auth.OTPPollInterval = common.Dur(5 * time.Millisecond)
	config.Auth.SessionCheckDelay = common.Dur(0)
	config.Auth.SessionProbeTimeout = common.Dur(10 * time.Millisecond)
	config.Extraction.ResultsTimeout = common.Dur(200 * time.Millisecond)
	config.Extraction.ObstacleTimeout = common.Dur(time.Millisecond)

	settings := config.Portals["deltadental"]
	settings.BaseURL = portalBase
	settings.Username = "frontdesk"
	settings.Password = "hunter2"
	config.Portals["deltadental"] = settings
	return config
}

// launcher hands out scripted pages in order and records them
type launcher struct {
	pages    []*pagetest.FakePage
	launched int
}

func (l *launcher) launch(config common.BrowserConfig, logger arbor.ILogger) (interfaces.Page, error) {
	if l.launched >= len(l.pages) {
		return nil, errors.New("no browser available")
	}
	page := l.pages[l.launched]
	l.launched++
	return page, nil
}

func newTestApp(t *testing.T, config *common.Config, pages ...*pagetest.FakePage) (*App, *launcher) {
	logger := arbor.NewNoOpLogger()
	store, err := storage.NewManager(logger, config)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	l := &launcher{pages: pages}
	return newApp(config, logger, store, l.launch), l
}

// portalPage scripts the deltadental login form and a search that finds nobody
func portalPage() *pagetest.FakePage {
	profile := htmlportal.DeltaDental()
	login := profile.Login

	page := pagetest.New().SetState(&models.StoredState{
		Origin:  portalBase,
		Cookies: []models.StoredCookie{{Name: "SESSION", Value: "s3cret", Domain: "portal.test", Path: "/"}},
	})
	page.OnNavigate(portalBase+login.LoginURL, func(p *pagetest.FakePage) {
		p.Show(login.UsernameSelector, login.PasswordSelector, login.SubmitSelector)
	})
	page.OnClick(login.SubmitSelector, func(p *pagetest.FakePage) error {
		p.SetURL(portalBase + login.ProbeURL)
		p.Show(login.PostAuthSelector)
		return nil
	})
	page.OnNavigate(portalBase+login.ProbeURL, func(p *pagetest.FakePage) {
		p.Show(login.PostAuthSelector)
	})
	page.OnNavigate(portalBase+profile.SearchURL, func(p *pagetest.FakePage) {
		p.Show(profile.SubscriberIDSelector, profile.FirstNameSelector, profile.LastNameSelector, profile.DOBSelector, profile.SearchSubmitSelector)
	})
	page.OnClick(profile.SearchSubmitSelector, func(p *pagetest.FakePage) error {
		p.SetHTML(`<html><body><p>No patients found for the details entered.</p></body></html>`)
		return nil
	})
	return page
}

func TestInitialize_LogsInAndExtracts(t *testing.T) {
	page := portalPage()
	app, l := newTestApp(t, testConfig(t), page)

	var lines []string
	h, err := app.Initialize(context.Background(), InitOptions{OnLog: func(msg string) { lines = append(lines, msg) }})
	require.NoError(t, err)
	assert.Equal(t, 1, l.launched)
	assert.Equal(t, "deltadental", h.Portal)
	assert.Equal(t, "deltadental:frontdesk", h.AccountKey)
	assert.True(t, h.Authenticated())
	assert.Contains(t, lines, "[deltadental] Logged in to deltadental")

	stored, err := app.Storage.SessionStore().Load(context.Background(), h.AccountKey)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "s3cret", stored.Cookies[0].Value)

	result, err := app.ExtractPatientData(context.Background(), h, models.PatientQuery{
		SubscriberID: "825978894",
		FirstName:    "Sophie",
		LastName:     "Robinson",
		DateOfBirth:  "2016-09-27",
	}, nil)
	require.NoError(t, err)
	assert.False(t, result.Found)
	assert.Equal(t, "deltadental", result.Portal)
	assert.Empty(t, result.Claims)

	dob, ok := page.Filled(`input[name="dateOfBirth"]`)
	require.True(t, ok)
	assert.Equal(t, "09/27/2016", dob)

	require.NoError(t, app.Close(h))
	assert.True(t, page.IsClosed())

	_, err = app.ExtractPatientData(context.Background(), h, models.PatientQuery{}, nil)
	assert.Error(t, err, "a closed handle cannot be reused")
}

func TestInitialize_RestoresSavedSession(t *testing.T) {
	config := testConfig(t)
	first, second := portalPage(), portalPage()
	app, _ := newTestApp(t, config, first, second)

	h1, err := app.Initialize(context.Background(), InitOptions{Portal: "deltadental"})
	require.NoError(t, err)
	require.NoError(t, app.Close(h1))

	var lines []string
	h2, err := app.Initialize(context.Background(), InitOptions{Portal: "DeltaDental", OnLog: func(msg string) { lines = append(lines, msg) }})
	require.NoError(t, err)
	assert.NotEqual(t, h1.ID, h2.ID, "every Initialize gets its own session")
	assert.Contains(t, lines, "[deltadental] Restored saved session for deltadental")
	assert.Len(t, second.Imported(), 1)
	assert.NotContains(t, second.Clicks(), `button[type="submit"]`)
}

func TestInitialize_Failures(t *testing.T) {
	t.Run("unknown portal", func(t *testing.T) {
		app, l := newTestApp(t, testConfig(t))
		_, err := app.Initialize(context.Background(), InitOptions{Portal: "nowhere"})

		var cfgErr *models.ConfigError
		require.ErrorAs(t, err, &cfgErr)
		assert.Zero(t, l.launched)
	})

	t.Run("missing credentials closes the browser", func(t *testing.T) {
		config := testConfig(t)
		settings := config.Portals["deltadental"]
		settings.Password = ""
		settings.PasswordEnv = ""
		config.Portals["deltadental"] = settings

		page := portalPage()
		app, _ := newTestApp(t, config, page)
		_, err := app.Initialize(context.Background(), InitOptions{})

		var cfgErr *models.ConfigError
		require.ErrorAs(t, err, &cfgErr)
		assert.True(t, page.IsClosed())
	})

	t.Run("browser fails to launch", func(t *testing.T) {
		app, _ := newTestApp(t, testConfig(t))
		_, err := app.Initialize(context.Background(), InitOptions{})
		assert.ErrorContains(t, err, "failed to launch browser")
	})
}

func TestForget(t *testing.T) {
	app, _ := newTestApp(t, testConfig(t), portalPage())
	h, err := app.Initialize(context.Background(), InitOptions{})
	require.NoError(t, err)
	require.NoError(t, app.Close(h))

	require.NoError(t, app.Forget(context.Background(), "deltadental", ""))

	stored, err := app.Storage.SessionStore().Load(context.Background(), h.AccountKey)
	require.NoError(t, err)
	assert.Nil(t, stored)

	var cfgErr *models.ConfigError
	assert.ErrorAs(t, app.Forget(context.Background(), "guardian", ""), &cfgErr)
}
