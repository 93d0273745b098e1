// -----------------------------------------------------------------------
// Last Modified: Monday, 19th October 2026 9:12:40 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/portalx/internal/browser"
	"github.com/ternarybob/portalx/internal/common"
	"github.com/ternarybob/portalx/internal/interfaces"
	"github.com/ternarybob/portalx/internal/models"
	"github.com/ternarybob/portalx/internal/portals"
	"github.com/ternarybob/portalx/internal/services/auth"
	"github.com/ternarybob/portalx/internal/services/extraction"
	"github.com/ternarybob/portalx/internal/services/navigation"
	"github.com/ternarybob/portalx/internal/session"
	"github.com/ternarybob/portalx/internal/storage"
)

// Launcher starts an exclusive browser page for one session
type Launcher func(config common.BrowserConfig, logger arbor.ILogger) (interfaces.Page, error)

// App holds the shared, stateless services. Sessions live only in the handles it
// returns.
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	Storage  *storage.Manager
	Registry *portals.Registry

	Guard             *navigation.Guard
	AuthService       *auth.Service
	ExtractionService *extraction.Service

	launch Launcher
}

// InitOptions configures one Initialize call
type InitOptions struct {
	// Portal defaults to the configured portal
	Portal string
	// Headless overrides the configured browser mode when set
	Headless *bool
	OnLog    common.LogFunc
	OnOTP    interfaces.OTPProvider
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	store, err := storage.NewManager(logger, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize session store: %w", err)
	}
	logger.Debug().
		Str("storage", "badger").
		Str("path", store.Path()).
		Msg("Session store initialized")

	return newApp(cfg, logger, store, launchBrowser), nil
}

func newApp(cfg *common.Config, logger arbor.ILogger, store *storage.Manager, launch Launcher) *App {
	a := &App{
		Config:   cfg,
		Logger:   logger,
		Storage:  store,
		Registry: portals.NewRegistry(),
		launch:   launch,
	}

	a.Guard = navigation.NewGuard(cfg.Navigation, logger)
	a.AuthService = auth.NewService(store.SessionStore(), a.Guard, cfg.Auth, logger)
	a.ExtractionService = extraction.NewService(a.AuthService, cfg.Extraction, logger)

	logger.Debug().
		Strs("portals", a.Registry.Names()).
		Msg("Application initialization complete")

	return a
}

func launchBrowser(config common.BrowserConfig, logger arbor.ILogger) (interfaces.Page, error) {
	return browser.NewSession(config, logger)
}

// Initialize launches a browser session dedicated to one portal account and logs it
// in. The browser is closed again if authentication fails.
func (a *App) Initialize(ctx context.Context, opts InitOptions) (*session.Handle, error) {
	name := strings.ToLower(strings.TrimSpace(opts.Portal))
	if name == "" {
		name = strings.ToLower(a.Config.Portal)
	}

	settings, ok := a.Config.PortalSettings(name)
	if !ok {
		return nil, &models.ConfigError{Field: "portals." + name, Msg: "no settings configured for this portal"}
	}
	creds := credentialsFor(settings)

	browserConfig := a.Config.Browser
	if opts.Headless != nil {
		browserConfig.Headless = *opts.Headless
	}

	adapter, err := a.Registry.New(name, settings, portals.Deps{
		Guard:      a.Guard,
		Extraction: a.Config.Extraction,
		UserAgent:  browserConfig.UserAgent,
		Logger:     a.Logger,
	})
	if err != nil {
		return nil, err
	}

	progress := common.NewProgress(a.Logger, opts.OnLog).WithPrefix(name)
	progress.Step("Launching browser (headless=%t)", browserConfig.Headless)

	page, err := a.launch(browserConfig, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	h := session.NewHandle(name, models.AccountKey(name, creds.Username), a.Storage.Path(), page, adapter)

	err = a.AuthService.EnsureLoggedIn(ctx, auth.Request{
		Handle:      h,
		Profile:     adapter.Login(),
		Credentials: creds,
		OTP:         opts.OnOTP,
		Progress:    progress,
	})
	if err != nil {
		if closeErr := h.Close(); closeErr != nil {
			a.Logger.Warn().Err(closeErr).Str("session", h.ID).Msg("Failed to close browser after login failure")
		}
		return nil, err
	}

	a.Logger.Info().
		Str("portal", name).
		Str("session", h.ID).
		Msg("Portal session ready")

	return h, nil
}

// ExtractPatientData runs one extraction on an initialized handle
func (a *App) ExtractPatientData(ctx context.Context, h *session.Handle, query models.PatientQuery, onLog common.LogFunc) (*models.ExtractionResult, error) {
	return a.ExtractionService.Extract(ctx, a.request(h, onLog, query))
}

// ExtractBatch extracts several patients over one handle
func (a *App) ExtractBatch(ctx context.Context, h *session.Handle, queries []models.PatientQuery, onLog common.LogFunc) []extraction.BatchEntry {
	return a.ExtractionService.ExtractBatch(ctx, extraction.BatchRequest{
		Request: a.request(h, onLog, models.PatientQuery{}),
		Queries: queries,
	})
}

func (a *App) request(h *session.Handle, onLog common.LogFunc, query models.PatientQuery) extraction.Request {
	req := extraction.Request{
		Handle:   h,
		Query:    query,
		Progress: common.NewProgress(a.Logger, onLog),
	}
	// Credentials are re-read per call so a handle whose session expired can log in again
	if h != nil {
		if settings, ok := a.Config.PortalSettings(h.Portal); ok {
			req.Credentials = credentialsFor(settings)
		}
	}
	return req
}

// Close releases a handle's browser session
func (a *App) Close(h *session.Handle) error {
	if h == nil {
		return nil
	}
	if err := h.Close(); err != nil {
		return fmt.Errorf("failed to close session %s: %w", h.ID, err)
	}
	a.Logger.Debug().Str("session", h.ID).Msg("Portal session closed")
	return nil
}

// Forget drops the persisted session for a portal account
func (a *App) Forget(ctx context.Context, portal, username string) error {
	name := strings.ToLower(strings.TrimSpace(portal))
	if username == "" {
		if settings, ok := a.Config.PortalSettings(name); ok {
			username = credentialsFor(settings).Username
		}
	}
	if username == "" {
		return &models.ConfigError{Field: "portals." + name + ".username", Msg: "username is required to identify the saved session"}
	}
	return a.AuthService.Forget(ctx, models.AccountKey(name, username))
}

// Shutdown closes the session store
func (a *App) Shutdown() error {
	if a.Storage == nil {
		return nil
	}
	return a.Storage.Close()
}

func credentialsFor(settings common.PortalConfig) auth.Credentials {
	username, password := settings.Credentials()
	return auth.Credentials{Username: username, Password: password}
}
