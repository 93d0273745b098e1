package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/portalx/internal/common"
	"github.com/ternarybob/portalx/internal/interfaces"
	"github.com/ternarybob/portalx/internal/models"
	"github.com/ternarybob/portalx/internal/services/navigation"
	"github.com/ternarybob/portalx/internal/session"
)

// Credentials are the primary login factors for one portal account
type Credentials struct {
	Username string
	Password string
}

// Request is one EnsureLoggedIn call
type Request struct {
	Handle      *session.Handle
	Profile     models.LoginProfile
	Credentials Credentials
	// OTP is awaited with the caller's context; nil falls back to env, then manual entry
	OTP      interfaces.OTPProvider
	Progress *common.Progress
}

// Service drives the login state machine and persists sessions on success
type Service struct {
	store  interfaces.SessionStore
	guard  *navigation.Guard
	config common.AuthConfig
	logger arbor.ILogger
	getenv func(string) string
}

// NewService creates a new authentication service
func NewService(store interfaces.SessionStore, guard *navigation.Guard, config common.AuthConfig, logger arbor.ILogger) *Service {
	return &Service{
		store:  store,
		guard:  guard,
		config: config,
		logger: logger,
		getenv: os.Getenv,
	}
}

// machine tracks the furthest state of a single login attempt
type machine struct {
	state    models.AuthState
	req      Request
	progress *common.Progress
}

func (m *machine) enter(state models.AuthState) {
	m.state = state
	m.progress.Logger().Debug().Str("state", string(state)).Str("account", m.req.Handle.AccountKey).Msg("Auth state")
}

func (m *machine) fail(err error) error {
	return &models.AuthenticationFailedError{State: m.state, Err: err}
}

// EnsureLoggedIn leaves the handle authenticated or returns a fatal error. A handle
// already authenticated in this process is not re-validated.
func (s *Service) EnsureLoggedIn(ctx context.Context, req Request) error {
	h := req.Handle
	progress := req.Progress
	if progress == nil {
		progress = common.NewProgress(s.logger, nil)
	}

	if h.Authenticated() {
		progress.Step("Session already authenticated")
		return nil
	}

	m := &machine{state: models.AuthUnauthenticated, req: req, progress: progress}

	m.enter(models.AuthCheckingSession)
	if s.restoreSession(ctx, m) {
		return s.complete(ctx, m, false)
	}

	m.enter(models.AuthCredentialsRequired)
	creds := req.Credentials
	if strings.TrimSpace(creds.Username) == "" || creds.Password == "" {
		err := &models.ConfigError{Field: "credentials", Msg: fmt.Sprintf("username and password are required for %s", h.Portal)}
		progress.Fail(err, "Cannot log in")
		return err
	}

	if err := s.submitCredentials(ctx, m); err != nil {
		progress.Fail(err, "Login failed")
		return m.fail(err)
	}

	otpShown, err := s.awaitLoginOutcome(ctx, m)
	if err != nil {
		progress.Fail(err, "Login failed")
		return m.fail(err)
	}

	if otpShown {
		m.enter(models.AuthOtpRequired)
		if err := s.resolveOTP(ctx, m); err != nil {
			progress.Fail(err, "Verification code challenge failed")
			return m.fail(err)
		}
	}

	if err := req.Handle.Page().WaitVisible(ctx, req.Profile.PostAuthSelector, s.config.PostLoginTimeout.Duration); err != nil {
		err = fmt.Errorf("post-login signal never appeared: %w", err)
		progress.Fail(err, "Login failed")
		return m.fail(err)
	}

	return s.complete(ctx, m, true)
}

func (s *Service) complete(ctx context.Context, m *machine, fresh bool) error {
	m.enter(models.AuthAuthenticated)
	h := m.req.Handle
	h.MarkAuthenticated(time.Now())

	if fresh {
		m.progress.Step("Logged in to %s", h.Portal)
	} else {
		m.progress.Step("Restored saved session for %s", h.Portal)
	}

	s.persist(ctx, m)
	return nil
}

// persist is best effort; a failed save only costs a login next run
func (s *Service) persist(ctx context.Context, m *machine) {
	h := m.req.Handle
	state, err := h.Page().ExportState(ctx)
	if err != nil {
		m.progress.Warn(err, "Could not capture session state")
		return
	}
	state.AccountKey = h.AccountKey
	state.Portal = h.Portal
	if state.SavedAt.IsZero() {
		state.SavedAt = time.Now()
	}
	if err := s.store.Save(ctx, state); err != nil {
		m.progress.Warn(err, "Could not persist session")
	}
}

// restoreSession imports the stored state and trusts it only when the landing URL
// and the post-auth element agree
func (s *Service) restoreSession(ctx context.Context, m *machine) bool {
	h := m.req.Handle
	profile := m.req.Profile
	page := h.Page()

	stored, err := s.store.Load(ctx, h.AccountKey)
	if err != nil {
		m.progress.Warn(err, "Could not read saved session")
		return false
	}
	if stored == nil {
		m.progress.Step("No saved session for %s, logging in", h.Portal)
		return false
	}

	if err := page.ImportState(ctx, stored); err != nil {
		m.progress.Warn(err, "Could not restore saved session")
		return false
	}

	probe := profile.ProbeURL
	if probe == "" {
		probe = profile.LoginURL
	}
	if err := s.guard.Goto(ctx, page, probe); err != nil {
		m.progress.Warn(err, "Saved session probe failed")
		return false
	}

	if err := sleep(ctx, s.config.SessionCheckDelay.Duration); err != nil {
		return false
	}

	location, err := page.URL(ctx)
	if err != nil {
		return false
	}
	urlOK := profile.LoginURLPattern == nil || !profile.LoginURLPattern.MatchString(location)
	elementOK := page.Exists(ctx, profile.PostAuthSelector, s.config.SessionProbeTimeout.Duration)

	s.logger.Debug().
		Str("account", h.AccountKey).
		Str("url", location).
		Bool("url_ok", urlOK).
		Bool("element_ok", elementOK).
		Msg("Saved session signals")

	if urlOK && elementOK {
		return true
	}
	if urlOK != elementOK {
		m.progress.Step("Saved session signals disagree, logging in again")
	} else {
		m.progress.Step("Saved session expired, logging in again")
	}
	return false
}

func (s *Service) submitCredentials(ctx context.Context, m *machine) error {
	page := m.req.Handle.Page()
	profile := m.req.Profile

	if err := s.guard.Goto(ctx, page, profile.LoginURL); err != nil {
		return err
	}

	m.progress.Step("Submitting credentials")
	if err := page.WaitVisible(ctx, profile.UsernameSelector, s.config.PostLoginTimeout.Duration); err != nil {
		return fmt.Errorf("login form not found: %w", err)
	}
	if err := page.Fill(ctx, profile.UsernameSelector, m.req.Credentials.Username); err != nil {
		return err
	}
	if err := page.Fill(ctx, profile.PasswordSelector, m.req.Credentials.Password); err != nil {
		return err
	}
	return page.Click(ctx, profile.SubmitSelector)
}

// awaitLoginOutcome polls until the OTP form or the post-auth element shows. Neither
// within the detect window means the mandatory post-login wait takes over.
func (s *Service) awaitLoginOutcome(ctx context.Context, m *machine) (bool, error) {
	page := m.req.Handle.Page()
	profile := m.req.Profile
	if profile.OTPInputSelector == "" {
		return false, nil
	}

	probe := pollTimeout(s.config.OTPPollInterval.Duration)
	deadline := time.Now().Add(s.config.OTPDetectTimeout.Duration)
	for {
		if page.Exists(ctx, profile.OTPInputSelector, probe) {
			return true, nil
		}
		if page.Exists(ctx, profile.PostAuthSelector, probe) {
			return false, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		if err := sleep(ctx, probe); err != nil {
			return false, err
		}
	}
}

// resolveOTP runs exactly one of: injected provider, environment code, manual entry
func (s *Service) resolveOTP(ctx context.Context, m *machine) error {
	page := m.req.Handle.Page()
	profile := m.req.Profile

	if m.req.OTP != nil {
		m.progress.Step("Verification code requested, waiting for it to be supplied")
		code, err := m.req.OTP(ctx)
		if err != nil {
			return fmt.Errorf("verification code provider failed: %w", err)
		}
		return s.submitCode(ctx, m, code)
	}

	if s.config.OTPEnv != "" {
		if code := strings.TrimSpace(s.getenv(s.config.OTPEnv)); code != "" {
			m.progress.Step("Verification code requested, using %s", s.config.OTPEnv)
			return s.submitCode(ctx, m, code)
		}
	}

	timeout := s.config.ManualOTPTimeout.Duration
	m.progress.Step("Verification code requested, waiting up to %s for it to be entered in the browser", timeout)

	interval := s.config.OTPPollInterval.Duration
	if interval <= 0 {
		interval = 2 * time.Second
	}
	probe := pollTimeout(interval)
	deadline := time.Now().Add(timeout)
	for {
		if !page.Exists(ctx, profile.OTPInputSelector, probe) {
			m.progress.Step("Verification completed in the browser")
			s.trustDevice(ctx, m)
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("verification code was not entered within %s", timeout)
		}
		if err := sleep(ctx, interval); err != nil {
			return err
		}
	}
}

func (s *Service) submitCode(ctx context.Context, m *machine, code string) error {
	page := m.req.Handle.Page()
	profile := m.req.Profile

	code = strings.TrimSpace(code)
	if code == "" {
		return errors.New("empty verification code")
	}
	if err := page.Fill(ctx, profile.OTPInputSelector, code); err != nil {
		return err
	}

	s.trustDevice(ctx, m)

	if profile.OTPSubmitSelector != "" {
		if err := page.Click(ctx, profile.OTPSubmitSelector); err != nil {
			return err
		}
	}
	return nil
}

// trustDevice ticks "remember this device" when the portal offers it; failure is ignored
func (s *Service) trustDevice(ctx context.Context, m *machine) {
	selector := m.req.Profile.TrustDeviceSelector
	if !s.config.TrustDevice || selector == "" {
		return
	}
	page := m.req.Handle.Page()
	if !page.Exists(ctx, selector, pollTimeout(s.config.OTPPollInterval.Duration)) {
		return
	}
	if err := page.Click(ctx, selector); err != nil {
		s.logger.Debug().Err(err).Msg("Trust device click failed")
		return
	}
	m.progress.Step("Marked device as trusted")
}

// Forget drops the persisted session for an account
func (s *Service) Forget(ctx context.Context, accountKey string) error {
	if err := s.store.Delete(ctx, accountKey); err != nil {
		return fmt.Errorf("failed to forget session %s: %w", accountKey, err)
	}
	s.logger.Info().Str("account", accountKey).Msg("Saved session removed")
	return nil
}

// Invalidate forgets the persisted session and forces the handle to log in again
func (s *Service) Invalidate(ctx context.Context, h *session.Handle) error {
	h.Invalidate()
	return s.Forget(ctx, h.AccountKey)
}

func pollTimeout(interval time.Duration) time.Duration {
	if interval <= 0 || interval > time.Second {
		return time.Second
	}
	return interval
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
