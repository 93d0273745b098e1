// Package extraction runs the patient extraction pipeline against one
// authenticated portal session.
package extraction

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/portalx/internal/common"
	"github.com/ternarybob/portalx/internal/interfaces"
	"github.com/ternarybob/portalx/internal/models"
	"github.com/ternarybob/portalx/internal/services/auth"
	"github.com/ternarybob/portalx/internal/services/navigation"
	"github.com/ternarybob/portalx/internal/services/obstacles"
	"github.com/ternarybob/portalx/internal/session"
	"golang.org/x/time/rate"
)

// Request is one patient extraction
type Request struct {
	Handle      *session.Handle
	Query       models.PatientQuery
	Credentials auth.Credentials
	OTP         interfaces.OTPProvider
	Progress    *common.Progress
}

// Service drives search, selection, eligibility and claims for one patient
type Service struct {
	auth   *auth.Service
	config common.ExtractionConfig
	logger arbor.ILogger
	now    func() time.Time
}

// NewService creates a new extraction service
func NewService(authService *auth.Service, config common.ExtractionConfig, logger arbor.ILogger) *Service {
	return &Service{
		auth:   authService,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// run is the state of one extraction
type run struct {
	page      interfaces.Page
	adapter   interfaces.PortalAdapter
	progress  *common.Progress
	obstacles *obstacles.Service
	result    *models.ExtractionResult
}

// Extract returns a complete result, possibly with annotated claims, or one
// fatal *models.StageError naming the furthest stage reached
func (s *Service) Extract(ctx context.Context, req Request) (*models.ExtractionResult, error) {
	h := req.Handle
	if h == nil || h.Closed() {
		return nil, &models.StageError{Stage: models.StageAuthenticate, Err: errors.New("session is closed")}
	}

	progress := req.Progress
	if progress == nil {
		progress = common.NewProgress(s.logger, nil)
	}
	progress = progress.WithPrefix(h.Portal)

	query, err := req.Query.Normalize()
	if err != nil {
		progress.Fail(err, "Rejected patient query")
		return nil, &models.StageError{Stage: models.StageSearch, Err: err}
	}

	h.Lock()
	defer h.Unlock()

	r := &run{
		page:      h.Page(),
		adapter:   h.Adapter(),
		progress:  progress,
		obstacles: obstacles.NewService(h.Adapter().Obstacles(), s.config.ObstacleTimeout.Duration, s.logger),
		result: &models.ExtractionResult{
			Portal:         h.Portal,
			ExtractionDate: s.now().UTC(),
			Patient:        query,
			Claims:         []*models.Claim{},
		},
	}

	progress.Step("Checking login")
	err = s.auth.EnsureLoggedIn(ctx, auth.Request{
		Handle:      h,
		Profile:     r.adapter.Login(),
		Credentials: req.Credentials,
		OTP:         req.OTP,
		Progress:    progress,
	})
	if err != nil {
		return nil, &models.StageError{Stage: models.StageAuthenticate, Err: err}
	}

	found, err := s.findPatient(ctx, r, query)
	if err != nil {
		var se *models.StageError
		if errors.As(err, &se) {
			progress.Fail(se.Err, "Extraction stopped at %s", se.Stage)
		}
		return nil, err
	}
	if !found {
		progress.Step("No matching patient found")
		return r.result, nil
	}
	r.result.Found = true

	if err := s.readEligibility(ctx, r); err != nil {
		progress.Fail(err, "Extraction stopped at %s", models.StageEligibility)
		return nil, &models.StageError{Stage: models.StageEligibility, Err: err}
	}

	claims, err := s.readClaims(ctx, r)
	if err != nil {
		var se *models.StageError
		if errors.As(err, &se) {
			progress.Fail(se.Err, "Extraction stopped at %s", se.Stage)
			return nil, err
		}
		progress.Fail(err, "Extraction stopped at %s", models.StageClaims)
		return nil, &models.StageError{Stage: models.StageClaims, Err: err}
	}
	r.result.Claims = models.MergeClaims(claims)
	if r.result.Claims == nil {
		r.result.Claims = []*models.Claim{}
	}

	summary := r.result.Summary()
	progress.Step("Extracted %d claims with %d services (%d detail failures)", summary.TotalClaims, summary.TotalServices, summary.ClaimsWithDetailFailures)
	return r.result, nil
}

// findPatient searches, disambiguates and opens the matching patient. False with
// a nil error means the portal had no such patient.
func (s *Service) findPatient(ctx context.Context, r *run, query models.PatientQuery) (bool, error) {
	r.progress.Step("Searching for %s", query.FullName())
	outcome, err := r.adapter.Search(ctx, r.page, query)
	if err != nil {
		return false, &models.StageError{Stage: models.StageSearch, Err: err}
	}
	s.dismiss(ctx, r)

	if outcome.NeedsDisambiguation {
		r.progress.Step("Portal reported duplicate identities, resubmitting with a secondary field")
		outcome, err = r.adapter.Disambiguate(ctx, r.page, query)
		if err != nil {
			return false, &models.StageError{Stage: models.StageDisambiguate, Err: err}
		}
	}

	if !outcome.Direct {
		if len(outcome.Candidates) == 0 {
			return false, nil
		}
		candidate, reason := SelectCandidate(outcome.Candidates, query, s.config.NameMatchMinScore)
		r.progress.Step("Opening result %q (%s match, %d results)", candidate.Name, reason, len(outcome.Candidates))
		if err := r.adapter.OpenResult(ctx, r.page, candidate); err != nil {
			return false, &models.StageError{Stage: models.StageSelect, Err: err}
		}
	}

	s.dismiss(ctx, r)
	return true, nil
}

func (s *Service) dismiss(ctx context.Context, r *run) {
	for _, kind := range r.obstacles.DismissAll(ctx, r.page) {
		r.progress.Step("Dismissed %s", kind)
	}
}

// readEligibility fills the snapshot. A page without benefit figures is data-absent.
func (s *Service) readEligibility(ctx context.Context, r *run) error {
	r.progress.Step("Reading eligibility")
	snap, err := r.adapter.ExtractEligibility(ctx, r.page)
	if err != nil {
		if isFatal(ctx, err) {
			return err
		}
		r.progress.Warn(err, "Eligibility unavailable")
		return nil
	}
	if snap == nil || snap.IsEmpty() {
		r.progress.Step("No eligibility figures shown")
	}
	r.result.Eligibility = snap
	return nil
}

// isFatal separates errors that must abort the extraction from ones that only
// leave a gap in the result
func isFatal(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	var navErr *models.NavigationExhaustedError
	var cfgErr *models.ConfigError
	return errors.As(err, &navErr) || errors.As(err, &cfgErr)
}

// readClaims walks the claims list page by page, fetching each new claim's
// detail before moving on so row-bound detail controls are still on screen
func (s *Service) readClaims(ctx context.Context, r *run) ([]*models.Claim, error) {
	r.progress.Step("Opening claims history")
	if err := r.adapter.OpenClaims(ctx, r.page); err != nil {
		if isFatal(ctx, err) {
			return nil, err
		}
		r.progress.Warn(err, "Claims history unavailable")
		return nil, nil
	}

	limiter := rate.NewLimiter(rate.Every(s.config.DetailDelay.Duration), 1)
	if s.config.DetailDelay.Duration <= 0 {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}

	seen := map[string]bool{}
	var all []*models.Claim

	maxPages := s.config.MaxPages
	if maxPages < 1 {
		maxPages = 1
	}
	for pageNo := 1; pageNo <= maxPages; pageNo++ {
		fresh, err := s.readClaimsPage(ctx, r, seen)
		if err != nil {
			if isFatal(ctx, err) {
				return nil, err
			}
			r.progress.Warn(err, "Failed to read claims page %d", pageNo)
			break
		}
		if len(fresh) == 0 {
			r.progress.Step("Claims page %d is empty", pageNo)
			break
		}
		r.progress.Step("Claims page %d: %d claims", pageNo, len(fresh))

		if err := s.fetchDetails(ctx, r, fresh, limiter); err != nil {
			return nil, &models.StageError{Stage: models.StageDetails, Err: err}
		}
		all = append(all, fresh...)

		more, err := r.adapter.NextClaimsPage(ctx, r.page)
		if err != nil {
			if isFatal(ctx, err) {
				return nil, err
			}
			r.progress.Warn(err, "Stopped paging claims after page %d", pageNo)
			break
		}
		if !more {
			break
		}
		if pageNo == maxPages {
			r.progress.Warn(nil, "Stopped paging claims at the %d page limit", maxPages)
		}
	}

	return all, nil
}

// readClaimsPage returns the claims on the current page not seen on earlier
// pages. A page with nothing new is read once more before it is believed.
func (s *Service) readClaimsPage(ctx context.Context, r *run, seen map[string]bool) ([]*models.Claim, error) {
	var fresh []*models.Claim
	for attempt := 1; attempt <= 2; attempt++ {
		if attempt == 2 {
			r.progress.Step("Claims page looks empty, reading it again")
			if err := sleep(ctx, s.config.EmptyPageRetry.Duration); err != nil {
				return nil, err
			}
		}

		claims, err := r.adapter.ReadClaimsPage(ctx, r.page)
		if err != nil {
			return nil, err
		}
		for _, c := range claims {
			if c == nil || c.Key() == "" || seen[c.Key()] {
				continue
			}
			seen[c.Key()] = true
			fresh = append(fresh, c)
		}
		if len(fresh) > 0 {
			break
		}
	}
	return fresh, nil
}

// fetchDetails merges each claim's detail. A failed fetch annotates that claim
// and the rest carry on; only cancellation stops the loop.
func (s *Service) fetchDetails(ctx context.Context, r *run, claims []*models.Claim, limiter *rate.Limiter) error {
	policy := navigation.NewRetryPolicy(s.config.DetailAttempts, s.config.DetailDelay.Duration, 4*s.config.DetailDelay.Duration)

	for _, claim := range claims {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}

		var detail *models.Claim
		err := navigation.WithRetry(ctx, s.logger, policy, func(attempt int) error {
			var err error
			detail, err = r.adapter.FetchClaimDetail(ctx, r.page, claim)
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			claim.DetailError = err.Error()
			r.progress.Warn(err, "Claim %s detail unavailable", claim.Number)
			continue
		}
		claim.ApplyDetail(detail)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
