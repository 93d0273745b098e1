package obstacles

import (
	"context"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/portalx/internal/interfaces"
	"github.com/ternarybob/portalx/internal/models"
)

// DefaultRules cover the blockers most portals share. Adapter rules for the same
// kind are tried first.
var DefaultRules = []models.ObstacleRule{
	{
		Kind:   models.ObstacleSurvey,
		Detect: []string{`[id*="survey" i]`, `[class*="survey" i]`, `#fsrInvite`, `.QSIWebResponsive`, `[id^="acsMainInvite"]`},
		Close:  []string{`#fsrFocusFirst`, `button[aria-label*="close" i]`, `[class*="survey" i] button[class*="close" i]`, `.QSIWebResponsiveDialog-Layout1-SI_close-btn`, `a[class*="decline" i]`},
	},
	{
		Kind:   models.ObstacleConfirm,
		Detect: []string{`.modal.show`, `.modal[style*="display: block"]`, `[role="alertdialog"]`},
		Close:  []string{`.modal.show button.btn-primary`, `[role="alertdialog"] button`, `button[data-dismiss="modal"]`, `button[data-bs-dismiss="modal"]`},
	},
	{
		Kind:   models.ObstacleDialog,
		Detect: []string{`[role="dialog"][aria-modal="true"]`, `.ui-dialog:not([style*="display: none"])`, `.cdk-overlay-pane`},
		Close:  []string{`[role="dialog"] button[aria-label*="close" i]`, `.ui-dialog-titlebar-close`, `.cdk-overlay-pane button[mat-dialog-close]`, `[role="dialog"] button`},
	},
	{
		Kind:   models.ObstacleSessionTimeout,
		Detect: []string{`[id*="timeout" i][role="dialog"]`, `[class*="session-timeout" i]`, `#sessionTimeoutModal`},
		Close:  []string{`button[id*="continue" i]`, `button[id*="stay" i]`, `[class*="session-timeout" i] button`},
	},
}

// closeProbe bounds each check once a blocker is known to be on the page
const closeProbe = 150 * time.Millisecond

// Service closes incidental UI blockers. It is stateless and never returns errors;
// an obstacle that is absent or will not close is not a failure.
//
// Absence is the common case, so a page is probed with one selector list per kind
// (and one list for every kind in DismissAll) under a single timeout.
type Service struct {
	rules   map[models.ObstacleKind][]models.ObstacleRule
	detect  map[models.ObstacleKind]string
	every   string
	order   []models.ObstacleKind
	timeout time.Duration
	logger  arbor.ILogger
}

// NewService builds the rule set, adapter-specific rules ahead of the defaults
func NewService(extra []models.ObstacleRule, timeout time.Duration, logger arbor.ILogger) *Service {
	s := &Service{
		rules:   map[models.ObstacleKind][]models.ObstacleRule{},
		detect:  map[models.ObstacleKind]string{},
		timeout: timeout,
		logger:  logger,
	}
	var all []string
	for _, rule := range append(append([]models.ObstacleRule{}, extra...), DefaultRules...) {
		if _, seen := s.rules[rule.Kind]; !seen {
			s.order = append(s.order, rule.Kind)
		}
		s.rules[rule.Kind] = append(s.rules[rule.Kind], rule)
		all = append(all, rule.Detect...)
	}
	for kind, rules := range s.rules {
		var selectors []string
		for _, rule := range rules {
			selectors = append(selectors, rule.Detect...)
		}
		s.detect[kind] = selectorList(selectors)
	}
	s.every = selectorList(all)
	return s
}

// selectorList joins selectors into one CSS selector list
func selectorList(selectors []string) string {
	return strings.Join(selectors, ", ")
}

// DismissIfPresent closes one blocker of the given kind and reports whether it did
func (s *Service) DismissIfPresent(ctx context.Context, page interfaces.Page, kind models.ObstacleKind) bool {
	if s.detect[kind] == "" || !page.Exists(ctx, s.detect[kind], s.timeout) {
		return false
	}
	return s.close(ctx, page, kind)
}

// close runs once the kind is known to be present; every check here is short
func (s *Service) close(ctx context.Context, page interfaces.Page, kind models.ObstacleKind) bool {
	for _, rule := range s.rules[kind] {
		detected := ""
		for _, sel := range rule.Detect {
			if page.Exists(ctx, sel, closeProbe) {
				detected = sel
				break
			}
		}
		if detected == "" {
			continue
		}

		for _, sel := range rule.Close {
			if !page.Exists(ctx, sel, closeProbe) {
				continue
			}
			if err := page.Click(ctx, sel); err != nil {
				s.logger.Debug().Err(err).Str("kind", string(kind)).Str("selector", sel).Msg("Obstacle close failed")
				continue
			}
			s.logger.Debug().Str("kind", string(kind)).Str("detected", detected).Str("closed_by", sel).Msg("Obstacle dismissed")
			return true
		}

		s.logger.Debug().Str("kind", string(kind)).Str("detected", detected).Msg("Obstacle present but no close control worked")
	}
	return false
}

// DismissAll runs every rule once and returns the kinds that were dismissed. A page
// with no blocker costs a single timed check.
func (s *Service) DismissAll(ctx context.Context, page interfaces.Page) []models.ObstacleKind {
	if s.every == "" || !page.Exists(ctx, s.every, s.timeout) {
		return nil
	}

	var dismissed []models.ObstacleKind
	for _, kind := range s.order {
		if ctx.Err() != nil {
			break
		}
		if !page.Exists(ctx, s.detect[kind], closeProbe) {
			continue
		}
		if s.close(ctx, page, kind) {
			dismissed = append(dismissed, kind)
		}
	}
	return dismissed
}
