package navigation

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/portalx/internal/common"
	"github.com/ternarybob/portalx/internal/interfaces"
	"github.com/ternarybob/portalx/internal/models"
)

// Options bound a single guarded navigation
type Options struct {
	MaxAttempts int
	NavTimeout  time.Duration
	IdleTimeout time.Duration
}

// Guard wraps every page transition with bounded retry and a soft idle wait
type Guard struct {
	defaults Options
	policy   RetryPolicy
	logger   arbor.ILogger
}

// NewGuard creates a Guard from the navigation configuration
func NewGuard(config common.NavigationConfig, logger arbor.ILogger) *Guard {
	return &Guard{
		defaults: Options{
			MaxAttempts: config.MaxAttempts,
			NavTimeout:  config.NavTimeout.Duration,
			IdleTimeout: config.IdleTimeout.Duration,
		},
		policy: *NewRetryPolicy(config.MaxAttempts, config.InitialBackoff.Duration, config.MaxBackoff.Duration),
		logger: logger,
	}
}

// Defaults returns the configured options
func (g *Guard) Defaults() Options {
	return g.defaults
}

// Goto navigates with the configured defaults
func (g *Guard) Goto(ctx context.Context, page interfaces.Page, url string) error {
	return g.GotoWith(ctx, page, url, g.defaults)
}

// GotoWith navigates to url, retrying network-class failures. Once the content has
// loaded it waits briefly for network quiescence; that wait may expire silently.
func (g *Guard) GotoWith(ctx context.Context, page interfaces.Page, url string, opts Options) error {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 3
	}
	if opts.NavTimeout <= 0 {
		opts.NavTimeout = g.defaults.NavTimeout
	}

	policy := g.policy
	policy.MaxAttempts = opts.MaxAttempts

	err := WithRetry(ctx, g.logger, &policy, func(attempt int) error {
		navCtx := ctx
		if opts.NavTimeout > 0 {
			var cancel context.CancelFunc
			navCtx, cancel = context.WithTimeout(ctx, opts.NavTimeout)
			defer cancel()
		}
		g.logger.Debug().Str("url", url).Int("attempt", attempt).Msg("Navigating")
		return page.Navigate(navCtx, url)
	})

	if err != nil {
		var exhausted *ExhaustedError
		if errors.As(err, &exhausted) {
			return &models.NavigationExhaustedError{URL: url, Attempts: exhausted.Attempts, Err: exhausted.Err}
		}
		return err
	}

	if opts.IdleTimeout > 0 {
		if err := page.WaitNetworkIdle(ctx, opts.IdleTimeout); err != nil {
			g.logger.Debug().Str("url", url).Dur("idle_timeout", opts.IdleTimeout).Msg("Network not idle, proceeding anyway")
		}
	}

	return nil
}
