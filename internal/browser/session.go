package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/portalx/internal/common"
)

// Session owns exactly one Chrome allocator, browser and primary tab. It is never
// shared between portal accounts.
type Session struct {
	*Tab

	allocatorCancel context.CancelFunc
	browserCancel   context.CancelFunc
	closeTimeout    time.Duration
	logger          arbor.ILogger
	closeOnce       sync.Once
}

// NewSession launches a browser and verifies it responds before returning
func NewSession(config common.BrowserConfig, logger arbor.ILogger) (*Session, error) {
	startTime := time.Now()

	allocatorOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", config.Headless),
		chromedp.Flag("disable-gpu", config.Headless),
		chromedp.Flag("no-sandbox", config.NoSandbox),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(config.WindowWidth, config.WindowHeight),
	)
	if config.UserAgent != "" {
		allocatorOpts = append(allocatorOpts, chromedp.UserAgent(config.UserAgent))
	}
	if config.ExecPath != "" {
		allocatorOpts = append(allocatorOpts, chromedp.ExecPath(config.ExecPath))
	}

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), allocatorOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	startTimeout := config.StartTimeout.Duration
	if startTimeout <= 0 {
		startTimeout = 30 * time.Second
	}

	testCtx, testCancel := context.WithTimeout(browserCtx, startTimeout)
	defer testCancel()

	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("browser failed startup test: %w", err)
	}

	var title string
	if err := chromedp.Run(testCtx, chromedp.Title(&title)); err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("browser failed responsiveness test: %w", err)
	}

	tab, err := newTab(browserCtx, browserCancel, config.ActionTimeout.Duration, logger)
	if err != nil {
		browserCancel()
		allocatorCancel()
		return nil, err
	}

	logger.Debug().
		Bool("headless", config.Headless).
		Dur("startup_time", time.Since(startTime)).
		Msg("Browser session started")

	return &Session{
		Tab:             tab,
		allocatorCancel: allocatorCancel,
		browserCancel:   browserCancel,
		closeTimeout:    config.CloseTimeout.Duration,
		logger:          logger,
	}, nil
}

// Close shuts the browser down. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		done := make(chan struct{})
		go func() {
			if err := chromedp.Cancel(s.ctx); err != nil {
				s.logger.Debug().Err(err).Msg("Browser did not close cleanly")
			}
			close(done)
		}()

		timeout := s.closeTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}

		select {
		case <-done:
		case <-time.After(timeout):
			s.logger.Warn().Dur("timeout", timeout).Msg("Browser shutdown timed out, forcing cleanup")
		}

		s.browserCancel()
		s.allocatorCancel()
		s.logger.Debug().Msg("Browser session closed")
	})
	return nil
}
