package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/portalx/internal/interfaces"
)

// Tab is one browser target driven through chromedp. It implements interfaces.Page.
type Tab struct {
	ctx           context.Context
	cancel        context.CancelFunc
	actionTimeout time.Duration
	logger        arbor.ILogger

	idleMu sync.Mutex
	idle   chan struct{} // closed when the current document reports networkIdle
}

func newTab(ctx context.Context, cancel context.CancelFunc, actionTimeout time.Duration, logger arbor.ILogger) (*Tab, error) {
	if actionTimeout <= 0 {
		actionTimeout = 15 * time.Second
	}
	t := &Tab{
		ctx:           ctx,
		cancel:        cancel,
		actionTimeout: actionTimeout,
		logger:        logger,
		idle:          make(chan struct{}),
	}

	chromedp.ListenTarget(ctx, func(ev interface{}) {
		switch e := ev.(type) {
		case *page.EventJavascriptDialogOpening:
			// Portals raise alert/confirm boxes that block every other call until handled
			logger.Debug().Str("type", string(e.Type)).Str("message", e.Message).Msg("Accepting JavaScript dialog")
			go func() {
				if err := chromedp.Run(ctx, page.HandleJavaScriptDialog(true)); err != nil {
					logger.Debug().Err(err).Msg("Failed to accept dialog")
				}
			}()
		case *page.EventLifecycleEvent:
			switch e.Name {
			case "init":
				t.resetIdle()
			case "networkIdle":
				t.markIdle()
			}
		}
	})

	if err := chromedp.Run(ctx, page.SetLifecycleEventsEnabled(true)); err != nil {
		return nil, fmt.Errorf("failed to enable lifecycle events: %w", err)
	}

	return t, nil
}

func (t *Tab) resetIdle() {
	t.idleMu.Lock()
	defer t.idleMu.Unlock()
	select {
	case <-t.idle:
		t.idle = make(chan struct{})
	default:
	}
}

func (t *Tab) markIdle() {
	t.idleMu.Lock()
	defer t.idleMu.Unlock()
	select {
	case <-t.idle:
	default:
		close(t.idle)
	}
}

// run executes actions on this tab, bounded by timeout and by the caller's ctx
func (t *Tab) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if timeout <= 0 {
		timeout = t.actionTimeout
	}
	runCtx, cancel := context.WithTimeout(t.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

// deadline picks the caller's remaining time when it has one, otherwise the default
func (t *Tab) deadline(ctx context.Context) time.Duration {
	if d, ok := ctx.Deadline(); ok {
		return time.Until(d)
	}
	return t.actionTimeout
}

func (t *Tab) Navigate(ctx context.Context, url string) error {
	t.resetIdle()
	return t.run(ctx, t.deadline(ctx),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

func (t *Tab) WaitNetworkIdle(ctx context.Context, timeout time.Duration) error {
	t.idleMu.Lock()
	idle := t.idle
	t.idleMu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-idle:
		return nil
	case <-timer.C:
		return context.DeadlineExceeded
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Tab) URL(ctx context.Context) (string, error) {
	var location string
	if err := t.run(ctx, 0, chromedp.Location(&location)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return location, nil
}

func (t *Tab) Exists(ctx context.Context, selector string, timeout time.Duration) bool {
	return t.run(ctx, timeout, chromedp.WaitReady(selector, chromedp.ByQuery)) == nil
}

func (t *Tab) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	if err := t.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("element %q not visible: %w", selector, err)
	}
	return nil
}

func (t *Tab) Fill(ctx context.Context, selector, value string) error {
	err := t.run(ctx, 0,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("failed to fill %q: %w", selector, err)
	}
	return nil
}

func (t *Tab) Click(ctx context.Context, selector string) error {
	if err := t.run(ctx, 0, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return fmt.Errorf("failed to click %q: %w", selector, err)
	}
	return nil
}

func (t *Tab) Text(ctx context.Context, selector string) (string, error) {
	var text string
	if err := t.run(ctx, 0, chromedp.Text(selector, &text, chromedp.ByQuery, chromedp.NodeReady)); err != nil {
		return "", fmt.Errorf("failed to read text of %q: %w", selector, err)
	}
	return text, nil
}

func (t *Tab) HTML(ctx context.Context) (string, error) {
	var html string
	if err := t.run(ctx, 0, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to read page HTML: %w", err)
	}
	return html, nil
}

func (t *Tab) Evaluate(ctx context.Context, expression string, out any) error {
	if err := t.run(ctx, 0, chromedp.Evaluate(expression, out)); err != nil {
		return fmt.Errorf("evaluate failed: %w", err)
	}
	return nil
}

// ClickForPopup clicks selector and attaches to the window it opens
func (t *Tab) ClickForPopup(ctx context.Context, selector string, timeout time.Duration) (interfaces.Page, error) {
	c := chromedp.FromContext(t.ctx)
	if c == nil || c.Target == nil {
		return nil, fmt.Errorf("tab has no target")
	}
	openerID := c.Target.TargetID

	listenCtx, stopListening := context.WithCancel(t.ctx)
	defer stopListening()

	newTarget := chromedp.WaitNewTarget(listenCtx, func(info *target.Info) bool {
		return info.Type == "page" && info.OpenerID == openerID
	})

	if err := t.Click(ctx, selector); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var id target.ID
	select {
	case id = <-newTarget:
	case <-timer.C:
		return nil, fmt.Errorf("popup did not open within %s", timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	popupCtx, popupCancel := chromedp.NewContext(t.ctx, chromedp.WithTargetID(id))
	popup, err := newTab(popupCtx, popupCancel, t.actionTimeout, t.logger)
	if err != nil {
		popupCancel()
		return nil, fmt.Errorf("failed to attach to popup: %w", err)
	}

	if err := popup.run(ctx, timeout, chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		popup.Close()
		return nil, fmt.Errorf("popup did not load: %w", err)
	}

	t.logger.Debug().Str("target", string(id)).Msg("Attached to popup window")
	return popup, nil
}

// OpenTab opens a new tab in the same browser; closing it leaves this tab untouched
func (t *Tab) OpenTab(ctx context.Context) (interfaces.Page, error) {
	tabCtx, tabCancel := chromedp.NewContext(t.ctx)
	tab, err := newTab(tabCtx, tabCancel, t.actionTimeout, t.logger)
	if err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}
	return tab, nil
}

// Close closes this tab's window
func (t *Tab) Close() error {
	if err := chromedp.Run(t.ctx, page.Close()); err != nil {
		t.logger.Debug().Err(err).Msg("Popup close reported an error")
	}
	t.cancel()
	return nil
}
