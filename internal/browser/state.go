package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/portalx/internal/models"
)

const localStorageDumpJS = `Object.fromEntries(Object.entries(window.localStorage || {}))`

// ExportState snapshots every browser cookie plus localStorage of the current origin
func (t *Tab) ExportState(ctx context.Context) (*models.StoredState, error) {
	var cookies []*network.Cookie
	err := t.run(ctx, 0, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = storage.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}

	location, err := t.URL(ctx)
	if err != nil {
		return nil, err
	}

	local := map[string]string{}
	if err := t.run(ctx, 0, chromedp.Evaluate(localStorageDumpJS, &local)); err != nil {
		t.logger.Debug().Err(err).Msg("localStorage not readable, exporting cookies only")
		local = nil
	}

	state := &models.StoredState{
		Origin:       originOf(location),
		Cookies:      make([]models.StoredCookie, 0, len(cookies)),
		LocalStorage: local,
		SavedAt:      time.Now(),
	}
	for _, c := range cookies {
		state.Cookies = append(state.Cookies, models.StoredCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: string(c.SameSite),
		})
	}

	t.logger.Debug().
		Int("cookies", len(state.Cookies)).
		Int("local_storage_keys", len(state.LocalStorage)).
		Msg("Browser state exported")

	return state, nil
}

// ImportState restores cookies and localStorage. Expired cookies are skipped and a
// single cookie failure does not abort the rest.
func (t *Tab) ImportState(ctx context.Context, state *models.StoredState) error {
	if state.IsEmpty() {
		return nil
	}

	if err := t.run(ctx, 0, network.Enable()); err != nil {
		return fmt.Errorf("failed to enable network domain: %w", err)
	}

	now := time.Now()
	successCount, failCount := 0, 0
	err := t.run(ctx, 0, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range state.Cookies {
			var expires *cdp.TimeSinceEpoch
			if c.Expires > 0 {
				expiresTime := time.Unix(int64(c.Expires), 0)
				if !expiresTime.After(now) {
					continue
				}
				timestamp := cdp.TimeSinceEpoch(expiresTime)
				expires = &timestamp
			}

			params := network.SetCookie(c.Name, c.Value).
				WithDomain(c.Domain).
				WithPath(c.Path).
				WithSecure(c.Secure).
				WithHTTPOnly(c.HTTPOnly).
				WithExpires(expires)
			if sameSite := sameSiteOf(c.SameSite); sameSite != "" {
				params = params.WithSameSite(sameSite)
			}

			if err := params.Do(ctx); err != nil {
				failCount++
				t.logger.Debug().Err(err).Str("cookie", c.Name).Msg("Failed to restore cookie")
				continue
			}
			successCount++
		}
		return nil
	}))
	if err != nil {
		return fmt.Errorf("failed to restore cookies: %w", err)
	}

	if len(state.LocalStorage) > 0 && state.Origin != "" {
		if err := t.restoreLocalStorage(ctx, state); err != nil {
			t.logger.Warn().Err(err).Str("origin", state.Origin).Msg("Failed to restore localStorage")
		}
	}

	t.logger.Debug().
		Int("cookies_restored", successCount).
		Int("cookies_failed", failCount).
		Msg("Browser state imported")

	return nil
}

// restoreLocalStorage has to run on the origin that owns the storage
func (t *Tab) restoreLocalStorage(ctx context.Context, state *models.StoredState) error {
	data, err := json.Marshal(state.LocalStorage)
	if err != nil {
		return err
	}
	script := fmt.Sprintf(`(() => { const d = %s; for (const k in d) { window.localStorage.setItem(k, d[k]); } return true; })()`, data)

	var ok bool
	return t.run(ctx, t.deadline(ctx),
		chromedp.Navigate(state.Origin),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Evaluate(script, &ok),
	)
}

func originOf(location string) string {
	u, err := url.Parse(location)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func sameSiteOf(value string) network.CookieSameSite {
	switch strings.ToLower(value) {
	case "strict":
		return network.CookieSameSiteStrict
	case "lax":
		return network.CookieSameSiteLax
	case "none":
		return network.CookieSameSiteNone
	}
	return ""
}
