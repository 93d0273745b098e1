// Package pagetest provides a scripted in-memory Page for exercising portal flows
// without a browser.
package pagetest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/portalx/internal/interfaces"
	"github.com/ternarybob/portalx/internal/models"
)

// FakePage implements interfaces.Page over a mutable set of elements. Handlers
// registered with OnNavigate and OnClick script how the "portal" reacts.
type FakePage struct {
	mu sync.Mutex

	url      string
	elements map[string]bool
	texts    map[string]string
	html     string
	values   map[string]string

	visits []string
	clicks []string

	navigateErrors []error
	navigate       map[string]func(p *FakePage)
	click          map[string]func(p *FakePage) error
	popups         map[string]func() (interfaces.Page, error)
	evaluate       func(expression string) (any, error)
	openTab        func() (interfaces.Page, error)

	state    *models.StoredState
	imported []*models.StoredState
	closed   bool
}

var _ interfaces.Page = (*FakePage)(nil)

// New creates an empty page at about:blank
func New() *FakePage {
	return &FakePage{
		url:      "about:blank",
		elements: map[string]bool{},
		texts:    map[string]string{},
		values:   map[string]string{},
		navigate: map[string]func(p *FakePage){},
		click:    map[string]func(p *FakePage) error{},
		popups:   map[string]func() (interfaces.Page, error){},
	}
}

// Show makes selectors present
func (p *FakePage) Show(selectors ...string) *FakePage {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range selectors {
		p.elements[s] = true
	}
	return p
}

// Hide removes selectors
func (p *FakePage) Hide(selectors ...string) *FakePage {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range selectors {
		delete(p.elements, s)
	}
	return p
}

// SetText sets the text returned for selector and makes it present
func (p *FakePage) SetText(selector, text string) *FakePage {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.texts[selector] = text
	p.elements[selector] = true
	return p
}

// SetHTML sets the document HTML
func (p *FakePage) SetHTML(html string) *FakePage {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.html = html
	return p
}

// SetURL moves the page without a navigation
func (p *FakePage) SetURL(url string) *FakePage {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
	return p
}

// SetState sets what ExportState returns
func (p *FakePage) SetState(state *models.StoredState) *FakePage {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = state
	return p
}

// FailNavigations queues errors returned by the next Navigate calls, in order
func (p *FakePage) FailNavigations(errs ...error) *FakePage {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigateErrors = append(p.navigateErrors, errs...)
	return p
}

// OnNavigate runs fn after every successful navigation to url
func (p *FakePage) OnNavigate(url string, fn func(p *FakePage)) *FakePage {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigate[url] = fn
	return p
}

// OnClick runs fn when selector is clicked
func (p *FakePage) OnClick(selector string, fn func(p *FakePage) error) *FakePage {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.click[selector] = fn
	p.elements[selector] = true
	return p
}

// OnPopup makes a click on selector open the page fn returns
func (p *FakePage) OnPopup(selector string, fn func() (interfaces.Page, error)) *FakePage {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.popups[selector] = fn
	p.elements[selector] = true
	return p
}

// OnEvaluate answers Evaluate calls
func (p *FakePage) OnEvaluate(fn func(expression string) (any, error)) *FakePage {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evaluate = fn
	return p
}

// OnOpenTab answers OpenTab calls; by default a blank FakePage is returned
func (p *FakePage) OnOpenTab(fn func() (interfaces.Page, error)) *FakePage {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.openTab = fn
	return p
}

// Visits lists every navigated URL
func (p *FakePage) Visits() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.visits...)
}

// Clicks lists every clicked selector
func (p *FakePage) Clicks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.clicks...)
}

// ClickCount counts clicks on selector
func (p *FakePage) ClickCount(selector string) int {
	n := 0
	for _, c := range p.Clicks() {
		if c == selector {
			n++
		}
	}
	return n
}

// Filled returns the last value filled into selector
func (p *FakePage) Filled(selector string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.values[selector]
	return v, ok
}

// Imported lists states passed to ImportState
func (p *FakePage) Imported() []*models.StoredState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*models.StoredState(nil), p.imported...)
}

// IsClosed reports whether Close was called
func (p *FakePage) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *FakePage) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	p.visits = append(p.visits, url)
	if len(p.navigateErrors) > 0 {
		err := p.navigateErrors[0]
		p.navigateErrors = p.navigateErrors[1:]
		if err != nil {
			p.mu.Unlock()
			return err
		}
	}
	p.url = url
	fn := p.navigate[url]
	p.mu.Unlock()

	if fn != nil {
		fn(p)
	}
	return nil
}

func (p *FakePage) WaitNetworkIdle(ctx context.Context, timeout time.Duration) error {
	return nil
}

func (p *FakePage) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

// Exists matches shown selectors exactly. A selector list matches when any member does.
func (p *FakePage) Exists(ctx context.Context, selector string, timeout time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.elements[selector] {
		return true
	}
	for _, sel := range splitSelectorList(selector) {
		if p.elements[sel] {
			return true
		}
	}
	return false
}

func (p *FakePage) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if p.Exists(ctx, selector, 0) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("element %q not visible: %w", selector, context.DeadlineExceeded)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (p *FakePage) Fill(ctx context.Context, selector, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.elements[selector] {
		return fmt.Errorf("failed to fill %q: not found", selector)
	}
	p.values[selector] = value
	return nil
}

func (p *FakePage) Click(ctx context.Context, selector string) error {
	p.mu.Lock()
	if !p.elements[selector] {
		p.mu.Unlock()
		return fmt.Errorf("failed to click %q: not found", selector)
	}
	p.clicks = append(p.clicks, selector)
	fn := p.click[selector]
	p.mu.Unlock()

	if fn != nil {
		return fn(p)
	}
	return nil
}

func (p *FakePage) Text(ctx context.Context, selector string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if text, ok := p.texts[selector]; ok {
		return text, nil
	}
	if selector == "body" {
		return stripTags(p.html), nil
	}
	return "", fmt.Errorf("failed to read text of %q: not found", selector)
}

func (p *FakePage) HTML(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.html, nil
}

func (p *FakePage) Evaluate(ctx context.Context, expression string, out any) error {
	p.mu.Lock()
	fn := p.evaluate
	p.mu.Unlock()
	if fn == nil {
		return fmt.Errorf("evaluate failed: no handler")
	}
	result, err := fn(expression)
	if err != nil {
		return fmt.Errorf("evaluate failed: %w", err)
	}
	if out == nil {
		return nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (p *FakePage) ClickForPopup(ctx context.Context, selector string, timeout time.Duration) (interfaces.Page, error) {
	if err := p.Click(ctx, selector); err != nil {
		return nil, err
	}
	p.mu.Lock()
	fn := p.popups[selector]
	p.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("popup did not open within %s", timeout)
	}
	return fn()
}

func (p *FakePage) OpenTab(ctx context.Context) (interfaces.Page, error) {
	p.mu.Lock()
	fn := p.openTab
	p.mu.Unlock()
	if fn == nil {
		return New(), nil
	}
	return fn()
}

func (p *FakePage) ExportState(ctx context.Context) (*models.StoredState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == nil {
		return &models.StoredState{SavedAt: time.Now()}, nil
	}
	copied := *p.state
	return &copied, nil
}

func (p *FakePage) ImportState(ctx context.Context, state *models.StoredState) error {
	p.mu.Lock()
	p.imported = append(p.imported, state)
	p.mu.Unlock()
	return nil
}

func (p *FakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// stripTags is only good enough for test fixtures
func stripTags(html string) string {
	var b strings.Builder
	inTag := false
	for _, r := range html {
		switch {
		case r == '<':
			inTag = true
			b.WriteRune('\n')
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// splitSelectorList splits on commas outside quotes, brackets and parentheses
func splitSelectorList(list string) []string {
	var parts []string
	depth, start := 0, 0
	var quote rune
	for i, r := range list {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '[' || r == '(':
			depth++
		case r == ']' || r == ')':
			depth--
		case r == ',' && depth == 0:
			parts = append(parts, strings.TrimSpace(list[start:i]))
			start = i + 1
		}
	}
	if start == 0 {
		return nil
	}
	return append(parts, strings.TrimSpace(list[start:]))
}
