package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/portalx/internal/models"
)

// Page is the browser capability set the core drives. One Page is one tab; all
// calls against a Page are sequential.
type Page interface {
	// Navigate loads url and returns once the DOM content has loaded
	Navigate(ctx context.Context, url string) error
	// WaitNetworkIdle waits up to timeout for network quiescence
	WaitNetworkIdle(ctx context.Context, timeout time.Duration) error
	URL(ctx context.Context) (string, error)

	// Exists reports whether selector matches within timeout; absence is not an error
	Exists(ctx context.Context, selector string, timeout time.Duration) bool
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error

	// Text returns the rendered text of the first element matching selector ("body" for the page)
	Text(ctx context.Context, selector string) (string, error)
	HTML(ctx context.Context) (string, error)
	Evaluate(ctx context.Context, expression string, out any) error

	// ClickForPopup clicks selector and returns the window it opens. Closing the
	// returned Page closes that window only.
	ClickForPopup(ctx context.Context, selector string, timeout time.Duration) (Page, error)
	// OpenTab opens a sibling tab in the same browser session, sharing its cookies
	OpenTab(ctx context.Context) (Page, error)

	ExportState(ctx context.Context) (*models.StoredState, error)
	ImportState(ctx context.Context, state *models.StoredState) error

	Close() error
}
