package interfaces

import (
	"context"

	"github.com/ternarybob/portalx/internal/models"
)

// SessionStore persists browser session state per portal account
type SessionStore interface {
	// Load returns nil, nil when no usable state exists
	Load(ctx context.Context, accountKey string) (*models.StoredState, error)
	Save(ctx context.Context, state *models.StoredState) error
	Delete(ctx context.Context, accountKey string) error
	List(ctx context.Context) ([]*models.StoredState, error)
}
