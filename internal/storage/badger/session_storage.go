package badger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/portalx/internal/interfaces"
	"github.com/ternarybob/portalx/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// SessionStorage implements interfaces.SessionStore on Badger, one record per account key
type SessionStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewSessionStorage creates a new SessionStorage instance
func NewSessionStorage(db *BadgerDB, logger arbor.ILogger) interfaces.SessionStore {
	return &SessionStorage{
		db:     db,
		logger: logger,
	}
}

func normalizeKey(accountKey string) string {
	return strings.ToLower(strings.TrimSpace(accountKey))
}

// Load returns the stored state for an account. A missing or unreadable record is
// reported as nil, nil so the caller falls through to a full login.
func (s *SessionStorage) Load(ctx context.Context, accountKey string) (*models.StoredState, error) {
	key := normalizeKey(accountKey)
	if key == "" {
		return nil, fmt.Errorf("account key is required")
	}

	var state models.StoredState
	if err := s.db.Store().Get(key, &state); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			s.logger.Debug().Str("account", key).Msg("No persisted session")
			return nil, nil
		}
		s.logger.Warn().Err(err).Str("account", key).Msg("Persisted session unreadable, treating as first run")
		return nil, nil
	}

	if state.IsEmpty() {
		return nil, nil
	}

	return &state, nil
}

func (s *SessionStorage) Save(ctx context.Context, state *models.StoredState) error {
	if state == nil {
		return fmt.Errorf("state is required")
	}
	state.AccountKey = normalizeKey(state.AccountKey)
	if state.AccountKey == "" {
		return fmt.Errorf("account key is required")
	}
	if state.SavedAt.IsZero() {
		state.SavedAt = time.Now()
	}

	if err := s.db.Store().Upsert(state.AccountKey, state); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}

	s.logger.Debug().
		Str("account", state.AccountKey).
		Int("cookies", len(state.Cookies)).
		Msg("Session persisted")
	return nil
}

func (s *SessionStorage) Delete(ctx context.Context, accountKey string) error {
	if err := s.db.Store().Delete(normalizeKey(accountKey), &models.StoredState{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil // Already deleted
		}
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *SessionStorage) List(ctx context.Context) ([]*models.StoredState, error) {
	var states []models.StoredState
	if err := s.db.Store().Find(&states, nil); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	result := make([]*models.StoredState, len(states))
	for i := range states {
		result[i] = &states[i]
	}
	return result, nil
}
