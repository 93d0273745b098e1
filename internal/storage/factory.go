package storage

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/portalx/internal/common"
	"github.com/ternarybob/portalx/internal/interfaces"
	"github.com/ternarybob/portalx/internal/storage/badger"
)

// Manager owns the session database and the store built on it
type Manager struct {
	db       *badger.BadgerDB
	sessions interfaces.SessionStore
}

// NewManager opens the Badger session database from config
func NewManager(logger arbor.ILogger, config *common.Config) (*Manager, error) {
	db, err := badger.NewBadgerDB(logger, &config.Storage.Badger)
	if err != nil {
		return nil, err
	}
	return &Manager{
		db:       db,
		sessions: badger.NewSessionStorage(db, logger),
	}, nil
}

// SessionStore returns the persisted-session store
func (m *Manager) SessionStore() interfaces.SessionStore {
	return m.sessions
}

// Path is where sessions are persisted on disk
func (m *Manager) Path() string {
	return m.db.Path()
}

// Close closes the database
func (m *Manager) Close() error {
	return m.db.Close()
}
