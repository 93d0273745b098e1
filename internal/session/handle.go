// Package session holds the caller-owned handle for one exclusive portal login context.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/portalx/internal/interfaces"
)

// Handle is one browser session bound to one portal account. Operations on a
// handle are serialised by Lock/Unlock; independent handles share nothing.
type Handle struct {
	ID                 string
	Portal             string
	AccountKey         string
	PersistedStatePath string

	page    interfaces.Page
	adapter interfaces.PortalAdapter

	mu              sync.Mutex // serialises page operations
	stateMu         sync.RWMutex
	authenticated   bool
	lastValidatedAt time.Time
	closed          bool
}

// NewHandle wraps an open page for the given portal account
func NewHandle(portal, accountKey, statePath string, page interfaces.Page, adapter interfaces.PortalAdapter) *Handle {
	return &Handle{
		ID:                 uuid.New().String(),
		Portal:             portal,
		AccountKey:         accountKey,
		PersistedStatePath: statePath,
		page:               page,
		adapter:            adapter,
	}
}

// Page returns the session's browser tab
func (h *Handle) Page() interfaces.Page { return h.page }

// Adapter returns the portal adapter bound to this session
func (h *Handle) Adapter() interfaces.PortalAdapter { return h.adapter }

// Lock takes exclusive use of the page
func (h *Handle) Lock() { h.mu.Lock() }

// Unlock releases the page
func (h *Handle) Unlock() { h.mu.Unlock() }

func (h *Handle) Authenticated() bool {
	h.stateMu.RLock()
	defer h.stateMu.RUnlock()
	return h.authenticated
}

func (h *Handle) LastValidatedAt() time.Time {
	h.stateMu.RLock()
	defer h.stateMu.RUnlock()
	return h.lastValidatedAt
}

// MarkAuthenticated records a confirmed login
func (h *Handle) MarkAuthenticated(at time.Time) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	h.authenticated = true
	h.lastValidatedAt = at
}

// Invalidate forces the next EnsureLoggedIn to re-check the session
func (h *Handle) Invalidate() {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	h.authenticated = false
}

func (h *Handle) Closed() bool {
	h.stateMu.RLock()
	defer h.stateMu.RUnlock()
	return h.closed
}

// Close releases the browser. Safe to call more than once.
func (h *Handle) Close() error {
	h.stateMu.Lock()
	if h.closed {
		h.stateMu.Unlock()
		return nil
	}
	h.closed = true
	h.authenticated = false
	h.stateMu.Unlock()

	if h.page == nil {
		return nil
	}
	return h.page.Close()
}
