package models

import (
	"strings"
	"time"
)

// StoredCookie is a browser cookie as persisted between runs
type StoredCookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"` // Unix seconds, 0 for session cookies
	Secure   bool    `json:"secure"`
	HTTPOnly bool    `json:"httpOnly"`
	SameSite string  `json:"sameSite,omitempty"` // "Strict", "Lax", "None"
}

// StoredState is the opaque browser session artifact for one portal account
type StoredState struct {
	AccountKey   string            `json:"accountKey" badgerhold:"key"`
	Portal       string            `json:"portal"`
	Origin       string            `json:"origin"`
	Cookies      []StoredCookie    `json:"cookies"`
	LocalStorage map[string]string `json:"localStorage,omitempty"`
	SavedAt      time.Time         `json:"savedAt"`
}

// AccountKey builds the store key for a portal account
func AccountKey(portal, username string) string {
	return strings.ToLower(strings.TrimSpace(portal) + ":" + strings.TrimSpace(username))
}

// IsEmpty reports whether the state carries nothing worth importing
func (s *StoredState) IsEmpty() bool {
	return s == nil || (len(s.Cookies) == 0 && len(s.LocalStorage) == 0)
}
