// Package auth owns the credential lifecycle and the request interceptor
// that makes authenticated backend calls behave as if the access token
// never expires. Higher layers never touch tokens directly: they hold an
// *Interceptor and call Do.
package auth

import (
	"sync"

	"github.com/winfeed/winchat/api"
)

// CredentialStore holds the process-wide token pair. Implementations
// must be safe for concurrent use. Only the Interceptor's refresh path
// and explicit login/logout code mutate it.
type CredentialStore interface {
	// Get returns the current pair and whether one is present.
	Get() (api.TokenPair, bool)
	// Set replaces the stored pair.
	Set(api.TokenPair) error
	// Clear removes the stored pair entirely.
	Clear() error
}

// MemStore is the in-memory CredentialStore. The bbolt-backed store in
// package store persists across restarts; this one is for tests and
// ephemeral sessions.
type MemStore struct {
	mu   sync.RWMutex
	pair api.TokenPair
	ok   bool
}

func NewMemStore() *MemStore { return &MemStore{} }

func (s *MemStore) Get() (api.TokenPair, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair, s.ok
}

func (s *MemStore) Set(pair api.TokenPair) error {
	s.mu.Lock()
	s.pair = pair
	s.ok = pair.Valid()
	s.mu.Unlock()
	return nil
}

func (s *MemStore) Clear() error {
	s.mu.Lock()
	s.pair = api.TokenPair{}
	s.ok = false
	s.mu.Unlock()
	return nil
}
