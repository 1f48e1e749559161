// Package session holds the authenticated-request layer of the Storm Watch
// client: the credential store shared with the realtime feed, and an HTTP
// client that recovers from expired access tokens with a single-flight
// refresh-and-retry.
package session

import "sync"

// Credentials is an access/refresh token pair. Both tokens are opaque.
type Credentials struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Present reports whether an access token is held.
func (c Credentials) Present() bool {
	return c.AccessToken != ""
}

// CredentialStore holds the current credential pair. Reads and writes are
// atomic: a reader always observes an access token together with the refresh
// token it was minted with, never a mix of two generations.
type CredentialStore struct {
	mu    sync.RWMutex
	creds Credentials
}

// NewCredentialStore creates an empty store.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{}
}

// Get returns the current credential pair.
func (s *CredentialStore) Get() Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds
}

// Set replaces both tokens at once.
func (s *CredentialStore) Set(creds Credentials) {
	s.mu.Lock()
	s.creds = creds
	s.mu.Unlock()
}

// Clear drops both tokens.
func (s *CredentialStore) Clear() {
	s.Set(Credentials{})
}

// AccessToken returns just the current access token. This is the read-only
// view the realtime client uses when building its connection handshake.
func (s *CredentialStore) AccessToken() string {
	return s.Get().AccessToken
}
