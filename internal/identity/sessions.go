package identity

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
)

// SessionStore issues and tracks opaque session ids for authenticated
// users. Sessions are process-scoped: they are created empty at service
// start and vanish on shutdown. All methods are safe for concurrent use.
type SessionStore struct {
	mu   sync.RWMutex
	byID map[string]Identity
}

// NewSessionStore creates an empty SessionStore.
func NewSessionStore() *SessionStore {
	return &SessionStore{byID: make(map[string]Identity)}
}

// Create mints a session id for the given identity.
//
// Postcondition: Returns a 32-character hex session id registered in the
// store, or a non-nil error if the random source fails.
func (s *SessionStore) Create(id Identity) (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating session id: %w", err)
	}
	sid := hex.EncodeToString(buf)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[sid] = id
	return sid, nil
}

// Get returns the identity for a session id.
//
// Postcondition: Returns (identity, true) if the session exists,
// or (Identity{}, false) otherwise.
func (s *SessionStore) Get(sid string) (Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byID[sid]
	return id, ok
}

// Delete removes a session. Unknown ids are a no-op.
func (s *SessionStore) Delete(sid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, sid)
}

// Count returns the number of live sessions.
func (s *SessionStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
