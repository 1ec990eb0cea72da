package memory

import (
	"context"
	"sync"

	"github.com/Prompt-Gate/Promptgate/internal/domain/workspace"
)

// SessionStore implements workspace.SessionStore with an in-memory map.
// Thread-safe for concurrent access via sync.RWMutex.
type SessionStore struct {
	sessions map[string]workspace.Session
	mu       sync.RWMutex
}

// NewSessionStore creates a new in-memory session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]workspace.Session),
	}
}

// Get returns a session by id.
// Returns ErrSessionNotFound if the session does not exist.
func (s *SessionStore) Get(ctx context.Context, id string) (*workspace.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, workspace.ErrSessionNotFound
	}
	return &sess, nil
}

// List returns all sessions.
func (s *SessionStore) List(ctx context.Context) ([]workspace.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]workspace.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		result = append(result, sess)
	}
	return result, nil
}

// Upsert creates or replaces a session.
func (s *SessionStore) Upsert(ctx context.Context, sess *workspace.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[sess.ID] = *sess
	return nil
}

// Delete removes a session. Deleting an unknown session is a no-op.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	return nil
}

// Compile-time interface verification.
var _ workspace.SessionStore = (*SessionStore)(nil)
