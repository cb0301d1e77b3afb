package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is an in-memory SessionStore for tests and ephemeral CLI use.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	messages map[string][]Message
	now      func() time.Time
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Session),
		messages: make(map[string][]Message),
		now:      time.Now,
	}
}

// CreateSession starts a new titled session.
func (s *Store) CreateSession(title string) (*Session, error) {
	if title == "" {
		title = DefaultTitle
	}
	now := s.now()
	sess := &Session{ID: uuid.NewString(), Title: title, CreatedAt: now, UpdatedAt: now}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	cp := *sess
	return &cp, nil
}

// GetSession returns a copy of the session.
func (s *Store) GetSession(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *sess
	cp.MessageCount = len(s.messages[id])
	return &cp, nil
}

// ListSessions returns sessions, most recently updated first.
func (s *Store) ListSessions() ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Session, 0, len(s.sessions))
	for id, sess := range s.sessions {
		cp := *sess
		cp.MessageCount = len(s.messages[id])
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// RenameSession changes a session title.
func (s *Store) RenameSession(id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	sess.Title = title
	sess.UpdatedAt = s.now()
	return nil
}

// DeleteSession removes a session and its messages.
func (s *Store) DeleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, id)
	delete(s.messages, id)
	return nil
}

// Append adds a message, creating the session if needed.
func (s *Store) Append(sessionID, role, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &Session{ID: sessionID, Title: DefaultTitle, CreatedAt: now}
		s.sessions[sessionID] = sess
	}
	sess.UpdatedAt = now

	s.messages[sessionID] = append(s.messages[sessionID], Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Timestamp: now,
	})
	return nil
}

// Load returns up to limit of the most recent messages, oldest first.
// The returned slice is a copy.
func (s *Store) Load(sessionID string, limit int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[sessionID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}
