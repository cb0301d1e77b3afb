package agent

import (
	"context"
	"sync"
)

// SessionLocks serializes generations per session. A nil *SessionLocks
// never blocks.
type SessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	sem  chan struct{}
	refs int
}

// NewSessionLocks creates an empty lock table.
func NewSessionLocks() *SessionLocks {
	return &SessionLocks{locks: make(map[string]*sessionLock)}
}

// Lock waits until no other generation holds sessionID, or ctx is done.
// The returned function releases the lock and must be called exactly once.
func (s *SessionLocks) Lock(ctx context.Context, sessionID string) (func(), error) {
	if s == nil {
		return func() {}, nil
	}

	s.mu.Lock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sessionLock{sem: make(chan struct{}, 1)}
		s.locks[sessionID] = l
	}
	l.refs++
	s.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		s.release(sessionID, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.sem
			s.release(sessionID, l)
		})
	}, nil
}

func (s *SessionLocks) release(sessionID string, l *sessionLock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, sessionID)
	}
}

// Held reports how many sessions currently have a holder or waiter.
func (s *SessionLocks) Held() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}
