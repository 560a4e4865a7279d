// Package session supplies the auth token used by remote calls and the
// unauthorized signal raised when the backend rejects it.
package session

import (
	"sync"
)

// Store is the session collaborator consumed by the submission worker and
// the status trackers.
type Store interface {
	// Token returns the current auth token, or false when signed out.
	Token() (string, bool)

	// OnUnauthorized registers fn to run whenever the session is rejected.
	// Listeners run in registration order. The returned func unregisters fn.
	OnUnauthorized(fn func()) (unsubscribe func())

	// MarkUnauthorized clears the token and notifies listeners.
	MarkUnauthorized()
}

// MemoryStore keeps the token in memory.
type MemoryStore struct {
	mu        sync.RWMutex
	token     string
	listeners []listener
	nextID    int
}

type listener struct {
	id int
	fn func()
}

// NewMemoryStore returns a store holding token. An empty token means signed out.
func NewMemoryStore(token string) *MemoryStore {
	return &MemoryStore{token: token}
}

// Token implements Store.
func (s *MemoryStore) Token() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.token != ""
}

// SetToken replaces the current token.
func (s *MemoryStore) SetToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// OnUnauthorized implements Store.
func (s *MemoryStore) OnUnauthorized(fn func()) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, listener{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, l := range s.listeners {
				if l.id == id {
					s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// MarkUnauthorized implements Store.
func (s *MemoryStore) MarkUnauthorized() {
	s.mu.Lock()
	s.token = ""
	fns := make([]func(), 0, len(s.listeners))
	for _, l := range s.listeners {
		fns = append(fns, l.fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

var _ Store = (*MemoryStore)(nil)
