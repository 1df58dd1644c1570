package repository

import (
	"errors"
	"sync"

	"pdfchat/internal/rag"
)

var ErrSessionNotFound = errors.New("session not found")

// SessionStore maps session ids to the retriever built from that session's document.
// It lives for the whole process and nothing in it is persisted.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*rag.Retriever
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*rag.Retriever)}
}

// Put stores retriever under id, replacing whatever was there.
func (s *SessionStore) Put(id string, retriever *rag.Retriever) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = retriever
}

func (s *SessionStore) Get(id string) (*rag.Retriever, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	retriever, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return retriever, nil
}

func (s *SessionStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, id)
	return nil
}

// DeleteAll removes every session and returns how many there were.
func (s *SessionStore) DeleteAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.sessions)
	s.sessions = make(map[string]*rag.Retriever)
	return n
}

func (s *SessionStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
