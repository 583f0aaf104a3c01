package session

import (
	"context"
	"sync"
)

// memoryStore keeps history in a process-local map. This is the deployment
// the original design assumes: no persistence across restarts.
type memoryStore struct {
	mu        sync.RWMutex
	histories map[string][]Message
}

func (s *memoryStore) Get(_ context.Context, clientID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, exists := s.histories[clientID]
	if !exists {
		return nil, nil
	}
	// Copy so callers can append without racing other readers.
	out := make([]Message, len(history))
	copy(out, history)
	return out, nil
}

func (s *memoryStore) Put(_ context.Context, clientID string, history []Message) error {
	stored := make([]Message, len(history))
	copy(stored, history)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.histories[clientID] = stored
	return nil
}

func (s *memoryStore) Delete(_ context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.histories, clientID)
	return nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.histories = nil
	return nil
}
