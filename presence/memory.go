package presence

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps last-seen timestamps in process memory. Nothing survives a restart.
type MemoryStore struct {
	mu       sync.RWMutex
	lastSeen map[string]time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{lastSeen: make(map[string]time.Time)}
}

func (s *MemoryStore) GetAll(ctx context.Context) (map[string]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make(map[string]time.Time, len(s.lastSeen))
	for userID, at := range s.lastSeen {
		all[userID] = at
	}
	return all, nil
}

func (s *MemoryStore) GetOne(ctx context.Context, userID string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	at, found := s.lastSeen[userID]
	return at, found, nil
}

func (s *MemoryStore) Upsert(ctx context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, found := s.lastSeen[userID]; found && current.After(at) {
		return nil
	}
	s.lastSeen[userID] = at
	return nil
}

func (s *MemoryStore) Close() error { return nil }
