package whitelist

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory Store for tests and local development.
type MemStore struct {
	mu      sync.RWMutex
	entries map[int64]time.Time
}

func NewMemStore() *MemStore {
	return &MemStore{
		entries: make(map[int64]time.Time),
	}
}

func (s *MemStore) IsTrusted(ctx context.Context, senderID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[senderID]
	return ok, nil
}

func (s *MemStore) Trust(ctx context.Context, senderID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[senderID]; !ok {
		s.entries[senderID] = time.Now()
	}
	return nil
}

func (s *MemStore) Revoke(ctx context.Context, senderID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[senderID]
	delete(s.entries, senderID)
	return ok, nil
}

func (s *MemStore) List(ctx context.Context) ([]TrustedSender, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TrustedSender, 0, len(s.entries))
	for id, at := range s.entries {
		out = append(out, TrustedSender{SenderID: id, CreatedAt: at})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemStore) Size(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.entries)), nil
}

var _ Store = (*MemStore)(nil)
