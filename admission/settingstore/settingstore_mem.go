package settingstore

import (
	"context"
	"sync"
)

type MemSettingStore struct {
	mu       sync.RWMutex
	settings map[string]string
}

func NewMemSettingStore() *MemSettingStore {
	return &MemSettingStore{
		settings: make(map[string]string),
	}
}

func (s *MemSettingStore) Get(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	val, ok := s.settings[name]
	if !ok {
		return "", ErrSettingNotFound
	}
	return val, nil
}

func (s *MemSettingStore) Set(ctx context.Context, name, val string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[name] = val
	return nil
}

func (s *MemSettingStore) All(ctx context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.settings))
	for k, v := range s.settings {
		out[k] = v
	}
	return out, nil
}

var _ SettingStore = (*MemSettingStore)(nil)
