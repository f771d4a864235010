package identity

import "sync"

// Preference keys
const (
	KeyUsername = "username"
	KeyTheme    = "theme"
	KeyViewMode = "view_mode"
)

// Store is a string key-value store for user preferences.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Clear(key string)
}

// MemoryStore is a Store that lives for the process. It is safe for
// concurrent use.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (s *MemoryStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *MemoryStore) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

func (s *MemoryStore) Clear(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}
