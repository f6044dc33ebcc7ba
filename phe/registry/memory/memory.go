package memory

import (
	"fmt"
	"sync"

	"github.com/TheusHen/phe/phe/elgamal"
	"github.com/TheusHen/phe/phe/registry"
)

// Store is an in-memory key registry.
// It is useful for tests, examples and relays that need no persistence.
type Store struct {
	mu   sync.RWMutex
	keys map[elgamal.Fingerprint]registry.KeyInfo
}

func New() *Store {
	return &Store{keys: map[elgamal.Fingerprint]registry.KeyInfo{}}
}

// Announce records info, replacing any earlier entry for the same key. The
// fingerprint is recomputed from the key.
func (s *Store) Announce(info registry.KeyInfo) error {
	if info.Key == nil {
		return fmt.Errorf("registry: announce without key")
	}
	info.Fingerprint = info.Key.Fingerprint()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[info.Fingerprint] = info
	return nil
}

func (s *Store) Lookup(fp elgamal.Fingerprint) (registry.KeyInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.keys[fp]
	if !ok {
		return registry.KeyInfo{}, registry.ErrNotFound
	}
	return info, nil
}
