// Package store caches raw tile payloads by source and coordinate so a tile
// evicted from the pyramid can be reloaded without a network round trip.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/IvanBrykalov/tilecache/coord"
)

// Key identifies a stored payload.
type Key struct {
	Source string
	Coord  coord.Coord
}

// String renders the key as "source/z/x/y". Payloads do not depend on the
// world copy, so the wrap is left out.
func (k Key) String() string {
	c := k.Coord.Unwrapped()
	return fmt.Sprintf("%s/%d/%d/%d", k.Source, c.Z, c.X, c.Y)
}

// Store is a payload cache. Get reports found=false on a miss.
type Store interface {
	Get(ctx context.Context, k Key) (data []byte, found bool, err error)
	Set(ctx context.Context, k Key, data []byte) error
}

// MemoryStore keeps payloads in process memory. It is safe for concurrent
// use and unbounded.
type MemoryStore struct {
	mu sync.RWMutex
	m  map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: make(map[string][]byte)}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Get(_ context.Context, k Key) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[k.String()]
	return v, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, k Key, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[k.String()] = data
	return nil
}

// Len returns the number of stored payloads.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}
