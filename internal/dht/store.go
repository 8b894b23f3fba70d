package dht

import (
	"sync"
	"time"

	"github.com/dreamware/fleet/internal/storage"
)

// Store is the DHT node's local value store: torua's storage.MemoryStore
// extended with a TTL per entry and a sweep to reclaim expired ones,
// per spec §3 (default TTL 300s, republish at ttl/3).
//
// The Store/ErrKeyNotFound contract from internal/storage is preserved so
// callers that only need plain Get/Put/Delete/List/Stats can still use a
// Store as a storage.Store; PutTTL and Sweep are the DHT-specific addition.
type Store struct {
	mu   sync.RWMutex
	data map[string]ttlEntry
}

type ttlEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

var _ storage.Store = (*Store)(nil)

// NewStore creates an empty DHT value store.
func NewStore() *Store {
	return &Store{data: make(map[string]ttlEntry)}
}

// Put stores value under key with no expiry. Present to satisfy
// storage.Store; DHT callers should prefer PutTTL.
func (s *Store) Put(key string, value []byte) error {
	return s.PutTTL(key, value, 0)
}

// PutTTL stores value under key, expiring it after ttl (0 means forever).
func (s *Store) PutTTL(key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	s.data[key] = ttlEntry{value: stored, expiresAt: expiresAt}
	return nil
}

// Get returns the value for key, or storage.ErrKeyNotFound if it is absent
// or has expired.
func (s *Store) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.data[key]
	if !ok || entry.expired(time.Now()) {
		return nil, storage.ErrKeyNotFound
	}
	result := make([]byte, len(entry.value))
	copy(result, entry.value)
	return result, nil
}

// Delete removes key, idempotently.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// List returns all non-expired keys, as a snapshot.
func (s *Store) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	keys := make([]string, 0, len(s.data))
	for k, e := range s.data {
		if !e.expired(now) {
			keys = append(keys, k)
		}
	}
	return keys
}

// Stats reports the key count and byte size of non-expired entries.
func (s *Store) Stats() storage.StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	stats := storage.StoreStats{}
	for _, e := range s.data {
		if e.expired(now) {
			continue
		}
		stats.Keys++
		stats.Bytes += len(e.value)
	}
	return stats
}

// Sweep removes all expired entries and returns how many were reclaimed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	removed := 0
	for k, e := range s.data {
		if e.expired(now) {
			delete(s.data, k)
			removed++
		}
	}
	return removed
}

func (e ttlEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}
