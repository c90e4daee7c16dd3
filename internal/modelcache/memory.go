package modelcache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	entry     Entry
	expiresAt time.Time
}

// MemoryStore is an in-process Store with per-entry TTL and a background
// janitor for expired entries.
type MemoryStore struct {
	mu          sync.RWMutex
	items       map[string]memoryEntry
	ttl         time.Duration
	stopCleanup chan struct{}
	cleanupOnce sync.Once
}

// NewMemoryStore creates an in-memory store. A non-positive ttl defaults
// to 5 minutes.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	s := &MemoryStore{
		items:       make(map[string]memoryEntry),
		ttl:         ttl,
		stopCleanup: make(chan struct{}),
	}

	go s.cleanupExpired()

	return s
}

func (s *MemoryStore) Get(_ context.Context, service string) (Entry, bool, error) {
	s.mu.RLock()
	item, ok := s.items[service]
	s.mu.RUnlock()

	if !ok {
		return Entry{}, false, nil
	}

	now := time.Now()
	if now.After(item.expiresAt) {
		s.mu.Lock()
		if it, exists := s.items[service]; exists && now.After(it.expiresAt) {
			delete(s.items, service)
		}
		s.mu.Unlock()
		return Entry{}, false, nil
	}

	return item.entry, true, nil
}

func (s *MemoryStore) Set(_ context.Context, service string, entry Entry) error {
	// Copy to decouple from caller's buffer.
	payload := make([]byte, len(entry.Payload))
	copy(payload, entry.Payload)
	entry.Payload = payload

	s.mu.Lock()
	s.items[service] = memoryEntry{
		entry:     entry,
		expiresAt: time.Now().Add(s.ttl),
	}
	s.mu.Unlock()

	return nil
}

// cleanupExpired runs periodically to remove expired entries.
func (s *MemoryStore) cleanupExpired() {
	ticker := time.NewTicker(s.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for k, v := range s.items {
				if now.After(v.expiresAt) {
					delete(s.items, k)
				}
			}
			s.mu.Unlock()
		case <-s.stopCleanup:
			return
		}
	}
}

// Close stops the cleanup goroutine. Call this on shutdown or in tests.
func (s *MemoryStore) Close() error {
	s.cleanupOnce.Do(func() {
		close(s.stopCleanup)
	})
	return nil
}

// Len returns the number of cached services.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Clear removes all entries. Useful for tests or manual resets.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	s.items = make(map[string]memoryEntry)
	s.mu.Unlock()
}
