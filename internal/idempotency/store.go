package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/lumichat/lumichat/internal/clock"
)

// Store persists completed results and pending locks behind the guard.
type Store interface {
	// Get returns the cached result for key, if one exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Begin claims the pending lock for key. It returns false when
	// another caller already holds it.
	Begin(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Complete stores the result and releases the pending lock.
	Complete(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Fail releases the pending lock without caching anything.
	Fail(ctx context.Context, key string) error
}

type memoryEntry struct {
	value     []byte
	pending   bool
	expiresAt time.Time
}

type memoryStore struct {
	clock clock.Clock

	mu      sync.Mutex
	entries map[string]memoryEntry
}

// NewMemoryStore is the single-process store. Entries expire lazily on
// access and in bulk via Sweep.
func NewMemoryStore(clk clock.Clock) Store {
	return &memoryStore{
		clock:   clk,
		entries: make(map[string]memoryEntry),
	}
}

func (s *memoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || entry.pending {
		return nil, false, nil
	}
	if s.clock.Now().After(entry.expiresAt) {
		delete(s.entries, key)
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (s *memoryStore) Begin(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if entry, ok := s.entries[key]; ok && now.Before(entry.expiresAt) {
		return false, nil
	}
	s.entries[key] = memoryEntry{pending: true, expiresAt: now.Add(ttl)}
	return true, nil
}

func (s *memoryStore) Complete(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = memoryEntry{value: value, expiresAt: s.clock.Now().Add(ttl)}
	return nil
}

func (s *memoryStore) Fail(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.entries[key]; ok && entry.pending {
		delete(s.entries, key)
	}
	return nil
}

// Sweep drops every expired entry. The module runs it on a ticker so an
// idle store does not grow without bound.
func (s *memoryStore) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	for key, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, key)
		}
	}
}
