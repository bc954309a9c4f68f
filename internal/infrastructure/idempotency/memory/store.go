package memory

import (
	"context"
	"sync"
	"time"

	"github.com/kirillkom/signflow/internal/core/ports"
)

type entry struct {
	resp      ports.IdempotentResponse
	expiresAt time.Time
}

// Store is a process-local idempotency store for single-instance setups.
type Store struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

func New() *Store {
	return &Store{entries: make(map[string]entry), now: time.Now}
}

func (s *Store) Lookup(_ context.Context, key string) (*ports.IdempotentResponse, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.entries, key)
		return nil, false, nil
	}
	resp := e.resp
	return &resp, true, nil
}

func (s *Store) Remember(_ context.Context, key string, resp ports.IdempotentResponse, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if e, ok := s.entries[key]; ok && now.Before(e.expiresAt) {
		return nil
	}
	s.entries[key] = entry{resp: resp, expiresAt: now.Add(ttl)}
	s.sweepLocked(now)
	return nil
}

func (s *Store) sweepLocked(now time.Time) {
	for k, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, k)
		}
	}
}
