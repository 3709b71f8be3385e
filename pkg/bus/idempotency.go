// CorpCraft SwarmEngine - event-driven multi-agent task coordination
// License: MIT
//
// Copyright (c) 2026 CorpCraft contributors

package bus

import (
	"sync"
	"time"
)

type idemEntry struct {
	eventID string
	expires time.Time
}

// idempotencyStore maps idempotency keys to stored event ids for a TTL.
// A background ticker sweeps expired keys so the map stays bounded.
type idempotencyStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]idemEntry
	stop    chan struct{}
	once    sync.Once
}

func newIdempotencyStore(ttl time.Duration) *idempotencyStore {
	s := &idempotencyStore{
		ttl:     ttl,
		entries: make(map[string]idemEntry),
		stop:    make(chan struct{}),
	}
	go s.sweep()
	return s
}

func (s *idempotencyStore) seen(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || time.Now().After(e.expires) {
		return "", false
	}
	return e.eventID, true
}

func (s *idempotencyStore) record(key, eventID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = idemEntry{eventID: eventID, expires: time.Now().Add(s.ttl)}
}

func (s *idempotencyStore) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for k, e := range s.entries {
				if now.After(e.expires) {
					delete(s.entries, k)
				}
			}
			s.mu.Unlock()
		case <-s.stop:
			return
		}
	}
}

func (s *idempotencyStore) shutdown() {
	s.once.Do(func() { close(s.stop) })
}
