// CorpCraft SwarmEngine - event-driven multi-agent task coordination
// License: MIT
//
// Copyright (c) 2026 CorpCraft contributors

package bus

import (
	"sync"
	"time"
)

// Journal is the durable append-only log behind the bus. The in-memory
// implementation is the default; pkg/store provides a SQLite-backed one.
type Journal interface {
	// Append records an event. It is called once per published event, in
	// publication order.
	Append(ev Event) error
	// Range streams events with CreatedAt in [from, to) in publication
	// order to fn, stopping early when fn returns false.
	Range(from, to time.Time, fn func(Event) bool) error
}

type memoryJournal struct {
	mu     sync.RWMutex
	events []Event
}

func newMemoryJournal() *memoryJournal {
	return &memoryJournal{}
}

func (j *memoryJournal) Append(ev Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, ev)
	return nil
}

func (j *memoryJournal) Range(from, to time.Time, fn func(Event) bool) error {
	j.mu.RLock()
	snapshot := append([]Event(nil), j.events...)
	j.mu.RUnlock()

	for _, ev := range snapshot {
		if ev.CreatedAt.Before(from) || !ev.CreatedAt.Before(to) {
			continue
		}
		if !fn(ev) {
			return nil
		}
	}
	return nil
}
