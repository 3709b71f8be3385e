// CorpCraft SwarmEngine - event-driven multi-agent task coordination
// License: MIT
//
// Copyright (c) 2026 CorpCraft contributors

package bus

import "sync"

// dlqCapacity bounds the dead-letter queue; the oldest entry is evicted
// when a new one arrives at capacity.
const dlqCapacity = 1000

type deadLetterQueue struct {
	mu      sync.Mutex
	entries []DeadLetter
	cap     int
}

func newDeadLetterQueue(capacity int) *deadLetterQueue {
	return &deadLetterQueue{cap: capacity}
}

func (q *deadLetterQueue) add(entry DeadLetter) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) >= q.cap {
		q.entries = q.entries[1:]
	}
	q.entries = append(q.entries, entry)
}

func (q *deadLetterQueue) list(limit int) []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]DeadLetter, n)
	copy(out, q.entries[:n])
	return out
}

// take removes and returns the first entry whose event id matches.
func (q *deadLetterQueue) take(eventID string) (DeadLetter, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.entries {
		if e.Event.ID == eventID {
			q.entries = append(q.entries[:i:i], q.entries[i+1:]...)
			return e, true
		}
	}
	return DeadLetter{}, false
}
