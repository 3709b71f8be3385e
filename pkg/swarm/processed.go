// CorpCraft SwarmEngine - event-driven multi-agent task coordination
// License: MIT
//
// Copyright (c) 2026 CorpCraft contributors

package swarm

import "sync"

// processedLimit bounds every subscriber's processed-event set. When the
// limit is hit the oldest quarter is evicted FIFO.
const processedLimit = 2000

// processedSet makes subscribers idempotent against redelivery. Each
// subscriber owns its own set; there is no shared deduplication.
type processedSet struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
	limit int
}

func newProcessedSet() *processedSet {
	return &processedSet{
		seen:  make(map[string]struct{}),
		limit: processedLimit,
	}
}

// markOnce records the id and reports whether this was the first sighting.
func (p *processedSet) markOnce(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.seen[id]; ok {
		return false
	}
	if len(p.order) >= p.limit {
		evict := p.limit / 4
		for _, old := range p.order[:evict] {
			delete(p.seen, old)
		}
		p.order = append(p.order[:0:0], p.order[evict:]...)
	}
	p.seen[id] = struct{}{}
	p.order = append(p.order, id)
	return true
}

func (p *processedSet) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.order)
}
