// CorpCraft SwarmEngine - event-driven multi-agent task coordination
// License: MIT
//
// Copyright (c) 2026 CorpCraft contributors

package swarm

import (
	"sync"

	"github.com/corpcraft/swarmengine/pkg/bus"
	"github.com/corpcraft/swarmengine/pkg/logger"
)

// DefaultCompactionEvery is how many finished tasks an agent completes
// before its context is asked to compact.
const DefaultCompactionEvery = 5

// Compactor counts terminal tasks per agent and emits COMPACTION_TICK
// every N completions so long-lived agents shed stale context.
type Compactor struct {
	b         *bus.Bus
	every     int
	processed *processedSet

	mu     sync.Mutex
	counts map[string]int
}

func NewCompactor(b *bus.Bus, every int) *Compactor {
	if every <= 0 {
		every = DefaultCompactionEvery
	}
	return &Compactor{
		b:         b,
		every:     every,
		processed: newProcessedSet(),
		counts:    make(map[string]int),
	}
}

func (c *Compactor) Subscribe() func() {
	return c.b.Subscribe(
		[]bus.Topic{bus.TopicTaskClosed, bus.TopicTaskFailed}, c.handle)
}

func (c *Compactor) handle(ev bus.Event) error {
	if !c.processed.markOnce(ev.ID) {
		return nil
	}
	agentID := ev.PayloadString("agent_id")
	if agentID == "" {
		return nil
	}

	c.mu.Lock()
	c.counts[agentID]++
	count := c.counts[agentID]
	c.mu.Unlock()

	if count%c.every != 0 {
		return nil
	}

	tick := bus.NewEvent(bus.TopicCompactionTick, "")
	tick.Payload = map[string]any{
		"agent_id":        agentID,
		"completed_tasks": count,
	}
	if _, err := c.b.Publish(tick); err != nil {
		logger.WarnC("compaction", "failed to publish tick: "+err.Error())
		return err
	}
	logger.DebugCF("compaction", "compaction tick", map[string]any{
		"agent_id": agentID, "completed_tasks": count,
	})
	return nil
}

// CompletedCount reports how many terminal tasks an agent has finished.
func (c *Compactor) CompletedCount(agentID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[agentID]
}
