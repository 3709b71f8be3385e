// CorpCraft SwarmEngine - event-driven multi-agent task coordination
// License: MIT
//
// Copyright (c) 2026 CorpCraft contributors

package swarm

import (
	"sort"

	"github.com/corpcraft/swarmengine/pkg/bus"
	"github.com/corpcraft/swarmengine/pkg/logger"
)

// Matcher assigns posted tasks to agents through three tiers: full tag
// match, partial match (overlap, then success rate), then any idle agent
// so tasks never stall indefinitely.
type Matcher struct {
	b         *bus.Bus
	registry  *AgentRegistry
	processed *processedSet
}

func NewMatcher(b *bus.Bus, registry *AgentRegistry) *Matcher {
	return &Matcher{b: b, registry: registry, processed: newProcessedSet()}
}

func (m *Matcher) Subscribe() func() {
	unsubPost := m.b.Subscribe([]bus.Topic{bus.TopicTaskPosted}, m.handlePosted)
	unsubRetry := m.b.Subscribe([]bus.Topic{bus.TopicTaskRetryScheduled}, m.handleRetry)
	unsubDone := m.b.Subscribe(
		[]bus.Topic{bus.TopicTaskClosed, bus.TopicTaskFailed}, m.handleTerminal)
	return func() {
		unsubPost()
		unsubRetry()
		unsubDone()
	}
}

func (m *Matcher) handlePosted(ev bus.Event) error {
	if !m.processed.markOnce("post:" + ev.ID) {
		return nil
	}
	m.tryMatch(ev.ID)
	return nil
}

// handleRetry re-matches tasks whose lease expired and reverted to OPEN.
func (m *Matcher) handleRetry(ev bus.Event) error {
	if ev.PayloadString("reason") != "lease_expired" {
		return nil
	}
	if !m.processed.markOnce("retry:" + ev.ID) {
		return nil
	}
	m.tryMatch(ev.TaskID())
	return nil
}

// handleTerminal frees the agent holding a finished task. Intermediate
// ARTIFACT_READY / EVIDENCE_READY events are deliberately not handled:
// they precede the terminal event and would free the agent early.
func (m *Matcher) handleTerminal(ev bus.Event) error {
	if !m.processed.markOnce("done:" + ev.ID) {
		return nil
	}
	m.registry.Free(ev.TaskID(), ev.Topic == bus.TopicTaskClosed)
	return nil
}

func (m *Matcher) tryMatch(taskID string) {
	task, err := m.b.Get(taskID)
	if err != nil || task.Status != bus.StatusOpen {
		return
	}

	candidate, ok := m.pick(task.RequiredTags)
	if !ok {
		logger.DebugCF("matcher", "no idle agent available", map[string]any{
			"task_id": taskID, "tags": task.RequiredTags,
		})
		return
	}

	result := m.b.Claim(taskID, candidate.ID, 0)
	if !result.OK {
		logger.DebugCF("matcher", "claim lost", map[string]any{
			"task_id": taskID, "agent_id": candidate.ID, "reason": result.Reason,
		})
		return
	}

	m.registry.MarkClaimed(candidate.ID, taskID)
	logger.InfoCF("matcher", "task matched", map[string]any{
		"task_id": taskID, "agent_id": candidate.ID, "agent": candidate.Name,
	})
}

// pick selects the best idle agent for the required tags.
func (m *Matcher) pick(required []string) (Agent, bool) {
	idle := m.registry.Idle()
	if len(idle) == 0 {
		return Agent{}, false
	}

	if len(required) > 0 {
		// Tier 1: agents carrying every required tag.
		var full []Agent
		for _, a := range idle {
			if a.TagOverlap(required) == len(required) {
				full = append(full, a)
			}
		}
		if len(full) > 0 {
			return bestBySuccessRate(full), true
		}

		// Tier 2: at least one tag; overlap first, then success rate.
		var partial []Agent
		for _, a := range idle {
			if a.TagOverlap(required) > 0 {
				partial = append(partial, a)
			}
		}
		if len(partial) > 0 {
			sort.SliceStable(partial, func(i, j int) bool {
				oi, oj := partial[i].TagOverlap(required), partial[j].TagOverlap(required)
				if oi != oj {
					return oi > oj
				}
				return partial[i].Metrics.SuccessRate7d > partial[j].Metrics.SuccessRate7d
			})
			return partial[0], true
		}
	}

	// Tier 3: any idle agent.
	return bestBySuccessRate(idle), true
}

func bestBySuccessRate(agents []Agent) Agent {
	best := agents[0]
	for _, a := range agents[1:] {
		if a.Metrics.SuccessRate7d > best.Metrics.SuccessRate7d {
			best = a
		}
	}
	return best
}
