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

// AgentRegistry owns all agent state. Other components read snapshots and
// mutate only through the registry methods.
type AgentRegistry struct {
	mu         sync.RWMutex
	agents     map[string]*Agent
	concurrent map[string]int
	b          *bus.Bus
}

func NewAgentRegistry(b *bus.Bus) *AgentRegistry {
	return &AgentRegistry{
		agents:     make(map[string]*Agent),
		concurrent: make(map[string]int),
		b:          b,
	}
}

// Recruit creates an IDLE agent and reports it on the blackboard.
func (r *AgentRegistry) Recruit(name string, roleTags []string, autonomyLevel int) Agent {
	agent := Agent{
		ID:            newAgentID(),
		Name:          name,
		RoleTags:      append([]string(nil), roleTags...),
		Status:        AgentIdle,
		AutonomyLevel: autonomyLevel,
		Metrics:       AgentMetrics{SuccessRate7d: 0.5},
	}

	r.mu.Lock()
	r.agents[agent.ID] = &agent
	r.mu.Unlock()

	logger.InfoCF("registry", "agent recruited", map[string]any{
		"agent_id": agent.ID, "name": name, "tags": roleTags,
	})

	if r.b != nil {
		report := bus.NewEvent(bus.TopicAgentStatusReport, "")
		report.Payload = map[string]any{
			"agent_id": agent.ID,
			"name":     agent.Name,
			"status":   string(agent.Status),
			"tags":     agent.RoleTags,
		}
		r.b.Publish(report)
	}
	return agent.snapshot()
}

// Get returns a snapshot of an agent.
func (r *AgentRegistry) Get(agentID string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[agentID]
	if !ok {
		return Agent{}, false
	}
	return a.snapshot(), true
}

// List returns snapshots of all agents.
func (r *AgentRegistry) List() []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a.snapshot())
	}
	return out
}

// Idle returns snapshots of every IDLE agent.
func (r *AgentRegistry) Idle() []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Agent
	for _, a := range r.agents {
		if a.Status == AgentIdle {
			out = append(out, a.snapshot())
		}
	}
	return out
}

// MarkClaimed moves an agent to CLAIMED on the given event and bumps its
// concurrent-task count.
func (r *AgentRegistry) MarkClaimed(agentID, eventID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[agentID]
	if !ok {
		return false
	}
	a.Status = AgentClaimed
	a.CurrentEventID = eventID
	r.concurrent[agentID]++
	return true
}

// MarkWorking moves a CLAIMED agent to WORKING.
func (r *AgentRegistry) MarkWorking(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.agents[agentID]; ok && a.Status == AgentClaimed {
		a.Status = AgentWorking
	}
}

// Free returns every agent working eventID to IDLE and decrements their
// concurrent counts. After a lease expiry both the stalled claimant and
// the re-claiming agent reference the same event, so one pass must clear
// them all. Success feeds the rolling success-rate metric.
func (r *AgentRegistry) Free(eventID string, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, a := range r.agents {
		if a.CurrentEventID != eventID {
			continue
		}
		a.Status = AgentIdle
		a.CurrentEventID = ""
		if r.concurrent[id] > 0 {
			r.concurrent[id]--
		}
		// Exponential moving average stands in for the 7d window.
		sample := 0.0
		if success {
			sample = 1.0
		}
		a.Metrics.SuccessRate7d = a.Metrics.SuccessRate7d*0.8 + sample*0.2
	}
}

// ConcurrentCount returns how many tasks an agent currently holds.
func (r *AgentRegistry) ConcurrentCount(agentID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.concurrent[agentID]
}

// AddTags grants an agent additional role tags (skill installs).
func (r *AgentRegistry) AddTags(agentID string, tags []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[agentID]
	if !ok {
		return
	}
	for _, tag := range tags {
		if !a.HasTag(tag) {
			a.RoleTags = append(a.RoleTags, tag)
		}
	}
}

func (a *Agent) snapshot() Agent {
	out := *a
	out.RoleTags = append([]string(nil), a.RoleTags...)
	return out
}
