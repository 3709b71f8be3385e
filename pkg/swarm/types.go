// CorpCraft SwarmEngine - event-driven multi-agent task coordination
// License: MIT
//
// Copyright (c) 2026 CorpCraft contributors

package swarm

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AgentStatus is the runtime state of an agent.
type AgentStatus string

const (
	AgentIdle    AgentStatus = "IDLE"
	AgentClaimed AgentStatus = "CLAIMED"
	AgentWorking AgentStatus = "WORKING"
	AgentPaused  AgentStatus = "PAUSED"
)

// AgentMetrics is the 7-day rolling scorecard the matcher ranks by.
type AgentMetrics struct {
	SuccessRate7d     float64 `json:"success_rate_7d"`
	AvgCycleSec7d     float64 `json:"avg_cycle_sec_7d"`
	TokenCost7d       int     `json:"token_cost_7d"`
	ApprovalWaitSec7d float64 `json:"approval_wait_sec_7d"`
}

// Agent is a runtime worker entity. Created on recruit; status mutated by
// the matcher and by terminal task events.
type Agent struct {
	ID             string       `json:"agent_id"`
	Name           string       `json:"name"`
	RoleTags       []string     `json:"role_tags"`
	Status         AgentStatus  `json:"status"`
	CurrentEventID string       `json:"current_event_id,omitempty"`
	ZoneID         string       `json:"zone_id,omitempty"`
	Metrics        AgentMetrics `json:"metrics"`
	AutonomyLevel  int          `json:"autonomy_level"`
}

// HasTag reports whether the agent carries the role tag.
func (a *Agent) HasTag(tag string) bool {
	for _, t := range a.RoleTags {
		if t == tag {
			return true
		}
	}
	return false
}

// TagOverlap counts how many of the required tags the agent carries.
func (a *Agent) TagOverlap(required []string) int {
	n := 0
	for _, tag := range required {
		if a.HasTag(tag) {
			n++
		}
	}
	return n
}

// Complexity buckets produced by the analyzer.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityCompound Complexity = "compound"
	ComplexityComplex  Complexity = "complex"
)

// AnalysisResult is the analyzer's verdict on a root task.
type AnalysisResult struct {
	Complexity             Complexity `json:"complexity"`
	SuggestedDecomposition []string   `json:"suggested_decomposition,omitempty"`
	SuggestedAgents        []string   `json:"suggested_agents,omitempty"`
	EstimatedTokens        int        `json:"estimated_tokens"`
	Reasoning              string     `json:"reasoning"`
}

// SummonReason classifies why an agent asked for help.
type SummonReason string

const (
	SummonSkillGap      SummonReason = "SKILL_GAP"
	SummonOverload      SummonReason = "OVERLOAD"
	SummonDecomposition SummonReason = "DECOMPOSITION"
	SummonExplicit      SummonReason = "EXPLICIT"
)

// Urgency of a summon request.
type Urgency string

const (
	UrgencyLow      Urgency = "LOW"
	UrgencyMedium   Urgency = "MEDIUM"
	UrgencyHigh     Urgency = "HIGH"
	UrgencyCritical Urgency = "CRITICAL"
)

// SummonStatus tracks a summon request through approval.
type SummonStatus string

const (
	SummonPending  SummonStatus = "PENDING"
	SummonApproved SummonStatus = "APPROVED"
	SummonDeclined SummonStatus = "DECLINED"
	SummonQueued   SummonStatus = "QUEUED"
)

// SummonRequest asks for an additional agent.
type SummonRequest struct {
	RequestID           string       `json:"request_id"`
	RequestingAgentID   string       `json:"requesting_agent_id"`
	RequestingAgentName string       `json:"requesting_agent_name"`
	Reason              SummonReason `json:"reason"`
	RequiredTags        []string     `json:"required_tags"`
	Urgency             Urgency      `json:"urgency"`
	TargetZoneID        string       `json:"target_zone_id,omitempty"`
	Context             string       `json:"context,omitempty"`
	ApprovalTimeout     time.Duration `json:"approval_timeout_ms"`
	Status              SummonStatus `json:"status"`
	CreatedAt           time.Time    `json:"created_at"`
}

func newAgentID() string {
	return fmt.Sprintf("agent-%s", uuid.New().String()[:8])
}

func newRequestID() string {
	return fmt.Sprintf("summon-%s", uuid.New().String()[:8])
}
