// CorpCraft SwarmEngine - event-driven multi-agent task coordination
// License: MIT
//
// Copyright (c) 2026 CorpCraft contributors

package bus

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Topic is the closed set of blackboard event topics. The string values are
// part of the external contract and must not change.
type Topic string

const (
	TopicTaskPosted         Topic = "TASK_POSTED"
	TopicTaskAnalyzed       Topic = "TASK_ANALYZED"
	TopicTaskDecomposed     Topic = "TASK_DECOMPOSED"
	TopicTaskClaimed        Topic = "TASK_CLAIMED"
	TopicTaskProgress       Topic = "TASK_PROGRESS"
	TopicTaskRetryScheduled Topic = "TASK_RETRY_SCHEDULED"
	TopicArtifactReady      Topic = "ARTIFACT_READY"
	TopicEvidenceReady      Topic = "EVIDENCE_READY"
	TopicIntelReady         Topic = "INTEL_READY"
	TopicTaskClosed         Topic = "TASK_CLOSED"
	TopicTaskFailed         Topic = "TASK_FAILED"
	TopicSOSError           Topic = "SOS_ERROR"
	TopicApprovalRequired   Topic = "APPROVAL_REQUIRED"
	TopicApprovalDecision   Topic = "APPROVAL_DECISION"
	TopicAgentSummonRequest Topic = "AGENT_SUMMON_REQUEST"
	TopicAgentSummonResolve Topic = "AGENT_SUMMON_RESOLVED"
	TopicAgentStatusReport  Topic = "AGENT_STATUS_REPORT"
	TopicAssetUpdated       Topic = "ASSET_UPDATED"
	TopicSkillQuarantined   Topic = "SKILL_QUARANTINED"
	TopicCompactionTick     Topic = "COMPACTION_TICK"
	TopicHUDSync            Topic = "HUD_SYNC"
)

// AllTopics returns every topic in the closed set, for subscribers that
// observe the whole blackboard (the audit log).
func AllTopics() []Topic {
	return []Topic{
		TopicTaskPosted, TopicTaskAnalyzed, TopicTaskDecomposed,
		TopicTaskClaimed, TopicTaskProgress, TopicTaskRetryScheduled,
		TopicArtifactReady, TopicEvidenceReady, TopicIntelReady,
		TopicTaskClosed, TopicTaskFailed, TopicSOSError,
		TopicApprovalRequired, TopicApprovalDecision,
		TopicAgentSummonRequest, TopicAgentSummonResolve,
		TopicAgentStatusReport, TopicAssetUpdated, TopicSkillQuarantined,
		TopicCompactionTick, TopicHUDSync,
	}
}

// Status is the lifecycle state of an event on the blackboard.
type Status string

const (
	StatusOpen      Status = "OPEN"
	StatusClaimed   Status = "CLAIMED"
	StatusResolving Status = "RESOLVING"
	StatusClosed    Status = "CLOSED"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether the status is absorbing.
func (s Status) Terminal() bool {
	return s == StatusClosed || s == StatusFailed
}

// RiskLevel classifies an event for lease sizing and approval policy.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// Budget is the resource envelope attached to a task.
type Budget struct {
	MaxTokens  int     `json:"max_tokens"`
	MaxMinutes int     `json:"max_minutes"`
	MaxCash    float64 `json:"max_cash"`
}

// CostDelta records resources consumed by a completed task.
type CostDelta struct {
	TokensUsed  int     `json:"tokens_used"`
	MinutesUsed float64 `json:"minutes_used"`
	CashUsed    float64 `json:"cash_used"`
}

// Add returns the element-wise sum of two cost deltas.
func (c CostDelta) Add(o CostDelta) CostDelta {
	return CostDelta{
		TokensUsed:  c.TokensUsed + o.TokensUsed,
		MinutesUsed: c.MinutesUsed + o.MinutesUsed,
		CashUsed:    c.CashUsed + o.CashUsed,
	}
}

// Event is an immutable append-only record on the blackboard. Subscribers
// receive snapshots; all state changes flow through new events or the bus
// claim API.
type Event struct {
	ID             string         `json:"event_id"`
	Topic          Topic          `json:"topic"`
	Intent         string         `json:"intent,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
	ParentEventID  string         `json:"parent_event_id,omitempty"`
	Status         Status         `json:"status"`
	ClaimedBy      string         `json:"claimed_by,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	RequiredTags   []string       `json:"required_tags,omitempty"`
	RiskLevel      RiskLevel      `json:"risk_level,omitempty"`
	Budget         *Budget        `json:"budget,omitempty"`
	CostDelta      *CostDelta     `json:"cost_delta,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// NewEvent returns an OPEN event for the given topic and intent.
func NewEvent(topic Topic, intent string) Event {
	return Event{
		ID:      uuid.New().String(),
		Topic:   topic,
		Intent:  intent,
		Payload: map[string]any{},
		Status:  StatusOpen,
	}
}

// clone returns a deep-enough copy for handing out as a snapshot. Payload
// values are shared but treated as immutable by convention.
func (e Event) clone() Event {
	out := e
	if e.Payload != nil {
		p := make(map[string]any, len(e.Payload))
		for k, v := range e.Payload {
			p[k] = v
		}
		out.Payload = p
	}
	if e.RequiredTags != nil {
		out.RequiredTags = append([]string(nil), e.RequiredTags...)
	}
	if e.Budget != nil {
		b := *e.Budget
		out.Budget = &b
	}
	if e.CostDelta != nil {
		c := *e.CostDelta
		out.CostDelta = &c
	}
	return out
}

// PayloadString returns a string payload field, or "".
func (e Event) PayloadString(key string) string {
	s, _ := e.Payload[key].(string)
	return s
}

// TaskID resolves the task an event refers to: the task_id payload field
// when present, otherwise the event's own id.
func (e Event) TaskID() string {
	if id := e.PayloadString("task_id"); id != "" {
		return id
	}
	return e.ID
}

// Claim is a time-bounded exclusive reservation of an event by an agent.
type Claim struct {
	EventID       string    `json:"event_id"`
	AgentID       string    `json:"agent_id"`
	LeaseExpiry   time.Time `json:"lease_expiry"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// ClaimResult is the outcome of a claim attempt.
type ClaimResult struct {
	OK          bool      `json:"ok"`
	Reason      string    `json:"reason,omitempty"`
	LeaseExpiry time.Time `json:"lease_expiry,omitempty"`
}

// DeadLetter is one entry in the dead-letter queue.
type DeadLetter struct {
	Event      Event     `json:"event"`
	Reason     string    `json:"reason"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Filter selects events in Query; zero fields are ignored and set fields
// are combined by conjunction.
type Filter struct {
	Topic         Topic
	Status        Status
	ParentEventID string
	ClaimedBy     string
	Limit         int
	Offset        int
}

// Handler consumes an event snapshot. A returned error moves the event to
// the dead-letter queue; it never halts the bus.
type Handler func(ev Event) error

// MetricsSnapshot is a point-in-time view of bus health.
type MetricsSnapshot struct {
	QueueDepth        int     `json:"queue_depth"`
	ClaimConflictRate float64 `json:"claim_conflict_rate"`
	RetryStorm        bool    `json:"retry_storm"`
	ThroughputPerHour int     `json:"throughput_per_hour"`
	TokensUsedTotal   int     `json:"tokens_used_total"`
	CashUsedTotal     float64 `json:"cash_used_total"`
}

var (
	// ErrNotFound is returned when an event id is unknown.
	ErrNotFound = errors.New("event not found")
	// ErrClosed is returned after Shutdown.
	ErrClosed = errors.New("bus is closed")
	// ErrTerminal is returned for operations on CLOSED or FAILED events.
	ErrTerminal = errors.New("event is terminal")
)
