// CorpCraft SwarmEngine - event-driven multi-agent task coordination
// License: MIT
//
// Copyright (c) 2026 CorpCraft contributors

package policy

import (
	"fmt"
	"sync"
	"time"

	"github.com/corpcraft/swarmengine/pkg/bus"
	"github.com/corpcraft/swarmengine/pkg/logger"
	"github.com/google/uuid"
)

// Decision values carried on APPROVAL_DECISION.
const (
	DecisionApprove = "APPROVE"
	DecisionReject  = "REJECT"
)

// DecidedBySLAMonitor marks decisions made by the SLA engine rather than
// a human.
const DecidedBySLAMonitor = "SLA_MONITOR"

// SLA escalation actions.
type EscalationAction string

const (
	// ActionDowngradeToDraft strips the high-risk permissions from the
	// request and auto-approves what remains.
	ActionDowngradeToDraft EscalationAction = "DOWNGRADE_TO_DRAFT"
	// ActionEscalate raises the alarm but keeps the request pending.
	ActionEscalate EscalationAction = "ESCALATE"
	// ActionAutoReject rejects the request outright.
	ActionAutoReject EscalationAction = "AUTO_REJECT"
)

// highRiskPermissions are stripped on DOWNGRADE_TO_DRAFT.
var highRiskPermissions = map[string]bool{
	"external_send": true,
	"shell_exec":    true,
}

// Tier is one SLA band. FinalAfter of zero means no terminal deadline.
type Tier struct {
	Name          string
	ReminderAfter time.Duration
	EscalateAfter time.Duration
	Action        EscalationAction
	// FinalAfter runs after EscalateAfter for tiers that eventually give
	// up on a human answer.
	FinalAfter  time.Duration
	FinalAction EscalationAction
}

// DefaultTiers maps risk level to its SLA band.
func DefaultTiers() map[bus.RiskLevel]Tier {
	return map[bus.RiskLevel]Tier{
		bus.RiskLow: {
			Name:          "FAST",
			ReminderAfter: 3 * time.Minute,
			EscalateAfter: 5 * time.Minute,
			Action:        ActionDowngradeToDraft,
		},
		bus.RiskMedium: {
			Name:          "STANDARD",
			ReminderAfter: 10 * time.Minute,
			EscalateAfter: 15 * time.Minute,
			Action:        ActionDowngradeToDraft,
		},
		bus.RiskHigh: {
			Name:          "CRITICAL",
			ReminderAfter: 20 * time.Minute,
			EscalateAfter: 30 * time.Minute,
			Action:        ActionEscalate,
			FinalAfter:    30 * time.Minute,
			FinalAction:   ActionAutoReject,
		},
	}
}

// DefaultCongestionThreshold triggers the congestion alarm.
const DefaultCongestionThreshold = 10

// Approval is one pending permission request.
type Approval struct {
	ID          string        `json:"approval_id"`
	TaskID      string        `json:"task_id"`
	AgentID     string        `json:"agent_id"`
	Permissions []string      `json:"permissions"`
	Risk        bus.RiskLevel `json:"risk"`
	Tier        string        `json:"tier"`
	CreatedAt   time.Time     `json:"created_at"`
}

type pendingApproval struct {
	approval Approval
	timers   []*time.Timer
}

// ApprovalEngine tracks pending permission requests and drives the SLA
// reminder / escalation ladder.
type ApprovalEngine struct {
	b         *bus.Bus
	tiers     map[bus.RiskLevel]Tier
	threshold int

	mu       sync.Mutex
	pending  map[string]*pendingApproval
	alarmed  bool
	closed   bool
}

func NewApprovalEngine(b *bus.Bus, congestionThreshold int) *ApprovalEngine {
	if congestionThreshold <= 0 {
		congestionThreshold = DefaultCongestionThreshold
	}
	return &ApprovalEngine{
		b:         b,
		tiers:     DefaultTiers(),
		threshold: congestionThreshold,
		pending:   make(map[string]*pendingApproval),
	}
}

// SetTiers replaces the SLA table (tests inject millisecond bands).
func (e *ApprovalEngine) SetTiers(tiers map[bus.RiskLevel]Tier) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tiers = tiers
}

// Request opens an approval and publishes APPROVAL_REQUIRED.
func (e *ApprovalEngine) Request(taskID, agentID string, permissions []string, risk bus.RiskLevel) (Approval, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return Approval{}, bus.ErrClosed
	}
	tier, ok := e.tiers[risk]
	if !ok {
		tier = e.tiers[bus.RiskMedium]
	}
	ap := Approval{
		ID:          "approval-" + uuid.New().String()[:8],
		TaskID:      taskID,
		AgentID:     agentID,
		Permissions: append([]string(nil), permissions...),
		Risk:        risk,
		Tier:        tier.Name,
		CreatedAt:   time.Now(),
	}
	pa := &pendingApproval{approval: ap}
	pa.timers = append(pa.timers,
		time.AfterFunc(tier.ReminderAfter, func() { e.remind(ap.ID) }),
		time.AfterFunc(tier.EscalateAfter, func() { e.escalate(ap.ID, tier.Action) }))
	if tier.FinalAfter > 0 {
		pa.timers = append(pa.timers,
			time.AfterFunc(tier.EscalateAfter+tier.FinalAfter, func() {
				e.escalate(ap.ID, tier.FinalAction)
			}))
	}
	e.pending[ap.ID] = pa
	congested := len(e.pending) > e.threshold && !e.alarmed
	if congested {
		e.alarmed = true
	}
	count := len(e.pending)
	e.mu.Unlock()

	ev := bus.NewEvent(bus.TopicApprovalRequired, "")
	ev.ParentEventID = taskID
	ev.RiskLevel = risk
	ev.Payload = map[string]any{
		"approval_id": ap.ID,
		"task_id":     taskID,
		"agent_id":    agentID,
		"permissions": ap.Permissions,
		"tier":        tier.Name,
	}
	if _, err := e.b.Publish(ev); err != nil {
		return ap, err
	}

	if congested {
		alarm := bus.NewEvent(bus.TopicSOSError, "")
		alarm.Payload = map[string]any{
			"kind":    "APPROVAL_CONGESTION",
			"pending": count,
		}
		e.b.Publish(alarm)
	}
	return ap, nil
}

// Decide records a human (or monitor) decision and clears the SLA timers.
func (e *ApprovalEngine) Decide(approvalID, decision, decidedBy, reason string) error {
	pa, ok := e.take(approvalID)
	if !ok {
		return fmt.Errorf("approval %s: %w", approvalID, bus.ErrNotFound)
	}
	return e.publishDecision(pa.approval, decision, decidedBy, reason, nil)
}

func (e *ApprovalEngine) publishDecision(ap Approval, decision, decidedBy, reason string, downgradeSpec map[string]any) error {
	ev := bus.NewEvent(bus.TopicApprovalDecision, "")
	ev.ParentEventID = ap.TaskID
	ev.Payload = bus.DecisionPayload{
		ApprovalID: ap.ID,
		TaskID:     ap.TaskID,
		Decision:   decision,
		DecidedBy:  decidedBy,
		Reason:     reason,
	}.ToMap()
	ev.Payload["agent_id"] = ap.AgentID
	ev.Payload["permissions"] = ap.Permissions
	if downgradeSpec != nil {
		ev.Payload["downgrade_spec"] = downgradeSpec
	}
	_, err := e.b.Publish(ev)
	return err
}

// remind publishes an SOS_ERROR of kind APPROVAL_REMINDER. Recovery
// ignores this kind; it exists for human surfaces.
func (e *ApprovalEngine) remind(approvalID string) {
	e.mu.Lock()
	pa, ok := e.pending[approvalID]
	e.mu.Unlock()
	if !ok {
		return
	}
	ev := bus.NewEvent(bus.TopicSOSError, "")
	ev.Payload = map[string]any{
		"kind":        "APPROVAL_REMINDER",
		"approval_id": approvalID,
		"task_id":     pa.approval.TaskID,
		"tier":        pa.approval.Tier,
		"waiting_ms":  time.Since(pa.approval.CreatedAt).Milliseconds(),
	}
	e.b.Publish(ev)
}

func (e *ApprovalEngine) escalate(approvalID string, action EscalationAction) {
	switch action {
	case ActionDowngradeToDraft:
		pa, ok := e.take(approvalID)
		if !ok {
			return
		}
		ap := pa.approval
		var kept []string
		spec := make(map[string]any, len(highRiskPermissions))
		for _, p := range ap.Permissions {
			if !highRiskPermissions[p] {
				kept = append(kept, p)
			}
		}
		for p := range highRiskPermissions {
			spec["strip_"+p] = true
		}
		ap.Permissions = kept
		logger.InfoCF("policy", "approval downgraded to draft", map[string]any{
			"approval_id": ap.ID, "permissions": kept,
		})
		e.publishDecision(ap, DecisionApprove, DecidedBySLAMonitor, "SLA expired, downgraded to draft", spec)

	case ActionAutoReject:
		pa, ok := e.take(approvalID)
		if !ok {
			return
		}
		logger.WarnCF("policy", "approval auto-rejected", map[string]any{
			"approval_id": approvalID,
		})
		e.publishDecision(pa.approval, DecisionReject, DecidedBySLAMonitor, "SLA expired with no decision", nil)

	case ActionEscalate:
		e.mu.Lock()
		pa, ok := e.pending[approvalID]
		e.mu.Unlock()
		if !ok {
			return
		}
		ev := bus.NewEvent(bus.TopicSOSError, "")
		ev.Payload = map[string]any{
			"kind":        "APPROVAL_ESCALATION",
			"approval_id": approvalID,
			"task_id":     pa.approval.TaskID,
			"tier":        pa.approval.Tier,
		}
		e.b.Publish(ev)
	}
}

func (e *ApprovalEngine) take(approvalID string) (*pendingApproval, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pa, ok := e.pending[approvalID]
	if !ok {
		return nil, false
	}
	for _, t := range pa.timers {
		t.Stop()
	}
	delete(e.pending, approvalID)
	if len(e.pending) <= e.threshold {
		e.alarmed = false
	}
	return pa, true
}

// Pending lists the open approvals, oldest first.
func (e *ApprovalEngine) Pending() []Approval {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Approval, 0, len(e.pending))
	for _, pa := range e.pending {
		out = append(out, pa.approval)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].CreatedAt.Before(out[j-1].CreatedAt); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// PendingCount reports how many approvals await a decision.
func (e *ApprovalEngine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Shutdown stops every SLA timer.
func (e *ApprovalEngine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	for id, pa := range e.pending {
		for _, t := range pa.timers {
			t.Stop()
		}
		delete(e.pending, id)
	}
}
