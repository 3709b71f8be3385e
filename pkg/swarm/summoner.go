// CorpCraft SwarmEngine - event-driven multi-agent task coordination
// License: MIT
//
// Copyright (c) 2026 CorpCraft contributors

package swarm

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/corpcraft/swarmengine/pkg/bus"
	"github.com/corpcraft/swarmengine/pkg/logger"
	"github.com/corpcraft/swarmengine/pkg/runtime"
)

const (
	// DefaultApprovalTimeout bounds how long a summon request waits for a
	// human before the timeout policy kicks in.
	DefaultApprovalTimeout = 30 * time.Second

	overloadThreshold     = 3
	overloadHighThreshold = 5

	// budgetGateFraction declines summons when HP or MP fall below this
	// share of their maximum.
	budgetGateFraction = 0.1
)

// Summoner detects agents that need help and raises summon requests,
// applying the autonomy policy and the budget gate.
type Summoner struct {
	b        *bus.Bus
	registry *AgentRegistry
	budget   *BudgetTracker
	mode     *ModeState

	autonomyLevel   int
	approvalTimeout time.Duration
	processed       *processedSet

	mu      sync.Mutex
	pending map[string]*pendingSummon
	closed  bool
}

type pendingSummon struct {
	request SummonRequest
	timer   *time.Timer
}

func NewSummoner(b *bus.Bus, registry *AgentRegistry, budget *BudgetTracker, mode *ModeState, autonomyLevel int) *Summoner {
	return &Summoner{
		b:               b,
		registry:        registry,
		budget:          budget,
		mode:            mode,
		autonomyLevel:   autonomyLevel,
		approvalTimeout: DefaultApprovalTimeout,
		processed:       newProcessedSet(),
		pending:         make(map[string]*pendingSummon),
	}
}

// SetApprovalTimeout overrides the request timeout (tests use ms scales).
func (s *Summoner) SetApprovalTimeout(d time.Duration) {
	s.approvalTimeout = d
}

func (s *Summoner) Subscribe() func() {
	unsubClaim := s.b.Subscribe([]bus.Topic{bus.TopicTaskClaimed}, s.handleClaimed)
	unsubProgress := s.b.Subscribe([]bus.Topic{bus.TopicTaskProgress}, s.handleProgress)
	unsubAnalyzed := s.b.Subscribe([]bus.Topic{bus.TopicTaskAnalyzed}, s.handleAnalyzed)
	return func() {
		unsubClaim()
		unsubProgress()
		unsubAnalyzed()
	}
}

// handleClaimed raises a SKILL_GAP summon when the claiming agent lacks
// required tags.
func (s *Summoner) handleClaimed(ev bus.Event) error {
	if !s.processed.markOnce("claim:" + ev.ID) {
		return nil
	}
	claim := bus.ClaimPayloadFrom(ev)
	agent, ok := s.registry.Get(claim.AgentID)
	if !ok {
		return nil
	}
	task, err := s.b.Get(claim.TaskID)
	if err != nil {
		return nil
	}

	var missing []string
	for _, tag := range task.RequiredTags {
		if !agent.HasTag(tag) {
			missing = append(missing, tag)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	s.raise(SummonRequest{
		RequestingAgentID:   agent.ID,
		RequestingAgentName: agent.Name,
		Reason:              SummonSkillGap,
		RequiredTags:        missing,
		Urgency:             UrgencyMedium,
		Context:             fmt.Sprintf("task %s needs tags %s", task.ID, strings.Join(missing, ",")),
	}, agent.AutonomyLevel)
	return nil
}

// handleProgress raises an OVERLOAD summon when an agent's concurrent
// task count crosses the threshold.
func (s *Summoner) handleProgress(ev bus.Event) error {
	agentID := ev.PayloadString("agent_id")
	if agentID == "" {
		return nil
	}
	count := s.registry.ConcurrentCount(agentID)
	if count < overloadThreshold {
		return nil
	}
	// One request per load level per agent.
	if !s.processed.markOnce(fmt.Sprintf("overload:%s:%d", agentID, count)) {
		return nil
	}

	urgency := UrgencyMedium
	if count >= overloadHighThreshold {
		urgency = UrgencyHigh
	}
	agent, _ := s.registry.Get(agentID)
	s.raise(SummonRequest{
		RequestingAgentID:   agentID,
		RequestingAgentName: agent.Name,
		Reason:              SummonOverload,
		RequiredTags:        agent.RoleTags,
		Urgency:             urgency,
		Context:             fmt.Sprintf("%d concurrent tasks", count),
	}, agent.AutonomyLevel)
	return nil
}

// handleAnalyzed raises a DECOMPOSITION summon for complex tasks in team
// mode.
func (s *Summoner) handleAnalyzed(ev bus.Event) error {
	if Complexity(ev.PayloadString("complexity")) != ComplexityComplex {
		return nil
	}
	if s.mode.Get() != runtime.ModeTeam {
		return nil
	}
	if !s.processed.markOnce("analyzed:" + ev.ID) {
		return nil
	}

	s.raise(SummonRequest{
		Reason:       SummonDecomposition,
		RequiredTags: payloadTags(ev, "suggested_decomposition"),
		Urgency:      UrgencyMedium,
		Context:      "complex task " + ev.TaskID(),
	}, s.autonomyLevel)
	return nil
}

// raise applies the budget gate and autonomy policy, publishes the
// request, and either resolves it or parks it pending approval.
func (s *Summoner) raise(req SummonRequest, autonomyLevel int) {
	req.RequestID = newRequestID()
	req.Status = SummonPending
	req.CreatedAt = time.Now()
	req.ApprovalTimeout = s.approvalTimeout

	if s.budget != nil && s.budget.Depleted(budgetGateFraction) {
		req.Status = SummonDeclined
		s.publishRequest(req)
		s.publishResolved(req, "", "budget depleted")
		return
	}

	autoApprove := false
	switch {
	case autonomyLevel >= 3:
		autoApprove = true
	case autonomyLevel == 2:
		autoApprove = req.Urgency == UrgencyLow || req.Urgency == UrgencyMedium
	}

	s.publishRequest(req)

	if autoApprove {
		req.Status = SummonApproved
		s.resolve(req)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	ps := &pendingSummon{request: req}
	ps.timer = time.AfterFunc(s.approvalTimeout, func() { s.timeout(req.RequestID) })
	s.pending[req.RequestID] = ps
	s.mu.Unlock()
}

// timeout applies the timeout policy: urgent requests self-approve,
// everything else is queued for later review.
func (s *Summoner) timeout(requestID string) {
	s.mu.Lock()
	ps, ok := s.pending[requestID]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.pending, requestID)
	s.mu.Unlock()

	req := ps.request
	if req.Urgency == UrgencyHigh || req.Urgency == UrgencyCritical {
		req.Status = SummonApproved
		logger.InfoCF("summoner", "summon auto-approved on timeout", map[string]any{
			"request_id": req.RequestID, "urgency": string(req.Urgency),
		})
		s.resolve(req)
		return
	}

	req.Status = SummonQueued
	s.publishResolved(req, "", "approval timed out, queued")
}

// Approve resolves a pending request by user decision.
func (s *Summoner) Approve(requestID string) bool {
	ps, ok := s.takePending(requestID)
	if !ok {
		return false
	}
	req := ps.request
	req.Status = SummonApproved
	s.resolve(req)
	return true
}

// Decline rejects a pending request by user decision.
func (s *Summoner) Decline(requestID, reason string) bool {
	ps, ok := s.takePending(requestID)
	if !ok {
		return false
	}
	req := ps.request
	req.Status = SummonDeclined
	s.publishResolved(req, "", reason)
	return true
}

func (s *Summoner) takePending(requestID string) (*pendingSummon, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps, ok := s.pending[requestID]
	if !ok {
		return nil, false
	}
	ps.timer.Stop()
	delete(s.pending, requestID)
	return ps, true
}

// resolve assigns an idle agent with matching tags, or posts a
// recruitment task when none exists.
func (s *Summoner) resolve(req SummonRequest) {
	var best *Agent
	bestOverlap := 0
	for _, a := range s.registry.Idle() {
		if a.ID == req.RequestingAgentID {
			continue
		}
		overlap := a.TagOverlap(req.RequiredTags)
		if overlap > bestOverlap {
			cp := a
			best = &cp
			bestOverlap = overlap
		}
	}

	if best != nil {
		s.publishResolved(req, best.ID, "assigned idle agent")
		return
	}

	recruit := bus.NewEvent(bus.TopicTaskPosted,
		"recruit agent with tags: "+strings.Join(req.RequiredTags, ","))
	recruit.RequiredTags = append([]string(nil), req.RequiredTags...)
	recruit.Payload = map[string]any{
		"recruitment": true,
		"request_id":  req.RequestID,
	}
	s.b.Publish(recruit)
	s.publishResolved(req, "", "recruitment posted")
}

func (s *Summoner) publishRequest(req SummonRequest) {
	ev := bus.NewEvent(bus.TopicAgentSummonRequest, "")
	ev.Payload = bus.SummonPayload{
		RequestID:         req.RequestID,
		RequestingAgent:   req.RequestingAgentID,
		Reason:            string(req.Reason),
		RequiredTags:      req.RequiredTags,
		Urgency:           string(req.Urgency),
		TargetZoneID:      req.TargetZoneID,
		Context:           req.Context,
		ApprovalTimeoutMS: req.ApprovalTimeout.Milliseconds(),
	}.ToMap()
	s.b.Publish(ev)
}

func (s *Summoner) publishResolved(req SummonRequest, agentID, note string) {
	ev := bus.NewEvent(bus.TopicAgentSummonResolve, "")
	ev.Payload = map[string]any{
		"request_id": req.RequestID,
		"status":     string(req.Status),
		"agent_id":   agentID,
		"note":       note,
	}
	s.b.Publish(ev)
}

// PendingCount reports how many summon requests await a decision.
func (s *Summoner) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Shutdown cancels all pending approval timers.
func (s *Summoner) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, ps := range s.pending {
		ps.timer.Stop()
		delete(s.pending, id)
	}
}

func payloadTags(ev bus.Event, key string) []string {
	switch v := ev.Payload[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
