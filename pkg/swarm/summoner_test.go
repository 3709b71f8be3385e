// CorpCraft SwarmEngine - event-driven multi-agent task coordination
// License: MIT

package swarm

import (
	"testing"
	"time"

	"github.com/corpcraft/swarmengine/pkg/bus"
	"github.com/corpcraft/swarmengine/pkg/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSummonerFixture(t *testing.T, autonomyLevel int) (*bus.Bus, *AgentRegistry, *Summoner) {
	t.Helper()
	b := bus.New()
	t.Cleanup(b.Shutdown)
	reg := NewAgentRegistry(b)
	s := NewSummoner(b, reg, nil, NewModeState(runtime.ModeTeam), autonomyLevel)
	s.SetApprovalTimeout(40 * time.Millisecond)
	t.Cleanup(s.Shutdown)
	s.Subscribe()
	return b, reg, s
}

func TestSummonerSkillGap(t *testing.T) {
	b, reg, _ := newSummonerFixture(t, 0)
	requests := captureTopic(b, bus.TopicAgentSummonRequest)
	agent := reg.Recruit("generalist", []string{"data"}, 0)

	task := bus.NewEvent(bus.TopicTaskPosted, "review the design")
	task.RequiredTags = []string{"design", "review"}
	posted, err := b.Publish(task)
	require.NoError(t, err)
	require.True(t, b.Claim(posted.ID, agent.ID, time.Minute).OK)

	require.Len(t, *requests, 1)
	req := (*requests)[0]
	assert.Equal(t, string(SummonSkillGap), req.PayloadString("reason"))
	assert.Equal(t, agent.ID, req.PayloadString("requesting_agent"))
	assert.ElementsMatch(t, []string{"design", "review"},
		req.Payload["required_tags"].([]string))
	assert.Equal(t, int64(40), req.Payload["approval_timeout_ms"])
}

func TestSummonerNoRequestWhenTagsCovered(t *testing.T) {
	b, reg, _ := newSummonerFixture(t, 0)
	requests := captureTopic(b, bus.TopicAgentSummonRequest)
	agent := reg.Recruit("specialist", []string{"data", "report"}, 0)

	task := bus.NewEvent(bus.TopicTaskPosted, "crunch the data")
	task.RequiredTags = []string{"data"}
	posted, err := b.Publish(task)
	require.NoError(t, err)
	require.True(t, b.Claim(posted.ID, agent.ID, time.Minute).OK)

	assert.Empty(t, *requests)
}

func TestSummonerOverload(t *testing.T) {
	b, reg, _ := newSummonerFixture(t, 0)
	requests := captureTopic(b, bus.TopicAgentSummonRequest)
	agent := reg.Recruit("workhorse", []string{"data"}, 0)

	for i := 0; i < 3; i++ {
		reg.MarkClaimed(agent.ID, "task")
	}

	progress := bus.NewEvent(bus.TopicTaskProgress, "")
	progress.Payload["agent_id"] = agent.ID
	progress.Payload["task_id"] = "task"
	_, err := b.Publish(progress)
	require.NoError(t, err)

	require.Len(t, *requests, 1)
	assert.Equal(t, string(SummonOverload), (*requests)[0].PayloadString("reason"))
	assert.Equal(t, string(UrgencyMedium), (*requests)[0].PayloadString("urgency"))

	// Two more claims push past the high-urgency threshold.
	reg.MarkClaimed(agent.ID, "task")
	reg.MarkClaimed(agent.ID, "task")
	_, err = b.Publish(progress)
	require.NoError(t, err)

	require.Len(t, *requests, 2)
	assert.Equal(t, string(UrgencyHigh), (*requests)[1].PayloadString("urgency"))
}

func TestSummonerDecompositionRequest(t *testing.T) {
	b, _, _ := newSummonerFixture(t, 0)
	requests := captureTopic(b, bus.TopicAgentSummonRequest)

	analyzed := bus.NewEvent(bus.TopicTaskAnalyzed, "")
	analyzed.Payload["task_id"] = "root-1"
	analyzed.Payload["complexity"] = string(ComplexityComplex)
	analyzed.Payload["suggested_decomposition"] = []string{"data", "report"}
	_, err := b.Publish(analyzed)
	require.NoError(t, err)

	require.Len(t, *requests, 1)
	assert.Equal(t, string(SummonDecomposition), (*requests)[0].PayloadString("reason"))
}

func TestSummonerAutoApproveAtLevelThree(t *testing.T) {
	b, reg, s := newSummonerFixture(t, 3)
	resolved := captureTopic(b, bus.TopicAgentSummonResolve)
	idle := reg.Recruit("idle-designer", []string{"design"}, 3)
	busy := reg.Recruit("busy", []string{"data"}, 3)

	task := bus.NewEvent(bus.TopicTaskPosted, "design work")
	task.RequiredTags = []string{"design"}
	posted, err := b.Publish(task)
	require.NoError(t, err)
	require.True(t, b.Claim(posted.ID, busy.ID, time.Minute).OK)

	require.Len(t, *resolved, 1)
	assert.Equal(t, string(SummonApproved), (*resolved)[0].PayloadString("status"))
	assert.Equal(t, idle.ID, (*resolved)[0].PayloadString("agent_id"))
	assert.Zero(t, s.PendingCount())
}

func TestSummonerRecruitmentWhenNoIdleMatch(t *testing.T) {
	b, reg, _ := newSummonerFixture(t, 3)
	resolved := captureTopic(b, bus.TopicAgentSummonResolve)
	busy := reg.Recruit("busy", []string{"data"}, 3)

	task := bus.NewEvent(bus.TopicTaskPosted, "design work")
	task.RequiredTags = []string{"design"}
	posted, err := b.Publish(task)
	require.NoError(t, err)
	require.True(t, b.Claim(posted.ID, busy.ID, time.Minute).OK)

	require.Len(t, *resolved, 1)
	assert.Empty(t, (*resolved)[0].PayloadString("agent_id"))

	recruitment := b.Query(bus.Filter{Topic: bus.TopicTaskPosted})
	require.Len(t, recruitment, 2, "original task plus recruitment posting")
	assert.Equal(t, []string{"design"}, recruitment[1].RequiredTags)
}

func TestSummonerTimeoutQueuesMediumUrgency(t *testing.T) {
	b, reg, s := newSummonerFixture(t, 0)
	resolved := captureTopic(b, bus.TopicAgentSummonResolve)
	agent := reg.Recruit("generalist", []string{"data"}, 0)

	task := bus.NewEvent(bus.TopicTaskPosted, "design work")
	task.RequiredTags = []string{"design"}
	posted, err := b.Publish(task)
	require.NoError(t, err)
	require.True(t, b.Claim(posted.ID, agent.ID, time.Minute).OK)

	require.Equal(t, 1, s.PendingCount())
	require.Eventually(t, func() bool { return len(*resolved) == 1 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, string(SummonQueued), (*resolved)[0].PayloadString("status"))
	assert.Zero(t, s.PendingCount())
}

func TestSummonerTimeoutAutoApprovesHighUrgency(t *testing.T) {
	b, reg, s := newSummonerFixture(t, 0)
	resolved := captureTopic(b, bus.TopicAgentSummonResolve)
	agent := reg.Recruit("workhorse", []string{"data"}, 0)
	for i := 0; i < 5; i++ {
		reg.MarkClaimed(agent.ID, "task")
	}

	progress := bus.NewEvent(bus.TopicTaskProgress, "")
	progress.Payload["agent_id"] = agent.ID
	_, err := b.Publish(progress)
	require.NoError(t, err)

	require.Equal(t, 1, s.PendingCount())
	require.Eventually(t, func() bool { return len(*resolved) == 1 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, string(SummonApproved), (*resolved)[0].PayloadString("status"))
}

func TestSummonerManualDecision(t *testing.T) {
	b, reg, s := newSummonerFixture(t, 0)
	s.SetApprovalTimeout(time.Minute)
	requests := captureTopic(b, bus.TopicAgentSummonRequest)
	resolved := captureTopic(b, bus.TopicAgentSummonResolve)
	agent := reg.Recruit("generalist", []string{"data"}, 0)

	task := bus.NewEvent(bus.TopicTaskPosted, "design work")
	task.RequiredTags = []string{"design"}
	posted, err := b.Publish(task)
	require.NoError(t, err)
	require.True(t, b.Claim(posted.ID, agent.ID, time.Minute).OK)

	require.Len(t, *requests, 1)
	requestID := (*requests)[0].PayloadString("request_id")

	assert.True(t, s.Decline(requestID, "not now"))
	assert.False(t, s.Decline(requestID, "twice"), "second decision is a no-op")

	require.Len(t, *resolved, 1)
	assert.Equal(t, string(SummonDeclined), (*resolved)[0].PayloadString("status"))
}

func TestSummonerBudgetGateDeclines(t *testing.T) {
	b := bus.New()
	defer b.Shutdown()
	reg := NewAgentRegistry(b)
	budget := NewBudgetTracker(b, 100, 1000, 10)
	budget.Subscribe()

	s := NewSummoner(b, reg, budget, NewModeState(runtime.ModeTeam), 3)
	defer s.Shutdown()
	s.Subscribe()
	resolved := captureTopic(b, bus.TopicAgentSummonResolve)

	// Drain HP below the 10% gate.
	publishArtifact(t, b, "drain", bus.CostDelta{CashUsed: 0.95})

	agent := reg.Recruit("generalist", []string{"data"}, 3)
	task := bus.NewEvent(bus.TopicTaskPosted, "design work")
	task.RequiredTags = []string{"design"}
	posted, err := b.Publish(task)
	require.NoError(t, err)
	require.True(t, b.Claim(posted.ID, agent.ID, time.Minute).OK)

	require.Len(t, *resolved, 1)
	assert.Equal(t, string(SummonDeclined), (*resolved)[0].PayloadString("status"))
	assert.Equal(t, "budget depleted", (*resolved)[0].PayloadString("note"))
}
