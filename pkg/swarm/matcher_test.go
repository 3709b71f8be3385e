// CorpCraft SwarmEngine - event-driven multi-agent task coordination
// License: MIT

package swarm

import (
	"testing"
	"time"

	"github.com/corpcraft/swarmengine/pkg/bus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedAgent(r *AgentRegistry, name string, tags []string, successRate float64) Agent {
	a := r.Recruit(name, tags, 0)
	r.mu.Lock()
	r.agents[a.ID].Metrics.SuccessRate7d = successRate
	r.mu.Unlock()
	return a
}

func TestPickFullMatchPrefersSuccessRate(t *testing.T) {
	b := bus.New()
	defer b.Shutdown()
	reg := NewAgentRegistry(b)
	seedAgent(reg, "junior", []string{"data", "report"}, 0.4)
	senior := seedAgent(reg, "senior", []string{"data", "report"}, 0.9)
	seedAgent(reg, "partial", []string{"data"}, 0.99)

	m := NewMatcher(b, reg)
	got, ok := m.pick([]string{"data", "report"})
	require.True(t, ok)
	assert.Equal(t, senior.ID, got.ID, "full match beats partial even at lower rate")
}

func TestPickPartialMatchOrdersByOverlapThenRate(t *testing.T) {
	b := bus.New()
	defer b.Shutdown()
	reg := NewAgentRegistry(b)
	seedAgent(reg, "one-tag", []string{"data"}, 0.99)
	twoTags := seedAgent(reg, "two-tags", []string{"data", "report"}, 0.3)

	m := NewMatcher(b, reg)
	got, ok := m.pick([]string{"data", "report", "review"})
	require.True(t, ok)
	assert.Equal(t, twoTags.ID, got.ID, "overlap outranks success rate")
}

func TestPickFallsBackToAnyIdle(t *testing.T) {
	b := bus.New()
	defer b.Shutdown()
	reg := NewAgentRegistry(b)
	generalist := seedAgent(reg, "generalist", []string{"ops"}, 0.7)

	m := NewMatcher(b, reg)
	got, ok := m.pick([]string{"design"})
	require.True(t, ok)
	assert.Equal(t, generalist.ID, got.ID)

	_, ok = m.pick(nil)
	assert.True(t, ok, "untagged tasks match any idle agent")
}

func TestPickNoIdleAgents(t *testing.T) {
	b := bus.New()
	defer b.Shutdown()
	reg := NewAgentRegistry(b)

	m := NewMatcher(b, reg)
	_, ok := m.pick([]string{"data"})
	assert.False(t, ok)
}

func TestMatcherClaimsPostedTask(t *testing.T) {
	b := bus.New()
	defer b.Shutdown()
	reg := NewAgentRegistry(b)
	agent := seedAgent(reg, "worker", []string{"data"}, 0.8)

	NewMatcher(b, reg).Subscribe()

	task := bus.NewEvent(bus.TopicTaskPosted, "clean the data")
	task.RequiredTags = []string{"data"}
	posted, err := b.Publish(task)
	require.NoError(t, err)

	stored, err := b.Get(posted.ID)
	require.NoError(t, err)
	assert.Equal(t, bus.StatusClaimed, stored.Status)
	assert.Equal(t, agent.ID, stored.ClaimedBy)

	updated, _ := reg.Get(agent.ID)
	assert.Equal(t, AgentClaimed, updated.Status)
	assert.Equal(t, 1, reg.ConcurrentCount(agent.ID))
}

func TestMatcherRematchesAfterLeaseExpiry(t *testing.T) {
	b := bus.New()
	defer b.Shutdown()
	reg := NewAgentRegistry(b)
	seedAgent(reg, "worker", []string{"data"}, 0.8)

	task := bus.NewEvent(bus.TopicTaskPosted, "clean the data")
	task.RequiredTags = []string{"data"}
	posted, err := b.Publish(task)
	require.NoError(t, err)

	// Claim with a tiny lease and no heartbeat, then let it lapse with the
	// matcher listening for the retry signal.
	require.True(t, b.Claim(posted.ID, "ghost-agent", 15*time.Millisecond).OK)
	NewMatcher(b, reg).Subscribe()

	require.Eventually(t, func() bool {
		stored, err := b.Get(posted.ID)
		return err == nil && stored.Status == bus.StatusClaimed && stored.ClaimedBy != "ghost-agent"
	}, time.Second, 5*time.Millisecond, "expired task should be re-claimed by a live agent")
}

func TestMatcherFreesAgentOnTerminal(t *testing.T) {
	b := bus.New()
	defer b.Shutdown()
	reg := NewAgentRegistry(b)
	agent := seedAgent(reg, "worker", []string{"data"}, 0.5)

	NewMatcher(b, reg).Subscribe()

	task := bus.NewEvent(bus.TopicTaskPosted, "clean the data")
	task.RequiredTags = []string{"data"}
	posted, err := b.Publish(task)
	require.NoError(t, err)

	closed := bus.NewEvent(bus.TopicTaskClosed, "")
	closed.Payload["task_id"] = posted.ID
	_, err = b.Publish(closed)
	require.NoError(t, err)

	updated, _ := reg.Get(agent.ID)
	assert.Equal(t, AgentIdle, updated.Status)
	assert.Zero(t, reg.ConcurrentCount(agent.ID))
	assert.Greater(t, updated.Metrics.SuccessRate7d, 0.5, "success nudges the rate up")
}
