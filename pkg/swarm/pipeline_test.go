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

type pipeline struct {
	b        *bus.Bus
	reg      *AgentRegistry
	runtimes *runtime.Registry
	mock     *runtime.MockRuntime
	executor *Executor
}

func newPipeline(t *testing.T, mode runtime.Mode) *pipeline {
	t.Helper()
	b := bus.New()
	t.Cleanup(b.Shutdown)

	reg := NewAgentRegistry(b)
	runtimes := runtime.NewRegistry()
	mock := &runtime.MockRuntime{Steps: 2, StepDelay: time.Millisecond}
	runtimes.Set(runtime.ModeMock, mock)
	runtimes.Set(runtime.ModeTeam, runtime.NewTeamRuntime(mock))

	state := NewModeState(mode)
	if mode == runtime.ModeTeam {
		NewDecomposer(b, state).Subscribe()
	}
	NewMatcher(b, reg).Subscribe()
	exec := NewExecutor(b, reg, runtimes, state, t.TempDir())
	t.Cleanup(exec.Shutdown)
	exec.Subscribe()

	return &pipeline{b: b, reg: reg, runtimes: runtimes, mock: mock, executor: exec}
}

func waitForStatus(t *testing.T, b *bus.Bus, taskID string, want bus.Status) bus.Event {
	t.Helper()
	var got bus.Event
	require.Eventually(t, func() bool {
		ev, err := b.Get(taskID)
		if err != nil {
			return false
		}
		got = ev
		return ev.Status == want
	}, 2*time.Second, 5*time.Millisecond, "task %s never reached %s", taskID, want)
	return got
}

func TestPipelineSoloTaskLifecycle(t *testing.T) {
	p := newPipeline(t, runtime.ModeMock)
	agent := p.reg.Recruit("wrangler", []string{"data"}, 0)
	progress := captureTopic(p.b, bus.TopicTaskProgress)
	artifacts := captureTopic(p.b, bus.TopicArtifactReady)
	evidence := captureTopic(p.b, bus.TopicEvidenceReady)

	task := bus.NewEvent(bus.TopicTaskPosted, "clean the lead data")
	task.RequiredTags = []string{"data"}
	posted, err := p.b.Publish(task)
	require.NoError(t, err)

	done := waitForStatus(t, p.b, posted.ID, bus.StatusClosed)
	require.NotNil(t, done.CostDelta)
	assert.Greater(t, done.CostDelta.TokensUsed, 0)

	require.NotEmpty(t, *progress)
	require.Len(t, *artifacts, 1)
	assert.Equal(t, posted.ID, (*artifacts)[0].ParentEventID)
	assert.Contains(t, (*artifacts)[0].PayloadString("artifact"), "wrangler")
	require.Len(t, *evidence, 1)
	assert.NotEmpty(t, (*evidence)[0].PayloadString("evidence_pack_id"))

	require.Eventually(t, func() bool {
		a, _ := p.reg.Get(agent.ID)
		return a.Status == AgentIdle
	}, time.Second, 5*time.Millisecond, "agent should be freed after the terminal event")
	assert.Zero(t, p.reg.ConcurrentCount(agent.ID))
}

func TestPipelineFailureEmitsTaskFailed(t *testing.T) {
	p := newPipeline(t, runtime.ModeMock)
	p.mock.FailureFor = func(intent string) string { return "execution_failed" }
	p.reg.Recruit("wrangler", []string{"data"}, 0)

	recovery := NewRecovery(p.b, 0)
	t.Cleanup(recovery.Shutdown)
	recovery.Subscribe()

	task := bus.NewEvent(bus.TopicTaskPosted, "clean the lead data")
	task.RequiredTags = []string{"data"}
	posted, err := p.b.Publish(task)
	require.NoError(t, err)

	waitForStatus(t, p.b, posted.ID, bus.StatusFailed)
	require.Eventually(t, func() bool { return len(p.b.DLQ(0)) == 1 },
		time.Second, 5*time.Millisecond)
}

func TestPipelineTransientFailureRetriesToSuccess(t *testing.T) {
	p := newPipeline(t, runtime.ModeMock)
	p.reg.Recruit("wrangler", []string{"data"}, 0)

	recovery := NewRecovery(p.b, 3)
	t.Cleanup(recovery.Shutdown)
	recovery.Subscribe()

	// First attempt hits a transient error, the retry succeeds.
	failures := 1
	p.mock.FailureFor = func(intent string) string {
		if failures > 0 {
			failures--
			return "network timeout"
		}
		return ""
	}

	task := bus.NewEvent(bus.TopicTaskPosted, "fetch the remote dataset")
	task.RequiredTags = []string{"data"}
	posted, err := p.b.Publish(task)
	require.NoError(t, err)

	waitForStatus(t, p.b, posted.ID, bus.StatusFailed)

	require.Eventually(t, func() bool {
		retries := p.b.Query(bus.Filter{Topic: bus.TopicTaskPosted})
		if len(retries) < 2 {
			return false
		}
		ev, err := p.b.Get(retries[1].ID)
		return err == nil && ev.Status == bus.StatusClosed
	}, 3*time.Second, 10*time.Millisecond, "reposted attempt should succeed")
	assert.Empty(t, p.b.DLQ(0))
}

func TestExecutorCancelsWhenLeaseLost(t *testing.T) {
	b := bus.New(bus.WithLeases(15*time.Millisecond, 15*time.Millisecond))
	t.Cleanup(b.Shutdown)
	reg := NewAgentRegistry(b)
	runtimes := runtime.NewRegistry()
	runtimes.Set(runtime.ModeMock, &runtime.MockRuntime{Steps: 40, StepDelay: 10 * time.Millisecond})
	exec := NewExecutor(b, reg, runtimes, NewModeState(runtime.ModeMock), t.TempDir())
	t.Cleanup(exec.Shutdown)
	exec.Subscribe()

	posted, err := b.Publish(bus.NewEvent(bus.TopicTaskPosted, "long running job"))
	require.NoError(t, err)

	// A claim notification whose lease no longer exists: the first
	// heartbeat is rejected and the execution must stop without emitting
	// artifacts or a terminal event.
	claimed := bus.NewEvent(bus.TopicTaskClaimed, "")
	claimed.Payload = bus.ClaimPayload{
		TaskID:      posted.ID,
		AgentID:     "ghost-agent",
		LeaseExpiry: time.Now(),
	}.ToMap()
	_, err = b.Publish(claimed)
	require.NoError(t, err)

	time.Sleep(150 * time.Millisecond)
	assert.Empty(t, b.Query(bus.Filter{Topic: bus.TopicArtifactReady}))
	assert.Empty(t, b.Query(bus.Filter{Topic: bus.TopicTaskClosed}))
	assert.Empty(t, b.Query(bus.Filter{Topic: bus.TopicTaskFailed}))

	stored, err := b.Get(posted.ID)
	require.NoError(t, err)
	assert.Equal(t, bus.StatusOpen, stored.Status)
}

func TestPipelineTeamModeAggregatesChildren(t *testing.T) {
	p := newPipeline(t, runtime.ModeTeam)
	p.reg.Recruit("wrangler", []string{"data"}, 0)
	p.reg.Recruit("scribe", []string{"report"}, 0)

	root := bus.NewEvent(bus.TopicTaskPosted, "clean the data and write the report")
	root.RequiredTags = []string{"data", "report"}
	posted, err := p.b.Publish(root)
	require.NoError(t, err)

	done := waitForStatus(t, p.b, posted.ID, bus.StatusClosed)
	require.NotNil(t, done.CostDelta)
	assert.Greater(t, done.CostDelta.TokensUsed, 0, "parent carries the aggregated cost")

	children := p.b.Query(bus.Filter{Topic: bus.TopicTaskPosted, ParentEventID: posted.ID})
	require.Len(t, children, 2)
	for _, child := range children {
		ev, err := p.b.Get(child.ID)
		require.NoError(t, err)
		assert.Equal(t, bus.StatusClosed, ev.Status)
	}

	closers := p.b.Query(bus.Filter{Topic: bus.TopicTaskClosed})
	var aggregated *bus.Event
	for i := range closers {
		if closers[i].TaskID() == posted.ID {
			aggregated = &closers[i]
		}
	}
	require.NotNil(t, aggregated)
	assert.Equal(t, true, aggregated.Payload["aggregated"])
	assert.Equal(t, 2, aggregated.Payload["sub_tasks"])
}
