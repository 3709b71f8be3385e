// CorpCraft SwarmEngine - event-driven multi-agent task coordination
// License: MIT

package swarm

import (
	"testing"

	"github.com/corpcraft/swarmengine/pkg/bus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func publishArtifact(t *testing.T, b *bus.Bus, taskID string, cost bus.CostDelta) {
	t.Helper()
	artifact := bus.NewEvent(bus.TopicArtifactReady, "")
	artifact.Payload["task_id"] = taskID
	artifact.CostDelta = &cost
	_, err := b.Publish(artifact)
	require.NoError(t, err)
}

func TestBudgetChargesFromArtifacts(t *testing.T) {
	b := bus.New()
	defer b.Shutdown()
	tracker := NewBudgetTracker(b, 1000, 100000, 100)
	tracker.Subscribe()

	publishArtifact(t, b, "task-1", bus.CostDelta{TokensUsed: 500, CashUsed: 2.5})

	hud := tracker.Snapshot()
	assert.InDelta(t, 99500, hud.MP.Current, 1e-9)
	assert.InDelta(t, 1000-2.5*100, hud.HP.Current, 1e-9)
	assert.InDelta(t, 100, hud.AP.Current, 1e-9, "artifacts alone do not move AP")
}

func TestBudgetTerminalCostNotDoubleCounted(t *testing.T) {
	b := bus.New()
	defer b.Shutdown()
	tracker := NewBudgetTracker(b, 1000, 100000, 100)
	tracker.Subscribe()

	cost := bus.CostDelta{TokensUsed: 500, CashUsed: 1}
	publishArtifact(t, b, "task-1", cost)

	// The terminal event repeats the delta; the tracker must not charge it
	// a second time.
	closed := bus.NewEvent(bus.TopicTaskClosed, "")
	closed.Payload["task_id"] = "task-1"
	closed.CostDelta = &cost
	_, err := b.Publish(closed)
	require.NoError(t, err)

	hud := tracker.Snapshot()
	assert.InDelta(t, 99500, hud.MP.Current, 1e-9)
	assert.InDelta(t, 900, hud.HP.Current, 1e-9)
}

func TestBudgetMoraleSwings(t *testing.T) {
	b := bus.New()
	defer b.Shutdown()
	tracker := NewBudgetTracker(b, 1000, 100000, 100)
	tracker.Subscribe()

	failed := bus.NewEvent(bus.TopicTaskFailed, "")
	failed.Payload["task_id"] = "task-1"
	_, err := b.Publish(failed)
	require.NoError(t, err)
	assert.InDelta(t, 95, tracker.Snapshot().AP.Current, 1e-9)

	closed := bus.NewEvent(bus.TopicTaskClosed, "")
	closed.Payload["task_id"] = "task-2"
	_, err = b.Publish(closed)
	require.NoError(t, err)
	assert.InDelta(t, 97, tracker.Snapshot().AP.Current, 1e-9)

	// AP is capped at max.
	for i := 0; i < 5; i++ {
		ok := bus.NewEvent(bus.TopicTaskClosed, "")
		ok.Payload["task_id"] = "task-x"
		_, err = b.Publish(ok)
		require.NoError(t, err)
	}
	assert.InDelta(t, 100, tracker.Snapshot().AP.Current, 1e-9)
}

func TestBudgetFloorsAtZero(t *testing.T) {
	b := bus.New()
	defer b.Shutdown()
	tracker := NewBudgetTracker(b, 100, 1000, 10)
	tracker.Subscribe()

	publishArtifact(t, b, "task-1", bus.CostDelta{TokensUsed: 5000, CashUsed: 50})

	hud := tracker.Snapshot()
	assert.Zero(t, hud.MP.Current)
	assert.Zero(t, hud.HP.Current)

	for i := 0; i < 5; i++ {
		failed := bus.NewEvent(bus.TopicTaskFailed, "")
		failed.Payload["task_id"] = "task-1"
		_, err := b.Publish(failed)
		require.NoError(t, err)
	}
	assert.Zero(t, tracker.Snapshot().AP.Current)
}

func TestBudgetPublishesHUDSync(t *testing.T) {
	b := bus.New()
	defer b.Shutdown()
	tracker := NewBudgetTracker(b, 1000, 100000, 100)
	tracker.Subscribe()
	sync := captureTopic(b, bus.TopicHUDSync)

	publishArtifact(t, b, "task-1", bus.CostDelta{TokensUsed: 100, CashUsed: 1})

	require.Len(t, *sync, 1)
	mp, ok := (*sync)[0].Payload["mp"].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 99900, mp["current"].(float64), 1e-9)
}

func TestBudgetDepleted(t *testing.T) {
	b := bus.New()
	defer b.Shutdown()
	tracker := NewBudgetTracker(b, 100, 1000, 10)
	tracker.Subscribe()

	assert.False(t, tracker.Depleted(0.1))

	// Drain HP below 10%.
	publishArtifact(t, b, "task-1", bus.CostDelta{CashUsed: 0.95})
	assert.True(t, tracker.Depleted(0.1))
	assert.False(t, tracker.Depleted(0.01))
}
