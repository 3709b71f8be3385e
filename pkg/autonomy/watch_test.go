package autonomy

import (
	"fmt"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/corpcraft/swarmengine/pkg/bus"
	"github.com/corpcraft/swarmengine/pkg/swarm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWatchFixture(t *testing.T) (*bus.Bus, *WatchReactor) {
	t.Helper()
	b := bus.New()
	t.Cleanup(b.Shutdown)
	w := NewWatchReactor(b, swarm.NewIntentRouter(b))
	w.Subscribe()
	return b, w
}

func TestAddRuleValidation(t *testing.T) {
	_, w := newWatchFixture(t)
	assert.Error(t, w.AddRule(WatchRule{Topics: []bus.Topic{bus.TopicSOSError}}))
	assert.Error(t, w.AddRule(WatchRule{Name: "no-topics"}))
	assert.NoError(t, w.AddRule(WatchRule{
		Name:           "ok",
		Topics:         []bus.Topic{bus.TopicSOSError},
		IntentTemplate: "investigate",
	}))
}

func TestWatchFiresOnMatchingEvent(t *testing.T) {
	b, w := newWatchFixture(t)
	require.NoError(t, w.AddRule(WatchRule{
		Name:           "security-triage",
		Topics:         []bus.Topic{bus.TopicSOSError},
		Filter:         map[string]string{"kind": "SECURITY"},
		IntentTemplate: "triage security alert from {{task_id}}",
		RequiredTags:   []string{"ops"},
		Risk:           bus.RiskHigh,
		Cooldown:       rate.Inf,
	}))

	benign := bus.NewEvent(bus.TopicSOSError, "")
	benign.Payload["kind"] = "APPROVAL_REMINDER"
	_, err := b.Publish(benign)
	require.NoError(t, err)
	assert.Zero(t, w.LiveCount("security-triage"), "filter mismatch must not fire")

	alert := bus.NewEvent(bus.TopicSOSError, "")
	alert.Payload["kind"] = "SECURITY"
	alert.Payload["task_id"] = "task-99"
	_, err = b.Publish(alert)
	require.NoError(t, err)

	assert.Equal(t, 1, w.LiveCount("security-triage"))
	posted := b.Query(bus.Filter{Topic: bus.TopicTaskPosted})
	require.Len(t, posted, 1)
	assert.Equal(t, "triage security alert from task-99", posted[0].Intent)
	assert.Contains(t, posted[0].RequiredTags, "ops")
	assert.Equal(t, bus.RiskHigh, posted[0].RiskLevel)
}

func TestWatchCooldownThrottles(t *testing.T) {
	b, w := newWatchFixture(t)
	require.NoError(t, w.AddRule(WatchRule{
		Name:           "slow",
		Topics:         []bus.Topic{bus.TopicSOSError},
		IntentTemplate: "look into incident {{event_id}}",
		Cooldown:       CooldownLimit(0), // rate.Inf: unlimited
		MaxConcurrent:  10,
	}))
	require.NoError(t, w.AddRule(WatchRule{
		Name:           "throttled",
		Topics:         []bus.Topic{bus.TopicIntelReady},
		IntentTemplate: "digest intel {{event_id}}",
		// One token, then a one-hour refill.
		Cooldown:      CooldownLimit(time.Hour),
		MaxConcurrent: 10,
	}))

	for i := 0; i < 3; i++ {
		intel := bus.NewEvent(bus.TopicIntelReady, "")
		intel.Payload["n"] = i
		_, err := b.Publish(intel)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, w.LiveCount("throttled"), "cooldown allows a single burst")
}

func TestWatchMaxConcurrentCapsAndReleases(t *testing.T) {
	b, w := newWatchFixture(t)
	require.NoError(t, w.AddRule(WatchRule{
		Name:           "capped",
		Topics:         []bus.Topic{bus.TopicSOSError},
		IntentTemplate: "handle alarm {{event_id}}",
		Cooldown:       rate.Inf,
		MaxConcurrent:  2,
	}))

	for i := 0; i < 4; i++ {
		alarm := bus.NewEvent(bus.TopicSOSError, "")
		alarm.Payload["n"] = fmt.Sprintf("%d", i)
		_, err := b.Publish(alarm)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, w.LiveCount("capped"))

	// Closing a spawned task frees its slot.
	spawned := b.Query(bus.Filter{Topic: bus.TopicTaskPosted})
	require.NotEmpty(t, spawned)
	closed := bus.NewEvent(bus.TopicTaskClosed, "")
	closed.Payload["task_id"] = spawned[0].ID
	_, err := b.Publish(closed)
	require.NoError(t, err)

	assert.Equal(t, 1, w.LiveCount("capped"))
}

func TestExpandTemplate(t *testing.T) {
	ev := bus.NewEvent(bus.TopicTaskFailed, "original intent")
	ev.Payload["task_id"] = "task-7"
	ev.Payload["reason"] = "network timeout"

	got := expandTemplate("retry {{task_id}} after {{reason}}; was {{intent}} ({{unknown}})", ev)
	assert.Equal(t, "retry task-7 after network timeout; was original intent ()", got)
}
