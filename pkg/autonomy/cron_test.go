package autonomy

import (
	"testing"
	"time"

	"github.com/corpcraft/swarmengine/pkg/bus"
	"github.com/corpcraft/swarmengine/pkg/swarm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCronFixture(t *testing.T) (*bus.Bus, *CronScheduler) {
	t.Helper()
	b := bus.New()
	t.Cleanup(b.Shutdown)
	return b, NewCronScheduler(swarm.NewIntentRouter(b))
}

func TestAddJobValidatesExpression(t *testing.T) {
	_, s := newCronFixture(t)

	require.NoError(t, s.AddJob(CronJob{Name: "nightly", Expr: "0 2 * * *", Intent: "run the nightly report"}))
	assert.Len(t, s.Jobs(), 1)

	assert.Error(t, s.AddJob(CronJob{Name: "bad", Expr: "not a cron"}))
	assert.Error(t, s.AddJob(CronJob{Expr: "* * * * *"}), "nameless jobs are rejected")

	s.RemoveJob("nightly")
	assert.Empty(t, s.Jobs())
}

func TestTickFiresDueJobs(t *testing.T) {
	b, s := newCronFixture(t)
	require.NoError(t, s.AddJob(CronJob{
		Name:         "every-minute",
		Expr:         "* * * * *",
		Intent:       "sweep the inbox",
		RequiredTags: []string{"ops"},
		Risk:         bus.RiskLow,
	}))
	require.NoError(t, s.AddJob(CronJob{
		Name:   "two-am",
		Expr:   "0 2 * * *",
		Intent: "run the nightly report",
	}))

	noon := time.Date(2026, 8, 25, 12, 30, 0, 0, time.UTC)
	s.Tick(noon)

	posted := b.Query(bus.Filter{Topic: bus.TopicTaskPosted})
	require.Len(t, posted, 1, "only the every-minute job is due at noon")
	assert.Equal(t, "sweep the inbox", posted[0].Intent)
	assert.Contains(t, posted[0].RequiredTags, "ops")
}

func TestShortFormExpressionFiresOnWeekday(t *testing.T) {
	b, s := newCronFixture(t)
	require.NoError(t, s.AddJob(CronJob{
		Name:   "monday-standup",
		Expr:   "30 9 1",
		Intent: "prepare the standup notes",
	}))

	monday := time.Date(2026, 8, 24, 9, 30, 0, 0, time.UTC)
	s.Tick(monday)
	require.Len(t, b.Query(bus.Filter{Topic: bus.TopicTaskPosted}), 1)

	tuesday := monday.Add(24 * time.Hour)
	s.Tick(tuesday)
	assert.Len(t, b.Query(bus.Filter{Topic: bus.TopicTaskPosted}), 1,
		"short form pins the day of week, not the day of month")

	wrongTime := monday.Add(time.Hour)
	s.Tick(wrongTime)
	assert.Len(t, b.Query(bus.Filter{Topic: bus.TopicTaskPosted}), 1)
}

func TestTickDuplicateMinuteCollapses(t *testing.T) {
	b, s := newCronFixture(t)
	require.NoError(t, s.AddJob(CronJob{
		Name:   "every-minute",
		Expr:   "* * * * *",
		Intent: "sweep the inbox",
	}))

	at := time.Date(2026, 8, 25, 12, 30, 0, 0, time.UTC)
	s.Tick(at)
	s.Tick(at.Add(10 * time.Second))

	posted := b.Query(bus.Filter{Topic: bus.TopicTaskPosted})
	assert.Len(t, posted, 1, "duplicate ticks inside one minute dedupe on the bus")

	// The next minute is a fresh key.
	s.Tick(at.Add(time.Minute))
	posted = b.Query(bus.Filter{Topic: bus.TopicTaskPosted})
	assert.Len(t, posted, 2)
}

func TestStartStop(t *testing.T) {
	_, s := newCronFixture(t)
	s.Start()
	s.Stop()
	s.Stop()
}
