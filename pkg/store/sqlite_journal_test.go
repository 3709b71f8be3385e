package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/corpcraft/swarmengine/pkg/bus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJournal(t *testing.T) *SQLiteJournal {
	t.Helper()
	j, err := NewSQLiteJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournalAppendAndRange(t *testing.T) {
	j := newJournal(t)
	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		ev := bus.NewEvent(bus.TopicTaskPosted, "task")
		ev.ID = string(rune('a' + i))
		ev.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, j.Append(ev))
	}

	var got []bus.Event
	err := j.Range(base.Add(time.Minute), base.Add(4*time.Minute), func(ev bus.Event) bool {
		got = append(got, ev)
		return true
	})
	require.NoError(t, err)
	require.Len(t, got, 3, "range is [from, to)")
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "d", got[2].ID)
}

func TestJournalRangeOrderAndEarlyStop(t *testing.T) {
	j := newJournal(t)
	base := time.Now().UTC().Truncate(time.Hour)

	// Appended out of wall-clock order; range returns append order.
	for _, id := range []string{"third", "first", "second"} {
		ev := bus.NewEvent(bus.TopicTaskProgress, "")
		ev.ID = id
		ev.CreatedAt = base
		require.NoError(t, j.Append(ev))
	}

	var seen []string
	err := j.Range(base.Add(-time.Minute), base.Add(time.Minute), func(ev bus.Event) bool {
		seen = append(seen, ev.ID)
		return len(seen) < 2
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"third", "first"}, seen)
}

func TestJournalPreservesEventBody(t *testing.T) {
	j := newJournal(t)

	ev := bus.NewEvent(bus.TopicTaskPosted, "clean the data")
	ev.RequiredTags = []string{"data"}
	ev.RiskLevel = bus.RiskHigh
	ev.Payload["retry_of"] = "older-task"
	require.NoError(t, j.Append(ev))

	var got bus.Event
	err := j.Range(ev.CreatedAt.Add(-time.Second), ev.CreatedAt.Add(time.Second), func(e bus.Event) bool {
		got = e
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, "clean the data", got.Intent)
	assert.Equal(t, []string{"data"}, got.RequiredTags)
	assert.Equal(t, bus.RiskHigh, got.RiskLevel)
	assert.Equal(t, "older-task", got.Payload["retry_of"])
}
