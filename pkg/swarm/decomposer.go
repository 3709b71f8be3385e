// CorpCraft SwarmEngine - event-driven multi-agent task coordination
// License: MIT
//
// Copyright (c) 2026 CorpCraft contributors

package swarm

import (
	"fmt"

	"github.com/corpcraft/swarmengine/pkg/bus"
	"github.com/corpcraft/swarmengine/pkg/logger"
	"github.com/corpcraft/swarmengine/pkg/runtime"
	"github.com/google/uuid"
)

// Decomposer splits multi-category root tasks into per-category sub-tasks
// when the engine runs in team mode.
type Decomposer struct {
	b         *bus.Bus
	mode      *ModeState
	processed *processedSet
}

func NewDecomposer(b *bus.Bus, mode *ModeState) *Decomposer {
	return &Decomposer{b: b, mode: mode, processed: newProcessedSet()}
}

func (d *Decomposer) Subscribe() func() {
	return d.b.Subscribe([]bus.Topic{bus.TopicTaskPosted}, d.handle)
}

func (d *Decomposer) handle(ev bus.Event) error {
	if ev.ParentEventID != "" || ev.PayloadString("retry_of") != "" {
		return nil
	}
	if d.mode.Get() != runtime.ModeTeam {
		return nil
	}
	if !d.processed.markOnce(ev.ID) {
		return nil
	}

	categories := ev.RequiredTags
	if len(categories) < 2 {
		return nil
	}

	// The root must leave OPEN before anything else runs in this handler:
	// the matcher subscribes to the same topic and must never see a
	// decomposed root as claimable.
	if err := d.b.MarkResolving(ev.ID); err != nil {
		return fmt.Errorf("failed to mark root resolving: %w", err)
	}

	childIDs := make([]string, len(categories))
	for i := range categories {
		childIDs[i] = uuid.New().String()
	}

	decomposed := bus.NewEvent(bus.TopicTaskDecomposed, "")
	decomposed.ParentEventID = ev.ID
	decomposed.Payload = bus.DecompositionPayload{
		TaskID:     ev.ID,
		Categories: append([]string(nil), categories...),
		ChildIDs:   childIDs,
	}.ToMap()
	if _, err := d.b.Publish(decomposed); err != nil {
		return fmt.Errorf("failed to publish decomposition: %w", err)
	}

	for i, category := range categories {
		child := bus.NewEvent(bus.TopicTaskPosted,
			fmt.Sprintf("[%s] %s", category, ev.Intent))
		child.ID = childIDs[i]
		child.ParentEventID = ev.ID
		child.RequiredTags = []string{category}
		child.RiskLevel = ev.RiskLevel
		child.Budget = ev.Budget
		if _, err := d.b.Publish(child); err != nil {
			return fmt.Errorf("failed to publish sub-task %s: %w", category, err)
		}
	}

	logger.InfoCF("decomposer", "task decomposed", map[string]any{
		"task_id": ev.ID, "categories": categories,
	})
	return nil
}
