// CorpCraft SwarmEngine - event-driven multi-agent task coordination
// License: MIT
//
// Copyright (c) 2026 CorpCraft contributors

package swarm

import (
	"sync"

	"github.com/corpcraft/swarmengine/pkg/bus"
	"github.com/corpcraft/swarmengine/pkg/logger"
)

// cashUnitScale converts cash to HP points. Kept for display
// compatibility.
const cashUnitScale = 100

// Stat is one HUD bar.
type Stat struct {
	Current float64 `json:"current"`
	Max     float64 `json:"max"`
	Rate    float64 `json:"rate"`
}

// HUD is the three-resource scoreboard: HP (cash), MP (tokens), AP
// (morale).
type HUD struct {
	HP Stat `json:"hp"`
	MP Stat `json:"mp"`
	AP Stat `json:"ap"`
}

// BudgetTracker applies task costs to the HUD and broadcasts HUD_SYNC.
type BudgetTracker struct {
	b         *bus.Bus
	processed *processedSet

	mu  sync.Mutex
	hud HUD
}

func NewBudgetTracker(b *bus.Bus, maxHP, maxMP, maxAP float64) *BudgetTracker {
	return &BudgetTracker{
		b:         b,
		processed: newProcessedSet(),
		hud: HUD{
			HP: Stat{Current: maxHP, Max: maxHP},
			MP: Stat{Current: maxMP, Max: maxMP},
			AP: Stat{Current: maxAP, Max: maxAP},
		},
	}
}

func (t *BudgetTracker) Subscribe() func() {
	return t.b.Subscribe(
		[]bus.Topic{bus.TopicArtifactReady, bus.TopicTaskClosed, bus.TopicTaskFailed},
		t.handle)
}

func (t *BudgetTracker) handle(ev bus.Event) error {
	if !t.processed.markOnce(ev.ID) {
		return nil
	}

	t.mu.Lock()
	changed := false

	// Costs are charged from ARTIFACT_READY only; terminal events repeat
	// the delta (and parents aggregate it) so charging there would double
	// count.
	if ev.Topic == bus.TopicArtifactReady && ev.CostDelta != nil {
		t.hud.MP.Current = floorZero(t.hud.MP.Current - float64(ev.CostDelta.TokensUsed))
		t.hud.HP.Current = floorZero(t.hud.HP.Current - ev.CostDelta.CashUsed*cashUnitScale)
		changed = true
	}

	switch ev.Topic {
	case bus.TopicTaskClosed:
		t.hud.AP.Current = min(t.hud.AP.Max, t.hud.AP.Current+2)
		changed = true
	case bus.TopicTaskFailed:
		t.hud.AP.Current = floorZero(t.hud.AP.Current - 5)
		changed = true
	}

	snapshot := t.hud
	t.mu.Unlock()

	if !changed {
		return nil
	}

	sync := bus.NewEvent(bus.TopicHUDSync, "")
	sync.Payload = map[string]any{
		"hp": map[string]any{"current": snapshot.HP.Current, "max": snapshot.HP.Max, "rate": snapshot.HP.Rate},
		"mp": map[string]any{"current": snapshot.MP.Current, "max": snapshot.MP.Max, "rate": snapshot.MP.Rate},
		"ap": map[string]any{"current": snapshot.AP.Current, "max": snapshot.AP.Max, "rate": snapshot.AP.Rate},
	}
	if _, err := t.b.Publish(sync); err != nil {
		logger.WarnC("budget", "failed to publish HUD_SYNC: "+err.Error())
	}
	return nil
}

// Snapshot returns the current HUD.
func (t *BudgetTracker) Snapshot() HUD {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hud
}

// Depleted reports whether either spendable bar is under the fraction.
func (t *BudgetTracker) Depleted(fraction float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hud.HP.Current < t.hud.HP.Max*fraction ||
		t.hud.MP.Current < t.hud.MP.Max*fraction
}

func floorZero(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
