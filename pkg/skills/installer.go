package skills

import (
	"fmt"
	"sync"

	"github.com/corpcraft/swarmengine/pkg/bus"
	"github.com/corpcraft/swarmengine/pkg/logger"
)

// Installer admits gated skills into the active catalog and announces
// them on the bus.
type Installer struct {
	b      *bus.Bus
	loader *Loader
	gate   *Gate

	mu        sync.RWMutex
	installed map[string]Skill
	pending   map[string]Skill
}

func NewInstaller(b *bus.Bus, loader *Loader, gate *Gate) *Installer {
	return &Installer{
		b:         b,
		loader:    loader,
		gate:      gate,
		installed: make(map[string]Skill),
		pending:   make(map[string]Skill),
	}
}

// Install gates one skill by id. Quarantined skills return an error;
// skills needing approval are parked until Approve.
func (i *Installer) Install(id string) (Verdict, error) {
	skill, ok := i.loader.Load(id)
	if !ok {
		return Verdict{}, fmt.Errorf("skill %s: %w", id, bus.ErrNotFound)
	}

	verdict := i.gate.Evaluate(skill)
	if verdict.Quarantined {
		return verdict, fmt.Errorf("skill %s quarantined: %s", id, verdict.Reason)
	}
	if verdict.RequiresApproval {
		i.mu.Lock()
		i.pending[skill.ID] = skill
		i.mu.Unlock()
		logger.InfoCF("skills", "skill held for approval", map[string]any{
			"skill": skill.ID, "reason": verdict.Reason,
		})
		return verdict, nil
	}

	i.admit(skill)
	return verdict, nil
}

// InstallAll gates every skill in the directory. Errors are per-skill
// and do not stop the sweep.
func (i *Installer) InstallAll() []Verdict {
	skills := i.loader.List()
	out := make([]Verdict, 0, len(skills))
	for _, s := range skills {
		v, _ := i.Install(s.ID)
		out = append(out, v)
	}
	return out
}

// Approve admits a skill that was held for approval.
func (i *Installer) Approve(id string) error {
	i.mu.Lock()
	skill, ok := i.pending[id]
	if ok {
		delete(i.pending, id)
	}
	i.mu.Unlock()
	if !ok {
		return fmt.Errorf("skill %s not pending approval: %w", id, bus.ErrNotFound)
	}
	i.admit(skill)
	return nil
}

func (i *Installer) admit(skill Skill) {
	i.mu.Lock()
	i.installed[skill.ID] = skill
	i.mu.Unlock()

	ev := bus.NewEvent(bus.TopicAssetUpdated, "")
	ev.Payload = map[string]any{
		"asset_type":  "skill",
		"skill_id":    skill.ID,
		"version":     skill.Manifest.Version,
		"trust":       string(skill.Manifest.Trust),
		"permissions": skill.Manifest.Permissions,
	}
	i.b.Publish(ev)

	logger.InfoCF("skills", "skill installed", map[string]any{
		"skill": skill.ID, "trust": string(skill.Manifest.Trust),
	})
}

// Installed returns the active skill, if admitted.
func (i *Installer) Installed(id string) (Skill, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	s, ok := i.installed[id]
	return s, ok
}

// PendingApproval lists skills waiting on a human.
func (i *Installer) PendingApproval() []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]string, 0, len(i.pending))
	for id := range i.pending {
		out = append(out, id)
	}
	return out
}
