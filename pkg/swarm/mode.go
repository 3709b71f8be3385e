// CorpCraft SwarmEngine - event-driven multi-agent task coordination
// License: MIT
//
// Copyright (c) 2026 CorpCraft contributors

package swarm

import (
	"fmt"
	"sync"

	"github.com/corpcraft/swarmengine/pkg/logger"
	"github.com/corpcraft/swarmengine/pkg/runtime"
)

// ModeState holds the process-wide execution mode with a runtime setter.
// The decomposer, executor, and summoner consult it on every event.
type ModeState struct {
	mu   sync.RWMutex
	mode runtime.Mode
}

func NewModeState(initial runtime.Mode) *ModeState {
	if !runtime.ValidMode(string(initial)) {
		initial = runtime.ModeMock
	}
	return &ModeState{mode: initial}
}

func (m *ModeState) Get() runtime.Mode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mode
}

func (m *ModeState) Set(mode runtime.Mode) error {
	if !runtime.ValidMode(string(mode)) {
		return fmt.Errorf("unknown execution mode %q", mode)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mode != mode {
		logger.InfoCF("engine", "execution mode changed", map[string]any{
			"from": string(m.mode), "to": string(mode),
		})
	}
	m.mode = mode
	return nil
}
