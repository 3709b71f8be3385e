// CorpCraft SwarmEngine - event-driven multi-agent task coordination
// License: MIT
//
// Copyright (c) 2026 CorpCraft contributors

// Package runtime defines the AgentRuntime capability the executor
// supervises. The real LLM adapter lives outside this module and is
// plugged in through the registry; mock and team runtimes ship here.
package runtime

import (
	"context"
	"sync"

	"github.com/corpcraft/swarmengine/pkg/bus"
)

// Mode is the process-wide execution mode.
type Mode string

const (
	ModeMock   Mode = "mock"
	ModeClaude Mode = "claude"
	ModeTeam   Mode = "team"
)

// ValidMode reports whether s names a known execution mode.
func ValidMode(s string) bool {
	switch Mode(s) {
	case ModeMock, ModeClaude, ModeTeam:
		return true
	}
	return false
}

// Profile describes the agent a runtime invocation acts as.
type Profile struct {
	AgentID   string
	AgentName string
	RoleTags  []string
	WorkDir   string
}

// Progress is one streamed execution update.
type Progress struct {
	Progress float64
	Message  string
}

// Result is the final outcome of a runtime invocation.
type Result struct {
	Success       bool
	Output        string
	FailureReason string
	Cost          bus.CostDelta
	Evidence      []string
}

// AgentRuntime executes an intent as an agent, streaming progress through
// the callback. Cancellation is cooperative via ctx; implementations must
// return promptly once ctx is done.
type AgentRuntime interface {
	Execute(ctx context.Context, intent string, profile Profile, progress func(Progress)) (Result, error)
}

// Registry maps execution modes to runtimes. Claude mode has no built-in
// implementation; until the host process registers one, it falls back to
// the mock runtime so the pipeline stays exercisable.
type Registry struct {
	mu       sync.RWMutex
	runtimes map[Mode]AgentRuntime
}

func NewRegistry() *Registry {
	r := &Registry{runtimes: make(map[Mode]AgentRuntime)}
	mock := NewMockRuntime()
	r.runtimes[ModeMock] = mock
	r.runtimes[ModeTeam] = NewTeamRuntime(mock)
	return r
}

// Set registers a runtime for a mode, replacing any previous one.
func (r *Registry) Set(mode Mode, rt AgentRuntime) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runtimes[mode] = rt
}

// For returns the runtime for a mode, falling back to mock.
func (r *Registry) For(mode Mode) AgentRuntime {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rt, ok := r.runtimes[mode]; ok {
		return rt
	}
	return r.runtimes[ModeMock]
}
