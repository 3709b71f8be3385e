// CorpCraft SwarmEngine - event-driven multi-agent task coordination
// License: MIT
//
// Copyright (c) 2026 CorpCraft contributors

package runtime

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/corpcraft/swarmengine/pkg/bus"
)

// MockRuntime produces deterministic scripted executions. Tests and mock
// mode use it; failure injection hooks let scenarios exercise the
// recovery taxonomy without a live model.
type MockRuntime struct {
	// Steps is the number of progress updates per execution.
	Steps int
	// StepDelay paces the progress stream.
	StepDelay time.Duration
	// FailureFor, when set, returns a failure reason for an intent; an
	// empty string means the execution succeeds.
	FailureFor func(intent string) string
}

func NewMockRuntime() *MockRuntime {
	return &MockRuntime{Steps: 3, StepDelay: 5 * time.Millisecond}
}

func (m *MockRuntime) Execute(ctx context.Context, intent string, profile Profile, progress func(Progress)) (Result, error) {
	steps := m.Steps
	if steps <= 0 {
		steps = 1
	}

	started := time.Now()
	for i := 1; i <= steps; i++ {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(m.StepDelay):
		}
		if progress != nil {
			progress(Progress{
				Progress: float64(i) / float64(steps),
				Message:  fmt.Sprintf("step %d/%d", i, steps),
			})
		}
	}

	cost := bus.CostDelta{
		TokensUsed:  50 + len(intent),
		MinutesUsed: time.Since(started).Minutes(),
		CashUsed:    0.01,
	}

	if m.FailureFor != nil {
		if reason := m.FailureFor(intent); reason != "" {
			return Result{
				Success:       false,
				FailureReason: reason,
				Cost:          cost,
			}, nil
		}
	}

	return Result{
		Success:  true,
		Output:   fmt.Sprintf("[%s] completed: %s", profile.AgentName, summarize(intent)),
		Cost:     cost,
		Evidence: []string{"mock-execution-trace"},
	}, nil
}

func summarize(intent string) string {
	const max = 80
	intent = strings.TrimSpace(intent)
	if len(intent) <= max {
		return intent
	}
	return intent[:max] + "..."
}

// TeamRuntime runs each invocation through a per-category runtime,
// defaulting to the base runtime. In team mode the decomposer has already
// split the work, so an invocation covers exactly one tag category.
type TeamRuntime struct {
	base       AgentRuntime
	categories map[string]AgentRuntime
}

func NewTeamRuntime(base AgentRuntime) *TeamRuntime {
	return &TeamRuntime{base: base, categories: make(map[string]AgentRuntime)}
}

// SetCategory routes intents whose profile carries the tag to rt.
func (t *TeamRuntime) SetCategory(tag string, rt AgentRuntime) {
	t.categories[tag] = rt
}

func (t *TeamRuntime) Execute(ctx context.Context, intent string, profile Profile, progress func(Progress)) (Result, error) {
	for _, tag := range profile.RoleTags {
		if rt, ok := t.categories[tag]; ok {
			return rt.Execute(ctx, intent, profile, progress)
		}
	}
	return t.base.Execute(ctx, intent, profile, progress)
}
