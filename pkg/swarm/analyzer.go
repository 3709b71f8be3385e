// CorpCraft SwarmEngine - event-driven multi-agent task coordination
// License: MIT
//
// Copyright (c) 2026 CorpCraft contributors

package swarm

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/corpcraft/swarmengine/pkg/bus"
	"github.com/corpcraft/swarmengine/pkg/logger"
)

var conjunctionPattern = regexp.MustCompile(`(?i)\band\b|\bthen\b|,|;|并且|然后|接着`)

// AnalyzeFunc is an optional model-backed analysis hook. On error the
// analyzer falls back to the heuristic path.
type AnalyzeFunc func(intent string, tags []string) (AnalysisResult, error)

// TaskAnalyzer grades root tasks and publishes TASK_ANALYZED.
type TaskAnalyzer struct {
	b         *bus.Bus
	llm       AnalyzeFunc
	processed *processedSet
}

func NewTaskAnalyzer(b *bus.Bus, llm AnalyzeFunc) *TaskAnalyzer {
	return &TaskAnalyzer{b: b, llm: llm, processed: newProcessedSet()}
}

func (t *TaskAnalyzer) Subscribe() func() {
	return t.b.Subscribe([]bus.Topic{bus.TopicTaskPosted}, t.handle)
}

func (t *TaskAnalyzer) handle(ev bus.Event) error {
	// Sub-tasks and retries have already been analyzed under their root.
	if ev.ParentEventID != "" || ev.PayloadString("retry_of") != "" {
		return nil
	}
	if !t.processed.markOnce(ev.ID) {
		return nil
	}

	result := t.analyze(ev)

	analyzed := bus.NewEvent(bus.TopicTaskAnalyzed, "")
	analyzed.ParentEventID = ev.ID
	analyzed.Payload = map[string]any{
		"task_id":                 ev.ID,
		"complexity":              string(result.Complexity),
		"suggested_decomposition": result.SuggestedDecomposition,
		"suggested_agents":        result.SuggestedAgents,
		"estimated_tokens":        result.EstimatedTokens,
		"reasoning":               result.Reasoning,
	}
	if _, err := t.b.Publish(analyzed); err != nil {
		return fmt.Errorf("failed to publish analysis: %w", err)
	}

	logger.DebugCF("analyzer", "task analyzed", map[string]any{
		"task_id": ev.ID, "complexity": string(result.Complexity),
	})
	return nil
}

func (t *TaskAnalyzer) analyze(ev bus.Event) AnalysisResult {
	if t.llm != nil {
		if result, err := t.llm(ev.Intent, ev.RequiredTags); err == nil {
			return result
		} else {
			logger.WarnC("analyzer", "model analysis failed, using heuristic: "+err.Error())
		}
	}
	return heuristicAnalysis(ev)
}

// heuristicAnalysis grades complexity from tag spread and conjunction
// density, without a model call.
func heuristicAnalysis(ev bus.Event) AnalysisResult {
	tags := ev.RequiredTags
	conjunctions := len(conjunctionPattern.FindAllString(ev.Intent, -1))

	var complexity Complexity
	switch {
	case len(tags) >= 3 || (len(tags) >= 2 && conjunctions >= 2):
		complexity = ComplexityComplex
	case len(tags) == 2 || conjunctions >= 1:
		complexity = ComplexityCompound
	default:
		complexity = ComplexitySimple
	}

	estimated := 400 + len(ev.Intent)*2 + len(tags)*600

	return AnalysisResult{
		Complexity:             complexity,
		SuggestedDecomposition: append([]string(nil), tags...),
		SuggestedAgents:        suggestedAgentsFor(tags),
		EstimatedTokens:        estimated,
		Reasoning: fmt.Sprintf("heuristic: %d tag(s) [%s], %d conjunction(s)",
			len(tags), strings.Join(tags, ","), conjunctions),
	}
}

func suggestedAgentsFor(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		out = append(out, tag+"-specialist")
	}
	return out
}
