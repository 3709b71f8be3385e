package autonomy

import (
	"fmt"
	"regexp"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/corpcraft/swarmengine/pkg/bus"
	"github.com/corpcraft/swarmengine/pkg/logger"
	"github.com/corpcraft/swarmengine/pkg/swarm"
)

// WatchRule spawns a task when a matching event crosses the bus.
type WatchRule struct {
	Name string `json:"name"`
	// Topics this rule listens on.
	Topics []bus.Topic `json:"topics"`
	// Filter is a conjunction over payload fields; empty matches all.
	Filter map[string]string `json:"filter,omitempty"`
	// IntentTemplate supports {{field}} placeholders filled from the
	// triggering event's payload.
	IntentTemplate string        `json:"intent_template"`
	RequiredTags   []string      `json:"required_tags,omitempty"`
	Risk           bus.RiskLevel `json:"risk,omitempty"`
	// Cooldown throttles firings; MaxConcurrent caps live spawned tasks.
	Cooldown      rate.Limit `json:"-"`
	MaxConcurrent int        `json:"max_concurrent"`
}

type watchState struct {
	rule    WatchRule
	limiter *rate.Limiter
	// live tracks spawned tasks that have not reached a terminal event.
	live map[string]bool
}

var placeholderRe = regexp.MustCompile(`\{\{(\w+)\}\}`)

// CooldownLimit converts a minimum gap between firings into a limiter
// rate.
func CooldownLimit(gap time.Duration) rate.Limit {
	if gap <= 0 {
		return rate.Inf
	}
	return rate.Every(gap)
}

// WatchReactor evaluates watch rules against bus traffic.
type WatchReactor struct {
	b      *bus.Bus
	router *swarm.IntentRouter

	mu    sync.Mutex
	rules map[string]*watchState
}

func NewWatchReactor(b *bus.Bus, router *swarm.IntentRouter) *WatchReactor {
	return &WatchReactor{
		b:      b,
		router: router,
		rules:  make(map[string]*watchState),
	}
}

// AddRule registers a rule. Cooldown of zero means one firing per
// minute; MaxConcurrent of zero means 3.
func (w *WatchReactor) AddRule(rule WatchRule) error {
	if rule.Name == "" {
		return fmt.Errorf("watch rule needs a name")
	}
	if len(rule.Topics) == 0 {
		return fmt.Errorf("watch rule %s needs at least one topic", rule.Name)
	}
	if rule.Cooldown == 0 {
		rule.Cooldown = rate.Limit(1.0 / 60.0)
	}
	if rule.MaxConcurrent <= 0 {
		rule.MaxConcurrent = 3
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rules[rule.Name] = &watchState{
		rule:    rule,
		limiter: rate.NewLimiter(rule.Cooldown, 1),
		live:    make(map[string]bool),
	}
	return nil
}

func (w *WatchReactor) RemoveRule(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.rules, name)
}

func (w *WatchReactor) Subscribe() func() {
	unsubAll := w.b.Subscribe(bus.AllTopics(), w.handle)
	return unsubAll
}

func (w *WatchReactor) handle(ev bus.Event) error {
	// Terminal events first: release concurrency slots held by tasks
	// this reactor spawned.
	if ev.Topic == bus.TopicTaskClosed || ev.Topic == bus.TopicTaskFailed {
		w.releaseSlot(ev.TaskID())
	}

	w.mu.Lock()
	states := make([]*watchState, 0, len(w.rules))
	for _, st := range w.rules {
		states = append(states, st)
	}
	w.mu.Unlock()

	for _, st := range states {
		w.evaluate(st, ev)
	}
	return nil
}

func (w *WatchReactor) evaluate(st *watchState, ev bus.Event) {
	matched := false
	for _, t := range st.rule.Topics {
		if t == ev.Topic {
			matched = true
			break
		}
	}
	if !matched {
		return
	}
	for field, want := range st.rule.Filter {
		if ev.PayloadString(field) != want {
			return
		}
	}

	w.mu.Lock()
	if len(st.live) >= st.rule.MaxConcurrent {
		w.mu.Unlock()
		logger.DebugCF("watch", "rule at max concurrency", map[string]any{
			"rule": st.rule.Name, "live": len(st.live),
		})
		return
	}
	if !st.limiter.Allow() {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	intent := expandTemplate(st.rule.IntentTemplate, ev)
	spawned, err := w.router.Route(intent, swarm.RouteOptions{
		RiskLevel: st.rule.Risk,
		ExtraTags: st.rule.RequiredTags,
	})
	if err != nil {
		logger.WarnCF("watch", "failed to spawn task", map[string]any{
			"rule": st.rule.Name, "error": err.Error(),
		})
		return
	}

	w.mu.Lock()
	st.live[spawned.ID] = true
	w.mu.Unlock()

	logger.InfoCF("watch", "rule fired", map[string]any{
		"rule": st.rule.Name, "trigger": ev.ID, "task_id": spawned.ID,
	})
}

func (w *WatchReactor) releaseSlot(taskID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, st := range w.rules {
		delete(st.live, taskID)
	}
}

// LiveCount reports how many spawned tasks a rule has in flight.
func (w *WatchReactor) LiveCount(ruleName string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	st, ok := w.rules[ruleName]
	if !ok {
		return 0
	}
	return len(st.live)
}

// expandTemplate substitutes {{field}} placeholders from the payload.
// Unknown fields expand to the empty string.
func expandTemplate(tmpl string, ev bus.Event) string {
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		field := placeholderRe.FindStringSubmatch(m)[1]
		if field == "intent" {
			return ev.Intent
		}
		if field == "event_id" {
			return ev.ID
		}
		return ev.PayloadString(field)
	})
}
