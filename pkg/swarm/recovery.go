// CorpCraft SwarmEngine - event-driven multi-agent task coordination
// License: MIT
//
// Copyright (c) 2026 CorpCraft contributors

package swarm

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/corpcraft/swarmengine/pkg/bus"
	"github.com/corpcraft/swarmengine/pkg/logger"
	"github.com/google/uuid"
)

// FailureCategory is the recovery taxonomy.
type FailureCategory string

const (
	FailureTransient FailureCategory = "TRANSIENT"
	FailureTooling   FailureCategory = "TOOLING"
	FailureModel     FailureCategory = "MODEL"
	FailurePolicy    FailureCategory = "POLICY"
	FailureMalice    FailureCategory = "MALICE"
)

// MaxRetries is the per-root retry budget, traced through retry_of so new
// event ids never reset the counter.
const MaxRetries = 2

const maxRetryDelay = 60 * time.Second

// ClassifyFailure buckets a failure by substring match over reason+error.
// "execution_failed" is always MODEL: the runtime ran and said no.
func ClassifyFailure(reason, errStr string) FailureCategory {
	s := strings.ToLower(reason + " " + errStr)
	switch {
	case strings.Contains(s, "execution_failed"):
		return FailureModel
	case containsAny(s, "inject", "malicious", "exploit", "attack", "jailbreak"):
		return FailureMalice
	case containsAny(s, "policy", "permission", "compliance", "forbidden", "unauthorized", "approval rejected"):
		return FailurePolicy
	case containsAny(s, "rate limit", "rate_limit", "quota", "plugin", "tool "):
		return FailureTooling
	case containsAny(s, "network", "timeout", "timed out", "socket", "connection", "econnreset", "unavailable"):
		return FailureTransient
	case containsAny(s, "context length", "context window", "model"):
		return FailureModel
	default:
		return FailureModel
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Recovery turns transient failures into delayed re-posts and routes
// everything else to the dead-letter queue.
type Recovery struct {
	b          *bus.Bus
	maxRetries int
	processed  *processedSet

	mu      sync.Mutex
	retries map[string]int
	timers  map[string]*time.Timer
	closed  bool
}

func NewRecovery(b *bus.Bus, maxRetries int) *Recovery {
	if maxRetries <= 0 {
		maxRetries = MaxRetries
	}
	return &Recovery{
		b:          b,
		maxRetries: maxRetries,
		processed:  newProcessedSet(),
		retries:    make(map[string]int),
		timers:     make(map[string]*time.Timer),
	}
}

func (r *Recovery) Subscribe() func() {
	return r.b.Subscribe(
		[]bus.Topic{bus.TopicSOSError, bus.TopicTaskFailed, bus.TopicTaskRetryScheduled},
		r.handle)
}

func (r *Recovery) handle(ev bus.Event) error {
	if !r.processed.markOnce(ev.ID) {
		return nil
	}

	switch ev.Topic {
	case bus.TopicTaskRetryScheduled:
		// Lease expiry is not an error: the bus already reset the task to
		// OPEN and the matcher re-claims it.
		logger.DebugCF("recovery", "retry scheduled", map[string]any{
			"task_id": ev.TaskID(), "reason": ev.PayloadString("reason"),
		})
		return nil
	case bus.TopicSOSError:
		return r.handleSOS(ev)
	default:
		return r.handleFailed(ev)
	}
}

func (r *Recovery) handleSOS(ev bus.Event) error {
	if ev.PayloadString("kind") == "APPROVAL_REMINDER" {
		return nil
	}
	reason := ev.PayloadString("reason")
	if ClassifyFailure(reason, ev.PayloadString("error")) == FailureMalice {
		r.b.DeadLetter(ev, "malice suspected: "+reason)
	}
	return nil
}

func (r *Recovery) handleFailed(ev bus.Event) error {
	reason := ev.PayloadString("reason")
	errStr := ev.PayloadString("error")
	category := ClassifyFailure(reason, errStr)

	task, err := r.b.Get(ev.TaskID())
	if err != nil {
		task = ev
	}
	root := r.rootOf(task)

	logger.InfoCF("recovery", "failure classified", map[string]any{
		"task_id": task.ID, "root": root.ID,
		"category": string(category), "reason": reason,
	})

	if category == FailureMalice {
		sos := bus.NewEvent(bus.TopicSOSError, "")
		sos.ParentEventID = task.ID
		sos.Payload = map[string]any{
			"kind":    "SECURITY",
			"task_id": task.ID,
			"reason":  reason,
		}
		r.b.Publish(sos)
		r.b.DeadLetter(task, "malice: "+reason)
		return nil
	}
	if category != FailureTransient {
		r.b.DeadLetter(task, string(category)+": "+reason)
		return nil
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	attempt := r.retries[root.ID]
	if attempt >= r.maxRetries {
		r.mu.Unlock()
		r.b.DeadLetter(task, "retries exhausted: "+reason)
		return nil
	}
	r.retries[root.ID] = attempt + 1
	delay := retryDelay(attempt)

	timerKey := uuid.New().String()
	timer := time.AfterFunc(delay, func() {
		r.mu.Lock()
		delete(r.timers, timerKey)
		closed := r.closed
		r.mu.Unlock()
		if closed {
			return
		}
		r.repost(root)
	})
	r.timers[timerKey] = timer
	r.mu.Unlock()

	logger.InfoCF("recovery", "retry scheduled", map[string]any{
		"root": root.ID, "attempt": attempt + 1, "delay_ms": delay.Milliseconds(),
	})
	return nil
}

// rootOf walks retry_of links back to the original task.
func (r *Recovery) rootOf(task bus.Event) bus.Event {
	cur := task
	for i := 0; i < 32; i++ {
		retryOf := cur.PayloadString("retry_of")
		if retryOf == "" {
			return cur
		}
		prev, err := r.b.Get(retryOf)
		if err != nil {
			return cur
		}
		cur = prev
	}
	return cur
}

// repost publishes a fresh TASK_POSTED carrying the original intent and
// envelope, linked to the root via retry_of.
func (r *Recovery) repost(root bus.Event) {
	retry := bus.NewEvent(bus.TopicTaskPosted, root.Intent)
	retry.ParentEventID = root.ParentEventID
	retry.RequiredTags = append([]string(nil), root.RequiredTags...)
	retry.RiskLevel = root.RiskLevel
	retry.Budget = root.Budget
	retry.Payload["retry_of"] = root.ID
	if _, err := r.b.Publish(retry); err != nil {
		logger.WarnC("recovery", "failed to repost task: "+err.Error())
	}
}

// retryDelay is exponential with ±20% jitter, capped at 60s. attempt is
// zero-based: the first retry waits about a second.
func retryDelay(attempt int) time.Duration {
	base := time.Second * time.Duration(1<<attempt)
	if base > maxRetryDelay {
		base = maxRetryDelay
	}
	jitter := 0.8 + rand.Float64()*0.4
	d := time.Duration(float64(base) * jitter)
	if d > maxRetryDelay {
		d = maxRetryDelay
	}
	return d
}

// RetryCount reports how many retries a root task has consumed.
func (r *Recovery) RetryCount(rootID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.retries[rootID]
}

// Shutdown cancels every pending retry timer.
func (r *Recovery) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for key, timer := range r.timers {
		timer.Stop()
		delete(r.timers, key)
	}
}
