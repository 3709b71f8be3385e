// CorpCraft SwarmEngine - event-driven multi-agent task coordination
// License: MIT
//
// Copyright (c) 2026 CorpCraft contributors

// Package bus implements the append-only blackboard at the heart of the
// engine: topic pub/sub, claim-lease concurrency control, idempotent
// publication, a dead-letter queue, replay, and health metrics.
package bus

import (
	"fmt"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/corpcraft/swarmengine/pkg/logger"
	"github.com/google/uuid"
)

const (
	// DefaultLease is the claim lease for LOW and MEDIUM risk events.
	DefaultLease = 30 * time.Second
	// HighRiskLease is the claim lease for HIGH risk events.
	HighRiskLease = 120 * time.Second
	// IdempotencyTTL is how long a seen idempotency key absorbs re-publication.
	IdempotencyTTL = 5 * time.Minute

	// retryStormThreshold is the per-minute retry count that flips the
	// storm flag in the metrics snapshot.
	retryStormThreshold = 10
)

type subscription struct {
	id      int
	handler Handler
}

// Bus is the single writer of the blackboard. All facts enter through
// Publish; claims and releases are the only in-place mutations.
type Bus struct {
	mu      sync.RWMutex
	events  map[string]*Event
	order   []string
	subs    map[Topic][]*subscription
	nextSub int
	closed  bool

	claims  *claimManager
	dlq     *deadLetterQueue
	idem    *idempotencyStore
	journal Journal

	onRelease []func(eventID, agentID string)

	defaultLease  time.Duration
	highRiskLease time.Duration

	publishTimes []time.Time
	retryTimes   []time.Time
	tokensTotal  int
	cashTotal    float64
}

// Option configures a Bus.
type Option func(*Bus)

// WithJournal replaces the in-memory journal, e.g. with the SQLite one.
func WithJournal(j Journal) Option {
	return func(b *Bus) { b.journal = j }
}

// WithLeases overrides the default and high-risk lease durations.
func WithLeases(def, highRisk time.Duration) Option {
	return func(b *Bus) {
		if def > 0 {
			b.defaultLease = def
		}
		if highRisk > 0 {
			b.highRiskLease = highRisk
		}
	}
}

// New returns a started bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		events:        make(map[string]*Event),
		subs:          make(map[Topic][]*subscription),
		dlq:           newDeadLetterQueue(dlqCapacity),
		idem:          newIdempotencyStore(IdempotencyTTL),
		journal:       newMemoryJournal(),
		defaultLease:  DefaultLease,
		highRiskLease: HighRiskLease,
	}
	b.claims = newClaimManager(b.onLeaseExpired)
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish appends an event to the blackboard and synchronously delivers it
// to every subscriber of its topic. When the event carries an idempotency
// key already seen within the TTL, the previously stored event is returned
// and nothing is re-published.
func (b *Bus) Publish(ev Event) (Event, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return Event{}, ErrClosed
	}

	if ev.IdempotencyKey != "" {
		if existingID, ok := b.idem.seen(ev.IdempotencyKey); ok {
			if existing, ok := b.events[existingID]; ok {
				snap := existing.clone()
				b.mu.Unlock()
				return snap, nil
			}
		}
	}

	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Status == "" {
		ev.Status = StatusOpen
	}
	now := time.Now()
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = now
	}
	ev.UpdatedAt = now

	stored := ev.clone()
	b.events[stored.ID] = &stored
	b.order = append(b.order, stored.ID)
	if ev.IdempotencyKey != "" {
		b.idem.record(ev.IdempotencyKey, stored.ID)
	}

	b.publishTimes = append(b.publishTimes, now)
	if ev.CostDelta != nil {
		b.tokensTotal += ev.CostDelta.TokensUsed
		b.cashTotal += ev.CostDelta.CashUsed
	}
	if ev.Topic == TopicTaskRetryScheduled {
		b.retryTimes = append(b.retryTimes, now)
	}

	// Terminal topics close out the task they refer to before any
	// subscriber observes them.
	if ev.Topic == TopicTaskClosed || ev.Topic == TopicTaskFailed {
		b.resolveTerminalLocked(ev)
	}

	if err := b.journal.Append(stored.clone()); err != nil {
		logger.WarnCF("bus", "journal append failed", map[string]any{
			"event_id": stored.ID, "error": err.Error(),
		})
	}

	snap := stored.clone()
	b.mu.Unlock()

	b.deliver(snap)
	return snap, nil
}

// resolveTerminalLocked marks the task referenced by a terminal event as
// CLOSED or FAILED. The first terminal transition wins; later ones are
// ignored so terminal statuses stay absorbing.
func (b *Bus) resolveTerminalLocked(ev Event) {
	task, ok := b.events[ev.TaskID()]
	if !ok || task.Status.Terminal() {
		return
	}
	if ev.Topic == TopicTaskClosed {
		task.Status = StatusClosed
	} else {
		task.Status = StatusFailed
	}
	task.ClaimedBy = ""
	task.UpdatedAt = time.Now()
	if ev.CostDelta != nil && task.CostDelta == nil {
		c := *ev.CostDelta
		task.CostDelta = &c
	}
	b.claims.drop(task.ID)
}

// deliver runs every subscriber of the event's topic in registration
// order. Handler errors and panics are converted to dead letters and never
// escape the bus.
func (b *Bus) deliver(ev Event) {
	b.mu.RLock()
	subs := append([]*subscription(nil), b.subs[ev.Topic]...)
	b.mu.RUnlock()

	for _, sub := range subs {
		b.invoke(sub, ev)
	}
}

func (b *Bus) invoke(sub *subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.DeadLetter(ev, fmt.Sprintf("subscriber panic: %v", r))
		}
	}()
	if err := sub.handler(ev.clone()); err != nil {
		b.DeadLetter(ev, fmt.Sprintf("subscriber error: %v", err))
	}
}

// Subscribe registers a handler for the given topics and returns an
// unsubscribe function. Handlers on the same topic run in registration
// order; there is no ordering guarantee across topics.
func (b *Bus) Subscribe(topics []Topic, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSub++
	sub := &subscription{id: b.nextSub, handler: handler}
	for _, t := range topics {
		b.subs[t] = append(b.subs[t], sub)
	}

	id := sub.id
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for _, t := range topics {
			list := b.subs[t]
			for i, s := range list {
				if s.id == id {
					b.subs[t] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
		}
	}
}

// Get returns a snapshot of a stored event.
func (b *Bus) Get(id string) (Event, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ev, ok := b.events[id]
	if !ok {
		return Event{}, ErrNotFound
	}
	return ev.clone(), nil
}

// Query returns snapshots of events matching every set filter field, in
// publication order.
func (b *Bus) Query(f Filter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Event
	skipped := 0
	for _, id := range b.order {
		ev := b.events[id]
		if f.Topic != "" && ev.Topic != f.Topic {
			continue
		}
		if f.Status != "" && ev.Status != f.Status {
			continue
		}
		if f.ParentEventID != "" && ev.ParentEventID != f.ParentEventID {
			continue
		}
		if f.ClaimedBy != "" && ev.ClaimedBy != f.ClaimedBy {
			continue
		}
		if skipped < f.Offset {
			skipped++
			continue
		}
		out = append(out, ev.clone())
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

// LeaseFor returns the lease duration for a risk level when the caller
// does not specify one, honoring WithLeases overrides.
func (b *Bus) LeaseFor(risk RiskLevel) time.Duration {
	if risk == RiskHigh {
		return b.highRiskLease
	}
	return b.defaultLease
}

// Claim attempts to take an exclusive lease on an event. It succeeds iff
// the event exists, is not terminal, and has no active lease; ties go to
// the first writer.
func (b *Bus) Claim(eventID, agentID string, lease time.Duration) ClaimResult {
	b.mu.Lock()
	ev, ok := b.events[eventID]
	if !ok {
		b.mu.Unlock()
		b.claims.recordAttempt(false)
		return ClaimResult{OK: false, Reason: "event not found"}
	}
	if ev.Status.Terminal() {
		b.mu.Unlock()
		b.claims.recordAttempt(false)
		return ClaimResult{OK: false, Reason: "event is terminal"}
	}
	if lease <= 0 {
		lease = b.LeaseFor(ev.RiskLevel)
	}

	claim, ok := b.claims.acquire(eventID, agentID, lease)
	if !ok {
		b.mu.Unlock()
		return ClaimResult{OK: false, Reason: "already claimed"}
	}

	ev.Status = StatusClaimed
	ev.ClaimedBy = agentID
	ev.UpdatedAt = time.Now()
	taskID := ev.ID
	risk := ev.RiskLevel
	b.mu.Unlock()

	claimed := NewEvent(TopicTaskClaimed, "")
	claimed.RiskLevel = risk
	claimed.Payload = ClaimPayload{
		TaskID:      taskID,
		AgentID:     agentID,
		LeaseExpiry: claim.LeaseExpiry,
	}.ToMap()
	if _, err := b.Publish(claimed); err != nil {
		logger.WarnC("bus", "failed to publish TASK_CLAIMED: "+err.Error())
	}

	return ClaimResult{OK: true, LeaseExpiry: claim.LeaseExpiry}
}

// Heartbeat extends the lease held by agentID on eventID. It returns false
// when the lease has already expired or belongs to another agent.
func (b *Bus) Heartbeat(eventID, agentID string) bool {
	return b.claims.renew(eventID, agentID)
}

// ActiveClaim returns the current lease on an event, if any.
func (b *Bus) ActiveClaim(eventID string) (Claim, bool) {
	return b.claims.get(eventID)
}

// Release cancels the lease held by agentID. A non-terminal event is reset
// to OPEN with no claimant. Registered release hooks fire afterwards so
// supervisors can stop heartbeats and cancel in-flight work.
func (b *Bus) Release(eventID, agentID string) {
	if !b.claims.release(eventID, agentID) {
		return
	}

	b.mu.Lock()
	if ev, ok := b.events[eventID]; ok && !ev.Status.Terminal() {
		ev.Status = StatusOpen
		ev.ClaimedBy = ""
		ev.UpdatedAt = time.Now()
	}
	hooks := append([]func(string, string){}, b.onRelease...)
	b.mu.Unlock()

	for _, hook := range hooks {
		hook(eventID, agentID)
	}
}

// OnRelease registers a hook invoked after every successful Release.
func (b *Bus) OnRelease(fn func(eventID, agentID string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onRelease = append(b.onRelease, fn)
}

// MarkResolving synchronously moves an OPEN event to RESOLVING. The
// decomposer calls this before publishing children so a concurrent matcher
// never sees the root as claimable.
func (b *Bus) MarkResolving(eventID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ev, ok := b.events[eventID]
	if !ok {
		return ErrNotFound
	}
	if ev.Status.Terminal() {
		return ErrTerminal
	}
	ev.Status = StatusResolving
	ev.UpdatedAt = time.Now()
	return nil
}

// onLeaseExpired is the claim manager's expiry callback. Terminal events
// ignore expiry; anything else reverts to OPEN and a retry is scheduled.
func (b *Bus) onLeaseExpired(eventID, agentID string) {
	b.mu.Lock()
	ev, ok := b.events[eventID]
	if !ok || ev.Status.Terminal() {
		b.mu.Unlock()
		return
	}
	ev.Status = StatusOpen
	ev.ClaimedBy = ""
	ev.UpdatedAt = time.Now()
	b.mu.Unlock()

	logger.WarnCF("bus", "lease expired", map[string]any{
		"event_id": eventID, "agent_id": agentID,
	})

	retry := NewEvent(TopicTaskRetryScheduled, "")
	retry.Payload = map[string]any{
		"task_id":  eventID,
		"agent_id": agentID,
		"reason":   "lease_expired",
	}
	if _, err := b.Publish(retry); err != nil {
		logger.WarnC("bus", "failed to publish TASK_RETRY_SCHEDULED: "+err.Error())
	}
}

// DeadLetter records an event in the DLQ with the given reason.
func (b *Bus) DeadLetter(ev Event, reason string) {
	b.dlq.add(DeadLetter{Event: ev.clone(), Reason: reason, RecordedAt: time.Now()})
	logger.WarnCF("bus", "dead letter", map[string]any{
		"event_id": ev.ID, "topic": string(ev.Topic), "reason": reason,
	})
}

// DLQ returns up to limit dead letters, oldest first. limit <= 0 returns all.
func (b *Bus) DLQ(limit int) []DeadLetter {
	return b.dlq.list(limit)
}

// RetryFromDLQ removes a dead letter and republishes its task as a fresh
// OPEN event carrying retry_of back to the original.
func (b *Bus) RetryFromDLQ(eventID string) (Event, error) {
	entry, ok := b.dlq.take(eventID)
	if !ok {
		return Event{}, ErrNotFound
	}

	orig := entry.Event
	retry := NewEvent(orig.Topic, orig.Intent)
	retry.ParentEventID = orig.ParentEventID
	retry.RequiredTags = append([]string(nil), orig.RequiredTags...)
	retry.RiskLevel = orig.RiskLevel
	retry.Budget = orig.Budget
	for k, v := range orig.Payload {
		retry.Payload[k] = v
	}
	retry.Payload["retry_of"] = orig.TaskID()
	return b.Publish(retry)
}

// Replay returns a lazy sequence of journaled events with created_at in
// [from, to), in publication order. A zero to means "until now".
func (b *Bus) Replay(from, to time.Time) iter.Seq[Event] {
	if to.IsZero() {
		to = time.Now().Add(time.Second)
	}
	return func(yield func(Event) bool) {
		_ = b.journal.Range(from, to, yield)
	}
}

// Metrics returns a snapshot of bus health counters.
func (b *Bus) Metrics() MetricsSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	depth := 0
	for _, ev := range b.events {
		if ev.Status == StatusOpen {
			depth++
		}
	}

	b.publishTimes = pruneBefore(b.publishTimes, now.Add(-time.Hour))
	b.retryTimes = pruneBefore(b.retryTimes, now.Add(-time.Minute))

	return MetricsSnapshot{
		QueueDepth:        depth,
		ClaimConflictRate: b.claims.conflictRate(),
		RetryStorm:        len(b.retryTimes) >= retryStormThreshold,
		ThroughputPerHour: len(b.publishTimes),
		TokensUsedTotal:   b.tokensTotal,
		CashUsedTotal:     b.cashTotal,
	}
}

func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	sort.Slice(ts, func(i, j int) bool { return ts[i].Before(ts[j]) })
	idx := sort.Search(len(ts), func(i int) bool { return !ts[i].Before(cutoff) })
	return append([]time.Time(nil), ts[idx:]...)
}

// Shutdown cancels every lease timer and the idempotency cleanup ticker
// and rejects further publication.
func (b *Bus) Shutdown() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	b.claims.shutdown()
	b.idem.shutdown()
	logger.InfoC("bus", "bus shut down")
}
