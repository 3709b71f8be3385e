// CorpCraft SwarmEngine - event-driven multi-agent task coordination
// License: MIT
//
// Copyright (c) 2026 CorpCraft contributors

package swarm

import (
	"context"
	"sync"
	"time"

	"github.com/corpcraft/swarmengine/pkg/bus"
	"github.com/corpcraft/swarmengine/pkg/logger"
	"github.com/corpcraft/swarmengine/pkg/runtime"
	"github.com/google/uuid"
)

// Executor supervises claimed tasks: it keeps the lease alive with a
// heartbeat ticker, runs the agent runtime, streams progress, and emits
// the artifact / evidence / terminal event sequence.
type Executor struct {
	b        *bus.Bus
	registry *AgentRegistry
	runtimes *runtime.Registry
	mode     *ModeState
	workDir  string

	processed    *processedSet
	parentClosed *processedSet

	mu     sync.Mutex
	active map[string]activeExec
	wg     sync.WaitGroup
}

// activeExec records who is running a task so cancellation never crosses
// over to a later claimant of the same task.
type activeExec struct {
	agentID string
	cancel  context.CancelFunc
}

func NewExecutor(b *bus.Bus, registry *AgentRegistry, runtimes *runtime.Registry, mode *ModeState, workDir string) *Executor {
	return &Executor{
		b:            b,
		registry:     registry,
		runtimes:     runtimes,
		mode:         mode,
		workDir:      workDir,
		processed:    newProcessedSet(),
		parentClosed: newProcessedSet(),
		active:       make(map[string]activeExec),
	}
}

func (e *Executor) Subscribe() func() {
	e.b.OnRelease(e.onRelease)
	return e.b.Subscribe([]bus.Topic{bus.TopicTaskClaimed}, e.handleClaimed)
}

func (e *Executor) handleClaimed(ev bus.Event) error {
	claim := bus.ClaimPayloadFrom(ev)
	if claim.TaskID == "" || claim.AgentID == "" {
		return nil
	}
	if !e.processed.markOnce(claim.TaskID + ":" + claim.AgentID + ":" + ev.ID) {
		return nil
	}

	task, err := e.b.Get(claim.TaskID)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.active[claim.TaskID] = activeExec{agentID: claim.AgentID, cancel: cancel}
	e.mu.Unlock()

	e.wg.Add(1)
	go e.run(ctx, task, claim.AgentID)
	return nil
}

// onRelease stops the heartbeat ticker and cancels the outstanding
// runtime invocation when a claim is released externally.
func (e *Executor) onRelease(eventID, agentID string) {
	if e.cancelExecution(eventID, agentID) {
		logger.InfoCF("executor", "execution cancelled on release", map[string]any{
			"task_id": eventID, "agent_id": agentID,
		})
	}
}

func (e *Executor) cancelExecution(taskID, agentID string) bool {
	e.mu.Lock()
	entry, ok := e.active[taskID]
	if ok && entry.agentID == agentID {
		delete(e.active, taskID)
	} else {
		ok = false
	}
	e.mu.Unlock()
	if ok {
		entry.cancel()
	}
	return ok
}

func (e *Executor) run(ctx context.Context, task bus.Event, agentID string) {
	defer e.wg.Done()
	defer func() {
		e.mu.Lock()
		if entry, ok := e.active[task.ID]; ok && entry.agentID == agentID {
			delete(e.active, task.ID)
		}
		e.mu.Unlock()
	}()

	lease := e.b.LeaseFor(task.RiskLevel)
	stopHeartbeat := e.startHeartbeat(ctx, task.ID, agentID, lease/3)
	defer stopHeartbeat()

	e.registry.MarkWorking(agentID)

	profile := runtime.Profile{
		AgentID: agentID,
		WorkDir: e.workDir,
	}
	if agent, ok := e.registry.Get(agentID); ok {
		profile.AgentName = agent.Name
		profile.RoleTags = agent.RoleTags
	}

	rt := e.runtimes.For(e.mode.Get())
	result, err := rt.Execute(ctx, task.Intent, profile, func(p runtime.Progress) {
		progress := bus.NewEvent(bus.TopicTaskProgress, "")
		progress.ParentEventID = task.ID
		progress.Payload = bus.ProgressPayload{
			TaskID:   task.ID,
			AgentID:  agentID,
			Progress: p.Progress,
			Message:  p.Message,
		}.ToMap()
		e.b.Publish(progress)
	})

	if err != nil {
		if ctx.Err() != nil {
			// Released or shut down; the claim owner decides what happens next.
			return
		}
		result = runtime.Result{Success: false, FailureReason: err.Error()}
	}

	e.complete(task, agentID, result)
	e.b.Release(task.ID, agentID)
	e.checkSiblings(task)
}

// complete emits the closing sequence: ARTIFACT_READY, EVIDENCE_READY,
// then exactly one terminal event.
func (e *Executor) complete(task bus.Event, agentID string, result runtime.Result) {
	cost := result.Cost

	artifact := bus.NewEvent(bus.TopicArtifactReady, "")
	artifact.ParentEventID = task.ID
	artifact.Payload = bus.ArtifactPayload{
		TaskID:   task.ID,
		AgentID:  agentID,
		Artifact: result.Output,
	}.ToMap()
	artifact.CostDelta = &cost
	e.b.Publish(artifact)

	evidence := bus.NewEvent(bus.TopicEvidenceReady, "")
	evidence.ParentEventID = task.ID
	evidence.Payload = bus.EvidencePayload{
		TaskID:     task.ID,
		AgentID:    agentID,
		PackID:     uuid.New().String(),
		Logs:       result.Evidence,
		References: nil,
	}.ToMap()
	e.b.Publish(evidence)

	if result.Success {
		closed := bus.NewEvent(bus.TopicTaskClosed, "")
		closed.ParentEventID = task.ID
		closed.Payload = map[string]any{"task_id": task.ID, "agent_id": agentID}
		closed.CostDelta = &cost
		e.b.Publish(closed)
		return
	}

	failed := bus.NewEvent(bus.TopicTaskFailed, "")
	failed.ParentEventID = task.ID
	failed.Payload = map[string]any{
		"task_id":  task.ID,
		"agent_id": agentID,
		"reason":   result.FailureReason,
	}
	failed.CostDelta = &cost
	e.b.Publish(failed)
}

// checkSiblings closes the parent once every sub-task has terminated,
// aggregating the sibling cost deltas.
func (e *Executor) checkSiblings(task bus.Event) {
	if task.ParentEventID == "" {
		return
	}
	parent, err := e.b.Get(task.ParentEventID)
	if err != nil || parent.Status.Terminal() {
		return
	}

	siblings := e.b.Query(bus.Filter{
		Topic:         bus.TopicTaskPosted,
		ParentEventID: parent.ID,
	})
	if len(siblings) == 0 {
		return
	}

	total := bus.CostDelta{}
	for _, sib := range siblings {
		if !sib.Status.Terminal() {
			return
		}
		if sib.CostDelta != nil {
			total = total.Add(*sib.CostDelta)
		}
	}

	if !e.parentClosed.markOnce(parent.ID) {
		return
	}

	closed := bus.NewEvent(bus.TopicTaskClosed, "")
	closed.ParentEventID = parent.ID
	closed.Payload = map[string]any{
		"task_id":    parent.ID,
		"aggregated": true,
		"sub_tasks":  len(siblings),
	}
	closed.CostDelta = &total
	e.b.Publish(closed)

	logger.InfoCF("executor", "parent task closed", map[string]any{
		"task_id": parent.ID, "sub_tasks": len(siblings),
	})
}

// startHeartbeat renews the lease on a fixed interval until stopped. The
// interval is at most a third of the lease so a healthy executor never
// loses its claim.
func (e *Executor) startHeartbeat(ctx context.Context, taskID, agentID string, interval time.Duration) func() {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	var once sync.Once
	stop := func() { once.Do(func() { ticker.Stop(); close(done) }) }

	go func() {
		for {
			select {
			case <-ticker.C:
				if !e.b.Heartbeat(taskID, agentID) {
					// The lease is gone; another agent may already hold the
					// task, so this execution must not publish anything.
					logger.WarnCF("executor", "heartbeat rejected, cancelling", map[string]any{
						"task_id": taskID, "agent_id": agentID,
					})
					e.cancelExecution(taskID, agentID)
					return
				}
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return stop
}

// Shutdown cancels every in-flight execution and waits for supervisors
// to drain.
func (e *Executor) Shutdown() {
	e.mu.Lock()
	for id, entry := range e.active {
		entry.cancel()
		delete(e.active, id)
	}
	e.mu.Unlock()
	e.wg.Wait()
}
