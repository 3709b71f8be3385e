// CorpCraft SwarmEngine - event-driven multi-agent task coordination
// License: MIT
//
// Copyright (c) 2026 CorpCraft contributors

package policy

import (
	"github.com/corpcraft/swarmengine/pkg/bus"
	"github.com/corpcraft/swarmengine/pkg/logger"
)

// EMP actions, in the order they are applied on a rejection.
const (
	EMPSandboxTerminated = "SANDBOX_TERMINATED"
	EMPTokensRevoked     = "TOKENS_REVOKED"
	EMPTaskFailed        = "TASK_FAILED"
)

// Sandbox kills a task's execution environment.
type Sandbox interface {
	Terminate(taskID, agentID string) error
}

// TokenVault revokes credentials issued to an agent for a task.
type TokenVault interface {
	Revoke(taskID, agentID string) error
}

type noopSandbox struct{}

func (noopSandbox) Terminate(taskID, agentID string) error { return nil }

type noopVault struct{}

func (noopVault) Revoke(taskID, agentID string) error { return nil }

// EMP enforces rejected approvals: terminate the sandbox, revoke tokens,
// file the war report, and fail the task.
type EMP struct {
	b       *bus.Bus
	sandbox Sandbox
	vault   TokenVault
}

func NewEMP(b *bus.Bus, sandbox Sandbox, vault TokenVault) *EMP {
	if sandbox == nil {
		sandbox = noopSandbox{}
	}
	if vault == nil {
		vault = noopVault{}
	}
	return &EMP{b: b, sandbox: sandbox, vault: vault}
}

func (e *EMP) Subscribe() func() {
	return e.b.Subscribe([]bus.Topic{bus.TopicApprovalDecision}, e.handle)
}

func (e *EMP) handle(ev bus.Event) error {
	decision := bus.DecisionPayloadFrom(ev)
	if decision.Decision != DecisionReject {
		return nil
	}
	taskID := decision.TaskID
	agentID := ev.PayloadString("agent_id")

	var actions []string
	if err := e.sandbox.Terminate(taskID, agentID); err != nil {
		logger.WarnCF("policy", "sandbox terminate failed", map[string]any{
			"task_id": taskID, "error": err.Error(),
		})
	} else {
		actions = append(actions, EMPSandboxTerminated)
	}
	if err := e.vault.Revoke(taskID, agentID); err != nil {
		logger.WarnCF("policy", "token revoke failed", map[string]any{
			"task_id": taskID, "error": err.Error(),
		})
	} else {
		actions = append(actions, EMPTokensRevoked)
	}

	report := bus.NewEvent(bus.TopicSOSError, "")
	report.ParentEventID = taskID
	report.Payload = map[string]any{
		"kind":        "WAR_REPORT",
		"task_id":     taskID,
		"agent_id":    agentID,
		"approval_id": decision.ApprovalID,
		"decided_by":  decision.DecidedBy,
		"reason":      decision.Reason,
	}
	e.b.Publish(report)

	actions = append(actions, EMPTaskFailed)
	failed := bus.NewEvent(bus.TopicTaskFailed, "")
	failed.ParentEventID = taskID
	failed.Payload = map[string]any{
		"task_id":     taskID,
		"agent_id":    agentID,
		"reason":      "approval rejected: " + decision.Reason,
		"emp_actions": actions,
	}
	_, err := e.b.Publish(failed)

	logger.WarnCF("policy", "emp fired", map[string]any{
		"task_id": taskID, "actions": actions,
	})
	return err
}
