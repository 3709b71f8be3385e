// CorpCraft SwarmEngine - event-driven multi-agent task coordination
// License: MIT

package policy

import (
	"errors"
	"testing"

	"github.com/corpcraft/swarmengine/pkg/bus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSandbox struct {
	terminated []string
	err        error
}

func (s *recordingSandbox) Terminate(taskID, agentID string) error {
	if s.err != nil {
		return s.err
	}
	s.terminated = append(s.terminated, taskID)
	return nil
}

type recordingVault struct {
	revoked []string
}

func (v *recordingVault) Revoke(taskID, agentID string) error {
	v.revoked = append(v.revoked, taskID)
	return nil
}

func publishDecisionEvent(t *testing.T, b *bus.Bus, decision string) {
	t.Helper()
	ev := bus.NewEvent(bus.TopicApprovalDecision, "")
	ev.Payload = bus.DecisionPayload{
		ApprovalID: "approval-1",
		TaskID:     "task-1",
		Decision:   decision,
		DecidedBy:  "user",
		Reason:     "too risky",
	}.ToMap()
	ev.Payload["agent_id"] = "agent-1"
	_, err := b.Publish(ev)
	require.NoError(t, err)
}

func TestEMPFiresOnReject(t *testing.T) {
	b := bus.New()
	defer b.Shutdown()
	sandbox := &recordingSandbox{}
	vault := &recordingVault{}
	NewEMP(b, sandbox, vault).Subscribe()
	sos := captureTopic(b, bus.TopicSOSError)
	failed := captureTopic(b, bus.TopicTaskFailed)

	publishDecisionEvent(t, b, DecisionReject)

	assert.Equal(t, []string{"task-1"}, sandbox.terminated)
	assert.Equal(t, []string{"task-1"}, vault.revoked)

	require.Len(t, *sos, 1)
	assert.Equal(t, "WAR_REPORT", (*sos)[0].PayloadString("kind"))
	assert.Equal(t, "approval-1", (*sos)[0].PayloadString("approval_id"))

	require.Len(t, *failed, 1)
	fail := (*failed)[0]
	assert.Equal(t, "approval rejected: too risky", fail.PayloadString("reason"))
	assert.Equal(t,
		[]string{EMPSandboxTerminated, EMPTokensRevoked, EMPTaskFailed},
		fail.Payload["emp_actions"])
}

func TestEMPIgnoresApprovals(t *testing.T) {
	b := bus.New()
	defer b.Shutdown()
	sandbox := &recordingSandbox{}
	NewEMP(b, sandbox, &recordingVault{}).Subscribe()
	failed := captureTopic(b, bus.TopicTaskFailed)

	publishDecisionEvent(t, b, DecisionApprove)

	assert.Empty(t, sandbox.terminated)
	assert.Empty(t, *failed)
}

func TestEMPSkipsFailedActions(t *testing.T) {
	b := bus.New()
	defer b.Shutdown()
	sandbox := &recordingSandbox{err: errors.New("sandbox gone")}
	NewEMP(b, sandbox, &recordingVault{}).Subscribe()
	failed := captureTopic(b, bus.TopicTaskFailed)

	publishDecisionEvent(t, b, DecisionReject)

	require.Len(t, *failed, 1)
	assert.Equal(t,
		[]string{EMPTokensRevoked, EMPTaskFailed},
		(*failed)[0].Payload["emp_actions"])
}

func TestEMPMarksTaskFailedOnBlackboard(t *testing.T) {
	b := bus.New()
	defer b.Shutdown()
	NewEMP(b, nil, nil).Subscribe()

	task, err := b.Publish(bus.NewEvent(bus.TopicTaskPosted, "send the outreach email"))
	require.NoError(t, err)

	ev := bus.NewEvent(bus.TopicApprovalDecision, "")
	ev.Payload = bus.DecisionPayload{
		ApprovalID: "approval-1",
		TaskID:     task.ID,
		Decision:   DecisionReject,
		DecidedBy:  "user",
		Reason:     "not allowed",
	}.ToMap()
	_, err = b.Publish(ev)
	require.NoError(t, err)

	stored, err := b.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, bus.StatusFailed, stored.Status)
}
