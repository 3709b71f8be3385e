// CorpCraft SwarmEngine - event-driven multi-agent task coordination
// License: MIT
//
// Copyright (c) 2026 CorpCraft contributors

package bus

import "time"

// Typed payload variants for the well-known topics. Events keep an opaque
// map so unknown fields survive round trips; these helpers are the one
// place that knows the field names.

// ClaimPayload rides on TASK_CLAIMED.
type ClaimPayload struct {
	TaskID      string
	AgentID     string
	LeaseExpiry time.Time
}

func (p ClaimPayload) ToMap() map[string]any {
	return map[string]any{
		"task_id":      p.TaskID,
		"agent_id":     p.AgentID,
		"lease_expiry": p.LeaseExpiry,
	}
}

func ClaimPayloadFrom(ev Event) ClaimPayload {
	expiry, _ := ev.Payload["lease_expiry"].(time.Time)
	return ClaimPayload{
		TaskID:      ev.PayloadString("task_id"),
		AgentID:     ev.PayloadString("agent_id"),
		LeaseExpiry: expiry,
	}
}

// DecompositionPayload rides on TASK_DECOMPOSED.
type DecompositionPayload struct {
	TaskID     string
	Categories []string
	ChildIDs   []string
}

func (p DecompositionPayload) ToMap() map[string]any {
	return map[string]any{
		"task_id":    p.TaskID,
		"categories": p.Categories,
		"child_ids":  p.ChildIDs,
	}
}

func DecompositionPayloadFrom(ev Event) DecompositionPayload {
	return DecompositionPayload{
		TaskID:     ev.PayloadString("task_id"),
		Categories: stringSlice(ev.Payload["categories"]),
		ChildIDs:   stringSlice(ev.Payload["child_ids"]),
	}
}

// ProgressPayload rides on TASK_PROGRESS.
type ProgressPayload struct {
	TaskID   string
	AgentID  string
	Progress float64
	Message  string
}

func (p ProgressPayload) ToMap() map[string]any {
	return map[string]any{
		"task_id":  p.TaskID,
		"agent_id": p.AgentID,
		"progress": p.Progress,
		"message":  p.Message,
	}
}

func ProgressPayloadFrom(ev Event) ProgressPayload {
	progress, _ := ev.Payload["progress"].(float64)
	return ProgressPayload{
		TaskID:   ev.PayloadString("task_id"),
		AgentID:  ev.PayloadString("agent_id"),
		Progress: progress,
		Message:  ev.PayloadString("message"),
	}
}

// ArtifactPayload rides on ARTIFACT_READY.
type ArtifactPayload struct {
	TaskID   string
	AgentID  string
	Artifact string
}

func (p ArtifactPayload) ToMap() map[string]any {
	return map[string]any{
		"task_id":  p.TaskID,
		"agent_id": p.AgentID,
		"artifact": p.Artifact,
	}
}

// EvidencePayload rides on EVIDENCE_READY.
type EvidencePayload struct {
	TaskID     string
	AgentID    string
	PackID     string
	Logs       []string
	References []string
}

func (p EvidencePayload) ToMap() map[string]any {
	return map[string]any{
		"task_id":          p.TaskID,
		"agent_id":         p.AgentID,
		"evidence_pack_id": p.PackID,
		"logs":             p.Logs,
		"references":       p.References,
	}
}

// DecisionPayload rides on APPROVAL_DECISION.
type DecisionPayload struct {
	ApprovalID string
	TaskID     string
	Decision   string
	DecidedBy  string
	Reason     string
}

func (p DecisionPayload) ToMap() map[string]any {
	return map[string]any{
		"approval_id": p.ApprovalID,
		"task_id":     p.TaskID,
		"decision":    p.Decision,
		"decided_by":  p.DecidedBy,
		"reason":      p.Reason,
	}
}

func DecisionPayloadFrom(ev Event) DecisionPayload {
	return DecisionPayload{
		ApprovalID: ev.PayloadString("approval_id"),
		TaskID:     ev.PayloadString("task_id"),
		Decision:   ev.PayloadString("decision"),
		DecidedBy:  ev.PayloadString("decided_by"),
		Reason:     ev.PayloadString("reason"),
	}
}

// SummonPayload rides on AGENT_SUMMON_REQUEST.
type SummonPayload struct {
	RequestID         string
	RequestingAgent   string
	Reason            string
	RequiredTags      []string
	Urgency           string
	TargetZoneID      string
	Context           string
	ApprovalTimeoutMS int64
}

func (p SummonPayload) ToMap() map[string]any {
	return map[string]any{
		"request_id":          p.RequestID,
		"requesting_agent":    p.RequestingAgent,
		"reason":              p.Reason,
		"required_tags":       p.RequiredTags,
		"urgency":             p.Urgency,
		"target_zone_id":      p.TargetZoneID,
		"context":             p.Context,
		"approval_timeout_ms": p.ApprovalTimeoutMS,
	}
}

func stringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
