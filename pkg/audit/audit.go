// Package audit records every bus event into a tamper-evident trail.
// Records are HMAC hash-chained so any rewrite of history is detectable,
// and the trail answers the forensic questions: what happened to a task,
// why do tasks fail, and how long do approvals wait.
package audit

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/corpcraft/swarmengine/pkg/bus"
	"github.com/corpcraft/swarmengine/pkg/swarm"
)

// Record is one audited bus event.
type Record struct {
	Seq           int            `json:"seq"`
	Timestamp     time.Time      `json:"timestamp"`
	EventID       string         `json:"event_id"`
	Topic         string         `json:"topic"`
	TaskID        string         `json:"task_id,omitempty"`
	ParentEventID string         `json:"parent_event_id,omitempty"`
	Intent        string         `json:"intent,omitempty"`
	Status        string         `json:"status,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	Hash          string         `json:"hash"`
	PreviousHash  string         `json:"previous_hash,omitempty"`
}

// ApprovalStats summarizes approval latency from the trail.
type ApprovalStats struct {
	Pending int   `json:"pending"`
	P50MS   int64 `json:"p50_ms"`
	P95MS   int64 `json:"p95_ms"`
}

// Trail is the audit log. It subscribes to every topic.
type Trail struct {
	b      *bus.Bus
	secret []byte

	mu        sync.Mutex
	file      *os.File
	records   []Record
	byEventID map[string]int
	lastHash  string

	approvalOpen  map[string]time.Time
	approvalWaits []time.Duration
}

// New creates a trail. filePath may be empty for in-memory only; secret
// may be nil, in which case a random HMAC key is generated.
func New(b *bus.Bus, filePath string, secret []byte) (*Trail, error) {
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("failed to generate audit key: %w", err)
		}
	}
	t := &Trail{
		b:            b,
		secret:       secret,
		byEventID:    make(map[string]int),
		approvalOpen: make(map[string]time.Time),
	}
	if filePath != "" {
		if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create audit directory: %w", err)
		}
		f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit log: %w", err)
		}
		t.file = f
	}
	return t, nil
}

func (t *Trail) Subscribe() func() {
	return t.b.Subscribe(bus.AllTopics(), t.handle)
}

func (t *Trail) handle(ev bus.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec := Record{
		Seq:           len(t.records),
		Timestamp:     time.Now().UTC(),
		EventID:       ev.ID,
		Topic:         string(ev.Topic),
		TaskID:        ev.TaskID(),
		ParentEventID: ev.ParentEventID,
		Intent:        ev.Intent,
		Status:        string(ev.Status),
		Payload:       ev.Payload,
		PreviousHash:  t.lastHash,
	}
	rec.Hash = t.computeHash(rec)

	t.records = append(t.records, rec)
	t.byEventID[rec.EventID] = rec.Seq
	t.lastHash = rec.Hash

	switch ev.Topic {
	case bus.TopicApprovalRequired:
		if id := ev.PayloadString("approval_id"); id != "" {
			t.approvalOpen[id] = rec.Timestamp
		}
	case bus.TopicApprovalDecision:
		if id := ev.PayloadString("approval_id"); id != "" {
			if opened, ok := t.approvalOpen[id]; ok {
				t.approvalWaits = append(t.approvalWaits, rec.Timestamp.Sub(opened))
				delete(t.approvalOpen, id)
			}
		}
	}

	if t.file != nil {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal audit record: %w", err)
		}
		if _, err := t.file.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("failed to write audit record: %w", err)
		}
	}
	return nil
}

func (t *Trail) computeHash(rec Record) string {
	signData := fmt.Sprintf("%s|%s|%s|%s|%s",
		rec.Timestamp.Format(time.RFC3339Nano),
		rec.Topic,
		rec.EventID,
		rec.TaskID,
		rec.PreviousHash,
	)
	h := hmac.New(sha256.New, t.secret)
	h.Write([]byte(signData))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Log returns the records that directly mention a task, in order.
func (t *Trail) Log(taskID string) []Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Record
	for _, rec := range t.records {
		if rec.TaskID == taskID || rec.ParentEventID == taskID || rec.EventID == taskID {
			out = append(out, rec)
		}
	}
	return out
}

// ReplayTask walks the full causal history of a task: its own records,
// every descendant via parent_event_id, and retry lineage via retry_of.
func (t *Trail) ReplayTask(taskID string) []Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	family := map[string]bool{taskID: true}
	// Fixed point over the trail: each pass absorbs children and retries
	// of anything already in the family.
	for {
		grew := false
		for _, rec := range t.records {
			if family[rec.EventID] {
				continue
			}
			linked := family[rec.ParentEventID] || family[rec.TaskID]
			if !linked {
				if retryOf, ok := rec.Payload["retry_of"].(string); ok && family[retryOf] {
					linked = true
				}
			}
			if linked {
				family[rec.EventID] = true
				if rec.TaskID != "" {
					family[rec.TaskID] = true
				}
				grew = true
			}
		}
		if !grew {
			break
		}
	}

	var out []Record
	for _, rec := range t.records {
		if family[rec.EventID] {
			out = append(out, rec)
		}
	}
	return out
}

// ByFailureCategory buckets the failures seen so far.
func (t *Trail) ByFailureCategory() map[swarm.FailureCategory]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[swarm.FailureCategory]int)
	for _, rec := range t.records {
		if rec.Topic != string(bus.TopicTaskFailed) {
			continue
		}
		reason, _ := rec.Payload["reason"].(string)
		errStr, _ := rec.Payload["error"].(string)
		out[swarm.ClassifyFailure(reason, errStr)]++
	}
	return out
}

// Approvals reports pending count and wait-time percentiles.
func (t *Trail) Approvals() ApprovalStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := ApprovalStats{Pending: len(t.approvalOpen)}
	if len(t.approvalWaits) == 0 {
		return stats
	}
	waits := append([]time.Duration(nil), t.approvalWaits...)
	sort.Slice(waits, func(i, j int) bool { return waits[i] < waits[j] })
	stats.P50MS = percentile(waits, 0.50).Milliseconds()
	stats.P95MS = percentile(waits, 0.95).Milliseconds()
	return stats
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

// Len reports the number of records in the trail.
func (t *Trail) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// VerifyChain rehashes the in-memory trail and checks every link.
func (t *Trail) VerifyChain() (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var prevHash string
	for i, rec := range t.records {
		if rec.PreviousHash != prevHash {
			return false, fmt.Errorf("hash chain broken at record %d", i)
		}
		if rec.Hash != t.computeHash(rec) {
			return false, fmt.Errorf("record hash mismatch at record %d", i)
		}
		prevHash = rec.Hash
	}
	return true, nil
}

// Close flushes and closes the backing file.
func (t *Trail) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file != nil {
		err := t.file.Close()
		t.file = nil
		return err
	}
	return nil
}
