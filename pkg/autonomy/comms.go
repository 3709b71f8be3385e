package autonomy

import (
	"sync"
	"time"

	"github.com/corpcraft/swarmengine/pkg/bus"
	"github.com/corpcraft/swarmengine/pkg/logger"
	"github.com/google/uuid"
)

const (
	// maxSessionHistory bounds per-session message retention.
	maxSessionHistory = 100
	// maxSessions bounds live sessions; the stalest session is archived
	// when the cap is hit.
	maxSessions = 50
)

// CollabMessage is one agent-to-agent message.
type CollabMessage struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	From      string    `json:"from"`
	To        string    `json:"to,omitempty"`
	ZoneID    string    `json:"zone_id,omitempty"`
	Body      string    `json:"body"`
	SentAt    time.Time `json:"sent_at"`
}

type commsSession struct {
	id       string
	history  []CollabMessage
	lastUsed time.Time
}

// AgentComms is the side channel agents use to share findings. Every
// message also lands on the bus as INTEL_READY so the blackboard stays
// the source of truth.
type AgentComms struct {
	b *bus.Bus

	mu       sync.Mutex
	sessions map[string]*commsSession
}

func NewAgentComms(b *bus.Bus) *AgentComms {
	return &AgentComms{
		b:        b,
		sessions: make(map[string]*commsSession),
	}
}

// SendMessage delivers a direct message within a session.
func (c *AgentComms) SendMessage(sessionID, from, to, body string) (CollabMessage, error) {
	msg := CollabMessage{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		From:      from,
		To:        to,
		Body:      body,
		SentAt:    time.Now(),
	}
	return msg, c.record(msg)
}

// Broadcast delivers a message to every agent in a zone.
func (c *AgentComms) Broadcast(sessionID, from, zoneID, body string) (CollabMessage, error) {
	msg := CollabMessage{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		From:      from,
		ZoneID:    zoneID,
		Body:      body,
		SentAt:    time.Now(),
	}
	return msg, c.record(msg)
}

func (c *AgentComms) record(msg CollabMessage) error {
	c.mu.Lock()
	sess, ok := c.sessions[msg.SessionID]
	if !ok {
		c.evictStalestLocked()
		sess = &commsSession{id: msg.SessionID}
		c.sessions[msg.SessionID] = sess
	}
	sess.history = append(sess.history, msg)
	if len(sess.history) > maxSessionHistory {
		sess.history = sess.history[len(sess.history)-maxSessionHistory:]
	}
	sess.lastUsed = msg.SentAt
	c.mu.Unlock()

	ev := bus.NewEvent(bus.TopicIntelReady, "")
	ev.Payload = map[string]any{
		"message_id": msg.ID,
		"session_id": msg.SessionID,
		"from":       msg.From,
		"to":         msg.To,
		"zone_id":    msg.ZoneID,
		"body":       msg.Body,
	}
	_, err := c.b.Publish(ev)
	return err
}

// evictStalestLocked archives the least-recently-used session once the
// cap is reached. Caller holds the lock.
func (c *AgentComms) evictStalestLocked() {
	if len(c.sessions) < maxSessions {
		return
	}
	var stalest *commsSession
	for _, sess := range c.sessions {
		if stalest == nil || sess.lastUsed.Before(stalest.lastUsed) {
			stalest = sess
		}
	}
	if stalest != nil {
		delete(c.sessions, stalest.id)
		logger.DebugCF("comms", "session archived", map[string]any{
			"session_id": stalest.id, "messages": len(stalest.history),
		})
	}
}

// History returns a session's retained messages, oldest first.
func (c *AgentComms) History(sessionID string) []CollabMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess, ok := c.sessions[sessionID]
	if !ok {
		return nil
	}
	return append([]CollabMessage(nil), sess.history...)
}

// SessionCount reports live sessions.
func (c *AgentComms) SessionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}
