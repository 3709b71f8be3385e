// CorpCraft SwarmEngine - event-driven multi-agent task coordination
// License: MIT
//
// Copyright (c) 2026 CorpCraft contributors

package bus

import (
	"sync"
	"time"
)

// claimAttempt is one sample in the rolling conflict window.
type claimAttempt struct {
	at time.Time
	ok bool
}

type activeClaim struct {
	claim Claim
	lease time.Duration
	timer *time.Timer
}

// claimManager owns all leases. At most one active lease per event id;
// ties are resolved first-writer-wins under the manager mutex.
type claimManager struct {
	mu       sync.Mutex
	claims   map[string]*activeClaim
	attempts []claimAttempt
	onExpire func(eventID, agentID string)
	closed   bool
}

func newClaimManager(onExpire func(eventID, agentID string)) *claimManager {
	return &claimManager{
		claims:   make(map[string]*activeClaim),
		onExpire: onExpire,
	}
}

func (m *claimManager) acquire(eventID, agentID string, lease time.Duration) (Claim, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return Claim{}, false
	}
	if _, exists := m.claims[eventID]; exists {
		m.recordAttemptLocked(false)
		return Claim{}, false
	}

	now := time.Now()
	ac := &activeClaim{
		claim: Claim{
			EventID:       eventID,
			AgentID:       agentID,
			LeaseExpiry:   now.Add(lease),
			LastHeartbeat: now,
		},
		lease: lease,
	}
	ac.timer = time.AfterFunc(lease, func() { m.expire(eventID) })
	m.claims[eventID] = ac
	m.recordAttemptLocked(true)
	return ac.claim, true
}

// renew extends a lease by its original duration. Renewal always wins if
// the expiry callback has not yet removed the claim.
func (m *claimManager) renew(eventID, agentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ac, ok := m.claims[eventID]
	if !ok || ac.claim.AgentID != agentID {
		return false
	}
	now := time.Now()
	ac.claim.LastHeartbeat = now
	ac.claim.LeaseExpiry = now.Add(ac.lease)
	ac.timer.Reset(ac.lease)
	return true
}

func (m *claimManager) get(eventID string) (Claim, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ac, ok := m.claims[eventID]
	if !ok {
		return Claim{}, false
	}
	return ac.claim, true
}

// release removes the lease when held by agentID.
func (m *claimManager) release(eventID, agentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ac, ok := m.claims[eventID]
	if !ok || ac.claim.AgentID != agentID {
		return false
	}
	ac.timer.Stop()
	delete(m.claims, eventID)
	return true
}

// drop removes a lease unconditionally, without firing expiry. Used when
// the claimed event turns terminal.
func (m *claimManager) drop(eventID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ac, ok := m.claims[eventID]; ok {
		ac.timer.Stop()
		delete(m.claims, eventID)
	}
}

// expire fires from the lease timer. A heartbeat that re-armed the timer
// after this fired is detected by re-checking the deadline under the lock.
func (m *claimManager) expire(eventID string) {
	m.mu.Lock()
	ac, ok := m.claims[eventID]
	if !ok || m.closed {
		m.mu.Unlock()
		return
	}
	if time.Now().Before(ac.claim.LeaseExpiry) {
		// Renewed between timer fire and lock acquisition.
		m.mu.Unlock()
		return
	}
	agentID := ac.claim.AgentID
	delete(m.claims, eventID)
	m.mu.Unlock()

	if m.onExpire != nil {
		m.onExpire(eventID, agentID)
	}
}

func (m *claimManager) recordAttempt(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordAttemptLocked(ok)
}

func (m *claimManager) recordAttemptLocked(ok bool) {
	m.attempts = append(m.attempts, claimAttempt{at: time.Now(), ok: ok})
}

// conflictRate is failed claims over total claim attempts in the last minute.
func (m *claimManager) conflictRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-time.Minute)
	kept := m.attempts[:0]
	total, failed := 0, 0
	for _, a := range m.attempts {
		if a.at.Before(cutoff) {
			continue
		}
		kept = append(kept, a)
		total++
		if !a.ok {
			failed++
		}
	}
	m.attempts = kept
	if total == 0 {
		return 0
	}
	return float64(failed) / float64(total)
}

func (m *claimManager) shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for id, ac := range m.claims {
		ac.timer.Stop()
		delete(m.claims, id)
	}
}
