// SPDX-License-Identifier: MIT

// Package presence tracks which connections are live and which participant
// each one speaks for. Liveness is heartbeat-based: a connection that misses
// too many beats is expired and reported to the owner.
package presence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/broadcomms/brainstormx/internal/log"
	"github.com/broadcomms/brainstormx/internal/workshop"
)

// ExpireFunc is invoked outside the tracker lock when a connection's
// heartbeats stop.
type ExpireFunc func(sessionID, participantID, connID string)

type binding struct {
	sessionID     string
	participantID string
	connID        string
	lastBeat      time.Time
}

// Tracker maps live connections to participants within sessions.
type Tracker struct {
	mu       sync.Mutex
	conns    map[string]*binding            // connID -> binding
	byMember map[string]map[string]string   // sessionID -> participantID -> connID
	interval time.Duration
	missed   int
	onExpire ExpireFunc
}

// New creates a tracker. A connection expires after missed*interval without
// a heartbeat.
func New(interval time.Duration, missed int, onExpire ExpireFunc) *Tracker {
	return &Tracker{
		conns:    make(map[string]*binding),
		byMember: make(map[string]map[string]string),
		interval: interval,
		missed:   missed,
		onExpire: onExpire,
	}
}

// Bind registers a connection for a participant. If the participant already
// has a live connection in the session, the old connection is displaced and
// rebound reports true: the caller should treat this as a resync, not a
// fresh join.
func (t *Tracker) Bind(sessionID, participantID, connID string) (rebound bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	members, ok := t.byMember[sessionID]
	if !ok {
		members = make(map[string]string)
		t.byMember[sessionID] = members
	}
	if old, exists := members[participantID]; exists {
		delete(t.conns, old)
		rebound = true
	}
	members[participantID] = connID
	t.conns[connID] = &binding{
		sessionID:     sessionID,
		participantID: participantID,
		connID:        connID,
		lastBeat:      time.Now(),
	}
	return rebound
}

// Heartbeat refreshes a connection's liveness deadline.
func (t *Tracker) Heartbeat(connID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.conns[connID]
	if !ok {
		return fmt.Errorf("presence: connection %s: %w", connID, workshop.ErrNotFound)
	}
	b.lastBeat = time.Now()
	return nil
}

// Unbind removes a connection mapping, returning the identity it carried.
// The historical participant record is untouched; only the live binding goes.
func (t *Tracker) Unbind(connID string) (sessionID, participantID string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, exists := t.conns[connID]
	if !exists {
		return "", "", false
	}
	t.remove(b)
	return b.sessionID, b.participantID, true
}

// DropSession discards all bindings for a session, used at conclusion.
func (t *Tracker) DropSession(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, connID := range t.byMember[sessionID] {
		delete(t.conns, connID)
	}
	delete(t.byMember, sessionID)
}

// Lookup resolves a connection to its identity.
func (t *Tracker) Lookup(connID string) (sessionID, participantID string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, exists := t.conns[connID]
	if !exists {
		return "", "", false
	}
	return b.sessionID, b.participantID, true
}

// remove must be called with t.mu held.
func (t *Tracker) remove(b *binding) {
	delete(t.conns, b.connID)
	if members, ok := t.byMember[b.sessionID]; ok {
		if members[b.participantID] == b.connID {
			delete(members, b.participantID)
		}
		if len(members) == 0 {
			delete(t.byMember, b.sessionID)
		}
	}
}

// Run sweeps for expired connections until ctx is done. Expired bindings are
// removed and reported through the ExpireFunc.
func (t *Tracker) Run(ctx context.Context) {
	logger := log.WithComponent("presence")
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, b := range t.expire(now) {
				logger.Info().
					Str(log.FieldSessionID, b.sessionID).
					Str(log.FieldParticipantID, b.participantID).
					Str(log.FieldConnectionID, b.connID).
					Msg("connection expired after missed heartbeats")
				if t.onExpire != nil {
					t.onExpire(b.sessionID, b.participantID, b.connID)
				}
			}
		}
	}
}

// expire collects and removes bindings whose deadline has passed.
func (t *Tracker) expire(now time.Time) []*binding {
	deadline := time.Duration(t.missed) * t.interval

	t.mu.Lock()
	defer t.mu.Unlock()
	var expired []*binding
	for _, b := range t.conns {
		if now.Sub(b.lastBeat) >= deadline {
			expired = append(expired, b)
		}
	}
	for _, b := range expired {
		t.remove(b)
	}
	return expired
}

// ExpireNow expires every live binding immediately, used at shutdown.
func (t *Tracker) ExpireNow() int {
	expired := t.expire(time.Now().Add(time.Duration(t.missed) * t.interval))
	for _, b := range expired {
		if t.onExpire != nil {
			t.onExpire(b.sessionID, b.participantID, b.connID)
		}
	}
	return len(expired)
}
