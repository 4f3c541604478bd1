// SPDX-License-Identifier: MIT

// Package moderator watches working sessions for participants who have
// gone quiet and nudges them back into the conversation.
package moderator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/broadcomms/brainstormx/internal/log"
	"github.com/broadcomms/brainstormx/internal/metrics"
	"github.com/broadcomms/brainstormx/internal/workshop"
)

// NudgeFunc delivers a nudge to one participant. The orchestrator
// implements it; generation and event publishing happen there, outside
// any session lock held by the sweep.
type NudgeFunc func(ctx context.Context, sessionID, participantID string) error

// Options tune the inactivity detection.
type Options struct {
	// Threshold is how long a participant may stay silent during the
	// working session before a nudge is due.
	Threshold time.Duration
	// Cooldown is the minimum gap between two nudges to the same
	// participant.
	Cooldown time.Duration
	// SweepInterval is how often live sessions are scanned.
	SweepInterval time.Duration
}

// Moderator periodically scans live sessions and nudges idle
// participants. Nudging applies only while the working session stage is
// open and the session is active; paused sessions are left alone.
type Moderator struct {
	store *workshop.Store
	nudge NudgeFunc
	opts  Options

	mu     sync.Mutex
	nudged map[string]time.Time // sessionID|participantID -> last nudge

	logger zerolog.Logger
	now    func() time.Time
}

func New(store *workshop.Store, nudge NudgeFunc, opts Options) *Moderator {
	return &Moderator{
		store:  store,
		nudge:  nudge,
		opts:   opts,
		nudged: make(map[string]time.Time),
		logger: log.WithComponent("moderator"),
		now:    time.Now,
	}
}

// Run sweeps until the context is cancelled.
func (m *Moderator) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

type candidate struct {
	sessionID     string
	participantID string
}

// Sweep scans every live session once and nudges whoever is due.
func (m *Moderator) Sweep(ctx context.Context) {
	now := m.now()
	var due []candidate
	for _, id := range m.store.IDs() {
		idle := m.idleParticipants(id, now)
		for _, pid := range idle {
			if m.claim(id, pid, now) {
				due = append(due, candidate{sessionID: id, participantID: pid})
			}
		}
	}

	for _, c := range due {
		if err := m.nudge(ctx, c.sessionID, c.participantID); err != nil {
			m.logger.Warn().Err(err).
				Str(log.FieldSessionID, c.sessionID).
				Str(log.FieldParticipantID, c.participantID).
				Msg("nudge delivery failed")
			m.release(c.sessionID, c.participantID)
			continue
		}
		metrics.NudgesSentTotal.Inc()
		m.logger.Debug().
			Str(log.FieldSessionID, c.sessionID).
			Str(log.FieldParticipantID, c.participantID).
			Msg("participant nudged")
	}
}

// idleParticipants returns online contributors silent past the threshold.
func (m *Moderator) idleParticipants(sessionID string, now time.Time) []string {
	var idle []string
	err := m.store.View(sessionID, func(s *workshop.Session) error {
		if s.State != workshop.LifecycleActive || s.CurrentStage() != workshop.StageWorkingSession {
			return nil
		}
		lastSeen := make(map[string]time.Time, len(s.Participants))
		for id, p := range s.Participants {
			if p.Online && p.Role != workshop.RoleObserver {
				lastSeen[id] = p.JoinedAt
			}
		}
		for _, msg := range s.Chat {
			if t, ok := lastSeen[msg.SenderID]; ok && msg.SentAt.After(t) {
				lastSeen[msg.SenderID] = msg.SentAt
			}
		}
		for _, idea := range s.Ideas {
			if t, ok := lastSeen[idea.AuthorID]; ok && idea.SubmittedAt.After(t) {
				lastSeen[idea.AuthorID] = idea.SubmittedAt
			}
		}
		for id, t := range lastSeen {
			if now.Sub(t) >= m.opts.Threshold {
				idle = append(idle, id)
			}
		}
		return nil
	})
	if err != nil {
		// Session concluded between listing and scanning.
		return nil
	}
	return idle
}

// claim records a nudge timestamp unless the cooldown still applies.
func (m *Moderator) claim(sessionID, participantID string, now time.Time) bool {
	key := sessionID + "|" + participantID
	m.mu.Lock()
	defer m.mu.Unlock()
	if last, ok := m.nudged[key]; ok && now.Sub(last) < m.opts.Cooldown {
		return false
	}
	m.nudged[key] = now
	return true
}

func (m *Moderator) release(sessionID, participantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.nudged, sessionID+"|"+participantID)
}

// ForgetSession drops cooldown state for a concluded session.
func (m *Moderator) ForgetSession(sessionID string) {
	prefix := sessionID + "|"
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.nudged {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(m.nudged, key)
		}
	}
}
