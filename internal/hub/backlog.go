// SPDX-License-Identifier: MIT

// Package hub fans session events out to subscribers in strict sequence
// order and keeps a bounded per-session backlog for reconnect replay.
package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/broadcomms/brainstormx/internal/workshop"
)

// ErrBacklogExpired signals that the requested replay position has fallen
// out of the retained backlog. The caller must fetch a full snapshot and
// resubscribe from its sequence.
var ErrBacklogExpired = errors.New("hub: backlog expired")

// Backlog stores recently published events per session. Implementations
// must retain events in sequence order.
type Backlog interface {
	// Append records one committed event.
	Append(ctx context.Context, ev workshop.Event) error
	// After returns all retained events with Seq > afterSeq. It returns
	// ErrBacklogExpired when events newer than afterSeq have already been
	// evicted, so the gap cannot be reconstructed.
	After(ctx context.Context, sessionID string, afterSeq uint64) ([]workshop.Event, error)
	// Drop discards every retained event for a session.
	Drop(ctx context.Context, sessionID string) error
}

type backlogEntry struct {
	ev    workshop.Event
	added time.Time
}

// MemoryBacklog is the default single-process backlog: a bounded window
// per session, evicting by count and by age.
type MemoryBacklog struct {
	mu       sync.Mutex
	sessions map[string][]backlogEntry
	size     int
	ttl      time.Duration
	now      func() time.Time
}

// NewMemoryBacklog creates a backlog retaining at most size events per
// session, each for at most ttl.
func NewMemoryBacklog(size int, ttl time.Duration) *MemoryBacklog {
	return &MemoryBacklog{
		sessions: make(map[string][]backlogEntry),
		size:     size,
		ttl:      ttl,
		now:      time.Now,
	}
}

func (b *MemoryBacklog) Append(_ context.Context, ev workshop.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := append(b.sessions[ev.SessionID], backlogEntry{ev: ev, added: b.now()})
	entries = b.evict(entries)
	b.sessions[ev.SessionID] = entries
	return nil
}

func (b *MemoryBacklog) evict(entries []backlogEntry) []backlogEntry {
	if len(entries) > b.size {
		entries = entries[len(entries)-b.size:]
	}
	cutoff := b.now().Add(-b.ttl)
	i := 0
	for i < len(entries) && entries[i].added.Before(cutoff) {
		i++
	}
	return entries[i:]
}

func (b *MemoryBacklog) After(_ context.Context, sessionID string, afterSeq uint64) ([]workshop.Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := b.evict(b.sessions[sessionID])
	b.sessions[sessionID] = entries

	if len(entries) > 0 && entries[0].ev.Seq > afterSeq+1 {
		return nil, ErrBacklogExpired
	}
	var out []workshop.Event
	for _, e := range entries {
		if e.ev.Seq > afterSeq {
			out = append(out, e.ev)
		}
	}
	return out, nil
}

func (b *MemoryBacklog) Drop(_ context.Context, sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, sessionID)
	return nil
}

var _ Backlog = (*MemoryBacklog)(nil)
