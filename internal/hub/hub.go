// SPDX-License-Identifier: MIT

package hub

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/broadcomms/brainstormx/internal/log"
	"github.com/broadcomms/brainstormx/internal/metrics"
	"github.com/broadcomms/brainstormx/internal/workshop"
)

// subscriberBuffer is the per-subscriber channel capacity. A subscriber
// that falls this far behind a live session is dropped rather than
// allowed to stall publishing.
const subscriberBuffer = 64

// Hub delivers committed session events to subscribers in sequence order.
// Publish never blocks on a consumer: a subscriber whose buffer is full
// is dropped and must resubscribe with its last seen sequence.
type Hub struct {
	mu      sync.Mutex
	topics  map[string]*topic
	backlog Backlog
	logger  zerolog.Logger
}

type topic struct {
	subs    map[*Subscription]struct{}
	lastSeq uint64
}

// Subscription is one consumer's ordered event feed. The channel is
// closed when the subscriber is dropped or the session's topic is torn
// down; consumers detect the close and resubscribe or fall back to a
// snapshot.
type Subscription struct {
	ch     chan workshop.Event
	cancel func()
}

// C returns the ordered event channel.
func (s *Subscription) C() <-chan workshop.Event { return s.ch }

// Close detaches the subscription from the hub.
func (s *Subscription) Close() { s.cancel() }

// New creates a hub backed by the given backlog store.
func New(backlog Backlog) *Hub {
	return &Hub{
		topics:  make(map[string]*topic),
		backlog: backlog,
		logger:  log.WithComponent("hub"),
	}
}

// Publish appends the event to the backlog and fans it out. Events for a
// session must be published in commit order; the caller (the
// orchestrator) guarantees this by publishing after Store.Apply returns.
func (h *Hub) Publish(ctx context.Context, ev workshop.Event) error {
	if err := h.backlog.Append(ctx, ev); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	tp, ok := h.topics[ev.SessionID]
	if !ok {
		tp = &topic{subs: make(map[*Subscription]struct{})}
		h.topics[ev.SessionID] = tp
	}
	if tp.lastSeq != 0 && ev.Seq != tp.lastSeq+1 {
		return fmt.Errorf("hub: publish out of order for %s: seq %d after %d", ev.SessionID, ev.Seq, tp.lastSeq)
	}
	tp.lastSeq = ev.Seq

	for sub := range tp.subs {
		select {
		case sub.ch <- ev:
		default:
			h.dropLocked(tp, sub, "slow_subscriber")
			h.logger.Warn().
				Str(log.FieldSessionID, ev.SessionID).
				Uint64(log.FieldSequence, ev.Seq).
				Msg("dropped slow subscriber")
		}
	}
	metrics.EventsPublishedTotal.WithLabelValues(string(ev.Kind)).Inc()
	return nil
}

// Subscribe attaches a consumer to a session's event feed, first
// replaying every backlog event with Seq > lastSeen. When the gap since
// lastSeen is no longer covered by the backlog it returns
// ErrBacklogExpired and the consumer must load a snapshot instead.
func (h *Hub) Subscribe(ctx context.Context, sessionID string, lastSeen uint64) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Holding the hub lock across the backlog read keeps replay and live
	// delivery gapless: publishers are excluded until the subscriber is
	// registered.
	replay, err := h.backlog.After(ctx, sessionID, lastSeen)
	if err != nil {
		return nil, err
	}

	tp, ok := h.topics[sessionID]
	if !ok {
		tp = &topic{subs: make(map[*Subscription]struct{})}
		h.topics[sessionID] = tp
	}
	covered := lastSeen
	if n := len(replay); n > 0 {
		covered = replay[n-1].Seq
	}
	if covered < tp.lastSeq {
		return nil, ErrBacklogExpired
	}

	sub := &Subscription{ch: make(chan workshop.Event, subscriberBuffer+len(replay))}
	sub.cancel = func() { h.remove(sessionID, sub) }
	for _, ev := range replay {
		sub.ch <- ev
	}
	if len(replay) > 0 {
		metrics.HubReplayedTotal.Add(float64(len(replay)))
	}
	tp.subs[sub] = struct{}{}
	metrics.HubSubscribers.Inc()
	return sub, nil
}

// DropSession tears down every subscription and the backlog for a
// concluded session.
func (h *Hub) DropSession(ctx context.Context, sessionID string) error {
	h.mu.Lock()
	if tp, ok := h.topics[sessionID]; ok {
		for sub := range tp.subs {
			h.dropLocked(tp, sub, "session_concluded")
		}
		delete(h.topics, sessionID)
	}
	h.mu.Unlock()

	return h.backlog.Drop(ctx, sessionID)
}

// Subscribers returns the live subscription count for a session.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if tp, ok := h.topics[sessionID]; ok {
		return len(tp.subs)
	}
	return 0
}

func (h *Hub) dropLocked(tp *topic, sub *Subscription, reason string) {
	if _, ok := tp.subs[sub]; !ok {
		return
	}
	delete(tp.subs, sub)
	close(sub.ch)
	metrics.HubSubscribers.Dec()
	if reason != "" {
		metrics.IncHubDrop(reason)
	}
}

func (h *Hub) remove(sessionID string, sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if tp, ok := h.topics[sessionID]; ok {
		h.dropLocked(tp, sub, "")
		if len(tp.subs) == 0 && tp.lastSeq == 0 {
			delete(h.topics, sessionID)
		}
	}
}
