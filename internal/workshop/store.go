// SPDX-License-Identifier: MIT

package workshop

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/broadcomms/brainstormx/internal/log"
	"github.com/broadcomms/brainstormx/internal/metrics"
	"github.com/google/uuid"
)

// Store owns every live session. All session state is reachable only through
// the store, and every mutation runs under the session's exclusive lock so
// state transitions are linearized per session. Sessions never block each
// other.
type Store struct {
	mu    sync.RWMutex
	slots map[string]*slot

	// commitHook runs after a successful Apply while the session lock is
	// still held, so downstream consumers observe events in commit order.
	commitHook func(context.Context, []Event)
}

type slot struct {
	mu      sync.Mutex
	session *Session
	// committedSeq is the sequence number of the last committed event.
	// Apply verifies contiguity of emitted events against it.
	committedSeq uint64
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{slots: make(map[string]*slot)}
}

// SetCommitHook registers the function called with committed events under
// the session lock. Must be set during wiring, before any Apply.
func (st *Store) SetCommitHook(fn func(context.Context, []Event)) {
	st.commitHook = fn
}

// Create registers a new session owned by the given organizer and returns
// its snapshot. The organizer is recorded as a participant immediately but
// stays offline until the presence tracker binds a connection.
func (st *Store) Create(ctx context.Context, organizerID, displayName, title, objective string) (*SessionSnapshot, error) {
	now := time.Now().UTC()
	s := &Session{
		ID:          uuid.NewString(),
		Title:       title,
		Objective:   objective,
		OrganizerID: organizerID,
		State:       LifecycleLobby,
		Stages:      DefaultStages(),
		StageIndex:  0,
		StageStatus: StageStatusPending,
		Participants: map[string]*Participant{
			organizerID: {
				ID:          organizerID,
				DisplayName: displayName,
				Role:        RoleOrganizer,
				JoinedAt:    now,
			},
		},
		Votes:     make(map[string]*Vote),
		Artifacts: make(map[ArtifactTag]*Artifact),
		CreatedAt: now,
		UpdatedAt: now,
	}

	st.mu.Lock()
	st.slots[s.ID] = &slot{session: s}
	st.mu.Unlock()

	metrics.SessionsActive.Inc()
	logger := log.WithComponentFromContext(ctx, "store")
	logger.Info().
		Str(log.FieldSessionID, s.ID).
		Str(log.FieldParticipantID, organizerID).
		Msg("session created")
	return s.Snapshot(), nil
}

func (st *Store) lookup(id string) (*slot, error) {
	st.mu.RLock()
	sl, ok := st.slots[id]
	st.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return sl, nil
}

// Apply runs fn under the session's exclusive lock. fn mutates the session
// and returns the events describing the mutation; Apply verifies that their
// sequence numbers are contiguous before committing. A detected gap
// quarantines the session, since it indicates a lock-discipline bug rather
// than a recoverable condition.
func (st *Store) Apply(ctx context.Context, id string, fn func(*Session) ([]Event, error)) ([]Event, error) {
	sl, err := st.lookup(id)
	if err != nil {
		return nil, err
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()

	s := sl.session
	if s.quarantined {
		return nil, fmt.Errorf("session %s: %w", id, ErrQuarantined)
	}
	if s.State == LifecycleConcluded {
		return nil, fmt.Errorf("session %s is concluded: %w", id, ErrConflict)
	}

	events, err := fn(s)
	if err != nil {
		return nil, err
	}

	for _, ev := range events {
		if ev.Seq != sl.committedSeq+1 {
			s.quarantined = true
			metrics.SessionsQuarantinedTotal.Inc()
			logger := log.WithComponentFromContext(ctx, "store")
			logger.Error().
				Str(log.FieldSessionID, id).
				Uint64("expected", sl.committedSeq+1).
				Uint64("got", ev.Seq).
				Msg("sequence gap detected, quarantining session")
			return nil, fmt.Errorf("session %s: sequence gap (expected %d, got %d): %w",
				id, sl.committedSeq+1, ev.Seq, ErrQuarantined)
		}
		sl.committedSeq = ev.Seq
	}

	s.UpdatedAt = time.Now().UTC()
	if st.commitHook != nil && len(events) > 0 {
		st.commitHook(ctx, events)
	}
	return events, nil
}

// View runs fn under the session's lock without allowing event emission.
// Intended for reads that need a consistent view.
func (st *Store) View(id string, fn func(*Session) error) error {
	sl, err := st.lookup(id)
	if err != nil {
		return err
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return fn(sl.session)
}

// Snapshot returns a deep copy of the session state, safe to use without
// holding any lock.
func (st *Store) Snapshot(id string) (*SessionSnapshot, error) {
	var snap *SessionSnapshot
	err := st.View(id, func(s *Session) error {
		snap = s.Snapshot()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Remove releases a session after it has been archived. Further operations
// on the ID return NotFound.
func (st *Store) Remove(id string) {
	st.mu.Lock()
	_, ok := st.slots[id]
	delete(st.slots, id)
	st.mu.Unlock()
	if ok {
		metrics.SessionsActive.Dec()
	}
}

// IDs returns the IDs of all live sessions in unspecified order.
func (st *Store) IDs() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	ids := make([]string, 0, len(st.slots))
	for id := range st.slots {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.slots)
}

// SessionSnapshot is an immutable deep copy of a session, used for the API
// state fetch, AI context assembly, and the archive hand-off.
type SessionSnapshot struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Objective    string        `json:"objective"`
	OrganizerID  string        `json:"organizer_id"`
	State        Lifecycle     `json:"state"`
	Stage        Stage         `json:"stage"`
	StageStatus  StageStatus   `json:"stage_status"`
	Stages       []Stage       `json:"stages"`
	Participants []Participant `json:"participants"`
	Ideas        []IdeaRecord  `json:"ideas"`
	Votes        []Vote        `json:"votes"`
	Chat         []ChatMessage `json:"chat"`
	Artifacts    []Artifact    `json:"artifacts"`
	LastSeq      uint64        `json:"last_seq"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Snapshot deep-copies the session. Callers must hold the session lock,
// which Store.View and Store.Apply guarantee.
func (s *Session) Snapshot() *SessionSnapshot {
	snap := &SessionSnapshot{
		ID:          s.ID,
		Title:       s.Title,
		Objective:   s.Objective,
		OrganizerID: s.OrganizerID,
		State:       s.State,
		Stage:       s.CurrentStage(),
		StageStatus: s.StageStatus,
		Stages:      append([]Stage(nil), s.Stages...),
		LastSeq:     s.lastSeq,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
	for _, p := range s.Participants {
		snap.Participants = append(snap.Participants, *p)
	}
	sort.Slice(snap.Participants, func(i, j int) bool {
		return snap.Participants[i].ID < snap.Participants[j].ID
	})
	for _, idea := range s.Ideas {
		snap.Ideas = append(snap.Ideas, *idea)
	}
	for _, v := range s.Votes {
		snap.Votes = append(snap.Votes, *v)
	}
	sort.Slice(snap.Votes, func(i, j int) bool {
		return snap.Votes[i].ParticipantID < snap.Votes[j].ParticipantID
	})
	for _, m := range s.Chat {
		snap.Chat = append(snap.Chat, *m)
	}
	for _, a := range s.Artifacts {
		snap.Artifacts = append(snap.Artifacts, *a)
	}
	sort.Slice(snap.Artifacts, func(i, j int) bool {
		return snap.Artifacts[i].Tag < snap.Artifacts[j].Tag
	})
	return snap
}
