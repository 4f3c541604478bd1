// SPDX-License-Identifier: MIT

// Package orchestrator is the single entry point for every session
// mutation. It enforces role permissions, runs all state changes through
// the store's per-session lock, and broadcasts committed events through
// the hub strictly after commit. AI generation never runs under a session
// lock: a context snapshot is taken under the lock, the provider call runs
// outside, and the result is committed through a second locked apply.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/broadcomms/brainstormx/internal/aigw"
	"github.com/broadcomms/brainstormx/internal/hub"
	"github.com/broadcomms/brainstormx/internal/log"
	"github.com/broadcomms/brainstormx/internal/metrics"
	"github.com/broadcomms/brainstormx/internal/pipeline"
	"github.com/broadcomms/brainstormx/internal/voting"
	"github.com/broadcomms/brainstormx/internal/workshop"
)

// Generator produces one facilitation artifact. *aigw.Gateway implements
// it; tests substitute a fake.
type Generator interface {
	Generate(ctx context.Context, sessionID string, tag workshop.ArtifactTag, cs aigw.ContextSnapshot) (*workshop.Artifact, error)
}

// Archiver persists a concluded session. *archive.Store implements it.
type Archiver interface {
	Archive(ctx context.Context, snap *workshop.SessionSnapshot) error
}

// Options carry the orchestrator collaborators and tuning.
type Options struct {
	Store   *workshop.Store
	Hub     *hub.Hub
	Gateway Generator
	Archive Archiver // optional; nil skips archiving

	// QuorumWindow bounds the voting stage; once elapsed the session
	// advances even with votes missing.
	QuorumWindow time.Duration
	// QuorumSweepInterval is how often window expiry is checked.
	QuorumSweepInterval time.Duration

	// OnConclude is called after a session is fully torn down. Used to
	// release per-session state held elsewhere (moderator cooldowns,
	// presence bindings).
	OnConclude func(sessionID string)
}

type Orchestrator struct {
	store   *workshop.Store
	hub     *hub.Hub
	gateway Generator
	archive Archiver

	window        time.Duration
	sweepInterval time.Duration
	onConclude    func(string)

	genMu      sync.Mutex
	genCtx     map[string]context.Context
	genCancel  map[string]context.CancelFunc
	generating sync.WaitGroup

	logger zerolog.Logger
}

func New(opts Options) *Orchestrator {
	if opts.QuorumWindow <= 0 {
		opts.QuorumWindow = 5 * time.Minute
	}
	if opts.QuorumSweepInterval <= 0 {
		opts.QuorumSweepInterval = 10 * time.Second
	}
	o := &Orchestrator{
		store:         opts.Store,
		hub:           opts.Hub,
		gateway:       opts.Gateway,
		archive:       opts.Archive,
		window:        opts.QuorumWindow,
		sweepInterval: opts.QuorumSweepInterval,
		onConclude:    opts.OnConclude,
		genCtx:        make(map[string]context.Context),
		genCancel:     make(map[string]context.CancelFunc),
		logger:        log.WithComponent("orchestrator"),
	}
	// Events reach the hub under the session lock so subscribers always
	// observe them in commit order.
	opts.Store.SetCommitHook(o.publish)
	return o
}

// newEvent stamps the next contiguous sequence number. Must run inside
// Store.Apply.
func newEvent(s *workshop.Session, kind workshop.EventKind, payload any) workshop.Event {
	return workshop.Event{
		Seq:       s.NextSeq(),
		SessionID: s.ID,
		Kind:      kind,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// publish fans committed events out. Delivery failure is logged, never
// surfaced to the caller: the mutation is already committed.
func (o *Orchestrator) publish(ctx context.Context, events []workshop.Event) {
	for _, ev := range events {
		if err := o.hub.Publish(ctx, ev); err != nil {
			o.logger.Error().Err(err).
				Str(log.FieldSessionID, ev.SessionID).
				Uint64(log.FieldSequence, ev.Seq).
				Str(log.FieldEvent, string(ev.Kind)).
				Msg("event broadcast failed")
		}
	}
}

func requireOrganizer(s *workshop.Session, actorID string) error {
	p, ok := s.Participants[actorID]
	if !ok {
		return fmt.Errorf("participant %s: %w", actorID, workshop.ErrNotFound)
	}
	if p.Role != workshop.RoleOrganizer {
		return fmt.Errorf("participant %s is %s, organizer required: %w",
			actorID, p.Role, workshop.ErrForbidden)
	}
	return nil
}

// CreateSession registers a new session and its generation scope.
func (o *Orchestrator) CreateSession(ctx context.Context, organizerID, displayName, title, objective string) (*workshop.SessionSnapshot, error) {
	title = strings.TrimSpace(title)
	if organizerID == "" || title == "" {
		return nil, fmt.Errorf("organizer and title are required: %w", workshop.ErrConflict)
	}
	snap, err := o.store.Create(ctx, organizerID, displayName, title, objective)
	if err != nil {
		return nil, err
	}

	genCtx, cancel := context.WithCancel(context.Background())
	o.genMu.Lock()
	o.genCtx[snap.ID] = genCtx
	o.genCancel[snap.ID] = cancel
	o.genMu.Unlock()
	return snap, nil
}

// Join adds a participant, or brings a returning participant back online.
// A rejoin under the same identity keeps the participant record; the
// caller resynchronizes by replaying events from its last seen sequence.
func (o *Orchestrator) Join(ctx context.Context, sessionID, participantID, displayName string, role workshop.Role) (*workshop.SessionSnapshot, error) {
	if participantID == "" {
		return nil, fmt.Errorf("participant id is required: %w", workshop.ErrConflict)
	}
	switch role {
	case workshop.RoleOrganizer, workshop.RoleMember, workshop.RoleObserver:
	default:
		return nil, fmt.Errorf("unknown role %q: %w", role, workshop.ErrConflict)
	}

	var snap *workshop.SessionSnapshot
	_, err := o.store.Apply(ctx, sessionID, func(s *workshop.Session) ([]workshop.Event, error) {
		var evs []workshop.Event
		if p, ok := s.Participants[participantID]; ok {
			if !p.Online {
				p.Online = true
				evs = append(evs, newEvent(s, workshop.EventParticipantJoined, workshop.ParticipantPayload{
					ParticipantID: p.ID, DisplayName: p.DisplayName, Role: p.Role,
				}))
			}
		} else {
			if role == workshop.RoleOrganizer && participantID != s.OrganizerID {
				return nil, fmt.Errorf("session already has an organizer: %w", workshop.ErrForbidden)
			}
			s.Participants[participantID] = &workshop.Participant{
				ID:          participantID,
				DisplayName: displayName,
				Role:        role,
				JoinedAt:    time.Now().UTC(),
				Online:      true,
			}
			evs = append(evs, newEvent(s, workshop.EventParticipantJoined, workshop.ParticipantPayload{
				ParticipantID: participantID, DisplayName: displayName, Role: role,
			}))
		}
		snap = s.Snapshot()
		return evs, nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Leave marks a participant offline. The record and their contributions
// stay in the session.
func (o *Orchestrator) Leave(ctx context.Context, sessionID, participantID string) error {
	_, err := o.store.Apply(ctx, sessionID, func(s *workshop.Session) ([]workshop.Event, error) {
		p, ok := s.Participants[participantID]
		if !ok {
			return nil, fmt.Errorf("participant %s: %w", participantID, workshop.ErrNotFound)
		}
		if !p.Online {
			return nil, nil
		}
		p.Online = false
		return []workshop.Event{newEvent(s, workshop.EventParticipantLeft, workshop.ParticipantPayload{
			ParticipantID: p.ID, DisplayName: p.DisplayName, Role: p.Role,
		})}, nil
	})
	if err != nil {
		return err
	}
	return nil
}

// Disconnect is the presence-expiry path of Leave. A session that
// concluded in the meantime is not an error.
func (o *Orchestrator) Disconnect(sessionID, participantID string) {
	ctx := context.Background()
	if err := o.Leave(ctx, sessionID, participantID); err != nil &&
		!errors.Is(err, workshop.ErrNotFound) && !errors.Is(err, workshop.ErrConflict) {
		o.logger.Warn().Err(err).
			Str(log.FieldSessionID, sessionID).
			Str(log.FieldParticipantID, participantID).
			Msg("disconnect cleanup failed")
	}
}

// PostChat appends a chat message. Chat stays open in every state except
// concluded, including while the session is paused.
func (o *Orchestrator) PostChat(ctx context.Context, sessionID, senderID, content string) (*workshop.ChatMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("empty chat message: %w", workshop.ErrConflict)
	}

	var msg *workshop.ChatMessage
	_, err := o.store.Apply(ctx, sessionID, func(s *workshop.Session) ([]workshop.Event, error) {
		if _, ok := s.Participants[senderID]; !ok {
			return nil, fmt.Errorf("participant %s: %w", senderID, workshop.ErrNotFound)
		}
		seq := s.NextSeq()
		msg = &workshop.ChatMessage{
			ID:       uuid.NewString(),
			SenderID: senderID,
			Content:  content,
			Seq:      seq,
			SentAt:   time.Now().UTC(),
		}
		s.Chat = append(s.Chat, msg)
		return []workshop.Event{{
			Seq:       seq,
			SessionID: s.ID,
			Kind:      workshop.EventChatPosted,
			Payload:   msg,
			Timestamp: msg.SentAt,
		}}, nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// SubmitIdea records an idea during the working session.
func (o *Orchestrator) SubmitIdea(ctx context.Context, sessionID, authorID, content string) (*workshop.IdeaRecord, error) {
	var idea *workshop.IdeaRecord
	_, err := o.store.Apply(ctx, sessionID, func(s *workshop.Session) ([]workshop.Event, error) {
		var err error
		idea, err = voting.SubmitIdea(s, authorID, content)
		if err != nil {
			return nil, err
		}
		return []workshop.Event{newEvent(s, workshop.EventIdeaSubmitted, idea)}, nil
	})
	if err != nil {
		return nil, err
	}
	return idea, nil
}

// CastVote records or moves a participant's vote. When the vote completes
// the quorum the session advances out of the voting stage in the same
// commit, so the vote and the advance are observed in order by every
// subscriber.
func (o *Orchestrator) CastVote(ctx context.Context, sessionID, participantID, ideaID string, weight int) (*workshop.Vote, error) {
	var vote *workshop.Vote
	_, err := o.store.Apply(ctx, sessionID, func(s *workshop.Session) ([]workshop.Event, error) {
		var err error
		vote, err = voting.CastVote(s, participantID, ideaID, weight)
		if err != nil {
			return nil, err
		}
		evs := []workshop.Event{newEvent(s, workshop.EventVoteCast, workshop.VotePayload{
			ParticipantID: vote.ParticipantID, IdeaID: vote.IdeaID, Weight: vote.Weight,
		})}

		if voting.QuorumReached(s, o.window, time.Now()) {
			res, err := pipeline.AdvanceFrom(s, workshop.StageVoting)
			if err != nil {
				return nil, err
			}
			if res.Advanced {
				evs = append(evs, newEvent(s, workshop.EventStageAdvanced, workshop.StagePayload{
					Stage: res.Stage, Status: res.Status,
				}))
			}
		}
		return evs, nil
	})
	if err != nil {
		return nil, err
	}
	return vote, nil
}

// StartSession opens the first stage. Organizer only.
func (o *Orchestrator) StartSession(ctx context.Context, sessionID, actorID string) error {
	return o.advance(ctx, sessionID, actorID, "", true)
}

// AdvanceStage moves the session past the given stage. Organizer only;
// idempotent against duplicate requests carrying a stale stage view.
func (o *Orchestrator) AdvanceStage(ctx context.Context, sessionID, actorID string, from workshop.Stage) error {
	return o.advance(ctx, sessionID, actorID, from, false)
}

func (o *Orchestrator) advance(ctx context.Context, sessionID, actorID string, from workshop.Stage, begin bool) error {
	var (
		res  pipeline.AdvanceResult
		snap aigw.ContextSnapshot
	)
	_, err := o.store.Apply(ctx, sessionID, func(s *workshop.Session) ([]workshop.Event, error) {
		if err := requireOrganizer(s, actorID); err != nil {
			return nil, err
		}
		var err error
		if begin {
			res, err = pipeline.Begin(s)
		} else {
			res, err = pipeline.AdvanceFrom(s, from)
		}
		if err != nil {
			return nil, err
		}
		if !res.Advanced {
			return nil, nil
		}
		if res.Generate != "" {
			snap = aigw.SnapshotFromSession(s.Snapshot())
		}
		return []workshop.Event{newEvent(s, workshop.EventStageAdvanced, workshop.StagePayload{
			Stage: res.Stage, Status: res.Status,
		})}, nil
	})
	if err != nil {
		return err
	}

	if res.Advanced && res.Generate != "" {
		o.spawnGeneration(sessionID, res.Generate, snap)
	}
	return nil
}

// RetryArtifact regenerates the current stage's artifact after a failure
// or degrade. Organizer only; attempts stay bounded across retries.
func (o *Orchestrator) RetryArtifact(ctx context.Context, sessionID, actorID string) error {
	var (
		tag  workshop.ArtifactTag
		snap aigw.ContextSnapshot
	)
	_, err := o.store.Apply(ctx, sessionID, func(s *workshop.Session) ([]workshop.Event, error) {
		if err := requireOrganizer(s, actorID); err != nil {
			return nil, err
		}
		t, ok := pipeline.ArtifactFor(s.CurrentStage())
		if !ok {
			return nil, fmt.Errorf("stage %s has no artifact: %w", s.CurrentStage(), workshop.ErrConflict)
		}
		if s.StageStatus == workshop.StageStatusReady {
			return nil, fmt.Errorf("stage %s artifact is ready: %w", s.CurrentStage(), workshop.ErrConflict)
		}
		if s.StageAttempts >= pipeline.MaxAttempts {
			return nil, fmt.Errorf("generation attempts exhausted for %s: %w", t, workshop.ErrConflict)
		}
		tag = t
		snap = aigw.SnapshotFromSession(s.Snapshot())
		return nil, nil
	})
	if err != nil {
		return err
	}
	o.spawnGeneration(sessionID, tag, snap)
	return nil
}

// Pause suspends the session. Organizer only.
func (o *Orchestrator) Pause(ctx context.Context, sessionID, actorID string) error {
	_, err := o.store.Apply(ctx, sessionID, func(s *workshop.Session) ([]workshop.Event, error) {
		if err := requireOrganizer(s, actorID); err != nil {
			return nil, err
		}
		if err := pipeline.Pause(s); err != nil {
			return nil, err
		}
		return []workshop.Event{newEvent(s, workshop.EventSessionPaused, nil)}, nil
	})
	if err != nil {
		return err
	}
	return nil
}

// Resume reactivates a paused session. Organizer only.
func (o *Orchestrator) Resume(ctx context.Context, sessionID, actorID string) error {
	_, err := o.store.Apply(ctx, sessionID, func(s *workshop.Session) ([]workshop.Event, error) {
		if err := requireOrganizer(s, actorID); err != nil {
			return nil, err
		}
		if err := pipeline.Resume(s); err != nil {
			return nil, err
		}
		return []workshop.Event{newEvent(s, workshop.EventSessionResumed, nil)}, nil
	})
	if err != nil {
		return err
	}
	return nil
}

// Conclude ends the session for good: in-flight generation is cancelled,
// the conclusion event is the last one broadcast, the final snapshot is
// archived, and the session is released from memory.
func (o *Orchestrator) Conclude(ctx context.Context, sessionID, actorID string) error {
	var final *workshop.SessionSnapshot
	_, err := o.store.Apply(ctx, sessionID, func(s *workshop.Session) ([]workshop.Event, error) {
		if err := requireOrganizer(s, actorID); err != nil {
			return nil, err
		}
		s.State = workshop.LifecycleConcluded
		ev := newEvent(s, workshop.EventSessionConcluded, nil)
		final = s.Snapshot()
		return []workshop.Event{ev}, nil
	})
	if errors.Is(err, workshop.ErrConflict) {
		// A previous conclude marked the session but failed during
		// archiving. Resume the teardown instead of rejecting.
		viewErr := o.store.View(sessionID, func(s *workshop.Session) error {
			if err := requireOrganizer(s, actorID); err != nil {
				return err
			}
			if s.State != workshop.LifecycleConcluded {
				return fmt.Errorf("session %s is %s: %w", sessionID, s.State, workshop.ErrConflict)
			}
			final = s.Snapshot()
			return nil
		})
		if viewErr != nil {
			return viewErr
		}
		err = nil
	}
	if err != nil {
		return err
	}

	o.cancelGeneration(sessionID)

	if o.archive != nil {
		if err := o.archive.Archive(ctx, final); err != nil {
			// Keep the session resident so the conclude can be repeated
			// once the archive is reachable again.
			return fmt.Errorf("conclude %s: %w", sessionID, err)
		}
	}

	if err := o.hub.DropSession(ctx, sessionID); err != nil {
		o.logger.Warn().Err(err).Str(log.FieldSessionID, sessionID).Msg("hub teardown failed")
	}
	o.store.Remove(sessionID)
	metrics.SessionsConcludedTotal.Inc()
	if o.onConclude != nil {
		o.onConclude(sessionID)
	}
	o.logger.Info().Str(log.FieldSessionID, sessionID).Msg("session concluded")
	return nil
}

// Snapshot returns a consistent copy of the session state.
func (o *Orchestrator) Snapshot(sessionID string) (*workshop.SessionSnapshot, error) {
	return o.store.Snapshot(sessionID)
}

// SendNudge generates a short personal prompt for a quiet participant and
// broadcasts it. Generation failures fall back to a static nudge; the
// participant always hears something.
func (o *Orchestrator) SendNudge(ctx context.Context, sessionID, participantID string) error {
	var cs aigw.ContextSnapshot
	err := o.store.View(sessionID, func(s *workshop.Session) error {
		p, ok := s.Participants[participantID]
		if !ok {
			return fmt.Errorf("participant %s: %w", participantID, workshop.ErrNotFound)
		}
		cs = aigw.SnapshotFromSession(s.Snapshot())
		cs.NudgeTarget = p.DisplayName
		if cs.NudgeTarget == "" {
			cs.NudgeTarget = p.ID
		}
		return nil
	})
	if err != nil {
		return err
	}

	artifact, err := o.gateway.Generate(o.generationContext(sessionID), sessionID, workshop.TagNudge, cs)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		artifact = pipeline.FallbackArtifact(workshop.TagNudge)
	}

	_, err = o.store.Apply(ctx, sessionID, func(s *workshop.Session) ([]workshop.Event, error) {
		s.Artifacts[workshop.TagNudge] = artifact
		return []workshop.Event{newEvent(s, workshop.EventArtifactGenerated, workshop.ArtifactPayload{
			Artifact: artifact, Target: participantID,
		})}, nil
	})
	if err != nil {
		return err
	}
	return nil
}

// RunQuorumSweep advances sessions whose voting window has expired. It
// runs until the context is cancelled.
func (o *Orchestrator) RunQuorumSweep(ctx context.Context) error {
	ticker := time.NewTicker(o.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			o.SweepQuorum(ctx)
		}
	}
}

// SweepQuorum checks every live session once for an expired voting window.
func (o *Orchestrator) SweepQuorum(ctx context.Context) {
	for _, id := range o.store.IDs() {
		_, err := o.store.Apply(ctx, id, func(s *workshop.Session) ([]workshop.Event, error) {
			if !voting.QuorumReached(s, o.window, time.Now()) {
				return nil, nil
			}
			res, err := pipeline.AdvanceFrom(s, workshop.StageVoting)
			if err != nil || !res.Advanced {
				return nil, err
			}
			return []workshop.Event{newEvent(s, workshop.EventStageAdvanced, workshop.StagePayload{
				Stage: res.Stage, Status: res.Status,
			})}, nil
		})
		if err != nil {
			continue
		}
	}
}

// WaitGenerations blocks until every in-flight generation goroutine has
// finished. Used at shutdown and by tests.
func (o *Orchestrator) WaitGenerations() {
	o.generating.Wait()
}

func (o *Orchestrator) generationContext(sessionID string) context.Context {
	o.genMu.Lock()
	defer o.genMu.Unlock()
	if ctx, ok := o.genCtx[sessionID]; ok {
		return ctx
	}
	// Session predates this process or was created directly in the store.
	ctx, cancel := context.WithCancel(context.Background())
	o.genCtx[sessionID] = ctx
	o.genCancel[sessionID] = cancel
	return ctx
}

func (o *Orchestrator) cancelGeneration(sessionID string) {
	o.genMu.Lock()
	cancel := o.genCancel[sessionID]
	delete(o.genCancel, sessionID)
	delete(o.genCtx, sessionID)
	o.genMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (o *Orchestrator) spawnGeneration(sessionID string, tag workshop.ArtifactTag, cs aigw.ContextSnapshot) {
	o.generating.Add(1)
	go func() {
		defer o.generating.Done()
		o.generateAndCommit(sessionID, tag, cs)
	}()
}

// generateAndCommit runs the provider call outside any session lock and
// commits the outcome through a second apply. A session that concluded
// while the call was in flight discards the result silently.
func (o *Orchestrator) generateAndCommit(sessionID string, tag workshop.ArtifactTag, cs aigw.ContextSnapshot) {
	ctx := o.generationContext(sessionID)
	logger := o.logger.With().
		Str(log.FieldSessionID, sessionID).
		Str(log.FieldStage, string(tag)).
		Logger()

	artifact, genErr := o.gateway.Generate(ctx, sessionID, tag, cs)
	if genErr == nil {
		_, err := o.store.Apply(ctx, sessionID, func(s *workshop.Session) ([]workshop.Event, error) {
			pipeline.RecordAttempt(s)
			pipeline.CommitArtifact(s, artifact)
			return []workshop.Event{newEvent(s, workshop.EventArtifactGenerated, workshop.ArtifactPayload{
				Artifact: artifact,
			})}, nil
		})
		if err != nil {
			logger.Debug().Err(err).Msg("generated artifact discarded")
			return
		}
		return
	}

	if errors.Is(genErr, context.Canceled) {
		logger.Debug().Msg("generation cancelled")
		return
	}
	logger.Warn().Err(genErr).Msg("artifact generation failed")

	// The gateway has already exhausted its transient retries, so the
	// stage degrades to the static fallback right away. A later organizer
	// retry may still replace it with generated content.
	_, err := o.store.Apply(ctx, sessionID, func(s *workshop.Session) ([]workshop.Event, error) {
		pipeline.RecordAttempt(s)
		evs := []workshop.Event{newEvent(s, workshop.EventArtifactFailed, workshop.ArtifactFailedPayload{
			Tag: tag, Reason: genErr.Error(), Attempt: s.StageAttempts,
		})}
		fallback := pipeline.Degrade(s, tag, "")
		evs = append(evs, newEvent(s, workshop.EventArtifactGenerated, workshop.ArtifactPayload{
			Artifact: fallback,
		}))
		return evs, nil
	})
	if err != nil {
		logger.Debug().Err(err).Msg("failure record discarded")
		return
	}
}
