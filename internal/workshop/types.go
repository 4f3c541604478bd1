// SPDX-License-Identifier: MIT

// Package workshop defines the domain model for a live workshop session and
// the state store that owns every session for its lifetime.
package workshop

import (
	"time"
)

// Lifecycle is the coarse session state.
type Lifecycle string

const (
	LifecycleCreated   Lifecycle = "created"
	LifecycleLobby     Lifecycle = "lobby"
	LifecycleActive    Lifecycle = "active"
	LifecyclePaused    Lifecycle = "paused"
	LifecycleVoting    Lifecycle = "voting"
	LifecycleConcluded Lifecycle = "concluded"
)

// Role determines what a participant may do inside a session.
type Role string

const (
	RoleOrganizer Role = "organizer"
	RoleMember    Role = "member"
	RoleObserver  Role = "observer"
)

// Stage is a named phase of the facilitation pipeline.
type Stage string

const (
	StageAgenda         Stage = "agenda"
	StageRules          Stage = "rules"
	StageIcebreaker     Stage = "icebreaker"
	StageWorkingSession Stage = "working_session"
	StageVoting         Stage = "voting"
	StagePrioritization Stage = "prioritization"
	StageReport         Stage = "report"
)

// DefaultStages is the canonical facilitation sequence.
func DefaultStages() []Stage {
	return []Stage{
		StageAgenda,
		StageRules,
		StageIcebreaker,
		StageWorkingSession,
		StageVoting,
		StagePrioritization,
		StageReport,
	}
}

// StageStatus tracks artifact readiness for the current stage.
type StageStatus string

const (
	StageStatusPending  StageStatus = "pending"
	StageStatusReady    StageStatus = "ready"
	StageStatusDegraded StageStatus = "degraded"
)

// ArtifactTag identifies what kind of content an artifact carries.
// It is a superset of the pipeline stages: tips and nudges are generated
// outside stage transitions.
type ArtifactTag string

const (
	TagAgenda     ArtifactTag = "agenda"
	TagPlan       ArtifactTag = "plan"
	TagRules      ArtifactTag = "rules"
	TagIcebreaker ArtifactTag = "icebreaker"
	TagTip        ArtifactTag = "tip"
	TagTask       ArtifactTag = "task"
	TagNudge      ArtifactTag = "nudge"
	TagReport     ArtifactTag = "report"
)

// Participant is a member of one session. The record survives disconnects;
// only the presence binding is removed when a connection drops.
type Participant struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Role        Role      `json:"role"`
	JoinedAt    time.Time `json:"joined_at"`
	Online      bool      `json:"online"`
}

// IdeaRecord is an immutable idea submission. The tally is recomputed from
// votes and never stored authoritatively.
type IdeaRecord struct {
	ID          string    `json:"id"`
	AuthorID    string    `json:"author_id"`
	Content     string    `json:"content"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Vote is a participant's single active vote. Re-voting replaces it.
type Vote struct {
	ParticipantID string    `json:"participant_id"`
	IdeaID        string    `json:"idea_id"`
	Weight        int       `json:"weight"`
	CastAt        time.Time `json:"cast_at"`
}

// ChatMessage carries one transcript entry. Seq is the session event
// sequence assigned at commit; it is the ordering backbone for replay.
type ChatMessage struct {
	ID       string    `json:"id"`
	SenderID string    `json:"sender_id"`
	Content  string    `json:"content"`
	Seq      uint64    `json:"seq"`
	SentAt   time.Time `json:"sent_at"`
}

// Artifact is AI-generated facilitation content. Artifacts are never
// mutated; regeneration supersedes the prior artifact for the same tag.
type Artifact struct {
	ID          string      `json:"id"`
	Tag         ArtifactTag `json:"tag"`
	Content     string      `json:"content"`
	RequestID   string      `json:"request_id"`
	GeneratedAt time.Time   `json:"generated_at"`
	Fallback    bool        `json:"fallback,omitempty"`
}

// Session is the authoritative state of one live workshop. It is reachable
// only through the Store and must only be mutated inside Store.Apply.
type Session struct {
	ID          string
	Title       string
	Objective   string
	OrganizerID string

	State       Lifecycle
	Stages      []Stage
	StageIndex  int
	StageStatus StageStatus
	// StageAttempts counts gateway attempts for the current stage,
	// reset on every advance.
	StageAttempts int

	Participants map[string]*Participant
	Ideas        []*IdeaRecord
	Votes        map[string]*Vote // keyed by participant ID
	Chat         []*ChatMessage
	Artifacts    map[ArtifactTag]*Artifact

	// VotingOpenedAt anchors the quorum window. Zero until the voting
	// stage is entered.
	VotingOpenedAt time.Time

	CreatedAt time.Time
	UpdatedAt time.Time

	lastSeq     uint64
	quarantined bool
}

// CurrentStage returns the active pipeline stage.
func (s *Session) CurrentStage() Stage {
	if s.StageIndex < 0 || s.StageIndex >= len(s.Stages) {
		return ""
	}
	return s.Stages[s.StageIndex]
}

// NextSeq allocates the next event sequence number. Callers must hold the
// session's store lock; contiguity of the returned values is an invariant.
func (s *Session) NextSeq() uint64 {
	s.lastSeq++
	return s.lastSeq
}

// LastSeq returns the most recently allocated sequence number.
func (s *Session) LastSeq() uint64 {
	return s.lastSeq
}

// Quarantined reports whether the session has been fenced off after an
// invariant violation.
func (s *Session) Quarantined() bool {
	return s.quarantined
}

// ActiveParticipantIDs returns the IDs of participants currently online,
// excluding observers. Used for quorum evaluation.
func (s *Session) ActiveParticipantIDs() []string {
	ids := make([]string, 0, len(s.Participants))
	for id, p := range s.Participants {
		if p.Online && p.Role != RoleObserver {
			ids = append(ids, id)
		}
	}
	return ids
}

// FindIdea returns the idea with the given ID, or nil.
func (s *Session) FindIdea(ideaID string) *IdeaRecord {
	for _, idea := range s.Ideas {
		if idea.ID == ideaID {
			return idea
		}
	}
	return nil
}
