// SPDX-License-Identifier: MIT

package workshop

import "time"

// EventKind names the payload type of a session event.
type EventKind string

const (
	EventParticipantJoined EventKind = "participant_joined"
	EventParticipantLeft   EventKind = "participant_left"
	EventChatPosted        EventKind = "chat_posted"
	EventIdeaSubmitted     EventKind = "idea_submitted"
	EventVoteCast          EventKind = "vote_cast"
	EventStageAdvanced     EventKind = "stage_advanced"
	EventArtifactGenerated EventKind = "artifact_generated"
	EventArtifactFailed    EventKind = "artifact_failed"
	EventSessionPaused     EventKind = "session_paused"
	EventSessionResumed    EventKind = "session_resumed"
	EventSessionConcluded  EventKind = "session_concluded"
)

// Event is the envelope broadcast to session subscribers. Sequence numbers
// are strictly increasing and contiguous within one session.
type Event struct {
	Seq       uint64    `json:"seq"`
	SessionID string    `json:"session_id"`
	Kind      EventKind `json:"kind"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"ts"`
}

// ParticipantPayload accompanies join/leave events.
type ParticipantPayload struct {
	ParticipantID string `json:"participant_id"`
	DisplayName   string `json:"display_name"`
	Role          Role   `json:"role"`
}

// StagePayload accompanies stage_advanced events.
type StagePayload struct {
	Stage  Stage       `json:"stage"`
	Status StageStatus `json:"status"`
}

// ArtifactPayload accompanies artifact_generated events. Target is set
// only for nudges addressed to one participant.
type ArtifactPayload struct {
	Artifact *Artifact `json:"artifact"`
	Target   string    `json:"target,omitempty"`
}

// ArtifactFailedPayload accompanies artifact_failed events.
type ArtifactFailedPayload struct {
	Tag     ArtifactTag `json:"tag"`
	Reason  string      `json:"reason"`
	Attempt int         `json:"attempt"`
}

// VotePayload accompanies vote_cast events.
type VotePayload struct {
	ParticipantID string `json:"participant_id"`
	IdeaID        string `json:"idea_id"`
	Weight        int    `json:"weight"`
}
