// SPDX-License-Identifier: MIT

// Package pipeline drives the facilitation stage machine of a session:
// which stage is active, whether its artifact is ready, and when the
// session moves on. All functions mutate session state and must run under
// the store's per-session lock.
package pipeline

import (
	"fmt"
	"time"

	"github.com/broadcomms/brainstormx/internal/workshop"
)

// MaxAttempts bounds gateway attempts per stage before the stage degrades
// to its static fallback artifact.
const MaxAttempts = 3

// ArtifactFor returns the artifact tag a stage needs on entry, if any.
func ArtifactFor(stage workshop.Stage) (workshop.ArtifactTag, bool) {
	switch stage {
	case workshop.StageAgenda:
		return workshop.TagAgenda, true
	case workshop.StageRules:
		return workshop.TagRules, true
	case workshop.StageIcebreaker:
		return workshop.TagIcebreaker, true
	case workshop.StageWorkingSession:
		return workshop.TagTask, true
	case workshop.StageReport:
		return workshop.TagReport, true
	default:
		return "", false
	}
}

// AdvanceResult describes the outcome of an advance request.
type AdvanceResult struct {
	Stage    workshop.Stage
	Status   workshop.StageStatus
	Advanced bool // false when the call was an idempotent repeat
	// Generate is the artifact the new stage needs, empty when none.
	Generate workshop.ArtifactTag
}

// AdvanceFrom moves the session to the next stage, provided the caller's
// view of the current stage is up to date. Repeating the call for a stage
// that has already advanced is a no-op returning the current stage, never
// an error: duplicate client retries must be harmless.
func AdvanceFrom(s *workshop.Session, from workshop.Stage) (AdvanceResult, error) {
	cur := s.CurrentStage()
	if cur != from {
		return AdvanceResult{Stage: cur, Status: s.StageStatus}, nil
	}
	if s.StageIndex+1 >= len(s.Stages) {
		return AdvanceResult{Stage: cur, Status: s.StageStatus}, nil
	}
	if s.State == workshop.LifecyclePaused {
		return AdvanceResult{}, fmt.Errorf("pipeline: session paused: %w", workshop.ErrConflict)
	}

	s.StageIndex++
	s.StageAttempts = 0
	next := s.CurrentStage()

	switch {
	case s.State == workshop.LifecycleLobby || s.State == workshop.LifecycleCreated:
		s.State = workshop.LifecycleActive
	case next == workshop.StageVoting:
		s.State = workshop.LifecycleVoting
		s.VotingOpenedAt = time.Now().UTC()
	case s.State == workshop.LifecycleVoting:
		s.State = workshop.LifecycleActive
	}

	result := AdvanceResult{Stage: next, Advanced: true}
	if tag, ok := ArtifactFor(next); ok {
		s.StageStatus = workshop.StageStatusPending
		result.Generate = tag
	} else {
		s.StageStatus = workshop.StageStatusReady
	}
	result.Status = s.StageStatus
	return result, nil
}

// Begin activates the first stage of a session still in the lobby. Like
// AdvanceFrom it is idempotent: a session already started is a no-op.
func Begin(s *workshop.Session) (AdvanceResult, error) {
	if s.State != workshop.LifecycleLobby && s.State != workshop.LifecycleCreated {
		return AdvanceResult{Stage: s.CurrentStage(), Status: s.StageStatus}, nil
	}
	s.State = workshop.LifecycleActive
	s.StageAttempts = 0

	result := AdvanceResult{Stage: s.CurrentStage(), Advanced: true}
	if tag, ok := ArtifactFor(s.CurrentStage()); ok {
		s.StageStatus = workshop.StageStatusPending
		result.Generate = tag
	} else {
		s.StageStatus = workshop.StageStatusReady
	}
	result.Status = s.StageStatus
	return result, nil
}

// RecordAttempt counts one gateway attempt for the current stage and
// reports whether the organizer may retry after a failure.
func RecordAttempt(s *workshop.Session) (retryable bool) {
	s.StageAttempts++
	return s.StageAttempts < MaxAttempts
}

// CommitArtifact attaches a generated artifact and marks the stage ready
// when the artifact belongs to the current stage. Artifacts are never
// mutated: a regeneration supersedes the prior artifact for the tag.
func CommitArtifact(s *workshop.Session, artifact *workshop.Artifact) {
	s.Artifacts[artifact.Tag] = artifact
	if tag, ok := ArtifactFor(s.CurrentStage()); ok && tag == artifact.Tag {
		s.StageStatus = workshop.StageStatusReady
	}
}

// Degrade marks the current stage degraded and installs the static
// fallback artifact so the session can proceed.
func Degrade(s *workshop.Session, tag workshop.ArtifactTag, requestID string) *workshop.Artifact {
	artifact := FallbackArtifact(tag)
	artifact.RequestID = requestID
	s.Artifacts[tag] = artifact
	if cur, ok := ArtifactFor(s.CurrentStage()); ok && cur == tag {
		s.StageStatus = workshop.StageStatusDegraded
	}
	return artifact
}

// Pause suspends an active session. Only chat remains accepted while
// paused.
func Pause(s *workshop.Session) error {
	switch s.State {
	case workshop.LifecycleActive, workshop.LifecycleVoting:
		s.State = workshop.LifecyclePaused
		return nil
	default:
		return fmt.Errorf("pipeline: cannot pause session in state %s: %w", s.State, workshop.ErrConflict)
	}
}

// Resume reactivates a paused session, restoring the voting lifecycle when
// the voting stage is still open.
func Resume(s *workshop.Session) error {
	if s.State != workshop.LifecyclePaused {
		return fmt.Errorf("pipeline: cannot resume session in state %s: %w", s.State, workshop.ErrConflict)
	}
	if s.CurrentStage() == workshop.StageVoting {
		s.State = workshop.LifecycleVoting
	} else {
		s.State = workshop.LifecycleActive
	}
	return nil
}
