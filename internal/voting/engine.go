// SPDX-License-Identifier: MIT

// Package voting implements idea collection, vote consensus, deterministic
// ranking, and quorum detection for a workshop session.
package voting

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/broadcomms/brainstormx/internal/metrics"
	"github.com/broadcomms/brainstormx/internal/workshop"
	"github.com/google/uuid"
)

// RankedIdea pairs an idea with its computed tally. Rank is derived on every
// call, never stored.
type RankedIdea struct {
	Idea        workshop.IdeaRecord `json:"idea"`
	TotalWeight int                 `json:"total_weight"`
	Rank        int                 `json:"rank"`
}

// SubmitIdea appends an immutable idea record to the session. Ideas are
// accepted only during the working-session stage of an active session.
// The caller must hold the session lock (Store.Apply).
func SubmitIdea(s *workshop.Session, authorID, content string) (*workshop.IdeaRecord, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("voting: empty idea content: %w", workshop.ErrConflict)
	}
	author, ok := s.Participants[authorID]
	if !ok {
		return nil, fmt.Errorf("voting: participant %s: %w", authorID, workshop.ErrNotFound)
	}
	if author.Role == workshop.RoleObserver {
		return nil, fmt.Errorf("voting: observers cannot submit ideas: %w", workshop.ErrForbidden)
	}
	if s.State != workshop.LifecycleActive {
		return nil, fmt.Errorf("voting: session is %s: %w", s.State, workshop.ErrConflict)
	}
	if s.CurrentStage() != workshop.StageWorkingSession {
		return nil, fmt.Errorf("voting: ideas are only accepted during %s: %w",
			workshop.StageWorkingSession, workshop.ErrConflict)
	}

	idea := &workshop.IdeaRecord{
		ID:          uuid.NewString(),
		AuthorID:    authorID,
		Content:     content,
		SubmittedAt: time.Now().UTC(),
	}
	s.Ideas = append(s.Ideas, idea)
	metrics.IdeasSubmittedTotal.Inc()
	return idea, nil
}

// CastVote records the participant's single active vote. A prior vote by the
// same participant is atomically replaced, never added to, so re-voting can
// move weight between ideas without double counting.
func CastVote(s *workshop.Session, participantID, ideaID string, weight int) (*workshop.Vote, error) {
	if weight <= 0 {
		weight = 1
	}
	voter, ok := s.Participants[participantID]
	if !ok {
		return nil, fmt.Errorf("voting: participant %s: %w", participantID, workshop.ErrNotFound)
	}
	if voter.Role == workshop.RoleObserver {
		return nil, fmt.Errorf("voting: observers cannot vote: %w", workshop.ErrForbidden)
	}
	if s.State != workshop.LifecycleActive && s.State != workshop.LifecycleVoting {
		return nil, fmt.Errorf("voting: session is %s: %w", s.State, workshop.ErrConflict)
	}
	if s.CurrentStage() != workshop.StageVoting {
		return nil, fmt.Errorf("voting: votes are only accepted during %s: %w",
			workshop.StageVoting, workshop.ErrConflict)
	}
	if s.FindIdea(ideaID) == nil {
		return nil, fmt.Errorf("voting: idea %s: %w", ideaID, workshop.ErrNotFound)
	}

	vote := &workshop.Vote{
		ParticipantID: participantID,
		IdeaID:        ideaID,
		Weight:        weight,
		CastAt:        time.Now().UTC(),
	}
	s.Votes[participantID] = vote
	metrics.VotesCastTotal.Inc()
	return vote, nil
}

// Tally computes the deterministic ranking of all ideas: total vote weight
// descending, earlier submission first on ties, then idea ID. Repeated calls
// with no intervening mutation yield identical output.
func Tally(s *workshop.Session) []RankedIdea {
	ideas := make([]workshop.IdeaRecord, 0, len(s.Ideas))
	for _, idea := range s.Ideas {
		ideas = append(ideas, *idea)
	}
	votes := make([]workshop.Vote, 0, len(s.Votes))
	for _, v := range s.Votes {
		votes = append(votes, *v)
	}
	return TallyRecords(ideas, votes)
}

// TallyRecords ranks detached idea and vote copies with the same ordering
// as Tally. Used where only a snapshot is available, such as the archive.
func TallyRecords(ideas []workshop.IdeaRecord, votes []workshop.Vote) []RankedIdea {
	weights := make(map[string]int, len(ideas))
	for _, v := range votes {
		weights[v.IdeaID] += v.Weight
	}

	ranked := make([]RankedIdea, 0, len(ideas))
	for _, idea := range ideas {
		ranked = append(ranked, RankedIdea{
			Idea:        idea,
			TotalWeight: weights[idea.ID],
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.TotalWeight != b.TotalWeight {
			return a.TotalWeight > b.TotalWeight
		}
		if !a.Idea.SubmittedAt.Equal(b.Idea.SubmittedAt) {
			return a.Idea.SubmittedAt.Before(b.Idea.SubmittedAt)
		}
		return a.Idea.ID < b.Idea.ID
	})
	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return ranked
}

// QuorumReached reports whether the voting stage is complete: every active
// non-observer participant has voted, or the configured window has elapsed
// since voting opened, whichever occurs first.
func QuorumReached(s *workshop.Session, window time.Duration, now time.Time) bool {
	if s.CurrentStage() != workshop.StageVoting {
		return false
	}
	if !s.VotingOpenedAt.IsZero() && window > 0 && now.Sub(s.VotingOpenedAt) >= window {
		return true
	}
	active := s.ActiveParticipantIDs()
	if len(active) == 0 {
		return false
	}
	for _, id := range active {
		if _, voted := s.Votes[id]; !voted {
			return false
		}
	}
	return true
}
