// SPDX-License-Identifier: MIT

package voting

import (
	"testing"
	"time"

	"github.com/broadcomms/brainstormx/internal/workshop"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func votingSession() *workshop.Session {
	now := time.Now().UTC()
	return &workshop.Session{
		ID:          "sess-1",
		OrganizerID: "org",
		State:       workshop.LifecycleActive,
		Stages:      workshop.DefaultStages(),
		StageIndex:  3, // working_session
		Participants: map[string]*workshop.Participant{
			"org": {ID: "org", Role: workshop.RoleOrganizer, Online: true, JoinedAt: now},
			"a":   {ID: "a", Role: workshop.RoleMember, Online: true, JoinedAt: now},
			"b":   {ID: "b", Role: workshop.RoleMember, Online: true, JoinedAt: now},
			"obs": {ID: "obs", Role: workshop.RoleObserver, Online: true, JoinedAt: now},
		},
		Votes:     make(map[string]*workshop.Vote),
		Artifacts: make(map[workshop.ArtifactTag]*workshop.Artifact),
	}
}

func toVotingStage(s *workshop.Session) {
	s.StageIndex = 4 // voting
	s.VotingOpenedAt = time.Now().UTC()
}

func TestSubmitIdea(t *testing.T) {
	s := votingSession()

	idea, err := SubmitIdea(s, "a", "  build a prototype  ")
	require.NoError(t, err)
	assert.Equal(t, "build a prototype", idea.Content)
	assert.Equal(t, "a", idea.AuthorID)
	assert.Len(t, s.Ideas, 1)
}

func TestSubmitIdeaValidation(t *testing.T) {
	s := votingSession()

	_, err := SubmitIdea(s, "a", "   ")
	assert.ErrorIs(t, err, workshop.ErrConflict)

	_, err = SubmitIdea(s, "ghost", "x")
	assert.ErrorIs(t, err, workshop.ErrNotFound)

	_, err = SubmitIdea(s, "obs", "x")
	assert.ErrorIs(t, err, workshop.ErrForbidden)

	s.State = workshop.LifecyclePaused
	_, err = SubmitIdea(s, "a", "x")
	assert.ErrorIs(t, err, workshop.ErrConflict)
}

func TestCastVoteReplacesNeverSums(t *testing.T) {
	s := votingSession()
	idea, err := SubmitIdea(s, "a", "X")
	require.NoError(t, err)
	toVotingStage(s)

	for _, w := range []int{1, 3, 2} {
		_, err := CastVote(s, "a", idea.ID, w)
		require.NoError(t, err)
	}

	require.Len(t, s.Votes, 1)
	assert.Equal(t, 2, s.Votes["a"].Weight, "final weight must equal the last call, never a sum")
}

func TestCastVoteValidation(t *testing.T) {
	s := votingSession()
	idea, err := SubmitIdea(s, "a", "X")
	require.NoError(t, err)

	// Still in working_session: votes rejected.
	_, err = CastVote(s, "a", idea.ID, 1)
	assert.ErrorIs(t, err, workshop.ErrConflict)

	toVotingStage(s)
	_, err = CastVote(s, "obs", idea.ID, 1)
	assert.ErrorIs(t, err, workshop.ErrForbidden)

	_, err = CastVote(s, "a", "missing-idea", 1)
	assert.ErrorIs(t, err, workshop.ErrNotFound)
}

func TestRevoteMovesWeight(t *testing.T) {
	// Spec scenario: A submits X at t=0, B submits Y at t=1; A votes X,
	// B votes X, A re-votes Y. Expected: X=1, Y=1, X ranks first by
	// earlier submission.
	s := votingSession()
	x, err := SubmitIdea(s, "a", "X")
	require.NoError(t, err)
	y, err := SubmitIdea(s, "b", "Y")
	require.NoError(t, err)
	y.SubmittedAt = x.SubmittedAt.Add(time.Second)
	toVotingStage(s)

	_, err = CastVote(s, "a", x.ID, 1)
	require.NoError(t, err)
	_, err = CastVote(s, "b", x.ID, 1)
	require.NoError(t, err)
	_, err = CastVote(s, "a", y.ID, 1)
	require.NoError(t, err)

	ranked := Tally(s)
	require.Len(t, ranked, 2)
	assert.Equal(t, x.ID, ranked[0].Idea.ID)
	assert.Equal(t, 1, ranked[0].TotalWeight)
	assert.Equal(t, y.ID, ranked[1].Idea.ID)
	assert.Equal(t, 1, ranked[1].TotalWeight)
}

func TestTallyDeterministic(t *testing.T) {
	s := votingSession()
	ts := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	for i, content := range []string{"one", "two", "three"} {
		idea, err := SubmitIdea(s, "a", content)
		require.NoError(t, err)
		idea.SubmittedAt = ts.Add(time.Duration(i) * time.Second)
	}
	toVotingStage(s)
	_, err := CastVote(s, "b", s.Ideas[2].ID, 2)
	require.NoError(t, err)

	first := Tally(s)
	assert.Equal(t, s.Ideas[2].ID, first[0].Idea.ID)
	assert.Equal(t, 1, first[0].Rank)

	for i := 0; i < 10; i++ {
		if diff := cmp.Diff(first, Tally(s)); diff != "" {
			t.Fatalf("tally not deterministic (-first +repeat):\n%s", diff)
		}
	}
}

func TestTallyTieBreakByID(t *testing.T) {
	s := votingSession()
	a, err := SubmitIdea(s, "a", "same-time-1")
	require.NoError(t, err)
	b, err := SubmitIdea(s, "a", "same-time-2")
	require.NoError(t, err)
	b.SubmittedAt = a.SubmittedAt

	ranked := Tally(s)
	require.Len(t, ranked, 2)
	assert.Less(t, ranked[0].Idea.ID, ranked[1].Idea.ID)
}

func TestQuorumAllActiveVoted(t *testing.T) {
	s := votingSession()
	idea, err := SubmitIdea(s, "a", "X")
	require.NoError(t, err)
	toVotingStage(s)

	now := time.Now().UTC()
	assert.False(t, QuorumReached(s, time.Hour, now))

	for _, p := range []string{"org", "a"} {
		_, err := CastVote(s, p, idea.ID, 1)
		require.NoError(t, err)
	}
	// b has not voted yet; the observer never counts.
	assert.False(t, QuorumReached(s, time.Hour, now))

	_, err = CastVote(s, "b", idea.ID, 1)
	require.NoError(t, err)
	assert.True(t, QuorumReached(s, time.Hour, now))
}

func TestQuorumWindowElapsed(t *testing.T) {
	s := votingSession()
	_, err := SubmitIdea(s, "a", "X")
	require.NoError(t, err)
	toVotingStage(s)
	s.VotingOpenedAt = time.Now().UTC().Add(-10 * time.Minute)

	assert.True(t, QuorumReached(s, 5*time.Minute, time.Now().UTC()))
}

func TestQuorumOnlyDuringVotingStage(t *testing.T) {
	s := votingSession()
	assert.False(t, QuorumReached(s, time.Nanosecond, time.Now().UTC()))
}
