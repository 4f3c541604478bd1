// SPDX-License-Identifier: MIT

package archive

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/broadcomms/brainstormx/internal/workshop"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := Open(filepath.Join(dir, "archive.db"), dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st, dir
}

func concludedSnapshot() *workshop.SessionSnapshot {
	base := time.Date(2026, 8, 14, 9, 0, 0, 0, time.UTC)
	return &workshop.SessionSnapshot{
		ID:          "sess-42",
		Title:       "Onboarding revamp",
		Objective:   "cut time to first value",
		OrganizerID: "org-1",
		State:       workshop.LifecycleConcluded,
		Stage:       workshop.StageReport,
		Participants: []workshop.Participant{
			{ID: "mem-1", DisplayName: "Mia", Role: workshop.RoleMember},
			{ID: "org-1", DisplayName: "Orga", Role: workshop.RoleOrganizer},
		},
		Ideas: []workshop.IdeaRecord{
			{ID: "i-a", AuthorID: "mem-1", Content: "guided first project", SubmittedAt: base},
			{ID: "i-b", AuthorID: "org-1", Content: "shorter signup form", SubmittedAt: base.Add(time.Minute)},
		},
		Votes: []workshop.Vote{
			{ParticipantID: "mem-1", IdeaID: "i-b", Weight: 1},
			{ParticipantID: "org-1", IdeaID: "i-b", Weight: 2},
		},
		Artifacts: []workshop.Artifact{
			{ID: "a-1", Tag: workshop.TagReport, Content: "## Summary\n\nStrong consensus on signup friction."},
		},
		CreatedAt: base,
		UpdatedAt: base.Add(time.Hour),
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()
	snap := concludedSnapshot()

	require.NoError(t, st.Archive(ctx, snap))

	got, err := st.Load(ctx, "sess-42")
	require.NoError(t, err)
	assert.Equal(t, snap.Title, got.Title)
	assert.Equal(t, workshop.LifecycleConcluded, got.State)
	assert.Len(t, got.Ideas, 2)
	assert.Len(t, got.Votes, 2)
}

func TestArchiveStoresRanking(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.Archive(ctx, concludedSnapshot()))

	ranked, err := st.Ranking(ctx, "sess-42")
	require.NoError(t, err)
	require.Len(t, ranked, 2)
	assert.Equal(t, "i-b", ranked[0].Idea.ID)
	assert.Equal(t, 3, ranked[0].TotalWeight)
	assert.Equal(t, 1, ranked[0].Rank)
	assert.Equal(t, "i-a", ranked[1].Idea.ID)
	assert.Equal(t, 0, ranked[1].TotalWeight)
}

func TestArchiveIsIdempotent(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()
	snap := concludedSnapshot()

	require.NoError(t, st.Archive(ctx, snap))
	require.NoError(t, st.Archive(ctx, snap))

	list, err := st.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "sess-42", list[0].ID)
	assert.Equal(t, 2, list[0].IdeaCount)
	assert.Equal(t, 2, list[0].ParticipantCount)
}

func TestLoadUnknownSession(t *testing.T) {
	st, _ := openTestStore(t)
	_, err := st.Load(context.Background(), "nope")
	assert.ErrorIs(t, err, workshop.ErrNotFound)
}

func TestReportExport(t *testing.T) {
	st, dir := openTestStore(t)
	require.NoError(t, st.Archive(context.Background(), concludedSnapshot()))

	raw, err := os.ReadFile(filepath.Join(dir, "sess-42.md"))
	require.NoError(t, err)
	report := string(raw)

	assert.True(t, strings.HasPrefix(report, "# Onboarding revamp"))
	assert.Contains(t, report, "Strong consensus on signup friction.")
	assert.Contains(t, report, "1. shorter signup form (3 votes)")
	assert.Contains(t, report, "2. guided first project (0 votes)")
	assert.Contains(t, report, "- Mia (member)")
}

func TestArchiveWithoutReportDir(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(filepath.Join(dir, "archive.db"), "")
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	require.NoError(t, st.Archive(context.Background(), concludedSnapshot()))
	matches, err := filepath.Glob(filepath.Join(dir, "*.md"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestMigrationIsStable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "archive.db")

	st, err := Open(path, "")
	require.NoError(t, err)
	require.NoError(t, st.Archive(context.Background(), concludedSnapshot()))
	require.NoError(t, st.Close())

	// Reopening an up-to-date database keeps the data.
	st, err = Open(path, "")
	require.NoError(t, err)
	defer func() { _ = st.Close() }()
	list, err := st.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
