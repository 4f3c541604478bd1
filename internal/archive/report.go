// SPDX-License-Identifier: MIT

package archive

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"

	"github.com/broadcomms/brainstormx/internal/voting"
	"github.com/broadcomms/brainstormx/internal/workshop"
)

// writeReport renders the session report and replaces the file atomically
// so a reader never observes a half-written report.
func (st *Store) writeReport(snap *workshop.SessionSnapshot, ranked []voting.RankedIdea) error {
	path := filepath.Join(st.reportDir, snap.ID+".md")
	content := renderReport(snap, ranked)
	if err := renameio.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write report %s: %w", path, err)
	}
	return nil
}

func renderReport(snap *workshop.SessionSnapshot, ranked []voting.RankedIdea) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", snap.Title)
	if snap.Objective != "" {
		fmt.Fprintf(&b, "**Objective:** %s\n\n", snap.Objective)
	}
	fmt.Fprintf(&b, "Held %s, %d participants, %d ideas, %d votes.\n\n",
		snap.CreatedAt.Format(time.DateOnly),
		len(snap.Participants), len(snap.Ideas), len(snap.Votes))

	if report := findArtifact(snap, workshop.TagReport); report != nil {
		b.WriteString(report.Content)
		b.WriteString("\n\n")
	}

	if len(ranked) > 0 {
		b.WriteString("## Final ranking\n\n")
		for _, r := range ranked {
			fmt.Fprintf(&b, "%d. %s (%d votes)\n", r.Rank, r.Idea.Content, r.TotalWeight)
		}
		b.WriteString("\n")
	}

	if len(snap.Participants) > 0 {
		b.WriteString("## Participants\n\n")
		for _, p := range snap.Participants {
			name := p.DisplayName
			if name == "" {
				name = p.ID
			}
			fmt.Fprintf(&b, "- %s (%s)\n", name, p.Role)
		}
	}
	return b.String()
}

func findArtifact(snap *workshop.SessionSnapshot, tag workshop.ArtifactTag) *workshop.Artifact {
	for i := range snap.Artifacts {
		if snap.Artifacts[i].Tag == tag {
			return &snap.Artifacts[i]
		}
	}
	return nil
}
