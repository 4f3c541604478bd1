// SPDX-License-Identifier: MIT

package pipeline

import (
	"time"

	"github.com/google/uuid"

	"github.com/broadcomms/brainstormx/internal/workshop"
)

// Static facilitation content used when generation fails for good after
// MaxAttempts. Deliberately generic: a degraded stage must still let the
// session proceed.
var fallbackContent = map[workshop.ArtifactTag]string{
	workshop.TagAgenda: "1. Welcome and introductions\n" +
		"2. Review the session objective\n" +
		"3. Open brainstorming\n" +
		"4. Vote on the strongest ideas\n" +
		"5. Prioritize and wrap up",
	workshop.TagRules: "- One conversation at a time.\n" +
		"- Every idea counts; defer judgment.\n" +
		"- Build on each other's contributions.\n" +
		"- Stay on topic and keep it brief.",
	workshop.TagIcebreaker: "In one sentence, share the most unexpected thing " +
		"that inspired an idea you are proud of.",
	workshop.TagTip: "Quantity breeds quality: capture every idea now and " +
		"filter later.",
	workshop.TagTask: "Write down as many ideas toward the session objective " +
		"as you can. Short, concrete statements work best.",
	workshop.TagPlan: "Capture ideas individually, then discuss them as a " +
		"group and vote on the ones to pursue.",
	workshop.TagNudge: "We'd love to hear your take on this one!",
	workshop.TagReport: "# Workshop Report\n\n" +
		"The automated summary is unavailable for this session. The full " +
		"transcript, submitted ideas and vote tally are preserved in the " +
		"session archive.",
}

// FallbackArtifact builds the static artifact for a tag.
func FallbackArtifact(tag workshop.ArtifactTag) *workshop.Artifact {
	return &workshop.Artifact{
		ID:          uuid.NewString(),
		Tag:         tag,
		Content:     fallbackContent[tag],
		GeneratedAt: time.Now().UTC(),
		Fallback:    true,
	}
}
