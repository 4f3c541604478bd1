// SPDX-License-Identifier: MIT

package aigw

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/broadcomms/brainstormx/internal/workshop"
)

// ContextSnapshot is the stateless context passed to every generation call.
// Any conversational memory the facilitator appears to have is rebuilt from
// this snapshot each time; there is no hidden cross-call state.
type ContextSnapshot struct {
	Title            string
	Objective        string
	Stage            workshop.Stage
	ParticipantCount int
	ParticipantNames []string
	Ideas            []string
	TopIdeas         []string
	NudgeTarget      string
}

// SnapshotFromSession projects the session state into a ContextSnapshot.
func SnapshotFromSession(snap *workshop.SessionSnapshot) ContextSnapshot {
	cs := ContextSnapshot{
		Title:            snap.Title,
		Objective:        snap.Objective,
		Stage:            snap.Stage,
		ParticipantCount: len(snap.Participants),
	}
	for _, p := range snap.Participants {
		if p.DisplayName != "" {
			cs.ParticipantNames = append(cs.ParticipantNames, p.DisplayName)
		}
	}
	for _, idea := range snap.Ideas {
		cs.Ideas = append(cs.Ideas, idea.Content)
	}
	return cs
}

// renderContext produces the "Workshop Context" block shared by all prompts.
func renderContext(cs ContextSnapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", cs.Title)
	fmt.Fprintf(&b, "Objective: %s\n", cs.Objective)
	fmt.Fprintf(&b, "Participants: %d\n", cs.ParticipantCount)
	if len(cs.ParticipantNames) > 0 {
		fmt.Fprintf(&b, "Names: %s\n", strings.Join(cs.ParticipantNames, ", "))
	}
	if len(cs.Ideas) > 0 {
		b.WriteString("Ideas so far:\n")
		for _, idea := range cs.Ideas {
			fmt.Fprintf(&b, "- %s\n", idea)
		}
	}
	if len(cs.TopIdeas) > 0 {
		b.WriteString("Top ranked ideas:\n")
		for _, idea := range cs.TopIdeas {
			fmt.Fprintf(&b, "- %s\n", idea)
		}
	}
	return b.String()
}

// BuildPrompt renders the prompt and generation parameters for one artifact
// tag. An unknown tag is a malformed-context error.
func BuildPrompt(tag workshop.ArtifactTag, cs ContextSnapshot) (Request, error) {
	ctx := renderContext(cs)

	switch tag {
	case workshop.TagAgenda:
		return Request{
			Prompt: "You are an expert workshop facilitator AI.\n" +
				"Based only on the workshop context provided below, create a structured, timed agenda proposal.\n" +
				"The agenda should logically flow towards the workshop's objective.\n\n" +
				"Workshop Context:\n" + ctx + "\n" +
				"Instructions:\n" +
				"- Create a bulleted list representing the agenda flow with estimated timings.\n" +
				"- Keep descriptions concise.\n" +
				"- Output only the agenda list itself, using Markdown bullet points.\n\n" +
				"Generate the agenda proposal now:",
			Params: GenerationParams{
				DecodingMethod:    "sample",
				MaxNewTokens:      350,
				MinNewTokens:      50,
				Temperature:       0.7,
				TopK:              50,
				TopP:              0.9,
				RepetitionPenalty: 1.05,
			},
		}, nil

	case workshop.TagRules:
		return Request{
			Prompt: "You are a workshop facilitator AI.\n" +
				"Based on the workshop context below, propose a short list of ground rules for a productive session.\n\n" +
				"Workshop Context:\n" + ctx + "\n" +
				"Instructions:\n" +
				"- Generate 4 to 6 rules, one line each.\n" +
				"- Keep them actionable and positive.\n" +
				"- Output only the list, using Markdown bullet points.\n\n" +
				"Generate the rules now:",
			Params: GenerationParams{
				DecodingMethod: "greedy",
				MaxNewTokens:   250,
				MinNewTokens:   20,
			},
		}, nil

	case workshop.TagIcebreaker:
		return Request{
			Prompt: "You are a workshop assistant. Your task is to create a fun and engaging icebreaker question.\n" +
				"Based on the workshop context below, generate one very short icebreaker question (under 25 words)\n" +
				"relevant to the workshop's title or objective.\n\n" +
				"Workshop Context:\n" + ctx + "\n" +
				"Format:\n" +
				"Output MUST be valid JSON with the key:\n" +
				"- icebreaker: The icebreaker question.\n\n" +
				"Response:",
			Params: GenerationParams{
				DecodingMethod:    "greedy",
				MaxNewTokens:      200,
				MinNewTokens:      5,
				Temperature:       0.9,
				RepetitionPenalty: 1,
			},
		}, nil

	case workshop.TagTip:
		return Request{
			Prompt: "You are a workshop assistant.\n" +
				"Based on the workshop context below, give one short facilitation tip (1-2 sentences)\n" +
				"that helps the group reach the stated objective.\n\n" +
				"Workshop Context:\n" + ctx + "\n" +
				"Format:\n" +
				"Output MUST be valid JSON with the key:\n" +
				"- tip: The facilitation tip.\n\n" +
				"Response:",
			Params: GenerationParams{
				DecodingMethod: "greedy",
				MaxNewTokens:   120,
				MinNewTokens:   5,
			},
		}, nil

	case workshop.TagTask, workshop.TagPlan:
		return Request{
			Prompt: "You are an expert workshop facilitator AI.\n" +
				"Based on the workshop context below, produce the next working-session task for the group:\n" +
				"a short title and a focused brainstorming question tied to the objective.\n\n" +
				"Workshop Context:\n" + ctx + "\n" +
				"Instructions:\n" +
				"- Output a short task title on the first line.\n" +
				"- Output the brainstorming question on the second line.\n" +
				"- No additional text.\n\n" +
				"Generate the task now:",
			Params: GenerationParams{
				DecodingMethod: "sample",
				MaxNewTokens:   200,
				MinNewTokens:   10,
				Temperature:    0.7,
				TopK:           50,
				TopP:           0.9,
			},
		}, nil

	case workshop.TagNudge:
		target := cs.NudgeTarget
		if target == "" {
			target = "the participant"
		}
		return Request{
			Prompt: "You are a friendly workshop moderator AI.\n" +
				"One participant, " + target + ", has been quiet for a while during brainstorming.\n" +
				"Write one short, encouraging nudge (under 20 words) inviting them to contribute an idea.\n\n" +
				"Workshop Context:\n" + ctx + "\n" +
				"Output only the nudge sentence:",
			Params: GenerationParams{
				DecodingMethod: "greedy",
				MaxNewTokens:   60,
				MinNewTokens:   5,
			},
		}, nil

	case workshop.TagReport:
		return Request{
			Prompt: "You are an expert workshop facilitator AI.\n" +
				"Based on the workshop context below, write a concise summary report of the session:\n" +
				"the objective, what was discussed, and the prioritized outcomes.\n\n" +
				"Workshop Context:\n" + ctx + "\n" +
				"Instructions:\n" +
				"- Use Markdown with short sections.\n" +
				"- Lead with the top ranked ideas if present.\n" +
				"- Keep it under 300 words.\n\n" +
				"Generate the report now:",
			Params: GenerationParams{
				DecodingMethod:    "sample",
				MaxNewTokens:      400,
				MinNewTokens:      50,
				Temperature:       0.6,
				RepetitionPenalty: 1.05,
			},
		}, nil
	}

	return Request{}, &ProviderError{Sentinel: ErrBadContext, Operation: "build prompt", Body: string(tag)}
}

var jsonBlockRe = regexp.MustCompile(`(?s)(\{.*?\})`)

// ExtractField pulls a named string field out of raw model output. Models
// frequently wrap the requested JSON in prose; the first JSON-looking block
// is tried, and on parse failure the raw text is returned as-is.
func ExtractField(raw, key string) string {
	blob := raw
	if m := jsonBlockRe.FindStringSubmatch(raw); m != nil {
		blob = m[1]
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(blob), &parsed); err == nil {
		if v, ok := parsed[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return strings.TrimSpace(raw)
}

// CleanContent normalizes generated content for an artifact tag, unwrapping
// the JSON envelope where the prompt requested one.
func CleanContent(tag workshop.ArtifactTag, raw string) string {
	switch tag {
	case workshop.TagIcebreaker:
		return ExtractField(raw, "icebreaker")
	case workshop.TagTip:
		return ExtractField(raw, "tip")
	default:
		return strings.TrimSpace(raw)
	}
}
