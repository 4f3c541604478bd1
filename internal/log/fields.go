// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID     = "session_id"
	FieldParticipantID = "participant_id"
	FieldConnectionID  = "connection_id"
	FieldRequestID     = "request_id"
	FieldIdeaID        = "idea_id"
	FieldArtifactID    = "artifact_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldStage     = "stage"
	FieldAttempt   = "attempt"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldSequence = "sequence"

	// Participant fields
	FieldRole        = "role"
	FieldDisplayName = "display_name"
)
