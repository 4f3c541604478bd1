// SPDX-License-Identifier: MIT

package workshop

import "errors"

// Sentinel errors for errors.Is checks at component boundaries.
var (
	ErrNotFound    = errors.New("workshop: not found")
	ErrConflict    = errors.New("workshop: session state conflict")
	ErrForbidden   = errors.New("workshop: action not permitted for role")
	ErrQuarantined = errors.New("workshop: session quarantined after invariant violation")
)
