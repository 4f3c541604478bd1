// SPDX-License-Identifier: MIT

package aigw

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is checks at the boundary.
var (
	ErrTimeout          = errors.New("provider: request timed out")
	ErrUnavailable      = errors.New("provider: host unreachable or transport failure")
	ErrUpstream         = errors.New("provider: internal error (5xx)")
	ErrProviderRejected = errors.New("provider: request rejected")
	ErrBadResponse      = errors.New("provider: invalid response format or malformed data")
	ErrBadContext       = errors.New("provider: malformed context snapshot")
)

// ProviderError wraps the sentinel errors with call context.
type ProviderError struct {
	Sentinel  error
	Operation string
	Status    int
	Body      string
	Err       error // nested lower-level error (e.g. net.Error)
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("aigw: %s: %v", e.Operation, e.Sentinel)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Body != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Body)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Sentinel
}

// IsTransient reports whether the error is worth retrying with backoff.
// Rejections and malformed context fail immediately.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrUpstream)
}
