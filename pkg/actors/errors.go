package actors

import (
	"context"
	"errors"
	"fmt"
)

// ActorError is returned by every failed operation. Fallback holds the
// user-facing text the session shows instead of a reply.
type ActorError struct {
	Op       string
	Fallback string
	Err      error
}

func (e *ActorError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ActorError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the operation ran out of time.
func (e *ActorError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// FallbackOf extracts the fallback text from err, or returns "".
func FallbackOf(err error) string {
	var ae *ActorError
	if errors.As(err, &ae) {
		return ae.Fallback
	}
	return ""
}
