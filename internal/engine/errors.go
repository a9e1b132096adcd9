package engine

import (
	"errors"
	"fmt"
)

// ErrNotVerified is returned when a session's output is requested before
// local verification has succeeded.
var ErrNotVerified = errors.New("proof session has not completed verification")

// ProofError reports the failure of one pipeline stage, including a failed
// local verification. The session that raised it is dead; retrying means a
// fresh session.
type ProofError struct {
	Stage Stage
	Err   error
}

func (e *ProofError) Error() string {
	return fmt.Sprintf("proof stage %s failed: %v", e.Stage, e.Err)
}

func (e *ProofError) Unwrap() error { return e.Err }
