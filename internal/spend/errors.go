package spend

import "fmt"

// ValidationError rejects a withdrawal request before any proof session
// starts. Nothing has happened on-chain or in the ledger when it is
// returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// SubmissionError reports that the chain rejected or failed to confirm a
// submitted proof. The note stays confirmed and a retry needs a freshly
// computed proof.
type SubmissionError struct {
	Err error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("withdrawal submission failed: %v", e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }
