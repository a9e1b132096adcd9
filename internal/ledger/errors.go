// Package ledger error types.
//
// Storage failures and illegal note transitions carry structured context
// so callers can distinguish a degraded load from a data-integrity bug.
package ledger

import (
	"errors"
	"fmt"

	"github.com/hushpool/hushpool/internal/note"
)

// ErrNoteNotFound is returned when an operation names a note id the ledger
// does not hold.
var ErrNoteNotFound = errors.New("note not found")

// InvalidTransitionError reports an illegal note-status change. It should
// never occur in correct usage: seeing one means bookkeeping tried to
// double-spend or to spend a note that was never confirmed.
type InvalidTransitionError struct {
	NoteID string
	From   note.Status
	To     note.Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for note %s: %s -> %s", e.NoteID, e.From, e.To)
}

// StorageError wraps a durable read/write failure. A failed load degrades
// to an empty ledger; a failed save is surfaced and must never be treated
// as success.
type StorageError struct {
	Op   string // "load", "save"
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed for %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ImportError reports a rejected backup. Nothing is applied when it is
// returned.
type ImportError struct {
	Reason string
	Err    error
}

func (e *ImportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("import rejected: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("import rejected: %s", e.Reason)
}

func (e *ImportError) Unwrap() error { return e.Err }
