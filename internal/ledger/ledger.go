// ledger.go - In-memory note ledger with strict balance invariants.
//
// The Ledger is the sole owner of its notes. External components receive
// copies, never references into the underlying slice. It is not safe for
// concurrent mutation; the owning wallet serializes access.

package ledger

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/hushpool/hushpool/internal/note"
)

// Ledger holds the ordered collection of notes plus the cached confirmed
// balance. The cache is recomputed on every status mutation so it always
// equals the sum over confirmed notes.
type Ledger struct {
	notes         []*note.Note
	balance       int64
	lastSyncBlock uint64
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{}
}

// AddNote records a freshly issued deposit as a pending note and returns a
// copy of it. The id is locally unique regardless of duplicate transaction
// refs.
func (l *Ledger) AddNote(secret note.Secret, commitment []byte, amount string, amountMinor int64, txRef common.Hash) note.Note {
	n := &note.Note{
		ID:          uuid.NewString(),
		Secret:      secret,
		Commitment:  append([]byte(nil), commitment...),
		Amount:      amount,
		AmountMinor: amountMinor,
		CreatedAt:   time.Now().UTC(),
		TxRef:       txRef,
		Status:      note.StatusPending,
	}
	l.notes = append(l.notes, n)
	l.recompute()
	return n.Clone()
}

// MarkConfirmed transitions the pending note matching txRef to confirmed
// and records its chain leaf index. It reports whether a note matched;
// no match is not an error, since deposit events may arrive before the
// ledger has been told about the deposit and the caller retries on a
// later event.
func (l *Ledger) MarkConfirmed(txRef common.Hash, leafIndex uint64) bool {
	for _, n := range l.notes {
		if n.TxRef == txRef && n.Status == note.StatusPending {
			n.Status = note.StatusConfirmed
			n.LeafIndex = leafIndex
			l.recompute()
			return true
		}
	}
	return false
}

// MarkSpent transitions a confirmed note to spent. Any other starting
// status fails with InvalidTransitionError and leaves the ledger
// unchanged.
func (l *Ledger) MarkSpent(id string) error {
	for _, n := range l.notes {
		if n.ID != id {
			continue
		}
		if n.Status != note.StatusConfirmed {
			return &InvalidTransitionError{NoteID: id, From: n.Status, To: note.StatusSpent}
		}
		n.Status = note.StatusSpent
		l.recompute()
		return nil
	}
	return ErrNoteNotFound
}

// Note returns a copy of the note with the given id.
func (l *Ledger) Note(id string) (note.Note, bool) {
	for _, n := range l.notes {
		if n.ID == id {
			return n.Clone(), true
		}
	}
	return note.Note{}, false
}

// AvailableNotes returns copies of all confirmed notes in insertion order.
func (l *Ledger) AvailableNotes() []note.Note {
	var out []note.Note
	for _, n := range l.notes {
		if n.Status == note.StatusConfirmed {
			out = append(out, n.Clone())
		}
	}
	return out
}

// AllNotes returns copies of every note regardless of status.
func (l *Ledger) AllNotes() []note.Note {
	out := make([]note.Note, 0, len(l.notes))
	for _, n := range l.notes {
		out = append(out, n.Clone())
	}
	return out
}

// TotalBalance returns the cached sum of minor units over confirmed notes.
func (l *Ledger) TotalBalance() int64 {
	return l.balance
}

// LastSyncBlock returns the chain height of the last deposit event applied.
func (l *Ledger) LastSyncBlock() uint64 {
	return l.lastSyncBlock
}

// SetLastSyncBlock records the chain height of an applied deposit event.
// Heights only move forward.
func (l *Ledger) SetLastSyncBlock(block uint64) {
	if block > l.lastSyncBlock {
		l.lastSyncBlock = block
	}
}

// recompute refreshes the cached balance from the notes. Called after
// every mutation that can change a note's status or amount.
func (l *Ledger) recompute() {
	var sum int64
	for _, n := range l.notes {
		if n.Status == note.StatusConfirmed {
			sum += n.AmountMinor
		}
	}
	l.balance = sum
}
