// store.go - Durable persistence and backup for the note ledger.
//
// The on-disk record is the same shape as the exported backup:
// { "deposits": [...], "totalBalance": "...", "lastSyncBlock": n }.
// Saves are write-new-then-swap so a partial write can never corrupt the
// previously stored state.

package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/hushpool/hushpool/internal/note"
)

// record is the durable store layout.
type record struct {
	Deposits      []*note.Note `json:"deposits"`
	TotalBalance  string       `json:"totalBalance"`
	LastSyncBlock uint64       `json:"lastSyncBlock"`
}

// Store reads and writes one ledger file. Callers must serialize Load/Save
// per path; concurrent writers are last-writer-wins.
type Store struct {
	path string
	log  zerolog.Logger
}

// NewStore creates a store for the given path.
func NewStore(path string, logger zerolog.Logger) *Store {
	return &Store{path: path, log: logger}
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Load reads the durable ledger. A missing file or corrupt data yields an
// empty ledger; corruption is logged, never fatal.
func (s *Store) Load() *Ledger {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn().Err(err).Str("path", s.path).Msg("ledger unreadable, starting empty")
		}
		return New()
	}
	l, err := Import(data)
	if err != nil {
		s.log.Warn().Err(err).Str("path", s.path).Msg("ledger corrupt, starting empty")
		return New()
	}
	return l
}

// Save atomically overwrites the durable ledger. On any failure the
// previous file content is left intact.
func (s *Store) Save(l *Ledger) error {
	data, err := Export(l)
	if err != nil {
		return &StorageError{Op: "save", Path: s.path, Err: err}
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return &StorageError{Op: "save", Path: s.path, Err: err}
	}
	tmp, err := os.CreateTemp(dir, ".ledger-*")
	if err != nil {
		return &StorageError{Op: "save", Path: s.path, Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &StorageError{Op: "save", Path: s.path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &StorageError{Op: "save", Path: s.path, Err: err}
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return &StorageError{Op: "save", Path: s.path, Err: err}
	}
	return nil
}

// Export serializes the ledger into the backup record format.
func Export(l *Ledger) ([]byte, error) {
	rec := record{
		Deposits:      l.notes,
		TotalBalance:  strconv.FormatInt(l.TotalBalance(), 10),
		LastSyncBlock: l.lastSyncBlock,
	}
	if rec.Deposits == nil {
		rec.Deposits = []*note.Note{}
	}
	return json.MarshalIndent(rec, "", "  ")
}

// Import parses and validates a backup record, returning a fresh ledger.
// Malformed input is rejected without touching any existing state: the
// deposits collection must be present and array-typed, and every note must
// be well formed. The cached balance is recomputed from the notes rather
// than trusted from the record.
func Import(data []byte) (*Ledger, error) {
	var shape map[string]json.RawMessage
	if err := json.Unmarshal(data, &shape); err != nil {
		return nil, &ImportError{Reason: "not a JSON object", Err: err}
	}
	rawDeposits, ok := shape["deposits"]
	if !ok {
		return nil, &ImportError{Reason: "missing deposits collection"}
	}
	var probe []json.RawMessage
	if err := json.Unmarshal(rawDeposits, &probe); err != nil {
		return nil, &ImportError{Reason: "deposits is not an array", Err: err}
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, &ImportError{Reason: "malformed record", Err: err}
	}
	seenIDs := make(map[string]bool, len(rec.Deposits))
	seenSecrets := make(map[note.Secret]bool, len(rec.Deposits))
	for i, n := range rec.Deposits {
		if err := validateNote(n); err != nil {
			return nil, &ImportError{Reason: fmt.Sprintf("deposit %d invalid", i), Err: err}
		}
		// One note per secret: a duplicate would double-count the balance.
		if seenIDs[n.ID] {
			return nil, &ImportError{Reason: fmt.Sprintf("deposit %d duplicates note id %s", i, n.ID)}
		}
		if seenSecrets[n.Secret] {
			return nil, &ImportError{Reason: fmt.Sprintf("deposit %d duplicates the secret of an earlier note", i)}
		}
		seenIDs[n.ID] = true
		seenSecrets[n.Secret] = true
	}
	l := New()
	l.notes = rec.Deposits
	l.lastSyncBlock = rec.LastSyncBlock
	l.recompute()
	return l, nil
}

func validateNote(n *note.Note) error {
	if n == nil {
		return fmt.Errorf("null note")
	}
	if n.ID == "" {
		return fmt.Errorf("missing id")
	}
	if n.Secret.IsZero() {
		return fmt.Errorf("missing secret")
	}
	if len(n.Commitment) == 0 {
		return fmt.Errorf("missing commitment")
	}
	if n.AmountMinor <= 0 {
		return fmt.Errorf("non-positive amount %d", n.AmountMinor)
	}
	if !n.Status.Valid() {
		return fmt.Errorf("unknown status %q", n.Status)
	}
	return nil
}
