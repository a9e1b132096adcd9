// note.go - Note type and lifecycle states.
//
// A Note tracks one deposit from issuance (pending) through on-chain
// confirmation to the eventual spend. Status transitions are monotonic;
// the ledger package enforces them.

package note

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Status is the lifecycle state of a note.
type Status string

const (
	// StatusPending marks a note whose deposit transaction has been issued
	// but not yet finalized on-chain.
	StatusPending Status = "pending"
	// StatusConfirmed marks a note whose deposit is finalized; only
	// confirmed notes are spendable and counted in the balance.
	StatusConfirmed Status = "confirmed"
	// StatusSpent marks a note whose nullifier has been published on-chain.
	StatusSpent Status = "spent"
)

// Valid reports whether s is one of the three lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusSpent:
		return true
	}
	return false
}

// Note is the ledger's unit: one private claim on a deposited amount.
// JSON field names follow the durable backup record format.
type Note struct {
	ID          string        `json:"id"`
	Secret      Secret        `json:"secret"`
	Commitment  hexutil.Bytes `json:"commitment"`
	Amount      string        `json:"amount"`
	AmountMinor int64         `json:"amountMinorUnits"`
	LeafIndex   uint64        `json:"leafIndex"`
	CreatedAt   time.Time     `json:"createdAt"`
	TxRef       common.Hash   `json:"transactionRef"`
	Status      Status        `json:"status"`
}

// Clone returns an independent copy; callers outside the ledger only ever
// see clones.
func (n *Note) Clone() Note {
	c := *n
	c.Commitment = append(hexutil.Bytes(nil), n.Commitment...)
	return c
}

// FormatAmount renders minor units as a decimal string with the given
// number of decimals, e.g. 1000000 with 6 decimals -> "1.000000".
// All arithmetic stays in integer minor units; this is display only.
func FormatAmount(minor int64, decimals int) string {
	if decimals <= 0 {
		return fmt.Sprintf("%d", minor)
	}
	base := int64(1)
	for i := 0; i < decimals; i++ {
		base *= 10
	}
	whole := minor / base
	frac := minor % base
	return fmt.Sprintf("%d.%0*d", whole, decimals, frac)
}

// ParseAmount converts a decimal string into minor units. It rejects
// negatives, malformed input, and more fractional digits than decimals.
func ParseAmount(s string, decimals int) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "-") {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	wholeStr, fracStr, _ := strings.Cut(s, ".")
	if wholeStr == "" {
		wholeStr = "0"
	}
	if len(fracStr) > decimals {
		return 0, fmt.Errorf("amount %q has more than %d decimal places", s, decimals)
	}
	for len(fracStr) < decimals {
		fracStr += "0"
	}
	var whole, frac int64
	if _, err := fmt.Sscanf(wholeStr, "%d", &whole); err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	if fracStr != "" {
		if _, err := fmt.Sscanf(fracStr, "%d", &frac); err != nil {
			return 0, fmt.Errorf("invalid amount %q", s)
		}
	}
	base := int64(1)
	for i := 0; i < decimals; i++ {
		base *= 10
	}
	return whole*base + frac, nil
}
