// circuit.go - Groth16 spend circuit.
//
// The statement: the prover knows a secret and a note amount such that
//   - MiMC(secret, noteAmount) is a leaf of the commitment tree with the
//     public root,
//   - the public nullifier equals MiMC(tag, secret, noteAmount),
//   - the public payout does not exceed the committed note amount.
//
// Recipient and payout are public inputs so the proof is bound to one
// payment and cannot be replayed for another. The committed amount stays
// private; a payout below it consumes the note without revealing the
// difference.

package prover

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/accumulator/merkle"
	"github.com/consensys/gnark/std/hash/mimc"

	"github.com/hushpool/hushpool/internal/note"
)

// TreeDepth fixes the commitment tree geometry. The chain side pads its
// leaf set to Capacity so every authentication path has the same length.
const TreeDepth = 10

// Capacity is the maximum number of commitments the tree holds.
const Capacity = 1 << TreeDepth

// CircuitSpend is the spend statement. Path.RootHash is the public state
// root; the path itself, the leaf position, and the committed note amount
// stay private.
type CircuitSpend struct {
	Nullifier frontend.Variable `gnark:",public"`
	Recipient frontend.Variable `gnark:",public"`
	Payout    frontend.Variable `gnark:",public"`

	Secret     frontend.Variable
	NoteAmount frontend.Variable
	LeafIndex  frontend.Variable
	Path       merkle.MerkleProof
}

// newCircuit allocates a circuit shell with the fixed path length, for
// compilation and for public-only witnesses.
func newCircuit() *CircuitSpend {
	return &CircuitSpend{
		Path: merkle.MerkleProof{
			Path: make([]frontend.Variable, TreeDepth+1),
		},
	}
}

func (c *CircuitSpend) Define(api frontend.API) error {
	// (1) Commitment over the committed note amount opens the tree leaf.
	hCm, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	hCm.Write(c.Secret)
	hCm.Write(c.NoteAmount)
	api.AssertIsEqual(hCm.Sum(), c.Path.Path[0])

	// (2) Nullifier is the PRF of the same opening under the domain tag.
	hNf, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	hNf.Write(note.NullifierTag())
	hNf.Write(c.Secret)
	hNf.Write(c.NoteAmount)
	api.AssertIsEqual(c.Nullifier, hNf.Sum())

	// (3) The leaf is a member of the tree with the public root.
	hPath, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	c.Path.VerifyProof(api, &hPath, c.LeafIndex)

	// (4) The payout cannot exceed what the note committed to.
	api.AssertIsLessOrEqual(c.Payout, c.NoteAmount)

	api.AssertIsDifferent(c.Recipient, 0)
	api.AssertIsDifferent(c.Payout, 0)
	return nil
}
