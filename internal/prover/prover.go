// Package prover implements the proving capability on gnark (Groth16 over
// BW6-761). It satisfies the engine's Prover contract and doubles as the
// withdrawal verifier for chain backends that check proofs in-process.
package prover

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/backend/witness"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	gnarklogger "github.com/consensys/gnark/logger"
	"github.com/consensys/gnark/std/accumulator/merkle"
	"github.com/rs/zerolog"

	"github.com/hushpool/hushpool/internal/engine"
)

// GnarkProver holds the compiled spend circuit and its Groth16 key pair.
// It is safe for concurrent use; proving does not mutate state.
type GnarkProver struct {
	ccs constraint.ConstraintSystem
	pk  groth16.ProvingKey
	vk  groth16.VerifyingKey
	log zerolog.Logger
}

// New compiles the spend circuit and loads (or generates and caches) the
// Groth16 keys under keyDir.
func New(keyDir string, logger zerolog.Logger) (*GnarkProver, error) {
	// gnark chatters on its own zerolog instance during compilation and
	// proving; keep it out of our log stream.
	gnarklogger.Set(zerolog.New(io.Discard).Level(zerolog.Disabled))

	ccs, err := frontend.Compile(ecc.BW6_761.ScalarField(), r1cs.NewBuilder, newCircuit())
	if err != nil {
		return nil, fmt.Errorf("compiling spend circuit: %w", err)
	}
	if err := os.MkdirAll(keyDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating key directory: %w", err)
	}
	pk, vk, err := setupOrLoadKeys(ccs,
		filepath.Join(keyDir, "spend_proving.key"),
		filepath.Join(keyDir, "spend_verifying.key"))
	if err != nil {
		return nil, fmt.Errorf("groth16 key setup: %w", err)
	}
	logger.Info().Int("constraints", ccs.GetNbConstraints()).Msg("spend circuit ready")
	return &GnarkProver{ccs: ccs, pk: pk, vk: vk, log: logger}, nil
}

// gnarkWitness wraps the full assignment produced by BuildWitness.
type gnarkWitness struct {
	w witness.Witness
}

func (gw *gnarkWitness) PrivateInputs() int {
	// secret + note amount + leaf index + authentication path.
	return 3 + TreeDepth + 1
}

// BuildWitness assembles the full circuit assignment for one spend.
func (p *GnarkProver) BuildWitness(_ context.Context, in engine.WitnessInput) (engine.Witness, error) {
	if len(in.Path) != TreeDepth+1 {
		return nil, fmt.Errorf("authentication path has %d entries, circuit expects %d", len(in.Path), TreeDepth+1)
	}
	assignment := newCircuit()
	assignment.Nullifier = new(big.Int).SetBytes(in.Nullifier)
	assignment.Recipient = new(big.Int).SetBytes(in.Recipient.Bytes())
	assignment.Payout = big.NewInt(in.AmountMinor)
	assignment.Secret = new(big.Int).SetBytes(in.Secret[:])
	assignment.NoteAmount = big.NewInt(in.NoteAmountMinor)
	assignment.LeafIndex = new(big.Int).SetUint64(in.LeafIndex)
	assignment.Path.RootHash = new(big.Int).SetBytes(in.Root)
	for i, node := range in.Path {
		assignment.Path.Path[i] = new(big.Int).SetBytes(node)
	}
	w, err := frontend.NewWitness(assignment, ecc.BW6_761.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("building witness: %w", err)
	}
	return &gnarkWitness{w: w}, nil
}

// Prove runs Groth16 on a witness built by BuildWitness and returns the
// serialized proof.
func (p *GnarkProver) Prove(_ context.Context, w engine.Witness) ([]byte, error) {
	gw, ok := w.(*gnarkWitness)
	if !ok {
		return nil, fmt.Errorf("witness was not built by this prover")
	}
	proof, err := groth16.Prove(p.ccs, p.pk, gw.w)
	if err != nil {
		return nil, fmt.Errorf("groth16 prove: %w", err)
	}
	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("serializing proof: %w", err)
	}
	return buf.Bytes(), nil
}

// Verify checks a serialized proof against the public inputs derived from
// the witness input. A failure here is a ProofError for the session, never
// something to pass through.
func (p *GnarkProver) Verify(_ context.Context, proof []byte, in engine.WitnessInput) error {
	return p.verify(proof, in.Nullifier, new(big.Int).SetBytes(in.Recipient.Bytes()), in.AmountMinor, in.Root)
}

// VerifyWithdrawal checks a submitted withdrawal the way the chain
// contract would: proof against (nullifier, recipient, amount, stateRoot).
func (p *GnarkProver) VerifyWithdrawal(nullifier []byte, recipient []byte, amountMinor int64, stateRoot, proof []byte) error {
	return p.verify(proof, nullifier, new(big.Int).SetBytes(recipient), amountMinor, stateRoot)
}

func (p *GnarkProver) verify(proofBytes, nullifier []byte, recipient *big.Int, amountMinor int64, root []byte) error {
	public := &CircuitSpend{
		Nullifier: new(big.Int).SetBytes(nullifier),
		Recipient: recipient,
		Payout:    big.NewInt(amountMinor),
		Path: merkle.MerkleProof{
			RootHash: new(big.Int).SetBytes(root),
			Path:     make([]frontend.Variable, TreeDepth+1),
		},
	}
	w, err := frontend.NewWitness(public, ecc.BW6_761.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("building public witness: %w", err)
	}
	proof := groth16.NewProof(ecc.BW6_761)
	if _, err := proof.ReadFrom(bytes.NewReader(proofBytes)); err != nil {
		return fmt.Errorf("malformed proof: %w", err)
	}
	if err := groth16.Verify(proof, p.vk, w); err != nil {
		return fmt.Errorf("proof does not verify: %w", err)
	}
	return nil
}
