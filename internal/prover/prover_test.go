package prover

import (
	"bytes"
	"context"
	"testing"

	"github.com/consensys/gnark-crypto/accumulator/merkletree"
	"github.com/consensys/gnark-crypto/ecc/bw6-761/fr"
	mimcNative "github.com/consensys/gnark-crypto/ecc/bw6-761/fr/mimc"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/hushpool/hushpool/internal/engine"
	"github.com/hushpool/hushpool/internal/note"
)

func TestSpendProofEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("groth16 setup is slow")
	}
	dir := t.TempDir()
	p, err := New(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("prover setup failed: %v", err)
	}

	secret, err := note.GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}
	const amount = int64(1000000)
	const leafIndex = uint64(5)
	cm := note.Commitment(secret, amount)

	// Full-capacity tree with the commitment at leafIndex, zero leaves
	// elsewhere, matching the chain's padding discipline.
	leaves := make([]byte, Capacity*fr.Bytes)
	copy(leaves[int(leafIndex)*fr.Bytes:], cm)
	root, path, numLeaves, err := merkletree.BuildReaderProof(bytes.NewReader(leaves), mimcNative.NewMiMC(), fr.Bytes, leafIndex)
	if err != nil {
		t.Fatalf("building authentication path failed: %v", err)
	}

	in := engine.WitnessInput{
		Secret:          secret,
		AmountMinor:     amount,
		NoteAmountMinor: amount,
		Recipient:       common.HexToAddress("0x2222222222222222222222222222222222222222"),
		Nullifier:       note.Nullifier(secret, amount),
		LeafIndex:       leafIndex,
		Path:            path,
		NumLeaves:       numLeaves,
		Root:            root,
	}

	ctx := context.Background()
	w, err := p.BuildWitness(ctx, in)
	if err != nil {
		t.Fatalf("BuildWitness failed: %v", err)
	}
	if w.PrivateInputs() != TreeDepth+4 {
		t.Errorf("witness size = %d, want %d", w.PrivateInputs(), TreeDepth+4)
	}

	proof, err := p.Prove(ctx, w)
	if err != nil {
		t.Fatalf("Prove failed: %v", err)
	}
	if len(proof) == 0 {
		t.Fatal("proof is empty")
	}
	if err := p.Verify(ctx, proof, in); err != nil {
		t.Fatalf("Verify failed on honest proof: %v", err)
	}

	// The same check the chain backend runs on submission.
	if err := p.VerifyWithdrawal(in.Nullifier, in.Recipient.Bytes(), amount, root, proof); err != nil {
		t.Fatalf("VerifyWithdrawal failed on honest proof: %v", err)
	}

	// Tampered public inputs must not verify.
	bad := in
	bad.AmountMinor = amount + 1
	if err := p.Verify(ctx, proof, bad); err == nil {
		t.Error("proof verified against tampered amount")
	}
	badRecipient := in
	badRecipient.Recipient = common.HexToAddress("0x3333333333333333333333333333333333333333")
	if err := p.Verify(ctx, proof, badRecipient); err == nil {
		t.Error("proof verified against tampered recipient")
	}
	if err := p.VerifyWithdrawal(note.Nullifier(secret, amount+1), in.Recipient.Bytes(), amount, root, proof); err == nil {
		t.Error("proof verified against tampered nullifier")
	}

	// A path of the wrong length cannot become a witness.
	short := in
	short.Path = make([][]byte, 3)
	if _, err := p.BuildWitness(ctx, short); err == nil {
		t.Error("wrong path length should be rejected")
	}

	// A payout below the committed note amount proves against the same
	// leaf: the commitment opens over the note amount, the payout is only
	// bounded by it.
	partial := in
	partial.AmountMinor = 400000
	pw, err := p.BuildWitness(ctx, partial)
	if err != nil {
		t.Fatalf("BuildWitness failed for partial payout: %v", err)
	}
	partialProof, err := p.Prove(ctx, pw)
	if err != nil {
		t.Fatalf("Prove failed for partial payout: %v", err)
	}
	if err := p.Verify(ctx, partialProof, partial); err != nil {
		t.Fatalf("Verify failed on honest partial-payout proof: %v", err)
	}
	if err := p.VerifyWithdrawal(partial.Nullifier, partial.Recipient.Bytes(), partial.AmountMinor, root, partialProof); err != nil {
		t.Fatalf("VerifyWithdrawal failed on honest partial-payout proof: %v", err)
	}

	// A payout above the committed note amount cannot be proven.
	over := in
	over.AmountMinor = amount + 1
	ow, err := p.BuildWitness(ctx, over)
	if err != nil {
		t.Fatalf("BuildWitness failed for oversized payout: %v", err)
	}
	if _, err := p.Prove(ctx, ow); err == nil {
		t.Error("payout above the committed amount should not prove")
	}
}
