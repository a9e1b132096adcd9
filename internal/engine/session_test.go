package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/consensys/gnark-crypto/accumulator/merkletree"
	"github.com/consensys/gnark-crypto/ecc/bw6-761/fr"
	mimcNative "github.com/consensys/gnark-crypto/ecc/bw6-761/fr/mimc"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hushpool/hushpool/internal/note"
)

// fakeTree serves authentication paths over a fixed set of leaves, built
// with the same tree code the chain uses.
type fakeTree struct {
	leaves       [][]byte
	witnessErr   error
	stateRootErr error
	// staleRoot, when set, is returned from StateRoot instead of the
	// actual tree root.
	staleRoot []byte
}

func (f *fakeTree) buf() *bytes.Buffer {
	var b bytes.Buffer
	for _, leaf := range f.leaves {
		b.Write(leaf)
	}
	return &b
}

func (f *fakeTree) MerkleWitness(_ context.Context, leafIndex uint64) ([]byte, [][]byte, uint64, error) {
	if f.witnessErr != nil {
		return nil, nil, 0, f.witnessErr
	}
	root, path, numLeaves, err := merkletree.BuildReaderProof(f.buf(), mimcNative.NewMiMC(), fr.Bytes, leafIndex)
	return root, path, numLeaves, err
}

func (f *fakeTree) StateRoot(context.Context) ([]byte, error) {
	if f.stateRootErr != nil {
		return nil, f.stateRootErr
	}
	if f.staleRoot != nil {
		return f.staleRoot, nil
	}
	root, _, _, err := merkletree.BuildReaderProof(f.buf(), mimcNative.NewMiMC(), fr.Bytes, 0)
	return root, err
}

type fakeWitness struct{ size int }

func (w fakeWitness) PrivateInputs() int { return w.size }

// fakeProver honors the stage contract with deterministic stand-in
// artifacts and per-stage failure injection.
type fakeProver struct {
	buildErr  error
	proveErr  error
	verifyErr error
	proveFn   func(ctx context.Context) ([]byte, error)
	calls     []string
	lastInput WitnessInput
}

func (p *fakeProver) BuildWitness(_ context.Context, in WitnessInput) (Witness, error) {
	p.calls = append(p.calls, "build")
	p.lastInput = in
	if p.buildErr != nil {
		return nil, p.buildErr
	}
	return fakeWitness{size: len(in.Path) + 2}, nil
}

func (p *fakeProver) Prove(ctx context.Context, _ Witness) ([]byte, error) {
	p.calls = append(p.calls, "prove")
	if p.proveFn != nil {
		return p.proveFn(ctx)
	}
	if p.proveErr != nil {
		return nil, p.proveErr
	}
	return []byte("proof-artifact"), nil
}

func (p *fakeProver) Verify(_ context.Context, proof []byte, _ WitnessInput) error {
	p.calls = append(p.calls, "verify")
	if p.verifyErr != nil {
		return p.verifyErr
	}
	if len(proof) == 0 {
		return errors.New("empty proof")
	}
	return nil
}

func testRequest(t *testing.T, tree *fakeTree) Request {
	t.Helper()
	secret, err := note.GenerateSecret()
	require.NoError(t, err)
	const amount = 1000000
	cm := note.Commitment(secret, amount)

	// Eight-leaf tree with the note's commitment at index 3.
	tree.leaves = make([][]byte, 8)
	for i := range tree.leaves {
		filler, err := note.GenerateSecret()
		require.NoError(t, err)
		tree.leaves[i] = note.Commitment(filler, 1)
	}
	tree.leaves[3] = cm

	return Request{
		Note: note.Note{
			ID:          "note-1",
			Secret:      secret,
			Commitment:  cm,
			AmountMinor: amount,
			LeafIndex:   3,
			Status:      note.StatusConfirmed,
		},
		AmountMinor: amount,
		Recipient:   common.HexToAddress("0x1111111111111111111111111111111111111111"),
	}
}

func TestSessionHappyPath(t *testing.T) {
	tree := &fakeTree{}
	prover := &fakeProver{}
	s := NewSession(testRequest(t, tree), tree, prover)

	require.Equal(t, StageIdle, s.Stage())
	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, StageVerifying, s.Stage())
	assert.Equal(t, []string{"build", "prove", "verify"}, prover.calls)
	assert.Equal(t, 1.0, s.Progress())

	a := s.Artifacts()
	assert.NotEmpty(t, a.Nullifier)
	assert.NotEmpty(t, a.MerkleRoot)
	assert.Equal(t, a.MerkleRoot, a.StateRoot)
	assert.NotZero(t, a.WitnessSize)
	assert.NotEmpty(t, a.ProofBytes)

	out, err := s.Output()
	require.NoError(t, err)
	assert.Equal(t, a.Nullifier, out.Nullifier)
	assert.Equal(t, a.StateRoot, out.StateRoot)
	assert.Equal(t, a.ProofBytes, out.ProofBytes)

	require.NoError(t, s.BeginSubmit())
	assert.Equal(t, StageSubmitting, s.Stage())
	s.Complete()
	assert.Equal(t, StageComplete, s.Stage())
}

func TestSessionPartialPayout(t *testing.T) {
	tree := &fakeTree{}
	prover := &fakeProver{}
	req := testRequest(t, tree)
	req.AmountMinor = 400000
	s := NewSession(req, tree, prover)

	require.NoError(t, s.Run(context.Background()))

	// The nullifier binds the note's committed amount, not the payout,
	// so a partial spend burns the same tag a full spend would.
	a := s.Artifacts()
	assert.Equal(t, note.Nullifier(req.Note.Secret, req.Note.AmountMinor), a.Nullifier)
	assert.NotEqual(t, note.Nullifier(req.Note.Secret, req.AmountMinor), a.Nullifier)

	// The prover sees both amounts: the payout and the committed one.
	assert.EqualValues(t, 400000, prover.lastInput.AmountMinor)
	assert.Equal(t, req.Note.AmountMinor, prover.lastInput.NoteAmountMinor)
}

func TestSessionFailureInjection(t *testing.T) {
	boom := errors.New("boom")
	cases := []struct {
		name  string
		setup func(*fakeTree, *fakeProver)
		stage Stage
	}{
		{"merkle", func(tr *fakeTree, _ *fakeProver) { tr.witnessErr = boom }, StageMerkle},
		{"state_root", func(tr *fakeTree, _ *fakeProver) { tr.stateRootErr = boom }, StageStateRoot},
		{"witness", func(_ *fakeTree, p *fakeProver) { p.buildErr = boom }, StageWitness},
		{"proving", func(_ *fakeTree, p *fakeProver) { p.proveErr = boom }, StageProving},
		{"verifying", func(_ *fakeTree, p *fakeProver) { p.verifyErr = boom }, StageVerifying},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tree := &fakeTree{}
			prover := &fakeProver{}
			req := testRequest(t, tree)
			tc.setup(tree, prover)
			s := NewSession(req, tree, prover)

			err := s.Run(context.Background())
			require.Error(t, err)
			var perr *ProofError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tc.stage, perr.Stage)
			assert.ErrorIs(t, err, boom)
			assert.Equal(t, StageError, s.Stage())

			// A dead session never yields output and cannot submit.
			_, err = s.Output()
			assert.ErrorIs(t, err, ErrNotVerified)
			assert.ErrorIs(t, s.BeginSubmit(), ErrNotVerified)
		})
	}
}

func TestSessionStaleStateRoot(t *testing.T) {
	tree := &fakeTree{}
	prover := &fakeProver{}
	req := testRequest(t, tree)
	tree.staleRoot = []byte("different-root")
	s := NewSession(req, tree, prover)

	err := s.Run(context.Background())
	var perr *ProofError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, StageStateRoot, perr.Stage)
	// The pipeline never reached the prover.
	assert.Empty(t, prover.calls)
}

func TestSessionEntryConditions(t *testing.T) {
	tree := &fakeTree{}
	base := testRequest(t, tree)

	mutate := map[string]func(Request) Request{
		"pending note": func(r Request) Request {
			r.Note.Status = note.StatusPending
			return r
		},
		"amount exceeds note": func(r Request) Request {
			r.AmountMinor = r.Note.AmountMinor + 1
			return r
		},
		"zero amount": func(r Request) Request {
			r.AmountMinor = 0
			return r
		},
		"zero recipient": func(r Request) Request {
			r.Recipient = common.Address{}
			return r
		},
	}
	for name, fn := range mutate {
		t.Run(name, func(t *testing.T) {
			prover := &fakeProver{}
			s := NewSession(fn(base), tree, prover)
			err := s.Run(context.Background())
			require.Error(t, err)
			assert.Equal(t, StageError, s.Stage())
			assert.Empty(t, prover.calls)
		})
	}
}

func TestSessionCancellation(t *testing.T) {
	tree := &fakeTree{}
	prover := &fakeProver{}
	req := testRequest(t, tree)

	ctx, cancel := context.WithCancel(context.Background())
	prover.proveFn = func(ctx context.Context) ([]byte, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	s := NewSession(req, tree, prover, WithProgressTick(time.Millisecond))

	err := s.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StageError, s.Stage())
	assert.Less(t, s.Progress(), 1.0)

	// Cancelled sessions are not resumable.
	err = s.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already started")
}

func TestSessionCancelledBeforeStart(t *testing.T) {
	tree := &fakeTree{}
	prover := &fakeProver{}
	req := testRequest(t, tree)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewSession(req, tree, prover)
	err := s.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, prover.calls)
}

func TestSessionFailDuringSubmit(t *testing.T) {
	tree := &fakeTree{}
	prover := &fakeProver{}
	s := NewSession(testRequest(t, tree), tree, prover)
	require.NoError(t, s.Run(context.Background()))
	require.NoError(t, s.BeginSubmit())

	submitErr := fmt.Errorf("chain rejected")
	s.Fail(submitErr)
	assert.Equal(t, StageError, s.Stage())
	assert.ErrorIs(t, s.Err(), submitErr)
}

func TestStageStrings(t *testing.T) {
	assert.Equal(t, "state_root", StageStateRoot.String())
	assert.Equal(t, "idle", StageIdle.String())
	assert.True(t, StageComplete.Terminal())
	assert.True(t, StageError.Terminal())
	assert.False(t, StageProving.Terminal())
}
