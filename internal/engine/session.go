// session.go - One cancellable proof-staging session.
//
// A Session is ephemeral state for a single withdrawal attempt. It is
// never persisted; completion, error, or abandonment all end with the
// session discarded. Note status is never touched from here.

package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/consensys/gnark-crypto/accumulator/merkletree"
	mimcNative "github.com/consensys/gnark-crypto/ecc/bw6-761/fr/mimc"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/hushpool/hushpool/internal/note"
)

// TreeSource supplies the chain-side inputs a spend proof needs: the
// authentication path for a leaf and the currently published state root.
type TreeSource interface {
	MerkleWitness(ctx context.Context, leafIndex uint64) (root []byte, path [][]byte, numLeaves uint64, err error)
	StateRoot(ctx context.Context) ([]byte, error)
}

// Witness is an opaque prover witness. The size metric counts private
// inputs and is exposed for progress reporting only.
type Witness interface {
	PrivateInputs() int
}

// Prover is the pluggable proving capability. Implementations must respect
// the stage contract: each call is one bounded unit of work that either
// returns an artifact or an error.
type Prover interface {
	BuildWitness(ctx context.Context, in WitnessInput) (Witness, error)
	Prove(ctx context.Context, w Witness) ([]byte, error)
	Verify(ctx context.Context, proof []byte, in WitnessInput) error
}

// WitnessInput carries everything the prover needs for one spend.
// AmountMinor is the public payout; NoteAmountMinor is the amount the
// leaf commitment was built over and stays private in the circuit.
type WitnessInput struct {
	Secret          note.Secret
	AmountMinor     int64
	NoteAmountMinor int64
	Recipient       common.Address
	Nullifier       []byte
	LeafIndex       uint64
	Path            [][]byte
	NumLeaves       uint64
	Root            []byte
}

// Request is the entry condition for a session: a confirmed note, a target
// amount within the note, and a recipient.
type Request struct {
	Note        note.Note
	AmountMinor int64
	Recipient   common.Address
}

// Artifacts are the per-stage outputs available for polling.
type Artifacts struct {
	Nullifier   []byte
	MerkleRoot  []byte
	StateRoot   []byte
	WitnessSize int
	ProofBytes  []byte
}

// Output is the engine's contract with the spend coordinator once
// verification has succeeded.
type Output struct {
	Nullifier  []byte
	StateRoot  []byte
	ProofBytes []byte
}

// Session is a single proof-staging attempt. A cancelled or failed session
// cannot be resumed; retry means a new session from idle.
type Session struct {
	req    Request
	tree   TreeSource
	prover Prover
	log    zerolog.Logger

	progressTick time.Duration

	mu        sync.Mutex
	stage     Stage
	artifacts Artifacts
	progress  float64
	verified  bool
	err       error

	witness   Witness
	path      [][]byte
	numLeaves uint64
}

// Option configures a session.
type Option func(*Session)

// WithLogger attaches a structured logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithProgressTick overrides the proving progress cadence.
func WithProgressTick(d time.Duration) Option {
	return func(s *Session) { s.progressTick = d }
}

// NewSession creates an idle session for one withdrawal attempt.
func NewSession(req Request, tree TreeSource, prover Prover, opts ...Option) *Session {
	s := &Session{
		req:          req,
		tree:         tree,
		prover:       prover,
		log:          zerolog.Nop(),
		progressTick: 100 * time.Millisecond,
		stage:        StageIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stage returns the current pipeline position.
func (s *Session) Stage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

// Progress returns the proving completion ratio in [0, 1]. It only ever
// increases within a session.
func (s *Session) Progress() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// Artifacts returns a copy of the per-stage outputs produced so far.
func (s *Session) Artifacts() Artifacts {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.artifacts
	a.Nullifier = append([]byte(nil), s.artifacts.Nullifier...)
	a.MerkleRoot = append([]byte(nil), s.artifacts.MerkleRoot...)
	a.StateRoot = append([]byte(nil), s.artifacts.StateRoot...)
	a.ProofBytes = append([]byte(nil), s.artifacts.ProofBytes...)
	return a
}

// Err returns the recorded failure, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Run executes the pipeline through the verifying stage. It returns nil
// once local verification succeeds, or the ProofError that moved the
// session to the error state. Cancellation via ctx is cooperative: the
// stage in flight finishes its unit of work, the next one never starts.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.stage != StageIdle {
		stage := s.stage
		s.mu.Unlock()
		return fmt.Errorf("session already started (stage %s)", stage)
	}
	s.mu.Unlock()

	if err := s.checkEntry(); err != nil {
		return s.fail(StageIdle, err)
	}

	steps := []struct {
		stage Stage
		run   func(context.Context) error
	}{
		{StageNullifier, s.runNullifier},
		{StageMerkle, s.runMerkle},
		{StageStateRoot, s.runStateRoot},
		{StageWitness, s.runWitness},
		{StageProving, s.runProving},
		{StageVerifying, s.runVerifying},
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return s.fail(step.stage, err)
		}
		s.setStage(step.stage)
		s.log.Debug().Str("stage", step.stage.String()).Str("note", s.req.Note.ID).Msg("proof stage start")
		if err := step.run(ctx); err != nil {
			return s.fail(step.stage, err)
		}
	}

	s.mu.Lock()
	s.verified = true
	s.mu.Unlock()
	s.log.Info().Str("note", s.req.Note.ID).Msg("proof verified locally")
	return nil
}

// Output returns the artifacts owed to the spend coordinator. It fails
// until verification has succeeded.
func (s *Session) Output() (Output, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.verified || s.err != nil {
		return Output{}, ErrNotVerified
	}
	return Output{
		Nullifier:  append([]byte(nil), s.artifacts.Nullifier...),
		StateRoot:  append([]byte(nil), s.artifacts.StateRoot...),
		ProofBytes: append([]byte(nil), s.artifacts.ProofBytes...),
	}, nil
}

// BeginSubmit transitions verifying -> submitting. Only the coordinator
// calls this, and only after Output succeeded.
func (s *Session) BeginSubmit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.verified || s.stage != StageVerifying {
		return ErrNotVerified
	}
	s.stage = StageSubmitting
	return nil
}

// Complete marks the artifacts as accepted by the chain.
func (s *Session) Complete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage == StageSubmitting {
		s.stage = StageComplete
	}
}

// Fail moves a non-terminal session to the error state, recording the
// cause. Used by the coordinator for submission failures.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage.Terminal() {
		return
	}
	s.stage = StageError
	if s.err == nil {
		s.err = err
	}
}

func (s *Session) checkEntry() error {
	if s.req.Note.Status != note.StatusConfirmed {
		return fmt.Errorf("note %s is %s, want confirmed", s.req.Note.ID, s.req.Note.Status)
	}
	if s.req.AmountMinor <= 0 || s.req.AmountMinor > s.req.Note.AmountMinor {
		return fmt.Errorf("amount %d out of range (note holds %d)", s.req.AmountMinor, s.req.Note.AmountMinor)
	}
	if s.req.Recipient == (common.Address{}) {
		return errors.New("zero recipient")
	}
	return nil
}

func (s *Session) setStage(st Stage) {
	s.mu.Lock()
	s.stage = st
	s.mu.Unlock()
}

func (s *Session) fail(st Stage, cause error) error {
	perr := &ProofError{Stage: st, Err: cause}
	s.mu.Lock()
	s.stage = StageError
	s.err = perr
	s.mu.Unlock()
	s.log.Warn().Err(cause).Str("stage", st.String()).Str("note", s.req.Note.ID).Msg("proof session failed")
	return perr
}

// runNullifier derives the spend tag over the note's committed amount,
// not the payout, so every attempt against the same note yields the same
// nullifier regardless of how much is withdrawn.
func (s *Session) runNullifier(context.Context) error {
	nf := note.Nullifier(s.req.Note.Secret, s.req.Note.AmountMinor)
	s.mu.Lock()
	s.artifacts.Nullifier = nf
	s.mu.Unlock()
	return nil
}

func (s *Session) runMerkle(ctx context.Context) error {
	root, path, numLeaves, err := s.tree.MerkleWitness(ctx, s.req.Note.LeafIndex)
	if err != nil {
		return err
	}
	if !merkletree.VerifyProof(mimcNative.NewMiMC(), root, path, s.req.Note.LeafIndex, numLeaves) {
		return errors.New("authentication path does not bind to root")
	}
	s.mu.Lock()
	s.artifacts.MerkleRoot = root
	s.mu.Unlock()
	s.path = path
	s.numLeaves = numLeaves
	return nil
}

func (s *Session) runStateRoot(ctx context.Context) error {
	root, err := s.tree.StateRoot(ctx)
	if err != nil {
		return err
	}
	if !bytes.Equal(root, s.artifacts.MerkleRoot) {
		return errors.New("published state root does not match authentication path; root has advanced")
	}
	s.mu.Lock()
	s.artifacts.StateRoot = root
	s.mu.Unlock()
	return nil
}

func (s *Session) runWitness(ctx context.Context) error {
	w, err := s.prover.BuildWitness(ctx, s.witnessInput())
	if err != nil {
		return err
	}
	s.witness = w
	s.mu.Lock()
	s.artifacts.WitnessSize = w.PrivateInputs()
	s.mu.Unlock()
	return nil
}

func (s *Session) runProving(ctx context.Context) error {
	// Groth16 gives no intermediate progress, so a ticker advances the
	// ratio while the prover runs. The ticker is torn down before the
	// stage reports back, cancelled or not.
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(s.progressTick)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				s.bumpProgress(0.05, 0.95)
			}
		}
	}()

	proof, err := s.prover.Prove(ctx, s.witness)
	close(done)
	wg.Wait()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.artifacts.ProofBytes = proof
	s.progress = 1
	s.mu.Unlock()
	return nil
}

func (s *Session) runVerifying(ctx context.Context) error {
	s.mu.Lock()
	proof := s.artifacts.ProofBytes
	s.mu.Unlock()
	return s.prover.Verify(ctx, proof, s.witnessInput())
}

func (s *Session) witnessInput() WitnessInput {
	s.mu.Lock()
	nf := append([]byte(nil), s.artifacts.Nullifier...)
	root := append([]byte(nil), s.artifacts.MerkleRoot...)
	s.mu.Unlock()
	return WitnessInput{
		Secret:          s.req.Note.Secret,
		AmountMinor:     s.req.AmountMinor,
		NoteAmountMinor: s.req.Note.AmountMinor,
		Recipient:       s.req.Recipient,
		Nullifier:       nf,
		LeafIndex:       s.req.Note.LeafIndex,
		Path:            s.path,
		NumLeaves:       s.numLeaves,
		Root:            root,
	}
}

func (s *Session) bumpProgress(delta, limit float64) {
	s.mu.Lock()
	if s.progress+delta <= limit {
		s.progress += delta
	}
	s.mu.Unlock()
}
