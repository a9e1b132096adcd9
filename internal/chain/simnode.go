// simnode.go - In-process chain simulation.
//
// The SimNode keeps the same books a shielded-pool contract would: an
// append-only commitment list padded to a fixed tree capacity, a nullifier
// set for double-spend rejection, and a history of published roots.
// Deposits confirm when a block is mined, which is an explicit call so
// tests and the CLI control confirmation timing.

package chain

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/consensys/gnark-crypto/accumulator/merkletree"
	"github.com/consensys/gnark-crypto/ecc/bw6-761/fr"
	mimcNative "github.com/consensys/gnark-crypto/ecc/bw6-761/fr/mimc"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
)

type pendingDeposit struct {
	commitment  []byte
	amountMinor int64
	txRef       common.Hash
}

// SimNode is an in-memory Client. It is safe for concurrent use.
type SimNode struct {
	capacity int
	verifier WithdrawalVerifier
	log      zerolog.Logger

	mu          sync.Mutex
	leaves      [][]byte
	pending     []pendingDeposit
	nullifiers  map[string]bool
	knownRoots  map[string]bool
	block       uint64
	subscribers map[int]func(DepositEvent)
	nextSub     int
}

// SimOption configures a SimNode.
type SimOption func(*SimNode)

// WithVerifier makes the node verify withdrawal proofs on submission, the
// way the real contract does.
func WithVerifier(v WithdrawalVerifier) SimOption {
	return func(n *SimNode) { n.verifier = v }
}

// WithSimLogger attaches a structured logger.
func WithSimLogger(l zerolog.Logger) SimOption {
	return func(n *SimNode) { n.log = l }
}

// NewSimNode creates an empty simulated chain whose commitment tree holds
// at most capacity leaves. Capacity must be a power of two so every
// authentication path has the same length.
func NewSimNode(capacity int, opts ...SimOption) (*SimNode, error) {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		return nil, fmt.Errorf("tree capacity %d is not a power of two", capacity)
	}
	n := &SimNode{
		capacity:    capacity,
		log:         zerolog.Nop(),
		nullifiers:  make(map[string]bool),
		knownRoots:  make(map[string]bool),
		subscribers: make(map[int]func(DepositEvent)),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.knownRoots[hex.EncodeToString(n.rootLocked())] = true
	return n, nil
}

// SubmitDeposit queues a commitment. It confirms, and its event fires,
// when the next block is mined.
func (n *SimNode) SubmitDeposit(_ context.Context, commitment []byte, amountMinor int64) (common.Hash, error) {
	if len(commitment) == 0 {
		return common.Hash{}, &RejectedError{Reason: "empty commitment"}
	}
	if amountMinor <= 0 {
		return common.Hash{}, &RejectedError{Reason: "non-positive deposit value"}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.leaves)+len(n.pending) >= n.capacity {
		return common.Hash{}, &RejectedError{Reason: "commitment tree is full"}
	}
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], n.block+uint64(len(n.pending)))
	txRef := common.BytesToHash(crypto.Keccak256(commitment, seq[:]))
	n.pending = append(n.pending, pendingDeposit{
		commitment:  append([]byte(nil), commitment...),
		amountMinor: amountMinor,
		txRef:       txRef,
	})
	n.log.Debug().Str("tx", txRef.Hex()).Int64("amount", amountMinor).Msg("deposit queued")
	return txRef, nil
}

// MineBlock finalizes all queued deposits, publishes the new root, and
// delivers deposit events to subscribers.
func (n *SimNode) MineBlock() {
	n.mu.Lock()
	n.block++
	var events []DepositEvent
	for _, dep := range n.pending {
		leafIndex := uint64(len(n.leaves))
		n.leaves = append(n.leaves, dep.commitment)
		events = append(events, DepositEvent{
			Commitment: dep.commitment,
			LeafIndex:  leafIndex,
			TxRef:      dep.txRef,
			Block:      n.block,
		})
	}
	n.pending = nil
	n.knownRoots[hex.EncodeToString(n.rootLocked())] = true
	subs := make([]func(DepositEvent), 0, len(n.subscribers))
	for _, fn := range n.subscribers {
		subs = append(subs, fn)
	}
	n.mu.Unlock()

	for _, ev := range events {
		for _, fn := range subs {
			fn(ev)
		}
	}
}

// SubmitWithdrawal enforces the contract rules: the state root must have
// been published, the nullifier must be fresh, and the proof must verify
// when a verifier is installed. Acceptance marks the nullifier used.
func (n *SimNode) SubmitWithdrawal(_ context.Context, w Withdrawal) (common.Hash, error) {
	if len(w.Proof) == 0 {
		return common.Hash{}, &RejectedError{Reason: "empty proof"}
	}
	if len(w.Nullifier) == 0 {
		return common.Hash{}, &RejectedError{Reason: "empty nullifier"}
	}
	if w.AmountMinor <= 0 {
		return common.Hash{}, &RejectedError{Reason: "non-positive amount"}
	}
	if w.Recipient == (common.Address{}) {
		return common.Hash{}, &RejectedError{Reason: "zero recipient"}
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.knownRoots[hex.EncodeToString(w.StateRoot)] {
		return common.Hash{}, &RejectedError{Reason: "unknown state root"}
	}
	nfKey := hex.EncodeToString(w.Nullifier)
	if n.nullifiers[nfKey] {
		return common.Hash{}, &RejectedError{Reason: "nullifier already spent"}
	}
	if n.verifier != nil {
		if err := n.verifier.VerifyWithdrawal(w.Nullifier, w.Recipient.Bytes(), w.AmountMinor, w.StateRoot, w.Proof); err != nil {
			return common.Hash{}, &RejectedError{Reason: fmt.Sprintf("invalid proof: %v", err)}
		}
	}
	n.nullifiers[nfKey] = true
	n.block++
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], n.block)
	txRef := common.BytesToHash(crypto.Keccak256(w.Nullifier, seq[:]))
	n.log.Info().Str("tx", txRef.Hex()).Str("recipient", w.Recipient.Hex()).Int64("amount", w.AmountMinor).Msg("withdrawal accepted")
	return txRef, nil
}

// StateRoot returns the root over the current confirmed leaves.
func (n *SimNode) StateRoot(context.Context) ([]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.rootLocked(), nil
}

// MerkleWitness returns the authentication path for a confirmed leaf.
func (n *SimNode) MerkleWitness(_ context.Context, leafIndex uint64) ([]byte, [][]byte, uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if leafIndex >= uint64(len(n.leaves)) {
		return nil, nil, 0, fmt.Errorf("leaf %d not confirmed (tree has %d leaves)", leafIndex, len(n.leaves))
	}
	root, path, numLeaves, err := merkletree.BuildReaderProof(n.paddedLeaves(), mimcNative.NewMiMC(), fr.Bytes, leafIndex)
	if err != nil {
		return nil, nil, 0, err
	}
	return root, path, numLeaves, nil
}

// SubscribeDeposits registers a handler for future deposit events.
func (n *SimNode) SubscribeDeposits(handler func(DepositEvent)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextSub
	n.nextSub++
	n.subscribers[id] = handler
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subscribers, id)
	}
}

// Block returns the current chain height.
func (n *SimNode) Block() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.block
}

// HasNullifier reports whether a nullifier has been published.
func (n *SimNode) HasNullifier(nf []byte) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.nullifiers[hex.EncodeToString(nf)]
}

// paddedLeaves serializes the leaf set padded with zero segments to the
// fixed capacity. Callers hold n.mu.
func (n *SimNode) paddedLeaves() *bytes.Reader {
	buf := make([]byte, n.capacity*fr.Bytes)
	for i, leaf := range n.leaves {
		copy(buf[i*fr.Bytes:], leaf)
	}
	return bytes.NewReader(buf)
}

func (n *SimNode) rootLocked() []byte {
	root, _, _, err := merkletree.BuildReaderProof(n.paddedLeaves(), mimcNative.NewMiMC(), fr.Bytes, 0)
	if err != nil {
		// Cannot happen: the reader is in-memory and well formed.
		panic(err)
	}
	return root
}
