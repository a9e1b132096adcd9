// Package chain defines the external chain-client capability the wallet
// consumes, plus an in-process simulated node used by the CLI and tests.
//
// The wallet core owns no wire format: wallet signing, RPC transport, and
// event delivery all live behind the Client interface.
package chain

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// DepositEvent announces a finalized deposit: the commitment has been
// assigned a leaf in the on-chain tree.
type DepositEvent struct {
	Commitment []byte
	LeafIndex  uint64
	TxRef      common.Hash
	Block      uint64
}

// Withdrawal is the payload of a spend submission.
type Withdrawal struct {
	Nullifier   []byte
	Recipient   common.Address
	AmountMinor int64
	StateRoot   []byte
	Proof       []byte
}

// Client is the chain capability the wallet core calls into. All methods
// are suspension points; implementations may block on network I/O.
type Client interface {
	// SubmitDeposit publishes a commitment with its value and returns the
	// transaction ref. The deposit is pending until a DepositEvent names
	// the same ref.
	SubmitDeposit(ctx context.Context, commitment []byte, amountMinor int64) (common.Hash, error)
	// SubmitWithdrawal submits a finished spend proof. A returned error
	// means the chain rejected it or the submission failed; the caller's
	// ledger state must be left untouched.
	SubmitWithdrawal(ctx context.Context, w Withdrawal) (common.Hash, error)
	// StateRoot reads the currently published commitment-tree root.
	StateRoot(ctx context.Context) ([]byte, error)
	// MerkleWitness returns the authentication path for a confirmed leaf.
	MerkleWitness(ctx context.Context, leafIndex uint64) (root []byte, path [][]byte, numLeaves uint64, err error)
	// SubscribeDeposits registers a deposit-event handler and returns an
	// unsubscribe func.
	SubscribeDeposits(handler func(DepositEvent)) (unsubscribe func())
}

// WithdrawalVerifier checks a submitted proof the way the contract would.
// The sim node accepts one optionally; a real chain verifies on-chain.
type WithdrawalVerifier interface {
	VerifyWithdrawal(nullifier []byte, recipient []byte, amountMinor int64, stateRoot, proof []byte) error
}

// RejectedError reports a chain-side rejection of a submission.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("chain rejected submission: %s", e.Reason)
}
