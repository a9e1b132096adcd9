// Package spend coordinates one withdrawal: validate the request, drive a
// proof session to completion, submit the artifacts, and apply the ledger
// transition only on confirmed success.
package spend

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/hushpool/hushpool/internal/chain"
	"github.com/hushpool/hushpool/internal/engine"
	"github.com/hushpool/hushpool/internal/ledger"
	"github.com/hushpool/hushpool/internal/note"
)

// Result reports an accepted withdrawal.
type Result struct {
	TxRef     common.Hash
	Nullifier []byte
	StateRoot []byte
}

// Coordinator owns the submission path. It never mutates a note except by
// calling MarkSpent after the chain confirmed the spend.
type Coordinator struct {
	ledger *ledger.Ledger
	store  *ledger.Store
	client chain.Client
	prover engine.Prover
	log    zerolog.Logger

	sessionOpts []engine.Option
}

// NewCoordinator wires the coordinator. store may be nil when the caller
// persists separately.
func NewCoordinator(l *ledger.Ledger, store *ledger.Store, client chain.Client, prover engine.Prover, logger zerolog.Logger, opts ...engine.Option) *Coordinator {
	return &Coordinator{
		ledger:      l,
		store:       store,
		client:      client,
		prover:      prover,
		log:         logger,
		sessionOpts: opts,
	}
}

// AttemptWithdrawal validates the request, runs a fresh proof session, and
// submits the result. On chain rejection or submission failure the ledger
// is untouched and the same note remains available for a retry with a new
// session.
func (c *Coordinator) AttemptWithdrawal(ctx context.Context, noteID string, amountMinor int64, recipient string) (*Result, error) {
	if !common.IsHexAddress(recipient) {
		return nil, &ValidationError{Field: "recipient", Reason: "not a hex address"}
	}
	to := common.HexToAddress(recipient)
	if to == (common.Address{}) {
		return nil, &ValidationError{Field: "recipient", Reason: "zero address"}
	}
	n, ok := c.ledger.Note(noteID)
	if !ok {
		return nil, &ValidationError{Field: "note", Reason: "unknown note id"}
	}
	if n.Status != note.StatusConfirmed {
		return nil, &ValidationError{Field: "note", Reason: "note is " + string(n.Status) + ", want confirmed"}
	}
	if amountMinor <= 0 {
		return nil, &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if amountMinor > n.AmountMinor {
		return nil, &ValidationError{Field: "amount", Reason: "exceeds note amount"}
	}

	session := engine.NewSession(engine.Request{
		Note:        n,
		AmountMinor: amountMinor,
		Recipient:   to,
	}, c.client, c.prover, append([]engine.Option{engine.WithLogger(c.log)}, c.sessionOpts...)...)

	if err := session.Run(ctx); err != nil {
		return nil, err
	}
	out, err := session.Output()
	if err != nil {
		return nil, err
	}
	if err := session.BeginSubmit(); err != nil {
		return nil, err
	}

	txRef, err := c.client.SubmitWithdrawal(ctx, chain.Withdrawal{
		Nullifier:   out.Nullifier,
		Recipient:   to,
		AmountMinor: amountMinor,
		StateRoot:   out.StateRoot,
		Proof:       out.ProofBytes,
	})
	if err != nil {
		session.Fail(err)
		c.log.Warn().Err(err).Str("note", n.ID).Msg("withdrawal submission failed, note left confirmed")
		return nil, &SubmissionError{Err: err}
	}

	// The chain confirmed the spend; the ledger transition happens now
	// and only now.
	if err := c.ledger.MarkSpent(n.ID); err != nil {
		session.Fail(err)
		return nil, err
	}
	session.Complete()
	if c.store != nil {
		if err := c.store.Save(c.ledger); err != nil {
			// The spend is final on-chain; surface the save failure
			// rather than pretending it succeeded.
			c.log.Error().Err(err).Str("note", n.ID).Msg("ledger save failed after confirmed spend")
			return &Result{TxRef: txRef, Nullifier: out.Nullifier, StateRoot: out.StateRoot}, err
		}
	}
	c.log.Info().Str("note", n.ID).Str("tx", txRef.Hex()).Int64("amount", amountMinor).Msg("withdrawal confirmed")
	return &Result{TxRef: txRef, Nullifier: out.Nullifier, StateRoot: out.StateRoot}, nil
}
