// Package wallet is the composition root: it owns the ledger, its durable
// store, the chain client, and the spend coordinator, and it serializes
// every mutation through one mutex per wallet instance.
package wallet

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hushpool/hushpool/internal/chain"
	"github.com/hushpool/hushpool/internal/engine"
	"github.com/hushpool/hushpool/internal/ledger"
	"github.com/hushpool/hushpool/internal/note"
	"github.com/hushpool/hushpool/internal/spend"
)

// DefaultDecimals is the display precision for amounts.
const DefaultDecimals = 6

// Wallet holds private notes and drives deposits and withdrawals against
// the chain client.
type Wallet struct {
	mu          sync.Mutex
	ledger      *ledger.Ledger
	store       *ledger.Store
	client      chain.Client
	prover      engine.Prover
	coord       *spend.Coordinator
	sessionOpts []engine.Option
	decimals    int
	log         zerolog.Logger
	unsubscribe func()
}

// Option configures a wallet.
type Option func(*Wallet)

// WithLogger attaches a structured logger.
func WithLogger(l zerolog.Logger) Option {
	return func(w *Wallet) { w.log = l }
}

// WithDecimals overrides the display precision.
func WithDecimals(d int) Option {
	return func(w *Wallet) { w.decimals = d }
}

// WithSessionOptions passes options through to every proof session.
func WithSessionOptions(opts ...engine.Option) Option {
	return func(w *Wallet) { w.sessionOpts = opts }
}

// Open loads the durable ledger and subscribes to deposit events. Close
// releases the subscription.
func Open(store *ledger.Store, client chain.Client, prover engine.Prover, opts ...Option) *Wallet {
	w := &Wallet{
		store:    store,
		client:   client,
		prover:   prover,
		decimals: DefaultDecimals,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.ledger = store.Load()
	w.coord = spend.NewCoordinator(w.ledger, store, client, prover, w.log, w.sessionOpts...)
	w.unsubscribe = client.SubscribeDeposits(w.onDeposit)
	w.log.Info().Int64("balance", w.ledger.TotalBalance()).Int("notes", len(w.ledger.AllNotes())).Msg("wallet opened")
	return w
}

// Close tears down the deposit subscription.
func (w *Wallet) Close() {
	if w.unsubscribe != nil {
		w.unsubscribe()
		w.unsubscribe = nil
	}
}

// Deposit converts a visible amount into a private note: it generates a
// secret, publishes the commitment, and records the note as pending until
// the deposit event confirms it.
func (w *Wallet) Deposit(ctx context.Context, amountMinor int64) (note.Note, error) {
	if amountMinor <= 0 {
		return note.Note{}, &spend.ValidationError{Field: "amount", Reason: "must be positive"}
	}
	secret, err := note.GenerateSecret()
	if err != nil {
		return note.Note{}, err
	}
	commitment := note.Commitment(secret, amountMinor)

	txRef, err := w.client.SubmitDeposit(ctx, commitment, amountMinor)
	if err != nil {
		return note.Note{}, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	n := w.ledger.AddNote(secret, commitment, note.FormatAmount(amountMinor, w.decimals), amountMinor, txRef)
	w.log.Info().Str("note", n.ID).Str("tx", txRef.Hex()).Int64("amount", amountMinor).Msg("deposit submitted")
	if err := w.store.Save(w.ledger); err != nil {
		// The note exists in memory and on-chain; the caller must know
		// the secret was not durably persisted.
		return n, err
	}
	return n, nil
}

// Withdraw spends a confirmed note to a recipient. The whole attempt is
// serialized with other wallet mutations.
func (w *Wallet) Withdraw(ctx context.Context, noteID string, amountMinor int64, recipient string) (*spend.Result, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.coord.AttemptWithdrawal(ctx, noteID, amountMinor, recipient)
}

// onDeposit applies a confirmed deposit event to the ledger. Events that
// match no pending note are ignored; a later event retries.
func (w *Wallet) onDeposit(ev chain.DepositEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.ledger.MarkConfirmed(ev.TxRef, ev.LeafIndex) {
		return
	}
	w.ledger.SetLastSyncBlock(ev.Block)
	w.log.Info().Str("tx", ev.TxRef.Hex()).Uint64("leaf", ev.LeafIndex).Msg("deposit confirmed")
	if err := w.store.Save(w.ledger); err != nil {
		w.log.Error().Err(err).Msg("ledger save failed after deposit confirmation")
	}
}

// Balance returns the confirmed balance in minor units.
func (w *Wallet) Balance() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ledger.TotalBalance()
}

// AvailableNotes returns copies of the spendable notes.
func (w *Wallet) AvailableNotes() []note.Note {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ledger.AvailableNotes()
}

// AllNotes returns copies of every note regardless of status.
func (w *Wallet) AllNotes() []note.Note {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ledger.AllNotes()
}

// LastSyncBlock returns the height of the last applied deposit event.
func (w *Wallet) LastSyncBlock() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ledger.LastSyncBlock()
}

// ExportBackup serializes the ledger in the durable record format.
func (w *Wallet) ExportBackup() ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return ledger.Export(w.ledger)
}

// ImportBackup validates and installs a backup, replacing the current
// ledger. Malformed input leaves the existing state untouched.
func (w *Wallet) ImportBackup(data []byte) error {
	restored, err := ledger.Import(data)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.store.Save(restored); err != nil {
		return err
	}
	w.ledger = restored
	w.coord = spend.NewCoordinator(w.ledger, w.store, w.client, w.prover, w.log, w.sessionOpts...)
	w.log.Info().Int64("balance", w.ledger.TotalBalance()).Msg("backup imported")
	return nil
}
