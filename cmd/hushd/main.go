// main.go - hushd, the hushpool wallet CLI.
//
// hushd drives a private note wallet against a local simulated chain:
//   - deposit converts a visible amount into a private note (confirmed on
//     the next mined block)
//   - withdraw proves knowledge of a note and spends it to a recipient
//   - balance / notes / backup inspect and persist the durable ledger
//   - demo runs the full deposit-confirm-withdraw cycle end to end
//
// The simulated chain is rebuilt from the durable ledger on every run:
// confirmed and spent commitments are replayed into a fresh tree in leaf
// order, so authentication paths match the indices the wallet recorded.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/hushpool/hushpool/internal/chain"
	"github.com/hushpool/hushpool/internal/engine"
	"github.com/hushpool/hushpool/internal/ledger"
	"github.com/hushpool/hushpool/internal/note"
	"github.com/hushpool/hushpool/internal/prover"
	"github.com/hushpool/hushpool/internal/wallet"
)

var (
	configPath string
	metrics    = NewMetricsCollector()
)

func main() {
	root := &cobra.Command{
		Use:           "hushd",
		Short:         "Private note wallet over a shielded pool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "hushpool.json", "path to the config file")

	root.AddCommand(
		depositCmd(),
		withdrawCmd(),
		balanceCmd(),
		notesCmd(),
		backupCmd(),
		demoCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// env is everything a command needs: config, logger, sim chain, wallet.
type env struct {
	cfg     *Config
	logger  *loggerHandle
	node    *chain.SimNode
	wallet  *wallet.Wallet
	limiter *RateLimiter
}

func (e *env) Close() {
	e.wallet.Close()
	e.logger.Close()
}

// openEnv loads the config, rebuilds the sim chain from the durable
// ledger, and opens the wallet. withProver compiles the spend circuit and
// wires the verifier into the chain; commands that never prove skip it.
func openEnv(withProver bool) (*env, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger, err := newLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return nil, err
	}

	var p engine.Prover
	var opts []chain.SimOption
	if withProver {
		start := time.Now()
		gp, err := prover.New(cfg.KeyDir, logger.log)
		if err != nil {
			logger.Close()
			return nil, err
		}
		metrics.RecordCircuitCompile(time.Since(start))
		p = gp
		opts = append(opts, chain.WithVerifier(gp))
	}
	opts = append(opts, chain.WithSimLogger(logger.log))

	node, err := chain.NewSimNode(cfg.TreeCapacity, opts...)
	if err != nil {
		logger.Close()
		return nil, err
	}

	store := ledger.NewStore(cfg.LedgerPath, logger.log)
	if err := replayCommitments(node, store.Load()); err != nil {
		logger.Close()
		return nil, err
	}

	w := wallet.Open(store, node, p,
		wallet.WithLogger(logger.log),
		wallet.WithDecimals(cfg.Decimals),
		wallet.WithSessionOptions(
			engine.WithLogger(logger.log),
			engine.WithProgressTick(time.Duration(cfg.ProgressTickMsec)*time.Millisecond)))
	metrics.SetBalance(w.Balance())
	limiter := NewRateLimiter(cfg.WithdrawBurst, cfg.WithdrawPerMin, time.Minute)
	return &env{cfg: cfg, logger: logger, node: node, wallet: w, limiter: limiter}, nil
}

// replayCommitments re-publishes every confirmed or spent commitment into
// a fresh chain in leaf order, then mines so the tree and roots exist.
// Pending notes were never mined and are not replayed.
func replayCommitments(node *chain.SimNode, l *ledger.Ledger) error {
	notes := l.AllNotes()
	var replay []note.Note
	for _, n := range notes {
		if n.Status != note.StatusPending {
			replay = append(replay, n)
		}
	}
	if len(replay) == 0 {
		return nil
	}
	sort.Slice(replay, func(i, j int) bool { return replay[i].LeafIndex < replay[j].LeafIndex })
	for _, n := range replay {
		if _, err := node.SubmitDeposit(context.Background(), n.Commitment, n.AmountMinor); err != nil {
			return fmt.Errorf("replaying commitment for note %s: %w", n.ID, err)
		}
	}
	node.MineBlock()
	return nil
}

func depositCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deposit <amount>",
		Short: "Create a private note and publish its commitment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(false)
			if err != nil {
				return err
			}
			defer e.Close()

			amount, err := note.ParseAmount(args[0], e.cfg.Decimals)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(e.cfg)
			defer cancel()

			n, err := e.wallet.Deposit(ctx, amount)
			if err != nil {
				metrics.RecordError("deposit")
				return err
			}
			// Local sim: confirm immediately by mining the next block.
			e.node.MineBlock()
			metrics.RecordDeposit(amount)
			metrics.SetBalance(e.wallet.Balance())

			fmt.Printf("note %s deposited: %s (tx %s)\n", n.ID, n.Amount, n.TxRef.Hex())
			fmt.Printf("balance: %s\n", note.FormatAmount(e.wallet.Balance(), e.cfg.Decimals))
			return nil
		},
	}
}

func withdrawCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "withdraw <note-id> <amount> <recipient>",
		Short: "Prove and spend a note to a recipient address",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(true)
			if err != nil {
				return err
			}
			defer e.Close()
			if !e.limiter.Allow() {
				return fmt.Errorf("withdrawal rate limit exceeded, try again later")
			}

			amount, err := note.ParseAmount(args[1], e.cfg.Decimals)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(e.cfg)
			defer cancel()

			start := time.Now()
			res, err := e.wallet.Withdraw(ctx, args[0], amount, args[2])
			if err != nil {
				metrics.RecordError("withdraw")
				return err
			}
			metrics.RecordWithdrawal(amount)
			metrics.RecordProofGeneration(time.Since(start))
			metrics.SetBalance(e.wallet.Balance())

			fmt.Printf("withdrawal accepted: tx %s\n", res.TxRef.Hex())
			fmt.Printf("nullifier: %x\n", res.Nullifier)
			fmt.Printf("balance: %s\n", note.FormatAmount(e.wallet.Balance(), e.cfg.Decimals))
			return nil
		},
	}
}

func balanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show the confirmed balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(false)
			if err != nil {
				return err
			}
			defer e.Close()

			fmt.Printf("balance: %s\n", note.FormatAmount(e.wallet.Balance(), e.cfg.Decimals))
			fmt.Printf("last sync block: %d\n", e.wallet.LastSyncBlock())
			return nil
		},
	}
}

func notesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "notes",
		Short: "List all notes and their statuses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(false)
			if err != nil {
				return err
			}
			defer e.Close()

			notes := e.wallet.AllNotes()
			if len(notes) == 0 {
				fmt.Println("no notes")
				return nil
			}
			for _, n := range notes {
				fmt.Printf("%s  %-9s  %12s  leaf=%d  tx=%s\n",
					n.ID, n.Status, n.Amount, n.LeafIndex, n.TxRef.Hex())
			}
			return nil
		},
	}
}

func backupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Export or import a wallet backup",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "export [file]",
			Short: "Write the backup record to a file or stdout",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				e, err := openEnv(false)
				if err != nil {
					return err
				}
				defer e.Close()

				data, err := e.wallet.ExportBackup()
				if err != nil {
					return err
				}
				if len(args) == 1 {
					return os.WriteFile(args[0], data, 0600)
				}
				fmt.Println(string(data))
				return nil
			},
		},
		&cobra.Command{
			Use:   "import <file>",
			Short: "Validate and install a backup record",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				e, err := openEnv(false)
				if err != nil {
					return err
				}
				defer e.Close()

				data, err := os.ReadFile(args[0])
				if err != nil {
					return err
				}
				if err := e.wallet.ImportBackup(data); err != nil {
					return err
				}
				fmt.Printf("backup imported, balance: %s\n",
					note.FormatAmount(e.wallet.Balance(), e.cfg.Decimals))
				return nil
			},
		},
	)
	return cmd
}

// demoCmd runs the complete cycle against the sim chain: three deposits,
// a mined block to confirm them, and one full withdrawal with a real
// Groth16 proof. It prints a metrics summary at the end.
func demoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run a full deposit-confirm-withdraw cycle locally",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(true)
			if err != nil {
				return err
			}
			defer e.Close()
			ctx, cancel := commandContext(e.cfg)
			defer cancel()
			log := e.logger.log

			amounts := []int64{1_000_000, 2_500_000, 500_000}
			var deposited []note.Note
			for _, amount := range amounts {
				n, err := e.wallet.Deposit(ctx, amount)
				if err != nil {
					return err
				}
				metrics.RecordDeposit(amount)
				deposited = append(deposited, n)
				log.Info().Str("note", n.ID).Str("amount", n.Amount).Msg("demo deposit submitted")
			}

			e.node.MineBlock()
			log.Info().Int64("balance", e.wallet.Balance()).Uint64("block", e.node.Block()).Msg("deposits confirmed")

			target := deposited[1]
			recipient := "0x00000000000000000000000000000000DeaDBeef"
			start := time.Now()
			res, err := e.wallet.Withdraw(ctx, target.ID, target.AmountMinor, recipient)
			if err != nil {
				metrics.RecordError("withdraw")
				return err
			}
			elapsed := time.Since(start)
			metrics.RecordWithdrawal(target.AmountMinor)
			metrics.RecordProofGeneration(elapsed)
			metrics.SetBalance(e.wallet.Balance())

			log.Info().
				Str("tx", res.TxRef.Hex()).
				Hex("nullifier", res.Nullifier).
				Dur("proof_time", elapsed).
				Msg("withdrawal accepted")

			fmt.Printf("final balance: %s\n", note.FormatAmount(e.wallet.Balance(), e.cfg.Decimals))
			summary, err := json.MarshalIndent(metrics.GetMetricsSummary(), "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(summary))
			return nil
		},
	}
}

func commandContext(cfg *Config) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), time.Duration(cfg.TimeoutSeconds)*time.Second)
}
