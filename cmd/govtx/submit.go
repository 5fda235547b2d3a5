package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"nounsgov/actions"
	"nounsgov/cmd/internal/passphrase"
	"nounsgov/services/govtxd"
	"nounsgov/txflow"
	"nounsgov/wallet"
)

func (c *cli) runtime(ctx context.Context) (*govtxd.Runtime, error) {
	if strings.TrimSpace(c.keystore) == "" {
		return nil, errors.New("--keystore is required")
	}
	pass := passphrase.NewSource(c.passEnv, passphrase.WithFile(c.passFile), passphrase.WithLabel(c.keystore))
	return govtxd.NewRuntime(ctx, govtxd.RuntimeOptions{
		Network:              c.network,
		NetworksFile:         c.networksFile,
		RPCURL:               c.rpcURL,
		SubgraphURL:          c.subgraphURL,
		SubgraphKey:          c.subgraphKey,
		Keystore:             c.keystore,
		Passphrase:           pass.Get,
		Approver:             c.approver(),
		HistoryDriver:        c.historyDrv,
		HistoryDSN:           c.historyDSN,
		GasMultiplierPercent: c.gasPercent,
		ReceiptTimeout:       c.timeout,
		Simulate:             c.simulate,
		Logger:               c.logger,
	})
}

// approver asks on the terminal before every signature unless --yes is set.
func (c *cli) approver() wallet.Approver {
	if c.yes {
		return wallet.AutoApprove
	}
	return func(_ context.Context, p wallet.Prompt) error {
		if f, ok := c.stdin.(*os.File); !ok || !term.IsTerminal(int(f.Fd())) {
			return fmt.Errorf("%w: confirmation needs a terminal, pass --yes", wallet.ErrUserRejected)
		}
		fmt.Fprintln(c.stderr, describePrompt(p))
		fmt.Fprint(c.stderr, "Proceed? [y/N] ")
		answer, _ := bufio.NewReader(c.stdin).ReadString('\n')
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "y", "yes":
			return nil
		default:
			return wallet.ErrUserRejected
		}
	}
}

func describePrompt(p wallet.Prompt) string {
	switch {
	case p.Request != nil:
		value := "0"
		if p.Request.Value != nil {
			value = p.Request.Value.String()
		}
		return fmt.Sprintf("Send transaction to %s (value %s wei, gas %d, %d bytes calldata)",
			p.Request.To.Hex(), value, p.Request.Gas, len(p.Request.Data))
	case p.Typed != nil:
		return fmt.Sprintf("Sign %s for %s", p.Typed.PrimaryType, p.Typed.Domain.Name)
	default:
		return string(p.Kind)
	}
}

// submit runs one builder on a fresh tracker and waits for the receipt.
// build is a method expression such as (*actions.Actions).CastVote.
func submit[T any](cmd *cobra.Command, c *cli, kind txflow.TxType, in T,
	build func(*actions.Actions, context.Context, *txflow.Tracker, T) error,
) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := c.runtime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	tr := rt.Pipeline.NewTracker(kind)
	if err := build(rt.Actions, ctx, tr, in); err != nil {
		_ = printJSON(c, tr.Snapshot())
		return err
	}
	fmt.Fprintf(c.stderr, "broadcast %s, waiting for receipt\n", tr.Snapshot().Hash.Hex())
	snap, err := tr.Wait(ctx)
	if perr := printJSON(c, snap); perr != nil {
		return perr
	}
	if err != nil {
		return err
	}
	if snap.State != txflow.StateSuccess {
		return fmt.Errorf("%s %s", kind, snap.State)
	}
	return nil
}

type snapshotOutput struct {
	Tracker string            `json:"tracker"`
	Action  txflow.TxType     `json:"action"`
	State   txflow.State      `json:"state"`
	Hash    string            `json:"hash,omitempty"`
	Block   uint64            `json:"blockNumber,omitempty"`
	GasUsed uint64            `json:"gasUsed,omitempty"`
	Error   *txflow.ErrorView `json:"error,omitempty"`
}

func printJSON(c *cli, snap txflow.Snapshot) error {
	out := snapshotOutput{
		Tracker: snap.ID,
		Action:  snap.Action,
		State:   snap.State,
		Error:   txflow.ViewError(snap.Err),
	}
	if snap.Hash != ([32]byte{}) {
		out.Hash = snap.Hash.Hex()
	}
	if r := snap.Receipt; r != nil {
		out.GasUsed = r.GasUsed
		if r.BlockNumber != nil {
			out.Block = r.BlockNumber.Uint64()
		}
	}
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
