// Command govtx submits Nouns governance transactions from a local keystore
// and inspects the transaction history.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"nounsgov/config"
	"nounsgov/observability/logging"
)

const defaultPassEnv = "GOVTX_WALLET_PASS"

type cli struct {
	network      string
	networksFile string
	rpcURL       string
	subgraphURL  string
	subgraphKey  string
	keystore     string
	passEnv      string
	passFile     string
	historyDSN   string
	historyDrv   string
	gasPercent   uint64
	timeout      time.Duration
	simulate     bool
	yes          bool
	verbose      bool

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	logger *slog.Logger
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "govtx",
		Short:         "Submit and track Nouns DAO governance transactions",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			level := "warn"
			if c.verbose {
				level = "debug"
			}
			c.logger = logging.Setup("govtx", "cli", logging.WithLevel(level), logging.WithWriter(c.stderr))
		},
	}
	root.SetIn(c.stdin)
	root.SetOut(c.stdout)
	root.SetErr(c.stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&c.network, "network", config.DefaultNetwork, "network preset to use")
	flags.StringVar(&c.networksFile, "networks-file", "", "TOML file overriding the network presets")
	flags.StringVar(&c.rpcURL, "rpc", "", "override the network's RPC URL")
	flags.StringVar(&c.subgraphURL, "subgraph", "", "override the network's subgraph URL")
	flags.StringVar(&c.subgraphKey, "subgraph-key", os.Getenv("GOVTX_SUBGRAPH_KEY"), "subgraph API key")
	flags.StringVar(&c.keystore, "keystore", "", "path to the signing keystore")
	flags.StringVar(&c.passEnv, "pass-env", defaultPassEnv, "environment variable holding the keystore passphrase")
	flags.StringVar(&c.passFile, "pass-file", "", "file holding the keystore passphrase")
	flags.StringVar(&c.historyDrv, "history-driver", "sqlite", "history database driver (sqlite or postgres)")
	flags.StringVar(&c.historyDSN, "history", "govtx-history.db", "history database DSN; empty disables recording")
	flags.Uint64Var(&c.gasPercent, "gas-multiplier", 135, "gas limit multiplier in percent")
	flags.DurationVar(&c.timeout, "timeout", 5*time.Minute, "how long to wait for the receipt")
	flags.BoolVar(&c.simulate, "simulate", false, "eth_call the transaction before sending")
	flags.BoolVarP(&c.yes, "yes", "y", false, "send without asking for confirmation")
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "log pipeline progress to stderr")

	root.AddCommand(
		newProposeCmd(c),
		newVoteCmd(c),
		newProposalCmd(c, "queue", "Queue a succeeded proposal"),
		newProposalCmd(c, "execute", "Execute a queued proposal"),
		newProposalCmd(c, "cancel", "Cancel a proposal"),
		newSponsorCmd(c),
		newPromoteCmd(c),
		newCancelCandidateCmd(c),
		newBuyCmd(c),
		newApproveCmd(c),
		newHistoryCmd(c),
		newKeyCmd(c),
		newNetworksCmd(c),
	)
	return root
}

func main() {
	c := &cli{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr}
	if err := newRootCmd(c).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
