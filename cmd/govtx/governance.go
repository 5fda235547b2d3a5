package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"nounsgov/actions"
	"nounsgov/gov"
	"nounsgov/txflow"
)

func parseProposalID(raw string) (*big.Int, error) {
	id, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || id.Sign() <= 0 {
		return nil, fmt.Errorf("invalid proposal id %q", raw)
	}
	return id, nil
}

func parseSupport(raw string) (gov.VoteSupport, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "for", "1":
		return gov.VoteFor, nil
	case "against", "0":
		return gov.VoteAgainst, nil
	case "abstain", "2":
		return gov.VoteAbstain, nil
	default:
		return 0, fmt.Errorf("invalid support %q (for, against, abstain)", raw)
	}
}

func parseAddress(flag, raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("--%s: invalid address %q", flag, raw)
	}
	return common.HexToAddress(raw), nil
}

// readActions loads a JSON array of proposal actions from path, or from
// stdin when path is "-".
func readActions(c *cli, path string) (gov.Actions, error) {
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(c.stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read actions: %w", err)
	}
	var acts gov.Actions
	if err := json.Unmarshal(raw, &acts); err != nil {
		return nil, fmt.Errorf("decode actions: %w", err)
	}
	return acts, nil
}

func newProposeCmd(c *cli) *cobra.Command {
	var title, body, actionsPath string
	cmd := &cobra.Command{
		Use:   "propose",
		Short: "Create a proposal from the connected account",
		Long: `Create a proposal. The actions file is a JSON array of
{"target", "value", "signature", "calldata"} objects.

Example:
  govtx propose --keystore key.json --title "Fund the lab" --actions actions.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			acts, err := readActions(c, actionsPath)
			if err != nil {
				return err
			}
			in := actions.CreateProposalInput{Title: title, Body: body, Actions: acts}
			return submit(cmd, c, txflow.TxPropose, in, (*actions.Actions).CreateProposal)
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "proposal title")
	cmd.Flags().StringVar(&body, "description", "", "proposal body in markdown")
	cmd.Flags().StringVar(&actionsPath, "actions", "", "JSON file with the proposal actions, or - for stdin")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("actions")
	return cmd
}

func newVoteCmd(c *cli) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "vote <proposal-id> <for|against|abstain>",
		Short: "Cast a refundable vote",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseProposalID(args[0])
			if err != nil {
				return err
			}
			support, err := parseSupport(args[1])
			if err != nil {
				return err
			}
			in := actions.CastVoteInput{ProposalID: id, Support: support, Reason: reason}
			return submit(cmd, c, txflow.TxCastVote, in, (*actions.Actions).CastVote)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "optional vote reason")
	return cmd
}

// newProposalCmd builds the queue, execute and cancel commands, which only
// take a proposal id.
func newProposalCmd(c *cli, verb, short string) *cobra.Command {
	kinds := map[string]txflow.TxType{
		"queue":   txflow.TxQueueProposal,
		"execute": txflow.TxExecuteProposal,
		"cancel":  txflow.TxCancelProposal,
	}
	builders := map[string]func(*actions.Actions, context.Context, *txflow.Tracker, actions.ProposalInput) error{
		"queue":   (*actions.Actions).QueueProposal,
		"execute": (*actions.Actions).ExecuteProposal,
		"cancel":  (*actions.Actions).CancelProposal,
	}
	return &cobra.Command{
		Use:   verb + " <proposal-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseProposalID(args[0])
			if err != nil {
				return err
			}
			return submit(cmd, c, kinds[verb], actions.ProposalInput{ProposalID: id}, builders[verb])
		},
	}
}

func candidateFlags(cmd *cobra.Command, proposer, slug *string) {
	cmd.Flags().StringVar(proposer, "proposer", "", "candidate proposer address")
	cmd.Flags().StringVar(slug, "slug", "", "candidate slug")
	_ = cmd.MarkFlagRequired("proposer")
	_ = cmd.MarkFlagRequired("slug")
}

func newSponsorCmd(c *cli) *cobra.Command {
	var proposer, slug, reason string
	var expiry int64
	cmd := &cobra.Command{
		Use:   "sponsor",
		Short: "Sign and publish a sponsorship for a candidate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, err := parseAddress("proposer", proposer)
			if err != nil {
				return err
			}
			in := actions.SponsorInput{Proposer: addr, Slug: slug, Reason: reason}
			if expiry > 0 {
				in.Expiry = big.NewInt(expiry)
			}
			return submit(cmd, c, txflow.TxSponsorCandidate, in, (*actions.Actions).SponsorCandidate)
		},
	}
	candidateFlags(cmd, &proposer, &slug)
	cmd.Flags().StringVar(&reason, "reason", "", "optional sponsorship reason")
	cmd.Flags().Int64Var(&expiry, "expires", 0, "signature expiry as a unix timestamp (default: now plus the signature lifetime)")
	return cmd
}

func newPromoteCmd(c *cli) *cobra.Command {
	var proposer, slug, mode, message string
	cmd := &cobra.Command{
		Use:   "promote",
		Short: "Promote a candidate to a proposal",
		Long: `Promote a candidate. --mode auto uses sponsor signatures when any
are valid and the proposer's own votes otherwise; signatures and tokens force
one path.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, err := parseAddress("proposer", proposer)
			if err != nil {
				return err
			}
			m, err := actions.ParsePromotionMode(mode)
			if err != nil {
				return err
			}
			in := actions.PromoteInput{Proposer: addr, Slug: slug, Mode: m, UpdateMessage: message}
			return submit(cmd, c, txflow.TxPromoteCandidate, in, (*actions.Actions).PromoteCandidate)
		},
	}
	candidateFlags(cmd, &proposer, &slug)
	cmd.Flags().StringVar(&mode, "mode", string(actions.PromoteAuto), "promotion path: auto, signatures or tokens")
	cmd.Flags().StringVar(&message, "update-message", "", "message when the candidate updates an existing proposal")
	return cmd
}

func newCancelCandidateCmd(c *cli) *cobra.Command {
	var proposer, slug string
	cmd := &cobra.Command{
		Use:   "cancel-candidate",
		Short: "Cancel one of your candidates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, err := parseAddress("proposer", proposer)
			if err != nil {
				return err
			}
			in := actions.CandidateRef{Proposer: addr, Slug: slug}
			return submit(cmd, c, txflow.TxCancelCandidate, in, (*actions.Actions).CancelCandidate)
		},
	}
	candidateFlags(cmd, &proposer, &slug)
	return cmd
}
