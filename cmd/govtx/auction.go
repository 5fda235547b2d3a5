package main

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/spf13/cobra"

	"nounsgov/actions"
	"nounsgov/txflow"
)

func parseWei(flag, raw string) (*big.Int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("--%s: invalid amount %q", flag, raw)
	}
	return v, nil
}

func newBuyCmd(c *cli) *cobra.Command {
	var block, nounID uint64
	var maxPrice string
	cmd := &cobra.Command{
		Use:   "buy",
		Short: "Buy the Noun currently offered by the VRGDA pool",
		Long: `Buy the pool's current Noun. The expected block and noun id pin
the quote you saw; the purchase is rejected if the pool has moved on.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ceiling, err := parseWei("max-price", maxPrice)
			if err != nil {
				return err
			}
			in := actions.BuyInput{
				ExpectedBlock:  new(big.Int).SetUint64(block),
				ExpectedNounID: new(big.Int).SetUint64(nounID),
				MaxPrice:       ceiling,
			}
			return submit(cmd, c, txflow.TxBuyVRGDA, in, (*actions.Actions).BuyNounVRGDA)
		},
	}
	cmd.Flags().Uint64Var(&block, "expected-block", 0, "block number the quote was read at")
	cmd.Flags().Uint64Var(&nounID, "noun-id", 0, "noun id the quote was for")
	cmd.Flags().StringVar(&maxPrice, "max-price", "", "highest price in wei you accept")
	_ = cmd.MarkFlagRequired("expected-block")
	_ = cmd.MarkFlagRequired("noun-id")
	return cmd
}

func newApproveCmd(c *cli) *cobra.Command {
	var token, spender, amount string
	cmd := &cobra.Command{
		Use:   "approve",
		Short: "Approve an ERC-20 allowance, the governance token by default",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			to, err := parseAddress("spender", spender)
			if err != nil {
				return err
			}
			in := actions.ApproveInput{Spender: to}
			if strings.TrimSpace(token) != "" {
				if in.Token, err = parseAddress("token", token); err != nil {
					return err
				}
			}
			if in.Amount, err = parseWei("amount", amount); err != nil {
				return err
			}
			if in.Amount == nil {
				return fmt.Errorf("--amount is required")
			}
			return submit(cmd, c, txflow.TxApproveToken, in, (*actions.Actions).ApproveToken)
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "token address (default: the network's governance token)")
	cmd.Flags().StringVar(&spender, "spender", "", "address allowed to spend")
	cmd.Flags().StringVar(&amount, "amount", "", "allowance in base units")
	_ = cmd.MarkFlagRequired("spender")
	return cmd
}

