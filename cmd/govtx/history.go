package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"nounsgov/history"
	"nounsgov/txflow"
)

func newHistoryCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded governance transactions",
	}
	cmd.AddCommand(newHistoryExportCmd(c))
	return cmd
}

func newHistoryExportCmd(c *cli) *cobra.Command {
	var (
		format, out, sender, kind, status, since string
		limit                                    int
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the history as CSV or parquet",
		Example: `  govtx history export --format csv --out votes.csv --type cast-vote
  govtx history export --format parquet --out all.parquet --since 2026-01-01T00:00:00Z`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(c.historyDSN) == "" {
				return fmt.Errorf("--history is required")
			}
			f, err := history.ParseFormat(format)
			if err != nil {
				return err
			}
			filter := history.Filter{
				Type:   txflow.TxType(strings.TrimSpace(kind)),
				Status: history.Status(strings.ToUpper(strings.TrimSpace(status))),
				Limit:  limit,
			}
			if sender != "" {
				if filter.Sender, err = parseAddress("sender", sender); err != nil {
					return err
				}
			}
			if since != "" {
				if filter.Since, err = time.Parse(time.RFC3339, since); err != nil {
					return fmt.Errorf("--since: %w", err)
				}
			}

			store, err := history.Open(c.historyDrv, c.historyDSN)
			if err != nil {
				return err
			}
			defer store.Close()

			var w io.Writer = c.stdout
			if out != "" && out != "-" {
				file, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("create %s: %w", out, err)
				}
				defer file.Close()
				w = file
			}
			n, err := store.Export(cmd.Context(), w, f, filter)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.stderr, "exported %d records\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", string(history.FormatCSV), "csv or parquet")
	cmd.Flags().StringVarP(&out, "out", "o", "-", "output file, - for stdout")
	cmd.Flags().StringVar(&sender, "sender", "", "only transactions from this address")
	cmd.Flags().StringVar(&kind, "type", "", "only this transaction type, e.g. cast-vote")
	cmd.Flags().StringVar(&status, "status", "", "pending, success or failed")
	cmd.Flags().StringVar(&since, "since", "", "RFC3339 lower bound on the broadcast time")
	cmd.Flags().IntVar(&limit, "limit", 1000, "maximum records")
	return cmd
}
