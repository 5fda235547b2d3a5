package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"nounsgov/config"
)

func newNetworksCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "networks",
		Short: "List the configured networks",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			nets, err := config.Load(c.networksFile)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tCHAIN\tRPC\tDAO")
			for _, name := range nets.Names() {
				n := nets[name]
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", name, n.ChainID, n.RPCURL, n.DAO)
			}
			return tw.Flush()
		},
	}
}
