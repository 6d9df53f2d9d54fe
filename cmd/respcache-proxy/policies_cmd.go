package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/respcache/internal/config"
)

func newPoliciesCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "policies",
		Short: "Print the validated cache policy table",
		Args:  cobra.NoArgs,
		Example: `  respcache-proxy policies
  respcache-proxy policies -c config.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			reg, err := cfg.Registry()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CATEGORY\tTTL\tBACKEND\tREFRESH\tPREFETCH")
			for _, c := range reg.Categories() {
				p, err := reg.Lookup(c)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%t\n", c, p.TTL, p.Backend, p.BackgroundRefresh, p.PrefetchEligible)
			}
			return w.Flush()
		},
	}
}
