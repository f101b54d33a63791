package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/talgya/cagesim/internal/engine"
	"github.com/talgya/cagesim/internal/topology"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <topology-file>",
		Short: "Check that a topology file parses and can be applied",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			t, err := topology.LoadFile(args[0])
			if err != nil {
				return err
			}
			sim := engine.NewSimulation(cfg.Simulation)
			if err := sim.ReplaceTopology(t); err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			out := cmd.OutOrStdout()
			st := sim.Status()
			fmt.Fprintf(out, "%s: OK\n", args[0])
			for _, r := range sim.Regions() {
				fmt.Fprintf(out, "  %-16s %6.0fx%-6.0f at (%g, %g)  %s agents\n",
					r.Name, r.Width, r.Height, r.X, r.Y, humanize.Comma(int64(r.Population)))
			}
			for _, f := range t.Flows {
				fmt.Fprintf(out, "  flow %s -> %s  amount %d\n", f.Source, f.Destination, f.Amount)
			}
			fmt.Fprintf(out, "%d cages, %s agents, %d migrating\n",
				st.Regions, humanize.Comma(int64(st.Totals.Total())), st.Migrants)
			return nil
		},
	}
}
