package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/talgya/cagesim/internal/entropy"
	"github.com/talgya/cagesim/internal/topology"
	"github.com/talgya/cagesim/internal/world"
)

func newGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a cage layout and write it as a topology file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			out, _ := cmd.Flags().GetString("out")

			layout := world.DefaultLayoutConfig()
			layout.Seed, _ = cmd.Flags().GetInt64("seed")
			layout.Columns, _ = cmd.Flags().GetInt("columns")
			layout.Rows, _ = cmd.Flags().GetInt("rows")
			layout.Threshold, _ = cmd.Flags().GetFloat64("threshold")
			layout.FlowAmount, _ = cmd.Flags().GetInt("flow-amount")
			if layout.Seed == 0 {
				layout.Seed = entropy.NewSource(0).Seed()
			}

			t, err := world.GenerateLayout(layout, cfg.Simulation.ViewportWidth, cfg.Simulation.ViewportHeight)
			if err != nil {
				return err
			}
			slog.Info("layout generated", "seed", layout.Seed, "regions", len(t.Regions), "flows", len(t.Flows))

			if out == "" || out == "-" {
				return topology.Encode(cmd.OutOrStdout(), t)
			}
			if err := topology.SaveFile(out, t); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d cages and %d flows to %s (seed %d)\n",
				len(t.Regions), len(t.Flows), out, layout.Seed)
			return nil
		},
	}
	defaults := world.DefaultLayoutConfig()
	cmd.Flags().StringP("out", "o", "-", "Output file (- for stdout)")
	cmd.Flags().Int64("seed", 0, "Noise seed (0 = random)")
	cmd.Flags().Int("columns", defaults.Columns, "Grid columns")
	cmd.Flags().Int("rows", defaults.Rows, "Grid rows")
	cmd.Flags().Float64("threshold", defaults.Threshold, "Noise level a cell needs to host a cage (0.0-1.0)")
	cmd.Flags().Int("flow-amount", defaults.FlowAmount, "Agents per chained flow (0 = no flows)")
	return cmd
}
