package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/talgya/cagesim/internal/chart"
	"github.com/talgya/cagesim/internal/persistence"
)

func newChartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chart",
		Short: "Render an archived run's stage totals as a PNG",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			runID, _ := cmd.Flags().GetString("run")
			out, _ := cmd.Flags().GetString("out")
			width, _ := cmd.Flags().GetInt("width")
			height, _ := cmd.Flags().GetInt("height")

			if cfg.Storage.Path == "" {
				return fmt.Errorf("no database configured (set storage.path or CAGESIM_DB)")
			}
			db, err := persistence.Open(cfg.Storage.Path)
			if err != nil {
				return err
			}
			defer db.Close()

			var run persistence.Run
			if runID == "" {
				run, err = db.LatestRun()
			} else {
				run, err = db.GetRun(runID)
			}
			if err != nil {
				return err
			}
			samples, err := db.LoadSamples(run.ID)
			if err != nil {
				return fmt.Errorf("load samples: %w", err)
			}

			opts := chart.DefaultOptions()
			opts.Width, opts.Height = width, height
			opts.Title = fmt.Sprintf("run %s (seed %d)", run.ID[:8], run.Seed)

			var buf bytes.Buffer
			if err := chart.Render(&buf, samples, opts); err != nil {
				return err
			}
			if err := os.WriteFile(out, buf.Bytes(), 0644); err != nil {
				return fmt.Errorf("write chart: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%s, %s samples, started %s)\n",
				out, humanize.Bytes(uint64(buf.Len())), humanize.Comma(int64(len(samples))),
				humanize.Time(run.StartedAt))
			return nil
		},
	}
	defaults := chart.DefaultOptions()
	cmd.Flags().String("run", "", "Run ID (default: latest)")
	cmd.Flags().StringP("out", "o", "cagesim.png", "Output PNG file")
	cmd.Flags().Int("width", defaults.Width, "Image width in pixels")
	cmd.Flags().Int("height", defaults.Height, "Image height in pixels")
	return cmd
}
