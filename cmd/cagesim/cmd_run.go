package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/talgya/cagesim/internal/api"
	"github.com/talgya/cagesim/internal/config"
	"github.com/talgya/cagesim/internal/engine"
	"github.com/talgya/cagesim/internal/persistence"
	"github.com/talgya/cagesim/internal/topology"
	"github.com/talgya/cagesim/internal/world"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a simulation until interrupted",
		Long: `Run loads a topology file (or generates a layout), seeds infections,
and drives the simulation in real time. With storage configured, samples
are archived periodically and once more on shutdown. With an API port
configured, the simulation can be observed and steered over HTTP.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			topoPath, _ := cmd.Flags().GetString("topology")
			infect, _ := cmd.Flags().GetStringArray("infect")
			duration, _ := cmd.Flags().GetDuration("duration")

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}
			return runSimulation(ctx, cmd, cfg, topoPath, infect)
		},
	}
	cmd.Flags().String("topology", "", "Topology file to load (default: generate a layout)")
	cmd.Flags().StringArray("infect", nil, "Seed infections as region=count (repeatable; default: 1 in the first region)")
	cmd.Flags().Duration("duration", 0, "Stop after this much wall time (0 = until interrupted)")
	return cmd
}

func runSimulation(ctx context.Context, cmd *cobra.Command, cfg *config.Config, topoPath string, infect []string) error {
	sim := engine.NewSimulation(cfg.Simulation)
	slog.Info("simulation created", "seed", sim.Seed(), "speed", cfg.Simulation.Speed)

	// ── Topology ──────────────────────────────────────────────────────
	var (
		topo world.Topology
		err  error
	)
	if topoPath != "" {
		topo, err = topology.LoadFile(topoPath)
	} else {
		layout := world.DefaultLayoutConfig()
		layout.Seed = sim.Seed()
		topo, err = world.GenerateLayout(layout, cfg.Simulation.ViewportWidth, cfg.Simulation.ViewportHeight)
	}
	if err != nil {
		return err
	}
	if err := sim.ReplaceTopology(topo); err != nil {
		return fmt.Errorf("apply topology: %w", err)
	}

	// ── Infections ────────────────────────────────────────────────────
	seeds, err := parseInfections(infect, topo)
	if err != nil {
		return err
	}
	for region, n := range seeds {
		infected, err := sim.Infect(region, n, 0)
		if err != nil {
			return fmt.Errorf("seed infection: %w", err)
		}
		slog.Info("infection seeded", "region", region, "infected", infected)
	}

	// ── Storage ───────────────────────────────────────────────────────
	var rec *recorder
	var db *persistence.DB
	if cfg.Storage.Path != "" {
		db, err = persistence.Open(cfg.Storage.Path)
		if err != nil {
			return err
		}
		defer db.Close()
		snapshot, err := cfg.Marshal()
		if err != nil {
			return err
		}
		rec = newRecorder(db, sim, snapshot)
		if err := rec.Flush(); err != nil {
			return err
		}
		slog.Info("database opened", "path", cfg.Storage.Path, "run", rec.RunID())
	}

	// ── Engine ────────────────────────────────────────────────────────
	eng := engine.NewEngine(cfg.Engine.FrameInterval)
	eng.SaveInterval = cfg.Engine.SaveInterval
	eng.OnTick = func(wall time.Time) { sim.Advance(wall) }
	eng.OnSave = func() {
		report(sim)
		if rec == nil {
			return
		}
		if err := rec.Flush(); err != nil {
			slog.Error("sample save failed", "error", err)
		}
	}

	// ── HTTP API ──────────────────────────────────────────────────────
	if cfg.API.Port > 0 {
		if cfg.API.AdminKey == "" {
			slog.Warn("CAGESIM_ADMIN_KEY not set, admin POST endpoints will be disabled")
		}
		apiServer := &api.Server{
			Sim:      sim,
			DB:       db,
			Port:     cfg.API.Port,
			AdminKey: cfg.API.AdminKey,
		}
		srv := apiServer.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	// ── Start ─────────────────────────────────────────────────────────
	st := sim.Status()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\n%s agents across %d cages, %d migrating along %d flows.\n",
		humanize.Comma(int64(st.Totals.Total())), st.Regions, st.Migrants, st.Flows)
	if cfg.API.Port > 0 {
		fmt.Fprintf(out, "API: http://localhost:%d/api/v1/status\n", cfg.API.Port)
	}
	fmt.Fprintln(out, "Starting simulation... (Ctrl+C to stop)")

	eng.Run(ctx)

	st = sim.Status()
	fmt.Fprintf(out, "Simulation stopped at %s after %s samples: %s\n",
		st.Clock, humanize.Comma(int64(st.Samples)), formatCounts(st))
	return nil
}

// parseInfections turns region=count flags into a map. With no flags, one
// agent in the first region is infected.
func parseInfections(flags []string, t world.Topology) (map[string]int, error) {
	seeds := make(map[string]int)
	if len(flags) == 0 {
		if len(t.Regions) > 0 && t.Regions[0].Capacity > 0 {
			seeds[t.Regions[0].Name] = 1
		}
		return seeds, nil
	}
	for _, f := range flags {
		name, count, ok := strings.Cut(f, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("--infect %q: want region=count", f)
		}
		n, err := strconv.Atoi(count)
		if err != nil {
			return nil, fmt.Errorf("--infect %q: count: %w", f, err)
		}
		seeds[name] += n
	}
	return seeds, nil
}

func report(sim *engine.Simulation) {
	st := sim.Status()
	slog.Info("status report",
		"clock", st.Clock,
		"speed", st.Speed,
		"susceptible", st.Totals.Susceptible,
		"infected", st.Totals.Infected,
		"recovered", st.Totals.Recovered,
		"dead", st.Totals.Dead,
		"migrants", st.Migrants,
		"samples", st.Samples,
	)
}

func formatCounts(st engine.Status) string {
	return fmt.Sprintf("S=%s I=%s R=%s D=%s",
		humanize.Comma(int64(st.Totals.Susceptible)),
		humanize.Comma(int64(st.Totals.Infected)),
		humanize.Comma(int64(st.Totals.Recovered)),
		humanize.Comma(int64(st.Totals.Dead)))
}
