// Simulation ties together the world, the migration controller and the clock.
package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/talgya/cagesim/internal/agents"
	"github.com/talgya/cagesim/internal/config"
	"github.com/talgya/cagesim/internal/entropy"
	"github.com/talgya/cagesim/internal/logging"
	"github.com/talgya/cagesim/internal/migration"
	"github.com/talgya/cagesim/internal/world"
)

// Simulation is the only entry point collaborators use. Every method is
// safe for concurrent use; a tick runs entirely under the lock.
type Simulation struct {
	mu sync.Mutex

	cfg        config.Simulation
	rng        *entropy.Seeded
	world      *world.World
	controller *migration.Controller
	clock      *Clock
	generation uint64 // Bumped by ReplaceTopology
}

// RegionStatus is the presentation data for one region.
type RegionStatus struct {
	world.RegionSpec
	Population int                `json:"population"`
	Counts     agents.StageCounts `json:"counts"`
}

// Status is a point-in-time summary of the whole simulation.
type Status struct {
	Time       float64            `json:"time"`
	Clock      string             `json:"clock"`
	Speed      float64            `json:"speed"`
	Paused     bool               `json:"paused"`
	Seed       int64              `json:"seed"`
	Regions    int                `json:"regions"`
	Flows      int                `json:"flows"`
	Migrants   int                `json:"migrants"`
	Samples    int                `json:"samples"`
	Sampling   bool               `json:"sampling"`
	Totals     agents.StageCounts `json:"totals"`
	Generation uint64             `json:"generation"`
}

// NewSimulation creates an empty simulation. All random draws come from one
// source seeded with cfg.Seed (0 picks a fresh seed).
func NewSimulation(cfg config.Simulation) *Simulation {
	rng := entropy.NewSource(cfg.Seed)
	w := world.New(cfg, rng)
	return &Simulation{
		cfg:        cfg,
		rng:        rng,
		world:      w,
		controller: migration.New(w, rng),
		clock:      NewClock(cfg.Speed, cfg.MaxSpeed),
	}
}

// Seed returns the seed actually in use.
func (s *Simulation) Seed() int64 {
	return s.rng.Seed()
}

// Config returns the simulation constants.
func (s *Simulation) Config() config.Simulation {
	return s.cfg
}

// CreateRegion validates spec and adds an empty region.
func (s *Simulation) CreateRegion(spec world.RegionSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.world.CreateRegion(spec)
	return err
}

// Populate spawns the named region's initial population.
func (s *Simulation) Populate(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.world.Populate(name)
}

// Repopulate resets the named region. Migrants it owned are dropped from
// the controller on the next tick.
func (s *Simulation) Repopulate(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.world.Repopulate(name)
}

// Infect infects up to n susceptible agents of the named region at sim
// time at and returns how many were infected.
func (s *Simulation) Infect(name string, n int, at float64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.world.Infect(name, n, at)
}

// InfectNow is Infect at the current sim time.
func (s *Simulation) InfectNow(name string, n int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.world.Infect(name, n, s.clock.Now())
}

// RegisterFlow tags agents for migration and returns how many were tagged.
func (s *Simulation) RegisterFlow(f world.Flow) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.controller.RegisterFlow(f)
	if err != nil {
		return 0, err
	}
	slog.Info("flow registered", "source", f.Source, "destination", f.Destination, "tagged", n)
	return n, nil
}

// Tick runs one tick at sim time now. While the speed is zero only
// timestamps move: no migration, movement, disease or sampling.
func (s *Simulation) Tick(now float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tick(now)
}

func (s *Simulation) tick(now float64) {
	paused := s.clock.Paused()
	if !paused {
		s.controller.Update(now)
	}
	s.world.Update(now, paused)

	if logging.TraceEnabled() {
		t := s.world.Totals()
		logging.Trace("tick", "now", now, "paused", paused,
			"susceptible", t.Susceptible, "infected", t.Infected,
			"recovered", t.Recovered, "dead", t.Dead)
	}
}

// Advance moves the clock to wall time and runs one tick at the resulting
// sim time, which it returns.
func (s *Simulation) Advance(wall time.Time) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Advance(wall)
	s.tick(now)
	return now
}

// SetSpeed sets the clock multiplier, clamped to [0, MaxSpeed], and returns
// the applied value.
func (s *Simulation) SetSpeed(v float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	applied := s.clock.SetSpeed(v)
	slog.Info("speed changed", "requested", v, "speed", applied)
	return applied
}

// Speed returns the clock multiplier.
func (s *Simulation) Speed() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock.Speed()
}

// Now returns the current sim time.
func (s *Simulation) Now() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock.Now()
}

// Counts returns the stage counters of the named region.
func (s *Simulation) Counts(name string) (agents.StageCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.world.Region(name)
	if !ok {
		return agents.StageCounts{}, fmt.Errorf("%q: %w", name, world.ErrUnknownRegion)
	}
	return r.Counts(), nil
}

// Totals returns the stage counters summed over every region.
func (s *Simulation) Totals() agents.StageCounts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.world.Totals()
}

// Regions returns every region with its counters, in creation order.
func (s *Simulation) Regions() []RegionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	regions := s.world.Regions()
	out := make([]RegionStatus, 0, len(regions))
	for _, r := range regions {
		out = append(out, RegionStatus{
			RegionSpec: r.Spec(),
			Population: r.Len(),
			Counts:     r.Counts(),
		})
	}
	return out
}

// Agents returns presentation data for every agent.
func (s *Simulation) Agents() []world.AgentView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.world.Agents()
}

// History returns the full aggregated time series.
func (s *Simulation) History() []world.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.world.History()
}

// HistorySince returns samples from index from onward, the index to resume
// from, and the topology generation the samples belong to.
func (s *Simulation) HistorySince(from int) ([]world.Sample, int, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	samples, next := s.world.HistorySince(from)
	return samples, next, s.generation
}

// SetSampling turns time-series sampling on or off.
func (s *Simulation) SetSampling(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.world.SetSampling(on)
}

// Topology returns the current region and flow configuration.
func (s *Simulation) Topology() world.Topology {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.world.Topology()
}

// Recording is a consistent view of what an archive needs: the topology
// and the samples from one generation.
type Recording struct {
	Generation uint64
	Topology   world.Topology
	Samples    []world.Sample
	Next       int // pass as from on the following call
}

// RecordingSince returns the samples from index from on, read under one
// lock with the topology they belong to. When the generation is no longer
// gen the history was replaced, so every sample is returned from index 0.
func (s *Simulation) RecordingSince(from int, gen uint64) Recording {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		from = 0
	}
	samples, next := s.world.HistorySince(from)
	return Recording{
		Generation: s.generation,
		Topology:   s.world.Topology(),
		Samples:    samples,
		Next:       next,
	}
}

// ReplaceTopology discards every region, agent and sample and rebuilds the
// world from t: regions are created and populated in order, then flows are
// registered. The clock restarts at sim time 0. On error the current world
// is left untouched.
func (s *Simulation) ReplaceTopology(t world.Topology) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := world.New(s.cfg, s.rng)
	// Agent IDs stay unique across replacements.
	w.Spawner().SetNextID(s.world.Spawner().NextID())
	w.SetSampling(s.world.Sampling())
	c := migration.New(w, s.rng)

	for i, spec := range t.Regions {
		if _, err := w.CreateRegion(spec); err != nil {
			return fmt.Errorf("region %d: %w", i+1, err)
		}
		if err := w.Populate(spec.Name); err != nil {
			return fmt.Errorf("region %d: %w", i+1, err)
		}
	}
	for i, f := range t.Flows {
		if _, err := c.RegisterFlow(f); err != nil {
			return fmt.Errorf("flow %d: %w", i+1, err)
		}
	}

	s.world = w
	s.controller = c
	s.clock.Reset()
	s.generation++

	slog.Info("topology replaced",
		"regions", len(t.Regions), "flows", len(t.Flows),
		"agents", w.Totals().Total(), "migrants", c.Len(), "generation", s.generation)
	return nil
}

// Status returns a summary of the simulation.
func (s *Simulation) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	return Status{
		Time:       now,
		Clock:      SimTime(now),
		Speed:      s.clock.Speed(),
		Paused:     s.clock.Paused(),
		Seed:       s.rng.Seed(),
		Regions:    len(s.world.Regions()),
		Flows:      len(s.world.Flows()),
		Migrants:   s.controller.Len(),
		Samples:    len(s.world.History()),
		Sampling:   s.world.Sampling(),
		Totals:     s.world.Totals(),
		Generation: s.generation,
	}
}
