// Package world provides regions, the region registry, and the per-tick
// population update of the epidemic simulation.
package world

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/paulmach/orb"

	"github.com/talgya/cagesim/internal/agents"
	"github.com/talgya/cagesim/internal/config"
	"github.com/talgya/cagesim/internal/entropy"
)

// RegionSpec describes a region by its top-left corner, size and capacity.
type RegionSpec struct {
	Name     string  `json:"name"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	Capacity int     `json:"capacity"`
}

// Bounds returns the region's rectangle.
func (s RegionSpec) Bounds() orb.Bound {
	return orb.Bound{
		Min: orb.Point{s.X, s.Y},
		Max: orb.Point{s.X + s.Width, s.Y + s.Height},
	}
}

// Flow is a one-shot designation of Amount resting agents in Source to
// oscillate forever between Source and Destination.
type Flow struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Amount      int    `json:"amount"`
}

// Topology is the full persistable configuration of a world.
type Topology struct {
	Regions []RegionSpec `json:"regions"`
	Flows   []Flow       `json:"flows"`
}

// Sample is one tick's world-wide stage totals.
type Sample struct {
	Time float64 `json:"time"`
	agents.StageCounts
}

// AgentView is the presentation data for one agent.
type AgentView struct {
	ID       agents.AgentID      `json:"id"`
	Region   string              `json:"region"`
	Position orb.Point           `json:"position"`
	Radius   float64             `json:"radius"`
	Stage    agents.DiseaseStage `json:"stage"`
	Travel   agents.TravelState  `json:"travel"`
}

// World is the registry of regions (the "canvas") plus the aggregated
// time series. It is not safe for concurrent use.
type World struct {
	env      *env
	viewport orb.Bound

	regions map[string]*Region
	order   []string // Creation order, for deterministic iteration
	flows   []Flow

	now      float64 // Time of the last Update
	history  []Sample
	sampling bool
}

// New creates an empty world. Agents are spawned with rng, which is also
// used for every disease draw.
func New(cfg config.Simulation, rng entropy.Source) *World {
	return &World{
		env: &env{
			cfg:     cfg,
			rng:     rng,
			spawner: agents.NewSpawner(rng, cfg.AgentRadius),
		},
		viewport: orb.Bound{
			Min: orb.Point{0, 0},
			Max: orb.Point{cfg.ViewportWidth, cfg.ViewportHeight},
		},
		regions:  make(map[string]*Region),
		sampling: true,
	}
}

// Config returns the simulation constants the world was built with.
func (w *World) Config() config.Simulation {
	return w.env.cfg
}

// Spawner returns the world's agent ID issuer.
func (w *World) Spawner() *agents.Spawner {
	return w.env.spawner
}

// ValidatePlacement checks a proposed region against the viewport and the
// existing regions without creating anything.
func (w *World) ValidatePlacement(spec RegionSpec) error {
	if spec.Capacity < 0 || spec.Capacity > w.env.cfg.MaxCapacity {
		return fmt.Errorf("capacity %d (max %d): %w", spec.Capacity, w.env.cfg.MaxCapacity, ErrCapacity)
	}
	if spec.Name == "" {
		return ErrEmptyName
	}
	if strings.IndexFunc(spec.Name, unicode.IsSpace) >= 0 {
		return fmt.Errorf("%q: %w", spec.Name, ErrInvalidName)
	}
	if _, ok := w.regions[spec.Name]; ok {
		return fmt.Errorf("%q: %w", spec.Name, ErrDuplicateName)
	}
	if spec.X <= 0 || spec.Y <= 0 || spec.Width <= 0 || spec.Height <= 0 ||
		spec.X+spec.Width > w.viewport.Max.X() || spec.Y+spec.Height > w.viewport.Max.Y() {
		return fmt.Errorf("%q at (%g,%g) size %gx%g: %w", spec.Name, spec.X, spec.Y, spec.Width, spec.Height, ErrOutsideViewport)
	}
	b := spec.Bounds()
	for _, name := range w.order {
		if overlaps(w.regions[name].Bounds, b) {
			return fmt.Errorf("%q with %q: %w", spec.Name, name, ErrOverlap)
		}
	}
	return nil
}

// CreateRegion validates spec and adds an empty region.
func (w *World) CreateRegion(spec RegionSpec) (*Region, error) {
	if err := w.ValidatePlacement(spec); err != nil {
		return nil, err
	}
	r := newRegion(spec, w.env)
	r.lastUpdate = w.now
	w.regions[spec.Name] = r
	w.order = append(w.order, spec.Name)
	slog.Debug("region created", "name", spec.Name, "capacity", spec.Capacity)
	return r, nil
}

// Region looks up a region by name.
func (w *World) Region(name string) (*Region, bool) {
	r, ok := w.regions[name]
	return r, ok
}

// Regions returns all regions in creation order.
func (w *World) Regions() []*Region {
	out := make([]*Region, 0, len(w.order))
	for _, name := range w.order {
		out = append(out, w.regions[name])
	}
	return out
}

func (w *World) mustRegion(name string) (*Region, error) {
	r, ok := w.regions[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownRegion)
	}
	return r, nil
}

// Populate spawns the named region's initial population.
func (w *World) Populate(name string) error {
	r, err := w.mustRegion(name)
	if err != nil {
		return err
	}
	r.Populate()
	return nil
}

// Repopulate resets the named region.
func (w *World) Repopulate(name string) error {
	r, err := w.mustRegion(name)
	if err != nil {
		return err
	}
	r.Repopulate()
	return nil
}

// Infect infects up to n susceptible agents in the named region.
func (w *World) Infect(name string, n int, at float64) (int, error) {
	r, err := w.mustRegion(name)
	if err != nil {
		return 0, err
	}
	return r.Infect(n, at)
}

// TagFlow validates f, tags its agents in the source region and records
// the flow. It returns the tagged agent IDs, at most f.Amount of them.
func (w *World) TagFlow(f Flow) ([]agents.AgentID, error) {
	if f.Amount <= 0 {
		return nil, fmt.Errorf("flow %s->%s amount %d: %w", f.Source, f.Destination, f.Amount, ErrInvalidAmount)
	}
	if f.Source == f.Destination {
		return nil, fmt.Errorf("flow %s->%s: %w", f.Source, f.Destination, ErrSelfFlow)
	}
	src, err := w.mustRegion(f.Source)
	if err != nil {
		return nil, fmt.Errorf("flow source: %w", err)
	}
	if _, err := w.mustRegion(f.Destination); err != nil {
		return nil, fmt.Errorf("flow destination: %w", err)
	}
	ids := src.tagForFlow(f.Destination, f.Amount)
	w.flows = append(w.flows, f)
	return ids, nil
}

// Flows returns the registered flows in registration order.
func (w *World) Flows() []Flow {
	out := make([]Flow, len(w.flows))
	copy(out, w.flows)
	return out
}

// Transfer moves ownership of agent id from one region to another and
// updates its CurrentRegion. Counters move with the agent.
func (w *World) Transfer(id agents.AgentID, from, to string) (*agents.Agent, error) {
	src, err := w.mustRegion(from)
	if err != nil {
		return nil, err
	}
	dst, err := w.mustRegion(to)
	if err != nil {
		return nil, err
	}
	a, ok := src.remove(id)
	if !ok {
		return nil, fmt.Errorf("agent %d in %q: %w", id, from, ErrUnknownAgent)
	}
	a.CurrentRegion = to
	dst.add(a)
	return a, nil
}

// Update advances every region to now and, unless paused, appends one
// sample to the history while sampling is enabled.
func (w *World) Update(now float64, paused bool) {
	w.now = now
	for _, name := range w.order {
		w.regions[name].Update(now, paused)
	}
	if paused || !w.sampling {
		return
	}
	w.history = append(w.history, Sample{Time: now, StageCounts: w.Totals()})
}

// Now returns the sim time of the last Update.
func (w *World) Now() float64 {
	return w.now
}

// Totals sums the stage counters of every region.
func (w *World) Totals() agents.StageCounts {
	var total agents.StageCounts
	for _, r := range w.regions {
		total = total.Plus(r.counts)
	}
	return total
}

// SetSampling turns history sampling on or off.
func (w *World) SetSampling(on bool) {
	w.sampling = on
}

// Sampling reports whether history sampling is enabled.
func (w *World) Sampling() bool {
	return w.sampling
}

// History returns a copy of the aggregated time series.
func (w *World) History() []Sample {
	out := make([]Sample, len(w.history))
	copy(out, w.history)
	return out
}

// HistorySince returns samples from index from onward, and the index to
// pass on the next call.
func (w *World) HistorySince(from int) ([]Sample, int) {
	if from < 0 || from > len(w.history) {
		from = len(w.history)
	}
	out := make([]Sample, len(w.history)-from)
	copy(out, w.history[from:])
	return out, len(w.history)
}

// Agents returns presentation data for every agent in every region.
func (w *World) Agents() []AgentView {
	var out []AgentView
	for _, name := range w.order {
		for _, a := range w.regions[name].agents {
			out = append(out, AgentView{
				ID:       a.ID,
				Region:   name,
				Position: a.Position,
				Radius:   a.Radius,
				Stage:    a.Stage,
				Travel:   a.Travel,
			})
		}
	}
	return out
}

// Topology returns the current region and flow configuration.
func (w *World) Topology() Topology {
	t := Topology{Flows: w.Flows()}
	for _, name := range w.order {
		t.Regions = append(t.Regions, w.regions[name].Spec())
	}
	return t
}
