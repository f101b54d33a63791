package world

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/talgya/cagesim/internal/agents"
	"github.com/talgya/cagesim/internal/config"
	"github.com/talgya/cagesim/internal/entropy"
)

// env is the state every region of one world shares.
type env struct {
	cfg     config.Simulation
	rng     entropy.Source
	spawner *agents.Spawner
}

// Region is a bounded rectangle owning a population of agents (a "cage").
//
// Agents live in an arena slice with an ID index; an agent is owned by
// exactly one region at a time. The stage counters are updated on every
// membership or stage change and always sum to Len().
type Region struct {
	Name     string
	Bounds   orb.Bound
	Capacity int

	agents     []*agents.Agent
	index      map[agents.AgentID]int
	counts     agents.StageCounts
	lastUpdate float64

	env *env
}

func newRegion(spec RegionSpec, e *env) *Region {
	return &Region{
		Name:     spec.Name,
		Bounds:   spec.Bounds(),
		Capacity: spec.Capacity,
		index:    make(map[agents.AgentID]int),
		env:      e,
	}
}

// Spec returns the region's persistable description.
func (r *Region) Spec() RegionSpec {
	return RegionSpec{
		Name:     r.Name,
		X:        r.Bounds.Min.X(),
		Y:        r.Bounds.Min.Y(),
		Width:    r.Bounds.Max.X() - r.Bounds.Min.X(),
		Height:   r.Bounds.Max.Y() - r.Bounds.Min.Y(),
		Capacity: r.Capacity,
	}
}

// Center returns the geometric center of the region.
func (r *Region) Center() orb.Point {
	return r.Bounds.Center()
}

// Surrounds reports whether p lies strictly inside the region.
func (r *Region) Surrounds(p orb.Point) bool {
	return surrounds(r.Bounds, p)
}

// Counts returns the current per-stage counters.
func (r *Region) Counts() agents.StageCounts {
	return r.counts
}

// Len returns the number of agents the region currently owns.
func (r *Region) Len() int {
	return len(r.agents)
}

// Get resolves an agent handle. It returns false once the agent has left
// the region or been discarded by Repopulate.
func (r *Region) Get(id agents.AgentID) (*agents.Agent, bool) {
	i, ok := r.index[id]
	if !ok {
		return nil, false
	}
	return r.agents[i], true
}

// Each calls fn for every owned agent in arena order.
func (r *Region) Each(fn func(a *agents.Agent)) {
	for _, a := range r.agents {
		fn(a)
	}
}

// Populate spawns Capacity new agents inside the bounds.
func (r *Region) Populate() {
	for _, a := range r.env.spawner.SpawnPopulation(r.Capacity, r.Bounds, r.Name) {
		r.add(a)
	}
}

// Repopulate discards every owned agent and all counters, then populates
// from scratch. Discarded agents' IDs are not reused.
func (r *Region) Repopulate() {
	r.agents = nil
	r.index = make(map[agents.AgentID]int)
	r.counts = agents.StageCounts{}
	r.Populate()
}

// Infect turns up to n susceptible agents into infected ones at time at.
// n must be in [1, Capacity]. It returns the number actually infected,
// which is lower than n when fewer susceptible agents remain.
func (r *Region) Infect(n int, at float64) (int, error) {
	if n <= 0 || n > r.Capacity {
		return 0, fmt.Errorf("infect %d in %s (capacity %d): %w", n, r.Name, r.Capacity, ErrInvalidInfectCount)
	}
	infected := 0
	for _, a := range r.agents {
		if infected == n {
			break
		}
		if a.Stage != agents.Susceptible {
			continue
		}
		r.setStage(a, agents.Infected, at)
		infected++
	}
	return infected, nil
}

// Update advances the region to now: movement, then disease progression,
// then transmission. While paused only the update timestamp moves, so a
// resumed simulation does not integrate over the pause.
func (r *Region) Update(now float64, paused bool) {
	if !paused {
		r.move(now - r.lastUpdate)
		r.progress(now)
		r.transmit(now)
	}
	r.lastUpdate = now
}

// move integrates positions over dt. Travelling migrants are steered from
// outside and are never reflected. Everyone else bounces off a wall they
// are moving out through, with a single correction step.
func (r *Region) move(dt float64) {
	for _, a := range r.agents {
		if !a.Alive() {
			continue
		}
		old := a.Position
		a.Position = advance(old, a.Velocity, dt)
		if a.Travelling() {
			continue
		}
		edge := escapingEdge(r.Bounds, a.Position, a.Velocity, a.Radius)
		if edge == EdgeNone {
			continue
		}
		a.Velocity = Reflect(a.Velocity, edge)
		a.Position = advance(old, a.Velocity, dt)
	}
}

// progress resolves infections whose recovery duration has elapsed.
func (r *Region) progress(now float64) {
	for _, a := range r.agents {
		if a.Stage != agents.Infected || now-a.StageChangedAt < a.RecoveryDuration {
			continue
		}
		next := agents.Recovered
		if entropy.Chance(r.env.rng, r.env.cfg.DeathProbability) {
			next = agents.Dead
		}
		r.setStage(a, next, now)
	}
}

// transmit tests every (infected, susceptible) pair. Stages are read live:
// an agent infected earlier in this pass infects others when its own turn
// in the outer loop comes. Cost is O(n²) in the region's population.
func (r *Region) transmit(now float64) {
	for _, src := range r.agents {
		if src.Stage != agents.Infected {
			continue
		}
		reach := 2 * src.Radius
		reach *= reach
		for _, dst := range r.agents {
			if dst.Stage != agents.Susceptible {
				continue
			}
			if planar.DistanceSquared(src.Position, dst.Position) > reach {
				continue
			}
			if !entropy.Chance(r.env.rng, r.env.cfg.InfectionProbability) {
				continue
			}
			r.setStage(dst, agents.Infected, now)
		}
	}
}

// setStage moves a to stage at time now, keeping counters in step. Dead is
// terminal.
func (r *Region) setStage(a *agents.Agent, stage agents.DiseaseStage, now float64) {
	if a.Stage == stage || a.Stage == agents.Dead {
		return
	}
	r.counts.Add(a.Stage, -1)
	r.counts.Add(stage, 1)
	a.Stage = stage
	a.StageChangedAt = now
	if stage == agents.Infected {
		a.RecoveryDuration = entropy.Uniform(r.env.rng, r.env.cfg.RecoveryMin, r.env.cfg.RecoveryMax)
	}
}

// add takes ownership of a.
func (r *Region) add(a *agents.Agent) {
	r.index[a.ID] = len(r.agents)
	r.agents = append(r.agents, a)
	r.counts.Add(a.Stage, 1)
}

// remove releases ownership of the agent with the given ID.
func (r *Region) remove(id agents.AgentID) (*agents.Agent, bool) {
	i, ok := r.index[id]
	if !ok {
		return nil, false
	}
	a := r.agents[i]
	last := len(r.agents) - 1
	if i != last {
		r.agents[i] = r.agents[last]
		r.index[r.agents[i].ID] = i
	}
	r.agents[last] = nil
	r.agents = r.agents[:last]
	delete(r.index, id)
	r.counts.Add(a.Stage, -1)
	return a, true
}

// tagForFlow marks up to amount resting, non-migrating, living agents for
// migration to dst and returns their IDs.
func (r *Region) tagForFlow(dst string, amount int) []agents.AgentID {
	var ids []agents.AgentID
	for _, a := range r.agents {
		if len(ids) == amount {
			break
		}
		if a.Migrating() || a.Travel != agents.Resting || !a.Alive() {
			continue
		}
		a.DestinationRegion = dst
		a.Travel = agents.MovingToDestination
		a.ArrivedAt = agents.NotArrived
		ids = append(ids, a.ID)
	}
	return ids
}
