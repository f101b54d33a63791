// Agent spawning: creates populations inside a region's bounds.
package agents

import (
	"github.com/paulmach/orb"

	"github.com/talgya/cagesim/internal/entropy"
)

// Spawner creates agents for the simulation and owns the ID sequence.
type Spawner struct {
	rng    entropy.Source
	radius float64
	nextID AgentID
}

// NewSpawner creates an agent spawner drawing from rng. Every agent it
// creates gets the given radius.
func NewSpawner(rng entropy.Source, radius float64) *Spawner {
	return &Spawner{
		rng:    rng,
		radius: radius,
		nextID: 1,
	}
}

// SetNextID sets the next agent ID to be issued.
func (s *Spawner) SetNextID(id AgentID) {
	s.nextID = id
}

// NextID returns the ID the next spawned agent will receive.
func (s *Spawner) NextID() AgentID {
	return s.nextID
}

// SpawnPopulation creates count susceptible agents at random positions inside
// bounds, all belonging to the named home region.
func (s *Spawner) SpawnPopulation(count int, bounds orb.Bound, home string) []*Agent {
	agents := make([]*Agent, 0, count)
	for i := 0; i < count; i++ {
		agents = append(agents, s.spawnOne(bounds, home))
	}
	return agents
}

func (s *Spawner) spawnOne(bounds orb.Bound, home string) *Agent {
	id := s.nextID
	s.nextID++

	return &Agent{
		ID: id,
		Position: orb.Point{
			s.coord(bounds.Min.X(), bounds.Max.X()),
			s.coord(bounds.Min.Y(), bounds.Max.Y()),
		},
		Velocity: orb.Point{
			entropy.Uniform(s.rng, -1, 1),
			entropy.Uniform(s.rng, -1, 1),
		},
		Radius:        s.radius,
		Stage:         Susceptible,
		HomeRegion:    home,
		CurrentRegion: home,
		Travel:        Resting,
		ArrivedAt:     NotArrived,
	}
}

// coord draws one axis of a spawn position, keeping a radius of clearance
// from both walls. An axis narrower than the agent gets its midpoint.
func (s *Spawner) coord(from, to float64) float64 {
	lo, hi := from+s.radius, to-s.radius
	if hi < lo {
		return (from + to) / 2
	}
	return entropy.Uniform(s.rng, lo, hi)
}
