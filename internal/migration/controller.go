// Package migration moves agents between regions along registered flows.
//
// Every tagged agent cycles through
//
//	MovingToDestination -> Resting (at destination) -> MovingToHome -> Resting (at home) -> ...
//
// forever. The controller only keeps ID handles and re-resolves them
// through the world each tick, so agents discarded by a repopulate simply
// fall out of the set.
package migration

import (
	"log/slog"
	"math"

	"github.com/paulmach/orb"

	"github.com/talgya/cagesim/internal/agents"
	"github.com/talgya/cagesim/internal/entropy"
	"github.com/talgya/cagesim/internal/logging"
	"github.com/talgya/cagesim/internal/world"
)

// handle locates a migrating agent: its ID and the region that owned it
// after the last update.
type handle struct {
	ID     agents.AgentID
	Region string
}

// Controller drives the travel state machine of every migrating agent.
type Controller struct {
	world   *world.World
	rng     entropy.Source
	restMin float64
	restMax float64

	moving []handle
}

// New creates a controller for w. Rest periods are drawn from rng within
// the world's configured rest range.
func New(w *world.World, rng entropy.Source) *Controller {
	cfg := w.Config()
	return &Controller{
		world:   w,
		rng:     rng,
		restMin: cfg.RestMin,
		restMax: cfg.RestMax,
	}
}

// RegisterFlow tags up to f.Amount agents in f.Source for migration to
// f.Destination and starts tracking them. It returns the number tagged,
// which is lower than f.Amount when the source runs out of eligible agents.
func (c *Controller) RegisterFlow(f world.Flow) (int, error) {
	ids, err := c.world.TagFlow(f)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		c.moving = append(c.moving, handle{ID: id, Region: f.Source})
	}
	slog.Debug("flow registered",
		"source", f.Source, "destination", f.Destination,
		"requested", f.Amount, "tagged", len(ids))
	return len(ids), nil
}

// Len returns the number of tracked migrating agents.
func (c *Controller) Len() int {
	return len(c.moving)
}

// Migrants returns the IDs of every tracked agent.
func (c *Controller) Migrants() []agents.AgentID {
	ids := make([]agents.AgentID, len(c.moving))
	for i, h := range c.moving {
		ids[i] = h.ID
	}
	return ids
}

// Update runs one controller pass at sim time now. For each migrant, in
// order: relocate into whichever region now surrounds it, handle arrival,
// handle departure, then steer. Relocation tests every migrant against
// every region, so a pass costs O(migrants × regions).
//
// Handles whose agent no longer exists, or has died, are dropped.
func (c *Controller) Update(now float64) {
	regions := c.world.Regions()

	var relocated, arrived, departed int
	kept := c.moving[:0]
	for _, h := range c.moving {
		a, ok := c.resolve(h)
		if !ok || !a.Alive() {
			continue
		}

		if r := c.relocate(a, regions); r != h.Region {
			h.Region = r
			relocated++
		}
		if c.arrive(a, now) {
			arrived++
		}
		if c.depart(a, now) {
			departed++
		}
		c.steer(a)

		kept = append(kept, h)
	}
	dropped := len(c.moving) - len(kept)
	for i := len(kept); i < len(c.moving); i++ {
		c.moving[i] = handle{}
	}
	c.moving = kept

	if logging.TraceEnabled() {
		logging.Trace("migration pass", "now", now, "migrants", len(kept), "dropped", dropped,
			"relocated", relocated, "arrived", arrived, "departed", departed)
	}
}

func (c *Controller) resolve(h handle) (*agents.Agent, bool) {
	r, ok := c.world.Region(h.Region)
	if !ok {
		return nil, false
	}
	return r.Get(h.ID)
}

// relocate transfers a to the first region other than its current one that
// strictly surrounds its position, and returns the owning region's name.
func (c *Controller) relocate(a *agents.Agent, regions []*world.Region) string {
	for _, r := range regions {
		if r.Name == a.CurrentRegion || !r.Surrounds(a.Position) {
			continue
		}
		from := a.CurrentRegion
		if _, err := c.world.Transfer(a.ID, from, r.Name); err != nil {
			// The handle resolved through from, so this only fires if the
			// world was mutated underneath us.
			slog.Warn("migrant transfer failed", "agent", a.ID, "from", from, "to", r.Name, "error", err)
			return from
		}
		return r.Name
	}
	return a.CurrentRegion
}

func (c *Controller) arrive(a *agents.Agent, now float64) bool {
	if a.ArrivedAt >= 0 {
		return false
	}
	atDestination := a.Travel == agents.MovingToDestination && a.CurrentRegion == a.DestinationRegion
	atHome := a.Travel == agents.MovingToHome && a.CurrentRegion == a.HomeRegion
	if !atDestination && !atHome {
		return false
	}
	a.Travel = agents.Resting
	a.ArrivedAt = now
	a.RestDuration = entropy.Uniform(c.rng, c.restMin, c.restMax)
	return true
}

func (c *Controller) depart(a *agents.Agent, now float64) bool {
	if a.Travel != agents.Resting || a.ArrivedAt < 0 || now-a.ArrivedAt < a.RestDuration {
		return false
	}
	a.ArrivedAt = agents.NotArrived
	if a.CurrentRegion == a.HomeRegion {
		a.Travel = agents.MovingToDestination
	} else {
		a.Travel = agents.MovingToHome
	}
	return true
}

func (c *Controller) steer(a *agents.Agent) {
	var target string
	switch a.Travel {
	case agents.MovingToDestination:
		target = a.DestinationRegion
	case agents.MovingToHome:
		target = a.HomeRegion
	default:
		return
	}
	r, ok := c.world.Region(target)
	if !ok {
		return
	}
	a.Velocity = Heading(a.Position, r.Center())
}

// Heading returns the velocity that moves from toward to with the larger
// axis component at unit magnitude. It is zero when from == to.
func Heading(from, to orb.Point) orb.Point {
	dx := to.X() - from.X()
	dy := to.Y() - from.Y()
	d := math.Max(math.Abs(dx), math.Abs(dy))
	if d == 0 {
		return orb.Point{0, 0}
	}
	return orb.Point{dx / d, dy / d}
}
