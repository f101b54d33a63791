package world

import (
	"errors"
	"testing"

	"github.com/paulmach/orb"

	"github.com/talgya/cagesim/internal/agents"
	"github.com/talgya/cagesim/internal/config"
	"github.com/talgya/cagesim/internal/entropy"
)

// testEnv builds the shared region environment with a seeded source.
func testEnv(mutate func(c *config.Simulation)) *env {
	cfg := config.DefaultSimulation()
	if mutate != nil {
		mutate(&cfg)
	}
	rng := entropy.NewSource(42)
	return &env{cfg: cfg, rng: rng, spawner: agents.NewSpawner(rng, cfg.AgentRadius)}
}

// checkCounters fails the test when the counters disagree with a scan of
// the arena.
func checkCounters(t *testing.T, r *Region) {
	t.Helper()
	var scan agents.StageCounts
	for _, a := range r.agents {
		scan.Add(a.Stage, 1)
	}
	if scan != r.counts {
		t.Fatalf("region %s counters %+v, scan %+v", r.Name, r.counts, scan)
	}
	if r.counts.Total() != r.Len() {
		t.Fatalf("region %s counters sum %d, agents %d", r.Name, r.counts.Total(), r.Len())
	}
	for id, i := range r.index {
		if r.agents[i].ID != id {
			t.Fatalf("index for %d points at %d", id, r.agents[i].ID)
		}
	}
}

func TestCrossedEdge(t *testing.T) {
	b := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{100, 100}}
	tests := []struct {
		name string
		p    orb.Point
		want Edge
	}{
		{"inside", orb.Point{50, 50}, EdgeNone},
		{"right", orb.Point{98, 50}, EdgeRight},
		{"top", orb.Point{50, 98}, EdgeTop},
		{"left", orb.Point{2, 50}, EdgeLeft},
		{"bottom", orb.Point{50, 2}, EdgeBottom},
		{"right wins over top", orb.Point{99, 99}, EdgeRight},
		{"top wins over left", orb.Point{1, 99}, EdgeTop},
		{"left wins over bottom", orb.Point{1, 1}, EdgeLeft},
		{"exact clearance is inside", orb.Point{97, 50}, EdgeNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CrossedEdge(b, tt.p, 3); got != tt.want {
				t.Errorf("CrossedEdge(%v) = %v, want %v", tt.p, got, tt.want)
			}
		})
	}
}

func TestReflect(t *testing.T) {
	v := orb.Point{0.5, -0.25}
	if got := Reflect(v, EdgeLeft); got != (orb.Point{-0.5, -0.25}) {
		t.Errorf("Reflect left = %v", got)
	}
	if got := Reflect(v, EdgeRight); got != (orb.Point{-0.5, -0.25}) {
		t.Errorf("Reflect right = %v", got)
	}
	if got := Reflect(v, EdgeTop); got != (orb.Point{0.5, 0.25}) {
		t.Errorf("Reflect top = %v", got)
	}
	if got := Reflect(v, EdgeBottom); got != (orb.Point{0.5, 0.25}) {
		t.Errorf("Reflect bottom = %v", got)
	}
	if got := Reflect(v, EdgeNone); got != v {
		t.Errorf("Reflect none = %v", got)
	}
}

func TestRegionMove_ReflectsAtRightWall(t *testing.T) {
	r := newRegion(RegionSpec{Name: "A", X: 0, Y: 0, Width: 100, Height: 100, Capacity: 1}, testEnv(nil))
	a := &agents.Agent{ID: 1, Position: orb.Point{99, 50}, Velocity: orb.Point{1, 0}, Radius: 3, ArrivedAt: agents.NotArrived}
	r.add(a)

	r.Update(1, false)

	if a.Velocity.X() >= 0 {
		t.Errorf("velocity x = %v, want negative after reflection", a.Velocity.X())
	}
	if a.Position.X() > 100 {
		t.Errorf("position x = %v, want <= 100", a.Position.X())
	}
	if a.Position != (orb.Point{98, 50}) {
		t.Errorf("position = %v, want reverted then re-advanced to (98, 50)", a.Position)
	}
}

func TestRegionMove_AcceptsInteriorStep(t *testing.T) {
	r := newRegion(RegionSpec{Name: "A", X: 0, Y: 0, Width: 100, Height: 100}, testEnv(nil))
	a := &agents.Agent{ID: 1, Position: orb.Point{50, 50}, Velocity: orb.Point{0.5, -1}, Radius: 3}
	r.add(a)

	r.Update(2, false)

	if a.Position != (orb.Point{51, 48}) {
		t.Errorf("position = %v, want (51, 48)", a.Position)
	}
	if a.Velocity != (orb.Point{0.5, -1}) {
		t.Errorf("velocity changed to %v", a.Velocity)
	}
}

func TestRegionMove_TravellingAgentsAreNotReflected(t *testing.T) {
	r := newRegion(RegionSpec{Name: "A", X: 0, Y: 0, Width: 100, Height: 100}, testEnv(nil))
	a := &agents.Agent{
		ID:                1,
		Position:          orb.Point{99, 50},
		Velocity:          orb.Point{1, 0},
		Radius:            3,
		HomeRegion:        "A",
		CurrentRegion:     "A",
		DestinationRegion: "B",
		Travel:            agents.MovingToDestination,
		ArrivedAt:         agents.NotArrived,
	}
	r.add(a)

	r.Update(1, false)

	if a.Position != (orb.Point{100, 50}) || a.Velocity != (orb.Point{1, 0}) {
		t.Errorf("travelling agent reflected: pos %v vel %v", a.Position, a.Velocity)
	}
}

func TestRegionMove_RestingMigrantIsReflected(t *testing.T) {
	r := newRegion(RegionSpec{Name: "B", X: 0, Y: 0, Width: 100, Height: 100}, testEnv(nil))
	a := &agents.Agent{
		ID:                1,
		Position:          orb.Point{50, 2},
		Velocity:          orb.Point{0, -1},
		Radius:            3,
		HomeRegion:        "A",
		CurrentRegion:     "B",
		DestinationRegion: "B",
		Travel:            agents.Resting,
		ArrivedAt:         0,
	}
	r.add(a)

	r.Update(1, false)

	if a.Velocity.Y() <= 0 {
		t.Errorf("resting migrant not reflected: vel %v", a.Velocity)
	}
}

func TestEdgeOutward(t *testing.T) {
	tests := []struct {
		e    Edge
		v    orb.Point
		want bool
	}{
		{EdgeRight, orb.Point{1, 0}, true},
		{EdgeRight, orb.Point{-1, 5}, false},
		{EdgeLeft, orb.Point{-1, 0}, true},
		{EdgeLeft, orb.Point{0, -1}, false},
		{EdgeTop, orb.Point{0, 1}, true},
		{EdgeTop, orb.Point{3, -1}, false},
		{EdgeBottom, orb.Point{0, -1}, true},
		{EdgeBottom, orb.Point{0, 1}, false},
		{EdgeNone, orb.Point{1, 1}, false},
	}
	for _, tt := range tests {
		if got := tt.e.Outward(tt.v); got != tt.want {
			t.Errorf("%v.Outward(%v) = %v, want %v", tt.e, tt.v, got, tt.want)
		}
	}
}

func TestRegionMove_LeavesClearanceBand(t *testing.T) {
	r := newRegion(RegionSpec{Name: "A", X: 0, Y: 0, Width: 100, Height: 100}, testEnv(nil))
	a := &agents.Agent{ID: 1, Position: orb.Point{1, 50}, Velocity: orb.Point{-1, 0}, Radius: 3, ArrivedAt: agents.NotArrived}
	r.add(a)

	for now := 1.0; now <= 5; now++ {
		r.Update(now, false)
	}

	if a.Velocity != (orb.Point{1, 0}) {
		t.Errorf("velocity = %v, want a single reflection to (1, 0)", a.Velocity)
	}
	if a.Position != (orb.Point{6, 50}) {
		t.Errorf("position = %v, want (6, 50) clear of the left wall", a.Position)
	}
}

func TestRegionMove_InboundArrivalIsNotReflected(t *testing.T) {
	r := newRegion(RegionSpec{Name: "B", X: 0, Y: 0, Width: 100, Height: 100}, testEnv(nil))
	a := &agents.Agent{
		ID:                1,
		Position:          orb.Point{0.5, 40},
		Velocity:          orb.Point{1, 0.5},
		Radius:            3,
		HomeRegion:        "A",
		CurrentRegion:     "B",
		DestinationRegion: "B",
		Travel:            agents.Resting,
		ArrivedAt:         0,
	}
	r.add(a)

	r.Update(1, false)
	r.Update(2, false)
	r.Update(3, false)

	if a.Velocity != (orb.Point{1, 0.5}) {
		t.Errorf("arriving migrant reflected: vel %v", a.Velocity)
	}
	if a.Position != (orb.Point{3.5, 41.5}) || !r.Surrounds(a.Position) {
		t.Errorf("position = %v, want (3.5, 41.5) inside the region", a.Position)
	}
}

func TestRegionPopulate_NoneSpawnInClearanceBand(t *testing.T) {
	e := testEnv(nil)
	r := newRegion(RegionSpec{Name: "A", X: 10, Y: 10, Width: 150, Height: 150, Capacity: 1000}, e)
	r.Populate()

	for _, a := range r.agents {
		if edge := CrossedEdge(r.Bounds, a.Position, a.Radius); edge != EdgeNone {
			t.Fatalf("agent %d spawned at %v inside the %v clearance band", a.ID, a.Position, edge)
		}
	}
}

func TestRegion_DeadAgentsNeverChange(t *testing.T) {
	e := testEnv(func(c *config.Simulation) { c.InfectionProbability = 1 })
	r := newRegion(RegionSpec{Name: "A", X: 0, Y: 0, Width: 100, Height: 100}, e)
	dead := &agents.Agent{ID: 1, Position: orb.Point{50, 50}, Velocity: orb.Point{1, 1}, Radius: 3, Stage: agents.Dead, StageChangedAt: 3}
	infected := &agents.Agent{ID: 2, Position: orb.Point{50, 50}, Velocity: orb.Point{0, 0}, Radius: 3, Stage: agents.Infected, RecoveryDuration: 1000}
	r.add(dead)
	r.add(infected)

	for now := 1.0; now <= 50; now++ {
		r.Update(now, false)
		if dead.Position != (orb.Point{50, 50}) || dead.Velocity != (orb.Point{1, 1}) {
			t.Fatalf("tick %v: dead agent moved: pos %v vel %v", now, dead.Position, dead.Velocity)
		}
		if dead.Stage != agents.Dead || dead.StageChangedAt != 3 {
			t.Fatalf("tick %v: dead agent changed stage: %v at %v", now, dead.Stage, dead.StageChangedAt)
		}
		checkCounters(t, r)
	}
}

func TestRegionTransmit_ForcedInfection(t *testing.T) {
	e := testEnv(func(c *config.Simulation) {
		c.InfectionProbability = 1
		c.RecoveryMin = 10
		c.RecoveryMax = 20
	})
	r := newRegion(RegionSpec{Name: "A", X: 0, Y: 0, Width: 100, Height: 100}, e)
	src := &agents.Agent{ID: 1, Position: orb.Point{40, 40}, Radius: 3, Stage: agents.Infected, RecoveryDuration: 100}
	dst := &agents.Agent{ID: 2, Position: orb.Point{40, 40}, Radius: 3, Stage: agents.Susceptible}
	r.add(src)
	r.add(dst)

	r.transmit(7)

	if dst.Stage != agents.Infected {
		t.Fatalf("stage = %v, want infected", dst.Stage)
	}
	if dst.StageChangedAt != 7 {
		t.Errorf("StageChangedAt = %v, want 7", dst.StageChangedAt)
	}
	if dst.RecoveryDuration < 10 || dst.RecoveryDuration >= 20 {
		t.Errorf("RecoveryDuration = %v, want in [10, 20)", dst.RecoveryDuration)
	}
	if c := r.Counts(); c.Susceptible != 0 || c.Infected != 2 {
		t.Errorf("counts = %+v", c)
	}
}

func TestRegionTransmit_OutOfReach(t *testing.T) {
	e := testEnv(func(c *config.Simulation) { c.InfectionProbability = 1 })
	r := newRegion(RegionSpec{Name: "A", X: 0, Y: 0, Width: 100, Height: 100}, e)
	r.add(&agents.Agent{ID: 1, Position: orb.Point{10, 10}, Radius: 3, Stage: agents.Infected, RecoveryDuration: 100})
	far := &agents.Agent{ID: 2, Position: orb.Point{16.5, 10}, Radius: 3}
	r.add(far)

	r.transmit(1)

	if far.Stage != agents.Susceptible {
		t.Errorf("agent 6.5 away infected with reach 6")
	}
}

func TestRegionTransmit_ZeroProbability(t *testing.T) {
	e := testEnv(func(c *config.Simulation) { c.InfectionProbability = 0 })
	r := newRegion(RegionSpec{Name: "A", X: 0, Y: 0, Width: 100, Height: 100}, e)
	r.add(&agents.Agent{ID: 1, Position: orb.Point{10, 10}, Radius: 3, Stage: agents.Infected, RecoveryDuration: 100})
	near := &agents.Agent{ID: 2, Position: orb.Point{10, 10}, Radius: 3}
	r.add(near)

	r.transmit(1)

	if near.Stage != agents.Susceptible {
		t.Error("agent infected with probability 0")
	}
}

// Stages are read live within one pass: B, infected by A earlier in the
// pass, goes on to infect C, which A cannot reach.
func TestRegionTransmit_LiveUpdatesWithinPass(t *testing.T) {
	e := testEnv(func(c *config.Simulation) { c.InfectionProbability = 1 })
	r := newRegion(RegionSpec{Name: "A", X: 0, Y: 0, Width: 100, Height: 100}, e)
	a := &agents.Agent{ID: 1, Position: orb.Point{10, 50}, Radius: 3, Stage: agents.Infected, RecoveryDuration: 100}
	b := &agents.Agent{ID: 2, Position: orb.Point{15, 50}, Radius: 3}
	c := &agents.Agent{ID: 3, Position: orb.Point{20, 50}, Radius: 3}
	r.add(a)
	r.add(b)
	r.add(c)

	r.transmit(4)

	if b.Stage != agents.Infected || c.Stage != agents.Infected {
		t.Errorf("stages = %v, %v; want both infected", b.Stage, c.Stage)
	}
	checkCounters(t, r)
}

func TestRegionProgress(t *testing.T) {
	tests := []struct {
		name      string
		deathProb float64
		want      agents.DiseaseStage
	}{
		{"always recovers", 0, agents.Recovered},
		{"always dies", 1, agents.Dead},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := testEnv(func(c *config.Simulation) { c.DeathProbability = tt.deathProb })
			r := newRegion(RegionSpec{Name: "A", X: 0, Y: 0, Width: 100, Height: 100}, e)
			a := &agents.Agent{ID: 1, Position: orb.Point{50, 50}, Radius: 3, Stage: agents.Infected, StageChangedAt: 10, RecoveryDuration: 5}
			r.add(a)

			r.progress(14.9)
			if a.Stage != agents.Infected {
				t.Fatalf("resolved early at 14.9: %v", a.Stage)
			}

			r.progress(15)
			if a.Stage != tt.want {
				t.Fatalf("stage = %v, want %v", a.Stage, tt.want)
			}
			if a.StageChangedAt != 15 {
				t.Errorf("StageChangedAt = %v, want 15", a.StageChangedAt)
			}
			if r.Counts().Infected != 0 {
				t.Errorf("infected counter = %d, want 0", r.Counts().Infected)
			}
			checkCounters(t, r)
		})
	}
}

func TestRegion_RecoveryDurationDrawnOnce(t *testing.T) {
	e := testEnv(func(c *config.Simulation) {
		c.InfectionProbability = 1
		c.RecoveryMin = 100
		c.RecoveryMax = 200
	})
	r := newRegion(RegionSpec{Name: "A", X: 0, Y: 0, Width: 100, Height: 100}, e)
	r.add(&agents.Agent{ID: 1, Position: orb.Point{50, 50}, Radius: 3, Stage: agents.Infected, RecoveryDuration: 1000})
	b := &agents.Agent{ID: 2, Position: orb.Point{50, 50}, Radius: 3}
	r.add(b)

	r.Update(1, false)
	if b.Stage != agents.Infected {
		t.Fatalf("stage = %v, want infected", b.Stage)
	}
	drawn := b.RecoveryDuration

	for now := 2.0; now < 100; now++ {
		r.Update(now, false)
		if b.RecoveryDuration != drawn {
			t.Fatalf("tick %v: RecoveryDuration redrawn %v -> %v", now, drawn, b.RecoveryDuration)
		}
		if b.StageChangedAt != 1 {
			t.Fatalf("tick %v: StageChangedAt moved to %v", now, b.StageChangedAt)
		}
	}
}

func TestRegionUpdate_PausedDoesNothing(t *testing.T) {
	e := testEnv(func(c *config.Simulation) { c.InfectionProbability = 1 })
	r := newRegion(RegionSpec{Name: "A", X: 0, Y: 0, Width: 100, Height: 100}, e)
	a := &agents.Agent{ID: 1, Position: orb.Point{50, 50}, Velocity: orb.Point{1, 0}, Radius: 3, Stage: agents.Infected, RecoveryDuration: 1}
	b := &agents.Agent{ID: 2, Position: orb.Point{50, 50}, Radius: 3}
	r.add(a)
	r.add(b)

	r.Update(10, true)

	if a.Position != (orb.Point{50, 50}) || a.Stage != agents.Infected || b.Stage != agents.Susceptible {
		t.Fatalf("paused update changed state: %v %v %v", a.Position, a.Stage, b.Stage)
	}

	// Resuming integrates only from the paused timestamp.
	r.Update(11, false)
	if a.Position.X() != 51 {
		t.Errorf("position x = %v, want 51 after resume", a.Position.X())
	}
}

func TestRegionInfect(t *testing.T) {
	r := newRegion(RegionSpec{Name: "A", X: 10, Y: 10, Width: 100, Height: 100, Capacity: 10}, testEnv(nil))
	r.Populate()

	for _, n := range []int{0, -1, 11} {
		if _, err := r.Infect(n, 0); !errors.Is(err, ErrInvalidInfectCount) {
			t.Errorf("Infect(%d) error = %v, want ErrInvalidInfectCount", n, err)
		}
	}
	if r.Counts().Infected != 0 {
		t.Fatalf("rejected infect changed counters: %+v", r.Counts())
	}

	got, err := r.Infect(3, 2.5)
	if err != nil || got != 3 {
		t.Fatalf("Infect(3) = %d, %v", got, err)
	}
	if c := r.Counts(); c.Infected != 3 || c.Susceptible != 7 {
		t.Errorf("counts = %+v", c)
	}
	r.Each(func(a *agents.Agent) {
		if a.Stage == agents.Infected && (a.StageChangedAt != 2.5 || a.RecoveryDuration == 0) {
			t.Errorf("agent %d infected without timing fields: %+v", a.ID, a)
		}
	})

	// Only susceptible agents are taken.
	got, err = r.Infect(10, 3)
	if err != nil || got != 7 {
		t.Errorf("Infect(10) = %d, %v; want 7 remaining", got, err)
	}
	checkCounters(t, r)
}

func TestRegionPopulate(t *testing.T) {
	r := newRegion(RegionSpec{Name: "A", X: 10, Y: 20, Width: 100, Height: 50, Capacity: 200}, testEnv(nil))
	r.Populate()

	if r.Len() != 200 {
		t.Fatalf("Len() = %d, want 200", r.Len())
	}
	seen := make(map[agents.AgentID]bool)
	r.Each(func(a *agents.Agent) {
		if seen[a.ID] {
			t.Fatalf("duplicate id %d", a.ID)
		}
		seen[a.ID] = true
		if a.Position.X() < 10 || a.Position.X() > 110 || a.Position.Y() < 20 || a.Position.Y() > 70 {
			t.Errorf("agent %d spawned outside bounds at %v", a.ID, a.Position)
		}
		if a.Velocity.X() < -1 || a.Velocity.X() > 1 || a.Velocity.Y() < -1 || a.Velocity.Y() > 1 {
			t.Errorf("agent %d velocity %v out of [-1, 1]", a.ID, a.Velocity)
		}
		if a.HomeRegion != "A" || a.CurrentRegion != "A" || a.ArrivedAt != agents.NotArrived {
			t.Errorf("agent %d region fields: %+v", a.ID, a)
		}
	})
	checkCounters(t, r)
}

func TestRegionRepopulate(t *testing.T) {
	r := newRegion(RegionSpec{Name: "A", X: 10, Y: 10, Width: 100, Height: 100, Capacity: 20}, testEnv(nil))
	r.Populate()
	if _, err := r.Infect(5, 0); err != nil {
		t.Fatal(err)
	}
	old := make(map[agents.AgentID]bool)
	r.Each(func(a *agents.Agent) { old[a.ID] = true })

	r.Repopulate()

	if r.Len() != 20 {
		t.Fatalf("Len() = %d, want 20", r.Len())
	}
	if c := r.Counts(); c.Susceptible != 20 || c.Infected != 0 {
		t.Errorf("counts = %+v, want all susceptible", c)
	}
	r.Each(func(a *agents.Agent) {
		if old[a.ID] {
			t.Errorf("id %d reused after repopulate", a.ID)
		}
	})
	checkCounters(t, r)
}

func TestRegionRemove_KeepsIndexConsistent(t *testing.T) {
	r := newRegion(RegionSpec{Name: "A", X: 10, Y: 10, Width: 100, Height: 100, Capacity: 6}, testEnv(nil))
	r.Populate()
	if _, err := r.Infect(2, 0); err != nil {
		t.Fatal(err)
	}

	if _, ok := r.remove(1); !ok {
		t.Fatal("remove(1) failed")
	}
	if _, ok := r.remove(4); !ok {
		t.Fatal("remove(4) failed")
	}
	if _, ok := r.remove(1); ok {
		t.Error("second remove(1) succeeded")
	}
	if _, ok := r.Get(1); ok {
		t.Error("Get(1) found removed agent")
	}
	if r.Len() != 4 {
		t.Errorf("Len() = %d, want 4", r.Len())
	}
	checkCounters(t, r)
}

func TestRegionSurrounds(t *testing.T) {
	r := newRegion(RegionSpec{Name: "A", X: 10, Y: 10, Width: 100, Height: 100}, testEnv(nil))
	tests := []struct {
		p    orb.Point
		want bool
	}{
		{orb.Point{50, 50}, true},
		{orb.Point{10, 50}, false},
		{orb.Point{110, 50}, false},
		{orb.Point{50, 110}, false},
		{orb.Point{10.001, 109.999}, true},
		{orb.Point{5, 5}, false},
	}
	for _, tt := range tests {
		if got := r.Surrounds(tt.p); got != tt.want {
			t.Errorf("Surrounds(%v) = %v, want %v", tt.p, got, tt.want)
		}
	}
	if c := r.Center(); c != (orb.Point{60, 60}) {
		t.Errorf("Center() = %v, want (60, 60)", c)
	}
}
