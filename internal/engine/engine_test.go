package engine

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/talgya/cagesim/internal/config"
	"github.com/talgya/cagesim/internal/logging"
	"github.com/talgya/cagesim/internal/world"
)

func TestClockAdvance(t *testing.T) {
	c := NewClock(2, 10)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	if got := c.Advance(base); got != 0 {
		t.Fatalf("first Advance() = %v, want 0", got)
	}
	if got := c.Advance(base.Add(1500 * time.Millisecond)); got != 3 {
		t.Errorf("Advance(+1.5s) at speed 2 = %v, want 3", got)
	}

	c.SetSpeed(0)
	if !c.Paused() {
		t.Error("Paused() = false at speed 0")
	}
	if got := c.Advance(base.Add(10 * time.Second)); got != 3 {
		t.Errorf("paused Advance() = %v, want 3", got)
	}

	// Resuming does not catch up on the paused wall time.
	c.SetSpeed(1)
	if got := c.Advance(base.Add(11 * time.Second)); got != 4 {
		t.Errorf("resumed Advance() = %v, want 4", got)
	}

	// Wall time going backwards adds nothing.
	if got := c.Advance(base.Add(5 * time.Second)); got != 4 {
		t.Errorf("Advance(backwards) = %v, want 4", got)
	}

	c.Reset()
	if c.Now() != 0 {
		t.Errorf("Now() after Reset = %v", c.Now())
	}
}

func TestClockSetSpeedClamps(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{-1, 0},
		{0, 0},
		{3.5, 3.5},
		{100, 100},
		{250, 100},
	}
	c := NewClock(1, 100)
	for _, tt := range tests {
		if got := c.SetSpeed(tt.in); got != tt.want || c.Speed() != tt.want {
			t.Errorf("SetSpeed(%v) = %v (Speed %v), want %v", tt.in, got, c.Speed(), tt.want)
		}
	}
}

func TestSimTime(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0:00:00.0"},
		{61.25, "0:01:01.2"},
		{3725.5, "1:02:05.5"},
		{-4, "0:00:00.0"},
	}
	for _, tt := range tests {
		if got := SimTime(tt.in); got != tt.want {
			t.Errorf("SimTime(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func testTopology() world.Topology {
	return world.Topology{
		Regions: []world.RegionSpec{
			{Name: "A", X: 10, Y: 10, Width: 200, Height: 200, Capacity: 30},
			{Name: "B", X: 300, Y: 10, Width: 200, Height: 200, Capacity: 20},
		},
		Flows: []world.Flow{{Source: "A", Destination: "B", Amount: 5}},
	}
}

func newTestSimulation(t *testing.T) *Simulation {
	t.Helper()
	cfg := config.DefaultSimulation()
	cfg.Seed = 99
	s := NewSimulation(cfg)
	if err := s.ReplaceTopology(testTopology()); err != nil {
		t.Fatalf("ReplaceTopology() error = %v", err)
	}
	return s
}

func TestSimulation_ReplaceTopology(t *testing.T) {
	s := newTestSimulation(t)

	st := s.Status()
	if st.Regions != 2 || st.Flows != 1 || st.Migrants != 5 || st.Totals.Total() != 50 {
		t.Errorf("Status() = %+v", st)
	}
	if st.Seed != 99 || st.Generation != 1 {
		t.Errorf("seed %d generation %d", st.Seed, st.Generation)
	}

	topo := s.Topology()
	if len(topo.Regions) != 2 || topo.Regions[0] != testTopology().Regions[0] || topo.Flows[0] != testTopology().Flows[0] {
		t.Errorf("Topology() = %+v", topo)
	}

	// A rejected topology leaves the current world in place.
	bad := testTopology()
	bad.Flows = append(bad.Flows, world.Flow{Source: "A", Destination: "missing", Amount: 1})
	if err := s.ReplaceTopology(bad); !errors.Is(err, world.ErrUnknownRegion) {
		t.Fatalf("ReplaceTopology(bad) error = %v", err)
	}
	if st := s.Status(); st.Generation != 1 || st.Totals.Total() != 50 {
		t.Errorf("failed replace changed state: generation %d, total %d", st.Generation, st.Totals.Total())
	}

	// IDs keep increasing across replacements.
	maxID := s.Agents()[len(s.Agents())-1].ID
	if err := s.ReplaceTopology(testTopology()); err != nil {
		t.Fatal(err)
	}
	for _, a := range s.Agents() {
		if a.ID <= maxID {
			t.Fatalf("agent ID %d reused after replacement", a.ID)
		}
	}
}

func TestSimulation_PausedTickIsInert(t *testing.T) {
	s := newTestSimulation(t)
	if _, err := s.Infect("A", 5, 0); err != nil {
		t.Fatal(err)
	}
	s.SetSpeed(0)

	before := s.Agents()
	for i := 1; i <= 20; i++ {
		s.Tick(float64(i))
	}
	after := s.Agents()
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("agent %d changed while paused: %+v -> %+v", before[i].ID, before[i], after[i])
		}
	}
	if n := len(s.History()); n != 0 {
		t.Errorf("paused ticks produced %d samples", n)
	}

	s.SetSpeed(1)
	s.Tick(21)
	if n := len(s.History()); n != 1 {
		t.Errorf("resumed tick produced %d samples, want 1", n)
	}
	// The resumed tick integrates one second, not 21.
	for i, a := range s.Agents() {
		p := before[i].Position
		dx, dy := a.Position.X()-p.X(), a.Position.Y()-p.Y()
		if dx*dx+dy*dy > 2.0001 {
			t.Errorf("agent %d jumped (%g, %g) on resume", a.ID, dx, dy)
		}
	}
}

func TestSimulation_CountsAndErrors(t *testing.T) {
	s := newTestSimulation(t)

	c, err := s.Counts("B")
	if err != nil {
		t.Fatal(err)
	}
	if c.Susceptible != 20 {
		t.Errorf("Counts(B) = %+v", c)
	}
	if _, err := s.Counts("nope"); !errors.Is(err, world.ErrUnknownRegion) {
		t.Errorf("Counts(nope) error = %v", err)
	}
	if _, err := s.Infect("A", 31, 0); !errors.Is(err, world.ErrInvalidInfectCount) {
		t.Errorf("Infect over capacity error = %v", err)
	}
	if err := s.CreateRegion(world.RegionSpec{Name: "C", X: 100, Y: 100, Width: 50, Height: 50}); !errors.Is(err, world.ErrOverlap) {
		t.Errorf("overlapping CreateRegion error = %v", err)
	}
	if err := s.CreateRegion(world.RegionSpec{Name: "C", X: 600, Y: 10, Width: 50, Height: 50, Capacity: 4}); err != nil {
		t.Fatal(err)
	}
	if err := s.Populate("C"); err != nil {
		t.Fatal(err)
	}
	if n, err := s.InfectNow("C", 4); err != nil || n != 4 {
		t.Errorf("InfectNow() = %d, %v", n, err)
	}
	if len(s.Regions()) != 3 {
		t.Errorf("len(Regions()) = %d", len(s.Regions()))
	}
}

func TestSimulation_SamplingLatch(t *testing.T) {
	s := newTestSimulation(t)
	s.SetSampling(false)
	s.Tick(1)
	s.SetSampling(true)
	s.Tick(2)
	s.Tick(3)

	samples, next, gen := s.HistorySince(0)
	if len(samples) != 2 || next != 2 || gen != 1 {
		t.Errorf("HistorySince(0) = %d samples, next %d, gen %d", len(samples), next, gen)
	}
	for _, smp := range samples {
		if smp.Total() != 50 {
			t.Errorf("sample %+v does not cover every agent", smp)
		}
	}
}

func TestSimulation_RecordingSince(t *testing.T) {
	s := newTestSimulation(t)
	s.Tick(1)
	s.Tick(2)
	s.Tick(3)

	rec := s.RecordingSince(1, 1)
	if rec.Generation != 1 || len(rec.Samples) != 2 || rec.Next != 3 {
		t.Fatalf("RecordingSince(1, 1) = gen %d, %d samples, next %d", rec.Generation, len(rec.Samples), rec.Next)
	}
	if len(rec.Topology.Regions) != 2 || len(rec.Topology.Flows) != 1 {
		t.Errorf("RecordingSince topology = %+v", rec.Topology)
	}

	// After a replacement a stale cursor reads the new history from the start.
	if err := s.ReplaceTopology(world.Topology{Regions: testTopology().Regions[:1]}); err != nil {
		t.Fatalf("ReplaceTopology() error = %v", err)
	}
	s.Tick(1)
	rec = s.RecordingSince(3, 1)
	if rec.Generation != 2 || len(rec.Samples) != 1 || rec.Next != 1 {
		t.Errorf("stale RecordingSince = gen %d, %d samples, next %d", rec.Generation, len(rec.Samples), rec.Next)
	}
	if len(rec.Topology.Regions) != 1 || rec.Samples[0].Total() != 30 {
		t.Errorf("recording mixes generations: %d regions, sample total %d",
			len(rec.Topology.Regions), rec.Samples[0].Total())
	}
}

func TestSimulation_TickTrace(t *testing.T) {
	s := newTestSimulation(t)
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	slog.SetDefault(logging.NewLogger("info", &buf))
	s.Tick(1)
	if strings.Contains(buf.String(), "msg=tick") {
		t.Errorf("tick traced at info level: %s", buf.String())
	}

	slog.SetDefault(logging.NewLogger("trace", &buf))
	s.Tick(2)
	out := buf.String()
	if !strings.Contains(out, "level=TRACE msg=tick now=2") || !strings.Contains(out, "susceptible=50") {
		t.Errorf("tick trace = %s", out)
	}
}

func TestEngineRunDrivesSimulation(t *testing.T) {
	s := newTestSimulation(t)
	s.SetSpeed(10)

	e := NewEngine(time.Millisecond)
	e.SaveInterval = 5 * time.Millisecond

	var (
		mu    sync.Mutex
		saves int
	)
	e.OnTick = func(wall time.Time) { s.Advance(wall) }
	e.OnSave = func() {
		mu.Lock()
		saves++
		mu.Unlock()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	// Concurrent readers share the simulation with the loop.
	for i := 0; i < 20; i++ {
		_ = s.Agents()
		_ = s.Status()
		time.Sleep(time.Millisecond)
	}
	<-done

	if e.Frame == 0 {
		t.Fatal("engine ran no frames")
	}
	if s.Now() <= 0 {
		t.Errorf("sim time did not advance: %v", s.Now())
	}
	mu.Lock()
	defer mu.Unlock()
	if saves == 0 {
		t.Error("OnSave never called")
	}
}
