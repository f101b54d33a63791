package main

import (
	"fmt"

	"github.com/talgya/cagesim/internal/engine"
	"github.com/talgya/cagesim/internal/persistence"
)

// recorder archives a simulation's samples incrementally. A replaced
// topology starts a new run.
type recorder struct {
	db       *persistence.DB
	sim      *engine.Simulation
	snapshot string // Config YAML stored with each run

	runID   string
	gen     uint64
	next    int
	started bool
}

func newRecorder(db *persistence.DB, sim *engine.Simulation, snapshot string) *recorder {
	return &recorder{db: db, sim: sim, snapshot: snapshot}
}

// RunID returns the run currently being recorded.
func (r *recorder) RunID() string {
	return r.runID
}

// Flush saves every sample recorded since the previous flush.
func (r *recorder) Flush() error {
	rec := r.sim.RecordingSince(r.next, r.gen)
	if !r.started || rec.Generation != r.gen {
		id, err := r.db.CreateRun(rec.Topology, r.sim.Seed(), r.snapshot)
		if err != nil {
			return fmt.Errorf("create run: %w", err)
		}
		r.runID, r.gen, r.started = id, rec.Generation, true
	}
	if err := r.db.SaveSamples(r.runID, rec.Samples); err != nil {
		return fmt.Errorf("save samples: %w", err)
	}
	r.next = rec.Next
	return nil
}
