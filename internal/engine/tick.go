// Package engine provides the frame loop and the Simulation facade that ties
// the world, the migration controller and the clock together.
package engine

import (
	"context"
	"log/slog"
	"time"
)

// Engine drives the simulation forward at a fixed frame interval.
type Engine struct {
	Frame        uint64        // Frames run so far (monotonic)
	Interval     time.Duration // Wall time between frames
	SaveInterval time.Duration // Wall time between OnSave calls; 0 disables

	// Callbacks populated during setup.
	OnTick func(wall time.Time) // Every frame
	OnSave func()               // Every SaveInterval, and once on shutdown
}

// NewEngine creates an engine running at the given frame interval.
func NewEngine(interval time.Duration) *Engine {
	if interval <= 0 {
		interval = 16 * time.Millisecond
	}
	return &Engine{Interval: interval}
}

// Run starts the frame loop. Blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	slog.Info("simulation engine started", "interval", e.Interval, "save_interval", e.SaveInterval)

	frames := time.NewTicker(e.Interval)
	defer frames.Stop()

	var saves <-chan time.Time
	if e.SaveInterval > 0 && e.OnSave != nil {
		t := time.NewTicker(e.SaveInterval)
		defer t.Stop()
		saves = t.C
	}

	for {
		select {
		case <-ctx.Done():
			if e.OnSave != nil {
				e.OnSave()
			}
			slog.Info("simulation engine stopped", "frames", e.Frame)
			return
		case wall := <-frames.C:
			e.step(wall)
		case <-saves:
			e.OnSave()
		}
	}
}

// step runs one frame.
func (e *Engine) step(wall time.Time) {
	e.Frame++
	if e.OnTick != nil {
		e.OnTick(wall)
	}
}
