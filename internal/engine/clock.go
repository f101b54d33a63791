package engine

import (
	"fmt"
	"time"
)

// Clock turns wall-clock deltas into scaled simulation time.
// Speed 0 pauses the clock; sim time then holds still while wall time keeps
// being tracked, so resuming never produces a catch-up jump.
type Clock struct {
	speed    float64
	maxSpeed float64
	now      float64   // Sim seconds
	lastWall time.Time // Zero until the first Advance
}

// NewClock creates a clock at sim time 0 with the given initial speed.
func NewClock(speed, maxSpeed float64) *Clock {
	c := &Clock{maxSpeed: maxSpeed}
	c.SetSpeed(speed)
	return c
}

// Speed returns the current multiplier.
func (c *Clock) Speed() float64 {
	return c.speed
}

// SetSpeed sets the multiplier, clamped to [0, maxSpeed], and returns the
// value actually applied.
func (c *Clock) SetSpeed(v float64) float64 {
	switch {
	case v < 0:
		v = 0
	case v > c.maxSpeed:
		v = c.maxSpeed
	}
	c.speed = v
	return v
}

// Paused reports whether the speed is zero.
func (c *Clock) Paused() bool {
	return c.speed == 0
}

// Now returns the current sim time.
func (c *Clock) Now() float64 {
	return c.now
}

// Advance moves the clock to wall time and returns the new sim time. The
// first call only anchors the wall clock. Wall time running backwards is
// treated as no elapsed time.
func (c *Clock) Advance(wall time.Time) float64 {
	if !c.lastWall.IsZero() {
		if dt := wall.Sub(c.lastWall).Seconds(); dt > 0 {
			c.now += dt * c.speed
		}
	}
	c.lastWall = wall
	return c.now
}

// Reset returns the clock to sim time 0 and forgets the wall anchor.
func (c *Clock) Reset() {
	c.now = 0
	c.lastWall = time.Time{}
}

// SimTime formats sim seconds as a human-readable clock string.
func SimTime(t float64) string {
	if t < 0 {
		t = 0
	}
	whole := int64(t)
	tenths := int64((t - float64(whole)) * 10)
	hours := whole / 3600
	minutes := whole / 60 % 60
	seconds := whole % 60
	return fmt.Sprintf("%d:%02d:%02d.%d", hours, minutes, seconds, tenths)
}
