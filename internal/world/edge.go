package world

import (
	"github.com/paulmach/orb"
)

// Edge identifies which side of a region's bounds an agent crossed.
// Y grows toward EdgeTop.
type Edge uint8

const (
	EdgeNone Edge = iota
	EdgeLeft
	EdgeRight
	EdgeTop
	EdgeBottom
)

func (e Edge) String() string {
	switch e {
	case EdgeLeft:
		return "left"
	case EdgeRight:
		return "right"
	case EdgeTop:
		return "top"
	case EdgeBottom:
		return "bottom"
	}
	return "none"
}

// edgeOrder is the order in which edges are tested.
var edgeOrder = [...]Edge{EdgeRight, EdgeTop, EdgeLeft, EdgeBottom}

// crosses reports whether p is within r of (or past) edge e of b.
func crosses(b orb.Bound, p orb.Point, r float64, e Edge) bool {
	switch e {
	case EdgeRight:
		return p.X()+r > b.Max.X()
	case EdgeTop:
		return p.Y()+r > b.Max.Y()
	case EdgeLeft:
		return p.X()-r < b.Min.X()
	case EdgeBottom:
		return p.Y()-r < b.Min.Y()
	}
	return false
}

// CrossedEdge tests p against b with clearance r. Edges are checked in the
// order right, top, left, bottom and only the first hit is reported.
func CrossedEdge(b orb.Bound, p orb.Point, r float64) Edge {
	for _, e := range edgeOrder {
		if crosses(b, p, r, e) {
			return e
		}
	}
	return EdgeNone
}

// Outward reports whether v carries a point out of a region through e.
// A zero normal component is not outward.
func (e Edge) Outward(v orb.Point) bool {
	switch e {
	case EdgeRight:
		return v.X() > 0
	case EdgeLeft:
		return v.X() < 0
	case EdgeTop:
		return v.Y() > 0
	case EdgeBottom:
		return v.Y() < 0
	}
	return false
}

// escapingEdge is CrossedEdge restricted to edges v moves out through.
// An agent inside the clearance band that is already heading back in is
// left alone, so it never flips back and forth across the band.
func escapingEdge(b orb.Bound, p, v orb.Point, r float64) Edge {
	for _, e := range edgeOrder {
		if crosses(b, p, r, e) && e.Outward(v) {
			return e
		}
	}
	return EdgeNone
}

// Reflect negates the velocity component normal to e.
func Reflect(v orb.Point, e Edge) orb.Point {
	switch e {
	case EdgeLeft, EdgeRight:
		return orb.Point{-v.X(), v.Y()}
	case EdgeTop, EdgeBottom:
		return orb.Point{v.X(), -v.Y()}
	}
	return v
}

// advance returns p moved along v for dt.
func advance(p, v orb.Point, dt float64) orb.Point {
	return orb.Point{p.X() + v.X()*dt, p.Y() + v.Y()*dt}
}

// surrounds reports whether p lies strictly inside b. Points on an edge are
// outside.
func surrounds(b orb.Bound, p orb.Point) bool {
	return p.X() > b.Min.X() && p.X() < b.Max.X() &&
		p.Y() > b.Min.Y() && p.Y() < b.Max.Y()
}

// overlaps reports whether a and b share positive area. Rectangles that only
// touch along an edge do not overlap.
func overlaps(a, b orb.Bound) bool {
	return a.Min.X() < b.Max.X() && b.Min.X() < a.Max.X() &&
		a.Min.Y() < b.Max.Y() && b.Min.Y() < a.Max.Y()
}
