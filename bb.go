package ccd

import (
	"fmt"
	"math"

	"github.com/setanarut/vec"
)

// BB is an axis-aligned 2D bounding box. (left, bottom, right, top)
type BB struct {
	L, B, R, T float64
}

// NewBB is convenience constructor for BB structs.
func NewBB(l, b, r, t float64) BB {
	return BB{
		L: l,
		B: b,
		R: r,
		T: t,
	}
}

func (bb BB) String() string {
	return fmt.Sprintf("%v %v %v %v", bb.L, bb.B, bb.R, bb.T)
}

// NewBBForExtents constructs a BB centered on a point with the given extents (half sizes).
func NewBBForExtents(c vec.Vec2, hw, hh float64) BB {
	return BB{
		L: c.X - hw,
		B: c.Y - hh,
		R: c.X + hw,
		T: c.Y + hh,
	}
}

// NewBBForCircle constructs a BB for a circle with the given position and radius.
func NewBBForCircle(p vec.Vec2, r float64) BB {
	return NewBBForExtents(p, r, r)
}

// Intersects returns true if bb and other intersect. The test is on closed
// intervals, so boxes sharing only an edge still intersect.
func (bb BB) Intersects(other BB) bool {
	return bb.L <= other.R && other.L <= bb.R && bb.B <= other.T && other.B <= bb.T
}

// Contains returns true if other lies completely within bb.
func (bb BB) Contains(other BB) bool {
	return bb.L <= other.L && bb.R >= other.R && bb.B <= other.B && bb.T >= other.T
}

// ContainsVect returns true if bb contains the point p.
func (bb BB) ContainsVect(p vec.Vec2) bool {
	return bb.L <= p.X && bb.R >= p.X && bb.B <= p.Y && bb.T >= p.Y
}

// Merge returns a bounding box that holds both bounding boxes.
func (bb BB) Merge(other BB) BB {
	return BB{
		L: math.Min(bb.L, other.L),
		B: math.Min(bb.B, other.B),
		R: math.Max(bb.R, other.R),
		T: math.Max(bb.T, other.T),
	}
}

// Loosened returns a copy of bb grown by the margin d on every side.
func (bb BB) Loosened(d float64) BB {
	return BB{
		L: bb.L - d,
		B: bb.B - d,
		R: bb.R + d,
		T: bb.T + d,
	}
}

// Center returns the center of bb.
func (bb BB) Center() vec.Vec2 {
	return vec.Vec2{X: bb.L, Y: bb.B}.Lerp(vec.Vec2{X: bb.R, Y: bb.T}, 0.5)
}

// Area returns the area of bb.
func (bb BB) Area() float64 {
	return (bb.R - bb.L) * (bb.T - bb.B)
}
