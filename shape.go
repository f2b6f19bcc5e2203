package ccd

import "math"

// Shape is the geometric capability the collision pipeline needs from a
// collider: a world-space bounding box at a pose, and a thickness used to
// bound how much relative travel is needed before an impact is possible.
//
// Exact shape-pair queries (distance, time of impact) are not part of this
// interface; they belong to the QueryDispatcher supplied by the caller.
type Shape interface {
	// ComputeBB returns the bounding box of the shape placed at pose,
	// grown by margin on every side.
	ComputeBB(pose Pose, margin float64) BB

	// CCDThickness returns the intrinsic thickness of the shape for
	// continuous collision detection. Two shapes cannot pass through each
	// other without their relative travel covering at least the sum of
	// their thicknesses.
	CCDThickness() float64
}

// Circle is a circle centered on its pose.
type Circle struct {
	Radius float64
}

func (c Circle) ComputeBB(pose Pose, margin float64) BB {
	return NewBBForCircle(pose.Position, c.Radius+margin)
}

func (c Circle) CCDThickness() float64 {
	return c.Radius
}

// Box is a rectangle centered on its pose, with the given half extents.
type Box struct {
	HalfWidth, HalfHeight float64
}

func (b Box) ComputeBB(pose Pose, margin float64) BB {
	cos := math.Abs(math.Cos(pose.Angle))
	sin := math.Abs(math.Sin(pose.Angle))
	hw := cos*b.HalfWidth + sin*b.HalfHeight
	hh := sin*b.HalfWidth + cos*b.HalfHeight
	return NewBBForExtents(pose.Position, hw+margin, hh+margin)
}

func (b Box) CCDThickness() float64 {
	return math.Min(b.HalfWidth, b.HalfHeight)
}
