package ccd

import (
	"fmt"

	"github.com/setanarut/vec"
)

// Pose is a rigid 2D transform: a rotation by Angle (radians) followed by a
// translation to Position. Unlike a general affine matrix it cannot scale or
// shear, which keeps composition and inversion exact for rigid motion.
//
// The zero value is the identity pose.
type Pose struct {
	Position vec.Vec2
	Angle    float64
}

// NewPose returns a pose with the given translation and rotation.
func NewPose(position vec.Vec2, angle float64) Pose {
	return Pose{Position: position, Angle: angle}
}

func (p Pose) String() string {
	return fmt.Sprintf("pos %v angle %v", p.Position, p.Angle)
}

// Apply transforms the point pt from the local frame of p to world space.
func (p Pose) Apply(pt vec.Vec2) vec.Vec2 {
	return p.Position.Add(vec.ForAngle(p.Angle).RotateComplex(pt))
}

// ApplyVector rotates the vector d without translating it.
func (p Pose) ApplyVector(d vec.Vec2) vec.Vec2 {
	return vec.ForAngle(p.Angle).RotateComplex(d)
}

// Mult composes two poses: the result maps a point through other, then
// through p.
func (p Pose) Mult(other Pose) Pose {
	return Pose{
		Position: p.Apply(other.Position),
		Angle:    p.Angle + other.Angle,
	}
}

// Inverse returns the pose that undoes p.
func (p Pose) Inverse() Pose {
	return Pose{
		Position: vec.ForAngle(-p.Angle).RotateComplex(p.Position.Neg()),
		Angle:    -p.Angle,
	}
}
