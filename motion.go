package ccd

import "github.com/setanarut/vec"

// NonlinearRigidMotion is a time-parameterized rigid transform: a screw
// motion with constant linear velocity and constant angular velocity about
// the moving body's center of mass, starting from Start at t = 0.
//
// The zero value is the identity motion (a body pinned at the origin).
type NonlinearRigidMotion struct {
	// Start is the pose at t = 0.
	Start Pose
	// LocalCenter is the center of rotation in the frame of Start.
	LocalCenter vec.Vec2
	// LinVel is the linear velocity of the center of rotation.
	LinVel vec.Vec2
	// AngVel is the angular velocity in radians per unit time.
	AngVel float64
}

// NewNonlinearRigidMotion returns the screw motion of a body at start with
// the given center of mass and velocities.
func NewNonlinearRigidMotion(start Pose, localCenter vec.Vec2, linvel vec.Vec2, angvel float64) NonlinearRigidMotion {
	return NonlinearRigidMotion{
		Start:       start,
		LocalCenter: localCenter,
		LinVel:      linvel,
		AngVel:      angvel,
	}
}

// NewConstantMotion returns a degenerate motion pinned at pose for all time.
func NewConstantMotion(pose Pose) NonlinearRigidMotion {
	return NonlinearRigidMotion{Start: pose}
}

// PositionAt returns the pose at time t: the start pose rotated by
// AngVel*t about the world-space center of mass, translated by LinVel*t.
func (m NonlinearRigidMotion) PositionAt(t float64) Pose {
	com := m.Start.Apply(m.LocalCenter)
	spin := vec.ForAngle(m.AngVel * t)
	return Pose{
		Position: m.LinVel.Scale(t).Add(com).Add(spin.RotateComplex(m.Start.Position.Sub(com))),
		Angle:    m.Start.Angle + m.AngVel*t,
	}
}

// Freeze clamps the trajectory to a single pose: the pose the motion reaches
// at time t. Used when one side of a pair has already been advanced to t by
// a prior substep.
func (m *NonlinearRigidMotion) Freeze(t float64) {
	m.Start = m.PositionAt(t)
	m.LinVel = vec.Vec2{}
	m.AngVel = 0
}

// Prepend composes the motion with a fixed pose in the moving frame, so the
// result tracks a point rigidly attached to the body (a collider at pose
// relative to the body frame).
func (m NonlinearRigidMotion) Prepend(pose Pose) NonlinearRigidMotion {
	m.Start = m.Start.Mult(pose)
	m.LocalCenter = pose.Inverse().Apply(m.LocalCenter)
	return m
}
