package ccd

import (
	"fmt"

	"github.com/setanarut/vec"
)

// BodyHandle is an opaque stable identifier for a rigid body in a BodySet.
// The zero value is never a live handle.
type BodyHandle struct {
	index, generation uint32
}

// IsValid reports whether the handle was produced by a BodySet.
func (h BodyHandle) IsValid() bool {
	return h.generation != 0
}

func (h BodyHandle) String() string {
	return fmt.Sprintf("body %d.%d", h.index, h.generation)
}

// Body is the rigid-body state the collision pipeline reads: the current and
// committed next pose, velocities, mass properties, and the CCD tuning that
// bounds how far the body can sweep within a step.
type Body struct {
	position        Pose
	nextPosition    Pose
	velocity        vec.Vec2
	w               float64 // Angular velocity
	force           vec.Vec2
	torque          float64
	mass            float64
	massInverse     float64
	moment          float64
	momentInverse   float64
	centerOfGravity vec.Vec2 // Local center of gravity

	ccdEnabled bool
	ccdActive  bool
	// ccdMaxDist bounds how far any point of the body's shapes can travel
	// under one radian of rotation: the largest distance from the center of
	// gravity to a shape point.
	ccdMaxDist float64
	// softCcdPrediction is an opt-in margin for early pair discovery
	// without full CCD. Zero disables it.
	softCcdPrediction float64
}

// NewBody initializes a rigid body with the given mass and moment of inertia.
// A zero mass or moment marks that degree of freedom as infinite (static or
// kinematic behavior).
func NewBody(mass, moment float64) Body {
	body := Body{mass: mass, moment: moment}
	if mass > 0 {
		body.massInverse = 1 / mass
	}
	if moment > 0 {
		body.momentInverse = 1 / moment
	}
	return body
}

// Position returns the body's current pose.
func (body *Body) Position() Pose { return body.position }

// SetPosition sets the body's current pose and resets the committed next
// pose to match.
func (body *Body) SetPosition(position Pose) {
	body.position = position
	body.nextPosition = position
}

// NextPosition returns the pose the integrator committed for the end of the
// current step.
func (body *Body) NextPosition() Pose { return body.nextPosition }

// SetNextPosition sets the committed end-of-step pose.
func (body *Body) SetNextPosition(position Pose) {
	body.nextPosition = position
}

// Velocity returns the linear velocity of the body.
func (body *Body) Velocity() vec.Vec2 { return body.velocity }

// SetVelocity sets the linear velocity of the body.
func (body *Body) SetVelocity(velocity vec.Vec2) {
	body.velocity = velocity
}

// AngularVelocity returns the angular velocity of the body in radians per
// unit time.
func (body *Body) AngularVelocity() float64 { return body.w }

// SetAngularVelocity sets the angular velocity of the body.
func (body *Body) SetAngularVelocity(w float64) {
	body.w = w
}

// Force returns the force accumulated on the body for this step.
func (body *Body) Force() vec.Vec2 { return body.force }

// SetForce sets the force applied to the body this step.
func (body *Body) SetForce(force vec.Vec2) {
	body.force = force
}

// Torque returns the torque accumulated on the body for this step.
func (body *Body) Torque() float64 { return body.torque }

// SetTorque sets the torque applied to the body this step.
func (body *Body) SetTorque(torque float64) {
	body.torque = torque
}

// Mass returns the mass of the body.
func (body *Body) Mass() float64 { return body.mass }

// Moment returns the moment of inertia of the body.
func (body *Body) Moment() float64 { return body.moment }

// CenterOfGravity returns the center of gravity in the body's local frame.
func (body *Body) CenterOfGravity() vec.Vec2 { return body.centerOfGravity }

// SetCenterOfGravity sets the local center of gravity.
func (body *Body) SetCenterOfGravity(cog vec.Vec2) {
	body.centerOfGravity = cog
}

// IsCcdEnabled reports whether continuous collision detection is enabled
// for this body.
func (body *Body) IsCcdEnabled() bool { return body.ccdEnabled }

// SetCcdEnabled opts the body in or out of continuous collision detection.
func (body *Body) SetCcdEnabled(enabled bool) {
	body.ccdEnabled = enabled
	if !enabled {
		body.ccdActive = false
	}
}

// IsCcdActive reports whether the body's motion is being tracked
// continuously during the current step. Inactive bodies are treated as
// teleporting directly to their committed next pose.
func (body *Body) IsCcdActive() bool { return body.ccdActive }

// SetCcdActive marks the body for continuous tracking during this step.
// Set by the substep scheduler for bodies moving fast enough to tunnel.
func (body *Body) SetCcdActive(active bool) {
	body.ccdActive = active && body.ccdEnabled
}

// CcdMaxDist returns the body's maximum CCD sweep radius.
func (body *Body) CcdMaxDist() float64 { return body.ccdMaxDist }

// SetCcdMaxDist sets the maximum CCD sweep radius: the largest distance from
// the center of gravity to any point of the body's shapes.
func (body *Body) SetCcdMaxDist(dist float64) {
	body.ccdMaxDist = dist
}

// SoftCcdPrediction returns the soft CCD prediction distance.
func (body *Body) SoftCcdPrediction() float64 { return body.softCcdPrediction }

// SetSoftCcdPrediction sets the soft CCD prediction distance. A positive
// value makes the broad phase grow this body's collider bounds toward its
// predicted pose so pairs are discovered before the bodies actually touch.
func (body *Body) SetSoftCcdPrediction(dist float64) {
	body.softCcdPrediction = dist
}

// PredictPositionUsingVelocityAndForces integrates the body's velocity and
// accumulated forces over dt and returns the resulting pose. The linear
// displacement is clamped to maxDist.
func (body *Body) PredictPositionUsingVelocityAndForces(dt, maxDist float64) Pose {
	linvel := body.velocity.Add(body.force.Scale(body.massInverse * dt))
	angvel := body.w + body.torque*body.momentInverse*dt

	dpos := linvel.Scale(dt)
	if d := dpos.Mag(); d > maxDist {
		dpos = dpos.Scale(maxDist / d)
	}

	com := body.position.Apply(body.centerOfGravity)
	angle := body.position.Angle + angvel*dt
	newCom := com.Add(dpos)
	return Pose{
		Position: newCom.Sub(vec.ForAngle(angle).RotateComplex(body.centerOfGravity)),
		Angle:    angle,
	}
}

// BodySet is a handle-indexed store of rigid bodies.
type BodySet struct {
	bodies arena[Body]
}

func NewBodySet() *BodySet {
	return &BodySet{}
}

// Insert adds a body and returns its handle.
func (set *BodySet) Insert(body Body) BodyHandle {
	index, generation := set.bodies.insert(body)
	return BodyHandle{index, generation}
}

// Remove deletes the body, invalidating its handle. Colliders still
// referring to it behave as if they had no parent.
func (set *BodySet) Remove(handle BodyHandle) bool {
	_, ok := set.bodies.remove(handle.index, handle.generation)
	return ok
}

// Get returns the body for handle, or nil if it was removed.
func (set *BodySet) Get(handle BodyHandle) *Body {
	return set.bodies.get(handle.index, handle.generation)
}

// Count returns the number of live bodies.
func (set *BodySet) Count() int {
	return set.bodies.len()
}
