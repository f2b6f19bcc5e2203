package ccd

import "fmt"

// ColliderHandle is an opaque stable identifier for a collider in a
// ColliderSet. The zero value is never a live handle, and a handle is never
// reused while its collider is alive.
type ColliderHandle struct {
	index, generation uint32
}

// IsValid reports whether the handle was produced by a ColliderSet. It does
// not check liveness; a removed collider's handle stays valid-looking but
// resolves to nil.
func (h ColliderHandle) IsValid() bool {
	return h.generation != 0
}

func (h ColliderHandle) String() string {
	return fmt.Sprintf("collider %d.%d", h.index, h.generation)
}

// ColliderChanges tracks which parts of a collider changed since the broad
// phase last saw it.
type ColliderChanges uint32

const (
	ColliderChangedPosition ColliderChanges = 1 << iota
	ColliderChangedShape
	ColliderChangedEnabled
)

// NeedsBroadPhaseUpdate reports whether the change set requires the broad
// phase to refresh the collider's bounds.
func (c ColliderChanges) NeedsBroadPhaseUpdate() bool {
	return c&(ColliderChangedPosition|ColliderChangedShape|ColliderChangedEnabled) != 0
}

// ColliderParent attaches a collider to an owning rigid body with a fixed
// pose relative to the body frame.
type ColliderParent struct {
	Handle       BodyHandle
	PosWrtParent Pose
}

// Collider is a shape placed in the world, optionally attached to a rigid
// body. Colliders are value objects stored in a ColliderSet and referenced
// by handle everywhere else.
type Collider struct {
	shape       Shape
	position    Pose
	parent      *ColliderParent
	sensor      bool
	enabled     bool
	contactSkin float64
	changes     ColliderChanges
}

// NewCollider returns an enabled collider with the given shape placed at
// pose. The fresh change set forces a broad-phase refresh on the next update.
func NewCollider(shape Shape, position Pose) Collider {
	return Collider{
		shape:    shape,
		position: position,
		enabled:  true,
		changes:  ColliderChangedPosition | ColliderChangedShape,
	}
}

func (c *Collider) Shape() Shape { return c.shape }

func (c *Collider) SetShape(shape Shape) {
	c.shape = shape
	c.changes |= ColliderChangedShape
}

// Position returns the collider's world pose. For a collider with a parent
// body this is the body pose composed with the collider's relative pose, as
// of the last SetPosition.
func (c *Collider) Position() Pose { return c.position }

func (c *Collider) SetPosition(position Pose) {
	c.position = position
	c.changes |= ColliderChangedPosition
}

// Parent returns the owning body relation, or nil for a free collider.
func (c *Collider) Parent() *ColliderParent { return c.parent }

func (c *Collider) IsSensor() bool { return c.sensor }

// SetSensor marks the collider as a non-physical trigger. Sensors detect
// overlap but never produce a contact response.
func (c *Collider) SetSensor(sensor bool) { c.sensor = sensor }

func (c *Collider) IsEnabled() bool { return c.enabled }

func (c *Collider) SetEnabled(enabled bool) {
	if c.enabled != enabled {
		c.enabled = enabled
		c.changes |= ColliderChangedEnabled
	}
}

func (c *Collider) ContactSkin() float64 { return c.contactSkin }

// SetContactSkin sets the buffer distance kept around the shape for early
// contact detection.
func (c *Collider) SetContactSkin(skin float64) {
	c.contactSkin = skin
	c.changes |= ColliderChangedShape
}

// Changes returns the pending change set.
func (c *Collider) Changes() ColliderChanges { return c.changes }

// ClearChanges resets the pending change set. Called by the step loop after
// all consumers of the modified-collider list have run.
func (c *Collider) ClearChanges() { c.changes = 0 }

// ComputeCollisionBB returns the collider's bounding box at its current
// pose, grown by its contact skin plus the given prediction margin.
func (c *Collider) ComputeCollisionBB(prediction float64) BB {
	return c.shape.ComputeBB(c.position, c.contactSkin+prediction)
}

// ColliderSet is a handle-indexed store of colliders.
type ColliderSet struct {
	colliders arena[Collider]
}

func NewColliderSet() *ColliderSet {
	return &ColliderSet{}
}

// Insert adds a free collider and returns its handle.
func (set *ColliderSet) Insert(collider Collider) ColliderHandle {
	index, generation := set.colliders.insert(collider)
	return ColliderHandle{index, generation}
}

// InsertWithParent adds a collider attached to body, placed at the body pose
// composed with posWrtParent.
func (set *ColliderSet) InsertWithParent(collider Collider, body BodyHandle, posWrtParent Pose, bodies *BodySet) ColliderHandle {
	collider.parent = &ColliderParent{Handle: body, PosWrtParent: posWrtParent}
	if parent := bodies.Get(body); parent != nil {
		collider.position = parent.Position().Mult(posWrtParent)
	}
	return set.Insert(collider)
}

// Remove deletes the collider, invalidating its handle. The caller is
// responsible for reporting the handle in the next broad-phase update's
// removed list.
func (set *ColliderSet) Remove(handle ColliderHandle) bool {
	_, ok := set.colliders.remove(handle.index, handle.generation)
	return ok
}

// Get returns the collider for handle, or nil if it was removed.
func (set *ColliderSet) Get(handle ColliderHandle) *Collider {
	return set.colliders.get(handle.index, handle.generation)
}

// Count returns the number of live colliders.
func (set *ColliderSet) Count() int {
	return set.colliders.len()
}
