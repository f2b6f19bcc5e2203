package ccd

import (
	"container/heap"
	"errors"
	"math"

	"github.com/setanarut/vec"
)

// ErrUnsupported is returned by a QueryDispatcher when a shape-pair
// combination has no nonlinear time-of-impact solver. The estimator recovers
// by falling back to a linear approximation.
var ErrUnsupported = errors.New("ccd: unsupported shape pair")

// TOI is the result of a successful time-of-impact query.
type TOI struct {
	// T is the earliest time within the queried window at which the two
	// shapes first touch or penetrate.
	T float64
}

// QueryDispatcher is the geometric query capability consumed by the TOI
// estimator. Implementations dispatch on the concrete shape pair.
type QueryDispatcher interface {
	// NonlinearTimeOfImpact finds the first impact of two moving shapes over
	// [startTime, endTime]. With stopAtPenetration the search may stop at
	// the first penetrating configuration; without it, it must find the true
	// first-contact time even through trajectories that start penetrating
	// and separate. Returns ErrUnsupported when the shape pair has no
	// nonlinear solver, and ok=false when there is no impact in the window.
	NonlinearTimeOfImpact(
		motion1 NonlinearRigidMotion, shape1 Shape,
		motion2 NonlinearRigidMotion, shape2 Shape,
		startTime, endTime float64,
		stopAtPenetration bool,
	) (toi TOI, ok bool, err error)

	// TimeOfImpact finds the first impact of shape2 moving at the constant
	// relative velocity vel12 from the relative pose pos12, over [0, maxT].
	// Returns ok=false when there is no impact in the window.
	TimeOfImpact(
		pos12 Pose, vel12 vec.Vec2,
		shape1, shape2 Shape,
		maxT float64,
	) (toi TOI, ok bool, err error)
}

// TOIEntry is an impact candidate: the estimated time of impact for one
// collider pair, plus the identities the substep scheduler needs to advance
// the right bodies. Entries are ephemeral values; Timestamp is assigned by
// the consumer, not the estimator.
type TOIEntry struct {
	TOI       float64
	Collider1 ColliderHandle
	// Body1 is the owning body of Collider1, or the zero handle if it has
	// none. Same for Body2.
	Body1     BodyHandle
	Collider2 ColliderHandle
	Body2     BodyHandle
	// IsIntersectionTest is set when either collider is a sensor: the query
	// only needed to detect penetration, not the true first-contact time.
	IsIntersectionTest bool
	Timestamp          int
}

// Less orders entries by soonest impact first. The comparison is on negated
// times so that a structure retrieving its maximum element naturally yields
// the next impact.
func (e TOIEntry) Less(other TOIEntry) bool {
	return -e.TOI > -other.TOI
}

// TOIEntryFromColliders estimates the time of impact for the pair (ch1, ch2)
// over the window [startTime, endTime], returning ok=false when no impact is
// reachable.
//
// A side with a frozen time is pinned: its trajectory is clamped to the pose
// it reaches at that time and its velocities contribute nothing to the
// closing-speed bound. smallestContactDist widens the thickness margin used
// by the early-out; only its non-negative part counts.
//
// The estimate never returns a candidate when neither collider has an owning
// body: two fixed colliders cannot collide dynamically. startTime must not
// exceed endTime; violating that is a programming error and panics.
func TOIEntryFromColliders(
	dispatcher QueryDispatcher,
	ch1, ch2 ColliderHandle,
	colliders *ColliderSet,
	bodies *BodySet,
	frozen1, frozen2 *float64,
	startTime, endTime float64,
	smallestContactDist float64,
) (TOIEntry, bool) {
	if startTime > endTime {
		panic("ccd: time-of-impact window starts after it ends")
	}

	co1 := colliders.Get(ch1)
	co2 := colliders.Get(ch2)

	var b1, b2 *Body
	var bh1, bh2 BodyHandle
	if parent := co1.Parent(); parent != nil {
		if body := bodies.Get(parent.Handle); body != nil {
			b1, bh1 = body, parent.Handle
		}
	}
	if parent := co2.Parent(); parent != nil {
		if body := bodies.Get(parent.Handle); body != nil {
			b2, bh2 = body, parent.Handle
		}
	}
	if b1 == nil && b2 == nil {
		return TOIEntry{}, false
	}

	var linvel1, linvel2 vec.Vec2
	var angvel1, angvel2 float64
	if b1 != nil && frozen1 == nil {
		linvel1, angvel1 = b1.Velocity(), b1.AngularVelocity()
	}
	if b2 != nil && frozen2 == nil {
		linvel2, angvel2 = b2.Velocity(), b2.AngularVelocity()
	}

	// Conservative bound on the relative closing speed: any point of either
	// shape moves at most this fast relative to the other shape.
	vel12 := linvel2.Sub(linvel1).Mag()
	if b1 != nil {
		vel12 += math.Abs(angvel1) * b1.CcdMaxDist()
	}
	if b2 != nil {
		vel12 += math.Abs(angvel2) * b2.CcdMaxDist()
	}

	// Taking max(0) is slightly over-conservative, but more conservatism is
	// good at this stage.
	thickness := co1.Shape().CCDThickness() + co2.Shape().CCDThickness() +
		math.Max(smallestContactDist, 0)
	isIntersectionTest := co1.IsSensor() || co2.IsSensor()

	if (endTime-startTime)*vel12 < thickness {
		// The pair cannot close the gap within the window; skip the
		// root-finder entirely.
		return TOIEntry{}, false
	}

	var motion1, motion2 NonlinearRigidMotion
	if b1 != nil {
		motion1 = bodyMotion(b1)
	}
	if b2 != nil {
		motion2 = bodyMotion(b2)
	}
	if frozen1 != nil {
		motion1.Freeze(*frozen1)
	}
	if frozen2 != nil {
		motion2.Freeze(*frozen2)
	}

	local1 := co1.Position()
	if parent := co1.Parent(); parent != nil {
		local1 = parent.PosWrtParent
	}
	local2 := co2.Position()
	if parent := co2.Parent(); parent != nil {
		local2 = parent.PosWrtParent
	}
	motionC1 := motion1.Prepend(local1)
	motionC2 := motion2.Prepend(local2)

	// A sensor query can stop at the first penetration: it does not care
	// whether the velocity at impact is separating. A physical pair must
	// keep searching for the true first contact, because the colliders may
	// be on a separating trajectory that only grazes.
	stopAtPenetration := isIntersectionTest

	toi, ok, err := dispatcher.NonlinearTimeOfImpact(
		motionC1, co1.Shape(),
		motionC2, co2.Shape(),
		startTime, endTime,
		stopAtPenetration,
	)
	if errors.Is(err, ErrUnsupported) {
		// Fall back on linear TOI: relative pose at the window start,
		// constant relative linear velocity, remaining duration.
		pos12 := motionC1.PositionAt(startTime).Inverse().Mult(motionC2.PositionAt(startTime))
		toi, ok, err = dispatcher.TimeOfImpact(
			pos12, linvel2.Sub(linvel1),
			co1.Shape(), co2.Shape(),
			endTime-startTime,
		)
	}
	if err != nil || !ok {
		return TOIEntry{}, false
	}

	return TOIEntry{
		TOI:                toi.T,
		Collider1:          ch1,
		Body1:              bh1,
		Collider2:          ch2,
		Body2:              bh2,
		IsIntersectionTest: isIntersectionTest,
	}, true
}

// bodyMotion builds a body's trajectory for the TOI search. Bodies without
// continuous tracking are treated as teleporting directly to their committed
// next pose, which is still correct for detecting a fast body hitting a slow
// one.
func bodyMotion(body *Body) NonlinearRigidMotion {
	if body.IsCcdActive() {
		return NewNonlinearRigidMotion(
			body.Position(),
			body.CenterOfGravity(),
			body.Velocity(),
			body.AngularVelocity(),
		)
	}
	return NewConstantMotion(body.NextPosition())
}

// TOIQueue is a priority queue of impact candidates yielding the soonest
// impact first.
type TOIQueue struct {
	entries toiHeap
}

// Push adds an entry to the queue.
func (q *TOIQueue) Push(entry TOIEntry) {
	heap.Push(&q.entries, entry)
}

// Pop removes and returns the entry with the smallest impact time. Entries
// with equal times come out in unspecified order.
func (q *TOIQueue) Pop() (TOIEntry, bool) {
	if len(q.entries) == 0 {
		return TOIEntry{}, false
	}
	return heap.Pop(&q.entries).(TOIEntry), true
}

// Peek returns the entry with the smallest impact time without removing it.
func (q *TOIQueue) Peek() (TOIEntry, bool) {
	if len(q.entries) == 0 {
		return TOIEntry{}, false
	}
	return q.entries[0], true
}

// Len returns the number of queued entries.
func (q *TOIQueue) Len() int {
	return len(q.entries)
}

type toiHeap []TOIEntry

func (h toiHeap) Len() int           { return len(h) }
func (h toiHeap) Less(i, j int) bool { return h[i].Less(h[j]) }
func (h toiHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *toiHeap) Push(x any)        { *h = append(*h, x.(TOIEntry)) }
func (h *toiHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	*h = old[:n-1]
	return entry
}
