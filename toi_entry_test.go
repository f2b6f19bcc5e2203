package ccd_test

import (
	"math"
	"testing"

	"github.com/setanarut/ccd"
	"github.com/setanarut/vec"
)

// countingDispatcher records every query so tests can verify whether and how
// the estimator reached the solver.
type countingDispatcher struct {
	nonlinearCalls int
	linearCalls    int

	unsupported       bool    // nonlinear queries report ErrUnsupported
	nonlinearT        float64 // reported impact time
	nonlinearHit      bool
	linearT           float64
	linearHit         bool
	stopAtPenetration bool // last observed flag
	linearMaxT        float64
	linearPos12       ccd.Pose
	linearVel12       vec.Vec2
}

func (d *countingDispatcher) NonlinearTimeOfImpact(
	motion1 ccd.NonlinearRigidMotion, shape1 ccd.Shape,
	motion2 ccd.NonlinearRigidMotion, shape2 ccd.Shape,
	startTime, endTime float64,
	stopAtPenetration bool,
) (ccd.TOI, bool, error) {
	d.nonlinearCalls++
	d.stopAtPenetration = stopAtPenetration
	if d.unsupported {
		return ccd.TOI{}, false, ccd.ErrUnsupported
	}
	return ccd.TOI{T: d.nonlinearT}, d.nonlinearHit, nil
}

func (d *countingDispatcher) TimeOfImpact(
	pos12 ccd.Pose, vel12 vec.Vec2,
	shape1, shape2 ccd.Shape,
	maxT float64,
) (ccd.TOI, bool, error) {
	d.linearCalls++
	d.linearMaxT = maxT
	d.linearPos12 = pos12
	d.linearVel12 = vel12
	return ccd.TOI{T: d.linearT}, d.linearHit, nil
}

// circleDispatcher solves circle-circle impacts in closed form. The motions
// used by these tests have no angular velocity, so relative motion is linear
// and the first contact satisfies |p0 + v*t| = r1 + r2.
type circleDispatcher struct {
	calls int
}

func circleImpact(p0, v vec.Vec2, radius, maxT float64) (float64, bool) {
	c := p0.Dot(p0) - radius*radius
	if c <= 0 {
		return 0, true
	}
	a := v.Dot(v)
	b := p0.Dot(v)
	if a == 0 {
		return 0, false
	}
	disc := b*b - a*c
	if disc < 0 {
		return 0, false
	}
	t := (-b - math.Sqrt(disc)) / a
	if t < 0 || t > maxT {
		return 0, false
	}
	return t, true
}

func (d *circleDispatcher) NonlinearTimeOfImpact(
	motion1 ccd.NonlinearRigidMotion, shape1 ccd.Shape,
	motion2 ccd.NonlinearRigidMotion, shape2 ccd.Shape,
	startTime, endTime float64,
	stopAtPenetration bool,
) (ccd.TOI, bool, error) {
	d.calls++
	c1, ok1 := shape1.(ccd.Circle)
	c2, ok2 := shape2.(ccd.Circle)
	if !ok1 || !ok2 {
		return ccd.TOI{}, false, ccd.ErrUnsupported
	}
	duration := endTime - startTime
	p0 := motion2.PositionAt(startTime).Position.Sub(motion1.PositionAt(startTime).Position)
	var v vec.Vec2
	if duration > 0 {
		p1 := motion2.PositionAt(endTime).Position.Sub(motion1.PositionAt(endTime).Position)
		v = p1.Sub(p0).Scale(1 / duration)
	}
	t, hit := circleImpact(p0, v, c1.Radius+c2.Radius, duration)
	if !hit {
		return ccd.TOI{}, false, nil
	}
	return ccd.TOI{T: startTime + t}, true, nil
}

func (d *circleDispatcher) TimeOfImpact(
	pos12 ccd.Pose, vel12 vec.Vec2,
	shape1, shape2 ccd.Shape,
	maxT float64,
) (ccd.TOI, bool, error) {
	c1 := shape1.(ccd.Circle)
	c2 := shape2.(ccd.Circle)
	t, hit := circleImpact(pos12.Position, vel12, c1.Radius+c2.Radius, maxT)
	if !hit {
		return ccd.TOI{}, false, nil
	}
	return ccd.TOI{T: t}, true, nil
}

// ccdWorld bundles the stores every estimator test needs.
type ccdWorld struct {
	colliders *ccd.ColliderSet
	bodies    *ccd.BodySet
}

func newCcdWorld() *ccdWorld {
	return &ccdWorld{colliders: ccd.NewColliderSet(), bodies: ccd.NewBodySet()}
}

// movingBall adds a CCD-active body at (x, y) with the given velocity and a
// circle collider attached at the body origin.
func (w *ccdWorld) movingBall(x, y, radius float64, velocity vec.Vec2) (ccd.ColliderHandle, ccd.BodyHandle) {
	body := ccd.NewBody(1, 1)
	body.SetPosition(ccd.NewPose(vec.Vec2{X: x, Y: y}, 0))
	body.SetVelocity(velocity)
	body.SetCcdEnabled(true)
	body.SetCcdActive(true)
	bh := w.bodies.Insert(body)
	ch := w.colliders.InsertWithParent(ccd.NewCollider(ccd.Circle{Radius: radius}, ccd.Pose{}), bh, ccd.Pose{}, w.bodies)
	return ch, bh
}

// staticBall adds a circle collider with no owning body.
func (w *ccdWorld) staticBall(x, y, radius float64) ccd.ColliderHandle {
	return w.colliders.Insert(newBall(x, y, radius))
}

func TestTOIEntryNeedsAnOwningBody(t *testing.T) {
	w := newCcdWorld()
	a := w.staticBall(0, 0, 0.5)
	b := w.staticBall(1, 0, 0.5)
	d := &countingDispatcher{}

	_, ok := ccd.TOIEntryFromColliders(d, a, b, w.colliders, w.bodies, nil, nil, 0, 1, 0)
	if ok {
		t.Error("two fixed colliders must not produce a candidate")
	}
	if d.nonlinearCalls+d.linearCalls != 0 {
		t.Error("solver must not be queried for a fixed pair")
	}
}

func TestTOIEntryInvalidWindowPanics(t *testing.T) {
	w := newCcdWorld()
	a, _ := w.movingBall(0, 0, 0.5, vec.Vec2{X: 1, Y: 0})
	b := w.staticBall(2, 0, 0.5)

	defer func() {
		if recover() == nil {
			t.Error("expected panic for startTime > endTime")
		}
	}()
	ccd.TOIEntryFromColliders(&countingDispatcher{}, a, b, w.colliders, w.bodies, nil, nil, 1, 0, 0)
}

func TestTOIEntrySpeedBoundEarlyOut(t *testing.T) {
	w := newCcdWorld()
	a, _ := w.movingBall(0, 0, 0.5, vec.Vec2{X: 0.5, Y: 0})
	b := w.staticBall(2, 0, 0.5)
	d := &countingDispatcher{}

	// Travel over the window is 0.5, below the combined thickness of 1.0:
	// no impact is reachable and the solver must never run.
	_, ok := ccd.TOIEntryFromColliders(d, a, b, w.colliders, w.bodies, nil, nil, 0, 1, 0)
	if ok {
		t.Error("expected no candidate from the speed-bound early-out")
	}
	if d.nonlinearCalls+d.linearCalls != 0 {
		t.Errorf("solver was queried %d times, want 0",
			d.nonlinearCalls+d.linearCalls)
	}
}

func TestTOIEntryEarlyOutMonotonicOnSubWindows(t *testing.T) {
	w := newCcdWorld()
	a, _ := w.movingBall(0, 0, 0.5, vec.Vec2{X: 0.5, Y: 0})
	b := w.staticBall(2, 0, 0.5)

	windows := [][2]float64{{0, 1}, {0, 0.5}, {0.25, 0.75}, {0.5, 1}, {0.9, 1}, {1, 1}}
	for _, window := range windows {
		d := &countingDispatcher{}
		_, ok := ccd.TOIEntryFromColliders(d, a, b, w.colliders, w.bodies, nil, nil, window[0], window[1], 0)
		if ok {
			t.Errorf("window %v: shrinking the window cannot create an impact", window)
		}
		if d.nonlinearCalls+d.linearCalls != 0 {
			t.Errorf("window %v: solver was queried", window)
		}
	}
}

func TestTOIEntryEndToEnd(t *testing.T) {
	w := newCcdWorld()
	a, bh := w.movingBall(0, 0, 0.5, vec.Vec2{X: 4, Y: 0})
	b := w.staticBall(2.5, 0, 0.5)
	d := &circleDispatcher{}

	entry, ok := ccd.TOIEntryFromColliders(d, a, b, w.colliders, w.bodies, nil, nil, 0, 1, 0)
	if !ok {
		t.Fatal("expected an impact candidate")
	}
	// Surfaces start 1.5 apart and close at 4 per unit time.
	if math.Abs(entry.TOI-0.375) > epsilon {
		t.Errorf("TOI = %v, want 0.375", entry.TOI)
	}
	if entry.Collider1 != a || entry.Collider2 != b {
		t.Error("candidate carries the wrong collider handles")
	}
	if entry.Body1 != bh {
		t.Errorf("Body1 = %v, want %v", entry.Body1, bh)
	}
	if entry.Body2.IsValid() {
		t.Error("Body2 must be the zero handle for a free collider")
	}
	if entry.IsIntersectionTest {
		t.Error("physical pair flagged as intersection-only")
	}
	if entry.Timestamp != 0 {
		t.Error("Timestamp must be left for the consumer to assign")
	}
	if d.calls != 1 {
		t.Errorf("nonlinear solver ran %d times, want 1", d.calls)
	}
}

func TestTOIEntryInactiveBodyTeleports(t *testing.T) {
	w := newCcdWorld()
	a, bh := w.movingBall(0, 0, 0.5, vec.Vec2{X: 4, Y: 0})
	b := w.staticBall(2.5, 0, 0.5)

	// Without continuous tracking the body is treated as already sitting at
	// its committed next pose, overlapping the target from the start.
	body := w.bodies.Get(bh)
	body.SetCcdActive(false)
	body.SetNextPosition(ccd.NewPose(vec.Vec2{X: 2.0, Y: 0}, 0))

	entry, ok := ccd.TOIEntryFromColliders(&circleDispatcher{}, a, b, w.colliders, w.bodies, nil, nil, 0, 1, 0)
	if !ok {
		t.Fatal("expected an impact candidate")
	}
	if entry.TOI != 0 {
		t.Errorf("TOI = %v, want 0 for an initially overlapping pair", entry.TOI)
	}
}

func TestTOIEntryFrozenSideContributesNoVelocity(t *testing.T) {
	w := newCcdWorld()
	a, _ := w.movingBall(0, 0, 0.5, vec.Vec2{X: 2, Y: 0})
	b, _ := w.movingBall(2.5, 0, 0.5, vec.Vec2{X: -2, Y: 0})
	freezeAt := 0.0

	// Both moving: closing speed 4, surfaces meet at t = 1.5/4.
	entry, ok := ccd.TOIEntryFromColliders(&circleDispatcher{}, a, b, w.colliders, w.bodies, nil, nil, 0, 1, 0)
	if !ok || math.Abs(entry.TOI-0.375) > epsilon {
		t.Fatalf("both moving: got (%v, %v), want TOI 0.375", entry.TOI, ok)
	}

	// Side two pinned at its start pose: closing speed halves.
	entry, ok = ccd.TOIEntryFromColliders(&circleDispatcher{}, a, b, w.colliders, w.bodies, nil, &freezeAt, 0, 1, 0)
	if !ok || math.Abs(entry.TOI-0.75) > epsilon {
		t.Fatalf("one frozen: got (%v, %v), want TOI 0.75", entry.TOI, ok)
	}

	// Both pinned: no closing speed at all, the early-out fires.
	d := &countingDispatcher{}
	_, ok = ccd.TOIEntryFromColliders(d, a, b, w.colliders, w.bodies, &freezeAt, &freezeAt, 0, 1, 0)
	if ok {
		t.Error("two frozen sides must not produce a candidate")
	}
	if d.nonlinearCalls+d.linearCalls != 0 {
		t.Error("solver must not run when both sides are frozen")
	}
}

func TestTOIEntrySensorStopsAtPenetration(t *testing.T) {
	w := newCcdWorld()
	a, _ := w.movingBall(0, 0, 0.5, vec.Vec2{X: 4, Y: 0})
	b := w.staticBall(2.5, 0, 0.5)
	w.colliders.Get(b).SetSensor(true)

	d := &countingDispatcher{nonlinearT: 0.4, nonlinearHit: true}
	entry, ok := ccd.TOIEntryFromColliders(d, a, b, w.colliders, w.bodies, nil, nil, 0, 1, 0)
	if !ok {
		t.Fatal("expected an impact candidate")
	}
	if !entry.IsIntersectionTest {
		t.Error("sensor pair must be flagged intersection-only")
	}
	if !d.stopAtPenetration {
		t.Error("sensor pair must allow stopping at first penetration")
	}

	w.colliders.Get(b).SetSensor(false)
	_, ok = ccd.TOIEntryFromColliders(d, a, b, w.colliders, w.bodies, nil, nil, 0, 1, 0)
	if !ok {
		t.Fatal("expected an impact candidate")
	}
	if d.stopAtPenetration {
		t.Error("physical pair must search through penetration")
	}
}

func TestTOIEntryLinearFallback(t *testing.T) {
	w := newCcdWorld()
	a, _ := w.movingBall(0, 0, 0.5, vec.Vec2{X: 4, Y: 0})
	b := w.staticBall(2.5, 0, 0.5)

	d := &countingDispatcher{unsupported: true, linearT: 0.3, linearHit: true}
	entry, ok := ccd.TOIEntryFromColliders(d, a, b, w.colliders, w.bodies, nil, nil, 0.25, 1, 0)
	if !ok {
		t.Fatal("expected a candidate from the linear fallback")
	}
	if entry.TOI != 0.3 {
		t.Errorf("TOI = %v, want the fallback's 0.3", entry.TOI)
	}
	if d.nonlinearCalls != 1 || d.linearCalls != 1 {
		t.Errorf("calls = (%d nonlinear, %d linear), want (1, 1)",
			d.nonlinearCalls, d.linearCalls)
	}
	if math.Abs(d.linearMaxT-0.75) > epsilon {
		t.Errorf("fallback duration = %v, want the remaining 0.75", d.linearMaxT)
	}
	// Relative pose at the window start: the moving ball has advanced to
	// x = 1 by t = 0.25, leaving the target 1.5 ahead.
	if !vecApprox(d.linearPos12.Position, vec.Vec2{X: 1.5, Y: 0}) {
		t.Errorf("fallback pos12 = %v, want (1.5, 0)", d.linearPos12.Position)
	}
	if !vecApprox(d.linearVel12, vec.Vec2{X: -4, Y: 0}) {
		t.Errorf("fallback vel12 = %v, want (-4, 0)", d.linearVel12)
	}
}

func TestTOIEntryNoImpactInWindow(t *testing.T) {
	w := newCcdWorld()
	a, _ := w.movingBall(0, 0, 0.5, vec.Vec2{X: 4, Y: 0})
	b := w.staticBall(2.5, 0, 0.5)

	// The impact at 0.375 lies outside [0, 0.3].
	_, ok := ccd.TOIEntryFromColliders(&circleDispatcher{}, a, b, w.colliders, w.bodies, nil, nil, 0, 0.3, 0)
	if ok {
		t.Error("expected no candidate when the impact is outside the window")
	}
}

func TestTOIQueueYieldsSoonestFirst(t *testing.T) {
	var q ccd.TOIQueue
	for _, toi := range []float64{0.7, 0.1, 0.4} {
		q.Push(ccd.TOIEntry{TOI: toi})
	}
	if peek, ok := q.Peek(); !ok || peek.TOI != 0.1 {
		t.Errorf("Peek = %v, want 0.1", peek.TOI)
	}
	want := []float64{0.1, 0.4, 0.7}
	for i, expected := range want {
		entry, ok := q.Pop()
		if !ok {
			t.Fatalf("queue exhausted after %d entries", i)
		}
		if entry.TOI != expected {
			t.Errorf("pop %d = %v, want %v", i, entry.TOI, expected)
		}
	}
	if _, ok := q.Pop(); ok {
		t.Error("queue should be empty")
	}
}
