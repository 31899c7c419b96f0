package world

import (
	"math"

	"fetchbot.ai/internal/sim/attach"
	"fetchbot.ai/internal/sim/engine"
	"fetchbot.ai/internal/sim/geom"
)

// Actor collision volume: an upright cylinder standing on the actor's
// position.
const (
	actorRadius = 0.3
	actorHeight = 1.8
)

// Below these speeds a grounded body is put to sleep.
const (
	sleepLinear  = 0.02
	sleepAngular = 0.05
)

var defaultMaterial = engine.Material{Friction: 0.6, Bounce: 0.2}

type body struct {
	id     engine.BodyID
	tag    string
	frame  *attach.Frame
	radius float64

	pose     geom.Pose
	lin, ang geom.Vec3

	kinematic   bool
	gravity     bool
	detect      bool
	mode        engine.CollisionMode
	interp      engine.Interpolation
	drag        float64
	angularDrag float64
	constraints engine.Constraints
	asleep      bool

	collider   engine.ColliderID
	colliderOn bool
	material   engine.Material
	grounded   bool
}

// BodyState is a read-only copy of a body's simulation flags.
type BodyState struct {
	Pose        geom.Pose
	Linear      geom.Vec3
	Angular     geom.Vec3
	Kinematic   bool
	Gravity     bool
	Detect      bool
	Mode        engine.CollisionMode
	Interp      engine.Interpolation
	Drag        float64
	AngularDrag float64
	Constraints engine.Constraints
	ColliderOn  bool
	Material    engine.Material
	Grounded    bool
	Asleep      bool
}

func (w *World) Body(id engine.BodyID) (BodyState, bool) {
	b, ok := w.bodies[id]
	if !ok {
		return BodyState{}, false
	}
	return BodyState{
		Pose: b.pose, Linear: b.lin, Angular: b.ang,
		Kinematic: b.kinematic, Gravity: b.gravity, Detect: b.detect,
		Mode: b.mode, Interp: b.interp,
		Drag: b.drag, AngularDrag: b.angularDrag,
		Constraints: b.constraints, ColliderOn: b.colliderOn,
		Material: b.material, Grounded: b.grounded, Asleep: b.asleep,
	}, true
}

// The engine.Physics methods below ignore unknown ids.

func (w *World) Pose(id engine.BodyID) (geom.Pose, bool) {
	b, ok := w.bodies[id]
	if !ok {
		return geom.Pose{}, false
	}
	return b.pose, true
}

func (w *World) with(id engine.BodyID, fn func(b *body)) {
	if b, ok := w.bodies[id]; ok {
		fn(b)
	}
}

func (w *World) SetPose(id engine.BodyID, p geom.Pose) {
	w.with(id, func(b *body) { b.pose = geom.Pose{Pos: p.Pos, Rot: p.Rot.Normalize()} })
}

func (w *World) SetKinematic(id engine.BodyID, on bool) {
	w.with(id, func(b *body) { b.kinematic = on })
}

func (w *World) SetGravity(id engine.BodyID, on bool) {
	w.with(id, func(b *body) { b.gravity = on })
}

func (w *World) SetDetectCollisions(id engine.BodyID, on bool) {
	w.with(id, func(b *body) { b.detect = on })
}

func (w *World) SetCollisionMode(id engine.BodyID, m engine.CollisionMode) {
	w.with(id, func(b *body) { b.mode = m })
}

func (w *World) SetInterpolation(id engine.BodyID, m engine.Interpolation) {
	w.with(id, func(b *body) { b.interp = m })
}

func (w *World) SetDrag(id engine.BodyID, linear, angular float64) {
	w.with(id, func(b *body) { b.drag, b.angularDrag = linear, angular })
}

func (w *World) SetConstraints(id engine.BodyID, c engine.Constraints) {
	w.with(id, func(b *body) { b.constraints = c })
}

func (w *World) Velocity(id engine.BodyID) (geom.Vec3, geom.Vec3) {
	b, ok := w.bodies[id]
	if !ok {
		return geom.Zero, geom.Zero
	}
	return b.lin, b.ang
}

func (w *World) SetVelocity(id engine.BodyID, linear, angular geom.Vec3) {
	w.with(id, func(b *body) { b.lin, b.ang = linear, angular })
}

func (w *World) Wake(id engine.BodyID) {
	w.with(id, func(b *body) { b.asleep = false })
}

func (w *World) SetColliderEnabled(id engine.BodyID, on bool) {
	w.with(id, func(b *body) { b.colliderOn = on })
}

func (w *World) SetMaterial(id engine.BodyID, m engine.Material) {
	w.with(id, func(b *body) { b.material = m })
}

func (w *World) ColliderOf(id engine.BodyID) (engine.ColliderID, bool) {
	b, ok := w.bodies[id]
	if !ok {
		return "", false
	}
	return b.collider, true
}

func (w *World) CollidersOf(e engine.EntityID) []engine.ColliderID {
	a, ok := w.actors[e]
	if !ok {
		return nil
	}
	return append([]engine.ColliderID(nil), a.colliders...)
}

func (w *World) IgnoreCollision(a, b engine.ColliderID, ignore bool) {
	if ignore {
		w.ignored[pair(a, b)] = true
		return
	}
	delete(w.ignored, pair(a, b))
}

// Ignoring reports whether collisions between a and b are suppressed.
func (w *World) Ignoring(a, b engine.ColliderID) bool { return w.ignored[pair(a, b)] }

// IgnoredPairs counts suppressed collider pairs.
func (w *World) IgnoredPairs() int { return len(w.ignored) }

func (w *World) stepBody(b *body, dt float64) {
	if b.kinematic || b.asleep {
		return
	}
	freezePos := b.constraints&engine.FreezePosition != 0
	freezeRot := b.constraints&engine.FreezeRotation != 0

	if b.gravity && !freezePos {
		b.lin.Y -= w.gravity * dt
	}
	b.lin = b.lin.Scale(dragFactor(b.drag, dt))
	b.ang = b.ang.Scale(dragFactor(b.angularDrag, dt))

	if freezePos {
		b.lin = geom.Zero
	} else {
		b.pose.Pos = b.pose.Pos.Add(b.lin.Scale(dt))
	}
	if freezeRot {
		b.ang = geom.Zero
	} else if s := b.ang.Len(); s > 1e-9 {
		b.pose.Rot = geom.AxisAngle(b.ang, s*dt).Mul(b.pose.Rot).Normalize()
	}

	b.grounded = false
	if b.detect && b.colliderOn {
		w.collideGround(b, dt)
		w.collideActors(b)
	}

	if b.grounded && b.lin.Len() < sleepLinear && b.ang.Len() < sleepAngular {
		b.lin, b.ang = geom.Zero, geom.Zero
		b.asleep = true
	}
}

func dragFactor(drag, dt float64) float64 {
	return math.Max(0, 1-drag*dt)
}

func (w *World) collideGround(b *body, dt float64) {
	floor := w.groundY + b.radius
	if b.pose.Pos.Y > floor {
		return
	}
	b.pose.Pos.Y = floor
	b.grounded = true
	if b.lin.Y < 0 {
		b.lin.Y = -b.lin.Y * b.material.Bounce
		if b.lin.Y < 0.2 {
			b.lin.Y = 0
		}
	}

	// Coulomb friction on the ground plane.
	planar := geom.V(b.lin.X, 0, b.lin.Z)
	if s := planar.Len(); s > 0 {
		loss := b.material.Friction * w.gravity * dt
		keep := math.Max(0, s-loss) / s
		b.lin.X *= keep
		b.lin.Z *= keep
	}
	b.ang = b.ang.Scale(math.Max(0, 1-b.material.Friction*dt*4))
}

// collideActors pushes the body out of any actor cylinder that has
// colliders and does not ignore the body on all of them.
func (w *World) collideActors(b *body) {
	for _, id := range w.order {
		a := w.actors[id]
		if len(a.colliders) == 0 || w.ignoresAll(b.collider, a.colliders) {
			continue
		}
		rel := b.pose.Pos.Sub(a.pose.Pos)
		if rel.Y < -b.radius || rel.Y > actorHeight+b.radius {
			continue
		}
		flat := rel.Flat()
		minDist := actorRadius + b.radius
		d := flat.Len()
		if d >= minDist {
			continue
		}
		n := flat.Normalize()
		if n == geom.Zero {
			n = a.pose.Forward().Flat().Normalize()
		}
		b.pose.Pos = b.pose.Pos.Add(n.Scale(minDist - d))
		if in := b.lin.Dot(n); in < 0 {
			b.lin = b.lin.Sub(n.Scale(in * (1 + b.material.Bounce)))
		}
	}
}

func (w *World) ignoresAll(c engine.ColliderID, others []engine.ColliderID) bool {
	for _, o := range others {
		if !w.ignored[pair(c, o)] {
			return false
		}
	}
	return true
}

// Animator records the locomotion parameters the controller drives.
type Animator struct {
	floats   map[string]float64
	bools    map[string]bool
	playback float64
}

func newAnimator() *Animator {
	return &Animator{floats: map[string]float64{}, bools: map[string]bool{}, playback: 1}
}

func (a *Animator) SetFloat(k string, v float64) { a.floats[k] = v }
func (a *Animator) SetBool(k string, v bool)     { a.bools[k] = v }
func (a *Animator) SetPlaybackSpeed(v float64)   { a.playback = v }

func (a *Animator) Float(k string) float64 { return a.floats[k] }
func (a *Animator) Bool(k string) bool     { return a.bools[k] }
func (a *Animator) Playback() float64      { return a.playback }
