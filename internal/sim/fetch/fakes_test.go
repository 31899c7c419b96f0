package fetch

import (
	"testing"
	"time"

	"fetchbot.ai/internal/protocol"
	"fetchbot.ai/internal/sim/attach"
	"fetchbot.ai/internal/sim/engine"
	"fetchbot.ai/internal/sim/geom"
	"fetchbot.ai/internal/sim/tuning"
)

const dt = 20 * time.Millisecond

type fakeMotion struct {
	pos     geom.Vec3
	rot     geom.Quat
	vel     geom.Vec3
	dest    geom.Vec3
	hasDest bool
	control bool
	speed   float64
}

func (m *fakeMotion) SetDestination(p geom.Vec3) { m.dest, m.hasDest = p, true }
func (m *fakeMotion) Stop()                      { m.hasDest, m.vel = false, geom.Zero }
func (m *fakeMotion) SetControl(on bool)         { m.control = on }
func (m *fakeMotion) Position() geom.Vec3        { return m.pos }
func (m *fakeMotion) Velocity() geom.Vec3        { return m.vel }
func (m *fakeMotion) Rotation() geom.Quat        { return m.rot }
func (m *fakeMotion) SetRotation(q geom.Quat)    { m.rot = q }

// step walks toward the destination on the ground plane.
func (m *fakeMotion) step(d time.Duration) {
	m.vel = geom.Zero
	if !m.control || !m.hasDest {
		return
	}
	delta := m.dest.Flat().Sub(m.pos.Flat())
	dist := delta.Len()
	if dist < 1e-9 {
		return
	}
	maxStep := m.speed * d.Seconds()
	if dist <= maxStep {
		m.pos = geom.V(m.dest.X, m.pos.Y, m.dest.Z)
	} else {
		m.pos = m.pos.Add(delta.Scale(maxStep / dist))
	}
	m.vel = delta.Normalize().Scale(m.speed)
	if q, ok := geom.LookFlat(delta); ok {
		m.rot = q
	}
}

type fakeBody struct {
	pose      geom.Pose
	kinematic bool
	gravity   bool
	collider  bool
	lin, ang  geom.Vec3
}

type fakePhysics struct {
	bodies map[engine.BodyID]*fakeBody
	// released, when set, is the linear speed reported for dynamic bodies.
	released geom.Vec3
	ignored  map[[2]engine.ColliderID]bool
}

func newFakePhysics() *fakePhysics {
	return &fakePhysics{
		bodies:  map[engine.BodyID]*fakeBody{},
		ignored: map[[2]engine.ColliderID]bool{},
	}
}

func (p *fakePhysics) body(id engine.BodyID) *fakeBody {
	if b, ok := p.bodies[id]; ok {
		return b
	}
	return &fakeBody{}
}

func (p *fakePhysics) Pose(id engine.BodyID) (geom.Pose, bool) {
	b, ok := p.bodies[id]
	if !ok {
		return geom.Pose{}, false
	}
	return b.pose, true
}
func (p *fakePhysics) SetPose(id engine.BodyID, q geom.Pose)                  { p.body(id).pose = q }
func (p *fakePhysics) SetKinematic(id engine.BodyID, on bool)                 { p.body(id).kinematic = on }
func (p *fakePhysics) SetGravity(id engine.BodyID, on bool)                   { p.body(id).gravity = on }
func (p *fakePhysics) SetDetectCollisions(engine.BodyID, bool)                {}
func (p *fakePhysics) SetCollisionMode(engine.BodyID, engine.CollisionMode)   {}
func (p *fakePhysics) SetInterpolation(engine.BodyID, engine.Interpolation)   {}
func (p *fakePhysics) SetDrag(engine.BodyID, float64, float64)                {}
func (p *fakePhysics) SetConstraints(engine.BodyID, engine.Constraints)       {}
func (p *fakePhysics) Wake(engine.BodyID)                                     {}
func (p *fakePhysics) SetColliderEnabled(id engine.BodyID, on bool)           { p.body(id).collider = on }
func (p *fakePhysics) SetMaterial(engine.BodyID, engine.Material)             {}
func (p *fakePhysics) SetVelocity(id engine.BodyID, lin, ang geom.Vec3)       { b := p.body(id); b.lin, b.ang = lin, ang }
func (p *fakePhysics) CollidersOf(e engine.EntityID) []engine.ColliderID      { return []engine.ColliderID{engine.ColliderID(e)} }
func (p *fakePhysics) IgnoreCollision(a, b engine.ColliderID, ignore bool)    { p.ignored[[2]engine.ColliderID{a, b}] = ignore }

func (p *fakePhysics) Velocity(id engine.BodyID) (geom.Vec3, geom.Vec3) {
	b := p.body(id)
	if !b.kinematic {
		return p.released, b.ang
	}
	return b.lin, b.ang
}

func (p *fakePhysics) ColliderOf(id engine.BodyID) (engine.ColliderID, bool) {
	if _, ok := p.bodies[id]; !ok {
		return "", false
	}
	return engine.ColliderID(id), true
}

type fakeGround struct {
	y         float64
	miss      bool
	lastFrom  geom.Vec3
	lastRange float64
}

func (g *fakeGround) CastDown(from geom.Vec3, maxDistance float64) (float64, bool) {
	g.lastFrom, g.lastRange = from, maxDistance
	if g.miss {
		return 0, false
	}
	return g.y, true
}

type fakeDiscovery []engine.Discovered

func (d fakeDiscovery) FindAllByTag(string) []engine.Discovered { return d }

type fakeEntities struct {
	poses map[engine.EntityID]geom.Pose
}

func (e *fakeEntities) EntityPose(id engine.EntityID) (geom.Pose, bool) {
	p, ok := e.poses[id]
	return p, ok
}

type fakeNotifier struct{ cues []string }

func (n *fakeNotifier) Notify(cue string) { n.cues = append(n.cues, cue) }

type fakeAnimator struct {
	floats   map[string]float64
	bools    map[string]bool
	playback float64
}

func (a *fakeAnimator) SetFloat(k string, v float64) { a.floats[k] = v }
func (a *fakeAnimator) SetBool(k string, v bool)     { a.bools[k] = v }
func (a *fakeAnimator) SetPlaybackSpeed(v float64)   { a.playback = v }

type eventLog struct{ events []protocol.Event }

func (l *eventLog) WriteEvent(e protocol.Event) { l.events = append(l.events, e) }

func (l *eventLog) ofType(typ string) []protocol.Event {
	var out []protocol.Event
	for _, e := range l.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

type rig struct {
	motion   *fakeMotion
	phys     *fakePhysics
	ground   *fakeGround
	entities *fakeEntities
	notifier *fakeNotifier
	animator *fakeAnimator
	events   *eventLog
	c        *Controller
}

type spawn struct {
	id    engine.BodyID
	pos   geom.Vec3
	frame *attach.Frame
}

func testConfig() Config {
	return ConfigFromTuning(tuning.Defaults(), "dog", "player")
}

func newRig(t *testing.T, cfg Config, targets ...spawn) *rig {
	t.Helper()
	r := &rig{
		motion:   &fakeMotion{rot: geom.Identity, speed: 4},
		phys:     newFakePhysics(),
		ground:   &fakeGround{},
		entities: &fakeEntities{poses: map[engine.EntityID]geom.Pose{"player": {Pos: geom.V(0, 0, -4), Rot: geom.Identity}}},
		notifier: &fakeNotifier{},
		animator: &fakeAnimator{floats: map[string]float64{}, bools: map[string]bool{}},
		events:   &eventLog{},
	}
	var found fakeDiscovery
	for _, s := range targets {
		r.phys.bodies[s.id] = &fakeBody{pose: geom.Pose{Pos: s.pos, Rot: geom.Identity}, gravity: true, collider: true}
		found = append(found, engine.Discovered{ID: s.id, Frame: s.frame})
	}
	c, err := New(cfg, Deps{
		Motion:    r.motion,
		Physics:   r.phys,
		Ground:    r.ground,
		Discovery: found,
		Entities:  r.entities,
		Notifier:  r.notifier,
		Animator:  r.animator,
		Events:    r.events,
	})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	r.c = c
	return r
}

func (r *rig) step(n int) {
	for i := 0; i < n; i++ {
		r.motion.step(dt)
		r.c.Advance(dt)
	}
}

func (r *rig) runUntil(t *testing.T, cond func() bool, maxTicks int) {
	t.Helper()
	for i := 0; i < maxTicks; i++ {
		if cond() {
			return
		}
		r.step(1)
	}
	if !cond() {
		t.Fatalf("condition not met after %d ticks (phase=%v agent=%+v)", maxTicks, r.c.Phase(), r.c.Agent())
	}
}
