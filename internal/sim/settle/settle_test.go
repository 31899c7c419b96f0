package settle

import (
	"errors"
	"testing"
	"time"

	"fetchbot.ai/internal/sim/engine"
	"fetchbot.ai/internal/sim/geom"
)

type stubBody struct {
	pose        geom.Pose
	kinematic   bool
	gravity     bool
	detect      bool
	mode        engine.CollisionMode
	interp      engine.Interpolation
	drag        [2]float64
	constraints engine.Constraints
	lin, ang    geom.Vec3
	colliderOn  bool
	material    *engine.Material
	woken       int
	velSets     int
}

type pairKey struct{ a, b engine.ColliderID }

type stubPhysics struct {
	bodies    map[engine.BodyID]*stubBody
	colliders map[engine.EntityID][]engine.ColliderID
	ignored   map[pairKey]bool
	// speed, when set, overrides the linear speed reported by Velocity.
	speed func() geom.Vec3
}

func newStubPhysics() *stubPhysics {
	return &stubPhysics{
		bodies: map[engine.BodyID]*stubBody{
			"P1": {pose: geom.Pose{Pos: geom.V(0, 1, 0), Rot: geom.Yaw(1)}, kinematic: true, constraints: engine.FreezeAll},
		},
		colliders: map[engine.EntityID][]engine.ColliderID{
			"dog":    {"dog/body", "dog/head"},
			"player": {"player/capsule"},
		},
		ignored: map[pairKey]bool{},
	}
}

func (s *stubPhysics) Pose(id engine.BodyID) (geom.Pose, bool) {
	b, ok := s.bodies[id]
	if !ok {
		return geom.Pose{}, false
	}
	return b.pose, true
}
func (s *stubPhysics) SetPose(id engine.BodyID, p geom.Pose)          { s.bodies[id].pose = p }
func (s *stubPhysics) SetKinematic(id engine.BodyID, on bool)         { s.bodies[id].kinematic = on }
func (s *stubPhysics) SetGravity(id engine.BodyID, on bool)           { s.bodies[id].gravity = on }
func (s *stubPhysics) SetDetectCollisions(id engine.BodyID, on bool)  { s.bodies[id].detect = on }
func (s *stubPhysics) SetCollisionMode(id engine.BodyID, m engine.CollisionMode) {
	s.bodies[id].mode = m
}
func (s *stubPhysics) SetInterpolation(id engine.BodyID, m engine.Interpolation) {
	s.bodies[id].interp = m
}
func (s *stubPhysics) SetDrag(id engine.BodyID, l, a float64) { s.bodies[id].drag = [2]float64{l, a} }
func (s *stubPhysics) SetConstraints(id engine.BodyID, c engine.Constraints) {
	s.bodies[id].constraints = c
}
func (s *stubPhysics) Velocity(id engine.BodyID) (geom.Vec3, geom.Vec3) {
	b := s.bodies[id]
	if s.speed != nil {
		return s.speed(), b.ang
	}
	return b.lin, b.ang
}
func (s *stubPhysics) SetVelocity(id engine.BodyID, l, a geom.Vec3) {
	b := s.bodies[id]
	b.lin, b.ang = l, a
	b.velSets++
}
func (s *stubPhysics) Wake(id engine.BodyID)                         { s.bodies[id].woken++ }
func (s *stubPhysics) SetColliderEnabled(id engine.BodyID, on bool)  { s.bodies[id].colliderOn = on }
func (s *stubPhysics) SetMaterial(id engine.BodyID, m engine.Material) { s.bodies[id].material = &m }
func (s *stubPhysics) ColliderOf(id engine.BodyID) (engine.ColliderID, bool) {
	if _, ok := s.bodies[id]; !ok {
		return "", false
	}
	return engine.ColliderID(string(id) + "/col"), true
}
func (s *stubPhysics) CollidersOf(e engine.EntityID) []engine.ColliderID { return s.colliders[e] }
func (s *stubPhysics) IgnoreCollision(a, b engine.ColliderID, ignore bool) {
	s.ignored[pairKey{a, b}] = ignore
}

func (s *stubPhysics) ignoring() int {
	n := 0
	for _, v := range s.ignored {
		if v {
			n++
		}
	}
	return n
}

func baseConfig() Config {
	return Config{
		LeadTime:           120 * time.Millisecond,
		SettleSpeed:        0.12,
		MaxSettleTime:      1250 * time.Millisecond,
		SettledDrag:        4,
		SettledAngularDrag: 5,
		Material:           &engine.Material{Friction: 0.8, Bounce: 0.1},
	}
}

func request() Request {
	return Request{Target: "P1", Release: geom.V(2, 0.94, 3), Carrier: "dog", Recipient: "player"}
}

func TestStartReleasesBody(t *testing.T) {
	phys := newStubPhysics()
	p := New(phys, baseConfig(), nil)
	if err := p.Start(request()); err != nil {
		t.Fatalf("start: %v", err)
	}
	b := phys.bodies["P1"]
	if !b.pose.Pos.ApproxEqual(geom.V(2, 0.94, 3), 1e-12) {
		t.Fatalf("body not placed at release point: %+v", b.pose.Pos)
	}
	if !b.pose.Rot.ApproxEqual(geom.Yaw(1), 1e-12) {
		t.Fatalf("release must keep orientation")
	}
	if b.kinematic || !b.gravity || !b.detect || !b.colliderOn {
		t.Fatalf("body not dynamic: %+v", b)
	}
	if b.mode != engine.CollisionContinuousDynamic || b.interp != engine.Interpolate {
		t.Fatalf("fidelity not raised: mode=%v interp=%v", b.mode, b.interp)
	}
	if b.constraints != engine.ConstraintsNone || b.woken != 1 {
		t.Fatalf("constraints=%v woken=%d", b.constraints, b.woken)
	}
	if b.material == nil || b.material.Friction != 0.8 {
		t.Fatalf("material not applied")
	}
	if got := phys.ignoring(); got != 3 {
		t.Fatalf("ignoring %d collider pairs, want 3", got)
	}
	if p.Phase() != PhaseShielded {
		t.Fatalf("phase=%v", p.Phase())
	}
}

func TestLeadTimeRestoresCollisions(t *testing.T) {
	phys := newStubPhysics()
	phys.speed = func() geom.Vec3 { return geom.V(0, -3, 0) }
	p := New(phys, baseConfig(), nil)
	_ = p.Start(request())

	dt := 50 * time.Millisecond
	p.Advance(dt)
	p.Advance(dt)
	if phys.ignoring() != 3 {
		t.Fatalf("collisions restored before lead time")
	}
	p.Advance(dt)
	if phys.ignoring() != 0 {
		t.Fatalf("collisions still ignored after lead time")
	}
	if p.Phase() != PhasePolling {
		t.Fatalf("phase=%v", p.Phase())
	}
}

func TestSettlesNaturallyAndDamps(t *testing.T) {
	phys := newStubPhysics()
	speeds := []float64{4, 2, 0.5, 0.1}
	i := 0
	phys.speed = func() geom.Vec3 {
		v := speeds[i]
		if i < len(speeds)-1 {
			i++
		}
		return geom.V(v, 0, 0)
	}

	var got []Result
	cfg := baseConfig()
	cfg.LeadTime = 0
	p := New(phys, cfg, func(r Result) { got = append(got, r) })
	_ = p.Start(request())

	for n := 0; n < 10 && p.Active(); n++ {
		p.Advance(20 * time.Millisecond)
	}
	if len(got) != 1 {
		t.Fatalf("expected one result, got %d", len(got))
	}
	if got[0].Forced {
		t.Fatalf("settle should be natural: %+v", got[0])
	}
	b := phys.bodies["P1"]
	if b.drag != [2]float64{4, 5} || b.kinematic || !b.gravity {
		t.Fatalf("damp policy not applied: %+v", b)
	}
	if b.lin != geom.Zero || b.ang != geom.Zero {
		t.Fatalf("velocities not zeroed")
	}
}

func TestForcedSettleAtTimeout(t *testing.T) {
	phys := newStubPhysics()
	phys.speed = func() geom.Vec3 { return geom.V(0.5, 0, 0) }

	var got []Result
	cfg := baseConfig()
	cfg.LeadTime = 0
	cfg.Freeze = true
	p := New(phys, cfg, func(r Result) { got = append(got, r) })
	_ = p.Start(request())

	dt := 50 * time.Millisecond
	ticks := 0
	for p.Active() {
		p.Advance(dt)
		ticks++
		if ticks > 100 {
			t.Fatalf("protocol never finished")
		}
	}
	if ticks != 25 {
		t.Fatalf("finished after %d ticks, want 25", ticks)
	}
	if len(got) != 1 || !got[0].Forced {
		t.Fatalf("expected one forced result, got %+v", got)
	}
	if got[0].Polled != 1250*time.Millisecond {
		t.Fatalf("polled=%v want 1.25s", got[0].Polled)
	}
	b := phys.bodies["P1"]
	if !b.kinematic || b.gravity || b.constraints != engine.FreezeAll {
		t.Fatalf("freeze policy not applied: %+v", b)
	}
}

func TestStartWhileActiveIsRejected(t *testing.T) {
	phys := newStubPhysics()
	phys.bodies["P2"] = &stubBody{}
	p := New(phys, baseConfig(), nil)
	if err := p.Start(request()); err != nil {
		t.Fatalf("start: %v", err)
	}
	second := request()
	second.Target = "P2"
	if err := p.Start(second); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if p.Runs() != 1 {
		t.Fatalf("runs=%d", p.Runs())
	}
	if phys.bodies["P2"].woken != 0 {
		t.Fatalf("rejected request must not touch its body")
	}
}

func TestLostBodyFinishes(t *testing.T) {
	phys := newStubPhysics()
	phys.speed = func() geom.Vec3 { return geom.V(9, 0, 0) }
	var got []Result
	p := New(phys, baseConfig(), func(r Result) { got = append(got, r) })
	_ = p.Start(request())
	delete(phys.bodies, "P1")

	p.Advance(200 * time.Millisecond)
	if p.Active() || len(got) != 1 || !got[0].Lost {
		t.Fatalf("expected lost result, got active=%v %+v", p.Active(), got)
	}
}

func TestStartUnknownBody(t *testing.T) {
	p := New(newStubPhysics(), baseConfig(), nil)
	req := request()
	req.Target = "nope"
	if err := p.Start(req); !errors.Is(err, ErrNoBody) {
		t.Fatalf("expected ErrNoBody, got %v", err)
	}
}
