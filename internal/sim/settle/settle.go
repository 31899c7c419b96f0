// Package settle hands a released object to the physics simulation and
// waits, tick by tick, until it comes to rest or a timeout forces it.
package settle

import (
	"errors"
	"time"

	"fetchbot.ai/internal/sim/engine"
	"fetchbot.ai/internal/sim/geom"
)

var (
	ErrBusy   = errors.New("settle: protocol already running")
	ErrNoBody = errors.New("settle: target body not found")
)

// Drag values applied at release, before any settle damping.
const (
	releaseDrag        = 0.0
	releaseAngularDrag = 0.05
)

type Config struct {
	// LeadTime is how long the released object ignores the carrier's and
	// recipient's colliders.
	LeadTime time.Duration
	// SettleSpeed bounds linear speed; angular speed is bounded by twice it.
	SettleSpeed float64
	// MaxSettleTime forces settling, measured from the end of the lead time.
	MaxSettleTime time.Duration

	Freeze             bool
	SettledDrag        float64
	SettledAngularDrag float64
	Material           *engine.Material
}

type Request struct {
	Target    engine.BodyID
	Release   geom.Vec3
	Carrier   engine.EntityID
	Recipient engine.EntityID
}

type Result struct {
	Target engine.BodyID
	// Forced is set when the timeout, not the speed check, ended the wait.
	Forced bool
	// Lost is set when the body disappeared mid-protocol.
	Lost bool
	// Polled is the time spent polling after the lead window.
	Polled time.Duration
	// Total is the time since Start.
	Total time.Duration
}

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseShielded
	PhasePolling
)

func (p Phase) String() string {
	switch p {
	case PhaseShielded:
		return "SHIELDED"
	case PhasePolling:
		return "POLLING"
	default:
		return "IDLE"
	}
}

// Protocol is the per-agent settle state record. At most one request is in
// flight at a time.
type Protocol struct {
	cfg  Config
	phys engine.Physics

	phase       Phase
	req         Request
	collider    engine.ColliderID
	hasCollider bool
	ignored     []engine.ColliderID
	leadElapsed time.Duration
	polled      time.Duration
	total       time.Duration

	onSettled func(Result)
	runs      int
}

// New returns an idle protocol. onSettled is invoked from Advance once per
// request, after the settle policy has been applied.
func New(phys engine.Physics, cfg Config, onSettled func(Result)) *Protocol {
	return &Protocol{cfg: cfg, phys: phys, onSettled: onSettled}
}

func (p *Protocol) Active() bool  { return p.phase != PhaseIdle }
func (p *Protocol) Phase() Phase  { return p.phase }
func (p *Protocol) Runs() int     { return p.runs }
func (p *Protocol) Config() Config { return p.cfg }

// Target is the body currently being settled, if any.
func (p *Protocol) Target() (engine.BodyID, bool) {
	if p.phase == PhaseIdle {
		return "", false
	}
	return p.req.Target, true
}

// Start releases req.Target at req.Release and begins the lead window.
func (p *Protocol) Start(req Request) error {
	if p.phase != PhaseIdle {
		return ErrBusy
	}
	pose, ok := p.phys.Pose(req.Target)
	if !ok {
		return ErrNoBody
	}
	id := req.Target

	pose.Pos = req.Release
	p.phys.SetPose(id, pose)

	if p.cfg.Material != nil {
		p.phys.SetMaterial(id, *p.cfg.Material)
	}
	p.phys.SetColliderEnabled(id, true)

	p.phys.SetConstraints(id, engine.ConstraintsNone)
	p.phys.SetKinematic(id, false)
	p.phys.SetGravity(id, true)
	p.phys.SetDetectCollisions(id, true)
	p.phys.SetCollisionMode(id, engine.CollisionContinuousDynamic)
	p.phys.SetInterpolation(id, engine.Interpolate)
	p.phys.SetDrag(id, releaseDrag, releaseAngularDrag)
	p.phys.SetVelocity(id, geom.Zero, geom.Zero)
	p.phys.Wake(id)

	p.req = req
	p.ignored = p.ignored[:0]
	p.collider, p.hasCollider = p.phys.ColliderOf(id)
	if p.hasCollider {
		for _, e := range []engine.EntityID{req.Carrier, req.Recipient} {
			if e == "" {
				continue
			}
			for _, c := range p.phys.CollidersOf(e) {
				p.phys.IgnoreCollision(p.collider, c, true)
				p.ignored = append(p.ignored, c)
			}
		}
	}

	p.leadElapsed, p.polled, p.total = 0, 0, 0
	p.phase = PhaseShielded
	p.runs++
	return nil
}

// Advance moves the protocol forward by dt of simulation time.
func (p *Protocol) Advance(dt time.Duration) {
	switch p.phase {
	case PhaseShielded:
		p.total += dt
		p.leadElapsed += dt
		if p.leadElapsed < p.cfg.LeadTime {
			return
		}
		p.unshield()
		p.phase = PhasePolling
		p.poll(dt)
	case PhasePolling:
		p.total += dt
		p.poll(dt)
	}
}

func (p *Protocol) unshield() {
	for _, c := range p.ignored {
		p.phys.IgnoreCollision(p.collider, c, false)
	}
	p.ignored = p.ignored[:0]
}

func (p *Protocol) poll(dt time.Duration) {
	id := p.req.Target
	if _, ok := p.phys.Pose(id); !ok {
		p.finish(true, true)
		return
	}
	lin, ang := p.phys.Velocity(id)
	if lin.Len() <= p.cfg.SettleSpeed && ang.Len() <= p.cfg.SettleSpeed*2 {
		p.finish(false, false)
		return
	}
	p.polled += dt
	if p.polled >= p.cfg.MaxSettleTime {
		p.finish(true, false)
	}
}

func (p *Protocol) finish(forced, lost bool) {
	id := p.req.Target
	if !lost {
		p.phys.SetVelocity(id, geom.Zero, geom.Zero)
		if p.cfg.Freeze {
			p.phys.SetKinematic(id, true)
			p.phys.SetGravity(id, false)
			p.phys.SetConstraints(id, engine.FreezeAll)
		} else {
			p.phys.SetDrag(id, p.cfg.SettledDrag, p.cfg.SettledAngularDrag)
			p.phys.SetKinematic(id, false)
			p.phys.SetGravity(id, true)
			p.phys.SetConstraints(id, engine.ConstraintsNone)
		}
	}

	res := Result{
		Target: id,
		Forced: forced,
		Lost:   lost,
		Polled: p.polled,
		Total:  p.total,
	}
	p.phase = PhaseIdle
	p.req = Request{}
	if p.onSettled != nil {
		p.onSettled(res)
	}
}
