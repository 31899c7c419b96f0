// Package fetch is the fetch-and-deliver controller: a seven-leaf behavior
// tree that walks an agent to the nearest target, picks it up, carries it to
// the recipient and drops it, until the target pool runs dry.
package fetch

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"fetchbot.ai/internal/protocol"
	"fetchbot.ai/internal/sim/attach"
	"fetchbot.ai/internal/sim/behavior"
	"fetchbot.ai/internal/sim/engine"
	"fetchbot.ai/internal/sim/geom"
	"fetchbot.ai/internal/sim/pool"
	"fetchbot.ai/internal/sim/settle"
)

var (
	ErrCommandPending = errors.New("fetch: command already pending")
	ErrCarrying       = errors.New("fetch: target is being carried")
	ErrPoolEmpty      = errors.New("fetch: no targets remaining")
)

// Notifier cue names.
const (
	CueAllDelivered = "all_delivered"
)

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseLocating
	PhaseApproaching
	PhaseAttaching
	PhaseTransporting
	PhaseReleasing
)

func (p Phase) String() string {
	switch p {
	case PhaseLocating:
		return "LOCATING"
	case PhaseApproaching:
		return "APPROACHING"
	case PhaseAttaching:
		return "ATTACHING"
	case PhaseTransporting:
		return "TRANSPORTING"
	case PhaseReleasing:
		return "RELEASING"
	default:
		return "IDLE"
	}
}

// Agent is the controller's mutable view of the carrier. Only leaves and
// the settle callback write it.
type Agent struct {
	Active    engine.BodyID
	HasActive bool
	Commanded bool
	Carrying  bool

	ApproachingTarget  bool
	ApproachingHandoff bool
	Releasing          bool

	// held is the carried object's pose relative to the socket.
	held geom.Pose
}

type Controller struct {
	cfg Config

	motion    engine.Motion
	phys      engine.Physics
	ground    engine.Ground
	entities  engine.Entities
	notifier  engine.Notifier
	animator  engine.Animator
	events    protocol.EventSink
	log       *slog.Logger
	sessionID string

	pool   *pool.Pool
	settle *settle.Protocol
	tree   *behavior.Tree

	agent  Agent
	phase  Phase
	socket *geom.Pose

	pending      bool
	pendingDelay time.Duration

	ticks uint64
	now   time.Duration
}

// New discovers every target carrying cfg.TargetTag, resolves their grip
// points and seals the pool. Targets are not rediscovered later.
func New(cfg Config, deps Deps) (*Controller, error) {
	if deps.Motion == nil || deps.Physics == nil || deps.Discovery == nil {
		return nil, errors.New("fetch: motion, physics and discovery are required")
	}
	c := &Controller{
		cfg:      cfg,
		motion:   deps.Motion,
		phys:     deps.Physics,
		ground:   deps.Ground,
		entities: deps.Entities,
		notifier: deps.Notifier,
		animator: deps.Animator,
		events:   deps.Events,
		log:      deps.Logger,
		socket:   cfg.Socket,
	}
	if c.log == nil {
		c.log = slog.Default()
	}

	c.pool = pool.New(c.onAllDelivered)
	for _, d := range deps.Discovery.FindAllByTag(cfg.TargetTag) {
		t := pool.Target{ID: d.ID}
		if g, ok := attach.ResolveGrip(d.Frame, cfg.GripName); ok {
			t.Grip = &g
		}
		if err := c.pool.Register(t); err != nil {
			return nil, fmt.Errorf("fetch: register %s: %w", d.ID, err)
		}
	}
	c.pool.Seal()
	c.settle = settle.New(c.phys, cfg.Settle, c.onSettled)

	c.tree = behavior.NewTree(
		behavior.Leaf(c.waitForCommand),
		behavior.Leaf(c.locateNearest),
		behavior.Leaf(c.approachTarget),
		behavior.Leaf(c.attachTarget),
		behavior.Leaf(c.transportToHandoff),
		behavior.Leaf(c.releaseAndSettle),
		behavior.Leaf(c.completionCheck),
	)

	c.log.Info("[Fetch] controller ready", "targets", c.pool.Remaining(), "tag", cfg.TargetTag)
	return c, nil
}

// SetSession stamps subsequent events with id.
func (c *Controller) SetSession(id string) { c.sessionID = id }

// Advance runs one simulation step: the pending command timer, the settle
// protocol, one tree evaluation, then the carried object and animator sync.
func (c *Controller) Advance(dt time.Duration) {
	c.ticks++
	c.now += dt

	if c.pending {
		c.pendingDelay -= dt
		if c.pendingDelay <= 0 {
			c.pending = false
			c.acceptCommand()
		}
	}

	c.settle.Advance(dt)

	c.tree.Evaluate()
	if err := c.tree.Err(); err != nil {
		c.log.Warn("[Fetch] tree tick error", "error", err)
	}

	c.syncCarried()
	c.driveAnimator()
}

// GiveCommand asks the agent to fetch the next target after delay. It is
// rejected while a command is pending, while a target is carried, and when
// nothing is left to fetch.
func (c *Controller) GiveCommand(delay time.Duration) error {
	var err error
	switch {
	case c.agent.Commanded || c.pending:
		err = ErrCommandPending
	case c.agent.Carrying:
		err = ErrCarrying
	case c.pool.Remaining() == 0:
		err = ErrPoolEmpty
	}
	if err != nil {
		c.emit(protocol.Event{Type: protocol.EventCommandRejected, Code: RejectCode(err), Detail: err.Error()})
		return err
	}

	if delay <= 0 {
		c.acceptCommand()
	} else {
		c.pending = true
		c.pendingDelay = delay
	}
	c.emit(protocol.Event{Type: protocol.EventCommandAccepted, Detail: delay.String()})
	return nil
}

// TriggerNext is GiveCommand with the default delay.
func (c *Controller) TriggerNext() error { return c.GiveCommand(DefaultCommandDelay) }

func (c *Controller) acceptCommand() {
	c.motion.SetControl(true)
	c.agent.Commanded = true
}

// RejectCode maps a GiveCommand error to a protocol error code.
func RejectCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCommandPending):
		return protocol.ErrConflict
	case errors.Is(err, ErrCarrying):
		return protocol.ErrBusy
	case errors.Is(err, ErrPoolEmpty):
		return protocol.ErrNoResource
	default:
		return protocol.ErrInternal
	}
}

func (c *Controller) Remaining() int { return c.pool.Remaining() }

func (c *Controller) Phase() Phase { return c.phase }

// Agent returns a copy of the agent state.
func (c *Controller) Agent() Agent { return c.agent }

func (c *Controller) CommandPending() bool { return c.pending }

func (c *Controller) Settle() *settle.Protocol { return c.settle }

func (c *Controller) Pool() *pool.Pool { return c.pool }

func (c *Controller) Tree() *behavior.Tree { return c.tree }

func (c *Controller) Ticks() uint64 { return c.ticks }

// Delivered reports whether the completion latch has fired.
func (c *Controller) Delivered() bool { return c.pool.Fired() > 0 }

// Carried returns the body currently held at the socket.
func (c *Controller) Carried() (engine.BodyID, bool) {
	if !c.agent.Carrying {
		return "", false
	}
	return c.agent.Active, true
}

// State is a wire snapshot for observers.
func (c *Controller) State() protocol.StateMsg {
	p := c.motion.Position()
	s := protocol.StateMsg{
		Type:            protocol.TypeState,
		ProtocolVersion: protocol.Version,
		Session:         c.sessionID,
		Tick:            c.ticks,
		Phase:           c.phase.String(),
		AgentPos:        [3]float64{p.X, p.Y, p.Z},
		CommandPending:  c.pending || c.agent.Commanded,
		Remaining:       c.pool.Remaining(),
		Delivered:       c.Delivered(),
	}
	if id, ok := c.Carried(); ok {
		s.Carrying = string(id)
	}
	if c.settle.Active() {
		s.SettlePhase = c.settle.Phase().String()
		if id, ok := c.settle.Target(); ok {
			s.Carrying = string(id)
		}
	}
	return s
}

func (c *Controller) agentPose() geom.Pose {
	return geom.Pose{Pos: c.motion.Position(), Rot: c.motion.Rotation()}
}

// socketWorld is the carrier socket in world space. A missing socket offset
// is replaced by the default one the first time it is needed.
func (c *Controller) socketWorld() geom.Pose {
	if c.socket == nil {
		s := defaultSocket
		c.socket = &s
		c.log.Info("[Fetch] no carry socket configured, using default", "local", s.Pos)
	}
	return c.agentPose().Mul(*c.socket)
}

// handoffPoint stands off behind the recipient and drops the point onto
// the ground when the probe hits.
func (c *Controller) handoffPoint(recipient geom.Pose) geom.Vec3 {
	fwd := recipient.Forward().Normalize()
	p := recipient.Pos.Sub(fwd.Scale(c.cfg.HandoffDistance))
	if c.ground == nil {
		return p
	}
	h := c.cfg.GroundRayHeight
	if y, ok := c.ground.CastDown(p.Add(geom.Up.Scale(h)), 2*h); ok {
		p.Y = y
	}
	return p
}

func (c *Controller) releasePoint() geom.Vec3 {
	s := c.socketWorld()
	return s.Pos.
		Add(s.Forward().Scale(c.cfg.ReleaseForward)).
		Add(geom.Up.Scale(c.cfg.ReleaseLift))
}

func (c *Controller) syncCarried() {
	if !c.agent.Carrying {
		return
	}
	id := c.agent.Active
	if _, ok := c.phys.Pose(id); !ok {
		c.log.Warn("[Fetch] carried target disappeared", "target", id)
		c.agent.Carrying = false
		c.agent.HasActive = false
		return
	}
	c.phys.SetPose(id, attach.Follow(c.socketWorld(), c.agent.held))
}

func (c *Controller) driveAnimator() {
	if c.animator == nil {
		return
	}
	speed := c.motion.Velocity().Len()
	if c.cfg.SpeedParam != "" {
		c.animator.SetFloat(c.cfg.SpeedParam, speed)
	}
	moving := speed > 0.1 && (c.agent.ApproachingTarget || c.agent.ApproachingHandoff)
	if c.cfg.MovingParam != "" {
		c.animator.SetBool(c.cfg.MovingParam, moving)
	}
	playback := 1.0
	if moving && c.cfg.RunClipMetersPerSecond > 0.01 {
		playback = math.Min(math.Max(speed/c.cfg.RunClipMetersPerSecond, 0.6), 1.6)
	}
	c.animator.SetPlaybackSpeed(playback)
}

// onSettled runs from settle.Advance when the dropped target comes to rest.
func (c *Controller) onSettled(res settle.Result) {
	if err := c.pool.Remove(res.Target); err != nil {
		c.log.Warn("[Fetch] settled target not in pool", "target", res.Target, "error", err)
	}
	c.agent.Carrying = false
	c.agent.HasActive = false
	c.agent.Active = ""
	c.agent.Commanded = false

	ev := protocol.Event{
		Type:     protocol.EventSettled,
		TargetID: string(res.Target),
		Forced:   res.Forced,
	}
	if p, ok := c.phys.Pose(res.Target); ok {
		ev.Pos = vec3(p.Pos)
	}
	if res.Lost {
		ev.Detail = "lost"
	}
	c.emit(ev)
	c.log.Info("[Fetch] target settled", "target", res.Target, "forced", res.Forced, "polled", res.Polled, "remaining", c.pool.Remaining())

	if c.pool.Remaining() == 0 {
		c.pool.SignalCompletionOnce()
	}
}

func (c *Controller) onAllDelivered() {
	c.emit(protocol.Event{Type: protocol.EventAllDelivered})
	c.log.Info("[Fetch] all targets delivered")
	if c.notifier != nil {
		c.notifier.Notify(CueAllDelivered)
	} else {
		c.log.Info("[Fetch] all delivered, thanks")
	}
}

func (c *Controller) emit(e protocol.Event) {
	if c.events == nil {
		return
	}
	e.Session = c.sessionID
	e.Tick = c.ticks
	e.Remaining = c.pool.Remaining()
	c.events.WriteEvent(e)
}

func vec3(v geom.Vec3) *[3]float64 {
	return &[3]float64{v.X, v.Y, v.Z}
}
