package world

import (
	"math"
	"time"

	"fetchbot.ai/internal/sim/geom"
)

// turnRate is how fast the agent swings toward its heading, in rad/s.
const turnRate = 4 * math.Pi

// Agent is a navigation agent that walks straight at constant speed on the
// ground plane. It implements engine.Motion.
type Agent struct {
	pos   geom.Vec3
	rot   geom.Quat
	vel   geom.Vec3
	speed float64

	dest    geom.Vec3
	hasDest bool
	control bool
}

func (a *Agent) SetDestination(p geom.Vec3) { a.dest, a.hasDest = p, true }

func (a *Agent) Stop() {
	a.hasDest = false
	a.vel = geom.Zero
}

// SetControl hands the pose to navigation (true) or freezes it (false).
func (a *Agent) SetControl(on bool) {
	a.control = on
	if !on {
		a.vel = geom.Zero
	}
}

func (a *Agent) Position() geom.Vec3     { return a.pos }
func (a *Agent) Velocity() geom.Vec3     { return a.vel }
func (a *Agent) Rotation() geom.Quat     { return a.rot }
func (a *Agent) SetRotation(q geom.Quat) { a.rot = q.Normalize() }
func (a *Agent) Speed() float64          { return a.speed }
func (a *Agent) Controlled() bool        { return a.control }

// Destination reports the current navigation goal.
func (a *Agent) Destination() (geom.Vec3, bool) { return a.dest, a.hasDest }

func (a *Agent) step(dt time.Duration, groundY float64) {
	a.vel = geom.Zero
	a.pos.Y = groundY
	if !a.control || !a.hasDest {
		return
	}
	delta := a.dest.Flat().Sub(a.pos.Flat())
	dist := delta.Len()
	if dist < 1e-6 {
		return
	}
	sec := dt.Seconds()
	travel := a.speed * sec
	if travel >= dist {
		a.pos = geom.V(a.dest.X, groundY, a.dest.Z)
		a.vel = delta.Scale(1 / sec)
	} else {
		a.pos = a.pos.Add(delta.Scale(travel / dist))
		a.vel = delta.Normalize().Scale(a.speed)
	}
	a.turnToward(delta, sec)
}

func (a *Agent) turnToward(dir geom.Vec3, sec float64) {
	want, ok := geom.LookFlat(dir)
	if !ok {
		return
	}
	cur := a.rot.Forward()
	curYaw := math.Atan2(cur.X, cur.Z)
	f := want.Forward()
	wantYaw := math.Atan2(f.X, f.Z)
	diff := math.Remainder(wantYaw-curYaw, 2*math.Pi)
	maxTurn := turnRate * sec
	if math.Abs(diff) <= maxTurn {
		a.rot = want
		return
	}
	a.rot = geom.Yaw(curYaw + math.Copysign(maxTurn, diff))
}
