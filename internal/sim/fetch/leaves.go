package fetch

import (
	"errors"

	"fetchbot.ai/internal/protocol"
	"fetchbot.ai/internal/sim/attach"
	"fetchbot.ai/internal/sim/behavior"
	"fetchbot.ai/internal/sim/geom"
	"fetchbot.ai/internal/sim/settle"
)

// Leaves run in this order under the root sequence. Each one does a bounded
// amount of work and returns.

func (c *Controller) waitForCommand() behavior.Status {
	if !c.agent.Commanded {
		c.phase = PhaseIdle
		c.motion.SetControl(false)
		c.motion.Stop()
		return behavior.Running
	}
	c.motion.SetControl(true)
	return behavior.Success
}

func (c *Controller) locateNearest() behavior.Status {
	c.phase = PhaseLocating
	c.agent.ApproachingTarget = false
	if c.agent.Carrying {
		// Restarted mid-delivery; keep the held target.
		return behavior.Success
	}
	if c.pool.Remaining() == 0 {
		return behavior.Success
	}

	from := c.motion.Position()
	found := false
	var best geom.Vec3
	bestDist := 0.0
	for _, t := range c.pool.Targets() {
		p, ok := c.phys.Pose(t.ID)
		if !ok {
			continue
		}
		// Strict less-than keeps the first target on ties.
		if d := geom.Dist(from, p.Pos); !found || d < bestDist {
			found, bestDist, best = true, d, p.Pos
			c.agent.Active = t.ID
		}
	}
	if !found {
		c.agent.HasActive = false
		c.agent.Active = ""
		return behavior.Failure
	}
	c.agent.HasActive = true
	c.emit(protocol.Event{Type: protocol.EventTargetSelected, TargetID: string(c.agent.Active), Pos: vec3(best)})
	return behavior.Success
}

func (c *Controller) approachTarget() behavior.Status {
	if !c.agent.HasActive {
		return behavior.Failure
	}
	c.phase = PhaseApproaching
	if c.agent.Carrying {
		return behavior.Success
	}
	p, ok := c.phys.Pose(c.agent.Active)
	if !ok {
		c.agent.HasActive = false
		c.agent.ApproachingTarget = false
		return behavior.Failure
	}
	c.motion.SetDestination(p.Pos)
	c.agent.ApproachingTarget = true
	if geom.Dist(c.motion.Position(), p.Pos) > c.cfg.ReachDistance {
		return behavior.Running
	}
	c.motion.Stop()
	c.agent.ApproachingTarget = false
	return behavior.Success
}

func (c *Controller) attachTarget() behavior.Status {
	if !c.agent.HasActive {
		return behavior.Failure
	}
	c.phase = PhaseAttaching
	if c.agent.Carrying {
		return behavior.Success
	}
	id := c.agent.Active
	t, ok := c.pool.Get(id)
	if !ok {
		return behavior.Failure
	}
	if _, ok := c.phys.Pose(id); !ok {
		c.agent.HasActive = false
		return behavior.Failure
	}

	c.phys.SetColliderEnabled(id, false)
	c.phys.SetKinematic(id, true)
	c.phys.SetDetectCollisions(id, false)
	c.phys.SetGravity(id, false)
	c.phys.SetVelocity(id, geom.Zero, geom.Zero)

	res := attach.Solve(c.socketWorld(), t.Grip)
	c.phys.SetPose(id, res.World)
	c.agent.held = res.Local
	c.agent.Carrying = true
	c.agent.ApproachingHandoff = false

	c.emit(protocol.Event{Type: protocol.EventAttached, TargetID: string(id), Pos: vec3(res.World.Pos)})
	return behavior.Success
}

func (c *Controller) transportToHandoff() behavior.Status {
	if !c.agent.Carrying {
		return behavior.Failure
	}
	c.phase = PhaseTransporting
	if c.entities == nil {
		return behavior.Failure
	}
	recipient, ok := c.entities.EntityPose(c.cfg.Recipient)
	if !ok {
		c.agent.ApproachingHandoff = false
		return behavior.Failure
	}

	h := c.handoffPoint(recipient)
	c.motion.SetDestination(h)
	c.agent.ApproachingHandoff = true
	if geom.PlanarDist(c.motion.Position(), h) > c.cfg.HandoffArriveTolerance {
		return behavior.Running
	}

	c.motion.Stop()
	c.agent.ApproachingHandoff = false
	if q, ok := geom.LookFlat(recipient.Pos.Sub(c.motion.Position())); ok {
		c.motion.SetRotation(q)
	}
	c.emit(protocol.Event{Type: protocol.EventArrivedHandoff, TargetID: string(c.agent.Active), Pos: vec3(h)})
	return behavior.Success
}

func (c *Controller) releaseAndSettle() behavior.Status {
	if c.agent.Releasing {
		c.phase = PhaseReleasing
		if c.settle.Active() {
			return behavior.Running
		}
		c.agent.Releasing = false
		return behavior.Success
	}
	if !c.agent.Carrying {
		return behavior.Failure
	}
	c.phase = PhaseReleasing

	id := c.agent.Active
	at := c.releasePoint()
	err := c.settle.Start(settle.Request{
		Target:    id,
		Release:   at,
		Carrier:   c.cfg.Carrier,
		Recipient: c.cfg.Recipient,
	})
	if err != nil {
		c.log.Warn("[Fetch] release failed", "target", id, "error", err)
		if errors.Is(err, settle.ErrNoBody) {
			c.agent.Carrying = false
			c.agent.HasActive = false
		}
		return behavior.Failure
	}
	c.agent.Carrying = false
	c.agent.Releasing = true
	c.emit(protocol.Event{Type: protocol.EventReleased, TargetID: string(id), Pos: vec3(at)})
	return behavior.Running
}

func (c *Controller) completionCheck() behavior.Status {
	c.phase = PhaseIdle
	if c.pool.Remaining() == 0 {
		c.pool.SignalCompletionOnce()
	}
	return behavior.Success
}
